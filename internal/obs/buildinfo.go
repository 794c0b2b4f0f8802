package obs

import (
	"runtime"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// BuildInfo labels the zash_build_info gauge.
type BuildInfo struct {
	Version string
	Commit  string
	Store   string
}

var (
	buildInfoOnce sync.Once

	buildInfoGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "zash",
			Name:      "build_info",
			Help:      "Zashboard API build and runtime information.",
		},
		[]string{"version", "commit", "go_version", "store"},
	)
)

// InitBuildInfo registers the gauge on first use and reports info with value 1.
func InitBuildInfo(info BuildInfo) {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfoGauge)
	})
	buildInfoGauge.WithLabelValues(info.Version, info.Commit, runtime.Version(), info.Store).Set(1)
}
