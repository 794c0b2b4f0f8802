package sim

import (
	"sort"
	"sync"

	"zashboard.app/internal/analytics"
)

// Counter tallies the events a run delivered, by event name.
type Counter struct {
	mu     sync.Mutex
	byName map[string]int
	total  int
}

func (c *Counter) Add(events []analytics.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.byName == nil {
		c.byName = make(map[string]int)
	}
	for _, ev := range events {
		c.byName[ev.Name]++
		c.total++
	}
}

func (c *Counter) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// Names returns the counted event names in sorted order with their counts.
func (c *Counter) Names() ([]string, map[string]int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.byName))
	counts := make(map[string]int, len(c.byName))
	for name, n := range c.byName {
		names = append(names, name)
		counts[name] = n
	}
	sort.Strings(names)
	return names, counts
}
