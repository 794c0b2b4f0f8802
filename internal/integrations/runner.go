package integrations

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"zashboard.app/internal/ids"
	"zashboard.app/internal/obs"
)

var (
	// ErrQueueFull is returned by Trigger when no worker slot is available.
	ErrQueueFull = errors.New("integrations: sync queue is full")
	// ErrRunnerStopped is returned by Trigger outside Start and Stop.
	ErrRunnerStopped = errors.New("integrations: sync runner is not running")

	errStopped = errors.New("sync runner stopped")
)

// Syncer pulls data from one provider and reports how many items it saw.
type Syncer interface {
	Sync(ctx context.Context, conn Connection, token string) (int, error)
}

type job struct {
	conn Connection
}

// Runner executes provider syncs on a bounded worker pool.
type Runner struct {
	store   Store
	sealer  *Sealer
	syncers map[Provider]Syncer
	queue      chan job
	workers    int
	timeout    time.Duration
	staleAfter time.Duration
	now        func() time.Time
	logger     zerolog.Logger

	mu      sync.RWMutex
	cancel  context.CancelFunc
	group   *errgroup.Group
	running bool
}

// RunnerOption customises a Runner.
type RunnerOption func(*Runner)

// WithWorkers sets the number of concurrent sync workers.
func WithWorkers(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithQueueSize bounds the number of pending syncs.
func WithQueueSize(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.queue = make(chan job, n)
		}
	}
}

// WithSyncer registers the syncer for provider.
func WithSyncer(p Provider, s Syncer) RunnerOption {
	return func(r *Runner) { r.syncers[p] = s }
}

// WithSyncTimeout caps a single sync run.
func WithSyncTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithStaleAfter sets how long a syncing claim may go without an update
// before another Trigger may take it over. It defaults to the sync timeout
// plus one minute.
func WithStaleAfter(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.staleAfter = d
		}
	}
}

func WithRunnerClock(now func() time.Time) RunnerOption {
	return func(r *Runner) { r.now = now }
}

func WithRunnerLogger(l zerolog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// NewRunner builds a stopped runner. Call Start to begin processing.
func NewRunner(store Store, sealer *Sealer, opts ...RunnerOption) *Runner {
	r := &Runner{
		store:   store,
		sealer:  sealer,
		syncers: make(map[Provider]Syncer),
		queue:   make(chan job, 16),
		workers: 2,
		timeout: 10 * time.Minute,
		now:     time.Now,
		logger:  obs.Logger("integrations"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.staleAfter == 0 {
		r.staleAfter = r.timeout + time.Minute
	}
	return r
}

// Supports reports whether a syncer is registered for p.
func (r *Runner) Supports(p Provider) bool {
	_, ok := r.syncers[p]
	return ok
}

// Connect seals token and stores the connection for (orgID, provider).
func (r *Runner) Connect(ctx context.Context, orgID string, provider Provider, token string) (Connection, error) {
	if orgID == "" {
		return Connection{}, fmt.Errorf("%w: organization id is required", ErrInvalidInput)
	}
	sealed, err := r.sealer.Seal(token)
	if err != nil {
		return Connection{}, err
	}
	now := r.now().UTC()
	c := &Connection{
		ID:             ids.NewWithPrefix(ids.PrefixConnection),
		OrganizationID: orgID,
		Provider:       provider,
		SealedToken:    sealed,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := r.store.UpsertConnection(ctx, c); err != nil {
		return Connection{}, err
	}
	return *c, nil
}

// Trigger claims the connection and queues a sync. It returns the claimed
// connection without waiting for the sync to run. A claim left syncing for
// longer than the stale period, by a crashed process for instance, is taken over.
func (r *Runner) Trigger(ctx context.Context, orgID string, provider Provider) (Connection, error) {
	if !r.Supports(provider) {
		return Connection{}, fmt.Errorf("%w: sync is not available for provider %s", ErrInvalidInput, provider)
	}
	// Stop takes the write lock, so no job can be queued after the drain.
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.running {
		return Connection{}, ErrRunnerStopped
	}

	now := r.now().UTC()
	conn, won, err := r.store.ClaimSync(ctx, orgID, provider, now, now.Add(-r.staleAfter))
	if err != nil {
		return Connection{}, err
	}
	if !won {
		return conn, ErrSyncInProgress
	}

	select {
	case r.queue <- job{conn: conn}:
		r.logger.Info().Str("org_id", orgID).Str("provider", string(provider)).Msg("sync queued")
		return conn, nil
	default:
		r.finish(ctx, conn, 0, ErrQueueFull)
		return conn, ErrQueueFull
	}
}

// Start launches the worker pool. It is a no-op when already running.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < r.workers; i++ {
		g.Go(func() error {
			r.work(gctx)
			return nil
		})
	}
	r.cancel = cancel
	r.group = g
	r.running = true
	r.logger.Info().Int("workers", r.workers).Msg("sync runner started")
}

// Stop cancels in-flight syncs, waits for workers and fails any queued jobs.
func (r *Runner) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return nil
	}
	r.cancel()
	err := r.group.Wait()
	r.running = false

	for {
		select {
		case j := <-r.queue:
			r.finish(context.Background(), j.conn, 0, errStopped)
		default:
			r.logger.Info().Msg("sync runner stopped")
			return err
		}
	}
}

func (r *Runner) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-r.queue:
			r.run(ctx, j)
		}
	}
}

func (r *Runner) run(ctx context.Context, j job) {
	if ctx.Err() != nil {
		r.finish(context.Background(), j.conn, 0, errStopped)
		return
	}
	start := time.Now()
	items, err := r.sync(ctx, j.conn)
	r.finish(context.Background(), j.conn, items, err)
	r.logger.Info().
		Str("org_id", j.conn.OrganizationID).
		Str("provider", string(j.conn.Provider)).
		Int("items", items).
		Dur("duration", time.Since(start)).
		Err(err).
		Msg("sync finished")
}

func (r *Runner) sync(ctx context.Context, conn Connection) (int, error) {
	token, err := r.sealer.Open(conn.SealedToken)
	if err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.syncers[conn.Provider].Sync(ctx, conn, token)
}

func (r *Runner) finish(ctx context.Context, conn Connection, items int, syncErr error) {
	res := Result{Status: StatusCompleted, ItemsSynced: items, FinishedAt: r.now().UTC()}
	if syncErr != nil {
		res.Status = StatusFailed
		res.Error = syncErr.Error()
	}
	obs.IntegrationSyncs.WithLabelValues(string(conn.Provider), string(res.Status)).Inc()
	if err := r.store.FinishSync(ctx, conn.OrganizationID, conn.Provider, res); err != nil {
		r.logger.Error().Err(err).
			Str("org_id", conn.OrganizationID).
			Str("provider", string(conn.Provider)).
			Msg("record sync result")
	}
}
