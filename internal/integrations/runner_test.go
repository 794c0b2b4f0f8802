package integrations_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zashboard.app/internal/auth"
	"zashboard.app/internal/integrations"
	"zashboard.app/internal/org"
	"zashboard.app/internal/store/memory"
)

type fakeSyncer struct {
	items   int
	err     error
	calls   atomic.Int32
	release chan struct{}
	tokens  chan string
}

func (f *fakeSyncer) Sync(ctx context.Context, _ integrations.Connection, token string) (int, error) {
	f.calls.Add(1)
	if f.tokens != nil {
		f.tokens <- token
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return f.items, f.err
}

func newFixture(t *testing.T, orgIDs ...string) (*memory.Store, *integrations.Sealer) {
	t.Helper()
	st := memory.New()
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	for _, id := range orgIDs {
		o := &org.Organization{ID: id, Name: id, Slug: id, CreatedAt: now, UpdatedAt: now}
		require.NoError(t, st.CreateOrganization(context.Background(), o, org.Membership{
			ID: "mem_" + id, OrganizationID: id, UserID: "owner", Role: auth.LegacySuperAdmin, CreatedAt: now,
		}))
	}
	key, err := integrations.GenerateKey()
	require.NoError(t, err)
	sealer, err := integrations.NewSealer(key)
	require.NoError(t, err)
	return st, sealer
}

func waitStatus(t *testing.T, st *memory.Store, orgID string, want integrations.Status) integrations.Connection {
	t.Helper()
	var conn integrations.Connection
	require.Eventually(t, func() bool {
		c, err := st.GetConnection(context.Background(), orgID, integrations.ProviderNotion)
		if err != nil {
			return false
		}
		conn = c
		return c.Status == want
	}, 2*time.Second, 5*time.Millisecond)
	return conn
}

func TestRunnerCompletesSync(t *testing.T) {
	ctx := context.Background()
	st, sealer := newFixture(t, "org_a")
	syncer := &fakeSyncer{items: 7, tokens: make(chan string, 1)}
	r := integrations.NewRunner(st, sealer,
		integrations.WithSyncer(integrations.ProviderNotion, syncer),
		integrations.WithRunnerLogger(zerolog.Nop()))

	conn, err := r.Connect(ctx, "org_a", integrations.ProviderNotion, "secret_tok")
	require.NoError(t, err)
	assert.Equal(t, integrations.StatusIdle, conn.Status)
	assert.NotEmpty(t, conn.ID)

	r.Start(ctx)
	defer r.Stop()

	claimed, err := r.Trigger(ctx, "org_a", integrations.ProviderNotion)
	require.NoError(t, err)
	assert.Equal(t, integrations.StatusSyncing, claimed.Status)

	done := waitStatus(t, st, "org_a", integrations.StatusCompleted)
	assert.Equal(t, 7, done.ItemsSynced)
	assert.Empty(t, done.LastError)
	require.NotNil(t, done.LastSyncedAt)
	assert.Equal(t, "secret_tok", <-syncer.tokens)
}

func TestRunnerRecordsFailure(t *testing.T) {
	ctx := context.Background()
	st, sealer := newFixture(t, "org_a")
	r := integrations.NewRunner(st, sealer,
		integrations.WithSyncer(integrations.ProviderNotion, &fakeSyncer{err: errors.New("upstream down")}),
		integrations.WithRunnerLogger(zerolog.Nop()))
	_, err := r.Connect(ctx, "org_a", integrations.ProviderNotion, "tok")
	require.NoError(t, err)

	r.Start(ctx)
	defer r.Stop()
	_, err = r.Trigger(ctx, "org_a", integrations.ProviderNotion)
	require.NoError(t, err)

	failed := waitStatus(t, st, "org_a", integrations.StatusFailed)
	assert.Equal(t, "upstream down", failed.LastError)
	assert.Nil(t, failed.LastSyncedAt)
}

func TestRunnerClaimIsExclusive(t *testing.T) {
	ctx := context.Background()
	st, sealer := newFixture(t, "org_a")
	syncer := &fakeSyncer{items: 1, release: make(chan struct{})}
	r := integrations.NewRunner(st, sealer,
		integrations.WithSyncer(integrations.ProviderNotion, syncer),
		integrations.WithRunnerLogger(zerolog.Nop()))
	_, err := r.Connect(ctx, "org_a", integrations.ProviderNotion, "tok")
	require.NoError(t, err)

	r.Start(ctx)
	defer r.Stop()

	var wins, busy atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Trigger(ctx, "org_a", integrations.ProviderNotion)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, integrations.ErrSyncInProgress):
				busy.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, wins.Load())
	assert.EqualValues(t, 31, busy.Load())

	close(syncer.release)
	waitStatus(t, st, "org_a", integrations.StatusCompleted)
	assert.EqualValues(t, 1, syncer.calls.Load())

	_, err = r.Trigger(ctx, "org_a", integrations.ProviderNotion)
	assert.NoError(t, err, "a finished connection can be claimed again")
}

func TestRunnerQueueFullReleasesClaim(t *testing.T) {
	ctx := context.Background()
	st, sealer := newFixture(t, "org_a", "org_b", "org_c")
	syncer := &fakeSyncer{release: make(chan struct{}), tokens: make(chan string, 1)}
	r := integrations.NewRunner(st, sealer,
		integrations.WithWorkers(1),
		integrations.WithQueueSize(1),
		integrations.WithSyncer(integrations.ProviderNotion, syncer),
		integrations.WithRunnerLogger(zerolog.Nop()))
	for _, id := range []string{"org_a", "org_b", "org_c"} {
		_, err := r.Connect(ctx, id, integrations.ProviderNotion, "tok")
		require.NoError(t, err)
	}
	r.Start(ctx)
	defer r.Stop()

	_, err := r.Trigger(ctx, "org_a", integrations.ProviderNotion)
	require.NoError(t, err)
	<-syncer.tokens // the only worker is busy with org_a
	_, err = r.Trigger(ctx, "org_b", integrations.ProviderNotion)
	require.NoError(t, err)
	_, err = r.Trigger(ctx, "org_c", integrations.ProviderNotion)
	require.ErrorIs(t, err, integrations.ErrQueueFull)

	c, err := st.GetConnection(ctx, "org_c", integrations.ProviderNotion)
	require.NoError(t, err)
	assert.Equal(t, integrations.StatusFailed, c.Status)
	assert.Contains(t, c.LastError, "queue is full")

	close(syncer.release)
	waitStatus(t, st, "org_b", integrations.StatusCompleted)
}

func TestRunnerStopFailsInFlightAndQueuedJobs(t *testing.T) {
	ctx := context.Background()
	st, sealer := newFixture(t, "org_a", "org_b")
	syncer := &fakeSyncer{release: make(chan struct{}), tokens: make(chan string, 1)}
	r := integrations.NewRunner(st, sealer,
		integrations.WithWorkers(1),
		integrations.WithSyncer(integrations.ProviderNotion, syncer),
		integrations.WithRunnerLogger(zerolog.Nop()))
	for _, id := range []string{"org_a", "org_b"} {
		_, err := r.Connect(ctx, id, integrations.ProviderNotion, "tok")
		require.NoError(t, err)
	}
	r.Start(ctx)

	_, err := r.Trigger(ctx, "org_a", integrations.ProviderNotion)
	require.NoError(t, err)
	<-syncer.tokens
	_, err = r.Trigger(ctx, "org_b", integrations.ProviderNotion)
	require.NoError(t, err)

	require.NoError(t, r.Stop())
	for _, id := range []string{"org_a", "org_b"} {
		c, err := st.GetConnection(ctx, id, integrations.ProviderNotion)
		require.NoError(t, err)
		assert.Equal(t, integrations.StatusFailed, c.Status, id)
	}
	c, err := st.GetConnection(ctx, "org_b", integrations.ProviderNotion)
	require.NoError(t, err)
	assert.Equal(t, "sync runner stopped", c.LastError)
}

func TestRunnerTriggerRequiresRunningRunner(t *testing.T) {
	ctx := context.Background()
	st, sealer := newFixture(t, "org_a")
	syncer := &fakeSyncer{items: 2}
	r := integrations.NewRunner(st, sealer,
		integrations.WithSyncer(integrations.ProviderNotion, syncer),
		integrations.WithRunnerLogger(zerolog.Nop()))
	_, err := r.Connect(ctx, "org_a", integrations.ProviderNotion, "tok")
	require.NoError(t, err)

	_, err = r.Trigger(ctx, "org_a", integrations.ProviderNotion)
	require.ErrorIs(t, err, integrations.ErrRunnerStopped)

	r.Start(ctx)
	require.NoError(t, r.Stop())
	_, err = r.Trigger(ctx, "org_a", integrations.ProviderNotion)
	require.ErrorIs(t, err, integrations.ErrRunnerStopped)

	c, err := st.GetConnection(ctx, "org_a", integrations.ProviderNotion)
	require.NoError(t, err)
	assert.Equal(t, integrations.StatusIdle, c.Status, "a refused trigger must not leave a claim behind")

	next := integrations.NewRunner(st, sealer,
		integrations.WithSyncer(integrations.ProviderNotion, syncer),
		integrations.WithRunnerLogger(zerolog.Nop()))
	next.Start(ctx)
	defer next.Stop()
	_, err = next.Trigger(ctx, "org_a", integrations.ProviderNotion)
	require.NoError(t, err)
	waitStatus(t, st, "org_a", integrations.StatusCompleted)
	assert.EqualValues(t, 1, syncer.calls.Load())
}

func TestRunnerTakesOverStaleClaim(t *testing.T) {
	ctx := context.Background()
	st, sealer := newFixture(t, "org_a")
	crashedAt := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	_, err := integrations.NewRunner(st, sealer).Connect(ctx, "org_a", integrations.ProviderNotion, "tok")
	require.NoError(t, err)
	// a process died after claiming
	_, won, err := st.ClaimSync(ctx, "org_a", integrations.ProviderNotion, crashedAt, crashedAt.Add(-time.Hour))
	require.NoError(t, err)
	require.True(t, won)

	newRunner := func(now time.Time, syncer integrations.Syncer) *integrations.Runner {
		r := integrations.NewRunner(st, sealer,
			integrations.WithSyncTimeout(5*time.Minute),
			integrations.WithRunnerClock(func() time.Time { return now }),
			integrations.WithSyncer(integrations.ProviderNotion, syncer),
			integrations.WithRunnerLogger(zerolog.Nop()))
		r.Start(ctx)
		t.Cleanup(func() { _ = r.Stop() })
		return r
	}

	early := &fakeSyncer{}
	_, err = newRunner(crashedAt.Add(2*time.Minute), early).Trigger(ctx, "org_a", integrations.ProviderNotion)
	require.ErrorIs(t, err, integrations.ErrSyncInProgress)
	assert.EqualValues(t, 0, early.calls.Load())

	late := &fakeSyncer{items: 4}
	_, err = newRunner(crashedAt.Add(10*time.Minute), late).Trigger(ctx, "org_a", integrations.ProviderNotion)
	require.NoError(t, err)
	done := waitStatus(t, st, "org_a", integrations.StatusCompleted)
	assert.Equal(t, 4, done.ItemsSynced)
	assert.EqualValues(t, 1, late.calls.Load())
}

func TestRunnerRejectsUnsupportedProviderAndMissingConnection(t *testing.T) {
	ctx := context.Background()
	st, sealer := newFixture(t, "org_a")
	r := integrations.NewRunner(st, sealer,
		integrations.WithSyncer(integrations.ProviderNotion, &fakeSyncer{}),
		integrations.WithRunnerLogger(zerolog.Nop()))
	r.Start(ctx)
	defer r.Stop()

	_, err := r.Trigger(ctx, "org_a", integrations.ProviderSlack)
	assert.ErrorIs(t, err, integrations.ErrInvalidInput)

	_, err = r.Trigger(ctx, "org_a", integrations.ProviderNotion)
	assert.ErrorIs(t, err, integrations.ErrNotFound)

	_, err = r.Connect(ctx, "org_missing", integrations.ProviderNotion, "tok")
	assert.ErrorIs(t, err, integrations.ErrNotFound)
}
