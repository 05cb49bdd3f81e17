package claim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fentz26/callqueue/internal/audit"
	"github.com/fentz26/callqueue/internal/cache"
	"github.com/fentz26/callqueue/internal/models"
	"github.com/fentz26/callqueue/internal/realtime"
	"github.com/fentz26/callqueue/internal/store/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedUpdate struct {
	ID  string
	Upd models.Update
}

// spyStore records writes and can fail, block or tamper with them.
type spyStore struct {
	*memstore.Store

	mu        sync.Mutex
	updates   []recordedUpdate
	failWrite error
	getGate   chan struct{}
	afterSet  func(id string, upd models.Update)
}

func newSpyStore() *spyStore {
	return &spyStore{Store: memstore.New()}
}

func (s *spyStore) GetByID(ctx context.Context, id string) (*models.Record, error) {
	s.mu.Lock()
	gate := s.getGate
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return s.Store.GetByID(ctx, id)
}

func (s *spyStore) Update(ctx context.Context, id string, upd models.Update) error {
	s.mu.Lock()
	s.updates = append(s.updates, recordedUpdate{ID: id, Upd: upd})
	fail := s.failWrite
	hook := s.afterSet
	s.mu.Unlock()
	if fail != nil {
		return fail
	}
	if err := s.Store.Update(ctx, id, upd); err != nil {
		return err
	}
	if hook != nil {
		hook(id, upd)
	}
	return nil
}

func (s *spyStore) Updates() []recordedUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]recordedUpdate, len(s.updates))
	copy(out, s.updates)
	return out
}

type reloadSpy struct {
	mu    sync.Mutex
	modes []cache.Mode
}

func (r *reloadSpy) Reload(mode cache.Mode) {
	r.mu.Lock()
	r.modes = append(r.modes, mode)
	r.mu.Unlock()
}

func (r *reloadSpy) Modes() []cache.Mode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]cache.Mode(nil), r.modes...)
}

type pubSpy struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (p *pubSpy) Publish(_ context.Context, ev realtime.Event) error {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
	return nil
}

func (p *pubSpy) Events() []realtime.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]realtime.Event(nil), p.events...)
}

type fixture struct {
	store    *spyStore
	cache    *cache.Cache
	coord    *Coordinator
	reloads  *reloadSpy
	events   *pubSpy
	decision *audit.Memory
}

func testConfig() Config {
	return Config{
		PropagationDelay: 20 * time.Millisecond,
		FailedClearAfter: 60 * time.Millisecond,
		RetryOffset:      2 * time.Hour,
	}
}

func newFixture(t *testing.T, st *spyStore, operator string, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		store:    st,
		cache:    cache.New(st, operator),
		reloads:  &reloadSpy{},
		events:   &pubSpy{},
		decision: audit.NewMemory(),
	}
	base := []Option{
		WithConfig(testConfig()),
		WithReloader(f.reloads),
		WithPublisher(f.events),
		WithAuditor(audit.NewWriter(f.decision)),
	}
	f.coord = New(st, f.cache, operator, append(base, opts...)...)
	t.Cleanup(f.coord.Close)
	require.NoError(t, f.cache.Refresh(context.Background(), cache.ModeForeground))
	return f
}

func seedRecord(t *testing.T, st *spyStore, rec models.Record) {
	t.Helper()
	_, err := st.Create(context.Background(), rec)
	require.NoError(t, err)
}

func TestClaim_UnassignedTaskSucceeds(t *testing.T) {
	st := newSpyStore()
	seedRecord(t, st, models.Record{ID: "T1", ContactName: "Ada"})
	f := newFixture(t, st, "A")

	res, err := f.coord.Claim(context.Background(), "T1")
	require.NoError(t, err)
	assert.Equal(t, ClaimOK, res)

	task, ok := f.cache.Get("T1")
	require.True(t, ok)
	assert.Equal(t, "A", task.AssignedTo)
	assert.Equal(t, models.VerificationNone, task.VerificationState)
	require.Len(t, task.History, 1)
	assert.Equal(t, models.ActionCreated, task.History[0].Action)

	rec, _ := st.Store.GetByID(context.Background(), "T1")
	assert.Equal(t, "A", rec.Assignee)
	assert.Len(t, rec.History, 1, "history entry is persisted")

	decisions := f.decision.Decisions()
	require.NotEmpty(t, decisions)
	assert.Equal(t, "ok", decisions[len(decisions)-1].Outcome)
}

func TestClaim_TaskHeldByOtherIsConflictWithoutWrite(t *testing.T) {
	st := newSpyStore()
	seedRecord(t, st, models.Record{ID: "T2", Assignee: "B"})
	f := newFixture(t, st, "A")
	f.cache.Put(models.TaskFromRecord(models.Record{ID: "T2", Assignee: "B", Status: "pending"}))

	res, err := f.coord.Claim(context.Background(), "T2")
	require.NoError(t, err)
	assert.Equal(t, ClaimConflict, res)
	assert.Empty(t, st.Updates(), "no store write")
	assert.Equal(t, []cache.Mode{cache.ModeForeground}, f.reloads.Modes())
}

func TestClaim_StaleCacheConflictDetectedOnFetch(t *testing.T) {
	st := newSpyStore()
	seedRecord(t, st, models.Record{ID: "T2"})
	f := newFixture(t, st, "A")

	// someone else claims after our last refresh
	require.NoError(t, st.Store.Update(context.Background(), "T2", models.Update{Assignee: models.StringPtr("B")}))

	res, err := f.coord.Claim(context.Background(), "T2")
	require.NoError(t, err)
	assert.Equal(t, ClaimConflict, res)
	assert.Empty(t, st.Updates())
	assert.Equal(t, []cache.Mode{cache.ModeForeground}, f.reloads.Modes())

	task, ok := f.cache.Get("T2")
	require.True(t, ok)
	assert.Empty(t, task.AssignedTo, "optimistic assignee reverted")
	assert.Equal(t, models.VerificationNone, task.VerificationState)
}

func TestClaim_AlreadyMine(t *testing.T) {
	st := newSpyStore()
	seedRecord(t, st, models.Record{ID: "T1", Assignee: "A", Status: "in_progress"})
	f := newFixture(t, st, "A")

	_, err := f.coord.Claim(context.Background(), "T1")
	assert.ErrorIs(t, err, ErrAlreadyAssigned)
	assert.Empty(t, st.Updates())
}

func TestClaim_OverwrittenWriteIsFailedThenCleared(t *testing.T) {
	st := newSpyStore()
	seedRecord(t, st, models.Record{ID: "T1"})
	f := newFixture(t, st, "A")

	// B's write lands right after ours
	st.mu.Lock()
	st.afterSet = func(id string, upd models.Update) {
		if upd.Assignee != nil && *upd.Assignee == "A" {
			_ = st.Store.Update(context.Background(), id, models.Update{Assignee: models.StringPtr("B")})
		}
	}
	st.mu.Unlock()

	res, err := f.coord.Claim(context.Background(), "T1")
	require.NoError(t, err)
	assert.Equal(t, ClaimFailed, res)

	task, ok := f.cache.Get("T1")
	require.True(t, ok)
	assert.Equal(t, models.VerificationFailed, task.VerificationState)
	assert.Empty(t, task.AssignedTo)

	require.Eventually(t, func() bool {
		return f.cache.Verification("T1") == models.VerificationNone
	}, time.Second, 10*time.Millisecond)
}

func TestClaim_SecondClaimWhileVerifyingIsRejected(t *testing.T) {
	st := newSpyStore()
	seedRecord(t, st, models.Record{ID: "T1"})
	f := newFixture(t, st, "A")

	gate := make(chan struct{})
	st.mu.Lock()
	st.getGate = gate
	st.mu.Unlock()

	first := make(chan Result, 1)
	go func() {
		res, _ := f.coord.Claim(context.Background(), "T1")
		first <- res
	}()

	require.Eventually(t, func() bool {
		return f.cache.Verification("T1") == models.VerificationVerifying
	}, time.Second, 5*time.Millisecond)

	res, err := f.coord.Claim(context.Background(), "T1")
	require.NoError(t, err)
	assert.Equal(t, ClaimInFlight, res)

	st.mu.Lock()
	st.getGate = nil
	st.mu.Unlock()
	close(gate)

	assert.Equal(t, ClaimOK, <-first)
	assignWrites := 0
	for _, u := range st.Updates() {
		if u.Upd.Assignee != nil {
			assignWrites++
		}
	}
	assert.Equal(t, 1, assignWrites)
}

func TestClaim_WriteErrorIsReturned(t *testing.T) {
	st := newSpyStore()
	seedRecord(t, st, models.Record{ID: "T1"})
	f := newFixture(t, st, "A")
	st.mu.Lock()
	st.failWrite = errors.New("connection reset")
	st.mu.Unlock()

	res, err := f.coord.Claim(context.Background(), "T1")
	require.Error(t, err)
	assert.Equal(t, ClaimFailed, res)
	assert.Equal(t, models.VerificationNone, f.cache.Verification("T1"))
}

func TestClaim_MissingTask(t *testing.T) {
	f := newFixture(t, newSpyStore(), "A")

	res, err := f.coord.Claim(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrTaskNotFound)
	assert.Equal(t, ClaimFailed, res)
}

// Two sessions racing for the same task against one last-writer-wins store:
// exactly one wins.
func TestClaim_AtMostOneClaimant(t *testing.T) {
	for i := 0; i < 20; i++ {
		t.Run(fmt.Sprintf("round-%d", i), func(t *testing.T) {
			st := newSpyStore()
			seedRecord(t, st, models.Record{ID: "T"})
			cfg := testConfig()
			cfg.PropagationDelay = 50 * time.Millisecond
			a := newFixture(t, st, "A", WithConfig(cfg))
			b := newFixture(t, st, "B", WithConfig(cfg))

			var wg sync.WaitGroup
			results := make([]Result, 2)
			start := make(chan struct{})
			for idx, f := range []*fixture{a, b} {
				wg.Add(1)
				go func(idx int, f *fixture) {
					defer wg.Done()
					<-start
					res, err := f.coord.Claim(context.Background(), "T")
					assert.NoError(t, err)
					results[idx] = res
				}(idx, f)
			}
			close(start)
			wg.Wait()

			ok := 0
			for _, r := range results {
				switch r {
				case ClaimOK:
					ok++
				case ClaimConflict, ClaimFailed:
				default:
					t.Fatalf("unexpected result %v", r)
				}
			}
			assert.Equal(t, 1, ok, "results: %v", results)

			rec, _ := st.Store.GetByID(context.Background(), "T")
			winner := "A"
			if results[1] == ClaimOK {
				winner = "B"
			}
			assert.Equal(t, winner, rec.Assignee)
		})
	}
}

func TestClaim_CancelledContextDuringVerification(t *testing.T) {
	st := newSpyStore()
	seedRecord(t, st, models.Record{ID: "T1"})
	f := newFixture(t, st, "A", WithConfig(Config{
		PropagationDelay: time.Second,
		FailedClearAfter: time.Second,
		RetryOffset:      time.Hour,
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	res, err := f.coord.Claim(ctx, "T1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, ClaimFailed, res)
	assert.Equal(t, models.VerificationNone, f.cache.Verification("T1"))
}
