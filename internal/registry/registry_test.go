package registry_test

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crossword.ai/internal/persistence/store"
	"crossword.ai/internal/registry"
)

const (
	owner       = "alice.testnet"
	solution    = "near nomicon ref finance"
	solutionSum = "69c2feb084439956193f4c21936025f14a5a5a78979d67ae34762e18a7206a0f"
)

func answers() []registry.Answer {
	return []registry.Answer{
		{Num: 1, Start: registry.CoordinatePair{X: 2, Y: 1}, Direction: registry.Across, Length: 4, Clue: "Native token"},
		{Num: 1, Start: registry.CoordinatePair{X: 2, Y: 1}, Direction: registry.Down, Length: 7, Clue: "Name of the specs/standards site is ______.io"},
		{Num: 2, Start: registry.CoordinatePair{X: 5, Y: 1}, Direction: registry.Down, Length: 3, Clue: "DeFi site on NEAR is ___.finance"},
		{Num: 4, Start: registry.CoordinatePair{X: 0, Y: 7}, Direction: registry.Across, Length: 7, Clue: "DeFi decentralizes this"},
	}
}

type recordingDispatcher struct {
	mu      sync.Mutex
	payouts []registry.Payout
}

func (d *recordingDispatcher) Dispatch(p registry.Payout) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.payouts = append(d.payouts, p)
}

func (d *recordingDispatcher) all() []registry.Payout {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]registry.Payout(nil), d.payouts...)
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []registry.AuditEntry
}

func (a *recordingAudit) WriteAudit(e registry.AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
	return nil
}

type harness struct {
	reg     *registry.Registry
	store   registry.Store
	rewards *recordingDispatcher
	audit   *recordingAudit
}

func prize() *big.Int {
	v, _ := new(big.Int).SetString("5000000000000000000000000", 10)
	return v
}

func startRegistry(t *testing.T, st registry.Store) *harness {
	t.Helper()
	reg, err := registry.New(registry.Config{Owner: owner, RewardAmount: prize()}, st)
	require.NoError(t, err)

	h := &harness{reg: reg, store: st, rewards: &recordingDispatcher{}, audit: &recordingAudit{}}
	reg.SetRewardDispatcher(h.rewards)
	reg.SetAuditLogger(h.audit)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = reg.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func TestSolutionHash_KnownVector(t *testing.T) {
	assert.Equal(t, solutionSum, registry.SolutionHash(registry.SHA256, solution))
	assert.Equal(t, solutionSum, registry.SolutionHash(nil, solution))
}

func backends(t *testing.T) map[string]func() registry.Store {
	dir := t.TempDir()
	return map[string]func() registry.Store{
		"memory": func() registry.Store { return store.NewMemory() },
		"sqlite": func() registry.Store {
			st, err := store.OpenSQLite(filepath.Join(dir, "registry.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = st.Close() })
			return st
		},
		"badger": func() registry.Store {
			st, err := store.OpenBadger(store.BadgerConfig{InMemory: true})
			require.NoError(t, err)
			t.Cleanup(func() { _ = st.Close() })
			return st
		},
	}
}

func TestRegistry_CreateSolveLifecycle(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) { testLifecycle(t, open()) })
	}
}

func testLifecycle(t *testing.T, st registry.Store) {
	ctx := context.Background()
	h := startRegistry(t, st)

	require.NoError(t, h.reg.CreatePuzzle(ctx, owner, solutionSum, answers()))

	status, found, err := h.reg.PuzzleStatus(ctx, solutionSum)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, registry.StatusUnsolved, status.Kind())

	got, ok, err := h.reg.UnsolvedByIndex(ctx, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, solutionSum, got)

	list, err := h.reg.UnsolvedPuzzles(ctx)
	require.NoError(t, err)
	require.Len(t, list.Puzzles, 1)
	assert.Equal(t, solutionSum, list.Puzzles[0].SolutionHash)
	assert.Equal(t, answers(), list.Puzzles[0].Answers)

	_, err = h.reg.SubmitSolution(ctx, "bob.testnet", "wrong answer here", "m")
	assert.ErrorIs(t, err, registry.ErrNoMatchingPuzzle)

	receipt, err := h.reg.SubmitSolution(ctx, "bob.testnet", solution, "my memo")
	require.NoError(t, err)
	assert.Equal(t, solutionSum, receipt.SolutionHash)
	assert.Equal(t, 0, prize().Cmp(receipt.Amount))
	assert.NotEmpty(t, receipt.PayoutID)

	status, found, err = h.reg.PuzzleStatus(ctx, solutionSum)
	require.NoError(t, err)
	require.True(t, found)
	memo, solved := status.Memo()
	assert.True(t, solved)
	assert.Equal(t, "my memo", memo)

	list, err = h.reg.UnsolvedPuzzles(ctx)
	require.NoError(t, err)
	assert.Empty(t, list.Puzzles)

	_, ok, err = h.reg.UnsolvedByIndex(ctx, 0)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = h.reg.SubmitSolution(ctx, "carol.testnet", solution, "late")
	assert.ErrorIs(t, err, registry.ErrAlreadySolved)

	status, _, err = h.reg.PuzzleStatus(ctx, solutionSum)
	require.NoError(t, err)
	memo, _ = status.Memo()
	assert.Equal(t, "my memo", memo)

	payouts := h.rewards.all()
	require.Len(t, payouts, 1)
	assert.Equal(t, "bob.testnet", payouts[0].To)
	assert.Equal(t, solutionSum, payouts[0].PuzzleHash)
	assert.Equal(t, receipt.PayoutID, payouts[0].ID)
	assert.Equal(t, 0, prize().Cmp(payouts[0].Amount))
}

func TestRegistry_CreateRequiresOwner(t *testing.T) {
	ctx := context.Background()
	h := startRegistry(t, store.NewMemory())

	for _, caller := range []string{"", "bob.testnet", "alice.testnet "} {
		err := h.reg.CreatePuzzle(ctx, caller, solutionSum, answers())
		assert.ErrorIs(t, err, registry.ErrUnauthorized, "caller %q", caller)
	}
	_, found, err := h.reg.PuzzleStatus(ctx, solutionSum)
	require.NoError(t, err)
	assert.False(t, found)

	n, err := h.store.UnsolvedCount()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRegistry_DuplicateCreateLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	h := startRegistry(t, store.NewMemory())

	require.NoError(t, h.reg.CreatePuzzle(ctx, owner, solutionSum, answers()))
	err := h.reg.CreatePuzzle(ctx, owner, solutionSum, nil)
	assert.ErrorIs(t, err, registry.ErrDuplicatePuzzle)

	list, err := h.reg.UnsolvedPuzzles(ctx)
	require.NoError(t, err)
	require.Len(t, list.Puzzles, 1)
	assert.Len(t, list.Puzzles[0].Answers, 4)
}

func TestRegistry_DuplicateCreateAfterSolve(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) { testDuplicateCreateAfterSolve(t, open()) })
	}
}

func testDuplicateCreateAfterSolve(t *testing.T, st registry.Store) {
	ctx := context.Background()
	h := startRegistry(t, st)

	require.NoError(t, h.reg.CreatePuzzle(ctx, owner, solutionSum, answers()))
	_, err := h.reg.SubmitSolution(ctx, "bob.testnet", solution, "done")
	require.NoError(t, err)

	err = h.reg.CreatePuzzle(ctx, owner, solutionSum, answers())
	assert.ErrorIs(t, err, registry.ErrDuplicatePuzzle)

	status, _, err := h.reg.PuzzleStatus(ctx, solutionSum)
	require.NoError(t, err)
	assert.Equal(t, registry.StatusSolved, status.Kind())
}

func TestRegistry_HashIsCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	h := startRegistry(t, store.NewMemory())

	upper := "69C2FEB084439956193F4C21936025F14A5A5A78979D67AE34762E18A7206A0F"
	require.NoError(t, h.reg.CreatePuzzle(ctx, owner, upper, answers()))

	_, found, err := h.reg.PuzzleStatus(ctx, solutionSum)
	require.NoError(t, err)
	assert.True(t, found)

	_, err = h.reg.SubmitSolution(ctx, "bob.testnet", solution, "")
	assert.NoError(t, err)
}

func TestRegistry_ConcurrentSubmissionsPayOnce(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) { testConcurrentSubmissionsPayOnce(t, open()) })
	}
}

func testConcurrentSubmissionsPayOnce(t *testing.T, st registry.Store) {
	ctx := context.Background()
	h := startRegistry(t, st)
	require.NoError(t, h.reg.CreatePuzzle(ctx, owner, solutionSum, answers()))

	const solvers = 32
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		winners  []string
		rejected int
	)
	for i := 0; i < solvers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			caller := "solver-" + string(rune('a'+i%26))
			_, err := h.reg.SubmitSolution(ctx, caller, solution, caller)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, caller)
			case errors.Is(err, registry.ErrAlreadySolved):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	require.Len(t, winners, 1)
	assert.Equal(t, solvers-1, rejected)
	payouts := h.rewards.all()
	require.Len(t, payouts, 1)
	assert.Equal(t, winners[0], payouts[0].To)
}

func TestRegistry_UnsolvedByIndexBounds(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) { testUnsolvedByIndexBounds(t, open()) })
	}
}

func testUnsolvedByIndexBounds(t *testing.T, st registry.Store) {
	ctx := context.Background()
	h := startRegistry(t, st)

	hashes := []string{
		solutionSum,
		registry.SolutionHash(nil, "second"),
		registry.SolutionHash(nil, "third"),
	}
	for _, hs := range hashes {
		require.NoError(t, h.reg.CreatePuzzle(ctx, owner, hs, nil))
	}

	var got []string
	for i := 0; ; i++ {
		hs, ok, err := h.reg.UnsolvedByIndex(ctx, i)
		require.NoError(t, err)
		if !ok {
			assert.Equal(t, len(hashes), i)
			break
		}
		got = append(got, hs)
	}
	assert.ElementsMatch(t, hashes, got)

	_, ok, err := h.reg.UnsolvedByIndex(ctx, -1)
	require.NoError(t, err)
	assert.False(t, ok)

	list, err := h.reg.UnsolvedPuzzles(ctx)
	require.NoError(t, err)
	require.Len(t, list.Puzzles, len(got))
	for i, p := range list.Puzzles {
		assert.Equal(t, got[i], p.SolutionHash)
		assert.Equal(t, registry.StatusUnsolved, p.Status.Kind())
	}
}

// checkIndexMatchesStatus walks the unsolved index and every known puzzle and
// requires each side to agree with the other.
func checkIndexMatchesStatus(t *testing.T, reg *registry.Registry, known []string) {
	t.Helper()
	ctx := context.Background()

	indexed := map[string]bool{}
	for i := 0; ; i++ {
		hs, ok, err := reg.UnsolvedByIndex(ctx, i)
		require.NoError(t, err)
		if !ok {
			break
		}
		require.False(t, indexed[hs], "hash %s indexed twice", hs)
		indexed[hs] = true

		status, found, err := reg.PuzzleStatus(ctx, hs)
		require.NoError(t, err)
		require.True(t, found, "indexed hash %s has no puzzle", hs)
		assert.Equal(t, registry.StatusUnsolved, status.Kind(), "indexed hash %s", hs)
	}

	for _, hs := range known {
		status, found, err := reg.PuzzleStatus(ctx, hs)
		require.NoError(t, err)
		require.True(t, found, "puzzle %s", hs)
		assert.Equal(t, status.Kind() == registry.StatusUnsolved, indexed[hs], "puzzle %s status %s", hs, status)
	}

	list, err := reg.UnsolvedPuzzles(ctx)
	require.NoError(t, err)
	assert.Len(t, list.Puzzles, len(indexed))
}

func TestRegistry_IndexTracksStatusThroughMixedOps(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) { testIndexTracksStatus(t, open()) })
	}
}

func testIndexTracksStatus(t *testing.T, st registry.Store) {
	ctx := context.Background()
	h := startRegistry(t, st)

	words := []string{solution, "second", "third", "fourth", ""}
	var known []string
	for _, w := range words {
		hs := registry.SolutionHash(nil, w)
		require.NoError(t, h.reg.CreatePuzzle(ctx, owner, hs, answers()[:1]))
		known = append(known, hs)
		checkIndexMatchesStatus(t, h.reg, known)
	}

	steps := []struct {
		caller, guess string
		want          error
	}{
		{"bob.testnet", "third", nil},
		{"carol.testnet", "not a puzzle", registry.ErrNoMatchingPuzzle},
		{"carol.testnet", "third", registry.ErrAlreadySolved},
		{"bob.testnet", "", nil},
		{"dave.testnet", solution, nil},
		{"dave.testnet", "NEAR nomicon ref finance", registry.ErrNoMatchingPuzzle},
	}
	for _, step := range steps {
		payoutsBefore := len(h.rewards.all())
		h.audit.mu.Lock()
		auditsBefore := len(h.audit.entries)
		h.audit.mu.Unlock()

		_, err := h.reg.SubmitSolution(ctx, step.caller, step.guess, "memo")
		if step.want == nil {
			require.NoError(t, err, "guess %q", step.guess)
		} else {
			require.ErrorIs(t, err, step.want, "guess %q", step.guess)
			assert.Len(t, h.rewards.all(), payoutsBefore, "payout after rejected guess %q", step.guess)
			h.audit.mu.Lock()
			assert.Len(t, h.audit.entries, auditsBefore, "audit after rejected guess %q", step.guess)
			h.audit.mu.Unlock()
		}
		checkIndexMatchesStatus(t, h.reg, known)
	}

	err := h.reg.CreatePuzzle(ctx, owner, registry.SolutionHash(nil, "third"), nil)
	require.ErrorIs(t, err, registry.ErrDuplicatePuzzle)
	checkIndexMatchesStatus(t, h.reg, known)

	assert.Len(t, h.rewards.all(), 3)
	n, err := h.store.UnsolvedCount()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRegistry_UnknownHashStatus(t *testing.T) {
	h := startRegistry(t, store.NewMemory())
	_, found, err := h.reg.PuzzleStatus(context.Background(), solutionSum)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRegistry_AuditTrail(t *testing.T) {
	ctx := context.Background()
	h := startRegistry(t, store.NewMemory())

	require.NoError(t, h.reg.CreatePuzzle(ctx, owner, solutionSum, answers()))
	receipt, err := h.reg.SubmitSolution(ctx, "bob.testnet", solution, "gg")
	require.NoError(t, err)

	h.audit.mu.Lock()
	defer h.audit.mu.Unlock()
	require.Len(t, h.audit.entries, 2)

	created, solved := h.audit.entries[0], h.audit.entries[1]
	assert.Equal(t, registry.AuditPuzzleCreated, created.Action)
	assert.Equal(t, owner, created.Actor)
	assert.Equal(t, 4, created.Answers)

	assert.Equal(t, registry.AuditPuzzleSolved, solved.Action)
	assert.Equal(t, "bob.testnet", solved.Actor)
	assert.Equal(t, "gg", solved.Memo)
	assert.Equal(t, receipt.PayoutID, solved.PayoutID)
	assert.NotEmpty(t, solved.ID)
	assert.False(t, solved.Time.IsZero())
}

func TestNew_Validation(t *testing.T) {
	_, err := registry.New(registry.Config{RewardAmount: prize()}, store.NewMemory())
	assert.Error(t, err)

	_, err = registry.New(registry.Config{Owner: owner}, store.NewMemory())
	assert.Error(t, err)

	_, err = registry.New(registry.Config{Owner: owner, RewardAmount: big.NewInt(-1)}, store.NewMemory())
	assert.Error(t, err)

	_, err = registry.New(registry.Config{Owner: owner, RewardAmount: prize()}, nil)
	assert.Error(t, err)
}

func TestNew_OwnerBoundToStore(t *testing.T) {
	st := store.NewMemory()
	_, err := registry.New(registry.Config{Owner: owner, RewardAmount: prize()}, st)
	require.NoError(t, err)

	bound, ok, err := st.Owner()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, owner, bound)

	_, err = registry.New(registry.Config{Owner: owner, RewardAmount: prize()}, st)
	assert.NoError(t, err)

	_, err = registry.New(registry.Config{Owner: "mallory.testnet", RewardAmount: prize()}, st)
	assert.ErrorIs(t, err, registry.ErrOwnerMismatch)
}

func TestRegistry_StoppedAndCancelled(t *testing.T) {
	reg, err := registry.New(registry.Config{Owner: owner, RewardAmount: prize()}, store.NewMemory())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = reg.PuzzleStatus(ctx, solutionSum)
	assert.ErrorIs(t, err, context.Canceled)

	done := make(chan error, 1)
	go func() { done <- reg.Run(context.Background()) }()
	reg.Stop()
	reg.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	_, err = reg.UnsolvedPuzzles(context.Background())
	assert.ErrorIs(t, err, registry.ErrStopped)
}

func TestSnapshot_ExportImport(t *testing.T) {
	ctx := context.Background()
	h := startRegistry(t, store.NewMemory())

	require.NoError(t, h.reg.CreatePuzzle(ctx, owner, solutionSum, answers()))
	second := registry.SolutionHash(nil, "second")
	require.NoError(t, h.reg.CreatePuzzle(ctx, owner, second, answers()[:1]))
	_, err := h.reg.SubmitSolution(ctx, "bob.testnet", "second", "first try")
	require.NoError(t, err)

	snap, err := h.reg.ExportSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, owner, snap.Owner)
	assert.Equal(t, 2, snap.Header.Puzzles)
	assert.Equal(t, []string{solutionSum}, snap.Unsolved)

	restored := store.NewMemory()
	require.NoError(t, registry.ImportSnapshot(restored, snap))

	h2 := startRegistry(t, restored)
	status, found, err := h2.reg.PuzzleStatus(ctx, second)
	require.NoError(t, err)
	require.True(t, found)
	memo, _ := status.Memo()
	assert.Equal(t, "first try", memo)

	list, err := h2.reg.UnsolvedPuzzles(ctx)
	require.NoError(t, err)
	require.Len(t, list.Puzzles, 1)
	assert.Equal(t, answers(), list.Puzzles[0].Answers)

	err = registry.ImportSnapshot(restored, snap)
	assert.Error(t, err, "import into a non-empty store")
}

func TestSnapshot_ImportRejectsInconsistentIndex(t *testing.T) {
	ctx := context.Background()
	h := startRegistry(t, store.NewMemory())
	require.NoError(t, h.reg.CreatePuzzle(ctx, owner, solutionSum, answers()))
	snap, err := h.reg.ExportSnapshot(ctx)
	require.NoError(t, err)

	missing := snap
	missing.Unsolved = nil
	assert.Error(t, registry.ImportSnapshot(store.NewMemory(), missing))

	dangling := snap
	dangling.Unsolved = []string{solutionSum, registry.SolutionHash(nil, "ghost")}
	var ce *registry.ConsistencyError
	assert.ErrorAs(t, registry.ImportSnapshot(store.NewMemory(), dangling), &ce)

	other := snap
	other.Owner = "mallory.testnet"
	bound := store.NewMemory()
	_, err = registry.New(registry.Config{Owner: owner, RewardAmount: prize()}, bound)
	require.NoError(t, err)
	assert.ErrorIs(t, registry.ImportSnapshot(bound, other), registry.ErrOwnerMismatch)
}

func TestSnapshot_ImportNormalizesHashCase(t *testing.T) {
	ctx := context.Background()
	h := startRegistry(t, store.NewMemory())
	require.NoError(t, h.reg.CreatePuzzle(ctx, owner, solutionSum, answers()))
	snap, err := h.reg.ExportSnapshot(ctx)
	require.NoError(t, err)

	upper := strings.ToUpper(solutionSum)
	snap.Puzzles[0].SolutionHash = upper
	snap.Unsolved = []string{upper}

	restored := store.NewMemory()
	require.NoError(t, registry.ImportSnapshot(restored, snap))

	h2 := startRegistry(t, restored)
	hs, ok, err := h2.reg.UnsolvedByIndex(ctx, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, solutionSum, hs)

	_, err = h2.reg.SubmitSolution(ctx, "bob.testnet", solution, "")
	require.NoError(t, err)
	n, err := restored.UnsolvedCount()
	require.NoError(t, err)
	assert.Zero(t, n)
}
