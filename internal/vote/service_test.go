package vote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"classbank/internal/settings"
	"classbank/internal/store"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestService(t *testing.T) (*Service, *store.Memory, *testClock) {
	t.Helper()
	st := store.NewMemory()
	set := settings.Default()
	set.ClassSize = 25
	set.ApprovalThreshold = 13
	set.VetoOverrideThreshold = 17
	set.DeliberationWindow = 7 * 24 * time.Hour
	set.OverrideWindow = 48 * time.Hour
	if err := settings.Seed(context.Background(), st, set); err != nil {
		t.Fatalf("seed settings: %v", err)
	}

	clock := &testClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	svc := NewService(st, nil, nil).WithClock(clock.Now)
	svc.maxAttempts = 40
	svc.initialBackoff = time.Millisecond
	svc.maxBackoff = 5 * time.Millisecond
	return svc, st, clock
}

func mustCreate(t *testing.T, svc *Service, id string) Proposal {
	t.Helper()
	p, err := svc.Create(context.Background(), CreateInput{
		ID: id, Title: "No talking during quiet time", Fine: 50, ProposerID: "proposer",
	})
	if err != nil {
		t.Fatalf("create proposal: %v", err)
	}
	return p
}

func approveN(t *testing.T, svc *Service, id string, from, to int) Proposal {
	t.Helper()
	var p Proposal
	var err error
	for i := from; i < to; i++ {
		p, err = svc.CastVote(context.Background(), Caller{ActorID: fmt.Sprintf("student-%d", i)}, CastVoteInput{
			ProposalID: id, Ballot: BallotApprove,
		})
		if err != nil {
			t.Fatalf("vote %d: %v", i, err)
		}
	}
	return p
}

func TestCreateValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, CreateInput{ID: "", Title: "x"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for empty id, got %v", err)
	}
	if _, err := svc.Create(ctx, CreateInput{ID: "p1", Title: "x", Fine: -1}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for negative fine, got %v", err)
	}
	mustCreate(t, svc, "p1")
	if _, err := svc.Create(ctx, CreateInput{ID: "p1", Title: "again"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for duplicate id, got %v", err)
	}
}

// With N=25 the approval threshold is 13: the proposal must move to
// pending_government_approval exactly on the 13th distinct approval.
func TestApprovalThresholdExactly(t *testing.T) {
	svc, _, _ := newTestService(t)
	mustCreate(t, svc, "p1")

	p := approveN(t, svc, "p1", 0, 12)
	if p.Status != StatusPending {
		t.Fatalf("status after 12 approvals = %s, want pending", p.Status)
	}
	p = approveN(t, svc, "p1", 12, 13)
	if p.Status != StatusPendingGovApproval {
		t.Fatalf("status after 13 approvals = %s, want pending_government_approval", p.Status)
	}
	if p.Tally.Approvals != 13 {
		t.Fatalf("tally = %d, want 13", p.Tally.Approvals)
	}
}

func TestRejectionAtMajorityDisapproval(t *testing.T) {
	svc, _, _ := newTestService(t)
	mustCreate(t, svc, "p1")
	ctx := context.Background()

	// ceil(25/2) = 13 disapprovals reject.
	var p Proposal
	var err error
	for i := 0; i < 13; i++ {
		p, err = svc.CastVote(ctx, Caller{ActorID: fmt.Sprintf("student-%d", i)}, CastVoteInput{
			ProposalID: "p1", Ballot: BallotDisapprove,
		})
		if err != nil {
			t.Fatalf("vote %d: %v", i, err)
		}
	}
	if p.Status != StatusRejected {
		t.Fatalf("status = %s, want rejected", p.Status)
	}

	// Terminal for everyone but the proposer.
	_, err = svc.CastVote(ctx, Caller{ActorID: "student-0"}, CastVoteInput{ProposalID: "p1", Ballot: BallotApprove})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on rejected proposal, got %v", err)
	}
}

func TestDuplicateVoteRejected(t *testing.T) {
	svc, _, _ := newTestService(t)
	mustCreate(t, svc, "p1")
	ctx := context.Background()

	if _, err := svc.CastVote(ctx, Caller{ActorID: "s1"}, CastVoteInput{ProposalID: "p1", Ballot: BallotApprove}); err != nil {
		t.Fatalf("first vote: %v", err)
	}
	_, err := svc.CastVote(ctx, Caller{ActorID: "s1"}, CastVoteInput{ProposalID: "p1", Ballot: BallotDisapprove})
	if !errors.Is(err, ErrDuplicateVote) {
		t.Fatalf("expected ErrDuplicateVote, got %v", err)
	}
}

// Admin ballots bypass deduplication; re-voting replaces the admin's
// previous ballot and the tally stays consistent with the voters map.
func TestAdminVoteCorrection(t *testing.T) {
	svc, _, _ := newTestService(t)
	mustCreate(t, svc, "p1")
	ctx := context.Background()
	admin := Caller{ActorID: "teacher", Admin: true}

	p, err := svc.CastVote(ctx, admin, CastVoteInput{ProposalID: "p1", Ballot: BallotApprove})
	if err != nil {
		t.Fatalf("admin vote: %v", err)
	}
	if p.Tally.Approvals != 1 || p.Tally.Disapprovals != 0 {
		t.Fatalf("tally = %+v", p.Tally)
	}

	p, err = svc.CastVote(ctx, admin, CastVoteInput{ProposalID: "p1", Ballot: BallotDisapprove})
	if err != nil {
		t.Fatalf("admin correction: %v", err)
	}
	if p.Tally.Approvals != 0 || p.Tally.Disapprovals != 1 {
		t.Fatalf("tally after correction = %+v", p.Tally)
	}
	if len(p.Voters) != 1 {
		t.Fatalf("voters = %d, want 1", len(p.Voters))
	}
}

func TestVetoStartsOverrideRound(t *testing.T) {
	svc, _, clock := newTestService(t)
	mustCreate(t, svc, "p1")
	ctx := context.Background()
	admin := Caller{ActorID: "teacher", Admin: true}

	approveN(t, svc, "p1", 0, 13)

	p, err := svc.Veto(ctx, admin, "p1")
	if err != nil {
		t.Fatalf("veto: %v", err)
	}
	if p.Status != StatusVetoed {
		t.Fatalf("status = %s, want vetoed", p.Status)
	}
	if p.VetoedAt == nil || !p.VetoedAt.Equal(clock.Now()) {
		t.Fatalf("vetoedAt not stamped: %v", p.VetoedAt)
	}
	if p.VetoDeadline == nil || !p.VetoDeadline.Equal(clock.Now().Add(48*time.Hour)) {
		t.Fatalf("vetoDeadline not stamped: %v", p.VetoDeadline)
	}
	if p.Round != 2 || len(p.Voters) != 0 || p.Tally.Approvals != 0 {
		t.Fatalf("override round not reset: round=%d voters=%d tally=%+v", p.Round, len(p.Voters), p.Tally)
	}

	// The same students may vote again in the override round.
	p, err = svc.CastVote(ctx, Caller{ActorID: "student-0"}, CastVoteInput{ProposalID: "p1", Ballot: BallotApprove})
	if err != nil {
		t.Fatalf("override revote: %v", err)
	}
	if p.Tally.Approvals != 1 {
		t.Fatalf("override tally = %+v", p.Tally)
	}
}

// With vetoOverrideThreshold=17 the proposal stays vetoed at 16 approvals
// and flips to veto_overridden on the 17th.
func TestVetoOverrideThresholdExactly(t *testing.T) {
	svc, _, _ := newTestService(t)
	mustCreate(t, svc, "p1")
	ctx := context.Background()
	admin := Caller{ActorID: "teacher", Admin: true}

	approveN(t, svc, "p1", 0, 13)
	if _, err := svc.Veto(ctx, admin, "p1"); err != nil {
		t.Fatalf("veto: %v", err)
	}

	p := approveN(t, svc, "p1", 0, 16)
	if p.Status != StatusVetoed {
		t.Fatalf("status at 16 approvals = %s, want vetoed", p.Status)
	}
	p = approveN(t, svc, "p1", 16, 17)
	if p.Status != StatusVetoOverridden {
		t.Fatalf("status at 17 approvals = %s, want veto_overridden", p.Status)
	}
	if p.FinalApprovedAt == nil {
		t.Fatalf("finalApprovedAt not stamped on override")
	}
	if !p.FinalApproved() {
		t.Fatalf("override should count as final approval")
	}
}

func TestOverrideWindowCloses(t *testing.T) {
	svc, _, clock := newTestService(t)
	mustCreate(t, svc, "p1")
	ctx := context.Background()
	admin := Caller{ActorID: "teacher", Admin: true}

	approveN(t, svc, "p1", 0, 13)
	if _, err := svc.Veto(ctx, admin, "p1"); err != nil {
		t.Fatalf("veto: %v", err)
	}

	clock.Advance(49 * time.Hour)
	_, err := svc.CastVote(ctx, Caller{ActorID: "student-0"}, CastVoteInput{ProposalID: "p1", Ballot: BallotApprove})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition past deadline, got %v", err)
	}
}

func TestApprove(t *testing.T) {
	svc, _, _ := newTestService(t)
	mustCreate(t, svc, "p1")
	ctx := context.Background()
	admin := Caller{ActorID: "teacher", Admin: true}

	// Not yet past the class vote.
	if _, err := svc.Approve(ctx, admin, "p1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	approveN(t, svc, "p1", 0, 13)
	p, err := svc.Approve(ctx, admin, "p1")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if p.Status != StatusApproved || p.FinalApprovedAt == nil {
		t.Fatalf("unexpected proposal: %+v", p)
	}

	// Non-admin callers cannot run administrative transitions.
	if _, err := svc.Veto(ctx, Caller{ActorID: "student-1"}, "p1"); !errors.Is(err, ErrPermission) {
		t.Fatalf("expected ErrPermission, got %v", err)
	}
}

func TestReopenOnlyByProposer(t *testing.T) {
	svc, _, _ := newTestService(t)
	mustCreate(t, svc, "p1")
	ctx := context.Background()

	for i := 0; i < 13; i++ {
		if _, err := svc.CastVote(ctx, Caller{ActorID: fmt.Sprintf("student-%d", i)}, CastVoteInput{
			ProposalID: "p1", Ballot: BallotDisapprove,
		}); err != nil {
			t.Fatalf("vote %d: %v", i, err)
		}
	}

	if _, err := svc.Reopen(ctx, Caller{ActorID: "student-3"}, "p1"); !errors.Is(err, ErrPermission) {
		t.Fatalf("expected ErrPermission, got %v", err)
	}
	p, err := svc.Reopen(ctx, Caller{ActorID: "proposer"}, "p1")
	if err != nil {
		t.Fatalf("reopen by proposer: %v", err)
	}
	if p.Status != StatusPending || p.Round != 2 || len(p.Voters) != 0 {
		t.Fatalf("unexpected proposal after reopen: %+v", p)
	}
}

func TestResetVotes(t *testing.T) {
	svc, _, _ := newTestService(t)
	mustCreate(t, svc, "p1")
	ctx := context.Background()
	admin := Caller{ActorID: "teacher", Admin: true}

	approveN(t, svc, "p1", 0, 5)
	p, err := svc.ResetVotes(ctx, admin, "p1")
	if err != nil {
		t.Fatalf("reset votes: %v", err)
	}
	if p.Status != StatusPending || p.Tally.Approvals != 0 || len(p.Voters) != 0 {
		t.Fatalf("unexpected proposal after reset: %+v", p)
	}
}

func TestSweepAutoRejectsStalePending(t *testing.T) {
	svc, _, clock := newTestService(t)
	mustCreate(t, svc, "stale")
	clock.Advance(8 * 24 * time.Hour)
	mustCreate(t, svc, "fresh")

	swept, err := svc.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept != 1 {
		t.Fatalf("swept = %d, want 1", swept)
	}
	p, err := svc.Get(context.Background(), "stale")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.Status != StatusAutoRejected {
		t.Fatalf("status = %s, want auto_rejected", p.Status)
	}
	p, _ = svc.Get(context.Background(), "fresh")
	if p.Status != StatusPending {
		t.Fatalf("fresh proposal swept: %s", p.Status)
	}
}

func TestDeleteDiscardsProposal(t *testing.T) {
	svc, _, _ := newTestService(t)
	mustCreate(t, svc, "p1")
	ctx := context.Background()

	if err := svc.Delete(ctx, Caller{ActorID: "student-1"}, "p1"); !errors.Is(err, ErrPermission) {
		t.Fatalf("expected ErrPermission, got %v", err)
	}
	if err := svc.Delete(ctx, Caller{ActorID: "teacher", Admin: true}, "p1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.Get(ctx, "p1"); !errors.Is(err, ErrProposalNotFound) {
		t.Fatalf("expected ErrProposalNotFound, got %v", err)
	}
	list, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("list = %d entries, want 0", len(list))
	}
}

// Concurrent ballots from distinct actors: the tally must equal the voters
// map exactly, with no vote lost or double-counted.
func TestConcurrentCastVoteTallyConsistent(t *testing.T) {
	svc, _, _ := newTestService(t)
	mustCreate(t, svc, "p1")
	ctx := context.Background()

	const voters = 8
	var wg sync.WaitGroup
	for i := 0; i < voters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.CastVote(ctx, Caller{ActorID: fmt.Sprintf("student-%d", i)}, CastVoteInput{
				ProposalID: "p1", Ballot: BallotApprove,
			})
			if err != nil {
				t.Errorf("vote %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	p, err := svc.Get(ctx, "p1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.Tally.Approvals != voters {
		t.Fatalf("approvals = %d, want %d", p.Tally.Approvals, voters)
	}
	if len(p.Voters) != voters {
		t.Fatalf("voters = %d, want %d", len(p.Voters), voters)
	}
}

// flakyStore drops a fixed number of single-document commits before
// recovering, imitating a store connection that resets mid-operation.
type flakyStore struct {
	*store.Memory
	mu       sync.Mutex
	failures int
	failWith error
}

func (f *flakyStore) Commit(ctx context.Context, w store.Write) (int64, error) {
	f.mu.Lock()
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()
	if fail {
		return 0, f.failWith
	}
	return f.Memory.Commit(ctx, w)
}

// A dropped connection during the ballot commit retries instead of
// surfacing: the attempt re-reads the proposal, and ballots dedupe by
// actor, so the vote lands exactly once.
func TestCastVoteRetriesTransientStoreFailure(t *testing.T) {
	st := &flakyStore{Memory: store.NewMemory()}
	if err := settings.Seed(context.Background(), st, settings.Default()); err != nil {
		t.Fatalf("seed settings: %v", err)
	}
	svc := NewService(st, nil, nil)
	svc.maxAttempts = 5
	svc.initialBackoff = time.Millisecond
	svc.maxBackoff = 5 * time.Millisecond
	mustCreate(t, svc, "p1")

	st.mu.Lock()
	st.failures = 2
	st.failWith = errors.New("connection reset by peer")
	st.mu.Unlock()

	p, err := svc.CastVote(context.Background(), Caller{ActorID: "student-1"}, CastVoteInput{
		ProposalID: "p1", Ballot: BallotApprove,
	})
	if err != nil {
		t.Fatalf("vote across transient failures: %v", err)
	}
	if p.Tally.Approvals != 1 || len(p.Voters) != 1 {
		t.Fatalf("ballot applied %d/%d times, want exactly once", p.Tally.Approvals, len(p.Voters))
	}
}
