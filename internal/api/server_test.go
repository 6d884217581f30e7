package api

import (
	"context"
	"log/slog"
	"testing"

	"classbank/internal/ledger"
	"classbank/internal/settings"
	"classbank/internal/store"
	"classbank/internal/vote"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	st := store.NewMemory()
	if err := settings.Seed(context.Background(), st, settings.Default()); err != nil {
		t.Fatalf("seed settings: %v", err)
	}
	return &Server{
		log:    slog.Default(),
		ledger: ledger.NewService(st, nil, nil),
		votes:  vote.NewService(st, nil, nil),
		store:  st,
	}
}

// A queued vote whose first sync landed but whose response was lost
// replays as a duplicate; the replay must drain as success with the
// current proposal, never wedge the client queue.
func TestReplayDuplicateVoteDrainsAsSuccess(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	user := UserContext{UserID: "student-1"}
	if _, err := s.votes.Create(ctx, vote.CreateInput{
		ID: "p1", Title: "No gum in class", ProposerID: "student-2",
	}); err != nil {
		t.Fatalf("create proposal: %v", err)
	}

	cmd := ReplayCommand{Kind: "vote", ProposalID: "p1", Ballot: "approve", IdempotencyKey: "q1"}
	first := s.replayCommand(ctx, user, cmd)
	if ok, _ := first["ok"].(bool); !ok {
		t.Fatalf("first replay failed: %v", first["error"])
	}

	second := s.replayCommand(ctx, user, cmd)
	if ok, _ := second["ok"].(bool); !ok {
		t.Fatalf("re-replayed vote must report success, got %v", second["error"])
	}
	p, ok := second["result"].(vote.Proposal)
	if !ok {
		t.Fatalf("expected the current proposal as result, got %T", second["result"])
	}
	if p.Tally.Approvals != 1 || len(p.Voters) != 1 {
		t.Fatalf("replay mutated the tally: %+v", p.Tally)
	}
}

// Failures that can never succeed on a later sync are flagged so the
// client drops them instead of retrying forever.
func TestReplayFlagsPermanentFailures(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	user := UserContext{UserID: "student-1"}
	for _, id := range []string{"student-1", "student-2"} {
		if err := s.ledger.EnsureActor(ctx, id, "Student "+id); err != nil {
			t.Fatalf("ensure actor %s: %v", id, err)
		}
	}

	res := s.replayCommand(ctx, user, ReplayCommand{
		Kind: "transfer", ToID: "student-2", Amount: 50, IdempotencyKey: "q1",
	})
	if ok, _ := res["ok"].(bool); ok {
		t.Fatalf("expected insufficient-balance failure, got %v", res)
	}
	if permanent, _ := res["permanent"].(bool); !permanent {
		t.Fatalf("insufficient balance must be flagged permanent: %v", res)
	}

	res = s.replayCommand(ctx, user, ReplayCommand{Kind: "promote", IdempotencyKey: "q2"})
	if permanent, _ := res["permanent"].(bool); !permanent {
		t.Fatalf("unknown command kind must be flagged permanent: %v", res)
	}

	res = s.replayCommand(ctx, user, ReplayCommand{
		Kind: "vote", ProposalID: "missing", Ballot: "approve", IdempotencyKey: "q3",
	})
	if permanent, _ := res["permanent"].(bool); !permanent {
		t.Fatalf("vote on a missing proposal must be flagged permanent: %v", res)
	}
}
