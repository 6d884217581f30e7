// Package vote implements the collective decision engine: proposal
// lifecycle, vote tallying with per-round deduplication, threshold-driven
// transitions, and veto/override semantics. Every transition is evaluated
// inside the vote-casting transaction against thresholds re-read from the
// authoritative settings document, never a cached copy.
package vote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"classbank/internal/cache"
	"classbank/internal/settings"
	"classbank/internal/store"
)

var (
	ErrValidation        = errors.New("invalid input")
	ErrDuplicateVote     = errors.New("actor already voted this round")
	ErrInvalidTransition = errors.New("invalid proposal transition")
	ErrStaleState        = errors.New("conflicting concurrent update, retries exhausted")
	ErrPermission        = errors.New("permission denied")
	ErrProposalNotFound  = errors.New("proposal not found")
)

type Service struct {
	store          store.Store
	cache          *cache.Cache
	log            *slog.Logger
	clock          func() time.Time
	maxAttempts    uint64
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

func NewService(st store.Store, c *cache.Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:          st,
		cache:          c,
		log:            logger,
		clock:          time.Now,
		maxAttempts:    8,
		initialBackoff: 75 * time.Millisecond,
		maxBackoff:     1200 * time.Millisecond,
	}
}

// WithClock overrides the clock for testing.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// Create registers a new proposal in pending state and adds it to the
// proposal index.
func (s *Service) Create(ctx context.Context, in CreateInput) (Proposal, error) {
	if strings.TrimSpace(in.ID) == "" || strings.TrimSpace(in.Title) == "" {
		return Proposal{}, fmt.Errorf("%w: id and title are required", ErrValidation)
	}
	if in.Fine < 0 {
		return Proposal{}, fmt.Errorf("%w: fine cannot be negative", ErrValidation)
	}
	p := Proposal{
		ID:          in.ID,
		Title:       strings.TrimSpace(in.Title),
		Description: strings.TrimSpace(in.Description),
		Fine:        in.Fine,
		ProposerID:  in.ProposerID,
		Round:       1,
		Status:      StatusPending,
		CreatedAt:   s.clock(),
	}
	data, err := json.Marshal(p)
	if err != nil {
		return Proposal{}, err
	}
	_, err = s.store.Commit(ctx, store.Write{Ref: ProposalRef(p.ID), ExpectedVersion: 0, Data: data})
	if errors.Is(err, store.ErrConflict) {
		return Proposal{}, fmt.Errorf("%w: proposal %q already exists", ErrValidation, p.ID)
	}
	if err != nil {
		return Proposal{}, err
	}
	if err := s.indexAdd(ctx, p.ID); err != nil {
		return Proposal{}, err
	}
	return p, nil
}

// Get returns a proposal, served from the read cache when fresh.
func (s *Service) Get(ctx context.Context, id string) (Proposal, error) {
	if s.cache == nil {
		p, _, err := s.read(ctx, id)
		return p, err
	}
	v, err := s.cache.GetOrLoad(ctx, ProposalRef(id), func(ctx context.Context) (any, error) {
		p, _, err := s.read(ctx, id)
		if err != nil {
			return nil, err
		}
		return p, nil
	})
	if err != nil {
		return Proposal{}, err
	}
	return v.(Proposal), nil
}

// List returns every proposal on the index, in index order.
func (s *Service) List(ctx context.Context) ([]Proposal, error) {
	ids, _, err := s.readIndex(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Proposal, 0, len(ids))
	for _, id := range ids {
		p, err := s.Get(ctx, id)
		if errors.Is(err, ErrProposalNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// CastVote records a ballot within one atomic transaction: re-read the
// proposal, dedupe for the current round, recount the tally, evaluate the
// transition rules against freshly-read settings, commit. Admin callers
// skip deduplication; their ballot overwrites their previous one, which is
// the manual-correction path.
func (s *Service) CastVote(ctx context.Context, by Caller, in CastVoteInput) (Proposal, error) {
	if in.Ballot != BallotApprove && in.Ballot != BallotDisapprove {
		return Proposal{}, fmt.Errorf("%w: ballot must be approve or disapprove", ErrValidation)
	}
	if strings.TrimSpace(by.ActorID) == "" {
		return Proposal{}, fmt.Errorf("%w: actor id is required", ErrValidation)
	}

	var out Proposal
	err := s.withRetry(ctx, func() error {
		p, version, err := s.read(ctx, in.ProposalID)
		if err != nil {
			return err
		}
		set, _, err := settings.Load(ctx, s.store)
		if err != nil {
			return err
		}

		switch p.Status {
		case StatusPending:
			// open round
		case StatusVetoed:
			if p.VetoDeadline != nil && s.clock().After(*p.VetoDeadline) {
				return fmt.Errorf("%w: override window closed", ErrInvalidTransition)
			}
		default:
			return fmt.Errorf("%w: cannot vote on %s proposal", ErrInvalidTransition, p.Status)
		}

		if !by.Admin {
			if _, dup := p.Voters[by.ActorID]; dup {
				return ErrDuplicateVote
			}
		}
		if p.Voters == nil {
			p.Voters = make(map[string]Ballot)
		}
		p.Voters[by.ActorID] = in.Ballot
		p.recount()

		switch p.Status {
		case StatusPending:
			if p.Tally.Approvals >= set.ApprovalThreshold {
				p.Status = StatusPendingGovApproval
			} else if p.Tally.Disapprovals >= set.RejectionThreshold() {
				p.Status = StatusRejected
			}
		case StatusVetoed:
			if p.Tally.Approvals >= set.OverrideThreshold() {
				now := s.clock()
				p.Status = StatusVetoOverridden
				p.FinalApprovedAt = &now
			}
		}

		if err := s.commit(ctx, p, version); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return Proposal{}, err
	}
	s.invalidate(ProposalRef(in.ProposalID))
	return out, nil
}

// Approve moves a government-pending proposal to approved.
func (s *Service) Approve(ctx context.Context, by Caller, id string) (Proposal, error) {
	return s.adminTransition(ctx, by, id, func(p *Proposal) error {
		if p.Status != StatusPendingGovApproval {
			return fmt.Errorf("%w: cannot approve %s proposal", ErrInvalidTransition, p.Status)
		}
		now := s.clock()
		p.Status = StatusApproved
		p.FinalApprovedAt = &now
		return nil
	})
}

// Veto moves a government-pending proposal to vetoed, stamps the deadline
// for the override revote, and starts a fresh voting round.
func (s *Service) Veto(ctx context.Context, by Caller, id string) (Proposal, error) {
	return s.adminTransition(ctx, by, id, func(p *Proposal) error {
		if p.Status != StatusPendingGovApproval {
			return fmt.Errorf("%w: cannot veto %s proposal", ErrInvalidTransition, p.Status)
		}
		set, _, err := settings.Load(ctx, s.store)
		if err != nil {
			return err
		}
		now := s.clock()
		deadline := now.Add(set.OverrideWindow)
		p.Status = StatusVetoed
		p.VetoedAt = &now
		p.VetoDeadline = &deadline
		p.startRound()
		return nil
	})
}

// Reopen restarts deliberation on a rejected proposal. Only the original
// proposer (or an admin) may reopen; the vote restarts under the same
// rules as pending.
func (s *Service) Reopen(ctx context.Context, by Caller, id string) (Proposal, error) {
	var out Proposal
	err := s.withRetry(ctx, func() error {
		p, version, err := s.read(ctx, id)
		if err != nil {
			return err
		}
		if p.Status != StatusRejected && p.Status != StatusAutoRejected {
			return fmt.Errorf("%w: cannot reopen %s proposal", ErrInvalidTransition, p.Status)
		}
		if !by.Admin && by.ActorID != p.ProposerID {
			return fmt.Errorf("%w: only the proposer can reopen", ErrPermission)
		}
		p.Status = StatusPending
		p.startRound()
		if err := s.commit(ctx, p, version); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return Proposal{}, err
	}
	s.invalidate(ProposalRef(id))
	return out, nil
}

// ResetVotes clears the tally and voters and returns the proposal to
// pending. Administrator only; used to restart deliberation.
func (s *Service) ResetVotes(ctx context.Context, by Caller, id string) (Proposal, error) {
	return s.adminTransition(ctx, by, id, func(p *Proposal) error {
		p.Status = StatusPending
		p.VetoedAt = nil
		p.VetoDeadline = nil
		p.FinalApprovedAt = nil
		p.startRound()
		return nil
	})
}

// Delete removes a proposal and its votes. Administrator only.
func (s *Service) Delete(ctx context.Context, by Caller, id string) error {
	if !by.Admin {
		return fmt.Errorf("%w: admin capability required", ErrPermission)
	}
	if _, _, err := s.read(ctx, id); err != nil {
		return err
	}
	if err := s.indexRemove(ctx, id); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, ProposalRef(id)); err != nil {
		return err
	}
	s.invalidate(ProposalRef(id))
	return nil
}

// Sweep ages pending proposals past the deliberation window into
// auto_rejected. Conflicted commits are skipped; the next sweep catches
// them. Returns the number of proposals swept.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	set, _, err := settings.Load(ctx, s.store)
	if err != nil {
		return 0, err
	}
	ids, _, err := s.readIndex(ctx)
	if err != nil {
		return 0, err
	}
	swept := 0
	now := s.clock()
	for _, id := range ids {
		p, version, err := s.read(ctx, id)
		if errors.Is(err, ErrProposalNotFound) {
			continue
		}
		if err != nil {
			return swept, err
		}
		if p.Status != StatusPending || now.Sub(p.CreatedAt) <= set.DeliberationWindow {
			continue
		}
		p.Status = StatusAutoRejected
		if err := s.commit(ctx, p, version); err != nil {
			if errors.Is(err, store.ErrConflict) {
				continue
			}
			return swept, err
		}
		s.invalidate(ProposalRef(id))
		swept++
	}
	return swept, nil
}

func (s *Service) adminTransition(ctx context.Context, by Caller, id string, apply func(p *Proposal) error) (Proposal, error) {
	if !by.Admin {
		return Proposal{}, fmt.Errorf("%w: admin capability required", ErrPermission)
	}
	var out Proposal
	err := s.withRetry(ctx, func() error {
		p, version, err := s.read(ctx, id)
		if err != nil {
			return err
		}
		if err := apply(&p); err != nil {
			return err
		}
		if err := s.commit(ctx, p, version); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return Proposal{}, err
	}
	s.invalidate(ProposalRef(id))
	return out, nil
}

func (s *Service) withRetry(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.initialBackoff
	bo.MaxInterval = s.maxBackoff

	err := backoff.Retry(func() error {
		err := op()
		if err == nil || retryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(backoff.WithMaxRetries(bo, s.maxAttempts-1), ctx))

	if errors.Is(err, store.ErrConflict) {
		s.log.Warn("vote retries exhausted", "err", err)
		return ErrStaleState
	}
	return err
}

// retryable reports whether err can be cured by re-running the attempt.
// Domain outcomes and malformed documents are final; everything else is
// treated as a transient store failure. Re-running is safe: each attempt
// re-reads the proposal and settings, and ballots dedupe by actor.
func retryable(err error) bool {
	switch {
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrDuplicateVote),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrPermission),
		errors.Is(err, ErrProposalNotFound),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return false
	}
	return true
}

func (s *Service) read(ctx context.Context, id string) (Proposal, int64, error) {
	doc, err := s.store.Read(ctx, ProposalRef(id))
	if errors.Is(err, store.ErrNotFound) {
		return Proposal{}, 0, ErrProposalNotFound
	}
	if err != nil {
		return Proposal{}, 0, err
	}
	var p Proposal
	if err := json.Unmarshal(doc.Data, &p); err != nil {
		return Proposal{}, 0, fmt.Errorf("decode proposal %s: %w", id, err)
	}
	return p, doc.Version, nil
}

func (s *Service) commit(ctx context.Context, p Proposal, version int64) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = s.store.Commit(ctx, store.Write{Ref: ProposalRef(p.ID), ExpectedVersion: version, Data: data})
	return err
}

func (s *Service) invalidate(key string) {
	if s.cache != nil {
		s.cache.Invalidate(key)
	}
}

type proposalIndex struct {
	IDs []string `json:"ids"`
}

func (s *Service) readIndex(ctx context.Context) ([]string, int64, error) {
	doc, err := s.store.Read(ctx, IndexRef)
	if errors.Is(err, store.ErrNotFound) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	var idx proposalIndex
	if err := json.Unmarshal(doc.Data, &idx); err != nil {
		return nil, 0, fmt.Errorf("decode proposal index: %w", err)
	}
	return idx.IDs, doc.Version, nil
}

func (s *Service) indexAdd(ctx context.Context, id string) error {
	return s.withRetry(ctx, func() error {
		ids, version, err := s.readIndex(ctx)
		if err != nil {
			return err
		}
		for _, existing := range ids {
			if existing == id {
				return nil
			}
		}
		data, err := json.Marshal(proposalIndex{IDs: append(ids, id)})
		if err != nil {
			return err
		}
		_, err = s.store.Commit(ctx, store.Write{Ref: IndexRef, ExpectedVersion: version, Data: data})
		return err
	})
}

func (s *Service) indexRemove(ctx context.Context, id string) error {
	return s.withRetry(ctx, func() error {
		ids, version, err := s.readIndex(ctx)
		if err != nil {
			return err
		}
		next := make([]string, 0, len(ids))
		for _, existing := range ids {
			if existing != id {
				next = append(next, existing)
			}
		}
		if len(next) == len(ids) {
			return nil
		}
		data, err := json.Marshal(proposalIndex{IDs: next})
		if err != nil {
			return err
		}
		_, err = s.store.Commit(ctx, store.Write{Ref: IndexRef, ExpectedVersion: version, Data: data})
		return err
	})
}
