// Package ledger implements the balance ledger: idempotent atomic credit,
// debit, transfer, goal contribution, and reward grants over actor
// documents in the authoritative store.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"classbank/internal/cache"
	"classbank/internal/store"
)

// Service runs every mutation as a read-check-write transaction: read the
// current documents, validate against them, commit new values predicated on
// the versions that were read. A losing concurrent writer sees a version
// conflict and retries with backoff; the idempotency record is committed in
// the same group as the balance write, so replays are exactly-once.
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

// WithMaxAttempts bounds the conflict-retry budget.
func (s *Service) WithMaxAttempts(n int) *Service {
	if n > 0 {
		s.maxAttempts = uint64(n)
	}
	return s
}

// idemRecord is the recorded outcome of a committed operation. Replaying
// the same key returns Result without touching any balance.
type idemRecord struct {
	Kind      string          `json:"kind"`
	Result    json.RawMessage `json:"result"`
	AppliedAt time.Time       `json:"applied_at"`
}

// EnsureActor creates the actor document on first login. Safe to call on
// every login; an existing actor is left untouched. The roster add runs on
// every call so a crash between the two commits heals on the next login.
func (s *Service) EnsureActor(ctx context.Context, id, displayName string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	actor := Actor{
		ID:          id,
		DisplayName: displayName,
		CreatedAt:   s.clock(),
	}
	data, err := json.Marshal(actor)
	if err != nil {
		return err
	}
	_, err = s.store.Commit(ctx, store.Write{Ref: ActorRef(id), ExpectedVersion: 0, Data: data})
	if err != nil && !errors.Is(err, store.ErrConflict) {
		return err
	}
	return s.rosterAdd(ctx, id)
}

// ActorIDs returns every actor id on the roster, in registration order.
func (s *Service) ActorIDs(ctx context.Context) ([]string, error) {
	ids, _, err := s.readRoster(ctx)
	return ids, err
}

// Actor returns the actor document, served from the read cache when fresh.
func (s *Service) Actor(ctx context.Context, id string) (Actor, error) {
	v, err := s.cached(ctx, ActorRef(id), func(ctx context.Context) (any, error) {
		actor, _, err := s.readActor(ctx, id)
		if err != nil {
			return nil, err
		}
		return actor, nil
	})
	if err != nil {
		return Actor{}, err
	}
	return v.(Actor), nil
}

// CreateGoal creates a collective goal document.
func (s *Service) CreateGoal(ctx context.Context, id, title string, targetAmount int64) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	if err := validateAmount(targetAmount); err != nil {
		return err
	}
	goal := Goal{ID: id, Title: title, TargetAmount: targetAmount, CreatedAt: s.clock()}
	data, err := json.Marshal(goal)
	if err != nil {
		return err
	}
	_, err = s.store.Commit(ctx, store.Write{Ref: GoalRef(id), ExpectedVersion: 0, Data: data})
	if errors.Is(err, store.ErrConflict) {
		return fmt.Errorf("%w: goal %q already exists", ErrValidation, id)
	}
	return err
}

// Goal returns the goal document, served from the read cache when fresh.
func (s *Service) Goal(ctx context.Context, id string) (Goal, error) {
	v, err := s.cached(ctx, GoalRef(id), func(ctx context.Context) (any, error) {
		goal, _, err := s.readGoal(ctx, id)
		if err != nil {
			return nil, err
		}
		return goal, nil
	})
	if err != nil {
		return Goal{}, err
	}
	return v.(Goal), nil
}

// Credit increments a balance. Replaying the same idempotency key returns
// the recorded result without mutating state again.
func (s *Service) Credit(ctx context.Context, in CreditInput) (BalanceResult, error) {
	var out BalanceResult
	acct, err := normalizeAccount(in.Account)
	if err != nil {
		return out, err
	}
	if err := validateAmount(in.Amount); err != nil {
		return out, err
	}
	if err := validateKey(in.IdempotencyKey); err != nil {
		return out, err
	}

	idemRef := IdemRef(in.ActorID, in.IdempotencyKey)
	err = s.withRetry(ctx, func() error {
		if done, err := s.replay(ctx, idemRef, "credit", &out); done || err != nil {
			return err
		}
		actor, version, err := s.readActor(ctx, in.ActorID)
		if err != nil {
			return err
		}
		actor.setBalance(acct, actor.balance(acct)+in.Amount)
		out = BalanceResult{ActorID: in.ActorID, Account: acct, NewBalance: actor.balance(acct)}
		return s.commitWithIdem(ctx, idemRef, "credit", out,
			docWrite(ActorRef(in.ActorID), version, actor))
	})
	if err != nil {
		return BalanceResult{}, err
	}
	s.invalidate(ActorRef(in.ActorID))
	return out, nil
}

// Debit decrements a balance. The non-negativity check runs against the
// balance read in the same transaction that commits the write, never a
// stale copy.
func (s *Service) Debit(ctx context.Context, in DebitInput) (BalanceResult, error) {
	var out BalanceResult
	acct, err := normalizeAccount(in.Account)
	if err != nil {
		return out, err
	}
	if err := validateAmount(in.Amount); err != nil {
		return out, err
	}
	if err := validateKey(in.IdempotencyKey); err != nil {
		return out, err
	}

	idemRef := IdemRef(in.ActorID, in.IdempotencyKey)
	err = s.withRetry(ctx, func() error {
		if done, err := s.replay(ctx, idemRef, "debit", &out); done || err != nil {
			return err
		}
		actor, version, err := s.readActor(ctx, in.ActorID)
		if err != nil {
			return err
		}
		if actor.balance(acct) < in.Amount {
			return ErrInsufficientBalance
		}
		actor.setBalance(acct, actor.balance(acct)-in.Amount)
		out = BalanceResult{ActorID: in.ActorID, Account: acct, NewBalance: actor.balance(acct)}
		return s.commitWithIdem(ctx, idemRef, "debit", out,
			docWrite(ActorRef(in.ActorID), version, actor))
	})
	if err != nil {
		return BalanceResult{}, err
	}
	s.invalidate(ActorRef(in.ActorID))
	return out, nil
}

// Transfer debits one actor and credits another inside one grouped commit.
// Either both documents commit or neither does, so funds can never rest in
// a debited-but-not-credited state.
func (s *Service) Transfer(ctx context.Context, in TransferInput) (TransferResult, error) {
	var out TransferResult
	acct, err := normalizeAccount(in.Account)
	if err != nil {
		return out, err
	}
	if err := validateAmount(in.Amount); err != nil {
		return out, err
	}
	if err := validateKey(in.IdempotencyKey); err != nil {
		return out, err
	}
	if in.FromID == in.ToID {
		return out, fmt.Errorf("%w: cannot transfer to self", ErrValidation)
	}

	idemRef := IdemRef(in.FromID, in.IdempotencyKey)
	err = s.withRetry(ctx, func() error {
		if done, err := s.replay(ctx, idemRef, "transfer", &out); done || err != nil {
			return err
		}
		from, fromVersion, err := s.readActor(ctx, in.FromID)
		if err != nil {
			return err
		}
		to, toVersion, err := s.readActor(ctx, in.ToID)
		if err != nil {
			return err
		}
		if from.balance(acct) < in.Amount {
			return ErrInsufficientBalance
		}
		from.setBalance(acct, from.balance(acct)-in.Amount)
		to.setBalance(acct, to.balance(acct)+in.Amount)
		out = TransferResult{
			FromID:         in.FromID,
			ToID:           in.ToID,
			NewFromBalance: from.balance(acct),
			NewToBalance:   to.balance(acct),
		}
		return s.commitWithIdem(ctx, idemRef, "transfer", out,
			docWrite(ActorRef(in.FromID), fromVersion, from),
			docWrite(ActorRef(in.ToID), toVersion, to))
	})
	if err != nil {
		return TransferResult{}, err
	}
	s.invalidate(ActorRef(in.FromID))
	s.invalidate(ActorRef(in.ToID))
	return out, nil
}

// Contribute debits the actor's cash and appends to the goal's contribution
// list in one grouped commit, keeping progress equal to the contribution sum.
func (s *Service) Contribute(ctx context.Context, in ContributeInput) (ContributeResult, error) {
	var out ContributeResult
	if err := validateAmount(in.Amount); err != nil {
		return out, err
	}
	if err := validateKey(in.IdempotencyKey); err != nil {
		return out, err
	}

	idemRef := IdemRef(in.ActorID, in.IdempotencyKey)
	err := s.withRetry(ctx, func() error {
		if done, err := s.replay(ctx, idemRef, "contribute", &out); done || err != nil {
			return err
		}
		actor, actorVersion, err := s.readActor(ctx, in.ActorID)
		if err != nil {
			return err
		}
		goal, goalVersion, err := s.readGoal(ctx, in.GoalID)
		if err != nil {
			return err
		}
		if actor.CashBalance < in.Amount {
			return ErrInsufficientBalance
		}
		actor.CashBalance -= in.Amount
		goal.Progress += in.Amount
		goal.Contributions = append(goal.Contributions, Contribution{
			ActorID: in.ActorID,
			Amount:  in.Amount,
			Message: in.Message,
			At:      s.clock(),
		})
		out = ContributeResult{GoalID: in.GoalID, Progress: goal.Progress, NewBalance: actor.CashBalance}
		return s.commitWithIdem(ctx, idemRef, "contribute", out,
			docWrite(ActorRef(in.ActorID), actorVersion, actor),
			docWrite(GoalRef(in.GoalID), goalVersion, goal))
	})
	if err != nil {
		return ContributeResult{}, err
	}
	s.invalidate(ActorRef(in.ActorID))
	s.invalidate(GoalRef(in.GoalID))
	return out, nil
}

// GrantReward credits the cash and token amounts supplied by the reward
// generator and bumps the actor's completion count for the task.
func (s *Service) GrantReward(ctx context.Context, in RewardInput) (RewardResult, error) {
	var out RewardResult
	if in.CashAmount < 0 || in.TokenAmount < 0 || in.CashAmount+in.TokenAmount == 0 {
		return out, fmt.Errorf("%w: reward amounts must be non-negative and not both zero", ErrValidation)
	}
	if err := validateKey(in.IdempotencyKey); err != nil {
		return out, err
	}

	idemRef := IdemRef(in.ActorID, in.IdempotencyKey)
	err := s.withRetry(ctx, func() error {
		if done, err := s.replay(ctx, idemRef, "reward", &out); done || err != nil {
			return err
		}
		actor, version, err := s.readActor(ctx, in.ActorID)
		if err != nil {
			return err
		}
		actor.CashBalance += in.CashAmount
		actor.TokenBalance += in.TokenAmount
		taskCount := 0
		if in.TaskID != "" {
			if actor.TaskCompletions == nil {
				actor.TaskCompletions = make(map[string]int)
			}
			actor.TaskCompletions[in.TaskID]++
			taskCount = actor.TaskCompletions[in.TaskID]
		}
		out = RewardResult{
			ActorID:      in.ActorID,
			CashBalance:  actor.CashBalance,
			TokenBalance: actor.TokenBalance,
			TaskCount:    taskCount,
		}
		return s.commitWithIdem(ctx, idemRef, "reward", out,
			docWrite(ActorRef(in.ActorID), version, actor))
	})
	if err != nil {
		return RewardResult{}, err
	}
	s.invalidate(ActorRef(in.ActorID))
	return out, nil
}

// withRetry runs op until it commits, hits a domain outcome, or exhausts
// the attempt budget. Version conflicts and transient store failures both
// retry; re-running op is safe because every attempt re-reads its inputs
// and the idempotency record guards the commit.
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
		s.log.Warn("ledger retries exhausted", "err", err)
		return ErrStaleState
	}
	return err
}

// retryable reports whether err can be cured by re-running the attempt.
// Domain outcomes and malformed documents are final; everything else is
// treated as a transient store failure.
func retryable(err error) bool {
	switch {
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrActorNotFound),
		errors.Is(err, ErrGoalNotFound),
		errors.Is(err, ErrActorDisabled),
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

// replay returns true with out populated when the idempotency key was
// already applied. A key reused for a different operation kind is rejected.
func (s *Service) replay(ctx context.Context, idemRef, kind string, out any) (bool, error) {
	doc, err := s.store.Read(ctx, idemRef)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	var rec idemRecord
	if err := json.Unmarshal(doc.Data, &rec); err != nil {
		return false, fmt.Errorf("decode idempotency record: %w", err)
	}
	if rec.Kind != kind {
		return false, fmt.Errorf("%w: idempotency key already used for %s", ErrValidation, rec.Kind)
	}
	if err := json.Unmarshal(rec.Result, out); err != nil {
		return false, err
	}
	return true, nil
}

// commitWithIdem commits the document writes plus the idempotency record as
// one atomic group. The record is created at version 0, so a concurrent
// duplicate of the same key conflicts and replays on its next attempt.
func (s *Service) commitWithIdem(ctx context.Context, idemRef, kind string, result any, writes ...store.Write) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	rec, err := json.Marshal(idemRecord{Kind: kind, Result: raw, AppliedAt: s.clock()})
	if err != nil {
		return err
	}
	writes = append(writes, store.Write{Ref: idemRef, ExpectedVersion: 0, Data: rec})
	return s.store.CommitAll(ctx, writes)
}

func (s *Service) readActor(ctx context.Context, id string) (Actor, int64, error) {
	doc, err := s.store.Read(ctx, ActorRef(id))
	if errors.Is(err, store.ErrNotFound) {
		return Actor{}, 0, ErrActorNotFound
	}
	if err != nil {
		return Actor{}, 0, err
	}
	var actor Actor
	if err := json.Unmarshal(doc.Data, &actor); err != nil {
		return Actor{}, 0, fmt.Errorf("decode actor %s: %w", id, err)
	}
	if actor.Disabled {
		return Actor{}, 0, ErrActorDisabled
	}
	return actor, doc.Version, nil
}

func (s *Service) readGoal(ctx context.Context, id string) (Goal, int64, error) {
	doc, err := s.store.Read(ctx, GoalRef(id))
	if errors.Is(err, store.ErrNotFound) {
		return Goal{}, 0, ErrGoalNotFound
	}
	if err != nil {
		return Goal{}, 0, err
	}
	var goal Goal
	if err := json.Unmarshal(doc.Data, &goal); err != nil {
		return Goal{}, 0, fmt.Errorf("decode goal %s: %w", id, err)
	}
	return goal, doc.Version, nil
}

func (s *Service) cached(ctx context.Context, key string, load func(ctx context.Context) (any, error)) (any, error) {
	if s.cache == nil {
		return load(ctx)
	}
	return s.cache.GetOrLoad(ctx, key, load)
}

func (s *Service) invalidate(key string) {
	if s.cache != nil {
		s.cache.Invalidate(key)
	}
}

// RosterRef is the ref of the roster document listing every actor id. It
// lives outside the actor/ prefix so it can never collide with an actor id.
const RosterRef = "roster/class"

type roster struct {
	IDs []string `json:"ids"`
}

func (s *Service) readRoster(ctx context.Context) ([]string, int64, error) {
	doc, err := s.store.Read(ctx, RosterRef)
	if errors.Is(err, store.ErrNotFound) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	var r roster
	if err := json.Unmarshal(doc.Data, &r); err != nil {
		return nil, 0, fmt.Errorf("decode roster: %w", err)
	}
	return r.IDs, doc.Version, nil
}

func (s *Service) rosterAdd(ctx context.Context, id string) error {
	return s.withRetry(ctx, func() error {
		ids, version, err := s.readRoster(ctx)
		if err != nil {
			return err
		}
		for _, existing := range ids {
			if existing == id {
				return nil
			}
		}
		data, err := json.Marshal(roster{IDs: append(ids, id)})
		if err != nil {
			return err
		}
		_, err = s.store.Commit(ctx, store.Write{Ref: RosterRef, ExpectedVersion: version, Data: data})
		return err
	})
}

func docWrite(ref string, version int64, v any) store.Write {
	data, err := json.Marshal(v)
	if err != nil {
		// Domain types marshal cleanly; a failure here is programmer error.
		panic(err)
	}
	return store.Write{Ref: ref, ExpectedVersion: version, Data: data}
}
