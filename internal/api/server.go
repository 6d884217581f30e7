package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"classbank/internal/auth"
	"classbank/internal/batch"
	"classbank/internal/config"
	"classbank/internal/ledger"
	"classbank/internal/settings"
	"classbank/internal/store"
	"classbank/internal/vote"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

type contextKey string

const userContextKey contextKey = "user"

type UserContext struct {
	UserID string
	Email  string
	Admin  bool
	Token  string
}

type Server struct {
	cfg       config.APIConfig
	log       *slog.Logger
	auth      *auth.Client
	ledger    *ledger.Service
	votes     *vote.Service
	coalescer *batch.Coalescer
	store     store.Store
	mux       *chi.Mux
}

func New(cfg config.APIConfig, logger *slog.Logger, authClient *auth.Client, ledgerSvc *ledger.Service, voteSvc *vote.Service, coalescer *batch.Coalescer, st store.Store) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:       cfg,
		log:       logger,
		auth:      authClient,
		ledger:    ledgerSvc,
		votes:     voteSvc,
		coalescer: coalescer,
		store:     st,
		mux:       chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/auth/signup", s.handleSignup)
		r.Post("/auth/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/dashboard", s.handleDashboard)
			r.Get("/settings", s.handleSettings)

			r.Post("/transfers", s.handleTransfer)

			r.Get("/goals/{id}", s.handleGoalDetail)
			r.Post("/goals/{id}/contributions", s.handleContribute)

			r.Get("/proposals", s.handleProposalList)
			r.Post("/proposals", s.handleProposalCreate)
			r.Get("/proposals/{id}", s.handleProposalDetail)
			r.Post("/proposals/{id}/votes", s.handleCastVote)

			r.Post("/sync/replay", s.handleSyncReplay)

			r.Group(func(r chi.Router) {
				r.Use(s.adminMiddleware)
				r.Get("/actors/{id}", s.handleActorDetail)
				r.Post("/ledger/credit", s.handleCredit)
				r.Post("/ledger/debit", s.handleDebit)
				r.Post("/rewards", s.handleReward)
				r.Post("/goals", s.handleGoalCreate)

				r.Post("/proposals/{id}/approve", s.handleProposalApprove)
				r.Post("/proposals/{id}/veto", s.handleProposalVeto)
				r.Post("/proposals/{id}/reset-votes", s.handleProposalResetVotes)
				r.Delete("/proposals/{id}", s.handleProposalDelete)

				r.Post("/admin/batch", s.handleBatchEnqueue)
				r.Post("/admin/batch/flush", s.handleBatchFlush)
			})

			// Reopen is proposer-or-admin; the service enforces it.
			r.Post("/proposals/{id}/reopen", s.handleProposalReopen)
		})
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		user, err := s.auth.VerifyAccessToken(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, fmt.Sprintf("invalid token: %v", err))
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, UserContext{
			UserID: user.ID,
			Email:  user.Email,
			Admin:  user.Admin(),
			Token:  token,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := userFromContext(r.Context())
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		if !user.Admin {
			writeError(w, http.StatusForbidden, "admin capability required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func userFromContext(ctx context.Context) (UserContext, error) {
	v := ctx.Value(userContextKey)
	user, ok := v.(UserContext)
	if !ok || user.UserID == "" {
		return UserContext{}, errors.New("missing auth context")
	}
	return user, nil
}

func (s *Server) callerFromContext(ctx context.Context) (vote.Caller, error) {
	user, err := userFromContext(ctx)
	if err != nil {
		return vote.Caller{}, err
	}
	return vote.Caller{ActorID: user.UserID, Admin: user.Admin}, nil
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"display_name"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	session, err := s.auth.SignUp(r.Context(), strings.TrimSpace(in.Email), strings.TrimSpace(in.Password))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if session.User.ID != "" {
		if err := s.ledger.EnsureActor(r.Context(), session.User.ID, in.DisplayName); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	session, err := s.auth.Login(r.Context(), strings.TrimSpace(in.Email), strings.TrimSpace(in.Password))
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if err := s.ledger.EnsureActor(r.Context(), session.User.ID, session.User.Email); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	actor, err := s.ledger.Actor(r.Context(), user.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	proposals, err := s.votes.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"actor":     actor,
		"proposals": proposals,
	})
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	set, _, err := settings.Load(r.Context(), s.store)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, set)
}

func (s *Server) handleActorDetail(w http.ResponseWriter, r *http.Request) {
	actor, err := s.ledger.Actor(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, actor)
}

func (s *Server) handleCredit(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ActorID string `json:"actor_id"`
		Account string `json:"account"`
		Amount  int64  `json:"amount"`
		Reason  string `json:"reason"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.ledger.Credit(r.Context(), ledger.CreditInput{
		ActorID:        in.ActorID,
		Account:        ledger.Account(in.Account),
		Amount:         in.Amount,
		Reason:         in.Reason,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDebit(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ActorID string `json:"actor_id"`
		Account string `json:"account"`
		Amount  int64  `json:"amount"`
		Reason  string `json:"reason"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.ledger.Debit(r.Context(), ledger.DebitInput{
		ActorID:        in.ActorID,
		Account:        ledger.Account(in.Account),
		Amount:         in.Amount,
		Reason:         in.Reason,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in struct {
		ToID    string `json:"to_id"`
		Account string `json:"account"`
		Amount  int64  `json:"amount"`
		Reason  string `json:"reason"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.ledger.Transfer(r.Context(), ledger.TransferInput{
		FromID:         user.UserID,
		ToID:           in.ToID,
		Account:        ledger.Account(in.Account),
		Amount:         in.Amount,
		Reason:         in.Reason,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleReward(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ActorID     string `json:"actor_id"`
		CashAmount  int64  `json:"cash_amount"`
		TokenAmount int64  `json:"token_amount"`
		TaskID      string `json:"task_id"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.ledger.GrantReward(r.Context(), ledger.RewardInput{
		ActorID:        in.ActorID,
		CashAmount:     in.CashAmount,
		TokenAmount:    in.TokenAmount,
		TaskID:         in.TaskID,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGoalCreate(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ID           string `json:"id"`
		Title        string `json:"title"`
		TargetAmount int64  `json:"target_amount"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.ledger.CreateGoal(r.Context(), in.ID, in.Title, in.TargetAmount); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": in.ID})
}

func (s *Server) handleGoalDetail(w http.ResponseWriter, r *http.Request) {
	goal, err := s.ledger.Goal(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, goal)
}

func (s *Server) handleContribute(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in struct {
		Amount  int64  `json:"amount"`
		Message string `json:"message"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.ledger.Contribute(r.Context(), ledger.ContributeInput{
		GoalID:         chi.URLParam(r, "id"),
		ActorID:        user.UserID,
		Amount:         in.Amount,
		Message:        in.Message,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleProposalList(w http.ResponseWriter, r *http.Request) {
	out, err := s.votes.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"proposals": out})
}

func (s *Server) handleProposalCreate(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in struct {
		ID          string `json:"id"`
		Title       string `json:"title"`
		Description string `json:"description"`
		Fine        int64  `json:"fine"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	out, err := s.votes.Create(r.Context(), vote.CreateInput{
		ID:          in.ID,
		Title:       in.Title,
		Description: in.Description,
		Fine:        in.Fine,
		ProposerID:  user.UserID,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleProposalDetail(w http.ResponseWriter, r *http.Request) {
	out, err := s.votes.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCastVote(w http.ResponseWriter, r *http.Request) {
	caller, err := s.callerFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in struct {
		Ballot string `json:"ballot"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.votes.CastVote(r.Context(), caller, vote.CastVoteInput{
		ProposalID: chi.URLParam(r, "id"),
		Ballot:     vote.Ballot(in.Ballot),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleProposalApprove(w http.ResponseWriter, r *http.Request) {
	s.handleAdminTransition(w, r, s.votes.Approve)
}

func (s *Server) handleProposalVeto(w http.ResponseWriter, r *http.Request) {
	s.handleAdminTransition(w, r, s.votes.Veto)
}

func (s *Server) handleProposalResetVotes(w http.ResponseWriter, r *http.Request) {
	s.handleAdminTransition(w, r, s.votes.ResetVotes)
}

func (s *Server) handleAdminTransition(w http.ResponseWriter, r *http.Request, op func(context.Context, vote.Caller, string) (vote.Proposal, error)) {
	caller, err := s.callerFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	out, err := op(r.Context(), caller, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleProposalReopen(w http.ResponseWriter, r *http.Request) {
	caller, err := s.callerFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	out, err := s.votes.Reopen(r.Context(), caller, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleProposalDelete(w http.ResponseWriter, r *http.Request) {
	caller, err := s.callerFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if err := s.votes.Delete(r.Context(), caller, chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleBatchEnqueue accepts low-priority field deltas and hands them to
// the write coalescer; they commit on the next size- or timer-triggered
// flush.
func (s *Server) handleBatchEnqueue(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Writes []struct {
			Ref   string           `json:"ref"`
			Delta map[string]int64 `json:"delta"`
		} `json:"writes"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(in.Writes) == 0 {
		writeError(w, http.StatusBadRequest, "writes is empty")
		return
	}
	ids := make([]string, 0, len(in.Writes))
	for _, entry := range in.Writes {
		pw, err := s.coalescer.Enqueue(entry.Ref, entry.Delta)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		ids = append(ids, pw.ID)
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ids": ids, "queued": s.coalescer.Len()})
}

func (s *Server) handleBatchFlush(w http.ResponseWriter, r *http.Request) {
	if err := s.coalescer.Flush(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleSyncReplay applies a queued batch of offline CLI commands in
// order. Each command carries its own idempotency key, so replaying an
// already-applied command returns its recorded result instead of
// mutating twice.
func (s *Server) handleSyncReplay(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in struct {
		Commands []ReplayCommand `json:"commands"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	results := make([]map[string]any, 0, len(in.Commands))
	for _, cmd := range in.Commands {
		results = append(results, s.replayCommand(r.Context(), user, cmd))
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// ReplayCommand is one queued offline mutation from the CLI.
type ReplayCommand struct {
	Kind           string `json:"kind"`
	ToID           string `json:"to_id,omitempty"`
	GoalID         string `json:"goal_id,omitempty"`
	ProposalID     string `json:"proposal_id,omitempty"`
	Account        string `json:"account,omitempty"`
	Amount         int64  `json:"amount,omitempty"`
	Message        string `json:"message,omitempty"`
	Ballot         string `json:"ballot,omitempty"`
	IdempotencyKey string `json:"idempotency_key"`
}

func (s *Server) replayCommand(ctx context.Context, user UserContext, cmd ReplayCommand) map[string]any {
	key := cmd.IdempotencyKey
	if key == "" {
		key = uuid.NewString()
	}
	var (
		result any
		err    error
	)
	switch cmd.Kind {
	case "transfer":
		result, err = s.ledger.Transfer(ctx, ledger.TransferInput{
			FromID:         user.UserID,
			ToID:           cmd.ToID,
			Account:        ledger.Account(cmd.Account),
			Amount:         cmd.Amount,
			IdempotencyKey: key,
		})
	case "contribute":
		result, err = s.ledger.Contribute(ctx, ledger.ContributeInput{
			GoalID:         cmd.GoalID,
			ActorID:        user.UserID,
			Amount:         cmd.Amount,
			Message:        cmd.Message,
			IdempotencyKey: key,
		})
	case "vote":
		result, err = s.votes.CastVote(ctx, vote.Caller{ActorID: user.UserID, Admin: user.Admin}, vote.CastVoteInput{
			ProposalID: cmd.ProposalID,
			Ballot:     vote.Ballot(cmd.Ballot),
		})
		if errors.Is(err, vote.ErrDuplicateVote) {
			// The ballot already landed on an earlier sync whose response
			// was lost. Report success with the current proposal so the
			// client drains the command.
			result, err = s.votes.Get(ctx, cmd.ProposalID)
		}
	default:
		err = fmt.Errorf("%w: unknown command kind %q", ledger.ErrValidation, cmd.Kind)
	}
	if err != nil {
		return map[string]any{
			"kind":      cmd.Kind,
			"ok":        false,
			"permanent": permanentReplayError(err),
			"error":     err.Error(),
		}
	}
	return map[string]any{"kind": cmd.Kind, "ok": true, "result": result}
}

// permanentReplayError reports whether replaying the same command later can
// ever succeed. Permanent failures tell the client to drop the command from
// its offline queue instead of retrying it forever.
func permanentReplayError(err error) bool {
	switch {
	case errors.Is(err, ledger.ErrValidation), errors.Is(err, vote.ErrValidation),
		errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrActorNotFound), errors.Is(err, ledger.ErrGoalNotFound),
		errors.Is(err, ledger.ErrActorDisabled),
		errors.Is(err, vote.ErrProposalNotFound),
		errors.Is(err, vote.ErrInvalidTransition),
		errors.Is(err, vote.ErrPermission):
		return true
	}
	return false
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrValidation), errors.Is(err, vote.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrInsufficientBalance):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, vote.ErrDuplicateVote):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, vote.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrStaleState), errors.Is(err, vote.ErrStaleState):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, vote.ErrPermission):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, ledger.ErrActorDisabled):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, ledger.ErrActorNotFound), errors.Is(err, ledger.ErrGoalNotFound), errors.Is(err, vote.ErrProposalNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

func idempotencyKey(r *http.Request) string {
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key != "" {
		return key
	}
	return uuid.NewString()
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
