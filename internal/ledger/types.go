package ledger

import "time"

// Account selects which balance an operation moves.
type Account string

const (
	AccountCash   Account = "cash"
	AccountTokens Account = "tokens"
)

// Actor is a participant with mutable balances. Created on first login,
// never hard-deleted; Disabled soft-retires an actor.
type Actor struct {
	ID              string         `json:"id"`
	DisplayName     string         `json:"display_name"`
	CashBalance     int64          `json:"cash_balance"`
	TokenBalance    int64          `json:"token_balance"`
	TaskCompletions map[string]int `json:"task_completions,omitempty"`
	Disabled        bool           `json:"disabled,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

func (a Actor) balance(acct Account) int64 {
	if acct == AccountTokens {
		return a.TokenBalance
	}
	return a.CashBalance
}

func (a *Actor) setBalance(acct Account, v int64) {
	if acct == AccountTokens {
		a.TokenBalance = v
		return
	}
	a.CashBalance = v
}

// Goal is a collective fundraising target. Progress is always the exact sum
// of Contributions.
type Goal struct {
	ID            string         `json:"id"`
	Title         string         `json:"title"`
	TargetAmount  int64          `json:"target_amount"`
	Progress      int64          `json:"progress"`
	Contributions []Contribution `json:"contributions,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

type Contribution struct {
	ActorID string    `json:"actor_id"`
	Amount  int64     `json:"amount"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

type CreditInput struct {
	ActorID        string
	Account        Account
	Amount         int64
	IdempotencyKey string
	Reason         string
}

type DebitInput struct {
	ActorID        string
	Account        Account
	Amount         int64
	IdempotencyKey string
	Reason         string
}

type TransferInput struct {
	FromID         string
	ToID           string
	Account        Account
	Amount         int64
	IdempotencyKey string
	Reason         string
}

type ContributeInput struct {
	GoalID         string
	ActorID        string
	Amount         int64
	Message        string
	IdempotencyKey string
}

type RewardInput struct {
	ActorID        string
	CashAmount     int64
	TokenAmount    int64
	TaskID         string
	IdempotencyKey string
}

type BalanceResult struct {
	ActorID    string  `json:"actor_id"`
	Account    Account `json:"account"`
	NewBalance int64   `json:"new_balance"`
}

type TransferResult struct {
	FromID         string `json:"from_id"`
	ToID           string `json:"to_id"`
	NewFromBalance int64  `json:"new_from_balance"`
	NewToBalance   int64  `json:"new_to_balance"`
}

type ContributeResult struct {
	GoalID     string `json:"goal_id"`
	Progress   int64  `json:"progress"`
	NewBalance int64  `json:"new_balance"`
}

type RewardResult struct {
	ActorID      string `json:"actor_id"`
	CashBalance  int64  `json:"cash_balance"`
	TokenBalance int64  `json:"token_balance"`
	TaskCount    int    `json:"task_count"`
}

// ActorRef returns the authoritative-store ref for an actor document.
func ActorRef(id string) string { return "actor/" + id }

// GoalRef returns the authoritative-store ref for a goal document.
func GoalRef(id string) string { return "goal/" + id }

// IdemRef returns the ref of the idempotency record claimed alongside an
// operation's writes.
func IdemRef(actorID, key string) string { return "idem/" + actorID + "/" + key }
