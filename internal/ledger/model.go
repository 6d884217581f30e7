package ledger

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	ErrValidation          = errors.New("invalid input")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrStaleState          = errors.New("conflicting concurrent update, retries exhausted")
	ErrActorNotFound       = errors.New("actor not found")
	ErrGoalNotFound        = errors.New("goal not found")
	ErrActorDisabled       = errors.New("actor is disabled")
)

var idRE = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

func ValidateID(id string) error {
	if !idRE.MatchString(strings.TrimSpace(id)) {
		return fmt.Errorf("%w: id must be 1-64 chars of [a-zA-Z0-9_-]", ErrValidation)
	}
	return nil
}

func validateAmount(amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: amount must be > 0", ErrValidation)
	}
	return nil
}

func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: idempotency key is required", ErrValidation)
	}
	return nil
}

func normalizeAccount(acct Account) (Account, error) {
	switch Account(strings.ToLower(strings.TrimSpace(string(acct)))) {
	case "", AccountCash:
		return AccountCash, nil
	case AccountTokens:
		return AccountTokens, nil
	default:
		return "", fmt.Errorf("%w: account must be cash or tokens", ErrValidation)
	}
}
