// Package errors provides common, reusable error values and helpers.
package errors

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// Ledger / transaction preconditions
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNegativeAmount    = errors.New("amount must be positive")
	ErrBankNotFound      = errors.New("bank not found")
	ErrBankDefaulted     = errors.New("bank has defaulted")
	ErrMarketNotFound    = errors.New("market not found")
	ErrLoanNotFound      = errors.New("loan not found")
	ErrSelfLending       = errors.New("bank cannot lend to itself")

	// Session lifecycle
	ErrAlreadyInitialized  = errors.New("session already initialized")
	ErrNotInitialized      = errors.New("session not initialized")
	ErrInvalidSessionState = errors.New("command not valid in current session state")
	ErrCommandNotAllowed   = errors.New("mutation commands are only accepted while paused")
	ErrSessionNotFound     = errors.New("session not found")
	ErrSessionStopped      = errors.New("session is stopped")

	// External collaborators
	ErrAdvisorUnavailable = errors.New("advisor unavailable")
)

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
