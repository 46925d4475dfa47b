package ledger

import "errors"

// Нарушения правил леджера. Операция, вернувшая одну из этих ошибок, не меняет состояние.
var (
	ErrInvalidAmount         = errors.New("ledger: amount must be positive")
	ErrNotVerified           = errors.New("ledger: borrower is not verified")
	ErrLoanAlreadyExists     = errors.New("ledger: loan already exists")
	ErrExceedsMaxAmount      = errors.New("ledger: amount exceeds max loan amount")
	ErrInsufficientLiquidity = errors.New("ledger: insufficient pool liquidity")
	ErrInsufficientBalance   = errors.New("ledger: insufficient lender balance")
	ErrNoActiveLoan          = errors.New("ledger: no active loan")
	ErrInvalidTransition     = errors.New("ledger: invalid loan status transition")
	ErrAmountBelowPenalty    = errors.New("ledger: amount does not cover overdue penalty")
	ErrNoRewardsAvailable    = errors.New("ledger: no rewards available")
	ErrUnauthorized          = errors.New("ledger: caller is not the administrator")
	ErrAmountOverflow        = errors.New("ledger: amount overflow")
)

// IsRuleViolation сообщает, является ли err нарушением правил леджера, а не сбоем инфраструктуры.
func IsRuleViolation(err error) bool {
	for _, target := range []error{
		ErrInvalidAmount,
		ErrNotVerified,
		ErrLoanAlreadyExists,
		ErrExceedsMaxAmount,
		ErrInsufficientLiquidity,
		ErrInsufficientBalance,
		ErrNoActiveLoan,
		ErrInvalidTransition,
		ErrAmountBelowPenalty,
		ErrNoRewardsAvailable,
		ErrUnauthorized,
		ErrAmountOverflow,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
