// Package model содержит доменные сущности сервиса кредитного пула.
package model

import (
	"fmt"
	"time"
)

// LoanStatus описывает состояние займа.
type LoanStatus string

const (
	LoanStatusPending  LoanStatus = "Pending"
	LoanStatusBorrowed LoanStatus = "Borrowed"
	LoanStatusNoLoan   LoanStatus = "NoLoan"
)

// DisplayStatusOverdue показывается для займа с истёкшим сроком. В хранилище не записывается.
const DisplayStatusOverdue = "Overdue"

// ParseLoanStatus разбирает статус займа из строки.
func ParseLoanStatus(s string) (LoanStatus, error) {
	switch LoanStatus(s) {
	case LoanStatusPending, LoanStatusBorrowed, LoanStatusNoLoan:
		return LoanStatus(s), nil
	}
	return "", fmt.Errorf("unknown loan status %q", s)
}

// Loan описывает займ заёмщика. У аккаунта не больше одной записи.
type Loan struct {
	Principal       Amount     `json:"principal"`
	InterestRateBps uint64     `json:"interest_rate_bps"`
	StartTimestamp  int64      `json:"start_timestamp"`
	DueTimestamp    int64      `json:"due_timestamp"`
	Status          LoanStatus `json:"status"`
}

// RepaymentRecord описывает одно погашение. Записи не изменяются.
type RepaymentRecord struct {
	Timestamp int64  `json:"timestamp"`
	Amount    Amount `json:"amount"`
}

// CreditRecord хранит признак верификации и порог кредитного рейтинга аккаунта.
type CreditRecord struct {
	Verified       bool    `json:"verified"`
	ScoreThreshold *uint64 `json:"score_threshold,omitempty"`
}

// EventKind задаёт тип события аудита.
type EventKind string

const (
	EventDeposit        EventKind = "deposit"
	EventWithdraw       EventKind = "withdraw"
	EventLoanCreated    EventKind = "loan_created"
	EventLoanStatus     EventKind = "loan_status"
	EventRepayment      EventKind = "repayment"
	EventRewardClaimed  EventKind = "reward_claimed"
	EventUserVerified   EventKind = "user_verified"
	EventCreditScoreSet EventKind = "credit_score_set"
)

// Event описывает запись журнала аудита. Pool содержит остаток пула после операции.
type Event struct {
	ID        string    `json:"id"`
	Kind      EventKind `json:"kind"`
	Account   string    `json:"account"`
	Amount    Amount    `json:"amount"`
	Pool      Amount    `json:"pool"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Transfer описывает внешний перевод средств, выполняемый после успешного изменения состояния.
// ID служит ключом идемпотентности для внешней системы выплат.
type Transfer struct {
	ID     string `json:"id"`
	To     string `json:"to"`
	Amount Amount `json:"amount"`
	Reason string `json:"reason"`
}
