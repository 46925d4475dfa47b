package ledger

import (
	"context"

	"github.com/mmeshcher/lendpool/internal/model"
)

// State — хранилище состояния леджера в рамках одной атомарной операции.
// Чтение отсутствующих записей возвращает нулевые значения, а не ошибку.
type State interface {
	Pool(ctx context.Context) (model.Amount, error)
	SetPool(ctx context.Context, amount model.Amount) error

	LenderBalance(ctx context.Context, account string) (model.Amount, error)
	SetLenderBalance(ctx context.Context, account string, amount model.Amount) error
	TotalLenderBalance(ctx context.Context) (model.Amount, error)

	Credit(ctx context.Context, account string) (model.CreditRecord, error)
	PutCredit(ctx context.Context, account string, rec model.CreditRecord) error

	// Loan возвращает nil, если займа нет.
	Loan(ctx context.Context, account string) (*model.Loan, error)
	PutLoan(ctx context.Context, account string, loan model.Loan) error
	DeleteLoan(ctx context.Context, account string) error
	ListLoans(ctx context.Context) ([]AccountLoan, error)

	AppendRepayment(ctx context.Context, account string, rec model.RepaymentRecord) error
	Repayments(ctx context.Context, account string) ([]model.RepaymentRecord, error)

	AppendEvent(ctx context.Context, ev model.Event) error
	// Events возвращает последние события, новые первыми.
	Events(ctx context.Context, limit int) ([]model.Event, error)
}

// AccountLoan связывает займ с аккаунтом заёмщика.
type AccountLoan struct {
	Account string
	Loan    model.Loan
}
