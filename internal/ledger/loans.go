package ledger

import (
	"context"
	"fmt"

	"github.com/mmeshcher/lendpool/internal/model"
)

// LoanView содержит займ, его отображаемый статус и текущий штраф, прочитанные за одно обращение.
type LoanView struct {
	Loan           model.Loan   `json:"loan"`
	DisplayStatus  string       `json:"display_status"`
	OverduePenalty model.Amount `json:"overdue_penalty"`
}

// CreateLoan выдаёт займ верифицированному заёмщику: тело списывается из пула
// и сразу планируется к переводу заёмщику. Займ остаётся в статусе Pending до активации.
func (e *Engine) CreateLoan(ctx context.Context, st State, borrower string, amount model.Amount, rateBps uint64) (Receipt, error) {
	var r Receipt
	if amount.IsZero() {
		return r, ErrInvalidAmount
	}

	existing, err := st.Loan(ctx, borrower)
	if err != nil {
		return r, fmt.Errorf("read loan: %w", err)
	}
	if existing != nil {
		return r, fmt.Errorf("%w: %s", ErrLoanAlreadyExists, borrower)
	}

	verified, err := e.IsVerified(ctx, st, borrower)
	if err != nil {
		return r, fmt.Errorf("read credit record: %w", err)
	}
	if !verified {
		return r, fmt.Errorf("%w: %s", ErrNotVerified, borrower)
	}

	if amount.Cmp(e.maxLoan) > 0 {
		return r, fmt.Errorf("%w: max %s", ErrExceedsMaxAmount, e.maxLoan)
	}

	pool, err := st.Pool(ctx)
	if err != nil {
		return r, fmt.Errorf("read pool: %w", err)
	}
	newPool, ok := pool.Sub(amount)
	if !ok {
		return r, fmt.Errorf("%w: pool %s, want %s", ErrInsufficientLiquidity, pool, amount)
	}

	now := e.nowMillis()
	loan := model.Loan{
		Principal:       amount,
		InterestRateBps: rateBps,
		StartTimestamp:  now,
		DueTimestamp:    now + loanTermMs,
		Status:          model.LoanStatusPending,
	}

	if err := st.SetPool(ctx, newPool); err != nil {
		return r, fmt.Errorf("write pool: %w", err)
	}
	if err := st.PutLoan(ctx, borrower, loan); err != nil {
		return r, fmt.Errorf("write loan: %w", err)
	}

	e.schedule(&r, borrower, amount, "loan_disbursement")
	if err := e.record(ctx, st, &r, model.EventLoanCreated, borrower, amount, fmt.Sprintf("rate_bps=%d", rateBps)); err != nil {
		return r, err
	}
	return r, nil
}

// SetLoanStatus активирует займ: Pending -> Borrowed. Денежных движений не происходит.
// Только для администратора.
func (e *Engine) SetLoanStatus(ctx context.Context, st State, caller, borrower string, status model.LoanStatus) (Receipt, error) {
	var r Receipt
	if err := e.requireOwner(caller); err != nil {
		return r, err
	}

	loan, err := st.Loan(ctx, borrower)
	if err != nil {
		return r, fmt.Errorf("read loan: %w", err)
	}
	if loan == nil {
		return r, fmt.Errorf("%w: %s", ErrNoActiveLoan, borrower)
	}
	if loan.Status != model.LoanStatusPending {
		return r, fmt.Errorf("%w: from %s", ErrInvalidTransition, loan.Status)
	}

	if status != model.LoanStatusBorrowed {
		return r, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, loan.Status, status)
	}

	loan.Status = status
	if err := st.PutLoan(ctx, borrower, *loan); err != nil {
		return r, fmt.Errorf("write loan: %w", err)
	}
	if err := e.record(ctx, st, &r, model.EventLoanStatus, borrower, loan.Principal, string(status)); err != nil {
		return r, err
	}
	return r, nil
}

// Repay принимает платёж по займу. При просрочке сначала покрывается штраф
// (0.5% исходного тела за каждый полный день), остаток уменьшает тело займа.
// Весь платёж, включая штраф, зачисляется в пул один раз.
func (e *Engine) Repay(ctx context.Context, st State, borrower string, amount model.Amount) (Receipt, error) {
	var r Receipt
	if amount.IsZero() {
		return r, ErrInvalidAmount
	}

	loan, err := st.Loan(ctx, borrower)
	if err != nil {
		return r, fmt.Errorf("read loan: %w", err)
	}
	if loan == nil {
		return r, fmt.Errorf("%w: %s", ErrNoActiveLoan, borrower)
	}

	now := e.nowMillis()
	penalty, ok := overduePenalty(loan.Principal, overdueDays(now, loan.DueTimestamp))
	if !ok {
		return r, ErrAmountOverflow
	}
	net, ok := amount.Sub(penalty)
	if !ok {
		return r, fmt.Errorf("%w: penalty %s, paid %s", ErrAmountBelowPenalty, penalty, amount)
	}
	remaining := loan.Principal.SaturatingSub(net)

	pool, err := st.Pool(ctx)
	if err != nil {
		return r, fmt.Errorf("read pool: %w", err)
	}
	newPool, ok := pool.Add(amount)
	if !ok {
		return r, ErrAmountOverflow
	}

	if remaining.IsZero() {
		if err := st.DeleteLoan(ctx, borrower); err != nil {
			return r, fmt.Errorf("delete loan: %w", err)
		}
	} else {
		loan.Principal = remaining
		if err := st.PutLoan(ctx, borrower, *loan); err != nil {
			return r, fmt.Errorf("write loan: %w", err)
		}
	}

	if err := st.AppendRepayment(ctx, borrower, model.RepaymentRecord{Timestamp: now, Amount: amount}); err != nil {
		return r, fmt.Errorf("append repayment: %w", err)
	}
	if err := st.SetPool(ctx, newPool); err != nil {
		return r, fmt.Errorf("write pool: %w", err)
	}

	detail := fmt.Sprintf("penalty=%s remaining=%s", penalty, remaining)
	if err := e.record(ctx, st, &r, model.EventRepayment, borrower, amount, detail); err != nil {
		return r, err
	}
	return r, nil
}

// EstimateRepayment возвращает тело займа плюс проценты, начисленные по простой ставке с момента выдачи.
// Носит справочный характер: Repay проценты не взимает. ok == false, если займа нет.
func (e *Engine) EstimateRepayment(ctx context.Context, st State, borrower string) (model.Amount, bool, error) {
	loan, err := st.Loan(ctx, borrower)
	if err != nil {
		return model.Zero(), false, err
	}
	if loan == nil {
		return model.Zero(), false, nil
	}

	interest, ok := accruedInterest(loan.Principal, loan.InterestRateBps, e.nowMillis()-loan.StartTimestamp)
	if !ok {
		return model.Zero(), false, ErrAmountOverflow
	}
	total, ok := loan.Principal.Add(interest)
	if !ok {
		return model.Zero(), false, ErrAmountOverflow
	}
	return total, true, nil
}

// OverduePenalty возвращает штраф, который Repay удержал бы сейчас.
func (e *Engine) OverduePenalty(ctx context.Context, st State, borrower string) (model.Amount, error) {
	loan, err := st.Loan(ctx, borrower)
	if err != nil || loan == nil {
		return model.Zero(), err
	}
	penalty, ok := overduePenalty(loan.Principal, overdueDays(e.nowMillis(), loan.DueTimestamp))
	if !ok {
		return model.Zero(), ErrAmountOverflow
	}
	return penalty, nil
}

// ViewLoan возвращает займ, отображаемый статус и штраф. nil, если займа нет.
func (e *Engine) ViewLoan(ctx context.Context, st State, borrower string) (*LoanView, error) {
	loan, err := st.Loan(ctx, borrower)
	if err != nil || loan == nil {
		return nil, err
	}
	now := e.nowMillis()
	penalty, ok := overduePenalty(loan.Principal, overdueDays(now, loan.DueTimestamp))
	if !ok {
		return nil, ErrAmountOverflow
	}
	return &LoanView{
		Loan:           *loan,
		DisplayStatus:  displayStatus(*loan, now),
		OverduePenalty: penalty,
	}, nil
}

// LoanStatus возвращает отображаемый статус займа: NoLoan, Pending, Borrowed или Overdue.
func (e *Engine) LoanStatus(ctx context.Context, st State, borrower string) (string, error) {
	loan, err := st.Loan(ctx, borrower)
	if err != nil {
		return "", err
	}
	if loan == nil {
		return string(model.LoanStatusNoLoan), nil
	}
	return displayStatus(*loan, e.nowMillis()), nil
}

func displayStatus(loan model.Loan, now int64) string {
	if now > loan.DueTimestamp {
		return model.DisplayStatusOverdue
	}
	return string(loan.Status)
}

// OverdueLoans перечисляет займы с истёкшим сроком.
func (e *Engine) OverdueLoans(ctx context.Context, st State) ([]AccountLoan, error) {
	loans, err := st.ListLoans(ctx)
	if err != nil {
		return nil, err
	}
	now := e.nowMillis()
	var res []AccountLoan
	for _, l := range loans {
		if now > l.Loan.DueTimestamp {
			res = append(res, l)
		}
	}
	return res, nil
}

// RepaymentHistory возвращает погашения аккаунта в порядке поступления.
func (e *Engine) RepaymentHistory(ctx context.Context, st State, account string) ([]model.RepaymentRecord, error) {
	return st.Repayments(ctx, account)
}
