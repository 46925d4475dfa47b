package ledger

import (
	"context"
	"fmt"

	"github.com/mmeshcher/lendpool/internal/model"
)

// Deposit зачисляет amount в пул и на баланс кредитора account.
func (e *Engine) Deposit(ctx context.Context, st State, account string, amount model.Amount) (Receipt, error) {
	var r Receipt
	if amount.IsZero() {
		return r, ErrInvalidAmount
	}

	pool, err := st.Pool(ctx)
	if err != nil {
		return r, fmt.Errorf("read pool: %w", err)
	}
	balance, err := st.LenderBalance(ctx, account)
	if err != nil {
		return r, fmt.Errorf("read lender balance: %w", err)
	}

	newPool, ok := pool.Add(amount)
	if !ok {
		return r, ErrAmountOverflow
	}
	newBalance, ok := balance.Add(amount)
	if !ok {
		return r, ErrAmountOverflow
	}

	if err := st.SetPool(ctx, newPool); err != nil {
		return r, fmt.Errorf("write pool: %w", err)
	}
	if err := st.SetLenderBalance(ctx, account, newBalance); err != nil {
		return r, fmt.Errorf("write lender balance: %w", err)
	}

	if err := e.record(ctx, st, &r, model.EventDeposit, account, amount, ""); err != nil {
		return r, err
	}
	return r, nil
}

// Withdraw списывает amount с баланса кредитора и из пула и планирует перевод кредитору.
func (e *Engine) Withdraw(ctx context.Context, st State, account string, amount model.Amount) (Receipt, error) {
	var r Receipt
	if amount.IsZero() {
		return r, ErrInvalidAmount
	}

	balance, err := st.LenderBalance(ctx, account)
	if err != nil {
		return r, fmt.Errorf("read lender balance: %w", err)
	}
	newBalance, ok := balance.Sub(amount)
	if !ok {
		return r, fmt.Errorf("%w: have %s, want %s", ErrInsufficientBalance, balance, amount)
	}

	pool, err := st.Pool(ctx)
	if err != nil {
		return r, fmt.Errorf("read pool: %w", err)
	}
	newPool, ok := pool.Sub(amount)
	if !ok {
		return r, fmt.Errorf("%w: pool %s, want %s", ErrInsufficientLiquidity, pool, amount)
	}

	if err := st.SetPool(ctx, newPool); err != nil {
		return r, fmt.Errorf("write pool: %w", err)
	}
	if err := st.SetLenderBalance(ctx, account, newBalance); err != nil {
		return r, fmt.Errorf("write lender balance: %w", err)
	}

	e.schedule(&r, account, amount, string(model.EventWithdraw))
	if err := e.record(ctx, st, &r, model.EventWithdraw, account, amount, ""); err != nil {
		return r, err
	}
	return r, nil
}

// PoolBalance возвращает доступную ликвидность пула.
func (e *Engine) PoolBalance(ctx context.Context, st State) (model.Amount, error) {
	return st.Pool(ctx)
}

// LenderBalance возвращает вклад кредитора. Для неизвестного аккаунта возвращает ноль.
func (e *Engine) LenderBalance(ctx context.Context, st State, account string) (model.Amount, error) {
	return st.LenderBalance(ctx, account)
}
