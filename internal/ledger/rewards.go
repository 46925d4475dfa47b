package ledger

import (
	"context"
	"fmt"

	"github.com/mmeshcher/lendpool/internal/model"
)

// StakingRewards возвращает долю пула, пропорциональную вкладу кредитора: round(pool * stake / total).
// Доли округляются независимо, поэтому их сумма может отличаться от пула на единицы.
func (e *Engine) StakingRewards(ctx context.Context, st State, account string) (model.Amount, error) {
	pool, err := st.Pool(ctx)
	if err != nil {
		return model.Zero(), fmt.Errorf("read pool: %w", err)
	}
	stake, err := st.LenderBalance(ctx, account)
	if err != nil {
		return model.Zero(), fmt.Errorf("read lender balance: %w", err)
	}
	if pool.IsZero() || stake.IsZero() {
		return model.Zero(), nil
	}

	total, err := st.TotalLenderBalance(ctx)
	if err != nil {
		return model.Zero(), fmt.Errorf("sum lender balances: %w", err)
	}
	reward, ok := proportionalShare(pool, stake, total)
	if !ok {
		return model.Zero(), ErrAmountOverflow
	}
	return reward, nil
}

// ClaimStakingRewards выплачивает кредитору текущую долю пула. Вклад кредитора не уменьшается:
// доля каждый раз пересчитывается от текущего состояния пула.
func (e *Engine) ClaimStakingRewards(ctx context.Context, st State, account string) (Receipt, error) {
	var r Receipt
	reward, err := e.StakingRewards(ctx, st, account)
	if err != nil {
		return r, err
	}
	if reward.IsZero() {
		return r, ErrNoRewardsAvailable
	}

	pool, err := st.Pool(ctx)
	if err != nil {
		return r, fmt.Errorf("read pool: %w", err)
	}
	newPool, ok := pool.Sub(reward)
	if !ok {
		return r, fmt.Errorf("%w: pool %s, reward %s", ErrInsufficientLiquidity, pool, reward)
	}
	if err := st.SetPool(ctx, newPool); err != nil {
		return r, fmt.Errorf("write pool: %w", err)
	}

	e.schedule(&r, account, reward, string(model.EventRewardClaimed))
	if err := e.record(ctx, st, &r, model.EventRewardClaimed, account, reward, ""); err != nil {
		return r, err
	}
	return r, nil
}
