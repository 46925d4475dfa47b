package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mmeshcher/lendpool/internal/ledger"
	"github.com/mmeshcher/lendpool/internal/metrics"
	"github.com/mmeshcher/lendpool/internal/model"
	"github.com/mmeshcher/lendpool/internal/repository"
)

const (
	owner    = "admin.near"
	lender   = "lender.near"
	borrower = "borrower.near"
)

type stubPayer struct {
	mu        sync.Mutex
	err       error
	onPay     func()
	transfers []model.Transfer
}

func (p *stubPayer) Pay(_ context.Context, t model.Transfer) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.transfers = append(p.transfers, t)
	if p.onPay != nil {
		p.onPay()
	}
	return nil
}

func (p *stubPayer) total(t *testing.T) model.Amount {
	t.Helper()
	sum := model.Zero()
	for _, tr := range p.paid() {
		var ok bool
		sum, ok = sum.Add(tr.Amount)
		require.True(t, ok)
	}
	return sum
}

func (p *stubPayer) paid() []model.Transfer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.Transfer(nil), p.transfers...)
}

type testEnv struct {
	svc   *Service
	payer *stubPayer
	now   time.Time
	logs  *observer.ObservedLogs
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{payer: &stubPayer{}, now: time.UnixMilli(1_700_000_000_000)}

	core, logs := observer.New(zap.InfoLevel)
	env.logs = logs

	engine := ledger.NewEngine(owner, model.NewAmount(1_000_000))
	engine.SetClock(func() time.Time { return env.now })

	env.svc = NewService(engine, repository.NewMemoryStore(), env.payer, zap.New(core), metrics.New())
	t.Cleanup(func() { _ = env.svc.Close() })
	return env
}

func (e *testEnv) requirePool(t *testing.T, want uint64) {
	t.Helper()
	pool, err := e.svc.PoolBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.NewAmount(want).String(), pool.String())
}

func TestDepositAndWithdraw(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Deposit(ctx, lender, model.NewAmount(100))
	require.NoError(t, err)

	receipt, err := env.svc.Withdraw(ctx, lender, model.NewAmount(40))
	require.NoError(t, err)
	require.Len(t, receipt.Transfers, 1)

	paid := env.payer.paid()
	require.Len(t, paid, 1)
	assert.Equal(t, lender, paid[0].To)
	assert.Equal(t, "40", paid[0].Amount.String())

	env.requirePool(t, 60)
	bal, err := env.svc.LenderBalance(ctx, lender)
	require.NoError(t, err)
	assert.Equal(t, "60", bal.String())

	assert.Equal(t, 2, env.logs.FilterMessage("ledger event").Len())
}

func TestPayoutFailureRollsBack(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Deposit(ctx, lender, model.NewAmount(100))
	require.NoError(t, err)

	env.payer.err = errors.New("settlement down")
	_, err = env.svc.Withdraw(ctx, lender, model.NewAmount(40))
	require.ErrorIs(t, err, ErrPayoutFailed)

	env.requirePool(t, 100)
	bal, err := env.svc.LenderBalance(ctx, lender)
	require.NoError(t, err)
	assert.Equal(t, "100", bal.String())

	events, err := env.svc.Events(ctx, owner, 10)
	require.NoError(t, err)
	assert.Len(t, events, 1, "rolled back operation must not leave an audit event")
}

func TestCreateLoanDisbursesPrincipal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Deposit(ctx, lender, model.NewAmount(1000))
	require.NoError(t, err)
	_, err = env.svc.SetVerified(ctx, owner, borrower, true)
	require.NoError(t, err)

	env.payer.err = errors.New("settlement down")
	_, err = env.svc.CreateLoan(ctx, borrower, model.NewAmount(300), 0)
	require.ErrorIs(t, err, ErrPayoutFailed)
	env.requirePool(t, 1000)

	loan, err := env.svc.ViewLoan(ctx, borrower)
	require.NoError(t, err)
	assert.Nil(t, loan)

	env.payer.err = nil
	_, err = env.svc.CreateLoan(ctx, borrower, model.NewAmount(300), 0)
	require.NoError(t, err)
	env.requirePool(t, 700)

	paid := env.payer.paid()
	require.Len(t, paid, 1)
	assert.Equal(t, borrower, paid[0].To)
	assert.Equal(t, "300", paid[0].Amount.String())

	loan, err = env.svc.ViewLoan(ctx, borrower)
	require.NoError(t, err)
	require.NotNil(t, loan)
	assert.Equal(t, uint64(ledger.DefaultInterestRateBps), loan.Loan.InterestRateBps)
	assert.Equal(t, "Pending", loan.DisplayStatus)

	_, err = env.svc.SetLoanStatus(ctx, owner, borrower, model.LoanStatusBorrowed)
	require.NoError(t, err)
	assert.Len(t, env.payer.paid(), 1, "activation moves no money")

	status, err := env.svc.LoanStatus(ctx, borrower)
	require.NoError(t, err)
	assert.Equal(t, "Borrowed", status)
}

func TestRepayPendingLoanConservesFunds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Deposit(ctx, lender, model.NewAmount(10))
	require.NoError(t, err)
	_, err = env.svc.SetVerified(ctx, owner, borrower, true)
	require.NoError(t, err)
	_, err = env.svc.CreateLoan(ctx, borrower, model.NewAmount(5), 1000)
	require.NoError(t, err)

	_, err = env.svc.Repay(ctx, borrower, model.NewAmount(5))
	require.NoError(t, err)

	env.requirePool(t, 10)
	status, err := env.svc.LoanStatus(ctx, borrower)
	require.NoError(t, err)
	assert.Equal(t, "NoLoan", status)

	// 10 внесено, 5 погашено: 10 в пуле и 5 выплачено заёмщику.
	assert.Equal(t, "5", env.payer.total(t).String())
}

func TestFundsConservedAcrossLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	received := model.Zero()
	credit := func(n uint64) {
		var ok bool
		received, ok = received.Add(model.NewAmount(n))
		require.True(t, ok)
	}
	requireConserved := func() {
		t.Helper()
		pool, err := env.svc.PoolBalance(ctx)
		require.NoError(t, err)
		held, ok := pool.Add(env.payer.total(t))
		require.True(t, ok)
		assert.Equal(t, received.String(), held.String(), "pool + payouts must equal deposits + repayments")
	}

	_, err := env.svc.Deposit(ctx, lender, model.NewAmount(1000))
	require.NoError(t, err)
	credit(1000)
	_, err = env.svc.Deposit(ctx, "lender2.near", model.NewAmount(500))
	require.NoError(t, err)
	credit(500)
	_, err = env.svc.SetVerified(ctx, owner, borrower, true)
	require.NoError(t, err)

	_, err = env.svc.CreateLoan(ctx, borrower, model.NewAmount(300), 1000)
	require.NoError(t, err)
	requireConserved()

	_, err = env.svc.Repay(ctx, borrower, model.NewAmount(100))
	require.NoError(t, err)
	credit(100)
	requireConserved()

	_, err = env.svc.SetLoanStatus(ctx, owner, borrower, model.LoanStatusBorrowed)
	require.NoError(t, err)
	requireConserved()

	env.now = env.now.Add(32*24*time.Hour + time.Hour)

	penalty, err := env.svc.OverduePenalty(ctx, borrower)
	require.NoError(t, err)
	assert.Equal(t, "2", penalty.String())

	_, err = env.svc.Repay(ctx, borrower, model.NewAmount(202))
	require.NoError(t, err)
	credit(202)
	requireConserved()

	status, err := env.svc.LoanStatus(ctx, borrower)
	require.NoError(t, err)
	assert.Equal(t, "NoLoan", status)

	_, err = env.svc.Withdraw(ctx, lender, model.NewAmount(400))
	require.NoError(t, err)
	requireConserved()

	_, err = env.svc.ClaimStakingRewards(ctx, "lender2.near")
	require.NoError(t, err)
	requireConserved()
}

func TestPayoutCommitsDespiteCancelledContext(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Deposit(context.Background(), lender, model.NewAmount(100))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env.payer.onPay = cancel

	receipt, err := env.svc.Withdraw(ctx, lender, model.NewAmount(40))
	require.NoError(t, err)
	require.Len(t, receipt.Transfers, 1)
	require.ErrorIs(t, ctx.Err(), context.Canceled)

	env.requirePool(t, 60)
	bal, err := env.svc.LenderBalance(context.Background(), lender)
	require.NoError(t, err)
	assert.Equal(t, "60", bal.String())

	_, err = env.svc.Withdraw(context.Background(), lender, model.NewAmount(100))
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)
}

func TestRuleViolationPassesThrough(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Withdraw(context.Background(), lender, model.NewAmount(1))
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	assert.Equal(t, 0, env.logs.FilterMessage("ledger operation failed").Len())
}

func TestRepayAndHistory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Deposit(ctx, lender, model.NewAmount(1000))
	require.NoError(t, err)
	_, err = env.svc.SetCreditScore(ctx, owner, borrower, 700)
	require.NoError(t, err)

	rec, err := env.svc.CreditRecord(ctx, borrower)
	require.NoError(t, err)
	assert.True(t, rec.Verified)

	_, err = env.svc.CreateLoan(ctx, borrower, model.NewAmount(500), 1000)
	require.NoError(t, err)
	_, err = env.svc.SetLoanStatus(ctx, owner, borrower, model.LoanStatusBorrowed)
	require.NoError(t, err)

	_, err = env.svc.Repay(ctx, borrower, model.NewAmount(200))
	require.NoError(t, err)

	estimate, ok, err := env.svc.EstimateRepayment(ctx, borrower)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "300", estimate.String())

	penalty, err := env.svc.OverduePenalty(ctx, borrower)
	require.NoError(t, err)
	assert.True(t, penalty.IsZero())

	_, err = env.svc.Repay(ctx, borrower, model.NewAmount(300))
	require.NoError(t, err)

	status, err := env.svc.LoanStatus(ctx, borrower)
	require.NoError(t, err)
	assert.Equal(t, "NoLoan", status)

	history, err := env.svc.RepaymentHistory(ctx, borrower)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "200", history[0].Amount.String())
	assert.Equal(t, "300", history[1].Amount.String())

	env.requirePool(t, 1000)
}

func TestClaimStakingRewards(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Deposit(ctx, lender, model.NewAmount(50))
	require.NoError(t, err)

	reward, err := env.svc.StakingRewards(ctx, lender)
	require.NoError(t, err)
	assert.Equal(t, "50", reward.String())

	_, err = env.svc.ClaimStakingRewards(ctx, lender)
	require.NoError(t, err)
	env.requirePool(t, 0)

	_, err = env.svc.ClaimStakingRewards(ctx, lender)
	require.ErrorIs(t, err, ledger.ErrNoRewardsAvailable)
}

func TestOverdueMonitor(t *testing.T) {
	defer goleak.VerifyNone(t)

	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Deposit(ctx, lender, model.NewAmount(1000))
	require.NoError(t, err)
	_, err = env.svc.SetVerified(ctx, owner, borrower, true)
	require.NoError(t, err)
	_, err = env.svc.CreateLoan(ctx, borrower, model.NewAmount(100), 1000)
	require.NoError(t, err)
	_, err = env.svc.SetLoanStatus(ctx, owner, borrower, model.LoanStatusBorrowed)
	require.NoError(t, err)

	env.now = env.now.Add(31 * 24 * time.Hour)

	monitorCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		env.svc.RunOverdueMonitor(monitorCtx, 5*time.Millisecond)
	}()

	require.Eventually(t, func() bool {
		return env.logs.FilterMessage("loan overdue").Len() > 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done

	entry := env.logs.FilterMessage("loan overdue").All()[0]
	assert.Equal(t, borrower, entry.ContextMap()["account"])
}
