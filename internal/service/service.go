// Package service связывает правила леджера с хранилищем, системой выплат и метриками.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/lendpool/internal/ledger"
	"github.com/mmeshcher/lendpool/internal/metrics"
	"github.com/mmeshcher/lendpool/internal/model"
	"github.com/mmeshcher/lendpool/internal/repository"
)

// ErrPayoutFailed возвращается, если внешний перевод не выполнен; операция при этом откатывается.
var ErrPayoutFailed = errors.New("payout failed")

// Store описывает контракт хранилища, используемый сервисом.
type Store interface {
	Atomic(ctx context.Context, fn repository.TxFunc) error
	View(ctx context.Context, fn repository.TxFunc) error
	Close() error
}

// Payer выполняет внешний перевод средств.
type Payer interface {
	Pay(ctx context.Context, t model.Transfer) error
}

// Service содержит бизнес-логику кредитного пула.
type Service struct {
	engine  *ledger.Engine
	store   Store
	payer   Payer
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewService создаёт сервис. metrics может быть nil.
func NewService(engine *ledger.Engine, store Store, payer Payer, logger *zap.Logger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		engine:  engine,
		store:   store,
		payer:   payer,
		logger:  logger,
		metrics: m,
	}
}

// Owner возвращает аккаунт администратора.
func (s *Service) Owner() string {
	return s.engine.Owner()
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

type operation func(ctx context.Context, st ledger.State) (ledger.Receipt, error)

// exec выполняет операцию атомарно. Переводы из квитанции выполняются последним шагом
// перед фиксацией: ошибка выплаты откатывает изменения состояния, а после выплат
// хранилище фиксирует транзакцию независимо от отмены ctx.
func (s *Service) exec(ctx context.Context, name string, op operation) (ledger.Receipt, error) {
	var (
		receipt ledger.Receipt
		pool    model.Amount
	)

	err := s.store.Atomic(ctx, func(ctx context.Context, st ledger.State) error {
		r, err := op(ctx, st)
		if err != nil {
			return err
		}
		pool, err = st.Pool(ctx)
		if err != nil {
			return err
		}
		for _, t := range r.Transfers {
			if err := s.payer.Pay(ctx, t); err != nil {
				return fmt.Errorf("%w: transfer %s to %s: %w", ErrPayoutFailed, t.ID, t.To, err)
			}
		}
		receipt = r
		return nil
	})
	s.observe(name, err)
	if err != nil {
		return ledger.Receipt{}, err
	}

	s.metrics.SetPoolBalance(pool)
	for _, ev := range receipt.Events {
		s.logger.Info("ledger event",
			zap.String("id", ev.ID),
			zap.String("kind", string(ev.Kind)),
			zap.String("account", ev.Account),
			zap.Stringer("amount", ev.Amount),
			zap.Stringer("pool", ev.Pool),
			zap.String("detail", ev.Detail),
		)
	}
	for _, t := range receipt.Transfers {
		s.logger.Info("transfer completed",
			zap.String("id", t.ID),
			zap.String("to", t.To),
			zap.Stringer("amount", t.Amount),
			zap.String("reason", t.Reason),
		)
	}
	return receipt, nil
}

func (s *Service) observe(name string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case ledger.IsRuleViolation(err):
		result = "rejected"
	default:
		result = "error"
		s.logger.Error("ledger operation failed", zap.String("operation", name), zap.Error(err))
	}
	s.metrics.ObserveOperation(name, result)
}

func (s *Service) view(ctx context.Context, fn repository.TxFunc) error {
	return s.store.View(ctx, fn)
}

// Deposit зачисляет вклад кредитора в пул.
func (s *Service) Deposit(ctx context.Context, account string, amount model.Amount) (ledger.Receipt, error) {
	return s.exec(ctx, "deposit", func(ctx context.Context, st ledger.State) (ledger.Receipt, error) {
		return s.engine.Deposit(ctx, st, account, amount)
	})
}

// Withdraw выводит часть вклада кредитора.
func (s *Service) Withdraw(ctx context.Context, account string, amount model.Amount) (ledger.Receipt, error) {
	return s.exec(ctx, "withdraw", func(ctx context.Context, st ledger.State) (ledger.Receipt, error) {
		return s.engine.Withdraw(ctx, st, account, amount)
	})
}

// CreateLoan создаёт заявку на заём. Нулевая ставка заменяется ставкой по умолчанию.
func (s *Service) CreateLoan(ctx context.Context, borrower string, amount model.Amount, rateBps uint64) (ledger.Receipt, error) {
	if rateBps == 0 {
		rateBps = ledger.DefaultInterestRateBps
	}
	return s.exec(ctx, "create_loan", func(ctx context.Context, st ledger.State) (ledger.Receipt, error) {
		return s.engine.CreateLoan(ctx, st, borrower, amount, rateBps)
	})
}

// SetLoanStatus меняет статус займа от имени администратора.
func (s *Service) SetLoanStatus(ctx context.Context, caller, borrower string, status model.LoanStatus) (ledger.Receipt, error) {
	return s.exec(ctx, "set_loan_status", func(ctx context.Context, st ledger.State) (ledger.Receipt, error) {
		return s.engine.SetLoanStatus(ctx, st, caller, borrower, status)
	})
}

// Repay принимает платёж по займу.
func (s *Service) Repay(ctx context.Context, borrower string, amount model.Amount) (ledger.Receipt, error) {
	return s.exec(ctx, "repay", func(ctx context.Context, st ledger.State) (ledger.Receipt, error) {
		return s.engine.Repay(ctx, st, borrower, amount)
	})
}

// ClaimStakingRewards выплачивает кредитору его вознаграждение.
func (s *Service) ClaimStakingRewards(ctx context.Context, account string) (ledger.Receipt, error) {
	return s.exec(ctx, "claim_rewards", func(ctx context.Context, st ledger.State) (ledger.Receipt, error) {
		return s.engine.ClaimStakingRewards(ctx, st, account)
	})
}

// SetVerified меняет флаг верификации аккаунта.
func (s *Service) SetVerified(ctx context.Context, caller, account string, verified bool) (ledger.Receipt, error) {
	return s.exec(ctx, "verify_user", func(ctx context.Context, st ledger.State) (ledger.Receipt, error) {
		return s.engine.SetVerified(ctx, st, caller, account, verified)
	})
}

// SetCreditScore устанавливает кредитный порог аккаунта.
func (s *Service) SetCreditScore(ctx context.Context, caller, account string, score uint64) (ledger.Receipt, error) {
	return s.exec(ctx, "set_credit_score", func(ctx context.Context, st ledger.State) (ledger.Receipt, error) {
		return s.engine.SetCreditScore(ctx, st, caller, account, score)
	})
}

// PoolBalance возвращает ликвидность пула.
func (s *Service) PoolBalance(ctx context.Context) (model.Amount, error) {
	var out model.Amount
	err := s.view(ctx, func(ctx context.Context, st ledger.State) error {
		var err error
		out, err = s.engine.PoolBalance(ctx, st)
		return err
	})
	return out, err
}

// LenderBalance возвращает вклад кредитора.
func (s *Service) LenderBalance(ctx context.Context, account string) (model.Amount, error) {
	var out model.Amount
	err := s.view(ctx, func(ctx context.Context, st ledger.State) error {
		var err error
		out, err = s.engine.LenderBalance(ctx, st, account)
		return err
	})
	return out, err
}

// StakingRewards возвращает текущую долю кредитора в пуле.
func (s *Service) StakingRewards(ctx context.Context, account string) (model.Amount, error) {
	var out model.Amount
	err := s.view(ctx, func(ctx context.Context, st ledger.State) error {
		var err error
		out, err = s.engine.StakingRewards(ctx, st, account)
		return err
	})
	return out, err
}

// ViewLoan возвращает заём аккаунта или nil.
func (s *Service) ViewLoan(ctx context.Context, account string) (*ledger.LoanView, error) {
	var out *ledger.LoanView
	err := s.view(ctx, func(ctx context.Context, st ledger.State) error {
		var err error
		out, err = s.engine.ViewLoan(ctx, st, account)
		return err
	})
	return out, err
}

// LoanStatus возвращает отображаемый статус займа.
func (s *Service) LoanStatus(ctx context.Context, account string) (string, error) {
	var out string
	err := s.view(ctx, func(ctx context.Context, st ledger.State) error {
		var err error
		out, err = s.engine.LoanStatus(ctx, st, account)
		return err
	})
	return out, err
}

// EstimateRepayment возвращает сумму к погашению на текущий момент; ok=false, если займа нет.
func (s *Service) EstimateRepayment(ctx context.Context, account string) (model.Amount, bool, error) {
	var (
		out model.Amount
		ok  bool
	)
	err := s.view(ctx, func(ctx context.Context, st ledger.State) error {
		var err error
		out, ok, err = s.engine.EstimateRepayment(ctx, st, account)
		return err
	})
	return out, ok, err
}

// OverduePenalty возвращает текущий штраф за просрочку.
func (s *Service) OverduePenalty(ctx context.Context, account string) (model.Amount, error) {
	var out model.Amount
	err := s.view(ctx, func(ctx context.Context, st ledger.State) error {
		var err error
		out, err = s.engine.OverduePenalty(ctx, st, account)
		return err
	})
	return out, err
}

// RepaymentHistory возвращает платежи аккаунта в порядке поступления.
func (s *Service) RepaymentHistory(ctx context.Context, account string) ([]model.RepaymentRecord, error) {
	var out []model.RepaymentRecord
	err := s.view(ctx, func(ctx context.Context, st ledger.State) error {
		var err error
		out, err = s.engine.RepaymentHistory(ctx, st, account)
		return err
	})
	return out, err
}

// CreditRecord возвращает кредитную запись аккаунта.
func (s *Service) CreditRecord(ctx context.Context, account string) (model.CreditRecord, error) {
	var out model.CreditRecord
	err := s.view(ctx, func(ctx context.Context, st ledger.State) error {
		var err error
		out, err = s.engine.CreditRecord(ctx, st, account)
		return err
	})
	return out, err
}

// Events возвращает журнал аудита, новые записи первыми.
func (s *Service) Events(ctx context.Context, caller string, limit int) ([]model.Event, error) {
	var out []model.Event
	err := s.view(ctx, func(ctx context.Context, st ledger.State) error {
		var err error
		out, err = s.engine.Events(ctx, st, caller, limit)
		return err
	})
	return out, err
}

// RunOverdueMonitor периодически проверяет просроченные займы до отмены ctx.
func (s *Service) RunOverdueMonitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkOverdue(ctx)
		}
	}
}

func (s *Service) checkOverdue(ctx context.Context) {
	var overdue []ledger.AccountLoan
	err := s.view(ctx, func(ctx context.Context, st ledger.State) error {
		var err error
		overdue, err = s.engine.OverdueLoans(ctx, st)
		return err
	})
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("overdue check failed", zap.Error(err))
		}
		return
	}

	s.metrics.SetOverdueLoans(len(overdue))
	for _, al := range overdue {
		s.logger.Warn("loan overdue",
			zap.String("account", al.Account),
			zap.Stringer("principal", al.Loan.Principal),
			zap.Time("due", time.UnixMilli(al.Loan.DueTimestamp)),
		)
	}
}
