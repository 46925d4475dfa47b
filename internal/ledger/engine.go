// Package ledger реализует правила кредитного пула: учёт ликвидности и вкладов кредиторов,
// жизненный цикл займа, штрафы за просрочку и распределение вознаграждений.
//
// Каждая операция Engine — синхронный переход состояния над переданным State.
// Атомарность обеспечивает вызывающий: при ошибке изменения State должны быть отброшены,
// а переводы из Receipt не выполняются.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/lendpool/internal/model"
)

// DefaultInterestRateBps задаёт ставку по умолчанию, 10% годовых.
const DefaultInterestRateBps = 1000

// DefaultMaxLoanAmount задаёт потолок займа по умолчанию: 100 единиц по 10^24 минимальных долей.
var DefaultMaxLoanAmount = model.MustParseAmount("100000000000000000000000000")

// Receipt содержит события аудита и внешние переводы, запланированные операцией.
type Receipt struct {
	Events    []model.Event
	Transfers []model.Transfer
}

// Engine применяет правила леджера к State.
type Engine struct {
	owner   string
	maxLoan model.Amount
	now     func() time.Time
	newID   func() string
}

// NewEngine создаёт движок с администратором owner и фиксированным потолком займа.
func NewEngine(owner string, maxLoan model.Amount) *Engine {
	return &Engine{
		owner:   owner,
		maxLoan: maxLoan,
		now:     time.Now,
		newID:   func() string { return uuid.NewString() },
	}
}

// SetClock подменяет источник текущего времени.
func (e *Engine) SetClock(now func() time.Time) {
	if now == nil {
		return
	}
	e.now = now
}

// Owner возвращает аккаунт администратора.
func (e *Engine) Owner() string { return e.owner }

// MaxLoanAmount возвращает потолок суммы займа.
func (e *Engine) MaxLoanAmount() model.Amount { return e.maxLoan }

func (e *Engine) nowMillis() int64 {
	return e.now().UnixMilli()
}

func (e *Engine) requireOwner(caller string) error {
	if caller != e.owner {
		return fmt.Errorf("%w: %s", ErrUnauthorized, caller)
	}
	return nil
}

func (e *Engine) record(ctx context.Context, st State, r *Receipt, kind model.EventKind, account string, amount model.Amount, detail string) error {
	pool, err := st.Pool(ctx)
	if err != nil {
		return fmt.Errorf("read pool: %w", err)
	}
	ev := model.Event{
		ID:        e.newID(),
		Kind:      kind,
		Account:   account,
		Amount:    amount,
		Pool:      pool,
		Detail:    detail,
		CreatedAt: e.now().UTC(),
	}
	if err := st.AppendEvent(ctx, ev); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	r.Events = append(r.Events, ev)
	return nil
}

func (e *Engine) schedule(r *Receipt, to string, amount model.Amount, reason string) {
	r.Transfers = append(r.Transfers, model.Transfer{
		ID:     e.newID(),
		To:     to,
		Amount: amount,
		Reason: reason,
	})
}

// Events возвращает журнал аудита. Доступно только администратору.
func (e *Engine) Events(ctx context.Context, st State, caller string, limit int) ([]model.Event, error) {
	if err := e.requireOwner(caller); err != nil {
		return nil, err
	}
	return st.Events(ctx, limit)
}
