package ledger

import (
	"context"
	"sort"

	"github.com/mmeshcher/lendpool/internal/model"
)

// MemoryState реализует State поверх map. Не потокобезопасна: сериализацию обеспечивает владелец.
type MemoryState struct {
	pool       model.Amount
	lenders    map[string]model.Amount
	credit     map[string]model.CreditRecord
	loans      map[string]model.Loan
	repayments map[string][]model.RepaymentRecord
	events     []model.Event
}

var _ State = (*MemoryState)(nil)

// NewMemoryState создаёт пустое состояние с нулевым пулом.
func NewMemoryState() *MemoryState {
	return &MemoryState{
		lenders:    make(map[string]model.Amount),
		credit:     make(map[string]model.CreditRecord),
		loans:      make(map[string]model.Loan),
		repayments: make(map[string][]model.RepaymentRecord),
	}
}

// Clone возвращает копию состояния для черновика операции. Журнал событий и истории
// погашений только дополняются, поэтому их срезы разделяются с исходным состоянием:
// дописывание в копию не меняет видимую длину у оригинала. Одновременно допустима
// только одна копия, в которую выполняется запись.
func (m *MemoryState) Clone() *MemoryState {
	c := NewMemoryState()
	c.pool = m.pool
	for k, v := range m.lenders {
		c.lenders[k] = v
	}
	for k, v := range m.credit {
		if v.ScoreThreshold != nil {
			score := *v.ScoreThreshold
			v.ScoreThreshold = &score
		}
		c.credit[k] = v
	}
	for k, v := range m.loans {
		c.loans[k] = v
	}
	for k, v := range m.repayments {
		c.repayments[k] = v
	}
	c.events = m.events
	return c
}

func (m *MemoryState) Pool(context.Context) (model.Amount, error) {
	return m.pool, nil
}

func (m *MemoryState) SetPool(_ context.Context, amount model.Amount) error {
	m.pool = amount
	return nil
}

func (m *MemoryState) LenderBalance(_ context.Context, account string) (model.Amount, error) {
	return m.lenders[account], nil
}

func (m *MemoryState) SetLenderBalance(_ context.Context, account string, amount model.Amount) error {
	if amount.IsZero() {
		delete(m.lenders, account)
		return nil
	}
	m.lenders[account] = amount
	return nil
}

func (m *MemoryState) TotalLenderBalance(context.Context) (model.Amount, error) {
	total := model.Zero()
	for _, b := range m.lenders {
		var ok bool
		if total, ok = total.Add(b); !ok {
			return model.Zero(), ErrAmountOverflow
		}
	}
	return total, nil
}

func (m *MemoryState) Credit(_ context.Context, account string) (model.CreditRecord, error) {
	return m.credit[account], nil
}

func (m *MemoryState) PutCredit(_ context.Context, account string, rec model.CreditRecord) error {
	m.credit[account] = rec
	return nil
}

func (m *MemoryState) Loan(_ context.Context, account string) (*model.Loan, error) {
	loan, ok := m.loans[account]
	if !ok {
		return nil, nil
	}
	return &loan, nil
}

func (m *MemoryState) PutLoan(_ context.Context, account string, loan model.Loan) error {
	m.loans[account] = loan
	return nil
}

func (m *MemoryState) DeleteLoan(_ context.Context, account string) error {
	delete(m.loans, account)
	return nil
}

func (m *MemoryState) ListLoans(context.Context) ([]AccountLoan, error) {
	res := make([]AccountLoan, 0, len(m.loans))
	for account, loan := range m.loans {
		res = append(res, AccountLoan{Account: account, Loan: loan})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Account < res[j].Account })
	return res, nil
}

func (m *MemoryState) AppendRepayment(_ context.Context, account string, rec model.RepaymentRecord) error {
	m.repayments[account] = append(m.repayments[account], rec)
	return nil
}

func (m *MemoryState) Repayments(_ context.Context, account string) ([]model.RepaymentRecord, error) {
	return append([]model.RepaymentRecord(nil), m.repayments[account]...), nil
}

func (m *MemoryState) AppendEvent(_ context.Context, ev model.Event) error {
	m.events = append(m.events, ev)
	return nil
}

func (m *MemoryState) Events(_ context.Context, limit int) ([]model.Event, error) {
	n := len(m.events)
	if limit > 0 && limit < n {
		n = limit
	}
	res := make([]model.Event, 0, n)
	for i := len(m.events) - 1; i >= 0 && len(res) < n; i-- {
		res = append(res, m.events[i])
	}
	return res, nil
}
