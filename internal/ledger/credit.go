package ledger

import (
	"context"
	"fmt"
	"strconv"

	"github.com/mmeshcher/lendpool/internal/model"
)

// SetVerified перезаписывает признак верификации аккаунта. Только для администратора.
func (e *Engine) SetVerified(ctx context.Context, st State, caller, account string, verified bool) (Receipt, error) {
	var r Receipt
	if err := e.requireOwner(caller); err != nil {
		return r, err
	}

	rec, err := st.Credit(ctx, account)
	if err != nil {
		return r, fmt.Errorf("read credit record: %w", err)
	}
	rec.Verified = verified
	if err := st.PutCredit(ctx, account, rec); err != nil {
		return r, fmt.Errorf("write credit record: %w", err)
	}

	if err := e.record(ctx, st, &r, model.EventUserVerified, account, model.Zero(), strconv.FormatBool(verified)); err != nil {
		return r, err
	}
	return r, nil
}

// SetCreditScore записывает порог кредитного рейтинга. Аккаунт с рейтингом считается верифицированным.
func (e *Engine) SetCreditScore(ctx context.Context, st State, caller, account string, score uint64) (Receipt, error) {
	var r Receipt
	if err := e.requireOwner(caller); err != nil {
		return r, err
	}

	rec := model.CreditRecord{Verified: true, ScoreThreshold: &score}
	if err := st.PutCredit(ctx, account, rec); err != nil {
		return r, fmt.Errorf("write credit record: %w", err)
	}

	if err := e.record(ctx, st, &r, model.EventCreditScoreSet, account, model.Zero(), strconv.FormatUint(score, 10)); err != nil {
		return r, err
	}
	return r, nil
}

// IsVerified сообщает, может ли аккаунт брать займы. По умолчанию false.
func (e *Engine) IsVerified(ctx context.Context, st State, account string) (bool, error) {
	rec, err := st.Credit(ctx, account)
	if err != nil {
		return false, err
	}
	return rec.Verified, nil
}

// CreditRecord возвращает кредитную запись аккаунта.
func (e *Engine) CreditRecord(ctx context.Context, st State, account string) (model.CreditRecord, error) {
	return st.Credit(ctx, account)
}
