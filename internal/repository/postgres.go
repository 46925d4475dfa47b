// Package repository содержит хранилища состояния леджера: PostgreSQL и in-memory.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/lendpool/internal/ledger"
	"github.com/mmeshcher/lendpool/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// TxFunc выполняет операцию над состоянием леджера внутри одной транзакции.
type TxFunc func(ctx context.Context, st ledger.State) error

// PostgresStore хранит состояние леджера в PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore создаёт хранилище и применяет миграции.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresStore{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresStore) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresStore) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !isTransient(err) || i == len(delays) {
			break
		}

		timer := time.NewTimer(delays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure ||
			pgErr.Code == pgerrcode.DeadlockDetected ||
			pgErr.Code == pgerrcode.LockNotAvailable
	}
	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresStore) Close() error {
	r.pool.Close()
	return nil
}

// beginLocked открывает транзакцию и блокирует строку пула. Все изменяющие операции
// проходят через эту блокировку и поэтому выполняются строго последовательно.
func (r *PostgresStore) beginLocked(ctx context.Context) (pgx.Tx, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}

	var dummy int
	if err := tx.QueryRow(ctx, `SELECT 1 FROM pool WHERE id = 1 FOR UPDATE`).Scan(&dummy); err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("lock pool for update: %w", err)
	}
	return tx, nil
}

// Atomic выполняет fn в транзакции. Если fn вернула ошибку, изменения откатываются.
// Повторяется только получение блокировки: fn может выполнять внешние переводы.
// После успешного fn транзакция фиксируется даже при отменённом ctx.
func (r *PostgresStore) Atomic(ctx context.Context, fn TxFunc) error {
	var tx pgx.Tx
	err := r.withRetry(ctx, func() error {
		var err error
		tx, err = r.beginLocked(ctx)
		return err
	})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &pgState{tx: tx}); err != nil {
		return err
	}

	// После внешних переводов фиксация не зависит от отмены запроса.
	if err := tx.Commit(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// View выполняет fn в транзакции только для чтения.
func (r *PostgresStore) View(ctx context.Context, fn TxFunc) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &pgState{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// pgState реализует ledger.State поверх открытой транзакции.
// Суммы передаются в БД текстом и приводятся к NUMERIC на стороне сервера.
type pgState struct {
	tx pgx.Tx
}

var _ ledger.State = (*pgState)(nil)

func parseAmount(s string) (model.Amount, error) {
	a, err := model.ParseAmount(s)
	if err != nil {
		return model.Zero(), fmt.Errorf("decode amount: %w", err)
	}
	return a, nil
}

func (s *pgState) Pool(ctx context.Context) (model.Amount, error) {
	var balance string
	if err := s.tx.QueryRow(ctx, `SELECT balance::text FROM pool WHERE id = 1`).Scan(&balance); err != nil {
		return model.Zero(), fmt.Errorf("select pool: %w", err)
	}
	return parseAmount(balance)
}

func (s *pgState) SetPool(ctx context.Context, amount model.Amount) error {
	_, err := s.tx.Exec(ctx, `UPDATE pool SET balance = $1::text::numeric WHERE id = 1`, amount.String())
	if err != nil {
		return fmt.Errorf("update pool: %w", err)
	}
	return nil
}

func (s *pgState) LenderBalance(ctx context.Context, account string) (model.Amount, error) {
	var balance string
	err := s.tx.QueryRow(ctx,
		`SELECT balance::text FROM lender_balances WHERE account = $1`,
		account,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Zero(), nil
		}
		return model.Zero(), fmt.Errorf("select lender balance: %w", err)
	}
	return parseAmount(balance)
}

func (s *pgState) SetLenderBalance(ctx context.Context, account string, amount model.Amount) error {
	if amount.IsZero() {
		if _, err := s.tx.Exec(ctx, `DELETE FROM lender_balances WHERE account = $1`, account); err != nil {
			return fmt.Errorf("delete lender balance: %w", err)
		}
		return nil
	}

	_, err := s.tx.Exec(ctx,
		`INSERT INTO lender_balances (account, balance) VALUES ($1, $2::text::numeric)
		 ON CONFLICT (account) DO UPDATE SET balance = EXCLUDED.balance`,
		account, amount.String(),
	)
	if err != nil {
		return fmt.Errorf("upsert lender balance: %w", err)
	}
	return nil
}

func (s *pgState) TotalLenderBalance(ctx context.Context) (model.Amount, error) {
	var total string
	err := s.tx.QueryRow(ctx, `SELECT COALESCE(SUM(balance), 0)::text FROM lender_balances`).Scan(&total)
	if err != nil {
		return model.Zero(), fmt.Errorf("sum lender balances: %w", err)
	}
	a, err := parseAmount(total)
	if err != nil {
		// сумма больше 2^256 не представима в Amount
		return model.Zero(), fmt.Errorf("%w: %v", ledger.ErrAmountOverflow, err)
	}
	return a, nil
}

func (s *pgState) Credit(ctx context.Context, account string) (model.CreditRecord, error) {
	var (
		rec   model.CreditRecord
		score *string
	)
	err := s.tx.QueryRow(ctx,
		`SELECT verified, score_threshold::text FROM credit_records WHERE account = $1`,
		account,
	).Scan(&rec.Verified, &score)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.CreditRecord{}, nil
		}
		return model.CreditRecord{}, fmt.Errorf("select credit record: %w", err)
	}

	if score != nil {
		v, err := strconv.ParseUint(*score, 10, 64)
		if err != nil {
			return model.CreditRecord{}, fmt.Errorf("decode score threshold: %w", err)
		}
		rec.ScoreThreshold = &v
	}
	return rec, nil
}

func (s *pgState) PutCredit(ctx context.Context, account string, rec model.CreditRecord) error {
	var score *string
	if rec.ScoreThreshold != nil {
		v := strconv.FormatUint(*rec.ScoreThreshold, 10)
		score = &v
	}

	_, err := s.tx.Exec(ctx,
		`INSERT INTO credit_records (account, verified, score_threshold) VALUES ($1, $2, $3::text::numeric)
		 ON CONFLICT (account) DO UPDATE SET verified = EXCLUDED.verified, score_threshold = EXCLUDED.score_threshold`,
		account, rec.Verified, score,
	)
	if err != nil {
		return fmt.Errorf("upsert credit record: %w", err)
	}
	return nil
}

const selectLoanColumns = `principal::text, interest_rate_bps::text, start_timestamp, due_timestamp, status`

func scanLoan(row pgx.Row, extra ...any) (model.Loan, error) {
	var (
		loan      model.Loan
		principal string
		rate      string
		status    string
	)
	dest := append(extra, &principal, &rate, &loan.StartTimestamp, &loan.DueTimestamp, &status)
	if err := row.Scan(dest...); err != nil {
		return model.Loan{}, err
	}

	var err error
	if loan.Principal, err = parseAmount(principal); err != nil {
		return model.Loan{}, err
	}
	if loan.InterestRateBps, err = strconv.ParseUint(rate, 10, 64); err != nil {
		return model.Loan{}, fmt.Errorf("decode interest rate: %w", err)
	}
	if loan.Status, err = model.ParseLoanStatus(status); err != nil {
		return model.Loan{}, err
	}
	return loan, nil
}

func (s *pgState) Loan(ctx context.Context, account string) (*model.Loan, error) {
	row := s.tx.QueryRow(ctx,
		`SELECT `+selectLoanColumns+` FROM loans WHERE account = $1`,
		account,
	)
	loan, err := scanLoan(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select loan: %w", err)
	}
	return &loan, nil
}

func (s *pgState) PutLoan(ctx context.Context, account string, loan model.Loan) error {
	_, err := s.tx.Exec(ctx,
		`INSERT INTO loans (account, principal, interest_rate_bps, start_timestamp, due_timestamp, status)
		 VALUES ($1, $2::text::numeric, $3::text::numeric, $4, $5, $6)
		 ON CONFLICT (account) DO UPDATE SET
		     principal = EXCLUDED.principal,
		     interest_rate_bps = EXCLUDED.interest_rate_bps,
		     start_timestamp = EXCLUDED.start_timestamp,
		     due_timestamp = EXCLUDED.due_timestamp,
		     status = EXCLUDED.status`,
		account,
		loan.Principal.String(),
		strconv.FormatUint(loan.InterestRateBps, 10),
		loan.StartTimestamp,
		loan.DueTimestamp,
		string(loan.Status),
	)
	if err != nil {
		return fmt.Errorf("upsert loan: %w", err)
	}
	return nil
}

func (s *pgState) DeleteLoan(ctx context.Context, account string) error {
	if _, err := s.tx.Exec(ctx, `DELETE FROM loans WHERE account = $1`, account); err != nil {
		return fmt.Errorf("delete loan: %w", err)
	}
	return nil
}

func (s *pgState) ListLoans(ctx context.Context) ([]ledger.AccountLoan, error) {
	rows, err := s.tx.Query(ctx, `SELECT account, `+selectLoanColumns+` FROM loans ORDER BY account`)
	if err != nil {
		return nil, fmt.Errorf("select loans: %w", err)
	}
	defer rows.Close()

	var res []ledger.AccountLoan
	for rows.Next() {
		var account string
		loan, err := scanLoan(rows, &account)
		if err != nil {
			return nil, fmt.Errorf("scan loan: %w", err)
		}
		res = append(res, ledger.AccountLoan{Account: account, Loan: loan})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

func (s *pgState) AppendRepayment(ctx context.Context, account string, rec model.RepaymentRecord) error {
	_, err := s.tx.Exec(ctx,
		`INSERT INTO repayments (account, amount, repaid_at) VALUES ($1, $2::text::numeric, $3)`,
		account, rec.Amount.String(), rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert repayment: %w", err)
	}
	return nil
}

func (s *pgState) Repayments(ctx context.Context, account string) ([]model.RepaymentRecord, error) {
	rows, err := s.tx.Query(ctx,
		`SELECT repaid_at, amount::text FROM repayments WHERE account = $1 ORDER BY id`,
		account,
	)
	if err != nil {
		return nil, fmt.Errorf("select repayments: %w", err)
	}
	defer rows.Close()

	var res []model.RepaymentRecord
	for rows.Next() {
		var (
			rec    model.RepaymentRecord
			amount string
		)
		if err := rows.Scan(&rec.Timestamp, &amount); err != nil {
			return nil, fmt.Errorf("scan repayment: %w", err)
		}
		if rec.Amount, err = parseAmount(amount); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

func (s *pgState) AppendEvent(ctx context.Context, ev model.Event) error {
	_, err := s.tx.Exec(ctx,
		`INSERT INTO ledger_events (id, kind, account, amount, pool, detail, created_at)
		 VALUES ($1, $2, $3, $4::text::numeric, $5::text::numeric, $6, $7)`,
		ev.ID, string(ev.Kind), ev.Account, ev.Amount.String(), ev.Pool.String(), ev.Detail, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *pgState) Events(ctx context.Context, limit int) ([]model.Event, error) {
	if limit <= 0 {
		limit = math.MaxInt32
	}

	rows, err := s.tx.Query(ctx,
		`SELECT id, kind, account, amount::text, pool::text, detail, created_at
		 FROM ledger_events
		 ORDER BY seq DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select events: %w", err)
	}
	defer rows.Close()

	var res []model.Event
	for rows.Next() {
		var (
			ev     model.Event
			kind   string
			amount string
			pool   string
		)
		if err := rows.Scan(&ev.ID, &kind, &ev.Account, &amount, &pool, &ev.Detail, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Kind = model.EventKind(kind)
		if ev.Amount, err = parseAmount(amount); err != nil {
			return nil, err
		}
		if ev.Pool, err = parseAmount(pool); err != nil {
			return nil, err
		}
		res = append(res, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}
