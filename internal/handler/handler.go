// Package handler содержит HTTP-обработчики API кредитного пула.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/lendpool/internal/ledger"
	"github.com/mmeshcher/lendpool/internal/middleware"
	"github.com/mmeshcher/lendpool/internal/model"
	"github.com/mmeshcher/lendpool/internal/service"
	"github.com/mmeshcher/lendpool/internal/validation"
)

const (
	defaultEventsLimit = 100
	maxEventsLimit     = 1000
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Owner() string

	Deposit(ctx context.Context, account string, amount model.Amount) (ledger.Receipt, error)
	Withdraw(ctx context.Context, account string, amount model.Amount) (ledger.Receipt, error)
	PoolBalance(ctx context.Context) (model.Amount, error)
	LenderBalance(ctx context.Context, account string) (model.Amount, error)

	StakingRewards(ctx context.Context, account string) (model.Amount, error)
	ClaimStakingRewards(ctx context.Context, account string) (ledger.Receipt, error)

	CreateLoan(ctx context.Context, borrower string, amount model.Amount, rateBps uint64) (ledger.Receipt, error)
	SetLoanStatus(ctx context.Context, caller, borrower string, status model.LoanStatus) (ledger.Receipt, error)
	Repay(ctx context.Context, borrower string, amount model.Amount) (ledger.Receipt, error)
	ViewLoan(ctx context.Context, account string) (*ledger.LoanView, error)
	LoanStatus(ctx context.Context, account string) (string, error)
	EstimateRepayment(ctx context.Context, account string) (model.Amount, bool, error)
	RepaymentHistory(ctx context.Context, account string) ([]model.RepaymentRecord, error)

	SetVerified(ctx context.Context, caller, account string, verified bool) (ledger.Receipt, error)
	SetCreditScore(ctx context.Context, caller, account string, score uint64) (ledger.Receipt, error)
	CreditRecord(ctx context.Context, account string) (model.CreditRecord, error)

	Events(ctx context.Context, caller string, limit int) ([]model.Event, error)
}

// Handler реализует HTTP-обработчики API кредитного пула.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	metrics        http.Handler
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
// metrics может быть nil, тогда /metrics не публикуется.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, metrics http.Handler) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		metrics:        metrics,
	}
}

// statusFor сопоставляет ошибку леджера HTTP-статусу.
func statusFor(err error) (int, bool) {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, ledger.ErrAmountOverflow):
		return http.StatusBadRequest, true
	case errors.Is(err, ledger.ErrNotVerified), errors.Is(err, ledger.ErrUnauthorized):
		return http.StatusForbidden, true
	case errors.Is(err, ledger.ErrLoanAlreadyExists), errors.Is(err, ledger.ErrInvalidTransition):
		return http.StatusConflict, true
	case errors.Is(err, ledger.ErrExceedsMaxAmount), errors.Is(err, ledger.ErrAmountBelowPenalty):
		return http.StatusUnprocessableEntity, true
	case errors.Is(err, ledger.ErrInsufficientLiquidity),
		errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrNoRewardsAvailable):
		return http.StatusPaymentRequired, true
	case errors.Is(err, ledger.ErrNoActiveLoan):
		return http.StatusNotFound, true
	case errors.Is(err, service.ErrPayoutFailed):
		return http.StatusBadGateway, true
	}
	return 0, false
}

func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	if status, ok := statusFor(err); ok {
		if status == http.StatusBadGateway {
			h.logger.Warn(op+" payout error", zap.Error(err))
			http.Error(w, http.StatusText(status), status)
			return
		}
		http.Error(w, err.Error(), status)
		return
	}
	h.logger.Error(op+" error", zap.Error(err))
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func callerFrom(w http.ResponseWriter, r *http.Request) (string, bool) {
	caller, ok := middleware.GetAccountFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	}
	return caller, ok
}

func accountParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	account := chi.URLParam(r, "account")
	if !validation.IsValidAccountID(account) {
		http.Error(w, "invalid account id", http.StatusBadRequest)
		return "", false
	}
	return account, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return false
	}
	return true
}

type amountRequest struct {
	Amount model.Amount `json:"amount"`
}

type receiptResponse struct {
	Events    []model.Event    `json:"events"`
	Transfers []model.Transfer `json:"transfers,omitempty"`
}

func newReceiptResponse(r ledger.Receipt) receiptResponse {
	events := r.Events
	if events == nil {
		events = []model.Event{}
	}
	return receiptResponse{Events: events, Transfers: r.Transfers}
}

type balanceResponse struct {
	Account string       `json:"account,omitempty"`
	Balance model.Amount `json:"balance"`
}

// Deposit зачисляет вклад текущего пользователя в пул.
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	var req amountRequest
	if !decodeBody(w, r, &req) {
		return
	}

	receipt, err := h.service.Deposit(r.Context(), caller, req.Amount)
	if err != nil {
		h.writeError(w, "deposit", err)
		return
	}
	writeJSON(w, http.StatusOK, newReceiptResponse(receipt))
}

// Withdraw выводит часть вклада текущего пользователя.
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	var req amountRequest
	if !decodeBody(w, r, &req) {
		return
	}

	receipt, err := h.service.Withdraw(r.Context(), caller, req.Amount)
	if err != nil {
		h.writeError(w, "withdraw", err)
		return
	}
	writeJSON(w, http.StatusOK, newReceiptResponse(receipt))
}

// GetPoolBalance возвращает ликвидность пула.
func (h *Handler) GetPoolBalance(w http.ResponseWriter, r *http.Request) {
	pool, err := h.service.PoolBalance(r.Context())
	if err != nil {
		h.writeError(w, "pool balance", err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Balance: pool})
}

// GetLenderBalance возвращает вклад кредитора.
func (h *Handler) GetLenderBalance(w http.ResponseWriter, r *http.Request) {
	account, ok := accountParam(w, r)
	if !ok {
		return
	}

	bal, err := h.service.LenderBalance(r.Context(), account)
	if err != nil {
		h.writeError(w, "lender balance", err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Account: account, Balance: bal})
}

type rewardsResponse struct {
	Account string       `json:"account"`
	Rewards model.Amount `json:"rewards"`
}

// GetRewards возвращает текущее вознаграждение кредитора.
func (h *Handler) GetRewards(w http.ResponseWriter, r *http.Request) {
	account, ok := accountParam(w, r)
	if !ok {
		return
	}

	reward, err := h.service.StakingRewards(r.Context(), account)
	if err != nil {
		h.writeError(w, "staking rewards", err)
		return
	}
	writeJSON(w, http.StatusOK, rewardsResponse{Account: account, Rewards: reward})
}

// ClaimRewards выплачивает вознаграждение текущему пользователю.
func (h *Handler) ClaimRewards(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	receipt, err := h.service.ClaimStakingRewards(r.Context(), caller)
	if err != nil {
		h.writeError(w, "claim rewards", err)
		return
	}
	writeJSON(w, http.StatusOK, newReceiptResponse(receipt))
}

type createLoanRequest struct {
	Account         string       `json:"account"`
	Amount          model.Amount `json:"amount"`
	InterestRateBps uint64       `json:"interest_rate_bps"`
}

// CreateLoan создаёт заявку на заём. Пустой account означает текущего пользователя;
// оформить заём на другой аккаунт может только администратор.
func (h *Handler) CreateLoan(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	var req createLoanRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Account == "" {
		req.Account = caller
	}
	if !validation.IsValidAccountID(req.Account) {
		http.Error(w, "invalid account id", http.StatusBadRequest)
		return
	}
	if req.Account != caller && caller != h.service.Owner() {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	receipt, err := h.service.CreateLoan(r.Context(), req.Account, req.Amount, req.InterestRateBps)
	if err != nil {
		h.writeError(w, "create loan", err)
		return
	}
	writeJSON(w, http.StatusCreated, newReceiptResponse(receipt))
}

type loanResponse struct {
	Account        string       `json:"account"`
	DisplayStatus  string       `json:"display_status"`
	OverduePenalty model.Amount `json:"overdue_penalty"`
	model.Loan
}

// GetLoan возвращает заём аккаунта.
func (h *Handler) GetLoan(w http.ResponseWriter, r *http.Request) {
	account, ok := accountParam(w, r)
	if !ok {
		return
	}

	view, err := h.service.ViewLoan(r.Context(), account)
	if err != nil {
		h.writeError(w, "view loan", err)
		return
	}
	if view == nil {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, loanResponse{
		Account:        account,
		DisplayStatus:  view.DisplayStatus,
		OverduePenalty: view.OverduePenalty,
		Loan:           view.Loan,
	})
}

type statusResponse struct {
	Account string `json:"account"`
	Status  string `json:"status"`
}

// GetLoanStatus возвращает отображаемый статус займа.
func (h *Handler) GetLoanStatus(w http.ResponseWriter, r *http.Request) {
	account, ok := accountParam(w, r)
	if !ok {
		return
	}

	status, err := h.service.LoanStatus(r.Context(), account)
	if err != nil {
		h.writeError(w, "loan status", err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Account: account, Status: status})
}

type estimateResponse struct {
	Account string       `json:"account"`
	Amount  model.Amount `json:"amount"`
}

// GetEstimate возвращает оценку суммы погашения.
func (h *Handler) GetEstimate(w http.ResponseWriter, r *http.Request) {
	account, ok := accountParam(w, r)
	if !ok {
		return
	}

	amount, found, err := h.service.EstimateRepayment(r.Context(), account)
	if err != nil {
		h.writeError(w, "estimate repayment", err)
		return
	}
	if !found {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, estimateResponse{Account: account, Amount: amount})
}

// Repay принимает платёж заёмщика по собственному займу.
func (h *Handler) Repay(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	account, ok := accountParam(w, r)
	if !ok {
		return
	}
	if account != caller {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	var req amountRequest
	if !decodeBody(w, r, &req) {
		return
	}

	receipt, err := h.service.Repay(r.Context(), account, req.Amount)
	if err != nil {
		h.writeError(w, "repay", err)
		return
	}
	writeJSON(w, http.StatusOK, newReceiptResponse(receipt))
}

// GetRepayments возвращает историю погашений аккаунта.
func (h *Handler) GetRepayments(w http.ResponseWriter, r *http.Request) {
	account, ok := accountParam(w, r)
	if !ok {
		return
	}

	history, err := h.service.RepaymentHistory(r.Context(), account)
	if err != nil {
		h.writeError(w, "repayment history", err)
		return
	}
	if len(history) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

type creditResponse struct {
	Account string `json:"account"`
	model.CreditRecord
}

// GetCredit возвращает кредитную запись аккаунта.
func (h *Handler) GetCredit(w http.ResponseWriter, r *http.Request) {
	account, ok := accountParam(w, r)
	if !ok {
		return
	}

	rec, err := h.service.CreditRecord(r.Context(), account)
	if err != nil {
		h.writeError(w, "credit record", err)
		return
	}
	writeJSON(w, http.StatusOK, creditResponse{Account: account, CreditRecord: rec})
}

type loanStatusRequest struct {
	Status string `json:"status"`
}

// SetLoanStatus меняет статус займа. Только для администратора.
func (h *Handler) SetLoanStatus(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	account, ok := accountParam(w, r)
	if !ok {
		return
	}

	var req loanStatusRequest
	if !decodeBody(w, r, &req) {
		return
	}
	status, err := model.ParseLoanStatus(req.Status)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	receipt, err := h.service.SetLoanStatus(r.Context(), caller, account, status)
	if err != nil {
		h.writeError(w, "set loan status", err)
		return
	}
	writeJSON(w, http.StatusOK, newReceiptResponse(receipt))
}

type verifiedRequest struct {
	Verified *bool `json:"verified"`
}

// SetVerified меняет флаг верификации аккаунта. Только для администратора.
func (h *Handler) SetVerified(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	account, ok := accountParam(w, r)
	if !ok {
		return
	}

	var req verifiedRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Verified == nil {
		http.Error(w, "verified is required", http.StatusBadRequest)
		return
	}

	receipt, err := h.service.SetVerified(r.Context(), caller, account, *req.Verified)
	if err != nil {
		h.writeError(w, "verify user", err)
		return
	}
	writeJSON(w, http.StatusOK, newReceiptResponse(receipt))
}

type scoreRequest struct {
	Score *uint64 `json:"score"`
}

// SetCreditScore устанавливает кредитный порог аккаунта. Только для администратора.
func (h *Handler) SetCreditScore(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	account, ok := accountParam(w, r)
	if !ok {
		return
	}

	var req scoreRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Score == nil {
		http.Error(w, "score is required", http.StatusBadRequest)
		return
	}

	receipt, err := h.service.SetCreditScore(r.Context(), caller, account, *req.Score)
	if err != nil {
		h.writeError(w, "set credit score", err)
		return
	}
	writeJSON(w, http.StatusOK, newReceiptResponse(receipt))
}

// GetEvents возвращает журнал аудита. Только для администратора.
func (h *Handler) GetEvents(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	limit := defaultEventsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxEventsLimit)
	}

	events, err := h.service.Events(r.Context(), caller, limit)
	if err != nil {
		h.writeError(w, "events", err)
		return
	}
	if len(events) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, events)
}
