package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/josh-kwaku/eventsourced-accounts/internal/domain"
	"github.com/josh-kwaku/eventsourced-accounts/internal/logging"
)

type accountService interface {
	CreateAccount(ctx context.Context) (*domain.Account, error)
	GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	DepositFunds(ctx context.Context, id uuid.UUID, amount domain.Money) (*domain.Account, error)
	WithdrawFunds(ctx context.Context, id uuid.UUID, amount domain.Money) (*domain.Account, error)
	SetOverdraftLimit(ctx context.Context, id uuid.UUID, limit domain.Money) (*domain.Account, error)
	CloseAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error)
}

type AccountHandler struct {
	accounts accountService
}

func NewAccountHandler(accounts accountService) *AccountHandler {
	return &AccountHandler{accounts: accounts}
}

type amountRequest struct {
	Amount string `json:"amount"`
}

func (r amountRequest) Validate() []FieldError {
	var errs []FieldError
	if r.Amount == "" {
		errs = append(errs, FieldError{Field: "amount", Message: "required"})
	}
	return errs
}

type overdraftLimitRequest struct {
	OverdraftLimit string `json:"overdraft_limit"`
}

func (r overdraftLimitRequest) Validate() []FieldError {
	var errs []FieldError
	if r.OverdraftLimit == "" {
		errs = append(errs, FieldError{Field: "overdraft_limit", Message: "required"})
	}
	return errs
}

type accountDTO struct {
	ID             uuid.UUID `json:"id"`
	Version        int64     `json:"version"`
	Balance        string    `json:"balance"`
	OverdraftLimit string    `json:"overdraft_limit"`
	Closed         bool      `json:"closed"`
}

func toAccountDTO(s domain.AccountState) accountDTO {
	return accountDTO{
		ID:             s.ID,
		Version:        s.Version,
		Balance:        s.Balance,
		OverdraftLimit: s.OverdraftLimit,
		Closed:         s.Closed,
	}
}

func (h *AccountHandler) Create(w http.ResponseWriter, r *http.Request) {
	account, err := h.accounts.CreateAccount(r.Context())
	if err != nil {
		logging.FromContext(r.Context()).Error("failed to create account", "error", err)
		RespondDomainError(w, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/v1/accounts/%s", account.ID()))
	RespondSuccess(w, http.StatusCreated, toAccountDTO(account.State()))
}

func (h *AccountHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, appErr := accountIDFromPath(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	account, err := h.accounts.GetAccount(r.Context(), id)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toAccountDTO(account.State()))
}

func (h *AccountHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.moveFunds(w, r, "deposit", h.accounts.DepositFunds)
}

func (h *AccountHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.moveFunds(w, r, "withdrawal", h.accounts.WithdrawFunds)
}

func (h *AccountHandler) moveFunds(
	w http.ResponseWriter,
	r *http.Request,
	op string,
	move func(context.Context, uuid.UUID, domain.Money) (*domain.Account, error),
) {
	id, appErr := accountIDFromPath(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	amount, err := domain.ParseMoney(req.Amount)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	account, err := move(r.Context(), id, amount)
	if err != nil {
		logging.FromContext(r.Context()).Warn(op+" failed", "account_id", id, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toAccountDTO(account.State()))
}

func (h *AccountHandler) SetOverdraftLimit(w http.ResponseWriter, r *http.Request) {
	id, appErr := accountIDFromPath(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	var req overdraftLimitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	limit, err := domain.ParseMoney(req.OverdraftLimit)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	account, err := h.accounts.SetOverdraftLimit(r.Context(), id, limit)
	if err != nil {
		logging.FromContext(r.Context()).Warn("set overdraft limit failed", "account_id", id, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toAccountDTO(account.State()))
}

func (h *AccountHandler) Close(w http.ResponseWriter, r *http.Request) {
	id, appErr := accountIDFromPath(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	account, err := h.accounts.CloseAccount(r.Context(), id)
	if err != nil {
		logging.FromContext(r.Context()).Warn("close account failed", "account_id", id, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toAccountDTO(account.State()))
}
