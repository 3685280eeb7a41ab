package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/josh-kwaku/eventsourced-accounts/internal/domain"
	"github.com/josh-kwaku/eventsourced-accounts/internal/logging"
	"github.com/josh-kwaku/eventsourced-accounts/internal/service"
)

type transferService interface {
	TransferFunds(ctx context.Context, req service.TransferRequest) (*service.TransferResult, error)
}

type TransferHandler struct {
	transfers transferService
}

func NewTransferHandler(transfers transferService) *TransferHandler {
	return &TransferHandler{transfers: transfers}
}

type createTransferRequest struct {
	FromAccountID string `json:"from_account_id"`
	ToAccountID   string `json:"to_account_id"`
	Amount        string `json:"amount"`
}

func (r createTransferRequest) Validate() []FieldError {
	var errs []FieldError

	if r.FromAccountID == "" {
		errs = append(errs, FieldError{Field: "from_account_id", Message: "required"})
	} else if _, err := uuid.Parse(r.FromAccountID); err != nil {
		errs = append(errs, FieldError{Field: "from_account_id", Message: "must be a UUID"})
	}

	if r.ToAccountID == "" {
		errs = append(errs, FieldError{Field: "to_account_id", Message: "required"})
	} else if _, err := uuid.Parse(r.ToAccountID); err != nil {
		errs = append(errs, FieldError{Field: "to_account_id", Message: "must be a UUID"})
	}

	if r.Amount == "" {
		errs = append(errs, FieldError{Field: "amount", Message: "required"})
	}

	return errs
}

type transferDTO struct {
	Amount string     `json:"amount"`
	From   accountDTO `json:"from"`
	To     accountDTO `json:"to"`
}

func (h *TransferHandler) Create(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req createTransferRequest
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

	res, err := h.transfers.TransferFunds(r.Context(), service.TransferRequest{
		From:   uuid.MustParse(req.FromAccountID),
		To:     uuid.MustParse(req.ToAccountID),
		Amount: amount,
	})
	if err != nil {
		log.Warn("transfer failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusCreated, transferDTO{
		Amount: amount.String(),
		From:   toAccountDTO(res.Debit),
		To:     toAccountDTO(res.Credit),
	})
}
