package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/matrixai/api/internal/middleware"
	"github.com/matrixai/api/internal/model"
	"github.com/matrixai/api/internal/service"
	"github.com/matrixai/api/pkg/response"
)

type LedgerHandler struct {
	service *service.LedgerService
}

func NewLedgerHandler(svc *service.LedgerService) *LedgerHandler {
	return &LedgerHandler{service: svc}
}

// Balance handles GET /api/ledger/balance
// @Summary      Get coin balance
// @Tags         Ledger
// @Produce      json
// @Success      200 {object} model.BalanceResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/ledger/balance [get]
func (h *LedgerHandler) Balance(c *fiber.Ctx) error {
	result, err := h.service.Balance(c.UserContext(), middleware.GetUserID(c))
	if err != nil {
		if errors.Is(err, model.ErrAccountNotFound) {
			return response.AccountNotFound(c)
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// Transactions handles GET /api/ledger/transactions
// @Summary      List coin transactions
// @Description  List the caller's charges, failed charges and refunds, newest first
// @Tags         Ledger
// @Produce      json
// @Param        page    query int false "Page number (1-based)"
// @Param        perPage query int false "Page size (max 100)"
// @Success      200 {object} model.TransactionListResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/ledger/transactions [get]
func (h *LedgerHandler) Transactions(c *fiber.Ctx) error {
	result, err := h.service.Transactions(c.UserContext(), middleware.GetUserID(c), c.QueryInt("page", 1), c.QueryInt("perPage", 20))
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}
