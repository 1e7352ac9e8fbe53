package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/matrixai/api/internal/model"
	"github.com/matrixai/api/internal/repository"
)

// LedgerService charges and refunds coins
type LedgerService struct {
	repo repository.LedgerRepository
	log  zerolog.Logger
}

func NewLedgerService(repo repository.LedgerRepository, log zerolog.Logger) *LedgerService {
	return &LedgerService{
		repo: repo,
		log:  log.With().Str("component", "ledger").Logger(),
	}
}

// Charge debits amount from the owner. Exactly one transaction is recorded
// for every call that reaches an existing account; an uncovered charge is
// recorded as failed and returns model.ErrInsufficientFunds.
func (s *LedgerService) Charge(ctx context.Context, ownerID string, amount int64, label string) (*model.Receipt, error) {
	if amount <= 0 {
		return nil, model.ErrInvalidAmount
	}

	txn, err := s.repo.Debit(ctx, ownerID, amount, label)
	if err != nil {
		if errors.Is(err, model.ErrInsufficientFunds) {
			s.log.Info().Str("owner_id", ownerID).Int64("amount", amount).Msg("charge rejected: insufficient funds")
			return nil, err
		}
		if errors.Is(err, model.ErrAccountNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to charge account: %w", err)
	}

	s.log.Info().Str("owner_id", ownerID).Int64("amount", amount).Int64("balance", txn.ResultingBalance).
		Str("label", label).Msg("charge applied")

	return &model.Receipt{
		TransactionID: txn.ID,
		OwnerID:       ownerID,
		Amount:        amount,
		Balance:       txn.ResultingBalance,
	}, nil
}

// Refund credits amount back to the owner
func (s *LedgerService) Refund(ctx context.Context, ownerID string, amount int64, label string) error {
	if amount <= 0 {
		return model.ErrInvalidAmount
	}

	txn, err := s.repo.Credit(ctx, ownerID, amount, label)
	if err != nil {
		return fmt.Errorf("failed to refund account: %w", err)
	}

	s.log.Info().Str("owner_id", ownerID).Int64("amount", amount).Int64("balance", txn.ResultingBalance).
		Str("label", label).Msg("refund applied")
	return nil
}

// Balance returns the owner's coin balance
func (s *LedgerService) Balance(ctx context.Context, ownerID string) (*model.BalanceResponse, error) {
	coins, err := s.repo.Balance(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return &model.BalanceResponse{OwnerID: ownerID, Coins: coins}, nil
}

// Transactions returns one page of the owner's transaction log, newest first
func (s *LedgerService) Transactions(ctx context.Context, ownerID string, page, perPage int) (*model.TransactionListResponse, error) {
	page, perPage = normalizePage(page, perPage)

	txns, total, err := s.repo.ListTransactions(ctx, ownerID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	return &model.TransactionListResponse{
		Transactions: txns,
		Page:         page,
		PerPage:      perPage,
		Total:        total,
	}, nil
}

func normalizePage(page, perPage int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 20
	}
	if perPage > 100 {
		perPage = 100
	}
	return page, perPage
}
