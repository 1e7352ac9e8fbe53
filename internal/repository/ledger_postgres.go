package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/matrixai/api/internal/model"
)

// LedgerRepositoryPG implements LedgerRepository on PostgreSQL
type LedgerRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewLedgerRepository creates a ledger repository backed by PostgreSQL
func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepositoryPG {
	return &LedgerRepositoryPG{pool: pool}
}

func (r *LedgerRepositoryPG) CreateAccount(ctx context.Context, ownerID string, coins int64) error {
	_, err := r.pool.Exec(ctx, `
INSERT INTO accounts (owner_id, coins)
VALUES ($1, $2)
ON CONFLICT (owner_id) DO NOTHING;
`, ownerID, coins)
	return err
}

func (r *LedgerRepositoryPG) Balance(ctx context.Context, ownerID string) (int64, error) {
	var coins int64
	err := r.pool.QueryRow(ctx, `SELECT coins FROM accounts WHERE owner_id = $1;`, ownerID).Scan(&coins)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, model.ErrAccountNotFound
		}
		return 0, err
	}
	return coins, nil
}

// Debit runs the conditional decrement and the transaction insert in one
// database transaction, so concurrent debits can never both pass the check.
func (r *LedgerRepositoryPG) Debit(ctx context.Context, ownerID string, amount int64, label string) (*model.Transaction, error) {
	var result *model.Transaction
	var debitErr error

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var balance int64
		outcome := model.TransactionSuccess

		err := tx.QueryRow(ctx, `
UPDATE accounts
SET coins = coins - $2,
    updated_at = NOW()
WHERE owner_id = $1 AND coins >= $2
RETURNING coins;
`, ownerID, amount).Scan(&balance)
		if errors.Is(err, pgx.ErrNoRows) {
			err = tx.QueryRow(ctx, `SELECT coins FROM accounts WHERE owner_id = $1;`, ownerID).Scan(&balance)
			if errors.Is(err, pgx.ErrNoRows) {
				return model.ErrAccountNotFound
			}
			if err != nil {
				return fmt.Errorf("read balance: %w", err)
			}
			outcome = model.TransactionFailed
			debitErr = model.ErrInsufficientFunds
		} else if err != nil {
			return fmt.Errorf("debit account: %w", err)
		}

		txn, err := insertTransaction(ctx, tx, ownerID, amount, label, balance, outcome)
		if err != nil {
			return err
		}
		result = txn
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, debitErr
}

func (r *LedgerRepositoryPG) Credit(ctx context.Context, ownerID string, amount int64, label string) (*model.Transaction, error) {
	var result *model.Transaction

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var balance int64
		err := tx.QueryRow(ctx, `
UPDATE accounts
SET coins = coins + $2,
    updated_at = NOW()
WHERE owner_id = $1
RETURNING coins;
`, ownerID, amount).Scan(&balance)
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ErrAccountNotFound
		}
		if err != nil {
			return fmt.Errorf("credit account: %w", err)
		}

		txn, err := insertTransaction(ctx, tx, ownerID, amount, label, balance, model.TransactionRefunded)
		if err != nil {
			return err
		}
		result = txn
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *LedgerRepositoryPG) ListTransactions(ctx context.Context, ownerID string, limit, offset int) ([]*model.Transaction, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM ledger_transactions WHERE owner_id = $1;`, ownerID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx, `
SELECT id, owner_id, amount, label, resulting_balance, outcome, created_at
FROM ledger_transactions
WHERE owner_id = $1
ORDER BY id DESC
LIMIT $2 OFFSET $3;
`, ownerID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	txns := make([]*model.Transaction, 0, limit)
	for rows.Next() {
		var t model.Transaction
		if err := rows.Scan(&t.ID, &t.OwnerID, &t.Amount, &t.Label, &t.ResultingBalance, &t.Outcome, &t.CreatedAt); err != nil {
			return nil, 0, err
		}
		txns = append(txns, &t)
	}
	return txns, total, rows.Err()
}

func insertTransaction(ctx context.Context, tx pgx.Tx, ownerID string, amount int64, label string, balance int64, outcome model.TransactionOutcome) (*model.Transaction, error) {
	t := &model.Transaction{
		OwnerID:          ownerID,
		Amount:           amount,
		Label:            label,
		ResultingBalance: balance,
		Outcome:          outcome,
	}
	err := tx.QueryRow(ctx, `
INSERT INTO ledger_transactions (owner_id, amount, label, resulting_balance, outcome)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, created_at;
`, ownerID, amount, label, balance, outcome).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert transaction: %w", err)
	}
	return t, nil
}
