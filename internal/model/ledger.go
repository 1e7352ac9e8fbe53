package model

import "time"

// Account holds a user's coin balance
type Account struct {
	OwnerID   string    `json:"ownerId"`
	Coins     int64     `json:"coins"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Transaction is an append-only record of one ledger movement
type Transaction struct {
	ID               int64              `json:"id"`
	OwnerID          string             `json:"ownerId"`
	Amount           int64              `json:"amount"`
	Label            string             `json:"label"`
	ResultingBalance int64              `json:"resultingBalance"`
	Outcome          TransactionOutcome `json:"outcome"`
	CreatedAt        time.Time          `json:"createdAt"`
}

// Receipt confirms a successful charge
type Receipt struct {
	TransactionID int64  `json:"transactionId"`
	OwnerID       string `json:"ownerId"`
	Amount        int64  `json:"amount"`
	Balance       int64  `json:"balance"`
}

// BalanceResponse represents the response for GET /api/ledger/balance
type BalanceResponse struct {
	OwnerID string `json:"ownerId"`
	Coins   int64  `json:"coins"`
}

// TransactionListResponse represents the response for GET /api/ledger/transactions
type TransactionListResponse struct {
	Transactions []*Transaction `json:"transactions"`
	Page         int            `json:"page"`
	PerPage      int            `json:"perPage"`
	Total        int            `json:"total"`
}
