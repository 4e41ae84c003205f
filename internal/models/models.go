package models

import (
	"database/sql"
	"time"
)

// Game status values as persisted in the games table.
const (
	GameStatusPending                = "PENDING"
	GameStatusActive                 = "ACTIVE"
	GameStatusFinished               = "FINISHED"
	GameStatusSettled                = "SETTLED"
	GameStatusDraw                   = "DRAW"
	GameStatusAbandoned              = "ABANDONED"
	GameStatusSettlementInconsistent = "SETTLEMENT_INCONSISTENT"
)

// User maps a Lichess account to a wallet address
type User struct {
	ID            int       `db:"id" json:"id"`
	LichessID     string    `db:"lichess_id" json:"lichess_id"`
	WalletAddress string    `db:"wallet_address" json:"wallet_address"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// Game represents a wagered chess match between two players
type Game struct {
	ID              int             `db:"id" json:"id"`
	WagerAmount     float64         `db:"wager_amount" json:"wager_amount"`
	Player1ID       int             `db:"player1_id" json:"player1_id"`
	Player2ID       sql.NullInt64   `db:"player2_id" json:"player2_id,omitempty"`
	ContractGameID  sql.NullInt64   `db:"contract_game_id" json:"contract_game_id,omitempty"`
	LichessGameID   sql.NullString  `db:"lichess_game_id" json:"lichess_game_id,omitempty"`
	WinnerID        sql.NullInt64   `db:"winner_id" json:"winner_id,omitempty"`
	TransactionHash sql.NullString  `db:"transaction_hash" json:"transaction_hash,omitempty"`
	PayoutAmount    sql.NullFloat64 `db:"payout_amount" json:"payout_amount,omitempty"`
	Status          string          `db:"status" json:"status"`
	IsActive        bool            `db:"is_active" json:"is_active"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	CompletedAt     sql.NullTime    `db:"completed_at" json:"completed_at,omitempty"`
}
