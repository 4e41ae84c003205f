package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/cheth/backend/internal/models"
)

var ErrNotFound = errors.New("record not found")

// Store wraps all database access for users and games.
type Store struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// UpsertUser creates or updates the lichess-id -> wallet mapping.
func (s *Store) UpsertUser(ctx context.Context, lichessID, walletAddress string) (*models.User, error) {
	var user models.User
	err := s.db.GetContext(ctx, &user, `
		INSERT INTO users (lichess_id, wallet_address, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (lichess_id) DO UPDATE SET
			wallet_address = EXCLUDED.wallet_address,
			updated_at = NOW()
		RETURNING id, lichess_id, wallet_address, created_at, updated_at
	`, lichessID, walletAddress)
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return &user, nil
}

// GetUserByLichessID fetches a user by their Lichess account id.
func (s *Store) GetUserByLichessID(ctx context.Context, lichessID string) (*models.User, error) {
	var user models.User
	err := s.db.GetContext(ctx, &user, `SELECT * FROM users WHERE lichess_id=$1`, lichessID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// PairOrCreateGame joins the oldest open game at any wager, or creates a new
// pending one. FOR UPDATE SKIP LOCKED makes the claim atomic under concurrent
// pairing requests.
func (s *Store) PairOrCreateGame(ctx context.Context, userID int, wagerAmount float64) (*models.Game, bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin pairing tx: %w", err)
	}
	defer tx.Rollback()

	var pending models.Game
	err = tx.GetContext(ctx, &pending, `
		SELECT * FROM games
		WHERE is_active = FALSE AND player2_id IS NULL AND player1_id != $1
		ORDER BY created_at
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`, userID)

	if err == nil {
		var joined models.Game
		err = tx.GetContext(ctx, &joined, `
			UPDATE games SET player2_id=$1, is_active=TRUE, status=$2
			WHERE id=$3
			RETURNING *
		`, userID, models.GameStatusActive, pending.ID)
		if err != nil {
			return nil, false, fmt.Errorf("join pending game: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, false, err
		}
		return &joined, true, nil
	}
	if err != sql.ErrNoRows {
		return nil, false, fmt.Errorf("query pending game: %w", err)
	}

	var created models.Game
	err = tx.GetContext(ctx, &created, `
		INSERT INTO games (wager_amount, player1_id, is_active, status, created_at)
		VALUES ($1, $2, FALSE, $3, NOW())
		RETURNING *
	`, wagerAmount, userID, models.GameStatusPending)
	if err != nil {
		return nil, false, fmt.Errorf("create game: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return &created, false, nil
}

// GetGame fetches a game by internal id.
func (s *Store) GetGame(ctx context.Context, id int) (*models.Game, error) {
	var game models.Game
	err := s.db.GetContext(ctx, &game, `SELECT * FROM games WHERE id=$1`, id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &game, nil
}

// SetContractGameID stores the on-chain game id once the contract game exists.
func (s *Store) SetContractGameID(ctx context.Context, gameID int, contractGameID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE games SET contract_game_id=$1 WHERE id=$2`, contractGameID, gameID)
	return err
}

// SetLichessGameID stores the external chess session id.
func (s *Store) SetLichessGameID(ctx context.Context, gameID int, lichessGameID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE games SET lichess_game_id=$1 WHERE id=$2`, lichessGameID, gameID)
	return err
}

// RecordSettlement marks the game settled with winner, tx hash and payout.
func (s *Store) RecordSettlement(ctx context.Context, gameID, winnerID int, txHash string, payoutAmount float64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE games SET winner_id=$1, transaction_hash=$2, payout_amount=$3,
			status=$4, is_active=FALSE, completed_at=NOW()
		WHERE id=$5
	`, winnerID, txHash, payoutAmount, models.GameStatusSettled, gameID)
	return err
}

// MarkStatus updates the game status only; payout_amount is never touched here.
func (s *Store) MarkStatus(ctx context.Context, gameID int, status string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE games SET status=$1 WHERE id=$2`, status, gameID)
	return err
}

// MarkSettlementInconsistent records a confirmed transaction whose payout
// could not be read back.
func (s *Store) MarkSettlementInconsistent(ctx context.Context, gameID int, txHash string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE games SET transaction_hash=$1, status=$2 WHERE id=$3
	`, txHash, models.GameStatusSettlementInconsistent, gameID)
	return err
}

// ListWagersByWallet returns games involving any user with this wallet address.
func (s *Store) ListWagersByWallet(ctx context.Context, walletAddress string) ([]models.Game, error) {
	var games []models.Game
	err := s.db.SelectContext(ctx, &games, `
		SELECT g.* FROM games g
		JOIN users u ON u.id IN (g.player1_id, g.player2_id)
		WHERE u.wallet_address = $1
		ORDER BY g.created_at DESC
	`, walletAddress)
	if err != nil {
		return nil, err
	}
	return games, nil
}
