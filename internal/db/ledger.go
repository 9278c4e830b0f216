package db

import (
	"database/sql"
	"errors"
	"fmt"
)

// ErrInsufficientCredits is returned by Debit when the user's balance cannot
// cover the requested amount.
var ErrInsufficientCredits = errors.New("insufficient credits")

// CreditEntry is one row of the append-only ledger backing every balance change.
type CreditEntry struct {
	ID        int64
	UserID    string
	Delta     int64
	Reason    string
	CreatedAt int64
}

// Balance returns the user's current credit balance. Unknown users have a
// balance of zero.
func Balance(database *sql.DB, userID string) (int64, error) {
	var balance int64
	err := database.QueryRow(`SELECT balance FROM credits WHERE user_id = ?`, userID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query balance for %s: %w", userID, err)
	}
	return balance, nil
}

// Credit adds amount to the user's balance and appends a ledger entry, both
// in one transaction. Amount must be positive.
func Credit(database *sql.DB, userID string, amount int64, reason string) error {
	if amount <= 0 {
		return fmt.Errorf("credit amount must be positive, got %d", amount)
	}
	tx, err := database.Begin()
	if err != nil {
		return fmt.Errorf("begin credit tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO credits (user_id, balance, updated_at) VALUES (?, ?, unixepoch())
		 ON CONFLICT(user_id) DO UPDATE SET balance = balance + ?, updated_at = unixepoch()`,
		userID, amount, amount,
	)
	if err != nil {
		return fmt.Errorf("credit %s: %w", userID, err)
	}
	if _, err := tx.Exec(
		`INSERT INTO credit_entries (user_id, delta, reason) VALUES (?, ?, ?)`,
		userID, amount, reason,
	); err != nil {
		return fmt.Errorf("append credit entry for %s: %w", userID, err)
	}
	return tx.Commit()
}

// Debit subtracts amount from the user's balance and appends a ledger entry.
// The balance check and the decrement happen in one guarded UPDATE, so
// concurrent debits cannot drive the balance negative. Returns
// ErrInsufficientCredits when the balance does not cover the amount.
func Debit(database *sql.DB, userID string, amount int64, reason string) error {
	if amount <= 0 {
		return fmt.Errorf("debit amount must be positive, got %d", amount)
	}
	tx, err := database.Begin()
	if err != nil {
		return fmt.Errorf("begin debit tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`UPDATE credits SET balance = balance - ?, updated_at = unixepoch()
		 WHERE user_id = ? AND balance >= ?`,
		amount, userID, amount,
	)
	if err != nil {
		return fmt.Errorf("debit %s: %w", userID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("debit %s: %w", userID, err)
	}
	if affected == 0 {
		return ErrInsufficientCredits
	}
	if _, err := tx.Exec(
		`INSERT INTO credit_entries (user_id, delta, reason) VALUES (?, ?, ?)`,
		userID, -amount, reason,
	); err != nil {
		return fmt.Errorf("append debit entry for %s: %w", userID, err)
	}
	return tx.Commit()
}

// ListCreditEntries returns a user's ledger entries, newest first.
func ListCreditEntries(database *sql.DB, userID string, limit int) ([]CreditEntry, error) {
	rows, err := database.Query(
		`SELECT id, user_id, delta, reason, created_at FROM credit_entries
		 WHERE user_id = ? ORDER BY id DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query credit entries for %s: %w", userID, err)
	}
	defer rows.Close()

	var entries []CreditEntry
	for rows.Next() {
		var e CreditEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Delta, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan credit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
