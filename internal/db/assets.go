package db

import (
	"database/sql"
	"fmt"
)

// Asset records one stored binary under a session folder.
type Asset struct {
	ID        int64
	SessionID string
	Name      string
	Path      string
	SHA256    string
	Bytes     int64
	CreatedAt int64
}

// InsertAsset records a stored asset and returns its row id.
func InsertAsset(database *sql.DB, a Asset) (int64, error) {
	res, err := database.Exec(
		`INSERT INTO assets (session_id, name, path, sha256, bytes) VALUES (?, ?, ?, ?, ?)`,
		a.SessionID, a.Name, a.Path, a.SHA256, a.Bytes,
	)
	if err != nil {
		return 0, fmt.Errorf("insert asset %s: %w", a.Name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get asset id: %w", err)
	}
	return id, nil
}

// ListSessionAssets returns a session's assets in insertion order.
func ListSessionAssets(database *sql.DB, sessionID string) ([]Asset, error) {
	rows, err := database.Query(
		`SELECT id, session_id, name, path, sha256, bytes, created_at
		 FROM assets WHERE session_id = ? ORDER BY id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query assets for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var assets []Asset
	for rows.Next() {
		var a Asset
		if err := rows.Scan(&a.ID, &a.SessionID, &a.Name, &a.Path, &a.SHA256, &a.Bytes, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

// DeleteSessionAssets removes all asset records of a session.
func DeleteSessionAssets(database *sql.DB, sessionID string) error {
	if _, err := database.Exec(`DELETE FROM assets WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete assets for session %s: %w", sessionID, err)
	}
	return nil
}
