package db

import (
	"database/sql"
	"errors"
	"fmt"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var ErrKeyDuplicate = errors.New("key already exists")

const keyColumns = `id, key_encrypted, key_len, label, created_at, last_transferred_at, transfer_count`

// CreateKey inserts a new key.
func (s *Store) CreateKey(k *Key) error {
	_, err := s.db.Exec(
		`INSERT INTO keys (id, key_encrypted, key_len, label) VALUES (?, ?, ?, ?)`,
		k.ID, k.KeyEncrypted, k.Length, k.Label,
	)
	if err != nil {
		var sqliteErr *sqlite.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY {
			return ErrKeyDuplicate
		}
		return fmt.Errorf("insert key: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanKey(row scanner) (*Key, error) {
	k := &Key{}
	var last sql.NullTime
	if err := row.Scan(&k.ID, &k.KeyEncrypted, &k.Length, &k.Label, &k.CreatedAt, &last, &k.TransferCount); err != nil {
		return nil, err
	}
	if last.Valid {
		k.LastTransferredAt = &last.Time
	}
	return k, nil
}

// GetKey retrieves a key by ID. It returns nil, nil when absent.
func (s *Store) GetKey(id string) (*Key, error) {
	k, err := scanKey(s.db.QueryRow(`SELECT `+keyColumns+` FROM keys WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get key: %w", err)
	}
	return k, nil
}

// ListKeys returns all keys ordered by creation time, without ciphertext.
func (s *Store) ListKeys() ([]Key, error) {
	rows, err := s.db.Query(`SELECT ` + keyColumns + ` FROM keys ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	var keys []Key
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		k.KeyEncrypted = nil
		keys = append(keys, *k)
	}
	return keys, rows.Err()
}

// DeleteKey deletes a key by ID. Returns true if a row was deleted.
func (s *Store) DeleteKey(id string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM keys WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete key: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// RecordTransfer bumps the transfer counter and timestamp of a key.
func (s *Store) RecordTransfer(id string) error {
	_, err := s.db.Exec(
		`UPDATE keys SET last_transferred_at = CURRENT_TIMESTAMP, transfer_count = transfer_count + 1 WHERE id = ?`,
		id,
	)
	if err != nil {
		return fmt.Errorf("record transfer: %w", err)
	}
	return nil
}
