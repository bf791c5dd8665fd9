package db

import "time"

// Key is a stored disk key. The plaintext never leaves the handler layer.
type Key struct {
	ID                string     `json:"id"`
	KeyEncrypted      []byte     `json:"-"`
	Length            int        `json:"length"`
	Label             string     `json:"label"`
	CreatedAt         time.Time  `json:"created_at"`
	LastTransferredAt *time.Time `json:"last_transferred_at"`
	TransferCount     int        `json:"transfer_count"`
}
