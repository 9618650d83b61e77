package db

import (
	"context"
	"database/sql"
)

// UpsertUpload records the stored filename for a transaction. Repeated
// uploads for the same transaction overwrite the filename.
func (db *DB) UpsertUpload(ctx context.Context, upload *Upload) error {
	var query string
	switch db.driver {
	case DriverMySQL:
		query = `
			INSERT INTO upload (transid, filename) VALUES (?, ?)
			ON DUPLICATE KEY UPDATE filename = VALUES(filename)
		`
	default:
		query = `
			INSERT INTO upload (transid, filename) VALUES (?, ?)
			ON CONFLICT (transid) DO UPDATE SET filename = excluded.filename
		`
	}

	_, err := db.exec(ctx, query, upload.TransactionID, upload.Filename)
	return err
}

// GetUpload retrieves the upload record of a transaction
func (db *DB) GetUpload(ctx context.Context, transactionID string) (*Upload, error) {
	upload := &Upload{}

	query := `SELECT transid, filename FROM upload WHERE transid = ?`

	err := db.queryRow(ctx, query, transactionID).Scan(&upload.TransactionID, &upload.Filename)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, err
	}

	return upload, nil
}

// CountUploads returns the number of upload records for a transaction
func (db *DB) CountUploads(ctx context.Context, transactionID string) (int, error) {
	var n int
	err := db.queryRow(ctx, `SELECT COUNT(*) FROM upload WHERE transid = ?`, transactionID).Scan(&n)
	return n, err
}
