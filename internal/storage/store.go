package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/micro-ha/loqed-bridge/addon/internal/pkg/utils"
)

// GetStoreValue reads one per-device key.
func (r *Repository) GetStoreValue(ctx context.Context, deviceID string, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM device_store WHERE device_id = ? AND key = ?`, deviceID, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: store key %s on %s", ErrNotFound, key, deviceID)
	}
	return value, err
}

// SetStoreValue writes one per-device key.
func (r *Repository) SetStoreValue(ctx context.Context, deviceID string, key string, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO device_store(device_id, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(device_id, key) DO UPDATE SET
			value=excluded.value,
			updated_at=excluded.updated_at`,
		deviceID, key, value, formatTime(utils.NowUTC()))
	return err
}

// DeleteStoreValue clears one per-device key. Missing keys are not an error.
func (r *Repository) DeleteStoreValue(ctx context.Context, deviceID string, key string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM device_store WHERE device_id = ? AND key = ?`, deviceID, key)
	return err
}
