package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/micro-ha/loqed-bridge/addon/internal/pkg/utils"
)

// LoadCapabilities returns the capability set of a device with the last
// written value of each. Capabilities never written map to nil.
func (r *Repository) LoadCapabilities(ctx context.Context, deviceID string) (map[string]any, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT capability, value_json FROM device_capabilities WHERE device_id = ?`, deviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]any{}
	for rows.Next() {
		var (
			name  string
			value sql.NullString
		)
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		decoded, err := decodeValue(value)
		if err != nil {
			return nil, fmt.Errorf("decode capability %s/%s: %w", deviceID, name, err)
		}
		out[name] = decoded
	}
	return out, rows.Err()
}

// AddCapability registers a capability without a value. Adding an existing
// capability keeps its value.
func (r *Repository) AddCapability(ctx context.Context, deviceID string, name string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO device_capabilities(device_id, capability, value_json, updated_at)
		VALUES (?, ?, NULL, ?)
		ON CONFLICT(device_id, capability) DO NOTHING`,
		deviceID, name, formatTime(utils.NowUTC()))
	return err
}

// RemoveCapability drops a capability and its value.
func (r *Repository) RemoveCapability(ctx context.Context, deviceID string, name string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM device_capabilities WHERE device_id = ? AND capability = ?`, deviceID, name)
	return err
}

// SetCapabilityValue writes the value of an existing capability.
func (r *Repository) SetCapabilityValue(ctx context.Context, deviceID string, name string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode capability %s: %w", name, err)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE device_capabilities SET value_json = ?, updated_at = ?
		WHERE device_id = ? AND capability = ?`,
		string(encoded), formatTime(utils.NowUTC()), deviceID, name)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: capability %s on %s", ErrNotFound, name, deviceID)
	}
	return nil
}

// SwapCapability retires one capability and adds another carrying value,
// in a single transaction.
func (r *Repository) SwapCapability(ctx context.Context, deviceID string, retire string, add string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode capability %s: %w", add, err)
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if retire != "" && retire != add {
		if _, err := tx.ExecContext(ctx, `DELETE FROM device_capabilities WHERE device_id = ? AND capability = ?`, deviceID, retire); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO device_capabilities(device_id, capability, value_json, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(device_id, capability) DO UPDATE SET
			value_json=excluded.value_json,
			updated_at=excluded.updated_at`,
		deviceID, add, string(encoded), formatTime(utils.NowUTC())); err != nil {
		return err
	}
	return tx.Commit()
}

func decodeValue(v sql.NullString) (any, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	var out any
	if err := json.Unmarshal([]byte(v.String), &out); err != nil {
		return nil, err
	}
	return out, nil
}
