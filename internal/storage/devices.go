package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/micro-ha/loqed-bridge/addon/internal/model"
	"github.com/micro-ha/loqed-bridge/addon/internal/pkg/utils"
)

// UpsertDevice inserts a device record or updates its name and settings.
func (r *Repository) UpsertDevice(ctx context.Context, rec model.DeviceRecord) error {
	id := strings.TrimSpace(rec.ID)
	if id == "" {
		return errors.New("device id is required")
	}
	settings, err := encodeSettings(rec.Settings)
	if err != nil {
		return err
	}
	now := formatTime(utils.NowUTC())
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO devices(id, name, variant, settings_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name,
			variant=excluded.variant,
			settings_json=excluded.settings_json,
			updated_at=excluded.updated_at`,
		id, rec.Name, string(model.NormalizeVariant(rec.Variant)), settings, now, now,
	)
	return err
}

// GetDevice loads one device record.
func (r *Repository) GetDevice(ctx context.Context, id string) (model.DeviceRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, variant, settings_json, created_at, updated_at
		FROM devices WHERE id = ?`, id)
	rec, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.DeviceRecord{}, fmt.Errorf("%w: device %s", ErrNotFound, id)
	}
	return rec, err
}

// ListDevices returns every stored device ordered by creation.
func (r *Repository) ListDevices(ctx context.Context) ([]model.DeviceRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, variant, settings_json, created_at, updated_at
		FROM devices ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.DeviceRecord{}
	for rows.Next() {
		rec, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// UpdateDeviceSettings replaces the settings of a device.
func (r *Repository) UpdateDeviceSettings(ctx context.Context, id string, settings map[string]any) error {
	encoded, err := encodeSettings(settings)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `UPDATE devices SET settings_json = ?, updated_at = ? WHERE id = ?`,
		encoded, formatTime(utils.NowUTC()), id)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: device %s", ErrNotFound, id)
	}
	return nil
}

// DeleteDevice removes a device and everything stored for it.
func (r *Repository) DeleteDevice(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM devices WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: device %s", ErrNotFound, id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (model.DeviceRecord, error) {
	var (
		rec                  model.DeviceRecord
		variant, settings    string
		createdAt, updatedAt string
	)
	if err := row.Scan(&rec.ID, &rec.Name, &variant, &settings, &createdAt, &updatedAt); err != nil {
		return model.DeviceRecord{}, err
	}
	rec.Variant = model.NormalizeVariant(model.Variant(variant))
	rec.Settings = map[string]any{}
	if strings.TrimSpace(settings) != "" {
		if err := json.Unmarshal([]byte(settings), &rec.Settings); err != nil {
			return model.DeviceRecord{}, fmt.Errorf("decode settings for %s: %w", rec.ID, err)
		}
	}
	rec.CreatedAt = parseTime(createdAt)
	rec.UpdatedAt = parseTime(updatedAt)
	return rec, nil
}

func encodeSettings(settings map[string]any) (string, error) {
	if len(settings) == 0 {
		return "{}", nil
	}
	body, err := json.Marshal(settings)
	if err != nil {
		return "", fmt.Errorf("encode settings: %w", err)
	}
	return string(body), nil
}
