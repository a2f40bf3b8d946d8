package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/micro-ha/loqed-bridge/addon/internal/model"
	"github.com/micro-ha/loqed-bridge/addon/internal/pkg/utils"
)

// CreateRule stores a flow rule, assigning an id when none is set.
func (r *Repository) CreateRule(ctx context.Context, rule model.FlowRule) (model.FlowRule, error) {
	if strings.TrimSpace(rule.DeviceID) == "" || strings.TrimSpace(rule.Card) == "" {
		return model.FlowRule{}, errors.New("rule device_id and card are required")
	}
	if strings.TrimSpace(rule.ID) == "" {
		rule.ID = uuid.NewString()
	}
	if rule.Args == nil {
		rule.Args = map[string]string{}
	}
	args, err := json.Marshal(rule.Args)
	if err != nil {
		return model.FlowRule{}, fmt.Errorf("encode rule args: %w", err)
	}
	rule.CreatedAt = utils.NowUTC()
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO flow_rules(id, device_id, card, args_json, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		rule.ID, rule.DeviceID, rule.Card, string(args), formatTime(rule.CreatedAt)); err != nil {
		switch {
		case utils.IsForeignKeyError(err):
			return model.FlowRule{}, fmt.Errorf("%w: device %s", ErrNotFound, rule.DeviceID)
		case utils.IsUniqueConstraintError(err):
			return model.FlowRule{}, fmt.Errorf("%w: rule %s", ErrConflict, rule.ID)
		}
		return model.FlowRule{}, err
	}
	return rule, nil
}

// ListRules returns the rules of one device, optionally narrowed to a card.
func (r *Repository) ListRules(ctx context.Context, deviceID string, card string) ([]model.FlowRule, error) {
	query := `SELECT id, device_id, card, args_json, created_at FROM flow_rules WHERE device_id = ?`
	args := []any{deviceID}
	if card != "" {
		query += ` AND card = ?`
		args = append(args, card)
	}
	query += ` ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.FlowRule{}
	for rows.Next() {
		var (
			rule      model.FlowRule
			rawArgs   string
			createdAt string
		)
		if err := rows.Scan(&rule.ID, &rule.DeviceID, &rule.Card, &rawArgs, &createdAt); err != nil {
			return nil, err
		}
		rule.Args = map[string]string{}
		if err := json.Unmarshal([]byte(rawArgs), &rule.Args); err != nil {
			return nil, fmt.Errorf("decode rule %s args: %w", rule.ID, err)
		}
		rule.CreatedAt = parseTime(createdAt)
		out = append(out, rule)
	}
	return out, rows.Err()
}

// DeleteRule removes a rule by id.
func (r *Repository) DeleteRule(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM flow_rules WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: rule %s", ErrNotFound, id)
	}
	return nil
}
