package flow

import (
	"context"
	"errors"
	"fmt"

	"github.com/micro-ha/loqed-bridge/addon/internal/model"
)

// ErrInvalidRule wraps every rule validation failure.
var ErrInvalidRule = errors.New("invalid rule")

// RuleStore persists rules.
type RuleStore interface {
	RuleSource
	CreateRule(ctx context.Context, rule model.FlowRule) (model.FlowRule, error)
	DeleteRule(ctx context.Context, id string) error
}

// Rules validates and stores user automation rules.
type Rules struct {
	store RuleStore
}

func NewRules(store RuleStore) *Rules {
	return &Rules{store: store}
}

func (r *Rules) Create(ctx context.Context, rule model.FlowRule) (model.FlowRule, error) {
	if err := ValidateRule(rule); err != nil {
		return model.FlowRule{}, fmt.Errorf("%w: %w", ErrInvalidRule, err)
	}
	return r.store.CreateRule(ctx, rule)
}

func (r *Rules) List(ctx context.Context, deviceID string) ([]model.FlowRule, error) {
	return r.store.ListRules(ctx, deviceID, "")
}

func (r *Rules) Delete(ctx context.Context, id string) error {
	return r.store.DeleteRule(ctx, id)
}
