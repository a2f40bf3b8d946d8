package flow

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/micro-ha/loqed-bridge/addon/internal/model"
	"github.com/micro-ha/loqed-bridge/addon/internal/pkg/utils"
)

// Firing is one trigger delivered to sinks with the rules it matched.
type Firing struct {
	model.Trigger
	MatchedRules []string  `json:"matched_rules"`
	FiredAt      time.Time `json:"fired_at"`
}

// Sink consumes firings. Sink errors are logged, never propagated.
type Sink interface {
	Name() string
	Publish(ctx context.Context, firing Firing) error
}

// RuleSource lists stored rules.
type RuleSource interface {
	ListRules(ctx context.Context, deviceID string, card string) ([]model.FlowRule, error)
}

// Dispatcher matches triggers against stored rules and fans them out.
type Dispatcher struct {
	rules  RuleSource
	sinks  []Sink
	logger *slog.Logger
}

func NewDispatcher(rules RuleSource, logger *slog.Logger, sinks ...Sink) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	active := make([]Sink, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			active = append(active, sink)
		}
	}
	return &Dispatcher{rules: rules, sinks: active, logger: logger.With("component", "flow")}
}

// Fire delivers trigger to every sink. Rule lookup failures are logged and
// the trigger is still delivered without matches.
func (d *Dispatcher) Fire(ctx context.Context, trigger model.Trigger) error {
	firing := Firing{Trigger: trigger, MatchedRules: []string{}, FiredAt: utils.NowUTC()}
	if d.rules != nil {
		rules, err := d.rules.ListRules(ctx, trigger.DeviceID, trigger.Card)
		if err != nil {
			d.logger.Warn("rule lookup failed", "device_id", trigger.DeviceID, "card", trigger.Card, "error", err)
		}
		for _, rule := range rules {
			if Matches(rule, trigger) {
				firing.MatchedRules = append(firing.MatchedRules, rule.ID)
			}
		}
	}

	d.logger.Info("trigger fired",
		"device_id", trigger.DeviceID,
		"card", trigger.Card,
		"matched_rules", len(firing.MatchedRules),
	)
	for _, sink := range d.sinks {
		if err := sink.Publish(ctx, firing); err != nil {
			d.logger.Warn("trigger sink failed", "sink", sink.Name(), "card", trigger.Card, "error", err)
		}
	}
	return nil
}
