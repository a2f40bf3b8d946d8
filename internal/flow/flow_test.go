package flow

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/micro-ha/loqed-bridge/addon/internal/model"
)

type memoryRules struct {
	rules []model.FlowRule
	err   error
}

func (m *memoryRules) ListRules(_ context.Context, deviceID string, card string) ([]model.FlowRule, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := []model.FlowRule{}
	for _, rule := range m.rules {
		if rule.DeviceID == deviceID && (card == "" || rule.Card == card) {
			out = append(out, rule)
		}
	}
	return out, nil
}

func (m *memoryRules) CreateRule(_ context.Context, rule model.FlowRule) (model.FlowRule, error) {
	if rule.ID == "" {
		rule.ID = "generated"
	}
	m.rules = append(m.rules, rule)
	return rule, nil
}

func (m *memoryRules) DeleteRule(_ context.Context, id string) error {
	for i, rule := range m.rules {
		if rule.ID == id {
			m.rules = append(m.rules[:i], m.rules[i+1:]...)
			return nil
		}
	}
	return errors.New("not found")
}

type captureSink struct {
	firings []Firing
	err     error
}

func (c *captureSink) Name() string { return "capture" }

func (c *captureSink) Publish(_ context.Context, firing Firing) error {
	c.firings = append(c.firings, firing)
	return c.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func keyState(key, bolt string) model.Trigger {
	return model.Trigger{
		DeviceID: "42",
		Card:     model.CardKeyState,
		State:    map[string]any{"key": key, "bolt_state": bolt},
	}
}

func TestKeyStateMatchIsConjunctive(t *testing.T) {
	rule := model.FlowRule{ID: "r1", DeviceID: "42", Card: model.CardKeyState, Args: map[string]string{"key": "Alice", "bolt_state": "OPEN"}}

	if !Matches(rule, keyState("Alice", "OPEN")) {
		t.Fatalf("matching key and state should match")
	}
	if Matches(rule, keyState("Alice", "NIGHT_LOCK")) {
		t.Fatalf("matching key alone must not match")
	}
	if Matches(rule, keyState("Bob", "OPEN")) {
		t.Fatalf("matching state alone must not match")
	}
	other := keyState("Alice", "OPEN")
	other.DeviceID = "7"
	if Matches(rule, other) {
		t.Fatalf("rules are scoped to their device")
	}
}

func TestFeatureChangedFilter(t *testing.T) {
	enabled := model.Trigger{DeviceID: "42", Card: "twist_assist_changed", State: map[string]any{"enabled": true}}
	disabled := model.Trigger{DeviceID: "42", Card: "twist_assist_changed", State: map[string]any{"enabled": false}}
	rule := func(state string) model.FlowRule {
		return model.FlowRule{DeviceID: "42", Card: "twist_assist_changed", Args: map[string]string{"state": state}}
	}

	cases := []struct {
		state   string
		trigger model.Trigger
		want    bool
	}{
		{StateEnabled, enabled, true},
		{StateEnabled, disabled, false},
		{StateDisabled, disabled, true},
		{StateDisabled, enabled, false},
		{StateEnabledOrDisabled, enabled, true},
		{StateEnabledOrDisabled, disabled, true},
	}
	for _, tc := range cases {
		if got := Matches(rule(tc.state), tc.trigger); got != tc.want {
			t.Fatalf("Matches(state=%s, enabled=%v) = %v, want %v", tc.state, tc.trigger.State["enabled"], got, tc.want)
		}
	}
}

func TestValidateRule(t *testing.T) {
	valid := []model.FlowRule{
		{DeviceID: "42", Card: model.CardOpened},
		{DeviceID: "42", Card: model.CardKeyState, Args: map[string]string{"key": "k1", "bolt_state": "night_lock"}},
		{DeviceID: "42", Card: "open_house_mode_changed", Args: map[string]string{"state": StateDisabled}},
		{DeviceID: "9", Card: model.CardLockStateChanged},
	}
	for _, rule := range valid {
		if err := ValidateRule(rule); err != nil {
			t.Fatalf("ValidateRule(%+v) error: %v", rule, err)
		}
	}

	invalid := []model.FlowRule{
		{DeviceID: "42", Card: "closed"},
		{DeviceID: "42", Card: model.CardKeyState, Args: map[string]string{"key": "k1"}},
		{DeviceID: "42", Card: model.CardOpened, Args: map[string]string{"key": "k1"}},
		{DeviceID: "42", Card: "twist_assist_changed", Args: map[string]string{"state": "maybe"}},
		{DeviceID: "9", Card: model.CardLockStateChanged, Args: map[string]string{"lock_state": "ajar"}},
	}
	for _, rule := range invalid {
		if err := ValidateRule(rule); err == nil {
			t.Fatalf("ValidateRule(%+v) should fail", rule)
		}
	}
	if err := ValidateRule(model.FlowRule{Card: "nope"}); !errors.Is(err, ErrUnknownCard) {
		t.Fatalf("unknown card error = %v", err)
	}
}

func TestDispatcherFansOutWithMatchedRules(t *testing.T) {
	store := &memoryRules{rules: []model.FlowRule{
		{ID: "alice-open", DeviceID: "42", Card: model.CardKeyState, Args: map[string]string{"key": "Alice", "bolt_state": "OPEN"}},
		{ID: "bob-open", DeviceID: "42", Card: model.CardKeyState, Args: map[string]string{"key": "Bob", "bolt_state": "OPEN"}},
	}}
	failing := &captureSink{err: errors.New("broker down")}
	capture := &captureSink{}
	recorder := NewRecorder(2)
	dispatcher := NewDispatcher(store, quietLogger(), failing, nil, capture, recorder)

	if err := dispatcher.Fire(context.Background(), keyState("Alice", "OPEN")); err != nil {
		t.Fatalf("Fire() error: %v", err)
	}
	if len(capture.firings) != 1 {
		t.Fatalf("sink after a failing sink got %d firings", len(capture.firings))
	}
	got := capture.firings[0]
	if len(got.MatchedRules) != 1 || got.MatchedRules[0] != "alice-open" {
		t.Fatalf("matched rules = %v", got.MatchedRules)
	}
	if got.FiredAt.IsZero() {
		t.Fatalf("fired_at not set")
	}

	_ = dispatcher.Fire(context.Background(), model.Trigger{DeviceID: "42", Card: model.CardOpened})
	_ = dispatcher.Fire(context.Background(), model.Trigger{DeviceID: "7", Card: model.CardOpened})
	recent := recorder.Recent("")
	if len(recent) != 2 || recent[0].DeviceID != "7" {
		t.Fatalf("recorder = %+v", recent)
	}
	if len(recorder.Recent("42")) != 1 {
		t.Fatalf("recorder filter by device failed")
	}
}

func TestDispatcherDeliversWhenRuleLookupFails(t *testing.T) {
	capture := &captureSink{}
	dispatcher := NewDispatcher(&memoryRules{err: errors.New("db locked")}, quietLogger(), capture)

	if err := dispatcher.Fire(context.Background(), model.Trigger{DeviceID: "42", Card: model.CardOpened}); err != nil {
		t.Fatalf("Fire() error: %v", err)
	}
	if len(capture.firings) != 1 || len(capture.firings[0].MatchedRules) != 0 {
		t.Fatalf("firings = %+v", capture.firings)
	}
}

func TestRulesRejectInvalid(t *testing.T) {
	rules := NewRules(&memoryRules{})
	if _, err := rules.Create(context.Background(), model.FlowRule{DeviceID: "42", Card: "nope"}); err == nil {
		t.Fatalf("Create() should reject unknown cards")
	}
	created, err := rules.Create(context.Background(), model.FlowRule{DeviceID: "42", Card: model.CardOpened})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	list, _ := rules.List(context.Background(), "42")
	if len(list) != 1 || list[0].ID != created.ID {
		t.Fatalf("List() = %+v", list)
	}
	if err := rules.Delete(context.Background(), created.ID); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
}
