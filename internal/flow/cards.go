package flow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/micro-ha/loqed-bridge/addon/internal/model"
)

// Feature filter values of the <feature>_changed cards.
const (
	StateEnabled           = "enabled"
	StateDisabled          = "disabled"
	StateEnabledOrDisabled = "enabled_or_disabled"
)

var ErrUnknownCard = errors.New("unknown trigger card")

// Card describes one trigger card and the filter arguments it accepts.
type Card struct {
	ID     string   `json:"id"`
	Args   []string `json:"args"`
	Tokens []string `json:"tokens"`
}

// Cards lists every trigger card in a stable order.
func Cards() []Card {
	cards := []Card{
		{ID: model.CardOpened, Args: []string{}, Tokens: []string{}},
		{ID: model.CardKeyState, Args: []string{"key", "bolt_state"}, Tokens: []string{"key", "bolt_state"}},
	}
	for _, feature := range model.Features {
		cards = append(cards, Card{ID: feature.ChangedCard(), Args: []string{"state"}, Tokens: []string{string(feature)}})
	}
	cards = append(cards, Card{ID: model.CardLockStateChanged, Args: []string{"lock_state"}, Tokens: []string{"lockState", "keyAccountEmail"}})
	return cards
}

func lookupCard(id string) (Card, bool) {
	for _, card := range Cards() {
		if card.ID == id {
			return card, true
		}
	}
	return Card{}, false
}

// ValidateRule checks that args fit the card.
func ValidateRule(rule model.FlowRule) error {
	card, ok := lookupCard(rule.Card)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCard, rule.Card)
	}
	allowed := map[string]struct{}{}
	for _, arg := range card.Args {
		allowed[arg] = struct{}{}
	}
	for key := range rule.Args {
		if _, ok := allowed[key]; !ok {
			return fmt.Errorf("card %s does not accept argument %q", card.ID, key)
		}
	}

	switch {
	case card.ID == model.CardKeyState:
		if strings.TrimSpace(rule.Args["key"]) == "" {
			return errors.New("key_state requires a key")
		}
		if !model.NormalizeBoltState(rule.Args["bolt_state"]).Known() {
			return errors.New("key_state requires a bolt_state of OPEN, DAY_LOCK or NIGHT_LOCK")
		}
	case card.ID == model.CardLockStateChanged:
		if raw := rule.Args["lock_state"]; raw != "" && !model.NormalizeBoltState(raw).Known() {
			return fmt.Errorf("invalid lock_state %q", raw)
		}
	case strings.HasSuffix(card.ID, "_changed"):
		switch rule.Args["state"] {
		case "", StateEnabled, StateDisabled, StateEnabledOrDisabled:
		default:
			return fmt.Errorf("invalid state %q", rule.Args["state"])
		}
	}
	return nil
}

// Matches reports whether a rule's filter accepts a trigger.
func Matches(rule model.FlowRule, trigger model.Trigger) bool {
	if rule.Card != trigger.Card || rule.DeviceID != trigger.DeviceID {
		return false
	}
	switch {
	case trigger.Card == model.CardOpened:
		return true
	case trigger.Card == model.CardKeyState:
		key, _ := trigger.State["key"].(string)
		bolt, _ := trigger.State["bolt_state"].(string)
		return rule.Args["key"] == key &&
			model.NormalizeBoltState(rule.Args["bolt_state"]) == model.NormalizeBoltState(bolt)
	case trigger.Card == model.CardLockStateChanged:
		want := rule.Args["lock_state"]
		if want == "" {
			return true
		}
		got, _ := trigger.State["lock_state"].(string)
		return model.NormalizeBoltState(want) == model.NormalizeBoltState(got)
	case strings.HasSuffix(trigger.Card, "_changed"):
		enabled, _ := trigger.State["enabled"].(bool)
		switch rule.Args["state"] {
		case StateEnabled:
			return enabled
		case StateDisabled:
			return !enabled
		default:
			return true
		}
	}
	return false
}
