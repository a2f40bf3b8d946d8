package model

import "strings"

// BoltState is the discrete position of the lock mechanism.
type BoltState string

const (
	BoltNightLock BoltState = "NIGHT_LOCK"
	BoltDayLock   BoltState = "DAY_LOCK"
	BoltOpen      BoltState = "OPEN"
	BoltUnknown   BoltState = "UNKNOWN"
)

// NormalizeBoltState maps remote bolt-state text onto the enumeration.
// Matching is case-insensitive; the legacy "LATCH" wording maps to DAY_LOCK.
func NormalizeBoltState(raw string) BoltState {
	value := strings.ToUpper(strings.TrimSpace(raw))
	value = strings.ReplaceAll(value, "-", "_")
	value = strings.ReplaceAll(value, " ", "_")
	switch value {
	case string(BoltNightLock), "NIGHTLOCK":
		return BoltNightLock
	case string(BoltDayLock), "DAYLOCK", "LATCH":
		return BoltDayLock
	case string(BoltOpen):
		return BoltOpen
	default:
		return BoltUnknown
	}
}

// Known reports whether the state is one of the three mechanical positions.
func (s BoltState) Known() bool {
	return s == BoltNightLock || s == BoltDayLock || s == BoltOpen
}

func (s BoltState) String() string {
	return string(s)
}
