package utils

import "strings"

// IsUniqueConstraintError reports SQLite duplicate key violations.
func IsUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	text := strings.ToLower(err.Error())
	return strings.Contains(text, "unique constraint") || strings.Contains(text, "primary key must be unique")
}

// IsForeignKeyError reports SQLite foreign key violations.
func IsForeignKeyError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "foreign key constraint")
}
