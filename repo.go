package stowdrive

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Tables holds configurable table names for share storage.
// This allows several drives to share one database.
type Tables struct {
	Shares string `mapstructure:"shares"`
}

var validTableNameRegex = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// IsValidTableName checks if a table name is valid (lowercase, alphanumeric with underscores, max 63 chars).
func IsValidTableName(name string) bool {
	return validTableNameRegex.MatchString(name) && len(name) <= 63
}

// Validate checks that all required table names are set and valid.
func (t Tables) Validate() error {
	if t.Shares == "" {
		return errors.New("validate tables: shares table name cannot be empty")
	}

	if !IsValidTableName(t.Shares) {
		return fmt.Errorf("validate tables: invalid shares table name: %s (must match ^[a-z_][a-z0-9_]*$ and be <= 63 chars)", t.Shares)
	}

	return nil
}

// EscapeLikePattern escapes special LIKE characters (%, _, \) to prevent SQL injection.
func EscapeLikePattern(pattern string) string {
	pattern = strings.ReplaceAll(pattern, `\`, `\\`)
	pattern = strings.ReplaceAll(pattern, `%`, `\%`)
	pattern = strings.ReplaceAll(pattern, `_`, `\_`)
	return pattern
}
