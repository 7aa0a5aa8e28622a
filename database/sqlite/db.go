package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/sagarc03/stowdrive"
)

type column struct {
	name     string
	typ      string
	nullable bool
}

// shareColumns is the layout Migrate creates.
var shareColumns = []column{
	{"sharekey", "text", false},
	{"share", "text", false},
	{"expires_at", "integer", true},
	{"created_at", "text", false},
	{"updated_at", "text", false},
}

// ValidateSchema checks that the shares table exists with the columns the
// repo reads and writes. Every mismatch is reported in one error.
func ValidateSchema(ctx context.Context, db *sql.DB, tables stowdrive.Tables) error {
	table := tables.Shares
	if !stowdrive.IsValidTableName(table) {
		return fmt.Errorf("validate schema: invalid table name: %s", table)
	}

	// table_info yields no rows for a missing table
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s)`, quoteIdentifier(table)))
	if err != nil {
		return fmt.Errorf("validate schema %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	have := make(map[string]column)
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, typ        string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return fmt.Errorf("validate schema %s: %w", table, err)
		}
		have[name] = column{name: name, typ: strings.ToLower(typ), nullable: notNull == 0}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("validate schema %s: %w", table, err)
	}

	if len(have) == 0 {
		return fmt.Errorf("validate schema: table %s does not exist", table)
	}

	return compareColumns(table, have)
}

func compareColumns(table string, have map[string]column) error {
	var missing, problems []string
	for _, want := range shareColumns {
		got, ok := have[want.name]
		switch {
		case !ok:
			missing = append(missing, want.name)
		case got.typ != want.typ:
			problems = append(problems, fmt.Sprintf("%s: expected %s, got %s", want.name, want.typ, got.typ))
		case got.nullable != want.nullable:
			problems = append(problems, fmt.Sprintf("%s: expected nullable=%v", want.name, want.nullable))
		}
	}

	if len(missing) > 0 {
		problems = append(problems, "missing columns: "+strings.Join(missing, ", "))
	}
	if len(problems) > 0 {
		return fmt.Errorf("validate schema %s: %s", table, strings.Join(problems, "; "))
	}

	return nil
}
