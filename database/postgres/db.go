package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sagarc03/stowdrive"
)

type column struct {
	name     string
	typ      string
	nullable bool
}

// shareColumns is the layout Migrate creates, as information_schema names
// the types.
var shareColumns = []column{
	{"sharekey", "text", false},
	{"share", "jsonb", false},
	{"expires_at", "timestamp with time zone", true},
	{"created_at", "timestamp with time zone", false},
	{"updated_at", "timestamp with time zone", false},
}

// ValidateSchema checks the share table against information_schema.
func ValidateSchema(ctx context.Context, pool *pgxpool.Pool, tables stowdrive.Tables) error {
	table := tables.Shares
	if !stowdrive.IsValidTableName(table) {
		return fmt.Errorf("validate schema: invalid table name: %s", table)
	}

	rows, err := pool.Query(ctx, `
		SELECT column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1
	`, table)
	if err != nil {
		return fmt.Errorf("validate schema %s: %w", table, err)
	}
	defer rows.Close()

	have := make(map[string]column)
	for rows.Next() {
		var name, typ, nullable string
		if err := rows.Scan(&name, &typ, &nullable); err != nil {
			return fmt.Errorf("validate schema %s: %w", table, err)
		}
		have[name] = column{name: name, typ: strings.ToLower(typ), nullable: nullable == "YES"}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("validate schema %s: %w", table, err)
	}

	if len(have) == 0 {
		return fmt.Errorf("validate schema: table %s does not exist", table)
	}

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
