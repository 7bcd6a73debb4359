package repository

import (
	"fmt"
	"strings"
	"time"
)

// dialect holds the SQL differences between the two backends.
type dialect struct {
	name     string
	jsonType string
	timeType string
	// bind renders the n-th (1-based) placeholder
	bind func(n int) string
	// timeArg converts a timestamp into the driver argument for timeType
	timeArg func(t time.Time) any
}

const isoMillis = "2006-01-02T15:04:05.000Z07:00"

var postgresDialect = dialect{
	name:     "postgres",
	jsonType: "JSONB",
	timeType: "TIMESTAMPTZ",
	bind:     func(n int) string { return fmt.Sprintf("$%d", n) },
	timeArg:  func(t time.Time) any { return t.UTC() },
}

var sqliteDialect = dialect{
	name:     "sqlite",
	jsonType: "TEXT",
	timeType: "TEXT",
	bind:     func(int) string { return "?" },
	timeArg:  func(t time.Time) any { return t.UTC().Format(isoMillis) },
}

func (d dialect) ddl(table string) []string {
	index := strings.ReplaceAll(table, ".", "_") + "_message_id_key"
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id                       TEXT PRIMARY KEY,
	cluster_id               TEXT NOT NULL DEFAULT '',
	user_id                  TEXT NOT NULL DEFAULT '',
	status                   TEXT NOT NULL,
	processing_status        TEXT NOT NULL,
	file_name                TEXT NOT NULL DEFAULT '',
	original_s3_file         TEXT NOT NULL DEFAULT '',
	original_file            TEXT NOT NULL DEFAULT '',
	message_id               TEXT,
	sender                   TEXT NOT NULL DEFAULT '',
	subject                  TEXT NOT NULL DEFAULT '',
	schema_version           TEXT NOT NULL,
	extracted_values         %[2]s NOT NULL,
	updated_extracted_values %[2]s NOT NULL,
	review_flags             %[2]s,
	raw_text                 TEXT NOT NULL DEFAULT '',
	error_code               TEXT NOT NULL DEFAULT '',
	error_message            TEXT NOT NULL DEFAULT '',
	credits                  TEXT,
	created_at               %[3]s NOT NULL
)`, table, d.jsonType, d.timeType),
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (message_id)`, index, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (created_at)`, strings.ReplaceAll(table, ".", "_")+"_created_at_idx", table),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	message_key      TEXT PRIMARY KEY,
	attempts         INTEGER NOT NULL DEFAULT 0,
	file_name        TEXT NOT NULL DEFAULT '',
	original_s3_file TEXT NOT NULL DEFAULT '',
	original_file    TEXT NOT NULL DEFAULT '',
	last_error       TEXT NOT NULL DEFAULT '',
	updated_at       %s NOT NULL
)`, attemptsTable(table), d.timeType),
	}
}

// attemptsTable names the retry ledger kept beside the records table.
func attemptsTable(table string) string { return table + "_attempts" }

func (d dialect) placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = d.bind(i + 1)
	}
	return strings.Join(parts, ", ")
}

// timeScanner reads a timestamp stored natively or as ISO text.
type timeScanner struct{ t *time.Time }

func (s timeScanner) Scan(v any) error {
	switch x := v.(type) {
	case time.Time:
		*s.t = x.UTC()
		return nil
	case string:
		return s.parse(x)
	case []byte:
		return s.parse(string(x))
	case nil:
		*s.t = time.Time{}
		return nil
	default:
		return fmt.Errorf("cannot scan %T into time", v)
	}
}

func (s timeScanner) parse(v string) error {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return err
	}
	*s.t = t.UTC()
	return nil
}
