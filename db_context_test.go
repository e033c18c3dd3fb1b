package outbox

import (
	"strings"
	"testing"
)

func TestWithTableName(t *testing.T) {
	t.Run("uses default table name when no option provided", func(t *testing.T) {
		dbCtx := NewDBContextWithDB(&fakeDB{}, SQLDialectPostgres)

		if dbCtx.tableName != "outbox" {
			t.Errorf("expected default table name 'outbox', got %q", dbCtx.tableName)
		}
		if dbCtx.qualifiedTableName() != "outbox" {
			t.Errorf("expected unqualified table name 'outbox', got %q", dbCtx.qualifiedTableName())
		}
	})

	t.Run("uses custom table name in queries", func(t *testing.T) {
		customTable := "custom_events"

		dbCtx := NewDBContextWithDB(&fakeDB{}, SQLDialectPostgres, WithTableName(customTable))

		if dbCtx.tableName != customTable {
			t.Errorf("expected table name %q, got %q", customTable, dbCtx.tableName)
		}
	})

	t.Run("qualifies the table with a schema", func(t *testing.T) {
		dbCtx := NewDBContextWithDB(&fakeDB{}, SQLDialectPostgres, WithSchemaName("messaging"))

		if dbCtx.qualifiedTableName() != "messaging.outbox" {
			t.Errorf("expected qualified table name 'messaging.outbox', got %q", dbCtx.qualifiedTableName())
		}
	})

	t.Run("panics on invalid schema name", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Error("expected panic for invalid schema name")
			}
		}()

		_ = NewDBContextWithDB(&fakeDB{}, SQLDialectPostgres, WithSchemaName("my-schema"))
	})
}

func TestValidateTableName(t *testing.T) {
	tests := []struct {
		name      string
		tableName string
		panicMsg  string
	}{
		{
			name:      "valid table name with letters",
			tableName: "outbox",
		},
		{
			name:      "valid table name with underscore",
			tableName: "outbox_table",
		},
		{
			name:      "valid table name starting with underscore",
			tableName: "_outbox",
		},
		{
			name:      "valid table name with numbers",
			tableName: "outbox123",
		},
		{
			name:      "valid table name with mixed case",
			tableName: "OutboxTable",
		},
		{
			name:      "empty table name",
			tableName: "",
			panicMsg:  "table name cannot be empty",
		},
		{
			name:      "table name starting with number",
			tableName: "123outbox",
			panicMsg:  "invalid table name",
		},
		{
			name:      "table name with dash",
			tableName: "outbox-table",
			panicMsg:  "invalid table name",
		},
		{
			name:      "table name with space",
			tableName: "outbox table",
			panicMsg:  "invalid table name",
		},
		{
			name:      "table name with dot",
			tableName: "schema.outbox",
			panicMsg:  "invalid table name",
		},
		{
			name:      "table name with special characters",
			tableName: "outbox@table",
			panicMsg:  "invalid table name",
		},
		{
			name:      "table name with only numbers",
			tableName: "123",
			panicMsg:  "invalid table name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				r := recover()
				if tt.panicMsg != "" {
					if r == nil {
						t.Errorf("expected panic for table name %q, but got none", tt.tableName)
						return
					}
					errMsg := r.(error).Error()
					if !strings.Contains(errMsg, tt.panicMsg) {
						t.Errorf("expected panic message to contain %q, got %q", tt.panicMsg, errMsg)
					}
				} else if r != nil {
					t.Errorf("unexpected panic for table name %q: %v", tt.tableName, r)
				}
			}()

			_ = NewDBContextWithDB(&fakeDB{}, SQLDialectPostgres, WithTableName(tt.tableName))
		})
	}
}

func TestGetSQLPlaceholder(t *testing.T) {
	tests := []struct {
		dialect  SQLDialect
		expected string
	}{
		{SQLDialectPostgres, "$3"},
		{SQLDialectOracle, ":3"},
		{SQLDialectSQLServer, "@p3"},
		{SQLDialectMySQL, "?"},
		{SQLDialectMariaDB, "?"},
		{SQLDialectSQLite, "?"},
	}

	for _, tt := range tests {
		dbCtx := NewDBContextWithDB(&fakeDB{}, tt.dialect)
		if got := dbCtx.getSQLPlaceholder(3); got != tt.expected {
			t.Errorf("getSQLPlaceholder(3) for %s = %q, want %q", tt.dialect, got, tt.expected)
		}
	}
}

func TestBuildClaimQuery(t *testing.T) {
	tests := []struct {
		dialect  SQLDialect
		contains []string
		excludes []string
	}{
		{
			dialect:  SQLDialectPostgres,
			contains: []string{"LIMIT $2", "FOR UPDATE SKIP LOCKED"},
		},
		{
			dialect:  SQLDialectMySQL,
			contains: []string{"LIMIT ?", "FOR UPDATE SKIP LOCKED"},
		},
		{
			dialect:  SQLDialectOracle,
			contains: []string{"FETCH FIRST :2 ROWS ONLY", "FOR UPDATE SKIP LOCKED"},
		},
		{
			dialect:  SQLDialectSQLServer,
			contains: []string{"TOP (@p2)", "WITH (UPDLOCK, READPAST, ROWLOCK)"},
		},
		{
			dialect:  SQLDialectSQLite,
			contains: []string{"LIMIT ?"},
			excludes: []string{"FOR UPDATE"},
		},
	}

	for _, tt := range tests {
		t.Run(string(tt.dialect), func(t *testing.T) {
			dbCtx := NewDBContextWithDB(&fakeDB{}, tt.dialect)
			ph := dbCtx.getSQLPlaceholder(1)
			query := dbCtx.buildClaimQuery("status = "+ph, "created_at ASC", 2)

			if !strings.Contains(query, "FROM outbox") {
				t.Errorf("expected query to select from outbox, got %q", query)
			}
			if !strings.Contains(query, "ORDER BY created_at ASC") {
				t.Errorf("expected query to order by created_at, got %q", query)
			}
			for _, want := range tt.contains {
				if !strings.Contains(query, want) {
					t.Errorf("expected query to contain %q, got %q", want, query)
				}
			}
			for _, unwanted := range tt.excludes {
				if strings.Contains(query, unwanted) {
					t.Errorf("expected query not to contain %q, got %q", unwanted, query)
				}
			}
		})
	}
}
