package sqlrun

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ResetMode selects what happens to existing tables before a script runs.
type ResetMode int

const (
	ResetNone ResetMode = iota
	ResetFlush
	ResetDrop
)

func (r ResetMode) String() string {
	switch r {
	case ResetFlush:
		return "flush"
	case ResetDrop:
		return "drop"
	default:
		return "none"
	}
}

// ParseResetMode accepts "", "none", "flush" and "drop".
func ParseResetMode(value string) (ResetMode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "none":
		return ResetNone, nil
	case "flush":
		return ResetFlush, nil
	case "drop":
		return ResetDrop, nil
	default:
		return ResetNone, fmt.Errorf("unknown reset mode %q", value)
	}
}

type resetDialect struct {
	disableConstraints string
	enableConstraints  string
	listTables         string
	flushTable         string
	dropTable          string
}

var sqliteReset = resetDialect{
	disableConstraints: "PRAGMA foreign_keys = OFF",
	enableConstraints:  "PRAGMA foreign_keys = ON",
	listTables:         "SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'",
	flushTable:         "DELETE FROM ?",
	dropTable:          "DROP TABLE IF EXISTS ?",
}

var resetDialects = map[string]resetDialect{
	DbSqlite: sqliteReset,
	DbLibSQL: sqliteReset,
	DbMySQL: {
		disableConstraints: "SET FOREIGN_KEY_CHECKS = 0",
		enableConstraints:  "SET FOREIGN_KEY_CHECKS = 1",
		listTables:         "SHOW TABLES",
		// Truncate is faster than DELETE
		flushTable: "TRUNCATE TABLE ?",
		dropTable:  "DROP TABLE IF EXISTS ?",
	},
	DbPostgres: {
		// Disables all triggers, including foreign key constraints
		disableConstraints: "SET session_replication_role = 'replica'",
		enableConstraints:  "SET session_replication_role = 'origin'",
		listTables:         "SELECT tablename FROM pg_tables WHERE schemaname = 'public'",
		flushTable:         "TRUNCATE TABLE ? CASCADE",
		dropTable:          "DROP TABLE IF EXISTS ? CASCADE",
	},
}

// ResetTables flushes or drops every table of db with foreign key
// constraints disabled. All statements run on one pooled connection so the
// session-level constraint switch applies to them.
func ResetTables(db *gorm.DB, driverName string, mode ResetMode) error {
	if mode == ResetNone {
		return nil
	}
	dialect, ok := resetDialects[driverName]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedDriver, driverName)
	}
	tableSQL := dialect.flushTable
	if mode == ResetDrop {
		tableSQL = dialect.dropTable
	}

	return db.Connection(func(conn *gorm.DB) error {
		if err := conn.Exec(dialect.disableConstraints).Error; err != nil {
			return fmt.Errorf("failed to disable foreign keys: %w", err)
		}

		var tables []string
		if err := conn.Raw(dialect.listTables).Scan(&tables).Error; err != nil {
			return fmt.Errorf("failed to get table names: %w", err)
		}

		for _, table := range tables {
			if err := conn.Exec(tableSQL, clause.Table{Name: table}).Error; err != nil {
				return fmt.Errorf("failed to %s table %s: %w", mode, table, err)
			}
		}

		if err := conn.Exec(dialect.enableConstraints).Error; err != nil {
			return fmt.Errorf("failed to re-enable foreign keys: %w", err)
		}
		return nil
	})
}
