package sqlrun

import (
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	_ "modernc.org/sqlite" // pure go sqlite driver, registered as "sqlite"
)

// sqliteDriverName is the database/sql name modernc.org/sqlite registers under.
const sqliteDriverName = "sqlite"

// RegisterDefaultDrivers installs connection functions for sqlite, postgres
// and mysql. libsql needs a remote client and is left to AddConnectionFunc.
func RegisterDefaultDrivers(m *ConnectionManager) {
	m.AddConnectionFunc(DbSqlite, func(dsn string, cfg *gorm.Config) (*gorm.DB, error) {
		return gorm.Open(sqlite.New(sqlite.Config{DriverName: sqliteDriverName, DSN: dsn}), cfg)
	})
	m.AddConnectionFunc(DbPostgres, func(dsn string, cfg *gorm.Config) (*gorm.DB, error) {
		return gorm.Open(postgres.New(postgres.Config{DSN: dsn}), cfg)
	})
	m.AddConnectionFunc(DbMySQL, func(dsn string, cfg *gorm.Config) (*gorm.DB, error) {
		return gorm.Open(mysql.New(mysql.Config{DSN: dsn}), cfg)
	})
}
