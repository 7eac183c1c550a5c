package sqlrun

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	DbMySQL    = "mysql"
	DbPostgres = "postgres"
	DbSqlite   = "sqlite"
	DbLibSQL   = "libsql"
)

type connectionFn func(dsn string, cfg *gorm.Config) (*gorm.DB, error)

type connDsn struct {
	DriverName string
	Dsn        string
}

type ConnectionManager struct {
	connConfigs   map[string]connDsn
	connectionFns map[string]connectionFn
	connections   map[string]*gorm.DB
	mu            sync.RWMutex
	// Script tracking for RunScriptOnce
	executedScripts map[string]struct{}
	scriptMu        sync.RWMutex

	logger       *slog.Logger
	gormLogLevel gormlogger.LogLevel
	metrics      *Metrics
}

func (m *ConnectionManager) AddConnectionFunc(driverName string, f connectionFn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectionFns[driverName] = f
}

func (m *ConnectionManager) SetDsn(name, driverName, dsn string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connConfigs[name] = connDsn{
		DriverName: driverName,
		Dsn:        dsn,
	}
}

// SetLogger replaces the logger used for run events and for gorm's SQL log.
// It only affects connections opened afterwards. A nil logger selects slog.Default().
func (m *ConnectionManager) SetLogger(logger *slog.Logger, level gormlogger.LogLevel) {
	if logger == nil {
		logger = slog.Default()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger = logger
	m.gormLogLevel = level
}

// SetMetrics enables Prometheus instrumentation of script runs.
func (m *ConnectionManager) SetMetrics(metrics *Metrics) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = metrics
}

func (m *ConnectionManager) newGormConfig() *gorm.Config {
	writer := slog.NewLogLogger(m.logger.Handler(), slog.LevelInfo)
	return &gorm.Config{
		Logger: gormlogger.New(writer, gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  m.gormLogLevel,
			IgnoreRecordNotFoundError: true,
		}),
	}
}

func (m *ConnectionManager) connConfig(name string) (connDsn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	config, exists := m.connConfigs[name]
	if !exists {
		return connDsn{}, fmt.Errorf("%w for %s", ErrConnectionNotFound, name)
	}
	return config, nil
}

func (m *ConnectionManager) GetConnection(name string) (*gorm.DB, error) {
	var err error

	m.mu.RLock()
	config, exists := m.connConfigs[name]
	if !exists {
		m.mu.RUnlock()
		return nil, fmt.Errorf("%w for %s", ErrConnectionNotFound, name)
	}
	connFn, exists := m.connectionFns[config.DriverName]
	if !exists {
		m.mu.RUnlock()
		return nil, fmt.Errorf("%w: no connection function for driver %s", ErrUnsupportedDriver, config.DriverName)
	}
	conn, exists := m.connections[name]
	m.mu.RUnlock()

	if !exists {
		// Need to create a new connection state
		m.mu.Lock()
		// Double-check pattern: another goroutine might have created it while we were waiting for the lock
		conn, exists = m.connections[name]
		if !exists {
			conn, err = connFn(config.Dsn, m.newGormConfig())
			if err != nil {
				m.mu.Unlock()
				return nil, fmt.Errorf("open %s connection %s: %w", config.DriverName, name, err)
			}
			m.connections[name] = conn
		}
		m.mu.Unlock()
	}
	return conn, nil
}

func (m *ConnectionManager) Close(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, exists := m.connections[name]
	if !exists {
		return fmt.Errorf("connection %s not found", name)
	}
	if conn == nil {
		return fmt.Errorf("connection was not established")
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	if err = sqlDB.Close(); err != nil {
		return err
	}
	delete(m.connections, name)
	return nil
}

func (m *ConnectionManager) CloseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, conn := range m.connections {
		if conn != nil {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err = sqlDB.Close(); err != nil {
				return err
			}
		}
	}
	m.connections = make(map[string]*gorm.DB)
	return nil
}

// FlushAllTables deletes all records from all tables in the database, ignoring foreign key constraints
func (m *ConnectionManager) FlushAllTables(name string) error {
	return m.resetConnection(name, ResetFlush)
}

// DropAllTables drops all tables in the database, ignoring foreign key constraints
func (m *ConnectionManager) DropAllTables(name string) error {
	return m.resetConnection(name, ResetDrop)
}

func (m *ConnectionManager) resetConnection(name string, mode ResetMode) error {
	db, err := m.GetConnection(name)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	config, err := m.connConfig(name)
	if err != nil {
		return err
	}
	return ResetTables(db, config.DriverName, mode)
}

// Singleton instance and initialization
var (
	instance *ConnectionManager
	once     sync.Once
)

// GetManager returns the singleton instance of ConnectionManager
func GetManager() *ConnectionManager {
	once.Do(func() {
		instance = NewConnectionManager()
	})
	return instance
}

// NewConnectionManager creates a new ConnectionManager instance (for testing or when singleton is not needed).
// The sqlite, postgres and mysql drivers are registered up front.
func NewConnectionManager() *ConnectionManager {
	m := &ConnectionManager{
		connConfigs:     make(map[string]connDsn),
		connectionFns:   make(map[string]connectionFn),
		connections:     make(map[string]*gorm.DB),
		executedScripts: make(map[string]struct{}),
		logger:          slog.Default(),
		gormLogLevel:    gormlogger.Warn,
	}
	RegisterDefaultDrivers(m)
	return m
}
