package sqlrun

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RunOptions controls how a script is prepared and executed.
type RunOptions struct {
	// Delimiter separates statements; zero means DefaultDelimiter.
	Delimiter rune
	// Vars supplies values for ${name} placeholders.
	Vars map[string]string
	// Reset flushes or drops existing tables before the script runs.
	Reset ResetMode
	// StatementTimeout bounds each statement separately; zero means no limit
	// beyond the caller's context.
	StatementTimeout time.Duration
	// Progress is called after each executed statement.
	Progress func(done, total int)
}

func (o RunOptions) delimiter() rune {
	if o.Delimiter == 0 {
		return DefaultDelimiter
	}
	return o.Delimiter
}

// RunResult describes a completed script run.
type RunResult struct {
	RunID      string
	Connection string
	Script     string
	Statements int
	Duration   time.Duration
}

// RunScript splits text into statements and executes them on the named
// connection inside a single transaction. scriptName is only used for
// reporting.
func (m *ConnectionManager) RunScript(ctx context.Context, name, scriptName, text string, opts RunOptions) (*RunResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: SQL script %s is empty", ErrNoStatements, scriptName)
	}

	statements, err := PrepareStatements(text, opts)
	if err != nil {
		return nil, fmt.Errorf("prepare SQL script %s: %w", scriptName, err)
	}
	if len(statements) == 0 {
		return nil, fmt.Errorf("%w in SQL script %s", ErrNoStatements, scriptName)
	}

	db, err := m.GetConnection(name)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	if opts.Reset != ResetNone {
		if err := m.resetConnection(name, opts.Reset); err != nil {
			return nil, fmt.Errorf("reset before %s: %w", scriptName, err)
		}
	}

	m.mu.RLock()
	logger, metrics := m.logger, m.metrics
	m.mu.RUnlock()

	result := &RunResult{RunID: uuid.NewString(), Connection: name, Script: scriptName}
	log := logger.With("run_id", result.RunID, "connection", name, "script", scriptName)
	log.InfoContext(ctx, "running SQL script", "statements", len(statements), "reset", opts.Reset.String(), "statement_timeout", opts.StatementTimeout)

	start := time.Now()
	// Execute statements in a transaction for atomicity
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var execErr error
		result.Statements, execErr = ExecStatements(ctx, GormExecutor(tx), scriptName, statements, opts)
		return execErr
	})
	result.Duration = time.Since(start)
	metrics.observeScript(name, result.Statements, err, result.Duration)

	if err != nil {
		log.ErrorContext(ctx, "SQL script failed", "executed", result.Statements, "error", err)
		return result, err
	}
	log.InfoContext(ctx, "SQL script finished", "executed", result.Statements, "duration", result.Duration)
	return result, nil
}

// RunScriptFile reads the named script from src and runs it with RunScript.
func (m *ConnectionManager) RunScriptFile(ctx context.Context, name string, src Source, scriptName string, opts RunOptions) (*RunResult, error) {
	text, err := ReadScript(ctx, src, scriptName)
	if err != nil {
		return nil, err
	}
	return m.RunScript(ctx, name, scriptName, text, opts)
}

// RunScriptOnce runs a script only once for the given combination of driver,
// dsn and script name. Subsequent calls with the same parameters are a no-op
// and return a nil result.
func (m *ConnectionManager) RunScriptOnce(ctx context.Context, name string, src Source, scriptName string, opts RunOptions) (*RunResult, error) {
	config, err := m.connConfig(name)
	if err != nil {
		return nil, err
	}
	// Create a unique key for this script combination
	scriptKey := fmt.Sprintf("%s:%s:%s", config.DriverName, config.Dsn, scriptName)

	m.scriptMu.RLock()
	_, exists := m.executedScripts[scriptKey]
	m.scriptMu.RUnlock()
	if exists {
		return nil, nil
	}

	// Double-check pattern: another goroutine might have executed it while we were waiting for the lock
	m.scriptMu.Lock()
	defer m.scriptMu.Unlock()

	if _, exists := m.executedScripts[scriptKey]; exists {
		return nil, nil
	}

	result, err := m.RunScriptFile(ctx, name, src, scriptName, opts)
	if err != nil {
		return result, err
	}
	m.executedScripts[scriptKey] = struct{}{}
	return result, nil
}
