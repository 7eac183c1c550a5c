package sqlrun

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// Executor runs one SQL statement at a time.
type Executor interface {
	Exec(ctx context.Context, statement string) error
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, statement string) error

func (f ExecutorFunc) Exec(ctx context.Context, statement string) error { return f(ctx, statement) }

type gormExecutor struct {
	db *gorm.DB
}

// GormExecutor executes statements on db, which may be a transaction.
func GormExecutor(db *gorm.DB) Executor {
	return gormExecutor{db: db}
}

func (e gormExecutor) Exec(ctx context.Context, statement string) error {
	return e.db.WithContext(ctx).Exec(statement).Error
}

// ExecStatements runs statements in order and stops at the first failure,
// which is returned as a *StatementError. Each statement gets its own
// opts.StatementTimeout deadline when it is positive, and opts.Progress is
// called after every successful statement. The number of successful
// statements is returned.
func ExecStatements(ctx context.Context, exec Executor, script string, statements []string, opts RunOptions) (int, error) {
	for i, statement := range statements {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if err := execStatement(ctx, exec, statement, opts.StatementTimeout); err != nil {
			return i, &StatementError{Script: script, Index: i + 1, Statement: statement, Err: err}
		}
		if opts.Progress != nil {
			opts.Progress(i+1, len(statements))
		}
	}
	return len(statements), nil
}

func execStatement(ctx context.Context, exec Executor, statement string, timeout time.Duration) error {
	if timeout <= 0 {
		return exec.Exec(ctx, statement)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return exec.Exec(ctx, statement)
}
