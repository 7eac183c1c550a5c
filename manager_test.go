package sqlrun

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const testConn = "test"

func newTestManager(t *testing.T) *ConnectionManager {
	t.Helper()
	m := NewConnectionManager()
	m.SetLogger(slog.New(slog.NewTextHandler(io.Discard, nil)), gormlogger.Silent)
	m.SetDsn(testConn, DbSqlite, filepath.Join(t.TempDir(), "test.db"))
	t.Cleanup(func() { _ = m.CloseAll() })
	return m
}

func countRows(t *testing.T, db *gorm.DB, table string) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Table(table).Count(&count).Error)
	return count
}

func TestRunScriptFile_Fixtures(t *testing.T) {
	fixtures := []struct {
		file      string
		delimiter rune
	}{
		{"pipe_delimited.sql", DelimiterPipe},
		{"semicolon_delimited.sql", DelimiterSemicolon},
	}
	for _, f := range fixtures {
		t.Run(f.file, func(t *testing.T) {
			m := newTestManager(t)
			ctx := context.Background()

			var progress []int
			result, err := m.RunScriptFile(ctx, testConn, NewDirSource("testdata"), f.file, RunOptions{
				Delimiter: f.delimiter,
				Vars:      map[string]string{"sampleTable": "sample"},
				Progress:  func(done, total int) { progress = append(progress, done, total) },
			})
			require.NoError(t, err)
			assert.Equal(t, 4, result.Statements)
			assert.Equal(t, testConn, result.Connection)
			assert.Equal(t, f.file, result.Script)
			assert.NotEmpty(t, result.RunID)
			assert.Equal(t, []int{1, 4, 2, 4, 3, 4, 4, 4}, progress)

			db, err := m.GetConnection(testConn)
			require.NoError(t, err)
			assert.Equal(t, int64(1), countRows(t, db, "sample"))

			var b string
			require.NoError(t, db.Raw("SELECT b FROM sample WHERE a = 1").Scan(&b).Error)
			assert.Equal(t, "Line one "+string(f.delimiter)+" still line one -- not a comment", b)
		})
	}
}

func TestRunScript_RollsBackOnFailure(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	result, err := m.RunScript(ctx, testConn, "broken.sql",
		"CREATE TABLE kept (a INTEGER);\nINSERT INTO missing VALUES (1);\nSELECT 1;", RunOptions{})
	require.Error(t, err)

	var stmtErr *StatementError
	require.True(t, errors.As(err, &stmtErr))
	assert.Equal(t, 2, stmtErr.Index)
	assert.Equal(t, "INSERT INTO missing VALUES (1)", stmtErr.Statement)
	assert.Equal(t, "broken.sql", stmtErr.Script)
	require.NotNil(t, result)
	assert.Equal(t, 1, result.Statements)

	db, err := m.GetConnection(testConn)
	require.NoError(t, err)
	assert.False(t, db.Migrator().HasTable("kept"))
}

func TestRunScript_Errors(t *testing.T) {
	m := newTestManager(t)
	m.SetDsn("oracle", "oracle", "whatever")
	ctx := context.Background()

	_, err := m.RunScript(ctx, testConn, "empty.sql", "  \n ", RunOptions{})
	assert.ErrorIs(t, err, ErrNoStatements)

	_, err = m.RunScript(ctx, testConn, "comments.sql", "-- nothing\n-- here\n;", RunOptions{})
	assert.ErrorIs(t, err, ErrNoStatements)

	_, err = m.RunScript(ctx, testConn, "vars.sql", "SELECT * FROM ${nope}", RunOptions{})
	assert.ErrorIs(t, err, ErrUnresolvedVariable)

	_, err = m.RunScript(ctx, "unknown", "a.sql", "SELECT 1", RunOptions{})
	assert.ErrorIs(t, err, ErrConnectionNotFound)

	_, err = m.RunScript(ctx, "oracle", "a.sql", "SELECT 1", RunOptions{})
	assert.ErrorIs(t, err, ErrUnsupportedDriver)

	_, err = m.RunScriptFile(ctx, testConn, StringSource{}, "missing.sql", RunOptions{})
	assert.ErrorIs(t, err, ErrResourceUnavailable)
}

func TestRunScriptOnce(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	src := StringSource{"seed.sql": "CREATE TABLE IF NOT EXISTS seed (a INTEGER);\nINSERT INTO seed VALUES (1);"}

	result, err := m.RunScriptOnce(ctx, testConn, src, "seed.sql", RunOptions{})
	require.NoError(t, err)
	require.NotNil(t, result)

	result, err = m.RunScriptOnce(ctx, testConn, src, "seed.sql", RunOptions{})
	require.NoError(t, err)
	assert.Nil(t, result)

	db, err := m.GetConnection(testConn)
	require.NoError(t, err)
	assert.Equal(t, int64(1), countRows(t, db, "seed"))

	_, err = m.RunScriptOnce(ctx, "unknown", src, "seed.sql", RunOptions{})
	assert.ErrorIs(t, err, ErrConnectionNotFound)
}

func TestRunScript_Reset(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	seed := "CREATE TABLE parent (id INTEGER PRIMARY KEY);\n" +
		"CREATE TABLE child (id INTEGER, parent_id INTEGER REFERENCES parent(id));\n" +
		"INSERT INTO parent VALUES (1);\nINSERT INTO child VALUES (1, 1);"

	_, err := m.RunScript(ctx, testConn, "seed.sql", seed, RunOptions{})
	require.NoError(t, err)
	db, err := m.GetConnection(testConn)
	require.NoError(t, err)

	_, err = m.RunScript(ctx, testConn, "noop.sql", "SELECT 1", RunOptions{Reset: ResetFlush})
	require.NoError(t, err)
	assert.True(t, db.Migrator().HasTable("parent"))
	assert.Equal(t, int64(0), countRows(t, db, "parent"))
	assert.Equal(t, int64(0), countRows(t, db, "child"))

	_, err = m.RunScript(ctx, testConn, "noop.sql", "SELECT 1", RunOptions{Reset: ResetDrop})
	require.NoError(t, err)
	assert.False(t, db.Migrator().HasTable("parent"))
	assert.False(t, db.Migrator().HasTable("child"))
}

func TestFlushAndDropAllTables(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.RunScript(ctx, testConn, "seed.sql", "CREATE TABLE t (a INTEGER);INSERT INTO t VALUES (1);", RunOptions{})
	require.NoError(t, err)
	db, err := m.GetConnection(testConn)
	require.NoError(t, err)

	require.NoError(t, m.FlushAllTables(testConn))
	assert.Equal(t, int64(0), countRows(t, db, "t"))

	require.NoError(t, m.DropAllTables(testConn))
	assert.False(t, db.Migrator().HasTable("t"))

	assert.ErrorIs(t, m.FlushAllTables("unknown"), ErrConnectionNotFound)
	assert.ErrorIs(t, ResetTables(db, "oracle", ResetDrop), ErrUnsupportedDriver)
	assert.NoError(t, ResetTables(db, "oracle", ResetNone))
}

func TestParseResetMode(t *testing.T) {
	for value, want := range map[string]ResetMode{"": ResetNone, "none": ResetNone, "Flush": ResetFlush, " drop ": ResetDrop} {
		got, err := ParseResetMode(value)
		require.NoError(t, err, value)
		assert.Equal(t, want, got, value)
		if value != "" {
			assert.Equal(t, want.String(), got.String())
		}
	}
	_, err := ParseResetMode("truncate")
	assert.Error(t, err)
}

func TestRunScript_Metrics(t *testing.T) {
	m := newTestManager(t)
	metrics := NewMetrics(prometheus.NewRegistry())
	m.SetMetrics(metrics)
	ctx := context.Background()

	_, err := m.RunScript(ctx, testConn, "ok.sql", "SELECT 1;SELECT 2;SELECT 3", RunOptions{})
	require.NoError(t, err)
	_, err = m.RunScript(ctx, testConn, "bad.sql", "SELECT 1;SELEC 2", RunOptions{})
	require.Error(t, err)

	// The SELECT 1 of bad.sql was rolled back and is not counted.
	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.statements.WithLabelValues(testConn, outcomeOK)))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.statements.WithLabelValues(testConn, outcomeError)))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.scripts.WithLabelValues(testConn, outcomeOK)))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.scripts.WithLabelValues(testConn, outcomeError)))
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.duration))
}

func TestRunScript_Metrics_CanceledRun(t *testing.T) {
	m := newTestManager(t)
	metrics := NewMetrics(prometheus.NewRegistry())
	m.SetMetrics(metrics)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := m.RunScript(ctx, testConn, "canceled.sql", "SELECT 1;SELECT 2", RunOptions{
		Progress: func(done, _ int) {
			if done == 1 {
				cancel()
			}
		},
	})
	require.Error(t, err)

	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.statements.WithLabelValues(testConn, outcomeOK)))
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.statements.WithLabelValues(testConn, outcomeError)))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.scripts.WithLabelValues(testConn, outcomeError)))
}

func TestSetLogger_Nil(t *testing.T) {
	m := NewConnectionManager()
	m.SetLogger(nil, gormlogger.Silent)
	m.SetDsn(testConn, DbSqlite, filepath.Join(t.TempDir(), "nil-logger.db"))
	t.Cleanup(func() { _ = m.CloseAll() })

	result, err := m.RunScript(context.Background(), testConn, "a.sql", "SELECT 1", RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Statements)
}

func TestGetConnection_Concurrent(t *testing.T) {
	m := newTestManager(t)

	var wg sync.WaitGroup
	conns := make([]*gorm.DB, 8)
	for i := range conns {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			db, err := m.GetConnection(testConn)
			assert.NoError(t, err)
			conns[i] = db
		}(i)
	}
	wg.Wait()
	for _, db := range conns[1:] {
		assert.Same(t, conns[0], db)
	}

	require.NoError(t, m.Close(testConn))
	assert.Error(t, m.Close(testConn))
}

func TestExecStatements(t *testing.T) {
	ctx := context.Background()
	var executed []string
	exec := ExecutorFunc(func(_ context.Context, statement string) error {
		if statement == "boom" {
			return errors.New("exploded")
		}
		executed = append(executed, statement)
		return nil
	})

	n, err := ExecStatements(ctx, exec, "s.sql", []string{"a", "b"}, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	executed = nil
	n, err = ExecStatements(ctx, exec, "s.sql", []string{"a", "boom", "c"}, RunOptions{})
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"a"}, executed)
	var stmtErr *StatementError
	require.True(t, errors.As(err, &stmtErr))
	assert.Equal(t, 2, stmtErr.Index)
	assert.EqualError(t, stmtErr.Err, "exploded")

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	n, err = ExecStatements(canceled, exec, "s.sql", []string{"a"}, RunOptions{})
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExecStatements_StatementTimeout(t *testing.T) {
	ctx := context.Background()
	var deadlines int
	exec := ExecutorFunc(func(ctx context.Context, statement string) error {
		if _, ok := ctx.Deadline(); ok {
			deadlines++
		}
		if statement == "slow" {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	})

	n, err := ExecStatements(ctx, exec, "slow.sql", []string{"fast", "slow", "never"}, RunOptions{StatementTimeout: 20 * time.Millisecond})
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, deadlines)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	var stmtErr *StatementError
	require.True(t, errors.As(err, &stmtErr))
	assert.Equal(t, 2, stmtErr.Index)
	assert.Equal(t, "slow", stmtErr.Statement)

	// The first statement's deadline does not leak into the next one.
	deadlines = 0
	n, err = ExecStatements(ctx, exec, "fast.sql", []string{"fast", "fast"}, RunOptions{StatementTimeout: time.Hour})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, deadlines)

	deadlines = 0
	_, err = ExecStatements(ctx, exec, "fast.sql", []string{"fast"}, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, deadlines)
}

func TestRunScript_StatementTimeout(t *testing.T) {
	m := newTestManager(t)

	result, err := m.RunScript(context.Background(), testConn, "quick.sql", "SELECT 1;SELECT 2", RunOptions{StatementTimeout: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Statements)
}
