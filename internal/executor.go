package internal

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/lychee-technology/tabula"
	"github.com/lychee-technology/tabula/cache"
	"github.com/lychee-technology/tabula/internal/sqlformat"
	"go.uber.org/zap"
)

// Executor runs statements one at a time over a supervised MySQL connection.
// Every statement runs inside its own transaction. Parameters are interpolated
// client side, so the text sent to the server is the text that is logged.
type Executor struct {
	conn   *connectionSupervisor
	cache  *cache.Engine
	cfg    tabula.ExecutorConfig
	logCfg tabula.LoggingConfig

	stmtMu sync.Mutex
	now    func() time.Time
}

var _ tabula.Executor = (*Executor)(nil)

// NewExecutor creates an executor. Call Start to begin connecting; statements
// issued before the first successful connect fail with NOT_INITIALIZED.
// resultCache may be nil, which disables result caching.
func NewExecutor(open OpenFunc, resultCache *cache.Engine, cfg tabula.ExecutorConfig, logCfg tabula.LoggingConfig) *Executor {
	return &Executor{
		conn:   newConnectionSupervisor(open, cfg),
		cache:  resultCache,
		cfg:    cfg,
		logCfg: logCfg,
		now:    time.Now,
	}
}

// Start launches the connection supervisor.
func (e *Executor) Start(ctx context.Context) {
	e.conn.start(ctx)
}

// States publishes connection lifecycle events. Events are dropped when the
// channel is not drained.
func (e *Executor) States() <-chan ConnState {
	return e.conn.states
}

// Ready is closed after the first successful connect.
func (e *Executor) Ready() <-chan struct{} {
	return e.conn.ready
}

// WaitReady blocks until the first connect, until reconnect attempts are
// exhausted or until ctx is done.
func (e *Executor) WaitReady(ctx context.Context) error {
	return e.conn.waitReady(ctx)
}

// Close stops the supervisor and closes the connection.
func (e *Executor) Close() {
	e.conn.stop()
}

// Execute implements tabula.Executor.
func (e *Executor) Execute(ctx context.Context, statement string, params []any, useCache bool) (*tabula.Result, error) {
	compact := sqlformat.Compact(statement)
	query, err := sqlformat.Format(compact, params)
	if err != nil {
		return nil, tabula.NewError(tabula.ErrorTypeValidation, tabula.ErrCodeInvalidQuery, "cannot bind statement parameters").
			WithDetail("statement", compact).WithCause(err)
	}

	read := isReadStatement(compact)
	useCache = useCache && read && e.cache != nil
	var key, subKey string
	if useCache {
		if key, err = cache.Fingerprint(compact); err != nil {
			useCache = false
		} else {
			subKey = cache.SubKey(params...)
			if v, ok := e.cache.Get(cache.CategoryEntity, key, subKey); ok {
				EmitCacheResult(ctx, true)
				return &tabula.Result{Rows: copyRows(v.([]tabula.Row)), Cached: true}, nil
			}
			EmitCacheResult(ctx, false)
		}
	}

	e.stmtMu.Lock()
	defer e.stmtMu.Unlock()

	db, err := e.conn.current()
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	start := e.now()
	result, err := e.run(ctx, db, query, read)
	elapsed := e.now().Sub(start)

	kind := "exec"
	if read {
		kind = "query"
	}
	EmitLatency(ctx, kind, elapsed.Milliseconds())

	logged := compact
	if e.logCfg.LogFullQuery {
		logged = query
	}
	if err != nil {
		return nil, e.classify(id, logged, err)
	}

	zap.S().Debugw("statement executed", "statementId", id, "statement", logged, "durationMs", elapsed.Milliseconds(), "rows", len(result.Rows), "rowsAffected", result.RowsAffected)
	if e.logCfg.SlowQueryThreshold > 0 && elapsed >= e.logCfg.SlowQueryThreshold {
		zap.S().Warnw("slow statement", "statementId", id, "statement", logged, "durationMs", elapsed.Milliseconds())
	}

	if useCache {
		e.cache.Store(cache.CategoryEntity, key, subKey, copyRows(result.Rows), cache.Options{})
	}
	return result, nil
}

// RunCachedQuery memoizes a read under the entity category by name and params.
// A non-positive ttl uses the cache default.
func (e *Executor) RunCachedQuery(ctx context.Context, statement string, params []any, name string, ttl time.Duration) (*tabula.Result, error) {
	if e.cache == nil {
		return e.Execute(ctx, statement, params, false)
	}
	var opts cache.Options
	if ttl > 0 {
		opts.TTL = ttl
	}
	v, cached, err := e.cache.Run(cache.CategoryEntity, name, cache.SubKey(params...), opts, func() (any, error) {
		res, err := e.Execute(ctx, statement, params, false)
		if err != nil {
			return nil, err
		}
		return res.Rows, nil
	})
	if err != nil {
		return nil, err
	}
	return &tabula.Result{Rows: copyRows(v.([]tabula.Row)), Cached: cached}, nil
}

func (e *Executor) run(ctx context.Context, db *sql.DB, query string, read bool) (*tabula.Result, error) {
	if read && !e.cfg.TransactionalReads {
		rows, err := db.QueryContext(ctx, query)
		if err != nil {
			return nil, err
		}
		return e.collect(rows)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var result *tabula.Result
	if read {
		rows, err := tx.QueryContext(ctx, query)
		if err != nil {
			return nil, err
		}
		if result, err = e.collect(rows); err != nil {
			return nil, err
		}
	} else {
		res, err := tx.ExecContext(ctx, query)
		if err != nil {
			return nil, err
		}
		result = &tabula.Result{}
		result.RowsAffected, _ = res.RowsAffected()
		result.LastInsertID, _ = res.LastInsertId()
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true
	return result, nil
}

func (e *Executor) collect(rows *sql.Rows) (*tabula.Result, error) {
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var dbTypes []string
	if types, err := rows.ColumnTypes(); err == nil {
		dbTypes = make([]string, len(types))
		for i, t := range types {
			dbTypes[i] = t.DatabaseTypeName()
		}
	}
	keys := make([]string, len(cols))
	for i, c := range cols {
		keys[i] = c
		if e.cfg.PublicRowKeys {
			keys[i] = tabula.PublicColumnName(c)
		}
	}

	result := &tabula.Result{Rows: []tabula.Row{}}
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(tabula.Row, len(cols))
		for i, v := range values {
			typeName := ""
			if i < len(dbTypes) {
				typeName = dbTypes[i]
			}
			row[keys[i]] = normalizeValue(v, typeName)
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Executor) classify(id, statement string, err error) error {
	if isConnectionError(err) {
		e.conn.breaker.RecordFailure()
		e.conn.reportLost()
		zap.S().Errorw("statement failed on a broken connection", "statementId", id, "statement", statement, "severity", "fatal", "error", err)
		return tabula.NewConnectionLostError(err)
	}
	zap.S().Errorw("statement failed", "statementId", id, "statement", statement, "error", err)
	return tabula.NewStatementFailedError(statement, err)
}

func isConnectionError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	// database/sql does not export its closed-handle error.
	if strings.Contains(err.Error(), "sql: database is closed") {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

var readPrefixes = []string{"SELECT", "SHOW", "WITH", "DESCRIBE", "DESC", "EXPLAIN"}

func isReadStatement(stmt string) bool {
	stmt = strings.TrimLeft(stmt, "( ")
	head, _, _ := strings.Cut(stmt, " ")
	head = strings.ToUpper(head)
	for _, p := range readPrefixes {
		if head == p {
			return true
		}
	}
	return false
}

// normalizeValue turns driver byte slices into strings or numbers.
func normalizeValue(v any, dbType string) any {
	b, ok := v.([]byte)
	if !ok {
		return v
	}
	s := string(b)
	switch strings.ToUpper(dbType) {
	case "TINYINT", "SMALLINT", "MEDIUMINT", "INT", "INTEGER", "BIGINT", "YEAR":
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
	case "UNSIGNED TINYINT", "UNSIGNED SMALLINT", "UNSIGNED MEDIUMINT", "UNSIGNED INT", "UNSIGNED BIGINT":
		if n, err := strconv.ParseUint(s, 10, 64); err == nil {
			return n
		}
	case "DECIMAL", "FLOAT", "DOUBLE":
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return s
}

func copyRows(rows []tabula.Row) []tabula.Row {
	out := make([]tabula.Row, len(rows))
	for i, r := range rows {
		c := make(tabula.Row, len(r))
		for k, v := range r {
			c[k] = v
		}
		out[i] = c
	}
	return out
}
