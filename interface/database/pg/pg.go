package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/airbusgeo/nbr-ingester/common"
	db "github.com/airbusgeo/nbr-ingester/interface/database"
	"github.com/airbusgeo/nbr-ingester/service"
	"github.com/lib/pq"
)

// pgInterface allows to use either a sql.DB or a sql.Tx
type pgInterface interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// BackendTx implements LedgerTxBackend
type BackendTx struct {
	*sql.Tx
	Backend
}

// BackendDB implements LedgerDBBackend
type BackendDB struct {
	*sql.DB
	Backend
}

// Backend implements LedgerBackend
type Backend struct {
	pgInterface
}

/* http://www.postgresql.org/docs/9.3/static/errcodes-appendix.html */
const (
	noError             = "00000"
	foreignKeyViolation = "23503"
	uniqueViolation     = "23505"

	notPqError = "X"
)

func pqErrorCode(err error) pq.ErrorCode {
	if err == nil {
		return noError
	}
	var pqerr *pq.Error
	if errors.As(err, &pqerr) {
		return pqerr.Code
	}
	return notPqError
}

// StartTransaction implements LedgerDBBackend
func (bdb BackendDB) StartTransaction(ctx context.Context) (db.LedgerTxBackend, error) {
	tx, err := bdb.BeginTx(ctx, nil)
	if err != nil {
		return BackendTx{}, err
	}
	return BackendTx{tx, Backend{pgInterface: tx}}, nil
}

// Rollback overloads sql.Tx.Rollback to be idempotent
func (btx BackendTx) Rollback() error {
	err := btx.Tx.Rollback()
	if err == sql.ErrTxDone {
		return nil
	}
	return err
}

// New creates a new backend using Postgres
func New(ctx context.Context, dbConnection string) (*BackendDB, error) {
	db, err := sql.Open("postgres", dbConnection)
	if err != nil {
		return nil, fmt.Errorf("sql.open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, service.MakeTemporary(fmt.Errorf("sql.ping: %w", err))
	}
	return &BackendDB{db, Backend{pgInterface: db}}, nil
}

// CreateRun implements LedgerBackend
func (b Backend) CreateRun(ctx context.Context, run string) error {
	_, err := b.ExecContext(ctx, "insert into run(id) values($1)", run)
	switch pqErrorCode(err) {
	case noError:
		return nil
	case uniqueViolation:
		return db.ErrAlreadyExists{Type: "run", ID: run}
	default:
		return fmt.Errorf("CreateRun.exec: %w", err)
	}
}

// Runs implements LedgerBackend
func (b Backend) Runs(ctx context.Context, pattern string) ([]string, error) {
	wc := whereClause{}
	if pattern != "" {
		wc.match("id", pattern)
	}
	rows, err := b.QueryContext(ctx, "select id from run"+wc.String()+" ORDER BY id", wc.params...)
	if err != nil {
		return nil, fmt.Errorf("Runs.QueryContext: %w", err)
	}
	defer rows.Close()
	runs := make([]string, 0)
	for rows.Next() {
		var run string
		if err := rows.Scan(&run); err != nil {
			return nil, fmt.Errorf("Runs.Scan: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Runs.rows.err: %w", err)
	}
	return runs, nil
}

// DeleteRun implements LedgerBackend
func (b Backend) DeleteRun(ctx context.Context, run string) error {
	res, err := b.ExecContext(ctx, "delete from run where id=$1", run)
	if err != nil {
		return fmt.Errorf("DeleteRun.exec: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return db.ErrNotFound{Type: "run", ID: run}
	}
	return nil
}

// SetStatus implements Ledger
func (b Backend) SetStatus(ctx context.Context, run, band, displayID string, status common.Status, message *string) error {
	_, err := b.ExecContext(ctx,
		"insert into download(run_id, display_id, band, status, message) values($1, $2, $3, $4, COALESCE($5, ''))"+
			" ON CONFLICT (run_id, display_id) DO UPDATE SET band=EXCLUDED.band, status=EXCLUDED.status,"+
			" message=COALESCE($5, download.message), updated_at=now()",
		run, displayID, band, status, message)
	switch pqErrorCode(err) {
	case noError:
		return nil
	case foreignKeyViolation:
		return db.ErrNotFound{Type: "run", ID: run}
	default:
		return fmt.Errorf("SetStatus.exec: %w", err)
	}
}

// Statuses implements Ledger
func (b Backend) Statuses(ctx context.Context, run string) (map[string]common.Status, error) {
	rows, err := b.QueryContext(ctx, "select display_id, status from download where run_id=$1", run)
	if err != nil {
		return nil, fmt.Errorf("Statuses.QueryContext: %w", err)
	}
	defer rows.Close()
	statuses := map[string]common.Status{}
	for rows.Next() {
		var displayID string
		var status common.Status
		if err := rows.Scan(&displayID, &status); err != nil {
			return nil, fmt.Errorf("Statuses.Scan: %w", err)
		}
		statuses[displayID] = status
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Statuses.rows.err: %w", err)
	}
	return statuses, nil
}

// RunStatus implements LedgerBackend
func (b Backend) RunStatus(ctx context.Context, run string) (db.Status, error) {
	status := db.Status{}
	rows, err := b.QueryContext(ctx, "select status, count(*) from download where run_id=$1 GROUP BY status", run)
	if err != nil {
		return status, fmt.Errorf("RunStatus.QueryContext: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var s common.Status
		var nb int64
		if err := rows.Scan(&s, &nb); err != nil {
			return status, fmt.Errorf("RunStatus.Scan: %w", err)
		}
		status.Set(s, nb)
	}
	if err := rows.Err(); err != nil {
		return status, fmt.Errorf("RunStatus.rows.err: %w", err)
	}
	return status, nil
}

// Downloads implements LedgerBackend
func (b Backend) Downloads(ctx context.Context, run, band string, statuses []common.Status, page, limit int) ([]db.Download, error) {
	wc := whereClause{}
	wc.equal("run_id", run)
	if band != "" {
		wc.equal("band", band)
	}
	values := make([]interface{}, len(statuses))
	for i, s := range statuses {
		values[i] = s
	}
	wc.in("status", values...)
	rows, err := b.QueryContext(ctx, "select run_id, band, display_id, status, message, updated_at from download"+
		wc.String()+" ORDER BY band, display_id"+pagination(page, limit), wc.params...)
	if err != nil {
		return nil, fmt.Errorf("Downloads.QueryContext: %w", err)
	}
	defer rows.Close()
	downloads := make([]db.Download, 0)
	for rows.Next() {
		var d db.Download
		if err := rows.Scan(&d.Run, &d.Band, &d.DisplayID, &d.Status, &d.Message, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("Downloads.Scan: %w", err)
		}
		downloads = append(downloads, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Downloads.rows.err: %w", err)
	}
	return downloads, nil
}
