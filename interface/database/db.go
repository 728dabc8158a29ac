package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/airbusgeo/nbr-ingester/common"
)

// Download is the record of the download of a band file during a run
type Download struct {
	Run       string        `json:"run"`
	Band      string        `json:"band"`
	DisplayID string        `json:"display_id"`
	Status    common.Status `json:"status"`
	Message   string        `json:"message"`
	UpdatedAt time.Time     `json:"updated_at"`
}

type ErrAlreadyExists struct {
	Type, ID string
}

func (e ErrAlreadyExists) Error() string {
	return fmt.Sprintf("%s alreay exists: %s", e.Type, e.ID)
}

type ErrNotFound struct {
	Type, ID string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Type, e.ID)
}

type LedgerTxBackend interface {
	LedgerBackend
	// Must be call to apply transaction
	Commit() error
	// Might be called to cancel the transaction (no effect if commit has already be done)
	Rollback() error
}

type LedgerDBBackend interface {
	LedgerBackend
	StartTransaction(ctx context.Context) (LedgerTxBackend, error)
}

type Status struct {
	New, Pending, Done, Retry, Failed int64
}

// Set the number of occurences for a given status
func (s *Status) Set(status common.Status, nb int64) {
	switch status {
	case common.StatusNEW:
		s.New = nb
	case common.StatusPENDING:
		s.Pending = nb
	case common.StatusDONE:
		s.Done = nb
	case common.StatusRETRY:
		s.Retry = nb
	case common.StatusFAILED:
		s.Failed = nb
	}
}

// Ledger records the outcome of the downloads, so that an interrupted run can be resumed
type Ledger interface {
	// SetStatus records the status of the download of a band file (message is not updated if nil)
	SetStatus(ctx context.Context, run, band, displayID string, status common.Status, message *string) error
	// Statuses returns the status of the downloads of the run, by display id
	Statuses(ctx context.Context, run string) (map[string]common.Status, error)
}

type LedgerBackend interface {
	Ledger
	// Create a run in database, may return ErrAlreadyExists
	CreateRun(ctx context.Context, run string) error
	// Runs returns the list of the runs fitting the pattern
	// pattern [optional=""] run_pattern (* and ? wildcards)
	Runs(ctx context.Context, pattern string) ([]string, error)
	// Delete a run and its downloads
	DeleteRun(ctx context.Context, run string) error
	// RunStatus returns the number of downloads of the run by status
	RunStatus(ctx context.Context, run string) (Status, error)
	// Downloads returns the downloads fitting the given parameters
	// band [optional=""] band
	// statuses [optional=nil] statuses of the downloads
	Downloads(ctx context.Context, run, band string, statuses []common.Status, page, limit int) ([]Download, error)
}

// UnitOfWork runs a function and commit the database at the end or rollback if the function returns an error
func UnitOfWork(ctx context.Context, db LedgerDBBackend, f func(tx LedgerTxBackend) error) (err error) {
	// Start transaction
	txn, err := db.StartTransaction(ctx)
	if err != nil {
		return fmt.Errorf("uow.starttransaction: %w", err)
	}

	// Rollback if not successful
	defer func() {
		if e := txn.Rollback(); err == nil {
			err = e
		}
	}()

	// Execute function
	if err = f(txn); err != nil {
		return fmt.Errorf("uow.%w", err)
	}

	return txn.Commit()
}

// RecordReport records all the results of the report in a single transaction, creating the run if needed
func RecordReport(ctx context.Context, backend LedgerDBBackend, report common.DownloadReport) error {
	return UnitOfWork(ctx, backend, func(tx LedgerTxBackend) error {
		if err := tx.CreateRun(ctx, report.Run); err != nil {
			if !errors.As(err, &ErrAlreadyExists{}) {
				return fmt.Errorf("RecordReport.%w", err)
			}
		}
		for _, r := range report.Results {
			message := r.Message
			if err := tx.SetStatus(ctx, report.Run, r.Band, r.DisplayID, r.Status, &message); err != nil {
				return fmt.Errorf("RecordReport.%w", err)
			}
		}
		return nil
	})
}
