package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path"
	"testing"

	"github.com/airbusgeo/nbr-ingester/common"
	db "github.com/airbusgeo/nbr-ingester/interface/database"
)

// memoryLedger is an in-memory LedgerBackend
type memoryLedger struct {
	downloads map[string][]db.Download // by run
}

func (l *memoryLedger) CreateRun(ctx context.Context, run string) error {
	if _, ok := l.downloads[run]; ok {
		return db.ErrAlreadyExists{Type: "run", ID: run}
	}
	l.downloads[run] = nil
	return nil
}

func (l *memoryLedger) SetStatus(ctx context.Context, run, band, displayID string, status common.Status, message *string) error {
	d := db.Download{Run: run, Band: band, DisplayID: displayID, Status: status}
	if message != nil {
		d.Message = *message
	}
	l.downloads[run] = append(l.downloads[run], d)
	return nil
}

func (l *memoryLedger) Statuses(ctx context.Context, run string) (map[string]common.Status, error) {
	statuses := map[string]common.Status{}
	for _, d := range l.downloads[run] {
		statuses[d.DisplayID] = d.Status
	}
	return statuses, nil
}

func (l *memoryLedger) Runs(ctx context.Context, pattern string) ([]string, error) {
	var runs []string
	for run := range l.downloads {
		if ok, _ := path.Match(pattern, run); ok {
			runs = append(runs, run)
		}
	}
	return runs, nil
}

func (l *memoryLedger) DeleteRun(ctx context.Context, run string) error {
	if _, ok := l.downloads[run]; !ok {
		return db.ErrNotFound{Type: "run", ID: run}
	}
	delete(l.downloads, run)
	return nil
}

func (l *memoryLedger) RunStatus(ctx context.Context, run string) (db.Status, error) {
	counts := map[common.Status]int64{}
	for _, d := range l.downloads[run] {
		counts[d.Status]++
	}
	status := db.Status{}
	for s, nb := range counts {
		status.Set(s, nb)
	}
	return status, nil
}

func (l *memoryLedger) Downloads(ctx context.Context, run, band string, statuses []common.Status, page, limit int) ([]db.Download, error) {
	var downloads []db.Download
	for _, d := range l.downloads[run] {
		if band != "" && d.Band != band {
			continue
		}
		keep := len(statuses) == 0
		for _, s := range statuses {
			keep = keep || s == d.Status
		}
		if keep {
			downloads = append(downloads, d)
		}
	}
	return downloads, nil
}

func newMemoryLedger() *memoryLedger {
	l := &memoryLedger{downloads: map[string][]db.Download{}}
	ctx := context.Background()
	l.CreateRun(ctx, "run1")
	l.SetStatus(ctx, "run1", "B5", "a_SR_B5.TIF", common.StatusDONE, nil)
	l.SetStatus(ctx, "run1", "B7", "a_SR_B7.TIF", common.StatusFAILED, nil)
	l.SetStatus(ctx, "run1", "B7", "b_SR_B7.TIF", common.StatusRETRY, nil)
	return l
}

func TestParseStatuses(t *testing.T) {
	statuses, err := parseStatuses("failed, RETRY,")
	if err != nil || len(statuses) != 2 || statuses[0] != common.StatusFAILED || statuses[1] != common.StatusRETRY {
		t.Errorf("expected [FAILED RETRY] found %v (%v)", statuses, err)
	}
	if statuses, err := parseStatuses(""); err != nil || len(statuses) != 0 {
		t.Errorf("expected no status found %v (%v)", statuses, err)
	}
	if _, err := parseStatuses("DONE,LOST"); err == nil {
		t.Errorf("expected an error")
	}
}

func TestLedgerStatus(t *testing.T) {
	ctx := context.Background()
	ledger := newMemoryLedger()
	var out bytes.Buffer
	if err := runLedgerCommand(ctx, ledger, ledgerConfig{StatusRun: "run1", StatusBand: "B7", StatusFilter: "FAILED"}, &out); err != nil {
		t.Fatal(err)
	}
	var rs runStatus
	if err := json.Unmarshal(out.Bytes(), &rs); err != nil {
		t.Fatal(err)
	}
	if rs.Status.Done != 1 || rs.Status.Failed != 1 || rs.Status.Retry != 1 {
		t.Errorf("expected 1 done, 1 failed, 1 retry found %+v", rs.Status)
	}
	if len(rs.Downloads) != 1 || rs.Downloads[0].DisplayID != "a_SR_B7.TIF" {
		t.Errorf("expected a_SR_B7.TIF found %v", rs.Downloads)
	}

	if err := runLedgerCommand(ctx, ledger, ledgerConfig{StatusRun: "run1", StatusFilter: "LOST"}, &out); err == nil {
		t.Errorf("expected an error")
	}
}

func TestLedgerRuns(t *testing.T) {
	ctx := context.Background()
	ledger := newMemoryLedger()
	var out bytes.Buffer
	if err := runLedgerCommand(ctx, ledger, ledgerConfig{Runs: "run*"}, &out); err != nil {
		t.Fatal(err)
	}
	var runs []string
	if err := json.Unmarshal(out.Bytes(), &runs); err != nil || len(runs) != 1 || runs[0] != "run1" {
		t.Errorf("expected [run1] found %s (%v)", out.String(), err)
	}
}

func TestLedgerDeleteRun(t *testing.T) {
	ctx := context.Background()
	ledger := newMemoryLedger()
	if err := runLedgerCommand(ctx, ledger, ledgerConfig{DeleteRun: "run1"}, &bytes.Buffer{}); err != nil {
		t.Fatal(err)
	}
	if _, ok := ledger.downloads["run1"]; ok {
		t.Errorf("expected run1 to be deleted")
	}
	err := runLedgerCommand(ctx, ledger, ledgerConfig{DeleteRun: "run1"}, &bytes.Buffer{})
	if !errors.As(err, &db.ErrNotFound{}) {
		t.Errorf("expected ErrNotFound found %v", err)
	}
}
