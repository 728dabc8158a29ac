package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/airbusgeo/nbr-ingester/common"
	db "github.com/airbusgeo/nbr-ingester/interface/database"
	"github.com/airbusgeo/nbr-ingester/service/log"
)

type ledgerConfig struct {
	Runs         string
	StatusRun    string
	StatusBand   string
	StatusFilter string
	Page         int
	Limit        int
	DeleteRun    string
}

func (c ledgerConfig) enabled() bool {
	return c.Runs != "" || c.StatusRun != "" || c.DeleteRun != ""
}

// runStatus is the summary of a run printed by -status
type runStatus struct {
	Run       string        `json:"run"`
	Status    db.Status     `json:"status"`
	Downloads []db.Download `json:"downloads"`
}

func parseStatuses(filter string) ([]common.Status, error) {
	var statuses []common.Status
	for _, s := range strings.Split(filter, ",") {
		if s = strings.TrimSpace(s); s == "" {
			continue
		}
		status, err := common.StatusString(s)
		if err != nil {
			return nil, fmt.Errorf("parseStatuses: %w", err)
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// runLedgerCommand lists the runs, prints the status of a run or deletes a run
func runLedgerCommand(ctx context.Context, ledger db.LedgerBackend, c ledgerConfig, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	switch {
	case c.DeleteRun != "":
		if err := ledger.DeleteRun(ctx, c.DeleteRun); err != nil {
			return fmt.Errorf("runLedgerCommand.%w", err)
		}
		log.Logger(ctx).Sugar().Infof("run %s deleted", c.DeleteRun)
		return nil

	case c.StatusRun != "":
		statuses, err := parseStatuses(c.StatusFilter)
		if err != nil {
			return err
		}
		rs := runStatus{Run: c.StatusRun}
		if rs.Status, err = ledger.RunStatus(ctx, c.StatusRun); err != nil {
			return fmt.Errorf("runLedgerCommand.%w", err)
		}
		if rs.Downloads, err = ledger.Downloads(ctx, c.StatusRun, c.StatusBand, statuses, c.Page, c.Limit); err != nil {
			return fmt.Errorf("runLedgerCommand.%w", err)
		}
		return enc.Encode(rs)

	default:
		runs, err := ledger.Runs(ctx, c.Runs)
		if err != nil {
			return fmt.Errorf("runLedgerCommand.%w", err)
		}
		return enc.Encode(runs)
	}
}
