package downloader

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/airbusgeo/nbr-ingester/catalog/entities"
	"github.com/airbusgeo/nbr-ingester/common"
	"github.com/airbusgeo/nbr-ingester/interface/provider"
	"github.com/airbusgeo/nbr-ingester/service"
	"github.com/airbusgeo/nbr-ingester/service/log"
)

// Job is the payload of a message asking a downloader to fetch one band file
type Job struct {
	Run  string            `json:"run"`
	File entities.BandFile `json:"file"`
}

// Jobs returns one job per band file
func Jobs(run string, files entities.BandFiles) []Job {
	var jobs []Job
	for _, band := range files.Bands() {
		for _, f := range files[band] {
			f.Band = band
			jobs = append(jobs, Job{Run: run, File: f})
		}
	}
	return jobs
}

// ParseJob decodes and validates the payload of a job
func ParseJob(data []byte) (Job, error) {
	job := Job{}
	if err := json.Unmarshal(data, &job); err != nil {
		return job, fmt.Errorf("invalid payload: %w", err)
	}
	if job.File.DisplayID == "" || job.File.Band == "" {
		return job, fmt.Errorf("invalid payload: missing band or displayId")
	}
	return job, nil
}

// ProcessJob downloads the band file of the job in the staging directory
// and moves it into its band subdirectory of the data directory.
// Temporary errors are returned as is, so that the job can be retried.
func ProcessJob(ctx context.Context, providers []provider.BandProvider, job Job, layout Layout, opts Options) (common.DownloadResult, error) {
	opts.Run = job.Run
	res := common.DownloadResult{Band: job.File.Band, EntityID: job.File.EntityID, DisplayID: job.File.DisplayID, Status: common.StatusRETRY}
	if job.Run != "" {
		ctx = log.With(ctx, common.TagRun, job.Run)
	}
	if err := os.MkdirAll(layout.StagingDir, 0755); err != nil {
		return res, service.MakeTemporary(fmt.Errorf("ProcessJob.MkdirAll: %w", err))
	}

	status := common.StatusNEW
	if opts.Ledger != nil {
		statuses, err := opts.Ledger.Statuses(ctx, job.Run)
		if err != nil {
			return res, service.MakeTemporary(fmt.Errorf("ProcessJob.%w", err))
		}
		status = statuses[job.File.DisplayID]
	}

	res, err := downloadBandFile(ctx, providers, job.File, layout, status, opts)
	if err != nil {
		return res, fmt.Errorf("ProcessJob.%w", err)
	}

	src := filepath.Join(layout.StagingDir, filepath.Base(job.File.DisplayID))
	if _, err := os.Stat(src); err != nil {
		// Already in the data directory
		return res, nil
	}
	bandDir := filepath.Join(layout.DataDir, job.File.Band)
	if err := mkdir(ctx, bandDir); err != nil {
		return res, service.MakeTemporary(fmt.Errorf("ProcessJob.%w", err))
	}
	if err := moveFile(src, layout.BandFilePath(job.File.Band, job.File.DisplayID)); err != nil {
		return res, service.MakeTemporary(fmt.Errorf("ProcessJob.move: %w", err))
	}
	return res, nil
}
