package downloader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/airbusgeo/nbr-ingester/catalog/entities"
	"github.com/airbusgeo/nbr-ingester/common"
	db "github.com/airbusgeo/nbr-ingester/interface/database"
	"github.com/airbusgeo/nbr-ingester/interface/provider"
	"github.com/airbusgeo/nbr-ingester/service"
	"github.com/airbusgeo/nbr-ingester/service/log"
	"golang.org/x/sync/errgroup"
)

// Options of DownloadBandFiles
type Options struct {
	// Run labels the downloads in the ledger
	Run string
	// Ledger [optional] records the downloads. Files recorded DONE for the same run are skipped.
	Ledger db.Ledger
	// Parallelism is the maximum number of simultaneous downloads (default: 1)
	Parallelism int
	// MaxTries of a download while it fails with a temporary error (default: 1)
	MaxTries int
	// RetryDelay before the first retry (doubled at each try)
	RetryDelay time.Duration
}

// DownloadBandFiles downloads the band files in the staging directory of the layout,
// each one with the first provider that succeeds.
// A file is not downloaded if it is already recorded DONE in the ledger or already in the data directory.
// All the files are processed, even if some downloads fail: the report contains the outcome of every file
// and the returned error merges the errors of the failed downloads.
func DownloadBandFiles(ctx context.Context, providers []provider.BandProvider, files entities.BandFiles, layout Layout, opts Options) (common.DownloadReport, error) {
	report := common.DownloadReport{Run: opts.Run}
	if len(providers) == 0 {
		return report, fmt.Errorf("DownloadBandFiles: no provider is configured")
	}
	if err := os.MkdirAll(layout.StagingDir, 0755); err != nil {
		return report, service.MakeTemporary(fmt.Errorf("DownloadBandFiles.MkdirAll: %w", err))
	}
	if opts.Run != "" {
		ctx = log.With(ctx, common.TagRun, opts.Run)
	}

	statuses := map[string]common.Status{}
	if opts.Ledger != nil {
		var err error
		if statuses, err = opts.Ledger.Statuses(ctx, opts.Run); err != nil {
			return report, fmt.Errorf("DownloadBandFiles.%w", err)
		}
	}

	var toDownload []entities.BandFile
	for _, band := range files.Bands() {
		for _, f := range files[band] {
			f.Band = band
			toDownload = append(toDownload, f)
		}
	}
	report.Results = make([]common.DownloadResult, len(toDownload))

	g, gctx := errgroup.WithContext(ctx)
	if opts.Parallelism > 1 {
		g.SetLimit(opts.Parallelism)
	} else {
		g.SetLimit(1)
	}
	var mutex sync.Mutex
	var err error
	for i, f := range toDownload {
		i, f := i, f
		g.Go(func() error {
			res, e := downloadBandFile(gctx, providers, f, layout, statuses[f.DisplayID], opts)
			report.Results[i] = res
			if e != nil {
				mutex.Lock()
				err = service.MergeErrors(false, err, e)
				mutex.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	if err != nil {
		log.Logger(ctx).Sugar().Warnf("%d/%d band files not downloaded", len(report.Failed()), len(report.Results))
		return report, fmt.Errorf("DownloadBandFiles.%w", err)
	}
	log.Logger(ctx).Sugar().Infof("%d band files downloaded", len(report.Results))
	return report, nil
}

func setStatus(ctx context.Context, opts Options, res common.DownloadResult) {
	if opts.Ledger == nil {
		return
	}
	message := res.Message
	if err := opts.Ledger.SetStatus(ctx, opts.Run, res.Band, res.DisplayID, res.Status, &message); err != nil {
		log.Logger(ctx).Sugar().Warnf("unable to record the status of %s: %v", res.DisplayID, err)
	}
}

func downloadBandFile(ctx context.Context, providers []provider.BandProvider, file entities.BandFile, layout Layout, status common.Status, opts Options) (common.DownloadResult, error) {
	ctx = log.With(log.With(log.With(ctx, common.TagBand, file.Band), common.TagEntityID, file.EntityID), common.TagDisplayID, file.DisplayID)
	res := common.DownloadResult{Band: file.Band, EntityID: file.EntityID, DisplayID: file.DisplayID, Date: time.Now()}

	if status == common.StatusDONE {
		log.Logger(ctx).Sugar().Debugf("%s already downloaded (run %s)", file.DisplayID, opts.Run)
		res.Status, res.Message = common.StatusDONE, "already downloaded"
		return res, nil
	}
	if _, err := os.Stat(layout.BandFilePath(file.Band, file.DisplayID)); err == nil {
		log.Logger(ctx).Sugar().Debugf("%s already exists in %s", file.DisplayID, layout.DataDir)
		res.Status, res.Message = common.StatusDONE, "already exists"
		setStatus(ctx, opts, res)
		return res, nil
	}

	res.Status = common.StatusPENDING
	setStatus(ctx, opts, res)

	log.Logger(ctx).Sugar().Infof("downloading %s", file.DisplayID)
	maxTries := opts.MaxTries
	if maxTries < 1 {
		maxTries = 1
	}
	err := service.Retriable(ctx, func() error {
		var err error
		for _, bandProvider := range providers {
			e := bandProvider.Download(log.With(ctx, common.TagProvider, bandProvider.Name()), file, layout.StagingDir)
			if err = service.MergeErrors(false, err, e); err == nil {
				res.Provider = bandProvider.Name()
				return nil
			}
			log.Logger(ctx).Sugar().Warnf("%s: %v", bandProvider.Name(), e)
		}
		if !service.Temporary(err) {
			return service.MakeFatal(err)
		}
		return err
	}, opts.RetryDelay, maxTries)

	res.Date = time.Now()
	switch {
	case err == nil:
		res.Status = common.StatusDONE
	case service.Temporary(err):
		res.Status, res.Message = common.StatusRETRY, err.Error()
	default:
		res.Status, res.Message = common.StatusFAILED, err.Error()
	}
	service.CountDownload(file.Band, res.Provider, res.Status.String())
	setStatus(ctx, opts, res)

	if err != nil {
		var notFound provider.ErrProductNotFound
		if errors.As(err, &notFound) {
			log.Logger(ctx).Sugar().Warnf("%s is not available", file.DisplayID)
		}
		return res, fmt.Errorf("download[%s].%w", file.DisplayID, err)
	}
	return res, nil
}
