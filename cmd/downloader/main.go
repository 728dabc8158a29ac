package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/airbusgeo/geocube/interface/messaging"
	"github.com/airbusgeo/nbr-ingester/catalog"
	"github.com/airbusgeo/nbr-ingester/catalog/entities"
	"github.com/airbusgeo/nbr-ingester/common"
	"github.com/airbusgeo/nbr-ingester/downloader"
	"github.com/airbusgeo/nbr-ingester/interface/catalog/m2m"
	db "github.com/airbusgeo/nbr-ingester/interface/database"
	"github.com/airbusgeo/nbr-ingester/interface/database/pg"
	"github.com/airbusgeo/nbr-ingester/interface/provider"
	"github.com/airbusgeo/nbr-ingester/service"
	"github.com/airbusgeo/nbr-ingester/service/log"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type config struct {
	WorkingDir  string
	StagingDir  string
	DataDir     string
	BandFiles   string
	Run         string
	Organize    bool
	Parallelism int
	MaxTries    int

	LedgerConnection string
	Ledger           ledgerConfig
	Messaging        service.MessagingConfig

	LocalProviderPath   string
	LocalProviderLayout string
	StorageProviderURI  string
	StorageLayout       string
	M2MURL              string
	M2MUsername         string
	M2MToken            string
	M2MPassword         string
	BandDataset         string
	AwsAccessKeyID      string
	AwsSecretAccessKey  string
	AwsEndpoint         string
	WithLandsatAws      bool
}

func newAppConfig() (*config, error) {
	config := config{}
	// Global config
	flag.StringVar(&config.WorkingDir, "workdir", ".", "root of the staging (ingest) and data directories")
	flag.StringVar(&config.StagingDir, "staging", "", "directory receiving the downloaded files (default: <workdir>/ingest)")
	flag.StringVar(&config.DataDir, "datadir", "", "directory receiving the band subdirectories (default: <workdir>/data)")
	flag.StringVar(&config.BandFiles, "bandfiles", "", "json of the band files to download (output of the catalog)")
	flag.StringVar(&config.Run, "run", "", "label of the run in the ledger (default: random)")
	flag.BoolVar(&config.Organize, "organize", true, "move the downloaded files in their band subdirectory of the data directory")
	flag.IntVar(&config.Parallelism, "parallelism", 1, "maximum number of simultaneous downloads")
	flag.IntVar(&config.MaxTries, "max-tries", 3, "maximum number of tries of a download failing with a temporary error")

	// Ledger
	flag.StringVar(&config.LedgerConnection, "ledger", "", "connection to the postgres database recording the downloads (optional)")
	flag.StringVar(&config.Ledger.Runs, "runs", "", "list the runs of the ledger fitting the pattern (* and ? wildcards, (?i) suffix for case-insensitivity) and exit")
	flag.StringVar(&config.Ledger.StatusRun, "status", "", "print the status and the downloads of the run and exit")
	flag.StringVar(&config.Ledger.StatusBand, "status-band", "", "only print the downloads of this band (with -status)")
	flag.StringVar(&config.Ledger.StatusFilter, "status-filter", "", "only print the downloads with these comma-separated statuses, e.g. FAILED,RETRY (with -status)")
	flag.IntVar(&config.Ledger.Page, "page", 0, "page of the downloads (with -status)")
	flag.IntVar(&config.Ledger.Limit, "limit", 0, "maximum number of downloads per page (with -status, default: all)")
	flag.StringVar(&config.Ledger.DeleteRun, "delete-run", "", "delete the run and its downloads from the ledger and exit")

	// Messaging
	config.Messaging.SetFlags("name of the queue for downloader jobs (pgqueue or pubsub subscription). Enables the worker mode.",
		"name of the queue for job events (pgqueue or pubsub topic) (optional)")

	// Providers
	flag.StringVar(&config.LocalProviderPath, "local-path", "", "local path where band files are stored (optional). To configure a local path as a potential band Provider.")
	flag.StringVar(&config.LocalProviderLayout, "local-layout", "", "layout of the local path, with {IDENTIFIER} replaced according to the band file (default: {FILE})")
	flag.StringVar(&config.StorageProviderURI, "storage-uri", "", "storage (local path, gs:// or s3:// uri) where band files are mirrored (optional). To configure a storage as a potential band Provider.")
	flag.StringVar(&config.StorageLayout, "storage-layout", "", "layout of the storage, with {IDENTIFIER} replaced according to the band file (default: {FILE})")
	flag.StringVar(&config.M2MURL, "m2m-url", m2m.M2MURL, "url of the USGS M2M api")
	flag.StringVar(&config.M2MUsername, "m2m-username", "", "USGS ERS username (optional). To configure M2M as a potential band Provider.")
	flag.StringVar(&config.M2MToken, "m2m-token", "", "USGS M2M application token")
	flag.StringVar(&config.M2MPassword, "m2m-password", "", "USGS ERS password (if no application token is provided)")
	flag.StringVar(&config.BandDataset, "band-dataset", catalog.DefaultBandDataset, "M2M dataset of the band files that do not record their own dataset")
	flag.BoolVar(&config.WithLandsatAws, "landsat-aws", false, "configure the requester-pays usgs-landsat bucket as a potential band Provider")
	flag.StringVar(&config.AwsAccessKeyID, "aws-access-key-id", "", "aws access key id (default: aws credential chain)")
	flag.StringVar(&config.AwsSecretAccessKey, "aws-secret-access-key", "", "aws secret access key")
	flag.StringVar(&config.AwsEndpoint, "aws-endpoint", "", "s3 endpoint (optional)")
	flag.Parse()

	if config.Ledger.enabled() {
		if config.LedgerConnection == "" {
			return nil, fmt.Errorf("missing ledger config flag")
		}
		return &config, nil
	}
	if config.BandFiles == "" && config.Messaging.JobQueue == "" {
		return nil, fmt.Errorf("missing bandfiles or job-queue config flag")
	}
	if config.M2MUsername != "" && config.M2MToken == "" && config.M2MPassword == "" {
		return nil, fmt.Errorf("missing m2m-token or m2m-password config flag")
	}
	return &config, nil
}

func main() {
	ctx := context.Background()
	err := run(ctx)
	if err != nil {
		log.Fatal("error", zap.Error(err))
	}
}

func (c *config) layout() downloader.Layout {
	layout := downloader.DefaultLayout(c.WorkingDir)
	if c.StagingDir != "" {
		layout.StagingDir = c.StagingDir
	}
	if c.DataDir != "" {
		layout.DataDir = c.DataDir
	}
	return layout
}

func run(ctx context.Context) error {
	config, err := newAppConfig()
	if err != nil {
		return err
	}

	if config.Ledger.enabled() {
		ledger, err := pg.New(ctx, config.LedgerConnection)
		if err != nil {
			return fmt.Errorf("pg.New: %w", err)
		}
		defer ledger.Close()
		return runLedgerCommand(ctx, ledger, config.Ledger, os.Stdout)
	}

	// Load band providers
	var bandProviders []provider.BandProvider
	var providerNames []string
	if config.LocalProviderPath != "" {
		providerNames = append(providerNames, "local ("+config.LocalProviderPath+")")
		bandProviders = append(bandProviders, provider.NewLocalProvider(config.LocalProviderPath, config.LocalProviderLayout))
	}
	if config.StorageProviderURI != "" {
		storage, err := service.NewStorageStrategy(ctx, config.StorageProviderURI)
		if err != nil {
			return err
		}
		providerNames = append(providerNames, "storage ("+config.StorageProviderURI+")")
		bandProviders = append(bandProviders, provider.NewStorageProvider(storage, config.StorageProviderURI, config.StorageLayout))
	}
	if config.WithLandsatAws {
		awsProvider := provider.NewLandsatAwsProvider(config.AwsAccessKeyID, config.AwsSecretAccessKey)
		awsProvider.Endpoint = config.AwsEndpoint
		providerNames = append(providerNames, "LandsatAws")
		bandProviders = append(bandProviders, awsProvider)
	}
	if config.M2MUsername != "" {
		client := m2m.NewClient(config.M2MUsername, config.M2MToken)
		client.URL = config.M2MURL
		client.Password = config.M2MPassword
		if err := client.Login(ctx); err != nil {
			return err
		}
		defer client.Logout(ctx)
		providerNames = append(providerNames, "M2M ("+config.M2MUsername+")")
		bandProviders = append(bandProviders, provider.NewM2MProvider(client, config.BandDataset))
	}
	if len(bandProviders) == 0 {
		return fmt.Errorf("no band providers defined... ")
	}

	opts := downloader.Options{
		Parallelism: config.Parallelism,
		MaxTries:    config.MaxTries,
		RetryDelay:  service.RetryBaseDelay,
	}
	var ledger *pg.BackendDB
	if config.LedgerConnection != "" {
		if ledger, err = pg.New(ctx, config.LedgerConnection); err != nil {
			return fmt.Errorf("pg.New: %w", err)
		}
		opts.Ledger = ledger
	}

	log.Logger(ctx).Debug("downloader starts downloading band files from " + strings.Join(providerNames, ", "))
	if config.Messaging.JobQueue != "" {
		return runWorker(ctx, config, bandProviders, ledger, opts)
	}
	return downloadBandFiles(ctx, config, bandProviders, ledger, opts)
}

func createRun(ctx context.Context, ledger *pg.BackendDB, run string) error {
	if ledger == nil {
		return nil
	}
	if err := ledger.CreateRun(ctx, run); err != nil && !errors.As(err, &db.ErrAlreadyExists{}) {
		return err
	}
	return nil
}

func downloadBandFiles(ctx context.Context, config *config, bandProviders []provider.BandProvider, ledger *pg.BackendDB, opts downloader.Options) error {
	files := entities.BandFiles{}
	if err := service.FromJSON(config.BandFiles, &files); err != nil {
		return fmt.Errorf("downloadBandFiles.%w", err)
	}

	opts.Run = config.Run
	if opts.Run == "" {
		opts.Run = uuid.New().String()
	}
	if err := createRun(ctx, ledger, opts.Run); err != nil {
		return err
	}

	layout := config.layout()
	report, downloadErr := downloader.DownloadBandFiles(ctx, bandProviders, files, layout, opts)
	if ledger != nil {
		if err := db.RecordReport(ctx, ledger, report); err != nil {
			log.Logger(ctx).Warn("unable to record the report", zap.Error(err))
		}
	}
	if err := service.ToJSON(report, config.WorkingDir, "report_"+opts.Run+".json"); err != nil {
		log.Logger(ctx).Warn("unable to write the report", zap.Error(err))
	}

	if config.Organize {
		if err := downloader.OrganizeBandFiles(ctx, layout.StagingDir, layout.DataDir, report.Filenames()); err != nil {
			return service.MergeErrors(true, downloadErr, err)
		}
	}
	return downloadErr
}

func runWorker(ctx context.Context, config *config, bandProviders []provider.BandProvider, ledger *pg.BackendDB, opts downloader.Options) error {
	jobConsumer, stopConsumer, err := config.Messaging.NewConsumer(ctx, config.Messaging.JobQueue)
	if err != nil {
		return fmt.Errorf("MessagingService: %w", err)
	}
	defer stopConsumer()
	logMessaging := " pulling on " + config.Messaging.Describe(config.Messaging.JobQueue)

	var eventPublisher messaging.Publisher
	if config.Messaging.EventQueue != "" {
		publisher, stopPublisher, err := config.Messaging.NewPublisher(ctx, config.Messaging.EventQueue)
		if err != nil {
			return fmt.Errorf("MessagingService: %w", err)
		}
		defer stopPublisher()
		eventPublisher = publisher
		logMessaging += " pushing on " + config.Messaging.Describe(config.Messaging.EventQueue)
	}

	jobStarted := time.Time{}
	go func() {
		http.HandleFunc("/termination_cost", func(w http.ResponseWriter, r *http.Request) {
			terminationCost := 0
			if jobStarted != (time.Time{}) {
				terminationCost = int(time.Since(jobStarted).Seconds() * 1000) //milliseconds since task was leased
			}
			fmt.Fprintf(w, "%d", terminationCost)
		})
		http.Handle("/metrics", promhttp.Handler())
		http.ListenAndServe(":9000", nil)
	}()

	layout := config.layout()
	maxTries := 15
	log.Logger(ctx).Debug("downloader worker starts" + logMessaging)
	for {
		err := jobConsumer.Pull(ctx, func(ctx context.Context, msg *messaging.Message) (err error) {
			jobStarted = time.Now()
			defer func() {
				jobStarted = time.Time{}
			}()
			ctx = log.With(ctx, "msgID", msg.ID)
			log.Logger(log.With(ctx, "body", string(msg.Data))).Sugar().Debugf("message %s try %d", msg.ID, msg.TryCount)

			job, err := downloader.ParseJob(msg.Data)
			if err != nil {
				return err
			}
			ctx = log.With(ctx, common.TagDisplayID, job.File.DisplayID)
			if err := createRun(ctx, ledger, job.Run); err != nil {
				return service.MakeTemporary(err)
			}

			res := common.DownloadResult{Band: job.File.Band, EntityID: job.File.EntityID, DisplayID: job.File.DisplayID, Status: common.StatusRETRY}
			defer func() {
				if err != nil && service.Temporary(err) && msg.TryCount < maxTries {
					log.Logger(ctx).Warn("job temporary failure", zap.Error(err))
					return
				}
				if err != nil {
					log.Logger(ctx).Warn("job failed", zap.Error(err))
					res.Status, res.Message = common.StatusFAILED, err.Error()
					err = nil
				}
				if eventPublisher == nil {
					return
				}
				res.Date = time.Now()
				resb, e := json.Marshal(common.DownloadReport{Run: job.Run, Results: []common.DownloadResult{res}})
				if e != nil {
					err = service.MakeTemporary(fmt.Errorf("marshal: %w", e))
				} else if e := eventPublisher.Publish(ctx, resb); e != nil {
					err = service.MakeTemporary(fmt.Errorf("failed to enqueue result: %w", e))
				}
			}()

			if res, err = downloader.ProcessJob(ctx, bandProviders, job, layout, opts); err != nil {
				return err
			}
			log.Logger(ctx).Sugar().Infof("successfully downloaded %s", job.File.DisplayID)
			return nil
		})
		if err != nil {
			return fmt.Errorf("ps.process: %w", err)
		}
	}
}
