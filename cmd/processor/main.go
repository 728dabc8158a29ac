package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/airbusgeo/geocube/interface/messaging"
	"github.com/airbusgeo/godal"
	"github.com/airbusgeo/nbr-ingester/common"
	"github.com/airbusgeo/nbr-ingester/processor"
	"github.com/airbusgeo/nbr-ingester/service"
	"github.com/airbusgeo/nbr-ingester/service/geometry"
	"github.com/airbusgeo/nbr-ingester/service/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	opBoundary     = "boundary"
	opReprojectDir = "reproject-dir"
	opAll          = "all"
)

type config struct {
	Op          string
	In          string
	Out         string
	DataDir     string
	Bands       string
	CRS         string
	Cutline     string
	Raw         bool
	Tile        bool
	Parallelism int

	StorageURI    string
	StorageSubdir string

	Messaging service.MessagingConfig
}

func newAppConfig() (*config, error) {
	config := config{}
	flag.StringVar(&config.Op, "op", opAll, "operation: nbr, reproject, reproject-dir, clip, tile, boundary or all (nbr, reproject, clip and tile)")
	flag.StringVar(&config.In, "in", "", "input raster (reproject, clip), directory (reproject-dir, tile) or vector file (boundary)")
	flag.StringVar(&config.Out, "out", "", "output raster, directory or vector file (default: derived from the input)")
	flag.StringVar(&config.DataDir, "datadir", "", "data directory, with one subdirectory per band (nbr, all)")
	flag.StringVar(&config.Bands, "bands", "B5,B7", "comma-separated NIR and SWIR2 bands (nbr, all)")
	flag.StringVar(&config.CRS, "crs", processor.DefaultCRS, "target crs (reproject, reproject-dir, all)")
	flag.StringVar(&config.Cutline, "cutline", "", "vector file to clip the rasters with (clip, all)")
	flag.BoolVar(&config.Raw, "raw", false, "write the NBR as float32 instead of quantized int16")
	flag.BoolVar(&config.Tile, "tile", true, "mosaic the rasters in a single raster (all)")
	flag.IntVar(&config.Parallelism, "parallelism", 1, "maximum number of NBR rasters computed simultaneously")
	flag.StringVar(&config.StorageURI, "storage-uri", "", "storage uri (currently supported: local, gs, s3). To publish the outputs (optional).")
	flag.StringVar(&config.StorageSubdir, "storage-subdir", "", "subdirectory of the storage receiving the outputs")
	config.Messaging.SetFlags("name of the queue for processor jobs (pgqueue or pubsub subscription). Enables the worker mode.",
		"name of the queue for job events (pgqueue or pubsub topic) (optional)")
	flag.Parse()

	if config.Messaging.JobQueue != "" {
		return &config, nil
	}
	switch config.Op {
	case processor.OpNBR, opAll:
		if config.DataDir == "" {
			return nil, fmt.Errorf("missing datadir config flag")
		}
	case processor.OpReproject, opReprojectDir, processor.OpClip, processor.OpTile, opBoundary:
		if config.In == "" {
			return nil, fmt.Errorf("missing in config flag")
		}
	default:
		return nil, fmt.Errorf("unknown operation %s", config.Op)
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

func (c *config) options(storage service.Storage) processor.Options {
	opts := processor.Options{
		Bands:         strings.Split(c.Bands, ","),
		NBR:           processor.NBROptions{Parallelism: c.Parallelism},
		CRS:           c.CRS,
		Cutline:       c.Cutline,
		Tile:          c.Tile,
		Storage:       storage,
		StorageSubdir: c.StorageSubdir,
	}
	if c.Raw {
		opts.NBR.Encoding = processor.Raw
	}
	return opts
}

func run(ctx context.Context) error {
	config, err := newAppConfig()
	if err != nil {
		return err
	}
	godal.RegisterAll()
	if err := processor.RegisterStorageHandlers(ctx); err != nil {
		log.Logger(ctx).Warn("remote rasters are not supported", zap.Error(err))
	}

	var storage service.Storage
	if config.StorageURI != "" {
		if storage, err = service.NewStorageStrategy(ctx, config.StorageURI); err != nil {
			return fmt.Errorf("storage %s: %w", config.StorageURI, err)
		}
	}

	if config.Messaging.JobQueue != "" {
		return runWorker(ctx, config, storage)
	}

	ctx = log.With(ctx, common.TagOperation, config.Op)
	var outputs []string
	switch config.Op {
	case opAll:
		result, err := processor.Process(ctx, config.DataDir, config.options(storage))
		if err != nil {
			return err
		}
		return printJSON(result)
	case processor.OpNBR:
		opts := config.options(nil)
		result, err := processor.CreateNBRRasters(ctx, config.DataDir, opts.Bands, opts.NBR)
		if err != nil {
			return err
		}
		outputs = append(result.Written, result.Existing...)
	case processor.OpReproject:
		out, err := processor.ReprojectRaster(ctx, config.In, config.Out, config.CRS)
		if err != nil {
			return err
		}
		outputs = []string{out}
	case opReprojectDir:
		if outputs, err = processor.ReprojectDirectory(ctx, config.In, config.Out, config.CRS); err != nil {
			return err
		}
	case processor.OpClip:
		out, err := processor.ClipRaster(ctx, config.In, config.Out, config.Cutline)
		if err != nil {
			return err
		}
		outputs = []string{out}
	case processor.OpTile:
		out, err := processor.TileDirectory(ctx, config.In, config.Out)
		if err != nil {
			return err
		}
		outputs = []string{out}
	case opBoundary:
		if config.Out == "" {
			boundary, err := geometry.BoundaryGeoJSON(ctx, config.In)
			if err != nil {
				return err
			}
			fmt.Println(string(boundary))
			return nil
		}
		if err := geometry.WriteBoundary(ctx, config.In, config.Out); err != nil {
			return err
		}
		outputs = []string{config.Out}
	}

	if storage != nil {
		if _, err := processor.Publish(ctx, storage, outputs, config.StorageSubdir); err != nil {
			return err
		}
	}
	return printJSON(outputs)
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runWorker(ctx context.Context, config *config, storage service.Storage) error {
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

	go func() {
		http.Handle("/metrics", promhttp.Handler())
		http.ListenAndServe(":9000", nil)
	}()

	maxTries := 5
	log.Logger(ctx).Debug("processor worker starts" + logMessaging)
	for {
		err := jobConsumer.Pull(ctx, func(ctx context.Context, msg *messaging.Message) (err error) {
			ctx = log.With(ctx, "msgID", msg.ID)
			log.Logger(log.With(ctx, "body", string(msg.Data))).Sugar().Debugf("message %s try %d", msg.ID, msg.TryCount)

			job, err := processor.ParseJob(msg.Data)
			if err != nil {
				return err
			}
			ctx = log.With(ctx, common.TagRun, job.Run)

			event := struct {
				Run     string           `json:"run"`
				Status  common.Status    `json:"status"`
				Message string           `json:"message,omitempty"`
				Result  processor.Result `json:"result"`
				Date    time.Time        `json:"date"`
			}{Run: job.Run, Status: common.StatusDONE}
			defer func() {
				if err != nil && service.Temporary(err) && msg.TryCount < maxTries {
					log.Logger(ctx).Warn("job temporary failure", zap.Error(err))
					return
				}
				if err != nil {
					log.Logger(ctx).Warn("job failed", zap.Error(err))
					event.Status, event.Message = common.StatusFAILED, err.Error()
					err = nil
				}
				if eventPublisher == nil {
					return
				}
				event.Date = time.Now()
				resb, e := json.Marshal(event)
				if e != nil {
					err = service.MakeTemporary(fmt.Errorf("marshal: %w", e))
				} else if e := eventPublisher.Publish(ctx, resb); e != nil {
					err = service.MakeTemporary(fmt.Errorf("failed to enqueue result: %w", e))
				}
			}()

			opts := config.options(storage)
			opts.Cutline, opts.Tile = job.Cutline, job.Tile
			if opts.StorageSubdir == "" {
				opts.StorageSubdir = job.Run
			}
			if event.Result, err = processor.Process(ctx, job.DataDir, opts); err != nil {
				return err
			}
			log.Logger(ctx).Sugar().Infof("successfully processed %s", job.DataDir)
			return nil
		})
		if err != nil {
			return fmt.Errorf("ps.process: %w", err)
		}
	}
}
