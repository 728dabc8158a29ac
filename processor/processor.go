package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/airbusgeo/nbr-ingester/common"
	"github.com/airbusgeo/nbr-ingester/service"
	"github.com/airbusgeo/nbr-ingester/service/log"
)

// Options of the processing of a data directory
type Options struct {
	// Bands are the NIR and SWIR2 bands (default: B5, B7)
	Bands []string
	NBR   NBROptions
	// CRS of the reprojected rasters (default: EPSG:4326)
	CRS string
	// Cutline [optional] to clip the reprojected rasters
	Cutline string
	// Tile mosaics the rasters in a single raster
	Tile bool
	// Storage [optional] to publish the outputs, under StorageSubdir
	Storage       service.Storage
	StorageSubdir string
}

// Result lists the outputs of the processing
type Result struct {
	NBR         NBRResult `json:"nbr"`
	Reprojected []string  `json:"reprojected,omitempty"`
	Clipped     []string  `json:"clipped,omitempty"`
	Tiled       string    `json:"tiled,omitempty"`
	Published   []string  `json:"published,omitempty"`
}

// Job is the payload of a message asking a processor to process a data directory
type Job struct {
	Run     string `json:"run"`
	DataDir string `json:"dataDir"`
	Cutline string `json:"cutline,omitempty"`
	Tile    bool   `json:"tile"`
}

// ParseJob decodes and validates the payload of a job
func ParseJob(data []byte) (Job, error) {
	job := Job{}
	if err := json.Unmarshal(data, &job); err != nil {
		return job, fmt.Errorf("invalid payload: %w", err)
	}
	if job.DataDir == "" {
		return job, fmt.Errorf("invalid payload: missing dataDir")
	}
	return job, nil
}

// Process computes the NBR rasters of the data directory, reprojects them,
// clips them to the cutline and mosaics them, depending on the options.
// Every step skips the outputs that already exist, so that a failed processing can be resumed.
func Process(ctx context.Context, dataDir string, opts Options) (Result, error) {
	result := Result{}
	bands := opts.Bands
	if len(bands) == 0 {
		bands = []string{"B5", "B7"}
	}
	nbrDirName := opts.NBR.NBRDir
	if nbrDirName == "" {
		nbrDirName = common.NBRBand
	}

	var err error
	log.Logger(ctx).Sugar().Infof("compute NBR of %s", dataDir)
	if result.NBR, err = CreateNBRRasters(ctx, dataDir, bands, opts.NBR); err != nil {
		return result, fmt.Errorf("Process.%w", err)
	}

	nbrDir := filepath.Join(dataDir, nbrDirName)
	reprojectedDir := filepath.Join(dataDir, "reprojected_"+nbrDirName)
	log.Logger(ctx).Sugar().Infof("reproject %s", nbrDir)
	if result.Reprojected, err = ReprojectDirectory(ctx, nbrDir, reprojectedDir, opts.CRS); err != nil {
		return result, fmt.Errorf("Process.%w", err)
	}
	lastDir := reprojectedDir

	if opts.Cutline != "" {
		clippedDir := filepath.Join(dataDir, "clipped_"+nbrDirName)
		if err := os.MkdirAll(clippedDir, 0755); err != nil {
			return result, fmt.Errorf("Process.MkdirAll: %w", err)
		}
		for _, f := range result.Reprojected {
			out, err := ClipRaster(log.With(ctx, common.TagFile, filepath.Base(f)), f, filepath.Join(clippedDir, filepath.Base(f)), opts.Cutline)
			if err != nil {
				return result, fmt.Errorf("Process.%w", err)
			}
			result.Clipped = append(result.Clipped, out)
		}
		lastDir = clippedDir
	}

	toPublish := []string{lastDir}
	if opts.Tile {
		if result.Tiled, err = TileDirectory(ctx, lastDir, ""); err != nil {
			return result, fmt.Errorf("Process.%w", err)
		}
		toPublish = append(toPublish, result.Tiled)
	}

	if opts.Storage != nil {
		if result.Published, err = Publish(ctx, opts.Storage, toPublish, opts.StorageSubdir); err != nil {
			return result, service.MakeTemporary(fmt.Errorf("Process.%w", err))
		}
	}
	return result, nil
}
