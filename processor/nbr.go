package processor

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/airbusgeo/nbr-ingester/common"
	"github.com/airbusgeo/nbr-ingester/service"
	"github.com/airbusgeo/nbr-ingester/service/log"
	"golang.org/x/sync/errgroup"
)

const (
	// ScaleFactor of the quantized NBR
	ScaleFactor = 10000
	// InvalidNBR replaces the undefined or out-of-range NBR values before quantization
	InvalidNBR = -2
	// NoDataQuantized is the no-data value of the quantized NBR (InvalidNBR*ScaleFactor)
	NoDataQuantized = InvalidNBR * ScaleFactor

	OpNBR = "nbr"
)

// ErrGridMismatch is returned when the rasters of the bands do not have the same size
type ErrGridMismatch struct {
	File1, File2 string
	Size1, Size2 [2]int
}

func (e ErrGridMismatch) Error() string {
	return fmt.Sprintf("grid mismatch: %s is %dx%d, %s is %dx%d", e.File1, e.Size1[0], e.Size1[1], e.File2, e.Size2[0], e.Size2[1])
}

// ComputeNBR returns (b1-b2)/(b1+b2) for each pair of values, NaN if b1+b2 == 0
func ComputeNBR(b1, b2 []float64) []float64 {
	nbr := make([]float64, len(b1))
	for i := range b1 {
		den := b1[i] + b2[i]
		if den == 0 {
			nbr[i] = math.NaN()
			continue
		}
		nbr[i] = (b1[i] - b2[i]) / den
	}
	return nbr
}

// Quantize returns round(v*ScaleFactor). NaN, Inf and values outside [-1, 1] are replaced by InvalidNBR.
func Quantize(v float64) int16 {
	if math.IsNaN(v) || v < -1 || v > 1 {
		v = InvalidNBR
	}
	return int16(math.Round(v * ScaleFactor))
}

// CreateNBRRaster computes the NBR of the two band rasters and writes it in out.
// The output inherits the geotransform and the projection of the first band.
// If out already exists, nothing is done and skipped is true.
func CreateNBRRaster(ctx context.Context, b1Path, b2Path, out string, enc Encoding) (skipped bool, err error) {
	if exists(out) {
		log.Logger(ctx).Sugar().Debugf("%s already exists", out)
		service.CountSkippedRaster(OpNBR)
		return true, nil
	}
	b1, err := ReadRaster(ctx, b1Path)
	if err != nil {
		return false, fmt.Errorf("CreateNBRRaster.%w", err)
	}
	b2, err := ReadRaster(ctx, b2Path)
	if err != nil {
		return false, fmt.Errorf("CreateNBRRaster.%w", err)
	}
	if b1.Width != b2.Width || b1.Height != b2.Height {
		return false, ErrGridMismatch{File1: b1Path, File2: b2Path, Size1: [2]int{b1.Width, b1.Height}, Size2: [2]int{b2.Width, b2.Height}}
	}
	b1.MaskNoData()
	b2.MaskNoData()

	if err := WriteRaster(out, ComputeNBR(b1.Data, b2.Data), b1.Width, b1.Height, b1.GeoTransform, b1.Projection, enc); err != nil {
		return false, fmt.Errorf("CreateNBRRaster.%w", err)
	}
	service.CountRaster(OpNBR)
	log.Logger(ctx).Sugar().Infof("%s created", out)
	return false, nil
}

// NBROptions are the options of CreateNBRRasters
type NBROptions struct {
	// NBRDir is the name of the output subdirectory of the data directory (default: NBR)
	NBRDir   string
	Encoding Encoding
	// Parallelism is the maximum number of rasters computed simultaneously (default: 1)
	Parallelism int
}

// NBRResult lists the outcome of CreateNBRRasters
type NBRResult struct {
	// Written NBR rasters
	Written []string
	// Existing NBR rasters (not computed again)
	Existing []string
	// Skipped files of the first band that have no counterpart in the other band
	Skipped []string
}

// bandFiles returns the stems of the files of the band directory, sorted
func bandStems(dir, band string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, service.ErrDirectoryNotFound{Directory: dir}
	}
	var stems []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if stem, ok := common.BandFileStem(e.Name(), band); ok {
			stems = append(stems, stem)
		}
	}
	sort.Strings(stems)
	return stems, nil
}

// CreateNBRRasters computes the NBR of every pair of band files of dataDir/<bands[0]> and dataDir/<bands[1]>.
// Two files are paired if they share the same stem (the file name without "<band>.TIF").
// The NBR of <stem><band>.TIF is written in dataDir/<NBRDir>/<stem>NBR.TIF
func CreateNBRRasters(ctx context.Context, dataDir string, bands []string, opts NBROptions) (NBRResult, error) {
	result := NBRResult{}
	if len(bands) != 2 {
		return result, fmt.Errorf("CreateNBRRasters: expecting 2 bands, found %d", len(bands))
	}
	for _, band := range bands {
		if info, err := os.Stat(filepath.Join(dataDir, band)); err != nil || !info.IsDir() {
			return result, service.ErrDirectoryNotFound{Directory: filepath.Join(dataDir, band)}
		}
	}
	nbrDir := opts.NBRDir
	if nbrDir == "" {
		nbrDir = common.NBRBand
	}
	outDir := filepath.Join(dataDir, nbrDir)
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return result, fmt.Errorf("CreateNBRRasters.MkdirAll: %w", err)
	}

	stems, err := bandStems(filepath.Join(dataDir, bands[0]), bands[0])
	if err != nil {
		return result, fmt.Errorf("CreateNBRRasters.%w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	if opts.Parallelism > 1 {
		g.SetLimit(opts.Parallelism)
	} else {
		g.SetLimit(1)
	}
	var mutex sync.Mutex
	for _, stem := range stems {
		b1 := filepath.Join(dataDir, bands[0], common.BandFileName(stem, bands[0]))
		b2 := filepath.Join(dataDir, bands[1], common.BandFileName(stem, bands[1]))
		out := filepath.Join(outDir, common.BandFileName(stem, common.NBRBand))
		if !exists(b2) {
			log.Logger(ctx).Sugar().Warnf("%s has no %s counterpart: skipped", filepath.Base(b1), bands[1])
			service.CountSkippedRaster(OpNBR)
			result.Skipped = append(result.Skipped, b1)
			continue
		}
		g.Go(func() error {
			skipped, err := CreateNBRRaster(log.With(gctx, common.TagFile, filepath.Base(out)), b1, b2, out, opts.Encoding)
			if err != nil {
				return err
			}
			mutex.Lock()
			defer mutex.Unlock()
			if skipped {
				result.Existing = append(result.Existing, out)
			} else {
				result.Written = append(result.Written, out)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, fmt.Errorf("CreateNBRRasters.%w", err)
	}
	sort.Strings(result.Written)
	sort.Strings(result.Existing)
	log.Logger(ctx).Sugar().Infof("%d NBR rasters written, %d already existing, %d skipped", len(result.Written), len(result.Existing), len(result.Skipped))
	return result, nil
}
