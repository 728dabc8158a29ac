package processor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/airbusgeo/godal"
	"github.com/airbusgeo/nbr-ingester/common"
	"github.com/airbusgeo/nbr-ingester/service"
	"github.com/airbusgeo/nbr-ingester/service/log"
)

const (
	// DefaultCRS of the reprojected rasters
	DefaultCRS = "EPSG:4326"

	OpReproject = "reproject"
	OpClip      = "clip"
	OpTile      = "tile"
)

// ErrNoCutline is returned when a raster is clipped without cutline
var ErrNoCutline = errors.New("no cutline")

var compressionSwitches = []string{"-co", "COMPRESS=ZSTD"}
var tiledSwitches = []string{"-co", "COMPRESS=ZSTD", "-co", "TILED=YES"}

// defaultOutput returns <dir of in>/<prefix><base of in>
func defaultOutput(in, prefix string) string {
	dir := filepath.Dir(in)
	if isRemote(in) {
		dir = "."
	}
	return filepath.Join(dir, prefix+filepath.Base(in))
}

func formatNoData(nodata float64) string {
	if math.IsNaN(nodata) {
		return "nan"
	}
	return strconv.FormatFloat(nodata, 'f', -1, 64)
}

func openRaster(path string) (*godal.Dataset, error) {
	if !isRemote(path) && !exists(path) {
		return nil, service.ErrFileNotFound{File: path}
	}
	ds, err := godal.Open(path)
	if err != nil {
		return nil, fmt.Errorf("Open[%s]: %w", path, err)
	}
	return ds, nil
}

// warp warps the input raster in out, unless out already exists
func warp(ctx context.Context, op, in, out string, switches []string) error {
	ds, err := openRaster(in)
	if err != nil {
		return err
	}
	defer ds.Close()

	tmpOut := out + ".tmp"
	switches = append([]string{"-of", "GTiff"}, switches...)
	outDS, err := ds.Warp(tmpOut, switches)
	if err != nil {
		os.Remove(tmpOut)
		return fmt.Errorf("Warp: %w", err)
	}
	if err := outDS.Close(); err != nil {
		os.Remove(tmpOut)
		return fmt.Errorf("Close: %w", err)
	}
	if err := os.Rename(tmpOut, out); err != nil {
		return fmt.Errorf("Rename: %w", err)
	}
	service.CountRaster(op)
	log.Logger(ctx).Sugar().Infof("%s created", out)
	return nil
}

func skipExisting(ctx context.Context, op, out string) bool {
	if exists(out) {
		log.Logger(ctx).Sugar().Debugf("%s already exists", out)
		service.CountSkippedRaster(op)
		return true
	}
	return false
}

// sourceNoData returns the no-data value of the first band of the raster, or NoDataQuantized if not defined
func sourceNoData(path string) float64 {
	ds, err := openRaster(path)
	if err != nil {
		return NoDataQuantized
	}
	defer ds.Close()
	if bands := ds.Bands(); len(bands) > 0 {
		if nodata, ok := bands[0].NoData(); ok {
			return nodata
		}
	}
	return NoDataQuantized
}

// ReprojectRaster reprojects the raster in the crs (default: EPSG:4326)
// out defaults to reprojected_<in> in the directory of in.
// If out already exists, it is returned as is.
func ReprojectRaster(ctx context.Context, in, out, crs string) (string, error) {
	if out == "" {
		out = defaultOutput(in, "reprojected_")
	}
	if crs == "" {
		crs = DefaultCRS
	}
	if skipExisting(ctx, OpReproject, out) {
		return out, nil
	}
	nodata := formatNoData(sourceNoData(in))
	switches := append([]string{"-t_srs", crs, "-srcnodata", nodata, "-dstnodata", nodata}, compressionSwitches...)
	if err := warp(ctx, OpReproject, in, out, switches); err != nil {
		return "", fmt.Errorf("ReprojectRaster[%s].%w", in, err)
	}
	return out, nil
}

// listRasters returns the regular files of the directory, sorted
func listRasters(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, service.ErrDirectoryNotFound{Directory: dir}
	}
	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() && filepath.Ext(e.Name()) != ".tmp" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// ReprojectDirectory reprojects all the rasters of dir in outDir (default: reprojected_<dir>, beside dir)
func ReprojectDirectory(ctx context.Context, dir, outDir, crs string) ([]string, error) {
	dir = filepath.Clean(dir)
	files, err := listRasters(dir)
	if err != nil {
		return nil, fmt.Errorf("ReprojectDirectory.%w", err)
	}
	if outDir == "" {
		outDir = filepath.Join(filepath.Dir(dir), "reprojected_"+filepath.Base(dir))
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("ReprojectDirectory.MkdirAll: %w", err)
	}

	var outs []string
	for _, f := range files {
		out, err := ReprojectRaster(log.With(ctx, common.TagFile, filepath.Base(f)), f, filepath.Join(outDir, filepath.Base(f)), crs)
		if err != nil {
			return outs, fmt.Errorf("ReprojectDirectory.%w", err)
		}
		outs = append(outs, out)
	}
	return outs, nil
}

// clipSwitches crops to the cutline with a multi-threaded warp, keeping the no-data value of the source
func clipSwitches(cutline string, nodata float64) []string {
	nd := formatNoData(nodata)
	return append([]string{
		"-cutline", cutline, "-crop_to_cutline",
		"-srcnodata", nd, "-dstnodata", nd,
		"-multi", "-wo", "NUM_THREADS=ALL_CPUS",
	}, tiledSwitches...)
}

// ClipRaster crops the raster to the cutline (a vector file, e.g. the output of geometry.WriteBoundary)
// out defaults to clipped_<in> in the directory of in.
// If out already exists, it is returned as is.
func ClipRaster(ctx context.Context, in, out, cutline string) (string, error) {
	if cutline == "" {
		return "", ErrNoCutline
	}
	if !isRemote(cutline) && !exists(cutline) {
		return "", fmt.Errorf("ClipRaster.%w", service.ErrFileNotFound{File: cutline})
	}
	if out == "" {
		out = defaultOutput(in, "clipped_")
	}
	if skipExisting(ctx, OpClip, out) {
		return out, nil
	}
	if err := warp(ctx, OpClip, in, out, clipSwitches(cutline, sourceNoData(in))); err != nil {
		return "", fmt.Errorf("ClipRaster[%s].%w", in, err)
	}
	return out, nil
}

// TileDirectory mosaics all the rasters of dir in a single raster (default: tiled_<dir>.TIF, beside dir)
// using a bilinear resampling. If out already exists, it is returned as is.
func TileDirectory(ctx context.Context, dir, out string) (string, error) {
	dir = filepath.Clean(dir)
	if out == "" {
		out = filepath.Join(filepath.Dir(dir), "tiled_"+filepath.Base(dir)+common.BandFileExtension)
	}
	if skipExisting(ctx, OpTile, out) {
		return out, nil
	}
	files, err := listRasters(dir)
	if err != nil {
		return "", fmt.Errorf("TileDirectory.%w", err)
	}
	if len(files) == 0 {
		return "", fmt.Errorf("TileDirectory: no raster in %s", dir)
	}

	var datasets []*godal.Dataset
	defer func() {
		for _, ds := range datasets {
			ds.Close()
		}
	}()
	for _, f := range files {
		ds, err := openRaster(f)
		if err != nil {
			return "", fmt.Errorf("TileDirectory.%w", err)
		}
		datasets = append(datasets, ds)
	}

	tmpOut := out + ".tmp"
	switches := append([]string{"-of", "GTiff", "-r", "bilinear", "-dstnodata", formatNoData(sourceNoData(files[0]))}, tiledSwitches...)
	outDS, err := godal.Warp(tmpOut, datasets, switches)
	if err != nil {
		os.Remove(tmpOut)
		return "", fmt.Errorf("TileDirectory.Warp: %w", err)
	}
	if err := outDS.Close(); err != nil {
		os.Remove(tmpOut)
		return "", fmt.Errorf("TileDirectory.Close: %w", err)
	}
	if err := os.Rename(tmpOut, out); err != nil {
		return "", fmt.Errorf("TileDirectory.Rename: %w", err)
	}
	service.CountRaster(OpTile)
	log.Logger(ctx).Sugar().Infof("%s created from %d rasters", out, len(files))
	return out, nil
}
