package processor

import (
	"context"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/airbusgeo/godal"
	"github.com/airbusgeo/nbr-ingester/service"
	"github.com/airbusgeo/nbr-ingester/service/log"
	"github.com/airbusgeo/osio"
	osioGcs "github.com/airbusgeo/osio/gcs"
	osioS3 "github.com/airbusgeo/osio/s3"
)

// Encoding of the NBR values in the output raster
type Encoding int

const (
	// Quantized stores round(NBR*10000) as Int16, with NoDataQuantized as no-data
	Quantized Encoding = iota
	// Raw stores NBR as Float32, with NaN as no-data
	Raw
)

func (e Encoding) String() string {
	if e == Raw {
		return "raw"
	}
	return "quantized"
}

// DataType of the raster band
func (e Encoding) DataType() godal.DataType {
	if e == Raw {
		return godal.Float32
	}
	return godal.Int16
}

// NoData value of the raster band
func (e Encoding) NoData() float64 {
	if e == Raw {
		return math.NaN()
	}
	return NoDataQuantized
}

// Raster is a single band of a raster file, loaded in memory
type Raster struct {
	Data         []float64
	Width        int
	Height       int
	GeoTransform [6]float64
	Projection   string
	NoData       float64
	HasNoData    bool
}

// ReadRaster reads the first band of the raster
func ReadRaster(ctx context.Context, path string) (Raster, error) {
	r := Raster{}
	if !isRemote(path) {
		if _, err := os.Stat(path); err != nil {
			return r, service.ErrFileNotFound{File: path}
		}
	}
	ds, err := godal.Open(path)
	if err != nil {
		return r, fmt.Errorf("ReadRaster.Open[%s]: %w", path, err)
	}
	defer ds.Close()

	bands := ds.Bands()
	if len(bands) == 0 {
		return r, fmt.Errorf("ReadRaster[%s]: no band", path)
	}
	band := bands[0]
	r.Width, r.Height = band.Structure().SizeX, band.Structure().SizeY
	r.Data = make([]float64, r.Width*r.Height)
	if err := band.Read(0, 0, r.Data, r.Width, r.Height); err != nil {
		return r, fmt.Errorf("ReadRaster.Read[%s]: %w", path, err)
	}
	r.NoData, r.HasNoData = band.NoData()
	if r.GeoTransform, err = ds.GeoTransform(); err != nil {
		log.Logger(ctx).Sugar().Debugf("%s has no geotransform: %v", path, err)
		r.GeoTransform = [6]float64{0, 1, 0, 0, 0, 1}
	}
	r.Projection = ds.Projection()
	return r, nil
}

// MaskNoData replaces the no-data values by NaN
func (r *Raster) MaskNoData() {
	if !r.HasNoData || math.IsNaN(r.NoData) {
		return
	}
	for i, v := range r.Data {
		if v == r.NoData {
			r.Data[i] = math.NaN()
		}
	}
}

// WriteRaster writes the data in a single band GeoTIFF compressed with ZSTD.
// The file is written in a temporary file then renamed, so that a partial raster never exists under path.
func WriteRaster(path string, data []float64, width, height int, geotransform [6]float64, projection string, enc Encoding) (err error) {
	if len(data) != width*height {
		return fmt.Errorf("WriteRaster: %d values for a %dx%d raster", len(data), width, height)
	}
	tmpPath := path + ".tmp"
	defer func() {
		if err != nil {
			os.Remove(tmpPath)
		}
	}()

	ds, err := godal.Create(godal.GTiff, tmpPath, 1, enc.DataType(), width, height, godal.CreationOption("COMPRESS=ZSTD"))
	if err != nil {
		return fmt.Errorf("WriteRaster.Create: %w", err)
	}
	if err := writeBand(ds, data, width, height, geotransform, projection, enc); err != nil {
		ds.Close()
		return fmt.Errorf("WriteRaster.%w", err)
	}
	if err := ds.Close(); err != nil {
		return fmt.Errorf("WriteRaster.Close: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("WriteRaster.Rename: %w", err)
	}
	return nil
}

func writeBand(ds *godal.Dataset, data []float64, width, height int, geotransform [6]float64, projection string, enc Encoding) error {
	if err := ds.SetGeoTransform(geotransform); err != nil {
		return fmt.Errorf("SetGeoTransform: %w", err)
	}
	if projection != "" {
		if err := ds.SetProjection(projection); err != nil {
			return fmt.Errorf("SetProjection: %w", err)
		}
	}
	band := ds.Bands()[0]
	if err := band.SetNoData(enc.NoData()); err != nil {
		return fmt.Errorf("SetNoData: %w", err)
	}

	var buf interface{}
	switch enc {
	case Raw:
		b := make([]float32, len(data))
		for i, v := range data {
			b[i] = float32(v)
		}
		buf = b
	default:
		b := make([]int16, len(data))
		for i, v := range data {
			b[i] = Quantize(v)
		}
		buf = b
	}
	if err := band.Write(0, 0, buf, width, height); err != nil {
		return fmt.Errorf("Write: %w", err)
	}
	return nil
}

func isRemote(path string) bool {
	return strings.HasPrefix(path, "gs://") || strings.HasPrefix(path, "s3://") || strings.HasPrefix(path, "/vsi")
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// RegisterStorageHandlers lets godal read rasters stored on gs:// and s3://
func RegisterStorageHandlers(ctx context.Context) error {
	gcsh, err := osioGcs.Handle(ctx)
	if err != nil {
		return fmt.Errorf("RegisterStorageHandlers.GSHandle: %w", err)
	}
	gcs, err := osio.NewAdapter(gcsh)
	if err != nil {
		return fmt.Errorf("RegisterStorageHandlers.NewAdapter: %w", err)
	}
	if err := godal.RegisterVSIHandler("gs://", gcs); err != nil {
		return fmt.Errorf("RegisterStorageHandlers.RegisterVSIHandler: %w", err)
	}

	s3h, err := osioS3.Handle(ctx)
	if err != nil {
		return fmt.Errorf("RegisterStorageHandlers.S3Handle: %w", err)
	}
	s3, err := osio.NewAdapter(s3h)
	if err != nil {
		return fmt.Errorf("RegisterStorageHandlers.NewAdapter: %w", err)
	}
	if err := godal.RegisterVSIHandler("s3://", s3); err != nil {
		return fmt.Errorf("RegisterStorageHandlers.RegisterVSIHandler: %w", err)
	}
	return nil
}
