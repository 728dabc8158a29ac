package processor

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/airbusgeo/godal"
	"github.com/airbusgeo/nbr-ingester/service"
	"github.com/airbusgeo/nbr-ingester/service/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestMain(m *testing.M) {
	godal.RegisterAll()
	os.Exit(m.Run())
}

func TestComputeNBR(t *testing.T) {
	b1 := []float64{3, 1, 0, 2, -1}
	b2 := []float64{1, 3, 0, 2, 1}
	nbr := ComputeNBR(b1, b2)
	expected := []float64{0.5, -0.5, math.NaN(), 0, math.NaN()}
	for i := range expected {
		if math.IsNaN(expected[i]) {
			if !math.IsNaN(nbr[i]) {
				t.Errorf("%d: expected NaN found %f", i, nbr[i])
			}
		} else if nbr[i] != expected[i] {
			t.Errorf("%d: expected %f found %f", i, expected[i], nbr[i])
		}
	}

	// Anti-symmetry
	inv := ComputeNBR(b2, b1)
	for i := range nbr {
		if math.IsNaN(nbr[i]) != math.IsNaN(inv[i]) || (!math.IsNaN(nbr[i]) && nbr[i] != -inv[i]) {
			t.Errorf("%d: expected %f found %f", i, -nbr[i], inv[i])
		}
	}
}

func TestQuantize(t *testing.T) {
	for v, expected := range map[float64]int16{
		0.5:          5000,
		-0.5:         -5000,
		1:            10000,
		-1:           -10000,
		0.1234:       1234,
		1.5:          NoDataQuantized,
		-3:           NoDataQuantized,
		math.Inf(1):  NoDataQuantized,
		math.Inf(-1): NoDataQuantized,
	} {
		if q := Quantize(v); q != expected {
			t.Errorf("%f: expected %d found %d", v, expected, q)
		}
	}
	if q := Quantize(math.NaN()); q != NoDataQuantized {
		t.Errorf("NaN: expected %d found %d", NoDataQuantized, q)
	}
}

var testGeoTransform = [6]float64{0, 0.1, 0, 1, 0, -0.1}

func wgs84(t *testing.T) string {
	sr, err := godal.NewSpatialRefFromEPSG(4326)
	if err != nil {
		t.Fatal(err)
	}
	defer sr.Close()
	wkt, err := sr.WKT()
	if err != nil {
		t.Fatal(err)
	}
	return wkt
}

func writeTestRaster(t *testing.T, path string, data []float64, width, height int) {
	os.MkdirAll(filepath.Dir(path), 0755)
	if err := WriteRaster(path, data, width, height, testGeoTransform, wgs84(t), Raw); err != nil {
		t.Fatal(err)
	}
}

func TestWriteRaster(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nbr.TIF")
	if err := WriteRaster(path, []float64{0.5, math.NaN(), 2}, 3, 1, testGeoTransform, wgs84(t), Quantized); err != nil {
		t.Fatal(err)
	}
	r, err := ReadRaster(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if !r.HasNoData || r.NoData != NoDataQuantized {
		t.Errorf("expected nodata %d found %f (%v)", NoDataQuantized, r.NoData, r.HasNoData)
	}
	if r.Data[0] != 5000 || r.Data[1] != NoDataQuantized || r.Data[2] != NoDataQuantized {
		t.Errorf("expected [5000 -20000 -20000] found %v", r.Data)
	}
	if r.GeoTransform != testGeoTransform {
		t.Errorf("expected %v found %v", testGeoTransform, r.GeoTransform)
	}
	if _, err := os.Stat(path + ".tmp"); err == nil {
		t.Errorf("unexpected temporary file")
	}

	if err := WriteRaster(path, []float64{1}, 3, 1, testGeoTransform, "", Quantized); err == nil {
		t.Errorf("expected an error")
	}
	if _, err := ReadRaster(context.Background(), filepath.Join(dir, "missing.TIF")); !errors.As(err, &service.ErrFileNotFound{}) {
		t.Errorf("expected ErrFileNotFound found %v", err)
	}
}

func TestCreateNBRRaster(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	b5, b7, out := filepath.Join(dir, "a_B5.TIF"), filepath.Join(dir, "a_B7.TIF"), filepath.Join(dir, "a_NBR.TIF")
	writeTestRaster(t, b5, []float64{3, 1, 0, 2}, 2, 2)
	writeTestRaster(t, b7, []float64{1, 3, 0, 2}, 2, 2)

	skipped, err := CreateNBRRaster(ctx, b5, b7, out, Raw)
	if err != nil || skipped {
		t.Fatalf("expected a new raster (%v, %v)", skipped, err)
	}
	r, err := ReadRaster(context.Background(), out)
	if err != nil {
		t.Fatal(err)
	}
	if r.Data[0] != 0.5 || r.Data[1] != -0.5 || !math.IsNaN(r.Data[2]) || r.Data[3] != 0 {
		t.Errorf("expected [0.5 -0.5 NaN 0] found %v", r.Data)
	}
	if r.Projection == "" {
		t.Errorf("expected the projection of the band")
	}

	if skipped, err = CreateNBRRaster(ctx, b5, b7, out, Raw); err != nil || !skipped {
		t.Errorf("expected the raster to be skipped (%v, %v)", skipped, err)
	}

	b7small := filepath.Join(dir, "b_B7.TIF")
	writeTestRaster(t, b7small, []float64{1, 2}, 2, 1)
	_, err = CreateNBRRaster(ctx, b5, b7small, filepath.Join(dir, "b_NBR.TIF"), Raw)
	if !errors.As(err, &ErrGridMismatch{}) {
		t.Errorf("expected ErrGridMismatch found %v", err)
	}
}

func TestCreateNBRRasters(t *testing.T) {
	ctx := context.Background()
	dataDir := t.TempDir()
	stem1 := "LC08_L2SP_045032_20200815_20200920_02_T1_SR_"
	stem2 := "LC08_L2SP_046032_20200822_20200926_02_T1_SR_"
	writeTestRaster(t, filepath.Join(dataDir, "B5", stem1+"B5.TIF"), []float64{3, 1}, 2, 1)
	writeTestRaster(t, filepath.Join(dataDir, "B7", stem1+"B7.TIF"), []float64{1, 3}, 2, 1)
	writeTestRaster(t, filepath.Join(dataDir, "B5", stem2+"B5.TIF"), []float64{3, 1}, 2, 1)

	result, err := CreateNBRRasters(ctx, dataDir, []string{"B5", "B7"}, NBROptions{Parallelism: 2})
	if err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dataDir, "NBR", stem1+"NBR.TIF")
	if len(result.Written) != 1 || result.Written[0] != out {
		t.Errorf("expected [%s] found %v", out, result.Written)
	}
	if len(result.Skipped) != 1 || filepath.Base(result.Skipped[0]) != stem2+"B5.TIF" {
		t.Errorf("expected %sB5.TIF to be skipped found %v", stem2, result.Skipped)
	}
	r, err := ReadRaster(context.Background(), out)
	if err != nil {
		t.Fatal(err)
	}
	if r.Data[0] != 5000 || r.Data[1] != -5000 {
		t.Errorf("expected [5000 -5000] found %v", r.Data)
	}

	if result, err = CreateNBRRasters(ctx, dataDir, []string{"B5", "B7"}, NBROptions{}); err != nil || len(result.Existing) != 1 || len(result.Written) != 0 {
		t.Errorf("expected 1 existing raster found %+v (%v)", result, err)
	}

	_, err = CreateNBRRasters(ctx, dataDir, []string{"B5", "B6"}, NBROptions{})
	if !errors.As(err, &service.ErrDirectoryNotFound{}) {
		t.Errorf("expected ErrDirectoryNotFound found %v", err)
	}
}

func TestReadRasterLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nogeotransform.TIF")
	ds, err := godal.Create(godal.GTiff, path, 1, godal.Float32, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	if err := ds.Close(); err != nil {
		t.Fatal(err)
	}

	core, logs := observer.New(zapcore.DebugLevel)
	ctx := log.WithLogger(context.Background(), zap.New(core).With(zap.String("run", "run1")))
	r, err := ReadRaster(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if r.GeoTransform != [6]float64{0, 1, 0, 0, 0, 1} {
		t.Errorf("expected the identity geotransform found %v", r.GeoTransform)
	}
	entries := logs.FilterField(zap.String("run", "run1")).All()
	if len(entries) != 1 {
		t.Errorf("expected 1 log entry with the fields of the context found %d", len(entries))
	}
}

func TestMaskNoData(t *testing.T) {
	r := Raster{Data: []float64{0, 120, 0, 80}, NoData: 0, HasNoData: true}
	r.MaskNoData()
	if !math.IsNaN(r.Data[0]) || !math.IsNaN(r.Data[2]) || r.Data[1] != 120 || r.Data[3] != 80 {
		t.Errorf("expected [NaN 120 NaN 80] found %v", r.Data)
	}

	// no-data cells come out as NBR no-data, not as a ratio of fill values
	b2 := Raster{Data: []float64{40, 40, 40, 0}, NoData: 0, HasNoData: true}
	b2.MaskNoData()
	nbr := ComputeNBR(r.Data, b2.Data)
	if q := Quantize(nbr[0]); q != NoDataQuantized {
		t.Errorf("expected %d found %d", NoDataQuantized, q)
	}
	if q := Quantize(nbr[1]); q != 5000 {
		t.Errorf("expected 5000 found %d", q)
	}
	if q := Quantize(nbr[3]); q != NoDataQuantized {
		t.Errorf("expected %d found %d", NoDataQuantized, q)
	}

	r = Raster{Data: []float64{0, 1}}
	r.MaskNoData()
	if r.Data[0] != 0 {
		t.Errorf("expected no mask without no-data found %v", r.Data)
	}
}
