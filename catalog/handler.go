package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/airbusgeo/nbr-ingester/catalog/entities"
	"github.com/airbusgeo/nbr-ingester/service"
	"github.com/airbusgeo/nbr-ingester/service/geometry"
	"github.com/airbusgeo/nbr-ingester/service/log"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mholt/archiver"
)

const areaJSONField = "area"
const vectorFileField = "file"

func (c *Catalog) AddHandler(r *mux.Router) {
	r.HandleFunc("/catalog/bandfiles", c.BandFilesHandler).Methods("POST")
	r.HandleFunc("/catalog/boundary", c.BoundaryHandler).Methods("POST")
}

func readField(req *http.Request, field string) ([]byte, error) {
	if req.FormValue(field) != "" {
		return []byte(req.FormValue(field)), nil
	}
	file, _, err := req.FormFile(field)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var buf bytes.Buffer
	io.Copy(&buf, file)
	return buf.Bytes(), nil
}

func loadArea(req *http.Request) (entities.AreaToSearch, error) {
	area := entities.AreaToSearch{}
	var areaJSON []byte
	var err error
	if strings.HasPrefix(req.Header.Get("Content-Type"), "application/json") {
		areaJSON, err = io.ReadAll(req.Body)
	} else {
		areaJSON, err = readField(req, areaJSONField)
	}
	if err != nil {
		return area, fmt.Errorf("loadArea: %w", err)
	}
	if len(areaJSON) == 0 {
		return area, fmt.Errorf("loadArea: missing required field: '%s' (application/json)", areaJSONField)
	}
	if err := json.Unmarshal(areaJSON, &area); err != nil {
		return area, fmt.Errorf("loadArea: %w\nJSON:\n%s", err, areaJSON)
	}
	return area, nil
}

// BandFilesHandler lists the band files of the latest scenes covering an area and returns a json
func (c *Catalog) BandFilesHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	area, err := loadArea(req)
	if err != nil {
		w.WriteHeader(400)
		fmt.Fprintf(w, "%v", err)
		return
	}
	if err := ValidateArea(area); err != nil {
		w.WriteHeader(400)
		fmt.Fprintf(w, "%v", err)
		return
	}

	files, err := c.DoBandFilesInventory(ctx, area)
	if err != nil {
		log.Logger(ctx).Sugar().Warnf("catalog.BandFilesHandler.%v", err)
		w.WriteHeader(500)
		fmt.Fprintf(w, "%v", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(files); err != nil {
		log.Logger(ctx).Sugar().Warnf("catalog.BandFilesHandler.%v", err)
	}
}

// saveVectorFile saves the uploaded vector file in dir and returns the path of the dataset to open.
// A zip archive (e.g. a shapefile and its sidecar files) is unarchived.
func saveVectorFile(req *http.Request, dir string) (string, error) {
	file, header, err := req.FormFile(vectorFileField)
	if err != nil {
		return "", fmt.Errorf("saveVectorFile: missing required field '%s': %w", vectorFileField, err)
	}
	defer file.Close()

	localFile := filepath.Join(dir, filepath.Base(header.Filename))
	f, err := os.Create(localFile)
	if err != nil {
		return "", fmt.Errorf("saveVectorFile.Create: %w", err)
	}
	_, err = io.Copy(f, file)
	if e := f.Close(); err == nil {
		err = e
	}
	if err != nil {
		return "", fmt.Errorf("saveVectorFile.Copy: %w", err)
	}

	if service.GetExt(localFile) != service.ExtensionZIP {
		return localFile, nil
	}
	unzipped := filepath.Join(dir, "unzipped")
	if err := archiver.Unarchive(localFile, unzipped); err != nil {
		return "", fmt.Errorf("saveVectorFile.Unarchive: %w", err)
	}
	shapefiles, err := filepath.Glob(filepath.Join(unzipped, "*.shp"))
	if err != nil || len(shapefiles) == 0 {
		return unzipped, nil
	}
	return shapefiles[0], nil
}

// BoundaryHandler extracts the boundary of an uploaded vector file and returns it as a GeoJSON geometry
func (c *Catalog) BoundaryHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	workdir := filepath.Join(c.WorkingDir, uuid.New().String())
	if err := os.MkdirAll(workdir, 0755); err != nil {
		log.Logger(ctx).Sugar().Warnf("catalog.BoundaryHandler.%v", err)
		w.WriteHeader(500)
		fmt.Fprintf(w, "%v", err)
		return
	}
	defer os.RemoveAll(workdir)

	path, err := saveVectorFile(req, workdir)
	if err != nil {
		w.WriteHeader(400)
		fmt.Fprintf(w, "%v", err)
		return
	}

	boundary, err := geometry.BoundaryGeoJSON(ctx, path)
	if err != nil {
		log.Logger(ctx).Sugar().Warnf("catalog.BoundaryHandler.%v", err)
		w.WriteHeader(422)
		fmt.Fprintf(w, "%v", err)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.Write(boundary)
}
