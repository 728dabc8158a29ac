package entities

import (
	"sort"
	"time"

	"github.com/airbusgeo/nbr-ingester/common"
	"github.com/go-spatial/geom/encoding/geojson"
)

// Scene is a scene of the catalog (e.g. LC80450322020228LGN00)
type Scene struct {
	EntityID    string    `json:"entityId"`
	DisplayID   string    `json:"displayId"`
	PublishDate time.Time `json:"publishDate"`
}

// PathRow returns the path/row key of the scene
func (s Scene) PathRow() string {
	return common.PathRow(s.EntityID)
}

// BandFile is a downloadable file of one spectral band of a product
type BandFile struct {
	ID        string `json:"id"`
	EntityID  string `json:"entityId"`
	DisplayID string `json:"displayId"`
	Available bool   `json:"available"`
	FileSize  int64  `json:"filesize,omitempty"`
	Band      string `json:"band,omitempty"`
	// Dataset is the M2M dataset of the band file entity
	Dataset string `json:"dataset,omitempty"`
}

// Product is a downloadable product of a scene, made of several secondary downloads (one per file)
type Product struct {
	ID                 string     `json:"id"`
	EntityID           string     `json:"entityId"`
	DisplayID          string     `json:"displayId"`
	Available          bool       `json:"available"`
	BulkAvailable      bool       `json:"bulkAvailable"`
	DownloadSystem     string     `json:"downloadSystem"`
	DownloadName       string     `json:"downloadName,omitempty"`
	SecondaryDownloads []BandFile `json:"secondaryDownloads"`
}

// BandFiles are the band files to download, by band
type BandFiles map[string][]BandFile

// Bands returns the sorted list of bands
func (bf BandFiles) Bands() []string {
	bands := make([]string, 0, len(bf))
	for band := range bf {
		bands = append(bands, band)
	}
	sort.Strings(bands)
	return bands
}

// Len returns the total number of band files
func (bf BandFiles) Len() int {
	n := 0
	for _, files := range bf {
		n += len(files)
	}
	return n
}

// SearchParams are the parameters of a scene search
type SearchParams struct {
	// SceneFilter is passed as is to the catalog
	SceneFilter map[string]interface{} `json:"sceneFilter,omitempty"`
	MaxResults  int                    `json:"maxResults,omitempty"`
}

// AreaToSearch is the input of the catalog
type AreaToSearch struct {
	AOI       geojson.Geometry `json:"geometry"`
	StartTime time.Time        `json:"start_time"`
	EndTime   time.Time        `json:"end_time"`
	Bands     []string         `json:"bands"`
	// Earliest selects the earliest published scene of each path/row instead of the latest
	Earliest   bool `json:"earliest"`
	MaxResults int  `json:"max_results,omitempty"`
}
