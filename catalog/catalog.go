package catalog

import (
	"context"
	"fmt"

	"github.com/airbusgeo/nbr-ingester/catalog/entities"
	"github.com/airbusgeo/nbr-ingester/interface/catalog"
	"github.com/airbusgeo/nbr-ingester/interface/catalog/m2m"
	"github.com/airbusgeo/nbr-ingester/service/log"
)

const (
	// DefaultSceneDataset is the M2M dataset of Landsat 8-9 Collection 2 Level-2 scenes
	DefaultSceneDataset = "landsat_ot_c2_l2"
	// DefaultBandDataset is the M2M dataset of their individual band files
	DefaultBandDataset = "landsat_band_files_c2_l2"
)

// Catalog is the main class of this package
type Catalog struct {
	Provider     catalog.ScenesProvider
	SceneDataset string
	BandDataset  string
	WorkingDir   string
}

// NewCatalog creates a catalog on the default datasets
func NewCatalog(provider catalog.ScenesProvider, workingDir string) *Catalog {
	return &Catalog{
		Provider:     provider,
		SceneDataset: DefaultSceneDataset,
		BandDataset:  DefaultBandDataset,
		WorkingDir:   workingDir,
	}
}

func (c *Catalog) bandDataset() string {
	if c.BandDataset == "" {
		return DefaultBandDataset
	}
	return c.BandDataset
}

func (c *Catalog) sceneDataset() string {
	if c.SceneDataset == "" {
		return DefaultSceneDataset
	}
	return c.SceneDataset
}

// ValidateArea checks the parameters of the search
func ValidateArea(area entities.AreaToSearch) error {
	if len(area.Bands) == 0 {
		return fmt.Errorf("validateArea: at least one band is required")
	}
	if !area.StartTime.IsZero() && !area.EndTime.IsZero() && area.EndTime.Before(area.StartTime) {
		return fmt.Errorf("validateArea: end time (%v) is before start time (%v)", area.EndTime, area.StartTime)
	}
	return nil
}

// SearchParams converts the area into the parameters of a scene search
func SearchParams(area entities.AreaToSearch) entities.SearchParams {
	return entities.SearchParams{
		SceneFilter: m2m.NewSceneFilter(area.AOI.Geometry, area.StartTime, area.EndTime),
		MaxResults:  area.MaxResults,
	}
}

// DoBandFilesInventory lists the band files of the latest (or earliest) scenes covering the area
func (c *Catalog) DoBandFilesInventory(ctx context.Context, area entities.AreaToSearch) (entities.BandFiles, error) {
	if err := ValidateArea(area); err != nil {
		return nil, fmt.Errorf("DoBandFilesInventory.%w", err)
	}
	log.Logger(ctx).Sugar().Debugf("Search scenes of %s from %v to %v", c.sceneDataset(), area.StartTime, area.EndTime)
	files, err := c.BandFiles(ctx, SearchParams(area), area.Bands, area.Earliest)
	if err != nil {
		return nil, fmt.Errorf("DoBandFilesInventory.%w", err)
	}
	return files, nil
}
