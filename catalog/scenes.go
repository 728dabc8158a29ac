package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/airbusgeo/nbr-ingester/catalog/entities"
	"github.com/airbusgeo/nbr-ingester/common"
	"github.com/airbusgeo/nbr-ingester/service"
	"github.com/airbusgeo/nbr-ingester/service/log"
)

// LatestScenes keeps one scene per path/row: the latest published one, or the earliest one if earliest is true.
// Scenes with the same publish date keep their input order. The result is sorted by path/row.
func LatestScenes(scenes []entities.Scene, earliest bool) []entities.Scene {
	sorted := make([]entities.Scene, len(scenes))
	copy(sorted, scenes)
	sort.SliceStable(sorted, func(i, j int) bool {
		if earliest {
			return sorted[i].PublishDate.Before(sorted[j].PublishDate)
		}
		return sorted[i].PublishDate.After(sorted[j].PublishDate)
	})

	byPathRow := map[string]entities.Scene{}
	var pathRows []string
	for _, scene := range sorted {
		pr := scene.PathRow()
		if _, ok := byPathRow[pr]; ok {
			continue
		}
		byPathRow[pr] = scene
		pathRows = append(pathRows, pr)
	}
	sort.Strings(pathRows)

	result := make([]entities.Scene, 0, len(pathRows))
	for _, pr := range pathRows {
		result = append(result, byPathRow[pr])
	}
	return result
}

// EligibleProduct returns true if the band files of the product can be downloaded one by one
func EligibleProduct(p entities.Product) bool {
	return p.BulkAvailable && p.Available && p.DownloadSystem == "folder" && len(p.SecondaryDownloads) > 0
}

// UniqueProducts keeps the first product of each entity
func UniqueProducts(products []entities.Product) []entities.Product {
	seen := service.StringSet{}
	var unique []entities.Product
	for _, p := range products {
		if seen.Exists(p.EntityID) {
			continue
		}
		seen.Push(p.EntityID)
		unique = append(unique, p)
	}
	return unique
}

// SelectBands returns, for each band, the secondary downloads whose display id contains the band code.
// Every band is a key of the result, even without any file.
func SelectBands(products []entities.Product, bands []string) entities.BandFiles {
	files := entities.BandFiles{}
	for _, band := range bands {
		files[band] = []entities.BandFile{}
		for _, p := range products {
			for _, f := range p.SecondaryDownloads {
				if strings.Contains(f.DisplayID, band) {
					f.Band = band
					files[band] = append(files[band], f)
				}
			}
		}
	}
	return files
}

func entityIDs(scenes []entities.Scene) []string {
	ids := make([]string, len(scenes))
	for i, s := range scenes {
		ids[i] = s.EntityID
	}
	return ids
}

func emptyBandFiles(bands []string) entities.BandFiles {
	return SelectBands(nil, bands)
}

// BandFiles searches the scenes, keeps the latest (or earliest) scene of each path/row
// and returns the band files of their eligible products.
func (c *Catalog) BandFiles(ctx context.Context, params entities.SearchParams, bands []string, earliest bool) (entities.BandFiles, error) {
	if c.Provider == nil {
		return nil, fmt.Errorf("BandFiles: no catalog is configured")
	}
	if len(bands) == 0 {
		return nil, fmt.Errorf("BandFiles: at least one band is required")
	}

	ctx = log.With(ctx, common.TagDataset, c.sceneDataset())
	scenes, err := c.Provider.SearchScenes(ctx, c.sceneDataset(), params)
	if err != nil {
		return nil, fmt.Errorf("BandFiles.%w", err)
	}
	log.Logger(ctx).Sugar().Debugf("%d scenes found", len(scenes))
	if len(scenes) == 0 {
		return emptyBandFiles(bands), nil
	}

	scenes = LatestScenes(scenes, earliest)
	log.Logger(ctx).Sugar().Debugf("%d path/rows", len(scenes))

	products, err := c.Provider.DownloadOptions(ctx, c.sceneDataset(), entityIDs(scenes))
	if err != nil {
		return nil, fmt.Errorf("BandFiles.%w", err)
	}
	var eligible []entities.Product
	for _, p := range products {
		if EligibleProduct(p) {
			eligible = append(eligible, p)
		}
	}
	eligible = UniqueProducts(eligible)
	log.Logger(ctx).Sugar().Debugf("%d eligible products (out of %d)", len(eligible), len(products))
	if len(eligible) == 0 {
		return emptyBandFiles(bands), nil
	}

	files := SelectBands(eligible, bands)
	for _, band := range files.Bands() {
		for i := range files[band] {
			files[band][i].Dataset = c.bandDataset()
		}
		log.Logger(ctx).Sugar().Infof("%s: %d files", band, len(files[band]))
	}
	return files, nil
}
