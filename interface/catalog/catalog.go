package catalog

import (
	"context"

	"github.com/airbusgeo/nbr-ingester/catalog/entities"
)

// ScenesProvider is the interface of a scene catalog
type ScenesProvider interface {
	// SearchScenes returns all the scenes of the dataset fitting the search parameters
	SearchScenes(ctx context.Context, dataset string, params entities.SearchParams) ([]entities.Scene, error)
	// DownloadOptions returns the downloadable products of the scenes of the dataset
	DownloadOptions(ctx context.Context, dataset string, entityIDs []string) ([]entities.Product, error)
}
