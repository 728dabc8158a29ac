package provider

import (
	"context"

	"github.com/airbusgeo/nbr-ingester/catalog/entities"
)

// BandProvider is the interface of a band file download service
type BandProvider interface {
	// Download a band file to the given localDir
	// file.DisplayID is for example LC08_L2SP_045032_20200815_20200920_02_T1_SR_B5.TIF
	// The downloaded file is named after file.DisplayID
	Download(ctx context.Context, file entities.BandFile, localDir string) error

	// Name of the provider
	Name() string
}
