package provider

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/airbusgeo/nbr-ingester/catalog/entities"
	"github.com/airbusgeo/nbr-ingester/common"
	"github.com/airbusgeo/nbr-ingester/service"
)

// StorageProvider implements BandProvider for a mirror of the band files in a storage (local path, gs:// or s3:// bucket)
type StorageProvider struct {
	storage service.Storage
	uri     string
	// Layout of the mirror, relative to the root of the storage, with FormatBrackets keys (default: "{FILE}")
	Layout string
}

// NewStorageProvider creates a new BandProvider from a storage
func NewStorageProvider(storage service.Storage, uri, layout string) *StorageProvider {
	if layout == "" {
		layout = "{FILE}"
	}
	return &StorageProvider{storage: storage, uri: uri, Layout: layout}
}

// Name implements BandProvider
func (sp *StorageProvider) Name() string {
	return "Storage (" + sp.uri + ")"
}

// Download implements BandProvider
func (sp *StorageProvider) Download(ctx context.Context, file entities.BandFile, localDir string) error {
	keys := map[string]string{"FILE": filepath.Base(file.DisplayID), "BAND": file.Band}
	if productID, err := common.ProductID(file.DisplayID); err == nil {
		info, _ := common.Info(productID)
		for k, v := range info {
			keys[k] = v
		}
	}
	src := common.FormatBrackets(sp.Layout, keys)

	if err := os.MkdirAll(localDir, 0755); err != nil {
		return fmt.Errorf("StorageProvider.MkdirAll: %w", err)
	}
	if err := sp.storage.ImportFile(ctx, path.Base(src), path.Dir(src), localDir); err != nil {
		if errors.As(err, &service.ErrFileNotFound{}) {
			return ErrProductNotFound{sp.uri + "/" + src}
		}
		return fmt.Errorf("StorageProvider.%w", err)
	}
	if base := path.Base(src); base != filepath.Base(file.DisplayID) {
		if err := os.Rename(filepath.Join(localDir, base), bandFilePath(localDir, file.DisplayID)); err != nil {
			return fmt.Errorf("StorageProvider.Rename: %w", err)
		}
	}
	return nil
}
