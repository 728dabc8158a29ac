package provider

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/airbusgeo/nbr-ingester/catalog/entities"
	"github.com/airbusgeo/nbr-ingester/common"
)

// LocalProvider implements BandProvider for a local mirror of the band files
type LocalProvider struct {
	path string
	// Layout of the mirror, relative to path, with FormatBrackets keys (default: "{FILE}")
	Layout string
}

// Name implements BandProvider
func (ip *LocalProvider) Name() string {
	return "FileSystem (" + ip.path + ")"
}

// NewLocalProvider creates a new BandProvider from local storage
func NewLocalProvider(path, layout string) *LocalProvider {
	if layout == "" {
		layout = "{FILE}"
	}
	return &LocalProvider{path: path, Layout: layout}
}

// Download implements BandProvider
// The band file is copied from the mirror. If only an archive of the file exists (<file>.zip), it is unarchived.
func (ip *LocalProvider) Download(ctx context.Context, file entities.BandFile, localDir string) error {
	keys := map[string]string{"FILE": filepath.Base(file.DisplayID), "BAND": file.Band}
	if productID, err := common.ProductID(file.DisplayID); err == nil {
		info, _ := common.Info(productID)
		for k, v := range info {
			keys[k] = v
		}
	}
	src := filepath.Join(ip.path, common.FormatBrackets(ip.Layout, keys))

	if _, err := os.Stat(src); err == nil {
		if err := fileCopy(src, bandFilePath(localDir, file.DisplayID)); err != nil {
			return fmt.Errorf("LocalProvider.%w", err)
		}
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("LocalProvider: %w", err)
	}

	srcZip := src + ".zip"
	if _, err := os.Stat(srcZip); err != nil {
		if os.IsNotExist(err) {
			return ErrProductNotFound{src}
		}
		return fmt.Errorf("LocalProvider: %w", err)
	}
	if err := unarchive(srcZip, localDir); err != nil {
		return fmt.Errorf("LocalProvider.Unarchive: %w", err)
	}
	return nil
}

// fileCopy copies a single file from src to dst
func fileCopy(src, dst string) error {
	input, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("fileCopy.Open: %w", err)
	}
	defer input.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("fileCopy.MkdirAll: %w", err)
	}
	output, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("fileCopy.Create: %w", err)
	}
	if _, err = io.Copy(output, input); err != nil {
		output.Close()
		return fmt.Errorf("fileCopy.Copy: %w", err)
	}
	if err := output.Close(); err != nil {
		return fmt.Errorf("fileCopy.Close: %w", err)
	}
	return nil
}
