package processor

import (
	"context"
	"fmt"
	"os"
	"path"

	"github.com/airbusgeo/nbr-ingester/service"
	"github.com/airbusgeo/nbr-ingester/service/log"
	"go.uber.org/zap"
)

// Publish saves the output files (rasters or directories of rasters) in the storage, under subdir.
// Directories are saved as zip archives. It returns the uris of the published files.
// If a file cannot be published, the files already published are deleted from the storage.
func Publish(ctx context.Context, storage service.Storage, files []string, subdir string) (uris []string, err error) {
	defer func() {
		if err != nil {
			unpublish(ctx, storage, uris, subdir)
			uris = nil
		}
	}()
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			return uris, fmt.Errorf("Publish.%w", service.ErrFileNotFound{File: f})
		}
		var uri string
		if info.IsDir() {
			uri, err = storage.SaveDirectory(ctx, f, subdir)
		} else {
			uri, err = storage.SaveFile(ctx, f, subdir)
		}
		if err != nil {
			return uris, fmt.Errorf("Publish.%w", err)
		}
		log.Logger(ctx).Sugar().Infof("%s published to %s", f, uri)
		uris = append(uris, uri)
	}
	return uris, nil
}

func unpublish(ctx context.Context, storage service.Storage, uris []string, subdir string) {
	for _, uri := range uris {
		if err := storage.DeleteFile(ctx, path.Base(uri), subdir); err != nil {
			log.Logger(ctx).Warn("unable to delete "+uri, zap.Error(err))
			continue
		}
		log.Logger(ctx).Sugar().Debugf("%s deleted", uri)
	}
}
