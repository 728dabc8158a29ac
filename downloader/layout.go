package downloader

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/airbusgeo/nbr-ingester/service"
	"github.com/airbusgeo/nbr-ingester/service/log"
)

// Layout of the working directories
type Layout struct {
	// StagingDir receives the downloaded files before they are organized
	StagingDir string
	// DataDir contains one subdirectory per band
	DataDir string
	// NBRDir is the name of the subdirectory of DataDir receiving the NBR rasters
	NBRDir string
}

// DefaultLayout returns the layout of the directories in root: ingest (staging), data and data/NBR
func DefaultLayout(root string) Layout {
	return Layout{
		StagingDir: filepath.Join(root, "ingest"),
		DataDir:    filepath.Join(root, "data"),
		NBRDir:     "NBR",
	}
}

// BandFilePath returns the path of the band file in the data directory
func (l Layout) BandFilePath(band, displayID string) string {
	return filepath.Join(l.DataDir, band, filepath.Base(displayID))
}

// NBRPath returns the directory of the NBR rasters
func (l Layout) NBRPath() string {
	nbrDir := l.NBRDir
	if nbrDir == "" {
		nbrDir = "NBR"
	}
	return filepath.Join(l.DataDir, nbrDir)
}

func mkdir(ctx context.Context, dir string) error {
	if _, err := os.Stat(dir); err == nil {
		log.Logger(ctx).Sugar().Debugf("directory %s already exists", dir)
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	log.Logger(ctx).Sugar().Debugf("directory %s created", dir)
	return nil
}

// moveFile renames src to dst, or copies it if they are not on the same device
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}

// OrganizeBandFiles moves the band files from the staging directory to their band subdirectory of dataDir,
// then removes the staging directory.
// Files missing from the staging directory are skipped.
func OrganizeBandFiles(ctx context.Context, stagingDir, dataDir string, bandFilenames map[string][]string) error {
	if info, err := os.Stat(stagingDir); err != nil || !info.IsDir() {
		return service.ErrDirectoryNotFound{Directory: stagingDir}
	}
	if err := mkdir(ctx, dataDir); err != nil {
		return fmt.Errorf("OrganizeBandFiles.%w", err)
	}

	for band, filenames := range bandFilenames {
		bandDir := filepath.Join(dataDir, band)
		if err := mkdir(ctx, bandDir); err != nil {
			return fmt.Errorf("OrganizeBandFiles.%w", err)
		}
		moved := 0
		for _, filename := range filenames {
			src := filepath.Join(stagingDir, filepath.Base(filename))
			if _, err := os.Stat(src); err != nil {
				log.Logger(ctx).Sugar().Warnf("%s not found in %s: skipped", filename, stagingDir)
				continue
			}
			if err := moveFile(src, filepath.Join(bandDir, filepath.Base(filename))); err != nil {
				return fmt.Errorf("OrganizeBandFiles.move[%s]: %w", filename, err)
			}
			moved++
		}
		log.Logger(ctx).Sugar().Infof("%d files moved to %s", moved, bandDir)
	}

	if err := os.RemoveAll(stagingDir); err != nil {
		return fmt.Errorf("OrganizeBandFiles.RemoveAll: %w", err)
	}
	return nil
}
