package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/airbusgeo/nbr-ingester/catalog/entities"
	"github.com/airbusgeo/nbr-ingester/interface/catalog/m2m"
	"github.com/airbusgeo/nbr-ingester/service"
	"github.com/airbusgeo/nbr-ingester/service/log"
	"github.com/google/uuid"
)

// M2MProvider implements BandProvider for the USGS M2M API
type M2MProvider struct {
	Client  *m2m.Client
	Dataset string
	// PollPeriod between two download-retrieve requests while the download is being prepared
	PollPeriod time.Duration
	// MaxWait for the download to be prepared
	MaxWait time.Duration
}

// NewM2MProvider creates a new BandProvider downloading the band files of the dataset.
// The client must be logged in.
func NewM2MProvider(client *m2m.Client, dataset string) *M2MProvider {
	return &M2MProvider{Client: client, Dataset: dataset, PollPeriod: 30 * time.Second, MaxWait: 30 * time.Minute}
}

// Name implements BandProvider
func (p *M2MProvider) Name() string {
	return "M2M"
}

func downloadURL(downloads []m2m.Download, entityID string) string {
	for _, d := range downloads {
		if d.URL != "" && (d.EntityID == "" || d.EntityID == entityID) {
			return d.URL
		}
	}
	return ""
}

// productID returns the id of the first available product of the band file that has a download name.
// The dataset of the band file, if any, takes precedence over the dataset of the provider.
func (p *M2MProvider) productID(ctx context.Context, file entities.BandFile) (string, error) {
	dataset := file.Dataset
	if dataset == "" {
		dataset = p.Dataset
	}
	products, err := p.Client.DownloadOptions(ctx, dataset, []string{file.EntityID})
	if err != nil {
		return "", err
	}
	for _, product := range products {
		if product.EntityID == file.EntityID && product.Available && product.DownloadName != "" {
			return product.ID, nil
		}
	}
	return "", ErrProductNotFound{file.DisplayID}
}

// Download implements BandProvider
func (p *M2MProvider) Download(ctx context.Context, file entities.BandFile, localDir string) error {
	productID, err := p.productID(ctx, file)
	if err != nil {
		return fmt.Errorf("M2MProvider.%w", err)
	}

	label := "nbr-ingester-" + uuid.New().String()
	available, preparing, err := p.Client.RequestDownloads(ctx, []m2m.DownloadRequest{{EntityID: file.EntityID, ProductID: productID}}, label)
	if err != nil {
		return fmt.Errorf("M2MProvider.%w", err)
	}
	url := downloadURL(available, file.EntityID)
	if url == "" && len(preparing) == 0 {
		return fmt.Errorf("M2MProvider: %w", ErrProductNotFound{file.DisplayID})
	}

	if url == "" {
		wctx, cncl := context.WithTimeout(ctx, p.MaxWait)
		defer cncl()
		for url == "" {
			log.Logger(ctx).Sugar().Debugf("%s: waiting for the download to be prepared", file.DisplayID)
			select {
			case <-wctx.Done():
				return service.MakeTemporary(fmt.Errorf("M2MProvider[%s]: download not available: %w", file.DisplayID, wctx.Err()))
			case <-time.After(p.PollPeriod):
			}
			if available, _, err = p.Client.RetrieveDownloads(wctx, label); err != nil {
				return fmt.Errorf("M2MProvider.%w", err)
			}
			url = downloadURL(available, file.EntityID)
		}
	}

	localFile := bandFilePath(localDir, file.DisplayID)
	if err := downloadFile(ctx, url, localFile, p.Name()+":"+file.DisplayID, nil); err != nil {
		return fmt.Errorf("M2MProvider.%w", err)
	}
	return unarchiveIfNeeded(localFile)
}
