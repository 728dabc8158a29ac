package m2m

import (
	"context"
	"fmt"

	"github.com/airbusgeo/nbr-ingester/catalog/entities"
)

// DownloadRequest identifies a product to download
type DownloadRequest struct {
	EntityID  string `json:"entityId"`
	ProductID string `json:"productId"`
}

// Download is a download prepared by the M2M API
type Download struct {
	DownloadID int    `json:"downloadId"`
	EntityID   string `json:"entityId"`
	DisplayID  string `json:"displayId"`
	URL        string `json:"url"`
	StatusText string `json:"statusText"`
}

type downloadOptionsRequest struct {
	DatasetName string   `json:"datasetName"`
	EntityIDs   []string `json:"entityIds"`
}

type downloadRequestRequest struct {
	Downloads []DownloadRequest `json:"downloads"`
	Label     string            `json:"label"`
}

type downloadRequestResponse struct {
	AvailableDownloads []Download    `json:"availableDownloads"`
	PreparingDownloads []Download    `json:"preparingDownloads"`
	Failed             []interface{} `json:"failed"`
}

type downloadRetrieveResponse struct {
	Available []Download `json:"available"`
	Requested []Download `json:"requested"`
}

// DownloadOptions implements catalog.ScenesProvider
func (c *Client) DownloadOptions(ctx context.Context, dataset string, entityIDs []string) ([]entities.Product, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}
	var products []entities.Product
	if err := c.call(ctx, "download-options", downloadOptionsRequest{DatasetName: dataset, EntityIDs: entityIDs}, &products); err != nil {
		return nil, fmt.Errorf("DownloadOptions.%w", err)
	}
	return products, nil
}

// RequestDownloads requests the downloads of the products under the label
// It returns the downloads that are immediately available and the ones that are being prepared
func (c *Client) RequestDownloads(ctx context.Context, downloads []DownloadRequest, label string) (available, preparing []Download, err error) {
	var resp downloadRequestResponse
	if err := c.call(ctx, "download-request", downloadRequestRequest{Downloads: downloads, Label: label}, &resp); err != nil {
		return nil, nil, fmt.Errorf("RequestDownloads.%w", err)
	}
	if len(resp.Failed) > 0 && len(resp.AvailableDownloads)+len(resp.PreparingDownloads) == 0 {
		return nil, nil, fmt.Errorf("RequestDownloads: %d download(s) failed", len(resp.Failed))
	}
	return resp.AvailableDownloads, resp.PreparingDownloads, nil
}

// RetrieveDownloads returns the downloads of the label, available or still requested
func (c *Client) RetrieveDownloads(ctx context.Context, label string) (available, requested []Download, err error) {
	var resp downloadRetrieveResponse
	if err := c.call(ctx, "download-retrieve", map[string]string{"label": label}, &resp); err != nil {
		return nil, nil, fmt.Errorf("RetrieveDownloads.%w", err)
	}
	return resp.Available, resp.Requested, nil
}
