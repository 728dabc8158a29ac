package m2m

import (
	"context"
	"fmt"
	"time"

	"github.com/airbusgeo/nbr-ingester/catalog/entities"
	"github.com/airbusgeo/nbr-ingester/service/log"
	"github.com/araddon/dateparse"
	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/geojson"
)

// PageSize is the maximum number of scenes returned by one scene-search request
var PageSize = 1000

type sceneSearchRequest struct {
	DatasetName    string                 `json:"datasetName"`
	MaxResults     int                    `json:"maxResults"`
	StartingNumber int                    `json:"startingNumber"`
	SceneFilter    map[string]interface{} `json:"sceneFilter,omitempty"`
}

type sceneResult struct {
	EntityID    string `json:"entityId"`
	DisplayID   string `json:"displayId"`
	PublishDate string `json:"publishDate"`
}

type sceneSearchResponse struct {
	Results         []sceneResult `json:"results"`
	RecordsReturned int           `json:"recordsReturned"`
	TotalHits       int           `json:"totalHits"`
	NextRecord      int           `json:"nextRecord"`
}

// SearchScenes implements catalog.ScenesProvider
// It queries the scenes page per page until params.MaxResults (0: all the scenes) is reached
func (c *Client) SearchScenes(ctx context.Context, dataset string, params entities.SearchParams) ([]entities.Scene, error) {
	var scenes []entities.Scene
	req := sceneSearchRequest{DatasetName: dataset, StartingNumber: 1, SceneFilter: params.SceneFilter}
	for {
		req.MaxResults = PageSize
		if params.MaxResults > 0 && params.MaxResults-len(scenes) < PageSize {
			req.MaxResults = params.MaxResults - len(scenes)
		}
		var resp sceneSearchResponse
		if err := c.call(ctx, "scene-search", req, &resp); err != nil {
			return nil, fmt.Errorf("SearchScenes.%w", err)
		}
		for _, r := range resp.Results {
			scene := entities.Scene{EntityID: r.EntityID, DisplayID: r.DisplayID}
			if r.PublishDate != "" {
				var err error
				if scene.PublishDate, err = dateparse.ParseAny(r.PublishDate); err != nil {
					return nil, fmt.Errorf("SearchScenes[%s]: %w", r.EntityID, err)
				}
			}
			scenes = append(scenes, scene)
		}
		log.Logger(ctx).Sugar().Debugf("scene-search %s: %d/%d scenes", dataset, len(scenes), resp.TotalHits)

		if len(resp.Results) == 0 || resp.NextRecord <= req.StartingNumber || len(scenes) >= resp.TotalHits ||
			(params.MaxResults > 0 && len(scenes) >= params.MaxResults) {
			return scenes, nil
		}
		req.StartingNumber = resp.NextRecord
	}
}

// NewSceneFilter creates a scene filter intersecting the AOI and acquired between start and end (inclusive)
func NewSceneFilter(aoi geom.Geometry, start, end time.Time) map[string]interface{} {
	filter := map[string]interface{}{}
	if aoi != nil {
		filter["spatialFilter"] = map[string]interface{}{
			"filterType": "geojson",
			"geoJson":    geojson.Geometry{Geometry: aoi},
		}
	}
	if !start.IsZero() || !end.IsZero() {
		acquisition := map[string]string{}
		if !start.IsZero() {
			acquisition["start"] = start.Format("2006-01-02")
		}
		if !end.IsZero() {
			acquisition["end"] = end.Format("2006-01-02")
		}
		filter["acquisitionFilter"] = acquisition
	}
	return filter
}
