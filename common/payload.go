package common

import "time"

// DownloadResult is the outcome of the download of a band file
type DownloadResult struct {
	Band      string    `json:"band"`
	EntityID  string    `json:"entity_id"`
	DisplayID string    `json:"display_id"`
	Provider  string    `json:"provider,omitempty"`
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Date      time.Time `json:"date"`
}

// DownloadReport lists the outcomes of a download session
type DownloadReport struct {
	Run     string           `json:"run"`
	Results []DownloadResult `json:"results"`
}

// Filenames returns, for each band, the band files successfully downloaded (or already downloaded)
func (r DownloadReport) Filenames() map[string][]string {
	filenames := map[string][]string{}
	for _, res := range r.Results {
		if _, ok := filenames[res.Band]; !ok {
			filenames[res.Band] = []string{}
		}
		if res.Status == StatusDONE {
			filenames[res.Band] = append(filenames[res.Band], res.DisplayID)
		}
	}
	return filenames
}

// Failed returns the results that are not DONE
func (r DownloadReport) Failed() []DownloadResult {
	var failed []DownloadResult
	for _, res := range r.Results {
		if res.Status != StatusDONE {
			failed = append(failed, res)
		}
	}
	return failed
}
