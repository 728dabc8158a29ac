// Package m2mtest provides an in-memory M2M API to test the clients of the catalog
package m2mtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/airbusgeo/nbr-ingester/catalog/entities"
	"github.com/gorilla/mux"
)

// APIKey returned by the login endpoints
const APIKey = "m2m-test-key"

// Server is a fake M2M API serving a fixed set of scenes, products and files
type Server struct {
	*httptest.Server
	Scenes   map[string][]entities.Scene   // by dataset
	Products map[string][]entities.Product // by dataset
	Files    map[string][]byte             // by displayID
	// Preparing is the number of download-retrieve calls before a download is available
	Preparing int
	// Unauthorized makes every authenticated request fail with AUTH_UNAUTHORIZED, even after a login
	Unauthorized bool

	mutex     sync.Mutex
	requests  map[string]int
	labels    map[string][]string
	retrieved map[string]int
	expired   bool
}

type envelope struct {
	Data         interface{} `json:"data"`
	ErrorCode    *string     `json:"errorCode"`
	ErrorMessage *string     `json:"errorMessage"`
}

// NewServer starts a new fake M2M API
func NewServer() *Server {
	s := &Server{
		Scenes:    map[string][]entities.Scene{},
		Products:  map[string][]entities.Product{},
		Files:     map[string][]byte{},
		requests:  map[string]int{},
		labels:    map[string][]string{},
		retrieved: map[string]int{},
	}
	r := mux.NewRouter()
	r.HandleFunc("/download/{file}", s.download).Methods("GET")
	r.HandleFunc("/{endpoint}", s.handle).Methods("POST")
	s.Server = httptest.NewServer(r)
	return s
}

// URL of the API, to be used as m2m.Client.URL
func (s *Server) APIURL() string {
	return s.Server.URL + "/"
}

// Requests returns the number of requests sent to the endpoint
func (s *Server) Requests(endpoint string) int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.requests[endpoint]
}

// ExpireKey makes the next authenticated request fail with AUTH_KEY_INVALID
func (s *Server) ExpireKey() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.expired = true
}

func (s *Server) reply(w http.ResponseWriter, data interface{}, code string) {
	env := envelope{Data: data}
	if code != "" {
		msg := "fake error " + code
		env.ErrorCode, env.ErrorMessage = &code, &msg
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(env)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	endpoint := mux.Vars(r)["endpoint"]
	var body map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.requests[endpoint]++

	if endpoint == "login-token" || endpoint == "login" {
		s.expired = false
		s.reply(w, APIKey, "")
		return
	}
	if r.Header.Get("X-Auth-Token") != APIKey {
		s.reply(w, nil, "AUTH_UNAUTHORIZED")
		return
	}
	if s.expired {
		s.reply(w, nil, "AUTH_KEY_INVALID")
		return
	}
	if s.Unauthorized {
		s.reply(w, nil, "AUTH_UNAUTHORIZED")
		return
	}

	switch endpoint {
	case "logout":
		s.reply(w, true, "")
	case "scene-search":
		s.sceneSearch(w, body)
	case "download-options":
		s.downloadOptions(w, body)
	case "download-request":
		s.downloadRequest(w, body)
	case "download-retrieve":
		s.downloadRetrieve(w, body)
	default:
		s.reply(w, nil, "UNKNOWN_ENDPOINT")
	}
}

func (s *Server) sceneSearch(w http.ResponseWriter, body map[string]json.RawMessage) {
	var dataset string
	var maxResults, startingNumber int
	json.Unmarshal(body["datasetName"], &dataset)
	json.Unmarshal(body["maxResults"], &maxResults)
	json.Unmarshal(body["startingNumber"], &startingNumber)
	if startingNumber < 1 {
		startingNumber = 1
	}
	scenes := s.Scenes[dataset]
	results := []map[string]string{}
	for i := startingNumber - 1; i < len(scenes) && len(results) < maxResults; i++ {
		results = append(results, map[string]string{
			"entityId":    scenes[i].EntityID,
			"displayId":   scenes[i].DisplayID,
			"publishDate": scenes[i].PublishDate.Format("2006-01-02 15:04:05"),
		})
	}
	s.reply(w, map[string]interface{}{
		"results":         results,
		"recordsReturned": len(results),
		"totalHits":       len(scenes),
		"nextRecord":      startingNumber + len(results),
	}, "")
}

func (s *Server) downloadOptions(w http.ResponseWriter, body map[string]json.RawMessage) {
	var dataset string
	var entityIDs []string
	json.Unmarshal(body["datasetName"], &dataset)
	json.Unmarshal(body["entityIds"], &entityIDs)
	ids := map[string]bool{}
	for _, id := range entityIDs {
		ids[id] = true
	}
	products := []entities.Product{}
	for _, p := range s.Products[dataset] {
		if ids[p.EntityID] {
			products = append(products, p)
		}
	}
	s.reply(w, products, "")
}

type download struct {
	DownloadID int    `json:"downloadId"`
	EntityID   string `json:"entityId"`
	DisplayID  string `json:"displayId"`
	URL        string `json:"url"`
	StatusText string `json:"statusText"`
}

func (s *Server) displayID(entityID string) string {
	for _, products := range s.Products {
		for _, p := range products {
			if p.EntityID == entityID {
				return p.DisplayID
			}
		}
	}
	return ""
}

func (s *Server) downloadRequest(w http.ResponseWriter, body map[string]json.RawMessage) {
	var label string
	var downloads []struct {
		EntityID  string `json:"entityId"`
		ProductID string `json:"productId"`
	}
	json.Unmarshal(body["label"], &label)
	json.Unmarshal(body["downloads"], &downloads)

	available, preparing, failed := []download{}, []download{}, []string{}
	for i, d := range downloads {
		displayID := s.displayID(d.EntityID)
		if _, ok := s.Files[displayID]; !ok {
			failed = append(failed, d.EntityID)
			continue
		}
		s.labels[label] = append(s.labels[label], d.EntityID)
		dl := download{DownloadID: i + 1, EntityID: d.EntityID, DisplayID: displayID, URL: s.Server.URL + "/download/" + displayID}
		if s.Preparing > 0 {
			preparing = append(preparing, dl)
		} else {
			available = append(available, dl)
		}
	}
	s.reply(w, map[string]interface{}{
		"availableDownloads": available,
		"preparingDownloads": preparing,
		"failed":             failed,
	}, "")
}

func (s *Server) downloadRetrieve(w http.ResponseWriter, body map[string]json.RawMessage) {
	var label string
	json.Unmarshal(body["label"], &label)
	s.retrieved[label]++
	available, requested := []download{}, []download{}
	for i, entityID := range s.labels[label] {
		displayID := s.displayID(entityID)
		dl := download{DownloadID: i + 1, EntityID: entityID, DisplayID: displayID}
		if s.retrieved[label] >= s.Preparing {
			dl.URL, dl.StatusText = s.Server.URL+"/download/"+displayID, "Available"
			available = append(available, dl)
		} else {
			dl.StatusText = "Preparing"
			requested = append(requested, dl)
		}
	}
	s.reply(w, map[string]interface{}{"available": available, "requested": requested}, "")
}

func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	file := mux.Vars(r)["file"]
	s.mutex.Lock()
	data, ok := s.Files[file]
	s.mutex.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file))
	http.ServeContent(w, r, file, time.Time{}, strings.NewReader(string(data)))
}
