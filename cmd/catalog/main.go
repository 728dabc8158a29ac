package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/airbusgeo/godal"
	"github.com/airbusgeo/nbr-ingester/catalog"
	"github.com/airbusgeo/nbr-ingester/catalog/entities"
	"github.com/airbusgeo/nbr-ingester/downloader"
	"github.com/airbusgeo/nbr-ingester/interface/catalog/m2m"
	"github.com/airbusgeo/nbr-ingester/service"
	"github.com/airbusgeo/nbr-ingester/service/geometry"
	"github.com/airbusgeo/nbr-ingester/service/log"
	"github.com/araddon/dateparse"
	"github.com/go-spatial/geom/encoding/geojson"
	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type config struct {
	Area       string
	AOI        string
	Boundary   string
	Start      string
	End        string
	Bands      string
	Earliest   bool
	MaxResults int
	Out        string
	Run        string

	Serve   bool
	AppPort string
	Token   string

	M2MURL       string
	M2MUsername  string
	M2MToken     string
	M2MPassword  string
	SceneDataset string
	BandDataset  string
	WorkingDir   string

	Messaging service.MessagingConfig
}

func newAppConfig() (*config, error) {
	config := config{}
	flag.StringVar(&config.Area, "area", "", "json of the area to search (geometry, start_time, end_time, bands, earliest)")
	flag.StringVar(&config.AOI, "aoi", "", "geojson file of the area of interest (overrides the geometry of -area)")
	flag.StringVar(&config.Boundary, "boundary", "", "vector file (shapefile, geojson...) whose outer boundary is the area of interest (overrides -aoi)")
	flag.StringVar(&config.Start, "start", "", "start of the acquisition period (overrides -area)")
	flag.StringVar(&config.End, "end", "", "end of the acquisition period (overrides -area)")
	flag.StringVar(&config.Bands, "bands", "", "comma-separated list of bands (overrides -area). Default: B5,B7")
	flag.BoolVar(&config.Earliest, "earliest", false, "select the earliest scene of each path/row instead of the latest")
	flag.IntVar(&config.MaxResults, "max-results", 0, "maximum number of scenes (0: all)")
	flag.StringVar(&config.Out, "out", "", "json file receiving the band files (default: stdout)")
	flag.StringVar(&config.Run, "run", "", "label of the run, for the download jobs (default: random)")

	flag.BoolVar(&config.Serve, "serve", false, "serve the catalog api instead of running a single search")
	flag.StringVar(&config.AppPort, "port", "8080", "port of the catalog api")
	flag.StringVar(&config.Token, "token", "", "bearer token required to access the catalog api (optional)")

	flag.StringVar(&config.M2MURL, "m2m-url", m2m.M2MURL, "url of the USGS M2M api")
	flag.StringVar(&config.M2MUsername, "m2m-username", "", "USGS ERS username")
	flag.StringVar(&config.M2MToken, "m2m-token", "", "USGS M2M application token")
	flag.StringVar(&config.M2MPassword, "m2m-password", "", "USGS ERS password (if no application token is provided)")
	flag.StringVar(&config.SceneDataset, "scene-dataset", catalog.DefaultSceneDataset, "M2M dataset of the scenes")
	flag.StringVar(&config.BandDataset, "band-dataset", catalog.DefaultBandDataset, "M2M dataset of the band files, recorded in each band file for the downloader")
	flag.StringVar(&config.WorkingDir, "workdir", os.TempDir(), "working directory to store the uploaded files")

	config.Messaging.SetFlags("name of the queue for downloader jobs, to send one job per band file (optional, pgqueue or pubsub topic)", "unused")
	flag.Parse()

	if config.M2MUsername == "" {
		return nil, fmt.Errorf("missing m2m-username config flag")
	}
	if config.M2MToken == "" && config.M2MPassword == "" {
		return nil, fmt.Errorf("missing m2m-token or m2m-password config flag")
	}
	if !config.Serve && config.Area == "" && config.AOI == "" && config.Boundary == "" {
		return nil, fmt.Errorf("missing area, aoi or boundary config flag (or serve)")
	}
	return &config, nil
}

func main() {
	ctx := context.Background()
	err := run(ctx)
	if err != nil {
		log.Fatal("error", zap.Error(err))
	}
}

func run(ctx context.Context) error {
	config, err := newAppConfig()
	if err != nil {
		return err
	}
	godal.RegisterAll()

	client := m2m.NewClient(config.M2MUsername, config.M2MToken)
	client.URL = config.M2MURL
	client.Password = config.M2MPassword
	if err := client.Login(ctx); err != nil {
		return err
	}
	defer client.Logout(ctx)

	c := catalog.NewCatalog(client, config.WorkingDir)
	c.SceneDataset = config.SceneDataset
	c.BandDataset = config.BandDataset

	if !config.Serve {
		return searchArea(ctx, c, config)
	}

	// HTTP Server
	ctx, cncl := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cncl()
	bearerAuths = map[string]string{"default": config.Token}

	r := mux.NewRouter()
	c.AddHandler(r)
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	s := http.Server{
		Addr:    ":" + config.AppPort,
		Handler: handlers.RecoveryHandler()(BearerAuthenticate(r)),
	}

	go func() {
		if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Logger(ctx).Fatal("catalog.ListenAndServe", zap.Error(err))
		}
	}()
	log.Logger(ctx).Sugar().Infof("catalog listening on :%s", config.AppPort)

	<-ctx.Done()
	sctx, cncl := context.WithTimeout(context.Background(), 30*time.Second)
	defer cncl()
	return s.Shutdown(sctx)
}

// loadArea reads the area from the json file, then applies the overrides of the command line
func loadArea(ctx context.Context, config *config) (entities.AreaToSearch, error) {
	area := entities.AreaToSearch{}
	if config.Area != "" {
		if err := service.FromJSON(config.Area, &area); err != nil {
			return area, fmt.Errorf("loadArea.%w", err)
		}
	}
	if config.AOI != "" {
		aoi, err := service.ReadGeometryFile(config.AOI)
		if err != nil {
			return area, fmt.Errorf("loadArea.%w", err)
		}
		if aoi, err = geometry.Dissolve(aoi); err != nil {
			return area, fmt.Errorf("loadArea.%w", err)
		}
		area.AOI = geojson.Geometry{Geometry: aoi}
	}
	if config.Boundary != "" {
		aoi, err := geometry.ExtractBoundary(ctx, config.Boundary)
		if err != nil {
			return area, fmt.Errorf("loadArea.%w", err)
		}
		area.AOI = geojson.Geometry{Geometry: aoi}
	}
	var err error
	if config.Start != "" {
		if area.StartTime, err = dateparse.ParseAny(config.Start); err != nil {
			return area, fmt.Errorf("loadArea.start: %w", err)
		}
	}
	if config.End != "" {
		if area.EndTime, err = dateparse.ParseAny(config.End); err != nil {
			return area, fmt.Errorf("loadArea.end: %w", err)
		}
	}
	if config.Bands != "" {
		area.Bands = strings.Split(config.Bands, ",")
	}
	if len(area.Bands) == 0 {
		area.Bands = []string{"B5", "B7"}
	}
	if config.Earliest {
		area.Earliest = true
	}
	if config.MaxResults > 0 {
		area.MaxResults = config.MaxResults
	}
	return area, nil
}

func searchArea(ctx context.Context, c *catalog.Catalog, config *config) error {
	area, err := loadArea(ctx, config)
	if err != nil {
		return err
	}
	files, err := c.DoBandFilesInventory(ctx, area)
	if err != nil {
		return err
	}

	out := os.Stdout
	if config.Out != "" {
		if out, err = os.Create(config.Out); err != nil {
			return fmt.Errorf("searchArea.Create: %w", err)
		}
		defer out.Close()
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(files); err != nil {
		return fmt.Errorf("searchArea.Encode: %w", err)
	}

	if config.Messaging.JobQueue == "" {
		return nil
	}
	return sendJobs(ctx, config, files)
}

// sendJobs publishes one download job per band file
func sendJobs(ctx context.Context, config *config, files entities.BandFiles) error {
	publisher, stop, err := config.Messaging.NewPublisher(ctx, config.Messaging.JobQueue)
	if err != nil {
		return fmt.Errorf("sendJobs.%w", err)
	}
	defer stop()

	run := config.Run
	if run == "" {
		run = uuid.New().String()
	}
	jobs := downloader.Jobs(run, files)
	for _, job := range jobs {
		data, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("sendJobs.Marshal: %w", err)
		}
		if err := publisher.Publish(ctx, data); err != nil {
			return fmt.Errorf("sendJobs.Publish: %w", err)
		}
	}
	log.Logger(ctx).Sugar().Infof("%d jobs of run %s sent to %s", len(jobs), run, config.Messaging.Describe(config.Messaging.JobQueue))
	return nil
}
