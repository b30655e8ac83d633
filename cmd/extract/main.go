package main

import (
	"flag"
	"log"

	"github.com/banshee-data/depth.extract/internal/classifier"
	"github.com/banshee-data/depth.extract/internal/config"
	"github.com/banshee-data/depth.extract/internal/depth"
	"github.com/banshee-data/depth.extract/internal/depth/monitor"
	"github.com/banshee-data/depth.extract/internal/extract"
	"github.com/banshee-data/depth.extract/internal/store"
)

func main() {
	input := flag.String("input", "", "Path to raw depth recording (little-endian uint16 frames)")
	dbPath := flag.String("db", "extract.db", "Path to the results database")
	cacheDir := flag.String("cache", "", "Directory for cached background/ROI artifacts (default <input dir>/proc)")
	configPath := flag.String("config", "", "Optional JSON tuning file")
	flipModel := flag.String("flip-model", "", "Optional flip classifier model (JSON)")
	force := flag.Bool("force", false, "Recompute background and ROI even when cached")
	plots := flag.Bool("plots", false, "Render scalar trace plots after extraction")
	plotDir := flag.String("plot-dir", "plots", "Base directory for trace plots")
	flag.Parse()

	if *input == "" {
		log.Fatal("missing required -input")
	}
	if *cacheDir == "" {
		*cacheDir = *input + ".proc"
	}

	cfg := config.EmptySession()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
	}

	db, err := store.Open(*dbPath)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer db.Close()

	ex := &extract.Extractor{Cfg: cfg, Store: db, Force: *force}
	if *flipModel != "" {
		clf, err := classifier.Load(*flipModel)
		if err != nil {
			log.Fatalf("load flip classifier: %v", err)
		}
		ex.Classifier = clf
	}

	runID, err := ex.Run(*input, *cacheDir)
	if err != nil {
		log.Fatalf("extract: %v", err)
	}
	log.Printf("extraction complete: run %s", runID)

	if *plots {
		if err := renderPlots(db, runID, cfg, *plotDir, *input); err != nil {
			log.Fatalf("plots: %v", err)
		}
	}
}

func renderPlots(db *store.Store, runID string, cfg *config.Session, baseDir, input string) error {
	sf, err := loadScalars(db, runID)
	if err != nil {
		return err
	}
	outDir := monitor.MakePlotOutputDir(baseDir, input)
	n, err := monitor.PlotScalars(sf, cfg.GetFPS(), outDir)
	if err != nil {
		return err
	}
	log.Printf("wrote %d plots to %s", n, outDir)
	return nil
}

func loadScalars(db *store.Store, runID string) (*depth.ScalarFeatures, error) {
	n, err := db.FrameCount(runID)
	if err != nil {
		return nil, err
	}
	sf := depth.NewScalarFeatures(n)
	for name, dst := range sf.Channels() {
		series, err := db.ScalarSeries(runID, name)
		if err != nil {
			return nil, err
		}
		copy(dst, series)
	}
	return sf, nil
}
