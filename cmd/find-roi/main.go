package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"gocv.io/x/gocv"

	"github.com/banshee-data/depth.extract/internal/config"
	"github.com/banshee-data/depth.extract/internal/depth"
	"github.com/banshee-data/depth.extract/internal/extract"
	"github.com/banshee-data/depth.extract/internal/imageio"
	"github.com/banshee-data/depth.extract/internal/video"
)

// find-roi reconstructs the background and writes every ranked floor
// candidate so a rig operator can pick (or re-tune) the arena ROI without
// running a full extraction.
func main() {
	input := flag.String("input", "", "Path to raw depth recording (little-endian uint16 frames)")
	outDir := flag.String("out", "", "Output directory (default <input>.proc)")
	configPath := flag.String("config", "", "Optional JSON tuning file")
	flag.Parse()

	if *input == "" {
		log.Fatal("missing required -input")
	}
	if *outDir == "" {
		*outDir = *input + ".proc"
	}

	cfg := config.EmptySession()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
	}

	info, err := video.Probe(*input, cfg.GetFrameHeight(), cfg.GetFrameWidth())
	if err != nil {
		log.Fatalf("probe: %v", err)
	}
	log.Printf("%s: %d frames of %dx%d", *input, info.Frames, info.Cols, info.Rows)

	ex := &extract.Extractor{Cfg: cfg}
	model, err := ex.EnsureBackground(info, *outDir)
	if err != nil {
		log.Fatalf("background: %v", err)
	}
	defer model.Close()

	overlap := gocv.NewMat()
	defer overlap.Close()
	cands, plane, err := depth.DetectROIs(model.Image, overlap, cfg.ROIConfig())
	if err != nil {
		log.Fatalf("detect rois: %v", err)
	}
	defer depth.CloseAll(cands)

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatalf("output dir: %v", err)
	}
	log.Printf("floor plane: %.4fx + %.4fy + %.4fz + %.4f = 0", plane.A, plane.B, plane.C, plane.D)

	for i, cand := range cands {
		path := filepath.Join(*outDir, fmt.Sprintf("roi_%02d.png", i))
		if err := imageio.WriteMask(path, cand.Mask); err != nil {
			log.Fatalf("write %s: %v", path, err)
		}
		if cand.BBox != nil {
			log.Printf("roi %02d: score %.2f, bbox rows [%d, %d) cols [%d, %d)", i, cand.Score,
				cand.BBox.MinRow, cand.BBox.MaxRow, cand.BBox.MinCol, cand.BBox.MaxCol)
		} else {
			log.Printf("roi %02d: score %.2f, empty mask", i, cand.Score)
		}
	}
	log.Printf("wrote %d candidates to %s", len(cands), *outDir)
}
