package main

import (
	"flag"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"boneseg/pkg/config"
	"boneseg/pkg/dicomio"
	"boneseg/pkg/nrrd"
	"boneseg/pkg/segmentation"
	"boneseg/pkg/visualization"
	"boneseg/pkg/volume"
)

func main() {
	// .env values back the flags when they are not set explicitly.
	_ = godotenv.Load()

	inputPath := flag.String("input", os.Getenv("BONESEG_INPUT"), "DICOM series directory or NRRD volume file")
	outputDir := flag.String("output", envOrDefault("BONESEG_OUTPUT", "results"), "Directory for segmentation outputs")
	configPath := flag.String("config", os.Getenv("BONESEG_CONFIG"), "Path to a YAML configuration file")
	cores := flag.Int("cores", 0, "Number of CPU cores for slice decoding (0 uses the configured value)")
	diagnostics := flag.Bool("diagnostics", false, "Also write pelvis, pelvic footprint and spine masks")
	sliceStep := flag.Int("slices", 0, "Export overlay images and every Nth greyscale slice (0 disables)")
	flag.Parse()

	if *inputPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "boneseg: %v\n", err)
		os.Exit(1)
	}
	if *cores > 0 {
		cfg.Processing.NumCores = *cores
	}

	logger := newLogger(cfg.Output.Verbose)

	params, err := cfg.Params()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	if err := os.MkdirAll(*outputDir, 0755); err != nil {
		logger.Fatal().Err(err).Msg("failed to create output directory")
	}

	vol, err := loadInput(*inputPath, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("input", *inputPath).Msg("failed to load input volume")
	}
	logger.Info().
		Int("d0", vol.Dims[0]).
		Int("d1", vol.Dims[1]).
		Int("d2", vol.Dims[2]).
		Msg("starting skeletal segmentation")

	start := time.Now()
	result, err := segmentation.New(params, logger).Run(vol)
	if err != nil {
		logger.Fatal().Err(err).Msg("segmentation failed")
	}
	elapsed := time.Since(start)

	writeDiagnostics := *diagnostics || cfg.Output.SaveIntermediates
	if err := writeResults(*outputDir, vol, result, writeDiagnostics); err != nil {
		logger.Fatal().Err(err).Msg("failed to write results")
	}
	if *sliceStep > 0 {
		if err := exportSlices(*outputDir, vol, result, cfg, *sliceStep); err != nil {
			logger.Fatal().Err(err).Msg("failed to export slices")
		}
	}

	fmt.Printf("Segmentation completed in %.2f seconds\n", elapsed.Seconds())
	fmt.Printf("  Right femur: %d voxels in %s\n", result.RightFemur.Count(), result.RightBox)
	fmt.Printf("  Left femur:  %d voxels in %s\n", result.LeftFemur.Count(), result.LeftBox)
	fmt.Printf("  Spine:       %d voxels in %s\n", result.Spine.Count(), result.SpineBox)
	fmt.Printf("  Depth axis:  %d (auto-detected: %v)\n", result.Laterality.DepthAxis, result.Laterality.Detected)
	fmt.Printf("Results written to %s\n", *outputDir)
}

// envOrDefault returns the environment value when set, else the
// fallback.
func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// newLogger builds the console logger. Verbose output enables debug
// level entries.
func newLogger(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		With().Timestamp().Logger().Level(level)
}

// loadInput reads either a DICOM series directory or a single NRRD
// volume, decided by what the path points at.
func loadInput(path string, cfg *config.Config, logger zerolog.Logger) (*volume.Volume, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		vol, _, err := dicomio.LoadSeries(path, dicomio.LoadOptions{
			NumWorkers: cfg.Processing.NumCores,
			Logger:     logger,
		})
		return vol, err
	}
	if strings.EqualFold(filepath.Ext(path), ".nrrd") {
		return nrrd.Read(path)
	}
	return nil, fmt.Errorf("input must be a DICOM directory or an .nrrd file")
}

// maskFile pairs an output filename with the mask written to it.
type maskFile struct {
	name string
	mask *volume.Mask
}

// writeResults persists the femur masks, plus the pelvis and spine
// masks when diagnostics are requested.
func writeResults(dir string, vol *volume.Volume, result *segmentation.Result, diagnostics bool) error {
	files := []maskFile{
		{"right_femur.nrrd", result.RightFemur},
		{"left_femur.nrrd", result.LeftFemur},
	}
	if diagnostics {
		files = append(files,
			maskFile{"pelvis.nrrd", result.Pelvis},
			maskFile{"pelvis_footprint.nrrd", result.PelvisFootprint},
			maskFile{"spine.nrrd", result.Spine},
		)
	}
	for _, f := range files {
		if err := nrrd.WriteMask(filepath.Join(dir, f.name), f.mask, vol.VoxelSize); err != nil {
			return fmt.Errorf("failed to write %s: %w", f.name, err)
		}
	}
	return nil
}

// exportSlices renders overlay images through the combined femur
// region on each axis and a greyscale sequence along the depth axis.
func exportSlices(dir string, vol *volume.Volume, result *segmentation.Result, cfg *config.Config, step int) error {
	window := visualization.Window{Level: cfg.Output.WindowLevel, Width: cfg.Output.WindowWidth}
	viewer := visualization.NewViewer(vol, window)

	masks := []visualization.NamedMask{
		{Name: "right femur", Mask: result.RightFemur, Color: color.RGBA{R: 230, G: 60, B: 60, A: 255}},
		{Name: "left femur", Mask: result.LeftFemur, Color: color.RGBA{R: 60, G: 90, B: 230, A: 255}},
		{Name: "spine", Mask: result.Spine, Color: color.RGBA{R: 240, G: 200, B: 40, A: 255}},
	}

	sliceDir := filepath.Join(dir, "slices")
	if err := os.MkdirAll(sliceDir, 0755); err != nil {
		return fmt.Errorf("failed to create slice directory: %w", err)
	}

	mid := result.CombinedBox.Midpoint()
	for axis := 0; axis < 3; axis++ {
		// Padding can push the combined box past the volume edge, so
		// clamp the midpoint to a valid slice position.
		pos := int(mid[axis])
		if max := vol.Dims[axis] - 1; pos > max {
			pos = max
		}
		img, err := viewer.SliceOverlay(axis, pos, masks...)
		if err != nil {
			return err
		}
		name := filepath.Join(sliceDir, fmt.Sprintf("overlay_%d_%03d.png", axis, pos))
		if err := visualization.SavePNG(name, img); err != nil {
			return err
		}
	}

	return viewer.SaveSliceSequence(filepath.Join(sliceDir, "gray"), result.Laterality.DepthAxis, step)
}
