package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/skpeterson2000/towerwitch/pkg/config"
	"github.com/skpeterson2000/towerwitch/pkg/geo"
	"github.com/skpeterson2000/towerwitch/pkg/gpsfeed"
	"github.com/skpeterson2000/towerwitch/pkg/locator"
	"github.com/skpeterson2000/towerwitch/pkg/registry"
)

var (
	// Version information (set by build flags)
	version = "dev"
	commit  = "unknown"
)

// main resolves the nearest repeater sites once and prints them: load the
// registry, acquire a single position (manual flags or one gpsd fix), rank
// the sites, and write the summaries to stdout. Exits non-zero when the
// registry cannot be loaded or no position can be acquired.
func main() {
	// Parse command line flags
	configPath := flag.String("config", "configs/config.json", "Path to configuration file")
	csvPath := flag.String("csv", "", "Site registry CSV path (overrides config)")
	unitFlag := flag.String("unit", "", "Distance unit: mi, km or nm (overrides config)")
	radiusFlag := flag.Float64("range", 0, "In-range search radius in the chosen unit (overrides config)")
	countFlag := flag.Int("k", 0, "Number of nearest sites to print (overrides config)")
	lat := flag.Float64("lat", 0, "Manual latitude, skips gpsd (requires -lon)")
	lon := flag.Float64("lon", 0, "Manual longitude, skips gpsd (requires -lat)")
	gpsdAddr := flag.String("gpsd", "", "gpsd address (overrides config)")
	timeoutFlag := flag.Int("timeout", 0, "Seconds to wait for a gpsd fix (overrides config)")
	snapshotPath := flag.String("snapshot", "", "Position snapshot path (overrides config)")
	allUnits := flag.Bool("all-units", false, "Show distances in every unit")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("tower-locate version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	var latSet, lonSet bool
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "lat":
			latSet = true
		case "lon":
			lonSet = true
		}
	})

	if err := godotenv.Load(); err == nil {
		log.Println("Loaded environment variables from .env file")
	}

	// Load configuration and apply flag overrides
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *csvPath != "" {
		cfg.Registry.CSVPath = *csvPath
	}
	if *unitFlag != "" {
		cfg.Query.Unit = *unitFlag
	}
	if *radiusFlag > 0 {
		cfg.Query.Radius = *radiusFlag
	}
	if *countFlag > 0 {
		cfg.Query.NearestCount = *countFlag
	}
	if *gpsdAddr != "" {
		cfg.GPS.GPSDAddress = *gpsdAddr
	}
	if *timeoutFlag > 0 {
		cfg.GPS.FixTimeoutSeconds = *timeoutFlag
	}
	if *snapshotPath != "" {
		cfg.GPS.SnapshotPath = *snapshotPath
	}

	unit, err := geo.ParseUnit(cfg.Query.Unit)
	if err != nil {
		log.Fatalf("Invalid unit: %v", err)
	}

	// Load the site registry
	result, err := registry.Load(cfg.Registry.CSVPath, cfg.Registry.LoadOptions())
	if err != nil {
		log.Fatalf("Failed to load site registry: %v", err)
	}
	for _, w := range result.Warnings {
		log.Printf("Warning: %s", w)
	}
	log.Printf("Loaded %d sites from %s", len(result.Sites), cfg.Registry.CSVPath)

	// Acquire a position: manual flags win, otherwise wait for one gpsd fix
	var fix gpsfeed.PositionFix
	switch {
	case latSet && lonSet:
		if *lat < -90 || *lat > 90 {
			log.Fatalf("Invalid latitude %.5f: must be between -90 and 90", *lat)
		}
		if *lon < -180 || *lon > 180 {
			log.Fatalf("Invalid longitude %.5f: must be between -180 and 180", *lon)
		}
		fix = gpsfeed.PositionFix{
			Latitude:  *lat,
			Longitude: *lon,
			Quality:   gpsfeed.Quality3D,
			Source:    gpsfeed.SourceManual,
			Time:      time.Now().UTC(),
		}
		log.Printf("Using manual position %.5f, %.5f", fix.Latitude, fix.Longitude)

	case latSet != lonSet:
		log.Fatalf("Manual position needs both -lat and -lon")

	default:
		timeout := cfg.GPS.FixTimeout()
		log.Printf("Waiting for a fix from gpsd at %s (timeout %s)...", cfg.GPS.GPSDAddress, timeout)
		fix, err = gpsfeed.WaitForFix(cfg.GPS.GPSDAddress, timeout)
		if err != nil {
			log.Fatalf("Failed to acquire a GPS fix: %v", err)
		}
		log.Printf("Fix acquired: %.5f, %.5f (%s)", fix.Latitude, fix.Longitude, fix.Quality)
	}

	origin := fix.Point()

	// Rank the registry around the position
	nearest, err := locator.FindNearest(origin, result.Sites, unit, cfg.Query.NearestCount)
	if err != nil {
		log.Fatalf("Failed to rank sites: %v", err)
	}
	inRange, err := locator.FindWithinRadius(origin, result.Sites, unit, cfg.Query.Radius)
	if err != nil {
		log.Fatalf("Failed to search in-range sites: %v", err)
	}

	// Print the result summaries
	fmt.Println()
	fmt.Println("===========================================")
	fmt.Printf("  Position: %.5f, %.5f (%s)\n", fix.Latitude, fix.Longitude, fix.Source)
	fmt.Println("===========================================")
	fmt.Println()

	fmt.Printf("--- %d Nearest Sites ---\n\n", len(nearest))
	for i, r := range nearest {
		fmt.Printf("#%d\n", i+1)
		fmt.Print(locator.FormatResult(r, *allUnits))
		fmt.Println()
	}

	fmt.Printf("--- Sites within %s ---\n\n", locator.FormatDistance(cfg.Query.Radius, unit))
	if len(inRange) == 0 {
		fmt.Println("None.")
	}
	for i, r := range inRange {
		distance := locator.FormatDistance(r.Distance, r.Unit)
		if *allUnits {
			distance = locator.FormatDistanceAllUnits(r.Distance, r.Unit)
		}
		fmt.Printf("%2d. %-32s %s  %3.0f° %s\n",
			i+1, r.Site.Description, distance, r.Bearing, geo.Cardinal(r.Bearing))
	}

	// Persist the position for the next session
	if cfg.GPS.SnapshotPath != "" {
		if err := gpsfeed.SaveSnapshot(cfg.GPS.SnapshotPath, origin); err != nil {
			log.Printf("Warning: Failed to save position snapshot: %v", err)
		}
	}
}
