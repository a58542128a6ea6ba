package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/skpeterson2000/towerwitch/internal/logging"
	"github.com/skpeterson2000/towerwitch/pkg/config"
	"github.com/skpeterson2000/towerwitch/pkg/gpsfeed"
	"github.com/skpeterson2000/towerwitch/pkg/registry"
	"github.com/skpeterson2000/towerwitch/pkg/tracker"
)

var (
	// Version information (set by build flags)
	version = "dev"
	commit  = "unknown"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "configs/config.json", "Path to configuration file")
	csvPath := flag.String("csv", "", "Site registry CSV path (overrides config)")
	gpsdAddr := flag.String("gpsd", "", "gpsd address (overrides config)")
	showVersion := flag.Bool("version", false, "Show version information")
	showHelp := flag.Bool("help", false, "Show help information")
	flag.Parse()

	// Show version
	if *showVersion {
		fmt.Printf("towerwitch version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	// Show help
	if *showHelp {
		printHelp()
		os.Exit(0)
	}

	if err := godotenv.Load(); err == nil {
		log.Println("Loaded environment variables from .env file")
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *csvPath != "" {
		cfg.Registry.CSVPath = *csvPath
	}
	if *gpsdAddr != "" {
		cfg.GPS.GPSDAddress = *gpsdAddr
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Load the site registry
	result, err := registry.Load(cfg.Registry.CSVPath, cfg.Registry.LoadOptions())
	if err != nil {
		log.Fatalf("Failed to load site registry: %v", err)
	}

	unit, err := cfg.Query.ParsedUnit()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// The UI owns the terminal, so the tracker and the feed run silent.
	// Their activity surfaces in the log panel instead.
	trk, err := tracker.New(tracker.Config{
		Sites: result.Sites,
		Query: tracker.Query{
			Unit:         unit,
			NearestCount: cfg.Query.NearestCount,
			Radius:       cfg.Query.Radius,
		},
		MinResolveInterval: cfg.GPS.MinResolveInterval(),
		Logger:             logging.Noop(),
	})
	if err != nil {
		log.Fatalf("Failed to create tracker: %v", err)
	}

	// Prime the resolver from the last saved position so the tables are
	// useful before the first live fix arrives.
	if cfg.GPS.SnapshotPath != "" {
		if pt, err := gpsfeed.LoadSnapshot(cfg.GPS.SnapshotPath); err == nil {
			trk.SeedPosition(pt)
			_ = trk.Refresh()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app := NewApp(&AppConfig{
		Config:       cfg,
		Tracker:      trk,
		SitesLoaded:  len(result.Sites),
		LoadWarnings: len(result.Warnings),
	})

	// Start the position feed and the tracker
	source := gpsfeed.NewGPSDClient(gpsfeed.GPSDConfig{
		Address:        cfg.GPS.GPSDAddress,
		DialTimeout:    cfg.GPS.DialTimeout(),
		ReconnectDelay: cfg.GPS.ReconnectDelay(),
		Logger:         logging.Noop(),
	})
	go func() {
		if err := source.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			app.addLog("ERROR", fmt.Sprintf("gpsd feed stopped: %v", err))
		}
	}()
	go trk.Run(ctx, source)

	runErr := app.Run()

	cancel()
	source.Close()
	trk.Stop()

	// Persist the last known position for the next session
	if fix, ok := trk.LastFix(); ok && cfg.GPS.SnapshotPath != "" {
		if err := gpsfeed.SaveSnapshot(cfg.GPS.SnapshotPath, fix.Point()); err != nil {
			log.Printf("Warning: Failed to save position snapshot: %v", err)
		}
	}

	if runErr != nil {
		log.Fatalf("Application error: %v", runErr)
	}
}

// printHelp prints usage information
func printHelp() {
	fmt.Println("towerwitch - Terminal console for nearest P25 tower sites")
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  towerwitch [options]")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Println("        Path to configuration file (default: configs/config.json)")
	fmt.Println("  -csv string")
	fmt.Println("        Site registry CSV path (overrides config)")
	fmt.Println("  -gpsd string")
	fmt.Println("        gpsd address (overrides config)")
	fmt.Println("  -version")
	fmt.Println("        Show version information")
	fmt.Println("  -help")
	fmt.Println("        Show this help message")
	fmt.Println()
	fmt.Println("KEYBOARD SHORTCUTS:")
	fmt.Println("  Views:")
	fmt.Println("    g              GPS detail")
	fmt.Println("    n              Nearest sites")
	fmt.Println("    i              In-range sites")
	fmt.Println("    TAB            Next view")
	fmt.Println()
	fmt.Println("  Actions:")
	fmt.Println("    r              Refresh results")
	fmt.Println("    u              Cycle distance unit")
	fmt.Println("    +/-            Grow/shrink search radius")
	fmt.Println()
	fmt.Println("  Control:")
	fmt.Println("    q or ESC       Quit application")
	fmt.Println()
	fmt.Println("FEATURES:")
	fmt.Println("  - Live nearest-site ranking driven by gpsd fixes")
	fmt.Println("  - Distance bands colored by proximity")
	fmt.Println("  - Position snapshot restored on startup, saved on exit")
	fmt.Println("  - Switchable distance units (miles, kilometers, nautical miles)")
	fmt.Println()
	fmt.Println("For more information, visit:")
	fmt.Println("  https://github.com/skpeterson2000/towerwitch")
}
