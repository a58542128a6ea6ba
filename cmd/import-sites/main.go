package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/joho/godotenv"

	"github.com/skpeterson2000/towerwitch/internal/db"
	"github.com/skpeterson2000/towerwitch/internal/logging"
	"github.com/skpeterson2000/towerwitch/pkg/config"
	"github.com/skpeterson2000/towerwitch/pkg/registry"
)

// Site Registry Importer
// Mirrors a trunked-site CSV export into PostgreSQL so the web server can
// serve the registry without shipping the file around.
//
// The expected layout is the TowerWitch registry format: RFSS, site number
// (decimal and hex), NAC, description, county, latitude, longitude,
// declared range, then frequency cells (a trailing 'c' marks the control
// channel).

func main() {
	configPath := flag.String("config", "configs/config.json", "Path to configuration file")
	csvPath := flag.String("csv", "", "Registry CSV to import (default: the configured path)")
	flag.Parse()

	log.Println("===========================================")
	log.Println("  Site Registry Importer")
	log.Println("===========================================")

	if err := godotenv.Load(); err == nil {
		log.Println("Loaded environment from .env")
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	path := cfg.Registry.CSVPath
	if *csvPath != "" {
		path = *csvPath
	}

	// Parse the registry first: a bad file must never touch the database.
	result, err := registry.Load(path, cfg.Registry.LoadOptions())
	if err != nil {
		log.Fatalf("Failed to load registry: %v", err)
	}
	log.Printf("✓ Parsed %d sites from %d rows in %s", len(result.Sites), result.RowsRead, path)
	for _, w := range result.Warnings {
		log.Printf("Warning: %s", w)
	}

	// Connect to database
	log.Println("Connecting to database...")
	logger := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	database, err := db.ReconnectWithRetry(cfg.Database, 5, time.Second, logger)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()
	log.Println("✓ Database connected")

	// Initialize schema
	ctx := context.Background()
	if err := database.InitSchema(ctx); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}
	log.Println("✓ Schema initialized")

	// Swap the mirror wholesale; partial imports never become visible.
	repo := db.NewSiteRepository(database)
	var imported int
	err = db.WithRetry(func() error {
		var err error
		imported, err = repo.ReplaceAll(ctx, path, result)
		return err
	}, 3, logger)
	if err != nil {
		log.Fatalf("Failed to import sites: %v", err)
	}

	// Summary
	log.Println("===========================================")
	log.Println("Import Complete")
	log.Println("===========================================")
	log.Printf("Rows read:    %d", result.RowsRead)
	log.Printf("Sites loaded: %d", imported)
	log.Printf("Warnings:     %d", len(result.Warnings))

	if record, err := repo.LastImport(ctx); err == nil && record != nil {
		log.Printf("Import #%d recorded at %s", record.ID, record.ImportedAt.Format(time.RFC3339))
	}
}
