package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/skpeterson2000/towerwitch/internal/db"
	"github.com/skpeterson2000/towerwitch/pkg/config"
	"github.com/skpeterson2000/towerwitch/pkg/registry"
)

// Site Mirror Verification
// Compares the PostgreSQL site mirror against the registry CSV it was
// imported from. Exits non-zero when the two disagree.

func main() {
	configPath := flag.String("config", "configs/config.json", "Path to configuration file")
	csvPath := flag.String("csv", "", "Registry CSV to verify against (default: the configured path)")
	flag.Parse()

	if err := godotenv.Load(); err == nil {
		log.Println("Loaded environment from .env")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	path := cfg.Registry.CSVPath
	if *csvPath != "" {
		path = *csvPath
	}

	database, err := db.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	ctx := context.Background()

	fmt.Println("===========================================")
	fmt.Println("  Site Mirror Verification")
	fmt.Println("===========================================")

	// Count sites by county
	rows, err := database.QueryContext(ctx,
		"SELECT county, COUNT(*) FROM sites GROUP BY county ORDER BY COUNT(*) DESC")
	if err != nil {
		log.Fatalf("Failed to query sites: %v", err)
	}
	defer rows.Close()

	fmt.Println("County                   | Count")
	fmt.Println("-------------------------|-------")
	totalSites := 0
	for rows.Next() {
		var county string
		var count int
		rows.Scan(&county, &count)
		fmt.Printf("%-24s | %d\n", county, count)
		totalSites += count
	}
	fmt.Printf("%-24s | %d\n", "TOTAL", totalSites)

	// Count sites carrying a control channel
	var controlCount int
	err = database.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sites WHERE TRUE = ANY(control_flags)").Scan(&controlCount)
	if err != nil {
		log.Fatalf("Failed to query control channels: %v", err)
	}
	fmt.Printf("\nSites with a control channel: %d\n", controlCount)

	// Sample some sites
	fmt.Println("\nSample Sites:")
	rows2, err := database.QueryContext(ctx,
		"SELECT site_key, county, latitude, longitude FROM sites ORDER BY position LIMIT 5")
	if err != nil {
		log.Fatalf("Failed to query sample: %v", err)
	}
	defer rows2.Close()

	for rows2.Next() {
		var key, county string
		var lat, lon float64
		rows2.Scan(&key, &county, &lat, &lon)
		fmt.Printf("  %s (%s) - %.4f°, %.4f°\n", key, county, lat, lon)
	}

	// Compare the mirror against the CSV it was imported from
	fmt.Printf("\nCross-checking against %s:\n", path)
	result, err := registry.Load(path, cfg.Registry.LoadOptions())
	if err != nil {
		log.Fatalf("Failed to load registry CSV: %v", err)
	}

	mismatches := 0
	if len(result.Sites) == totalSites {
		fmt.Printf("  ✓ Site count matches (%d)\n", totalSites)
	} else {
		fmt.Printf("  ✗ Site count mismatch: CSV has %d, mirror has %d\n",
			len(result.Sites), totalSites)
		mismatches++
	}

	for i, site := range result.Sites {
		if i >= 3 {
			break
		}
		if !checkSite(database, ctx, site.ID) {
			mismatches++
		}
	}

	// Import history
	repo := db.NewSiteRepository(database)
	if record, err := repo.LastImport(ctx); err == nil && record != nil {
		fmt.Printf("\nLast import: #%d from %s at %s (%d sites, %d warnings)\n",
			record.ID, record.SourcePath,
			record.ImportedAt.Format(time.RFC3339),
			record.SitesLoaded, record.Warnings)
	} else {
		fmt.Println("\nLast import: none recorded")
	}

	fmt.Println("\n===========================================")
	if mismatches == 0 {
		fmt.Println("✓ Verification Complete")
	} else {
		fmt.Printf("✗ Verification failed: %d mismatch(es)\n", mismatches)
	}
	fmt.Println("===========================================")

	if mismatches > 0 {
		os.Exit(1)
	}
}

func checkSite(database *db.DB, ctx context.Context, key string) bool {
	var description, county string
	var lat, lon float64
	err := database.QueryRowContext(ctx,
		"SELECT COALESCE(description, ''), county, latitude, longitude FROM sites WHERE site_key = $1 LIMIT 1",
		key).Scan(&description, &county, &lat, &lon)

	if err != nil {
		fmt.Printf("  ✗ %s not found in mirror\n", key)
		return false
	}

	fmt.Printf("  ✓ %s (%s) at %.4f°, %.4f°", key, county, lat, lon)
	if description != "" {
		fmt.Printf(" - %s", description)
	}
	fmt.Println()
	return true
}
