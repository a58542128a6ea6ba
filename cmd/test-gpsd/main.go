package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/skpeterson2000/towerwitch/internal/logging"
	"github.com/skpeterson2000/towerwitch/pkg/config"
	"github.com/skpeterson2000/towerwitch/pkg/geo"
	"github.com/skpeterson2000/towerwitch/pkg/gpsfeed"
)

// main is a test program to verify gpsd integration. It connects to a
// gpsd daemon, streams TPV reports for a fixed window, and prints each
// fix with unit conversions. No-fix reports are shown too, so a receiver
// that is searching looks different from a daemon that is down.
func main() {
	gpsdAddr := flag.String("gpsd", "", "gpsd address (default: the configured address)")
	duration := flag.Duration("duration", 30*time.Second, "How long to listen for fixes")
	flag.Parse()

	cfg := config.DefaultConfig()
	address := cfg.GPS.GPSDAddress
	if *gpsdAddr != "" {
		address = *gpsdAddr
	}

	log.Println("GPSD Feed Test")
	log.Println("=====================================")
	log.Printf("Listening to gpsd at %s for %s...\n", address, *duration)

	client := gpsfeed.NewGPSDClient(gpsfeed.GPSDConfig{
		Address: address,
		Logger:  logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}),
	})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	go func() {
		_ = client.Run(ctx)
	}()

	// Print the first reports in full; after that just count them.
	const printLimit = 10

	var total, usable int
	var last gpsfeed.PositionFix

	for fix := range client.Fixes() {
		total++
		if fix.Usable() {
			usable++
			last = fix
		}

		if total == printLimit+1 {
			log.Println("\n... further fixes suppressed")
		}
		if total > printLimit {
			continue
		}

		log.Printf("\nFix #%d:", total)
		log.Printf("  Quality:  %s", fix.Quality)
		if !fix.Usable() {
			log.Printf("  Status:   SEARCHING (no position yet)")
			continue
		}
		log.Printf("  Position: %.5f°, %.5f°", fix.Latitude, fix.Longitude)
		if fix.Quality == gpsfeed.Quality3D {
			log.Printf("  Altitude: %.0f m MSL (%.0f ft)", fix.AltitudeM, fix.AltitudeM*3.28084)
		}
		log.Printf("  Speed:    %.1f m/s (%.1f mph, %.1f kn)",
			fix.SpeedMPS, fix.SpeedMPS*2.23694, fix.SpeedMPS*1.94384)
		log.Printf("  Heading:  %.0f° %s", fix.HeadingDeg, geo.Cardinal(fix.HeadingDeg))
		log.Printf("  Time:     %s (%.1fs ago)",
			fix.Time.Format("15:04:05"),
			time.Since(fix.Time).Seconds())
	}

	log.Println("\n=====================================")
	log.Printf("Fixes received: %d (%d usable)", total, usable)
	if usable > 0 {
		log.Printf("Last position:  %.5f°, %.5f° (%s)",
			last.Latitude, last.Longitude, last.Quality)
	}
	log.Println("Test complete!")

	if total == 0 {
		log.Println("⚠️  No reports received - is gpsd running?")
		os.Exit(1)
	}
}
