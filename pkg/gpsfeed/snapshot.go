package gpsfeed

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/skpeterson2000/towerwitch/pkg/geo"
)

// SaveSnapshot writes the last known position to path as a small JSON
// object with latitude/longitude keys. The written values round-trip
// exactly through LoadSnapshot.
func SaveSnapshot(path string, pt geo.Point) error {
	snap := struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	}{pt.Latitude, pt.Longitude}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	data = append(data, '\n')

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create snapshot directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot reads a position snapshot. Two formats are accepted: a JSON
// object with latitude/longitude keys (lat/lon also accepted), or a plain
// "lat,lon" pair of floats.
func LoadSnapshot(path string) (geo.Point, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return geo.Point{}, fmt.Errorf("read snapshot: %w", err)
	}

	text := strings.TrimSpace(string(data))
	if strings.HasPrefix(text, "{") {
		return parseJSONSnapshot([]byte(text))
	}
	return parseTextSnapshot(text)
}

func parseJSONSnapshot(data []byte) (geo.Point, error) {
	var snap struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
		Lat       *float64 `json:"lat"`
		Lon       *float64 `json:"lon"`
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return geo.Point{}, fmt.Errorf("decode snapshot: %w", err)
	}

	lat, lon := snap.Latitude, snap.Longitude
	if lat == nil {
		lat = snap.Lat
	}
	if lon == nil {
		lon = snap.Lon
	}
	if lat == nil || lon == nil {
		return geo.Point{}, fmt.Errorf("decode snapshot: missing latitude/longitude")
	}
	return geo.Point{Latitude: *lat, Longitude: *lon}, nil
}

func parseTextSnapshot(text string) (geo.Point, error) {
	parts := strings.Split(text, ",")
	if len(parts) != 2 {
		return geo.Point{}, fmt.Errorf("decode snapshot: want \"lat,lon\", got %q", text)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return geo.Point{}, fmt.Errorf("decode snapshot latitude: %w", err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return geo.Point{}, fmt.Errorf("decode snapshot longitude: %w", err)
	}
	return geo.Point{Latitude: lat, Longitude: lon}, nil
}
