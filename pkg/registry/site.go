// Package registry loads and models the repeater site registry.
//
// The registry is a positional CSV file, one row per site: RFSS, site
// number (decimal), site number (hex), NAC, description, county, latitude,
// longitude, declared range, then a variable-length tail of frequency
// cells. A frequency cell ending in the literal character 'c' marks that
// site's control channel.
package registry

import (
	"strconv"

	"github.com/skpeterson2000/towerwitch/pkg/geo"
)

// Frequency is one entry in a site's frequency plan.
type Frequency struct {
	// MHz is the frequency in megahertz.
	MHz float64

	// Control is true when the registry marked this frequency as a
	// control channel (trailing 'c' on the cell).
	Control bool
}

// Site is one repeater site parsed from the registry. Sites are built once
// at load time and never mutated; a registry change is a wholesale reload.
type Site struct {
	// ID is a stable identifier derived from RFSS and the decimal and hex
	// site numbers, e.g. "1-23-17".
	ID string

	// RFSS is the P25 RF subsystem identifier, kept as the raw cell text.
	RFSS string

	// SiteDec and SiteHex are the site number in decimal and hex form,
	// kept as raw cell text (the hex cell has no 0x prefix).
	SiteDec string
	SiteHex string

	// NAC is the network access code. May be a non-numeric placeholder.
	NAC string

	// Description and County are display strings.
	Description string
	County      string

	// Latitude and Longitude in decimal degrees (WGS84).
	Latitude  float64
	Longitude float64

	// RangeMiles is the declared coverage radius in statute miles.
	// Informational only; 0 means the registry did not declare one.
	RangeMiles float64

	// Frequencies holds the site's frequency plan in registry order.
	Frequencies []Frequency
}

// Position returns the site's location as a geo.Point.
func (s Site) Position() geo.Point {
	return geo.Point{Latitude: s.Latitude, Longitude: s.Longitude}
}

// HasControlChannel reports whether the site has at least one frequency
// marked as a control channel.
func (s Site) HasControlChannel() bool {
	for _, f := range s.Frequencies {
		if f.Control {
			return true
		}
	}
	return false
}

// ControlChannels returns the site's control-channel frequencies as MHz
// strings in registry order, e.g. ["851.0125", "852.3375"].
func (s Site) ControlChannels() []string {
	var out []string
	for _, f := range s.Frequencies {
		if f.Control {
			out = append(out, strconv.FormatFloat(f.MHz, 'f', -1, 64))
		}
	}
	return out
}
