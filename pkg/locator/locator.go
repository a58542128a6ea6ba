// Package locator ranks registry sites by proximity to a position.
package locator

import (
	"fmt"
	"sort"

	"github.com/skpeterson2000/towerwitch/pkg/geo"
	"github.com/skpeterson2000/towerwitch/pkg/registry"
)

// Query parameter defaults. Callers may override any of them.
const (
	// DefaultNearestCount is the k used by FindNearest when the caller
	// passes k <= 0.
	DefaultNearestCount = 5

	// DefaultRadius is the search radius used by FindWithinRadius when
	// the caller passes radius <= 0, in the query unit.
	DefaultRadius = 30.0
)

// DefaultUnit is the distance unit used when none is configured.
const DefaultUnit = geo.Miles

// RankedResult pairs a site with its distance and bearing from the query
// position. Sequences of these are always ordered by ascending distance,
// with registry order breaking ties.
type RankedResult struct {
	// Site is the registry entry this result describes.
	Site registry.Site

	// Distance from the query position to the site, in Unit.
	Distance float64

	// Unit is the distance unit the query was run in.
	Unit geo.Unit

	// Bearing from the query position to the site, degrees in [0, 360).
	Bearing float64

	// ControlChannels is the site's control-channel list in MHz strings,
	// copied here so subscribers need not walk the frequency plan.
	ControlChannels []string
}

// FindNearest returns the k sites nearest to origin that have at least one
// control channel, ordered by ascending distance. Equidistant sites keep
// their registry order. k <= 0 selects DefaultNearestCount. An empty result
// is not an error.
func FindNearest(origin geo.Point, sites []registry.Site, unit geo.Unit, k int) ([]RankedResult, error) {
	if k <= 0 {
		k = DefaultNearestCount
	}
	results, err := rank(origin, sites, unit, registry.Site.HasControlChannel)
	if err != nil {
		return nil, err
	}
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// FindWithinRadius returns every site within radius of origin, control
// channel or not, ordered by ascending distance. radius <= 0 selects
// DefaultRadius. An empty result is not an error.
func FindWithinRadius(origin geo.Point, sites []registry.Site, unit geo.Unit, radius float64) ([]RankedResult, error) {
	if radius <= 0 {
		radius = DefaultRadius
	}
	results, err := rank(origin, sites, unit, nil)
	if err != nil {
		return nil, err
	}
	n := sort.Search(len(results), func(i int) bool { return results[i].Distance > radius })
	return results[:n], nil
}

// rank computes distance and bearing to every site admitted by keep and
// sorts ascending by distance. The sort must be stable: registry order is
// the documented tie-break.
func rank(origin geo.Point, sites []registry.Site, unit geo.Unit, keep func(registry.Site) bool) ([]RankedResult, error) {
	if !unit.Valid() {
		return nil, fmt.Errorf("%w: %q", geo.ErrUnknownUnit, unit)
	}

	results := make([]RankedResult, 0, len(sites))
	for _, site := range sites {
		if keep != nil && !keep(site) {
			continue
		}
		dist, err := geo.Distance(origin, site.Position(), unit)
		if err != nil {
			return nil, err
		}
		results = append(results, RankedResult{
			Site:            site,
			Distance:        dist,
			Unit:            unit,
			Bearing:         geo.Bearing(origin, site.Position()),
			ControlChannels: site.ControlChannels(),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})
	return results, nil
}

// Proximity is a coarse distance band used by the display layers for
// color-coding. Band thresholds are fixed in statute miles regardless of
// the query unit.
type Proximity int

const (
	// ProximityNear is under 5 miles.
	ProximityNear Proximity = iota

	// ProximityMid is 5 to 15 miles.
	ProximityMid

	// ProximityFar is 15 miles or more.
	ProximityFar
)

const (
	nearBandMiles = 5.0
	midBandMiles  = 15.0
)

// Proximity returns the result's distance band.
func (r RankedResult) Proximity() Proximity {
	mi, err := geo.ConvertDistance(r.Distance, r.Unit, geo.Miles)
	if err != nil {
		return ProximityFar
	}
	switch {
	case mi < nearBandMiles:
		return ProximityNear
	case mi < midBandMiles:
		return ProximityMid
	}
	return ProximityFar
}
