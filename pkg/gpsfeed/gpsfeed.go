// Package gpsfeed delivers position fixes to the rest of the system. The
// live source is a gpsd watch stream; a manual source covers operators
// without a receiver and tests.
package gpsfeed

import (
	"time"

	"github.com/skpeterson2000/towerwitch/pkg/geo"
)

// FixQuality is the GPS solution class. Values match gpsd's TPV mode field
// where gpsd provides them.
type FixQuality int

const (
	// QualityNoFix means no usable solution (gpsd mode 0 or 1).
	QualityNoFix FixQuality = 0

	// Quality2D is a horizontal-only solution.
	Quality2D FixQuality = 2

	// Quality3D is a full solution including altitude.
	Quality3D FixQuality = 3
)

// Usable reports whether the quality is good enough to position with.
func (q FixQuality) Usable() bool { return q >= Quality2D }

func (q FixQuality) String() string {
	switch q {
	case Quality2D:
		return "2D fix"
	case Quality3D:
		return "3D fix"
	}
	return "no fix"
}

// FixSource identifies where a fix came from.
type FixSource string

const (
	SourceGPSD     FixSource = "gpsd"
	SourceManual   FixSource = "manual"
	SourceSnapshot FixSource = "snapshot"
)

// PositionFix is one observation from a position source. Fixes are
// ephemeral: consumers keep at most the last usable one.
type PositionFix struct {
	// Latitude and Longitude in decimal degrees (WGS84). Only meaningful
	// when Quality is usable.
	Latitude  float64
	Longitude float64

	// AltitudeM is meters above mean sea level; meaningful for 3D fixes.
	AltitudeM float64

	// SpeedMPS is ground speed in meters per second; 0 when the source
	// does not report one.
	SpeedMPS float64

	// HeadingDeg is the course over ground in degrees true; meaningful
	// while moving.
	HeadingDeg float64

	// Quality gates whether this fix may drive a resolution.
	Quality FixQuality

	// Source identifies the producing feed.
	Source FixSource

	// Time is the fix timestamp: the receiver's when it reports one,
	// otherwise arrival time.
	Time time.Time
}

// Point returns the fix location as a geo.Point.
func (f PositionFix) Point() geo.Point {
	return geo.Point{Latitude: f.Latitude, Longitude: f.Longitude}
}

// Usable reports whether the fix may be used for positioning.
func (f PositionFix) Usable() bool { return f.Quality.Usable() }

// Source is a position-fix provider. Fixes returns the delivery channel;
// it is closed when the source stops. Close stops the source; it is safe
// to call more than once.
type Source interface {
	Fixes() <-chan PositionFix
	Close() error
}
