package geo

import (
	"errors"
	"math"
	"testing"
)

// TestDistanceKnownValues checks great-circle distances against values derived
// from the mean Earth radius (one degree of latitude = radius * pi/180).
func TestDistanceKnownValues(t *testing.T) {
	tests := []struct {
		name      string
		from      Point
		to        Point
		unit      Unit
		want      float64
		tolerance float64
	}{
		{
			name:      "same point is zero km",
			from:      Point{Latitude: 44.9778, Longitude: -93.2650},
			to:        Point{Latitude: 44.9778, Longitude: -93.2650},
			unit:      Kilometers,
			want:      0.0,
			tolerance: 1e-9,
		},
		{
			name:      "one degree north at equator in km",
			from:      Point{Latitude: 0, Longitude: 0},
			to:        Point{Latitude: 1, Longitude: 0},
			unit:      Kilometers,
			want:      111.19492664455873, // 6371.0 * pi/180
			tolerance: 1e-6,
		},
		{
			name:      "one degree north at equator in mi",
			from:      Point{Latitude: 0, Longitude: 0},
			to:        Point{Latitude: 1, Longitude: 0},
			unit:      Miles,
			want:      69.0941, // 3958.8 * pi/180
			tolerance: 1e-3,
		},
		{
			name:      "one degree north at equator in nm",
			from:      Point{Latitude: 0, Longitude: 0},
			to:        Point{Latitude: 1, Longitude: 0},
			unit:      NauticalMiles,
			want:      60.0411, // 3440.1 * pi/180, close to the 60 nm/degree rule
			tolerance: 1e-3,
		},
		{
			name:      "one degree east at equator equals one degree north",
			from:      Point{Latitude: 0, Longitude: 0},
			to:        Point{Latitude: 0, Longitude: 1},
			unit:      Kilometers,
			want:      111.19492664455873,
			tolerance: 1e-6,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Distance(tt.from, tt.to, tt.unit)
			if err != nil {
				t.Fatalf("Distance() error = %v", err)
			}
			if math.Abs(got-tt.want) > tt.tolerance {
				t.Errorf("Distance() = %.6f, want %.6f (±%g)", got, tt.want, tt.tolerance)
			}
		})
	}
}

// TestDistanceSymmetry verifies distance(a, b) == distance(b, a) for every unit.
func TestDistanceSymmetry(t *testing.T) {
	pairs := []struct {
		name string
		a    Point
		b    Point
	}{
		{"minneapolis to st paul", Point{44.9778, -93.2650}, Point{44.9537, -93.0900}},
		{"cross equator", Point{-10.5, 20.25}, Point{10.5, -20.25}},
		{"cross antimeridian", Point{35.0, 179.5}, Point{35.0, -179.5}},
		{"near poles", Point{89.5, 0}, Point{89.5, 180}},
	}

	for _, unit := range Units {
		for _, p := range pairs {
			t.Run(p.name+"/"+string(unit), func(t *testing.T) {
				ab, err := Distance(p.a, p.b, unit)
				if err != nil {
					t.Fatalf("Distance(a, b) error = %v", err)
				}
				ba, err := Distance(p.b, p.a, unit)
				if err != nil {
					t.Fatalf("Distance(b, a) error = %v", err)
				}
				if math.Abs(ab-ba) > 1e-12 {
					t.Errorf("asymmetric distance: a->b = %.15f, b->a = %.15f", ab, ba)
				}
				if ab < 0 {
					t.Errorf("negative distance %.6f", ab)
				}
			})
		}
	}
}

// TestDistanceUnknownUnit verifies the error path for a bad unit.
func TestDistanceUnknownUnit(t *testing.T) {
	_, err := Distance(Point{0, 0}, Point{1, 1}, Unit("furlongs"))
	if !errors.Is(err, ErrUnknownUnit) {
		t.Errorf("Distance() error = %v, want ErrUnknownUnit", err)
	}
}

// TestBearing checks initial bearings along the cardinal directions and a
// diagonal, plus the degenerate same-point case.
func TestBearing(t *testing.T) {
	tests := []struct {
		name      string
		from      Point
		to        Point
		want      float64
		tolerance float64
	}{
		{"due north", Point{0, 0}, Point{1, 0}, 0.0, 0.01},
		{"due east", Point{0, 0}, Point{0, 1}, 90.0, 0.01},
		{"due south", Point{1, 0}, Point{0, 0}, 180.0, 0.01},
		{"due west", Point{0, 1}, Point{0, 0}, 270.0, 0.01},
		{"northwest diagonal", Point{0, 0}, Point{1, -1}, 315.0, 0.5},
		{"same point", Point{44.9778, -93.2650}, Point{44.9778, -93.2650}, 0.0, 1e-9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Bearing(tt.from, tt.to)
			if got < 0 || got >= 360 {
				t.Fatalf("Bearing() = %.4f, outside [0, 360)", got)
			}
			diff := math.Abs(got - tt.want)
			// Account for wrap-around (359° vs 1°)
			if diff > 180 {
				diff = 360 - diff
			}
			if diff > tt.tolerance {
				t.Errorf("Bearing() = %.4f, want %.4f (±%g)", got, tt.want, tt.tolerance)
			}
		})
	}
}

// TestNormalizeBearing verifies wrap-around into [0, 360).
func TestNormalizeBearing(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{0, 0},
		{45, 45},
		{360, 0},
		{720, 0},
		{-90, 270},
		{-450, 270},
		{359.999, 359.999},
	}

	for _, tt := range tests {
		if got := NormalizeBearing(tt.in); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("NormalizeBearing(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// TestConvertDistance checks known conversion factors through the km pivot.
func TestConvertDistance(t *testing.T) {
	tests := []struct {
		name      string
		value     float64
		from      Unit
		to        Unit
		want      float64
		tolerance float64
	}{
		{"10 miles to km", 10, Miles, Kilometers, 16.09344, 1e-9},
		{"1.852 km to nm", 1.852, Kilometers, NauticalMiles, 1.0, 1e-12},
		{"10 km to miles", 10, Kilometers, Miles, 6.2137119, 1e-6},
		{"nm to miles", 1, NauticalMiles, Miles, 1.1507794, 1e-6},
		{"same unit is identity", 123.456, Miles, Miles, 123.456, 0},
		{"zero converts to zero", 0, Kilometers, NauticalMiles, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ConvertDistance(tt.value, tt.from, tt.to)
			if err != nil {
				t.Fatalf("ConvertDistance() error = %v", err)
			}
			if math.Abs(got-tt.want) > tt.tolerance {
				t.Errorf("ConvertDistance() = %.10f, want %.10f (±%g)", got, tt.want, tt.tolerance)
			}
		})
	}
}

// TestConvertDistanceRoundTrip verifies that converting out and back
// reproduces the original value within 1e-9 relative error for every
// unit pair.
func TestConvertDistanceRoundTrip(t *testing.T) {
	values := []float64{0.1, 1.0, 5.4, 30.0, 100.0, 12345.678}

	for _, from := range Units {
		for _, to := range Units {
			for _, v := range values {
				out, err := ConvertDistance(v, from, to)
				if err != nil {
					t.Fatalf("ConvertDistance(%v, %s, %s) error = %v", v, from, to, err)
				}
				back, err := ConvertDistance(out, to, from)
				if err != nil {
					t.Fatalf("ConvertDistance(%v, %s, %s) error = %v", out, to, from, err)
				}
				if rel := math.Abs(back-v) / v; rel > 1e-9 {
					t.Errorf("round trip %s->%s->%s of %v gave %v (rel err %g)", from, to, from, v, back, rel)
				}
			}
		}
	}
}

// TestConvertDistanceUnknownUnit verifies both unit arguments are validated.
func TestConvertDistanceUnknownUnit(t *testing.T) {
	if _, err := ConvertDistance(1, Unit("parsecs"), Kilometers); !errors.Is(err, ErrUnknownUnit) {
		t.Errorf("bad from unit: error = %v, want ErrUnknownUnit", err)
	}
	if _, err := ConvertDistance(1, Kilometers, Unit("parsecs")); !errors.Is(err, ErrUnknownUnit) {
		t.Errorf("bad to unit: error = %v, want ErrUnknownUnit", err)
	}
}

// TestParseUnit covers canonical forms, long forms, and rejects.
func TestParseUnit(t *testing.T) {
	tests := []struct {
		in      string
		want    Unit
		wantErr bool
	}{
		{"km", Kilometers, false},
		{"KM", Kilometers, false},
		{"kilometers", Kilometers, false},
		{"mi", Miles, false},
		{" miles ", Miles, false},
		{"nm", NauticalMiles, false},
		{"nmi", NauticalMiles, false},
		{"nautical", NauticalMiles, false},
		{"furlongs", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := ParseUnit(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrUnknownUnit) {
				t.Errorf("ParseUnit(%q) error = %v, want ErrUnknownUnit", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseUnit(%q) unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseUnit(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// TestUnitValidAndLabel covers the Unit helpers.
func TestUnitValidAndLabel(t *testing.T) {
	for _, u := range Units {
		if !u.Valid() {
			t.Errorf("Unit(%q).Valid() = false, want true", u)
		}
	}
	if Unit("furlongs").Valid() {
		t.Error("Unit(\"furlongs\").Valid() = true, want false")
	}
	if got := Miles.Label(); got != "miles" {
		t.Errorf("Miles.Label() = %q, want \"miles\"", got)
	}
	if got := NauticalMiles.Label(); got != "nautical miles" {
		t.Errorf("NauticalMiles.Label() = %q, want \"nautical miles\"", got)
	}
}

// TestCardinal maps bearings onto the 16-wind compass rose, including the
// arc boundaries around north.
func TestCardinal(t *testing.T) {
	tests := []struct {
		bearing float64
		want    string
	}{
		{0, "N"},
		{11.24, "N"},
		{11.25, "NNE"},
		{22.5, "NNE"},
		{45, "NE"},
		{90, "E"},
		{135, "SE"},
		{180, "S"},
		{225, "SW"},
		{270, "W"},
		{315, "NW"},
		{337.5, "NNW"},
		{348.74, "NNW"},
		{348.75, "N"},
		{359.9, "N"},
		{360, "N"},
		{-10, "N"},
	}

	for _, tt := range tests {
		if got := Cardinal(tt.bearing); got != tt.want {
			t.Errorf("Cardinal(%v) = %q, want %q", tt.bearing, got, tt.want)
		}
	}
}
