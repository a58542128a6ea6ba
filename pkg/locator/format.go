package locator

import (
	"fmt"
	"strings"

	"github.com/skpeterson2000/towerwitch/pkg/geo"
)

// FormatDistance renders a distance with fixed two-decimal precision and
// its short unit label, e.g. "6.25 mi".
func FormatDistance(value float64, unit geo.Unit) string {
	return fmt.Sprintf("%.2f %s", value, unit)
}

// FormatDistanceAllUnits renders a distance in its own unit followed by the
// two remaining units in parentheses, e.g. "6.25 mi (10.05 km, 5.43 nm)".
// Units that cannot be converted are omitted.
func FormatDistanceAllUnits(value float64, unit geo.Unit) string {
	var others []string
	for _, u := range geo.Units {
		if u == unit {
			continue
		}
		conv, err := geo.ConvertDistance(value, unit, u)
		if err != nil {
			continue
		}
		others = append(others, FormatDistance(conv, u))
	}
	if len(others) == 0 {
		return FormatDistance(value, unit)
	}
	return fmt.Sprintf("%s (%s)", FormatDistance(value, unit), strings.Join(others, ", "))
}

// FormatResult renders one ranked result as a human-readable block: site
// description and county, site numbers, NAC, location, distance, bearing,
// and the control-channel list. With allUnits set, the distance line shows
// all three units. Results produced by this package always carry a valid
// unit; hand-built results with an unknown unit fall back to a single-unit
// distance line.
func FormatResult(r RankedResult, allUnits bool) string {
	var b strings.Builder
	s := r.Site

	if s.County != "" {
		fmt.Fprintf(&b, "Site: %s (%s County)\n", s.Description, s.County)
	} else {
		fmt.Fprintf(&b, "Site: %s\n", s.Description)
	}
	fmt.Fprintf(&b, "RFSS: %s, Site: %s (0x%s)\n", s.RFSS, s.SiteDec, s.SiteHex)
	fmt.Fprintf(&b, "NAC: %s\n", s.NAC)
	fmt.Fprintf(&b, "Location: %.4f, %.4f\n", s.Latitude, s.Longitude)
	if s.RangeMiles > 0 {
		fmt.Fprintf(&b, "Declared Range: %g miles\n", s.RangeMiles)
	}

	if allUnits {
		fmt.Fprintf(&b, "Distance: %s\n", FormatDistanceAllUnits(r.Distance, r.Unit))
	} else {
		fmt.Fprintf(&b, "Distance: %s\n", FormatDistance(r.Distance, r.Unit))
	}
	fmt.Fprintf(&b, "Bearing: %.0f° %s\n", r.Bearing, geo.Cardinal(r.Bearing))

	if len(r.ControlChannels) == 0 {
		b.WriteString("Control Channels: none\n")
	} else {
		fmt.Fprintf(&b, "Control Channels: %s MHz\n", strings.Join(r.ControlChannels, " MHz, "))
	}

	return b.String()
}
