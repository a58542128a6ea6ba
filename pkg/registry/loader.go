package registry

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Registry load failures. Per-row problems are not errors; they are
// returned as Warnings on the LoadResult.
var (
	// ErrNotFound means the registry file does not exist.
	ErrNotFound = errors.New("registry file not found")

	// ErrEmptyRegistry means the file had no data rows (a header alone
	// counts as empty).
	ErrEmptyRegistry = errors.New("registry has no data rows")

	// ErrAllRowsMalformed means data rows were present but none parsed.
	ErrAllRowsMalformed = errors.New("registry has no parseable rows")
)

// BandFilter optionally restricts frequencies to a band. The 800-900 MHz
// default matches the P25 public-safety band but is not hard-coded: leave
// Enabled false to keep every parseable frequency.
type BandFilter struct {
	Enabled bool
	MinMHz  float64
	MaxMHz  float64
}

// contains reports whether the filter admits the frequency. Bounds are
// inclusive. A disabled filter admits everything.
func (b BandFilter) contains(mhz float64) bool {
	if !b.Enabled {
		return true
	}
	return mhz >= b.MinMHz && mhz <= b.MaxMHz
}

// Options tunes a registry load.
type Options struct {
	// Band filters frequency cells by band when enabled.
	Band BandFilter
}

// Warning records one recovered per-row or per-cell problem.
type Warning struct {
	// Line is the 1-based line number in the source file.
	Line int

	// Reason describes what was skipped.
	Reason string
}

func (w Warning) String() string {
	return fmt.Sprintf("line %d: %s", w.Line, w.Reason)
}

// LoadResult is a complete, validated registry. Loads are atomic: either
// every parseable site is present or the load failed as a whole.
type LoadResult struct {
	// Sites in file order. This order is the tie-break order for
	// equidistant sites, so it must be preserved.
	Sites []Site

	// Warnings for rows and frequency cells that were skipped.
	Warnings []Warning

	// RowsRead counts data rows seen, header excluded, including rows
	// that were skipped.
	RowsRead int
}

// Load reads and parses the registry file at path.
func Load(path string, opts Options) (*LoadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("open registry: %w", err)
	}
	defer f.Close()

	res, err := Parse(f, opts)
	if err != nil {
		return nil, fmt.Errorf("%w (%s)", err, path)
	}
	return res, nil
}

// Parse reads the registry from r. The first row is treated as a header
// and ignored when its latitude cell is not numeric.
func Parse(r io.Reader, opts Options) (*LoadResult, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	if len(records) == 0 {
		return nil, ErrEmptyRegistry
	}

	start := 0
	if looksLikeHeader(records[0]) {
		start = 1
	}
	if start >= len(records) {
		return nil, ErrEmptyRegistry
	}

	res := &LoadResult{}
	for i := start; i < len(records); i++ {
		res.RowsRead++
		line := i + 1
		site, warns, ok := parseRow(records[i], line, opts.Band)
		res.Warnings = append(res.Warnings, warns...)
		if ok {
			res.Sites = append(res.Sites, site)
		}
	}

	if len(res.Sites) == 0 {
		return nil, ErrAllRowsMalformed
	}
	return res, nil
}

// Column positions within a registry row.
const (
	colRFSS = iota
	colSiteDec
	colSiteHex
	colNAC
	colDescription
	colCounty
	colLatitude
	colLongitude
	colRange
	colFreqStart

	minColumns = 9
)

// looksLikeHeader reports whether a first row is a header: too short to be
// a site row, or a latitude cell that does not parse as a float.
func looksLikeHeader(rec []string) bool {
	if len(rec) <= colLatitude {
		return true
	}
	_, err := strconv.ParseFloat(strings.TrimSpace(rec[colLatitude]), 64)
	return err != nil
}

// parseRow converts one CSV record into a Site. A false return means the
// row was skipped; warnings carry the reasons for skipped rows and for
// ignored frequency cells on kept rows.
func parseRow(rec []string, line int, band BandFilter) (Site, []Warning, bool) {
	var warns []Warning

	if len(rec) < minColumns {
		warns = append(warns, Warning{line, fmt.Sprintf("row has %d columns, need at least %d", len(rec), minColumns)})
		return Site{}, warns, false
	}

	latCell := strings.TrimSpace(rec[colLatitude])
	lonCell := strings.TrimSpace(rec[colLongitude])
	if latCell == "" || lonCell == "" {
		warns = append(warns, Warning{line, "empty latitude/longitude"})
		return Site{}, warns, false
	}
	lat, err := strconv.ParseFloat(latCell, 64)
	if err != nil {
		warns = append(warns, Warning{line, fmt.Sprintf("latitude %q is not numeric", latCell)})
		return Site{}, warns, false
	}
	lon, err := strconv.ParseFloat(lonCell, 64)
	if err != nil {
		warns = append(warns, Warning{line, fmt.Sprintf("longitude %q is not numeric", lonCell)})
		return Site{}, warns, false
	}

	site := Site{
		RFSS:        strings.TrimSpace(rec[colRFSS]),
		SiteDec:     strings.TrimSpace(rec[colSiteDec]),
		SiteHex:     strings.TrimSpace(rec[colSiteHex]),
		NAC:         strings.TrimSpace(rec[colNAC]),
		Description: strings.TrimSpace(rec[colDescription]),
		County:      strings.TrimSpace(rec[colCounty]),
		Latitude:    lat,
		Longitude:   lon,
	}
	site.ID = site.RFSS + "-" + site.SiteDec + "-" + site.SiteHex

	// Declared range is informational; an unparseable cell just means
	// "not declared".
	if rangeCell := strings.TrimSpace(rec[colRange]); rangeCell != "" {
		if rng, err := strconv.ParseFloat(rangeCell, 64); err == nil && rng > 0 {
			site.RangeMiles = rng
		}
	}

	for i := colFreqStart; i < len(rec); i++ {
		cell := strings.TrimSpace(rec[i])
		if cell == "" {
			continue
		}
		control := strings.HasSuffix(cell, "c")
		numeric := strings.TrimSuffix(cell, "c")
		mhz, err := strconv.ParseFloat(numeric, 64)
		if err != nil || mhz <= 0 {
			warns = append(warns, Warning{line, fmt.Sprintf("ignoring frequency cell %q", cell)})
			continue
		}
		if !band.contains(mhz) {
			continue
		}
		site.Frequencies = append(site.Frequencies, Frequency{MHz: mhz, Control: control})
	}

	return site, warns, true
}
