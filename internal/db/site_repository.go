package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/skpeterson2000/towerwitch/pkg/registry"
)

// ImportRecord describes one registry import.
type ImportRecord struct {
	ID          int       `json:"id"`
	SourcePath  string    `json:"sourcePath"`
	ImportedAt  time.Time `json:"importedAt"`
	RowsRead    int       `json:"rowsRead"`
	SitesLoaded int       `json:"sitesLoaded"`
	Warnings    int       `json:"warnings"`
}

// SiteRepository persists the site registry.
type SiteRepository struct {
	db *DB
}

// NewSiteRepository creates a new site repository.
func NewSiteRepository(db *DB) *SiteRepository {
	return &SiteRepository{db: db}
}

// ReplaceAll swaps the stored registry for the given load result in one
// transaction and records the import. Readers never observe a partially
// imported registry.
func (r *SiteRepository) ReplaceAll(ctx context.Context, sourcePath string, result *registry.LoadResult) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var importID int
	err = tx.QueryRowContext(ctx,
		`INSERT INTO imports (source_path, rows_read, sites_loaded, warnings)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		sourcePath, result.RowsRead, len(result.Sites), len(result.Warnings),
	).Scan(&importID)
	if err != nil {
		return 0, fmt.Errorf("failed to record import: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM sites`); err != nil {
		return 0, fmt.Errorf("failed to clear sites: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO sites (
			site_key, rfss, site_dec, site_hex, nac, description, county,
			latitude, longitude, range_miles, frequencies_mhz, control_flags,
			position, import_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare site insert: %w", err)
	}
	defer stmt.Close()

	for i, site := range result.Sites {
		mhz, control := frequencyColumns(site.Frequencies)
		if _, err := stmt.ExecContext(ctx,
			site.ID, site.RFSS, site.SiteDec, site.SiteHex, site.NAC,
			site.Description, site.County,
			site.Latitude, site.Longitude, site.RangeMiles,
			pq.Array(mhz), pq.Array(control),
			i, importID,
		); err != nil {
			return 0, fmt.Errorf("failed to insert site %s: %w", site.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit import: %w", err)
	}

	return importID, nil
}

// GetAll returns the stored registry in its original load order.
func (r *SiteRepository) GetAll(ctx context.Context) ([]registry.Site, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT site_key, rfss, site_dec, site_hex, nac, description, county,
		        latitude, longitude, range_miles, frequencies_mhz, control_flags
		 FROM sites
		 ORDER BY position ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sites: %w", err)
	}
	defer rows.Close()

	var sites []registry.Site
	for rows.Next() {
		var site registry.Site
		var mhz []float64
		var control []bool
		err := rows.Scan(
			&site.ID, &site.RFSS, &site.SiteDec, &site.SiteHex, &site.NAC,
			&site.Description, &site.County,
			&site.Latitude, &site.Longitude, &site.RangeMiles,
			pq.Array(&mhz), pq.Array(&control),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan site: %w", err)
		}
		site.Frequencies = zipFrequencies(mhz, control)
		sites = append(sites, site)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sites: %w", err)
	}

	return sites, nil
}

// Count returns the number of stored sites.
func (r *SiteRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sites`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count sites: %w", err)
	}
	return count, nil
}

// LastImport returns the most recent import, or nil when the registry
// has never been imported.
func (r *SiteRepository) LastImport(ctx context.Context) (*ImportRecord, error) {
	var rec ImportRecord
	err := r.db.QueryRowContext(ctx,
		`SELECT id, source_path, imported_at, rows_read, sites_loaded, warnings
		 FROM imports
		 ORDER BY imported_at DESC, id DESC
		 LIMIT 1`,
	).Scan(&rec.ID, &rec.SourcePath, &rec.ImportedAt,
		&rec.RowsRead, &rec.SitesLoaded, &rec.Warnings)

	if err == sql.ErrNoRows {
		return nil, nil // Never imported
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last import: %w", err)
	}

	return &rec, nil
}

// frequencyColumns splits a frequency list into the parallel arrays the
// sites table stores.
func frequencyColumns(freqs []registry.Frequency) ([]float64, []bool) {
	mhz := make([]float64, len(freqs))
	control := make([]bool, len(freqs))
	for i, f := range freqs {
		mhz[i] = f.MHz
		control[i] = f.Control
	}
	return mhz, control
}

// zipFrequencies reassembles a frequency list from the stored parallel
// arrays. A trailing mismatch in either array is dropped.
func zipFrequencies(mhz []float64, control []bool) []registry.Frequency {
	n := len(mhz)
	if len(control) < n {
		n = len(control)
	}
	if n == 0 {
		return nil
	}
	freqs := make([]registry.Frequency, n)
	for i := 0; i < n; i++ {
		freqs[i] = registry.Frequency{MHz: mhz[i], Control: control[i]}
	}
	return freqs
}
