package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"flatbot/models"
	"flatbot/utils"
)

// PostgresStore persists listings to PostgreSQL.
type PostgresStore struct {
	db          *sql.DB
	maxAttempts int
}

// NewPostgresStore opens a connection to PostgreSQL, runs schema migrations,
// and returns a ready-to-use PostgresStore. maxAttempts is the global
// failure bound after which a listing is forced terminal. The initial ping
// retries with back-off while the database comes up.
func NewPostgresStore(dsn string, maxAttempts int, log *utils.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	retry := &utils.RetryConfig{MaxAttempts: 5, BaseDelay: 2 * time.Second, Logger: log}
	if err := retry.Do("postgres ping", db.Ping); err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}

	ps := &PostgresStore{db: db, maxAttempts: maxAttempts}
	if err := ps.migrate(); err != nil {
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	return ps, nil
}

func (ps *PostgresStore) migrate() error {
	_, err := ps.db.Exec(`
		CREATE TABLE IF NOT EXISTS listings (
			source            VARCHAR(100) NOT NULL,
			listing_id        VARCHAR(100) NOT NULL,
			title             TEXT        NOT NULL DEFAULT '',
			price_cold        TEXT        NOT NULL DEFAULT '',
			price_warm        TEXT        NOT NULL DEFAULT '',
			ancillary_costs   TEXT        NOT NULL DEFAULT '',
			location          TEXT        NOT NULL DEFAULT '',
			square_meters     TEXT        NOT NULL DEFAULT '',
			rooms             TEXT        NOT NULL DEFAULT '',
			agent_name        TEXT        NOT NULL DEFAULT '',
			agency            TEXT        NOT NULL DEFAULT '',
			energy_rating     TEXT        NOT NULL DEFAULT '',
			construction_year TEXT        NOT NULL DEFAULT '',
			description       TEXT        NOT NULL DEFAULT '',
			neighborhood      TEXT        NOT NULL DEFAULT '',
			processed         BOOLEAN     NOT NULL DEFAULT FALSE,
			failures          INTEGER     NOT NULL DEFAULT 0,
			received_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (source, listing_id)
		);

		CREATE INDEX IF NOT EXISTS idx_listings_eligible
			ON listings(processed, failures, received_at);
	`)
	return err
}

const listingColumns = `source, listing_id, title, price_cold, price_warm, ancillary_costs,
	location, square_meters, rooms, agent_name, agency, energy_rating,
	construction_year, description, neighborhood, processed, failures, received_at`

// Insert persists a new listing with processed=false, failures=0. Inserting
// an id that already exists is a no-op reported as ErrAlreadyExists.
func (ps *PostgresStore) Insert(l *models.Listing) error {
	res, err := ps.db.Exec(`
		INSERT INTO listings (`+listingColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,FALSE,0,$16)
		ON CONFLICT (source, listing_id) DO NOTHING
	`,
		l.Source, l.ID, l.Title, l.PriceCold, l.PriceWarm, l.AncillaryCosts,
		l.Location, l.SquareMeters, l.Rooms, l.AgentName, l.Agency, l.EnergyRating,
		l.ConstructionYear, l.Description, l.Neighborhood, l.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert %s/%s: %w", l.Source, l.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: insert %s/%s: %w", l.Source, l.ID, err)
	}
	if n == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// Exists reports whether the listing id is present.
func (ps *PostgresStore) Exists(source, id string) (bool, error) {
	var exists bool
	err := ps.db.QueryRow(`
		SELECT EXISTS(SELECT 1 FROM listings WHERE source=$1 AND listing_id=$2)
	`, source, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: exists %s/%s: %w", source, id, err)
	}
	return exists, nil
}

// Get fetches a single listing by id.
func (ps *PostgresStore) Get(source, id string) (*models.Listing, error) {
	row := ps.db.QueryRow(`
		SELECT `+listingColumns+` FROM listings WHERE source=$1 AND listing_id=$2
	`, source, id)
	l, err := scanListing(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get %s/%s: %w", source, id, err)
	}
	return l, nil
}

// Update replaces the full record by id. Processed is never flipped back to
// false here; MarkProcessed and IncrementFailures own the terminal flag.
func (ps *PostgresStore) Update(l *models.Listing) error {
	res, err := ps.db.Exec(`
		UPDATE listings SET
			title=$3, price_cold=$4, price_warm=$5, ancillary_costs=$6,
			location=$7, square_meters=$8, rooms=$9, agent_name=$10, agency=$11,
			energy_rating=$12, construction_year=$13, description=$14,
			neighborhood=$15, processed=(processed OR $16)
		WHERE source=$1 AND listing_id=$2
	`,
		l.Source, l.ID, l.Title, l.PriceCold, l.PriceWarm, l.AncillaryCosts,
		l.Location, l.SquareMeters, l.Rooms, l.AgentName, l.Agency, l.EnergyRating,
		l.ConstructionYear, l.Description, l.Neighborhood, l.Processed,
	)
	if err != nil {
		return fmt.Errorf("postgres: update %s/%s: %w", l.Source, l.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: update %s/%s: %w", l.Source, l.ID, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkProcessed terminally flags the listing: no further attempts.
func (ps *PostgresStore) MarkProcessed(source, id string) error {
	res, err := ps.db.Exec(`
		UPDATE listings SET processed=TRUE WHERE source=$1 AND listing_id=$2
	`, source, id)
	if err != nil {
		return fmt.Errorf("postgres: mark processed %s/%s: %w", source, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: mark processed %s/%s: %w", source, id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementFailures atomically bumps the failure counter and returns the new
// count. Once the count reaches the attempt bound the listing is marked
// processed in the same statement, so exhaustion is terminal.
func (ps *PostgresStore) IncrementFailures(source, id string) (int, error) {
	var failures int
	err := ps.db.QueryRow(`
		UPDATE listings
		SET failures = failures + 1,
		    processed = processed OR (failures + 1 >= $3)
		WHERE source=$1 AND listing_id=$2
		RETURNING failures
	`, source, id, ps.maxAttempts).Scan(&failures)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: increment failures %s/%s: %w", source, id, err)
	}
	return failures, nil
}

// SelectEligible returns all unprocessed listings below the failure bound,
// oldest first.
func (ps *PostgresStore) SelectEligible() ([]*models.Listing, error) {
	rows, err := ps.db.Query(`
		SELECT `+listingColumns+`
		FROM listings
		WHERE processed=FALSE AND failures < $1
		ORDER BY received_at
	`, ps.maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("postgres: select eligible: %w", err)
	}
	defer rows.Close()

	var listings []*models.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan row: %w", err)
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

// Stats reports queue totals for the end-of-cycle summary log.
func (ps *PostgresStore) Stats() (Stats, error) {
	var s Stats
	err := ps.db.QueryRow(`
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE processed),
		       COUNT(*) FILTER (WHERE NOT processed AND failures < $1)
		FROM listings
	`, ps.maxAttempts).Scan(&s.Total, &s.Processed, &s.Eligible)
	if err != nil {
		return Stats{}, fmt.Errorf("postgres: stats: %w", err)
	}
	return s, nil
}

// Delete removes a listing. Housekeeping only; the pipeline never deletes.
func (ps *PostgresStore) Delete(source, id string) error {
	res, err := ps.db.Exec(`
		DELETE FROM listings WHERE source=$1 AND listing_id=$2
	`, source, id)
	if err != nil {
		return fmt.Errorf("postgres: delete %s/%s: %w", source, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: delete %s/%s: %w", source, id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (ps *PostgresStore) Close() error {
	return ps.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanListing(row rowScanner) (*models.Listing, error) {
	l := &models.Listing{}
	err := row.Scan(
		&l.Source, &l.ID, &l.Title, &l.PriceCold, &l.PriceWarm, &l.AncillaryCosts,
		&l.Location, &l.SquareMeters, &l.Rooms, &l.AgentName, &l.Agency, &l.EnergyRating,
		&l.ConstructionYear, &l.Description, &l.Neighborhood, &l.Processed, &l.Failures,
		&l.ReceivedAt,
	)
	if err != nil {
		return nil, err
	}
	return l, nil
}
