package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/samirrijal/etxea/internal/core/domain"
)

const listingColumns = `
	id,
	ST_Y(location::geometry) AS lat,
	ST_X(location::geometry) AS lon,
	price, bedrooms, bathrooms, property_type,
	COALESCE(offer, ''), title,
	COALESCE(address, ''), COALESCE(area, ''), COALESCE(description, ''),
	COALESCE(thumbnail_ref, ''), updated_at`

const upsertListing = `
	INSERT INTO listings (id, location, price, bedrooms, bathrooms, property_type, offer,
	                      title, address, area, description, thumbnail_ref, updated_at)
	VALUES ($1, ST_SetSRID(ST_MakePoint($2, $3), 4326)::geography, $4, $5, $6, $7, NULLIF($8, ''),
	        $9, NULLIF($10, ''), NULLIF($11, ''), NULLIF($12, ''), NULLIF($13, ''), $14)
	ON CONFLICT (id) DO UPDATE
	SET location = EXCLUDED.location, price = EXCLUDED.price,
	    bedrooms = EXCLUDED.bedrooms, bathrooms = EXCLUDED.bathrooms,
	    property_type = EXCLUDED.property_type, offer = EXCLUDED.offer,
	    title = EXCLUDED.title, address = EXCLUDED.address, area = EXCLUDED.area,
	    description = EXCLUDED.description, thumbnail_ref = EXCLUDED.thumbnail_ref,
	    updated_at = EXCLUDED.updated_at`

// ListingRepo implements ports.ListingRepository with pgx and PostGIS.
type ListingRepo struct {
	db *DB
}

// NewListingRepo creates a new ListingRepo.
func NewListingRepo(db *DB) *ListingRepo {
	return &ListingRepo{db: db}
}

func upsertArgs(l *domain.Listing) []any {
	return []any{
		l.ID, l.Location.Lon, l.Location.Lat, l.Price, l.Bedrooms, l.Bathrooms,
		string(l.PropertyType), string(l.Offer), l.Title, l.Address, l.Area,
		l.Description, l.ThumbnailRef, l.UpdatedAt,
	}
}

// Upsert inserts or updates a single listing.
func (r *ListingRepo) Upsert(ctx context.Context, l *domain.Listing) error {
	_, err := r.db.Pool.Exec(ctx, upsertListing, upsertArgs(l)...)
	return err
}

// UpsertBatch inserts many listings using pgx.Batch.
func (r *ListingRepo) UpsertBatch(ctx context.Context, listings []domain.Listing) error {
	batch := &pgx.Batch{}
	for i := range listings {
		batch.Queue(upsertListing, upsertArgs(&listings[i])...)
	}
	br := r.db.Pool.SendBatch(ctx, batch)
	defer br.Close()
	for range listings {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch exec: %w", err)
		}
	}
	return nil
}

// GetByID returns a listing by id.
func (r *ListingRepo) GetByID(ctx context.Context, id string) (*domain.Listing, error) {
	row := r.db.Pool.QueryRow(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = $1`, id)
	l, err := scanListing(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// ListAll returns the whole catalog ordered by id.
func (r *ListingRepo) ListAll(ctx context.Context) ([]domain.Listing, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT `+listingColumns+` FROM listings ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []domain.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

// Delete removes a listing.
func (r *ListingRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM listings WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	return nil
}

// FindNearby returns listings within radiusMeters using PostGIS ST_DWithin,
// nearest first.
func (r *ListingRepo) FindNearby(ctx context.Context, lat, lon, radiusMeters float64, limit int) ([]domain.Listing, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+listingColumns+`
		FROM listings
		WHERE ST_DWithin(location, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography, $3)
		ORDER BY ST_Distance(location, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography), id
		LIMIT $4
	`, lon, lat, radiusMeters, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []domain.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

func scanListing(row pgx.Row) (domain.Listing, error) {
	var (
		l            domain.Listing
		propertyType string
		offer        string
	)
	err := row.Scan(
		&l.ID, &l.Location.Lat, &l.Location.Lon,
		&l.Price, &l.Bedrooms, &l.Bathrooms, &propertyType,
		&offer, &l.Title,
		&l.Address, &l.Area, &l.Description,
		&l.ThumbnailRef, &l.UpdatedAt,
	)
	if err != nil {
		return domain.Listing{}, err
	}
	l.PropertyType = domain.PropertyType(propertyType)
	l.Offer = domain.OfferKind(offer)
	return l, nil
}
