package main

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/samirrijal/etxea/internal/core/domain"
)

// Manifest lists the listing feeds to ingest.
type Manifest struct {
	Source string      `json:"source"`
	Feeds  []FeedEntry `json:"feeds"`
}

// FeedEntry describes one feed. URL may be http(s) or a local path.
type FeedEntry struct {
	Name   string `json:"name"`
	URL    string `json:"url"`
	Format string `json:"format"` // "json" (default) or "csv"
	Offer  string `json:"offer,omitempty"`
	Area   string `json:"area,omitempty"` // default area for rows without one
}

// feedRecord is one row as published by a portal. Price and rooms arrive as
// display strings ("$1,250,000", "3 bed, 2 bath").
type feedRecord struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Price       json.RawMessage `json:"price"`
	Rooms       string          `json:"rooms"`
	Bedrooms    *int            `json:"bedrooms"`
	Bathrooms   *int            `json:"bathrooms"`
	Type        string          `json:"type"`
	Offer       string          `json:"offer"`
	Lat         float64         `json:"lat"`
	Lon         float64         `json:"lon"`
	Address     string          `json:"address"`
	Area        string          `json:"area"`
	Description string          `json:"description"`
	Image       string          `json:"image"`
}

// listingNamespace scopes ids derived from feed rows.
var listingNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://etxea.dev/listings"))

// parseFeed decodes r according to the feed format. Rows that cannot be
// turned into a valid listing are skipped and reported in the error.
func parseFeed(feed FeedEntry, r io.Reader, now time.Time) ([]domain.Listing, error) {
	var records []feedRecord
	var err error
	switch strings.ToLower(feed.Format) {
	case "", "json":
		err = json.NewDecoder(r).Decode(&records)
	case "csv":
		records, err = readCSV(r)
	default:
		return nil, fmt.Errorf("unknown feed format %q", feed.Format)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", feed.Name, err)
	}

	var (
		out  = make([]domain.Listing, 0, len(records))
		errs []error
	)
	for i, rec := range records {
		l, err := toListing(feed, rec, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("row %d: %w", i+1, err))
			continue
		}
		out = append(out, l)
	}
	return out, errors.Join(errs...)
}

func toListing(feed FeedEntry, rec feedRecord, now time.Time) (domain.Listing, error) {
	price, err := parseRawPrice(rec.Price)
	if err != nil {
		return domain.Listing{}, err
	}
	ptype, err := domain.ParsePropertyType(rec.Type)
	if err != nil {
		ptype = domain.PropertyOther
	}

	beds, baths, err := domain.ParseRooms(rec.Rooms)
	if err != nil {
		return domain.Listing{}, err
	}
	if rec.Bedrooms != nil {
		beds = *rec.Bedrooms
	}
	if rec.Bathrooms != nil {
		baths = *rec.Bathrooms
	}

	var offer domain.OfferKind
	for _, s := range []string{rec.Offer, feed.Offer} {
		if s == "" {
			continue
		}
		if o, err := domain.ParseOfferKind(s); err == nil {
			offer = o
			break
		}
	}

	area := strings.TrimSpace(rec.Area)
	if area == "" {
		area = feed.Area
	}

	external := rec.ID
	if external == "" {
		external = fmt.Sprintf("%s|%.6f|%.6f", rec.Title, rec.Lat, rec.Lon)
	}

	l := domain.Listing{
		ID:           uuid.NewSHA1(listingNamespace, []byte(feed.Name+"/"+external)).String(),
		Location:     domain.GeoPoint{Lat: rec.Lat, Lon: rec.Lon},
		Price:        price,
		Bedrooms:     beds,
		Bathrooms:    baths,
		PropertyType: ptype,
		Offer:        offer,
		Title:        strings.TrimSpace(rec.Title),
		Address:      strings.TrimSpace(rec.Address),
		Area:         area,
		Description:  strings.TrimSpace(rec.Description),
		ThumbnailRef: rec.Image,
		UpdatedAt:    now,
	}
	return l, l.Validate()
}

// parseRawPrice accepts a JSON number or a formatted price string.
func parseRawPrice(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, errors.New("price is required")
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("price must be a number or string: %w", err)
	}
	return domain.ParsePrice(s)
}

// readCSV maps a header-indexed CSV onto feed records.
func readCSV(r io.Reader) ([]feedRecord, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		return nil, err
	}
	cols := indexColumns(header)

	var out []feedRecord
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return out, err
		}
		lat, _ := strconv.ParseFloat(getField(record, cols, "lat"), 64)
		lon, _ := strconv.ParseFloat(getField(record, cols, "lon"), 64)
		rec := feedRecord{
			ID:          getField(record, cols, "id"),
			Title:       getField(record, cols, "title"),
			Rooms:       getField(record, cols, "rooms"),
			Type:        getField(record, cols, "type"),
			Offer:       getField(record, cols, "offer"),
			Lat:         lat,
			Lon:         lon,
			Address:     getField(record, cols, "address"),
			Area:        getField(record, cols, "area"),
			Description: getField(record, cols, "description"),
			Image:       getField(record, cols, "image"),
		}
		if p := getField(record, cols, "price"); p != "" {
			rec.Price, _ = json.Marshal(p)
		}
		out = append(out, rec)
	}
	return out, nil
}

func indexColumns(header []string) map[string]int {
	m := make(map[string]int, len(header))
	for i, h := range header {
		m[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	return m
}

func getField(record []string, cols map[string]int, name string) string {
	idx, ok := cols[name]
	if !ok || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}
