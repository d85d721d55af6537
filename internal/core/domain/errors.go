package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateID is returned when inserting a listing id that is already present.
	ErrDuplicateID = errors.New("duplicate listing id")
	// ErrNotFound is returned when updating or removing an absent listing id.
	ErrNotFound = errors.New("listing not found")
	// ErrInvalidCoordinate is returned for latitude/longitude outside WGS 84 ranges.
	ErrInvalidCoordinate = errors.New("invalid coordinate")
	// ErrInvalidPredicate is returned for inconsistent filter predicates.
	ErrInvalidPredicate = errors.New("invalid predicate")
	// ErrInvalidViewport is returned for malformed bounds or zoom levels.
	ErrInvalidViewport = errors.New("invalid viewport")
	// ErrInvalidListing is returned for listings missing required attributes.
	ErrInvalidListing = errors.New("invalid listing")
)

// InvalidCoordinateError carries the rejected coordinate.
type InvalidCoordinateError struct {
	Lat float64
	Lon float64
}

func (e *InvalidCoordinateError) Error() string {
	return fmt.Sprintf("invalid coordinate (%g, %g): lat must be in [-90,90], lon in [-180,180]", e.Lat, e.Lon)
}

func (e *InvalidCoordinateError) Is(target error) bool { return target == ErrInvalidCoordinate }

// InvalidPredicateError names the offending predicate field.
type InvalidPredicateError struct {
	Field  string
	Reason string
}

func (e *InvalidPredicateError) Error() string {
	return fmt.Sprintf("invalid predicate: %s %s", e.Field, e.Reason)
}

func (e *InvalidPredicateError) Is(target error) bool { return target == ErrInvalidPredicate }
