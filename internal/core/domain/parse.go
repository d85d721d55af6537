package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	priceNumber = regexp.MustCompile(`(\d[\d,]*(?:\.\d+)?)\s*([kKmM]?)`)
	bedCount    = regexp.MustCompile(`(\d+)\s*(?:bed|bd|br)`)
	bathCount   = regexp.MustCompile(`(\d+)\s*(?:bath|ba)`)
)

// ParsePrice extracts a numeric amount from catalog price strings such as
// "$500,000", "PKR 15,000,000" or "1.2M". The currency is discarded.
func ParsePrice(s string) (float64, error) {
	m := priceNumber.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("no amount in price %q", s)
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", s, err)
	}
	switch strings.ToLower(m[2]) {
	case "k":
		v *= 1_000
	case "m":
		v *= 1_000_000
	}
	return v, nil
}

// ParseRooms reads bedroom and bathroom counts from text like "3 bed, 2 bath".
// Missing counts are returned as zero. A count that does not fit an int is
// an error.
func ParseRooms(s string) (bedrooms, bathrooms int, err error) {
	s = strings.ToLower(s)
	if m := bedCount.FindStringSubmatch(s); m != nil {
		if bedrooms, err = strconv.Atoi(m[1]); err != nil {
			return 0, 0, fmt.Errorf("parse bedrooms in %q: %w", s, err)
		}
	}
	if m := bathCount.FindStringSubmatch(s); m != nil {
		if bathrooms, err = strconv.Atoi(m[1]); err != nil {
			return 0, 0, fmt.Errorf("parse bathrooms in %q: %w", s, err)
		}
	}
	return bedrooms, bathrooms, nil
}
