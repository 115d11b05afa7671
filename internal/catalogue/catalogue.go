package catalogue

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/roaddata/webtris-scraper/internal/webtris"
)

// ErrUpstreamUnavailable is returned when the site catalogue cannot be
// fetched after the client retry policy has run out.
var ErrUpstreamUnavailable = errors.New("site catalogue unavailable")

// Family identifies a sensor family derived from the site name.
type Family string

const (
	FamilyMIDAS Family = "midas"
	FamilyTMU   Family = "tmu"
	FamilyTAME  Family = "tame"
	FamilyOther Family = "other"
)

// Families returns all families in report order.
func Families() []Family {
	return []Family{FamilyMIDAS, FamilyTMU, FamilyTAME, FamilyOther}
}

// Site is one catalogued sensor site. Immutable once resolved.
type Site struct {
	ID        int
	Name      string
	Family    Family
	Direction string
	Longitude float64
	Latitude  float64
	Status    string
	Easting   string
	Northing  string
}

// SiteLister fetches the raw site list from the upstream API.
type SiteLister interface {
	Sites(ctx context.Context) ([]webtris.Site, error)
}

// Resolver fetches and normalizes the site catalogue. The result is cached
// in memory for the lifetime of the resolver (one run).
type Resolver struct {
	client SiteLister

	mu    sync.Mutex
	sites []Site
}

// NewResolver creates a Resolver backed by the given client.
func NewResolver(client SiteLister) *Resolver {
	return &Resolver{client: client}
}

// Resolve returns the full normalized catalogue, fetching it at most once.
func (r *Resolver) Resolve(ctx context.Context) ([]Site, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sites != nil {
		return r.sites, nil
	}

	raw, err := r.client.Sites(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	sites := make([]Site, 0, len(raw))
	for _, ws := range raw {
		sites = append(sites, Normalize(ws))
	}
	r.sites = sites
	return sites, nil
}

// Normalize converts a raw upstream site record into a catalogued Site.
func Normalize(ws webtris.Site) Site {
	easting, northing := gridReference(ws.Name)
	return Site{
		ID:        ws.ID,
		Name:      ws.Name,
		Family:    ClassifyName(ws.Name),
		Direction: direction(ws.Name),
		Longitude: ws.Longitude,
		Latitude:  ws.Latitude,
		Status:    ws.Status,
		Easting:   easting,
		Northing:  northing,
	}
}

// ClassifyName buckets a site into a family by case-sensitive substring
// match on the raw name. Names that match none of the three sensor markers,
// including lower- or mixed-case variants, land in FamilyOther.
func ClassifyName(name string) Family {
	switch {
	case strings.Contains(name, "MIDAS"):
		return FamilyMIDAS
	case strings.Contains(name, "TMU"):
		return FamilyTMU
	case strings.Contains(name, "TAME"):
		return FamilyTAME
	default:
		return FamilyOther
	}
}

// direction derives the travel direction from the last "; "-separated
// segment of the site name.
func direction(name string) string {
	parts := strings.Split(name, "; ")
	return CleanDirection(strings.ToLower(parts[len(parts)-1]))
}

// CleanDirection maps the raw direction segment onto the fixed vocabulary
// used in reports. Unrecognized values pass through unchanged.
func CleanDirection(record string) string {
	switch {
	case strings.Contains(record, "eastbound"):
		return "eastbound"
	case strings.Contains(record, "northbound"):
		return "northbound"
	case strings.Contains(record, "southbound"):
		return "southbound"
	case strings.Contains(record, "westbound"):
		return "westbound"
	case strings.Contains(record, "anti-clockwise"):
		return "clockwise"
	case strings.Contains(record, "clockwise"):
		return "clockwise"
	case strings.Contains(record, "legacy site"):
		return "legacy site"
	case strings.Contains(record, "on connector"):
		return "carriageway connector"
	default:
		return record
	}
}

var gridRefPattern = regexp.MustCompile(`(\d+;\d+)`)

// gridReference extracts the easting/northing pair embedded in the name.
func gridReference(name string) (easting, northing string) {
	match := gridRefPattern.FindString(name)
	if match == "" {
		return "", ""
	}
	parts := strings.SplitN(match, ";", 2)
	return parts[0], parts[1]
}
