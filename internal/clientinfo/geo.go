package clientinfo

import (
	"context"
	"net/netip"
)

// Location is the geolocation shape the resolution pipeline reads. City and
// coordinates are carried for diagnostics only; matching uses country/region.
type Location struct {
	Country string  `json:"country,omitempty"`
	Region  string  `json:"region,omitempty"`
	City    string  `json:"city,omitempty"`
	Lat     float64 `json:"lat,omitempty"`
	Lon     float64 `json:"lon,omitempty"`
}

// GeoResolver maps a client IP to a location. Implementations must degrade
// gracefully: a lookup failure is reported through the ok result, never a
// panic, and the pipeline simply resolves without IP-derived geography.
type GeoResolver interface {
	Resolve(ctx context.Context, ip string) (Location, bool)
}

// NoopGeoResolver never resolves. It is the default when no geolocation
// backend is configured.
type NoopGeoResolver struct{}

// Resolve always reports a miss.
func (NoopGeoResolver) Resolve(context.Context, string) (Location, bool) {
	return Location{}, false
}

// StaticGeoResolver serves fixed lookups from a table keyed by IP. It backs
// tests and development deployments where a real geo database is overkill.
type StaticGeoResolver struct {
	Entries map[string]Location
}

// Resolve returns the table entry for the normalized IP, if any.
func (r StaticGeoResolver) Resolve(_ context.Context, ip string) (Location, bool) {
	if len(r.Entries) == 0 {
		return Location{}, false
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return Location{}, false
	}
	loc, ok := r.Entries[addr.String()]
	return loc, ok
}
