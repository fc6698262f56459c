// Package geo resolves request IPs to country codes for audit enrichment
// using a local MaxMind database.
package geo

import (
	"net"

	"github.com/oschwald/maxminddb-golang"
	"github.com/pkg/errors"
)

// Resolver answers country lookups from an mmdb file. The zero-value-free
// constructor keeps a nil Resolver usable: lookups on nil return "".
type Resolver struct {
	db *maxminddb.Reader
}

// NewResolver opens the mmdb database at path.
func NewResolver(path string) (*Resolver, error) {
	db, err := maxminddb.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not open geoip database '%s'", path)
	}
	return &Resolver{db: db}, nil
}

type countryRecord struct {
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
}

// CountryCode returns the ISO country code for an IP, or an empty string
// when the address is unknown or malformed.
func (r *Resolver) CountryCode(ip string) string {
	if r == nil || r.db == nil {
		return ""
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ""
	}
	var record countryRecord
	if err := r.db.Lookup(parsed, &record); err != nil {
		return ""
	}
	return record.Country.ISOCode
}

// Close releases the database handle.
func (r *Resolver) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}
