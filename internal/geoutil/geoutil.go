// Package geoutil implements [SUPPLEMENT] GeoIP country enrichment for
// PPS alerts, using the teacher's own MaxMind dependency
// (github.com/oschwald/maxminddb-golang), otherwise unused by this
// system's protocol set -- see DESIGN.md.
package geoutil

import (
	"net"

	"github.com/oschwald/maxminddb-golang"
	"github.com/pkg/errors"
)

// countryRecord mirrors the subset of GeoLite2-Country's schema this
// sensor needs.
type countryRecord struct {
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
		Names   struct {
			English string `maxminddb:"en"`
		} `maxminddb:"names"`
	} `maxminddb:"country"`
}

// DB wraps an open MaxMind GeoLite2-Country database.
type DB struct {
	reader *maxminddb.Reader
}

// Open opens the GeoLite2-Country database at path.
func Open(path string) (*DB, error) {
	r, err := maxminddb.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "geoutil: open")
	}
	return &DB{reader: r}, nil
}

// Close releases the underlying mmap'd database file.
func (d *DB) Close() error {
	return d.reader.Close()
}

// Country returns the ISO country code and English name for ip, or
// ("", "", false) if the address is not found or the lookup fails --
// callers must treat that as "unknown" and still send the alert.
func (d *DB) Country(ip net.IP) (isoCode, name string, ok bool) {
	var rec countryRecord
	if err := d.reader.Lookup(ip, &rec); err != nil {
		return "", "", false
	}
	if rec.Country.ISOCode == "" {
		return "", "", false
	}
	return rec.Country.ISOCode, rec.Country.Names.English, true
}
