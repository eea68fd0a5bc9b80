package geoip

import (
	"net"

	"github.com/oschwald/geoip2-golang"
	"github.com/rs/zerolog"
)

// Resolver answers best-effort country/city lookups from a local MaxMind
// database. A missing or unreadable database file leaves the resolver
// unavailable instead of failing the caller.
type Resolver struct {
	reader *geoip2.Reader
	log    *zerolog.Logger
}

func Open(path string, log *zerolog.Logger) *Resolver {
	r := &Resolver{log: log}
	if path == "" {
		log.Info().Msg("geoip database not configured, enrichment disabled")
		return r
	}

	reader, err := geoip2.Open(path)
	if err != nil {
		log.Warn().Msgf("failed to open geoip database %s, enrichment disabled: %v", path, err)
		return r
	}
	r.reader = reader
	log.Info().Msgf("geoip database loaded from %s", path)
	return r
}

func (r *Resolver) Available() bool {
	return r.reader != nil
}

// Lookup returns the country and city for an IP, or empty strings when
// the resolver is unavailable or the lookup fails.
func (r *Resolver) Lookup(ip string) (country, city string) {
	if r.reader == nil {
		return "", ""
	}

	parsed := net.ParseIP(ip)
	if parsed == nil {
		return "", ""
	}

	record, err := r.reader.City(parsed)
	if err != nil {
		r.log.Warn().Msgf("geoip lookup failed for %s: %v", ip, err)
		return "", ""
	}

	if name, ok := record.Country.Names["en"]; ok {
		country = name
	}
	if name, ok := record.City.Names["en"]; ok {
		city = name
	}
	return country, city
}

func (r *Resolver) Close() {
	if r.reader != nil {
		_ = r.reader.Close()
	}
}
