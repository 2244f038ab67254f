// internal/config/database.go
package config

import (
	"net/url"
)

// DSN renders the settings as a postgres connection URL. Sessions run in UTC
// so stored timestamps compare the same way everywhere.
func (d *DatabaseConfig) DSN() string {
	query := url.Values{}
	query.Set("sslmode", d.SSLMode)
	query.Set("TimeZone", "UTC")
	query.Set("application_name", "license-desk")

	dsn := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     d.Host + ":" + d.Port,
		Path:     "/" + d.Database,
		RawQuery: query.Encode(),
	}
	return dsn.String()
}
