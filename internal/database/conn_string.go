package database

import (
	"net"
	"net/url"
	"strconv"

	"github.com/t2o2/betfair-go/internal/config"
)

// ApplicationName tags journal sessions in pg_stat_activity.
const ApplicationName = "betfair-journal"

// BuildConnString builds the journal's PostgreSQL URL. Credentials are
// escaped, IPv6 hosts are bracketed and sslmode defaults to prefer.
func BuildConnString(cfg config.DBConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}

	q := url.Values{}
	q.Set("sslmode", sslMode)
	q.Set("application_name", ApplicationName)

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:     "/" + cfg.Name,
		RawQuery: q.Encode(),
	}
	return u.String()
}
