package utils

import (
	"net/url"
	"strings"
)

// DSNScheme returns the lowercased URL scheme of a connection string,
// or "" when it is not in scheme://... form
func DSNScheme(dsn string) string {
	i := strings.Index(dsn, "://")
	if i <= 0 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(dsn[:i]))
}

// RedactDSN masks the password of a connection string so it can be logged
func RedactDSN(dsn string) string {
	if DSNScheme(dsn) != "" {
		u, err := url.Parse(dsn)
		if err != nil {
			return "[unparseable connection string]"
		}
		return u.Redacted()
	}

	// user:password@tcp(host)/db
	at := strings.LastIndex(dsn, "@")
	if at < 0 {
		return dsn
	}
	if colon := strings.Index(dsn[:at], ":"); colon >= 0 {
		return dsn[:colon+1] + "xxxxx" + dsn[at:]
	}
	return dsn
}
