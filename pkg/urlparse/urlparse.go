// Package urlparse resolves a target URL into the host, port and path a raw
// transaction needs.
package urlparse

import (
	"net"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/idna"

	"github.com/WhileEndless/go-desync/pkg/constants"
	"github.com/WhileEndless/go-desync/pkg/errors"
)

// URL is a parsed target. It is a value type and never changes once parsed.
type URL struct {
	Scheme string
	Host   string
	Port   int
	Path   string
	Query  string
	Secure bool
}

// Parse parses a target URL.
//
// Supported URL formats:
//   - http://host                - port 80, path "/"
//   - https://host/path          - port 443
//   - http://host:8080/path?q=1  - explicit port, query kept separately
//
// The scheme decides security: "https" (any case) is secure and defaults to
// port 443, any other scheme is plain and defaults to port 80.
//
// Returns a url-typed *errors.Error if:
//   - the URL is empty or cannot be parsed
//   - the scheme or host is missing
//   - the port is not numeric or outside 1-65535
func Parse(raw string) (URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return URL{}, errors.NewURLError(raw, "URL cannot be empty", nil)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return URL{}, errors.NewURLError(raw, "malformed URL", err)
	}

	if u.Scheme == "" {
		return URL{}, errors.NewURLError(raw, "missing scheme", nil)
	}
	scheme := strings.ToLower(u.Scheme)

	host := u.Hostname()
	if host == "" {
		return URL{}, errors.NewURLError(raw, "missing host", nil)
	}
	host, err = asciiHost(host)
	if err != nil {
		return URL{}, errors.NewURLError(raw, "invalid host", err)
	}

	secure := scheme == "https"

	var port int
	if portStr := u.Port(); portStr != "" {
		port, err = strconv.Atoi(portStr)
		if err != nil {
			return URL{}, errors.NewURLError(raw, "invalid port "+portStr, err)
		}
		if port < 1 || port > 65535 {
			return URL{}, errors.NewURLError(raw, "port must be between 1 and 65535, got "+portStr, nil)
		}
	} else {
		port = defaultPort(secure)
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}

	return URL{
		Scheme: scheme,
		Host:   host,
		Port:   port,
		Path:   path,
		Query:  u.RawQuery,
		Secure: secure,
	}, nil
}

// asciiHost converts an internationalized host name to the form used for
// DNS and SNI. IP literals pass through untouched.
func asciiHost(host string) (string, error) {
	if net.ParseIP(host) != nil {
		return host, nil
	}
	return idna.Lookup.ToASCII(host)
}

func defaultPort(secure bool) int {
	if secure {
		return constants.DefaultHTTPSPort
	}
	return constants.DefaultHTTPPort
}

// Address returns host:port suitable for dialing.
func (u URL) Address() string {
	return net.JoinHostPort(u.Host, strconv.Itoa(u.Port))
}

// HostHeader returns the value for a Host header: the host, plus ":port"
// only when the port differs from the scheme default.
func (u URL) HostHeader() string {
	host := u.Host
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if u.Port != defaultPort(u.Secure) {
		return host + ":" + strconv.Itoa(u.Port)
	}
	return host
}

// RequestURI returns the path plus query as it appears on a request line.
func (u URL) RequestURI() string {
	if u.Query == "" {
		return u.Path
	}
	return u.Path + "?" + u.Query
}

// String renders the URL back in canonical form.
func (u URL) String() string {
	scheme := u.Scheme
	if scheme == "" {
		scheme = "http"
	}
	return scheme + "://" + u.HostHeader() + u.RequestURI()
}
