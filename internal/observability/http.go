package observability

import (
	"net"
	"net/http"
	"strings"
)

func DeviceIDFromRequest(r *http.Request) string {
	return r.Header.Get("X-Device-Id")
}

func RequestIDFromRequest(r *http.Request) string {
	return r.Header.Get("X-Request-Id")
}

// DeepLinkFromRequest returns the first of params present on the query string
// as name=value, or "" when the request carries none of them.
func DeepLinkFromRequest(r *http.Request, params ...string) string {
	q := r.URL.Query()
	for _, name := range params {
		if v := q.Get(name); v != "" {
			return name + "=" + v
		}
	}
	return ""
}

func IPFromRequest(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
