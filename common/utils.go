package common

import (
	"net/http"
	"strings"
	"time"
)

// GetIPXForwardedFor returns the first X-Forwarded-For entry, or the remote address
func GetIPXForwardedFor(r *http.Request) string {
	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded != "" {
		if strings.Contains(forwarded, ",") { // return first entry of list of IPs
			return strings.Split(forwarded, ",")[0]
		}
		return forwarded
	}
	return r.RemoteAddr
}

// MillisecondsSince returns the elapsed time since t in fractional milliseconds
func MillisecondsSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}
