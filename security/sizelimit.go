package security

import (
	"net/http"
	"strconv"

	"github.com/MrEthical07/taskauth/internal/respond"
)

func payloadTooLarge(w http.ResponseWriter, max int64) {
	respond.Error(w, http.StatusRequestEntityTooLarge, "PayloadTooLarge", "Request payload too large",
		map[string]any{"maxSize": humanSize(max)})
}

func humanSize(n int64) string {
	const mb = 1 << 20
	if n%mb == 0 {
		return strconv.FormatInt(n/mb, 10) + "MB"
	}
	return strconv.FormatInt(n, 10) + "B"
}

// SizeLimit rejects requests whose declared length exceeds max and caps the
// body of the rest.
func SizeLimit(max int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > max {
				payloadTooLarge(w, max)
				return
			}
			if r.Body != nil && r.Body != http.NoBody {
				r.Body = http.MaxBytesReader(w, r.Body, max)
			}
			next.ServeHTTP(w, r)
		})
	}
}
