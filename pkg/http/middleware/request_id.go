package middleware

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"

	"github.com/yurykabanov/srvbackup/pkg/appcontext"
)

const (
	HeaderRequestId = "X-Request-Id"

	maxRequestIdLength = 64
)

// WithRequestId reuses the caller's request id when it looks sane and
// generates a new one otherwise.
func WithRequestId(next http.Handler, nextRequestId func() string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestId := r.Header.Get(HeaderRequestId)

		if requestId == "" || len(requestId) > maxRequestIdLength {
			requestId = nextRequestId()
		}

		w.Header().Set(HeaderRequestId, requestId)
		next.ServeHTTP(w, r.WithContext(appcontext.WithRequestId(r.Context(), requestId)))
	})
}

func DefaultRequestIdProvider() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}

	return hex.EncodeToString(buf)
}
