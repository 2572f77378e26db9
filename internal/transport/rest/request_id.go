package rest

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	appCtx "github.com/Pragya1904/HTTP-Inventory/internal/pkg/context"
)

const (
	requestIDHeader = "X-Request-Id"
	maxRequestIDLen = 128
)

// RequestID adopts the caller's X-Request-Id when it is sane, mints a uuid
// otherwise, and echoes the id on the response for correlation.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if rid == "" || len(rid) > maxRequestIDLen {
			rid = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, rid)

		next.ServeHTTP(w, r.WithContext(appCtx.WithRequestID(r.Context(), rid)))
	})
}
