package server

import (
	"bytes"
	"net/http"
	"strings"

	"stablefactory/crypto"
	"stablefactory/services/factoryd/idempotency"
)

const (
	headerIdempotency      = "Idempotency-Key"
	headerIdempotencyCache = "X-Idempotency-Cache"
)

// ResponseCache persists responses keyed by Idempotency-Key.
type ResponseCache interface {
	Get(key string) (idempotency.Record, bool, error)
	Put(key string, status int, body []byte) error
}

// idempotent replays the stored response when a conversion is retried with the
// same Idempotency-Key. Only successful responses are cached so rejected
// requests can be retried.
func (s *Server) idempotent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idem := strings.TrimSpace(r.Header.Get(headerIdempotency))
		if s.idem == nil || idem == "" {
			next.ServeHTTP(w, r)
			return
		}
		caller, _ := CallerFromContext(r.Context())
		key := idempotency.Key(crypto.FromRaw(caller).String(), r.Method, r.URL.Path, idem)

		// Keyed conversions run one at a time so a concurrent retry observes
		// the first attempt's cached response.
		s.idemMu.Lock()
		defer s.idemMu.Unlock()

		record, found, err := s.idem.Get(key)
		if err != nil {
			s.logger.Warn("idempotency lookup failed", "error", err)
		} else if found {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set(headerIdempotencyCache, "hit")
			w.WriteHeader(record.StatusCode)
			_, _ = w.Write(record.Body)
			return
		}

		capture := &captureWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(capture, r)
		if capture.status >= 200 && capture.status < 300 {
			if err := s.idem.Put(key, capture.status, capture.body.Bytes()); err != nil {
				s.logger.Warn("idempotency store failed", "error", err)
			}
		}
	})
}

type captureWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (c *captureWriter) WriteHeader(code int) {
	c.status = code
	c.ResponseWriter.WriteHeader(code)
}

func (c *captureWriter) Write(p []byte) (int, error) {
	c.body.Write(p)
	return c.ResponseWriter.Write(p)
}
