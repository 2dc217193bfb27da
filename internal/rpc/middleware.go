package rpc

import (
	"context"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
)

type Authorizer interface {
	TrustsCert(fingerprint string) bool
}

type AuthorizerFunc func(fingerprint string) bool

func (a AuthorizerFunc) TrustsCert(fingerprint string) bool { return a(fingerprint) }

// StaticAuthorizer trusts a fixed set of fingerprints.
type StaticAuthorizer map[string]struct{}

func NewStaticAuthorizer(fingerprints ...string) StaticAuthorizer {
	s := StaticAuthorizer{}
	for _, f := range fingerprints {
		if f != "" {
			s[f] = struct{}{}
		}
	}
	return s
}

func (s StaticAuthorizer) TrustsCert(fingerprint string) bool {
	_, ok := s[fingerprint]
	return ok
}

type fingerprintKey struct{}

// Fingerprint returns the client certificate fingerprint of a request that passed WithAuth.
func Fingerprint(ctx context.Context) string {
	f, _ := ctx.Value(fingerprintKey{}).(string)
	return f
}

func WithAuth(auth Authorizer, next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if r.TLS == nil || len(r.TLS.PeerCertificates) == 0 {
			w.WriteHeader(401)
			return
		}

		fingerprint := GetCertFingerprint(r.TLS.PeerCertificates[0].Raw)
		if auth == nil || !auth.TrustsCert(fingerprint) {
			w.WriteHeader(403)
			return
		}

		next(w, r.WithContext(context.WithValue(r.Context(), fingerprintKey{}, fingerprint)), ps)
	}
}

func WithLogging(logger *zap.SugaredLogger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wp := &responseProxy{ResponseWriter: w, Status: http.StatusOK}
		next.ServeHTTP(wp, r)
		logger.Infow("handled request", "method", r.Method, "url", r.URL.String(), "status", wp.Status, "remote", r.RemoteAddr, "latency", time.Since(start))
	})
}

// responseProxy retains the response status for logging.
type responseProxy struct {
	http.ResponseWriter
	Status int
}

func (r *responseProxy) WriteHeader(status int) {
	r.Status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseProxy) Unwrap() http.ResponseWriter { return r.ResponseWriter }
