package http

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/autopeer-io/adfleet/internal/hub/core/model"
	"github.com/autopeer-io/adfleet/internal/pkg/util"
)

const (
	headerDeviceID    = "X-Device-Id"
	headerDeviceToken = "X-Device-Token"
)

type deviceKey struct{}

func bearerToken(r *http.Request) string {
	authz := r.Header.Get("Authorization")
	if !strings.HasPrefix(authz, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
}

// deviceFrom returns the device resolved by deviceAuth.
func deviceFrom(ctx context.Context) *model.Device {
	d, _ := ctx.Value(deviceKey{}).(*model.Device)
	return d
}

// deviceAuth resolves the device identity from the X-Device-Id header and
// a bearer or X-Device-Token credential.
func (s *Server) deviceAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerDeviceID)
		token := bearerToken(r)
		if token == "" {
			token = r.Header.Get(headerDeviceToken)
		}

		d, err := s.svc.Authenticate(r.Context(), id, token)
		if err != nil {
			if errors.Is(err, util.ErrNotFound) || errors.Is(err, util.ErrUnauthorized) {
				s.log.Debug("Device authentication failed", "deviceID", id, "path", r.URL.Path)
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid device credentials"})
				return
			}
			s.writeError(w, r, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), deviceKey{}, d)))
	})
}

// adminAuth accepts a bearer token or, for streaming clients that cannot
// set headers, a token query parameter.
func (s *Server) adminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if token == "" || !s.admins.Has(token) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "admin token required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
