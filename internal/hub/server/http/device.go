package http

import (
	"net/http"
	"strconv"

	"github.com/autopeer-io/adfleet/internal/hub/manifest"
	"github.com/autopeer-io/adfleet/internal/hub/presence"
	"github.com/autopeer-io/adfleet/internal/hub/service"
	"github.com/autopeer-io/adfleet/internal/pkg/metrics"
)

// rateLimitBody is the 429 body of the manifest endpoint.
type rateLimitBody struct {
	Error             string `json:"error"`
	Limit             int    `json:"limit"`
	Remaining         int    `json:"remaining"`
	RetryAfterSeconds int    `json:"retry_after_seconds"`
}

func (s *Server) getManifest(w http.ResponseWriter, r *http.Request) {
	code := http.StatusOK
	defer func() { metrics.ManifestResponses.WithLabelValues(strconv.Itoa(code)).Inc() }()

	if !s.fleet.ManifestEnabled {
		code = http.StatusNotFound
		http.NotFound(w, r)
		return
	}

	d := deviceFrom(r.Context())
	q := s.limiter.take(d.ID)
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(q.limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(q.remaining))
	if !q.allowed {
		code = http.StatusTooManyRequests
		retry := q.RetryAfterSeconds()
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		s.log.Debug("Manifest rate limit exceeded", "deviceID", d.ID, "retryAfter", retry)
		writeJSON(w, code, rateLimitBody{
			Error:             "rate limit exceeded",
			Limit:             q.limit,
			Remaining:         q.remaining,
			RetryAfterSeconds: retry,
		})
		return
	}

	m, err := s.svc.Manifest(r.Context(), d)
	if err != nil {
		code = statusFor(err)
		s.writeError(w, r, err)
		return
	}
	body, etag, err := manifest.Encode(m)
	if err != nil {
		code = http.StatusInternalServerError
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "private, no-cache")
	if manifest.ETagMatches(r.Header.Get("If-None-Match"), etag) {
		code = http.StatusNotModified
		w.WriteHeader(code)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}

func (s *Server) postHeartbeat(w http.ResponseWriter, r *http.Request) {
	d := deviceFrom(r.Context())

	var req service.HeartbeatRequest
	if err := decodeBody(w, r, &req, true); err != nil {
		s.writeError(w, r, err)
		return
	}

	res := s.svc.Heartbeat(r.Context(), d, &req)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"timestamp": res.Timestamp.UnixMilli(),
	})
}

type impressionsRequest struct {
	Impressions []service.ImpressionInput `json:"impressions"`
}

func (s *Server) postImpressions(w http.ResponseWriter, r *http.Request) {
	d := deviceFrom(r.Context())

	var req impressionsRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}

	n, err := s.svc.RecordImpressions(r.Context(), d, req.Impressions)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "count": n})
}

// deviceStream is the long-lived push connection of a device.
func (s *Server) deviceStream(w http.ResponseWriter, r *http.Request) {
	d := deviceFrom(r.Context())

	q := presence.NewQueueStream(s.opts.StreamQueue)
	startEventStream(w)
	sub := s.svc.Connect(r.Context(), d, q)
	s.pumpEvents(w, r, q, sub)
}
