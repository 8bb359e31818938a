// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/reelverse/edgeauth/internal/authz"
	"github.com/reelverse/edgeauth/internal/health"
	"github.com/reelverse/edgeauth/internal/keytoken"
	xglog "github.com/reelverse/edgeauth/internal/log"
	"github.com/reelverse/edgeauth/internal/manifest"
)

// maxBodySize bounds decision request bodies. Authorization requests are
// small control-plane messages.
const maxBodySize = 64 << 10

// manifestResponse pairs the decision with the sanitized manifest. The
// manifest is present only on allow.
type manifestResponse struct {
	Decision authz.Decision     `json:"decision"`
	Manifest *manifest.Response `json:"manifest,omitempty"`
}

// keyTokenResponse pairs the decision with the minted token. The token is
// present only on allow.
type keyTokenResponse struct {
	Decision authz.Decision  `json:"decision"`
	KeyToken *keytoken.Token `json:"keyToken,omitempty"`
}

type invalidateRequest struct {
	ContentID string `json:"contentId"`
	UserID    string `json:"userId"`
}

// decodeBody decodes a bounded JSON body into v. A false return means the
// 400 response has already been written.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodySize)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeBadRequest(w, "malformed request body")
		return false
	}
	if dec.More() {
		writeBadRequest(w, "trailing data after request body")
		return false
	}
	_, _ = io.Copy(io.Discard, body)
	return true
}

// fillClientIP defaults the client IP to the connection's remote address
// when the gateway did not forward one explicitly.
func fillClientIP(rc *authz.ReqContext, r *http.Request) {
	if rc.ClientIP == "" {
		rc.ClientIP = clientIP(r)
	}
}

func (s *Server) handleAuthorizeSegment(w http.ResponseWriter, r *http.Request) {
	var req authz.SegmentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	fillClientIP(&req.ReqContext, r)

	d := s.svc.AuthorizeSegment(r.Context(), req)
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleAuthorizeManifest(w http.ResponseWriter, r *http.Request) {
	var req authz.ManifestRequest
	if !decodeBody(w, r, &req) {
		return
	}
	fillClientIP(&req.ReqContext, r)

	resp, d := s.svc.AuthorizeManifest(r.Context(), req)
	writeJSON(w, http.StatusOK, manifestResponse{Decision: d, Manifest: resp})
}

func (s *Server) handleIssueKeyToken(w http.ResponseWriter, r *http.Request) {
	var req authz.KeyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	fillClientIP(&req.ReqContext, r)

	tok, d := s.svc.IssueKeyToken(r.Context(), req)
	writeJSON(w, http.StatusOK, keyTokenResponse{Decision: d, KeyToken: tok})
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if !decodeBody(w, r, &req) {
		return
	}

	s.svc.InvalidateCache(req.ContentID, req.UserID)

	logger := xglog.WithComponentFromContext(r.Context(), "api")
	logger.Info().
		Str(xglog.FieldEvent, "cache.invalidate.requested").
		Str(xglog.FieldContentID, req.ContentID).
		Str(xglog.FieldUserID, req.UserID).
		Msg("cache invalidation requested")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleHealth is the liveness probe: the process is up.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady runs the component checkers. Degraded still serves traffic;
// only unhealthy flips the status code.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	resp := s.healthManager.Health(r.Context())
	code := http.StatusOK
	if resp.Status == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}
