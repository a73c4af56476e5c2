package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/armada-fleet/armada/internal/clock"
)

func policyRouter(t *testing.T) (chi.Router, *KeyRing, *clock.Manual) {
	t.Helper()
	clk := testClock()
	ring := NewKeyRing(clk)
	_, err := ring.Generate(context.Background())
	require.NoError(t, err)

	handler := NewHandler(HandlerConfig{
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Builder:  NewBuilder(2 * time.Minute),
		Signer:   NewSigner(ring),
		Verifier: NewVerifier(ring, clk, 2*time.Minute),
		KeyRing:  ring,
		Clock:    clk,
		TTL:      24 * time.Hour,
	})

	r := chi.NewRouter()
	handler.MountRoutes(r, nil)
	return r, ring, clk
}

func postJSON(t *testing.T, router chi.Router, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func issueBody() map[string]any {
	return map[string]any{
		"device_id":        "dev-1",
		"team_id":          "team-a",
		"org_id":           "org-1",
		"protocol_version": 2,
		"session_window":   map[string]int{"max_minutes": 480, "idle_minutes": 15},
		"pin_policy":       map[string]int{"min_length": 6, "max_attempts": 5},
		"telemetry_seconds": 60,
	}
}

func TestHandleIssueAndVerify(t *testing.T) {
	router, _, _ := policyRouter(t)

	rec := postJSON(t, router, "/policies/issue", issueBody())
	require.Equal(t, http.StatusOK, rec.Code)

	var issued issueResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &issued))
	require.NotEmpty(t, issued.Envelope)
	require.Equal(t, "dev-1", issued.Document.DeviceID)
	require.Equal(t, issued.Document.IssuedAt+int64(24*60*60), issued.Document.ExpiresAt)

	rec = postJSON(t, router, "/policies/verify", map[string]string{"envelope": issued.Envelope})
	require.Equal(t, http.StatusOK, rec.Code)

	var result VerifyResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.True(t, result.Valid)
	require.NotNil(t, result.Document)
	require.Equal(t, issued.Document, *result.Document)
}

func TestHandleIssueIncompleteInput(t *testing.T) {
	router, _, _ := policyRouter(t)

	body := issueBody()
	delete(body, "device_id")
	rec := postJSON(t, router, "/policies/issue", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleVerifyRequiresEnvelope(t *testing.T) {
	router, _, _ := policyRouter(t)
	rec := postJSON(t, router, "/policies/verify", map[string]string{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleVerifyExpiredEnvelope(t *testing.T) {
	router, _, clk := policyRouter(t)

	rec := postJSON(t, router, "/policies/issue", issueBody())
	require.Equal(t, http.StatusOK, rec.Code)
	var issued issueResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &issued))

	clk.Advance(25 * time.Hour)
	rec = postJSON(t, router, "/policies/verify", map[string]string{"envelope": issued.Envelope})
	require.Equal(t, http.StatusOK, rec.Code)

	var result VerifyResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.False(t, result.Valid)
	require.Equal(t, KindExpired, result.Kind)
}

func TestHandleKeyRotationEndpoints(t *testing.T) {
	router, ring, _ := policyRouter(t)

	before, err := ring.SigningKey()
	require.NoError(t, err)

	rec := postJSON(t, router, "/policies/keys/rotate", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var rotated keyView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rotated))
	require.NotEqual(t, before.ID, rotated.ID)

	req := httptest.NewRequest(http.MethodGet, "/policies/keys", nil)
	listRec := httptest.NewRecorder()
	router.ServeHTTP(listRec, req)
	require.Equal(t, http.StatusOK, listRec.Code)
	var views []keyView
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &views))
	require.Len(t, views, 2)

	rec = postJSON(t, router, "/policies/keys/"+before.ID+"/revoke", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, ring.VerificationKeys(), 1)

	rec = postJSON(t, router, "/policies/keys/unknown/revoke", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
