package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/medibridge/teleconsult/internal/adapters/signal"
	"github.com/medibridge/teleconsult/internal/config"
	"github.com/medibridge/teleconsult/internal/domain"
	"github.com/medibridge/teleconsult/internal/metrics"
	"github.com/medibridge/teleconsult/internal/relay"
	"github.com/medibridge/teleconsult/internal/token"
)

const platformSecret = "platform-secret"

type fakeDirectory struct {
	appts map[domain.AppointmentID]domain.Appointment
}

func (d *fakeDirectory) Appointment(_ context.Context, id domain.AppointmentID) (domain.Appointment, error) {
	a, ok := d.appts[id]
	if !ok {
		return domain.Appointment{}, domain.ErrEmptyAppointment
	}
	return a, nil
}

func newTestRouter(t *testing.T) (*gin.Engine, *token.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := &fakeDirectory{appts: map[domain.AppointmentID]domain.Appointment{
		"A1": {ID: "A1", DoctorID: "doc-1", PatientID: "pat-1"},
	}}
	revoked := token.NewMemoryRevocationList()
	tokens := token.NewService("room-secret", "teleconsult", time.Hour, dir, revoked)

	reg := prometheus.NewRegistry()
	m := metrics.New("test", reg)
	ctl := signal.NewController(relay.NewRegistry(m), tokens, signal.NewJoinRateLimiter(10, time.Minute))

	cfg := &config.Config{Mode: "test", Secret: platformSecret}
	r := SetupRouter(context.Background(), cfg, Deps{
		Tokens:   tokens,
		Revoked:  revoked,
		Signal:   ctl,
		Metrics:  m,
		Registry: reg,
		ICE:      []string{"stun:stun.example.org:3478"},
	})
	return r, tokens
}

func bearer(t *testing.T, uid, role string) string {
	t.Helper()
	claims := platformClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uid,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: role,
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(platformSecret))
	if err != nil {
		t.Fatalf("sign platform token: %v", err)
	}
	return "Bearer " + raw
}

func do(t *testing.T, r *gin.Engine, method, path, auth string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIssueRequiresIdentity(t *testing.T) {
	r, _ := newTestRouter(t)
	w := do(t, r, http.MethodPost, "/api/room-token", "", gin.H{"appointmentId": "A1"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestIssueForParticipant(t *testing.T) {
	r, tokens := newTestRouter(t)
	w := do(t, r, http.MethodPost, "/api/room-token", bearer(t, "doc-1", "DOCTOR"), gin.H{"appointmentId": "A1"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp issueResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	res, err := tokens.VerifyToken(context.Background(), resp.RoomToken, "doc-1", domain.RoleDoctor)
	if err != nil || res.RoomID != "consultation-A1" {
		t.Fatalf("issued token did not verify: %v %+v", err, res)
	}
}

func TestIssueDeniedForStranger(t *testing.T) {
	r, _ := newTestRouter(t)
	w := do(t, r, http.MethodPost, "/api/room-token", bearer(t, "intruder", "PATIENT"), gin.H{"appointmentId": "A1"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
}

func TestIssueRejectsMissingBody(t *testing.T) {
	r, _ := newTestRouter(t)
	w := do(t, r, http.MethodPost, "/api/room-token", bearer(t, "doc-1", "DOCTOR"), gin.H{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestVerifyStructuralVersusSemantic(t *testing.T) {
	r, _ := newTestRouter(t)
	auth := bearer(t, "doc-1", "DOCTOR")

	// Missing field is a structural error.
	w := do(t, r, http.MethodPost, "/api/verify-room-token", auth, gin.H{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("structural: status = %d, want 400", w.Code)
	}

	// A garbage token is semantically invalid, not a bad request.
	w = do(t, r, http.MethodPost, "/api/verify-room-token", auth, gin.H{"roomToken": "garbage"})
	if w.Code != http.StatusOK {
		t.Fatalf("semantic: status = %d, want 200", w.Code)
	}
	var res token.Verification
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Valid {
		t.Fatalf("garbage token reported valid")
	}
}

func TestVerifyRoundTrip(t *testing.T) {
	r, _ := newTestRouter(t)
	auth := bearer(t, "pat-1", "PATIENT")

	w := do(t, r, http.MethodPost, "/api/room-token", auth, gin.H{"appointmentId": "A1"})
	var issued issueResponse
	if err := json.Unmarshal(w.Body.Bytes(), &issued); err != nil {
		t.Fatalf("decode issue: %v", err)
	}

	w = do(t, r, http.MethodPost, "/api/verify-room-token", auth, gin.H{"roomToken": issued.RoomToken})
	var res token.Verification
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode verify: %v", err)
	}
	if !res.Valid || res.RoomID != "consultation-A1" || res.UserID != "pat-1" {
		t.Fatalf("verification = %+v", res)
	}
}

func TestICEServers(t *testing.T) {
	r, _ := newTestRouter(t)
	w := do(t, r, http.MethodGet, "/api/ice-servers", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		ICEServers []string `json:"iceServers"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.ICEServers) != 1 || resp.ICEServers[0] != "stun:stun.example.org:3478" {
		t.Fatalf("ice servers = %v", resp.ICEServers)
	}
}

func TestRevokeRequiresAdmin(t *testing.T) {
	r, _ := newTestRouter(t)
	w := do(t, r, http.MethodPost, "/api/rooms/consultation-A1/revoke", bearer(t, "pat-1", "PATIENT"), nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
}

func TestRevokeInvalidatesOutstandingTokens(t *testing.T) {
	r, _ := newTestRouter(t)
	auth := bearer(t, "doc-1", "DOCTOR")

	w := do(t, r, http.MethodPost, "/api/room-token", auth, gin.H{"appointmentId": "A1"})
	var issued issueResponse
	if err := json.Unmarshal(w.Body.Bytes(), &issued); err != nil {
		t.Fatalf("decode issue: %v", err)
	}

	w = do(t, r, http.MethodPost, "/api/rooms/consultation-A1/revoke", bearer(t, "admin-1", "ADMIN"), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("revoke status = %d", w.Code)
	}

	w = do(t, r, http.MethodPost, "/api/verify-room-token", auth, gin.H{"roomToken": issued.RoomToken})
	var res token.Verification
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode verify: %v", err)
	}
	if res.Valid {
		t.Fatalf("revoked token reported valid")
	}
}
