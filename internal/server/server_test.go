package server

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
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/mokshitha-y/todosaas/internal/identity"
	"github.com/mokshitha-y/todosaas/internal/models"
	"github.com/mokshitha-y/todosaas/internal/saga"
	"github.com/mokshitha-y/todosaas/internal/store"
)

func newTestServer(t *testing.T) (*gin.Engine, *store.Memory) {
	t.Helper()

	mem := store.NewMemory()
	stores := saga.Stores{
		Tenants:       mem.Tenants(),
		Organizations: mem.Organizations(),
		Users:         mem.Users(),
		Memberships:   mem.Memberships(),
		Invitations:   mem.Invitations(),
		EmailSettings: mem.EmailSettings(),
		Metrics:       mem.Metrics(),
		Audit:         mem.Audit(),
		Partitions:    mem.Partitions(),
	}
	runner := saga.NewRunner(stores, identity.NewFake(),
		saga.WithClock(func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }),
		saga.WithMaxAttempts(1),
	)
	return New(runner, stores).Router(zerolog.Nop()), mem
}

// bearerFor builds an unverified token carrying the username claim, the way
// the upstream auth layer would.
func bearerFor(t *testing.T, username string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"preferred_username": username,
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return "Bearer " + token
}

func doJSON(t *testing.T, router *gin.Engine, method, path, bearer string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", bearer)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var decoded map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded))
	}
	return w, decoded
}

func TestRegisterEndpoint(t *testing.T) {
	router, mem := newTestServer(t)

	w, resp := doJSON(t, router, http.MethodPost, "/api/tenants", "", map[string]any{
		"tenant_name": "Acme Corp",
		"owner_email": "jane@acme.com",
		"on_trial":    true,
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "succeeded", resp["status"])

	details := resp["details"].(map[string]any)
	require.Equal(t, "acme_corp", details["schema_name"])

	_, err := mem.Tenants().GetBySchema(context.Background(), "acme_corp")
	require.NoError(t, err)
}

func TestRegisterEndpointRejectsBadBody(t *testing.T) {
	router, _ := newTestServer(t)

	w, _ := doJSON(t, router, http.MethodPost, "/api/tenants", "", map[string]any{
		"tenant_name": "No Owner",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInviteEndpointOwnerGate(t *testing.T) {
	router, mem := newTestServer(t)

	w, resp := doJSON(t, router, http.MethodPost, "/api/tenants", "", map[string]any{
		"tenant_name": "Team",
		"owner_email": "boss@team.io",
	})
	require.Equal(t, http.StatusOK, w.Code)
	tenantID := resp["details"].(map[string]any)["tenant_id"].(string)
	ownerToken := bearerFor(t, resp["details"].(map[string]any)["owner_username"].(string))

	// no bearer token, no ownership
	w, _ = doJSON(t, router, http.MethodPost, "/api/tenants/"+tenantID+"/invitations", "", map[string]any{
		"email": "new@team.io",
		"role":  "MEMBER",
	})
	require.Equal(t, http.StatusForbidden, w.Code)

	w, resp = doJSON(t, router, http.MethodPost, "/api/tenants/"+tenantID+"/invitations", ownerToken, map[string]any{
		"email": "new@team.io",
		"role":  "MEMBER",
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "succeeded", resp["status"])

	// inviting the same, now-member email conflicts
	w, _ = doJSON(t, router, http.MethodPost, "/api/tenants/"+tenantID+"/invitations", ownerToken, map[string]any{
		"email": "new@team.io",
		"role":  "MEMBER",
	})
	require.Equal(t, http.StatusConflict, w.Code)

	_, err := mem.Users().GetByEmail(context.Background(), "new@team.io")
	require.NoError(t, err)
}

func TestDeleteEndpointNeedsConfirmation(t *testing.T) {
	router, _ := newTestServer(t)

	_, resp := doJSON(t, router, http.MethodPost, "/api/tenants", "", map[string]any{
		"tenant_name": "Doomed",
		"owner_email": "boss@doomed.io",
	})
	details := resp["details"].(map[string]any)
	tenantID := details["tenant_id"].(string)
	ownerToken := bearerFor(t, details["owner_username"].(string))

	w, _ := doJSON(t, router, http.MethodDelete, "/api/tenants/"+tenantID, ownerToken, map[string]any{})
	require.Equal(t, http.StatusBadRequest, w.Code)

	// the warning enumerates members, so only an owner may read it
	w, _ = doJSON(t, router, http.MethodGet, "/api/tenants/"+tenantID+"/deletion-warning", "", nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	w, warning := doJSON(t, router, http.MethodGet, "/api/tenants/"+tenantID+"/deletion-warning", ownerToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, float64(1), warning["member_count"])

	w, resp = doJSON(t, router, http.MethodDelete, "/api/tenants/"+tenantID, ownerToken, map[string]any{
		"confirm_deletion": true,
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "succeeded", resp["status"])

	w, _ = doJSON(t, router, http.MethodGet, "/api/tenants/"+tenantID+"/deletion-warning", ownerToken, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsEndpoints(t *testing.T) {
	router, _ := newTestServer(t)

	_, resp := doJSON(t, router, http.MethodPost, "/api/tenants", "", map[string]any{
		"tenant_name": "Numbers",
		"owner_email": "boss@numbers.io",
		"on_trial":    true,
	})
	tenantID := resp["details"].(map[string]any)["tenant_id"].(string)

	w, _ := doJSON(t, router, http.MethodGet, "/api/tenants/"+tenantID+"/metrics", "", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	w, resp = doJSON(t, router, http.MethodPost, "/api/operations/aggregate-metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "succeeded", resp["status"])

	w, _ = doJSON(t, router, http.MethodGet, "/api/tenants/"+tenantID+"/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestInvitationListOwnerGated(t *testing.T) {
	router, _ := newTestServer(t)

	_, resp := doJSON(t, router, http.MethodPost, "/api/tenants", "", map[string]any{
		"tenant_name": "Gated",
		"owner_email": "boss@gated.io",
	})
	details := resp["details"].(map[string]any)
	tenantID := details["tenant_id"].(string)
	ownerToken := bearerFor(t, details["owner_username"].(string))

	w, _ := doJSON(t, router, http.MethodGet, "/api/tenants/"+tenantID+"/invitations", "", nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	w, resp = doJSON(t, router, http.MethodPost, "/api/tenants/"+tenantID+"/invitations", ownerToken, map[string]any{
		"email": "pal@gated.io",
		"role":  "MEMBER",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w, got := doJSON(t, router, http.MethodGet, "/api/tenants/"+tenantID+"/invitations", ownerToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, got["invitations"], 1)
}

func TestCancelExpiredInvitationConflicts(t *testing.T) {
	router, mem := newTestServer(t)
	ctx := context.Background()

	_, resp := doJSON(t, router, http.MethodPost, "/api/tenants", "", map[string]any{
		"tenant_name": "Stale Co",
		"owner_email": "boss@stale.io",
	})
	details := resp["details"].(map[string]any)
	ownerToken := bearerFor(t, details["owner_username"].(string))
	tenantID, err := uuid.Parse(details["tenant_id"].(string))
	require.NoError(t, err)

	owner, err := mem.Users().GetByEmail(ctx, "boss@stale.io")
	require.NoError(t, err)

	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	stale := &models.Invitation{
		Token:       uuid.New(),
		Email:       "late@stale.io",
		TenantID:    tenantID,
		Role:        models.RoleMember,
		Status:      models.InvitationPending,
		ExpiresAt:   clock.Add(-time.Hour),
		CreatedByID: owner.ID,
		CreatedAt:   clock.Add(-48 * time.Hour),
	}
	require.NoError(t, mem.Invitations().Create(ctx, stale))

	w, _ := doJSON(t, router, http.MethodPost, "/api/invitations/"+stale.Token.String()+"/cancel", ownerToken, map[string]any{})
	require.Equal(t, http.StatusConflict, w.Code)

	// the lazy expiry flip stuck, but cancellation did not
	got, err := mem.Invitations().Get(ctx, stale.Token)
	require.NoError(t, err)
	require.Equal(t, models.InvitationExpired, got.Status)
}

func TestEmailSettingsOwnerGated(t *testing.T) {
	router, _ := newTestServer(t)

	_, resp := doJSON(t, router, http.MethodPost, "/api/tenants", "", map[string]any{
		"tenant_name": "Mailers",
		"owner_email": "boss@mailers.io",
	})
	details := resp["details"].(map[string]any)
	tenantID := details["tenant_id"].(string)
	ownerToken := bearerFor(t, details["owner_username"].(string))

	body := map[string]any{
		"host":         "smtp.mailers.io",
		"port":         587,
		"from_address": "no-reply@mailers.io",
	}

	w, _ := doJSON(t, router, http.MethodPut, "/api/tenants/"+tenantID+"/email-settings", "", body)
	require.Equal(t, http.StatusForbidden, w.Code)

	w, _ = doJSON(t, router, http.MethodPut, "/api/tenants/"+tenantID+"/email-settings", ownerToken, body)
	require.Equal(t, http.StatusOK, w.Code)

	w, got := doJSON(t, router, http.MethodGet, "/api/tenants/"+tenantID+"/email-settings", ownerToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "smtp.mailers.io", got["Host"])
}

func TestInvalidIDsRejected(t *testing.T) {
	router, _ := newTestServer(t)

	w, _ := doJSON(t, router, http.MethodGet, "/api/tenants/not-a-uuid/metrics", "", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = doJSON(t, router, http.MethodGet, "/api/invitations/not-a-uuid", "", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}
