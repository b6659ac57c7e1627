package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

// newTestServer serves the token endpoint plus the given admin API handler.
func newTestServer(t *testing.T, admin http.HandlerFunc) (*httptest.Server, *Client) {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/realms/master/protocol/openid-connect/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "password", r.Form.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "test-token",
			"token_type":   "Bearer",
			"expires_in":   300,
		})
	})
	mux.HandleFunc("/admin/realms/todosaas/", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		admin(w, r)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client, err := NewClient(ClientConfig{
		BaseURL:       srv.URL,
		Realm:         "todosaas",
		AdminUsername: "admin",
		AdminPassword: "admin",
	})
	require.NoError(t, err)

	return srv, client
}

func TestCreateUserReturnsLocationID(t *testing.T) {
	var created userRep
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&created))
		w.Header().Set("Location", "http://"+r.Host+"/admin/realms/todosaas/users/abc-123")
		w.WriteHeader(http.StatusCreated)
	})

	id, err := client.CreateUser(context.Background(), User{
		Username: "jane",
		Email:    "jane@example.com",
	}, []string{ActionUpdatePassword})
	require.NoError(t, err)
	require.Equal(t, "abc-123", id)
	require.True(t, created.Enabled)
	require.Equal(t, []string{ActionUpdatePassword}, created.RequiredActions)
}

func TestCreateUserConflictResolvesToExisting(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			w.WriteHeader(http.StatusConflict)
		case http.MethodGet:
			require.Equal(t, "jane", r.URL.Query().Get("username"))
			_ = json.NewEncoder(w).Encode([]userRep{{ID: "existing-1", Username: "jane", Enabled: true}})
		default:
			t.Fatalf("unexpected method %s", r.Method)
		}
	})

	id, err := client.CreateUser(context.Background(), User{Username: "jane"}, nil)
	require.NoError(t, err)
	require.Equal(t, "existing-1", id)
}

func TestGetUserByUsernameNotFound(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]userRep{})
	})

	_, err := client.GetUserByUsername(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteUserMissingIsSuccess(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	require.NoError(t, client.DeleteUser(context.Background(), "gone"))
}

func TestDeleteGroupReportsWhetherDropped(t *testing.T) {
	missing := true
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if missing {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	dropped, err := client.DeleteGroup(context.Background(), "g1")
	require.NoError(t, err)
	require.False(t, dropped)

	missing = false
	dropped, err = client.DeleteGroup(context.Background(), "g1")
	require.NoError(t, err)
	require.True(t, dropped)
}

func TestDisableUserRoundTripsRepresentation(t *testing.T) {
	var updated userRep
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			_ = json.NewEncoder(w).Encode(userRep{ID: "u1", Username: "jane", Email: "jane@example.com", Enabled: true})
		case http.MethodPut:
			require.NoError(t, json.NewDecoder(r.Body).Decode(&updated))
			w.WriteHeader(http.StatusNoContent)
		}
	})

	require.NoError(t, client.DisableUser(context.Background(), "u1"))
	require.False(t, updated.Enabled)
	require.Equal(t, "jane", updated.Username, "other fields survive the round trip")
}

func TestAssignClientRoleLooksUpRole(t *testing.T) {
	var assigned []roleRep
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet:
			_ = json.NewEncoder(w).Encode(roleRep{ID: "r1", Name: "OWNER"})
		case r.Method == http.MethodPost:
			require.NoError(t, json.NewDecoder(r.Body).Decode(&assigned))
			w.WriteHeader(http.StatusNoContent)
		}
	})

	require.NoError(t, client.AssignClientRole(context.Background(), "u1", "c1", "OWNER"))
	require.Len(t, assigned, 1)
	require.Equal(t, "r1", assigned[0].ID)
}
