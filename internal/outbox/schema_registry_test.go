package outbox

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnsureSchemaRegistersUnknownSchema(t *testing.T) {
	var paths []string
	var registered map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		paths = append(paths, r.URL.Path)
		switch r.URL.Path {
		case "/subjects/health_summary_events-value":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error_code":40403,"message":"Schema not found"}`))
		case "/subjects/health_summary_events-value/versions":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&registered))
			_, _ = w.Write([]byte(`{"id":12}`))
		}
	}))
	defer srv.Close()

	client := NewSchemaRegistryClient(srv.URL + "/")
	id, err := client.EnsureSchema(context.Background(), "health_summary_events-value", dailySummaryUpdatedSchema)
	require.NoError(t, err)
	require.Equal(t, 12, id)
	require.Equal(t, "JSON", registered["schemaType"])
	require.Equal(t, []string{"/subjects/health_summary_events-value", "/subjects/health_summary_events-value/versions"}, paths)
}

func TestEnsureSchemaReturnsKnownID(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "key", user)
		require.Equal(t, "secret", pass)
		_, _ = w.Write([]byte(`{"subject":"s","version":1,"id":3,"schema":"{}"}`))
	}))
	defer srv.Close()

	id, err := NewSchemaRegistryClient(srv.URL, WithRegistryAuth("key", "secret")).EnsureSchema(context.Background(), "s", "{}")
	require.NoError(t, err)
	require.Equal(t, 3, id)
	require.Equal(t, 1, calls)
}

func TestEnsureSchemaSurfacesServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error_code":50001,"message":"store unavailable"}`))
	}))
	defer srv.Close()

	_, err := NewSchemaRegistryClient(srv.URL).EnsureSchema(context.Background(), "s", "{}")
	var regErr *RegistryError
	require.ErrorAs(t, err, &regErr)
	require.Equal(t, 50001, regErr.Code)
	require.Contains(t, err.Error(), "store unavailable")
}

func TestEnsureSchemaDoesNotRegisterOnIncompatibleSchema(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error_code":42201,"message":"Invalid schema"}`))
	}))
	defer srv.Close()

	_, err := NewSchemaRegistryClient(srv.URL).EnsureSchema(context.Background(), "s", "not json")
	require.Error(t, err)
	require.Equal(t, 1, calls)
}
