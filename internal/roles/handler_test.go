package roles

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-hq/lattice/internal/shared"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	svc, _ := serviceFixture(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := NewHandler(logger, svc, nil)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithActor(req.Context(), 1)))
		})
	})
	r.Route("/roles", handler.MountRoutes)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func patch(t *testing.T, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPatch, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestUpdateRejectsNegativePriority(t *testing.T) {
	srv := newTestServer(t)

	resp := patch(t, srv.URL+"/roles/2", `{"priority":-5}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = patch(t, srv.URL+"/roles/2", `{"priority":25}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestUpdateRejectsTooShortName(t *testing.T) {
	srv := newTestServer(t)

	resp := patch(t, srv.URL+"/roles/2", `{"name":"X"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
