package stage

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ThomasKlein90/boardgames-sommelier/internal/blob"
	"github.com/ThomasKlein90/boardgames-sommelier/internal/config"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func testRegistry(got *Request) Registry {
	return Registry{
		Clean: func(_ context.Context, req Request) (any, error) {
			*got = req
			return map[string]int{"kept": 1}, nil
		},
		Load: func(context.Context, Request) (any, error) {
			return nil, eris.Wrap(config.ErrConfiguration, "config: warehouse.database_url is required")
		},
		Quality: func(context.Context, Request) (any, error) {
			return nil, BadRequest(errors.New("no rules for table x"))
		},
	}
}

func newTestServer(t *testing.T, reg Registry, store blob.Store) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewRouter(&Server{
		Stages:  reg,
		Blobs:   store,
		Buckets: map[string]string{"bronze": "bronze-bkt", "silver": "silver-bkt"},
	}))
	t.Cleanup(srv.Close)
	return srv
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close() //nolint:errcheck
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestRequest_Day(t *testing.T) {
	now := time.Date(2026, 10, 16, 15, 4, 5, 0, time.UTC)

	day, err := Request{}.Day(now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC), day)

	day, err = Request{Date: "2026-10-01"}.Day(now)
	require.NoError(t, err)
	assert.Equal(t, 1, day.Day())

	_, err = Request{Date: "01/10/2026"}.Day(now)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, StatusFor(err))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusOK, StatusFor(nil))
	assert.Equal(t, http.StatusBadRequest, StatusFor(BadRequest(errors.New("x"))))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(eris.Wrap(config.ErrConfiguration, "missing")))
	assert.Equal(t, http.StatusServiceUnavailable, StatusFor(eris.Wrap(context.Canceled, "stopped")))
	assert.Equal(t, http.StatusNotFound, StatusFor(eris.Wrap(ErrUnknownStage, "stage: x")))
}

func TestInvoke_UnknownStage(t *testing.T) {
	status, body := Registry{}.Invoke(context.Background(), "nope", Request{})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Contains(t, body.(ErrorBody).Error, "unknown stage")
}

func TestRouter_RunsStage(t *testing.T) {
	var got Request
	srv := newTestServer(t, testRegistry(&got), blob.NewMemory())

	resp, err := http.Post(srv.URL+"/stages/clean", "application/json", strings.NewReader(`{"date":"2026-10-01","keys":["raw/a.json"]}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode(t, resp)
	assert.Equal(t, float64(1), body["kept"])
	assert.Equal(t, "2026-10-01", got.Date)
	assert.Equal(t, []string{"raw/a.json"}, got.Keys)
}

func TestRouter_EmptyBodyAllowed(t *testing.T) {
	var got Request
	srv := newTestServer(t, testRegistry(&got), blob.NewMemory())

	resp, err := http.Post(srv.URL+"/stages/clean", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRouter_StageErrors(t *testing.T) {
	var got Request
	srv := newTestServer(t, testRegistry(&got), blob.NewMemory())

	tests := []struct {
		path   string
		body   string
		status int
	}{
		{"/stages/load", `{}`, http.StatusInternalServerError},
		{"/stages/quality", `{"table_name":"x"}`, http.StatusBadRequest},
		{"/stages/unknown", `{}`, http.StatusNotFound},
		{"/stages/clean", `{not json`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Post(srv.URL+tt.path, "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.NotEmpty(t, decode(t, resp)["error"])
		})
	}
}

func TestRouter_AsyncStage(t *testing.T) {
	done := make(chan Request, 1)
	reg := Registry{Transform: func(_ context.Context, req Request) (any, error) {
		done <- req
		return nil, nil
	}}
	srv := newTestServer(t, reg, blob.NewMemory())

	resp, err := http.Post(srv.URL+"/stages/transform?async=true", "application/json", strings.NewReader(`{"date":"2026-10-01"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "accepted", decode(t, resp)["status"])

	select {
	case req := <-done:
		assert.Equal(t, "2026-10-01", req.Date)
	case <-time.After(2 * time.Second):
		t.Fatal("async stage did not run")
	}
}

func TestRouter_Health(t *testing.T) {
	var got Request
	srv := newTestServer(t, testRegistry(&got), blob.NewMemory())

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	body := decode(t, resp)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, []any{"clean", "load", "quality"}, body["stages"])
}

func TestRouter_Exists(t *testing.T) {
	store := blob.NewMemory()
	require.NoError(t, store.Put(context.Background(), "silver-bkt", "dim_game/year=1995/data.parquet", []byte("x"), blob.ContentTypeParquet))
	srv := newTestServer(t, Registry{}, store)

	resp, err := http.Get(srv.URL + "/outputs/silver/exists?key=dim_game/year=1995/data.parquet")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decode(t, resp)["exists"])

	resp, err = http.Get(srv.URL + "/outputs/silver/exists?key=dim_game/year=1996/data.parquet")
	require.NoError(t, err)
	assert.Equal(t, false, decode(t, resp)["exists"])

	resp, err = http.Get(srv.URL + "/outputs/gold/exists?key=x")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()

	resp, err = http.Get(srv.URL + "/outputs/silver/exists")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestRouter_LatestDiscovery(t *testing.T) {
	store := blob.NewMemory()
	srv := newTestServer(t, Registry{}, store)

	resp, err := http.Get(srv.URL + "/outputs/discovery/latest")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()

	ctx := context.Background()
	older := blob.DescriptorKey(time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC))
	newer := blob.DescriptorKey(time.Date(2026, 10, 2, 8, 0, 0, 0, time.UTC))
	require.NoError(t, store.Put(ctx, "bronze-bkt", older, []byte(`{"timestamp":"20261001_080000","game_ids":[1],"total_count":1}`), blob.ContentTypeJSON))
	require.NoError(t, store.Put(ctx, "bronze-bkt", newer, []byte(`{"timestamp":"20261002_080000","game_ids":[2,3],"total_count":2}`), blob.ContentTypeJSON))

	resp, err = http.Get(srv.URL + "/outputs/discovery/latest")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode(t, resp)
	assert.Equal(t, newer, body["key"])
	desc := body["descriptor"].(map[string]any)
	assert.Equal(t, float64(2), desc["total_count"])
}

func TestRouter_Metrics(t *testing.T) {
	srv := newTestServer(t, Registry{}, blob.NewMemory())

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRouter_CORS(t *testing.T) {
	srv := httptest.NewServer(NewRouter(&Server{
		Stages:         Registry{},
		Blobs:          blob.NewMemory(),
		AllowedOrigins: []string{"https://dash.example.com"},
	}))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://dash.example.com")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, "https://dash.example.com", resp.Header.Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "https://evil.example.com")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close() //nolint:errcheck
	assert.Empty(t, resp2.Header.Get("Access-Control-Allow-Origin"))
}
