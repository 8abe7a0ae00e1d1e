package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rupali59/docbridge/internal/dispatch"
	"github.com/Rupali59/docbridge/internal/watch"
	"github.com/Rupali59/docbridge/pkg/failure"
	"github.com/Rupali59/docbridge/pkg/reactive"
	"github.com/Rupali59/docbridge/pkg/storage"
	"github.com/Rupali59/docbridge/pkg/value"
)

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := storage.NewMemoryStore()
	d := dispatch.New(store, dispatch.Config{PoolSize: 2}, nil)
	w, err := watch.New(store, watch.Config{}, nil)
	require.NoError(t, err)
	docs := reactive.New(d, w, reactive.MapDecoder)
	t.Cleanup(func() { _, _ = docs.Close(context.Background()).Await(context.Background()) })

	r := gin.New()
	New(docs, nil).Register(r)
	return r
}

func do(t *testing.T, r *gin.Engine, method, path, body string) (int, map[string]any) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return w.Code, out
}

func TestDocumentLifecycle(t *testing.T) {
	r := newRouter(t)

	code, body := do(t, r, http.MethodPost, "/v1/collections/cars/documents", `{"brand":"Toyota","year":1999}`)
	require.Equal(t, http.StatusCreated, code)
	id := body["_id"].(string)
	require.NotEmpty(t, id)

	code, body = do(t, r, http.MethodGet, "/v1/collections/cars/documents/"+id, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]any{"_id": id, "brand": "Toyota", "year": float64(1999)}, body)

	code, _ = do(t, r, http.MethodPatch, "/v1/collections/cars/documents/"+id, `{"brand":"Toyota","year":2001}`)
	require.Equal(t, http.StatusOK, code)

	_, body = do(t, r, http.MethodGet, "/v1/collections/cars/documents/"+id, "")
	assert.Equal(t, float64(2001), body["year"])

	code, _ = do(t, r, http.MethodDelete, "/v1/collections/cars/documents/"+id, "")
	require.Equal(t, http.StatusOK, code)

	code, body = do(t, r, http.MethodGet, "/v1/collections/cars/documents/"+id, "")
	assert.Equal(t, http.StatusNotFound, code)
	errBody := body["error"].(map[string]any)
	assert.Equal(t, "not_found", errBody["kind"])
	assert.Equal(t, float64(failure.NotFound.Code()), errBody["code"])
}

func TestUpdateMissingIsNotFound(t *testing.T) {
	r := newRouter(t)
	code, _ := do(t, r, http.MethodPatch, "/v1/collections/cars/documents/nope", `{"brand":"Kia"}`)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestUpsertAndEmpty(t *testing.T) {
	r := newRouter(t)

	code, _ := do(t, r, http.MethodPut, "/v1/collections/cars/documents/c1", `{"brand":"Honda"}`)
	require.Equal(t, http.StatusOK, code)
	code, _ = do(t, r, http.MethodPut, "/v1/collections/cars/documents/c1", `{"brand":"Mazda"}`)
	require.Equal(t, http.StatusOK, code)

	_, body := do(t, r, http.MethodGet, "/v1/collections/cars/documents/c1", "")
	assert.Equal(t, "Mazda", body["brand"])

	code, body = do(t, r, http.MethodPost, "/v1/collections/cars/ids", "")
	require.Equal(t, http.StatusCreated, code)
	assert.NotEmpty(t, body["_id"])
}

func TestQuery(t *testing.T) {
	r := newRouter(t)
	for id, year := range map[string]int{"a": 1995, "b": 2003, "c": 2010} {
		code, _ := do(t, r, http.MethodPut, "/v1/collections/cars/documents/"+id, `{"year":`+jsonInt(year)+`}`)
		require.Equal(t, http.StatusOK, code)
	}

	code, body := do(t, r, http.MethodPost, "/v1/collections/cars/query",
		`{"where":[{"field":"year","op":">","value":2000}],"limit":10}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(2), body["count"])

	code, body = do(t, r, http.MethodPost, "/v1/collections/cars/query", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(3), body["count"])

	code, _ = do(t, r, http.MethodPost, "/v1/collections/cars/query", `{"where":[{"field":"year","op":"~","value":1}]}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestRejectsNonObjectDocument(t *testing.T) {
	r := newRouter(t)
	code, body := do(t, r, http.MethodPost, "/v1/collections/cars/documents", `[1,2]`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "bad_request", body["error"].(map[string]any)["kind"])
}

func TestWatchStreamsEvents(t *testing.T) {
	r := newRouter(t)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	code, _ := do(t, r, http.MethodPut, "/v1/collections/cars/documents/old", `{"year":1990}`)
	require.Equal(t, http.StatusOK, code)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/collections/cars/watch", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	next := func() (string, value.Map) {
		var event string
		for lines.Scan() {
			line := lines.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				v, err := value.ParseJSON([]byte(strings.TrimPrefix(line, "data: ")))
				require.NoError(t, err)
				return event, v.(value.Map)
			}
		}
		t.Fatalf("stream ended: %v", lines.Err())
		return "", nil
	}

	event, data := next()
	assert.Equal(t, "ADDED", event)
	assert.Equal(t, value.String("old"), data["_id"])

	code, _ = do(t, r, http.MethodPut, "/v1/collections/cars/documents/new", `{"year":2020}`)
	require.Equal(t, http.StatusOK, code)

	event, data = next()
	assert.Equal(t, "ADDED", event)
	assert.Equal(t, value.String("new"), data["_id"])
	assert.Equal(t, value.String("ADDED"), data["_eventType"])
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, StatusFor(failure.NotFound))
	assert.Equal(t, http.StatusGatewayTimeout, StatusFor(failure.DeadlineExceeded))
	assert.Equal(t, http.StatusServiceUnavailable, StatusFor(failure.Closed))
	assert.Equal(t, http.StatusBadGateway, StatusFor(failure.StoreFailure))
}

func jsonInt(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}
