package ingest_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/andrewwormald/durable"
	"github.com/andrewwormald/durable/adapters/memarchive"
	"github.com/andrewwormald/durable/adapters/memstore"
	"github.com/andrewwormald/durable/reportgen"
	"github.com/andrewwormald/durable/reportgen/importer"
	"github.com/andrewwormald/durable/reportgen/ingest"
	"github.com/andrewwormald/durable/reportgen/render"
)

func setupAPI(t *testing.T) (*httptest.Server, *memarchive.Store, string) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	dataDir := t.TempDir()
	archive := memarchive.New()
	renderer := render.NewPDF()
	acts := reportgen.NewActivities(importer.NewFile(dataDir), renderer, archive)

	b := durable.NewBuilder("reportgen")
	reportgen.Register(b, acts, reportgen.Config{Mode: reportgen.ModeSplit})

	store := memstore.New()
	engine := b.Build(store, store)
	engine.Run(ctx)
	t.Cleanup(engine.Stop)

	mux := http.NewServeMux()
	ingest.NewServer(engine, renderer, dataDir).Register(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return srv, archive, dataDir
}

func awaitCompleted(t *testing.T, srv *httptest.Server, statusURL string) map[string]any {
	t.Helper()

	deadline := time.Now().Add(time.Second * 10)
	for {
		resp, err := srv.Client().Get(srv.URL + statusURL)
		require.Nil(t, err)

		var body map[string]any
		require.Nil(t, json.NewDecoder(resp.Body).Decode(&body))
		require.Nil(t, resp.Body.Close())

		switch body["status"] {
		case "Completed":
			return body
		case "Failed":
			t.Fatalf("batch failed: %v", body["error"])
		}

		require.True(t, time.Now().Before(deadline))
		time.Sleep(time.Millisecond * 5)
	}
}

func TestStartBatchBySource(t *testing.T) {
	t.Parallel()

	srv, archive, dataDir := setupAPI(t)

	payload := `[{"id": "A", "name": "Alice", "score": 9}]`
	require.Nil(t, os.WriteFile(filepath.Join(dataDir, "students.json"), []byte(payload), 0o644))

	resp, err := srv.Client().Post(srv.URL+"/batches?source=students.json", "application/json", nil)
	require.Nil(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var start struct {
		InstanceID string `json:"instance_id"`
		StatusURL  string `json:"status_url"`
	}
	require.Nil(t, json.NewDecoder(resp.Body).Decode(&start))
	require.NotEmpty(t, start.InstanceID)

	body := awaitCompleted(t, srv, start.StatusURL)

	result, err := json.Marshal(body["result"])
	require.Nil(t, err)

	var agg reportgen.AggregateResult
	require.Nil(t, json.Unmarshal(result, &agg))
	require.Equal(t, 1, agg.Count)
	require.Empty(t, agg.Errors)

	_, ok := archive.Get("A.pdf")
	require.True(t, ok)
}

func TestStartBatchInline(t *testing.T) {
	t.Parallel()

	srv, archive, _ := setupAPI(t)

	payload := `[
		{"id": "A", "name": "Alice", "score": 9},
		{"id": "B", "name": "Bob", "score": 6}
	]`

	resp, err := srv.Client().Post(srv.URL+"/batches", "application/json", strings.NewReader(payload))
	require.Nil(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var start struct {
		StatusURL string `json:"status_url"`
	}
	require.Nil(t, json.NewDecoder(resp.Body).Decode(&start))

	awaitCompleted(t, srv, start.StatusURL)
	require.Equal(t, 2, archive.Len())
}

func TestStartBatchRejectsInvalidInline(t *testing.T) {
	t.Parallel()

	srv, _, _ := setupAPI(t)

	resp, err := srv.Client().Post(srv.URL+"/batches", "application/json", strings.NewReader("not json"))
	require.Nil(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBatchStatusNotFound(t *testing.T) {
	t.Parallel()

	srv, _, _ := setupAPI(t)

	resp, err := srv.Client().Get(srv.URL + "/batches/nope")
	require.Nil(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPreview(t *testing.T) {
	t.Parallel()

	srv, archive, _ := setupAPI(t)

	resp, err := srv.Client().Post(srv.URL+"/preview", "application/json",
		strings.NewReader(`{"id": "A", "name": "Alice", "score": 9}`))
	require.Nil(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, reportgen.ContentTypePDF, resp.Header.Get("Content-Type"))

	var buf [5]byte
	_, err = resp.Body.Read(buf[:])
	require.Nil(t, err)
	require.Equal(t, "%PDF-", string(buf[:]))

	// Previews never archive.
	require.Equal(t, 0, archive.Len())
}
