// Package ingest exposes the report pipeline's entry points: an HTTP API for
// starting and inspecting batches and a Kafka listener that starts a batch for
// every data file announcement.
package ingest

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	"github.com/luno/jettison/errors"

	"github.com/andrewwormald/durable"
	"github.com/andrewwormald/durable/reportgen"
)

// maxInlineBytes caps an inline data file posted directly to the start
// endpoint.
const maxInlineBytes = 32 << 20

// Server serves the pipeline's HTTP API.
type Server struct {
	engine   *durable.Engine
	renderer reportgen.Renderer

	// inlineDir receives data files posted inline so the import activity can
	// read them back by locator like any other file.
	inlineDir string
}

func NewServer(engine *durable.Engine, renderer reportgen.Renderer, inlineDir string) *Server {
	return &Server{
		engine:    engine,
		renderer:  renderer,
		inlineDir: inlineDir,
	}
}

// Register mounts the API on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /batches", s.startBatch)
	mux.HandleFunc("GET /batches/{id}", s.batchStatus)
	mux.HandleFunc("POST /preview", s.preview)
}

type startResponse struct {
	InstanceID string `json:"instance_id"`
	StatusURL  string `json:"status_url"`
}

// startBatch starts a batch instance. The data file is named either by a
// `source` query locator or posted inline as the JSON body.
func (s *Server) startBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	source := r.URL.Query().Get("source")
	if source == "" {
		var err error
		source, err = s.storeInline(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	id, err := s.engine.Start(ctx, reportgen.OrchestrationProcessBatch,
		durable.WithInput(source))
	if errors.Is(err, durable.ErrInstanceInProgress) {
		writeError(w, http.StatusConflict, err)
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusAccepted, startResponse{
		InstanceID: id,
		StatusURL:  "/batches/" + id,
	})
}

// storeInline writes the posted body into the inline directory and returns its
// locator. The import activity then reads it like any on-disk data file.
func (s *Server) storeInline(r *http.Request) (string, error) {
	if s.inlineDir == "" {
		return "", errors.New("inline data files not configured")
	}

	b, err := io.ReadAll(io.LimitReader(r.Body, maxInlineBytes))
	if err != nil {
		return "", errors.Wrap(err, "read inline data file")
	}
	if !json.Valid(b) {
		return "", errors.New("inline data file is not valid json")
	}

	name := "inline-" + uuid.New().String() + ".json"
	err = os.WriteFile(filepath.Join(s.inlineDir, name), b, 0o644)
	if err != nil {
		return "", errors.Wrap(err, "store inline data file")
	}

	return name, nil
}

type statusResponse struct {
	InstanceID string          `json:"instance_id"`
	Status     string          `json:"status"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
}

func (s *Server) batchStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	in, err := s.engine.Status(ctx, id)
	if errors.Is(err, durable.ErrInstanceNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	resp := statusResponse{
		InstanceID: in.ID,
		Status:     in.Status.String(),
	}
	if in.Status == durable.StatusCompleted {
		resp.Result = in.Output
	}
	if in.Status == durable.StatusFailed {
		resp.Error = in.ErrMessage
	}

	writeJSON(w, http.StatusOK, resp)
}

// preview renders a single posted item and returns the artifact bytes without
// archiving anything or touching the engine.
func (s *Server) preview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var item reportgen.WorkItem
	err := json.NewDecoder(io.LimitReader(r.Body, maxInlineBytes)).Decode(&item)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.Wrap(err, "decode preview item"))
		return
	}

	artifact, err := s.renderer.Render(ctx, item)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	w.Header().Set("Content-Type", reportgen.ContentTypePDF)
	w.Header().Set("Content-Length", strconv.Itoa(len(artifact)))
	w.WriteHeader(http.StatusOK)
	_, err = w.Write(artifact)
	if err != nil {
		// NoReturnErr: Response already committed, nothing left to send.
		_ = err
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	err := json.NewEncoder(w).Encode(body)
	if err != nil {
		// NoReturnErr: Response already committed, nothing left to send.
		_ = err
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
