package worker

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/statefulrouter/statefulrouter/router"
	"github.com/statefulrouter/statefulrouter/rpc"
)

// Server is the worker-side HTTP endpoint proxy mode forwards to — the same
// request body the worker receives whether it arrived direct from a client
// or via the router's proxy.
type Server struct {
	Worker *Worker
}

// NewServer wraps w in an HTTP handler for POST /v1/completions.
func NewServer(w *Worker) *Server {
	return &Server{Worker: w}
}

// Mux builds the worker's HTTP handler.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/completions", s.handleCompletions)
	return mux
}

func (s *Server) handleCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading request body")
		return
	}
	var req rpc.CompletionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "decoding request body")
		return
	}

	tokens := router.Tokenize(req.Prompt)
	blockHashes := router.ComputeBlockHashes(tokens)

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 16
	}

	requestID := uuid.NewString()
	if _, err := s.Worker.Submit(requestID, blockHashes, len(tokens), maxTokens); err != nil {
		logrus.Warnf("[worker %s] rejecting %s: %v", s.Worker.ID, requestID, err)
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, rpc.CompletionResponse{
		AssignedWorker: s.Worker.ID,
		Status:         "accepted",
		BlockHashes:    blockHashes,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
