package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/statefulrouter/statefulrouter/internal/metrics"
	"github.com/statefulrouter/statefulrouter/router"
)

// Server implements the router's HTTP surface: the client-facing completions
// endpoint plus the three internal control endpoints workers push to
// (heartbeat, eviction, sync). Its collaborators (GlobalCacheMap,
// RoutingEngine, worker URL table) are injected rather than package-level
// globals, so multiple Servers can run in the same process under test.
type Server struct {
	CacheMap  *router.GlobalCacheMap
	Engine    *router.RoutingEngine
	Strategy  router.Strategy
	ProxyMode bool

	proxyClient *http.Client

	mu         sync.RWMutex
	workerURLs map[string]string
}

// NewServer constructs a Server wired to the given GlobalCacheMap and
// RoutingEngine. engine must have been constructed against cacheMap.
// strategy is recorded only for the routing_decisions_total metric label.
func NewServer(cacheMap *router.GlobalCacheMap, engine *router.RoutingEngine, strategy router.Strategy, proxyMode bool) *Server {
	return &Server{
		CacheMap:    cacheMap,
		Engine:      engine,
		Strategy:    strategy,
		ProxyMode:   proxyMode,
		proxyClient: &http.Client{Timeout: 30 * time.Second},
		workerURLs:  make(map[string]string),
	}
}

// Mux builds the router's HTTP handler, including /metrics.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/completions", s.handleCompletions)
	mux.HandleFunc("/internal/heartbeat", s.handleHeartbeat)
	mux.HandleFunc("/internal/eviction", s.handleEviction)
	mux.HandleFunc("/internal/sync", s.handleSync)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// readBody reads and closes the request body, writing a 400 on failure.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		logMalformedRequest(fmt.Errorf("reading request body: %w", err))
		writeError(w, http.StatusBadRequest, "reading request body")
		return nil, false
	}
	return body, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	body, ok := readBody(w, r)
	if !ok {
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		logMalformedRequest(fmt.Errorf("decoding request body: %w", err))
		writeError(w, http.StatusBadRequest, "decoding request body")
		return false
	}
	return true
}

// logMalformedRequest logs err as a warning, prefixed by the
// router.ErrMalformedRequest sentinel's message. Nothing is returned: the
// caller answers the request with a 400 itself.
func logMalformedRequest(err error) {
	logrus.Warnf("[router] %v", fmt.Errorf("%w: %v", router.ErrMalformedRequest, err))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleCompletions implements POST /v1/completions: tokenize the prompt,
// ask the RoutingEngine for a worker, and either report the decision or (in
// proxy mode) forward the request body to that worker.
func (s *Server) handleCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	rawBody, ok := readBody(w, r)
	if !ok {
		return
	}
	var req CompletionRequest
	if err := json.Unmarshal(rawBody, &req); err != nil {
		logMalformedRequest(fmt.Errorf("decoding completion request: %w", err))
		writeError(w, http.StatusBadRequest, "decoding request body")
		return
	}

	start := time.Now()
	tokens := router.Tokenize(req.Prompt)
	decision, err := s.Engine.Route(tokens)
	metrics.RoutingDecisionSeconds.Observe(time.Since(start).Seconds())

	if err != nil {
		logrus.Warnf("[router] routing failed: %v", err)
		writeError(w, http.StatusServiceUnavailable, "no workers available")
		return
	}

	blockHashes := router.ComputeBlockHashes(tokens)
	metrics.RoutingDecisions.WithLabelValues(string(s.Strategy), string(decision.CacheStatus)).Inc()

	if s.ProxyMode {
		if workerURL, ok := s.lookupWorkerURL(decision.Worker); ok {
			s.proxyForward(w, r, workerURL, rawBody)
			return
		}
	}

	writeJSON(w, http.StatusOK, CompletionResponse{
		AssignedWorker: decision.Worker,
		Status:         "forwarded",
		BlockHashes:    blockHashes,
		MatchLength:    decision.MatchLength,
		CacheStatus:    string(decision.CacheStatus),
	})
}

// proxyForward re-sends the already-consumed client request body to workerURL
// (the request's own r.Body was drained by readBody in handleCompletions, so
// the caller passes the bytes back in rather than reading r.Body twice).
func (s *Server) proxyForward(w http.ResponseWriter, r *http.Request, workerURL string, body []byte) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, workerURL+"/v1/completions", bytes.NewReader(body))
	if err != nil {
		metrics.ProxyForwardErrors.Inc()
		writeError(w, http.StatusBadGateway, router.ErrProxyUnreachable.Error())
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.proxyClient.Do(req)
	if err != nil {
		metrics.ProxyForwardErrors.Inc()
		logrus.Warnf("[router] proxy forward to %s failed: %v", workerURL, err)
		writeError(w, http.StatusBadGateway, router.ErrProxyUnreachable.Error())
		return
	}
	defer resp.Body.Close()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

// handleHeartbeat implements POST /internal/heartbeat.
func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	var hb HeartbeatRequest
	if !decodeJSON(w, r, &hb) {
		return
	}
	s.CacheMap.UpdateLoad(hb.WorkerID, hb.CurrentLoad)
	metrics.KnownWorkers.Set(float64(s.CacheMap.KnownWorkerCount()))

	if hb.WorkerURL != "" {
		s.mu.Lock()
		s.workerURLs[hb.WorkerID] = hb.WorkerURL
		s.mu.Unlock()
		logrus.Infof("[router] heartbeat from %s (load=%d, url=%s)", hb.WorkerID, hb.CurrentLoad, hb.WorkerURL)
	} else {
		logrus.Infof("[router] heartbeat from %s (load=%d)", hb.WorkerID, hb.CurrentLoad)
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

// handleEviction implements POST /internal/eviction.
func (s *Server) handleEviction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	var report EvictionReport
	if !decodeJSON(w, r, &report) {
		return
	}
	for _, h := range report.EvictedHashes {
		s.CacheMap.Evict(report.WorkerID, h)
	}
	metrics.ForwardIndexSize.Set(float64(s.CacheMap.ForwardCount()))
	metrics.TrieNodes.Set(float64(s.CacheMap.TrieNodeCount()))
	logrus.Infof("[router] eviction from %s: %d hashes", report.WorkerID, len(report.EvictedHashes))
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

// handleSync implements POST /internal/sync.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	var report SyncReport
	if !decodeJSON(w, r, &report) {
		return
	}
	s.CacheMap.Sync(report.WorkerID, report.ActiveHashes)
	if err := s.CacheMap.VerifyConsistency(report.WorkerID); err != nil {
		logrus.Errorf("[router] %v", err)
	}
	metrics.ForwardIndexSize.Set(float64(s.CacheMap.ForwardCount()))
	metrics.TrieNodes.Set(float64(s.CacheMap.TrieNodeCount()))
	logrus.Infof("[router] sync from %s: %d active hashes", report.WorkerID, len(report.ActiveHashes))
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

func (s *Server) lookupWorkerURL(workerID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.workerURLs[workerID]
	return u, ok
}
