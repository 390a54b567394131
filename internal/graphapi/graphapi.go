// Package graphapi is the read-only HTTP surface over C6 (spec §4.11):
// the portal and any external consumer query the knowledge graph and
// owners index through here rather than touching Postgres directly.
// Grounded on the teacher's agents/dashboard/main.go — chi.NewRouter,
// a CORS middleware, and a writeJSON helper — generalized from a
// single-process dashboard API to a graph query service with a
// last-good-response cache for degraded reads.
package graphapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/Ava-Prime/gitguard-sub000/internal/model"
)

// GraphReader is the subset of internal/graph.Store this API needs.
type GraphReader interface {
	Neighbors(ctx context.Context, rootID string, depth int) ([]model.KGNode, []model.KGEdge, error)
}

// OwnersReader supplies the current owners index snapshot.
type OwnersReader interface {
	Snapshot(ctx context.Context) (model.OwnersIndex, error)
}

// neighborhoodResponse is GET /graph/pr/{n} and /graph/relationships's
// shared wire shape.
type neighborhoodResponse struct {
	Nodes []model.KGNode `json:"nodes"`
	Edges []model.KGEdge `json:"edges"`
	Stale bool           `json:"-"`
}

type ownerEntryWire struct {
	Primary         string   `json:"primary"`
	Secondary       []string `json:"secondary"`
	ActivityScore   float64  `json:"activity_score"`
	LastActivity    string   `json:"last_activity"`
	ExpertiseAreas  []string `json:"expertise_areas"`
}

type ownersResponse struct {
	Owners   map[string]ownerEntryWire `json:"owners"`
	Metadata ownersMetadata            `json:"metadata"`
}

type ownersMetadata struct {
	GeneratedAt        string  `json:"generated_at"`
	TotalFiles         int     `json:"total_files"`
	CoveragePercentage float64 `json:"coverage_percentage"`
}

// Server wires the four endpoints from spec §4.11 to a GraphReader and
// OwnersReader, caching the last good response of each so a Postgres
// outage degrades to stale data (X-Stale: true) rather than a 5xx.
type Server struct {
	Graph          GraphReader
	Owners         OwnersReader
	AllowedOrigins []string
	// PRRepoHint, when set, is prefixed onto a bare PR number to form
	// the node key for GET /graph/pr/{n} in single-repo deployments.
	PRRepoHint string
	Logger     *log.Logger

	mu           sync.Mutex
	lastOwners   *ownersResponse
	lastNeighbor map[string]neighborhoodResponse
}

// NewServer builds a graphapi Server. allowedOrigins empty means "*".
func NewServer(graph GraphReader, owners OwnersReader, allowedOrigins []string, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		Graph:          graph,
		Owners:         owners,
		AllowedOrigins: allowedOrigins,
		Logger:         logger,
		lastNeighbor:   make(map[string]neighborhoodResponse),
	}
}

// Router builds the chi.Router serving spec §4.11's four endpoints.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	origins := s.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/graph/pr/{n}", s.handlePRNeighborhood)
	r.Get("/graph/owners", s.handleOwners)
	r.Get("/graph/relationships", s.handleRelationships)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := map[string]string{"graph_store": "healthy"}
	if s.Graph == nil {
		components["graph_store"] = "unavailable"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "healthy",
		"components": components,
	})
}

func (s *Server) handlePRNeighborhood(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(chi.URLParam(r, "n"))
	if err != nil || n <= 0 {
		http.Error(w, "invalid PR number", http.StatusBadRequest)
		return
	}
	// node ids are (ntype, nkey) = ("pr", "<owner>/<repo>#<n>"); the
	// spec's /graph/pr/{n} route carries no repo, so multi-repo
	// deployments resolve the PR number against PRRepoHint if set.
	nkey := fmt.Sprintf("#%d", n)
	if s.PRRepoHint != "" {
		nkey = s.PRRepoHint + "#" + strconv.Itoa(n)
	}
	rootID := "pr:" + nkey
	s.serveNeighborhood(w, r, rootID, 1)
}

func (s *Server) handleRelationships(w http.ResponseWriter, r *http.Request) {
	nodeID := r.URL.Query().Get("node_id")
	if nodeID == "" {
		http.Error(w, "node_id required", http.StatusBadRequest)
		return
	}
	depth := 2
	if v := r.URL.Query().Get("depth"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			depth = parsed
		}
	}
	s.serveNeighborhood(w, r, nodeID, depth)
}

func (s *Server) serveNeighborhood(w http.ResponseWriter, r *http.Request, rootID string, depth int) {
	cacheKey := fmt.Sprintf("%s@%d", rootID, depth)

	nodes, edges, err := s.Graph.Neighbors(r.Context(), rootID, depth)
	if err != nil {
		s.Logger.Printf("graphapi: neighbors query for %s failed, serving stale: %v", rootID, err)
		s.mu.Lock()
		cached, ok := s.lastNeighbor[cacheKey]
		s.mu.Unlock()
		if !ok {
			http.Error(w, "graph store unavailable", http.StatusServiceUnavailable)
			return
		}
		cached.Stale = true
		writeStaleJSON(w, cached)
		return
	}

	resp := neighborhoodResponse{Nodes: nodes, Edges: edges}
	s.mu.Lock()
	s.lastNeighbor[cacheKey] = resp
	s.mu.Unlock()
	writeStaleJSON(w, resp)
}

func (s *Server) handleOwners(w http.ResponseWriter, r *http.Request) {
	idx, err := s.Owners.Snapshot(r.Context())
	if err != nil {
		s.Logger.Printf("graphapi: owners snapshot failed, serving stale: %v", err)
		s.mu.Lock()
		cached := s.lastOwners
		s.mu.Unlock()
		if cached == nil {
			http.Error(w, "owners index unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("X-Stale", "true")
		writeJSON(w, http.StatusOK, cached)
		return
	}

	resp := toOwnersResponse(idx)
	s.mu.Lock()
	s.lastOwners = &resp
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, resp)
}

func toOwnersResponse(idx model.OwnersIndex) ownersResponse {
	owners := make(map[string]ownerEntryWire, len(idx.ByPath))
	totalFiles := 0
	for path, entries := range idx.ByPath {
		if len(entries) == 0 {
			continue
		}
		totalFiles++
		primary := entries[0]
		var secondary []string
		for _, e := range entries[1:] {
			secondary = append(secondary, e.Owner)
		}
		owners[path] = ownerEntryWire{
			Primary:        primary.Owner,
			Secondary:      secondary,
			ActivityScore:  primary.ActivityScore,
			LastActivity:   primary.LastActivity.UTC().Format(time.RFC3339),
			ExpertiseAreas: []string{path},
		}
	}
	return ownersResponse{
		Owners: owners,
		Metadata: ownersMetadata{
			GeneratedAt:        time.Now().UTC().Format(time.RFC3339),
			TotalFiles:         totalFiles,
			CoveragePercentage: coveragePercentage(totalFiles, len(idx.ByPath)),
		},
	}
}

func coveragePercentage(owned, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(owned) / float64(total) * 100
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeStaleJSON(w http.ResponseWriter, resp neighborhoodResponse) {
	if resp.Stale {
		w.Header().Set("X-Stale", "true")
	}
	writeJSON(w, http.StatusOK, resp)
}
