// Package api serves recorded simulation runs as JSON. It is read-only and
// sits next to the debug SQL console while a run is in progress.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/oncosim/internal/httputil"
	"github.com/banshee-data/oncosim/internal/monitoring"
	"github.com/banshee-data/oncosim/internal/store"
)

// Server exposes the results database over HTTP.
type Server struct {
	db *store.DB
}

func NewServer(db *store.DB) *Server {
	return &Server{db: db}
}

// RunJSON is the wire form of a run.
type RunJSON struct {
	ID         string          `json:"id"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	Status     string          `json:"status"`
	Seed       uint64          `json:"seed"`
	Version    string          `json:"version"`
	Config     json.RawMessage `json:"config,omitempty"`
}

// SnapshotJSON is the wire form of a snapshot.
type SnapshotJSON struct {
	ID          int64   `json:"id"`
	Time        float64 `json:"time"`
	Cells       int     `json:"cells"`
	Active      int     `json:"active"`
	Live        int     `json:"live"`
	Apoptotic   int     `json:"apoptotic"`
	Necrotic    int     `json:"necrotic"`
	Lymphocytes int     `json:"lymphocytes"`
	Divisions   int     `json:"divisions"`
	Removals    int     `json:"removals"`
	WallSeconds float64 `json:"wall_seconds"`
}

type substrateJSON struct {
	Substrate string  `json:"substrate"`
	Total     float64 `json:"total"`
	Min       float64 `json:"min"`
	Max       float64 `json:"max"`
	Mean      float64 `json:"mean"`
	StdDev    float64 `json:"std_dev"`
}

type agentJSON struct {
	ID     uint64     `json:"id"`
	Type   int        `json:"type"`
	Phase  string     `json:"phase"`
	Pos    [3]float64 `json:"position"`
	Radius float64    `json:"radius"`
	Active bool       `json:"active"`
}

// ServeMux returns the API routes.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	s.Attach(mux)
	return mux
}

// Attach registers the API routes on an existing mux.
func (s *Server) Attach(mux *http.ServeMux) {
	mux.HandleFunc("/api/runs", s.listRuns)
	mux.HandleFunc("/api/runs/{id}", s.showRun)
	mux.HandleFunc("/api/runs/{id}/snapshots", s.listSnapshots)
	mux.HandleFunc("/api/snapshots/{sid}/substrates", s.listSubstrates)
	mux.HandleFunc("/api/snapshots/{sid}/agents", s.listAgents)
}

// LoggingMiddleware logs method, path, status and duration at debug level.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Debugf("[%d] %s %s %.2fms", lrw.statusCode, r.Method, r.RequestURI,
			float64(time.Since(start).Nanoseconds())/1e6)
	})
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func toRunJSON(r store.Run) RunJSON {
	out := RunJSON{
		ID:         r.ID,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Status:     r.Status,
		Seed:       r.Seed,
		Version:    r.Version,
	}
	if json.Valid([]byte(r.ConfigJSON)) {
		out.Config = json.RawMessage(r.ConfigJSON)
	}
	return out
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	runs, err := s.db.ListRuns(r.Context())
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	out := make([]RunJSON, 0, len(runs))
	for _, run := range runs {
		j := toRunJSON(run)
		j.Config = nil
		out = append(out, j)
	}
	httputil.WriteJSONOK(w, out)
}

func (s *Server) showRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	run, err := s.db.GetRun(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrRunNotFound) {
		httputil.NotFound(w, "run not found")
		return
	}
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, toRunJSON(*run))
}

func (s *Server) listSnapshots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	id := r.PathValue("id")
	if _, err := s.db.GetRun(r.Context(), id); errors.Is(err, store.ErrRunNotFound) {
		httputil.NotFound(w, "run not found")
		return
	} else if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	snaps, err := s.db.Snapshots(r.Context(), id)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	out := make([]SnapshotJSON, 0, len(snaps))
	for _, sn := range snaps {
		out = append(out, SnapshotJSON{
			ID:          sn.ID,
			Time:        sn.Time,
			Cells:       sn.Cells,
			Active:      sn.Active,
			Live:        sn.Live,
			Apoptotic:   sn.Apoptotic,
			Necrotic:    sn.Necrotic,
			Lymphocytes: sn.Lymphocytes,
			Divisions:   sn.Divisions,
			Removals:    sn.Removals,
			WallSeconds: sn.WallSeconds,
		})
	}
	httputil.WriteJSONOK(w, out)
}

func snapshotID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return 0, false
	}
	id, err := strconv.ParseInt(r.PathValue("sid"), 10, 64)
	if err != nil || id <= 0 {
		httputil.BadRequest(w, "invalid snapshot id")
		return 0, false
	}
	return id, true
}

func (s *Server) listSubstrates(w http.ResponseWriter, r *http.Request) {
	id, ok := snapshotID(w, r)
	if !ok {
		return
	}
	stats, err := s.db.SubstrateStats(r.Context(), id)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	out := make([]substrateJSON, 0, len(stats))
	for _, st := range stats {
		out = append(out, substrateJSON(st))
	}
	httputil.WriteJSONOK(w, out)
}

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	id, ok := snapshotID(w, r)
	if !ok {
		return
	}
	agents, err := s.db.Agents(r.Context(), id)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	out := make([]agentJSON, 0, len(agents))
	for _, a := range agents {
		out = append(out, agentJSON{
			ID:     a.ID,
			Type:   a.Type,
			Phase:  a.Phase,
			Pos:    [3]float64{a.X, a.Y, a.Z},
			Radius: a.Radius,
			Active: a.Active,
		})
	}
	httputil.WriteJSONOK(w, out)
}
