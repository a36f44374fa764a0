// Package api pkg/api/server.go serves the read-only dashboard API over the
// packet store, plus a websocket live feed of freshly ingested packets.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/meshradar/meshradar/pkg/db"
	httpx "github.com/meshradar/meshradar/pkg/http"
	"github.com/meshradar/meshradar/pkg/metrics"
	"github.com/meshradar/meshradar/pkg/models"
)

const defaultTracerouteLimit = 100

type APIServer struct {
	store   db.Service
	tracker *metrics.Tracker
	hub     *Hub
	router  *mux.Router
}

func NewAPIServer(store db.Service, tracker *metrics.Tracker) *APIServer {
	if tracker == nil {
		tracker = metrics.NewTracker()
	}

	s := &APIServer{
		store:   store,
		tracker: tracker,
		hub:     NewHub(),
		router:  mux.NewRouter(),
	}
	s.setupRoutes()

	return s
}

// Router exposes the configured handler for the HTTP server.
func (s *APIServer) Router() http.Handler {
	return s.router
}

// LiveSink returns the hub fed by the capture pipeline.
func (s *APIServer) LiveSink() *Hub {
	return s.hub
}

func (s *APIServer) setupRoutes() {
	s.router.Use(httpx.CommonMiddleware)

	s.router.HandleFunc("/api/nodes", s.getNodes).Methods("GET")
	s.router.HandleFunc("/api/nodes/{id}", s.getNode).Methods("GET")
	s.router.HandleFunc("/api/packets", s.getPackets).Methods("GET")
	s.router.HandleFunc("/api/packets/{id}/traceroute", s.getTraceroute).Methods("GET")
	s.router.HandleFunc("/api/traceroutes", s.getTraceroutes).Methods("GET")
	s.router.HandleFunc("/api/links", s.getLinks).Methods("GET")
	s.router.HandleFunc("/api/stats", s.getStats).Methods("GET")
	s.router.HandleFunc("/api/metrics", s.getMetrics).Methods("GET")
	s.router.HandleFunc("/api/live", s.hub.serveLive)
}

func (s *APIServer) getNodes(w http.ResponseWriter, r *http.Request) {
	filter := models.NodeFilter{
		Role:  r.URL.Query().Get("role"),
		Limit: queryInt(r, "limit"),
	}

	if since, err := queryDuration(r, "active_since"); err != nil {
		http.Error(w, "Invalid active_since", http.StatusBadRequest)
		return
	} else if since > 0 {
		filter.ActiveSince = time.Now().UTC().Add(-since)
	}

	nodes, err := s.store.ListNodes(r.Context(), filter)
	if err != nil {
		log.Printf("Error listing nodes: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)

		return
	}

	writeJSON(w, nodes)
}

func (s *APIServer) getNode(w http.ResponseWriter, r *http.Request) {
	id, err := parseNodeID(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid node id", http.StatusBadRequest)
		return
	}

	node, err := s.store.GetNode(r.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			http.Error(w, "Node not found", http.StatusNotFound)
			return
		}

		log.Printf("Error getting node %d: %v", id, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)

		return
	}

	writeJSON(w, node)
}

func (s *APIServer) getPackets(w http.ResponseWriter, r *http.Request) {
	filter, err := packetFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	packets, err := s.store.ListPackets(r.Context(), filter)
	if err != nil {
		log.Printf("Error listing packets: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)

		return
	}

	writeJSON(w, packets)
}

func (s *APIServer) getTraceroute(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 32)
	if err != nil {
		http.Error(w, "Invalid packet id", http.StatusBadRequest)
		return
	}

	tr, err := s.store.GetTraceroute(r.Context(), uint32(id))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			http.Error(w, "Traceroute not found", http.StatusNotFound)
			return
		}

		log.Printf("Error getting traceroute %d: %v", id, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)

		return
	}

	writeJSON(w, tr)
}

func (s *APIServer) getTraceroutes(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit")
	if limit <= 0 {
		limit = defaultTracerouteLimit
	}

	routes, err := s.store.ListTraceroutes(r.Context(), limit)
	if err != nil {
		log.Printf("Error listing traceroutes: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)

		return
	}

	writeJSON(w, routes)
}

func (s *APIServer) getLinks(w http.ResponseWriter, r *http.Request) {
	since, err := queryDuration(r, "since")
	if err != nil {
		http.Error(w, "Invalid since", http.StatusBadRequest)
		return
	}

	var cutoff time.Time
	if since > 0 {
		cutoff = time.Now().UTC().Add(-since)
	}

	links, err := s.store.LinkStats(r.Context(), cutoff)
	if err != nil {
		log.Printf("Error computing link stats: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)

		return
	}

	writeJSON(w, links)
}

func (s *APIServer) getStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		log.Printf("Error computing stats: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)

		return
	}

	writeJSON(w, stats)
}

func (s *APIServer) getMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.tracker.Snapshot())
}

func errInvalidQuery(param string) error {
	return fmt.Errorf("invalid %s parameter", param)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

// parseNodeID accepts both decimal and the mesh's "!hex" notation.
func parseNodeID(raw string) (uint32, error) {
	if hexID, ok := strings.CutPrefix(raw, "!"); ok {
		v, err := strconv.ParseUint(hexID, 16, 32)
		return uint32(v), err
	}

	v, err := strconv.ParseUint(raw, 10, 32)

	return uint32(v), err
}

func packetFilter(r *http.Request) (models.PacketFilter, error) {
	filter := models.PacketFilter{
		Channel: r.URL.Query().Get("channel"),
		Limit:   queryInt(r, "limit"),
	}

	q := r.URL.Query()

	if raw := q.Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, errInvalidQuery("since")
		}

		filter.Since = t
	}

	if raw := q.Get("until"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, errInvalidQuery("until")
		}

		filter.Until = t
	}

	if raw := q.Get("from"); raw != "" {
		id, err := parseNodeID(raw)
		if err != nil {
			return filter, errInvalidQuery("from")
		}

		filter.From = &id
	}

	if raw := q.Get("port"); raw != "" {
		port, err := parsePort(raw)
		if err != nil {
			return filter, errInvalidQuery("port")
		}

		filter.Port = &port
	}

	if raw := q.Get("min_rssi"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 32)
		if err != nil {
			return filter, errInvalidQuery("min_rssi")
		}

		rssi := int32(v)
		filter.MinRSSI = &rssi
	}

	if raw := q.Get("min_snr"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return filter, errInvalidQuery("min_snr")
		}

		filter.MinSNR = &v
	}

	return filter, nil
}

// parsePort accepts either a numeric port or a known port name.
func parsePort(raw string) (models.PortNum, error) {
	if v, err := strconv.ParseUint(raw, 10, 32); err == nil {
		return models.PortNum(v), nil
	}

	port := models.PortFromName(raw)
	if port == models.PortUnknown && raw != port.String() {
		return port, errInvalidQuery("port")
	}

	return port, nil
}

func queryInt(r *http.Request, key string) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0
	}

	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0
	}

	return v
}

// queryDuration parses a Go duration query parameter ("24h", "15m").
func queryDuration(r *http.Request, key string) (time.Duration, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}

	return time.ParseDuration(raw)
}
