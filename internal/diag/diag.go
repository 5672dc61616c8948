// Package diag exposes a read-only HTTP+WS diagnostics surface: device
// listing, health, and a live reading feed. This is explicitly NOT the
// external client protocol server from spec §1 (query/subscription/
// mutation endpoint for end users) — diag never accepts a setting, and
// exists purely so an operator can see what the daemon is doing.
package diag

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/drmem/drmemd/internal/driver"
	"github.com/drmem/drmemd/internal/fabric"
	"github.com/drmem/drmemd/internal/value"
)

// Server wires a Backend and a driver Runtime to a vanilla net/http mux in
// the teacher's router style (method-and-path patterns, JSON helpers).
type Server struct {
	backend fabric.Backend
	rt      *driver.Runtime
	started time.Time
	upgrader websocket.Upgrader
}

func New(backend fabric.Backend, rt *driver.Runtime) *Server {
	return &Server{
		backend: backend,
		rt:      rt,
		started: time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Diagnostics is read-only and meant for same-host/trusted-LAN
			// use; the spec carries no auth model for it, so there's no
			// origin policy to enforce beyond what a reverse proxy adds.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.health)
	mux.HandleFunc("GET /devices", s.devices)
	mux.HandleFunc("GET /ws/readings", s.wsReadings)
	return mux
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"uptime":      time.Since(s.started).String(),
		"drivers":     s.rt.Registry().Names(),
	})
}

type deviceView struct {
	Name      string  `json:"name"`
	Type      string  `json:"type"`
	Direction string  `json:"direction"`
	Units     string  `json:"units,omitempty"`
	Owner     string  `json:"owner"`
	Value     *string `json:"value,omitempty"`
	Timestamp *string `json:"timestamp,omitempty"`
}

func (s *Server) devices(w http.ResponseWriter, r *http.Request) {
	recs, err := s.backend.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]deviceView, 0, len(recs))
	for _, rec := range recs {
		dv := deviceView{
			Name:      rec.Name.String(),
			Type:      rec.Type.String(),
			Owner:     rec.Owner,
			Units:     rec.Units,
			Direction: "read-only",
		}
		if rec.Direction == fabric.ReadWrite {
			dv.Direction = "read-write"
		}
		if rec.Last != nil {
			vs := rec.Last.Value.String()
			ts := rec.Last.Time.Format(time.RFC3339Nano)
			dv.Value = &vs
			dv.Timestamp = &ts
		}
		out = append(out, dv)
	}
	writeJSON(w, http.StatusOK, out)
}

// wsReadings streams every accepted reading for a single device, named by
// the "name" query parameter, as newline-delimited JSON frames. It never
// accepts a client message — this is a read-only fan-out, not a setting
// path.
func (s *Server) wsReadings(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "missing \"name\" query parameter")
		return
	}
	devName, err := value.ParseName(name)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad device name: "+err.Error())
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub, err := s.backend.SubscribeReadings(ctx, devName)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	defer sub.Close()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// Drain (and discard) any client frames so the read side doesn't back
	// up the TCP connection; a close or error here ends the stream.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-sub.C():
			if !ok {
				return
			}
			frame := map[string]any{
				"name":         name,
				"subscription": sub.ID(),
				"value":        item.Reading.Value.String(),
				"type":         item.Reading.Value.Type().String(),
				"timestamp":    item.Reading.Time.Format(time.RFC3339Nano),
				"gap":          item.Gap,
			}
			if err := conn.WriteJSON(frame); err != nil {
				return
			}
		}
	}
}
