// Command targetsim exposes one simulated machine over HTTP so remote
// harnesses can drive it through the "http" target. All connections share the
// single machine instance; that shared state is the point.
//
// Usage: targetsim -addr :9180 -guarded=false
package main

import (
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"faultline/internal/target"
	"faultline/internal/target/simulator"
)

func main() {
	addr := flag.String("addr", ":9180", "listen address")
	guarded := flag.Bool("guarded", false, "enable the synchronized machine variant")
	modulus := flag.Int("modulus", 0, "setup counter modulus (0 = default)")
	travel := flag.Duration("travel", 0, "turntable travel time (0 = default)")
	keystroke := flag.Duration("keystroke", 0, "per-keystroke edit latency (0 = default)")
	beam := flag.Duration("beam", 0, "beam delivery time (0 = default)")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	machine := simulator.New(simulator.Config{
		Guarded:         *guarded,
		CounterModulus:  *modulus,
		TurntableTravel: *travel,
		KeystrokeDelay:  *keystroke,
		BeamTime:        *beam,
		Logger:          logger,
	})

	srv := &server{machine: machine, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/api/setup", srv.handleSetup)
	r.Post("/api/mode", srv.handleMode)
	r.Post("/api/edit", srv.handleEdit)
	r.Post("/api/fire", srv.handleFire)
	r.Get("/api/counter", srv.handleCounter)
	r.Post("/api/reset", srv.handleReset)
	r.Post("/api/emergency_stop", srv.handleEmergencyStop)
	r.Get("/api/status", srv.handleStatus)

	logger.WithFields(logrus.Fields{"addr": *addr, "guarded": *guarded}).Info("targetsim listening")

	httpServer := &http.Server{
		Addr:              *addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := httpServer.ListenAndServe(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

type server struct {
	machine *simulator.Machine
	logger  *logrus.Logger
}

type setupRequest struct {
	Dose int `json:"dose"`
	X    int `json:"x"`
	Y    int `json:"y"`
}

type modeRequest struct {
	Mode string `json:"mode"`
}

type editRequest struct {
	Field string `json:"field"`
	Value int    `json:"value"`
}

func (s *server) handleSetup(w http.ResponseWriter, r *http.Request) {
	var req setupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	token, err := s.machine.Setup(r.Context(), req.Dose, req.X, req.Y)
	s.writeToken(w, token, err)
}

func (s *server) handleMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	mode := target.Mode(req.Mode)
	if mode != target.ModeXRay && mode != target.ModeElectron {
		s.writeError(w, http.StatusBadRequest, "unknown mode")
		return
	}
	token, err := s.machine.ChangeMode(r.Context(), mode)
	s.writeToken(w, token, err)
}

func (s *server) handleEdit(w http.ResponseWriter, r *http.Request) {
	var req editRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	token, err := s.machine.Edit(r.Context(), req.Field, req.Value)
	s.writeToken(w, token, err)
}

func (s *server) handleFire(w http.ResponseWriter, r *http.Request) {
	token, err := s.machine.Fire(r.Context())
	s.writeToken(w, token, err)
}

func (s *server) handleCounter(w http.ResponseWriter, r *http.Request) {
	counter, err := s.machine.CounterValue(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"counter": counter})
}

func (s *server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.machine.Reset(r.Context()); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"token": "RESET_OK"})
}

func (s *server) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	s.machine.Halt()
	s.writeJSON(w, http.StatusOK, map[string]string{"token": "HALTED"})
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.machine.Status())
}

// writeToken maps an operation result onto the wire. Machine errors are
// transport-level failures; tokens ride in the body regardless of what they
// report.
func (s *server) writeToken(w http.ResponseWriter, token string, err error) {
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("encode response")
	}
}

func (s *server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
