// Package api exposes the HTTP control surface: schedule editing, manual
// overrides, safety configuration, usage export and the status snapshot.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/thermod/internal/climate"
	"github.com/dokzlo13/thermod/internal/coordinator"
	"github.com/dokzlo13/thermod/internal/proxy"
)

// Server is the HTTP API server in front of the coordinator.
type Server struct {
	addr       string
	coord      *coordinator.Coordinator
	httpServer *http.Server
}

// NewServer creates a new API server.
func NewServer(host string, port int, coord *coordinator.Coordinator) *Server {
	return &Server{
		addr:  fmt.Sprintf("%s:%d", host, port),
		coord: coord,
	}
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/schedule", s.handleGetSchedule)
	mux.HandleFunc("PUT /api/schedule/{day}", s.handlePutDay)
	mux.HandleFunc("DELETE /api/schedule/{day}", s.handleDeleteDay)
	mux.HandleFunc("DELETE /api/schedule", s.handleDeleteSchedule)
	mux.HandleFunc("POST /api/schedule/copy", s.handleCopyDay)
	mux.HandleFunc("POST /api/override", s.handleSetOverride)
	mux.HandleFunc("DELETE /api/override", s.handleClearOverride)
	mux.HandleFunc("PUT /api/safety", s.handlePutSafety)
	mux.HandleFunc("GET /api/usage", s.handleUsage)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondStatus(w, http.StatusOK, "ok")
	})

	return mux
}

// Run starts the API server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.routes(),
	}

	log.Info().Str("addr", s.addr).Msg("Starting API server")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("API server shutdown error")
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

// eventDTO is the wire form of a schedule event.
type eventDTO struct {
	Time        string   `json:"time"`
	Mode        string   `json:"mode"`
	Temperature *float64 `json:"temperature,omitempty"`
}

func (d eventDTO) event() (climate.ScheduleEvent, error) {
	tod, err := climate.ParseTimeOfDay(d.Time)
	if err != nil {
		return climate.ScheduleEvent{}, err
	}
	mode, err := climate.ParseMode(d.Mode)
	if err != nil {
		return climate.ScheduleEvent{}, err
	}
	return climate.ScheduleEvent{Time: tod, Mode: mode, Temperature: d.Temperature}, nil
}

func toEventDTO(ev climate.ScheduleEvent) eventDTO {
	return eventDTO{Time: ev.Time.String(), Mode: string(ev.Mode), Temperature: ev.Temperature}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.coord.Snapshot())
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	week, err := s.coord.ScheduleWeek(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}

	out := make(map[string][]eventDTO, 7)
	for day, events := range week {
		dtos := make([]eventDTO, 0, len(events))
		for _, ev := range events {
			dtos = append(dtos, toEventDTO(ev))
		}
		out[dayName(time.Weekday(day))] = dtos
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handlePutDay(w http.ResponseWriter, r *http.Request) {
	day, err := parseDay(r.PathValue("day"))
	if err != nil {
		respondStatus(w, http.StatusBadRequest, err.Error())
		return
	}

	var dtos []eventDTO
	if err := json.NewDecoder(r.Body).Decode(&dtos); err != nil {
		respondStatus(w, http.StatusBadRequest, "invalid JSON body: expected an array of events")
		return
	}

	events := make([]climate.ScheduleEvent, 0, len(dtos))
	for _, d := range dtos {
		ev, err := d.event()
		if err != nil {
			respondStatus(w, http.StatusBadRequest, err.Error())
			return
		}
		events = append(events, ev)
	}

	if err := s.coord.SetScheduleDay(r.Context(), day, events); err != nil {
		respondError(w, err)
		return
	}
	respondStatus(w, http.StatusOK, "ok")
}

func (s *Server) handleDeleteDay(w http.ResponseWriter, r *http.Request) {
	day, err := parseDay(r.PathValue("day"))
	if err != nil {
		respondStatus(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.coord.ClearScheduleDay(r.Context(), day); err != nil {
		respondError(w, err)
		return
	}
	respondStatus(w, http.StatusOK, "ok")
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.ClearSchedule(r.Context()); err != nil {
		respondError(w, err)
		return
	}
	respondStatus(w, http.StatusOK, "ok")
}

func (s *Server) handleCopyDay(w http.ResponseWriter, r *http.Request) {
	var req struct {
		From string `json:"from"`
		To   string `json:"to"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondStatus(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	from, err := parseDay(req.From)
	if err != nil {
		respondStatus(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := parseDay(req.To)
	if err != nil {
		respondStatus(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.coord.CopyScheduleDay(r.Context(), from, to); err != nil {
		respondError(w, err)
		return
	}
	respondStatus(w, http.StatusOK, "ok")
}

func (s *Server) handleSetOverride(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode              string     `json:"mode"`
		TargetTemperature *float64   `json:"target_temperature,omitempty"`
		Until             *time.Time `json:"until,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondStatus(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	mode, err := climate.ParseMode(req.Mode)
	if err != nil {
		respondStatus(w, http.StatusBadRequest, err.Error())
		return
	}
	cmd := climate.Command{Mode: mode, TargetTemp: req.TargetTemperature}

	if err := s.coord.SetOverride(r.Context(), cmd, req.Until); err != nil {
		respondError(w, err)
		return
	}
	respondStatus(w, http.StatusOK, "ok")
}

func (s *Server) handleClearOverride(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.ClearOverride(r.Context()); err != nil {
		respondError(w, err)
		return
	}
	respondStatus(w, http.StatusOK, "ok")
}

func (s *Server) handlePutSafety(w http.ResponseWriter, r *http.Request) {
	var cfg climate.SafetyConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		respondStatus(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.coord.SetSafetyConfig(r.Context(), cfg); err != nil {
		respondError(w, err)
		return
	}
	respondStatus(w, http.StatusOK, "ok")
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	days := 30
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			respondStatus(w, http.StatusBadRequest, "days must be a positive integer")
			return
		}
		days = parsed
	}

	if r.URL.Query().Get("format") == "csv" {
		csv, err := s.coord.UsageCSV(r.Context(), days)
		if err != nil {
			respondError(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="usage.csv"`)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(csv))
		return
	}

	records, err := s.coord.UsageRecords(r.Context(), days)
	if err != nil {
		respondError(w, err)
		return
	}

	type usageDTO struct {
		Date         string  `json:"date"`
		HeatingHours float64 `json:"heating_hours"`
		CoolingHours float64 `json:"cooling_hours"`
	}
	out := make([]usageDTO, 0, len(records))
	for _, rec := range records {
		out = append(out, usageDTO{
			Date:         rec.Date.Format("2006-01-02"),
			HeatingHours: rec.HeatingHours(),
			CoolingHours: rec.CoolingHours(),
		})
	}
	respondJSON(w, http.StatusOK, out)
}

func parseDay(s string) (time.Weekday, error) {
	switch strings.ToLower(s) {
	case "sunday":
		return time.Sunday, nil
	case "monday":
		return time.Monday, nil
	case "tuesday":
		return time.Tuesday, nil
	case "wednesday":
		return time.Wednesday, nil
	case "thursday":
		return time.Thursday, nil
	case "friday":
		return time.Friday, nil
	case "saturday":
		return time.Saturday, nil
	}
	return 0, fmt.Errorf("invalid day %q: expected monday..sunday", s)
}

func dayName(day time.Weekday) string {
	return strings.ToLower(day.String())
}

// respondError maps coordinator errors to HTTP statuses: validation failures
// are the client's fault, an unreachable device is a gateway problem.
func respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, proxy.ErrDeviceUnavailable):
		respondStatus(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, climate.ErrSafetyBounds),
		errors.Is(err, climate.ErrSafetyHysteresis),
		errors.Is(err, climate.ErrEventTemperature),
		errors.Is(err, climate.ErrDuplicateTime),
		errors.Is(err, climate.ErrEmptySource),
		errors.Is(err, coordinator.ErrInvalidOverride):
		respondStatus(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		respondStatus(w, http.StatusServiceUnavailable, err.Error())
	default:
		log.Error().Err(err).Msg("API request failed")
		respondStatus(w, http.StatusInternalServerError, err.Error())
	}
}

func respondStatus(w http.ResponseWriter, code int, message string) {
	respondJSON(w, code, map[string]string{"status": message})
}

func respondJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("Failed to encode API response")
	}
}
