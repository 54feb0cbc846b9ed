package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alexshd/homeostat"
	"github.com/alexshd/homeostat/checkpoint"
)

// Error names used in addition to the core error kinds.
const (
	kindNotFound    = "NotFound"
	kindUnavailable = "Unavailable"
	kindInternal    = "Internal"
)

// maxLatencyMs bounds observed latencies to one day so the conversion to
// time.Duration cannot overflow.
const maxLatencyMs = 24 * 60 * 60 * 1000

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// writeJSON encodes before writing the header so an unencodable value
// becomes a 500 instead of a 200 with a truncated body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		slog.Error("encode response", "error", err)
		status = http.StatusInternalServerError
		body, _ = json.Marshal(errorResponse{Error: kindInternal, Detail: err.Error()})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}

// writeError maps a core error kind to its status: input problems are 400,
// well-formed inputs the model rejects are 422.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := homeostat.ErrorKind(err)
	status := http.StatusInternalServerError

	switch {
	case kind == homeostat.KindInvalidTelemetry, kind == homeostat.KindConfig:
		status = http.StatusBadRequest
	case kind == homeostat.KindInvalidRegime, kind == homeostat.KindDomain:
		status = http.StatusUnprocessableEntity
	case errors.Is(err, checkpoint.ErrNotFound):
		kind, status = kindNotFound, http.StatusNotFound
	default:
		kind = kindInternal
		s.logger.Error("request failed", "path", r.URL.Path, "error", err, "request_id", RequestID(r.Context()))
	}
	writeJSON(w, status, errorResponse{Error: kind, Detail: err.Error()})
}

// decode reads a JSON body, rejecting unknown fields. An empty body decodes
// to the zero value.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: malformed body: %v", homeostat.ErrInvalidTelemetry, err)
	}
	return nil
}

func required(name string, v *float64) (float64, error) {
	if v == nil {
		return 0, fmt.Errorf("%w: %s is required", homeostat.ErrInvalidTelemetry, name)
	}
	return *v, nil
}

func parseMode(name string, v *int) (homeostat.Mode, error) {
	if v == nil {
		return homeostat.Steady, fmt.Errorf("%w: %s is required", homeostat.ErrInvalidTelemetry, name)
	}
	return homeostat.ParseMode(*v)
}

type decideModeRequest struct {
	Theta *float64 `json:"theta"`
}

type decideModeResponse struct {
	State    homeostat.Mode `json:"state"`
	ModeName string         `json:"mode_name"`
}

func (s *Server) handleDecideMode(w http.ResponseWriter, r *http.Request) {
	var req decideModeRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	theta, err := required("theta", req.Theta)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	mode, err := s.core.DecideMode(theta)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, decideModeResponse{State: mode, ModeName: mode.DisplayName()})
}

type lambdaTimeRequest struct {
	Mode        *int     `json:"mode"`
	T1          *float64 `json:"T1"`
	K           *float64 `json:"k"`
	P           *float64 `json:"P"`
	U           *float64 `json:"U"`
	SeriesTerms int      `json:"series_terms,omitempty"`
}

type lambdaTimeResponse struct {
	Value      float64        `json:"value"`
	State      homeostat.Mode `json:"state"`
	ModeName   string         `json:"mode_name"`
	Formula    string         `json:"formula"`
	Convergent bool           `json:"convergent"`
	Path       homeostat.Path `json:"path"`
}

func toLambdaResponse(res homeostat.LambdaResult) lambdaTimeResponse {
	return lambdaTimeResponse{
		Value:      res.Value,
		State:      res.Mode,
		ModeName:   res.ModeName,
		Formula:    res.Formula,
		Convergent: res.Convergent,
		Path:       res.Path,
	}
}

func (r lambdaTimeRequest) inputs() (mode homeostat.Mode, t1, k, p, u float64, err error) {
	if mode, err = parseMode("mode", r.Mode); err != nil {
		return
	}
	if t1, err = required("T1", r.T1); err != nil {
		return
	}
	if k, err = required("k", r.K); err != nil {
		return
	}
	if p, err = required("P", r.P); err != nil {
		return
	}
	u, err = required("U", r.U)
	return
}

func (s *Server) handleLambdaTime(w http.ResponseWriter, r *http.Request) {
	var req lambdaTimeRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	mode, t1, k, p, u, err := req.inputs()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.core.LambdaTime(mode, t1, k, p, u, req.SeriesTerms)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLambdaResponse(res))
}

type tuneRequest struct {
	LatencyP99 *float64 `json:"lat_p99"`
	Lmax       *float64 `json:"Lmax"`
	Mode       *int     `json:"mode,omitempty"`
	DT         float64  `json:"dt,omitempty"`
}

func (s *Server) handleTune(w http.ResponseWriter, r *http.Request) {
	var req tuneRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	lat, err := required("lat_p99", req.LatencyP99)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	lmax, err := required("Lmax", req.Lmax)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var mode *homeostat.Mode
	if req.Mode != nil {
		m, err := homeostat.ParseMode(*req.Mode)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		mode = &m
	}

	res, err := s.core.Tune(lat, lmax, mode, req.DT)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.observeTick(r.Context(), driverCaller, res.ThrottleDelta, res.CheckpointRequested, lat, lmax)
	writeJSON(w, http.StatusOK, res)
}

type scoreRequest struct {
	Telemetry homeostat.TelemetrySnapshot `json:"telemetry"`
}

func (s *Server) handleUtility(w http.ResponseWriter, r *http.Request) {
	var req scoreRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	b, err := homeostat.EvaluateUtility(req.Telemetry, s.core.Config().UtilityWeights)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleResilience(w http.ResponseWriter, r *http.Request) {
	var req scoreRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	cfg := s.core.Config()
	scorer, err := homeostat.NewResilienceScorer(cfg.LmaxMs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	theta, err := scorer.Score(req.Telemetry, cfg.ResilienceWeights)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"theta": theta})
}

type evaluateRequest struct {
	Telemetry homeostat.TelemetrySnapshot `json:"telemetry"`
	T1        *float64                    `json:"T1"`
	K         *float64                    `json:"k"`
	P         *float64                    `json:"P"`
	DT        float64                     `json:"dt,omitempty"`
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	var (
		tw  homeostat.TimeWrapInput
		err error
	)
	if tw.T1, err = required("T1", req.T1); err == nil {
		if tw.K, err = required("k", req.K); err == nil {
			tw.P, err = required("P", req.P)
		}
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	dt := req.DT
	if dt == 0 {
		dt = s.core.Config().Loop.TuneDT
	}
	// A Λ failure still commits the tick, so the signal goes out as 200 with
	// lambda_error set rather than hiding the new throttle behind a 422.
	sig, err := s.core.Step(req.Telemetry, tw, dt)
	if err != nil && !sig.Ticked() {
		s.writeError(w, r, err)
		return
	}
	s.observeTick(r.Context(), driverCaller, sig.ThrottleDelta, sig.CheckpointRequested, req.Telemetry.LatencyP99, s.core.Config().LmaxMs)
	writeJSON(w, http.StatusOK, sig)
}

type routeRequest struct {
	RequestID string   `json:"request_id,omitempty"`
	Priority  int      `json:"priority"`
	Mode      *int     `json:"mode"`
	T1        *float64 `json:"T1"`
	K         *float64 `json:"k"`
	P         *float64 `json:"P"`
	U         *float64 `json:"U"`
}

type routeResponse struct {
	RequestID string         `json:"request_id"`
	Path      homeostat.Path `json:"path"`
	Lambda    float64        `json:"lambda"`
	Throttle  float64        `json:"throttle"`
}

// handleRoute assigns a request to the fast or slow path by its Λ. Requests
// with priority ≤ 0 are shed with 503 while the controller's throttle is at
// or above the shed threshold; priority > 5 always takes the fast path.
func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	var req routeRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.RequestID == "" {
		req.RequestID = RequestID(r.Context())
	}

	throttle, _ := s.currentThrottle()
	if req.Priority <= 0 && throttle >= s.shedThrottle {
		s.logger.Warn("shedding request",
			"request_id", req.RequestID,
			"throttle", throttle,
			"threshold", s.shedThrottle)
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: kindUnavailable, Detail: "shedding load"})
		return
	}

	mode, t1, k, p, u, err := lambdaTimeRequest{Mode: req.Mode, T1: req.T1, K: req.K, P: req.P, U: req.U}.inputs()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.core.LambdaTime(mode, t1, k, p, u, 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	path := res.Path
	if req.Priority > 5 {
		path = homeostat.FastPath
	}
	writeJSON(w, http.StatusOK, routeResponse{
		RequestID: req.RequestID,
		Path:      path,
		Lambda:    res.Value,
		Throttle:  throttle,
	})
}

type observeRequest struct {
	LatencyMs []float64 `json:"latency_ms"`
}

// handleObserve accepts latencies measured elsewhere.
func (s *Server) handleObserve(w http.ResponseWriter, r *http.Request) {
	var req observeRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	for _, ms := range req.LatencyMs {
		if !(ms >= 0 && ms <= maxLatencyMs) {
			s.writeError(w, r, fmt.Errorf("%w: latency_ms must be in [0, %d], got %v", homeostat.ErrInvalidTelemetry, maxLatencyMs, ms))
			return
		}
	}
	for _, ms := range req.LatencyMs {
		s.window.Observe(time.Duration(ms * float64(time.Millisecond)))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accepted": len(req.LatencyMs),
		"p99_ms":   s.window.P99Millis(),
	})
}

type checkpointRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleCheckpoint(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	var req checkpointRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	snap, err := s.store.Save(r.Context(), checkpoint.Snapshot{
		Reason:     req.Reason,
		State:      s.core.Controller().State(),
		LatencyP99: s.window.P99Millis(),
		Lmax:       s.core.Config().LmaxMs,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("checkpoint saved", "id", snap.ID, "reason", snap.Reason)
	writeJSON(w, http.StatusCreated, map[string]any{
		"checkpoint_id": snap.ID,
		"timestamp":     snap.CreatedAt.Format(time.RFC3339Nano),
	})
}

func (s *Server) handleListCheckpoints(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	snaps, err := s.store.List(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if snaps == nil {
		snaps = []checkpoint.Snapshot{}
	}
	writeJSON(w, http.StatusOK, snaps)
}

type restoreRequest struct {
	ID string `json:"id,omitempty"`
}

// handleRestore rolls the controller back to a snapshot, the latest when no
// id is given.
func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	var req restoreRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	var (
		snap checkpoint.Snapshot
		err  error
	)
	if req.ID == "" {
		snap, err = s.store.Latest(r.Context())
	} else {
		snap, err = s.store.Load(r.Context(), req.ID)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.core.Controller().Restore(snap.State); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.resetAdvice()
	writeJSON(w, http.StatusOK, map[string]any{
		"checkpoint_id": snap.ID,
		"state":         snap.State,
	})
}

// handleReset zeroes both controllers.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.core.Controller().Reset()
	s.loop.Reset()
	s.resetAdvice()
	writeJSON(w, http.StatusOK, s.core.Controller().State())
}

func (s *Server) resetAdvice() {
	s.mu.Lock()
	s.drivers = [2]tickFeed{}
	s.mu.Unlock()
}

func (s *Server) feed(d driver) tickFeed {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drivers[d]
}

func (s *Server) requireStore(w http.ResponseWriter) bool {
	if s.store != nil {
		return true
	}
	writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: kindUnavailable, Detail: "checkpoint store not configured"})
	return false
}

type stateResponse struct {
	homeostat.ControlState
	ModeName            string  `json:"mode_name"`
	Throttle            float64 `json:"throttle"`
	CheckpointRequested bool    `json:"checkpoint_requested"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	st := s.core.Controller().State()
	feed := s.feed(driverCaller)
	writeJSON(w, http.StatusOK, stateResponse{
		ControlState:        st,
		ModeName:            st.LastMode.DisplayName(),
		Throttle:            feed.throttle,
		CheckpointRequested: feed.advised,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "homeostat",
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cfg := s.core.Config()
	stats := s.window.Statistics()
	throttle, advised := s.currentThrottle()

	writeJSON(w, http.StatusOK, map[string]any{
		"service": "homeostat",
		"uptime":  time.Since(s.started).Round(time.Second).String(),
		"formulas": map[string]string{
			"wrap":   "T₁·ln(U) / (1 − 1/(k·P))",
			"steady": "T₁·ln(U)",
			"unwrap": "T₁·ln(U) / (1 − k·P)",
		},
		"thresholds": cfg.Mode,
		"lmax_ms":    cfg.LmaxMs,
		"latency": map[string]any{
			"samples": s.window.Len(),
			"total":   s.window.Total(),
			"p50_ms":  float64(stats.P50) / float64(time.Millisecond),
			"p99_ms":  float64(stats.P99) / float64(time.Millisecond),
			"tail":    tailView(s.window.Tail()),
		},
		"control": map[string]any{
			"state":                s.core.Controller().State(),
			"loop_state":           s.loop.State(),
			"loop_throttle":        s.feed(driverLoop).throttle,
			"throttle":             throttle,
			"checkpoint_requested": advised,
			"shed_throttle":        s.shedThrottle,
		},
		"checkpoints": s.store != nil,
	})
}

func tailView(ts homeostat.TailStats) map[string]any {
	return map[string]any{
		"p999_ms":      float64(ts.P999) / float64(time.Millisecond),
		"ratio":        ts.Ratio,
		"pareto_alpha": ts.ParetoAlpha,
		"regime":       ts.Regime,
	}
}
