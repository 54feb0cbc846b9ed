// Package server exposes the homeostat core over HTTP JSON.
//
// Besides the three core contracts (decide_mode, lambda_time, tune) it serves
// scoring, full-pipeline evaluation, admission-controlled routing, checkpoints
// and state inspection. It also owns the daemon's control loop: latencies seen
// by /route and reported to /observe feed a LatencyWindow, and a fixed-period
// loop ticks a controller from that window.
//
// The loop has its own controller. /tune, /evaluate and the MCP tune tool
// drive the core's controller, so a running loop never changes the
// arithmetic a tune caller sees. The loop follows the mode those callers
// last decided. Shedding on /route uses the larger of the two throttles.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/alexshd/homeostat"
	"github.com/alexshd/homeostat/checkpoint"
)

// Options configures a Server.
type Options struct {
	// Store persists checkpoints. Nil disables /checkpoint and /restore.
	Store *checkpoint.Store

	// ShedThrottle is the throttle at or above which /route sheds requests
	// with priority ≤ 0. Zero selects DefaultShedThrottle.
	ShedThrottle float64

	Logger *slog.Logger
}

// DefaultShedThrottle sheds best-effort traffic once the controller asks for
// half of its saturation band.
const DefaultShedThrottle = 50

// Server holds the core and the process-level state around it.
type Server struct {
	core   *homeostat.Core
	store  *checkpoint.Store
	window *homeostat.LatencyWindow
	logger *slog.Logger

	shedThrottle float64

	loop *homeostat.Controller

	mu      sync.Mutex
	drivers [2]tickFeed // Indexed by driver
	started time.Time
}

// driver names who ticked a controller.
type driver int

const (
	driverCaller driver = iota // /tune, /evaluate
	driverLoop                 // RunLoop
)

// tickFeed is the last output of one driver.
type tickFeed struct {
	throttle float64
	advised  bool // Last checkpointRequested, for edge detection
}

// New creates a server around core.
func New(core *homeostat.Core, opts Options) (*Server, error) {
	if core == nil {
		return nil, fmt.Errorf("%w: server requires a core", homeostat.ErrConfig)
	}
	window, err := homeostat.NewLatencyWindow(core.Config().Loop.WindowSize)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	shed := opts.ShedThrottle
	if shed == 0 {
		shed = DefaultShedThrottle
	}
	loop, err := homeostat.NewController(core.Config().PID, logger.With("component", "loop"))
	if err != nil {
		return nil, err
	}

	return &Server{
		core:         core,
		store:        opts.Store,
		window:       window,
		logger:       logger,
		shedThrottle: shed,
		loop:         loop,
		started:      time.Now(),
	}, nil
}

// Window returns the latency window fed by the server.
func (s *Server) Window() *homeostat.LatencyWindow { return s.window }

// LoopController returns the controller ticked by RunLoop.
func (s *Server) LoopController() *homeostat.Controller { return s.loop }

// Handler returns the HTTP handler with all routes and middleware.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/decide_mode", s.handleDecideMode).Methods(http.MethodPost)
	r.HandleFunc("/lambda_time", s.handleLambdaTime).Methods(http.MethodPost)
	r.HandleFunc("/tune", s.handleTune).Methods(http.MethodPost)

	r.HandleFunc("/utility", s.handleUtility).Methods(http.MethodPost)
	r.HandleFunc("/resilience", s.handleResilience).Methods(http.MethodPost)
	r.HandleFunc("/evaluate", s.handleEvaluate).Methods(http.MethodPost)
	r.Handle("/route", withLatency(s.window)(http.HandlerFunc(s.handleRoute))).Methods(http.MethodPost)
	r.HandleFunc("/observe", s.handleObserve).Methods(http.MethodPost)

	r.HandleFunc("/checkpoint", s.handleCheckpoint).Methods(http.MethodPost)
	r.HandleFunc("/checkpoints", s.handleListCheckpoints).Methods(http.MethodGet)
	r.HandleFunc("/restore", s.handleRestore).Methods(http.MethodPost)
	r.HandleFunc("/reset", s.handleReset).Methods(http.MethodPost)

	r.HandleFunc("/state", s.handleState).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)

	r.Use(withRequestID, withLogging(s.logger))
	return r
}

// RunLoop ticks the loop controller from the latency window at the configured
// period until ctx is done. Periods with an empty window are skipped.
func (s *Server) RunLoop(ctx context.Context) error {
	cfg := s.core.Config()
	src := homeostat.WindowSource{
		Window:   s.window,
		Lmax:     cfg.LmaxMs,
		ModeFunc: s.core.Controller().LastMode,
	}
	s.logger.Info("control loop started", "period", cfg.Loop.Period, "lmax", cfg.LmaxMs)

	err := s.loop.Run(ctx, cfg.Loop.Period, src, loopSink{s: s, lmax: cfg.LmaxMs})
	if errors.Is(err, context.Canceled) {
		s.logger.Info("control loop stopped")
		return nil
	}
	return err
}

type loopSink struct {
	s    *Server
	lmax float64
}

// Publish implements homeostat.SignalSink.
func (l loopSink) Publish(ctx context.Context, res homeostat.TickResult) {
	l.s.observeTick(ctx, driverLoop, res.ThrottleDelta, res.CheckpointRequested, res.Error+l.lmax, l.lmax)
}

func (s *Server) controllerFor(d driver) *homeostat.Controller {
	if d == driverLoop {
		return s.loop
	}
	return s.core.Controller()
}

// observeTick records a driver's latest throttle and saves a checkpoint of
// that driver's controller when its advice rises from false to true.
func (s *Server) observeTick(ctx context.Context, d driver, throttle float64, advised bool, latencyP99, lmax float64) {
	s.mu.Lock()
	feed := &s.drivers[d]
	feed.throttle = throttle
	rising := advised && !feed.advised
	feed.advised = advised
	s.mu.Unlock()

	if !rising || s.store == nil {
		return
	}
	snap, err := s.store.Save(ctx, checkpoint.Snapshot{
		Reason:     checkpoint.ReasonAdvised,
		State:      s.controllerFor(d).State(),
		LatencyP99: latencyP99,
		Lmax:       lmax,
	})
	if err != nil {
		s.logger.Error("advised checkpoint failed", "error", err)
		return
	}
	s.logger.Info("advised checkpoint saved", "id", snap.ID, "lat_p99", latencyP99, "driver", d)
}

// currentThrottle returns the larger throttle of the two drivers and whether
// either currently advises a checkpoint.
func (s *Server) currentThrottle() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	caller, loop := s.drivers[driverCaller], s.drivers[driverLoop]
	return max(caller.throttle, loop.throttle), caller.advised || loop.advised
}
