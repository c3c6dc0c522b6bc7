package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/cuemby/testnet-deploy/pkg/log"
)

// RunStatus is the JSON body served on /status during a long-running command
type RunStatus struct {
	Status    string            `json:"status"` // "running", "degraded", "failed"
	Timestamp time.Time         `json:"timestamp"`
	Phases    map[string]string `json:"phases,omitempty"`
	Uptime    string            `json:"uptime,omitempty"`
}

type phaseState struct {
	ok      bool
	message string
}

var board = &statusBoard{
	phases:    make(map[string]phaseState),
	startTime: time.Now(),
}

type statusBoard struct {
	mu        sync.RWMutex
	phases    map[string]phaseState
	startTime time.Time
}

// RecordPhase records the outcome of a phase for /status
func RecordPhase(phase string, ok bool, message string) {
	board.mu.Lock()
	defer board.mu.Unlock()
	board.phases[phase] = phaseState{ok: ok, message: message}
}

// ResetPhases clears recorded phases
func ResetPhases() {
	board.mu.Lock()
	defer board.mu.Unlock()
	board.phases = make(map[string]phaseState)
}

// GetRunStatus summarises the recorded phases
func GetRunStatus() RunStatus {
	board.mu.RLock()
	defer board.mu.RUnlock()

	status := "running"
	phases := make(map[string]string, len(board.phases))
	for name, p := range board.phases {
		if p.ok {
			phases[name] = "ok"
			continue
		}
		status = "degraded"
		phases[name] = "failed: " + p.message
	}

	return RunStatus{
		Status:    status,
		Timestamp: time.Now(),
		Phases:    phases,
		Uptime:    time.Since(board.startTime).String(),
	}
}

// StatusHandler serves the current RunStatus
func StatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(GetRunStatus())
	}
}

// Serve exposes /metrics and /status on addr until ctx is cancelled
func Serve(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.Handle("/status", StatusHandler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		log.Logger.Info().Str("addr", addr).Msg("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()
}
