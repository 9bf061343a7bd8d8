// Package dashboard serves a read-only JSON view of a running server.
//
// The simulation loop owns the server and is not safe to read from another
// goroutine, so the loop captures a Snapshot after each frame and publishes
// it here. Handlers only ever see published snapshots.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// Config holds dashboard configuration options.
type Config struct {
	// BindAddress is the address to bind the HTTP server to.
	// Default: "127.0.0.1"
	BindAddress string

	// Port is the port to listen on. Zero picks a free port.
	Port int

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum duration before timing out writes of the response.
	WriteTimeout time.Duration

	// IdleTimeout is the maximum time to wait for the next request.
	IdleTimeout time.Duration

	Logger zerolog.Logger
}

// DefaultConfig returns the default dashboard configuration.
func DefaultConfig() Config {
	return Config{
		BindAddress:  "127.0.0.1",
		Port:         8080,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
		Logger:       zerolog.Nop(),
	}
}

// Dashboard is the status HTTP server.
type Dashboard struct {
	config Config
	server *http.Server
	ln     net.Listener
	log    zerolog.Logger

	mu        sync.RWMutex
	snap      *Snapshot
	running   bool
	startTime time.Time
}

// New creates a dashboard. Nothing is served until Start.
func New(config Config) *Dashboard {
	def := DefaultConfig()
	if config.BindAddress == "" {
		config.BindAddress = def.BindAddress
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = def.ReadTimeout
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = def.WriteTimeout
	}
	if config.IdleTimeout == 0 {
		config.IdleTimeout = def.IdleTimeout
	}
	return &Dashboard{
		config:    config,
		log:       config.Logger,
		startTime: time.Now(),
	}
}

// Publish replaces the snapshot the handlers serve.
func (d *Dashboard) Publish(s *Snapshot) {
	d.mu.Lock()
	d.snap = s
	d.mu.Unlock()
}

func (d *Dashboard) snapshot() *Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.snap
}

// Handler returns the API routes.
func (d *Dashboard) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", d.handleAPIStatus)
		r.Get("/edicts", d.handleAPIEdicts)
		r.Get("/edicts/{n}", d.handleAPIEdict)
		r.Get("/metrics", d.handleAPIMetrics)
	})
	return r
}

// Start starts the HTTP server. It returns once the listener is bound; the
// server stops when ctx is cancelled or Stop is called.
func (d *Dashboard) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return fmt.Errorf("dashboard already running")
	}

	addr := net.JoinHostPort(d.config.BindAddress, fmt.Sprintf("%d", d.config.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	d.ln = ln
	d.server = &http.Server{
		Handler:      d.Handler(),
		ReadTimeout:  d.config.ReadTimeout,
		WriteTimeout: d.config.WriteTimeout,
		IdleTimeout:  d.config.IdleTimeout,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}
	d.running = true

	go func() {
		if err := d.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			d.log.Error().Err(err).Msg("dashboard server failed")
		}
	}()
	go func() {
		<-ctx.Done()
		d.Stop()
	}()

	d.log.Info().Str("addr", ln.Addr().String()).Msg("dashboard listening")
	return nil
}

// Stop gracefully shuts the server down.
func (d *Dashboard) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return nil
	}
	d.running = false

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return d.server.Shutdown(ctx)
}

// Address returns the bound address, or the configured one before Start.
func (d *Dashboard) Address() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.ln != nil {
		return d.ln.Addr().String()
	}
	return net.JoinHostPort(d.config.BindAddress, fmt.Sprintf("%d", d.config.Port))
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd %dh", days, hours)
}
