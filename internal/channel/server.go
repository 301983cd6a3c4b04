package channel

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"
)

type ServerConfig struct {
	Host string
	Port int

	WebhookPath string // default /whatsapp/webhook
	WhatsApp    http.Handler
	Internal    *Internal

	MetricsPath string // empty disables the endpoint
	Metrics     http.Handler

	Logger *slog.Logger
}

// Server is the single HTTP listener of the relay.
type Server struct {
	addr   string
	mux    *http.ServeMux
	server *http.Server
	logger *slog.Logger
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.WebhookPath == "" {
		cfg.WebhookPath = "/whatsapp/webhook"
	}

	mux := http.NewServeMux()
	if cfg.WhatsApp != nil {
		mux.Handle("POST "+cfg.WebhookPath, cfg.WhatsApp)
	}
	if cfg.Internal != nil {
		mux.HandleFunc("POST /internal/send", cfg.Internal.HandleSend)
		mux.HandleFunc("POST /internal/checkin", cfg.Internal.HandleCheckin)
	}
	if cfg.MetricsPath != "" && cfg.Metrics != nil {
		mux.Handle("GET "+cfg.MetricsPath, cfg.Metrics)
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	return &Server{
		addr: addr,
		mux:  mux,
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      60 * time.Second, // generation budget plus slack
			IdleTimeout:       120 * time.Second,
			MaxHeaderBytes:    1 << 20,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) Addr() string { return s.addr }

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("http server starting", "addr", s.addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	}
}
