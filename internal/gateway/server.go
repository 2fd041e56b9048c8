package gateway

import (
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/adi3g/guardian/internal/config"
	"github.com/adi3g/guardian/internal/logging"
)

const shutdownTimeout = 10 * time.Second

// Server ties an App to an HTTP listener with graceful shutdown.
type Server struct {
	cfg       *config.Config
	app       *App
	logCloser io.Closer
}

// NewServer builds the logger and the App from a loaded configuration.
func NewServer(cfg *config.Config) (*Server, error) {
	var logCloser io.Closer
	if cfg.Logging.Enabled {
		logger, closer, err := logging.New(logging.Config{
			Level:  cfg.Logging.LogLevel,
			Format: cfg.Logging.LogFormat,
			Output: cfg.Logging.LogFile,
		})
		if err != nil {
			return nil, err
		}
		logging.SetGlobal(logger)
		logCloser = closer
	}

	app, err := NewApp(cfg)
	if err != nil {
		return nil, err
	}

	return &Server{
		cfg:       cfg,
		app:       app,
		logCloser: logCloser,
	}, nil
}

// App returns the server's application value.
func (s *Server) App() *App {
	return s.app
}

// Run serves until SIGINT/SIGTERM, then drains in-flight requests.
func (s *Server) Run() error {
	s.app.Start()

	addr := net.JoinHostPort(s.cfg.General.ListenAddress, strconv.Itoa(s.cfg.General.ListenPort))
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.app.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logging.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()

	logging.Sync()
	if s.logCloser != nil {
		s.logCloser.Close()
	}
	return err
}
