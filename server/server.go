package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/janelia-flyem/n5ng"
	"github.com/janelia-flyem/n5ng/precomputed"
	"github.com/janelia-flyem/n5ng/storage"
	"github.com/twinj/uuid"
	"golang.org/x/net/netutil"
)

// Server is the HTTP front end for one array store.
type Server struct {
	cfg        Config
	store      *storage.Store
	svc        *precomputed.Service
	metrics    *metrics
	activity   *ActivityLog
	instanceID string
	started    time.Time
	handler    http.Handler
}

// New returns a Server translating the given store.  The configuration must already be
// validated.
func New(cfg Config, store *storage.Store) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		store:      store,
		svc:        precomputed.NewService(store, cfg.PrecomputedConfig()),
		metrics:    newMetrics(store),
		instanceID: fmt.Sprintf("%x", uuid.NewV4().Bytes()),
		started:    time.Now(),
	}
	activity, err := NewActivityLog(cfg.Kafka, s.instanceID)
	if err != nil {
		return nil, fmt.Errorf("unable to start kafka activity log: %v", err)
	}
	s.activity = activity
	s.handler = s.routes()
	return s, nil
}

// Service returns the precomputed service behind the server.
func (s *Server) Service() *precomputed.Service {
	return s.svc
}

// ServeHTTP handles a single request.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Listen binds the configured address, or the fallback address if the first cannot be
// bound.  The listener is capped to [server].maxConnections if set.
func (s *Server) Listen() (net.Listener, error) {
	ln, err := listenWithFallback(s.cfg.Server.HTTPAddress, s.cfg.Server.FallbackAddress)
	if err != nil {
		return nil, err
	}
	if limit := s.cfg.Server.MaxConnections; limit > 0 {
		n5ng.Infof("Limiting web server to %d simultaneous connections\n", limit)
		ln = netutil.LimitListener(ln, limit)
	}
	return ln, nil
}

func listenWithFallback(addr, fallback string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err == nil {
		return ln, nil
	}
	if fallback == "" || fallback == addr {
		return nil, err
	}
	n5ng.Warningf("Unable to listen on %s (%v), trying fallback %s\n", addr, err, fallback)
	ln, err2 := net.Listen("tcp", fallback)
	if err2 != nil {
		return nil, fmt.Errorf("unable to listen on %s (%v) or fallback %s (%v)", addr, err, fallback, err2)
	}
	return ln, nil
}

// Serve handles requests on the listener until the context is done, then gives
// in-flight requests [server].shutdownDelay seconds to finish.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 30 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		n5ng.Infof("Web server listening at %s (%s) ...\n", ln.Addr(), s.cfg.WebServer())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	delay := time.Duration(s.cfg.Server.ShutdownDelay) * time.Second
	n5ng.Infof("Shutting down web server, waiting up to %s for requests...\n", delay)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), delay)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("web server shutdown: %v", err)
	}
	return nil
}

// Close flushes the activity log.  The store is owned by the caller.
func (s *Server) Close() {
	s.activity.Close()
}
