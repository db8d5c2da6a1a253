package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cyclopcam/camdetect/pkg/nn"
	"github.com/cyclopcam/camdetect/pkg/session"
	"github.com/cyclopcam/camdetect/server/configdb"
	"github.com/cyclopcam/logs"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

// Server exposes the active detection session over HTTP
type Server struct {
	Log logs.Log

	configDB   *configdb.ConfigDB
	resources  session.Resources
	loader     nn.BackendLoader
	signalIn   chan os.Signal
	httpServer *http.Server
	httpRouter *httprouter.Router
	wsUpgrader websocket.Upgrader
	recent     *recentResults

	// Frames hold a read lock while they run, so that a model swap waits for
	// in-flight frames before closing the old session.
	sessionLock sync.RWMutex
	session     *session.Session // nil if no model could be loaded
}

// Create a new server, and load the active model from the catalog.
// Failure to load the model is not fatal. The server runs without a session
// until a model is successfully selected.
func NewServer(log logs.Log, configDB *configdb.ConfigDB, resources session.Resources, loader nn.BackendLoader) (*Server, error) {
	s := &Server{
		Log:       log,
		configDB:  configDB,
		resources: resources,
		loader:    loader,
		recent:    newRecentResults(),
	}
	s.wsUpgrader.ReadBufferSize = 64 * 1024
	s.wsUpgrader.WriteBufferSize = 4096

	active, err := configDB.ActiveModel()
	if errors.Is(err, configdb.ErrEmptyCatalog) {
		log.Warnf("Model catalog is empty. Add a model before running detection.")
	} else if err != nil {
		return nil, err
	} else if sess, err := session.New(log, active, resources, loader); err != nil {
		log.Errorf("Failed to load active model '%v': %v", active.Name, err)
	} else {
		s.session = sess
	}

	s.setupHttpRoutes()
	return s, nil
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.httpRouter
}

// port example: ":8080"
func (s *Server) ListenHTTP(port string) error {
	s.Log.Infof("Listening on %v", port)
	s.httpServer = &http.Server{
		Addr:    port,
		Handler: s.httpRouter,
	}
	return s.httpServer.ListenAndServe()
}

// Replace the active session.
// Waits for in-flight frames to finish before closing the old session.
func (s *Server) swapSession(sess *session.Session) {
	s.sessionLock.Lock()
	old := s.session
	s.session = sess
	s.sessionLock.Unlock()
	if old != nil {
		old.Close()
	}
}

// Run f with the current session, which is nil if no model is loaded.
// The session will not be closed while f runs.
func (s *Server) withSession(f func(sess *session.Session)) {
	s.sessionLock.RLock()
	defer s.sessionLock.RUnlock()
	f(s.session)
}

func (s *Server) ListenForKillSignals() {
	s.Log.Infof("ListenForKillSignals starting")
	s.signalIn = make(chan os.Signal, 1)
	signal.Notify(s.signalIn, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig, ok := <-s.signalIn
		if ok {
			s.Log.Infof("Received OS signal '%v'. ListenForKillSignals will exit after shutdown", sig.String())
			s.Shutdown()
		} else {
			s.Log.Infof("signalIn closed. ListenForKillSignals will exit now")
		}
	}()
}

func (s *Server) Shutdown() {
	s.Log.Infof("Shutdown")
	if s.signalIn != nil {
		signal.Stop(s.signalIn)
		close(s.signalIn)
	}
	if s.httpServer != nil {
		s.Log.Infof("Closing HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := s.httpServer.Shutdown(ctx)
		cancel()
		if err != nil {
			s.Log.Warnf("HTTP shutdown error: %v", err)
		}
	}
	s.swapSession(nil)
	if err := s.configDB.Close(); err != nil {
		s.Log.Warnf("Error closing config DB: %v", err)
	}
	s.Log.Infof("Shutdown complete")
}
