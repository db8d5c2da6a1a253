package server

import (
	"errors"
	"net/http"

	"github.com/cyclopcam/camdetect/pkg/nn"
	"github.com/cyclopcam/camdetect/pkg/perfstats"
	"github.com/cyclopcam/camdetect/pkg/session"
	"github.com/cyclopcam/camdetect/server/configdb"
	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

func (s *Server) httpModelsList(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	type response struct {
		Models []configdb.Model `json:"models"`
		Active string           `json:"active"`
	}
	models, err := s.configDB.Models()
	www.Check(err)
	resp := response{
		Models: models,
	}
	if active, err := s.configDB.ActiveModel(); err == nil {
		resp.Active = active.Name
	} else if !errors.Is(err, configdb.ErrEmptyCatalog) {
		www.Check(err)
	}
	www.SendJSON(w, &resp)
}

// Add a model to the catalog, or replace the model with the same name.
// Replacing the running model rebuilds its session, so that a new threshold takes
// effect immediately. If the new session fails to load, nothing is changed.
func (s *Server) httpModelsAdd(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	cfg := nn.ModelConfig{}
	www.ReadJSON(w, r, &cfg, 64*1024)
	if cfg.Name == "" {
		www.PanicBadRequestf("Model name may not be empty")
	}
	if err := cfg.Validate(); err != nil {
		www.PanicBadRequestf("%v", err)
	}
	if err := cfg.ValidateLocalPaths(); err != nil {
		www.PanicBadRequestf("%v", err)
	}

	var sess *session.Session
	if s.isRunningModel(cfg.Name) {
		var err error
		sess, err = session.New(s.Log, cfg, s.resources, s.loader)
		if err != nil {
			www.PanicServerErrorf("Failed to load model '%v': %v", cfg.Name, err)
		}
	}
	if err := s.configDB.AddModel(cfg); err != nil {
		if sess != nil {
			sess.Close()
		}
		www.Check(err)
	}
	if sess != nil {
		s.swapSession(sess)
	}
	www.SendOK(w)
}

// Returns true if the current session was built from the model with the given name
func (s *Server) isRunningModel(name string) bool {
	running := false
	s.withSession(func(sess *session.Session) {
		running = sess != nil && sess.Config().Name == name
	})
	return running
}

// Select the active model.
// The new session is built before the old one is released, so a model that fails
// to load leaves the previous model running, and the choice is not persisted.
func (s *Server) httpModelsSetActive(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	name := params.ByName("name")
	m, err := s.configDB.GetModel(name)
	if errors.Is(err, configdb.ErrModelNotInCatalog) {
		www.Panic(http.StatusNotFound, err.Error())
	}
	www.Check(err)

	sess, err := session.New(s.Log, m.ToConfig(), s.resources, s.loader)
	if err != nil {
		www.PanicServerErrorf("Failed to load model '%v': %v", name, err)
	}
	if err := s.configDB.SetActiveModel(name); err != nil {
		sess.Close()
		www.Check(err)
	}
	s.swapSession(sess)
	www.SendOK(w)
}

type sessionJSON struct {
	Loaded       bool                `json:"loaded"`
	Config       *nn.ModelConfig     `json:"config,omitempty"`
	Classes      []string            `json:"classes,omitempty"`
	IsProcessing bool                `json:"isProcessing"`
	Stats        *perfstats.Snapshot `json:"stats,omitempty"`
}

func (s *Server) httpSession(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	resp := sessionJSON{}
	s.withSession(func(sess *session.Session) {
		if sess == nil {
			return
		}
		cfg := sess.Config()
		stats := sess.Stats()
		resp.Loaded = true
		resp.Config = &cfg
		resp.Classes = sess.Labels().Classes()
		resp.IsProcessing = sess.IsProcessing()
		resp.Stats = &stats
	})
	www.SendJSON(w, &resp)
}
