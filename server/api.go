package server

import (
	"embed"
	"net/http"
	"time"

	"github.com/cyclopcam/staticfiles"
	"github.com/cyclopcam/www"
	"github.com/go-chi/httprate"
	"github.com/julienschmidt/httprouter"
)

//go:embed www
var staticWWW embed.FS

// Per-IP request limits. Frames arrive at camera rate, so the detect limit is generous.
const (
	detectRequestsPerSecond = 60
	apiRequestsPerSecond    = 20
)

func (s *Server) setupHttpRoutes() {
	router := httprouter.New()

	// We create a unique rate limiter for each endpoint, so we don't need httprate.KeyByEndpoint
	ratelimited := func(method, route string, handle httprouter.Handle, requestLimit int, windowLength time.Duration) {
		limited := httprate.Limit(requestLimit, windowLength, httprate.WithKeyFuncs(httprate.KeyByIP))
		www.Handle(s.Log, router, method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			limited(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handle(w, r, params)
			})).ServeHTTP(w, r)
		})
	}
	api := func(method, route string, handle httprouter.Handle) {
		ratelimited(method, route, handle, apiRequestsPerSecond, time.Second)
	}

	api("GET", "/api/ping", s.httpPing)
	api("GET", "/api/models", s.httpModelsList)
	api("POST", "/api/models", s.httpModelsAdd)
	api("POST", "/api/models/active/:name", s.httpModelsSetActive)
	api("GET", "/api/session", s.httpSession)
	api("GET", "/api/recent", s.httpRecent)
	ratelimited("POST", "/api/detect", s.httpDetect, detectRequestsPerSecond, time.Second)
	ratelimited("POST", "/api/detect/jpeg", s.httpDetectJPEG, detectRequestsPerSecond, time.Second)
	// The websocket is a long lived connection, so only the upgrade itself is limited
	api("GET", "/api/stream", s.httpStream)

	static, err := staticfiles.NewCachedStaticFileServer(staticWWW, "www", []string{"/api/"}, s.Log, true, nil)
	if err != nil {
		s.Log.Warnf("Error in static files: %v", err)
	} else {
		router.NotFound = static
	}

	s.httpRouter = router
}

func (s *Server) httpPing(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.SendText(w, "pong")
}
