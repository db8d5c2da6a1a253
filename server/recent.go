package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/bmharper/ringbuffer"
	"github.com/cyclopcam/camdetect/pkg/nn"
	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

// Number of results kept in the recent history. Must be a power of 2.
const recentHistorySize = 32

// A result that was produced by the active session
type recentResult struct {
	Time   time.Time           `json:"time"`
	Model  string              `json:"model"`
	Result *nn.InferenceResult `json:"result"`
}

// The most recent results, regardless of which client sent the frame
type recentResults struct {
	lock    sync.Mutex
	history ringbuffer.RingP[recentResult]
}

func newRecentResults() *recentResults {
	return &recentResults{
		history: ringbuffer.NewRingP[recentResult](recentHistorySize),
	}
}

func (r *recentResults) add(model string, result *nn.InferenceResult) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.history.Add(recentResult{
		Time:   time.Now().UTC(),
		Model:  model,
		Result: result,
	})
}

// Returns the history, newest first
func (r *recentResults) list() []recentResult {
	r.lock.Lock()
	defer r.lock.Unlock()
	n := r.history.Len()
	out := make([]recentResult, 0, n)
	for i := n - 1; i >= 0; i-- {
		out = append(out, r.history.Peek(i))
	}
	return out
}

func (s *Server) httpRecent(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.SendJSON(w, s.recent.list())
}
