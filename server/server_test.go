package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/camdetect/pkg/frame"
	"github.com/cyclopcam/camdetect/pkg/nn"
	"github.com/cyclopcam/camdetect/server/configdb"
	"github.com/cyclopcam/logs"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type memResources map[string]string

func (m memResources) Locate(name string) (string, error) {
	if _, ok := m[name]; !ok {
		return "", fmt.Errorf("%v: %w", name, fs.ErrNotExist)
	}
	return name, nil
}

func (m memResources) Open(name string) (io.ReadCloser, error) {
	s, ok := m[name]
	if !ok {
		return nil, fmt.Errorf("%v: %w", name, fs.ErrNotExist)
	}
	return io.NopCloser(strings.NewReader(s)), nil
}

// fakeBackend reports one exit sign at 0.95 and one door at 0.60
type fakeBackend struct {
	lock    sync.Mutex
	model   string
	closed  bool
	count   float32
	block   chan struct{}
	invoked chan struct{}

	// Number of Invoke calls in flight, and the most that were ever in flight at once
	active    atomic.Int32
	maxActive atomic.Int32
}

func (f *fakeBackend) Close() {
	f.lock.Lock()
	f.closed = true
	f.lock.Unlock()
}

func (f *fakeBackend) isClosed() bool {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.closed
}

func (f *fakeBackend) InputIsQuantized() bool                    { return true }
func (f *fakeBackend) SetInput(slot int, in *nn.ModelInput) error { return nil }

func (f *fakeBackend) Invoke() error {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		m := f.maxActive.Load()
		if n <= m || f.maxActive.CompareAndSwap(m, n) {
			break
		}
	}
	// Give overlapping calls a chance to show up
	time.Sleep(time.Millisecond)
	if f.invoked != nil {
		f.invoked <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	return nil
}

func (f *fakeBackend) Output(slot int) ([]float32, error) {
	switch slot {
	case nn.OutputSlotBoxes:
		return []float32{0.1, 0.1, 0.5, 0.5, 0.2, 0.2, 0.6, 0.6}, nil
	case nn.OutputSlotClasses:
		return []float32{0, 1}, nil
	case nn.OutputSlotScores:
		return []float32{0.95, 0.60}, nil
	case nn.OutputSlotCount:
		return []float32{f.count}, nil
	}
	return nil, fmt.Errorf("invalid output slot %v", slot)
}

type testServer struct {
	*Server
	http *httptest.Server

	lock     sync.Mutex
	backends []*fakeBackend
}

func (ts *testServer) lastBackend() *fakeBackend {
	ts.lock.Lock()
	defer ts.lock.Unlock()
	return ts.backends[len(ts.backends)-1]
}

func newTestServer(t *testing.T) *testServer {
	log := logs.NewTestingLog(t)
	db, err := configdb.NewConfigDB(log, filepath.Join(t.TempDir(), "config.sqlite"))
	require.NoError(t, err)
	require.NoError(t, db.SetActiveModel("Exit Sign Detector"))

	resources := memResources{
		"exit_sign_detector.tflite": "",
		"exit-labels.txt":           "???\nexit\ndoor\n",
		"text_detector_blur.tflite": "",
		// text-labels.txt is missing
	}

	ts := &testServer{}
	loader := func(modelPath string, threadCount int) (nn.Backend, error) {
		if strings.Contains(modelPath, "inception") {
			return nil, fmt.Errorf("no such model")
		}
		b := &fakeBackend{model: modelPath, count: 2}
		ts.lock.Lock()
		ts.backends = append(ts.backends, b)
		ts.lock.Unlock()
		return b, nil
	}

	srv, err := NewServer(log, db, resources, loader)
	require.NoError(t, err)
	ts.Server = srv
	ts.http = httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.http.Close()
		srv.Shutdown()
	})
	return ts
}

func (ts *testServer) post(t *testing.T, path string, body []byte) *http.Response {
	resp, err := http.Post(ts.http.URL+path, "application/octet-stream", bytes.NewReader(body))
	require.NoError(t, err)
	return resp
}

func readJSON(t *testing.T, resp *http.Response, obj any) {
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(obj))
}

func bgraBody(width, height int) []byte {
	return make([]byte, width*height*4)
}

func TestDetectRaw(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.post(t, "/api/detect?width=64&height=48", bgraBody(64, 48))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := nn.InferenceResult{}
	readJSON(t, resp, &result)
	require.Len(t, result.Detections, 1)
	require.Equal(t, "exit", result.Detections[0].ClassName)
	require.Equal(t, nn.ColorGreen, result.Detections[0].Color)
}

func TestRecent(t *testing.T) {
	ts := newTestServer(t)
	for i := 0; i < recentHistorySize+3; i++ {
		resp := ts.post(t, "/api/detect?width=8&height=8", bgraBody(8, 8))
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp, err := http.Get(ts.http.URL + "/api/recent")
	require.NoError(t, err)
	recent := []recentResult{}
	readJSON(t, resp, &recent)
	require.Len(t, recent, recentHistorySize)
	require.Equal(t, "Exit Sign Detector", recent[0].Model)
	require.Len(t, recent[0].Result.Detections, 1)
	require.False(t, recent[0].Time.Before(recent[1].Time))
}

func TestDetectStrided(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.post(t, "/api/detect?width=10&height=10&stride=48", make([]byte, 9*48+40))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDetectMalformed(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.post(t, "/api/detect?width=64&height=48", bgraBody(64, 47))
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.post(t, "/api/detect?width=64&height=48&stride=8", bgraBody(64, 48))
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.post(t, "/api/detect?height=48", bgraBody(64, 48))
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// width*4 overflows to zero
	resp = ts.post(t, "/api/detect?width=4611686018427387904&height=1", nil)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.post(t, "/api/detect/jpeg", []byte("not a jpeg"))
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDetectNoResult(t *testing.T) {
	ts := newTestServer(t)
	ts.lastBackend().count = 0
	resp := ts.post(t, "/api/detect?width=8&height=8", bgraBody(8, 8))
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestDetectJPEG(t *testing.T) {
	ts := newTestServer(t)
	img := cimg.NewImage(32, 24, cimg.PixelFormatRGB)
	jpg, err := cimg.Compress(img, cimg.MakeCompressParams(cimg.Sampling420, 90, 0))
	require.NoError(t, err)
	resp := ts.post(t, "/api/detect/jpeg", jpg)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := nn.InferenceResult{}
	readJSON(t, resp, &result)
	require.Len(t, result.Detections, 1)
}

func TestDetectBusy(t *testing.T) {
	ts := newTestServer(t)
	b := ts.lastBackend()
	b.block = make(chan struct{})
	b.invoked = make(chan struct{}, 1)

	done := make(chan int)
	go func() {
		resp, err := http.Post(ts.http.URL+"/api/detect?width=8&height=8", "application/octet-stream", bytes.NewReader(bgraBody(8, 8)))
		if err != nil {
			done <- 0
			return
		}
		resp.Body.Close()
		done <- resp.StatusCode
	}()
	<-b.invoked

	resp := ts.post(t, "/api/detect?width=8&height=8", bgraBody(8, 8))
	resp.Body.Close()
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	close(b.block)
	require.Equal(t, http.StatusOK, <-done)
}

func TestDetectConcurrent(t *testing.T) {
	ts := newTestServer(t)
	b := ts.lastBackend()

	const nRequests = 40
	var wg sync.WaitGroup
	var nOK, nBusy atomic.Int32
	for i := 0; i < nRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := http.Post(ts.http.URL+"/api/detect?width=8&height=8", "application/octet-stream", bytes.NewReader(bgraBody(8, 8)))
			if err != nil {
				return
			}
			resp.Body.Close()
			switch resp.StatusCode {
			case http.StatusOK:
				nOK.Add(1)
			case http.StatusTooManyRequests:
				nBusy.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), b.maxActive.Load())
	require.GreaterOrEqual(t, nOK.Load(), int32(1))
	require.Equal(t, int32(nRequests), nOK.Load()+nBusy.Load())
}

func TestModels(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.http.URL + "/api/models")
	require.NoError(t, err)
	models := struct {
		Models []configdb.Model `json:"models"`
		Active string           `json:"active"`
	}{}
	readJSON(t, resp, &models)
	require.Len(t, models.Models, 3)
	require.Equal(t, "Exit Sign Detector", models.Active)

	resp, err = http.Get(ts.http.URL + "/api/session")
	require.NoError(t, err)
	sess := sessionJSON{}
	readJSON(t, resp, &sess)
	require.True(t, sess.Loaded)
	require.Equal(t, "Exit Sign Detector", sess.Config.Name)
	require.Equal(t, []string{"exit", "door"}, sess.Classes)
}

func TestSetActiveModel(t *testing.T) {
	ts := newTestServer(t)
	first := ts.lastBackend()

	// Unknown
	resp := ts.post(t, "/api/models/active/Stop%20Sign", nil)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Labels are missing
	resp = ts.post(t, "/api/models/active/Blurry%20Text:%20Total%20Text", nil)
	resp.Body.Close()
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	// Backend fails to load
	resp = ts.post(t, "/api/models/active/300%20Inception%20Exit%20Sign%20Detector", nil)
	resp.Body.Close()
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	// Failures leave the previous model running
	require.False(t, first.isClosed())
	active, err := ts.configDB.ActiveModel()
	require.NoError(t, err)
	require.Equal(t, "Exit Sign Detector", active.Name)

	// Add a new model that reuses the exit sign files, and switch to it
	cfg := nn.ModelConfig{Name: "Exit 2", ModelPath: "exit_sign_detector.tflite", LabelsPath: "exit-labels.txt", InputDimension: 320, MinConfidence: 0.5}
	body, _ := json.Marshal(&cfg)
	resp = ts.post(t, "/api/models", body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.post(t, "/api/models/active/Exit%202", nil)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, first.isClosed())
	require.False(t, ts.lastBackend().isClosed())

	active, err = ts.configDB.ActiveModel()
	require.NoError(t, err)
	require.Equal(t, "Exit 2", active.Name)

	// Lower threshold lets the door through
	resp = ts.post(t, "/api/detect?width=8&height=8", bgraBody(8, 8))
	result := nn.InferenceResult{}
	readJSON(t, resp, &result)
	require.Len(t, result.Detections, 2)
	require.Equal(t, "door", result.Detections[1].ClassName)

	// Invalid model config
	cfg.InputDimension = -1
	body, _ = json.Marshal(&cfg)
	resp = ts.post(t, "/api/models", body)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestReplaceRunningModel(t *testing.T) {
	ts := newTestServer(t)
	first := ts.lastBackend()

	// A lower threshold on the running model takes effect without re-selecting it
	active, err := ts.configDB.ActiveModel()
	require.NoError(t, err)
	active.MinConfidence = 0.5
	body, _ := json.Marshal(&active)
	resp := ts.post(t, "/api/models", body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, first.isClosed())

	resp = ts.post(t, "/api/detect?width=8&height=8", bgraBody(8, 8))
	result := nn.InferenceResult{}
	readJSON(t, resp, &result)
	require.Len(t, result.Detections, 2)

	// A replacement that cannot load leaves both the catalog and the session alone
	second := ts.lastBackend()
	broken := active
	broken.MinConfidence = 0.9
	broken.LabelsPath = "missing-labels.txt"
	body, _ = json.Marshal(&broken)
	resp = ts.post(t, "/api/models", body)
	resp.Body.Close()
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.False(t, second.isClosed())
	m, err := ts.configDB.GetModel(active.Name)
	require.NoError(t, err)
	require.Equal(t, float32(0.5), m.MinConfidence)
	require.Equal(t, "exit-labels.txt", m.LabelsPath)
}

func TestAddModelRejectsOutsidePaths(t *testing.T) {
	ts := newTestServer(t)
	for _, labels := range []string{"/etc/passwd", "../../etc/passwd"} {
		cfg := nn.ModelConfig{Name: "Leak", ModelPath: "exit_sign_detector.tflite", LabelsPath: labels, InputDimension: 300, MinConfidence: 0.5}
		body, _ := json.Marshal(&cfg)
		resp := ts.post(t, "/api/models", body)
		resp.Body.Close()
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, labels)
	}
	_, err := ts.configDB.GetModel("Leak")
	require.ErrorIs(t, err, configdb.ErrModelNotInCatalog)
}

func TestStream(t *testing.T) {
	ts := newTestServer(t)
	url := "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/api/stream"
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer c.Close()

	f := frame.WrapBGRA(16, 16, bgraBody(16, 16))
	require.NoError(t, c.WriteMessage(websocket.BinaryMessage, EncodeStreamFrame(f)))
	msg := StreamMessage{}
	require.NoError(t, c.ReadJSON(&msg))
	require.Equal(t, StreamMsgResult, msg.Type)
	require.Len(t, msg.Result.Detections, 1)

	ts.lastBackend().count = 0
	require.NoError(t, c.WriteMessage(websocket.BinaryMessage, EncodeStreamFrame(f)))
	msg = StreamMessage{}
	require.NoError(t, c.ReadJSON(&msg))
	require.Equal(t, StreamMsgEmpty, msg.Type)

	bad := EncodeStreamFrame(f)
	require.NoError(t, c.WriteMessage(websocket.BinaryMessage, bad[:100]))
	msg = StreamMessage{}
	require.NoError(t, c.ReadJSON(&msg))
	require.Equal(t, StreamMsgError, msg.Type)

	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte("hello")))
	msg = StreamMessage{}
	require.NoError(t, c.ReadJSON(&msg))
	require.Equal(t, StreamMsgError, msg.Type)
}

func TestDecodeStreamFrame(t *testing.T) {
	f := frame.WrapBGRA(3, 2, []byte{
		1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12,
		13, 14, 15, 16, 17, 18, 19, 20, 21, 22, 23, 24,
	})
	dec, err := DecodeStreamFrame(EncodeStreamFrame(f))
	require.NoError(t, err)
	require.Equal(t, f, dec)

	_, err = DecodeStreamFrame([]byte{1, 2, 3})
	require.ErrorIs(t, err, nn.ErrMalformedInput)
}

func TestStaticIndex(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.http.URL + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "camdetect")

	resp, err = http.Get(ts.http.URL + "/api/nothing")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
