package maslow

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gorilla/mux"
)

type apiCall struct {
	Method    string
	Path      string
	Body      string
	RequestID string
}

// fakeAPI emulates the bridge HTTP API.
type fakeAPI struct {
	*httptest.Server

	mx      sync.Mutex
	calls   []apiCall
	uploads []string

	// hold, when set, blocks motion requests until closed.
	hold    chan struct{}
	entered chan struct{}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func newFakeAPI(t *testing.T) *fakeAPI {
	f := &fakeAPI{entered: make(chan struct{}, 10)}
	r := mux.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			body, _ := io.ReadAll(req.Body)
			req.Body = io.NopCloser(bytes.NewReader(body))
			f.mx.Lock()
			f.calls = append(f.calls, apiCall{
				Method:    req.Method,
				Path:      req.URL.Path,
				Body:      string(body),
				RequestID: req.Header.Get(RequestIDHeader),
			})
			hold := f.hold
			f.mx.Unlock()
			if hold != nil && req.URL.Path == "/api/jog" {
				f.entered <- struct{}{}
				<-hold
			}
			next.ServeHTTP(w, req)
		})
	})

	ok := func(msg string) http.HandlerFunc {
		return func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": msg})
		}
	}

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"connected":     true,
			"status":        "Idle",
			"position":      map[string]float64{"x": 1, "y": 2, "z": 3},
			"feed_rate":     0,
			"spindle_speed": 0,
		})
	}).Methods(http.MethodGet)
	api.HandleFunc("/connect", ok("connected")).Methods(http.MethodPost)
	api.HandleFunc("/disconnect", ok("disconnected")).Methods(http.MethodPost)
	api.HandleFunc("/command", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "responses": []string{"ok"}})
	}).Methods(http.MethodPost)
	api.HandleFunc("/jog", ok("jogged")).Methods(http.MethodPost)
	api.HandleFunc("/home", ok("homing")).Methods(http.MethodPost)
	api.HandleFunc("/home/xy", ok("homing xy")).Methods(http.MethodPost)
	api.HandleFunc("/home/z", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Z limit not configured"})
	}).Methods(http.MethodPost)
	api.HandleFunc("/set_origin/xy", ok("origin set")).Methods(http.MethodPost)
	api.HandleFunc("/set_origin/z", ok("origin set")).Methods(http.MethodPost)
	api.HandleFunc("/restart", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}).Methods(http.MethodPost)
	api.HandleFunc("/unlock", ok("unlocked")).Methods(http.MethodPost)
	api.HandleFunc("/stop", ok("stopped")).Methods(http.MethodPost)
	api.HandleFunc("/maslow/{name}", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": mux.Vars(req)["name"]})
	}).Methods(http.MethodPost)
	api.HandleFunc("/config/maslow", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"config": map[string]interface{}{"Maslow_tlX": -27.6}})
	}).Methods(http.MethodGet)
	api.HandleFunc("/config/maslow", ok("saved")).Methods(http.MethodPost)
	api.HandleFunc("/config/preferences", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"preferences": map[string]interface{}{"units": "mm"}})
	}).Methods(http.MethodGet)

	api.HandleFunc("/files", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"files":   []map[string]interface{}{{"name": "part.gcode", "size": 120, "modified": 1700000000.0}},
		})
	}).Methods(http.MethodGet)
	api.HandleFunc("/files/upload", func(w http.ResponseWriter, req *http.Request) {
		file, hdr, err := req.FormFile("file")
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		f.mx.Lock()
		f.uploads = append(f.uploads, hdr.Filename+":"+string(data))
		f.mx.Unlock()
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "File " + hdr.Filename + " uploaded successfully"})
	}).Methods(http.MethodPost)

	f.Server = httptest.NewServer(r)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeAPI) Calls() []apiCall {
	f.mx.Lock()
	defer f.mx.Unlock()
	return append([]apiCall(nil), f.calls...)
}

// Hold makes /api/jog block until the returned func is called.
func (f *fakeAPI) Hold() func() {
	ch := make(chan struct{})
	f.mx.Lock()
	f.hold = ch
	f.mx.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (f *fakeAPI) Uploads() []string {
	f.mx.Lock()
	defer f.mx.Unlock()
	return append([]string(nil), f.uploads...)
}
