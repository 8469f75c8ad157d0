package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path"
	"strconv"

	sse "github.com/alexandrevicenzi/go-sse"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/mastercactapus/maslowctl/alert"
	"github.com/mastercactapus/maslowctl/bridge"
	"github.com/mastercactapus/maslowctl/machine"
	"github.com/mastercactapus/maslowctl/machine/maslow"
)

const maxUploadSize = 32 << 20

type api struct {
	http.Handler
	m   Machine
	log logrus.FieldLogger
	sse *sse.Server
}

type stateResponse struct {
	Machine machine.Snapshot `json:"machine"`
	Link    bridge.State     `json:"link"`
	Error   *alert.Pending   `json:"error"`
}

func newAPI(ctx context.Context, m Machine, logger logrus.FieldLogger, metrics http.Handler) *api {
	r := mux.NewRouter()
	a := &api{
		Handler: r,
		m:       m,
		log:     logger,
		sse: sse.NewServer(&sse.Options{
			Logger: log.New(io.Discard, "", 0),
		}),
	}

	r.HandleFunc("/api/state", a.state).Methods("GET")
	r.HandleFunc("/api/transcript", a.transcript).Methods("GET")
	r.HandleFunc("/api/transcript", a.clearTranscript).Methods("DELETE")
	r.HandleFunc("/api/error", a.currentError).Methods("GET")
	r.HandleFunc("/api/error", a.clearError).Methods("DELETE")
	r.HandleFunc("/api/link/open", a.openLink).Methods("POST")
	r.HandleFunc("/api/link/close", a.closeLink).Methods("POST")
	r.HandleFunc("/api/run", a.run).Methods("POST")

	// mirrors the bridge API, with readiness and in-flight checks applied
	intent := func(p string, fn func(*http.Request) (maslow.Intent, error), methods ...string) {
		r.HandleFunc(p, func(w http.ResponseWriter, req *http.Request) {
			in, err := fn(req)
			if err != nil {
				writeDetail(w, http.StatusBadRequest, err.Error())
				return
			}
			a.dispatch(w, req, in)
		}).Methods(methods...)
	}
	fixed := func(in maslow.Intent) func(*http.Request) (maslow.Intent, error) {
		return func(*http.Request) (maslow.Intent, error) { return in, nil }
	}
	intent("/api/connect", fixed(maslow.Connect()), "POST")
	intent("/api/disconnect", fixed(maslow.Disconnect()), "POST")
	intent("/api/status", fixed(maslow.ReadStatus()), "GET")
	intent("/api/command", decodeCommand, "POST")
	intent("/api/jog", decodeJog, "POST")
	intent("/api/home", fixed(maslow.HomeAll()), "POST")
	intent("/api/home/xy", fixed(maslow.HomeXY()), "POST")
	intent("/api/home/z", fixed(maslow.HomeZ()), "POST")
	intent("/api/set_origin/xy", fixed(maslow.SetOriginXY()), "POST")
	intent("/api/set_origin/z", fixed(maslow.SetOriginZ()), "POST")
	intent("/api/restart", fixed(maslow.Restart()), "POST")
	intent("/api/unlock", fixed(maslow.Unlock()), "POST")
	intent("/api/stop", fixed(maslow.EmergencyStop()), "POST")
	intent("/api/maslow/{name}", func(req *http.Request) (maslow.Intent, error) {
		return maslow.ParseAction(mux.Vars(req)["name"])
	}, "POST")
	intent("/api/config/maslow", fixed(maslow.ReadConfig()), "GET")
	intent("/api/config/maslow", decodeConfig, "POST")
	intent("/api/config/preferences", fixed(maslow.ReadPreferences()), "GET")
	intent("/api/files", fixed(maslow.ListFiles()), "GET")
	intent("/api/files/upload", decodeUpload, "POST")

	if metrics != nil {
		r.Handle("/metrics", metrics)
	}
	r.PathPrefix("/events/").Handler(a.sse)

	go a.pump(ctx)

	return a
}

// pump forwards state, traffic and error changes to SSE subscribers.
func (a *api) pump(ctx context.Context) {
	snaps, cancelSnaps := a.m.Store().Subscribe()
	defer cancelSnaps()
	traffic, cancelTraffic := a.m.Store().SubscribeTraffic(100)
	defer cancelTraffic()
	errs, cancelErrs := a.m.Alerts().Subscribe()
	defer cancelErrs()
	defer a.sse.Shutdown()

	for {
		var v interface{}
		var channel string
		select {
		case <-ctx.Done():
			return
		case snap := <-snaps:
			v, channel = snap, "/events/state"
		case e := <-traffic:
			v, channel = e, "/events/traffic"
		case p := <-errs:
			v, channel = p, "/events/error"
		}
		data, err := json.Marshal(v)
		if err != nil {
			a.log.WithError(err).Error("marshal event")
			continue
		}
		a.sse.SendMessage(channel, sse.SimpleMessage(string(data)))
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, map[string]string{"detail": detail})
}

func statusFor(err error) int {
	var cmdErr *maslow.CommandError
	switch {
	case errors.Is(err, maslow.ErrNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, maslow.ErrBusy), errors.Is(err, maslow.ErrAlarmed):
		return http.StatusConflict
	case errors.Is(err, maslow.ErrInvalidIntent):
		return http.StatusBadRequest
	case errors.As(err, &cmdErr) && cmdErr.Status != 0:
		return cmdErr.Status
	}
	return http.StatusBadGateway
}

func (a *api) dispatch(w http.ResponseWriter, req *http.Request, in maslow.Intent) {
	resp, err := a.m.Dispatch(req.Context(), in)
	if err != nil {
		writeDetail(w, statusFor(err), maslow.FailureMessage(in, err))
		return
	}
	if resp.RequestID != "" {
		w.Header().Set(maslow.RequestIDHeader, resp.RequestID)
	}
	if len(resp.Raw) == 0 {
		writeJSON(w, http.StatusOK, resp)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(resp.Raw)
}

func decodeCommand(req *http.Request) (maslow.Intent, error) {
	var body struct {
		Command  string   `json:"command"`
		WaitTime *float64 `json:"wait_time"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return maslow.Intent{}, err
	}
	in := maslow.Raw(body.Command)
	if body.WaitTime != nil {
		in.WaitTime = *body.WaitTime
	}
	return in, nil
}

func decodeJog(req *http.Request) (maslow.Intent, error) {
	var body struct {
		Axis     string  `json:"axis"`
		Distance float64 `json:"distance"`
		FeedRate float64 `json:"feed_rate"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return maslow.Intent{}, err
	}
	if len(body.Axis) != 1 {
		return maslow.Intent{}, fmt.Errorf("invalid axis '%s'", body.Axis)
	}
	return maslow.Jog(body.Axis[0], body.Distance, body.FeedRate), nil
}

func decodeConfig(req *http.Request) (maslow.Intent, error) {
	var body struct {
		Config map[string]interface{} `json:"config"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return maslow.Intent{}, err
	}
	return maslow.WriteConfig(body.Config), nil
}

func decodeUpload(req *http.Request) (maslow.Intent, error) {
	file, hdr, err := req.FormFile("file")
	if err != nil {
		return maslow.Intent{}, err
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, maxUploadSize))
	if err != nil {
		return maslow.Intent{}, err
	}
	return maslow.UploadFile(path.Base(hdr.Filename), data), nil
}

func (a *api) state(w http.ResponseWriter, req *http.Request) {
	res := stateResponse{
		Machine: a.m.Store().Snapshot(),
		Link:    a.m.LinkState(),
	}
	if p, ok := a.m.Alerts().Current(); ok {
		res.Error = &p
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *api) transcript(w http.ResponseWriter, req *http.Request) {
	entries := a.m.Store().Transcript()
	if s := req.FormValue("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeDetail(w, http.StatusBadRequest, "invalid limit")
			return
		}
		if n < len(entries) {
			entries = entries[len(entries)-n:]
		}
	}
	if entries == nil {
		entries = []machine.TrafficEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (a *api) clearTranscript(w http.ResponseWriter, req *http.Request) {
	a.m.Store().ClearTranscript()
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) currentError(w http.ResponseWriter, req *http.Request) {
	p, ok := a.m.Alerts().Current()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *api) clearError(w http.ResponseWriter, req *http.Request) {
	a.m.Alerts().Clear()
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) openLink(w http.ResponseWriter, req *http.Request) {
	if err := a.m.Reconnect(req.Context()); err != nil {
		a.log.WithError(err).Warn("open link")
		writeDetail(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "link": a.m.LinkState()})
}

func (a *api) closeLink(w http.ResponseWriter, req *http.Request) {
	if err := a.m.Disconnect("closed by operator"); err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "link": a.m.LinkState()})
}

// run sends the request body as a G-code program, one block at a time.
func (a *api) run(w http.ResponseWriter, req *http.Request) {
	data, err := io.ReadAll(io.LimitReader(req.Body, maxUploadSize))
	if err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}

	n, err := a.m.Run(req.Context(), string(data))
	if err != nil {
		a.log.WithError(err).WithField("sent", n).Error("run")
		code := http.StatusBadRequest
		var cmdErr *maslow.CommandError
		if errors.As(err, &cmdErr) || errors.Is(err, maslow.ErrAlarmed) {
			code = statusFor(err)
		}
		writeJSON(w, code, map[string]interface{}{"success": false, "sent": n, "detail": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "sent": n})
}
