package main

import (
	"context"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Keep a live link to the bridge and serve the local API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	c := a.newClient()
	defer c.Stop()

	if err := c.Start(ctx); err != nil {
		// reconnects continue in the background
		a.log.WithError(err).Warn("initial connect to bridge failed")
	}

	metrics, err := newMetricsHandler(c.LinkMetrics(), c.Metrics())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	api := newAPI(ctx, c, a.log.WithField("component", "api"), metrics)

	srv := &http.Server{
		Addr: a.cfg.Listen,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "*")
			a.log.WithFields(logrus.Fields{
				"method": req.Method,
				"path":   req.URL.Path,
				"remote": req.RemoteAddr,
			}).Debug("request")
			api.ServeHTTP(w, req)
		}),
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.WithField("addr", a.cfg.Listen).Info("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	return srv.Shutdown(shutdownCtx)
}
