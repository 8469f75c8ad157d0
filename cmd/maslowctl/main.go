package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mastercactapus/maslowctl/bridge"
	"github.com/mastercactapus/maslowctl/machine/maslow"
)

type app struct {
	out     io.Writer
	cfgFile string
	cfg     Config
	log     *logrus.Logger

	// flag values, applied over cfg only when set
	wsURL    string
	apiURL   string
	listen   string
	logLevel string
	timeout  time.Duration
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(os.Stdout).ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	return (&app{out: out}).rootCmd()
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:               "maslowctl",
		Short:             "Monitor and control a Maslow CNC through its serial bridge",
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}
	root.SetOut(a.out)

	pf := root.PersistentFlags()
	pf.StringVarP(&a.cfgFile, "config", "c", "", "YAML config file")
	pf.StringVar(&a.wsURL, "ws-url", "", "Websocket URL of the bridge event stream")
	pf.StringVar(&a.apiURL, "api-url", "", "Base URL of the bridge HTTP API")
	pf.StringVar(&a.listen, "listen", "", "Address for the local API (serve)")
	pf.StringVar(&a.logLevel, "log-level", "", "Log level (trace, debug, info, warn, error, off)")
	pf.DurationVar(&a.timeout, "timeout", 0, "Timeout for each bridge request")

	root.AddCommand(
		a.serveCmd(),
		a.statusCmd(),
		a.connectCmd(),
		a.disconnectCmd(),
		a.jogCmd(),
		a.homeCmd(),
		a.originCmd(),
		a.simpleCmd("unlock", "Clear an alarm ($X)", maslow.Unlock(), false),
		a.simpleCmd("stop", "Emergency stop", maslow.EmergencyStop(), false),
		a.simpleCmd("restart", "Restart the controller", maslow.Restart(), true),
		a.sendCmd(),
		a.runCmd(),
		a.actionCmd(),
		a.configCmd(),
		a.filesCmd(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(a.cfgFile)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("ws-url") {
		cfg.WSURL = a.wsURL
	}
	if flags.Changed("api-url") {
		cfg.APIURL = a.apiURL
	}
	if flags.Changed("listen") {
		cfg.Listen = a.listen
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = a.logLevel
	}
	if flags.Changed("timeout") {
		cfg.RequestTimeout = a.timeout
	}

	a.cfg = cfg
	a.log = newLogger(cfg.LogLevel, nil)
	return nil
}

func (a *app) newClient() *maslow.Client {
	return maslow.NewClient(maslow.Config{
		Bridge: bridge.Config{
			URL:          a.cfg.WSURL,
			BaseDelay:    a.cfg.Reconnect.BaseDelay,
			MaxDelay:     a.cfg.Reconnect.MaxDelay,
			MaxAttempts:  a.cfg.Reconnect.MaxAttempts,
			PingInterval: a.cfg.Reconnect.PingInterval,
		},
		Dispatch: maslow.DispatchConfig{
			BaseURL: a.cfg.APIURL,
			Timeout: a.cfg.RequestTimeout,
		},
		TranscriptSize: a.cfg.TranscriptSize,
		ErrorTimeout:   a.cfg.ErrorTimeout,
		Logger:         a.log,
	})
}

// withClient runs fn with a client. If ready is set, the event link is
// opened first and fn only runs once the machine reports connected.
func (a *app) withClient(ctx context.Context, ready bool, fn func(*maslow.Client) error) error {
	c := a.newClient()
	defer c.Stop()

	if ready {
		if err := c.Start(ctx); err != nil {
			return fmt.Errorf("connect to bridge: %w", err)
		}
		wctx, cancel := context.WithTimeout(ctx, a.cfg.ReadyTimeout)
		defer cancel()
		if err := c.WaitReady(wctx); err != nil {
			return fmt.Errorf("machine not connected: %w", err)
		}
	}
	return fn(c)
}

func (a *app) dispatch(cmd *cobra.Command, in maslow.Intent, ready bool) error {
	return a.withClient(cmd.Context(), ready, func(c *maslow.Client) error {
		resp, err := c.Dispatch(cmd.Context(), in)
		if err != nil {
			return errors.New(maslow.FailureMessage(in, err))
		}
		return printResponse(a.out, resp)
	})
}
