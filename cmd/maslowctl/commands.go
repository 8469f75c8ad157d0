package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mastercactapus/maslowctl/machine"
	"github.com/mastercactapus/maslowctl/machine/maslow"
)

// printResponse writes the bridge reply in a readable form.
func printResponse(w io.Writer, resp *maslow.Response) error {
	switch {
	case resp.Message != "" || len(resp.Responses) > 0:
		if resp.Message != "" {
			fmt.Fprintln(w, resp.Message)
		}
		for _, line := range resp.Responses {
			fmt.Fprintln(w, line)
		}
		return nil
	case len(resp.Raw) > 0:
		var v interface{}
		if err := json.Unmarshal(resp.Raw, &v); err != nil {
			_, err = w.Write(resp.Raw)
			return err
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	return nil
}

func printStatus(w io.Writer, snap machine.Snapshot) {
	p := snap.Position
	fmt.Fprintf(w, "connected: %t\nstatus:    %s\nposition:  X%.3f Y%.3f Z%.3f\nfeed:      %g\nspindle:   %g\n",
		snap.Connected, snap.Status, p.X, p.Y, p.Z, snap.FeedRate, snap.SpindleSpeed)
	switch {
	case snap.Alarmed():
		fmt.Fprintln(w, "alarm: unlock ($X) or home before moving")
	case snap.Idle():
		fmt.Fprintln(w, "ready")
	}
}

func (a *app) simpleCmd(use, short string, in maslow.Intent, ready bool) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.dispatch(cmd, in, ready)
		},
	}
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the machine status reported by the bridge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(cmd.Context(), false, func(c *maslow.Client) error {
				resp, err := c.Dispatch(cmd.Context(), maslow.ReadStatus())
				if err != nil {
					return err
				}
				snap, err := resp.Status()
				if err != nil {
					return err
				}
				printStatus(a.out, snap)
				return nil
			})
		},
	}
}

func (a *app) connectCmd() *cobra.Command {
	return a.simpleCmd("connect", "Ask the bridge to open the controller serial port", maslow.Connect(), false)
}

func (a *app) disconnectCmd() *cobra.Command {
	return a.simpleCmd("disconnect", "Ask the bridge to close the controller serial port", maslow.Disconnect(), false)
}

func (a *app) jogCmd() *cobra.Command {
	var feed float64
	cmd := &cobra.Command{
		Use:   "jog <axis> <distance>",
		Short: "Move one axis by a relative distance (mm)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args[0]) != 1 {
				return fmt.Errorf("invalid axis '%s'", args[0])
			}
			dist, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("parse distance: %w", err)
			}
			return a.dispatch(cmd, maslow.Jog(args[0][0], dist, feed), true)
		},
	}
	cmd.Flags().Float64VarP(&feed, "feed", "f", maslow.DefaultJogFeedRate, "Feed rate (mm/min)")
	return cmd
}

func (a *app) homeCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "home [all|xy|z]",
		Short:     "Home the machine",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"all", "xy", "z"},
		RunE: func(cmd *cobra.Command, args []string) error {
			which := "all"
			if len(args) > 0 {
				which = strings.ToLower(args[0])
			}
			switch which {
			case "all":
				return a.dispatch(cmd, maslow.HomeAll(), true)
			case "xy":
				return a.dispatch(cmd, maslow.HomeXY(), true)
			case "z":
				return a.dispatch(cmd, maslow.HomeZ(), true)
			}
			return fmt.Errorf("unknown home target '%s'", which)
		},
	}
}

func (a *app) originCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "origin <xy|z>",
		Short:     "Set the work origin at the current position",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"xy", "z"},
		RunE: func(cmd *cobra.Command, args []string) error {
			switch strings.ToLower(args[0]) {
			case "xy":
				return a.dispatch(cmd, maslow.SetOriginXY(), true)
			case "z":
				return a.dispatch(cmd, maslow.SetOriginZ(), true)
			}
			return fmt.Errorf("unknown origin target '%s'", args[0])
		},
	}
}

func (a *app) sendCmd() *cobra.Command {
	var wait float64
	cmd := &cobra.Command{
		Use:   "send <command>",
		Short: "Send a raw controller command",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := maslow.Raw(strings.Join(args, " "))
			in.WaitTime = wait
			return a.dispatch(cmd, in, in.Readiness() == maslow.RequireConnected)
		},
	}
	cmd.Flags().Float64VarP(&wait, "wait", "w", maslow.DefaultWaitTime, "Seconds to collect controller responses")
	return cmd
}

func (a *app) runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <file>",
		Short: "Send a G-code program block by block",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			return a.withClient(cmd.Context(), true, func(c *maslow.Client) error {
				n, err := c.Run(cmd.Context(), string(data))
				fmt.Fprintf(a.out, "sent %d blocks\n", n)
				return err
			})
		},
	}
}

func (a *app) actionCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "action <name>",
		Short:     "Run a Maslow action: " + strings.Join(maslow.Actions(), ", "),
		Args:      cobra.ExactArgs(1),
		ValidArgs: maslow.Actions(),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := maslow.ParseAction(args[0])
			if err != nil {
				return err
			}
			return a.dispatch(cmd, in, in.Readiness() == maslow.RequireConnected)
		},
	}
}

func (a *app) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Read or update the Maslow configuration",
	}
	get := &cobra.Command{
		Use:   "get",
		Short: "Print the Maslow configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.dispatch(cmd, maslow.ReadConfig(), false)
		},
	}
	set := &cobra.Command{
		Use:   "set <file>",
		Short: "Write configuration values from a YAML or JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := readValues(args[0])
			if err != nil {
				return err
			}
			return a.dispatch(cmd, maslow.WriteConfig(values), false)
		},
	}
	prefs := &cobra.Command{
		Use:   "prefs",
		Short: "Print the bridge preferences",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.dispatch(cmd, maslow.ReadPreferences(), false)
		},
	}
	cmd.AddCommand(get, set, prefs)
	return cmd
}

// readValues parses a flat key/value file. JSON is valid YAML.
func readValues(name string) (map[string]interface{}, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, err
	}
	var values map[string]interface{}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%s: no values", name)
	}
	return values, nil
}

func (a *app) filesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "files",
		Short: "Manage G-code programs stored on the bridge",
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List stored programs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(cmd.Context(), false, func(c *maslow.Client) error {
				resp, err := c.Dispatch(cmd.Context(), maslow.ListFiles())
				if err != nil {
					return err
				}
				for _, f := range resp.Files {
					fmt.Fprintf(a.out, "%-32s %10d\n", f.Name, f.Size)
				}
				return nil
			})
		},
	}
	upload := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a program (.gcode, .nc, .ngc)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			return a.dispatch(cmd, maslow.UploadFile(filepath.Base(args[0]), data), false)
		},
	}
	cmd.AddCommand(list, upload)
	return cmd
}
