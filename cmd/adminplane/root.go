package main

import (
	"context"
	"errors"
	"fmt"
	"github.com/MuhamedUsman/adminplane/internal/client"
	"github.com/MuhamedUsman/adminplane/internal/config"
	"github.com/MuhamedUsman/adminplane/internal/logging"
	"github.com/MuhamedUsman/adminplane/internal/mdns"
	"github.com/MuhamedUsman/adminplane/internal/server"
	"github.com/MuhamedUsman/adminplane/internal/ui"
	"github.com/spf13/cobra"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"time"
)

// app carries what every subcommand needs once the config file is loaded.
type app struct {
	configPath string
	timeout    time.Duration
	cfg        config.Config
	log        *slog.Logger
	logs       *logging.Buffer
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "adminplane [operation] [entity]",
		Short: "Control plane for a single service instance",
		Long: `adminplane runs the administrative control plane of one instance and talks to it.

Besides the built-in subcommands, any operation named under [operations] in the
config file can be invoked directly:
  adminplane tail-logs
  adminplane tail-logs 50`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			return a.runOperation(cmd, args)
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (default $"+config.EnvConfigPath+" or the user config dir)")
	root.PersistentFlags().DurationVarP(&a.timeout, "timeout", "t", 30*time.Second, "deadline for client commands")

	root.AddCommand(
		a.startCmd(),
		a.stopCmd(),
		a.healthCmd(),
		a.uploadCmd(),
		a.downloadCmd(),
		a.deleteCmd(),
		a.discoverCmd(),
	)
	return root
}

func (a *app) load() error {
	path, err := config.Path(a.configPath)
	if err != nil {
		return fmt.Errorf("resolving config path: %w", err)
	}
	if a.cfg, err = config.Load(path); err != nil {
		return err
	}
	if err = a.cfg.Validate(); err != nil {
		return err
	}
	a.logs = logging.NewBuffer(a.cfg.Log.BufferLines)
	a.log, err = logging.New(os.Stderr, logging.Options{
		Level:     a.cfg.Log.Level,
		NoColor:   a.cfg.Log.NoColor,
		AddSource: a.cfg.Log.AddSource,
		Buffer:    a.logs,
	})
	if err != nil {
		return err
	}
	slog.SetDefault(a.log)
	return nil
}

func (a *app) client() (*client.Client, error) {
	return client.FromConfig(a.cfg)
}

func (a *app) clientContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, a.timeout)
}

func (a *app) startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Bind the listeners and serve until stopped",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := server.New(server.Options{
				Config: a.cfg,
				Log:    a.log,
				Logs:   a.logs,
			})
			if err != nil {
				return err
			}
			return s.Serve(cmd.Context())
		},
	}
}

func (a *app) stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Ask the running instance to shut down",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			ctx, cancel := a.clientContext(cmd.Context())
			defer cancel()
			if err = c.Stop(ctx); err != nil {
				return err
			}
			a.log.Info("Stop sent", "server", a.cfg.Server.Name)
			return nil
		},
	}
}

func (a *app) healthCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check every subsystem of the running instance",
		Long:  "Exits non-zero when any subsystem is unhealthy.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			ctx, cancel := a.clientContext(cmd.Context())
			defer cancel()
			r, err := c.Health(ctx)
			if err != nil {
				return err
			}
			if asJSON {
				err = writeJSON(cmd.OutOrStdout(), r)
			} else {
				err = ui.PrintHealth(cmd.OutOrStdout(), r)
			}
			if err != nil {
				return err
			}
			if !r.Healthy {
				return exitError{fmt.Errorf("unhealthy: %v", r.Unhealthy())}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw report")
	return cmd
}

func (a *app) uploadCmd() *cobra.Command {
	var name, user, dom string
	cmd := &cobra.Command{
		Use:   "upload <path>",
		Short: "Store a local file on the instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if name == "" {
				name = filepath.Base(path)
			}
			c, err := a.client()
			if err != nil {
				return err
			}
			ctx, cancel := a.clientContext(cmd.Context())
			defer cancel()
			ans, err := c.Upload(ctx, path, name, user, dom)
			if err != nil {
				return err
			}
			return ui.PrintAnswer(cmd.OutOrStdout(), ans)
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "stored file name (default the base name of path)")
	cmd.Flags().StringVarP(&user, "user", "u", os.Getenv("USER"), "owner recorded with the file")
	cmd.Flags().StringVarP(&dom, "domain", "d", "", "storage domain")
	return cmd
}

func (a *app) downloadCmd() *cobra.Command {
	var out, dom string
	cmd := &cobra.Command{
		Use:   "download <file-id>",
		Short: "Fetch a stored file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			tmp, err := os.CreateTemp(filepath.Dir(outPath(out)), ".adminplane-download-*")
			if err != nil {
				return fmt.Errorf("creating download file: %w", err)
			}
			ctx, cancel := a.clientContext(cmd.Context())
			defer cancel()
			name, n, err := c.Download(ctx, args[0], dom, tmp)
			if cErr := tmp.Close(); err == nil {
				err = cErr
			}
			if err != nil {
				_ = os.Remove(tmp.Name())
				return err
			}
			dst := out
			if dst == "" {
				dst = filepath.Base(name)
			}
			if err = os.Rename(tmp.Name(), dst); err != nil {
				_ = os.Remove(tmp.Name())
				return fmt.Errorf("moving download into place: %w", err)
			}
			return ui.PrintBytes(cmd.OutOrStdout(), "saved", dst, n)
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "destination path (default the stored file name)")
	cmd.Flags().StringVarP(&dom, "domain", "d", "", "storage domain")
	return cmd
}

func outPath(out string) string {
	if out == "" {
		return "."
	}
	return out
}

func (a *app) deleteCmd() *cobra.Command {
	var dom string
	cmd := &cobra.Command{
		Use:   "delete <file-id>",
		Short: "Remove a stored file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			ctx, cancel := a.clientContext(cmd.Context())
			defer cancel()
			ans, err := c.Delete(ctx, args[0], dom)
			if err != nil {
				return err
			}
			return ui.PrintAnswer(cmd.OutOrStdout(), ans)
		},
	}
	cmd.Flags().StringVarP(&dom, "domain", "d", "", "storage domain")
	return cmd
}

func (a *app) discoverCmd() *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "List instances advertised on the local network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), wait)
			defer cancel()
			var entries mdns.Entries
			if err := entries.Discover(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return ui.PrintEntries(cmd.OutOrStdout(), slices.Collect(maps.Values(entries.List())))
		},
	}
	cmd.Flags().DurationVarP(&wait, "wait", "w", 3*time.Second, "how long to listen for adverts")
	return cmd
}
