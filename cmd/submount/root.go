package main

import (
	"context"
	"fmt"

	"github.com/containerd/log"
	"github.com/spf13/cobra"

	"github.com/spin-stack/submount/internal/config"
	"github.com/spin-stack/submount/internal/hook"
	"github.com/spin-stack/submount/internal/journal"
	"github.com/spin-stack/submount/internal/mntns"
	"github.com/spin-stack/submount/internal/mountutil"
	"github.com/spin-stack/submount/internal/paths"
)

// app carries what the subcommands share: configuration and the system
// primitives mounts go through.
type app struct {
	cfgFile string
	loader  *config.Loader
	cfg     *config.Config

	sys     mntns.Sys
	mounter hook.Mounter
}

func newApp() *app {
	return &app{
		loader:  config.NewLoader(),
		sys:     mntns.Host(),
		mounter: mountutil.New(),
	}
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "submount",
		Short:         "Mount a subdirectory of a filesystem with X-mount.subdir",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(commandContext(cmd))
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})

	pf := cmd.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file path (default $"+config.ConfigEnvVar+" or "+config.DefaultConfigPath+")")
	pf.String("log-level", "", "log level (trace, debug, info, warn, error)")
	pf.String("log-format", "", "log format (text, json)")
	pf.String("state-dir", "", "directory of the journal and lock file")

	_ = a.loader.BindFlag("log.level", pf.Lookup("log-level"))
	_ = a.loader.BindFlag("log.format", pf.Lookup("log-format"))
	_ = a.loader.BindFlag("paths.state_dir", pf.Lookup("state-dir"))

	cmd.AddCommand(
		newMountCmd(a),
		newUmountCmd(a),
		newHistoryCmd(a),
		newVersionCmd(),
	)
	return cmd
}

func (a *app) init(ctx context.Context) error {
	cfg, err := a.loader.Load(a.cfgFile)
	if err != nil {
		return usageError{err}
	}
	a.cfg = cfg

	if err := log.SetLevel(cfg.Log.Level); err != nil {
		return usageError{err}
	}
	if err := log.SetFormat(log.OutputFormat(cfg.Log.Format)); err != nil {
		return usageError{err}
	}
	log.G(ctx).WithFields(log.Fields{
		"state_dir": cfg.Paths.StateDir,
		"journal":   cfg.Journal.Enabled,
	}).Debug("configuration loaded")
	return nil
}

// openJournal opens the operation journal. It returns nil when the journal
// is disabled.
func (a *app) openJournal() (*journal.Journal, error) {
	if !a.cfg.Journal.Enabled {
		return nil, nil
	}
	j, err := journal.Open(paths.JournalPath(a.cfg.Paths), a.cfg.Journal.MaxEntries, a.cfg.Timeouts.GetJournalOpen())
	if err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	return j, nil
}
