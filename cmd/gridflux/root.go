package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sheerbytes/gridflux/internal/client"
	"github.com/sheerbytes/gridflux/internal/config"
	"github.com/sheerbytes/gridflux/internal/logging"
	"github.com/sheerbytes/gridflux/internal/termio"
	"github.com/sheerbytes/gridflux/pkg/fault"
)

const defaultConfigName = ".gridflux.yaml"

// app carries what every subcommand shares.
type app struct {
	configPath string
	flags      *config.Flags
}

func newRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "gridflux",
		Short:         "Move files to and from a data grid",
		Long:          "gridflux uploads, downloads, copies, replicates and checksums data objects on an iRODS-compatible data grid.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&a.configPath, "config", "c", defaultConfigPath(), "configuration file (YAML)")
	a.flags = config.RegisterFlags(pf)

	root.AddCommand(
		newPutCommand(a),
		newGetCommand(a),
		newCopyCommand(a),
		newReplicateCommand(a),
		newChecksumCommand(a),
		newVersionCommand(),
	)
	return root
}

// defaultConfigPath returns ~/.gridflux.yaml when it exists.
func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	p := filepath.Join(home, defaultConfigName)
	if _, err := os.Stat(p); err != nil {
		return ""
	}
	return p
}

// open loads the configuration, asks for a missing password and opens a
// session.
func (a *app) open(ctx context.Context) (*client.Session, *slog.Logger, error) {
	props, err := config.Load(a.configPath, a.flags)
	if err != nil {
		return nil, nil, err
	}
	log := logging.NewWithWriter(termio.Stderr(), "gridflux", props.LogLevel, props.LogFormat)
	if props.Account.Password == "" {
		pw, err := termio.ReadPassword("Password for " + props.Account.User + "#" + props.Account.Zone + ": ")
		if err != nil {
			return nil, nil, fault.Wrap(fault.ConfigurationError, "password", err)
		}
		props.Account.Password = pw
	}
	s, err := client.Open(ctx, props, nil, log)
	if err != nil {
		return nil, nil, err
	}
	return s, log, nil
}

// exitCode maps an error to the process status: 0 on success, 2 for
// configuration problems, 130 for cancellation and 1 otherwise.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case fault.Is(err, fault.ConfigurationError):
		return 2
	case fault.Is(err, fault.Cancelled):
		return 130
	}
	return 1
}
