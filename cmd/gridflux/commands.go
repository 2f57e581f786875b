package main

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/sheerbytes/gridflux/internal/config"
	"github.com/sheerbytes/gridflux/internal/control"
	"github.com/sheerbytes/gridflux/internal/termio"
	"github.com/sheerbytes/gridflux/internal/transfer"
	"github.com/sheerbytes/gridflux/pkg/fault"
)

// transferFunc moves one source to target.
type transferFunc func(ctx context.Context, source, target string, state *transfer.ControlState, listener transfer.StatusListener) error

// runTransfers applies fn to every source with one shared state, so an
// overwrite answer "for all" carries over. A failed file does not stop the
// rest unless the operation was cancelled.
func runTransfers(ctx context.Context, fn transferFunc, sources []string, target string, state *transfer.ControlState, con *console) error {
	var failed int
	for _, src := range sources {
		err := fn(ctx, src, target, state, con)
		if err == nil {
			continue
		}
		if fault.Is(err, fault.Cancelled) {
			return err
		}
		failed++
	}
	c := state.Counters()
	con.summary(c)
	if state.Cancelled() {
		return fault.New(fault.Cancelled, "transfer", "cancelled by user")
	}
	if failed > 0 {
		return errors.Errorf("%d of %d transfers failed", failed, len(sources))
	}
	return nil
}

func newPutCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "put <local>... <remote>",
		Short: "Upload local files as data objects",
		Long:  "Upload one or more local files. With several sources the remote path must be a collection.",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, _, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()
			con := newConsole(termio.Stdout(), termio.StdoutIsTerminal())
			return runTransfers(ctx, s.DataObjects().Put, args[:len(args)-1], args[len(args)-1], s.NewControlState(), con)
		},
	}
}

func newGetCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <remote>... <local>",
		Short: "Download data objects",
		Long:  "Download one or more data objects. With several sources the local path must be a directory.",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, _, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()
			con := newConsole(termio.Stdout(), termio.StdoutIsTerminal())
			return runTransfers(ctx, s.DataObjects().Get, args[:len(args)-1], args[len(args)-1], s.NewControlState(), con)
		},
	}
}

func newCopyCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "copy <source>... <target>",
		Short: "Copy data objects on the server",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, _, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()
			con := newConsole(termio.Stdout(), false)
			return runTransfers(ctx, s.DataObjects().Copy, args[:len(args)-1], args[len(args)-1], s.NewControlState(), con)
		},
	}
}

func newReplicateCommand(a *app) *cobra.Command {
	var dest string
	cmd := &cobra.Command{
		Use:   "replicate <remote>...",
		Short: "Make a new replica of data objects on another resource",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, log, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()
			for _, p := range args {
				if err := s.DataObjects().Replicate(ctx, p, dest); err != nil {
					return err
				}
				log.Debug("replica created", "path", p)
				fmt.Fprintf(termio.Stdout(), "replicated %s\n", p)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&dest, "dest-resource", "d", "", "resource for the new replica (default: the configured resource)")
	return cmd
}

func newChecksumCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "checksum <remote>...",
		Short: "Print the server checksum of data objects",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, _, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()
			enc, err := s.ChecksumEncoding(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(termio.Stderr(), "server checksum encoding: %s\n", enc)
			for _, p := range args {
				sum, err := s.DataObjects().Checksum(ctx, p)
				if err != nil {
					return err
				}
				fmt.Fprintf(termio.Stdout(), "%s  %s\n", sum, p)
			}
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the client version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "gridflux %s (protocol %s, api %s, default buffer %s)\n",
				version, control.ClientRelease, control.ClientAPIVersion, humanize.IBytes(config.DefaultBufferSize))
		},
	}
}
