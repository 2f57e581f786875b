package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sheerbytes/gridflux/internal/termio"
)

var version = "v0.1.0"

func main() {
	termio.Init()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(termio.Stderr(), "gridflux: %v\n", err)
	}
	termio.Flush()
	os.Exit(exitCode(err))
}
