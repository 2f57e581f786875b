package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"github.com/sheerbytes/gridflux/internal/progress"
	"github.com/sheerbytes/gridflux/internal/termio"
	"github.com/sheerbytes/gridflux/internal/transfer"
)

// console renders transfer notifications and asks the overwrite question on
// the terminal. With live set, progress redraws a single line.
type console struct {
	out    io.Writer
	live   bool
	prompt func(string) (string, error)

	mu     sync.Mutex
	drawn  bool
	meters map[string]*progress.Meter
	ok     *color.Color
	warn   *color.Color
	fail   *color.Color
	bar    *color.Color
}

func newConsole(out io.Writer, live bool) *console {
	return &console{
		out:    out,
		live:   live,
		prompt: termio.Prompt,
		meters: make(map[string]*progress.Meter),
		ok:     color.New(color.FgGreen),
		warn:   color.New(color.FgYellow),
		fail:   color.New(color.FgRed, color.Bold),
		bar:    color.New(color.FgCyan),
	}
}

func (c *console) StatusCallback(s transfer.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch s.Phase {
	case transfer.PhaseStart:
		c.meters[s.TransferID] = progress.NewMeter(s.TotalBytes)
		if !c.live {
			fmt.Fprintf(c.out, "%s %s -> %s\n", s.Operation, s.Source, s.Target)
		}
	case transfer.PhaseProgress:
		m := c.meter(s)
		m.Set(s.BytesDone)
		if !c.live {
			return
		}
		st := m.Snapshot()
		line := fmt.Sprintf("%s %s / %s", s.Source, humanize.IBytes(uint64(s.BytesDone)), humanize.IBytes(uint64(max(s.TotalBytes, 0))))
		if s.TotalBytes > 0 {
			line += fmt.Sprintf(" (%d%%)", s.BytesDone*100/s.TotalBytes)
		}
		if st.RateBps > 0 {
			line += fmt.Sprintf(" %s/s", humanize.IBytes(uint64(st.RateBps)))
		}
		if st.ETA > 0 {
			line += fmt.Sprintf(" eta %s", st.ETA.Round(time.Second))
		}
		fmt.Fprintf(c.out, "\r\033[K%s", c.bar.Sprint(line))
		c.drawn = true
	case transfer.PhaseComplete:
		elapsed := c.meter(s).Snapshot().Elapsed
		delete(c.meters, s.TransferID)
		c.clearLine()
		fmt.Fprintf(c.out, "%s %s -> %s (%s in %s)\n", c.ok.Sprint("done"), s.Source, s.Target,
			humanize.IBytes(uint64(max(s.BytesDone, 0))), elapsed.Round(time.Millisecond))
	case transfer.PhaseSkipped:
		delete(c.meters, s.TransferID)
		c.clearLine()
		fmt.Fprintf(c.out, "%s %s (target exists)\n", c.warn.Sprint("skipped"), s.Source)
	case transfer.PhaseFailure:
		delete(c.meters, s.TransferID)
		c.clearLine()
		fmt.Fprintf(c.out, "%s %s: %v\n", c.fail.Sprint("failed"), s.Source, s.Err)
	}
}

// meter returns the meter of s's transfer, starting one if the start
// notification was missed; c.mu must be held.
func (c *console) meter(s transfer.Status) *progress.Meter {
	m, ok := c.meters[s.TransferID]
	if !ok {
		m = progress.NewMeter(s.TotalBytes)
		c.meters[s.TransferID] = m
	}
	return m
}

// clearLine erases a live progress line; c.mu must be held.
func (c *console) clearLine() {
	if c.drawn {
		fmt.Fprint(c.out, "\r\033[K")
		c.drawn = false
	}
}

// AskToForce asks until it gets a recognised answer. A read error cancels.
func (c *console) AskToForce(source string, isCollection bool) transfer.CallbackResponse {
	c.mu.Lock()
	c.clearLine()
	c.mu.Unlock()

	kind := "data object"
	if isCollection {
		kind = "collection"
	}
	question := fmt.Sprintf("%s %s already exists. Overwrite? [y]es, [n]o, yes to [a]ll, no to all ([s]kip), [c]ancel: ", kind, source)
	for {
		line, err := c.prompt(question)
		if err != nil {
			return transfer.Cancel
		}
		if answer, ok := parseAnswer(line); ok {
			return answer
		}
	}
}

func parseAnswer(s string) (transfer.CallbackResponse, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "y", "yes":
		return transfer.YesThisFile, true
	case "n", "no":
		return transfer.NoThisFile, true
	case "a", "all":
		return transfer.YesForAll, true
	case "s", "skip", "none":
		return transfer.NoForAll, true
	case "c", "cancel", "q":
		return transfer.Cancel, true
	}
	return transfer.Cancel, false
}

func (c *console) summary(n transfer.Counters) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLine()
	line := fmt.Sprintf("%d completed, %d skipped, %d failed, %s transferred",
		n.FilesCompleted, n.FilesSkipped, n.FilesFailed, humanize.IBytes(uint64(max(n.Bytes, 0))))
	if n.FilesFailed > 0 {
		fmt.Fprintln(c.out, c.fail.Sprint(line))
		return
	}
	fmt.Fprintln(c.out, line)
}
