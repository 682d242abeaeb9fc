package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// console is the shared terminal IO; prompts and prints from several
// workers never interleave.
type console struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

func newConsole(in io.Reader, out io.Writer) *console {
	return &console{in: bufio.NewReader(in), out: out}
}

// terminal is the evaluation listener of one worker.
type terminal struct {
	con  *console
	log  *zap.SugaredLogger
	exit func()

	exitOnce sync.Once
}

func newTerminal(con *console, log *zap.SugaredLogger, exit func()) *terminal {
	return &terminal{con: con, log: log.Named("terminal"), exit: exit}
}

// OnPrompt prints the question and reads one line. End of input answers "".
func (t *terminal) OnPrompt(ctx context.Context, question, promptType string) (string, error) {
	t.con.mu.Lock()
	defer t.con.mu.Unlock()

	suffix := ": "
	if strings.HasSuffix(question, ">") {
		suffix = " "
	}
	fmt.Fprint(t.con.out, question+suffix)
	line, err := t.con.in.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("reading answer: %w", err)
	}
	if promptType == "password" {
		fmt.Fprintln(t.con.out)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (t *terminal) OnPrint(ctx context.Context, values []any) error {
	t.con.mu.Lock()
	defer t.con.mu.Unlock()
	for _, v := range values {
		fmt.Fprintln(t.con.out, printable(v))
	}
	return nil
}

func printable(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func (t *terminal) ToggleTelemetry(ctx context.Context, enabled bool) error {
	t.log.Infow("telemetry toggled", "enabled", enabled)
	return nil
}

func (t *terminal) OnClearCommand(ctx context.Context) error {
	t.con.mu.Lock()
	defer t.con.mu.Unlock()
	fmt.Fprint(t.con.out, "\033[H\033[2J")
	return nil
}

// OnExit tears the worker connection down and never answers; the worker's
// pending call settles with ChannelClosed.
func (t *terminal) OnExit(ctx context.Context) error {
	t.exitOnce.Do(t.exit)
	<-ctx.Done()
	return ctx.Err()
}
