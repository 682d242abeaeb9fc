package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"worker-rpc/channel"
	"worker-rpc/client"
	"worker-rpc/evaluation"
	"worker-rpc/transport"
)

// scripted answers prompts from a fixed list and records everything else.
type scripted struct {
	answers   []string
	printed   []any
	telemetry []bool
	cleared   int
	exited    bool
}

func (s *scripted) OnPrompt(ctx context.Context, question, promptType string) (string, error) {
	if len(s.answers) == 0 {
		return "", nil
	}
	a := s.answers[0]
	s.answers = s.answers[1:]
	return a, nil
}

func (s *scripted) OnPrint(ctx context.Context, values []any) error {
	s.printed = append(s.printed, values...)
	return nil
}

func (s *scripted) ToggleTelemetry(ctx context.Context, enabled bool) error {
	s.telemetry = append(s.telemetry, enabled)
	return nil
}

func (s *scripted) OnClearCommand(ctx context.Context) error {
	s.cleared++
	return nil
}

func (s *scripted) OnExit(ctx context.Context) error {
	s.exited = true
	return nil
}

func TestRunWorkerSession(t *testing.T) {
	s := &scripted{answers: []string{"Ada", "1 + 1", "telemetry off", "cls", "exit"}}
	require.NoError(t, runWorker(context.Background(), s, zap.NewNop().Sugar()))

	assert.Equal(t, []any{"Hello, Ada!", workerHelp, "1 + 1"}, s.printed)
	assert.Equal(t, []bool{false}, s.telemetry)
	assert.Equal(t, 1, s.cleared)
	assert.True(t, s.exited)
}

func TestRunWorkerEndOfInput(t *testing.T) {
	s := &scripted{}
	require.NoError(t, runWorker(context.Background(), s, zap.NewNop().Sugar()))
	assert.Equal(t, "Hello, stranger!", s.printed[0])
	assert.True(t, s.exited)
}

func TestWorkerAgainstTerminal(t *testing.T) {
	log := zap.NewNop().Sugar()
	var out bytes.Buffer
	con := newConsole(strings.NewReader("Ada\nhi there\nexit\n"), &out)

	parent, worker := transport.Pipe()
	holder := &evaluation.Holder{}
	holder.Set(newTerminal(con, log, func() { _ = parent.Close() }))
	h, err := evaluation.Expose(holder, channel.New(parent))
	require.NoError(t, err)

	p := client.New(channel.New(worker))
	done := make(chan error, 1)
	go func() { done <- runWorker(context.Background(), evaluation.NewProxy(p), log) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker session did not finish")
	}
	<-h.Channel().Done()

	con.mu.Lock()
	defer con.mu.Unlock()
	got := out.String()
	assert.Contains(t, got, "What is your name?: ")
	assert.Contains(t, got, "Hello, Ada!\n")
	assert.Contains(t, got, "> hi there\n")
}
