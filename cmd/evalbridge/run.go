package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"worker-rpc/channel"
	"worker-rpc/evaluation"
	"worker-rpc/transport"
)

var runCommand = &cli.Command{
	Name:   "run",
	Usage:  "spawn a worker child and serve it this terminal over stdio",
	Action: runAction,
}

func runAction(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.log.Sync()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locating executable: %w", err)
	}
	args := []string{"--codec", e.cfg.Codec, "--log-level", e.cfg.Log.Level}
	if path := c.String("config"); path != "" {
		args = append(args, "--config", path)
	}
	args = append(args, "child", "--stdio")

	cmd := exec.Command(self, args...)
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting worker: %w", err)
	}
	log := e.log.With("worker_pid", cmd.Process.Pid)
	log.Debug("worker started")

	t, err := transport.NewStream(transport.JoinPipes(stdout, stdin), e.codec, e.transportOpts()...)
	if err != nil {
		_ = cmd.Process.Kill()
		return err
	}

	holder := &evaluation.Holder{}
	// OnExit drops the channel the way a terminating process would.
	holder.Set(newTerminal(newConsole(os.Stdin, os.Stdout), log, func() { _ = t.Close() }))
	h, err := evaluation.Expose(holder, channel.New(t, e.channelOpts()...), e.serverOpts()...)
	if err != nil {
		_ = cmd.Process.Kill()
		return err
	}

	select {
	case <-h.Channel().Done():
	case <-ctx.Done():
		closeCtx, cancel := context.WithTimeout(context.Background(), e.cfg.CloseGrace)
		_ = h.Shutdown(closeCtx)
		cancel()
	}

	// Wait only after the channel is done: Wait closes the pipes.
	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()
	select {
	case err := <-waitErr:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("worker exited with status %d", exitErr.ExitCode())
		}
		return err
	case <-time.After(e.cfg.CloseGrace + time.Second):
		log.Warn("worker did not exit, killing it")
		_ = cmd.Process.Kill()
		<-waitErr
		return errors.New("worker killed after close")
	}
}
