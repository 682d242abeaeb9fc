package main

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"worker-rpc/evaluation"
)

const workerHelp = "commands: cls, telemetry on|off, exit; anything else is echoed"

// runWorker drives a small read-eval-print session through l. An empty
// answer means end of input.
func runWorker(ctx context.Context, l evaluation.Listener, log *zap.SugaredLogger) error {
	name, err := l.OnPrompt(ctx, "What is your name?", "text")
	if err != nil {
		return fmt.Errorf("prompting for name: %w", err)
	}
	if name == "" {
		name = "stranger"
	}
	if err := l.OnPrint(ctx, []any{fmt.Sprintf("Hello, %s!", name), workerHelp}); err != nil {
		return err
	}

	for {
		line, err := l.OnPrompt(ctx, ">", "text")
		if err != nil {
			return fmt.Errorf("prompting: %w", err)
		}

		switch cmd := strings.TrimSpace(line); cmd {
		case "", "exit", "quit":
			err := l.OnExit(ctx)
			if err == nil || evaluation.IsExitSuperseded(err) {
				log.Debugw("exit acknowledged", "error", err)
				return nil
			}
			return fmt.Errorf("exiting: %w", err)
		case "cls", "clear":
			err = l.OnClearCommand(ctx)
		case "telemetry on", "telemetry off":
			err = l.ToggleTelemetry(ctx, cmd == "telemetry on")
		default:
			err = l.OnPrint(ctx, []any{cmd})
		}
		if err != nil {
			return err
		}
	}
}
