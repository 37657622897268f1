package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"adflow/internal/app"
	"adflow/internal/runner"
	"adflow/internal/script"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config file (yaml or json)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath, platformRunner)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	if err := a.Start(ctx); err != nil {
		fmt.Println("fatal start:", err)
		os.Exit(1)
	}

	<-ctx.Done()
	_ = a.Stop(context.Background())
}

// platformRunner is the integration point with the remote ads platform.
// The daemon ships with only the local no-op kind; real deployments plug
// their platform client in here.
func platformRunner(ctx context.Context, work script.WorkDescriptor, params map[string]any) (script.RawResult, error) {
	_ = ctx
	switch work.Type {
	case "noop":
		return script.RawResult{Data: map[string]any{"ok": true}}, nil
	default:
		return script.RawResult{}, runner.Fatal("unsupported_work", "no platform client for work type %q", work.Type)
	}
}
