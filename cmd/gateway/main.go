// Command gateway bootstraps a Controller with a small set of example
// connector plug-ins registered by registry key, reads a config file path
// from argv, and runs until interrupted. CLI bootstrap, signal handling
// and supervision above the Controller are explicitly out of scope
// (spec.md §1); this is a minimal demonstration, not production
// orchestration.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mbocsi/edgegateway/connectors/httpcloud"
	"github.com/mbocsi/edgegateway/connectors/mcpcloud"
	"github.com/mbocsi/edgegateway/connectors/mdnsdevice"
	"github.com/mbocsi/edgegateway/connectors/wscloud"
	"github.com/mbocsi/edgegateway/internal/connector"
	"github.com/mbocsi/edgegateway/internal/controller"
	"github.com/mbocsi/edgegateway/internal/factory"
	"github.com/mbocsi/edgegateway/internal/logging"
)

func main() {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	slog.SetDefault(slog.New(handler))

	if len(os.Args) < 2 {
		slog.Error("usage: gateway <config-file>")
		os.Exit(1)
	}
	configPath := os.Args[1]

	provider := logging.NewSlogProvider()

	var ctl *controller.Controller
	lister := func() []map[string]any {
		out := make([]map[string]any, 0)
		for id, snap := range ctl.GetCloudConnectors() {
			out = append(out, map[string]any{"id": id, "category": "cloud", "type": snap.Type})
		}
		for id, snap := range ctl.GetDeviceConnectors() {
			out = append(out, map[string]any{"id": id, "category": "device", "type": snap.Type})
		}
		return out
	}

	// builtinTypes is the compile-time registry-key -> constructor table
	// for this binary. spec.md §9 permits a compiled implementation to
	// treat module paths as registry keys rather than truly dynamic
	// module loads.
	builtinTypes := map[string]factory.Constructor{
		"WsCloud":   wscloud.New,
		"HttpCloud": httpcloud.New,
		"McpCloud": func(id string) connector.Connector {
			return mcpcloud.New(id, lister)
		},
		"MdnsDevice": mdnsdevice.New,
	}

	loader := func(resolvedPath string) (factory.Constructor, error) {
		ctor, ok := builtinTypes[resolvedPath]
		if !ok {
			return nil, fmt.Errorf("no builtin connector type registered for %q", resolvedPath)
		}
		return ctor, nil
	}

	ctl = controller.New(controller.Config{Loader: loader}, provider)
	ctl.OnMaintenance(func(ev controller.MaintenanceEvent) {
		slog.Info("maintenance signal received", "command", ev.Command, "requestId", ev.RequestID)
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := ctl.Init(ctx, configPath, "boot"); err != nil {
		slog.Error("controller failed to start", "error", err.Error())
		os.Exit(1)
	}
	slog.Info("gateway controller started")

	<-ctx.Done()
	slog.Info("shutting down")
	if err := ctl.Stop(context.Background(), "shutdown"); err != nil {
		slog.Error("controller failed to stop cleanly", "error", err.Error())
	}
}
