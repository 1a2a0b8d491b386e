package main

import (
	"fmt"
	"os"

	"github.com/iloncka-ds/culicidaelab-server-sub001/cmd"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/conf"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/telemetry"
)

// version and buildDate are set at link time.
var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	settings, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	settings.Version = version
	settings.BuildDate = buildDate
	settings.SystemID = loadSystemID()

	if err := cmd.RootCommand(settings).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadSystemID resolves the anonymous installation identifier used to
// group telemetry events. Failure leaves it empty.
func loadSystemID() string {
	paths, err := conf.GetDefaultConfigPaths()
	if err != nil || len(paths) == 0 {
		return ""
	}
	id, err := telemetry.LoadOrCreateSystemID(paths[0])
	if err != nil {
		return ""
	}
	return id
}
