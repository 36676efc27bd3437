package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/pflag"

	"github.com/neurallap/companion/internal/config"
	"github.com/neurallap/companion/internal/source"
)

const usage = `Usage: neurallap [flags] [command]

Commands:
  serve    run the telemetry engine and websocket server (default)
  probe    report which telemetry sources are reachable and exit
  version  print the version and exit

Flags:
`

func run(args []string) error {
	fs := config.Flags()
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	configDir, _ := fs.GetString("config-dir")
	if err := config.Load(configDir); err != nil {
		Logger.Warn("Failed to load config, using defaults!", "error", err)
	} else {
		Logger.Info("Loaded config", "dir", configDir)
	}
	if err := config.BindFlags(fs); err != nil {
		return err
	}

	cmd := strings.ToLower(fs.Arg(0))
	switch cmd {
	case "", "serve":
		return serve()
	case "probe":
		return probe()
	case "version":
		fmt.Printf("%s %s (built %s)\n", AppName, Version, BuildDate)
		return nil
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// probe builds every configured adapter, probes it once and prints the
// result.
func probe() error {
	pterm.DefaultSection.Println("Telemetry sources")

	adapters, skipped := source.Build(sourcePriority())
	defer func() {
		for _, a := range adapters {
			_ = a.Close()
		}
	}()

	data := pterm.TableData{{"Priority", "Source", "Status", "Detail"}}
	for i, a := range adapters {
		status, detail := pterm.Red("unreachable"), "simulator not running"
		if a.Probe() {
			status, detail = pterm.Green("reachable"), ""
		}
		data = append(data, []string{fmt.Sprint(i + 1), string(a.Kind()), status, detail})
	}
	for kind, err := range skipped {
		data = append(data, []string{"-", string(kind), pterm.Yellow("unavailable"), err.Error()})
	}

	if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
		return err
	}

	if config.GetEngineConfig().SyntheticFallback {
		pterm.Info.Println("Synthetic frames are published while no source is reachable.")
	} else {
		pterm.Warning.Println("Synthetic fallback is disabled; no frames are published while disconnected.")
	}
	return nil
}

// sourcePriority parses the configured priority list, dropping unknown kinds.
func sourcePriority() []source.Kind {
	var kinds []source.Kind
	for _, s := range config.GetSourcesConfig().Priority {
		k, err := source.ParseKind(s)
		if err != nil {
			Logger.Warn("Ignoring source", "source", s, "error", err)
			continue
		}
		kinds = append(kinds, k)
	}
	return kinds
}

func buildAdapters() []source.Adapter {
	adapters, skipped := source.Build(sourcePriority())
	for kind, err := range skipped {
		Logger.Warn("Source unavailable, synthetic fallback covers it", "source", kind, "error", err)
	}
	for _, a := range adapters {
		Logger.Info("Source enabled", "source", a.Kind())
	}
	return adapters
}
