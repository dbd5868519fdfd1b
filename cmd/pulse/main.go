/*
Copyright 2024 Gravitational, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Command pulse runs the pulse activity aggregator.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	log "github.com/sirupsen/logrus"

	"github.com/gravitational/pulse"
	"github.com/gravitational/pulse/lib/config"
	"github.com/gravitational/pulse/lib/service"
)

func main() {
	app := kingpin.New("pulse", "Pulse aggregates activity from connected platforms into per-user timelines.")
	debug := app.Flag("debug", "Enable verbose logging.").Short('d').Bool()

	startCmd := app.Command("start", "Start the pulse service.")
	configPath := startCmd.Flag("config", "Path to a YAML configuration file.").Short('c').String()

	versionCmd := app.Command("version", "Print the version and exit.")

	selected := kingpin.MustParse(app.Parse(os.Args[1:]))
	switch selected {
	case versionCmd.FullCommand():
		fmt.Printf("pulse v%v\n", pulse.Version)
	case startCmd.FullCommand():
		if err := start(*configPath, *debug); err != nil {
			log.WithError(err).Error("Pulse failed to start.")
			os.Exit(1)
		}
	}
}

func start(configPath string, debug bool) error {
	var fc *config.FileConfig
	if configPath != "" {
		var err error
		if fc, err = config.ReadFromFile(configPath); err != nil {
			return err
		}
	}
	cfg, err := config.Apply(fc)
	if err != nil {
		return err
	}
	if debug {
		cfg.Debug = true
	}

	process, err := service.NewProcess(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return process.Run(ctx)
}
