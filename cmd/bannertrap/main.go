// Copyright 2016-2019 DutchSec (https://dutchsec.com/)
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/honeytrap/bannertrap/cmd"
	"github.com/honeytrap/bannertrap/server"
	logging "github.com/op/go-logging"
	cli "gopkg.in/urfave/cli.v1"
)

var log = logging.MustGetLogger("bannertrap/cmd/bannertrap")

const defaultConfig = "config.toml"

var globalFlags = []cli.Flag{
	cli.StringFlag{
		Name:  "config, c",
		Value: defaultConfig,
		Usage: "Load configuration from `FILE`",
	},
	cli.StringFlag{
		Name:  "data-dir",
		Value: "",
		Usage: "Store token and default event log in `DIR`",
	},
	cli.BoolFlag{Name: "cpu-profile", Usage: "Enable cpu profiler"},
	cli.BoolFlag{Name: "mem-profile", Usage: "Enable memory profiler"},
}

func options(c *cli.Context) ([]server.OptionFn, error) {
	options := []server.OptionFn{}

	if v := c.String("data-dir"); v != "" {
		fn, err := server.WithDataDir(v)
		if err != nil {
			return nil, err
		}

		options = append(options, fn)
	}

	options = append(options, server.WithToken())

	if v := c.String("config"); v == "" {
	} else if fn, err := server.WithConfig(v); err == nil {
		options = append(options, fn)
	} else if os.IsNotExist(err) && !c.IsSet("config") {
		log.Infof("No configuration file %s, using defaults", v)
	} else {
		return nil, err
	}

	if c.Bool("cpu-profile") {
		options = append(options, server.WithCPUProfiler())
	}

	if c.Bool("mem-profile") {
		options = append(options, server.WithMemoryProfiler())
	}

	return options, nil
}

func serve(c *cli.Context) error {
	options, err := options(c)
	if err != nil {
		return cli.NewExitError(color.RedString("Error opening config file: %s", err.Error()), 1)
	}

	srv, err := server.New(options...)
	if err != nil {
		return cli.NewExitError(color.RedString("Error configuring server: %s", err.Error()), 1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		return cli.NewExitError(color.RedString("Error running server: %s", err.Error()), 1)
	}

	return nil
}

func main() {
	app := cli.NewApp()
	app.Name = "bannertrap"
	app.Author = ""
	app.Usage = "bannertrap"
	app.Version = fmt.Sprintf("%s (%s)", cmd.Version, cmd.ShortCommitID)
	app.Flags = globalFlags
	app.Description = `bannertrap: The banner honeypot.`
	app.CustomAppHelpTemplate = cmd.HelpTemplate
	app.Commands = []cli.Command{
		{
			Name:   "version",
			Usage:  "Show version details",
			Action: cmd.VersionAction,
		},
	}

	app.Action = serve

	app.RunAndExitOnError()
}
