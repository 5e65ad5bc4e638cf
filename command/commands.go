// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package command registers the subcommands of the wasmchain CLI.
package command

import (
	"github.com/mitchellh/cli"

	"github.com/hashicorp/wasmchain/command/render"
	"github.com/hashicorp/wasmchain/command/resolve"
	"github.com/hashicorp/wasmchain/command/validate"
	"github.com/hashicorp/wasmchain/command/version"
)

// RegisteredCommands returns a realized mapping of available CLI commands.
func RegisteredCommands(ui cli.Ui) map[string]cli.CommandFactory {
	registry := map[string]cli.CommandFactory{}
	registerCommands(ui, registry,
		entry{"validate", func(ui cli.Ui) (cli.Command, error) { return validate.New(ui), nil }},
		entry{"resolve", func(ui cli.Ui) (cli.Command, error) { return resolve.New(ui), nil }},
		entry{"render", func(ui cli.Ui) (cli.Command, error) { return render.New(ui), nil }},
		entry{"version", func(ui cli.Ui) (cli.Command, error) { return version.New(ui), nil }},
	)
	return registry
}

func registerCommands(ui cli.Ui, m map[string]cli.CommandFactory, cmdEntries ...entry) {
	for _, ent := range cmdEntries {
		thisFn := ent.fn
		if _, ok := m[ent.name]; ok {
			panic("duplicate command: " + ent.name)
		}
		m[ent.name] = func() (cli.Command, error) {
			return thisFn(ui)
		}
	}
}

type entry struct {
	name string
	fn   func(cli.Ui) (cli.Command, error)
}
