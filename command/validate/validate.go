// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package validate

import (
	"flag"
	"fmt"

	"github.com/mitchellh/cli"

	"github.com/hashicorp/wasmchain/command/flags"
	"github.com/hashicorp/wasmchain/command/helpers"
)

func New(ui cli.Ui) *cmd {
	c := &cmd{UI: ui}
	c.init()
	return c
}

type cmd struct {
	UI    cli.Ui
	flags *flag.FlagSet
	help  string

	quiet bool
}

func (c *cmd) init() {
	c.flags = flag.NewFlagSet("", flag.ContinueOnError)
	c.flags.BoolVar(&c.quiet, "quiet", false,
		"When given, a successful run will produce no output.")
	c.help = flags.Usage(help, c.flags)
}

func (c *cmd) Run(args []string) int {
	if err := c.flags.Parse(args); err != nil {
		return 1
	}

	paths := c.flags.Args()
	if len(paths) < 1 {
		c.UI.Error("Must specify at least one entry file or directory")
		return 1
	}

	entries, err := helpers.LoadEntries(paths)
	if err != nil {
		c.UI.Error(fmt.Sprintf("Error! Configuration is invalid: %v", err))
		return 1
	}

	if !c.quiet {
		c.UI.Output(fmt.Sprintf("Configuration is valid! (%d wasm plugin entries)", len(entries)))
	}
	return 0
}

func (c *cmd) Synopsis() string {
	return synopsis
}

func (c *cmd) Help() string {
	return c.help
}

const (
	synopsis = "Validate wasm plugin entry files"
	help     = `
Usage: wasmchain validate [options] FILE|DIR ...

  Performs a basic sanity test on wasm plugin entry files. The validate
  command will attempt to parse every given entry file, and a directory
  argument stands for every entry file directly inside it. Returns a non-zero
  exit status if any file fails to parse or validate, or if the same plugin
  identity is defined twice.

    $ wasmchain validate ./plugins
`
)
