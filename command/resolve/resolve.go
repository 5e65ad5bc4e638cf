// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package resolve

import (
	"encoding/json"
	"flag"
	"fmt"
	"strings"

	"github.com/hashicorp/go-bexpr"
	"github.com/mitchellh/cli"
	"github.com/ryanuber/columnize"

	"github.com/hashicorp/wasmchain/command/flags"
	"github.com/hashicorp/wasmchain/command/helpers"
	"github.com/hashicorp/wasmchain/placement"
	"github.com/hashicorp/wasmchain/structs"
)

const (
	formatTable = "table"
	formatJSON  = "json"
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

	format string
	filter string
}

func (c *cmd) init() {
	c.flags = flag.NewFlagSet("", flag.ContinueOnError)
	c.flags.StringVar(&c.format, "format", formatTable,
		fmt.Sprintf("Output format. Must be one of: %q or %q.", formatTable, formatJSON))
	c.flags.StringVar(&c.filter, "filter", "",
		"Filter to use with the entries before they are placed. The format is "+
			"the same filter syntax used on API listing endpoints.")
	c.help = flags.Usage(help, c.flags)
}

func (c *cmd) Run(args []string) int {
	if err := c.flags.Parse(args); err != nil {
		return 1
	}

	if c.format != formatTable && c.format != formatJSON {
		c.UI.Error(fmt.Sprintf("Invalid format: %s", c.format))
		return 1
	}

	paths := c.flags.Args()
	if len(paths) < 1 {
		c.UI.Error("Must specify at least one entry file or directory")
		return 1
	}

	entries, err := helpers.LoadEntries(paths)
	if err != nil {
		c.UI.Error(fmt.Sprintf("Error loading entries: %v", err))
		return 1
	}

	if c.filter != "" {
		filter, err := bexpr.CreateFilter(c.filter, nil, entries)
		if err != nil {
			c.UI.Error(fmt.Sprintf("Invalid filter expression: %v", err))
			return 1
		}
		raw, err := filter.Execute(entries)
		if err != nil {
			c.UI.Error(fmt.Sprintf("Error filtering entries: %v", err))
			return 1
		}
		entries = raw.([]*structs.WasmPluginEntry)
	}

	chain := placement.Resolve(entries)

	switch c.format {
	case formatJSON:
		b, err := json.MarshalIndent(chain, "", "  ")
		if err != nil {
			c.UI.Error("Failed to encode output data")
			return 1
		}
		c.UI.Output(string(b))
	case formatTable:
		c.UI.Output(formatChainTable(chain))
	}
	return 0
}

func formatChainTable(chain []*structs.WasmPluginEntry) string {
	result := make([]string, 0, len(chain)+1)
	header := "Position\x1fName\x1fNamespace\x1fPhase\x1fPriority\x1fURL"
	result = append(result, header)

	for i, entry := range chain {
		phase := string(entry.Phase)
		if phase == "" {
			phase = "unspecified"
		}
		result = append(result, fmt.Sprintf("%d\x1f%s\x1f%s\x1f%s\x1f%d\x1f%s",
			i+1, entry.Name, entry.Namespace, phase, entry.PriorityOrDefault(), entry.URL))
	}

	return strings.TrimSpace(columnize.Format(result, &columnize.Config{Delim: string([]byte{0x1f})}))
}

func (c *cmd) Synopsis() string {
	return synopsis
}

func (c *cmd) Help() string {
	return c.help
}

const (
	synopsis = "Resolve the attachment order of wasm plugin entries"
	help     = `
Usage: wasmchain resolve [options] FILE|DIR ...

  Loads the given wasm plugin entry files and prints the order their filters
  would be attached to a workload's processing pipeline: grouped into the
  fixed phase order authn, authz, stats, unspecified, ordered inside a phase
  by priority with the highest first, and ties broken by namespace and name.

  Filter the loaded entries before placement with -filter:

    $ wasmchain resolve -filter 'Phase == "authz"' ./plugins
`
)
