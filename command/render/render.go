// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package render

import (
	"encoding/json"
	"flag"
	"fmt"
	"time"

	"github.com/mitchellh/cli"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/hashicorp/wasmchain/command/flags"
	"github.com/hashicorp/wasmchain/command/helpers"
	"github.com/hashicorp/wasmchain/envoyfilters"
	"github.com/hashicorp/wasmchain/placement"
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

	protocol     string
	cluster      string
	fetchTimeout time.Duration
	fetchRetries int
	modulePaths  flags.FlagMapValue
}

func (c *cmd) init() {
	c.flags = flag.NewFlagSet("", flag.ContinueOnError)
	c.flags.StringVar(&c.protocol, "protocol", "http",
		"Which filter chain to render, http or tcp. Entries with the other "+
			"protocol are left out.")
	c.flags.StringVar(&c.cluster, "cluster", "",
		"Name of the upstream cluster the proxy fetches remote modules "+
			"through. Required when any entry uses an http or https URL.")
	c.flags.DurationVar(&c.fetchTimeout, "fetch-timeout", 0,
		"Timeout for a single remote module fetch attempt.")
	c.flags.IntVar(&c.fetchRetries, "fetch-retries", 0,
		"Number of times the proxy retries a failed remote module fetch.")
	c.flags.Var(&c.modulePaths, "module-path",
		"Local path for a module the retriever has already staged, as "+
			"url=path. May be specified multiple times and is required for "+
			"oci modules.")
	c.help = flags.Usage(help, c.flags)
}

func (c *cmd) Run(args []string) int {
	if err := c.flags.Parse(args); err != nil {
		return 1
	}

	if c.protocol != "http" && c.protocol != "tcp" {
		c.UI.Error(fmt.Sprintf("Invalid protocol: %s", c.protocol))
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

	chain := placement.Resolve(entries)
	opts := envoyfilters.Options{
		FetchCluster: c.cluster,
		FetchTimeout: c.fetchTimeout,
		FetchRetries: c.fetchRetries,
		ModulePaths:  c.modulePaths,
	}

	var messages []proto.Message
	switch c.protocol {
	case "http":
		filters, err := envoyfilters.BuildHTTPFilters(chain, opts)
		if err != nil {
			c.UI.Error(fmt.Sprintf("Error building filters: %v", err))
			return 1
		}
		for _, f := range filters {
			messages = append(messages, f)
		}
	case "tcp":
		filters, err := envoyfilters.BuildNetworkFilters(chain, opts)
		if err != nil {
			c.UI.Error(fmt.Sprintf("Error building filters: %v", err))
			return 1
		}
		for _, f := range filters {
			messages = append(messages, f)
		}
	}

	out, err := marshalFilters(messages)
	if err != nil {
		c.UI.Error(fmt.Sprintf("Failed to encode output data: %v", err))
		return 1
	}

	c.UI.Output(out)
	return 0
}

// marshalFilters renders the filters as one stable JSON array. The protojson
// encoding is deliberately unstable in its whitespace, so each message is
// round-tripped through encoding/json to normalize it.
func marshalFilters(messages []proto.Message) (string, error) {
	filters := make([]interface{}, 0, len(messages))
	for _, m := range messages {
		b, err := protojson.Marshal(m)
		if err != nil {
			return "", err
		}
		var v interface{}
		if err := json.Unmarshal(b, &v); err != nil {
			return "", err
		}
		filters = append(filters, v)
	}

	b, err := json.MarshalIndent(filters, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (c *cmd) Synopsis() string {
	return synopsis
}

func (c *cmd) Help() string {
	return c.help
}

const (
	synopsis = "Render a resolved plugin chain as Envoy filter JSON"
	help     = `
Usage: wasmchain render [options] FILE|DIR ...

  Loads the given wasm plugin entry files, resolves their attachment order,
  and prints the resulting Envoy wasm filters as a JSON array in chain order.
  The output is what the filter injector would splice into a listener's
  filter chain ahead of the terminal router filter.

  Modules the retriever has staged locally are referenced by their local
  path:

    $ wasmchain render -module-path oci://registry/oidc:v1=/var/cache/oidc.wasm ./plugins
`
)
