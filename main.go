// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"
	"os"

	mcli "github.com/mitchellh/cli"

	"github.com/hashicorp/wasmchain/command"
	versioncmd "github.com/hashicorp/wasmchain/command/version"
	"github.com/hashicorp/wasmchain/version"
)

func main() {
	os.Exit(realMain())
}

func realMain() int {
	ui := &mcli.BasicUi{
		Writer:      os.Stdout,
		ErrorWriter: os.Stderr,
	}

	cmds := command.RegisteredCommands(ui)
	var names []string
	for c := range cmds {
		names = append(names, c)
	}

	cli := &mcli.CLI{
		Args:         os.Args[1:],
		Commands:     cmds,
		Autocomplete: true,
		Name:         "wasmchain",
		Version:      version.GetHumanVersion(),
		HelpFunc:     mcli.FilteredHelpFunc(names, mcli.BasicHelpFunc("wasmchain")),
		HelpWriter:   os.Stdout,
		ErrorWriter:  os.Stderr,
	}

	if cli.IsVersion() {
		cmd := versioncmd.New(ui)
		return cmd.Run(nil)
	}

	exitCode, err := cli.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error executing CLI: %v\n", err)
		return 1
	}

	return exitCode
}
