// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package version

import (
	"fmt"

	"github.com/mitchellh/cli"

	"github.com/hashicorp/wasmchain/version"
)

func New(ui cli.Ui) *cmd {
	return &cmd{UI: ui}
}

type cmd struct {
	UI cli.Ui
}

func (c *cmd) Run(_ []string) int {
	c.UI.Output(fmt.Sprintf("wasmchain v%s", version.GetHumanVersion()))
	if version.GitCommit != "" {
		c.UI.Output(fmt.Sprintf("Revision %s", version.GitCommit))
	}
	return 0
}

func (c *cmd) Synopsis() string {
	return synopsis
}

func (c *cmd) Help() string {
	return synopsis
}

const synopsis = "Prints the wasmchain version"
