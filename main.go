// SPDX-License-Identifier: MPL-2.0

// voxstrap is a game client launcher and mod manager.
package main

import cmd "github.com/voxstrap/voxstrap/cmd/voxstrap"

func main() {
	cmd.Execute()
}
