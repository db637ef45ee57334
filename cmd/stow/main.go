// Command stow attaches files to records in local stashes.
package main

import "github.com/user/stow/internal/cli"

func main() {
	cli.Execute()
}
