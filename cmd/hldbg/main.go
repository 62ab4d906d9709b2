package main

import (
	"os"

	"github.com/hldbg/hldbg/cmd/hldbg/cmds"
	"github.com/hldbg/hldbg/pkg/version"
)

// Build is the git sha of this binary's build.
var Build string

func main() {
	if Build != "" {
		version.HldbgVersion.Build = Build
	}
	if err := cmds.New(false).Execute(); err != nil {
		os.Exit(1)
	}
}
