package terminal

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// WriteMarkdown writes the documentation of every command to out and
// returns the first write error.
func (c *Commands) WriteMarkdown(out io.Writer) error {
	w := bufio.NewWriter(out)
	fmt.Fprint(w, "# Configuration and Command History\n\n")
	fmt.Fprint(w, "The configuration file `config.yml` and the command history `.hldbg_history` are located in `$HOME/.hldbg`. ")
	fmt.Fprint(w, "The configuration file is created with every option commented out the first time hldbg runs.\n\n")

	fmt.Fprint(w, "# Commands\n")

	for _, cgd := range commandGroupDescriptions {
		fmt.Fprintf(w, "\n## %s\n\n", cgd.description)

		fmt.Fprint(w, "Command | Description\n")
		fmt.Fprint(w, "--------|------------\n")
		for _, cmd := range c.cmds {
			if cmd.group != cgd.group {
				continue
			}
			h := cmd.helpMsg
			if idx := strings.Index(h, "\n"); idx >= 0 {
				h = h[:idx]
			}
			fmt.Fprintf(w, "[%s](#%s) | %s\n", cmd.aliases[0], cmd.aliases[0], h)
		}
		fmt.Fprint(w, "\n")
	}

	for _, cmd := range c.cmds {
		fmt.Fprintf(w, "## %s\n%s\n\n", cmd.aliases[0], cmd.helpMsg)
		if len(cmd.aliases) > 1 {
			fmt.Fprint(w, "Aliases:")
			for _, alias := range cmd.aliases[1:] {
				fmt.Fprintf(w, " %s", alias)
			}
			fmt.Fprint(w, "\n")
		}
		fmt.Fprint(w, "\n")
	}
	return w.Flush()
}
