package cmds

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/hldbg/hldbg/pkg/config"
	"github.com/hldbg/hldbg/pkg/logflags"
	"github.com/hldbg/hldbg/pkg/terminal"
	"github.com/hldbg/hldbg/pkg/version"
	"github.com/hldbg/hldbg/service/debugger"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// initFile is the path to initialization file.
	initFile string
	// confPath overrides the configuration file in the config directory.
	confPath string

	// backend selection
	backend string
	// stubAddr is the address of a running gdb remote stub.
	stubAddr string
	// maxSessions overrides the max-sessions configuration option.
	maxSessions int

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

const hldbgCommandLongDesc = `hldbg is a low level debugger.

hldbg attaches to running processes and controls them through a small set
of primitives: stop a process, read and write its memory and registers,
wait for debug events and resume its threads. Up to max-sessions processes
can be debugged at the same time.

The primitives are available from the interactive terminal and from
starlark scripts, see 'hldbg script'.`

// New returns an initialized command tree.
func New(docCall bool) *cobra.Command {
	// Main hldbg root command.
	rootCommand = &cobra.Command{
		Use:   "hldbg",
		Short: "hldbg is a low level debugger.",
		Long:  hldbgCommandLongDesc,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if docCall {
				return nil
			}
			return loadConfig(cmd.Flags())
		},
		SilenceUsage: true,
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable debugger logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'hldbg help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'hldbg help log').")
	rootCommand.PersistentFlags().StringVar(&initFile, "init", "", "Init file, executed by the terminal client.")
	rootCommand.PersistentFlags().StringVar(&confPath, "config", "", "Configuration file, instead of the one in the configuration directory.")
	rootCommand.PersistentFlags().StringVar(&backend, "backend", "", `Backend selection (see 'hldbg help backend').`)
	rootCommand.PersistentFlags().StringVar(&stubAddr, "stub-addr", "", "Address of a running gdb remote stub, implies --backend=gdbremote.")
	rootCommand.PersistentFlags().IntVar(&maxSessions, "max-sessions", 0, "Number of processes that can be debugged at the same time.")

	// 'attach' subcommand.
	attachCommand := &cobra.Command{
		Use:   "attach [pid...]",
		Short: "Attach to running processes and begin debugging.",
		Long: `Attach to already running processes and begin debugging them.

Every pid is attached, the first one becomes the target of the terminal
commands. Without arguments the terminal starts with no process attached,
use its 'attach' command. Processes still attached are released when the
terminal exits.
`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := rootCommand.PersistentPreRunE(cmd, args); err != nil {
				return err
			}
			for _, arg := range args {
				if _, err := strconv.Atoi(arg); err != nil {
					return fmt.Errorf("invalid pid: %s", arg)
				}
			}
			return nil
		},
		Run: attachCmd,
	}
	rootCommand.AddCommand(attachCommand)

	// 'script' subcommand.
	scriptCommand := &cobra.Command{
		Use:   "script <file.star>",
		Short: "Runs a starlark script without the terminal.",
		Long: `Runs a starlark script without the terminal.

The script is executed as with the 'source' terminal command, its main
function is called after it is loaded. Processes the script leaves
attached are released when it terminates.
`,
		Args: cobra.ExactArgs(1),
		Run:  scriptCmd,
	}
	rootCommand.AddCommand(scriptCommand)

	// 'version' subcommand.
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "hldbg Debugger\n%s\n", version.HldbgVersion)
			if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n", version.BuildInfo())
			}
		},
	}
	versionCommand.Flags().BoolP("verbose", "v", false, "print verbose version info")
	rootCommand.AddCommand(versionCommand)

	// 'docs' writes the terminal commands reference.
	rootCommand.AddCommand(&cobra.Command{
		Use:    "docs",
		Short:  "Writes the terminal commands documentation in markdown.",
		Hidden: true,
		Args:   cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeDocs(cmd.OutOrStdout())
		},
	})

	rootCommand.AddCommand(&cobra.Command{
		Use:   "backend",
		Short: "Help about the --backend flag.",
		Long: `The --backend flag specifies which backend should be used, possible values
are:

	default		Uses native on linux and windows, gdbremote everywhere else.
	native		Uses the debugging interface of the operating system.
	gdbremote	Uses a gdb remote serial protocol stub, debugserver or
			lldb-server, started by hldbg unless --stub-addr is set.

`})

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:


	debugger	Log debugger operations and their failures
	native		Log the native backend
	gdbwire		Log connection to gdbremote backend
	stubout		Copy output from debugserver/lldb-server to standard output
	monitor		Log the event monitor of every process
	registry	Log sessions being created and released
	terminal	Log terminal commands

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.

`,
	})

	rootCommand.DisableAutoGenTag = true

	return rootCommand
}

// loadConfig reads the configuration file and applies the flags that
// override it.
func loadConfig(flags *pflag.FlagSet) error {
	if confPath != "" {
		c, err := config.LoadConfigFile(confPath)
		if err != nil {
			return err
		}
		conf = c
	} else {
		conf = config.LoadConfig()
	}
	return applyFlags(conf, flags)
}

func applyFlags(conf *config.Config, flags *pflag.FlagSet) error {
	if flags.Changed("backend") {
		conf.Backend = backend
	}
	if flags.Changed("stub-addr") {
		if flags.Changed("backend") && backend != config.BackendGdbRemote {
			return errors.New("--stub-addr requires the gdbremote backend")
		}
		conf.Backend = config.BackendGdbRemote
		conf.GdbRemote.Address = stubAddr
	}
	if flags.Changed("max-sessions") {
		conf.MaxSessions = maxSessions
	}
	return conf.Validate()
}

func attachCmd(cmd *cobra.Command, args []string) {
	pids := make([]int, len(args))
	for i := range args {
		pids[i], _ = strconv.Atoi(args[i])
	}
	os.Exit(execute(pids, ""))
}

func scriptCmd(cmd *cobra.Command, args []string) {
	os.Exit(execute(nil, args[0]))
}

func writeDocs(w io.Writer) error {
	return terminal.DebugCommands().WriteMarkdown(w)
}

// execute starts a terminal attached to pids, or runs script when it is
// not empty, and returns the exit status.
func execute(pids []int, script string) int {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer logflags.Close()

	if script != "" && initFile != "" {
		fmt.Fprint(os.Stderr, "Warning: init file ignored when running a script\n")
	}

	ctrl, err := debugger.New(debugger.ConfigFromFile(conf))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer ctrl.Close()

	term := terminal.New(ctrl, conf)
	if script != "" {
		status, err := term.Source(script)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
		return status
	}

	// Targets are attached in reverse so that the first pid ends up selected.
	for i := len(pids) - 1; i >= 0; i-- {
		if err := term.Attach(pids[i]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			term.Close()
			return 1
		}
	}

	term.InitFile = initFile
	status, err := term.Run()
	if err != nil {
		fmt.Println(err)
	}
	return status
}
