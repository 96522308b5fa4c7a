package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lapdb/lapdb/cmd/lapdb/_import"
	"github.com/lapdb/lapdb/cmd/lapdb/backup"
	"github.com/lapdb/lapdb/cmd/lapdb/options"
	"github.com/lapdb/lapdb/cmd/lapdb/restore"
	"github.com/lapdb/lapdb/cmd/lapdb/run"
	"github.com/lapdb/lapdb/server"
)

// These variables are populated via the Go linker.
var (
	version string
	commit  string
	branch  string
)

func init() {
	// If commit, branch, or build time are not set, make that clear.
	if version == "" {
		version = "unknown"
	}
	if commit == "" {
		commit = "unknown"
	}
	if branch == "" {
		branch = "unknown"
	}
	server.Version = version
}

var lapdb_examples = `  lapdb
  lapdb --config ./lapdb.conf`

func main() {
	mainCmd := GetCommand()
	setFlags(mainCmd)
	runCmd := run.GetCommand()
	setFlags(runCmd)
	mainCmd.AddCommand(runCmd)
	mainCmd.AddCommand(run.GetConfigCommand())
	mainCmd.AddCommand(backup.GetCommand())
	mainCmd.AddCommand(restore.GetCommand())
	mainCmd.AddCommand(_import.GetCommand())
	mainCmd.AddCommand(printBuildInfo())

	if err := mainCmd.Execute(); err != nil {
		fmt.Printf("Error : %+v\n", err)
		os.Exit(1)
	}
}

func GetCommand() *cobra.Command {
	c := &cobra.Command{
		Use:     "lapdb [command]",
		Long:    "The 'lapdb' command starts and runs all the processes necessary for lapdb to function.",
		Example: lapdb_examples,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			runCmd := run.GetCommand()
			setFlags(runCmd)
			runArgs := os.Args[:]
			runArgs[0] = "run"
			runCmd.SetArgs(runArgs)
			return runCmd.Execute()
		},
	}
	return c
}

func printBuildInfo() *cobra.Command {
	return &cobra.Command{
		Use:  "version",
		Long: "displays the lapdb version",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableNoDescFlag:   true,
			DisableDescriptions: true,
		},
		// example: lapdb v0.10.0 (git: main c2b889e3)
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("lapdb v%s (git: %s %s)\n", version, branch, commit)
		},
	}
}

func setFlags(c *cobra.Command) {
	c.Flags().StringVarP(&options.Env.ConfigFile, "config", "c", "", `Set the path to the configuration file.
This defaults to the environment variable LAPDB_CONFIG_PATH,
~/.lapdb/lapdb.conf, or /etc/lapdb/lapdb.conf if a file
is present at any of these locations.
Disable the automatic loading of a configuration file using
the null device (such as /dev/null)`)
	c.Flags().StringVarP(&options.Env.PidFile, "pidfile", "", "", "Write process ID to a file.")
	c.Flags().StringVarP(&options.Env.CpuProfile, "cpuprofile", "", "", "Write CPU profiling information to a file.")
	c.Flags().StringVarP(&options.Env.MemProfile, "memprofile", "", "", "Write memory usage information to a file.")
}
