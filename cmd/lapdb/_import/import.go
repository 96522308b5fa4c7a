package _import

import (
	"context"
	"errors"
	"io"
	"log"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/lapdb/lapdb/pkg/importer"
)

var import_examples = `  lapdb import ./backups/lapdb.20260821T120000Z.snapshot
  lapdb import --host 10.0.0.2:8484 --batch-size 1000 lapdb.snapshot`

// options represents the program execution for "lapdb import".
type options struct {
	StdoutLogger *log.Logger

	// Standard output, overridden for testing.
	Stdout io.Writer

	host      string
	ssl       bool
	batchSize int
	path      string
}

var env = options{}

func GetCommand() *cobra.Command {
	c := &cobra.Command{
		Use:     "import [flags] SNAPSHOT_FILE",
		Short:   "replays a snapshot file into a running server",
		Long:    "Writes every point of SNAPSHOT_FILE (taken with \"lapdb backup\") into a running lapdb server through its HTTP API.",
		Example: import_examples,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
		},
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.New("exactly one snapshot file is required")
			}
			env.path = args[0]
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if env.Stdout == nil {
				env.Stdout = os.Stdout
			}
			env.StdoutLogger = log.New(env.Stdout, "", log.LstdFlags)

			return env.runImport()
		},
	}

	flags := c.Flags()
	flags.StringVar(&env.host, "host", "localhost:8484", "lapdb host to import into.")
	flags.BoolVar(&env.ssl, "ssl", false, "Use https when connecting.")
	flags.IntVar(&env.batchSize, "batch-size", importer.DefaultBatchSize, "Points sent per write request.")

	return c
}

// runImport replays the snapshot against the server and prints a summary.
func (cmd *options) runImport() error {
	u := url.URL{Scheme: "http", Host: cmd.host}
	if cmd.ssl {
		u.Scheme = "https"
	}

	imp, err := importer.NewImporter(importer.Config{
		Path:      cmd.path,
		Addr:      u.String(),
		BatchSize: cmd.batchSize,
	})
	if err != nil {
		return err
	}
	defer imp.Close()

	cmd.StdoutLogger.Printf("importing %s into %s", cmd.path, u.String())

	start := time.Now()
	stats, err := imp.Import(context.Background())
	if err != nil {
		return err
	}

	cmd.StdoutLogger.Printf("imported %d series (%d points, %d requests) in %s",
		stats.Series, stats.Points, stats.Batches, time.Since(start).Round(time.Millisecond))
	return nil
}
