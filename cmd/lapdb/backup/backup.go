package backup

import (
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/lapdb/lapdb/server/snapshotter"
)

// Suffix is a suffix added to the backup while it's in-process.
const Suffix = ".pending"

var backup_examples = `  lapdb backup ./backups
  lapdb backup --host 10.0.0.2:8484 /var/backups/lapdb`

// options represents the program execution for "lapdb backup".
type options struct {
	StdoutLogger *log.Logger
	StderrLogger *log.Logger

	// Standard input/output, overridden for testing.
	Stderr io.Writer
	Stdout io.Writer

	host string
	path string
}

var env = options{}

func GetCommand() *cobra.Command {
	c := &cobra.Command{
		Use:     "backup [flags] PATH",
		Short:   "downloads a snapshot of the store and saves it to disk",
		Long:    "Downloads a snapshot of a running lapdb server and saves it to PATH (directory where backups are saved).",
		Example: backup_examples,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
		},
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.New("exactly one backup path is required")
			}
			env.path = args[0]

			return os.MkdirAll(env.path, 0700)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if env.Stdout == nil {
				env.Stdout = os.Stdout
			}
			if env.Stderr == nil {
				env.Stderr = os.Stderr
			}
			env.StdoutLogger = log.New(env.Stdout, "", log.LstdFlags)
			env.StderrLogger = log.New(env.Stderr, "", log.LstdFlags)

			return env.backup()
		},
	}

	c.Flags().StringVar(&env.host, "host", "localhost:8484", "lapdb host to back up from.")

	return c
}

// backup asks the server for its stats, then streams a fresh snapshot into
// a timestamped file under the backup path.
func (cmd *options) backup() error {
	client := snapshotter.NewClient(cmd.host)

	stats, err := client.Stats()
	if err != nil {
		return fmt.Errorf("connect to %s: %s", cmd.host, err)
	}
	cmd.StdoutLogger.Printf("backing up %d series (%d points) from %s",
		stats.SeriesCount, stats.TotalPoints, cmd.host)

	path := filepath.Join(cmd.path,
		fmt.Sprintf("lapdb.%s.snapshot", time.Now().UTC().Format("20060102T150405Z")))

	n, err := cmd.download(client, path)
	if err != nil {
		return err
	}

	cmd.StdoutLogger.Printf("backup complete: %s (%s)", path, humanize.Bytes(uint64(n)))
	return nil
}

// download streams the snapshot to a temporary file and renames it into
// place once the copy finished, so a partial download never looks like a
// valid backup.
func (cmd *options) download(client *snapshotter.Client, path string) (int64, error) {
	tmppath := path + Suffix
	f, err := os.Create(tmppath)
	if err != nil {
		return 0, fmt.Errorf("open temp file: %s", err)
	}
	defer f.Close()

	var n int64
	min := 2 * time.Second
	for i := 0; i < 10; i++ {
		if n, err = client.Download(f); err == nil {
			break
		}

		backoff := time.Duration(math.Pow(3.8, float64(i))) * time.Millisecond
		if backoff < min {
			backoff = min
		}
		cmd.StderrLogger.Printf("Download failed %s. Waiting %v and retrying (%d)...", err, backoff, i)
		time.Sleep(backoff)

		if err := f.Truncate(0); err != nil {
			return 0, err
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return 0, err
		}
	}
	if err != nil {
		os.Remove(tmppath)
		return 0, err
	}

	if err := f.Sync(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmppath, path); err != nil {
		return 0, fmt.Errorf("rename: %s", err)
	}
	return n, nil
}
