package restore

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lapdb/lapdb/tsdb"
)

var restore_examples = `  lapdb restore --dir /var/lib/lapdb/data ./backups/lapdb.20260821T120000Z.snapshot`

// options represents the program execution for "lapdb restore".
type options struct {
	StdoutLogger *log.Logger

	// Standard output, overridden for testing.
	Stdout io.Writer

	backupPath string
	datadir    string
}

var env = options{}

func GetCommand() *cobra.Command {
	c := &cobra.Command{
		Use:     "restore [flags] BACKUP_FILE",
		Short:   "installs a backup into a data directory",
		Long:    "Installs a backup file as the snapshot of an offline data directory. The server loads it on its next start.",
		Example: restore_examples,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
		},
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.New("exactly one backup file is required")
			}
			env.backupPath = args[0]
			if env.datadir == "" {
				return errors.New("data directory required, use --dir")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if env.Stdout == nil {
				env.Stdout = os.Stdout
			}
			env.StdoutLogger = log.New(env.Stdout, "", log.LstdFlags)

			return env.restore()
		},
	}

	c.Flags().StringVar(&env.datadir, "dir", "", "Data directory to restore into. The directory must not be in use by a running server.")

	return c
}

// restore verifies the backup decodes before anything is replaced, then
// installs it as the directory's snapshot file.
func (cmd *options) restore() error {
	f, err := os.Open(cmd.backupPath)
	if err != nil {
		return err
	}
	defer f.Close()

	series, err := tsdb.DecodeSnapshot(f)
	if err != nil {
		return fmt.Errorf("verify backup: %s", err)
	}
	points := 0
	for _, pts := range series {
		points += len(pts)
	}

	if err := os.MkdirAll(cmd.datadir, 0755); err != nil {
		return err
	}

	target := filepath.Join(cmd.datadir, tsdb.SnapshotFileName)
	if _, err := os.Stat(target); err == nil {
		cmd.StdoutLogger.Printf("replacing existing snapshot at %s", target)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if err := copyAtomic(target, f); err != nil {
		return err
	}

	cmd.StdoutLogger.Printf("restored %d series (%d points) to %s", len(series), points, target)
	return nil
}

// copyAtomic writes r to a temporary file next to path and renames it into
// place, so a crash mid-copy never leaves a half-written snapshot.
func copyAtomic(path string, r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
