package verify

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/lapdb/lapdb/tsdb"
)

var verify_examples = `  lapdb-inspect verify /var/lib/lapdb/data/lapdb.snapshot
  lapdb-inspect verify ./backups/*.snapshot`

func GetCommand() *cobra.Command {
	c := &cobra.Command{
		Use:     "verify [flags] SNAPSHOT_FILE...",
		Short:   "checks that snapshot files decode cleanly",
		Example: verify_examples,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
		},
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return errors.New("at least one snapshot file is required")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args)
		},
	}
	return c
}

// run verifies the files concurrently but reports in argument order.
func run(paths []string) error {
	results := make([]string, len(paths))

	var g errgroup.Group
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			res, err := verify(path)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, res := range results {
		fmt.Println(res)
	}
	return nil
}

func verify(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	series, err := tsdb.DecodeSnapshot(f)
	if err != nil {
		return "", fmt.Errorf("%s: %s", path, err)
	}

	points := 0
	for raw, pts := range series {
		if _, err := tsdb.ParseSeriesKey(raw); err != nil {
			return "", fmt.Errorf("%s: series %q: %s", path, raw, err)
		}
		points += len(pts)
	}

	return fmt.Sprintf("%s: ok (%d series, %d points)", path, len(series), points), nil
}
