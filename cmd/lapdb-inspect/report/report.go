package report

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/xlab/treeprint"

	"github.com/lapdb/lapdb/tsdb"
)

var report_examples = `  lapdb-inspect report /var/lib/lapdb/data/lapdb.snapshot`

func GetCommand() *cobra.Command {
	c := &cobra.Command{
		Use:     "report [flags] SNAPSHOT_FILE",
		Short:   "prints the series inside a snapshot file as a tree",
		Example: report_examples,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
		},
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.New("exactly one snapshot file is required")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return report(args[0])
		},
	}
	return c
}

func report(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return err
	}

	series, err := tsdb.DecodeSnapshot(f)
	if err != nil {
		return err
	}

	// Group the series keys per measurement so the tree reads naturally.
	byMeasurement := make(map[string][]tsdb.SeriesKey)
	points := make(map[string][]tsdb.Point, len(series))
	total := 0
	for raw, pts := range series {
		key, err := tsdb.ParseSeriesKey(raw)
		if err != nil {
			return fmt.Errorf("series %q: %s", raw, err)
		}
		byMeasurement[key.Measurement] = append(byMeasurement[key.Measurement], key)
		points[raw] = pts
		total += len(pts)
	}

	measurements := make([]string, 0, len(byMeasurement))
	for m := range byMeasurement {
		measurements = append(measurements, m)
	}
	sort.Strings(measurements)

	tree := treeprint.New()
	tree.SetValue(fmt.Sprintf("%s (%s, %d series, %d points)",
		path, humanize.Bytes(uint64(fi.Size())), len(series), total))

	for _, m := range measurements {
		keys := byMeasurement[m]
		sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

		branch := tree.AddMetaBranch(fmt.Sprintf("%d series", len(keys)), m)
		for _, key := range keys {
			pts := points[key.String()]

			label := key.Tags.String()
			if label == "" {
				label = "(no tags)"
			}
			branch.AddMetaNode(describePoints(pts), label)
		}
	}

	fmt.Print(tree.String())
	return nil
}

// describePoints summarizes a point slice as a count plus time range.
func describePoints(pts []tsdb.Point) string {
	if len(pts) == 0 {
		return "0 points"
	}
	oldest, newest := pts[0].Timestamp, pts[0].Timestamp
	for _, p := range pts[1:] {
		if p.Timestamp < oldest {
			oldest = p.Timestamp
		}
		if p.Timestamp > newest {
			newest = p.Timestamp
		}
	}
	return fmt.Sprintf("%d points, %s to %s", len(pts),
		time.UnixMilli(oldest).UTC().Format(time.RFC3339),
		time.UnixMilli(newest).UTC().Format(time.RFC3339))
}
