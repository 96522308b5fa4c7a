// Package importer loads a snapshot file into a running server through
// the HTTP write endpoint.
package importer

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/lapdb/lapdb/client"
	"github.com/lapdb/lapdb/pkg/logger"
	"github.com/lapdb/lapdb/tsdb"
	"go.uber.org/zap"
)

// DefaultBatchSize is the number of points sent per write request.
const DefaultBatchSize = 5000

// Config is the importer configuration.
type Config struct {
	// Path is the snapshot file to import.
	Path string

	// Addr is the target server, of the form "http://host:port".
	Addr string

	// BatchSize caps the number of points per write request.
	BatchSize int
}

func NewConfig() *Config {
	return &Config{
		BatchSize: DefaultBatchSize,
	}
}

// Stats counts what one import run sent.
type Stats struct {
	Series  int
	Points  int
	Batches int
}

// Importer replays the points of a snapshot file against a server.
type Importer struct {
	config *Config
	client *client.Client
	logger *zap.Logger
}

func NewImporter(c Config) (*Importer, error) {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}

	cl, err := client.NewHTTPClient(client.HTTPConfig{Addr: c.Addr})
	if err != nil {
		return nil, err
	}

	return &Importer{
		config: &c,
		client: cl,
		logger: zap.NewNop(),
	}, nil
}

func (i *Importer) WithLogger(log *zap.Logger) {
	i.logger = log.With(zap.String("service", "importer"))
}

// Import decodes the snapshot and writes its points in batches. Series
// are sent in key order so repeated runs behave the same way.
func (i *Importer) Import(ctx context.Context) (Stats, error) {
	var stats Stats

	f, err := os.Open(i.config.Path)
	if err != nil {
		return stats, err
	}
	defer f.Close()

	series, err := tsdb.DecodeSnapshot(f)
	if err != nil {
		return stats, fmt.Errorf("decode snapshot %s: %s", i.config.Path, err)
	}

	keys := make([]string, 0, len(series))
	for key := range series {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	batch := make([]client.Point, 0, i.config.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := i.client.Write(ctx, batch); err != nil {
			return err
		}
		stats.Points += len(batch)
		stats.Batches++
		batch = batch[:0]
		return nil
	}

	for _, key := range keys {
		sk, err := tsdb.ParseSeriesKey(key)
		if err != nil {
			return stats, fmt.Errorf("series %q: %s", key, err)
		}
		tags := sk.Tags.Map()

		for _, p := range series[key] {
			batch = append(batch, client.Point{
				Measurement: sk.Measurement,
				Tags:        tags,
				Fields:      p.Fields,
				Timestamp:   p.Timestamp,
			})
			if len(batch) == i.config.BatchSize {
				if err := flush(); err != nil {
					return stats, err
				}
			}
		}

		stats.Series++
		i.logger.Debug("Series imported",
			logger.Measurement(sk.Measurement),
			zap.String("series", key),
			zap.Int("points", len(series[key])))
	}

	if err := flush(); err != nil {
		return stats, err
	}

	i.logger.Info("Import finished",
		zap.Int("series", stats.Series),
		zap.Int("points", stats.Points),
		zap.Int("batches", stats.Batches))
	return stats, nil
}

// Close releases the underlying HTTP client.
func (i *Importer) Close() error {
	return i.client.Close()
}
