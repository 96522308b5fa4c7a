package snapshotter

import (
	"encoding/json"
	"io"
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/lapdb/lapdb/pkg/network"
	"github.com/lapdb/lapdb/tsdb"
)

// DefaultDialTimeout bounds how long the client waits for a node.
const DefaultDialTimeout = 10 * time.Second

// Client speaks the backup protocol to a running node.
type Client struct {
	addr    string
	timeout time.Duration
}

// NewClient returns a client for the node at addr.
func NewClient(addr string) *Client {
	return &Client{addr: addr, timeout: DefaultDialTimeout}
}

// Stats fetches the store counters from the node.
func (c *Client) Stats() (tsdb.Stats, error) {
	conn, err := c.dial(RequestStats)
	if err != nil {
		return tsdb.Stats{}, err
	}
	defer conn.Close()

	var res Response
	if err := json.NewDecoder(conn).Decode(&res); err != nil {
		return tsdb.Stats{}, errors.Wrap(err, "decoding stats response")
	}
	return res.Stats, nil
}

// Download streams the node's snapshot into w and returns the number of
// bytes received.
func (c *Client) Download(w io.Writer) (int64, error) {
	conn, err := c.dial(RequestSnapshot)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	return io.Copy(w, conn)
}

func (c *Client) dial(typ RequestType) (net.Conn, error) {
	conn, err := network.DialTimeout("tcp", c.addr, MuxHeader, c.timeout)
	if err != nil {
		return nil, errors.Wrapf(err, "dialing %s", c.addr)
	}
	if _, err := conn.Write([]byte{byte(typ)}); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "writing request type")
	}
	return conn, nil
}
