// Package network multiplexes header-prefixed protocols over a single TCP listener.
package network

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/soheilhy/cmux"
)

type comparer struct {
	bytes []byte
	bl    int
}

func (c *comparer) matchPrefix(r io.Reader) bool {
	buf := make([]byte, c.bl)
	n, _ := io.ReadFull(r, buf)
	return bytes.Equal(c.bytes, buf[:n])
}

func ByteMatcher(b byte) cmux.Matcher {
	c := &comparer{
		bytes: []byte{b},
		bl:    1,
	}
	return c.matchPrefix
}

func StringMatcher(str string) cmux.Matcher {
	b := []byte(str)
	c := &comparer{
		bytes: b,
		bl:    len(b),
	}
	return c.matchPrefix
}

func ListenByte(mux cmux.CMux, header byte) net.Listener {
	return &Listener{
		header: string([]byte{header}),
		ln:     mux.Match(ByteMatcher(header)),
	}
}

func ListenString(mux cmux.CMux, header string) net.Listener {
	return &Listener{
		header: header,
		ln:     mux.Match(StringMatcher(header)),
	}
}

// Listener accepts connections routed to one header by the mux.
type Listener struct {
	header string
	ln     net.Listener

	mu sync.RWMutex
}

// Accept waits for and returns the next connection to the listener.
// The matched header bytes are consumed before the connection is handed out.
func (ln *Listener) Accept() (net.Conn, error) {
	ln.mu.RLock()
	defer ln.mu.RUnlock()

	conn, err := ln.ln.Accept()
	if err != nil {
		return nil, err
	}
	h := make([]byte, len(ln.header))
	if _, err = io.ReadFull(conn, h); err != nil {
		conn.Close()
		return nil, fmt.Errorf("mux.Listener: cannot read header: %s", err)
	}

	return conn, nil
}

// Close removes the listener from its mux and closes the underlying listener.
// Any blocked Accept operations will be unblocked and return errors.
func (ln *Listener) Close() error {
	return ln.ln.Close()
}

// Addr returns the address of the multiplexed listener.
func (ln *Listener) Addr() net.Addr {
	ln.mu.RLock()
	defer ln.mu.RUnlock()

	if ln.ln == nil {
		return nil
	}

	return ln.ln.Addr()
}

// Dial connects to the address and writes the mux header so the remote
// mux routes the connection to the matching listener.
func Dial(network, address string, header string) (net.Conn, error) {
	conn, err := net.Dial(network, address)
	if err != nil {
		return nil, err
	}

	if _, err := conn.Write([]byte(header)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("write mux header: %s", err)
	}
	return conn, nil
}

// DialTimeout acts like Dial but takes a timeout for the connection attempt.
func DialTimeout(network, address string, header string, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout(network, address, timeout)
	if err != nil {
		return nil, err
	}

	if _, err := conn.Write([]byte(header)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("write mux header: %s", err)
	}
	return conn, nil
}
