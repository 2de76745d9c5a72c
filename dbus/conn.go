package dbus

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	godbus "github.com/godbus/dbus/v5"
)

// Conn is one authenticated bus connection. Send and Receive may run
// concurrently with each other, but each must have a single caller.
type Conn interface {
	Send(serial uint32, msg *Message) error
	Receive() (*Message, error)
	UniqueName() string
	Close() error
}

// HelloSerial is spent on the registration call before any dispatcher runs.
// Dispatchers number their calls after it.
const HelloSerial = 1

type socketConn struct {
	conn       net.Conn
	rd         *bufio.Reader
	uniqueName string

	closeOnce sync.Once
	closeErr  error
}

// Dial opens, authenticates and registers a connection to the bus at addr.
func Dial(ctx context.Context, addr string) (Conn, error) {
	nc, err := dialUnix(ctx, addr)
	if err != nil {
		return nil, &ConnectionError{Address: addr, Err: err}
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = nc.SetDeadline(deadline)
	}
	c := &socketConn{conn: nc, rd: bufio.NewReader(nc)}
	if err := auth(nc, c.rd, uid()); err != nil {
		nc.Close()
		return nil, &ConnectionError{Address: addr, Err: err}
	}
	if err := c.hello(); err != nil {
		nc.Close()
		return nil, &ConnectionError{Address: addr, Err: err}
	}
	_ = nc.SetDeadline(time.Time{})
	return c, nil
}

func (c *socketConn) hello() error {
	msg := NewMethodCall(BusName, BusPath, BusInterface, "Hello")
	if err := c.Send(HelloSerial, msg); err != nil {
		return err
	}
	for {
		reply, err := c.Receive()
		if err != nil {
			return err
		}
		if s, ok := ReplySerial(reply); !ok || s != HelloSerial {
			continue
		}
		if reply.Type == godbus.TypeError {
			return RemoteErrorFrom(reply)
		}
		if len(reply.Body) > 0 {
			c.uniqueName, _ = reply.Body[0].(string)
		}
		if c.uniqueName == "" {
			return fmt.Errorf("dbus: Hello returned no unique name")
		}
		return nil
	}
}

// Send writes the whole framed message with a single Write.
func (c *socketConn) Send(serial uint32, msg *Message) error {
	b, err := Encode(serial, msg)
	if err != nil {
		return err
	}
	_, err = c.conn.Write(b)
	return err
}

func (c *socketConn) Receive() (*Message, error) {
	return Decode(c.rd)
}

func (c *socketConn) UniqueName() string {
	return c.uniqueName
}

func (c *socketConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// NewConn wraps an already authenticated stream (for example one end of a
// socketpair handed over by a supervisor). No Hello is sent.
func NewConn(nc net.Conn, uniqueName string) Conn {
	return &socketConn{conn: nc, rd: bufio.NewReader(nc), uniqueName: uniqueName}
}
