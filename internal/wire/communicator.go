package wire

import (
	"fmt"
	"github.com/MuhamedUsman/adminplane/internal/message"
	"net"
	"time"
)

// DefaultTimeout is applied to every exchange unless configured otherwise.
const DefaultTimeout = 5 * time.Second

// Communicator is the single path for message I/O on a connection.
type Communicator struct {
	codec    *message.Codec
	maxFrame int
	timeout  time.Duration
}

// NewCommunicator returns a Communicator. Zero values select the defaults.
func NewCommunicator(codec *message.Codec, maxFrame int, timeout time.Duration) *Communicator {
	if codec == nil {
		codec = message.NewCodec(nil)
	}
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrame
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Communicator{codec: codec, maxFrame: maxFrame, timeout: timeout}
}

func (c *Communicator) Timeout() time.Duration { return c.timeout }

func (c *Communicator) WriteCommand(conn net.Conn, cmd message.Command) error {
	b, err := c.codec.EncodeCommand(cmd)
	if err != nil {
		return err
	}
	return c.write(conn, b)
}

func (c *Communicator) ReadCommand(conn net.Conn) (message.Command, error) {
	b, err := c.read(conn)
	if err != nil {
		return message.Command{}, err
	}
	return c.codec.DecodeCommand(b)
}

func (c *Communicator) WriteAnswer(conn net.Conn, a message.Answer) error {
	b, err := c.codec.EncodeAnswer(a)
	if err != nil {
		return err
	}
	return c.write(conn, b)
}

func (c *Communicator) ReadAnswer(conn net.Conn) (message.Answer, error) {
	b, err := c.read(conn)
	if err != nil {
		return message.Answer{}, err
	}
	return c.codec.DecodeAnswer(b)
}

func (c *Communicator) write(conn net.Conn, b []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return fmt.Errorf("setting write deadline: %w", err)
	}
	return WriteFrame(conn, b)
}

func (c *Communicator) read(conn net.Conn) ([]byte, error) {
	if err := conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return nil, fmt.Errorf("setting read deadline: %w", err)
	}
	return ReadFrame(conn, c.maxFrame)
}
