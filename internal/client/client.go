// Package client talks to a running control plane over the admin, download and upload ports.
package client

import (
	"context"
	"errors"
	"fmt"
	"github.com/MuhamedUsman/adminplane/internal/config"
	"github.com/MuhamedUsman/adminplane/internal/filetransfer"
	"github.com/MuhamedUsman/adminplane/internal/health"
	"github.com/MuhamedUsman/adminplane/internal/message"
	"github.com/MuhamedUsman/adminplane/internal/network"
	"github.com/MuhamedUsman/adminplane/internal/transport"
	"github.com/MuhamedUsman/adminplane/internal/wire"
	"io"
	"net"
	"strconv"
	"strings"
)

// ErrRejected wraps every negative answer returned by the server.
var ErrRejected = errors.New("request rejected by server")

type Options struct {
	ServerName   string
	AdminAddr    string
	DownloadAddr string
	UploadAddr   string
	Transport    transport.Factory
	Comm         *wire.Communicator
	BufferSize   int
}

type Client struct {
	opts Options
}

func New(opts Options) (*Client, error) {
	if opts.ServerName == "" {
		return nil, errors.New("client needs a server name")
	}
	if opts.Transport == nil {
		f, err := transport.New(transport.Options{Mode: transport.ModePlain})
		if err != nil {
			return nil, err
		}
		opts.Transport = f
	}
	if opts.Comm == nil {
		opts.Comm = wire.NewCommunicator(nil, 0, 0)
	}
	return &Client{opts: opts}, nil
}

// FromConfig returns a client for the instance described by cfg.
func FromConfig(cfg config.Config) (*Client, error) {
	f, err := cfg.Transport()
	if err != nil {
		return nil, fmt.Errorf("building transport: %w", err)
	}
	comm, err := cfg.Communicator()
	if err != nil {
		return nil, err
	}
	host := cfg.DialHost()
	return New(Options{
		ServerName:   cfg.Server.Name,
		AdminAddr:    network.JoinHostPort(host, cfg.Server.AdminPort),
		DownloadAddr: network.JoinHostPort(host, cfg.Files.DownloadPort),
		UploadAddr:   network.JoinHostPort(host, cfg.Files.UploadPort),
		Transport:    f,
		Comm:         comm,
		BufferSize:   cfg.Files.BufferKB * 1024,
	})
}

func (c *Client) dial(ctx context.Context, addr string) (net.Conn, func(), error) {
	conn, err := c.opts.Transport.Dial(ctx, addr)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	// unblock any pending read or write once ctx ends
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	return conn, func() {
		stop()
		_ = conn.Close()
	}, nil
}

// Send writes cmd to the admin port and reads the answer. STOP is fire and forget:
// the server closes the connection without replying.
func (c *Client) Send(ctx context.Context, cmd message.Command) (message.Answer, error) {
	if cmd.ServerName == "" {
		cmd.ServerName = c.opts.ServerName
	}
	conn, done, err := c.dial(ctx, c.opts.AdminAddr)
	if err != nil {
		return message.Answer{}, err
	}
	defer done()
	if err = c.opts.Comm.WriteCommand(conn, cmd); err != nil {
		return message.Answer{}, err
	}
	if cmd.IsInternal() && cmd.Command == message.VerbStop {
		return message.OK(), nil
	}
	a, err := c.opts.Comm.ReadAnswer(conn)
	if err != nil {
		return message.Answer{}, fmt.Errorf("reading answer to %s: %w", cmd.Command, err)
	}
	return a, nil
}

func (c *Client) Stop(ctx context.Context) error {
	_, err := c.Send(ctx, message.NewCommand(c.opts.ServerName, message.VerbStop))
	return err
}

// Health asks the server to check itself and returns its report.
func (c *Client) Health(ctx context.Context) (health.Report, error) {
	a, err := c.Send(ctx, message.NewCommand(c.opts.ServerName, message.VerbHealth))
	if err != nil {
		return health.Report{}, err
	}
	if err = rejected(a); err != nil {
		return health.Report{}, err
	}
	var r health.Report
	if err = a.DecodeObject(&r); err != nil {
		return health.Report{}, fmt.Errorf("decoding health report: %w", err)
	}
	return r, nil
}

// RequestFile asks the server to stage fileID for the download port.
func (c *Client) RequestFile(ctx context.Context, fileID, d string) (message.Answer, error) {
	cmd := message.NewCommand(c.opts.ServerName, message.VerbFileRequest)
	cmd.FileID = fileID
	cmd.Domain = d
	a, err := c.Send(ctx, cmd)
	if err != nil {
		return a, err
	}
	return a, rejected(a)
}

// GetFile fetches a staged file from the download port into dst.
func (c *Client) GetFile(ctx context.Context, fileID string, dst io.Writer) (int64, error) {
	conn, done, err := c.dial(ctx, c.opts.DownloadAddr)
	if err != nil {
		return 0, err
	}
	defer done()
	cmd := message.NewCommand(c.opts.ServerName, message.VerbFileGet)
	cmd.FileID = fileID
	if err = c.opts.Comm.WriteCommand(conn, cmd); err != nil {
		return 0, err
	}
	n, err := filetransfer.ReceiveDownload(network.IdleConn(conn, c.opts.Comm.Timeout()), dst, c.opts.BufferSize)
	if err != nil {
		return n, fmt.Errorf("downloading %s: %w", fileID, err)
	}
	return n, nil
}

// Download stages fileID and fetches it. It returns the stored file name.
func (c *Client) Download(ctx context.Context, fileID, d string, dst io.Writer) (string, int64, error) {
	a, err := c.RequestFile(ctx, fileID, d)
	if err != nil {
		return "", 0, err
	}
	n, err := c.GetFile(ctx, a.FileID, dst)
	return a.Message, n, err
}

// RequestUpload announces an upload so the upload port accepts bytes of that size and checksum.
func (c *Client) RequestUpload(ctx context.Context, name, checksum string, size int64, user, d string) (message.Answer, error) {
	cmd := message.NewCommand(c.opts.ServerName, message.VerbFileReceiveRequest)
	cmd.Entity = name + ":" + checksum
	cmd.ID = size
	cmd.Domain = d
	if user != "" {
		if err := cmd.SetObject(user); err != nil {
			return message.Answer{}, err
		}
	}
	a, err := c.Send(ctx, cmd)
	if err != nil {
		return a, err
	}
	return a, rejected(a)
}

// SendFile streams the file at path to the upload port and returns the server verdict.
func (c *Client) SendFile(ctx context.Context, path string) (message.Answer, error) {
	return c.sendUpload(ctx, func(w io.Writer) error {
		_, err := filetransfer.SendFile(w, path, c.opts.BufferSize)
		return err
	})
}

// SendBytes is SendFile for an in-memory body.
func (c *Client) SendBytes(ctx context.Context, body []byte) (message.Answer, error) {
	return c.sendUpload(ctx, func(w io.Writer) error {
		if err := wire.WriteSize(w, int64(len(body))); err != nil {
			return err
		}
		_, err := w.Write(body)
		return err
	})
}

func (c *Client) sendUpload(ctx context.Context, write func(io.Writer) error) (message.Answer, error) {
	conn, done, err := c.dial(ctx, c.opts.UploadAddr)
	if err != nil {
		return message.Answer{}, err
	}
	defer done()
	writeErr := write(network.IdleConn(conn, c.opts.Comm.Timeout()))
	// a server rejecting on the declared size answers before the body is consumed
	a, err := c.opts.Comm.ReadAnswer(conn)
	if err != nil {
		return message.Answer{}, errors.Join(writeErr, fmt.Errorf("reading upload answer: %w", err))
	}
	return a, rejected(a)
}

// Upload announces and sends the file at path in one call.
func (c *Client) Upload(ctx context.Context, path, name, user, d string) (message.Answer, error) {
	sum, size, err := filetransfer.Checksum(path)
	if err != nil {
		return message.Answer{}, err
	}
	if _, err = c.RequestUpload(ctx, name, sum, size, user, d); err != nil {
		return message.Answer{}, err
	}
	return c.SendFile(ctx, path)
}

func (c *Client) Delete(ctx context.Context, fileID, d string) (message.Answer, error) {
	cmd := message.NewCommand(c.opts.ServerName, message.VerbFileDelete)
	cmd.FileID = fileID
	cmd.Domain = d
	a, err := c.Send(ctx, cmd)
	if err != nil {
		return a, err
	}
	return a, rejected(a)
}

// Custom sends verb to a dispatcher module.
func (c *Client) Custom(ctx context.Context, dispatcher, verb, entity string) (message.Answer, error) {
	cmd := message.Command{
		ServerName:   c.opts.ServerName,
		DispatcherID: dispatcher,
		Command:      verb,
		Entity:       entity,
		Domain:       message.DefaultDomain,
	}
	a, err := c.Send(ctx, cmd)
	if err != nil {
		return a, err
	}
	return a, rejected(a)
}

func rejected(a message.Answer) error {
	if a.Type.Positive() {
		return nil
	}
	parts := []string{a.Type.String()}
	for _, s := range []string{a.Message, a.ErrorReason} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	if a.ID != 0 {
		parts = append(parts, "id="+strconv.FormatInt(a.ID, 10))
	}
	return fmt.Errorf("%w: %s", ErrRejected, strings.Join(parts, ", "))
}
