// Package transport hands out the listening and connecting sockets used by every
// control-plane and file-transfer endpoint.
package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
)

type Mode int

const (
	ModePlain Mode = iota
	ModeTLS
)

func (m Mode) String() string {
	switch m {
	case ModePlain:
		return "plain"
	case ModeTLS:
		return "tls"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode maps a configuration value to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "plain", "tcp":
		return ModePlain, nil
	case "tls", "ssl":
		return ModeTLS, nil
	default:
		return 0, fmt.Errorf("unknown transport mode %q", s)
	}
}

type Options struct {
	Mode     Mode
	CertFile string
	KeyFile  string
	// CAFile verifies server certificates on dial; the system pool is used when empty.
	CAFile             string
	InsecureSkipVerify bool
	ServerName         string
}

// Factory is the single source of sockets for a process.
type Factory interface {
	Listen(addr string) (net.Listener, error)
	Dial(ctx context.Context, addr string) (net.Conn, error)
	Mode() Mode
}

// New builds the Factory for opts.Mode. For TLS, certificates are loaded eagerly so a
// bad path surfaces before any listener is bound.
func New(opts Options) (Factory, error) {
	switch opts.Mode {
	case ModePlain:
		return plainFactory{}, nil
	case ModeTLS:
		return newTLSFactory(opts)
	default:
		return nil, fmt.Errorf("unsupported transport mode %s", opts.Mode)
	}
}

type plainFactory struct{}

func (plainFactory) Listen(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}

func (plainFactory) Dial(ctx context.Context, addr string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", addr)
}

func (plainFactory) Mode() Mode { return ModePlain }

type tlsFactory struct {
	server *tls.Config // nil when no certificate is configured; such a factory can only dial
	client *tls.Config
}

func newTLSFactory(opts Options) (*tlsFactory, error) {
	f := &tlsFactory{
		client: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: opts.InsecureSkipVerify,
			ServerName:         opts.ServerName,
		},
	}
	if opts.CertFile != "" || opts.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(opts.CertFile, opts.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading tls key pair: %w", err)
		}
		f.server = &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		}
	}
	if opts.CAFile != "" {
		pem, err := os.ReadFile(opts.CAFile)
		if err != nil {
			return nil, fmt.Errorf("reading ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", opts.CAFile)
		}
		f.client.RootCAs = pool
	}
	return f, nil
}

func (f *tlsFactory) Listen(addr string) (net.Listener, error) {
	if f.server == nil {
		return nil, errors.New("tls listener requires cert_file and key_file")
	}
	return tls.Listen("tcp", addr, f.server)
}

func (f *tlsFactory) Dial(ctx context.Context, addr string) (net.Conn, error) {
	cfg := f.client.Clone()
	if cfg.ServerName == "" {
		host, _, err := net.SplitHostPort(addr)
		if err == nil {
			cfg.ServerName = host
		}
	}
	d := tls.Dialer{Config: cfg}
	return d.DialContext(ctx, "tcp", addr)
}

func (f *tlsFactory) Mode() Mode { return ModeTLS }
