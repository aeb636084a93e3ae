package config

import (
	"fmt"
	"github.com/MuhamedUsman/adminplane/internal/message"
	"github.com/MuhamedUsman/adminplane/internal/transport"
	"github.com/MuhamedUsman/adminplane/internal/wire"
	"net/netip"
)

// Transport builds the socket factory selected by the [security] section.
func (c Config) Transport() (transport.Factory, error) {
	mode, err := transport.ParseMode(c.Security.Transport)
	if err != nil {
		return nil, err
	}
	return transport.New(transport.Options{
		Mode:               mode,
		CertFile:           c.Security.CertFile,
		KeyFile:            c.Security.KeyFile,
		CAFile:             c.Security.CAFile,
		InsecureSkipVerify: c.Security.InsecureSkipVerify,
		ServerName:         c.DialHost(),
	})
}

// Communicator builds the message path shared by every endpoint of one process.
func (c Config) Communicator() (*wire.Communicator, error) {
	mode, err := message.ParseEncryption(c.Security.Encryption)
	if err != nil {
		return nil, err
	}
	cipher, err := message.NewCipher(mode, c.Security.Seed)
	if err != nil {
		return nil, fmt.Errorf("building message cipher: %w", err)
	}
	return wire.NewCommunicator(message.NewCodec(cipher), c.Server.MaxFrameSize, c.Server.ConnectionTimeout.Duration), nil
}

// DialHost is the host a local client uses to reach the configured listeners.
func (c Config) DialHost() string {
	h := c.Server.Host
	if h == "" {
		return "127.0.0.1"
	}
	if addr, err := netip.ParseAddr(h); err == nil && addr.IsUnspecified() {
		if addr.Is6() {
			return "::1"
		}
		return "127.0.0.1"
	}
	return h
}
