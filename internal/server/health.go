package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"github.com/MuhamedUsman/adminplane/internal/bgtask"
	"github.com/MuhamedUsman/adminplane/internal/client"
	"github.com/MuhamedUsman/adminplane/internal/domain"
	"github.com/MuhamedUsman/adminplane/internal/filetransfer"
	"github.com/MuhamedUsman/adminplane/internal/health"
	"github.com/MuhamedUsman/adminplane/internal/network"
	"time"
)

// Health checks every subsystem. The admin port is healthy while the server runs; file
// listeners are checked by pushing a synthetic file through them over the network. All checks
// share a budget below the connection timeout so the report reaches the caller in time.
func (s *Server) Health(ctx context.Context) health.Report {
	ctx, cancel := context.WithTimeout(ctx, healthBudget(s.comm.Timeout()))
	defer cancel()

	checks := []func() health.Component{
		func() health.Component {
			return health.Check(ctx, health.Admin, func(context.Context) error {
				if st := s.State(); st != StateRunning {
					return fmt.Errorf("%w: state is %s", ErrNotRunning, st)
				}
				return nil
			})
		},
	}
	if s.files != nil {
		checks = append(checks,
			func() health.Component { return health.Check(ctx, health.Download, s.pingDownload) },
			func() health.Component { return health.Check(ctx, health.Upload, s.pingUpload) },
		)
	}
	for i, p := range s.procs {
		name := p.Name()
		if i == 0 && s.cfg.Web.Enabled {
			name = health.Web
		}
		checks = append(checks, func() health.Component { return health.Check(ctx, name, p.Check) })
	}

	components := make([]health.Component, len(checks))
	wp := bgtask.NewWorkerPool(ctx, len(checks))
	for i, check := range checks {
		wp.Spawn(func() error {
			components[i] = check()
			return nil
		})
	}
	_ = wp.Wait()
	return health.New(s.cfg.Server.Name, components...)
}

func (s *Server) selfClient() (*client.Client, error) {
	return client.New(client.Options{
		ServerName:   s.cfg.Server.Name,
		DownloadAddr: network.DialAddr(s.files.Download().Addr()),
		UploadAddr:   network.DialAddr(s.files.Upload().Addr()),
		Transport:    s.tr,
		Comm:         s.comm,
		BufferSize:   s.cfg.Files.BufferKB * 1024,
	})
}

func (s *Server) pingDownload(ctx context.Context) error {
	c, err := s.selfClient()
	if err != nil {
		return err
	}
	d, err := s.files.NewPingDownload()
	if err != nil {
		return err
	}
	s.files.EnqueueDownload(d)
	var buf bytes.Buffer
	if _, err = c.GetFile(ctx, d.FileID, &buf); err != nil {
		s.files.CancelDownload(d.FileID)
		return err
	}
	if buf.String() != d.FileID {
		return errors.New("ping download returned unexpected content")
	}
	return nil
}

func (s *Server) pingUpload(ctx context.Context) error {
	c, err := s.selfClient()
	if err != nil {
		return err
	}
	u, body := filetransfer.NewPingUpload()
	s.files.EnqueueUpload(u)
	a, err := c.SendBytes(ctx, body)
	if err != nil {
		s.files.CancelUpload(u)
		return err
	}
	if a.FileID != domain.PingID {
		return fmt.Errorf("ping upload answered with file id %q", a.FileID)
	}
	return nil
}

// healthBudget leaves a quarter of the exchange timeout for encoding and writing the answer.
func healthBudget(timeout time.Duration) time.Duration {
	return timeout * 3 / 4
}
