// Package filetransfer runs the download and upload listeners and the queues that pair
// announced transfers with the connections that carry them.
package filetransfer

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"github.com/MuhamedUsman/adminplane/internal/domain"
	"github.com/MuhamedUsman/adminplane/internal/logging"
	"github.com/MuhamedUsman/adminplane/internal/message"
	"github.com/MuhamedUsman/adminplane/internal/metrics"
	"github.com/MuhamedUsman/adminplane/internal/network"
	"github.com/MuhamedUsman/adminplane/internal/storage"
	"github.com/MuhamedUsman/adminplane/internal/transport"
	"github.com/MuhamedUsman/adminplane/internal/wire"
	"github.com/google/uuid"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"
)

// Error reasons carried in FILE_NOK answers.
const (
	ReasonNoMatch          = "no matching upload request"
	ReasonChecksumMismatch = "checksum mismatch"
	ReasonStorage          = "storage failure"
	ReasonTooLarge         = "upload exceeds maximum size"
	ReasonTransfer         = "transfer failed"
)

const pingPrefix = "PING"

type Options struct {
	ServerName   string
	Host         string
	DownloadPort int
	UploadPort   int
	Transport    transport.Factory
	Comm         *wire.Communicator
	Storage      storage.FileStorage
	BufferSize   int
	// MaxUploadSize bounds the declared size of an upload; <= 0 disables the check.
	MaxUploadSize int64
	TempDir       string
	MaxConns      int
	// IdleTimeout bounds each read or write while a body is streaming.
	IdleTimeout time.Duration
	Log         *slog.Logger
	Metrics     *metrics.Metrics
}

type Server struct {
	opts      Options
	log       *slog.Logger
	downloads *Queue[*domain.Download]
	uploads   *Queue[*domain.Upload]
	download  *network.Listener
	upload    *network.Listener
}

func New(opts Options) *Server {
	if opts.Log == nil {
		opts.Log = logging.Discard()
	}
	if opts.Comm == nil {
		opts.Comm = wire.NewCommunicator(nil, 0, 0)
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = opts.Comm.Timeout()
	}
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	s := &Server{
		opts: opts,
		log:  opts.Log,
		downloads: NewQueue[*domain.Download](func(n int) {
			opts.Metrics.QueueDepth(metrics.Download, n)
		}),
		uploads: NewQueue[*domain.Upload](func(n int) {
			opts.Metrics.QueueDepth(metrics.Upload, n)
		}),
	}
	s.download = network.NewListener(network.ListenerOptions{
		Name:      metrics.Download,
		Addr:      network.JoinHostPort(opts.Host, opts.DownloadPort),
		Transport: opts.Transport,
		MaxConns:  opts.MaxConns,
		Handler:   s.handleDownload,
		Log:       opts.Log,
		Metrics:   opts.Metrics,
	})
	s.upload = network.NewListener(network.ListenerOptions{
		Name:      metrics.Upload,
		Addr:      network.JoinHostPort(opts.Host, opts.UploadPort),
		Transport: opts.Transport,
		MaxConns:  opts.MaxConns,
		Handler:   s.handleUpload,
		Log:       opts.Log,
		Metrics:   opts.Metrics,
	})
	return s
}

// Start binds both listeners. If the second bind fails the first is released again.
func (s *Server) Start(ctx context.Context) error {
	if err := os.MkdirAll(s.opts.TempDir, 0o750); err != nil {
		return fmt.Errorf("creating transfer temp dir: %w", err)
	}
	if err := s.download.Start(ctx); err != nil {
		return err
	}
	if err := s.upload.Start(ctx); err != nil {
		_ = s.download.Stop(time.Second)
		return err
	}
	return nil
}

// Stop stops both listeners and discards the temporary files of unclaimed downloads.
// The listeners drain side by side, so timeout bounds the whole call.
func (s *Server) Stop(timeout time.Duration) error {
	var errDown error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		errDown = s.download.Stop(timeout)
	}()
	errUp := s.upload.Stop(timeout)
	wg.Wait()
	for _, d := range s.downloads.Drain() {
		if err := d.Discard(); err != nil {
			s.log.Warn("Discarding unclaimed download", "file", d.Path, "err", err)
		}
	}
	s.uploads.Drain()
	return errors.Join(errDown, errUp)
}

func (s *Server) Download() *network.Listener { return s.download }
func (s *Server) Upload() *network.Listener   { return s.upload }

func (s *Server) EnqueueDownload(d *domain.Download) {
	if d.Queued.IsZero() {
		d.Queued = time.Now()
	}
	s.downloads.Push(d)
}

func (s *Server) EnqueueUpload(u *domain.Upload) {
	if u.Queued.IsZero() {
		u.Queued = time.Now()
	}
	s.uploads.Push(u)
}

// CancelDownload removes the queued download fileID and discards its temporary file.
func (s *Server) CancelDownload(fileID string) bool {
	d, ok := s.downloads.Claim(func(d *domain.Download) bool { return d.FileID == fileID })
	if !ok {
		return false
	}
	if err := d.Discard(); err != nil {
		s.log.Warn("Discarding canceled download", "file", d.Path, "err", err)
	}
	return true
}

// CancelUpload removes u from the upload queue if it is still pending.
func (s *Server) CancelUpload(u *domain.Upload) bool {
	_, ok := s.uploads.Claim(func(q *domain.Upload) bool { return q == u })
	return ok
}

func (s *Server) PendingDownloads() int { return s.downloads.Len() }
func (s *Server) PendingUploads() int   { return s.uploads.Len() }

// NewPingDownload creates a small temporary file that a health check can fetch.
func (s *Server) NewPingDownload() (*domain.Download, error) {
	f, err := os.CreateTemp(s.opts.TempDir, "ping_*.tmp")
	if err != nil {
		return nil, fmt.Errorf("creating ping file: %w", err)
	}
	defer f.Close()
	id := pingPrefix + "-" + uuid.NewString()
	if _, err = f.WriteString(id); err != nil {
		_ = os.Remove(f.Name())
		return nil, fmt.Errorf("writing ping file: %w", err)
	}
	return &domain.Download{FileID: id, FileName: id, Path: f.Name(), Domain: message.DefaultDomain}, nil
}

// NewPingUpload returns a probe upload record and the bytes that satisfy it.
func NewPingUpload() (*domain.Upload, []byte) {
	body := []byte(pingPrefix + "-" + uuid.NewString())
	sum := md5.Sum(body)
	return &domain.Upload{
		ID:       domain.PingID,
		FileName: string(body),
		Checksum: hex.EncodeToString(sum[:]),
		Domain:   message.DefaultDomain,
		Size:     int64(len(body)),
	}, body
}

func (s *Server) handleDownload(_ context.Context, conn net.Conn) {
	cmd, err := s.opts.Comm.ReadCommand(conn)
	if err != nil {
		s.protocolError(metrics.Download, conn, err)
		return
	}
	s.ServeDownload(conn, cmd)
}

// ServeDownload streams the queued download named by a FILE_GET command. Anything
// else, including an unknown file id, closes the exchange without a reply.
func (s *Server) ServeDownload(conn net.Conn, cmd message.Command) {
	log := s.log.With("remote", conn.RemoteAddr().String(), "fileId", cmd.FileID)
	if cmd.ServerName != s.opts.ServerName {
		log.Warn("Wrong server name received, command is ignored", "serverName", cmd.ServerName)
		s.opts.Metrics.ProtocolError(metrics.Download, "server_name")
		return
	}
	if cmd.Command != message.VerbFileGet {
		log.Warn("Only FILE_GET is served on the download port", "command", cmd.Command)
		s.opts.Metrics.ProtocolError(metrics.Download, "verb")
		return
	}
	d, ok := s.downloads.Claim(func(d *domain.Download) bool { return d.FileID == cmd.FileID })
	if !ok {
		log.Warn("No queued download for file id")
		s.opts.Metrics.Transfer(metrics.Download, "not_found", 0)
		return
	}
	defer func() {
		if err := d.Discard(); err != nil {
			log.Warn("Removing temporary download copy", "err", err)
		}
	}()
	n, err := SendFile(network.IdleConn(conn, s.opts.IdleTimeout), d.Path, s.opts.BufferSize)
	if err != nil {
		log.Error("Sending file failed", "err", err, "sent", n)
		s.opts.Metrics.Transfer(metrics.Download, "error", n)
		return
	}
	log.Debug("File sent", "name", d.FileName, "bytes", n)
	s.opts.Metrics.Transfer(metrics.Download, "ok", n)
}

func (s *Server) handleUpload(ctx context.Context, conn net.Conn) {
	log := s.log.With("remote", conn.RemoteAddr().String())
	ic := network.IdleConn(conn, s.opts.IdleTimeout)
	size, err := wire.ReadSize(ic)
	if err != nil {
		s.protocolError(metrics.Upload, conn, err)
		return
	}
	if s.opts.MaxUploadSize > 0 && size > s.opts.MaxUploadSize {
		log.Warn("Upload rejected, declared size too large", "size", size, "max", s.opts.MaxUploadSize)
		s.rejectUpload(conn, "Declared upload size exceeds the limit", ReasonTooLarge)
		return
	}
	sizeMatch := func(u *domain.Upload) bool { return u.Size == size }
	if !s.uploads.Any(sizeMatch) {
		log.Warn("No matching file upload request found in upload queue", "size", size)
		s.rejectUpload(conn, "No matching file upload request found in upload queue", ReasonNoMatch)
		return
	}

	path, sum, err := ReceiveFile(ic, size, s.opts.TempDir, s.opts.BufferSize)
	if err != nil {
		log.Error("Receiving upload failed", "size", size, "err", err)
		s.rejectUpload(conn, "File could not be received", ReasonTransfer)
		return
	}
	defer func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Warn("Removing temporary upload", "file", path, "err", err)
		}
	}()

	u, ok := s.uploads.Claim(func(u *domain.Upload) bool {
		return u.Size == size && SameChecksum(u.Checksum, sum)
	})
	if !ok {
		reason := ReasonChecksumMismatch
		if !s.uploads.Any(sizeMatch) {
			reason = ReasonNoMatch
		}
		log.Warn("Upload could not be verified", "size", size, "checksum", sum, "reason", reason)
		s.rejectUpload(conn, "Upload could not be verified", reason)
		return
	}
	log = log.With("file", u.FileName, "domain", u.Domain)

	if u.IsPing() {
		s.answer(conn, message.FileOK(u.FileName, domain.PingID))
		s.opts.Metrics.Transfer(metrics.Upload, "ping", size)
		return
	}
	if s.opts.Storage == nil {
		log.Error("No file storage configured, upload discarded")
		s.rejectUpload(conn, u.FileName, ReasonStorage)
		return
	}
	id, err := s.opts.Storage.Store(ctx, path, u.FileName, u.User, u.Domain)
	if err != nil {
		log.Error("Couldn't store received file", "err", err)
		s.rejectUpload(conn, u.FileName, ReasonStorage)
		return
	}
	log.Info("File stored", "id", id, "bytes", size)
	s.opts.Metrics.Transfer(metrics.Upload, "ok", size)
	s.answer(conn, message.FileOK(u.FileName, id))
}

func (s *Server) rejectUpload(conn net.Conn, msg, reason string) {
	s.opts.Metrics.Transfer(metrics.Upload, strings.ReplaceAll(reason, " ", "_"), 0)
	s.answer(conn, message.FileNOK(msg, reason))
}

func (s *Server) answer(conn net.Conn, a message.Answer) {
	if err := s.opts.Comm.WriteAnswer(conn, a); err != nil {
		s.log.Error("Writing upload answer failed", "remote", conn.RemoteAddr().String(), "err", err)
	}
}

func (s *Server) protocolError(listener string, conn net.Conn, err error) {
	reason := "io"
	switch {
	case errors.Is(err, wire.ErrFrameTooLarge):
		reason = "frame_too_large"
	case errors.Is(err, message.ErrDecrypt):
		reason = "decrypt"
	case errors.Is(err, message.ErrMalformed):
		reason = "malformed"
	}
	s.opts.Metrics.ProtocolError(listener, reason)
	s.log.Warn("Dropping connection", "listener", listener, "remote", conn.RemoteAddr().String(), "reason", reason, "err", err)
}
