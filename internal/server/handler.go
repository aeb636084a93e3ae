package server

import (
	"context"
	"errors"
	"github.com/MuhamedUsman/adminplane/internal/domain"
	"github.com/MuhamedUsman/adminplane/internal/filetransfer"
	"github.com/MuhamedUsman/adminplane/internal/message"
	"github.com/MuhamedUsman/adminplane/internal/metrics"
	"github.com/MuhamedUsman/adminplane/internal/storage"
	"github.com/MuhamedUsman/adminplane/internal/wire"
	"github.com/google/uuid"
	"net"
	"strings"
)

const (
	reasonDisabled  = "file transfer disabled"
	reasonNotFound  = "file not found"
	reasonMalformed = "malformed request"
	// uploadAckID is the file id of a FILE_RECEIVE_REQUEST acknowledgement.
	uploadAckID = "FILE"
)

// handleAdmin serves one exchange on the admin port: one command in, at most one answer out.
func (s *Server) handleAdmin(ctx context.Context, conn net.Conn) {
	cmd, err := s.comm.ReadCommand(conn)
	if err != nil {
		s.protocolError(conn, err)
		return
	}
	log := s.log.With("remote", conn.RemoteAddr().String(), "dispatcher", cmd.DispatcherID, "command", cmd.Command)
	if cmd.ServerName != s.cfg.Server.Name {
		log.Warn("Wrong server name received, command is ignored", "serverName", cmd.ServerName)
		s.metrics.ProtocolError(metrics.Admin, "server_name")
		return
	}
	if !cmd.IsInternal() {
		s.reply(conn, cmd, s.registry.Dispatch(ctx, cmd))
		return
	}

	switch cmd.Command {
	case message.VerbStop:
		log.Info("Stop requested")
		s.metrics.CommandHandled(cmd.DispatcherID, "none")
		// Stop drains this very pool, so it cannot run on this goroutine
		go func() {
			if err := s.Stop(); err != nil && !errors.Is(err, ErrNotRunning) {
				s.log.Error("Stopping control plane", "err", err)
			}
		}()
	case message.VerbHealth:
		r := s.Health(ctx)
		log.Info("Health check", "healthy", r.Healthy, "unhealthy", r.Unhealthy())
		a := message.OK()
		a.Message = "healthy"
		if !r.Healthy {
			a.Message = "unhealthy"
		}
		if err = a.SetObject(r); err != nil {
			log.Error("Encoding health report", "err", err)
		}
		s.reply(conn, cmd, a)
	case message.VerbFileRequest:
		s.reply(conn, cmd, s.fileRequest(ctx, cmd))
	case message.VerbFileGet:
		if s.files == nil {
			log.Warn("FILE_GET while file transfer is disabled")
			return
		}
		s.metrics.CommandHandled(cmd.DispatcherID, "stream")
		s.files.ServeDownload(conn, cmd)
	case message.VerbFileReceiveRequest:
		s.reply(conn, cmd, s.fileReceiveRequest(cmd))
	case message.VerbFileDelete:
		s.reply(conn, cmd, s.fileDelete(ctx, cmd))
	default:
		log.Warn("Unknown internal command, answering OK")
		s.reply(conn, cmd, message.OK())
	}
}

// fileRequest stages a stored file, or a synthetic one for PING, on the download port.
func (s *Server) fileRequest(ctx context.Context, cmd message.Command) message.Answer {
	if s.files == nil {
		return message.FileNOK(cmd.FileID, reasonDisabled)
	}
	if cmd.FileID == "" {
		return message.FileNOK("", reasonMalformed)
	}
	var (
		d   *domain.Download
		err error
	)
	if cmd.FileID == domain.PingID {
		d, err = s.files.NewPingDownload()
	} else {
		d, err = s.storage.Find(ctx, cmd.FileID, cmd.DomainOrDefault())
	}
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return message.FileNOK(cmd.FileID, reasonNotFound)
	case err != nil:
		s.log.Error("Resolving requested file", "fileId", cmd.FileID, "err", err)
		return message.FileNOK(cmd.FileID, filetransfer.ReasonStorage)
	}
	s.files.EnqueueDownload(d)
	return message.FileOK(d.FileName, d.FileID)
}

// fileReceiveRequest queues an upload announced as entity "name:md5hex" with the size in id
// and the user as the JSON object.
func (s *Server) fileReceiveRequest(cmd message.Command) message.Answer {
	if s.files == nil {
		return message.FileNOK(cmd.Entity, reasonDisabled)
	}
	i := strings.LastIndex(cmd.Entity, ":")
	if i <= 0 || i == len(cmd.Entity)-1 || cmd.ID < 0 {
		return message.FileNOK(cmd.Entity, reasonMalformed)
	}
	name, sum := cmd.Entity[:i], cmd.Entity[i+1:]
	if limit := s.cfg.Files.MaxUploadSize; limit > 0 && cmd.ID > limit {
		return message.FileNOK(name, filetransfer.ReasonTooLarge)
	}
	var user string
	if len(cmd.Object) > 0 {
		if err := cmd.DecodeObject(&user); err != nil {
			return message.FileNOK(name, reasonMalformed)
		}
	}
	s.files.EnqueueUpload(&domain.Upload{
		ID:       uuid.NewString(),
		FileName: name,
		Checksum: sum,
		User:     user,
		Domain:   cmd.DomainOrDefault(),
		Size:     cmd.ID,
	})
	a := message.FileOK(name, uploadAckID)
	a.Entity = cmd.Entity
	a.ID = cmd.ID
	return a
}

func (s *Server) fileDelete(ctx context.Context, cmd message.Command) message.Answer {
	if s.files == nil {
		return message.FileNOK(cmd.FileID, reasonDisabled)
	}
	ok, err := s.storage.Delete(ctx, cmd.FileID, cmd.DomainOrDefault())
	if err != nil {
		s.log.Error("Deleting file", "fileId", cmd.FileID, "err", err)
		return message.FileNOK(cmd.FileID, filetransfer.ReasonStorage)
	}
	if !ok {
		return message.FileNOK(cmd.FileID, reasonNotFound)
	}
	return message.FileOK("Success", cmd.FileID)
}

func (s *Server) reply(conn net.Conn, cmd message.Command, a message.Answer) {
	s.metrics.CommandHandled(cmd.DispatcherID, a.Type.String())
	if err := s.comm.WriteAnswer(conn, a); err != nil {
		s.log.Error("Writing answer failed", "remote", conn.RemoteAddr().String(), "command", cmd.Command, "err", err)
	}
}

func (s *Server) protocolError(conn net.Conn, err error) {
	reason := "io"
	switch {
	case errors.Is(err, wire.ErrFrameTooLarge):
		reason = "frame_too_large"
	case errors.Is(err, message.ErrDecrypt):
		reason = "decrypt"
	case errors.Is(err, message.ErrMalformed):
		reason = "malformed"
	}
	s.metrics.ProtocolError(metrics.Admin, reason)
	if s.admin.Stopping() {
		s.log.Debug("Read interrupted by stop", "remote", conn.RemoteAddr().String(), "err", err)
		return
	}
	s.log.Warn("Dropping connection", "remote", conn.RemoteAddr().String(), "reason", reason, "err", err)
}
