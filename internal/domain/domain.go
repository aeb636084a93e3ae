package domain

import (
	"os"
	"time"
)

// PingID marks synthetic transfers used by health checks; they never touch storage.
const PingID = "PING"

// Download is a file resolved from storage and waiting to be fetched exactly once.
type Download struct {
	FileID   string `json:"fileId"`
	FileName string `json:"fileName"`
	// server-local temporary copy, removed once streamed
	Path   string    `json:"path"`
	Domain string    `json:"domain"`
	Queued time.Time `json:"queued,omitzero"`
}

// Discard removes the temporary copy.
func (d *Download) Discard() error {
	if err := os.Remove(d.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Upload is an announced intent to send a file of Size bytes with the given MD5 hex checksum.
type Upload struct {
	ID       string    `json:"id"`
	FileName string    `json:"fileName"`
	Checksum string    `json:"checksum"`
	User     string    `json:"user,omitempty"`
	Domain   string    `json:"domain"`
	Size     int64     `json:"size"`
	Queued   time.Time `json:"queued,omitzero"`
}

// IsPing reports whether the upload is a health check probe.
func (u *Upload) IsPing() bool {
	return u.ID == PingID
}
