package filetransfer

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"github.com/MuhamedUsman/adminplane/internal/wire"
	"io"
	"os"
	"strings"
)

// DefaultBufferSize is the chunk size used when none is configured.
const DefaultBufferSize = 32 * 1024

var ErrShortTransfer = errors.New("transfer ended before the declared size")

// SendFile writes the file size as 8 bytes followed by the content in bufSize chunks.
// It returns the number of content bytes written.
func SendFile(w io.Writer, path string, bufSize int) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	if err = wire.WriteSize(w, stat.Size()); err != nil {
		return 0, err
	}
	n, err := io.CopyBuffer(w, io.LimitReader(f, stat.Size()), make([]byte, bufferSize(bufSize)))
	if err != nil {
		return n, fmt.Errorf("sending %s: %w", path, err)
	}
	if n != stat.Size() {
		return n, fmt.Errorf("%w: sent %d of %d bytes", ErrShortTransfer, n, stat.Size())
	}
	return n, nil
}

// ReceiveFile reads exactly size bytes from r into a new file in dir and returns its path
// together with the MD5 hex digest of the content. On error no file is left behind.
func ReceiveFile(r io.Reader, size int64, dir string, bufSize int) (string, string, error) {
	f, err := os.CreateTemp(dir, "upload_*.tmp")
	if err != nil {
		return "", "", fmt.Errorf("creating temporary upload file: %w", err)
	}
	h := md5.New()
	n, err := io.CopyBuffer(io.MultiWriter(f, h), io.LimitReader(r, size), make([]byte, bufferSize(bufSize)))
	closeErr := f.Close()
	if err == nil && n != size {
		err = fmt.Errorf("%w: received %d of %d bytes", ErrShortTransfer, n, size)
	}
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(f.Name())
		return "", "", fmt.Errorf("receiving file: %w", err)
	}
	return f.Name(), hex.EncodeToString(h.Sum(nil)), nil
}

// ReceiveDownload reads a size-prefixed file as written by SendFile into dst.
func ReceiveDownload(r io.Reader, dst io.Writer, bufSize int) (int64, error) {
	size, err := wire.ReadSize(r)
	if err != nil {
		return 0, err
	}
	n, err := io.CopyBuffer(dst, io.LimitReader(r, size), make([]byte, bufferSize(bufSize)))
	if err != nil {
		return n, fmt.Errorf("receiving file: %w", err)
	}
	if n != size {
		return n, fmt.Errorf("%w: received %d of %d bytes", ErrShortTransfer, n, size)
	}
	return n, nil
}

// Checksum returns the MD5 hex digest and size of the file at path.
func Checksum(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	h := md5.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// SameChecksum compares hex digests ignoring case and leading zeros, which some
// clients drop when printing the digest as a number.
func SameChecksum(a, b string) bool {
	norm := func(s string) string {
		return strings.TrimLeft(strings.ToLower(strings.TrimSpace(s)), "0")
	}
	return a != "" && b != "" && norm(a) == norm(b)
}

func bufferSize(n int) int {
	if n <= 0 {
		return DefaultBufferSize
	}
	return n
}
