package message

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// Separator joins the fields of a serialized message. No textual field may contain it.
const Separator = "\x1f"

const (
	commandFields = 8
	answerFields  = 7
)

// Codec serializes messages and applies the configured Cipher to the whole payload.
type Codec struct {
	cipher Cipher
}

// NewCodec returns a Codec using c, or plaintext when c is nil.
func NewCodec(c Cipher) *Codec {
	if c == nil {
		c = plainCipher{}
	}
	return &Codec{cipher: c}
}

func (c *Codec) EncodeCommand(cmd Command) ([]byte, error) {
	if err := checkSeparator(cmd.textFields()); err != nil {
		return nil, err
	}
	fields := []string{
		cmd.ServerName,
		cmd.DispatcherID,
		cmd.Command,
		cmd.Entity,
		strconv.FormatInt(cmd.ID, 10),
		cmd.FileID,
		cmd.Domain,
	}
	return c.seal(fields, cmd.Object)
}

func (c *Codec) DecodeCommand(b []byte) (Command, error) {
	parts, obj, err := c.open(b, commandFields)
	if err != nil {
		return Command{}, err
	}
	id, err := strconv.ParseInt(parts[4], 10, 64)
	if err != nil {
		return Command{}, fmt.Errorf("%w: command id %q", ErrMalformed, parts[4])
	}
	return Command{
		ServerName:   parts[0],
		DispatcherID: parts[1],
		Command:      parts[2],
		Entity:       parts[3],
		ID:           id,
		FileID:       parts[5],
		Domain:       parts[6],
		Object:       obj,
	}, nil
}

func (c *Codec) EncodeAnswer(a Answer) ([]byte, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	if err := checkSeparator(a.textFields()); err != nil {
		return nil, err
	}
	fields := []string{
		strconv.Itoa(int(a.Type)),
		a.Message,
		a.Entity,
		strconv.FormatInt(a.ID, 10),
		a.FileID,
		a.ErrorReason,
	}
	return c.seal(fields, a.Object)
}

func (c *Codec) DecodeAnswer(b []byte) (Answer, error) {
	parts, obj, err := c.open(b, answerFields)
	if err != nil {
		return Answer{}, err
	}
	t, err := strconv.Atoi(parts[0])
	if err != nil {
		return Answer{}, fmt.Errorf("%w: answer type %q", ErrMalformed, parts[0])
	}
	id, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return Answer{}, fmt.Errorf("%w: answer id %q", ErrMalformed, parts[3])
	}
	a := Answer{
		Type:        AnswerType(t),
		Message:     parts[1],
		Entity:      parts[2],
		ID:          id,
		FileID:      parts[4],
		ErrorReason: parts[5],
		Object:      obj,
	}
	if err = a.Validate(); err != nil {
		return Answer{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return a, nil
}

func (c *Codec) seal(fields []string, obj []byte) ([]byte, error) {
	if len(obj) > 0 {
		fields = append(fields, base64.StdEncoding.EncodeToString(obj))
	}
	out, err := c.cipher.Encrypt([]byte(strings.Join(fields, Separator)))
	if err != nil {
		return nil, fmt.Errorf("encrypting message: %w", err)
	}
	return out, nil
}

// open decrypts b and splits it into n-1 fixed fields plus the optional trailing object.
func (c *Codec) open(b []byte, n int) ([]string, []byte, error) {
	plain, err := c.cipher.Decrypt(b)
	if err != nil {
		return nil, nil, err
	}
	parts := strings.SplitN(string(plain), Separator, n)
	if len(parts) < n-1 {
		return nil, nil, fmt.Errorf("%w: got %d fields, want at least %d", ErrMalformed, len(parts), n-1)
	}
	if len(parts) < n || parts[n-1] == "" {
		return parts[:n-1], nil, nil
	}
	obj, err := base64.StdEncoding.DecodeString(parts[n-1])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: object payload: %v", ErrMalformed, err)
	}
	return parts[:n-1], obj, nil
}

func checkSeparator(fields []string) error {
	for _, f := range fields {
		if strings.Contains(f, Separator) {
			return fmt.Errorf("%w: %q", ErrSeparator, f)
		}
	}
	return nil
}
