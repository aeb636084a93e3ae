package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Verbs understood by the control plane without a dispatcher module.
const (
	VerbStop                = "STOP"
	VerbHealth              = "HEALTH"
	VerbFileRequest         = "FILE_REQUEST"
	VerbFileGet             = "FILE_GET"
	VerbFileReceiveRequest  = "FILE_RECEIVE_REQUEST"
	VerbFileDelete          = "FILE_DELETE"
	DispatcherInternal      = "internal"
	DefaultDomain           = "default"
	messageValueSeparator   = "|"
	messageKeyValueAssigner = "="
)

var (
	ErrMalformed = errors.New("malformed message")
	ErrSeparator = errors.New("message field contains the reserved separator")
	ErrDecrypt   = errors.New("message cannot be decrypted")
	ErrInvalid   = errors.New("invalid answer")
)

// Command is a request sent by a client to one of the listeners.
type Command struct {
	ServerName   string
	DispatcherID string
	Command      string
	Entity       string
	ID           int64
	FileID       string
	Domain       string
	// Object is an opaque payload, usually JSON, carried base64 encoded on the wire.
	Object []byte
}

// NewCommand returns an internal command addressed to serverName.
func NewCommand(serverName, verb string) Command {
	return Command{
		ServerName:   serverName,
		DispatcherID: DispatcherInternal,
		Command:      verb,
		Domain:       DefaultDomain,
	}
}

// IsInternal reports whether the command must be handled by the control plane itself.
func (c Command) IsInternal() bool {
	return c.DispatcherID == DispatcherInternal
}

// DomainOrDefault returns the command's domain, falling back to DefaultDomain.
func (c Command) DomainOrDefault() string {
	if c.Domain == "" {
		return DefaultDomain
	}
	return c.Domain
}

// MessageValue looks up key in a "k1=v1|k2=v2" formatted verb string.
// Modules use it to carry small parameter sets without an object payload.
func (c Command) MessageValue(key string) (string, bool) {
	for pair := range strings.SplitSeq(c.Command, messageValueSeparator) {
		k, v, _ := strings.Cut(pair, messageKeyValueAssigner)
		if strings.TrimSpace(k) == key {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}

// SetObject stores v as JSON in the object slot.
func (c *Command) SetObject(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding command object: %w", err)
	}
	c.Object = b
	return nil
}

// DecodeObject decodes the JSON object slot into v.
func (c Command) DecodeObject(v any) error {
	return decodeObject(c.Object, v)
}

func (c Command) textFields() []string {
	return []string{c.ServerName, c.DispatcherID, c.Command, c.Entity, c.FileID, c.Domain}
}

// AnswerType classifies an Answer. The numeric values are the wire representation.
type AnswerType int

const (
	TypeOK      AnswerType = 1
	TypeFileOK  AnswerType = 2
	TypeFileNOK AnswerType = -2
	TypeError   AnswerType = -1
)

func (t AnswerType) String() string {
	switch t {
	case TypeOK:
		return "OK"
	case TypeFileOK:
		return "FILE_OK"
	case TypeFileNOK:
		return "FILE_NOK"
	case TypeError:
		return "ERROR"
	default:
		return fmt.Sprintf("AnswerType(%d)", int(t))
	}
}

// Positive reports whether the answer signals success.
func (t AnswerType) Positive() bool {
	return t > 0
}

// Answer is the response written back for a Command.
type Answer struct {
	Type        AnswerType
	Message     string
	Entity      string
	ID          int64
	FileID      string
	ErrorReason string
	Object      []byte
}

// OK is the generic positive answer.
func OK() Answer {
	return Answer{Type: TypeOK}
}

// FileOK acknowledges a file operation for fileID.
func FileOK(msg, fileID string) Answer {
	return Answer{Type: TypeFileOK, Message: msg, FileID: fileID}
}

// FileNOK rejects a file operation. reason must not be empty.
func FileNOK(msg, reason string) Answer {
	return Answer{Type: TypeFileNOK, Message: msg, ErrorReason: reason}
}

// Error is a generic negative answer.
func Error(msg, reason string) Answer {
	return Answer{Type: TypeError, Message: msg, ErrorReason: reason}
}

// Validate checks that the populated fields agree with the answer type.
func (a Answer) Validate() error {
	switch a.Type {
	case TypeOK:
	case TypeFileOK:
		if a.FileID == "" {
			return fmt.Errorf("%w: %s without file id", ErrInvalid, a.Type)
		}
	case TypeFileNOK, TypeError:
		if a.ErrorReason == "" {
			return fmt.Errorf("%w: %s without error reason", ErrInvalid, a.Type)
		}
	default:
		return fmt.Errorf("%w: unknown type %d", ErrInvalid, int(a.Type))
	}
	return nil
}

// SetObject stores v as JSON in the object slot.
func (a *Answer) SetObject(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding answer object: %w", err)
	}
	a.Object = b
	return nil
}

// DecodeObject decodes the JSON object slot into v.
func (a Answer) DecodeObject(v any) error {
	return decodeObject(a.Object, v)
}

func (a Answer) textFields() []string {
	return []string{a.Message, a.Entity, a.FileID, a.ErrorReason}
}

func decodeObject(b []byte, v any) error {
	if len(b) == 0 {
		return fmt.Errorf("%w: no object payload", ErrMalformed)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decoding object payload: %w", err)
	}
	return nil
}
