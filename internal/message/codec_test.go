package message

import (
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

func codecs(t *testing.T) map[string]*Codec {
	t.Helper()
	aes, err := NewCipher(EncryptionAES, "correct horse battery staple")
	require.NoError(t, err)
	return map[string]*Codec{
		"plain": NewCodec(nil),
		"aes":   NewCodec(aes),
	}
}

func TestCommandRoundTrip(t *testing.T) {
	cmds := []Command{
		NewCommand("X", VerbStop),
		{ServerName: "srv", DispatcherID: "users", Command: "list", Entity: "a=b", ID: -42, FileID: "f-1", Domain: "tenant"},
		{ServerName: "srv", DispatcherID: DispatcherInternal, Command: VerbFileReceiveRequest, Entity: "report.pdf:abc", ID: 1 << 40, Object: []byte(`{"user":"ann"}`)},
		{},
	}
	for name, c := range codecs(t) {
		t.Run(name, func(t *testing.T) {
			for _, cmd := range cmds {
				b, err := c.EncodeCommand(cmd)
				require.NoError(t, err)
				got, err := c.DecodeCommand(b)
				require.NoError(t, err)
				assert.Equal(t, cmd, got)
			}
		})
	}
}

func TestAnswerRoundTrip(t *testing.T) {
	withObj := OK()
	require.NoError(t, withObj.SetObject(map[string]bool{"healthy": true}))
	answers := []Answer{
		OK(),
		FileOK("report.pdf", "id-1"),
		FileNOK("upload", "checksum mismatch"),
		Error("boom", "reason"),
		{Type: TypeFileOK, Entity: "a.txt:123", ID: 99, FileID: "FILE"},
		withObj,
	}
	for name, c := range codecs(t) {
		t.Run(name, func(t *testing.T) {
			for _, a := range answers {
				b, err := c.EncodeAnswer(a)
				require.NoError(t, err)
				got, err := c.DecodeAnswer(b)
				require.NoError(t, err)
				assert.Equal(t, a, got)
			}
		})
	}
}

func TestEncodeRejectsSeparator(t *testing.T) {
	c := NewCodec(nil)
	_, err := c.EncodeCommand(Command{ServerName: "a" + Separator + "b"})
	assert.ErrorIs(t, err, ErrSeparator)
	_, err = c.EncodeAnswer(Answer{Type: TypeOK, Message: Separator})
	assert.ErrorIs(t, err, ErrSeparator)
}

func TestAnswerValidate(t *testing.T) {
	c := NewCodec(nil)
	_, err := c.EncodeAnswer(Answer{Type: TypeFileNOK})
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = c.EncodeAnswer(Answer{Type: TypeFileOK})
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = c.EncodeAnswer(Answer{Type: AnswerType(7)})
	assert.ErrorIs(t, err, ErrInvalid)
	// inconsistent answer crafted directly on the wire
	_, err = c.DecodeAnswer([]byte("-2\x1fmsg\x1f\x1f0\x1f\x1f"))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeMalformed(t *testing.T) {
	c := NewCodec(nil)
	tests := []struct {
		name string
		in   string
	}{
		{"too few fields", "srv\x1finternal\x1fSTOP"},
		{"bad id", "srv\x1finternal\x1fSTOP\x1f\x1fnope\x1f\x1fdefault"},
		{"bad object", "srv\x1finternal\x1fSTOP\x1f\x1f0\x1f\x1fdefault\x1f%%%"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.DecodeCommand([]byte(tt.in))
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
	_, err := c.DecodeAnswer([]byte("x\x1f\x1f\x1f0\x1f\x1f"))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeWrongKey(t *testing.T) {
	a, err := NewCipher(EncryptionAES, "one")
	require.NoError(t, err)
	b, err := NewCipher(EncryptionAES, "two")
	require.NoError(t, err)
	enc, err := NewCodec(a).EncodeCommand(NewCommand("X", VerbHealth))
	require.NoError(t, err)
	_, err = NewCodec(b).DecodeCommand(enc)
	assert.ErrorIs(t, err, ErrDecrypt)
	_, err = NewCodec(b).DecodeCommand([]byte("not base64!"))
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestMessageValue(t *testing.T) {
	cmd := Command{Command: "lines=20| level = warn |flag"}
	v, ok := cmd.MessageValue("level")
	assert.True(t, ok)
	assert.Equal(t, "warn", v)
	v, ok = cmd.MessageValue("lines")
	assert.True(t, ok)
	assert.Equal(t, "20", v)
	_, ok = cmd.MessageValue("missing")
	assert.False(t, ok)
}

func TestObjectHelpers(t *testing.T) {
	type user struct{ Name string }
	var cmd Command
	require.NoError(t, cmd.SetObject(user{Name: "ann"}))
	var got user
	require.NoError(t, cmd.DecodeObject(&got))
	assert.Equal(t, "ann", got.Name)
	assert.ErrorIs(t, Command{}.DecodeObject(&got), ErrMalformed)
}

func TestParseEncryption(t *testing.T) {
	e, err := ParseEncryption("AES")
	require.NoError(t, err)
	assert.Equal(t, EncryptionAES, e)
	e, err = ParseEncryption("")
	require.NoError(t, err)
	assert.Equal(t, EncryptionNone, e)
	_, err = ParseEncryption("sha3")
	assert.Error(t, err)
	_, err = NewCipher(EncryptionAES, "")
	assert.Error(t, err)
}
