package storage

import (
	"errors"
	"github.com/MuhamedUsman/adminplane/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "upload.tmp")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestLocalStoreFindDelete(t *testing.T) {
	root := t.TempDir()
	s, err := NewLocal(root, t.TempDir(), nil)
	require.NoError(t, err)
	ctx := t.Context()

	id, err := s.Store(ctx, writeTemp(t, "quarterly numbers"), "Q1 report (final).pdf", "ann", "finance dept")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(root, "finance_dept", id+"_Q1_report__final_.pdf"))

	d, err := s.Find(ctx, id, "finance dept")
	require.NoError(t, err)
	assert.Equal(t, id, d.FileID)
	assert.Equal(t, "Q1_report__final_.pdf", d.FileName)
	b, err := os.ReadFile(d.Path)
	require.NoError(t, err)
	assert.Equal(t, "quarterly numbers", string(b))

	// the download copy is independent of the stored file
	require.NoError(t, d.Discard())
	_, err = s.Find(ctx, id, "finance dept")
	require.NoError(t, err)

	// domains partition the namespace
	_, err = s.Find(ctx, id, "other")
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err := s.Delete(ctx, id, "finance dept")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Delete(ctx, id, "finance dept")
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = s.Find(ctx, id, "finance dept")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestLocalRejectsTraversal(t *testing.T) {
	s, err := NewLocal(t.TempDir(), t.TempDir(), nil)
	require.NoError(t, err)
	_, err = s.Find(t.Context(), "../../etc/passwd", "default")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, ".._", domainDir("../"))
	assert.Equal(t, "file", domainDir(".."))
	assert.Equal(t, "default", domainDir(" "))
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "a_b-c.txt", SanitizeName("a b-c.txt"))
	assert.Equal(t, "file", SanitizeName(""))
	assert.Equal(t, "file", SanitizeName(".."))
}

func TestNormaliseEndpoint(t *testing.T) {
	tests := []struct {
		in     string
		host   string
		secure bool
		err    bool
	}{
		{"minio:9000", "minio:9000", false, false},
		{"http://minio:9000", "minio:9000", false, false},
		{"https://s3.example.com", "s3.example.com", true, false},
		{"https://s3.example.com/bucket", "", false, true},
		{"  ", "", false, true},
	}
	for _, tt := range tests {
		host, secure, err := normaliseEndpoint(tt.in)
		if tt.err {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.host, host)
		assert.Equal(t, tt.secure, secure)
	}
}

func TestMetadataLookup(t *testing.T) {
	md := map[string]string{"X-Amz-Meta-Name": "a.txt", "User": "ann"}
	assert.Equal(t, "a.txt", metadata(md, metaName))
	assert.Equal(t, "ann", metadata(md, metaUser))
	assert.Empty(t, metadata(md, "missing"))
}

// TestMinioIntegration runs against a real server when ADMINPLANE_TEST_MINIO_ENDPOINT is set.
func TestMinioIntegration(t *testing.T) {
	endpoint := os.Getenv("ADMINPLANE_TEST_MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("ADMINPLANE_TEST_MINIO_ENDPOINT not set")
	}
	cfg := config.StorageConfig{
		Backend: "minio",
		Minio: config.MinioConfig{
			Endpoint:  endpoint,
			AccessKey: os.Getenv("ADMINPLANE_TEST_MINIO_ACCESS_KEY"),
			SecretKey: os.Getenv("ADMINPLANE_TEST_MINIO_SECRET_KEY"),
			Bucket:    os.Getenv("ADMINPLANE_TEST_MINIO_BUCKET"),
		},
	}
	ctx := t.Context()
	s, err := New(ctx, cfg, t.TempDir(), nil)
	require.NoError(t, err)

	id, err := s.Store(ctx, writeTemp(t, "object body"), "notes.txt", "ann", "default")
	require.NoError(t, err)
	d, err := s.Find(ctx, id, "default")
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", d.FileName)
	b, err := os.ReadFile(d.Path)
	require.NoError(t, err)
	assert.Equal(t, "object body", string(b))
	require.NoError(t, d.Discard())

	ok, err := s.Delete(ctx, id, "default")
	require.NoError(t, err)
	assert.True(t, ok)
	_, err = s.Find(ctx, id, "default")
	assert.ErrorIs(t, err, ErrNotFound)
}
