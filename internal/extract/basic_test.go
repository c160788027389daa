package extract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBasic_ClaimsEverything(t *testing.T) {
	p := NewBasic()
	assert.True(t, p.Applicable("anything.xyz", Entry{}))
	assert.True(t, p.Applicable("no-extension", Entry{}))
	assert.False(t, p.Applicable("dir", Entry{IsDir: true}))
}

func TestBasic_Extract(t *testing.T) {
	dir := t.TempDir()
	path, entry := writeFile(t, dir, "report.txt", []byte("hello"))

	rec := NewBasic().Extract(context.Background(), path, entry)
	require.Equal(t, StatusSuccess, rec.Status)
	assert.Equal(t, "report.txt", rec.Fields["filename"])
	assert.Equal(t, dir, rec.Fields["directory"])
	assert.Equal(t, ".txt", rec.Fields["extension"])
	assert.Equal(t, int64(5), rec.Fields["size_bytes"])
	assert.Contains(t, rec.Fields["mime_type"], "text/plain")
	assert.NotEmpty(t, rec.Fields["modified_at"])
}

func TestBasic_UnknownExtension(t *testing.T) {
	dir := t.TempDir()
	path, entry := writeFile(t, dir, "blob.zzz9", []byte{1, 2, 3})

	rec := NewBasic().Extract(context.Background(), path, entry)
	require.Equal(t, StatusSuccess, rec.Status)
	assert.Equal(t, "application/octet-stream", rec.Fields["mime_type"])
}
