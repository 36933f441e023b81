package storage

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInlineStore(t *testing.T) {
	ctx := context.Background()
	ref, err := InlineStore{}.Put(ctx, "memo-1", []byte("RIFF"), "audio/wav")
	require.NoError(t, err)
	assert.Equal(t, "data:audio/wav;base64,UklGRg==", ref)

	data, err := InlineStore{}.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "RIFF", string(data))

	_, err = InlineStore{}.Get(ctx, "data:audio/wav,plain")
	assert.Error(t, err)
}

func TestLocalStorage(t *testing.T) {
	ctx := context.Background()
	ls := NewLocalStorage(t.TempDir())
	ls.now = func() time.Time { return time.Date(2025, 1, 23, 14, 30, 22, 0, time.UTC) }

	ref, err := ls.Put(ctx, "memo/1", []byte("ogg"), "audio/ogg;codecs=opus")
	require.NoError(t, err)
	assert.Equal(t, "local://2025/01/23/20250123_143022_memo_1.ogg", ref)

	data, err := ls.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "ogg", string(data))

	_, err = ls.Get(ctx, "local://../../etc/passwd")
	assert.Error(t, err)
}

func TestBlobsRoutesByReference(t *testing.T) {
	ctx := context.Background()
	local := NewLocalStorage(t.TempDir())
	blobs := NewBlobs(local, InlineStore{})

	ref, err := blobs.Put(ctx, "k", []byte("abc"), "audio/wav")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ref, "local://"))

	data, err := blobs.Get(ctx, "data:audio/wav;base64,YWJj")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))

	_, err = blobs.Get(ctx, "gdrive://abc")
	assert.Error(t, err)
}

func TestExtractDriveFileID(t *testing.T) {
	id := "1AbCdEfGhIjKlMnOpQrStUvWxYz012345"
	assert.Equal(t, id, ExtractDriveFileID("https://drive.google.com/file/d/"+id+"/view?usp=sharing"))
	assert.Equal(t, id, ExtractDriveFileID("https://drive.google.com/open?id="+id))
	assert.Equal(t, id, ExtractDriveFileID(id))
	assert.Empty(t, ExtractDriveFileID("https://example.com/file.mp3"))
}
