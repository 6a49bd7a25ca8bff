package local

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vbonduro/dapoerkito/internal/photostore"
)

func TestSaveAndOpen(t *testing.T) {
	tests := []struct {
		mime    string
		wantExt string
	}{
		{"image/jpeg", ".jpg"},
		{"image/png", ".png"},
	}
	for _, tt := range tests {
		t.Run(tt.mime, func(t *testing.T) {
			s, err := New(t.TempDir())
			require.NoError(t, err)
			ctx := context.Background()

			data := []byte("not really an image")
			key, err := s.Save(ctx, tt.mime, bytes.NewReader(data))
			require.NoError(t, err)
			assert.Equal(t, tt.wantExt, filepath.Ext(key))

			rc, mime, err := s.Open(ctx, key)
			require.NoError(t, err)
			defer rc.Close()

			assert.Equal(t, tt.mime, mime)
			got, err := io.ReadAll(rc)
			require.NoError(t, err)
			assert.Equal(t, data, got)
		})
	}
}

func TestSaveGeneratesDistinctKeys(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	a, err := s.Save(ctx, "image/jpeg", bytes.NewReader([]byte("a")))
	require.NoError(t, err)
	b, err := s.Save(ctx, "image/jpeg", bytes.NewReader([]byte("b")))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDelete(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	key, err := s.Save(ctx, "image/jpeg", bytes.NewReader([]byte("x")))
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, key))

	_, _, err = s.Open(ctx, key)
	assert.True(t, errors.Is(err, photostore.ErrNotFound))
	assert.True(t, errors.Is(s.Delete(ctx, key), photostore.ErrNotFound))
}

func TestOpenMissing(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	_, _, err = s.Open(context.Background(), "nonexistent.jpg")
	assert.True(t, errors.Is(err, photostore.ErrNotFound))
}

func TestRejectsTraversal(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, _, err = s.Open(ctx, "../../etc/passwd")
	assert.Error(t, err)
	assert.False(t, errors.Is(err, photostore.ErrNotFound))

	assert.Error(t, s.Delete(ctx, "../outside.jpg"))
}
