package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	var _ ObjectStore = (*MemoryStore)(nil)
	var _ ObjectStore = (*MinioStore)(nil)

	ctx := context.Background()
	s := NewMemoryStore("http://objects.local")

	require.NoError(t, s.Put(ctx, "a/b.jpg", []byte{1, 2, 3}, "image/jpeg"))
	obj, ok := s.Get("a/b.jpg")
	require.True(t, ok)
	assert.Equal(t, "image/jpeg", obj.ContentType)
	assert.Equal(t, []string{"a/b.jpg"}, s.Keys())

	url, err := s.PresignGet(ctx, "a/b.jpg", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "http://objects.local/a/b.jpg?expires=3600", url)

	_, err = s.PresignGet(ctx, "missing", time.Hour)
	assert.Error(t, err)

	require.NoError(t, s.Delete(ctx, "a/b.jpg"))
	assert.Empty(t, s.Keys())
}

func TestMemoryStoreHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewMemoryStore("")
	assert.ErrorIs(t, s.Put(ctx, "k", nil, ""), context.Canceled)
}

func TestNewMinioStoreStripsScheme(t *testing.T) {
	s, err := NewMinioStore(MinioOptions{
		Endpoint:  "https://s3.example.com/",
		AccessKey: "ak",
		SecretKey: "sk",
		Bucket:    "checkins",
		Region:    "us-east-1",
		UseSSL:    true,
	})
	require.NoError(t, err)
	assert.Equal(t, "s3.example.com", s.client.EndpointURL().Host)

	url, err := s.PresignGet(context.Background(), "checkins/1/2/a.jpg", time.Hour)
	require.NoError(t, err)
	assert.Contains(t, url, "https://")
	assert.Contains(t, url, "checkins/1/2/a.jpg")
	assert.Contains(t, url, "X-Amz-Expires=3600")
}
