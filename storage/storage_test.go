package storage

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorePutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("https://cdn.example.com/archives/")

	res, err := s.Put(ctx, "brackets/7.json", "application/json", strings.NewReader(`{"id":7}`))
	require.NoError(t, err)
	assert.Equal(t, "brackets/7.json", res.Key)
	assert.Equal(t, "https://cdn.example.com/archives/brackets/7.json", res.Location)
	assert.NotEmpty(t, res.ETag)

	data, err := s.Get("brackets/7.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":7}`, string(data))

	require.NoError(t, s.Delete(ctx, "brackets/7.json"))
	_, err = s.Get("brackets/7.json")
	assert.ErrorIs(t, err, ErrObjectNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "brackets/7.json"), ErrObjectNotFound)
}

func TestPublicURLWithoutBase(t *testing.T) {
	assert.Empty(t, NewMemoryStore("").PublicURL("a.json"))
}

func TestNewR2StoreValidatesConfig(t *testing.T) {
	_, err := NewR2Store(context.Background(), R2Config{BucketName: "b"})
	require.Error(t, err)

	store, err := NewR2Store(context.Background(), R2Config{
		AccountID:       "acc",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
		BucketName:      "brackets",
		PublicBaseURL:   "https://pub.example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://pub.example.com/t/1.json", store.PublicURL("/t/1.json"))
}
