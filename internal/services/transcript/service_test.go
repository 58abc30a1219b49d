package transcript_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dramac/livechat-service/internal/core/cache"
	"github.com/dramac/livechat-service/internal/domain/models"
	rediscache "github.com/dramac/livechat-service/internal/infrastructure/cache/redis"
	"github.com/dramac/livechat-service/internal/infrastructure/docdb/memory"
	"github.com/dramac/livechat-service/internal/pkg/encryption"
	"github.com/dramac/livechat-service/internal/services/transcript"
)

type fixture struct {
	mr     *miniredis.Miniredis
	cache  cache.Cache
	store  *memory.Client
	svc    transcript.Service
	sealer *encryption.AESSealer
}

func newFixture(t *testing.T, limit int) *fixture {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	client, err := rediscache.NewCache(rediscache.Config{Host: mr.Host(), Port: mr.Port(), DefaultTTL: time.Hour})
	require.NoError(t, err)
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})

	key, err := encryption.GenerateKey()
	require.NoError(t, err)
	sealer, err := encryption.NewAESSealer(key)
	require.NoError(t, err)

	store := memory.NewClient()
	svc, err := transcript.NewService(&transcript.Config{
		Cache:    client,
		Sealer:   sealer,
		Messages: store.Messages(),
		Limit:    limit,
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)
	return &fixture{mr: mr, cache: client, store: store, svc: svc, sealer: sealer}
}

func (f *fixture) append(t *testing.T, contentType models.ContentType, content string) *models.Message {
	t.Helper()
	msg := models.NewMessage("t1", "c1", models.SenderVisitor, "v1", contentType, content)
	require.NoError(t, f.store.Messages().Append(context.Background(), msg))
	return msg
}

func contents(msgs []*models.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Content)
	}
	return out
}

func TestNewService_Validation(t *testing.T) {
	_, err := transcript.NewService(nil)
	assert.EqualError(t, err, "config cannot be nil")

	_, err = transcript.NewService(&transcript.Config{})
	assert.EqualError(t, err, "cache client is required")
}

func TestRecent_LoadsFromStoreAndCaches(t *testing.T) {
	// Arrange
	f := newFixture(t, 3)
	ctx := context.Background()
	f.append(t, models.ContentTypeText, "one")
	f.append(t, models.ContentTypeNote, "hidden")
	f.append(t, models.ContentTypeText, "two")
	f.append(t, models.ContentTypeText, "three")
	f.append(t, models.ContentTypeText, "four")

	// Act
	msgs, err := f.svc.Recent(ctx, "t1", "c1", 0)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, []string{"two", "three", "four"}, contents(msgs))
	assert.True(t, f.mr.Exists(rediscache.DefaultKeyPrefix+f.svc.Key("t1", "c1")))

	raw, err := f.mr.Get(rediscache.DefaultKeyPrefix+f.svc.Key("t1", "c1"))
	require.NoError(t, err)
	assert.NotContains(t, raw, "three")
}

func TestAppend_MergesIntoCachedTranscript(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	f.append(t, models.ContentTypeText, "one")
	_, err := f.svc.Recent(ctx, "t1", "c1", 0)
	require.NoError(t, err)

	second := f.append(t, models.ContentTypeText, "two")
	require.NoError(t, f.svc.Append(ctx, second))
	require.NoError(t, f.svc.Append(ctx, second))
	note := f.append(t, models.ContentTypeNote, "internal")
	require.NoError(t, f.svc.Append(ctx, note))

	// Stored but never appended, so only a store read would return it.
	f.append(t, models.ContentTypeText, "three")

	msgs, err := f.svc.Recent(ctx, "t1", "c1", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, contents(msgs))
}

func TestAppend_NoCacheEntryIsNoop(t *testing.T) {
	f := newFixture(t, 3)
	msg := f.append(t, models.ContentTypeText, "one")

	require.NoError(t, f.svc.Append(context.Background(), msg))
	assert.False(t, f.mr.Exists(rediscache.DefaultKeyPrefix+f.svc.Key("t1", "c1")))
}

func TestRecent_UnreadableEntryFallsBackToStore(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	f.append(t, models.ContentTypeText, "one")

	// An entry sealed for another conversation cannot be opened here.
	foreign, err := f.sealer.Seal([]byte(`{"messages":[]}`), f.svc.Key("t1", "other"))
	require.NoError(t, err)
	require.NoError(t, f.mr.Set(rediscache.DefaultKeyPrefix+f.svc.Key("t1", "c1"), foreign))

	msgs, err := f.svc.Recent(ctx, "t1", "c1", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"one"}, contents(msgs))
}

func TestInvalidate(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	f.append(t, models.ContentTypeText, "one")
	_, err := f.svc.Recent(ctx, "t1", "c1", 0)
	require.NoError(t, err)

	require.NoError(t, f.svc.Invalidate(ctx, "t1", "c1"))
	assert.False(t, f.mr.Exists(rediscache.DefaultKeyPrefix+f.svc.Key("t1", "c1")))
}
