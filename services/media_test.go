package services

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cppla/dailycheckin/models"
	"github.com/cppla/dailycheckin/storage"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// flakyStore fails Delete for keys containing failOn.
type flakyStore struct {
	*storage.MemoryStore
	mu      sync.Mutex
	failOn  string
	presign int
}

func (s *flakyStore) Delete(ctx context.Context, key string) error {
	if s.failOn != "" && strings.Contains(key, s.failOn) {
		return errors.New("store unavailable")
	}
	return s.MemoryStore.Delete(ctx, key)
}

func (s *flakyStore) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	s.mu.Lock()
	s.presign++
	s.mu.Unlock()
	return s.MemoryStore.PresignGet(ctx, key, ttl)
}

type mapURLCache struct {
	mu   sync.Mutex
	urls map[string]string
	ttls map[string]time.Duration
}

func newMapURLCache() *mapURLCache {
	return &mapURLCache{urls: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (c *mapURLCache) GetURL(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.urls[key]
	return u, ok
}

func (c *mapURLCache) SetURL(key, url string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.urls[key] = url
	c.ttls[key] = ttl
}

func (c *mapURLCache) Forget(keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.urls, k)
	}
}

func TestCheckInWithImagesIsolatesFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "snapper")
	p := f.project(t, u, models.FrequencyDaily, models.VisibilityPrivate)

	res, err := f.svc.CheckIns.Create(ctx, u.ID, p.ID, CheckInInput{
		TZ: time.UTC,
		Images: []ImageUpload{
			{Filename: "Morning Run!.png", Data: pngBytes(t, 128, 32)},
			{Filename: "notes.txt", Data: []byte("hello")},
			{Filename: "broken.jpg", Data: []byte("not a jpeg")},
		},
	})
	require.NoError(t, err)
	require.Len(t, res.Images, 3)
	require.NotNil(t, res.Images[0].Image)
	assert.Empty(t, res.Images[0].Error)
	assert.Equal(t, ErrImageType.Error(), res.Images[1].Error)
	assert.Equal(t, ErrImageUndecodable.Error(), res.Images[2].Error)
	assert.Equal(t, 1, res.CheckIn.ImageCount)

	stored := res.Images[0].Image
	assert.Equal(t, 64, stored.Width)
	assert.Equal(t, 16, stored.Height)
	assert.Equal(t, "image/jpeg", stored.ContentType)
	assert.True(t, strings.HasPrefix(stored.ObjectKey, "checkins/"))
	assert.True(t, strings.HasSuffix(stored.ObjectKey, "_Morning_Run.jpg"), stored.ObjectKey)

	_, ok := f.store.Get(stored.ObjectKey)
	assert.True(t, ok)
	thumb, ok := f.store.Get(stored.ThumbnailKey())
	require.True(t, ok)
	cfg, _, err := image.DecodeConfig(bytes.NewReader(thumb.Data))
	require.NoError(t, err)
	assert.LessOrEqual(t, cfg.Width, 16)
	assert.LessOrEqual(t, cfg.Height, 16)

	var row models.CheckIn
	require.NoError(t, f.db.First(&row, res.CheckIn.ID).Error)
	assert.Equal(t, 1, row.ImageCount)

	urls, err := f.svc.CheckIns.Images(ctx, u.ID, res.CheckIn.ID)
	require.NoError(t, err)
	require.Len(t, urls, 1)
	assert.Contains(t, urls[0].URL, stored.ObjectKey)
	assert.Contains(t, urls[0].ThumbnailURL, "thumbnails/")

	require.NoError(t, f.svc.CheckIns.Delete(ctx, u.ID, res.CheckIn.ID))
	assert.Empty(t, f.store.Keys())
}

func TestTooManyImagesRejectedBeforeWrite(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "hoarder")
	p := f.project(t, u, models.FrequencyDaily, models.VisibilityPrivate)

	uploads := make([]ImageUpload, 10)
	for i := range uploads {
		uploads[i] = ImageUpload{Filename: "a.png", Data: []byte{}}
	}
	_, err := f.svc.CheckIns.Create(context.Background(), u.ID, p.ID, CheckInInput{TZ: time.UTC, Images: uploads})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	var n int64
	require.NoError(t, f.db.Model(&models.CheckIn{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestImagesWithoutStoreStillCreateCheckIn(t *testing.T) {
	db := setupDB(t)
	clock := newClock(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	svc := New(db, Options{Now: clock.Now})
	f := &fixture{db: db, clock: clock, svc: svc}
	u := f.user(t, "nostore")
	p := f.project(t, u, models.FrequencyDaily, models.VisibilityPrivate)

	res, err := svc.CheckIns.Create(context.Background(), u.ID, p.ID, CheckInInput{
		TZ:     time.UTC,
		Images: []ImageUpload{{Filename: "a.png", Data: pngBytes(t, 4, 4)}},
	})
	require.NoError(t, err)
	require.Len(t, res.Images, 1)
	assert.Equal(t, storage.ErrNotConfigured.Error(), res.Images[0].Error)
	assert.Zero(t, res.Notified)
}

func TestSignedURLsAreCached(t *testing.T) {
	db := setupDB(t)
	store := &flakyStore{MemoryStore: storage.NewMemoryStore("http://objects.test")}
	cache := newMapURLCache()
	media := NewMediaService(db, store, cache, MediaOptions{URLTTL: time.Hour}, time.Now)
	images := []models.CheckInImage{{ID: 1, ObjectKey: "checkins/1/1/a.jpg"}}
	for _, k := range []string{images[0].ObjectKey, images[0].ThumbnailKey()} {
		require.NoError(t, store.Put(context.Background(), k, []byte("x"), "image/jpeg"))
	}

	first, err := media.SignedURLs(context.Background(), images)
	require.NoError(t, err)
	second, err := media.SignedURLs(context.Background(), images)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 2, store.presign)
	assert.Equal(t, 55*time.Minute, cache.ttls["checkins/1/1/a.jpg"])

	media.DeleteObjects(context.Background(), []string{"checkins/1/1/a.jpg"})
	_, ok := cache.GetURL("checkins/1/1/a.jpg")
	assert.False(t, ok)
}

func TestFailedDeletionIsQueuedAndCleaned(t *testing.T) {
	db := setupDB(t)
	clock := newClock(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	store := &flakyStore{MemoryStore: storage.NewMemoryStore(""), failOn: "thumbnails/"}
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "checkins/a.jpg", []byte("x"), "image/jpeg"))
	require.NoError(t, store.Put(ctx, "thumbnails/checkins/a.jpg", []byte("x"), "image/jpeg"))

	media := NewMediaService(db, store, nil, MediaOptions{}, clock.Now)
	media.DeleteObjects(ctx, []string{"checkins/a.jpg", "thumbnails/checkins/a.jpg"})

	var pending []models.PendingObjectDeletion
	require.NoError(t, db.Find(&pending).Error)
	require.Len(t, pending, 1)
	assert.Equal(t, "thumbnails/checkins/a.jpg", pending[0].ObjectKey)
	assert.Equal(t, "store unavailable", pending[0].LastError)

	cleaner := NewCleaner(db, store, time.Minute, time.Second, clock.Now)

	// not due yet
	n, err := cleaner.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	clock.Advance(2 * time.Minute)
	n, err = cleaner.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, db.First(&pending[0], pending[0].ID).Error)
	assert.Equal(t, 1, pending[0].Attempts)

	store.failOn = ""
	clock.Advance(time.Hour)
	n, err = cleaner.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, store.Keys())

	var left int64
	require.NoError(t, db.Model(&models.PendingObjectDeletion{}).Count(&left).Error)
	assert.Zero(t, left)
}

func TestCleanerGivesUpAfterMaxAttempts(t *testing.T) {
	db := setupDB(t)
	clock := newClock(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	store := &flakyStore{MemoryStore: storage.NewMemoryStore(""), failOn: "doomed"}
	require.NoError(t, db.Create(&models.PendingObjectDeletion{
		ObjectKey:     "doomed.jpg",
		Attempts:      maxDeletionAttempts - 1,
		NextAttemptAt: clock.Now().UTC(),
	}).Error)

	cleaner := NewCleaner(db, store, time.Minute, time.Second, clock.Now)
	_, err := cleaner.Sweep(context.Background())
	require.NoError(t, err)

	var left int64
	require.NoError(t, db.Model(&models.PendingObjectDeletion{}).Count(&left).Error)
	assert.Zero(t, left)
}

func TestSafeFilename(t *testing.T) {
	assert.Equal(t, "Morning_Run", safeFilename("Morning Run!.png"))
	assert.Equal(t, "image", safeFilename("???.jpg"))
	assert.Equal(t, "passwd", safeFilename("../../etc/passwd"))
	assert.Len(t, safeFilename(strings.Repeat("a", 200)+".png"), maxSafeNameLength)
}
