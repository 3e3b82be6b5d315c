package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
	"gorm.io/gorm"

	"github.com/cppla/dailycheckin/metrics"
	"github.com/cppla/dailycheckin/models"
	"github.com/cppla/dailycheckin/storage"
	"github.com/cppla/dailycheckin/utils"
)

const (
	maxImagePixels      = 40_000_000
	signedURLSafety     = 5 * time.Minute
	mainJPEGQuality     = 85
	thumbJPEGQuality    = 95
	maxSafeNameLength   = 64
	pendingRetryDelay   = time.Minute
	outputContentType   = "image/jpeg"
	defaultStoreTimeout = 800 * time.Millisecond
)

var allowedImageExt = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
}

var (
	ErrImageTooLarge    = errors.New("image exceeds the size limit")
	ErrImageType        = errors.New("unsupported image type")
	ErrImageUndecodable = errors.New("image could not be decoded")
)

// URLCache remembers presigned URLs by object key.
type URLCache interface {
	GetURL(key string) (string, bool)
	SetURL(key, url string, ttl time.Duration)
	Forget(keys ...string)
}

// MediaOptions bound image processing and object store access.
type MediaOptions struct {
	MaxImageBytes int64
	MaxWidth      int
	ThumbnailSize int
	MaxPerCheckIn int
	Workers       int
	URLTTL        time.Duration
	StoreTimeout  time.Duration
}

func (o MediaOptions) withDefaults() MediaOptions {
	if o.MaxImageBytes <= 0 {
		o.MaxImageBytes = 5 << 20
	}
	if o.MaxWidth <= 0 {
		o.MaxWidth = 1200
	}
	if o.ThumbnailSize <= 0 {
		o.ThumbnailSize = 300
	}
	if o.MaxPerCheckIn <= 0 {
		o.MaxPerCheckIn = 9
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.URLTTL <= 0 {
		o.URLTTL = time.Hour
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = defaultStoreTimeout
	}
	return o
}

// ImageUpload is one file received with a check-in.
type ImageUpload struct {
	Filename string
	Data     []byte
}

// ImageResult reports the outcome for one upload, in request order.
type ImageResult struct {
	Filename string               `json:"filename"`
	Image    *models.CheckInImage `json:"image,omitempty"`
	Error    string               `json:"error,omitempty"`
}

// ImageURL is a signed view of a stored image.
type ImageURL struct {
	ID           uint   `json:"id"`
	OriginalName string `json:"original_name"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
}

// MediaService validates, resizes and stores check-in images.
type MediaService struct {
	db    *gorm.DB
	store storage.ObjectStore
	cache URLCache
	opts  MediaOptions
	now   func() time.Time
}

// NewMediaService builds the service. A nil store disables attachments;
// a nil cache presigns on every request.
func NewMediaService(db *gorm.DB, store storage.ObjectStore, cache URLCache, opts MediaOptions, now func() time.Time) *MediaService {
	return &MediaService{db: db, store: store, cache: cache, opts: opts.withDefaults(), now: now}
}

// Enabled reports whether an object store is configured.
func (m *MediaService) Enabled() bool {
	return m != nil && m.store != nil
}

// MaxImageBytes is the per-file upload limit.
func (m *MediaService) MaxImageBytes() int64 {
	return m.opts.MaxImageBytes
}

// MaxPerCheckIn is the number of images one check-in may carry.
func (m *MediaService) MaxPerCheckIn() int {
	return m.opts.MaxPerCheckIn
}

// CheckCount rejects uploads exceeding the per-check-in limit.
func (m *MediaService) CheckCount(n int) error {
	if n > m.opts.MaxPerCheckIn {
		return invalid("images", fmt.Sprintf("at most %d images per check-in", m.opts.MaxPerCheckIn))
	}
	return nil
}

type processedImage struct {
	key       string
	thumbnail []byte
	main      []byte
	width     int
	height    int
}

// Attach processes and uploads images for a committed check-in. A failing image
// never affects the others; rows are written only for stored images.
func (m *MediaService) Attach(ctx context.Context, userID, projectID, checkInID uint, uploads []ImageUpload) ([]ImageResult, error) {
	results := make([]ImageResult, len(uploads))
	for i, up := range uploads {
		results[i].Filename = up.Filename
	}
	if len(uploads) == 0 {
		return results, nil
	}
	if !m.Enabled() {
		for i := range results {
			results[i].Error = storage.ErrNotConfigured.Error()
		}
		metrics.Image("disabled")
		return results, nil
	}

	stored := make([]*processedImage, len(uploads))
	p := pool.New().WithContext(ctx).WithMaxGoroutines(m.opts.Workers)
	for i, up := range uploads {
		i, up := i, up
		p.Go(func(ctx context.Context) error {
			img, err := m.process(userID, projectID, up)
			if err != nil {
				results[i].Error = err.Error()
				metrics.Image("rejected")
				utils.Logger.Info("image rejected", zap.String("filename", up.Filename), zap.Error(err))
				return nil
			}
			if err := m.upload(ctx, img); err != nil {
				results[i].Error = "upload failed"
				metrics.Image("failed")
				utils.Logger.Warn("image upload failed", zap.String("key", img.key), zap.Error(err))
				return nil
			}
			stored[i] = img
			return nil
		})
	}
	_ = p.Wait()

	count := 0
	for i, img := range stored {
		if img == nil {
			continue
		}
		row := models.CheckInImage{
			CheckInID:    checkInID,
			ObjectKey:    img.key,
			OriginalName: utils.SanitizeText(uploads[i].Filename, 255),
			ContentType:  outputContentType,
			ByteSize:     int64(len(img.main)),
			Width:        img.width,
			Height:       img.height,
			CreatedAt:    m.now().UTC(),
		}
		if err := m.db.WithContext(ctx).Create(&row).Error; err != nil {
			results[i].Error = "save failed"
			metrics.Image("failed")
			utils.Logger.Error("image row insert failed", zap.String("key", img.key), zap.Error(err))
			m.DeleteObjects(ctx, []string{img.key, models.ThumbnailKeyFor(img.key)})
			continue
		}
		results[i].Image = &row
		metrics.Image("stored")
		count++
	}
	if count > 0 {
		if err := m.db.WithContext(ctx).Model(&models.CheckIn{}).Where("id = ?", checkInID).
			UpdateColumn("image_count", gorm.Expr("image_count + ?", count)).Error; err != nil {
			return results, fmt.Errorf("update image count: %w", err)
		}
	}
	return results, nil
}

func (m *MediaService) process(userID, projectID uint, up ImageUpload) (*processedImage, error) {
	ext := strings.ToLower(filepath.Ext(up.Filename))
	if !allowedImageExt[ext] {
		return nil, ErrImageType
	}
	if int64(len(up.Data)) > m.opts.MaxImageBytes {
		return nil, ErrImageTooLarge
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(up.Data))
	if err != nil {
		return nil, ErrImageUndecodable
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > maxImagePixels {
		return nil, ErrImageTooLarge
	}
	src, _, err := image.Decode(bytes.NewReader(up.Data))
	if err != nil {
		return nil, ErrImageUndecodable
	}

	main := fitWithin(src, m.opts.MaxWidth, 0)
	thumb := fitWithin(src, m.opts.ThumbnailSize, m.opts.ThumbnailSize)

	var mainBuf, thumbBuf bytes.Buffer
	if err := jpeg.Encode(&mainBuf, main, &jpeg.Options{Quality: mainJPEGQuality}); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	if err := jpeg.Encode(&thumbBuf, thumb, &jpeg.Options{Quality: thumbJPEGQuality}); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	b := main.Bounds()
	return &processedImage{
		key:       m.objectKey(userID, projectID, up.Filename),
		main:      mainBuf.Bytes(),
		thumbnail: thumbBuf.Bytes(),
		width:     b.Dx(),
		height:    b.Dy(),
	}, nil
}

func (m *MediaService) upload(ctx context.Context, img *processedImage) error {
	if err := m.put(ctx, img.key, img.main); err != nil {
		return err
	}
	if err := m.put(ctx, models.ThumbnailKeyFor(img.key), img.thumbnail); err != nil {
		m.DeleteObjects(ctx, []string{img.key})
		return err
	}
	return nil
}

func (m *MediaService) put(ctx context.Context, key string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, m.opts.StoreTimeout)
	defer cancel()
	return m.store.Put(ctx, key, data, outputContentType)
}

// objectKey builds checkins/{user}/{project}/{stamp}_{random}_{name}.jpg.
func (m *MediaService) objectKey(userID, projectID uint, filename string) string {
	stamp := m.now().UTC().Format("20060102150405")
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("checkins/%d/%d/%s_%s_%s.jpg", userID, projectID, stamp, random, safeFilename(filename))
}

// safeFilename keeps ASCII letters, digits, '-' and '_' from the base name.
func safeFilename(name string) string {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
		if b.Len() >= maxSafeNameLength {
			break
		}
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "image"
	}
	return out
}

// fitWithin scales src down to fit maxW x maxH (0 means unbounded) onto a white
// background. Images already small enough are only flattened.
func fitWithin(src image.Image, maxW, maxH int) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	scale := 1.0
	if maxW > 0 && w > maxW {
		scale = float64(maxW) / float64(w)
	}
	if maxH > 0 && h > maxH {
		if s := float64(maxH) / float64(h); s < scale {
			scale = s
		}
	}
	nw, nh := int(float64(w)*scale+0.5), int(float64(h)*scale+0.5)
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	if nw == w && nh == h {
		draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
		return dst
	}
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst
}

// SignedURLs presigns the images and their thumbnails. Cached URLs are reused
// until shortly before they expire.
func (m *MediaService) SignedURLs(ctx context.Context, images []models.CheckInImage) ([]ImageURL, error) {
	if !m.Enabled() {
		return nil, storage.ErrNotConfigured
	}
	out := make([]ImageURL, 0, len(images))
	for _, img := range images {
		url, err := m.presign(ctx, img.ObjectKey)
		if err != nil {
			return nil, err
		}
		thumb, err := m.presign(ctx, img.ThumbnailKey())
		if err != nil {
			utils.Logger.Warn("thumbnail presign failed", zap.String("key", img.ObjectKey), zap.Error(err))
			thumb = ""
		}
		out = append(out, ImageURL{
			ID:           img.ID,
			OriginalName: img.OriginalName,
			Width:        img.Width,
			Height:       img.Height,
			URL:          url,
			ThumbnailURL: thumb,
		})
	}
	return out, nil
}

func (m *MediaService) presign(ctx context.Context, key string) (string, error) {
	if m.cache != nil {
		if url, ok := m.cache.GetURL(key); ok {
			return url, nil
		}
	}
	ctx, cancel := context.WithTimeout(ctx, m.opts.StoreTimeout)
	defer cancel()
	url, err := m.store.PresignGet(ctx, key, m.opts.URLTTL)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	if m.cache != nil {
		m.cache.SetURL(key, url, m.opts.URLTTL-signedURLSafety)
	}
	return url, nil
}

// DeleteObjects removes objects and their cached URLs. Failures are queued
// as PendingObjectDeletion rows for the cleaner.
func (m *MediaService) DeleteObjects(ctx context.Context, keys []string) {
	if len(keys) == 0 {
		return
	}
	if m.cache != nil {
		m.cache.Forget(keys...)
	}
	if !m.Enabled() {
		return
	}
	var failed []string
	var lastErr error
	for _, key := range keys {
		dctx, cancel := context.WithTimeout(ctx, m.opts.StoreTimeout)
		err := m.store.Delete(dctx, key)
		cancel()
		if err != nil {
			utils.Logger.Warn("object delete failed", zap.String("key", key), zap.Error(err))
			failed = append(failed, key)
			lastErr = err
		}
	}
	if len(failed) > 0 {
		m.queueDeletion(ctx, failed, lastErr)
	}
}

func (m *MediaService) queueDeletion(ctx context.Context, keys []string, cause error) {
	next := m.now().UTC().Add(pendingRetryDelay)
	rows := make([]models.PendingObjectDeletion, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, models.PendingObjectDeletion{
			ObjectKey:     k,
			LastError:     truncate(cause.Error(), 512),
			NextAttemptAt: next,
		})
	}
	if err := m.db.WithContext(context.WithoutCancel(ctx)).Create(&rows).Error; err != nil {
		utils.Logger.Error("queue object deletion failed", zap.Strings("keys", keys), zap.Error(err))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
