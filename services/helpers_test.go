package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/cppla/dailycheckin/config"
	"github.com/cppla/dailycheckin/models"
	"github.com/cppla/dailycheckin/storage"
)

var dbSeq atomic.Int64

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(t.Name())
	dsn := fmt.Sprintf("sqlite:file:%s_%d?mode=memory&cache=shared", name, dbSeq.Add(1))
	db, err := config.OpenDatabase(dsn, "silent")
	require.NoError(t, err)
	require.NoError(t, config.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingQueue struct {
	mu   sync.Mutex
	sent []Notification
}

func (q *recordingQueue) Enqueue(n Notification) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sent = append(q.sent, n)
	return true
}

func (q *recordingQueue) all() []Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Notification(nil), q.sent...)
}

type fixture struct {
	db    *gorm.DB
	clock *fakeClock
	store *storage.MemoryStore
	queue *recordingQueue
	svc   *Services
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		db:    setupDB(t),
		clock: newClock(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)),
		store: storage.NewMemoryStore("http://objects.test"),
		queue: &recordingQueue{},
	}
	f.svc = New(f.db, Options{
		Now:      f.clock.Now,
		Store:    f.store,
		Enqueuer: f.queue,
		Media:    MediaOptions{MaxWidth: 64, ThumbnailSize: 16, Workers: 2, StoreTimeout: time.Second},
	})
	return f
}

func (f *fixture) user(t *testing.T, name string, prefs ...models.UserPreferences) models.User {
	t.Helper()
	var p models.UserPreferences
	if len(prefs) > 0 {
		p = prefs[0]
	}
	u := models.User{
		Username:     name,
		Email:        name + "@example.com",
		PasswordHash: "x",
		Preferences:  datatypes.NewJSONType(p),
	}
	require.NoError(t, f.db.Create(&u).Error)
	return u
}

func (f *fixture) project(t *testing.T, creator models.User, freq models.FrequencyMode, vis models.VisibilityMode) models.Project {
	t.Helper()
	name := "Project " + creator.Username
	p, err := f.svc.Projects.Create(context.Background(), creator.ID, ProjectInput{
		Name:       &name,
		Frequency:  &freq,
		Visibility: &vis,
	})
	require.NoError(t, err)
	return *p
}

func (f *fixture) addMember(t *testing.T, p models.Project, u models.User) {
	t.Helper()
	require.NoError(t, addMember(f.db, p.ID, u.ID, models.RoleMember, f.clock.Now()))
}

func (f *fixture) befriend(t *testing.T, a, b models.User) {
	t.Helper()
	ctx := context.Background()
	rel, err := f.svc.Friends.SendRequest(ctx, a.ID, b.ID)
	require.NoError(t, err)
	_, err = f.svc.Friends.Accept(ctx, rel.ID, b.ID)
	require.NoError(t, err)
}

func (f *fixture) checkIn(t *testing.T, u models.User, p models.Project) *CheckInResult {
	t.Helper()
	res, err := f.svc.CheckIns.Create(context.Background(), u.ID, p.ID, CheckInInput{TZ: time.UTC})
	require.NoError(t, err)
	return res
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
