package routes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cppla/dailycheckin/config"
	"github.com/cppla/dailycheckin/services"
	"github.com/cppla/dailycheckin/storage"
	"github.com/cppla/dailycheckin/utils"
)

var dbSeq atomic.Int64

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type apiClient struct {
	t *testing.T
	r *gin.Engine
}

func newAPI(t *testing.T, withGuard bool) (*apiClient, *storage.MemoryStore) {
	t.Helper()
	config.Set(config.AppConfig{
		JWTSecret:          "router-secret",
		GinMode:            "test",
		GinPath:            filepath.Join(t.TempDir(), "gin.log"),
		RateLimitPerMinute: 100000,
		DefaultTimezone:    "UTC",
	})

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	utils.SetRedis(client)
	t.Cleanup(func() { _ = client.Close() })

	dsn := fmt.Sprintf("sqlite:file:routes_%d?mode=memory&cache=shared", dbSeq.Add(1))
	db, err := config.OpenDatabase(dsn, "silent")
	require.NoError(t, err)
	require.NoError(t, config.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	store := storage.NewMemoryStore("http://objects.test")
	svc := services.New(db, services.Options{
		Store: store,
		Cache: utils.NewSignedURLCache(),
		Media: services.MediaOptions{MaxWidth: 64, ThumbnailSize: 16},
	})
	var guard *utils.RegistrationGuard
	if withGuard {
		guard = utils.NewRegistrationGuard(client, config.Get())
	}
	return &apiClient{t: t, r: SetupRouter(db, svc, guard)}, store
}

func (a *apiClient) do(req *http.Request, token string) (int, envelope) {
	a.t.Helper()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.r.ServeHTTP(w, req)
	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(a.t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w.Code, env
}

func (a *apiClient) call(method, path, token string, body interface{}) (int, envelope) {
	a.t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(a.t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return a.do(req, token)
}

func decode(t *testing.T, env envelope, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(env.Data, v))
}

type session struct {
	token string
	id    uint
}

func (a *apiClient) register(name string) session {
	a.t.Helper()
	status, env := a.call(http.MethodPost, "/api/v1/auth/register", "", gin.H{
		"username": name,
		"email":    name + "@example.com",
		"password": "correct-horse",
	})
	require.Equal(a.t, http.StatusCreated, status, env.Message)
	var out struct {
		Token string `json:"token"`
		User  struct {
			ID uint `json:"id"`
		} `json:"user"`
	}
	decode(a.t, env, &out)
	require.NotEmpty(a.t, out.Token)
	return session{token: out.Token, id: out.User.ID}
}

type idOnly struct {
	ID uint `json:"id"`
}

func TestCheckInFlowAcrossFriends(t *testing.T) {
	api, _ := newAPI(t, false)
	alice := api.register("alice")
	bob := api.register("bobby")

	status, env := api.call(http.MethodGet, "/api/v1/auth/me", alice.token, nil)
	require.Equal(t, http.StatusOK, status)
	var me struct {
		Username string `json:"username"`
	}
	decode(t, env, &me)
	assert.Equal(t, "alice", me.Username)

	status, env = api.call(http.MethodPost, "/api/v1/projects", alice.token, gin.H{
		"name":       "Morning run",
		"visibility": "invitation",
	})
	require.Equal(t, http.StatusCreated, status, env.Message)
	var created struct {
		Project idOnly `json:"project"`
	}
	decode(t, env, &created)
	projectPath := fmt.Sprintf("/api/v1/projects/%d", created.Project.ID)

	status, env = api.call(http.MethodPost, projectPath+"/checkins", alice.token, gin.H{"note": "5km"})
	require.Equal(t, http.StatusCreated, status, env.Message)
	var ci struct {
		CheckIn idOnly `json:"check_in"`
	}
	decode(t, env, &ci)
	checkInPath := fmt.Sprintf("/api/v1/checkins/%d", ci.CheckIn.ID)
	status, env = api.call(http.MethodPost, projectPath+"/checkins", alice.token, gin.H{"note": "again"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, 40902, env.Code)

	// bob is neither member nor friend
	status, env = api.call(http.MethodGet, projectPath+"/checkins", bob.token, nil)
	require.Equal(t, http.StatusOK, status)
	var page struct {
		Items      []json.RawMessage `json:"items"`
		Pagination utils.Pagination  `json:"pagination"`
	}
	decode(t, env, &page)
	assert.Zero(t, page.Pagination.Total)
	status, env = api.call(http.MethodGet, checkInPath, bob.token, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, 40301, env.Code)

	status, env = api.call(http.MethodPost, projectPath+"/invitations", alice.token, gin.H{"user_id": bob.id})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, 40304, env.Code)

	status, env = api.call(http.MethodPost, "/api/v1/friends/requests", bob.token, gin.H{"user_id": alice.id})
	require.Equal(t, http.StatusCreated, status, env.Message)
	var fr struct {
		Request idOnly `json:"request"`
	}
	decode(t, env, &fr)

	status, _ = api.call(http.MethodPost, fmt.Sprintf("/api/v1/friends/requests/%d/accept", fr.Request.ID), bob.token, nil)
	assert.Equal(t, http.StatusForbidden, status, "only the addressee may accept")
	status, _ = api.call(http.MethodPost, fmt.Sprintf("/api/v1/friends/requests/%d/accept", fr.Request.ID), alice.token, nil)
	require.Equal(t, http.StatusOK, status)

	status, env = api.call(http.MethodPost, projectPath+"/invitations", alice.token, gin.H{"user_id": bob.id})
	require.Equal(t, http.StatusCreated, status, env.Message)

	status, env = api.call(http.MethodGet, "/api/v1/invitations", bob.token, nil)
	require.Equal(t, http.StatusOK, status)
	var invs struct {
		Items []idOnly `json:"items"`
	}
	decode(t, env, &invs)
	require.Len(t, invs.Items, 1)

	status, _ = api.call(http.MethodPost, fmt.Sprintf("/api/v1/invitations/%d/accept", invs.Items[0].ID), bob.token, nil)
	require.Equal(t, http.StatusOK, status)

	status, env = api.call(http.MethodGet, projectPath+"/checkins", bob.token, nil)
	require.Equal(t, http.StatusOK, status)
	decode(t, env, &page)
	assert.EqualValues(t, 1, page.Pagination.Total)
	status, _ = api.call(http.MethodGet, checkInPath, bob.token, nil)
	assert.Equal(t, http.StatusOK, status)

	status, env = api.call(http.MethodGet, projectPath+"/stats", bob.token, nil)
	require.Equal(t, http.StatusOK, status)
	var stats struct {
		Project struct {
			TotalCheckIns int64 `json:"total_checkins"`
		} `json:"project"`
	}
	decode(t, env, &stats)
	assert.EqualValues(t, 1, stats.Project.TotalCheckIns)

	// unfriending hides alice's check-ins again
	status, _ = api.call(http.MethodDelete, fmt.Sprintf("/api/v1/friends/%d", alice.id), bob.token, nil)
	require.Equal(t, http.StatusOK, status)
	status, env = api.call(http.MethodGet, projectPath+"/checkins", bob.token, nil)
	require.Equal(t, http.StatusOK, status)
	decode(t, env, &page)
	assert.Zero(t, page.Pagination.Total)
}

func TestJoinProjectBody(t *testing.T) {
	api, _ := newAPI(t, false)
	owner := api.register("owner")
	joiner := api.register("joiner")

	status, env := api.call(http.MethodPost, "/api/v1/projects", owner.token, gin.H{
		"name":       "Open reading",
		"visibility": "invitation",
	})
	require.Equal(t, http.StatusCreated, status, env.Message)
	var created struct {
		Project idOnly `json:"project"`
	}
	decode(t, env, &created)
	joinPath := fmt.Sprintf("/api/v1/projects/%d/join", created.Project.ID)

	req := httptest.NewRequest(http.MethodPost, joinPath, strings.NewReader(`{"message":`))
	req.Header.Set("Content-Type", "application/json")
	status, env = api.do(req, joiner.token)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, 40013, env.Code)

	status, env = api.call(http.MethodGet, fmt.Sprintf("/api/v1/projects/%d/join-requests", created.Project.ID), owner.token, nil)
	require.Equal(t, http.StatusOK, status)
	var pending struct {
		Items []idOnly `json:"items"`
	}
	decode(t, env, &pending)
	assert.Empty(t, pending.Items)

	// no body at all is fine
	status, env = api.call(http.MethodPost, joinPath, joiner.token, nil)
	require.Equal(t, http.StatusCreated, status, env.Message)
}

func TestLogoutRevokesToken(t *testing.T) {
	api, _ := newAPI(t, false)
	carol := api.register("carol")

	status, _ := api.call(http.MethodPost, "/api/v1/auth/logout", carol.token, nil)
	require.Equal(t, http.StatusOK, status)

	status, env := api.call(http.MethodGet, "/api/v1/auth/me", carol.token, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, 40104, env.Code)

	status, env = api.call(http.MethodPost, "/api/v1/auth/login", "", gin.H{"username": "carol", "password": "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, 40106, env.Code)

	status, _ = api.call(http.MethodPost, "/api/v1/auth/login", "", gin.H{"username": "carol", "password": "correct-horse"})
	assert.Equal(t, http.StatusOK, status)
}

func TestRegisterValidationAndCooldown(t *testing.T) {
	api, _ := newAPI(t, true)

	status, env := api.call(http.MethodPost, "/api/v1/auth/register", "", gin.H{"username": "x"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, 40001, env.Code)

	status, env = api.call(http.MethodPost, "/api/v1/auth/register", "", gin.H{
		"username": "dave", "email": "dave@example.com", "password": "short",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, 40001, env.Code)
	assert.Contains(t, env.Message, "password")

	// the failed attempt started the per-IP cooldown
	status, env = api.call(http.MethodPost, "/api/v1/auth/register", "", gin.H{
		"username": "dave", "email": "dave@example.com", "password": "correct-horse",
	})
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, 42910, env.Code)
}

func TestUploadImagesAndSignedURLs(t *testing.T) {
	api, store := newAPI(t, false)
	erin := api.register("erin")

	status, env := api.call(http.MethodPost, "/api/v1/projects", erin.token, gin.H{"name": "Sketch"})
	require.Equal(t, http.StatusCreated, status, env.Message)
	var created struct {
		Project idOnly `json:"project"`
	}
	decode(t, env, &created)

	img := image.NewNRGBA(image.Rect(0, 0, 128, 32))
	for x := 0; x < 128; x++ {
		img.Set(x, 0, color.NRGBA{R: 255, A: 255})
	}
	var pngData bytes.Buffer
	require.NoError(t, png.Encode(&pngData, img))

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("note", "first sketch"))
	fw, err := mw.CreateFormFile("images", "sketch.png")
	require.NoError(t, err)
	_, err = fw.Write(pngData.Bytes())
	require.NoError(t, err)
	fw, err = mw.CreateFormFile("images", "notes.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte("plain text"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/v1/projects/%d/checkins", created.Project.ID), &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	status, env = api.do(req, erin.token)
	require.Equal(t, http.StatusCreated, status, env.Message)

	var res struct {
		CheckIn struct {
			ID         uint   `json:"id"`
			Note       string `json:"note"`
			ImageCount int    `json:"image_count"`
		} `json:"check_in"`
		Images []struct {
			Filename string `json:"filename"`
			Error    string `json:"error"`
		} `json:"images"`
	}
	decode(t, env, &res)
	assert.Equal(t, "first sketch", res.CheckIn.Note)
	assert.Equal(t, 1, res.CheckIn.ImageCount)
	require.Len(t, res.Images, 2)
	assert.Empty(t, res.Images[0].Error)
	assert.NotEmpty(t, res.Images[1].Error)
	assert.Len(t, store.Keys(), 2)

	status, env = api.call(http.MethodGet, fmt.Sprintf("/api/v1/checkins/%d/images", res.CheckIn.ID), erin.token, nil)
	require.Equal(t, http.StatusOK, status)
	var urls struct {
		Items []struct {
			URL          string `json:"url"`
			ThumbnailURL string `json:"thumbnail_url"`
		} `json:"items"`
	}
	decode(t, env, &urls)
	require.Len(t, urls.Items, 1)
	assert.True(t, strings.HasPrefix(urls.Items[0].URL, "http://objects.test/"))

	status, _ = api.call(http.MethodDelete, fmt.Sprintf("/api/v1/checkins/%d", res.CheckIn.ID), erin.token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, store.Keys())
}

func TestMiscRoutes(t *testing.T) {
	api, _ := newAPI(t, false)

	status, env := api.call(http.MethodGet, "/api/v1/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, 40400, env.Code)

	status, env = api.call(http.MethodGet, "/api/v1/projects", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, 40101, env.Code)

	status, _ = api.call(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)

	status, env = api.call(http.MethodGet, "/api/v1/stats", "", nil)
	require.Equal(t, http.StatusOK, status)
	var ov struct {
		UserCount int64 `json:"user_count"`
	}
	decode(t, env, &ov)
	assert.Zero(t, ov.UserCount)

	w := httptest.NewRecorder()
	api.r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "dailycheckin_http_requests_total")
}
