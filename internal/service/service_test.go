package service_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/ginext"

	"linkhub/internal/cache"
	"linkhub/internal/clicks"
	"linkhub/internal/repo"
	"linkhub/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubRepo struct {
	activeLink  *repo.LinkEntity
	link        *repo.LinkEntity
	activeCalls int
	updated     *repo.LinkEntity
	createdID   int64
	created     *repo.LinkEntity
	clickTotal  int64
}

func (s *stubRepo) MigrateUp(string) error { return nil }

func (s *stubRepo) CreateLink(_ context.Context, link repo.LinkEntity) (int64, error) {
	s.created = &link
	if s.createdID == 0 {
		s.createdID = 1
	}
	return s.createdID, nil
}

func (s *stubRepo) GetLinkByCode(_ context.Context, code string) (*repo.LinkEntity, error) {
	return s.link, nil
}

func (s *stubRepo) GetActiveLinkByCode(_ context.Context, code string) (*repo.LinkEntity, error) {
	s.activeCalls++
	return s.activeLink, nil
}

func (s *stubRepo) UpdateLink(_ context.Context, link repo.LinkEntity) error {
	s.updated = &link
	return nil
}

func (s *stubRepo) IncrementClickCount(context.Context, int64) error { return nil }

func (s *stubRepo) BatchIncrementClickCounts(context.Context, map[int64]int64) error { return nil }

func (s *stubRepo) CreateClick(context.Context, repo.ClickEntity) error { return nil }

func (s *stubRepo) BulkInsertClicks(context.Context, []repo.ClickEntity) error { return nil }

func (s *stubRepo) CountClicks(context.Context, int64) (int64, error) { return s.clickTotal, nil }

func (s *stubRepo) GetClickStatsByField(context.Context, int64, string, int) ([]repo.FieldStat, error) {
	return nil, nil
}

type stubCache struct {
	entries     map[string]*cache.CachedLink
	puts        []*cache.CachedLink
	invalidated []string
}

func newStubCache() *stubCache {
	return &stubCache{entries: map[string]*cache.CachedLink{}}
}

func (s *stubCache) Get(_ context.Context, code string) (*cache.CachedLink, bool) {
	link, ok := s.entries[code]
	return link, ok
}

func (s *stubCache) Put(_ context.Context, link *cache.CachedLink) {
	s.puts = append(s.puts, link)
}

func (s *stubCache) Invalidate(_ context.Context, code string) {
	s.invalidated = append(s.invalidated, code)
}

type stubRecorder struct {
	events chan clicks.Event
}

func newStubRecorder() *stubRecorder {
	return &stubRecorder{events: make(chan clicks.Event, 10)}
}

func (s *stubRecorder) Record(_ context.Context, ev clicks.Event) {
	s.events <- ev
}

func (s *stubRecorder) wait(t *testing.T) clicks.Event {
	t.Helper()
	select {
	case ev := <-s.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no click event recorded")
		return clicks.Event{}
	}
}

func newTestRouter(svc service.Service) *ginext.Engine {
	app := ginext.New()
	app.GET("/:code", svc.Redirect)
	app.POST("/v1/links", svc.CreateLink)
	app.PATCH("/v1/links/:code", svc.UpdateLink)
	app.GET("/v1/links/:code/stats", svc.LinkStats)
	return app
}

func testLogger() *zerolog.Logger {
	log := zerolog.Nop()
	return &log
}

func activeLink() *repo.LinkEntity {
	return &repo.LinkEntity{
		ID:             42,
		Code:           "abc123",
		Destination:    "https://example.com",
		Active:         true,
		RedirectStatus: 302,
		CreatedAt:      time.Now(),
	}
}

func TestRedirect_ActiveLink(t *testing.T) {
	repository := &stubRepo{activeLink: activeLink()}
	recorder := newStubRecorder()
	svc := service.NewService(repository, newStubCache(), recorder, nil, testLogger())
	app := newTestRouter(svc)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/abc123", nil)
	req.Header.Set("User-Agent", "test-agent")
	app.ServeHTTP(w, req)

	assert.Equal(t, 302, w.Code)
	assert.Equal(t, "https://example.com", w.Header().Get("Location"))

	ev := recorder.wait(t)
	assert.Equal(t, int64(42), ev.LinkID)
	assert.Equal(t, "test-agent", ev.UserAgent)
	assert.False(t, ev.Limited)
	assert.False(t, ev.ClickedAt.IsZero())
}

func TestRedirect_UsesStoredStatusCode(t *testing.T) {
	link := activeLink()
	link.RedirectStatus = 301
	repository := &stubRepo{activeLink: link}
	svc := service.NewService(repository, newStubCache(), newStubRecorder(), nil, testLogger())
	app := newTestRouter(svc)

	w := httptest.NewRecorder()
	app.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/abc123", nil))

	assert.Equal(t, 301, w.Code)
}

func TestRedirect_UnknownCodeReturns404(t *testing.T) {
	repository := &stubRepo{}
	recorder := newStubRecorder()
	svc := service.NewService(repository, newStubCache(), recorder, nil, testLogger())
	app := newTestRouter(svc)

	w := httptest.NewRecorder()
	app.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))

	assert.Equal(t, 404, w.Code)
	select {
	case <-recorder.events:
		t.Fatal("no click may be recorded for an unresolved code")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRedirect_CacheHitSkipsStore(t *testing.T) {
	repository := &stubRepo{}
	linkCache := newStubCache()
	linkCache.entries["hot"] = &cache.CachedLink{
		ID:             7,
		Code:           "hot",
		Destination:    "https://cached.example.com",
		RedirectStatus: 307,
		Limited:        true,
	}
	recorder := newStubRecorder()
	svc := service.NewService(repository, linkCache, recorder, nil, testLogger())
	app := newTestRouter(svc)

	w := httptest.NewRecorder()
	app.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/hot", nil))

	assert.Equal(t, 307, w.Code)
	assert.Equal(t, "https://cached.example.com", w.Header().Get("Location"))
	assert.Equal(t, 0, repository.activeCalls)

	ev := recorder.wait(t)
	assert.Equal(t, int64(7), ev.LinkID)
	assert.True(t, ev.Limited)
}

func TestRedirect_PopulatesCacheOnMiss(t *testing.T) {
	repository := &stubRepo{activeLink: activeLink()}
	linkCache := newStubCache()
	svc := service.NewService(repository, linkCache, newStubRecorder(), nil, testLogger())
	app := newTestRouter(svc)

	w := httptest.NewRecorder()
	app.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/abc123", nil))

	require.Len(t, linkCache.puts, 1)
	assert.Equal(t, "abc123", linkCache.puts[0].Code)
	assert.Equal(t, int64(42), linkCache.puts[0].ID)
}

func TestRedirect_CapturesUTMParameters(t *testing.T) {
	repository := &stubRepo{activeLink: activeLink()}
	recorder := newStubRecorder()
	svc := service.NewService(repository, newStubCache(), recorder, nil, testLogger())
	app := newTestRouter(svc)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/abc123?utm_source=newsletter&utm_campaign=spring", nil)
	app.ServeHTTP(w, req)

	ev := recorder.wait(t)
	assert.Equal(t, "newsletter", ev.UTMSource)
	assert.Equal(t, "spring", ev.UTMCampaign)
	assert.Empty(t, ev.UTMMedium)
}

func TestCreateLink_Success(t *testing.T) {
	repository := &stubRepo{createdID: 11}
	svc := service.NewService(repository, newStubCache(), newStubRecorder(), nil, testLogger())
	app := newTestRouter(svc)

	body := []byte(`{"destination":"https://example.com","code":"promo1","click_limit":5,"redirect_status":301}`)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/links", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	app.ServeHTTP(w, req)

	assert.Equal(t, 201, w.Code)
	require.NotNil(t, repository.created)
	assert.Equal(t, "promo1", repository.created.Code)
	assert.Equal(t, 301, repository.created.RedirectStatus)
	require.NotNil(t, repository.created.ClickLimit)
	assert.Equal(t, int64(5), *repository.created.ClickLimit)
	assert.True(t, repository.created.Active)
}

func TestCreateLink_GeneratesCodeWhenAbsent(t *testing.T) {
	repository := &stubRepo{}
	svc := service.NewService(repository, newStubCache(), newStubRecorder(), nil, testLogger())
	app := newTestRouter(svc)

	body := []byte(`{"destination":"https://example.com"}`)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/links", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	app.ServeHTTP(w, req)

	assert.Equal(t, 201, w.Code)
	require.NotNil(t, repository.created)
	assert.Len(t, repository.created.Code, 6)
	assert.Equal(t, 302, repository.created.RedirectStatus)
}

func TestCreateLink_RejectsBadDestination(t *testing.T) {
	svc := service.NewService(&stubRepo{}, newStubCache(), newStubRecorder(), nil, testLogger())
	app := newTestRouter(svc)

	body := []byte(`{"destination":"not-a-url"}`)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/links", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	app.ServeHTTP(w, req)

	assert.Equal(t, 400, w.Code)
}

func TestCreateLink_RejectsBadRedirectStatus(t *testing.T) {
	svc := service.NewService(&stubRepo{}, newStubCache(), newStubRecorder(), nil, testLogger())
	app := newTestRouter(svc)

	body := []byte(`{"destination":"https://example.com","redirect_status":303}`)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/links", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	app.ServeHTTP(w, req)

	assert.Equal(t, 400, w.Code)
}

func TestUpdateLink_InvalidatesCache(t *testing.T) {
	repository := &stubRepo{link: activeLink()}
	linkCache := newStubCache()
	svc := service.NewService(repository, linkCache, newStubRecorder(), nil, testLogger())
	app := newTestRouter(svc)

	body := []byte(`{"destination":"https://moved.example.com"}`)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPatch, "/v1/links/abc123", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	app.ServeHTTP(w, req)

	assert.Equal(t, 200, w.Code)
	require.NotNil(t, repository.updated)
	assert.Equal(t, "https://moved.example.com", repository.updated.Destination)
	assert.Equal(t, []string{"abc123"}, linkCache.invalidated)
}

func TestUpdateLink_UnknownCodeReturns404(t *testing.T) {
	svc := service.NewService(&stubRepo{}, newStubCache(), newStubRecorder(), nil, testLogger())
	app := newTestRouter(svc)

	body := []byte(`{"active":false}`)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPatch, "/v1/links/missing", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	app.ServeHTTP(w, req)

	assert.Equal(t, 404, w.Code)
}

type stubLive struct {
	pending int64
}

func (s *stubLive) Live(context.Context, int64) (int64, error) {
	return s.pending, nil
}

func TestLinkStats_IncludesPendingClicks(t *testing.T) {
	repository := &stubRepo{link: activeLink(), clickTotal: 40}
	svc := service.NewService(repository, newStubCache(), newStubRecorder(), &stubLive{pending: 3}, testLogger())
	app := newTestRouter(svc)

	w := httptest.NewRecorder()
	app.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/links/abc123/stats", nil))

	assert.Equal(t, 200, w.Code)
	assert.Contains(t, w.Body.String(), `"total_clicks":40`)
	assert.Contains(t, w.Body.String(), `"pending_clicks":3`)
}

func TestLinkStats_UnknownCodeReturns404(t *testing.T) {
	svc := service.NewService(&stubRepo{}, newStubCache(), newStubRecorder(), nil, testLogger())
	app := newTestRouter(svc)

	w := httptest.NewRecorder()
	app.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/links/missing/stats", nil))

	assert.Equal(t, 404, w.Code)
}
