package app

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-commerce/console/internal/credstore"
	"github.com/odyssey-commerce/console/internal/shared"
)

func newBrowserSessions(store credstore.Store) *BrowserSessions {
	return NewBrowserSessions(store, "console_session", time.Hour, false, nil)
}

func TestBrowserSessionLoadReusesValidCookie(t *testing.T) {
	bs := newBrowserSessions(credstore.NewMemory())

	fresh := bs.Load(httptest.NewRequest(http.MethodGet, "/", nil))
	_, err := uuid.Parse(fresh.ID)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "console_session", Value: fresh.ID})
	require.Equal(t, fresh.ID, bs.Load(req).ID)

	forged := httptest.NewRequest(http.MethodGet, "/", nil)
	forged.AddCookie(&http.Cookie{Name: "console_session", Value: "../../admin"})
	require.NotEqual(t, "../../admin", bs.Load(forged).ID)
}

func TestBrowserSessionCommitSetsCookie(t *testing.T) {
	bs := newBrowserSessions(credstore.NewMemory())
	sess := bs.Load(httptest.NewRequest(http.MethodGet, "/", nil))

	rr := httptest.NewRecorder()
	bs.Commit(rr, sess)

	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "console_session", cookies[0].Name)
	assert.Equal(t, sess.ID, cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
	assert.Equal(t, http.SameSiteStrictMode, cookies[0].SameSite)
}

func TestBrowserSessionFlashesAndMarker(t *testing.T) {
	store := credstore.NewMemory()
	bs := newBrowserSessions(store)
	sess := bs.Load(httptest.NewRequest(http.MethodGet, "/", nil))

	sess.AddFlash(shared.FlashMessage{Kind: "success", Message: "first"})
	sess.AddFlash(shared.FlashMessage{Kind: "error", Message: "second"})
	sess.MarkLoggedOut()

	// A later request for the same browser sees the same payload.
	again := &BrowserSession{ID: sess.ID, owner: bs}
	require.True(t, again.TakeLoggedOut())
	require.False(t, again.TakeLoggedOut())
	require.Equal(t, []shared.FlashMessage{
		{Kind: "success", Message: "first"},
		{Kind: "error", Message: "second"},
	}, again.PopFlashes())
	require.Empty(t, sess.PopFlashes())

	_, ok := store.Get(t.Context(), payloadKey(sess.ID))
	require.False(t, ok, "empty payloads are removed")
}

func TestBrowserSessionConcurrentUpdates(t *testing.T) {
	bs := newBrowserSessions(credstore.NewMemory())
	sess := bs.Load(httptest.NewRequest(http.MethodGet, "/", nil))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess.Notify(t.Context(), shared.FlashMessage{Kind: "info", Message: "tick"})
		}()
	}
	wg.Wait()
	require.Len(t, sess.PopFlashes(), 20)
}

func TestBrowserSessionRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	bs := newBrowserSessions(credstore.NewRedis(client, "web", time.Hour, nil))
	sess := bs.Load(httptest.NewRequest(http.MethodGet, "/", nil))
	sess.AddFlash(shared.FlashMessage{Kind: "warning", Message: "Please log in"})

	require.True(t, mr.Exists("console:web:flash:"+sess.ID))
	require.Equal(t, []shared.FlashMessage{{Kind: "warning", Message: "Please log in"}}, sess.PopFlashes())
	require.False(t, mr.Exists("console:web:flash:"+sess.ID))
}

func TestBrowserSessionToleratesStoreOutage(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	bs := newBrowserSessions(credstore.NewRedis(client, "web", time.Hour, nil))
	sess := bs.Load(httptest.NewRequest(http.MethodGet, "/", nil))
	mr.Close()

	require.NotPanics(t, func() {
		sess.AddFlash(shared.FlashMessage{Kind: "info", Message: "lost"})
	})
	require.Empty(t, sess.PopFlashes())
	require.False(t, sess.TakeLoggedOut())
}

func TestCSRFTokens(t *testing.T) {
	csrf := NewCSRFManager("secret")
	bs := newBrowserSessions(credstore.NewMemory())
	a := bs.Load(httptest.NewRequest(http.MethodGet, "/", nil))
	b := bs.Load(httptest.NewRequest(http.MethodGet, "/", nil))

	token := csrf.Token(a)
	require.NotEmpty(t, token)
	require.Equal(t, token, csrf.Token(a))
	require.NotEqual(t, token, csrf.Token(b))

	require.NoError(t, csrf.Verify(a, token))
	require.ErrorIs(t, csrf.Verify(b, token), ErrCSRFTokenMismatch)
	require.ErrorIs(t, csrf.Verify(a, ""), ErrCSRFTokenMissing)
	require.ErrorIs(t, csrf.Verify(nil, token), ErrCSRFTokenMissing)
	require.NotEqual(t, token, NewCSRFManager("other").Token(a))
}
