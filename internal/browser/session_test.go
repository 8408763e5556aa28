package browser_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"fbahunter/internal/browser"
	"fbahunter/internal/browser/browsertest"
	"fbahunter/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const productPage = `<html><head><title>Kettle</title></head><body><h1>Acme Kettle</h1></body></html>`

func newSession(t *testing.T, d *browsertest.Driver, maxTabs int, mutate ...func(*browser.Options)) *browser.Session {
	t.Helper()
	opts := browser.Options{
		MaxTabs:              maxTabs,
		PageTimeout:          time.Second,
		MaxReconnectAttempts: 3,
		ReconnectBackoff:     time.Millisecond,
		Logger:               slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, m := range mutate {
		m(&opts)
	}
	s := browser.NewSession(d, opts)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSession_ReusesReleasedPage(t *testing.T) {
	d := browsertest.New()
	s := newSession(t, d, 2)
	ctx := context.Background()

	a, err := s.Acquire(ctx, "shop.example")
	require.NoError(t, err)
	b, err := s.Acquire(ctx, "shop.example")
	require.NoError(t, err)
	assert.Equal(t, 2, d.OpenPages())

	s.Release(a)
	c, err := s.Acquire(ctx, "shop.example")
	require.NoError(t, err)
	assert.Same(t, a, c)
	assert.Equal(t, 2, d.MaxOpenPages())
	assert.Equal(t, 1, d.Connects())

	s.Release(b)
	s.Release(c)
	st := s.Stats()
	assert.Equal(t, 2, st.Open)
	assert.Equal(t, 0, st.InUse)
}

func TestSession_PicksLeastRecentlyUsedSameDomain(t *testing.T) {
	d := browsertest.New()
	s := newSession(t, d, 2)
	ctx := context.Background()

	a, err := s.Acquire(ctx, "shop.example")
	require.NoError(t, err)
	b, err := s.Acquire(ctx, "shop.example")
	require.NoError(t, err)
	s.Release(a)
	time.Sleep(2 * time.Millisecond)
	s.Release(b)

	got, err := s.Acquire(ctx, "shop.example")
	require.NoError(t, err)
	assert.Same(t, a, got)
}

func TestSession_BlocksUntilRelease(t *testing.T) {
	d := browsertest.New()
	s := newSession(t, d, 1)

	held, err := s.Acquire(context.Background(), "shop.example")
	require.NoError(t, err)

	short, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = s.Acquire(short, "shop.example")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	go func() {
		time.Sleep(20 * time.Millisecond)
		s.Release(held)
	}()
	ctx, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	got, err := s.Acquire(ctx, "shop.example")
	require.NoError(t, err)
	assert.Same(t, held, got)
	assert.Equal(t, 1, d.MaxOpenPages())
}

func TestSession_ReplacesIdlePageOfOtherDomain(t *testing.T) {
	d := browsertest.New()
	s := newSession(t, d, 1)
	ctx := context.Background()

	a, err := s.Acquire(ctx, "shop.example")
	require.NoError(t, err)
	s.Release(a)

	b, err := s.Acquire(ctx, "market.example")
	require.NoError(t, err)
	assert.NotSame(t, a, b)
	assert.Equal(t, "market.example", b.Domain())
	assert.Equal(t, 1, d.OpenPages())
	assert.Equal(t, 1, d.MaxOpenPages())
}

func TestSession_ReconnectsAfterHealthCheckFails(t *testing.T) {
	d := browsertest.New()
	d.Set("https://shop.example/p/1", productPage)
	s := newSession(t, d, 2, func(o *browser.Options) { o.HealthInterval = time.Nanosecond })
	ctx := context.Background()

	tab, err := s.Acquire(ctx, "shop.example")
	require.NoError(t, err)
	s.Release(tab)

	d.Drop()

	tab, err = s.Acquire(ctx, "shop.example")
	require.NoError(t, err)
	html, err := tab.Load(ctx, "https://shop.example/p/1")
	require.NoError(t, err)
	assert.Contains(t, html, "Acme Kettle")
	s.Release(tab)

	assert.Equal(t, 2, d.Connects())
	assert.Equal(t, 2, s.Stats().Generation)
}

func TestSession_ReconnectsAfterNavigationSeesDeadConnection(t *testing.T) {
	d := browsertest.New()
	d.Set("https://shop.example/p/1", productPage)
	s := newSession(t, d, 2)
	ctx := context.Background()

	tab, err := s.Acquire(ctx, "shop.example")
	require.NoError(t, err)
	d.Drop()
	_, err = tab.Load(ctx, "https://shop.example/p/1")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrNetworkTransient)
	s.Release(tab)

	tab, err = s.Acquire(ctx, "shop.example")
	require.NoError(t, err)
	_, err = tab.Load(ctx, "https://shop.example/p/1")
	require.NoError(t, err)
	s.Release(tab)
	assert.Equal(t, 2, d.Connects())
}

func TestSession_StaleTabIsDiscardedOnRelease(t *testing.T) {
	d := browsertest.New()
	s := newSession(t, d, 2, func(o *browser.Options) { o.HealthInterval = time.Nanosecond })
	ctx := context.Background()

	old, err := s.Acquire(ctx, "shop.example")
	require.NoError(t, err)
	d.Drop()

	fresh, err := s.Acquire(ctx, "shop.example")
	require.NoError(t, err)
	assert.NotSame(t, old, fresh)

	s.Release(old)
	assert.Equal(t, 1, s.Stats().Open)
	s.Release(fresh)
	assert.Equal(t, 1, d.OpenPages())
}

func TestSession_ReconnectExhaustedIsSessionUnavailable(t *testing.T) {
	d := browsertest.New()
	d.FailConnects(10)
	s := newSession(t, d, 1)

	_, err := s.Acquire(context.Background(), "shop.example")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrSessionUnavailable)
	assert.Equal(t, "session_unavailable", model.ErrorKind(err))
}

func TestSession_RecoversWhenConnectEventuallySucceeds(t *testing.T) {
	d := browsertest.New()
	d.FailConnects(2)
	s := newSession(t, d, 1)

	tab, err := s.Acquire(context.Background(), "shop.example")
	require.NoError(t, err)
	s.Release(tab)
	assert.Equal(t, 1, d.Connects())
}

func TestTab_NavigationTimeoutIsTransient(t *testing.T) {
	d := browsertest.New()
	d.SetDelay(200 * time.Millisecond)
	s := newSession(t, d, 1, func(o *browser.Options) { o.PageTimeout = 20 * time.Millisecond })

	tab, err := s.Acquire(context.Background(), "shop.example")
	require.NoError(t, err)
	defer s.Release(tab)

	_, err = tab.Load(context.Background(), "https://shop.example/slow")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrNetworkTransient)
}

func TestTab_CallerCancellationIsNotTransient(t *testing.T) {
	d := browsertest.New()
	d.SetDelay(200 * time.Millisecond)
	s := newSession(t, d, 1)

	tab, err := s.Acquire(context.Background(), "shop.example")
	require.NoError(t, err)
	defer s.Release(tab)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err = tab.Navigate(ctx, "https://shop.example/slow")
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, model.ErrNetworkTransient))
}

func TestTab_BlockedPage(t *testing.T) {
	d := browsertest.New()
	d.Set("https://shop.example/c/1", `<html><head><title>Just a moment...</title></head><body>checking</body></html>`)
	s := newSession(t, d, 1)

	tab, err := s.Acquire(context.Background(), "shop.example")
	require.NoError(t, err)
	defer s.Release(tab)

	_, err = tab.Load(context.Background(), "https://shop.example/c/1")
	require.Error(t, err)
	assert.ErrorIs(t, err, browser.ErrBlocked)
	assert.ErrorIs(t, err, model.ErrNetworkTransient)
}

func TestSession_ClosedRejectsAcquire(t *testing.T) {
	d := browsertest.New()
	s := newSession(t, d, 1)
	tab, err := s.Acquire(context.Background(), "shop.example")
	require.NoError(t, err)
	s.Release(tab)

	require.NoError(t, s.Close())
	assert.Equal(t, 0, d.OpenPages())

	_, err = s.Acquire(context.Background(), "shop.example")
	assert.ErrorIs(t, err, browser.ErrSessionClosed)
	assert.ErrorIs(t, err, model.ErrSessionUnavailable)
}
