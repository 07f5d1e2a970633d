package payment

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeGateway struct {
	snap     *Snapshot
	getErr   error
	newID    string
	retryErr error

	// entered receives once per retry call; release holds calls until closed
	entered chan struct{}
	release chan struct{}

	mu     sync.Mutex
	tokens []string
}

func (g *fakeGateway) GetPayment(context.Context, string) (*Snapshot, error) {
	if g.getErr != nil {
		return nil, g.getErr
	}
	cp := *g.snap
	return &cp, nil
}

func (g *fakeGateway) RetryPayment(_ context.Context, _, token string) (string, error) {
	g.mu.Lock()
	g.tokens = append(g.tokens, token)
	g.mu.Unlock()

	if g.entered != nil {
		g.entered <- struct{}{}
	}
	if g.release != nil {
		<-g.release
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return g.newID, g.retryErr
}

func (g *fakeGateway) calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.tokens...)
}

type fakeStorage struct {
	saved   []Snapshot
	saveErr error
	links   map[string]*RetryLink
	linkErr error
}

func (s *fakeStorage) SaveSnapshot(_ context.Context, snap Snapshot) error {
	s.saved = append(s.saved, snap)
	return s.saveErr
}

func (s *fakeStorage) GetSnapshot(context.Context, string) (*Snapshot, error) {
	if len(s.saved) == 0 {
		return nil, nil
	}
	last := s.saved[len(s.saved)-1]
	return &last, nil
}

func (s *fakeStorage) CreateRetryLink(_ context.Context, link RetryLink) error {
	if s.links == nil {
		s.links = map[string]*RetryLink{}
	}
	s.links[link.OldPaymentID] = &link
	return nil
}

func (s *fakeStorage) GetRetryLink(_ context.Context, id string) (*RetryLink, error) {
	if s.linkErr != nil {
		return nil, s.linkErr
	}
	return s.links[id], nil
}

func newTestService(g Gateway, s Storage) *Service {
	return NewService(g, s, func() time.Time { return now }, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestFetchStatus(t *testing.T) {
	t.Run("journals the snapshot", func(t *testing.T) {
		store := &fakeStorage{}
		svc := newTestService(&fakeGateway{snap: &Snapshot{PaymentID: "pay_1", Status: StatusPending}}, store)

		snap, err := svc.FetchStatus(context.Background(), "pay_1")
		require.NoError(t, err)
		assert.Equal(t, now, snap.FetchedAt)
		require.Len(t, store.saved, 1)
		assert.Equal(t, "pay_1", store.saved[0].PaymentID)

		last, err := svc.LastKnown(context.Background(), "pay_1")
		require.NoError(t, err)
		assert.Equal(t, StatusPending, last.Status)
	})

	t.Run("journal failure does not fail the fetch", func(t *testing.T) {
		store := &fakeStorage{saveErr: errors.New("disk full")}
		svc := newTestService(&fakeGateway{snap: &Snapshot{PaymentID: "pay_1", Status: StatusPending}}, store)

		_, err := svc.FetchStatus(context.Background(), "pay_1")
		require.NoError(t, err)
	})

	t.Run("not found stays recognizable", func(t *testing.T) {
		svc := newTestService(&fakeGateway{getErr: ErrNotFound}, &fakeStorage{})

		_, err := svc.FetchStatus(context.Background(), "pay_1")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("answer for another payment is rejected", func(t *testing.T) {
		store := &fakeStorage{}
		svc := newTestService(&fakeGateway{snap: &Snapshot{PaymentID: "pay_2", Status: StatusPending}}, store)

		_, err := svc.FetchStatus(context.Background(), "pay_1")
		require.Error(t, err)
		assert.Empty(t, store.saved)
	})
}

func TestRetry(t *testing.T) {
	t.Run("records lineage", func(t *testing.T) {
		store := &fakeStorage{}
		gw := &fakeGateway{newID: "pay_2"}
		svc := newTestService(gw, store)

		newID, err := svc.Retry(context.Background(), "pay_1", "tok")
		require.NoError(t, err)
		assert.Equal(t, "pay_2", newID)
		require.Contains(t, store.links, "pay_1")
		assert.Equal(t, now, store.links["pay_1"].CreatedAt)
		assert.Equal(t, []string{"tok"}, gw.calls())
	})

	t.Run("every retry is authorized by the backend", func(t *testing.T) {
		store := &fakeStorage{}
		gw := &fakeGateway{newID: "pay_2"}
		svc := newTestService(gw, store)

		_, err := svc.Retry(context.Background(), "pay_1", "owner-token")
		require.NoError(t, err)

		gw.mu.Lock()
		gw.newID = ""
		gw.retryErr = &RetryError{StatusCode: http.StatusForbidden, Message: "not your payment"}
		gw.mu.Unlock()

		newID, err := svc.Retry(context.Background(), "pay_1", "other-token")
		var rerr *RetryError
		require.ErrorAs(t, err, &rerr)
		assert.Equal(t, http.StatusForbidden, rerr.StatusCode)
		assert.Empty(t, newID)
		assert.Equal(t, []string{"owner-token", "other-token"}, gw.calls())
		assert.Equal(t, "pay_2", store.links["pay_1"].NewPaymentID)
	})

	t.Run("later retry records the newer replacement", func(t *testing.T) {
		store := &fakeStorage{}
		gw := &fakeGateway{newID: "pay_2"}
		svc := newTestService(gw, store)

		_, err := svc.Retry(context.Background(), "pay_1", "tok")
		require.NoError(t, err)

		gw.mu.Lock()
		gw.newID = "pay_3"
		gw.mu.Unlock()

		newID, err := svc.Retry(context.Background(), "pay_1", "tok")
		require.NoError(t, err)
		assert.Equal(t, "pay_3", newID)
		assert.Len(t, gw.calls(), 2)
		assert.Equal(t, "pay_3", store.links["pay_1"].NewPaymentID)
	})

	t.Run("concurrent identical requests share one call", func(t *testing.T) {
		gw := &fakeGateway{
			newID:   "pay_2",
			entered: make(chan struct{}, 4),
			release: make(chan struct{}),
		}
		svc := newTestService(gw, &fakeStorage{})

		type result struct {
			id  string
			err error
		}
		first := make(chan result, 1)
		go func() {
			id, err := svc.Retry(context.Background(), "pay_1", "tok")
			first <- result{id, err}
		}()
		<-gw.entered

		second := make(chan result, 1)
		go func() {
			id, err := svc.Retry(context.Background(), "pay_1", "tok")
			second <- result{id, err}
		}()
		require.Eventually(t, func() bool {
			svc.mu.Lock()
			defer svc.mu.Unlock()
			c := svc.inflight["pay_1\x00tok"]
			return c != nil && c.waiters == 1
		}, time.Second, time.Millisecond)

		// a different token is its own request
		other := make(chan result, 1)
		go func() {
			id, err := svc.Retry(context.Background(), "pay_1", "other")
			other <- result{id, err}
		}()
		<-gw.entered

		close(gw.release)
		for _, ch := range []chan result{first, second, other} {
			r := <-ch
			require.NoError(t, r.err)
			assert.Equal(t, "pay_2", r.id)
		}
		assert.ElementsMatch(t, []string{"tok", "other"}, gw.calls())
	})

	t.Run("lineage lookup failure still returns the replacement", func(t *testing.T) {
		gw := &fakeGateway{newID: "pay_2"}
		svc := newTestService(gw, &fakeStorage{linkErr: errors.New("locked")})

		newID, err := svc.Retry(context.Background(), "pay_1", "tok")
		require.NoError(t, err)
		assert.Equal(t, "pay_2", newID)
	})

	t.Run("backend rejection keeps its message", func(t *testing.T) {
		gw := &fakeGateway{retryErr: &RetryError{StatusCode: 409, Message: "already paid"}}
		svc := newTestService(gw, &fakeStorage{})

		_, err := svc.Retry(context.Background(), "pay_1", "tok")
		var rerr *RetryError
		require.ErrorAs(t, err, &rerr)
		assert.Equal(t, "already paid", rerr.Message)
	})
}
