package app

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// keepAliveInterval bounds how long an idle stream goes without a write, so
// proxies do not drop it.
const keepAliveInterval = 25 * time.Second

// updateBroker wakes the streams of one canvas session whenever its view
// changed. Wake-ups coalesce: a slow stream sees the latest view once.
type updateBroker struct {
	mu     sync.Mutex
	subs   map[chan struct{}]struct{}
	closed bool
}

func newUpdateBroker() *updateBroker {
	return &updateBroker{subs: make(map[chan struct{}]struct{})}
}

// subscribe returns nil once the broker is closed.
func (b *updateBroker) subscribe() chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	ch := make(chan struct{}, 1)
	b.subs[ch] = struct{}{}
	return ch
}

func (b *updateBroker) unsubscribe(ch chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
}

func (b *updateBroker) notify() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (b *updateBroker) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
}

// streamSession writes the session view as server-sent events: one event
// right away and one after every change, until the client goes away or the
// session is closed.
func (s *HTTPServer) streamSession(c echo.Context) error {
	cs, err := s.service.session(c.Param("session"))
	if err != nil {
		return err
	}
	ch := cs.broker.subscribe()
	if ch == nil {
		return errSessionNotFound
	}
	defer cs.broker.unsubscribe(ch)

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)

	ctx := c.Request().Context()
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		data, err := json.Marshal(cs.view())
		if err != nil {
			return err
		}
		if _, err := res.Write([]byte("event: view\ndata: ")); err != nil {
			return nil
		}
		if _, err := res.Write(data); err != nil {
			return nil
		}
		if _, err := res.Write([]byte("\n\n")); err != nil {
			return nil
		}
		res.Flush()

		for waiting := true; waiting; {
			select {
			case <-ctx.Done():
				return nil
			case _, ok := <-ch:
				if !ok {
					return nil
				}
				waiting = false
			case <-ticker.C:
				if _, err := res.Write([]byte(": keep-alive\n\n")); err != nil {
					return nil
				}
				res.Flush()
			}
		}
	}
}
