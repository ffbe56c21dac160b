package web

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rock-drivers/drivers-mb500/internal/gnss"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsPingPeriod   = 30 * time.Second
)

// FixHub fans out fixes to any listeners (websocket clients). It keeps the
// most recent fix so new subscribers get an immediate sample. Slow
// subscribers miss fixes rather than block the read loop.
type FixHub struct {
	mu       sync.RWMutex
	subs     map[int]chan gnss.Fix
	nextID   int
	last     gnss.Fix
	haveLast bool
}

func NewFixHub() *FixHub {
	return &FixHub{subs: make(map[int]chan gnss.Fix)}
}

func (h *FixHub) Subscribe(buffer int) (int, <-chan gnss.Fix) {
	if h == nil {
		return 0, nil
	}
	if buffer <= 0 {
		buffer = 4
	}
	ch := make(chan gnss.Fix, buffer)
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	last, have := h.last, h.haveLast
	h.mu.Unlock()
	if have {
		ch <- last.Clone()
	}
	return id, ch
}

func (h *FixHub) Unsubscribe(id int) {
	if h == nil {
		return
	}
	h.mu.Lock()
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
	h.mu.Unlock()
}

// Subscribers returns the number of active listeners.
func (h *FixHub) Subscribers() int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *FixHub) Publish(fix gnss.Fix) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = fix.Clone()
	h.haveLast = true
	for _, ch := range h.subs {
		select {
		case ch <- fix.Clone():
		default:
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS streams fixes as JSON text messages until the client goes away.
func (h *FixHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("web: websocket upgrade failed remote=%s err=%v", r.RemoteAddr, err)
		return
	}
	defer conn.Close()

	id, fixes := h.Subscribe(0)
	defer h.Unsubscribe(id)

	// Reads only detect the close; clients send nothing we act on.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-gone:
			return
		case fix, ok := <-fixes:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(fix); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		}
	}
}
