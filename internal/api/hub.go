package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/IliaW/page-guard/internal/coordinator"
	"github.com/IliaW/page-guard/internal/model"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// ErrNoSubscribers is returned when no extension is connected to receive a push.
var ErrNoSubscribers = errors.New("no extension connected")

const (
	MessageVerdict      = "verdict"
	MessageNotification = "notification"
	MessageNavigateBack = "navigate_back"
	MessageResult       = "result"
	MessageError        = "error"

	writeTimeout = 5 * time.Second
)

// Message is every frame the server pushes to the extension.
type Message struct {
	Type         string               `json:"type"`
	Kind         model.EventKind      `json:"kind,omitempty"`
	TabID        int                  `json:"tab_id"`
	Record       *model.VerdictRecord `json:"record,omitempty"`
	Notification *model.Notification  `json:"notification,omitempty"`
	Error        string               `json:"error,omitempty"`
}

type Dispatcher interface {
	Dispatch(ctx context.Context, ev model.Event) (coordinator.Result, error)
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (cl *client) send(msg Message) error {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	_ = cl.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return cl.conn.WriteJSON(msg)
}

// Hub is the UI surface: it pushes verdicts, notifications and navigation commands to every
// connected extension and feeds events the extension sends back into the coordinator.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*client]struct{}
	dispatcher Dispatcher
	upgrader   websocket.Upgrader
	closed     bool
}

func NewHub(allowedOrigins []string) *Hub {
	if len(allowedOrigins) == 0 {
		allowedOrigins = DefaultAllowedOrigins
	}
	return &Hub{
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || originAllowed(origin, allowedOrigins)
			},
		},
	}
}

// SetDispatcher breaks the construction cycle: the coordinator publishes to the hub and the hub dispatches to it.
func (h *Hub) SetDispatcher(d Dispatcher) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dispatcher = d
}

func (h *Hub) Publish(tabID int, rec model.VerdictRecord) {
	_ = h.broadcast(Message{Type: MessageVerdict, TabID: tabID, Record: &rec})
}

func (h *Hub) Notify(_ context.Context, n model.Notification) error {
	return h.broadcast(Message{Type: MessageNotification, TabID: n.TabID, Notification: &n})
}

func (h *Hub) GoBack(_ context.Context, tabID int) error {
	return h.broadcast(Message{Type: MessageNavigateBack, TabID: tabID})
}

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) broadcast(msg Message) error {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for cl := range h.clients {
		clients = append(clients, cl)
	}
	h.mu.RUnlock()
	if len(clients) == 0 {
		return ErrNoSubscribers
	}

	var errs []error
	for _, cl := range clients {
		if err := cl.send(msg); err != nil {
			slog.Warn("failed to push message to the extension.", slog.String("type", msg.Type),
				slog.String("err", err.Error()))
			h.remove(cl)
			errs = append(errs, err)
		}
	}
	if len(errs) == len(clients) {
		return errors.Join(errs...)
	}
	return nil
}

func (h *Hub) remove(cl *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[cl]; ok {
		delete(h.clients, cl)
		_ = cl.conn.Close()
	}
}

// HandleConnection upgrades the request and serves the connection until the extension goes away.
// Page data is classified in the background so status reads, navigation and overrides for the
// same tab are answered while the classifier is still working; every other event is handled in
// arrival order.
func (h *Hub) HandleConnection(c *gin.Context) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		c.AbortWithStatus(http.StatusServiceUnavailable)
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("websocket upgrade failed.", slog.String("err", err.Error()))
		return
	}
	cl := &client{conn: conn}
	h.mu.Lock()
	h.clients[cl] = struct{}{}
	dispatcher := h.dispatcher
	h.mu.Unlock()
	slog.Info("extension connected.", slog.String("remote", c.Request.RemoteAddr))
	defer func() {
		h.remove(cl)
		slog.Info("extension disconnected.", slog.String("remote", c.Request.RemoteAddr))
	}()

	ctx := context.WithoutCancel(c.Request.Context())
	for {
		var ev model.Event
		if err := conn.ReadJSON(&ev); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("websocket read error.", slog.String("err", err.Error()))
			}
			return
		}
		if dispatcher == nil {
			_ = cl.send(Message{Type: MessageError, Kind: ev.Kind, TabID: ev.TabID, Error: "not ready"})
			continue
		}
		if ev.Kind == model.EventPageDataArrived {
			go h.dispatch(ctx, dispatcher, cl, ev)
			continue
		}
		h.dispatch(ctx, dispatcher, cl, ev)
	}
}

func (h *Hub) dispatch(ctx context.Context, dispatcher Dispatcher, cl *client, ev model.Event) {
	res, err := dispatcher.Dispatch(ctx, ev)
	reply := Message{Type: MessageResult, Kind: ev.Kind, TabID: ev.TabID, Record: res.Record}
	if err != nil {
		reply = Message{Type: MessageError, Kind: ev.Kind, TabID: ev.TabID, Error: err.Error()}
	}
	if err = cl.send(reply); err != nil {
		slog.Debug("failed to reply to the extension.", slog.String("err", err.Error()))
	}
}

// Close disconnects every extension and refuses new connections.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for cl := range h.clients {
		clients = append(clients, cl)
	}
	h.mu.Unlock()
	for _, cl := range clients {
		cl.mu.Lock()
		_ = cl.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"), time.Now().Add(writeTimeout))
		cl.mu.Unlock()
		h.remove(cl)
	}
	slog.Info("websocket hub closed.", slog.Int("clients", len(clients)))
}

// originAllowed matches origin against patterns; a trailing "*" matches any suffix.
func originAllowed(origin string, patterns []string) bool {
	for _, p := range patterns {
		if p == "*" || p == origin {
			return true
		}
		if prefix, ok := strings.CutSuffix(p, "*"); ok && strings.HasPrefix(origin, prefix) {
			return true
		}
	}
	return false
}
