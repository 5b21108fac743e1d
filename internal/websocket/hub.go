// internal/websocket/hub.go
package websocket

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	wstypes "github.com/karhin20/flowback/internal/domain/websocket"
	"github.com/karhin20/flowback/internal/pkg/jwt"
)

type TokenVerifier interface {
	VerifyAccessToken(token string) (*jwt.Claims, error)
}

type Blacklist interface {
	IsTokenBlacklisted(ctx context.Context, jti string) (bool, error)
}

var _ wstypes.Publisher = (*Hub)(nil)

type Hub struct {
	// Registered clients by operator
	clients map[string]map[*Client]bool
	mu      sync.RWMutex

	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage
	done       chan struct{}
	stopOnce   sync.Once

	handlerRegistry *HandlerRegistry

	verifier  TokenVerifier
	blacklist Blacklist
	logger    *zap.Logger
}

type BroadcastMessage struct {
	Actors  []string // nil sends to everyone subscribed
	Channel wstypes.ChannelType
	Message *wstypes.WSMessage
}

func NewHub(verifier TokenVerifier, blacklist Blacklist, logger *zap.Logger) *Hub {
	return &Hub{
		clients:         make(map[string]map[*Client]bool),
		register:        make(chan *Client),
		unregister:      make(chan *Client),
		broadcast:       make(chan *BroadcastMessage, 256),
		done:            make(chan struct{}),
		handlerRegistry: NewHandlerRegistry(),
		verifier:        verifier,
		blacklist:       blacklist,
		logger:          logger,
	}
}

// AuthenticateClient validates the access token of a connecting client.
func (h *Hub) AuthenticateClient(ctx context.Context, token string) (*ClientAuth, error) {
	claims, err := h.verifier.VerifyAccessToken(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if h.blacklist != nil && claims.ID != "" {
		revoked, err := h.blacklist.IsTokenBlacklisted(ctx, claims.ID)
		if err != nil {
			return nil, err
		}
		if revoked {
			return nil, ErrTokenBlacklisted
		}
	}

	return &ClientAuth{
		Actor:     claims.Actor(),
		SessionID: claims.ID,
		Name:      claims.Name,
		Roles:     claims.Roles,
	}, nil
}

func (h *Hub) RegisterHandler(handler MessageHandler) {
	h.handlerRegistry.Register(handler)
}

// HandleClientMessage dispatches to a registered handler. It reports
// whether one was found.
func (h *Hub) HandleClientMessage(ctx context.Context, client *Client, msg *wstypes.WSMessage) (bool, error) {
	handler, ok := h.handlerRegistry.GetHandler(msg.Type)
	if !ok {
		return false, nil
	}
	return true, handler.HandleMessage(ctx, client, msg)
}

// Register hands a new client to the hub loop.
func (h *Hub) Register(client *Client) error {
	select {
	case h.register <- client:
		return nil
	case <-h.done:
		return ErrHubStopped
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer h.stop()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case msg := <-h.broadcast:
			h.BroadcastMessage(msg)
		}
	}
}

// Publish queues an event for every client subscribed to channel. The
// event is dropped when the queue is full.
func (h *Hub) Publish(channel wstypes.ChannelType, event wstypes.EventType, data interface{}) {
	msg := &BroadcastMessage{
		Channel: channel,
		Message: wstypes.NewMessage(event, data),
	}
	select {
	case h.broadcast <- msg:
	case <-h.done:
	default:
		h.logger.Warn("websocket broadcast queue full, event dropped",
			zap.String("channel", string(channel)),
			zap.String("event", string(event)),
		)
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	if h.clients[client.actor] == nil {
		h.clients[client.actor] = make(map[*Client]bool)
	}
	h.clients[client.actor][client] = true
	total := h.totalClients()
	h.mu.Unlock()

	h.logger.Info("websocket client connected",
		zap.String("actor", client.actor),
		zap.String("session_id", client.sessionID),
		zap.Int("total", total),
	)

	client.SendMessage(wstypes.NewMessage(wstypes.EventTypeConnected, map[string]interface{}{
		"actor":      client.actor,
		"session_id": client.sessionID,
		"roles":      client.roles,
		"channels":   client.Channels(),
	}))
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.clients[client.actor]
	if !ok || !clients[client] {
		return
	}
	delete(clients, client)
	client.Close()
	if len(clients) == 0 {
		delete(h.clients, client.actor)
	}

	h.logger.Info("websocket client disconnected",
		zap.String("actor", client.actor),
		zap.String("session_id", client.sessionID),
		zap.Int("total", h.totalClients()),
	)
}

func (h *Hub) BroadcastMessage(msg *BroadcastMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	send := func(clients map[*Client]bool) {
		for client := range clients {
			if client.IsSubscribed(msg.Channel) {
				client.SendMessage(msg.Message)
			}
		}
	}

	if msg.Actors == nil {
		for _, clients := range h.clients {
			send(clients)
		}
		return
	}
	for _, actor := range msg.Actors {
		send(h.clients[actor])
	}
}

func (h *Hub) TotalClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.totalClients()
}

func (h *Hub) IsConnected(actor string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[actor]) > 0
}

// ForceLogout tells every socket opened with the given token id that its
// session has ended, then closes them.
func (h *Hub) ForceLogout(sessionID, reason string) {
	if sessionID == "" {
		return
	}
	msg := wstypes.NewMessage(wstypes.EventTypeForceLogout, map[string]interface{}{
		"session_id": sessionID,
		"reason":     reason,
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	for actor, clients := range h.clients {
		for client := range clients {
			if client.sessionID != sessionID {
				continue
			}
			client.SendMessage(msg)
			client.Close()
			delete(clients, client)
		}
		if len(clients) == 0 {
			delete(h.clients, actor)
		}
	}
}

func (h *Hub) totalClients() int {
	total := 0
	for _, clients := range h.clients {
		total += len(clients)
	}
	return total
}

func (h *Hub) stop() {
	h.stopOnce.Do(func() {
		close(h.done)

		h.mu.Lock()
		defer h.mu.Unlock()
		for _, clients := range h.clients {
			for client := range clients {
				client.Close()
			}
		}
		h.clients = make(map[string]map[*Client]bool)
	})
}
