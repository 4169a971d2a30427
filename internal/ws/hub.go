package ws

import (
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/vanish-chat/vanish/internal/auth"
	"github.com/vanish-chat/vanish/internal/lifecycle"
	"github.com/vanish-chat/vanish/internal/models"
	"github.com/vanish-chat/vanish/internal/store"
	"github.com/vanish-chat/vanish/internal/wire"
)

type inbound struct {
	client *Client
	frame  wire.Frame
}

// Hub routes frames between connected clients. Connections start
// unauthenticated; a valid join frame binds them to a user, and only
// then does the hub route events to or from them.
type Hub struct {
	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Inbound frames from the clients.
	inbound chan inbound

	mu      sync.Mutex
	clients map[*Client]bool
	byUser  map[int]map[*Client]bool

	store  store.Store
	signer *auth.Signer
	clock  lifecycle.Clock
	log    *logrus.Entry
}

func NewHub(store store.Store, signer *auth.Signer, clock lifecycle.Clock, log *logrus.Entry) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inbound, 64),
		clients:    make(map[*Client]bool),
		byUser:     make(map[int]map[*Client]bool),
		store:      store,
		signer:     signer,
		clock:      clock,
		log:        log,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
		case client := <-h.unregister:
			h.removeClient(client)
		case in := <-h.inbound:
			h.handleFrame(in.client, in.frame)
		}
	}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)
	h.detachLocked(client)
}

// detachLocked removes the client's user binding and, if that was the
// user's last connection, announces them offline.
func (h *Hub) detachLocked(client *Client) {
	if client.userID == 0 {
		return
	}
	conns := h.byUser[client.userID]
	delete(conns, client)
	if len(conns) == 0 {
		delete(h.byUser, client.userID)
		h.broadcastLocked(wire.Frame{
			Type:     wire.TypeUserStatus,
			UserID:   client.userID,
			IsOnline: false,
		})
	}
	client.userID = 0
}

func (h *Hub) handleFrame(client *Client, frame wire.Frame) {
	if frame.Type == wire.TypeJoin {
		h.handleJoin(client, frame)
		return
	}

	h.mu.Lock()
	userID := client.userID
	h.mu.Unlock()
	if userID == 0 {
		h.log.WithField("type", frame.Type).Warn("dropping frame from unauthenticated connection")
		return
	}

	switch frame.Type {
	case wire.TypePing:
		// Liveness only; the read deadline is refreshed by the pump.
	case wire.TypeMessage:
		h.handleMessage(userID, frame)
	case wire.TypeTyping:
		h.handleTyping(userID, frame)
	default:
		h.log.WithField("type", frame.Type).Warn("dropping frame of unknown type")
	}
}

// handleJoin authenticates a connection. Joining again with the same
// credential is a no-op; a different credential rebinds the connection
// without a reconnect.
func (h *Hub) handleJoin(client *Client, frame wire.Frame) {
	userID, err := h.signer.Verify(frame.Token)
	if err != nil {
		h.log.WithError(err).Warn("rejecting join with invalid token")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if client.userID == userID {
		return
	}
	h.detachLocked(client)

	client.userID = userID
	conns := h.byUser[userID]
	if conns == nil {
		conns = make(map[*Client]bool)
		h.byUser[userID] = conns
	}
	conns[client] = true

	if len(conns) == 1 {
		h.broadcastLocked(wire.Frame{
			Type:     wire.TypeUserStatus,
			UserID:   userID,
			IsOnline: true,
		})
	}

	online := make([]int, 0, len(h.byUser))
	for id := range h.byUser {
		online = append(online, id)
	}
	h.sendLocked(client, wire.Frame{Type: wire.TypeOnlineUsers, UserIDs: online})
}

func (h *Hub) handleMessage(senderID int, frame wire.Frame) {
	log := h.log.WithFields(logrus.Fields{"chat_id": frame.ChatID, "sender_id": senderID})

	if frame.SenderID != senderID {
		log.Warn("dropping message with spoofed sender")
		return
	}
	chat, err := h.store.GetChat(frame.ChatID)
	if err != nil {
		log.WithError(err).Warn("dropping message for unknown chat")
		return
	}
	if chat.Peer(senderID) != frame.ReceiverID || (chat.UserAID != senderID && chat.UserBID != senderID) {
		log.Warn("dropping message with mismatched participants")
		return
	}
	blocked, err := h.store.IsBlocked(frame.ReceiverID, senderID)
	if err != nil {
		log.WithError(err).Error("block check failed")
		return
	}
	if blocked {
		log.Debug("dropping message from blocked sender")
		return
	}

	now := h.clock.Now().UTC()
	msg := &models.Message{
		ChatID:     frame.ChatID,
		SenderID:   senderID,
		ReceiverID: frame.ReceiverID,
		Content:    frame.Content,
		Type:       messageType(frame.MessageType),
		FileName:   frame.FileName,
		FileSize:   frame.FileSize,
		CreatedAt:  now,
		ExpiresAt:  lifecycle.ComputeExpiry(now, frame.DestructTimer),
	}
	if err := h.store.SaveMessage(msg); err != nil {
		log.WithError(err).Error("failed to save message")
		return
	}

	out := wire.Frame{Type: wire.TypeNewMessage, Message: msg}
	h.SendToUser(frame.ReceiverID, out)
	if senderID != frame.ReceiverID {
		// Echo to the sender's own connections so every device converges.
		h.SendToUser(senderID, out)
	}
}

func (h *Hub) handleTyping(senderID int, frame wire.Frame) {
	if frame.SenderID != senderID {
		h.log.WithField("sender_id", senderID).Warn("dropping typing frame with spoofed sender")
		return
	}
	h.SendToUser(frame.ReceiverID, wire.Frame{
		Type:       wire.TypeTyping,
		ChatID:     frame.ChatID,
		SenderID:   senderID,
		ReceiverID: frame.ReceiverID,
		IsTyping:   frame.IsTyping,
	})
}

// NotifyRead pushes a read receipt to the messages' sender.
func (h *Hub) NotifyRead(chatID, senderID, readerID int, messageIDs []int) {
	if len(messageIDs) == 0 {
		return
	}
	h.SendToUser(senderID, wire.Frame{
		Type:       wire.TypeMessageRead,
		ChatID:     chatID,
		ReaderID:   readerID,
		MessageIDs: messageIDs,
	})
}

// SendToUser delivers a frame to every live connection of one user.
func (h *Hub) SendToUser(userID int, frame wire.Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	payload, err := json.Marshal(frame)
	if err != nil {
		h.log.WithError(err).Error("failed to marshal frame")
		return
	}
	for client := range h.byUser[userID] {
		h.deliverLocked(client, payload)
	}
}

func (h *Hub) sendLocked(client *Client, frame wire.Frame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		h.log.WithError(err).Error("failed to marshal frame")
		return
	}
	h.deliverLocked(client, payload)
}

func (h *Hub) broadcastLocked(frame wire.Frame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		h.log.WithError(err).Error("failed to marshal frame")
		return
	}
	for client := range h.clients {
		if client.userID == 0 {
			continue
		}
		h.deliverLocked(client, payload)
	}
}

func (h *Hub) deliverLocked(client *Client, payload []byte) {
	select {
	case client.send <- payload:
	default:
		// Slow consumer: drop the connection rather than the hub.
		delete(h.clients, client)
		close(client.send)
		h.detachLocked(client)
	}
}

func messageType(t string) string {
	switch t {
	case models.MessageTypeImage, models.MessageTypeFile:
		return t
	default:
		return models.MessageTypeText
	}
}
