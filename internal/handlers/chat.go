package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/vanish-chat/vanish/internal/lifecycle"
	"github.com/vanish-chat/vanish/internal/middleware"
	"github.com/vanish-chat/vanish/internal/store"
	"github.com/vanish-chat/vanish/internal/ws"
)

type ChatHandler struct {
	Store store.Store
	Hub   *ws.Hub
	Clock lifecycle.Clock
	Log   *logrus.Entry
}

type CreateChatRequest struct {
	Username string `json:"username"`
}

// CreateChat opens (or returns) the direct chat between the caller and
// the named user.
func (h *ChatHandler) CreateChat(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r)

	var req CreateChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	peer, err := h.Store.GetUserByUsername(req.Username)
	if err != nil {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}
	if peer.ID == userID {
		http.Error(w, "Cannot chat with yourself", http.StatusBadRequest)
		return
	}

	// A blocked relationship in either direction hides the user.
	if blocked, err := h.Store.IsBlocked(peer.ID, userID); err == nil && blocked {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}

	chat, err := h.Store.GetOrCreateChat(userID, peer.ID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(chat)
}

func (h *ChatHandler) GetChats(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r)

	chats, err := h.Store.GetUserChats(userID, h.Clock.Now())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(chats)
}

func (h *ChatHandler) GetChatMessages(w http.ResponseWriter, r *http.Request) {
	chatID, _, ok := h.requireParticipant(w, r)
	if !ok {
		return
	}

	messages, err := h.Store.GetChatMessages(chatID, h.Clock.Now())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(messages)
}

// MarkRead marks the caller's received messages read and pushes a read
// receipt to the peer.
func (h *ChatHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	chatID, userID, ok := h.requireParticipant(w, r)
	if !ok {
		return
	}

	ids, err := h.Store.MarkChatRead(chatID, userID, h.Clock.Now())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if len(ids) > 0 {
		chat, err := h.Store.GetChat(chatID)
		if err == nil {
			h.Hub.NotifyRead(chatID, chat.Peer(userID), userID, ids)
		}
	}

	json.NewEncoder(w).Encode(map[string][]int{"message_ids": ids})
}

// DeleteForMe hides the chat's current history for the caller only. The
// peer's view is untouched.
func (h *ChatHandler) DeleteForMe(w http.ResponseWriter, r *http.Request) {
	chatID, userID, ok := h.requireParticipant(w, r)
	if !ok {
		return
	}

	if err := h.Store.SetCutoff(chatID, userID, h.Clock.Now()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Reactivate lifts the caller's cutoff so new messages show again.
// Messages hidden by the old cutoff stay hidden.
func (h *ChatHandler) Reactivate(w http.ResponseWriter, r *http.Request) {
	chatID, userID, ok := h.requireParticipant(w, r)
	if !ok {
		return
	}

	if err := h.Store.ClearCutoff(chatID, userID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ChatHandler) requireParticipant(w http.ResponseWriter, r *http.Request) (chatID, userID int, ok bool) {
	chatID, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid chat id", http.StatusBadRequest)
		return 0, 0, false
	}
	userID = middleware.UserID(r)

	isParticipant, err := h.Store.IsParticipant(chatID, userID)
	if err != nil || !isParticipant {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return 0, 0, false
	}
	return chatID, userID, true
}
