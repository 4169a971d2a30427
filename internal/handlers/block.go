package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/vanish-chat/vanish/internal/middleware"
	"github.com/vanish-chat/vanish/internal/store"
)

type BlockHandler struct {
	Store store.Store
}

func (h *BlockHandler) Block(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r)
	blockedID, ok := h.targetID(w, r)
	if !ok {
		return
	}
	if blockedID == userID {
		http.Error(w, "Cannot block yourself", http.StatusBadRequest)
		return
	}

	if err := h.Store.BlockUser(userID, blockedID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *BlockHandler) Unblock(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r)
	blockedID, ok := h.targetID(w, r)
	if !ok {
		return
	}

	if err := h.Store.UnblockUser(userID, blockedID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *BlockHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r)

	ids, err := h.Store.GetBlockedUsers(userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if ids == nil {
		ids = []int{}
	}
	json.NewEncoder(w).Encode(map[string][]int{"blocked": ids})
}

func (h *BlockHandler) targetID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid user id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}
