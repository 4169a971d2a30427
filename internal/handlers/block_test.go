package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"testing"

	"github.com/gorilla/mux"
	"github.com/vanish-chat/vanish/internal/auth"
	"github.com/vanish-chat/vanish/internal/store/sqlstore"
)

func newBlockHandler(t *testing.T) (*BlockHandler, *sqlstore.SQLStore, *auth.Signer) {
	st, err := sqlstore.New("sqlite3", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	return &BlockHandler{Store: st}, st, auth.NewSigner([]byte("test-secret"))
}

func TestBlockUnblockList(t *testing.T) {
	handler, st, signer := newBlockHandler(t)
	alice := createChatUser(t, st, "alice")
	bob := createChatUser(t, st, "bob")
	idStr := strconv.Itoa(bob.ID)

	req := authedRequest("POST", "/blocks/"+idStr, nil, signer, alice.ID)
	req = mux.SetURLVars(req, map[string]string{"id": idStr})
	rr := serveAuthed(handler.Block, signer, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %v", rr.Code)
	}

	blocked, _ := st.IsBlocked(alice.ID, bob.ID)
	if !blocked {
		t.Error("expected bob to be blocked by alice")
	}
	// The relation is directional.
	blocked, _ = st.IsBlocked(bob.ID, alice.ID)
	if blocked {
		t.Error("expected alice not to be blocked by bob")
	}

	req = authedRequest("GET", "/blocks", nil, signer, alice.ID)
	rr = serveAuthed(handler.List, signer, req)
	var resp map[string][]int
	json.NewDecoder(rr.Body).Decode(&resp)
	if len(resp["blocked"]) != 1 || resp["blocked"][0] != bob.ID {
		t.Errorf("expected [%d], got %v", bob.ID, resp["blocked"])
	}

	req = authedRequest("DELETE", "/blocks/"+idStr, nil, signer, alice.ID)
	req = mux.SetURLVars(req, map[string]string{"id": idStr})
	rr = serveAuthed(handler.Unblock, signer, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %v", rr.Code)
	}

	blocked, _ = st.IsBlocked(alice.ID, bob.ID)
	if blocked {
		t.Error("expected block to be removed")
	}
}

func TestBlockSelfRejected(t *testing.T) {
	handler, st, signer := newBlockHandler(t)
	alice := createChatUser(t, st, "alice")
	idStr := strconv.Itoa(alice.ID)

	req := authedRequest("POST", "/blocks/"+idStr, nil, signer, alice.ID)
	req = mux.SetURLVars(req, map[string]string{"id": idStr})
	rr := serveAuthed(handler.Block, signer, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", rr.Code)
	}
}
