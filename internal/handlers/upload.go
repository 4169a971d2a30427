package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// maxUploadSize bounds a single encrypted payload.
const maxUploadSize = 16 << 20

// UploadHandler stores opaque ciphertext blobs. The server never sees
// the file content or its real name, only a random id.
type UploadHandler struct {
	Dir string
	Log *logrus.Entry
}

func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxUploadSize+1))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(data) == 0 {
		http.Error(w, "Empty body", http.StatusBadRequest)
		return
	}
	if len(data) > maxUploadSize {
		http.Error(w, "File too large", http.StatusRequestEntityTooLarge)
		return
	}

	if err := os.MkdirAll(h.Dir, 0o750); err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	id := uuid.NewString()
	if err := os.WriteFile(filepath.Join(h.Dir, id), data, 0o640); err != nil {
		h.Log.WithError(err).Error("upload write failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"url": "/files/" + id})
}

func (h *UploadHandler) ServeFile(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := uuid.Parse(id); err != nil {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	path := filepath.Join(h.Dir, id)
	if !strings.HasPrefix(path, filepath.Clean(h.Dir)+string(os.PathSeparator)) {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(data)
}
