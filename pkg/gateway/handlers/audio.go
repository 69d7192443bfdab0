package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"regexp"

	"github.com/gorilla/mux"

	"github.com/vango-go/vai-voice/pkg/core"
	"github.com/vango-go/vai-voice/pkg/gateway/mw"
)

var audioName = regexp.MustCompile(`^[A-Za-z0-9_-]+\.(mp3|opus|aac|flac|wav|pcm)$`)

// AudioHandler serves synthesized speech from Dir. Only flat file names
// written by the speaker are accepted; there is no directory listing.
type AudioHandler struct {
	Dir string
}

func (h AudioHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["file"]
	if !audioName.MatchString(name) {
		h.notFound(w, r)
		return
	}
	path := filepath.Join(h.Dir, name)
	if fi, err := os.Stat(path); err != nil || !fi.Mode().IsRegular() {
		h.notFound(w, r)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=3600")
	http.ServeFile(w, r, path)
}

func (h AudioHandler) notFound(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	writeCoreErrorJSON(w, reqID, &core.Error{Type: core.ErrNotFound, Message: "audio not found"}, http.StatusNotFound)
}
