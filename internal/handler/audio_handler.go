package handler

import (
	"net/http"
	"strconv"

	"github.com/ClareAI/astra-telephony-gateway/internal/core/voice"
	"github.com/gorilla/mux"
)

// AudioHandler serves synthesized clips to the provider
type AudioHandler struct {
	clips *voice.ClipCache
}

func NewAudioHandler(clips *voice.ClipCache) *AudioHandler {
	return &AudioHandler{clips: clips}
}

func (h *AudioHandler) SetupAudioRoutes(router *mux.Router) {
	router.HandleFunc(voice.AudioPath+"{clipID}", h.ServeClip).Methods(http.MethodGet, http.MethodHead)
}

// ServeClip writes the cached clip. Evicted clips are gone; the provider then
// fails the <Play> and the call continues.
func (h *AudioHandler) ServeClip(w http.ResponseWriter, r *http.Request) {
	clip, ok := h.clips.Get(mux.Vars(r)["clipID"])
	if !ok {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", clip.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(clip.Audio)))
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	w.Write(clip.Audio)
}
