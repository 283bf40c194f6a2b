package httpapi

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
)

const avatarThumbnailWidth = 128

// AvatarHandler serves <avatarDir>/<platform>/<accountName>/<filename>
// (§6). Requests are re-encoded through imaging rather than streamed
// verbatim, so a corrupt or oversized source file never reaches a client
// as-is.
type AvatarHandler struct {
	avatarDir string
}

func NewAvatarHandler(avatarDir string) *AvatarHandler {
	return &AvatarHandler{avatarDir: avatarDir}
}

func (h *AvatarHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /avatars/{platform}/{account}/{filename}", h.handleGet)
}

func (h *AvatarHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	platform := r.PathValue("platform")
	account := r.PathValue("account")
	filename := r.PathValue("filename")

	if strings.Contains(platform, "..") || strings.Contains(account, "..") || strings.Contains(filename, "..") {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("path segments must not contain '..'"))
		return
	}

	path := filepath.Join(h.avatarDir, platform, account, filename)
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		writeErr(w, http.StatusNotFound, fmt.Errorf("avatar not found: %w", err))
		return
	}

	thumb := imaging.Resize(img, avatarThumbnailWidth, 0, imaging.Lanczos)
	w.Header().Set("Content-Type", "image/png")
	if err := imaging.Encode(w, thumb, imaging.PNG); err != nil {
		writeErr(w, http.StatusInternalServerError, fmt.Errorf("encode avatar: %w", err))
		return
	}
}
