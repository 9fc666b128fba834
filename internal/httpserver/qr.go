package httpserver

import (
	"net/http"
	"strings"

	"github.com/skip2/go-qrcode"
)

const qrSize = 320 // mobile-friendly size

// joinURL is the client page a team opens to join code.
func (s *Server) joinURL(code string) string {
	return strings.TrimRight(s.opts.PublicURL, "/") + "/join/" + code
}

// handleQR renders the join link of an existing game as a PNG.
func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	c := code(r)
	if _, err := s.svc.Get(r.Context(), c); err != nil {
		writeError(w, r, err)
		return
	}
	png, err := qrcode.Encode(s.joinURL(c), qrcode.Medium, qrSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(png)
}
