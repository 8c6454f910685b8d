package server

import (
	"net/http"
	"path"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"hustleup/internal/engine"
)

const watchPollInterval = time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// registerWatch streams the annotated gig over a websocket: the current state
// immediately, then a fresh frame on every version change. The connection
// closes when the client goes away or the gig is deleted.
func registerWatch(r chi.Router, basePath string, e engine.Engine) {
	r.Get(path.Join(basePath, "gigs/{gig_id}/watch"), func(w http.ResponseWriter, req *http.Request) {
		principal, ok := principalFromContext(req.Context())
		if !ok {
			respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
			return
		}
		gigID := chi.URLParam(req, "gig_id")
		g, err := e.Repo.GetGig(req.Context(), gigID)
		if err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		if principal.ActorID != g.ClientID && principal.ActorID != g.WorkerID {
			respondStatusError(w, handleError(ForbiddenError{Need: "client or worker"}))
			return
		}

		updates, err := e.Repo.WatchGig(req.Context(), gigID, watchPollInterval)
		if err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Drain client frames so pings and close messages are processed.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for gig := range updates {
			view := e.AnnotateGig(gig)
			if err := conn.WriteJSON(view); err != nil {
				return
			}
		}
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "gig gone"))
	})
}
