package api

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/vklg/chatlens/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Progress streams are same-origin in the web UI and cookie-authenticated,
	// so origin checking adds nothing here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleStreamJob upgrades the connection to a WebSocket and pushes the
// job's current snapshot, then every progress delta, then exactly one
// terminal event before closing. A client that disconnects and reconnects
// mid-processing starts again from the current snapshot.
func (s *Server) handleStreamJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.authorizedJob(w, r)
	if !ok {
		return
	}

	// A job already in a terminal state has no hub entry anymore; serve the
	// final snapshot straight from the store and close.
	if job.Status.Terminal() {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.WriteJSON(models.SnapshotOf(job))
		closeStream(conn)
		return
	}

	sub := s.app.Hub.Subscribe(job.ID, models.SnapshotOf(job))

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.app.Hub.Unsubscribe(sub)
		return
	}

	// The job may have reached a terminal state between the store read and
	// the subscription. The store is authoritative, so re-check and finish
	// with its snapshot; the duplicate terminal event is harmless.
	if recheck, err := s.store.GetJob(job.ID); err == nil && recheck.Status.Terminal() {
		s.app.Hub.Unsubscribe(sub)
		conn.WriteJSON(models.SnapshotOf(recheck))
		closeStream(conn)
		return
	}

	// Reader goroutine: its only purpose is to notice the client going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case event, open := <-sub.C:
			if !open {
				// Hub closed the job out from under us after the terminal
				// event; nothing more will arrive.
				closeStream(conn)
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				s.app.Hub.Unsubscribe(sub)
				conn.Close()
				return
			}
			if event.Done {
				s.app.Hub.Unsubscribe(sub)
				closeStream(conn)
				return
			}
		case <-done:
			// Client disconnect is not an error condition for the job; just
			// drop the subscription.
			s.app.Hub.Unsubscribe(sub)
			conn.Close()
			return
		}
	}
}

// closeStream performs an orderly WebSocket close after the terminal event.
func closeStream(conn *websocket.Conn) {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil && err != websocket.ErrCloseSent {
		log.Printf("Stream close handshake failed: %v", err)
	}
	conn.Close()
}
