package api

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"router-fleet/pkg/rollout"
)

// Hub bridges the rollout progress bus to WebSocket subscribers. A slow or
// dead subscriber is dropped; the rollout never waits on a listener.
type Hub struct {
	upgrader websocket.Upgrader
	bus      *rollout.Bus
}

func NewHub(bus *rollout.Bus) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		bus: bus,
	}
}

// HandleJobWS upgrades and streams progress events; expects ?jobId=xxx.
func (h *Hub) HandleJobWS(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("jobId")
	if jobID == "" {
		http.Error(w, "jobId required", http.StatusBadRequest)
		return
	}
	c, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed job=%s err=%v", jobID, err)
		return
	}
	events, cancel := h.bus.Subscribe()
	log.Printf("ws subscriber connected job=%s", jobID)

	// Reader loop only detects closure.
	go func() {
		defer cancel()
		for {
			if _, _, err := c.NextReader(); err != nil {
				return
			}
		}
	}()

	go func() {
		defer func() {
			cancel()
			_ = c.Close()
			log.Printf("ws subscriber disconnected job=%s", jobID)
		}()
		for e := range events {
			if e.JobID != jobID {
				continue
			}
			if err := c.WriteJSON(e); err != nil {
				return
			}
		}
	}()
}
