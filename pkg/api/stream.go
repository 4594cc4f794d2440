package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/geyserpipe/geyserpipe/internal/broadcast"
	"github.com/geyserpipe/geyserpipe/internal/types"
)

const (
	streamWriteTimeout = 10 * time.Second
	streamPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// origin policy is enforced by the CORS middleware in front of the mux
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StreamUpdate is the wire form of one committed update on the streaming
// endpoint. Data is base64 per encoding/json convention.
type StreamUpdate struct {
	Account      string `json:"account"`
	Owner        string `json:"owner"`
	Lamports     uint64 `json:"lamports"`
	Data         []byte `json:"data,omitempty"`
	Slot         uint64 `json:"slot"`
	WriteVersion uint64 `json:"write_version"`
	Deleted      bool   `json:"deleted,omitempty"`
}

func streamUpdate(u *types.CommittedUpdate) StreamUpdate {
	return StreamUpdate{
		Account:      u.Account.String(),
		Owner:        u.Owner.String(),
		Lamports:     u.Lamports,
		Data:         u.Data,
		Slot:         u.Slot,
		WriteVersion: u.WriteVersion,
		Deleted:      u.Deleted,
	}
}

// Stream upgrades the connection to a WebSocket and forwards committed
// updates matching the requested filter. Filters come from query parameters:
// programs and accounts take comma-separated base58 addresses; with neither,
// the subscriber receives everything.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response
		h.log.Debugw("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	sub := h.pipeline.Broadcaster().Subscribe(filter)
	h.log.Infow("stream subscriber connected",
		"id", sub.ID(),
		"filter", sub.Filter().String(),
		"remote", r.RemoteAddr,
	)

	// reader exists only to surface client disconnects
	go func() {
		defer sub.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer func() {
		sub.Close()
		conn.Close()
	}()

	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()

	for {
		select {
		case u := <-sub.Updates():
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteJSON(streamUpdate(u)); err != nil {
				h.log.Debugw("stream write failed", "id", sub.ID(), "error", err)
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-sub.Done():
			// forced disconnect or broadcaster shutdown
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "subscription ended"))
			return
		}
	}
}

func filterFromQuery(r *http.Request) (broadcast.Filter, error) {
	var filters []broadcast.Filter

	if programs := r.URL.Query().Get("programs"); programs != "" {
		pks, err := parsePubkeyList(programs)
		if err != nil {
			return broadcast.Filter{}, err
		}
		filters = append(filters, broadcast.NewProgramFilter(pks...))
	}

	if accounts := r.URL.Query().Get("accounts"); accounts != "" {
		pks, err := parsePubkeyList(accounts)
		if err != nil {
			return broadcast.Filter{}, err
		}
		filters = append(filters, broadcast.NewAccountFilter(pks...))
	}

	if len(filters) == 0 {
		return broadcast.NewAllFilter(), nil
	}
	return broadcast.Combine(filters...), nil
}

func parsePubkeyList(raw string) ([]types.Pubkey, error) {
	parts := strings.Split(raw, ",")
	pks := make([]types.Pubkey, 0, len(parts))
	for _, part := range parts {
		pk, err := types.ParsePubkey(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		pks = append(pks, pk)
	}
	return pks, nil
}
