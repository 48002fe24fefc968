package http

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"karaoke/internal/core"
	"karaoke/internal/party"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16384,
}

// viewPayload is party.View with collection keys exposed, so clients can
// address items in follow-up requests.
type viewPayload struct {
	Party     string                `json:"party"`
	Version   uint64                `json:"version"`
	State     core.PlayerState      `json:"state"`
	Settings  core.PlayerSettings   `json:"settings"`
	Queue     []queueItemPayload    `json:"queue"`
	Singers   []singerPayload       `json:"singers"`
	History   []core.HistoryEntry   `json:"history"`
	TopPlayed []core.TopPlayedEntry `json:"topPlayed"`
	Favorites []core.FavoriteEntry  `json:"favorites"`
	Disabled  []core.DisabledEntry  `json:"disabledSongs"`
}

func newViewPayload(v party.View) viewPayload {
	singers := make([]singerPayload, 0, len(v.Singers))
	for _, s := range v.Singers {
		singers = append(singers, singerPayload{Key: s.Key, Singer: s})
	}
	return viewPayload{
		Party:     v.Party,
		Version:   v.Version,
		State:     v.State,
		Settings:  v.Settings,
		Queue:     keyedQueue(v.Queue),
		Singers:   singers,
		History:   v.History,
		TopPlayed: v.TopPlayed,
		Favorites: v.Favorites,
		Disabled:  v.Disabled,
	}
}

// collectionPayload narrows a view to one collection. An empty name selects
// the whole view.
func collectionPayload(v party.View, collection string) (any, error) {
	full := newViewPayload(v)
	var value any
	switch collection {
	case "":
		return full, nil
	case "queue":
		value = full.Queue
	case "singers":
		value = full.Singers
	case "history":
		value = full.History
	case "topPlayed":
		value = full.TopPlayed
	case "favorites":
		value = full.Favorites
	case "disabledSongs":
		value = full.Disabled
	case "state":
		value = full.State
	case "settings":
		value = full.Settings
	default:
		return nil, fmt.Errorf("%w: unknown collection %q", core.ErrInvalid, collection)
	}
	return map[string]any{
		"party":    full.Party,
		"version":  full.Version,
		collection: value,
	}, nil
}

// handleSubscribe streams the party view over a WebSocket, one full snapshot
// per change. ?collection= narrows each message to one collection.
func (a *API) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	partyID := r.PathValue("party")
	collection := r.URL.Query().Get("collection")
	if _, err := collectionPayload(party.View{}, collection); err != nil {
		a.writeError(w, r, err)
		return
	}

	c, release, err := a.parties.Get(r.Context(), partyID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	defer release()

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Debug("WebSocket upgrade failed", zap.String("party", partyID), zap.Error(err))
		return
	}
	defer conn.Close()

	if a.metrics != nil {
		a.metrics.Subscribers.Inc()
		defer a.metrics.Subscribers.Dec()
	}

	updates, cancel := c.Session().Updates()
	defer cancel()

	a.logger.Debug("Subscriber connected",
		zap.String("party", partyID),
		zap.String("collection", collection))

	// Drain incoming frames so pongs and close frames are processed.
	closed := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			a.logger.Debug("Subscriber disconnected", zap.String("party", partyID))
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case view, ok := <-updates:
			if !ok {
				// The party was closed; tell the client so it can reconnect.
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "party closed"),
					time.Now().Add(writeWait))
				return
			}
			payload, err := collectionPayload(view, collection)
			if err != nil {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(payload); err != nil {
				a.logger.Debug("Subscriber write failed", zap.String("party", partyID), zap.Error(err))
				return
			}
		}
	}
}
