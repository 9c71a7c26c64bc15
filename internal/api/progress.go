package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/konard/RDmitryV-Trial-RDV/internal/events"
)

var (
	pingInterval = 15 * time.Second
	writeWait    = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type ingestEventResponse struct {
	Seq int64 `json:"seq"`
}

func (s *Server) ingestEvent(w http.ResponseWriter, r *http.Request) {
	researchID := chi.URLParam(r, "id")
	var event events.Event
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	event.Type = events.NormalizeType(event.Type)
	if event.Type == "" {
		http.Error(w, "event type required", http.StatusBadRequest)
		return
	}
	if !isKnownEventType(event.Type) {
		http.Error(w, "unknown event type", http.StatusBadRequest)
		return
	}
	event.ResearchID = researchID
	event.Seq = 0

	recorded, err := s.recorder.Record(r.Context(), event)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSONStatus(w, ingestEventResponse{Seq: recorded.Seq}, http.StatusAccepted)
}

func isKnownEventType(eventType string) bool {
	switch eventType {
	case events.TypeProgress, events.TypeStepError, events.TypeCompleted, events.TypeError:
		return true
	default:
		return false
	}
}

// streamProgress replays stored events after after_seq, then forwards live
// events until the terminal one. The subscription is opened before the replay
// so nothing recorded in between is lost; duplicates are dropped by seq.
func (s *Server) streamProgress(w http.ResponseWriter, r *http.Request) {
	researchID := chi.URLParam(r, "id")
	if _, ok := s.findResearch(r.Context(), w, researchID); !ok {
		return
	}
	afterSeq := parseAfterSeq(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Str("research_id", researchID).Msg("websocket_upgrade_failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	live := s.broker.Subscribe(ctx, researchID)
	go discardIncoming(conn, cancel)

	stored, err := s.store.ListEvents(ctx, researchID, afterSeq)
	if err != nil {
		log.Error().Err(err).Str("research_id", researchID).Msg("progress_replay_failed")
		closeSocket(conn, websocket.CloseInternalServerErr, "replay failed")
		return
	}
	lastSeq := afterSeq
	for _, event := range stored {
		if err := writeEvent(conn, event); err != nil {
			return
		}
		lastSeq = event.Seq
		if events.IsTerminal(event.Type) {
			closeSocket(conn, websocket.CloseNormalClosure, "")
			return
		}
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case event, ok := <-live:
			if !ok {
				return
			}
			if event.Seq > 0 && event.Seq <= lastSeq {
				continue
			}
			if err := writeEvent(conn, event); err != nil {
				return
			}
			if event.Seq > lastSeq {
				lastSeq = event.Seq
			}
			if events.IsTerminal(event.Type) {
				closeSocket(conn, websocket.CloseNormalClosure, "")
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func writeEvent(conn *websocket.Conn, event events.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(event)
}

func closeSocket(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
}

// discardIncoming keeps control frames flowing and cancels the stream once the
// client goes away.
func discardIncoming(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func parseAfterSeq(r *http.Request) int64 {
	afterParam := strings.TrimSpace(r.URL.Query().Get("after_seq"))
	if afterParam == "" {
		return 0
	}
	parsed, err := strconv.ParseInt(afterParam, 10, 64)
	if err != nil || parsed < 0 {
		return 0
	}
	return parsed
}
