package daemon

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	apperrors "github.com/fenwick-labs/sift/internal/errors"
	"github.com/fenwick-labs/sift/internal/query"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsMessage is the envelope every inbound WebSocket message shares
// (spec §4.13): a type discriminator plus a client-chosen correlation id
// echoed verbatim in the response.
type wsMessage struct {
	Type       string `json:"type"`
	ID         string `json:"id"`
	Query      string `json:"query"`
	TopK       int    `json:"top_k"`
	Index      string `json:"index"`
	Expand     *bool  `json:"expand,omitempty"`
	TypeFilter string `json:"type_filter,omitempty"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read error", "error", err)
			}
			return
		}

		// correlationID is used only for internal logging of concurrent
		// in-flight requests on this connection; the wire-level id is
		// always msg.ID, echoed verbatim.
		correlationID := uuid.New().String()

		resp := s.handleWSMessage(r.Context(), msg, correlationID)
		if err := conn.WriteJSON(resp); err != nil {
			s.logger.Warn("websocket write error", "error", err)
			return
		}
	}
}

func (s *Server) handleWSMessage(ctx context.Context, msg wsMessage, correlationID string) any {
	s.logger.Debug("websocket message", "type", msg.Type, "id", msg.ID, "correlation_id", correlationID)
	switch msg.Type {
	case "query":
		return s.wsQuery(ctx, msg)
	case "list_indexes":
		return s.wsListIndexes(msg)
	case "switch_index":
		return s.wsSwitchIndex(ctx, msg)
	default:
		return wsError(msg.ID, apperrors.InvalidRequestError("unknown message type: "+msg.Type))
	}
}

type wsQueryResult struct {
	Type     string `json:"type"`
	ID       string `json:"id"`
	Query    string `json:"query"`
	Direct   any    `json:"direct"`
	Related  any    `json:"related"`
	TimingMS int64  `json:"timing_ms"`
}

func (s *Server) wsQuery(ctx context.Context, msg wsMessage) any {
	if msg.Query == "" {
		return wsError(msg.ID, apperrors.InvalidRequestError("query must not be empty"))
	}
	topK := msg.TopK
	if topK <= 0 {
		topK = 10
	}
	expand := true
	if msg.Expand != nil {
		expand = *msg.Expand
	}

	result, timingMS, err := s.runQuery(ctx, msg.Index, query.Request{
		QueryText:  msg.Query,
		TopK:       topK,
		Expand:     expand,
		TypeFilter: msg.TypeFilter,
	})
	if err != nil {
		return wsError(msg.ID, err)
	}

	return wsQueryResult{
		Type:     "query_result",
		ID:       msg.ID,
		Query:    result.Query,
		Direct:   result.Direct,
		Related:  result.Related,
		TimingMS: timingMS,
	}
}

type wsIndexList struct {
	Type    string       `json:"type"`
	ID      string       `json:"id"`
	Indexes []indexEntry `json:"indexes"`
	Active  string       `json:"active"`
}

func (s *Server) wsListIndexes(msg wsMessage) any {
	active := s.manager.ActiveName()
	entries := make([]indexEntry, 0, len(s.cfg.Indexes))
	for name, path := range s.cfg.Indexes {
		entries = append(entries, indexEntry{Name: name, Path: path, IsActive: name == active})
	}
	return wsIndexList{Type: "index_list", ID: msg.ID, Indexes: entries, Active: active}
}

type wsIndexSwitched struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Active string `json:"active"`
}

func (s *Server) wsSwitchIndex(ctx context.Context, msg wsMessage) any {
	if msg.Index == "" {
		return wsError(msg.ID, apperrors.InvalidRequestError("index is required"))
	}
	loaded, err := s.manager.EnsureLoaded(ctx, msg.Index)
	if err != nil {
		return wsError(msg.ID, err)
	}
	return wsIndexSwitched{Type: "index_switched", ID: msg.ID, Active: loaded.Name}
}

type wsErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	ID      string `json:"id,omitempty"`
}

func wsError(id string, err error) wsErrorMessage {
	return wsErrorMessage{
		Type:    "error",
		Code:    string(apperrors.GetKind(err)),
		Message: err.Error(),
		ID:      id,
	}
}
