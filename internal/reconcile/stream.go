// Package reconcile keeps the local snapshot cache aligned with the
// backend: a realtime change stream drives row-level merges, and a
// debounced resume trigger drives full refreshes.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/coder/websocket"
)

// ChangeOp is the kind of row change a stream event announces.
type ChangeOp string

const (
	OpInsert ChangeOp = "INSERT"
	OpUpdate ChangeOp = "UPDATE"
	OpDelete ChangeOp = "DELETE"
)

// ChangeEvent is one row-change notification. Only the operation,
// table, and row ids are trustworthy; a stream may attach partial row
// payloads, and those must never be merged directly.
type ChangeEvent struct {
	Op       ChangeOp `json:"operation"`
	Table    string   `json:"table"`
	NewRowID string   `json:"new_row_id,omitempty"`
	OldRowID string   `json:"old_row_id,omitempty"`
}

// RowID returns the id the event is about.
func (ev ChangeEvent) RowID() string {
	if ev.NewRowID != "" {
		return ev.NewRowID
	}
	return ev.OldRowID
}

// Scope identifies one subscription: whose rows to stream, on whose
// behalf.
type Scope struct {
	TenantID string
	UserID   string
}

// Subscription is one live event feed. Events and Errors close when the
// subscription ends.
type Subscription interface {
	Events() <-chan ChangeEvent
	Errors() <-chan error
	Close() error
}

// Source opens subscriptions. Implementations filter by tenant at the
// transport layer, so a subscription only ever carries one tenant's
// events.
type Source interface {
	Subscribe(ctx context.Context, scope Scope) (Subscription, error)
}

// WebSocketSource subscribes to the backend's change stream endpoint.
type WebSocketSource struct {
	baseURL string
	token   string
	logger  *log.Logger
}

// NewWebSocketSource returns a source dialing baseURL's /stream
// endpoint with the given bearer token.
func NewWebSocketSource(baseURL, token string, logger *log.Logger) *WebSocketSource {
	return &WebSocketSource{baseURL: strings.TrimSuffix(baseURL, "/"), token: token, logger: logger}
}

// Subscribe dials the stream for one tenant.
func (s *WebSocketSource) Subscribe(ctx context.Context, scope Scope) (Subscription, error) {
	endpoint := fmt.Sprintf("%s/stream?company_id=%s", s.baseURL, url.QueryEscape(scope.TenantID))

	opts := &websocket.DialOptions{}
	if s.token != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + s.token}}
	}
	conn, _, err := websocket.Dial(ctx, endpoint, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", endpoint, err)
	}

	readCtx, cancel := context.WithCancel(context.Background())
	sub := &wsSubscription{
		conn:   conn,
		events: make(chan ChangeEvent, 16),
		errors: make(chan error, 10),
		cancel: cancel,
		logger: s.logger,
	}
	sub.wg.Add(1)
	go sub.readLoop(readCtx)
	return sub, nil
}

type wsSubscription struct {
	conn   *websocket.Conn
	events chan ChangeEvent
	errors chan error
	cancel context.CancelFunc
	logger *log.Logger

	wg      sync.WaitGroup
	closeMu sync.Mutex
	closed  bool
}

func (s *wsSubscription) Events() <-chan ChangeEvent {
	return s.events
}

func (s *wsSubscription) Errors() <-chan error {
	return s.errors
}

// Close tears the subscription down. Safe to call more than once.
func (s *wsSubscription) Close() error {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return nil
	}
	s.closed = true
	s.closeMu.Unlock()

	s.cancel()
	_ = s.conn.Close(websocket.StatusNormalClosure, "")
	s.wg.Wait()
	close(s.events)
	close(s.errors)
	return nil
}

func (s *wsSubscription) readLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				select {
				case s.errors <- err:
				default:
				}
			}
			return
		}

		var ev ChangeEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			if s.logger != nil {
				s.logger.Printf("dropping malformed stream event: %v", err)
			}
			continue
		}
		if ev.RowID() == "" {
			continue
		}

		select {
		case s.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}
