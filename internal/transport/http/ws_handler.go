package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"quiz-client/internal/app"
	"quiz-client/internal/domain"
)

// SessionFactory builds an attempt session wired to a connection's signal relay.
type SessionFactory func(quiz domain.Quiz, signals app.Signals) *app.Session

type WSHandler struct {
	catalog    *app.Catalog
	newSession SessionFactory
	sessions   app.SessionRepository
	upgrader   websocket.Upgrader
}

func NewWSHandler(catalog *app.Catalog, newSession SessionFactory, sessions app.SessionRepository) *WSHandler {
	return &WSHandler{
		catalog:    catalog,
		newSession: newSession,
		sessions:   sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	Index int                `json:"index"`
	Value domain.AnswerValue `json:"value"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type sessionPayload struct {
	ID string `json:"id"`
}

// ServeWS runs one attempt session for the lifetime of a websocket connection.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	quiz, err := h.catalog.Open(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	relay := app.NewSignalRelay()
	session := h.newSession(quiz, relay)
	sessionID := uuid.NewString()
	h.sessions.Put(sessionID, session)
	defer h.sessions.Delete(sessionID)
	defer session.Close()

	updates, cancelUpdates := session.Subscribe()
	defer cancelUpdates()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// a failed write closes the connection so the read loop below ends too
	out := startConnWriter(conn.WriteJSON, func() { _ = conn.Close() })
	out.push(outboundMessage[any]{Type: "session", Payload: sessionPayload{ID: sessionID}})
	updatesDone := make(chan struct{})
	var actions sync.WaitGroup

	go func() {
		defer close(updatesDone)
		for {
			select {
			case update, ok := <-updates:
				if !ok || !out.push(outboundMessage[any]{Type: "state", Payload: update}) {
					return
				}
			case <-out.closing:
				return
			case <-out.done:
				return
			}
		}
	}()

	reply := func(err error) {
		if err != nil {
			out.push(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		}
	}
	// start and submit block on the quiz service; run them off the read loop
	// so blur events keep flowing while they are outstanding.
	async := func(fn func(context.Context) error) {
		actions.Add(1)
		go func() {
			defer actions.Done()
			reply(fn(ctx))
		}()
	}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "start":
			async(session.Start)
		case "submit":
			async(session.Submit)
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				reply(errors.New("invalid answer payload"))
				continue
			}
			reply(session.Answer(payload.Index, payload.Value))
		case "next":
			_, err := session.Advance()
			reply(err)
		case "prev":
			_, err := session.Retreat()
			reply(err)
		case "blur":
			relay.Emit(domain.SignalBlur)
		case "paste":
			relay.Emit(domain.SignalPaste)
		case "retry":
			session.RetryFailed()
		case "reset":
			session.Reset()
		default:
			reply(errors.New("unsupported message type"))
		}
	}

	cancel()
	out.stop()
	actions.Wait()
	<-updatesDone
	out.finish()
}

// ServeSnapshot reports the current state of a live session by the id sent
// in the "session" message.
func (h *WSHandler) ServeSnapshot(w http.ResponseWriter, r *http.Request) {
	session, ok := h.sessions.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("session not found"))
		return
	}
	writeJSON(w, http.StatusOK, session.Snapshot())
}

// connWriter serializes writes to one websocket. push never blocks once the
// connection is closing or the writer has failed.
type connWriter struct {
	send    chan outboundMessage[any]
	closing chan struct{}
	done    chan struct{}
}

func startConnWriter(write func(v interface{}) error, onError func()) *connWriter {
	w := &connWriter{
		send:    make(chan outboundMessage[any], 16),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go func() {
		defer close(w.done)
		for msg := range w.send {
			if err := write(msg); err != nil {
				log.Printf("ws write error: %v", err)
				onError()
				return
			}
		}
	}()
	return w
}

func (w *connWriter) push(msg outboundMessage[any]) bool {
	select {
	case w.send <- msg:
		return true
	case <-w.closing:
		return false
	case <-w.done:
		return false
	}
}

// stop makes pending and future pushes return.
func (w *connWriter) stop() {
	close(w.closing)
}

// finish drains the writer; call it once no goroutine can push anymore.
func (w *connWriter) finish() {
	close(w.send)
	<-w.done
}
