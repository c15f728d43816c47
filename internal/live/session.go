package live

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/typegym/ai_gateway/internal/audio"
	"github.com/typegym/ai_gateway/internal/monitoring"
)

// State is the session lifecycle: CONNECTING -> ACTIVE -> CLOSED, with
// DEGRADED_FALLBACK terminal from CONNECTING when establishment fails.
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateClosed
	StateDegradedFallback
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	case StateDegradedFallback:
		return "degraded_fallback"
	default:
		return "unknown"
	}
}

// EventKind discriminates what a Receive call returned.
type EventKind string

const (
	EventAudio        EventKind = "audio"
	EventText         EventKind = "text"
	EventInterrupted  EventKind = "interrupted"
	EventTurnComplete EventKind = "turn_complete"
	EventClosed       EventKind = "closed"
)

// Event is one unit of session output.
type Event struct {
	Kind     EventKind
	Audio    []byte // PCM, EventAudio only
	MIMEType string
	Text     string
}

// Session is one established live connection. Reads are funneled through
// Receive; undelivered audio of a superseded turn is discarded the moment
// the upstream signals an interruption, so stale audio never plays over new
// audio.
type Session struct {
	conn       *websocket.Conn
	credential string
	logger     *slog.Logger
	metrics    *monitoring.Metrics

	state   atomic.Int32
	writeMu sync.Mutex

	mu    sync.Mutex
	queue []Event // undelivered events, in upstream order

	notify    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func newSession(conn *websocket.Conn, credentialName string, logger *slog.Logger, metrics *monitoring.Metrics) *Session {
	s := &Session{
		conn:       conn,
		credential: credentialName,
		logger:     logger,
		metrics:    metrics,
		notify:     make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	s.state.Store(int32(StateConnecting))
	return s
}

func (s *Session) State() State {
	return State(s.state.Load())
}

// wire shapes of the bidirectional protocol

type setupMessage struct {
	Setup setupPayload `json:"setup"`
}

type setupPayload struct {
	Model             string         `json:"model"`
	GenerationConfig  *liveGenConfig `json:"generationConfig,omitempty"`
	SystemInstruction *contentTurn   `json:"systemInstruction,omitempty"`
}

type liveGenConfig struct {
	ResponseModalities []string          `json:"responseModalities,omitempty"`
	SpeechConfig       *liveSpeechConfig `json:"speechConfig,omitempty"`
}

type liveSpeechConfig struct {
	VoiceConfig struct {
		PrebuiltVoiceConfig struct {
			VoiceName string `json:"voiceName"`
		} `json:"prebuiltVoiceConfig"`
	} `json:"voiceConfig"`
}

type contentTurn struct {
	Role  string        `json:"role,omitempty"`
	Parts []contentPart `json:"parts"`
}

type contentPart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineBlob `json:"inlineData,omitempty"`
}

type inlineBlob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []inlineBlob `json:"mediaChunks"`
}

type clientContentMessage struct {
	ClientContent clientContent `json:"clientContent"`
}

type clientContent struct {
	Turns        []contentTurn `json:"turns"`
	TurnComplete bool          `json:"turnComplete"`
}

type serverMessage struct {
	SetupComplete *struct{}      `json:"setupComplete,omitempty"`
	ServerContent *serverContent `json:"serverContent,omitempty"`
}

type serverContent struct {
	ModelTurn    *contentTurn `json:"modelTurn,omitempty"`
	TurnComplete bool         `json:"turnComplete,omitempty"`
	Interrupted  bool         `json:"interrupted,omitempty"`
}

// handshake sends the setup frame and waits for setupComplete within the
// deadline carried by ctx. Called by the broker while CONNECTING.
func (s *Session) handshake(ctx context.Context, opts ConnectOptions) error {
	setup := setupMessage{
		Setup: setupPayload{
			Model: "models/" + opts.Model,
			GenerationConfig: &liveGenConfig{
				ResponseModalities: []string{"AUDIO"},
			},
		},
	}
	if opts.Voice != "" {
		sc := &liveSpeechConfig{}
		sc.VoiceConfig.PrebuiltVoiceConfig.VoiceName = opts.Voice
		setup.Setup.GenerationConfig.SpeechConfig = sc
	}
	if opts.SystemInstruction != "" {
		setup.Setup.SystemInstruction = &contentTurn{
			Role:  "user",
			Parts: []contentPart{{Text: opts.SystemInstruction}},
		}
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = s.conn.SetWriteDeadline(deadline)
		_ = s.conn.SetReadDeadline(deadline)
	}

	if err := s.conn.WriteJSON(setup); err != nil {
		return fmt.Errorf("write setup: %w", err)
	}

	var msg serverMessage
	if err := s.conn.ReadJSON(&msg); err != nil {
		return fmt.Errorf("await setup completion: %w", err)
	}
	if msg.SetupComplete == nil {
		return fmt.Errorf("unexpected first frame, setup not acknowledged")
	}

	_ = s.conn.SetWriteDeadline(time.Time{})
	_ = s.conn.SetReadDeadline(time.Time{})
	s.state.Store(int32(StateActive))
	go s.readLoop()
	return nil
}

// abortConnecting tears the connection down after a failed establishment and
// parks the session in the degraded terminal state.
func (s *Session) abortConnecting(err error) {
	s.state.Store(int32(StateDegradedFallback))
	s.closeOnce.Do(func() {
		s.closeErr = err
		_ = s.conn.Close()
		close(s.done)
	})
}

// SendAudio forwards one captured PCM chunk to the upstream session.
func (s *Session) SendAudio(pcm []byte) error {
	if s.State() != StateActive {
		return fmt.Errorf("session is %s", s.State())
	}
	msg := realtimeInputMessage{
		RealtimeInput: realtimeInput{
			MediaChunks: []inlineBlob{{
				MIMEType: fmt.Sprintf("audio/pcm;rate=%d", audio.InputSampleRate),
				Data:     audio.EncodeBase64(pcm),
			}},
		},
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(msg)
}

// SendText submits a complete text turn.
func (s *Session) SendText(text string) error {
	if s.State() != StateActive {
		return fmt.Errorf("session is %s", s.State())
	}
	msg := clientContentMessage{
		ClientContent: clientContent{
			Turns: []contentTurn{{
				Role:  "user",
				Parts: []contentPart{{Text: text}},
			}},
			TurnComplete: true,
		},
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(msg)
}

// Receive returns the next session event in upstream order. An interruption
// has already discarded the superseded turn's undelivered audio by the time
// it is observed here.
func (s *Session) Receive(ctx context.Context) (Event, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return ev, nil
		}
		s.mu.Unlock()

		select {
		case <-s.done:
			return Event{Kind: EventClosed}, s.closeErr
		default:
		}

		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-s.done:
			return Event{Kind: EventClosed}, s.closeErr
		case <-s.notify:
		}
	}
}

// ingest folds one upstream frame into the event queue.
func (s *Session) ingest(msg *serverMessage) {
	if msg.ServerContent == nil {
		return
	}
	sc := msg.ServerContent

	s.mu.Lock()
	if sc.Interrupted {
		// The upstream superseded the in-flight response: audio queued for
		// the old turn must never be delivered.
		kept := s.queue[:0]
		for _, ev := range s.queue {
			if ev.Kind != EventAudio {
				kept = append(kept, ev)
			}
		}
		s.queue = kept
		s.queue = append(s.queue, Event{Kind: EventInterrupted})
	}
	if sc.ModelTurn != nil {
		for _, part := range sc.ModelTurn.Parts {
			if part.InlineData != nil {
				data, err := audio.DecodeBase64(part.InlineData.Data)
				if err != nil {
					s.logger.Warn("dropping undecodable audio chunk",
						"credential", s.credential,
						"error", err,
					)
					continue
				}
				s.queue = append(s.queue, Event{
					Kind:     EventAudio,
					Audio:    data,
					MIMEType: part.InlineData.MIMEType,
				})
			}
			if part.Text != "" {
				s.queue = append(s.queue, Event{Kind: EventText, Text: part.Text})
			}
		}
	}
	if sc.TurnComplete {
		s.queue = append(s.queue, Event{Kind: EventTurnComplete})
	}
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// readLoop pumps upstream frames into the event queue until the connection
// dies or the session is closed.
func (s *Session) readLoop() {
	for {
		var msg serverMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			s.shutdown(err)
			return
		}
		s.ingest(&msg)
	}
}

// Close ends the session and releases the connection. Safe to call from any
// state and more than once.
func (s *Session) Close() error {
	s.shutdown(nil)
	return nil
}

func (s *Session) shutdown(err error) {
	s.closeOnce.Do(func() {
		wasActive := s.State() == StateActive
		s.state.Store(int32(StateClosed))
		s.closeErr = err
		if s.conn != nil {
			_ = s.conn.Close()
		}
		close(s.done)
		if wasActive {
			s.metrics.LiveSessionEnded()
			s.logger.Info("live session closed",
				"credential", s.credential,
				"error", err,
			)
		}
	})
}
