package live

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/typegym/ai_gateway/internal/config"
	"github.com/typegym/ai_gateway/internal/credential"
	"github.com/typegym/ai_gateway/internal/monitoring"
	"github.com/typegym/ai_gateway/internal/testhelpers"
)

type fakeSelector struct {
	cred credential.Credential
	err  error
}

func (f *fakeSelector) SelectCredential() (credential.Credential, error) {
	return f.cred, f.err
}

func testSelector() *fakeSelector {
	return &fakeSelector{cred: credential.Credential{Name: "KEY_1", Secret: "secret-123456"}}
}

// liveServer fakes the upstream bidirectional endpoint: it records the key
// and setup frame, acknowledges the handshake and hands the connection to the
// per-test script.
type liveServer struct {
	srv    *httptest.Server
	keys   chan string
	setups chan setupMessage
}

func startLiveServer(t *testing.T, script func(c *websocket.Conn)) *liveServer {
	t.Helper()
	ls := &liveServer{
		keys:   make(chan string, 1),
		setups: make(chan setupMessage, 1),
	}
	upgrader := websocket.Upgrader{}
	ls.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ls.keys <- r.URL.Query().Get("key")
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()

		var setup setupMessage
		if err := c.ReadJSON(&setup); err != nil {
			return
		}
		ls.setups <- setup
		if err := c.WriteJSON(map[string]any{"setupComplete": struct{}{}}); err != nil {
			return
		}
		if script != nil {
			script(c)
		}
	}))
	t.Cleanup(ls.srv.Close)
	return ls
}

func (ls *liveServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ls.srv.URL, "http")
}

func newTestBroker(t *testing.T, selector Selector, liveURL string) *Broker {
	t.Helper()
	b, err := NewBroker(selector, config.LiveConfig{
		ConnectTimeout:   2 * time.Second,
		GrantTTL:         time.Minute,
		GrantMinInterval: time.Second,
		MaxGrants:        16,
	}, liveURL, testhelpers.NewTestLogger(), monitoring.New(false))
	require.NoError(t, err)
	return b
}

func TestConnect_Handshake(t *testing.T) {
	drain := func(c *websocket.Conn) {
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}
	ls := startLiveServer(t, drain)
	b := newTestBroker(t, testSelector(), ls.wsURL())

	session, err := b.Connect(context.Background(), ConnectOptions{
		Model: "gemini-2.0-flash-live-001",
		Voice: "Kore",
	})

	require.NoError(t, err)
	defer session.Close()
	assert.Equal(t, StateActive, session.State())

	// The credential travels as a query parameter, never in a frame.
	assert.Equal(t, "secret-123456", <-ls.keys)

	setup := <-ls.setups
	assert.Equal(t, "models/gemini-2.0-flash-live-001", setup.Setup.Model)
	require.NotNil(t, setup.Setup.GenerationConfig)
	assert.Equal(t, []string{"AUDIO"}, setup.Setup.GenerationConfig.ResponseModalities)
	require.NotNil(t, setup.Setup.GenerationConfig.SpeechConfig)
	assert.Equal(t, "Kore", setup.Setup.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName)

	require.NoError(t, session.Close())
	assert.Equal(t, StateClosed, session.State())
}

func TestConnect_MissingModel(t *testing.T) {
	b := newTestBroker(t, testSelector(), "ws://unused.invalid")

	_, err := b.Connect(context.Background(), ConnectOptions{})

	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrFallbackToStateless)
}

func TestConnect_NoCredential(t *testing.T) {
	sel := &fakeSelector{err: errors.New("no upstream credentials configured")}
	b := newTestBroker(t, sel, "ws://unused.invalid")

	_, err := b.Connect(context.Background(), ConnectOptions{Model: "m"})

	assert.ErrorIs(t, err, ErrFallbackToStateless)
}

func TestConnect_DialFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close() // refuse connections

	b := newTestBroker(t, testSelector(), url)

	_, err := b.Connect(context.Background(), ConnectOptions{Model: "m"})

	// Establishment failure degrades to the stateless path instead of
	// surfacing a half-open session.
	assert.ErrorIs(t, err, ErrFallbackToStateless)
}

func TestConnect_SetupNotAcknowledged(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		if _, _, err := c.ReadMessage(); err != nil {
			return
		}
		// Answer with something that is not setupComplete.
		_ = c.WriteJSON(map[string]any{"serverContent": map[string]any{}})
	}))
	defer srv.Close()

	b := newTestBroker(t, testSelector(), "ws"+strings.TrimPrefix(srv.URL, "http"))

	_, err := b.Connect(context.Background(), ConnectOptions{Model: "m"})

	assert.ErrorIs(t, err, ErrFallbackToStateless)
}

func TestSession_ReceivesServerAudio(t *testing.T) {
	pcm := []byte{0x10, 0x20, 0x30, 0x40}
	ls := startLiveServer(t, func(c *websocket.Conn) {
		_ = c.WriteJSON(map[string]any{"serverContent": map[string]any{
			"modelTurn": map[string]any{
				"parts": []map[string]any{{
					"inlineData": map[string]any{
						"mimeType": "audio/pcm;rate=24000",
						"data":     base64.StdEncoding.EncodeToString(pcm),
					},
				}},
			},
		}})
		_ = c.WriteJSON(map[string]any{"serverContent": map[string]any{"turnComplete": true}})
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	})
	b := newTestBroker(t, testSelector(), ls.wsURL())

	session, err := b.Connect(context.Background(), ConnectOptions{Model: "m"})
	require.NoError(t, err)
	defer session.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ev, err := session.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, EventAudio, ev.Kind)
	assert.Equal(t, pcm, ev.Audio)
	assert.Equal(t, "audio/pcm;rate=24000", ev.MIMEType)

	ev, err = session.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, EventTurnComplete, ev.Kind)
}

func TestSession_SendAudioWireShape(t *testing.T) {
	frames := make(chan realtimeInputMessage, 1)
	ls := startLiveServer(t, func(c *websocket.Conn) {
		var msg realtimeInputMessage
		if err := c.ReadJSON(&msg); err != nil {
			return
		}
		frames <- msg
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	})
	b := newTestBroker(t, testSelector(), ls.wsURL())

	session, err := b.Connect(context.Background(), ConnectOptions{Model: "m"})
	require.NoError(t, err)
	defer session.Close()

	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	require.NoError(t, session.SendAudio(pcm))

	select {
	case msg := <-frames:
		require.Len(t, msg.RealtimeInput.MediaChunks, 1)
		chunk := msg.RealtimeInput.MediaChunks[0]
		assert.Equal(t, "audio/pcm;rate=16000", chunk.MIMEType)
		assert.Equal(t, base64.StdEncoding.EncodeToString(pcm), chunk.Data)
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the audio frame")
	}
}

func TestSession_SendTextWireShape(t *testing.T) {
	frames := make(chan clientContentMessage, 1)
	ls := startLiveServer(t, func(c *websocket.Conn) {
		var msg clientContentMessage
		if err := c.ReadJSON(&msg); err != nil {
			return
		}
		frames <- msg
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	})
	b := newTestBroker(t, testSelector(), ls.wsURL())

	session, err := b.Connect(context.Background(), ConnectOptions{Model: "m"})
	require.NoError(t, err)
	defer session.Close()

	require.NoError(t, session.SendText("how was my typing?"))

	select {
	case msg := <-frames:
		require.Len(t, msg.ClientContent.Turns, 1)
		assert.True(t, msg.ClientContent.TurnComplete)
		assert.Equal(t, "how was my typing?", msg.ClientContent.Turns[0].Parts[0].Text)
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the text frame")
	}
}

func TestSession_ServerCloseEndsSession(t *testing.T) {
	ls := startLiveServer(t, nil) // server closes right after setupComplete
	b := newTestBroker(t, testSelector(), ls.wsURL())

	session, err := b.Connect(context.Background(), ConnectOptions{Model: "m"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ev, _ := session.Receive(ctx)
	assert.Equal(t, EventClosed, ev.Kind)
	assert.Equal(t, StateClosed, session.State())
}
