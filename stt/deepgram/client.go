// Package deepgram streams PCM audio to Deepgram's live transcription API.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"

	"github.com/AltairaLabs/turnsync/internal/wsconn"
	"github.com/AltairaLabs/turnsync/logger"
	"github.com/AltairaLabs/turnsync/stt"
)

const (
	providerName = "deepgram"

	// DefaultURL is the live listen endpoint.
	DefaultURL = "wss://api.deepgram.com/v1/listen"

	eventBuffer = 64
)

// ErrMissingAPIKey is returned by Dial when no key is configured.
var ErrMissingAPIKey = errors.New("deepgram api key not configured")

// Config holds listen parameters.
type Config struct {
	APIKey        string
	URL           string
	Model         string
	Language      string
	Encoding      string
	SampleRate    int
	EndpointingMS int

	// Dial overrides transport settings, mainly for tests.
	Dial wsconn.Config
}

// Client is an stt.Dialer for Deepgram.
type Client struct {
	cfg Config
}

// New creates a Client. Zero fields take Deepgram defaults for 16kHz mono
// linear PCM.
func New(cfg Config) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.Language == "" {
		cfg.Language = "en-US"
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "linear16"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.EndpointingMS == 0 {
		cfg.EndpointingMS = 700
	}
	return &Client{cfg: cfg}
}

// ListenURL builds the listen URL with query parameters.
func (c *Client) ListenURL() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse deepgram url: %w", err)
	}
	q := u.Query()
	q.Set("model", c.cfg.Model)
	q.Set("language", c.cfg.Language)
	q.Set("encoding", c.cfg.Encoding)
	q.Set("sample_rate", strconv.Itoa(c.cfg.SampleRate))
	q.Set("channels", "1")
	q.Set("interim_results", "true")
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	q.Set("endpointing", strconv.Itoa(c.cfg.EndpointingMS))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Dial opens one live stream.
func (c *Client) Dial(ctx context.Context) (stt.Stream, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return nil, stt.NewTranscriptionError(providerName, "auth", "missing api key", ErrMissingAPIKey, false)
	}
	listenURL, err := c.ListenURL()
	if err != nil {
		return nil, stt.NewTranscriptionError(providerName, "config", "invalid url", err, false)
	}

	dc := c.cfg.Dial
	dc.URL = listenURL
	dc.Headers = http.Header{"Authorization": {"Token " + c.cfg.APIKey}}
	conn := wsconn.New(dc)
	if err := conn.Dial(ctx); err != nil {
		return nil, classifyDialError(err)
	}

	readCtx, cancel := context.WithCancel(context.Background())
	s := &stream{
		conn:   conn,
		events: make(chan stt.Event, eventBuffer),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.readLoop(readCtx)
	logger.Debug("deepgram stream opened", "model", c.cfg.Model, "language", c.cfg.Language)
	return s, nil
}

func classifyDialError(err error) error {
	var herr *wsconn.HandshakeError
	if errors.As(err, &herr) {
		switch herr.Status {
		case http.StatusUnauthorized, http.StatusForbidden:
			return stt.NewTranscriptionError(providerName, strconv.Itoa(herr.Status), "rejected credentials", err, false)
		case http.StatusBadRequest:
			return stt.NewTranscriptionError(providerName, "400", "rejected listen parameters", err, false)
		case http.StatusTooManyRequests:
			return stt.NewTranscriptionError(providerName, "429", "rate limited", err, true)
		}
	}
	return stt.NewTranscriptionError(providerName, "dial", "connect failed", err, true)
}

type stream struct {
	conn      *wsconn.Conn
	events    chan stt.Event
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

func (s *stream) readLoop(ctx context.Context) {
	defer close(s.done)
	defer close(s.events)
	if err := s.conn.ReadLoop(ctx, func(data []byte) { s.handle(ctx, data) }); err != nil && ctx.Err() == nil {
		logger.Warn("deepgram stream ended", "error", logger.RedactSensitiveData(err.Error()))
	}
}

func (s *stream) handle(ctx context.Context, data []byte) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		logger.Warn("deepgram message decode failed", "error", err)
		return
	}

	switch api.TypeResponse(head.Type) {
	case api.TypeMessageResponse:
		ev, ok := decodeResult(data)
		if !ok {
			return
		}
		select {
		case s.events <- ev:
		case <-ctx.Done():
		}
	case api.TypeUtteranceEndResponse, api.TypeSpeechStartedResponse:
		logger.Debug("deepgram vad event", "type", head.Type)
	default:
		logger.Debug("deepgram message ignored", "type", head.Type)
	}
}

// decodeResult converts a Results message. Results with an empty transcript
// are still returned; they prove the stream is alive.
func decodeResult(data []byte) (stt.Event, bool) {
	var resp api.MessageResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		logger.Warn("deepgram result decode failed", "error", err)
		return stt.Event{}, false
	}
	ev := stt.Event{
		IsFinal:     resp.IsFinal,
		SpeechFinal: resp.SpeechFinal,
		Start:       resp.Start,
		Received:    time.Now(),
	}
	if len(resp.Channel.Alternatives) > 0 {
		alt := resp.Channel.Alternatives[0]
		ev.Text = strings.TrimSpace(alt.Transcript)
		ev.Confidence = alt.Confidence
	}
	return ev, true
}

func (s *stream) SendAudio(_ context.Context, frame []byte) error {
	if err := s.conn.WriteBinary(frame); err != nil {
		return stt.NewTranscriptionError(providerName, "send", "audio write failed", err, true)
	}
	return nil
}

func (s *stream) Events() <-chan stt.Event { return s.events }

// Close asks Deepgram to flush, then closes the socket.
func (s *stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		_ = s.conn.WriteJSON(struct {
			Type string `json:"type"`
		}{Type: string(api.TypeCloseStreamResponse)})
		err = s.conn.Close()
		s.cancel()
		<-s.done
	})
	return err
}
