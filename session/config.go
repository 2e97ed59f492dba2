package session

import (
	"time"

	"github.com/AltairaLabs/turnsync/config"
	"github.com/AltairaLabs/turnsync/silence"
	"github.com/AltairaLabs/turnsync/stt"
)

// Participant roles.
const (
	ParticipantCandidate   = "candidate"
	ParticipantInterviewer = "interviewer"
)

// Stop reasons recorded in ws_disconnect_total and sent as the close frame text.
const (
	StopClientDisconnect = "client_disconnect"
	StopCommand          = "stop_command"
	StopSocketClosed     = "socket_closed"
	StopMaxTurns         = "max_turns_reached"
	StopHeartbeatTimeout = "heartbeat_timeout"
	StopUnstableNoFinal  = silence.ReasonUnstableNoFinal
	StopUserSilent       = silence.ReasonUserSilent
	StopServerShutdown   = "server_shutdown"
)

// Reasons for dropping an inbound frame.
const (
	dropTooLarge    = "too_large"
	dropRateLimited = "rate_limited"
	dropInvalid     = "invalid"
)

const (
	minAudioFrame  = 320
	keepaliveBytes = 640
	eventStall     = 5 * time.Second
	qaLead         = 100 * time.Millisecond
)

// Config holds per-session tunables.
type Config struct {
	Silence       silence.Config
	Tick          time.Duration
	HesitationMin time.Duration
	HesitationMax time.Duration
	MaxTurns      int
	AutoNext      bool

	MaxTextBytes      int
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	TextRatePerSec    float64
	TextBurst         int

	Guard              stt.GuardConfig
	AllowBrowserSTT    bool
	QAMode             bool
	KeepaliveInterval  time.Duration
	KeepaliveAfterIdle time.Duration

	AnswerTimeout time.Duration
	Questions     []string
}

// DefaultConfig mirrors config.Default.
func DefaultConfig() Config {
	return FromConfig(config.Default())
}

// FromConfig extracts the session settings from the service configuration.
func FromConfig(c *config.Config) Config {
	guard := stt.DefaultGuardConfig()
	guard.StaleAfter = c.STT.StaleAfter
	guard.WatchdogInterval = c.STT.WatchdogInterval
	guard.MaxReconnects = c.STT.MaxReconnects

	return Config{
		Silence: silence.Config{
			FinalAfter:      c.Turn.SilenceFinalize,
			PartialAfter:    c.Turn.PartialFallback,
			HardTimeout:     c.Turn.HardTimeout,
			MinFinalWords:   c.Turn.MinFinalWords,
			MinPartialWords: c.Turn.MinPartialWords,
			MaxMissedFinals: c.Turn.MaxMissedFinals,
		},
		Tick:               silence.DefaultTick,
		HesitationMin:      c.Turn.HesitationMin,
		HesitationMax:      c.Turn.HesitationMax,
		MaxTurns:           c.Turn.MaxTurns,
		AutoNext:           c.Turn.AutoNext,
		MaxTextBytes:       c.Socket.MaxTextBytes,
		HeartbeatInterval:  c.Socket.HeartbeatInterval,
		HeartbeatTimeout:   c.Socket.HeartbeatTimeout,
		TextRatePerSec:     c.Socket.TextRatePerSec,
		TextBurst:          c.Socket.TextBurst,
		Guard:              guard,
		AllowBrowserSTT:    c.STT.AllowBrowserSTT,
		QAMode:             c.STT.QAMode,
		KeepaliveInterval:  c.STT.KeepaliveInterval,
		KeepaliveAfterIdle: c.STT.KeepaliveAfterIdle,
		AnswerTimeout:      c.Answer.Timeout,
		Questions:          c.Session.Questions,
	}
}
