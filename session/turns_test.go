package session

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AltairaLabs/turnsync/protocol"
	"github.com/AltairaLabs/turnsync/scoring"
)

func startHub(t *testing.T, h *Hub, p Params) *clientSocket {
	t.Helper()
	sock := newClientSocket()
	ctx, cancel := context.WithCancel(context.Background())
	done := serve(ctx, h, sock, p)
	t.Cleanup(func() {
		cancel()
		waitDone(t, done)
	})
	sock.waitFor(t, "question", nil)
	return sock
}

func TestTypedAndSpokenQuestionAnnouncedOnce(t *testing.T) {
	for _, role := range []string{ParticipantCandidate, ParticipantInterviewer} {
		t.Run(role, func(t *testing.T) {
			stream := newFakeStream()
			h := newTestHub(t, testConfig(), WithDialer(streamDialer(stream)), WithGenerator(fixedGenerator("Majority ", "votes.")))
			sock := startHub(t, h, Params{SessionID: "s1", Participant: role})

			sock.sendJSON(t, map[string]string{"type": "interviewer_question", "text": "What is Raft consensus?"})
			sock.waitFor(t, "interviewer_question", nil)

			stream.say("what is raft consensus", true)
			stream.say("and the leader", false)
			sock.waitFor(t, "partial_transcript", field("text", "and the leader"))

			assert.Len(t, sock.messages("interviewer_question"), 1)
			assert.Len(t, sock.messages("answer_suggestion_start"), 1)
		})
	}
}

func TestDegradedTranscriptionKeepsSessionAlive(t *testing.T) {
	cfg := testConfig()
	cfg.Silence.HardTimeout = 200 * time.Millisecond
	cfg.Guard.BackoffBase = time.Millisecond
	cfg.Guard.BackoffMax = 2 * time.Millisecond
	stream := newFakeStream()
	h := newTestHub(t, cfg, WithDialer(degradingDialer(stream)))
	before := disconnects(t, StopUnstableNoFinal)

	sock := newClientSocket()
	ctx, cancel := context.WithCancel(context.Background())
	done := serve(ctx, h, sock, Params{SessionID: "s1"})
	defer func() {
		cancel()
		waitDone(t, done)
	}()
	sock.waitFor(t, "question", nil)

	require.NoError(t, stream.Close())
	sock.waitFor(t, "stt_warning", field("code", protocol.WarnSTTDegraded))

	// audio keeps arriving, hard timeouts come and go
	for i := 0; i < 6; i++ {
		sock.sendAudio(640)
		time.Sleep(cfg.Silence.HardTimeout)
	}
	sock.roundTrip(t)

	select {
	case <-done:
		_, reason := sock.closeFrame()
		t.Fatalf("degraded session stopped with %q", reason)
	default:
	}
	for _, w := range sock.messages("stt_warning") {
		assert.NotEqual(t, "final_transcript_missing", w["code"])
	}
	assert.Equal(t, before, disconnects(t, StopUnstableNoFinal))
}

func TestSilentCandidateStopsAsUserSilent(t *testing.T) {
	cfg := testConfig()
	cfg.Silence.HardTimeout = 100 * time.Millisecond
	stream := newFakeStream()
	h := newTestHub(t, cfg, WithDialer(streamDialer(stream)))

	sock := newClientSocket()
	done := serve(context.Background(), h, sock, Params{SessionID: "s1"})
	sock.waitFor(t, "question", nil)

	waitDone(t, done)
	_, reason := sock.closeFrame()
	assert.Equal(t, StopUserSilent, reason)
	sock.waitFor(t, "stt_warning", field("code", "no_speech_detected"))
}

func TestNewQuestionDuringScoringWins(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	scorer := scoring.ScorerFunc(func(ctx context.Context, _ scoring.Turn) (scoring.Decision, error) {
		if calls.Add(1) == 1 {
			select {
			case <-release:
			case <-ctx.Done():
				return scoring.Decision{}, ctx.Err()
			}
		}
		return scoring.Decision{NextQuestion: "Any questions for us?", Confidence: 0.8}, nil
	})
	stream := newFakeStream()
	h := newTestHub(t, testConfig(),
		WithDialer(streamDialer(stream)),
		WithScorer(func() scoring.Scorer { return scorer }),
		WithGenerator(fixedGenerator("Split ", "keys.")))
	sock := startHub(t, h, Params{SessionID: "s1"})

	stream.say("I would shard the ledger by tenant", true)
	require.Eventually(t, func() bool { return calls.Load() == 1 }, waitTimeout, 5*time.Millisecond)

	sock.sendJSON(t, map[string]string{"type": "interviewer_question", "text": "How do you handle hot partitions?"})
	sock.waitFor(t, "interviewer_question", nil)
	close(release)

	stream.say("I would split hot keys across more partitions", true)
	tr := sock.waitFor(t, "transcript", nil)
	assert.Equal(t, "I would split hot keys across more partitions", tr["text"])
	sock.waitFor(t, "question", field("question", "Any questions for us?"))

	assert.Len(t, sock.messages("transcript"), 1)
	assert.Len(t, sock.messages("turn_decision"), 1)
	assert.Empty(t, sock.messages("waiting_for_interviewer"))
}

func TestScorerFailureReopensTurnWithText(t *testing.T) {
	var calls atomic.Int32
	scorer := scoring.ScorerFunc(func(context.Context, scoring.Turn) (scoring.Decision, error) {
		if calls.Add(1) == 1 {
			return scoring.Decision{}, errors.New("scoring backend down")
		}
		return scoring.Decision{NextQuestion: "Why redis?", Confidence: 0.7}, nil
	})
	stream := newFakeStream()
	h := newTestHub(t, testConfig(),
		WithDialer(streamDialer(stream)),
		WithScorer(func() scoring.Scorer { return scorer }))
	sock := startHub(t, h, Params{SessionID: "s1"})

	stream.say("We cached the hot reads in redis", true)

	tr := sock.waitFor(t, "transcript", nil)
	assert.Equal(t, "We cached the hot reads in redis", tr["text"])
	assert.Equal(t, "final", tr["reason"])
	assert.GreaterOrEqual(t, calls.Load(), int32(2))
	sock.waitFor(t, "question", field("question", "Why redis?"))
	assert.Len(t, sock.messages("transcript"), 1)
	assert.Len(t, sock.messages("turn_decision"), 1)
}

func TestSessionsInOneRoomStayIsolated(t *testing.T) {
	streamA, streamB := newFakeStream(), newFakeStream()
	h := newTestHub(t, testConfig(), WithDialer(queueDialer(streamA, streamB)))
	a := startHub(t, h, Params{SessionID: "a", RoomID: "r1"})
	b := startHub(t, h, Params{SessionID: "b", RoomID: "r1"})

	a.sendJSON(t, map[string]string{"type": "set_question", "question": "Walk me through your caching layer"})
	b.sendJSON(t, map[string]string{"type": "set_question", "question": "How do you run incident reviews?"})
	a.waitFor(t, "question", field("question", "Walk me through your caching layer"))
	b.waitFor(t, "question", field("question", "How do you run incident reviews?"))

	streamA.say("alpha partial about caching", false)
	a.waitFor(t, "partial_transcript", nil)
	streamA.say("We cached reads behind a write through layer", true)
	streamB.say("We run blameless reviews within two days", true)

	trA := a.waitFor(t, "transcript", nil)
	trB := b.waitFor(t, "transcript", nil)
	assert.Equal(t, "We cached reads behind a write through layer", trA["text"])
	assert.Equal(t, "We run blameless reviews within two days", trB["text"])
	assert.NotEqual(t, trA["turn_id"], trB["turn_id"])

	b.roundTrip(t)
	assert.Empty(t, b.messages("partial_transcript"))
	for _, m := range b.messages("transcript") {
		assert.Equal(t, "b", m["session_id"])
	}
	for _, m := range a.messages("transcript") {
		assert.Equal(t, "a", m["session_id"])
	}
	assert.Len(t, a.messages("turn_decision"), 1)
	assert.Len(t, b.messages("turn_decision"), 1)
}

// roomCheckSocket records the room membership seen when the socket is closed.
type roomCheckSocket struct {
	*clientSocket
	hub   *Hub
	local atomic.Int32
	store atomic.Int32
}

func (s *roomCheckSocket) Close() error {
	s.local.Store(int32(len(s.hub.Connections().Members("r1"))))
	members, _ := s.hub.store.Members(context.Background(), "r1")
	s.store.Store(int32(len(members)))
	return s.clientSocket.Close()
}

func TestTeardownLeavesRoomBeforeClosingSocket(t *testing.T) {
	h := newTestHub(t, testConfig())
	sock := &roomCheckSocket{clientSocket: newClientSocket(), hub: h}
	sock.local.Store(-1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Serve(context.Background(), sock, Params{SessionID: "s1", RoomID: "r1"})
	}()
	sock.waitFor(t, "question", nil)
	require.Len(t, h.Connections().Members("r1"), 1)

	sock.sendJSON(t, map[string]string{"type": "stop"})
	waitDone(t, done)
	assert.Equal(t, int32(0), sock.local.Load())
	assert.Equal(t, int32(0), sock.store.Load())
}
