package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AltairaLabs/turnsync/question"
)

func startWithStream(t *testing.T, cfg Config, p Params) (*clientSocket, *fakeStream) {
	t.Helper()
	stream := newFakeStream()
	h := newTestHub(t, cfg, WithDialer(streamDialer(stream)), WithGenerator(fixedGenerator("Start ", "with ", "impact.")))
	sock := newClientSocket()
	ctx, cancel := context.WithCancel(context.Background())
	done := serve(ctx, h, sock, p)
	t.Cleanup(func() {
		cancel()
		waitDone(t, done)
	})
	sock.waitFor(t, "question", nil)
	return sock, stream
}

func TestUpstreamFinalCompletesTurn(t *testing.T) {
	sock, stream := startWithStream(t, testConfig(), Params{SessionID: "s1"})

	stream.say("I owned the on call rotation", false)
	sock.waitFor(t, "partial_transcript", field("text", "I owned the on call rotation"))
	stream.say("I owned the on call rotation for payments", true)

	tr := sock.waitFor(t, "transcript", nil)
	assert.Equal(t, "I owned the on call rotation for payments", tr["text"])
	assert.Equal(t, "final", tr["reason"])
	assert.Empty(t, sock.messages("stt_warning"))
}

func TestUpstreamPartialFallback(t *testing.T) {
	sock, stream := startWithStream(t, testConfig(), Params{SessionID: "s1"})

	stream.say("so the way we handled retries was exponential backoff with jitter", false)

	tr := sock.waitFor(t, "transcript", nil)
	assert.Equal(t, "partial_fallback", tr["reason"])
	assert.Equal(t, "so the way we handled retries was exponential backoff with jitter", tr["text"])
	sock.waitFor(t, "stt_warning", field("code", "partial_fallback_used"))
}

func TestShortFinalWaitsForMoreWords(t *testing.T) {
	sock, stream := startWithStream(t, testConfig(), Params{SessionID: "s1"})

	stream.say("yes indeed", true)
	time.Sleep(150 * time.Millisecond)
	assert.Empty(t, sock.messages("transcript"))
}

func TestCandidateStreamQuestionIsAnnounced(t *testing.T) {
	sock, stream := startWithStream(t, testConfig(), Params{SessionID: "s1"})

	q := "Can you describe a time you handled a production outage?"
	stream.say(q, true)

	sock.waitFor(t, "interviewer_question", field("question", q))
	sock.waitFor(t, "answer_suggestion_start", field("question", q))
	done := sock.waitFor(t, "answer_suggestion_done", field("question", q))
	assert.Equal(t, "completed", done["reason"])
	final := sock.waitFor(t, "answer_suggestion", nil)
	assert.Equal(t, "Start with impact.", final["suggestion"])

	// the same question again within the window is ignored
	stream.say(q, true)
	sock.roundTrip(t)
	time.Sleep(30 * time.Millisecond)
	assert.Len(t, sock.messages("interviewer_question"), 1)
}

func TestPendingPartialQuestionIsPromoted(t *testing.T) {
	cfg := testConfig()
	cfg.Silence.PartialAfter = 5 * time.Second
	sock, stream := startWithStream(t, cfg, Params{SessionID: "s1"})

	q := "What is the hardest bug you have fixed?"
	stream.say(q, false)

	// terminal punctuation promotes after half a second of quiet
	got := sock.waitFor(t, "interviewer_question", nil)
	assert.Equal(t, q, got["question"])
}

func TestAudioFramesForwarded(t *testing.T) {
	sock, stream := startWithStream(t, testConfig(), Params{SessionID: "s1"})

	sock.sendAudio(100)
	sock.sendAudio(640)
	require.Eventually(t, func() bool { return stream.frameCount() == 1 }, waitTimeout, 5*time.Millisecond)
	sock.roundTrip(t)
	assert.Equal(t, 1, stream.frameCount())
}

func TestStreamErrorWarnsOnce(t *testing.T) {
	sock, stream := startWithStream(t, testConfig(), Params{SessionID: "s1"})
	stream.failSends(errors.New("broken pipe"))

	sock.sendAudio(640)
	sock.sendAudio(640)
	sock.sendAudio(640)
	require.Eventually(t, func() bool { return stream.frameCount() >= 3 }, waitTimeout, 5*time.Millisecond)
	sock.roundTrip(t)

	warnings := sock.messages("stt_warning")
	require.Len(t, warnings, 1)
	assert.Equal(t, "stt_stream_error", warnings[0]["code"])
}

func TestKeepaliveWhileIdle(t *testing.T) {
	cfg := testConfig()
	cfg.KeepaliveInterval = 10 * time.Millisecond
	cfg.KeepaliveAfterIdle = 20 * time.Millisecond
	_, stream := startWithStream(t, cfg, Params{SessionID: "s1"})

	require.Eventually(t, func() bool { return stream.frameCount() >= 2 }, waitTimeout, 5*time.Millisecond)
}

func TestWaitingPlaceholderIgnoresAnswers(t *testing.T) {
	sock, stream := startWithStream(t, testConfig(), Params{SessionID: "s1", RoomID: "r1"})
	require.Equal(t, question.WaitingPlaceholder, sock.messages("question")[0]["question"])

	stream.say("I would start by profiling the service", true)
	time.Sleep(150 * time.Millisecond)
	assert.Empty(t, sock.messages("transcript"))
}

func TestStopAnswerGeneration(t *testing.T) {
	stream := newFakeStream()
	h := newTestHub(t, testConfig(), WithDialer(streamDialer(stream)), WithGenerator(blockingGenerator()))
	sock := newClientSocket()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := serve(ctx, h, sock, Params{SessionID: "s1", Participant: ParticipantInterviewer})
	sock.waitFor(t, "question", nil)

	sock.sendJSON(t, map[string]string{"type": "interviewer_question", "text": "How would you design a rate limiter?"})
	sock.waitFor(t, "answer_suggestion_start", nil)
	sock.sendJSON(t, map[string]string{"type": "stop_answer_generation"})

	got := sock.waitFor(t, "answer_suggestion_done", nil)
	assert.Equal(t, "cancelled", got["reason"])
	assert.Empty(t, sock.messages("answer_suggestion"))

	cancel()
	waitDone(t, done)
}
