package protocol

import (
	"time"

	"github.com/AltairaLabs/turnsync/roomstate"
	"github.com/AltairaLabs/turnsync/scoring"
)

// Header is embedded in every outbound message.
type Header struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	RoomID    string `json:"room_id,omitempty"`
}

// Kind returns the message type.
func (h Header) Kind() string { return h.Type }

// Message is any outbound message.
type Message interface {
	Kind() string
}

// QuestionMessage announces the question the candidate should answer.
type QuestionMessage struct {
	Header
	Question string `json:"question"`
}

// Question builds a question message.
func Question(sessionID, roomID, question string) QuestionMessage {
	return QuestionMessage{Header: Header{KindQuestion, sessionID, roomID}, Question: question}
}

// InterviewerQuestion builds an interviewer_question message.
func InterviewerQuestion(sessionID, roomID, question string) QuestionMessage {
	return QuestionMessage{Header: Header{KindInterviewerQuestion, sessionID, roomID}, Question: question}
}

// TextMessage carries transcript text.
type TextMessage struct {
	Header
	Text   string `json:"text"`
	TurnID string `json:"turn_id,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// PartialTranscript builds a partial_transcript message.
func PartialTranscript(sessionID, text string) TextMessage {
	return TextMessage{Header: Header{Type: KindPartialTranscript, SessionID: sessionID}, Text: text}
}

// Transcript builds the transcript message for a completed turn.
func Transcript(sessionID, turnID, reason, text string) TextMessage {
	return TextMessage{
		Header: Header{Type: KindTranscript, SessionID: sessionID},
		Text:   text,
		TurnID: turnID,
		Reason: reason,
	}
}

// TurnDecisionMessage reports the scorer's decision.
type TurnDecisionMessage struct {
	Header
	TurnID   string           `json:"turn_id"`
	Reason   string           `json:"reason"`
	Decision scoring.Decision `json:"decision"`
}

// TurnDecision builds a turn_decision message.
func TurnDecision(sessionID, turnID, reason string, d scoring.Decision) TurnDecisionMessage {
	return TurnDecisionMessage{
		Header:   Header{Type: KindTurnDecision, SessionID: sessionID},
		TurnID:   turnID,
		Reason:   reason,
		Decision: d,
	}
}

// AnswerMessage covers answer_suggestion_start, _done and answer_suggestion.
type AnswerMessage struct {
	Header
	Question   string `json:"question"`
	Suggestion string `json:"suggestion,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// AnswerStart builds answer_suggestion_start.
func AnswerStart(sessionID, roomID, question string) AnswerMessage {
	return AnswerMessage{Header: Header{KindAnswerStart, sessionID, roomID}, Question: question}
}

// AnswerDone builds answer_suggestion_done.
func AnswerDone(sessionID, roomID, question, suggestion, reason string) AnswerMessage {
	return AnswerMessage{
		Header:     Header{KindAnswerDone, sessionID, roomID},
		Question:   question,
		Suggestion: suggestion,
		Reason:     reason,
	}
}

// AnswerSuggestion builds the final answer_suggestion.
func AnswerSuggestion(sessionID, roomID, question, suggestion, reason string) AnswerMessage {
	return AnswerMessage{
		Header:     Header{KindAnswerSuggestion, sessionID, roomID},
		Question:   question,
		Suggestion: suggestion,
		Reason:     reason,
	}
}

// AnswerChunkMessage is one streamed fragment of a suggestion.
type AnswerChunkMessage struct {
	Header
	Question   string `json:"question"`
	Chunk      string `json:"chunk"`
	Index      int    `json:"index"`
	IsThinking bool   `json:"is_thinking,omitempty"`
}

// AnswerChunk builds an answer_suggestion_chunk.
func AnswerChunk(sessionID, roomID, question, chunk string, index int) AnswerChunkMessage {
	return AnswerChunkMessage{
		Header:   Header{KindAnswerChunk, sessionID, roomID},
		Question: question,
		Chunk:    chunk,
		Index:    index,
	}
}

// ThinkingChunk builds the index 0 placeholder chunk.
func ThinkingChunk(sessionID, roomID, question string) AnswerChunkMessage {
	m := AnswerChunk(sessionID, roomID, question, ThinkingIndicator, 0)
	m.IsThinking = true
	return m
}

// NoticeMessage carries a human readable message.
type NoticeMessage struct {
	Header
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// WaitingForInterviewer builds waiting_for_interviewer.
func WaitingForInterviewer(sessionID, roomID, message string) NoticeMessage {
	return NoticeMessage{Header: Header{KindWaitingForInterviewer, sessionID, roomID}, Message: message}
}

// STTWarning builds stt_warning.
func STTWarning(sessionID, code, message string) NoticeMessage {
	return NoticeMessage{Header: Header{Type: KindSTTWarning, SessionID: sessionID}, Code: code, Message: message}
}

// SyncStateMessage mirrors the shared room state.
type SyncStateMessage struct {
	Header
	ActiveQuestion  string  `json:"active_question"`
	PartialAnswer   string  `json:"partial_answer"`
	IsStreaming     bool    `json:"is_streaming"`
	AssistIntensity int     `json:"assist_intensity"`
	UpdatedAt       float64 `json:"updated_at"`
}

// SyncState builds sync_state from st. Missing fields fall back to the
// session's own intensity and the current time.
func SyncState(sessionID, roomID string, st roomstate.State, intensity int, now time.Time) SyncStateMessage {
	if st.AssistIntensity > 0 {
		intensity = st.AssistIntensity
	}
	updated := st.UpdatedAt
	if updated == 0 {
		updated = float64(now.UnixNano()) / 1e9
	}
	return SyncStateMessage{
		Header:          Header{KindSyncState, sessionID, roomID},
		ActiveQuestion:  st.ActiveQuestion,
		PartialAnswer:   st.PartialAnswer,
		IsStreaming:     st.IsStreaming,
		AssistIntensity: intensity,
		UpdatedAt:       updated,
	}
}

// HeartbeatMessage is ping or pong.
type HeartbeatMessage struct {
	Header
	TS float64 `json:"ts"`
}

// Ping builds a server ping.
func Ping(sessionID string, now time.Time) HeartbeatMessage {
	return HeartbeatMessage{Header: Header{Type: KindPing, SessionID: sessionID}, TS: float64(now.UnixNano()) / 1e9}
}

// Pong answers a client ping.
func Pong(sessionID string, now time.Time) HeartbeatMessage {
	return HeartbeatMessage{Header: Header{Type: KindPong, SessionID: sessionID}, TS: float64(now.UnixNano()) / 1e9}
}

// RoomAssigned tells the client which room it was placed in.
func RoomAssigned(sessionID, roomID string) Header {
	return Header{Type: KindRoomAssigned, SessionID: sessionID, RoomID: roomID}
}
