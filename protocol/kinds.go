// Package protocol defines the JSON messages exchanged on /ws/voice.
package protocol

// Inbound message kinds.
const (
	KindInterviewerQuestion  = "interviewer_question"
	KindSetQuestion          = "set_question"
	KindCandidateTranscript  = "candidate_transcript"
	KindQATranscript         = "qa_transcript"
	KindStop                 = "stop"
	KindStopAnswerGeneration = "stop_answer_generation"
	KindSyncStateRequest     = "sync_state_request"
	KindPing                 = "ping"
	KindPong                 = "pong"
)

// Outbound message kinds. ping, pong and interviewer_question are shared with
// the inbound set.
const (
	KindQuestion              = "question"
	KindPartialTranscript     = "partial_transcript"
	KindTranscript            = "transcript"
	KindTurnDecision          = "turn_decision"
	KindAnswerStart           = "answer_suggestion_start"
	KindAnswerChunk           = "answer_suggestion_chunk"
	KindAnswerDone            = "answer_suggestion_done"
	KindAnswerSuggestion      = "answer_suggestion"
	KindWaitingForInterviewer = "waiting_for_interviewer"
	KindSyncState             = "sync_state"
	KindSTTWarning            = "stt_warning"
	KindRoomAssigned          = "room_assigned"
)

// stt_warning codes.
const (
	WarnSTTUnavailable          = "stt_unavailable"
	WarnSTTDegraded             = "stt_degraded"
	WarnSTTStreamError          = "stt_stream_error"
	WarnBrowserFallbackDisabled = "browser_fallback_disabled"
)

// ThinkingIndicator is the text of the index 0 chunk sent before generation output.
const ThinkingIndicator = "▸ "
