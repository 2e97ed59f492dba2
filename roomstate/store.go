// Package roomstate stores the small, advisory state shared by every
// participant of an interview room: the active question, the answer being
// streamed, and the assist intensity.
//
// Writes are last-writer-wins per field. Nothing here is durable beyond the
// configured TTL.
package roomstate

import (
	"context"
	"errors"
	"time"
)

// DefaultAssistIntensity applies when a room has never set one.
const DefaultAssistIntensity = 2

// ErrInvalidRoomID is returned for an empty room id.
var ErrInvalidRoomID = errors.New("invalid room id")

// State is a snapshot of one room.
type State struct {
	ActiveQuestion  string  `json:"active_question"`
	PartialAnswer   string  `json:"partial_answer"`
	IsStreaming     bool    `json:"is_streaming"`
	AssistIntensity int     `json:"assist_intensity"`
	UpdatedAt       float64 `json:"updated_at"`
}

// Empty reports whether the room has no active question.
func (s State) Empty() bool { return s.ActiveQuestion == "" }

func defaultState() State {
	return State{AssistIntensity: DefaultAssistIntensity}
}

// Update is a partial write. Nil fields are left unchanged.
type Update struct {
	ActiveQuestion  *string
	PartialAnswer   *string
	IsStreaming     *bool
	AssistIntensity *int

	// At overrides the write timestamp, mainly for tests.
	At time.Time
}

// Ptr returns a pointer to v, for building Updates.
func Ptr[T any](v T) *T { return &v }

func (u Update) timestamp() float64 {
	at := u.At
	if at.IsZero() {
		at = time.Now()
	}
	return float64(at.UnixNano()) / float64(time.Second)
}

// apply merges u into s.
func (u Update) apply(s State) State {
	if u.ActiveQuestion != nil {
		s.ActiveQuestion = *u.ActiveQuestion
	}
	if u.PartialAnswer != nil {
		s.PartialAnswer = *u.PartialAnswer
	}
	if u.IsStreaming != nil {
		s.IsStreaming = *u.IsStreaming
	}
	if u.AssistIntensity != nil {
		s.AssistIntensity = *u.AssistIntensity
	}
	s.AssistIntensity = max(1, s.AssistIntensity)
	s.UpdatedAt = u.timestamp()
	return s
}

// Store is shared room state.
type Store interface {
	// Get returns the room state, or defaults for an unknown room.
	Get(ctx context.Context, roomID string) (State, error)

	// Update merges u into the room state and returns the result.
	Update(ctx context.Context, roomID string, u Update) (State, error)

	// AddMember records a connection in the room.
	AddMember(ctx context.Context, roomID, connectionID string) error

	// RemoveMember removes a connection from the room.
	RemoveMember(ctx context.Context, roomID, connectionID string) error

	// Members lists connection ids in the room.
	Members(ctx context.Context, roomID string) ([]string, error)

	// Close releases backing resources.
	Close() error
}
