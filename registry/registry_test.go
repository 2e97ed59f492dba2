package registry

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSocket struct {
	mu     sync.Mutex
	frames [][]byte
	kinds  []int
	fail   error
	closed bool
}

func (f *fakeSocket) WriteMessage(kind int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.kinds = append(f.kinds, kind)
	f.frames = append(f.frames, append([]byte(nil), data...))
	return nil
}

func (f *fakeSocket) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeSocket) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeSocket) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for i, frame := range f.frames {
		if f.kinds[i] == websocket.TextMessage {
			out = append(out, string(frame))
		}
	}
	return out
}

func TestConnSendJSON(t *testing.T) {
	sock := &fakeSocket{}
	c := NewConn("c1", "s1", "r1", "candidate", sock)

	require.NoError(t, c.SendJSON(map[string]string{"type": "ping"}))
	assert.Equal(t, []string{`{"type":"ping"}`}, sock.texts())
}

func TestConnCloseStopsSends(t *testing.T) {
	sock := &fakeSocket{}
	c := NewConn("c1", "s1", "r1", "candidate", sock)

	require.NoError(t, c.Close(websocket.CloseNormalClosure, "bye"))
	assert.True(t, c.Closed())
	assert.True(t, sock.closed)
	assert.ErrorIs(t, c.SendText([]byte("{}")), ErrConnClosed)
	assert.NoError(t, c.Close(websocket.CloseNormalClosure, "again"))
}

func TestConnectionsRoomMembership(t *testing.T) {
	reg := NewConnections()
	a := NewConn("a", "s1", "room-1", "candidate", &fakeSocket{})
	b := NewConn("b", "s2", "room-1", "interviewer", &fakeSocket{})
	c := NewConn("c", "s3", "room-2", "candidate", &fakeSocket{})

	assert.Equal(t, 1, reg.Register(a))
	assert.Equal(t, 1, reg.Register(b))
	assert.Equal(t, 2, reg.Register(c))
	assert.Len(t, reg.Members("room-1"), 2)
	assert.Equal(t, 3, reg.Len())

	assert.Equal(t, 2, reg.Unregister(a))
	assert.Equal(t, 1, reg.Unregister(b))
	assert.Empty(t, reg.Members("room-1"))
	assert.Equal(t, 1, reg.Rooms())
}

func TestConnectionsBroadcastExcludesSender(t *testing.T) {
	reg := NewConnections()
	sa, sb, sc := &fakeSocket{}, &fakeSocket{}, &fakeSocket{}
	a := NewConn("a", "s1", "room-1", "candidate", sa)
	b := NewConn("b", "s2", "room-1", "interviewer", sb)
	c := NewConn("c", "s3", "room-2", "candidate", sc)
	reg.Register(a)
	reg.Register(b)
	reg.Register(c)

	sent := reg.Broadcast("room-1", []byte(`{"type":"sync_state"}`), a)

	assert.Equal(t, 1, sent)
	assert.Empty(t, sa.texts())
	assert.Equal(t, []string{`{"type":"sync_state"}`}, sb.texts())
	assert.Empty(t, sc.texts())
}

func TestConnectionsBroadcastSkipsFailingMember(t *testing.T) {
	reg := NewConnections()
	bad := &fakeSocket{fail: errors.New("broken pipe")}
	good := &fakeSocket{}
	reg.Register(NewConn("bad", "s1", "room-1", "candidate", bad))
	reg.Register(NewConn("good", "s2", "room-1", "interviewer", good))

	assert.Equal(t, 1, reg.Broadcast("room-1", []byte(`{}`), nil))
	assert.Len(t, good.texts(), 1)
	assert.Equal(t, 0, reg.Broadcast("", []byte(`{}`), nil))
}

func TestConnectionsCloseAll(t *testing.T) {
	reg := NewConnections()
	sa, sb := &fakeSocket{}, &fakeSocket{}
	reg.Register(NewConn("a", "s1", "room-1", "candidate", sa))
	reg.Register(NewConn("b", "s2", "", "candidate", sb))

	reg.CloseAll(websocket.CloseGoingAway, "server_shutdown")

	assert.True(t, sa.closed)
	assert.True(t, sb.closed)
}

func TestSessionsLifecycle(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := NewSessions()
	s.now = func() time.Time { return now }

	s.Register("s1", "room-1", "candidate")
	info, ok := s.Get("s1")
	require.True(t, ok)
	assert.True(t, info.Active)
	assert.Equal(t, "room-1", info.RoomID)

	now = now.Add(5 * time.Second)
	s.Touch("s1")
	info, _ = s.Get("s1")
	assert.Equal(t, now, info.UpdatedAt)

	s.MarkInactive("s1")
	info, _ = s.Get("s1")
	assert.False(t, info.Active)
	assert.Equal(t, 0, s.Active())

	_, ok = s.Get("missing")
	assert.False(t, ok)
}

func TestSessionsCleanupInactive(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := NewSessions()
	s.now = func() time.Time { return now }

	s.Register("ended", "", "candidate")
	s.MarkInactive("ended")
	s.Register("live", "", "candidate")

	now = now.Add(20 * time.Second)
	// ttl below the floor is raised to 30s
	assert.Equal(t, 0, s.CleanupInactive(time.Second))

	now = now.Add(15 * time.Second)
	assert.Equal(t, 1, s.CleanupInactive(time.Second))

	_, ok := s.Get("ended")
	assert.False(t, ok)
	_, ok = s.Get("live")
	assert.True(t, ok)
}
