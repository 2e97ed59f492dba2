package roomstate

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultStateTTL = 24 * time.Hour

// Hash fields of room:{id}:state.
const (
	fieldActiveQuestion  = "active_question"
	fieldPartialAnswer   = "partial_answer"
	fieldIsStreaming     = "is_streaming"
	fieldAssistIntensity = "assist_intensity"
	fieldUpdatedAt       = "updated_at"
)

// RedisStore keeps room state in a Redis hash and membership in a set:
//
//	room:{id}:state    hash
//	room:{id}:members  set
//
// Updates write only the fields they carry, so concurrent writers touching
// different fields do not clobber each other.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithTTL sets the expiry refreshed on every write. Zero disables expiry.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) { s.ttl = ttl }
}

// NewRedisStore creates a store on client.
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, ttl: defaultStateTTL}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func stateKey(roomID string) string   { return "room:" + roomID + ":state" }
func membersKey(roomID string) string { return "room:" + roomID + ":members" }

// Get reads room:{id}:state. A missing hash yields the defaults.
func (s *RedisStore) Get(ctx context.Context, roomID string) (State, error) {
	if roomID == "" {
		return State{}, ErrInvalidRoomID
	}
	data, err := s.client.HGetAll(ctx, stateKey(roomID)).Result()
	if err != nil {
		return State{}, fmt.Errorf("redis hgetall failed: %w", err)
	}
	return decodeState(data), nil
}

// Update writes the fields set in u with a fresh timestamp and refreshes the TTL.
func (s *RedisStore) Update(ctx context.Context, roomID string, u Update) (State, error) {
	if roomID == "" {
		return State{}, ErrInvalidRoomID
	}

	fields := map[string]any{
		fieldUpdatedAt: strconv.FormatFloat(u.timestamp(), 'f', 6, 64),
	}
	if u.ActiveQuestion != nil {
		fields[fieldActiveQuestion] = *u.ActiveQuestion
	}
	if u.PartialAnswer != nil {
		fields[fieldPartialAnswer] = *u.PartialAnswer
	}
	if u.IsStreaming != nil {
		b, _ := json.Marshal(*u.IsStreaming)
		fields[fieldIsStreaming] = string(b)
	}
	if u.AssistIntensity != nil {
		fields[fieldAssistIntensity] = strconv.Itoa(max(1, *u.AssistIntensity))
	}

	key := stateKey(roomID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	all := pipe.HGetAll(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return State{}, fmt.Errorf("redis pipeline failed: %w", err)
	}
	return decodeState(all.Val()), nil
}

func decodeState(data map[string]string) State {
	st := defaultState()
	if len(data) == 0 {
		return st
	}
	st.ActiveQuestion = data[fieldActiveQuestion]
	st.PartialAnswer = data[fieldPartialAnswer]
	switch strings.ToLower(data[fieldIsStreaming]) {
	case "1", "true", "yes", "on":
		st.IsStreaming = true
	}
	if n, err := strconv.Atoi(data[fieldAssistIntensity]); err == nil {
		st.AssistIntensity = max(1, n)
	}
	if f, err := strconv.ParseFloat(data[fieldUpdatedAt], 64); err == nil {
		st.UpdatedAt = f
	}
	return st
}

// AddMember adds connectionID to room:{id}:members and refreshes the TTL.
func (s *RedisStore) AddMember(ctx context.Context, roomID, connectionID string) error {
	if roomID == "" {
		return ErrInvalidRoomID
	}
	if connectionID == "" {
		return nil
	}
	key := membersKey(roomID)
	pipe := s.client.Pipeline()
	pipe.SAdd(ctx, key, connectionID)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	return nil
}

// RemoveMember removes connectionID from room:{id}:members.
func (s *RedisStore) RemoveMember(ctx context.Context, roomID, connectionID string) error {
	if roomID == "" {
		return ErrInvalidRoomID
	}
	if err := s.client.SRem(ctx, membersKey(roomID), connectionID).Err(); err != nil {
		return fmt.Errorf("redis srem failed: %w", err)
	}
	return nil
}

// Members returns the sorted members of room:{id}:members.
func (s *RedisStore) Members(ctx context.Context, roomID string) ([]string, error) {
	if roomID == "" {
		return nil, ErrInvalidRoomID
	}
	ids, err := s.client.SMembers(ctx, membersKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers failed: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error { return s.client.Close() }
