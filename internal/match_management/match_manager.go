package match_management

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"peerprep/matching/internal/models"
	"peerprep/matching/internal/store"
	"peerprep/matching/internal/utils"
)

const (
	// WaitingTimeout bounds how long an unmatched entry stays queued.
	WaitingTimeout = 60 * time.Second
	// MatchRecordTTL bounds the match-then-confirm handshake window.
	MatchRecordTTL = 60 * time.Second
	// SessionTTL is a failure-safety net, not a primary control path.
	SessionTTL = time.Hour
)

// QuestionFetcher fetches one practice question for the given filters.
type QuestionFetcher interface {
	FetchQuestion(ctx context.Context, difficulty, topic string) (*models.Question, error)
}

// UsernameResolver resolves a display name, degrading to a placeholder
// on failure.
type UsernameResolver interface {
	GetUsername(ctx context.Context, userID string) string
}

// RoomLeaver handles leaving a custom room; sessions backed by custom
// rooms delegate their teardown to the room registry.
type RoomLeaver interface {
	LeaveRoom(ctx context.Context, userID string) (models.EndSessionResponse, error)
}

// MatchManager owns the waiting queue, the match handshake and the
// session lifecycle. It holds no matching state in memory; every
// coordination between concurrent requests goes through the store.
type MatchManager struct {
	store     *store.Store
	queue     *WaitingQueue
	questions QuestionFetcher
	users     UsernameResolver
	rooms     RoomLeaver
	notifier  *Notifier
	logger    *zap.Logger
}

func NewMatchManager(st *store.Store, questions QuestionFetcher, users UsernameResolver, logger *zap.Logger) *MatchManager {
	return &MatchManager{
		store:     st,
		queue:     NewWaitingQueue(st),
		questions: questions,
		users:     users,
		notifier:  NewNotifier(logger),
		logger:    logger,
	}
}

// SetRoomLeaver wires the custom room registry in after construction;
// the two managers are built independently in main.
func (m *MatchManager) SetRoomLeaver(rooms RoomLeaver) {
	m.rooms = rooms
}

// allocateRoomID issues a fresh room id via the shared counter and
// registers it in the active-room set. Ids are never reused while the
// room is active.
func (m *MatchManager) allocateRoomID(ctx context.Context) (string, error) {
	n, err := m.store.Incr(ctx, store.KeyRoomCounter)
	if err != nil {
		return "", err
	}
	roomID := fmt.Sprintf("room-%d", n)
	if err := m.store.SetAdd(ctx, store.KeyActiveRooms, roomID); err != nil {
		return "", err
	}
	return roomID, nil
}

// freeRoomID removes a room id from the active set.
func (m *MatchManager) freeRoomID(ctx context.Context, roomID string) {
	if err := m.store.SetRem(ctx, store.KeyActiveRooms, roomID); err != nil {
		m.logger.Warn("failed to free room id", zap.String("roomId", roomID), zap.Error(err))
	}
}

// fetchQuestionWithFallback walks a descending-specificity filter
// chain and stops at the first success. All three attempts failing
// fails the whole confirmation.
func (m *MatchManager) fetchQuestionWithFallback(ctx context.Context, difficulty, topic string) (*models.Question, error) {
	filters := []struct{ difficulty, topic string }{
		{difficulty, topic},
		{difficulty, ""},
		{"", topic},
	}

	var lastErr error
	for _, f := range filters {
		if f.difficulty == "" && f.topic == "" {
			continue
		}
		question, err := m.questions.FetchQuestion(ctx, f.difficulty, f.topic)
		if err == nil {
			return question, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("all question lookups failed: %w", lastErr)
}

// deriveCriterion implements the confirmation precedence chain: the
// value both sides agree on wins, then own criteria in confirmation
// order, then the matched-partner records.
func deriveCriterion(mine, theirs, mineRecorded, theirsRecorded string) string {
	if mine != "" && mine == theirs {
		return mine
	}
	for _, v := range []string{mine, theirs, mineRecorded, theirsRecorded} {
		if v != "" {
			return v
		}
	}
	return ""
}

func callerID(r *http.Request) (string, bool) {
	return utils.UserIDFromContext(r.Context())
}

func jsonOK(w http.ResponseWriter, payload any) {
	utils.JSON(w, http.StatusOK, payload)
}

func jsonError(w http.ResponseWriter, status int, message string) {
	utils.JSONError(w, status, message)
}
