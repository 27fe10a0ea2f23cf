package room_management

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"peerprep/matching/internal/match_management"
	"peerprep/matching/internal/metrics"
	"peerprep/matching/internal/models"
	"peerprep/matching/internal/store"
)

const (
	// RoomTTL bounds a custom room and everything keyed off its code.
	RoomTTL = 2 * time.Hour
	// MinPasswordLength is the validation floor for room passwords.
	MinPasswordLength = 4

	roomCodeBytes     = 4 // 8 hex chars
	maxCodeGenRetries = 5
)

var (
	ErrNoSession     = errors.New("no active session")
	ErrNotCustomRoom = errors.New("session is not a custom room")
)

// RoomManager owns the password-gated custom room registry. Custom
// rooms bypass the matchmaker entirely; creating one is confirmation
// for the creator.
type RoomManager struct {
	store     *store.Store
	queue     *match_management.WaitingQueue
	questions match_management.QuestionFetcher
	users     match_management.UsernameResolver
	logger    *zap.Logger
}

func NewRoomManager(st *store.Store, questions match_management.QuestionFetcher, users match_management.UsernameResolver, logger *zap.Logger) *RoomManager {
	return &RoomManager{
		store:     st,
		queue:     match_management.NewWaitingQueue(st),
		questions: questions,
		users:     users,
		logger:    logger,
	}
}

// hasMatchingState reports whether the user is mid-matchmaking: a
// pending match record or an unmatched waiting entry. A user holds at
// most one of waiting entry, match record and session at a time, so
// room creation and joining must refuse both.
func (rm *RoomManager) hasMatchingState(ctx context.Context, userID string) (bool, error) {
	pending, err := rm.store.Exists(ctx, store.MatchKey(userID))
	if err != nil || pending {
		return pending, err
	}

	entries, err := rm.queue.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	for _, entry := range entries {
		if entry.UserID == userID && !entry.Matched {
			return true, nil
		}
	}
	return false, nil
}

// generateRoomCode draws 8 hex chars from crypto/rand and retries on
// the (overwhelmingly unlikely) collision with a live room.
func (rm *RoomManager) generateRoomCode(ctx context.Context) (string, error) {
	for i := 0; i < maxCodeGenRetries; i++ {
		buf := make([]byte, roomCodeBytes)
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("generate room code: %w", err)
		}
		code := hex.EncodeToString(buf)

		taken, err := rm.store.Exists(ctx, store.CustomRoomKey(code))
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
	}
	return "", errors.New("could not generate a unique room code")
}

func hashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

func passwordMatches(stored, given string) bool {
	return subtle.ConstantTimeCompare([]byte(stored), []byte(hashPassword(given))) == 1
}

// allocateRoomID mirrors the matched-session allocation: same counter,
// same active set, so custom and matched rooms never collide.
func (rm *RoomManager) allocateRoomID(ctx context.Context) (string, error) {
	n, err := rm.store.Incr(ctx, store.KeyRoomCounter)
	if err != nil {
		return "", err
	}
	roomID := fmt.Sprintf("room-%d", n)
	if err := rm.store.SetAdd(ctx, store.KeyActiveRooms, roomID); err != nil {
		return "", err
	}
	return roomID, nil
}

func (rm *RoomManager) touchActivity(ctx context.Context, code string) {
	if err := rm.store.SetJSON(ctx, store.CustomRoomActivityKey(code), time.Now(), RoomTTL); err != nil {
		rm.logger.Warn("activity update failed", zap.String("roomCode", code), zap.Error(err))
	}
}

// LeaveRoom removes the user from their room's participant set and
// deletes their session. The last participant out deletes the room,
// its password hash, its participant set and frees its room id.
// Implements match_management.RoomLeaver.
func (rm *RoomManager) LeaveRoom(ctx context.Context, userID string) (models.EndSessionResponse, error) {
	var session models.Session
	if err := rm.store.GetJSON(ctx, store.SessionKey(userID), &session); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.EndSessionResponse{}, ErrNoSession
		}
		return models.EndSessionResponse{}, err
	}
	if !session.IsCustomRoom || session.RoomCode == "" {
		return models.EndSessionResponse{}, ErrNotCustomRoom
	}

	code := session.RoomCode
	if err := rm.store.SetRem(ctx, store.CustomRoomMembersKey(code), userID); err != nil {
		return models.EndSessionResponse{}, err
	}
	if err := rm.store.Delete(ctx, store.SessionKey(userID)); err != nil {
		return models.EndSessionResponse{}, err
	}

	remaining, err := rm.store.SetCard(ctx, store.CustomRoomMembersKey(code))
	if err != nil {
		return models.EndSessionResponse{}, err
	}
	if remaining == 0 {
		var room models.CustomRoom
		if err := rm.store.GetJSON(ctx, store.CustomRoomKey(code), &room); err == nil {
			if err := rm.store.SetRem(ctx, store.KeyActiveRooms, room.RoomID); err != nil {
				rm.logger.Warn("failed to free room id", zap.String("roomId", room.RoomID), zap.Error(err))
			}
		}
		if err := rm.store.Delete(ctx,
			store.CustomRoomKey(code),
			store.CustomRoomPasswordKey(code),
			store.CustomRoomMembersKey(code),
			store.CustomRoomActivityKey(code),
		); err != nil {
			return models.EndSessionResponse{}, err
		}
		metrics.CustomRoomsDeleted.Inc()
		rm.logger.Info("custom room deleted", zap.String("roomCode", code))
	}

	return models.EndSessionResponse{Success: true, RoomID: session.RoomID}, nil
}
