package room_management

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"peerprep/matching/internal/match_management"
	"peerprep/matching/internal/metrics"
	"peerprep/matching/internal/models"
	"peerprep/matching/internal/store"
	"peerprep/matching/internal/topics"
	"peerprep/matching/internal/utils"
)

// CreateRoomHandler handles POST /custom-matching/create. Creation is
// confirmation for the creator: their session is written immediately,
// no handshake involved.
func (rm *RoomManager) CreateRoomHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := utils.UserIDFromContext(ctx)
	if !ok {
		utils.JSONError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req models.CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if req.Difficulty == "" || req.Topic == "" {
		utils.JSONError(w, http.StatusBadRequest, "difficulty and topic are required")
		return
	}
	if len(req.Password) < MinPasswordLength {
		utils.JSONError(w, http.StatusBadRequest, "Password must be at least 4 characters")
		return
	}

	exists, err := rm.store.Exists(ctx, store.SessionKey(userID))
	if err != nil {
		rm.logger.Error("session check failed", zap.String("userId", userID), zap.Error(err))
		utils.JSONError(w, http.StatusInternalServerError, "Failed to check session state")
		return
	}
	if exists {
		utils.JSONError(w, http.StatusConflict, "You already have an active session")
		return
	}
	busy, err := rm.hasMatchingState(ctx, userID)
	if err != nil {
		rm.logger.Error("matching state check failed", zap.String("userId", userID), zap.Error(err))
		utils.JSONError(w, http.StatusInternalServerError, "Failed to check matching state")
		return
	}
	if busy {
		utils.JSONError(w, http.StatusConflict, "Cancel matchmaking before creating a room")
		return
	}

	difficulty := match_management.NormalizeDifficulty(req.Difficulty)
	topic := topics.Normalize(req.Topic)

	// Unlike confirmation there is no fallback chain here: the creator
	// picked the filters, a miss is fatal.
	question, err := rm.questions.FetchQuestion(ctx, difficulty, topic)
	if err != nil {
		rm.logger.Error("question fetch failed",
			zap.String("difficulty", difficulty), zap.String("topic", topic), zap.Error(err))
		utils.JSONError(w, http.StatusBadGateway, "Failed to fetch a question for the room")
		return
	}

	code, err := rm.generateRoomCode(ctx)
	if err != nil {
		rm.logger.Error("room code generation failed", zap.Error(err))
		utils.JSONError(w, http.StatusInternalServerError, "Failed to create room")
		return
	}

	roomID, err := rm.allocateRoomID(ctx)
	if err != nil {
		rm.logger.Error("room allocation failed", zap.Error(err))
		utils.JSONError(w, http.StatusInternalServerError, "Failed to allocate room")
		return
	}

	creatorName, ok := utils.UsernameFromContext(ctx)
	if !ok {
		creatorName = rm.users.GetUsername(ctx, userID)
	}

	room := models.CustomRoom{
		RoomID:          roomID,
		RoomCode:        code,
		RoomName:        req.RoomName,
		CreatorID:       userID,
		CreatorUsername: creatorName,
		Difficulty:      difficulty,
		Topic:           topic,
		Question:        question,
		CreatedAt:       time.Now(),
	}
	if err := rm.store.SetJSON(ctx, store.CustomRoomKey(code), room, RoomTTL); err != nil {
		rm.logger.Error("room write failed", zap.String("roomCode", code), zap.Error(err))
		utils.JSONError(w, http.StatusInternalServerError, "Failed to create room")
		return
	}
	if err := rm.store.SetJSON(ctx, store.CustomRoomPasswordKey(code), hashPassword(req.Password), RoomTTL); err != nil {
		rm.logger.Error("password write failed", zap.String("roomCode", code), zap.Error(err))
		utils.JSONError(w, http.StatusInternalServerError, "Failed to create room")
		return
	}
	if err := rm.store.SetAdd(ctx, store.CustomRoomMembersKey(code), userID); err != nil {
		rm.logger.Error("participant write failed", zap.String("roomCode", code), zap.Error(err))
		utils.JSONError(w, http.StatusInternalServerError, "Failed to create room")
		return
	}
	if err := rm.store.Expire(ctx, store.CustomRoomMembersKey(code), RoomTTL); err != nil {
		rm.logger.Warn("participant expiry failed", zap.String("roomCode", code), zap.Error(err))
	}
	rm.touchActivity(ctx, code)

	session := models.Session{
		SessionID:    uuid.New().String(),
		RoomID:       roomID,
		Difficulty:   difficulty,
		Topic:        topic,
		Question:     question,
		CreatedAt:    room.CreatedAt,
		IsCustomRoom: true,
		RoomCode:     code,
	}
	if err := rm.store.SetJSON(ctx, store.SessionKey(userID), session, RoomTTL); err != nil {
		rm.logger.Error("creator session write failed", zap.String("userId", userID), zap.Error(err))
		utils.JSONError(w, http.StatusInternalServerError, "Failed to create room")
		return
	}

	metrics.CustomRoomsCreated.Inc()
	rm.logger.Info("custom room created",
		zap.String("roomCode", code),
		zap.String("roomId", roomID),
		zap.String("creatorId", userID))

	utils.JSON(w, http.StatusCreated, models.CreateRoomResponse{
		RoomCode: code,
		RoomID:   roomID,
		Question: question,
	})
}

// JoinRoomHandler handles POST /custom-matching/join.
func (rm *RoomManager) JoinRoomHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := utils.UserIDFromContext(ctx)
	if !ok {
		utils.JSONError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req models.JoinRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if req.RoomCode == "" || req.Password == "" {
		utils.JSONError(w, http.StatusBadRequest, "roomCode and password are required")
		return
	}

	// Re-joining the same room is idempotent; holding any other
	// session is a conflict.
	var existing models.Session
	err := rm.store.GetJSON(ctx, store.SessionKey(userID), &existing)
	if err == nil {
		if existing.IsCustomRoom && existing.RoomCode == req.RoomCode {
			utils.JSON(w, http.StatusOK, models.JoinRoomResponse{
				RoomID:        existing.RoomID,
				Question:      existing.Question,
				AlreadyJoined: true,
			})
			return
		}
		utils.JSONError(w, http.StatusConflict, "You already have an active session")
		return
	}
	if !errors.Is(err, store.ErrNotFound) {
		rm.logger.Error("session check failed", zap.String("userId", userID), zap.Error(err))
		utils.JSONError(w, http.StatusInternalServerError, "Failed to check session state")
		return
	}

	busy, err := rm.hasMatchingState(ctx, userID)
	if err != nil {
		rm.logger.Error("matching state check failed", zap.String("userId", userID), zap.Error(err))
		utils.JSONError(w, http.StatusInternalServerError, "Failed to check matching state")
		return
	}
	if busy {
		utils.JSONError(w, http.StatusConflict, "Cancel matchmaking before joining a room")
		return
	}

	var room models.CustomRoom
	if err := rm.store.GetJSON(ctx, store.CustomRoomKey(req.RoomCode), &room); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			utils.JSONError(w, http.StatusNotFound, "Room not found or expired")
			return
		}
		rm.logger.Error("room lookup failed", zap.String("roomCode", req.RoomCode), zap.Error(err))
		utils.JSONError(w, http.StatusInternalServerError, "Failed to load room")
		return
	}

	var storedHash string
	if err := rm.store.GetJSON(ctx, store.CustomRoomPasswordKey(req.RoomCode), &storedHash); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			utils.JSONError(w, http.StatusNotFound, "Room not found or expired")
			return
		}
		rm.logger.Error("password lookup failed", zap.String("roomCode", req.RoomCode), zap.Error(err))
		utils.JSONError(w, http.StatusInternalServerError, "Failed to load room")
		return
	}
	if !passwordMatches(storedHash, req.Password) {
		utils.JSONError(w, http.StatusUnauthorized, "Incorrect password")
		return
	}

	if err := rm.store.SetAdd(ctx, store.CustomRoomMembersKey(req.RoomCode), userID); err != nil {
		rm.logger.Error("participant write failed", zap.String("roomCode", req.RoomCode), zap.Error(err))
		utils.JSONError(w, http.StatusInternalServerError, "Failed to join room")
		return
	}
	rm.touchActivity(ctx, req.RoomCode)

	session := models.Session{
		SessionID:       uuid.New().String(),
		RoomID:          room.RoomID,
		PartnerID:       room.CreatorID,
		PartnerUsername: room.CreatorUsername,
		Difficulty:      room.Difficulty,
		Topic:           room.Topic,
		Question:        room.Question,
		CreatedAt:       time.Now(),
		IsCustomRoom:    true,
		RoomCode:        req.RoomCode,
	}
	if err := rm.store.SetJSON(ctx, store.SessionKey(userID), session, RoomTTL); err != nil {
		rm.logger.Error("session write failed", zap.String("userId", userID), zap.Error(err))
		utils.JSONError(w, http.StatusInternalServerError, "Failed to join room")
		return
	}

	rm.logger.Info("user joined custom room",
		zap.String("roomCode", req.RoomCode),
		zap.String("userId", userID))

	utils.JSON(w, http.StatusOK, models.JoinRoomResponse{
		RoomID:   room.RoomID,
		Question: room.Question,
	})
}

// RoomInfoHandler handles GET /custom-matching/{roomCode}. Read-only.
func (rm *RoomManager) RoomInfoHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	code := chi.URLParam(r, "roomCode")

	var room models.CustomRoom
	if err := rm.store.GetJSON(ctx, store.CustomRoomKey(code), &room); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			utils.JSONError(w, http.StatusNotFound, "Room not found or expired")
			return
		}
		rm.logger.Error("room lookup failed", zap.String("roomCode", code), zap.Error(err))
		utils.JSONError(w, http.StatusInternalServerError, "Failed to load room")
		return
	}

	members, err := rm.store.SetMembers(ctx, store.CustomRoomMembersKey(code))
	if err != nil {
		rm.logger.Error("participant lookup failed", zap.String("roomCode", code), zap.Error(err))
		utils.JSONError(w, http.StatusInternalServerError, "Failed to load room")
		return
	}

	participants := make([]models.RoomParticipant, 0, len(members))
	for _, member := range members {
		username := room.CreatorUsername
		if member != room.CreatorID {
			username = rm.users.GetUsername(ctx, member)
		}
		participants = append(participants, models.RoomParticipant{
			UserID:    member,
			Username:  username,
			IsCreator: member == room.CreatorID,
		})
	}

	utils.JSON(w, http.StatusOK, models.RoomInfoResponse{
		RoomCode:     room.RoomCode,
		RoomName:     room.RoomName,
		Difficulty:   room.Difficulty,
		Topic:        room.Topic,
		CreatedAt:    room.CreatedAt,
		Participants: participants,
	})
}

// LeaveRoomHandler handles DELETE /custom-matching/leave.
func (rm *RoomManager) LeaveRoomHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := utils.UserIDFromContext(ctx)
	if !ok {
		utils.JSONError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	resp, err := rm.LeaveRoom(ctx, userID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNoSession):
			utils.JSONError(w, http.StatusNotFound, "No active session")
		case errors.Is(err, ErrNotCustomRoom):
			utils.JSONError(w, http.StatusBadRequest, "Not in a custom room")
		default:
			rm.logger.Error("room leave failed", zap.String("userId", userID), zap.Error(err))
			utils.JSONError(w, http.StatusInternalServerError, "Failed to leave room")
		}
		return
	}

	rm.logger.Info("user left custom room", zap.String("userId", userID))
	utils.JSON(w, http.StatusOK, resp)
}
