package match_management

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"peerprep/matching/internal/metrics"
	"peerprep/matching/internal/models"
	"peerprep/matching/internal/store"
	"peerprep/matching/internal/topics"
)

// RequestMatchHandler handles POST /. Each call either returns the
// caller's confirmed session, returns their pending match verbatim,
// pairs them against the waiting queue, or enqueues them.
func (m *MatchManager) RequestMatchHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := callerID(r)
	if !ok {
		jsonError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req models.MatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if req.Difficulty == "" || req.Topic == "" {
		jsonError(w, http.StatusBadRequest, "difficulty and topic are required")
		return
	}

	difficulty := NormalizeDifficulty(req.Difficulty)
	topic := topics.Normalize(req.Topic)

	// An active session wins over everything else.
	var session models.Session
	err := m.store.GetJSON(ctx, store.SessionKey(userID), &session)
	if err == nil {
		jsonOK(w, models.MatchResponse{
			MatchFound: true,
			Message:    "Already in an active session",
			Session:    &session,
		})
		return
	}
	if !errors.Is(err, store.ErrNotFound) {
		m.logger.Error("session lookup failed", zap.String("userId", userID), zap.Error(err))
		jsonError(w, http.StatusInternalServerError, "Failed to check session state")
		return
	}

	// A pending match is returned verbatim so both sides observe the
	// same pairing before either confirms.
	var record models.MatchRecord
	err = m.store.GetJSON(ctx, store.MatchKey(userID), &record)
	if err == nil {
		jsonOK(w, models.MatchResponse{
			MatchFound:  true,
			Message:     "Match found, waiting for confirmation",
			MatchedWith: &record.MatchedWith,
		})
		return
	}
	if !errors.Is(err, store.ErrNotFound) {
		m.logger.Error("match lookup failed", zap.String("userId", userID), zap.Error(err))
		jsonError(w, http.StatusInternalServerError, "Failed to check match state")
		return
	}

	entries, err := m.queue.Snapshot(ctx)
	if err != nil {
		m.logger.Error("queue snapshot failed", zap.Error(err))
		jsonError(w, http.StatusInternalServerError, "Failed to read waiting queue")
		return
	}

	now := time.Now()
	selfIdx := -1
	for i := range entries {
		if entries[i].UserID == userID && !entries[i].Matched {
			selfIdx = i
			break
		}
	}

	// Never-matched entries are evicted after the waiting window.
	if selfIdx >= 0 && now.Sub(entries[selfIdx].JoinedAt) >= WaitingTimeout {
		remaining := append(entries[:selfIdx:selfIdx], entries[selfIdx+1:]...)
		if err := m.queue.Rewrite(ctx, remaining); err != nil {
			m.logger.Error("timeout eviction failed", zap.String("userId", userID), zap.Error(err))
			jsonError(w, http.StatusInternalServerError, "Failed to update waiting queue")
			return
		}
		metrics.WaitingTimeouts.Inc()
		m.logger.Info("waiting entry timed out", zap.String("userId", userID))
		jsonOK(w, models.MatchResponse{
			MatchFound: false,
			Timeout:    true,
			Message:    "Matching timed out, please try again",
		})
		return
	}

	var candidate models.WaitingEntry
	if selfIdx >= 0 {
		// Re-poll: keep the original arrival time, honor the latest
		// criteria. Changed criteria are persisted so other callers
		// match against them too.
		candidate = entries[selfIdx]
		if candidate.Difficulty != difficulty || candidate.Topic != topic {
			candidate.Difficulty = difficulty
			candidate.Topic = topic
			entries[selfIdx] = candidate
			if err := m.queue.Rewrite(ctx, entries); err != nil {
				m.logger.Error("criteria update failed", zap.String("userId", userID), zap.Error(err))
				jsonError(w, http.StatusInternalServerError, "Failed to update waiting queue")
				return
			}
		}
	} else {
		// Enqueue optimistically, then attempt a match right away.
		candidate = models.WaitingEntry{
			UserID:     userID,
			Difficulty: difficulty,
			Topic:      topic,
			JoinedAt:   now,
		}
		if err := m.queue.Enqueue(ctx, candidate); err != nil {
			m.logger.Error("enqueue failed", zap.String("userId", userID), zap.Error(err))
			jsonError(w, http.StatusInternalServerError, "Failed to join waiting queue")
			return
		}
		entries = append(entries, candidate)
	}

	partner, found := FindBestMatch(entries, candidate)
	if !found {
		jsonOK(w, models.MatchResponse{
			MatchFound: false,
			Message:    "Searching for a match...",
		})
		return
	}

	m.createMatch(w, r, entries, candidate, partner)
}

// createMatch writes both sides' match records, purges the pair from
// the queue and notifies both users.
func (m *MatchManager) createMatch(w http.ResponseWriter, r *http.Request, entries []models.WaitingEntry, candidate, partner models.WaitingEntry) {
	ctx := r.Context()
	matchedAt := time.Now()

	candidateName := m.users.GetUsername(ctx, candidate.UserID)
	partnerName := m.users.GetUsername(ctx, partner.UserID)

	myRecord := models.MatchRecord{
		MatchedWith: models.MatchedUser{
			UserID:     partner.UserID,
			Username:   partnerName,
			Difficulty: partner.Difficulty,
			Topic:      partner.Topic,
			JoinedAt:   partner.JoinedAt,
			Matched:    true,
			MatchedAt:  matchedAt,
		},
		Criteria: models.MatchCriteria{Difficulty: candidate.Difficulty, Topic: candidate.Topic},
	}
	partnerRecord := models.MatchRecord{
		MatchedWith: models.MatchedUser{
			UserID:     candidate.UserID,
			Username:   candidateName,
			Difficulty: candidate.Difficulty,
			Topic:      candidate.Topic,
			JoinedAt:   candidate.JoinedAt,
			Matched:    true,
			MatchedAt:  matchedAt,
		},
		Criteria: models.MatchCriteria{Difficulty: partner.Difficulty, Topic: partner.Topic},
	}

	if err := m.store.SetJSON(ctx, store.MatchKey(candidate.UserID), myRecord, MatchRecordTTL); err != nil {
		m.logger.Error("match record write failed", zap.String("userId", candidate.UserID), zap.Error(err))
		jsonError(w, http.StatusInternalServerError, "Failed to record match")
		return
	}
	if err := m.store.SetJSON(ctx, store.MatchKey(partner.UserID), partnerRecord, MatchRecordTTL); err != nil {
		m.logger.Error("match record write failed", zap.String("userId", partner.UserID), zap.Error(err))
		jsonError(w, http.StatusInternalServerError, "Failed to record match")
		return
	}

	// Mark both entries matched and purge them on this rewrite.
	remaining := make([]models.WaitingEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.UserID == candidate.UserID || entry.UserID == partner.UserID {
			continue
		}
		remaining = append(remaining, entry)
	}
	if err := m.queue.Rewrite(ctx, remaining); err != nil {
		m.logger.Error("queue purge failed", zap.Error(err))
		jsonError(w, http.StatusInternalServerError, "Failed to update waiting queue")
		return
	}

	metrics.MatchesProposed.Inc()
	m.logger.Info("match created",
		zap.String("userId", candidate.UserID),
		zap.String("partnerId", partner.UserID),
		zap.String("difficulty", candidate.Difficulty),
		zap.String("topic", candidate.Topic))

	m.notifier.Send(candidate.UserID, map[string]any{"type": "match_found", "matchedWith": myRecord.MatchedWith})
	m.notifier.Send(partner.UserID, map[string]any{"type": "match_found", "matchedWith": partnerRecord.MatchedWith})

	jsonOK(w, models.MatchResponse{
		MatchFound:  true,
		Message:     "Match found, waiting for confirmation",
		MatchedWith: &myRecord.MatchedWith,
	})
}

// ConfirmMatchHandler handles POST /{partnerUserId}: converts a
// mutual pending match into a session and allocates a room.
func (m *MatchManager) ConfirmMatchHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := callerID(r)
	if !ok {
		jsonError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	partnerID := chi.URLParam(r, "partnerUserId")
	if partnerID == "" || partnerID == userID {
		jsonError(w, http.StatusBadRequest, "Invalid partner user id")
		return
	}

	var mine, theirs models.MatchRecord
	if err := m.store.GetJSON(ctx, store.MatchKey(userID), &mine); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			jsonError(w, http.StatusNotFound, "Match not found or expired")
			return
		}
		m.logger.Error("match lookup failed", zap.String("userId", userID), zap.Error(err))
		jsonError(w, http.StatusInternalServerError, "Failed to load match")
		return
	}
	if err := m.store.GetJSON(ctx, store.MatchKey(partnerID), &theirs); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			jsonError(w, http.StatusNotFound, "Match not found or expired")
			return
		}
		m.logger.Error("match lookup failed", zap.String("userId", partnerID), zap.Error(err))
		jsonError(w, http.StatusInternalServerError, "Failed to load match")
		return
	}

	// Both records must cross-reference each other.
	if mine.MatchedWith.UserID != partnerID || theirs.MatchedWith.UserID != userID {
		jsonError(w, http.StatusBadRequest, "Invalid match pairing")
		return
	}

	difficulty := deriveCriterion(
		mine.Criteria.Difficulty, theirs.Criteria.Difficulty,
		mine.MatchedWith.Difficulty, theirs.MatchedWith.Difficulty)
	topic := deriveCriterion(
		mine.Criteria.Topic, theirs.Criteria.Topic,
		mine.MatchedWith.Topic, theirs.MatchedWith.Topic)
	if difficulty == "" && topic == "" {
		jsonError(w, http.StatusBadRequest, "No matching criteria available")
		return
	}

	roomID, err := m.allocateRoomID(ctx)
	if err != nil {
		m.logger.Error("room allocation failed", zap.Error(err))
		jsonError(w, http.StatusInternalServerError, "Failed to allocate room")
		return
	}

	question, err := m.fetchQuestionWithFallback(ctx, difficulty, topic)
	if err != nil {
		m.freeRoomID(ctx, roomID)
		m.logger.Error("question fetch failed",
			zap.String("difficulty", difficulty), zap.String("topic", topic), zap.Error(err))
		jsonError(w, http.StatusBadGateway, "Failed to fetch a question for the session")
		return
	}

	sessionID := uuid.New().String()
	createdAt := time.Now()

	mySession := models.Session{
		SessionID:       sessionID,
		RoomID:          roomID,
		PartnerID:       partnerID,
		PartnerUsername: mine.MatchedWith.Username,
		Difficulty:      difficulty,
		Topic:           topic,
		Question:        question,
		CreatedAt:       createdAt,
	}
	partnerSession := models.Session{
		SessionID:       sessionID,
		RoomID:          roomID,
		PartnerID:       userID,
		PartnerUsername: theirs.MatchedWith.Username,
		Difficulty:      difficulty,
		Topic:           topic,
		Question:        question,
		CreatedAt:       createdAt,
	}

	if err := m.store.SetJSON(ctx, store.SessionKey(userID), mySession, SessionTTL); err != nil {
		m.logger.Error("session write failed", zap.String("userId", userID), zap.Error(err))
		jsonError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}
	if err := m.store.SetJSON(ctx, store.SessionKey(partnerID), partnerSession, SessionTTL); err != nil {
		m.logger.Error("session write failed", zap.String("userId", partnerID), zap.Error(err))
		jsonError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}

	if err := m.store.Delete(ctx, store.MatchKey(userID), store.MatchKey(partnerID)); err != nil {
		m.logger.Warn("match record cleanup failed", zap.Error(err))
	}

	metrics.MatchesConfirmed.Inc()
	m.logger.Info("session created",
		zap.String("sessionId", sessionID),
		zap.String("roomId", roomID),
		zap.String("userId", userID),
		zap.String("partnerId", partnerID))

	m.notifier.Send(partnerID, map[string]any{
		"type":      "session_created",
		"sessionId": sessionID,
		"roomId":    roomID,
	})

	jsonOK(w, models.ConfirmResponse{SessionID: sessionID, RoomID: roomID, Question: question})
}

// CancelMatchingHandler handles POST /cancel: removes the caller's
// waiting entry and any pending match record. A partner's record is
// left alone; their next poll finds no queue counterpart and re-enters
// the queue.
func (m *MatchManager) CancelMatchingHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := callerID(r)
	if !ok {
		jsonError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	if _, err := m.queue.RemoveUser(ctx, userID); err != nil {
		m.logger.Error("queue removal failed", zap.String("userId", userID), zap.Error(err))
		jsonError(w, http.StatusInternalServerError, "Failed to update waiting queue")
		return
	}
	if err := m.store.Delete(ctx, store.MatchKey(userID)); err != nil {
		m.logger.Error("match record delete failed", zap.String("userId", userID), zap.Error(err))
		jsonError(w, http.StatusInternalServerError, "Failed to cancel matching")
		return
	}

	m.logger.Info("matching cancelled", zap.String("userId", userID))
	jsonOK(w, map[string]any{"success": true, "message": "Matching cancelled"})
}

// GetSessionHandler handles GET /session. Idempotent and side-effect
// free.
func (m *MatchManager) GetSessionHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := callerID(r)
	if !ok {
		jsonError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var session models.Session
	if err := m.store.GetJSON(ctx, store.SessionKey(userID), &session); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			jsonError(w, http.StatusNotFound, "No active session")
			return
		}
		m.logger.Error("session lookup failed", zap.String("userId", userID), zap.Error(err))
		jsonError(w, http.StatusInternalServerError, "Failed to load session")
		return
	}
	jsonOK(w, session)
}

// EndSessionHandler handles DELETE /session. Matched sessions tear
// down both sides; custom-room sessions delegate to the room registry
// so participant tracking stays consistent.
func (m *MatchManager) EndSessionHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := callerID(r)
	if !ok {
		jsonError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var session models.Session
	if err := m.store.GetJSON(ctx, store.SessionKey(userID), &session); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			jsonError(w, http.StatusNotFound, "No active session")
			return
		}
		m.logger.Error("session lookup failed", zap.String("userId", userID), zap.Error(err))
		jsonError(w, http.StatusInternalServerError, "Failed to load session")
		return
	}

	if session.IsCustomRoom {
		if m.rooms == nil {
			jsonError(w, http.StatusInternalServerError, "Room registry unavailable")
			return
		}
		resp, err := m.rooms.LeaveRoom(ctx, userID)
		if err != nil {
			m.logger.Error("room leave failed", zap.String("userId", userID), zap.Error(err))
			jsonError(w, http.StatusInternalServerError, "Failed to leave room")
			return
		}
		jsonOK(w, resp)
		return
	}

	keys := []string{store.SessionKey(userID)}
	if session.PartnerID != "" {
		keys = append(keys, store.SessionKey(session.PartnerID))
	}
	if err := m.store.Delete(ctx, keys...); err != nil {
		m.logger.Error("session delete failed", zap.String("userId", userID), zap.Error(err))
		jsonError(w, http.StatusInternalServerError, "Failed to end session")
		return
	}
	m.freeRoomID(ctx, session.RoomID)

	m.logger.Info("session ended",
		zap.String("sessionId", session.SessionID),
		zap.String("roomId", session.RoomID),
		zap.String("userId", userID))

	if session.PartnerID != "" {
		m.notifier.Send(session.PartnerID, map[string]any{
			"type":   "partner_left",
			"roomId": session.RoomID,
		})
	}

	jsonOK(w, models.EndSessionResponse{
		Success:   true,
		RoomID:    session.RoomID,
		PartnerID: session.PartnerID,
	})
}

// WsHandler exposes the best-effort push channel.
func (m *MatchManager) WsHandler(w http.ResponseWriter, r *http.Request) {
	m.notifier.WsHandler(w, r)
}
