package models

import "time"

// Difficulty levels
const (
	DifficultyEasy   = "Easy"
	DifficultyMedium = "Medium"
	DifficultyHard   = "Hard"
)

// WaitingEntry is one queued, unmatched match request. Entries live in
// the waitingUsers list in arrival order; userId is unique among
// entries with Matched == false.
type WaitingEntry struct {
	UserID     string    `json:"userId"`
	Difficulty string    `json:"difficulty"`
	Topic      string    `json:"topic"`
	JoinedAt   time.Time `json:"joinedAt"`
	Matched    bool      `json:"matched"`
}

// MatchedUser is the partner half of a MatchRecord.
type MatchedUser struct {
	UserID     string    `json:"userId"`
	Username   string    `json:"username"`
	Difficulty string    `json:"difficulty"`
	Topic      string    `json:"topic"`
	JoinedAt   time.Time `json:"joinedAt"`
	Matched    bool      `json:"matched"`
	MatchedAt  time.Time `json:"matchedAt"`
}

// MatchCriteria is what the owning user originally asked for.
type MatchCriteria struct {
	Difficulty string `json:"difficulty"`
	Topic      string `json:"topic"`
}

// MatchRecord is a short-lived proposed pairing awaiting mutual
// confirmation. One record exists per side, keyed match:<userId>,
// TTL 60s. Both records must cross-reference each other for
// confirmation to succeed.
type MatchRecord struct {
	MatchedWith MatchedUser   `json:"matchedWith"`
	Criteria    MatchCriteria `json:"criteria"`
}

// Session is a confirmed collaboration assignment. One object per
// participant, keyed session:<userId>; both sides share the same
// sessionId, roomId and question.
type Session struct {
	SessionID       string    `json:"sessionId"`
	RoomID          string    `json:"roomId"`
	PartnerID       string    `json:"partnerId"`
	PartnerUsername string    `json:"partnerUsername"`
	Difficulty      string    `json:"difficulty"`
	Topic           string    `json:"topic"`
	Question        *Question `json:"question"`
	CreatedAt       time.Time `json:"createdAt"`
	IsCustomRoom    bool      `json:"isCustomRoom,omitempty"`
	RoomCode        string    `json:"roomCode,omitempty"`
}

// CustomRoom is a password-gated, creator-owned room that bypasses the
// automatic matchmaker. Keyed customRoom:<code>, TTL 7200s.
type CustomRoom struct {
	RoomID          string    `json:"roomId"`
	RoomCode        string    `json:"roomCode"`
	RoomName        string    `json:"roomName"`
	CreatorID       string    `json:"creatorId"`
	CreatorUsername string    `json:"creatorUsername"`
	Difficulty      string    `json:"difficulty"`
	Topic           string    `json:"topic"`
	Question        *Question `json:"question"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Question is the shared practice problem fetched from the question
// service. Kept to the fields the matching flow cares about.
type Question struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Difficulty     string   `json:"difficulty"`
	TopicTags      []string `json:"topic_tags,omitempty"`
	PromptMarkdown string   `json:"prompt_markdown,omitempty"`
}

// --- request payloads ---

type MatchRequest struct {
	Difficulty string `json:"difficulty"`
	Topic      string `json:"topic"`
}

type CreateRoomRequest struct {
	Difficulty string `json:"difficulty"`
	Topic      string `json:"topic"`
	Password   string `json:"password"`
	RoomName   string `json:"roomName,omitempty"`
}

type JoinRoomRequest struct {
	RoomCode string `json:"roomCode"`
	Password string `json:"password"`
}

// --- response payloads ---

type MatchResponse struct {
	MatchFound  bool         `json:"matchFound"`
	Message     string       `json:"message,omitempty"`
	MatchedWith *MatchedUser `json:"matchedWith,omitempty"`
	Session     *Session     `json:"session,omitempty"`
	Timeout     bool         `json:"timeout,omitempty"`
}

type ConfirmResponse struct {
	SessionID string    `json:"sessionId"`
	RoomID    string    `json:"roomId"`
	Question  *Question `json:"question"`
}

type CreateRoomResponse struct {
	RoomCode string    `json:"roomCode"`
	RoomID   string    `json:"roomId"`
	Question *Question `json:"question"`
}

type JoinRoomResponse struct {
	RoomID        string    `json:"roomId"`
	Question      *Question `json:"question"`
	AlreadyJoined bool      `json:"alreadyJoined,omitempty"`
}

// RoomParticipant annotates one member of a custom room.
type RoomParticipant struct {
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	IsCreator bool   `json:"isCreator"`
}

type RoomInfoResponse struct {
	RoomCode     string            `json:"roomCode"`
	RoomName     string            `json:"roomName"`
	Difficulty   string            `json:"difficulty"`
	Topic        string            `json:"topic"`
	CreatedAt    time.Time         `json:"createdAt"`
	Participants []RoomParticipant `json:"participants"`
}

type EndSessionResponse struct {
	Success   bool   `json:"success"`
	RoomID    string `json:"roomId,omitempty"`
	PartnerID string `json:"partnerId,omitempty"`
}
