package store

// Key schema shared by all service instances.
const (
	KeyWaitingUsers = "waitingUsers"
	KeyRoomCounter  = "collab:roomCounter"
	KeyActiveRooms  = "collab:activeRooms"
)

func MatchKey(userID string) string   { return "match:" + userID }
func SessionKey(userID string) string { return "session:" + userID }

func CustomRoomKey(code string) string         { return "customRoom:" + code }
func CustomRoomPasswordKey(code string) string { return "customRoom:password:" + code }
func CustomRoomMembersKey(code string) string  { return "customRoom:participants:" + code }
func CustomRoomActivityKey(code string) string { return "customRoom:lastActivity:" + code }
