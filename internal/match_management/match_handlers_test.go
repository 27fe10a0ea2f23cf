package match_management

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"peerprep/matching/internal/models"
	"peerprep/matching/internal/store"
	"peerprep/matching/internal/utils"
)

type fakeQuestions struct {
	question  *models.Question
	err       error
	failFirst int
	calls     [][2]string
}

func (f *fakeQuestions) FetchQuestion(ctx context.Context, difficulty, topic string) (*models.Question, error) {
	f.calls = append(f.calls, [2]string{difficulty, topic})
	if f.failFirst > 0 {
		f.failFirst--
		return nil, errors.New("no question for filters")
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.question != nil {
		return f.question, nil
	}
	return &models.Question{ID: "q1", Title: "Two Sum", Difficulty: difficulty}, nil
}

type fakeUsers struct {
	names map[string]string
}

func (f *fakeUsers) GetUsername(ctx context.Context, userID string) string {
	if name, ok := f.names[userID]; ok {
		return name
	}
	return "User " + userID
}

// setupTestManager wires a MatchManager against miniredis and fakes.
func setupTestManager(t *testing.T) (*miniredis.Miniredis, *store.Store, *MatchManager, *fakeQuestions) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	st := store.New(client)
	fq := &fakeQuestions{}
	fu := &fakeUsers{names: map[string]string{"u1": "alice", "u2": "bob"}}
	mm := NewMatchManager(st, fq, fu, zap.NewNop())
	return mr, st, mm, fq
}

func doRequestMatch(mm *MatchManager, userID, difficulty, topic string) (int, models.MatchResponse) {
	body := fmt.Sprintf(`{"difficulty":%q,"topic":%q}`, difficulty, topic)
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req = req.WithContext(utils.WithUserID(req.Context(), userID))
	w := httptest.NewRecorder()
	mm.RequestMatchHandler(w, req)

	var resp models.MatchResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	return w.Code, resp
}

func doConfirm(mm *MatchManager, userID, partnerID string) (int, models.ConfirmResponse) {
	r := chi.NewRouter()
	r.Post("/{partnerUserId}", mm.ConfirmMatchHandler)

	req := httptest.NewRequest(http.MethodPost, "/"+partnerID, nil)
	req = req.WithContext(utils.WithUserID(req.Context(), userID))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var resp models.ConfirmResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	return w.Code, resp
}

// assertSingleState checks the core invariant: a user holds at most
// one of {unmatched waiting entry, match record, session}.
func assertSingleState(t *testing.T, st *store.Store, mm *MatchManager, userID string) {
	t.Helper()
	ctx := context.Background()

	states := 0
	entries, err := mm.queue.Snapshot(ctx)
	assert.NoError(t, err)
	for _, e := range entries {
		if e.UserID == userID && !e.Matched {
			states++
			break
		}
	}
	if ok, _ := st.Exists(ctx, store.MatchKey(userID)); ok {
		states++
	}
	if ok, _ := st.Exists(ctx, store.SessionKey(userID)); ok {
		states++
	}
	assert.LessOrEqual(t, states, 1, "user %s holds %d concurrent states", userID, states)
}

func TestRequestMatch_Validation(t *testing.T) {
	_, _, mm, _ := setupTestManager(t)

	code, _ := doRequestMatch(mm, "u1", "", "Array")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = doRequestMatch(mm, "u1", "Medium", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestRequestMatch_FirstCallerWaits(t *testing.T) {
	_, st, mm, _ := setupTestManager(t)

	code, resp := doRequestMatch(mm, "u1", "Medium", "Array")
	assert.Equal(t, http.StatusOK, code)
	assert.False(t, resp.MatchFound)
	assert.Contains(t, resp.Message, "Searching")

	entries, err := mm.queue.Snapshot(context.Background())
	assert.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, "u1", entries[0].UserID)
	assert.False(t, entries[0].Matched)

	assertSingleState(t, st, mm, "u1")
}

// Two users with equal difficulty and alias-equivalent topics end up
// cross-referencing each other, and a confirm yields one shared room
// and the same question on both sides.
func TestMatchAndConfirm_EndToEnd(t *testing.T) {
	_, st, mm, _ := setupTestManager(t)
	ctx := context.Background()

	code, resp := doRequestMatch(mm, "u1", "Medium", "Arrays & Strings")
	assert.Equal(t, http.StatusOK, code)
	assert.False(t, resp.MatchFound)

	code, resp = doRequestMatch(mm, "u2", "Medium", "Array")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, resp.MatchFound)
	assert.Equal(t, "u1", resp.MatchedWith.UserID)
	assert.Equal(t, "alice", resp.MatchedWith.Username)
	assert.Equal(t, "Array", resp.MatchedWith.Topic)

	// u1's next poll observes the same pairing.
	code, resp = doRequestMatch(mm, "u1", "Medium", "Arrays & Strings")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, resp.MatchFound)
	assert.Equal(t, "u2", resp.MatchedWith.UserID)
	assert.Equal(t, "Array", resp.MatchedWith.Topic)

	// Both records cross-reference each other.
	var rec1, rec2 models.MatchRecord
	assert.NoError(t, st.GetJSON(ctx, store.MatchKey("u1"), &rec1))
	assert.NoError(t, st.GetJSON(ctx, store.MatchKey("u2"), &rec2))
	assert.Equal(t, "u2", rec1.MatchedWith.UserID)
	assert.Equal(t, "u1", rec2.MatchedWith.UserID)

	// Matched entries were purged from the queue.
	entries, err := mm.queue.Snapshot(ctx)
	assert.NoError(t, err)
	assert.Empty(t, entries)

	code, confirm := doConfirm(mm, "u1", "u2")
	assert.Equal(t, http.StatusOK, code)
	assert.NotEmpty(t, confirm.SessionID)
	assert.NotEmpty(t, confirm.RoomID)
	assert.Equal(t, "q1", confirm.Question.ID)

	var sess1, sess2 models.Session
	assert.NoError(t, st.GetJSON(ctx, store.SessionKey("u1"), &sess1))
	assert.NoError(t, st.GetJSON(ctx, store.SessionKey("u2"), &sess2))
	assert.Equal(t, sess1.RoomID, sess2.RoomID)
	assert.Equal(t, sess1.SessionID, sess2.SessionID)
	assert.Equal(t, sess1.Question.ID, sess2.Question.ID)
	assert.Equal(t, "u2", sess1.PartnerID)
	assert.Equal(t, "u1", sess2.PartnerID)
	assert.Equal(t, "Array", sess1.Topic)
	assert.Equal(t, "Medium", sess1.Difficulty)

	// Match records are consumed by confirmation.
	ok, _ := st.Exists(ctx, store.MatchKey("u1"))
	assert.False(t, ok)
	ok, _ = st.Exists(ctx, store.MatchKey("u2"))
	assert.False(t, ok)

	// Room id is registered as active.
	active, err := st.SetMembers(ctx, store.KeyActiveRooms)
	assert.NoError(t, err)
	assert.Contains(t, active, confirm.RoomID)

	assertSingleState(t, st, mm, "u1")
	assertSingleState(t, st, mm, "u2")
}

func TestRequestMatch_PendingPollIsIdempotent(t *testing.T) {
	_, st, mm, _ := setupTestManager(t)
	ctx := context.Background()

	doRequestMatch(mm, "u1", "Medium", "Array")
	doRequestMatch(mm, "u2", "Medium", "Array")

	raws1, _ := st.ListAll(ctx, store.KeyWaitingUsers)
	var before models.MatchRecord
	assert.NoError(t, st.GetJSON(ctx, store.MatchKey("u1"), &before))

	// Re-polling must not re-run the matchmaker or mutate state.
	code, resp := doRequestMatch(mm, "u1", "Medium", "Array")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, resp.MatchFound)

	var after models.MatchRecord
	assert.NoError(t, st.GetJSON(ctx, store.MatchKey("u1"), &after))
	assert.Equal(t, before, after)

	raws2, _ := st.ListAll(ctx, store.KeyWaitingUsers)
	assert.Equal(t, raws1, raws2)
}

func TestRequestMatch_RepollPersistsUpdatedCriteria(t *testing.T) {
	_, _, mm, _ := setupTestManager(t)
	ctx := context.Background()

	doRequestMatch(mm, "u1", "Hard", "Array")

	// Re-poll with different criteria; no partner yet.
	code, resp := doRequestMatch(mm, "u1", "Medium", "Trees")
	assert.Equal(t, http.StatusOK, code)
	assert.False(t, resp.MatchFound)

	// The stored entry carries the refreshed criteria.
	entries, err := mm.queue.Snapshot(ctx)
	assert.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, "Medium", entries[0].Difficulty)
	assert.Equal(t, "Trees", entries[0].Topic)

	// Another caller matches against the refreshed criteria, not the
	// originally submitted ones.
	code, resp = doRequestMatch(mm, "u2", "Medium", "Trees")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, resp.MatchFound)
	assert.Equal(t, "u1", resp.MatchedWith.UserID)
	assert.Equal(t, "Medium", resp.MatchedWith.Difficulty)
	assert.Equal(t, "Trees", resp.MatchedWith.Topic)
}

func TestRequestMatch_DifficultyMismatchKeepsWaiting(t *testing.T) {
	_, _, mm, _ := setupTestManager(t)

	doRequestMatch(mm, "u1", "Hard", "Array")
	code, resp := doRequestMatch(mm, "u2", "Easy", "Array")
	assert.Equal(t, http.StatusOK, code)
	assert.False(t, resp.MatchFound)

	entries, err := mm.queue.Snapshot(context.Background())
	assert.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestRequestMatch_TimeoutEvictsEntry(t *testing.T) {
	_, st, mm, _ := setupTestManager(t)
	ctx := context.Background()

	stale := models.WaitingEntry{
		UserID:     "u1",
		Difficulty: "Medium",
		Topic:      "Array",
		JoinedAt:   time.Now().Add(-(WaitingTimeout + time.Second)),
	}
	assert.NoError(t, mm.queue.Enqueue(ctx, stale))

	code, resp := doRequestMatch(mm, "u1", "Medium", "Array")
	assert.Equal(t, http.StatusOK, code)
	assert.False(t, resp.MatchFound)
	assert.True(t, resp.Timeout)

	entries, err := mm.queue.Snapshot(ctx)
	assert.NoError(t, err)
	assert.Empty(t, entries)
	assertSingleState(t, st, mm, "u1")
}

func TestRequestMatch_MatchRecordExpiryReturnsToQueue(t *testing.T) {
	mr, st, mm, _ := setupTestManager(t)
	ctx := context.Background()

	doRequestMatch(mm, "u1", "Medium", "Array")
	doRequestMatch(mm, "u2", "Medium", "Array")

	// Neither side confirms within the handshake window.
	mr.FastForward(MatchRecordTTL + time.Second)

	ok, _ := st.Exists(ctx, store.MatchKey("u1"))
	assert.False(t, ok)

	// The next poll re-enters the queue.
	code, resp := doRequestMatch(mm, "u1", "Medium", "Array")
	assert.Equal(t, http.StatusOK, code)
	assert.False(t, resp.MatchFound)

	entries, err := mm.queue.Snapshot(ctx)
	assert.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, "u1", entries[0].UserID)
}

func TestRequestMatch_ActiveSessionShortCircuits(t *testing.T) {
	_, st, mm, _ := setupTestManager(t)
	ctx := context.Background()

	sess := models.Session{SessionID: "s1", RoomID: "room-9", PartnerID: "u2"}
	assert.NoError(t, st.SetJSON(ctx, store.SessionKey("u1"), sess, SessionTTL))

	code, resp := doRequestMatch(mm, "u1", "Medium", "Array")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, resp.MatchFound)
	assert.NotNil(t, resp.Session)
	assert.Equal(t, "room-9", resp.Session.RoomID)

	// Not enqueued.
	entries, err := mm.queue.Snapshot(ctx)
	assert.NoError(t, err)
	assert.Empty(t, entries)
}

func TestConfirm_MissingRecord(t *testing.T) {
	_, _, mm, _ := setupTestManager(t)

	code, _ := doConfirm(mm, "u1", "u2")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestConfirm_InvalidPairing(t *testing.T) {
	_, st, mm, _ := setupTestManager(t)
	ctx := context.Background()

	// Both records exist but u2's points at u3, not u1.
	rec1 := models.MatchRecord{
		MatchedWith: models.MatchedUser{UserID: "u2"},
		Criteria:    models.MatchCriteria{Difficulty: "Medium", Topic: "Array"},
	}
	rec2 := models.MatchRecord{
		MatchedWith: models.MatchedUser{UserID: "u3"},
		Criteria:    models.MatchCriteria{Difficulty: "Medium", Topic: "Array"},
	}
	assert.NoError(t, st.SetJSON(ctx, store.MatchKey("u1"), rec1, MatchRecordTTL))
	assert.NoError(t, st.SetJSON(ctx, store.MatchKey("u2"), rec2, MatchRecordTTL))

	code, _ := doConfirm(mm, "u1", "u2")
	assert.Equal(t, http.StatusBadRequest, code)

	// Records are untouched so the flow can recover elsewhere.
	ok, _ := st.Exists(ctx, store.MatchKey("u1"))
	assert.True(t, ok)
}

func TestConfirm_SelfConfirmRejected(t *testing.T) {
	_, _, mm, _ := setupTestManager(t)

	code, _ := doConfirm(mm, "u1", "u1")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestConfirm_QuestionFailureIsGatewayError(t *testing.T) {
	_, st, mm, fq := setupTestManager(t)
	ctx := context.Background()

	doRequestMatch(mm, "u1", "Medium", "Array")
	doRequestMatch(mm, "u2", "Medium", "Array")

	fq.err = errors.New("question service down")
	code, _ := doConfirm(mm, "u1", "u2")
	assert.Equal(t, http.StatusBadGateway, code)

	// Handshake state survives the failed confirmation.
	ok, _ := st.Exists(ctx, store.MatchKey("u1"))
	assert.True(t, ok)
	ok, _ = st.Exists(ctx, store.SessionKey("u1"))
	assert.False(t, ok)

	// The provisionally allocated room id was freed.
	active, err := st.SetMembers(ctx, store.KeyActiveRooms)
	assert.NoError(t, err)
	assert.Empty(t, active)
}

func TestConfirm_QuestionFallbackChain(t *testing.T) {
	_, _, mm, fq := setupTestManager(t)

	doRequestMatch(mm, "u1", "Medium", "Array")
	doRequestMatch(mm, "u2", "Medium", "Array")

	// First filter combination misses, second succeeds.
	fq.calls = nil
	fq.failFirst = 1
	code, confirm := doConfirm(mm, "u1", "u2")
	assert.Equal(t, http.StatusOK, code)
	assert.NotNil(t, confirm.Question)

	assert.Equal(t, [2]string{"Medium", "Array"}, fq.calls[0])
	assert.Equal(t, [2]string{"Medium", ""}, fq.calls[1])
}

func TestCancelMatching_RemovesWaitingAndMatchState(t *testing.T) {
	_, st, mm, _ := setupTestManager(t)
	ctx := context.Background()

	doRequestMatch(mm, "u1", "Medium", "Array")
	doRequestMatch(mm, "u2", "Medium", "Array")

	req := httptest.NewRequest(http.MethodPost, "/cancel", nil)
	req = req.WithContext(utils.WithUserID(req.Context(), "u1"))
	w := httptest.NewRecorder()
	mm.CancelMatchingHandler(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	ok, _ := st.Exists(ctx, store.MatchKey("u1"))
	assert.False(t, ok)

	// The partner's record is deliberately untouched.
	ok, _ = st.Exists(ctx, store.MatchKey("u2"))
	assert.True(t, ok)

	assertSingleState(t, st, mm, "u1")
}

func TestGetSession(t *testing.T) {
	_, st, mm, _ := setupTestManager(t)
	ctx := context.Background()

	req := httptest.NewRequest(http.MethodGet, "/session", nil)
	req = req.WithContext(utils.WithUserID(req.Context(), "u1"))
	w := httptest.NewRecorder()
	mm.GetSessionHandler(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)

	sess := models.Session{SessionID: "s1", RoomID: "room-1", PartnerID: "u2"}
	assert.NoError(t, st.SetJSON(ctx, store.SessionKey("u1"), sess, SessionTTL))

	req = httptest.NewRequest(http.MethodGet, "/session", nil)
	req = req.WithContext(utils.WithUserID(req.Context(), "u1"))
	w = httptest.NewRecorder()
	mm.GetSessionHandler(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var got models.Session
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "s1", got.SessionID)
}

func TestEndSession_TearsDownBothSides(t *testing.T) {
	_, st, mm, _ := setupTestManager(t)
	ctx := context.Background()

	doRequestMatch(mm, "u1", "Medium", "Array")
	doRequestMatch(mm, "u2", "Medium", "Array")
	_, confirm := doConfirm(mm, "u1", "u2")

	req := httptest.NewRequest(http.MethodDelete, "/session", nil)
	req = req.WithContext(utils.WithUserID(req.Context(), "u1"))
	w := httptest.NewRecorder()
	mm.EndSessionHandler(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp models.EndSessionResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, confirm.RoomID, resp.RoomID)
	assert.Equal(t, "u2", resp.PartnerID)

	ok, _ := st.Exists(ctx, store.SessionKey("u1"))
	assert.False(t, ok)
	ok, _ = st.Exists(ctx, store.SessionKey("u2"))
	assert.False(t, ok)

	active, err := st.SetMembers(ctx, store.KeyActiveRooms)
	assert.NoError(t, err)
	assert.NotContains(t, active, confirm.RoomID)
}

func TestEndSession_NoSession(t *testing.T) {
	_, _, mm, _ := setupTestManager(t)

	req := httptest.NewRequest(http.MethodDelete, "/session", nil)
	req = req.WithContext(utils.WithUserID(req.Context(), "u1"))
	w := httptest.NewRecorder()
	mm.EndSessionHandler(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
