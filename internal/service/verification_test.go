package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pool-verifier/internal/classify"
	"pool-verifier/internal/config"
	"pool-verifier/internal/domain"
	"pool-verifier/internal/match"
	"pool-verifier/internal/ranks"
	"pool-verifier/internal/reconcile"
	"pool-verifier/internal/scheduler"
)

type fakeOCR struct {
	mu    sync.Mutex
	texts map[string]domain.ExtractedText
	errs  map[string]error
}

func (f *fakeOCR) ExtractText(_ context.Context, image []byte, _ string) (domain.ExtractedText, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[string(image)]; ok {
		return domain.ExtractedText{}, err
	}
	return f.texts[string(image)], nil
}

type fakeChat struct {
	mu            sync.Mutex
	roleAssigned  map[string]string
	dmsSent       []string
	dmErr         error
	downloadErrs  map[string]error
	deleted       []domain.MessageHandle
	nextMessageID int
}

func newFakeChat() *fakeChat {
	return &fakeChat{
		roleAssigned: make(map[string]string),
		downloadErrs: make(map[string]error),
	}
}

func (f *fakeChat) AssignRankRole(_ context.Context, userID, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roleAssigned[userID] = roleID
	return nil
}

func (f *fakeChat) SendDM(_ context.Context, userID, content string) (domain.MessageHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dmErr != nil {
		return domain.MessageHandle{}, f.dmErr
	}
	f.dmsSent = append(f.dmsSent, content)
	f.nextMessageID++
	return domain.MessageHandle{ChannelID: "dm-" + userID, MessageID: fmt.Sprintf("m%d", f.nextMessageID)}, nil
}

func (f *fakeChat) DeleteMessage(_ context.Context, handle domain.MessageHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, handle)
	return nil
}

func (f *fakeChat) DownloadAttachment(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.downloadErrs[url]; ok {
		return nil, err
	}
	// The URL doubles as the image payload so fakeOCR can key off it.
	return []byte(url), nil
}

func (f *fakeChat) deletions() []domain.MessageHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.MessageHandle(nil), f.deleted...)
}

type fakeStore struct {
	mu      sync.Mutex
	records map[string]*domain.VerificationRecord
	history []domain.VerificationEvent
	getErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]*domain.VerificationRecord)}
}

func (f *fakeStore) Get(_ context.Context, userID string) (*domain.VerificationRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	rec, ok := f.records[userID]
	if !ok {
		return nil, nil
	}
	copied := *rec
	return &copied, nil
}

func (f *fakeStore) Upsert(_ context.Context, rec *domain.VerificationRecord) (*domain.VerificationRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	if rec.VerifiedAt.IsZero() {
		rec.VerifiedAt = now
	}
	rec.UpdatedAt = now
	copied := *rec
	f.records[rec.UserID] = &copied
	return rec, nil
}

func (f *fakeStore) AppendHistory(_ context.Context, ev *domain.VerificationEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, *ev)
	return nil
}

const testTableYAML = `
tiers:
  - name: Bronze
    level_min: 10
    level_max: 29
    role_id: "100"
  - name: Silver
    level_min: 30
    level_max: 59
    role_id: "200"
  - name: Gold
    level_min: 60
    level_max: 99
    role_id: "300"
`

type testEnv struct {
	svc   *VerificationService
	ocr   *fakeOCR
	chat  *fakeChat
	store *fakeStore
	clock *clock.Mock
	sched *scheduler.Scheduler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	table, err := ranks.Parse([]byte(testTableYAML))
	require.NoError(t, err)

	ocr := &fakeOCR{texts: make(map[string]domain.ExtractedText), errs: make(map[string]error)}
	chat := newFakeChat()
	store := newFakeStore()
	mock := clock.NewMock()
	sched := scheduler.New(chat, mock, zerolog.Nop())
	cfg := &config.Config{NoticeTTL: time.Minute}

	svc := NewVerificationService(ocr, chat, store, table, classify.New(), match.New(table), sched, cfg, zerolog.Nop())
	return &testEnv{svc: svc, ocr: ocr, chat: chat, store: store, clock: mock, sched: sched}
}

func submission(userID string, urls ...string) domain.Submission {
	sub := domain.Submission{
		MessageID: "src-1",
		ChannelID: "chan-1",
		UserID:    userID,
		Username:  "player",
	}
	for i, u := range urls {
		sub.Attachments = append(sub.Attachments, domain.Attachment{
			ID:          fmt.Sprintf("att-%d", i),
			URL:         u,
			ContentType: "image/png",
		})
	}
	return sub
}

func TestProcess_AcceptEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	env.ocr.texts["img1"] = domain.ExtractedText{Text: "Profile Level Progress 42 Rank: Silver", Confidence: 90}

	outcome, err := env.svc.Process(context.Background(), submission("u1", "img1"))
	require.NoError(t, err)
	require.Equal(t, domain.DecisionAccept, outcome.Decision)
	assert.Equal(t, "Silver", outcome.Rank.Name)
	assert.Equal(t, 42, outcome.Level)

	// Role granted and record persisted.
	assert.Equal(t, "200", env.chat.roleAssigned["u1"])
	rec, err := env.store.Get(context.Background(), "u1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "Silver", rec.RankName)
	assert.Equal(t, 42, rec.LevelDetected)
	require.Len(t, env.store.history, 1)
	assert.Equal(t, "Silver", env.store.history[0].RankName)

	// Notification sent with a pending deletion; source message removed.
	require.Len(t, env.chat.dmsSent, 1)
	assert.Contains(t, env.chat.dmsSent[0], "Silver")
	assert.Equal(t, 1, env.sched.Pending())
	require.Len(t, env.chat.deletions(), 1)
	assert.Equal(t, "src-1", env.chat.deletions()[0].MessageID)

	// TTL elapses: the DM is deleted too.
	env.clock.Add(time.Minute)
	assert.Len(t, env.chat.deletions(), 2)
}

func TestProcess_NonProfilePoisonsBatch(t *testing.T) {
	env := newTestEnv(t)
	env.ocr.texts["menu"] = domain.ExtractedText{Text: "8 Ball Pool by Miniclip Play Special", Confidence: 95}
	env.ocr.texts["profile"] = domain.ExtractedText{Text: "Level Progress 42 Rank Silver", Confidence: 95}

	outcome, err := env.svc.Process(context.Background(), submission("u1", "profile", "menu"))
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionRejectInvalid, outcome.Decision)

	// No side effects beyond the notification.
	assert.Empty(t, env.chat.roleAssigned)
	rec, _ := env.store.Get(context.Background(), "u1")
	assert.Nil(t, rec)
	require.Len(t, env.chat.dmsSent, 1)
	assert.Contains(t, env.chat.dmsSent[0], "rejected")
}

func TestProcess_UnreadableText(t *testing.T) {
	env := newTestEnv(t)
	env.ocr.texts["blurry"] = domain.ExtractedText{Text: "Level Progress ??? Rank ......", Confidence: 20}

	outcome, err := env.svc.Process(context.Background(), submission("u1", "blurry"))
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionRejectUnreadable, outcome.Decision)
	assert.Empty(t, env.chat.roleAssigned)
}

func TestProcess_NoUpgrade(t *testing.T) {
	env := newTestEnv(t)
	env.store.records["u1"] = &domain.VerificationRecord{
		UserID: "u1", RankName: "Gold", LevelDetected: 65, RoleIDAssigned: "300",
		VerifiedAt: time.Now(), UpdatedAt: time.Now(),
	}
	env.ocr.texts["img1"] = domain.ExtractedText{Text: "Level Progress 15", Confidence: 90}

	outcome, err := env.svc.Process(context.Background(), submission("u1", "img1"))
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionRejectNoUpgrade, outcome.Decision)

	// Stored record untouched.
	rec, _ := env.store.Get(context.Background(), "u1")
	assert.Equal(t, "Gold", rec.RankName)
	assert.Empty(t, env.chat.roleAssigned)
}

func TestProcess_BestAttachmentWins(t *testing.T) {
	env := newTestEnv(t)
	env.ocr.texts["low"] = domain.ExtractedText{Text: "Level Progress 15", Confidence: 40}
	env.ocr.texts["high"] = domain.ExtractedText{Text: "Level Progress 65", Confidence: 95}

	outcome, err := env.svc.Process(context.Background(), submission("u1", "low", "high"))
	require.NoError(t, err)
	require.Equal(t, domain.DecisionAccept, outcome.Decision)
	assert.Equal(t, "Gold", outcome.Rank.Name)
	assert.Equal(t, 65, outcome.Level)
}

func TestProcess_SingleAttachmentFailureIsSkipped(t *testing.T) {
	env := newTestEnv(t)
	env.chat.downloadErrs["broken"] = errors.New("cdn 500")
	env.ocr.texts["good"] = domain.ExtractedText{Text: "Level Progress 42 Rank Silver", Confidence: 90}

	outcome, err := env.svc.Process(context.Background(), submission("u1", "broken", "good"))
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionAccept, outcome.Decision)
}

func TestProcess_AllAttachmentsFailed(t *testing.T) {
	env := newTestEnv(t)
	env.chat.downloadErrs["a"] = errors.New("cdn 500")
	env.ocr.errs["b"] = domain.ErrOCRFailure

	_, err := env.svc.Process(context.Background(), submission("u1", "a", "b"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAllAttachmentsFailed)

	// No notification for an operational failure; retry policy lives with
	// the caller.
	assert.Empty(t, env.chat.dmsSent)
}

func TestProcess_NoAttachmentsIsUnreadable(t *testing.T) {
	env := newTestEnv(t)

	outcome, err := env.svc.Process(context.Background(), submission("u1"))
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionRejectUnreadable, outcome.Decision)
}

func TestProcess_DeliveryFailureIsNonFatal(t *testing.T) {
	env := newTestEnv(t)
	env.chat.dmErr = domain.ErrDeliveryFailed
	env.ocr.texts["img1"] = domain.ExtractedText{Text: "Level Progress 42", Confidence: 90}

	outcome, err := env.svc.Process(context.Background(), submission("u1", "img1"))
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionAccept, outcome.Decision)
	assert.Equal(t, 0, env.sched.Pending())
}

// A newer notification to the same user supersedes the previous one: the old
// timer is cancelled and only the newest DM is ever deleted by TTL.
func TestProcess_NewNotificationSupersedesOld(t *testing.T) {
	env := newTestEnv(t)
	env.ocr.texts["img1"] = domain.ExtractedText{Text: "Level Progress 42", Confidence: 90}
	env.ocr.texts["img2"] = domain.ExtractedText{Text: "Level Progress 65", Confidence: 90}

	_, err := env.svc.Process(context.Background(), submission("u1", "img1"))
	require.NoError(t, err)
	_, err = env.svc.Process(context.Background(), submission("u1", "img2"))
	require.NoError(t, err)

	require.Len(t, env.chat.dmsSent, 2)
	assert.Equal(t, 1, env.sched.Pending())

	env.clock.Add(time.Minute)

	// Two source deletions plus exactly one DM deletion (the newest).
	var dmDeletions []domain.MessageHandle
	for _, h := range env.chat.deletions() {
		if h.ChannelID == "dm-u1" {
			dmDeletions = append(dmDeletions, h)
		}
	}
	require.Len(t, dmDeletions, 1)
	assert.Equal(t, "m2", dmDeletions[0].MessageID)
}

// Monotonic upgrades survive sequential resubmission: Silver then Gold
// upgrades, Gold then Silver does not.
func TestProcess_MonotonicAcrossSubmissions(t *testing.T) {
	env := newTestEnv(t)
	env.ocr.texts["silver"] = domain.ExtractedText{Text: "Level Progress 42", Confidence: 90}
	env.ocr.texts["gold"] = domain.ExtractedText{Text: "Level Progress 65", Confidence: 90}

	out1, err := env.svc.Process(context.Background(), submission("u1", "silver"))
	require.NoError(t, err)
	require.Equal(t, domain.DecisionAccept, out1.Decision)

	out2, err := env.svc.Process(context.Background(), submission("u1", "gold"))
	require.NoError(t, err)
	require.Equal(t, domain.DecisionAccept, out2.Decision)
	assert.Equal(t, "300", env.chat.roleAssigned["u1"])

	out3, err := env.svc.Process(context.Background(), submission("u1", "silver"))
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionRejectNoUpgrade, out3.Decision)

	rec, _ := env.store.Get(context.Background(), "u1")
	assert.Equal(t, "Gold", rec.RankName)
}

// A same-tier re-accept with a lower within-tier level keeps the stored
// level: level_detected never decreases across updates.
func TestProcess_SameTierLowerLevelKeepsStoredLevel(t *testing.T) {
	env := newTestEnv(t)
	env.store.records["u1"] = &domain.VerificationRecord{
		UserID: "u1", RankName: "Silver", LevelDetected: 45, RoleIDAssigned: "200",
		VerifiedAt: time.Now(), UpdatedAt: time.Now(),
	}
	env.ocr.texts["img1"] = domain.ExtractedText{Text: "Level Progress 42", Confidence: 90}

	outcome, err := env.svc.Process(context.Background(), submission("u1", "img1"))
	require.NoError(t, err)
	require.Equal(t, domain.DecisionAccept, outcome.Decision)

	rec, err := env.store.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "Silver", rec.RankName)
	assert.Equal(t, 45, rec.LevelDetected)
}

// An accept that came through the fuzzy name path carries no numeric level;
// the stored level must survive instead of being overwritten with zero.
func TestProcess_NamePathAcceptKeepsStoredLevel(t *testing.T) {
	env := newTestEnv(t)
	env.store.records["u1"] = &domain.VerificationRecord{
		UserID: "u1", RankName: "Silver", LevelDetected: 45, RoleIDAssigned: "200",
		VerifiedAt: time.Now(), UpdatedAt: time.Now(),
	}
	env.ocr.texts["img1"] = domain.ExtractedText{Text: "Rank: Silver", Confidence: 90}

	outcome, err := env.svc.Process(context.Background(), submission("u1", "img1"))
	require.NoError(t, err)
	require.Equal(t, domain.DecisionAccept, outcome.Decision)
	assert.Equal(t, 0, outcome.Level)

	rec, err := env.store.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 45, rec.LevelDetected)
}

// Higher levels still flow through unchanged.
func TestProcess_HigherLevelUpdatesStoredLevel(t *testing.T) {
	env := newTestEnv(t)
	env.store.records["u1"] = &domain.VerificationRecord{
		UserID: "u1", RankName: "Silver", LevelDetected: 45, RoleIDAssigned: "200",
		VerifiedAt: time.Now(), UpdatedAt: time.Now(),
	}
	env.ocr.texts["img1"] = domain.ExtractedText{Text: "Level Progress 58", Confidence: 90}

	_, err := env.svc.Process(context.Background(), submission("u1", "img1"))
	require.NoError(t, err)

	rec, err := env.store.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 58, rec.LevelDetected)
}

// Per-user lock entries are reference-counted away once released, so the
// lock map does not grow with the number of distinct users seen.
func TestProcess_ReleasesUserLockEntry(t *testing.T) {
	env := newTestEnv(t)
	env.ocr.texts["img1"] = domain.ExtractedText{Text: "Level Progress 42", Confidence: 90}

	for _, user := range []string{"u1", "u2", "u3"} {
		_, err := env.svc.Process(context.Background(), submission(user, "img1"))
		require.NoError(t, err)
	}

	env.svc.userMu.Lock()
	defer env.svc.userMu.Unlock()
	assert.Empty(t, env.svc.userLocks)
}

// Reconcile stays pure: identical inputs give identical outcomes regardless
// of how many times it runs.
func TestReconcileIdempotentThroughService(t *testing.T) {
	table, err := ranks.Parse([]byte(testTableYAML))
	require.NoError(t, err)

	results := []domain.MatchResult{{IsProfileScreen: true}}
	for i := 0; i < 5; i++ {
		out := reconcile.Reconcile(results, nil, table)
		assert.Equal(t, domain.DecisionRejectUnreadable, out.Decision)
	}
}
