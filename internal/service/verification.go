package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"pool-verifier/internal/classify"
	"pool-verifier/internal/config"
	"pool-verifier/internal/constants"
	"pool-verifier/internal/domain"
	"pool-verifier/internal/match"
	"pool-verifier/internal/ranks"
	"pool-verifier/internal/reconcile"
	"pool-verifier/internal/scheduler"
)

// OCRExtractor is the external text-recognition engine.
type OCRExtractor interface {
	ExtractText(ctx context.Context, image []byte, contentType string) (domain.ExtractedText, error)
}

// ChatGateway covers the platform side effects the pipeline triggers.
type ChatGateway interface {
	AssignRankRole(ctx context.Context, userID, roleID string) error
	SendDM(ctx context.Context, userID, content string) (domain.MessageHandle, error)
	DeleteMessage(ctx context.Context, handle domain.MessageHandle) error
	DownloadAttachment(ctx context.Context, url string) ([]byte, error)
}

// VerificationStore is the persistence collaborator for verification state.
type VerificationStore interface {
	Get(ctx context.Context, userID string) (*domain.VerificationRecord, error)
	Upsert(ctx context.Context, rec *domain.VerificationRecord) (*domain.VerificationRecord, error)
	AppendHistory(ctx context.Context, ev *domain.VerificationEvent) error
}

// VerificationService runs one submission end to end: download and OCR the
// attachments concurrently, classify and match each, reconcile against the
// stored record, then apply side effects. It is the sole writer gate, so
// side effects apply exactly once per submission.
type VerificationService struct {
	ocr        OCRExtractor
	chat       ChatGateway
	store      VerificationStore
	table      *ranks.Table
	classifier *classify.Classifier
	matcher    *match.Matcher
	sched      *scheduler.Scheduler
	noticeTTL  time.Duration
	logger     zerolog.Logger

	// Submissions for the same user run sequentially to preserve the
	// monotonic-upgrade invariant; different users run concurrently.
	// Entries are reference-counted and removed once the last holder
	// releases, so the map stays bounded by in-flight submissions.
	userMu    sync.Mutex
	userLocks map[string]*userLock

	// lastNotice tracks the newest notification per user so a fresh one
	// supersedes (cancels) the previous deletion timer.
	noticeMu   sync.Mutex
	lastNotice map[string]domain.MessageHandle
}

func NewVerificationService(
	ocr OCRExtractor,
	chat ChatGateway,
	store VerificationStore,
	table *ranks.Table,
	classifier *classify.Classifier,
	matcher *match.Matcher,
	sched *scheduler.Scheduler,
	cfg *config.Config,
	logger zerolog.Logger,
) *VerificationService {
	return &VerificationService{
		ocr:        ocr,
		chat:       chat,
		store:      store,
		table:      table,
		classifier: classifier,
		matcher:    matcher,
		sched:      sched,
		noticeTTL:  cfg.NoticeTTL,
		logger:     logger,
		userLocks:  make(map[string]*userLock),
		lastNotice: make(map[string]domain.MessageHandle),
	}
}

// Process handles one submission to a terminal outcome. Business rejections
// are Outcome values; an error is returned only for collaborator failures
// that prevented any decision.
func (s *VerificationService) Process(ctx context.Context, sub domain.Submission) (domain.Outcome, error) {
	unlock := s.lockUser(sub.UserID)
	defer unlock()

	ctx, cancel := context.WithTimeout(ctx, constants.SubmissionTimeout)
	defer cancel()

	s.logger.Info().
		Str("user_id", sub.UserID).
		Str("message_id", sub.MessageID).
		Int("attachments", len(sub.Attachments)).
		Msg("processing submission")

	results, err := s.extractAll(ctx, sub)
	if err != nil {
		return domain.Outcome{}, err
	}

	prior, err := s.store.Get(ctx, sub.UserID)
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("load prior record: %w", err)
	}

	outcome := reconcile.Reconcile(results, prior, s.table)

	s.logger.Info().
		Str("user_id", sub.UserID).
		Str("decision", outcome.Decision.String()).
		Msg("submission reconciled")

	if outcome.Decision == domain.DecisionAccept {
		if err := s.applyAccept(ctx, sub, prior, outcome, bestConfidence(results)); err != nil {
			return domain.Outcome{}, err
		}
	}

	s.notify(ctx, sub.UserID, noticeFor(outcome))
	s.deleteSource(ctx, sub)

	return outcome, nil
}

// extractAll downloads and OCRs the attachments concurrently, then runs the
// pure classifier and matcher on each in submission order. One attachment's
// collaborator failure skips that attachment; extraction fails outright only
// when every attachment failed.
func (s *VerificationService) extractAll(ctx context.Context, sub domain.Submission) ([]domain.MatchResult, error) {
	attachments := sub.Attachments
	if len(attachments) > constants.MaxAttachments {
		s.logger.Warn().
			Str("user_id", sub.UserID).
			Int("attachments", len(attachments)).
			Msg("too many attachments, extras ignored")
		attachments = attachments[:constants.MaxAttachments]
	}
	if len(attachments) == 0 {
		return nil, nil
	}

	extracted := make([]*domain.ExtractedText, len(attachments))

	g, gctx := errgroup.WithContext(ctx)
	for i, att := range attachments {
		g.Go(func() error {
			image, err := s.chat.DownloadAttachment(gctx, att.URL)
			if err != nil {
				s.logger.Warn().Err(err).Str("attachment_id", att.ID).Msg("attachment download failed")
				return nil
			}
			text, err := s.ocr.ExtractText(gctx, image, att.ContentType)
			if err != nil {
				s.logger.Warn().Err(err).Str("attachment_id", att.ID).Msg("ocr failed for attachment")
				return nil
			}
			extracted[i] = &text
			return nil
		})
	}
	// Goroutines report failures through the extracted slots, so this only
	// joins; the reconciler needs the full result set before deciding.
	_ = g.Wait()

	var results []domain.MatchResult
	for _, text := range extracted {
		if text == nil {
			continue
		}
		res := s.matcher.Match(*text)
		res.IsProfileScreen = s.classifier.Classify(text.Text)
		results = append(results, res)

		if e := s.logger.Debug(); e.Enabled() {
			e.Str("user_id", sub.UserID).
				Bool("is_profile", res.IsProfileScreen).
				Float64("confidence", res.Confidence).
				Strs("rules", s.classifier.MatchedRules(text.Text)).
				Msg("attachment classified")
		}
	}

	if results == nil && len(attachments) > 0 {
		return nil, domain.ErrAllAttachmentsFailed
	}
	return results, nil
}

// applyAccept performs the role grant and the record upsert. The role grant
// comes first: a record claiming a role the user never received would be
// worse than the reverse.
func (s *VerificationService) applyAccept(ctx context.Context, sub domain.Submission, prior *domain.VerificationRecord, outcome domain.Outcome, confidence float64) error {
	if err := s.chat.AssignRankRole(ctx, sub.UserID, outcome.Rank.RoleID); err != nil {
		return fmt.Errorf("assign rank role: %w", err)
	}

	// level_detected never decreases across updates: a same-tier re-accept
	// with a lower within-tier level, or a name-path accept that carried no
	// numeric level at all, keeps the previously stored level.
	level := outcome.Level
	if prior != nil && prior.LevelDetected > level {
		level = prior.LevelDetected
	}

	rec := &domain.VerificationRecord{
		UserID:         sub.UserID,
		RankName:       outcome.Rank.Name,
		LevelDetected:  level,
		RoleIDAssigned: outcome.Rank.RoleID,
	}
	if prior != nil {
		rec.VerifiedAt = prior.VerifiedAt
	}
	if _, err := s.store.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("store verification record: %w", err)
	}

	if err := s.store.AppendHistory(ctx, &domain.VerificationEvent{
		UserID:        sub.UserID,
		RankName:      outcome.Rank.Name,
		LevelDetected: outcome.Level,
		RoleID:        outcome.Rank.RoleID,
		Confidence:    confidence,
	}); err != nil {
		s.logger.Warn().Err(err).Str("user_id", sub.UserID).Msg("failed to append verification history")
	}

	return nil
}

// notify sends the outcome DM and schedules its deletion. A newer
// notification supersedes the previous one's timer. Delivery failure is
// non-fatal.
func (s *VerificationService) notify(ctx context.Context, userID, content string) {
	handle, err := s.chat.SendDM(ctx, userID, content)
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("notification not delivered")
		return
	}

	s.noticeMu.Lock()
	if prev, ok := s.lastNotice[userID]; ok {
		s.sched.Cancel(prev)
	}
	s.lastNotice[userID] = handle
	s.noticeMu.Unlock()

	s.sched.Schedule(handle, s.noticeTTL)
}

func (s *VerificationService) deleteSource(ctx context.Context, sub domain.Submission) {
	if err := s.chat.DeleteMessage(ctx, sub.SourceHandle()); err != nil {
		s.logger.Debug().Err(err).Str("message_id", sub.MessageID).Msg("source message not deleted")
	}
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

// lockUser serializes submissions per user and returns the release func.
func (s *VerificationService) lockUser(userID string) func() {
	s.userMu.Lock()
	lock, ok := s.userLocks[userID]
	if !ok {
		lock = &userLock{}
		s.userLocks[userID] = lock
	}
	lock.refs++
	s.userMu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()

		s.userMu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.userLocks, userID)
		}
		s.userMu.Unlock()
	}
}

func bestConfidence(results []domain.MatchResult) float64 {
	best := 0.0
	for _, r := range results {
		if r.Rank != nil && r.Confidence > best {
			best = r.Confidence
		}
	}
	return best
}

func noticeFor(outcome domain.Outcome) string {
	switch outcome.Decision {
	case domain.DecisionAccept:
		return fmt.Sprintf("Verification accepted! You are now ranked **%s** (level %d).", outcome.Rank.Name, outcome.Level)
	case domain.DecisionRejectInvalid:
		return "Verification rejected: please submit only profile screenshots showing your level and rank."
	case domain.DecisionRejectUnreadable:
		return "Verification failed: we couldn't read a rank from your screenshot. Try a clearer, uncropped profile screenshot."
	case domain.DecisionRejectNoUpgrade:
		return "Verification skipped: your stored rank is already equal or higher. Submit a new screenshot once you rank up."
	default:
		return "Verification could not be processed. Please try again later."
	}
}
