package domain

import (
	"time"
)

// RankTier is one band of in-game levels mapped to an externally-managed
// chat role. Tiers are loaded once at startup and never mutated.
type RankTier struct {
	Name     string
	LevelMin int
	LevelMax int
	RoleID   string
}

// Contains reports whether level falls inside the tier's band.
func (t RankTier) Contains(level int) bool {
	return level >= t.LevelMin && level <= t.LevelMax
}

// ExtractedText is the raw output of the OCR engine for one attachment.
// Confidence is the engine's own 0-100 estimate, independent of any
// rank matching done afterwards.
type ExtractedText struct {
	Text       string
	Confidence float64
}

// MatchResult is the per-attachment verdict: whether the screenshot looks
// like a profile screen, which tier (if any) it matched, and how sure the
// matcher is. Rank is nil when nothing matched above threshold.
type MatchResult struct {
	Rank            *RankTier
	LevelDetected   int
	LevelFound      bool
	Confidence      float64
	IsProfileScreen bool
}

// VerificationRecord is the stored verification state for one user.
type VerificationRecord struct {
	UserID         string
	RankName       string
	LevelDetected  int
	RoleIDAssigned string
	VerifiedAt     time.Time
	UpdatedAt      time.Time
}

// VerificationEvent is one row of the append-only verification audit log.
type VerificationEvent struct {
	ID            string
	UserID        string
	RankName      string
	LevelDetected int
	RoleID        string
	Confidence    float64
	CreatedAt     time.Time
}

// Decision is the terminal outcome of reconciling one submission.
type Decision int

const (
	DecisionAccept Decision = iota
	DecisionRejectInvalid
	DecisionRejectUnreadable
	DecisionRejectNoUpgrade
)

func (d Decision) String() string {
	switch d {
	case DecisionAccept:
		return "accepted"
	case DecisionRejectInvalid:
		return "rejected_invalid"
	case DecisionRejectUnreadable:
		return "rejected_unreadable"
	case DecisionRejectNoUpgrade:
		return "rejected_no_upgrade"
	default:
		return "unknown"
	}
}

// Outcome carries the decision plus the winning tier and level when the
// decision is DecisionAccept.
type Outcome struct {
	Decision Decision
	Rank     *RankTier
	Level    int
}

// Attachment is one image in a submission, still on the wire.
type Attachment struct {
	ID          string
	URL         string
	Filename    string
	ContentType string
}

// Submission is one user message carrying screenshot attachments.
type Submission struct {
	MessageID   string
	ChannelID   string
	UserID      string
	Username    string
	Attachments []Attachment
}

// SourceHandle identifies the submission message for best-effort deletion.
func (s Submission) SourceHandle() MessageHandle {
	return MessageHandle{ChannelID: s.ChannelID, MessageID: s.MessageID}
}

// MessageHandle identifies one platform message (a notification DM or a
// submission message) for deletion.
type MessageHandle struct {
	ChannelID string
	MessageID string
}

// Key is the registry key for the handle.
func (h MessageHandle) Key() string {
	return h.ChannelID + "/" + h.MessageID
}
