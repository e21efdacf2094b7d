package domain

import (
	"fmt"
	"strings"
	"time"
)

// ModerationState tracks an entry through the moderation gate.
type ModerationState string

const (
	ModerationPending  ModerationState = "pending"
	ModerationApproved ModerationState = "approved"
	ModerationRejected ModerationState = "rejected"
)

// ModerationDecision is what a moderator can decide about a pending entry.
type ModerationDecision string

const (
	DecisionApprove ModerationDecision = "approve"
	DecisionReject  ModerationDecision = "reject"
)

// ParseModerationState validates a moderation state filter or column value.
func ParseModerationState(s string) (ModerationState, error) {
	switch ModerationState(s) {
	case ModerationPending, ModerationApproved, ModerationRejected:
		return ModerationState(s), nil
	default:
		return "", Invalid(fmt.Sprintf("unknown moderation state %q", s))
	}
}

// Outcome maps a decision to the resulting moderation state.
func (d ModerationDecision) Outcome() (ModerationState, error) {
	switch d {
	case DecisionApprove:
		return ModerationApproved, nil
	case DecisionReject:
		return ModerationRejected, nil
	default:
		return "", Invalid(fmt.Sprintf("unknown moderation decision %q", d))
	}
}

// Entry is a participant's submission to a contest.
type Entry struct {
	ID              string          `json:"id"`
	ContestID       string          `json:"contest_id"`
	ParticipantID   string          `json:"participant_id"`
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	MediaRef        string          `json:"media_ref"`
	ModerationState ModerationState `json:"moderation_state"`
	ModeratedBy     string          `json:"moderated_by,omitempty"`
	ModeratedAt     *time.Time      `json:"moderated_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// SubmitEntryRequest is the participant payload for a submission.
type SubmitEntryRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	MediaRef    string `json:"media_ref"`
}

// Validate trims and checks the submission payload.
func (r *SubmitEntryRequest) Validate() error {
	r.Title = strings.TrimSpace(r.Title)
	r.Description = strings.TrimSpace(r.Description)
	r.MediaRef = strings.TrimSpace(r.MediaRef)

	if len(r.Title) < 2 {
		return Invalid("title is required (min 2 characters)")
	}
	if len(r.Title) > 200 {
		return Invalid("title must not exceed 200 characters")
	}
	if len(r.Description) > 5000 {
		return Invalid("description must not exceed 5000 characters")
	}
	if r.MediaRef == "" {
		return Invalid("media_ref is required")
	}
	return nil
}

// ModerateRequest is the admin moderation payload.
type ModerateRequest struct {
	Decision ModerationDecision `json:"decision"`
}
