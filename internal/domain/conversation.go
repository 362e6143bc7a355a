package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Role represents the author of a conversation turn
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

const (
	MainBranchID = "main"

	// CharsPerToken is the rough conversion used for context estimates.
	CharsPerToken = 4
	// DefaultContextLimit applies when a model declares no context window.
	DefaultContextLimit = 128_000
)

// ConversationTurn is one step of a branch. Turns are never edited after
// they are appended; undo and revert only remove them.
type ConversationTurn struct {
	TurnID       string          `json:"turn_id"`
	Role         Role            `json:"role"`
	Prompt       string          `json:"prompt,omitempty"`
	ImageID      string          `json:"image_id,omitempty"`
	ImageURL     string          `json:"image_url,omitempty"`
	ThumbnailURL string          `json:"thumbnail_url,omitempty"`
	TextResponse string          `json:"text_response,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
	Usage        json.RawMessage `json:"usage,omitempty"`
}

// ConversationBranch is a named, ordered sequence of turns. A forked branch
// starts as a prefix copy of its parent through ForkTurnIndex.
type ConversationBranch struct {
	BranchID       string             `json:"branch_id"`
	Name           string             `json:"name"`
	ParentBranchID string             `json:"parent_branch_id,omitempty"`
	ForkTurnIndex  *int               `json:"fork_turn_index,omitempty"`
	Turns          []ConversationTurn `json:"turns"`
}

// ConversationSession is a multi-turn editing conversation. The whole
// document is the unit of persistence.
type ConversationSession struct {
	SessionID          string               `json:"session_id"`
	Project            string               `json:"project"`
	ModelID            string               `json:"model_id"`
	CreatedAt          time.Time            `json:"created_at"`
	UpdatedAt          time.Time            `json:"updated_at"`
	Branches           []ConversationBranch `json:"branches"`
	ActiveBranchID     string               `json:"active_branch_id"`
	SubjectLocked      bool                 `json:"subject_locked"`
	SubjectLockImageID string               `json:"subject_lock_image_id,omitempty"`
}

// ConversationSessionSummary is the list view of a session.
type ConversationSessionSummary struct {
	SessionID    string    `json:"session_id"`
	ModelID      string    `json:"model_id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	TurnCount    int       `json:"turn_count"`
	BranchCount  int       `json:"branch_count"`
	LastImageURL string    `json:"last_image_url,omitempty"`
}

// TokenUsage is a rough estimate of how much of the model context the
// active branch consumes.
type TokenUsage struct {
	EstimatedTokens int     `json:"estimated_tokens"`
	ContextLimit    int     `json:"context_limit"`
	UsageRatio      float64 `json:"usage_ratio"`
	NearLimit       bool    `json:"near_limit"`
}

// HistoryMessage is a prior turn rendered for the provider.
type HistoryMessage struct {
	Role    Role
	Content string
}

// SessionStore persists whole session documents
type SessionStore interface {
	Save(ctx context.Context, session *ConversationSession) error
	// Load returns a not_found Error when the session does not exist.
	Load(ctx context.Context, project, sessionID string) (*ConversationSession, error)
	List(ctx context.Context, project string) ([]*ConversationSession, error)
	// Delete returns a not_found Error when the session does not exist.
	Delete(ctx context.Context, project, sessionID string) error
}

// NewConversationSession returns a session with a single empty "main"
// branch that is active.
func NewConversationSession(project, modelID string, now time.Time) *ConversationSession {
	now = now.UTC()
	return &ConversationSession{
		SessionID: uuid.NewString(),
		Project:   project,
		ModelID:   modelID,
		CreatedAt: now,
		UpdatedAt: now,
		Branches: []ConversationBranch{
			{BranchID: MainBranchID, Name: "main", Turns: []ConversationTurn{}},
		},
		ActiveBranchID: MainBranchID,
	}
}

// Branch returns the branch with the given id, or nil.
func (s *ConversationSession) Branch(branchID string) *ConversationBranch {
	for i := range s.Branches {
		if s.Branches[i].BranchID == branchID {
			return &s.Branches[i]
		}
	}
	return nil
}

// ActiveBranch returns the branch the active pointer selects, or nil when
// the document is corrupt.
func (s *ConversationSession) ActiveBranch() *ConversationBranch {
	return s.Branch(s.ActiveBranchID)
}

// AddTurn appends turn to the active branch, assigning an id and a
// timestamp when the caller left them empty.
func (s *ConversationSession) AddTurn(turn ConversationTurn) (*ConversationTurn, error) {
	branch := s.ActiveBranch()
	if branch == nil {
		return nil, Errorf(KindInvalidState, "active branch %q does not exist", s.ActiveBranchID)
	}
	if turn.TurnID == "" {
		turn.TurnID = uuid.NewString()
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}
	branch.Turns = append(branch.Turns, turn)
	return &branch.Turns[len(branch.Turns)-1], nil
}

// UndoTurn removes the last turn of the active branch. It reports false
// when there was nothing to remove.
func (s *ConversationSession) UndoTurn() bool {
	branch := s.ActiveBranch()
	if branch == nil || len(branch.Turns) == 0 {
		return false
	}
	branch.Turns = branch.Turns[:len(branch.Turns)-1]
	return true
}

// RevertToTurn truncates the active branch so that index is its last turn.
func (s *ConversationSession) RevertToTurn(index int) bool {
	branch := s.ActiveBranch()
	if branch == nil || index < 0 || index >= len(branch.Turns) {
		return false
	}
	branch.Turns = branch.Turns[:index+1]
	return true
}

// BranchFromTurn forks the active branch through index into a new branch
// and makes it active.
func (s *ConversationSession) BranchFromTurn(index int) (*ConversationBranch, error) {
	parent := s.ActiveBranch()
	if parent == nil {
		return nil, Errorf(KindInvalidState, "active branch %q does not exist", s.ActiveBranchID)
	}
	if index < 0 || index >= len(parent.Turns) {
		return nil, Errorf(KindInvalidArgument, "turn index %d out of range for branch with %d turns", index, len(parent.Turns))
	}

	turns := make([]ConversationTurn, index+1)
	copy(turns, parent.Turns[:index+1])
	fork := index

	branch := ConversationBranch{
		BranchID:       uuid.NewString(),
		Name:           fmt.Sprintf("branch-%d", len(s.Branches)),
		ParentBranchID: parent.BranchID,
		ForkTurnIndex:  &fork,
		Turns:          turns,
	}
	s.Branches = append(s.Branches, branch)
	s.ActiveBranchID = branch.BranchID
	return &s.Branches[len(s.Branches)-1], nil
}

// SwitchBranch makes branchID active when it exists.
func (s *ConversationSession) SwitchBranch(branchID string) bool {
	if s.Branch(branchID) == nil {
		return false
	}
	s.ActiveBranchID = branchID
	return true
}

// SetSubjectLock pins imageID as the reference for later edits. Unlocking
// always clears the pinned image.
func (s *ConversationSession) SetSubjectLock(locked bool, imageID string) {
	s.SubjectLocked = locked
	if locked {
		s.SubjectLockImageID = imageID
	} else {
		s.SubjectLockImageID = ""
	}
}

// EstimateTokenUsage sums prompt and response characters of the active
// branch. A non-positive contextLimit falls back to DefaultContextLimit.
func (s *ConversationSession) EstimateTokenUsage(contextLimit int) TokenUsage {
	if contextLimit <= 0 {
		contextLimit = DefaultContextLimit
	}
	branch := s.ActiveBranch()
	if branch == nil {
		return TokenUsage{ContextLimit: contextLimit}
	}

	chars := 0
	for _, t := range branch.Turns {
		chars += utf8.RuneCountInString(t.Prompt)
		chars += utf8.RuneCountInString(t.TextResponse)
	}
	tokens := chars / CharsPerToken
	ratio := float64(tokens) / float64(contextLimit)

	return TokenUsage{
		EstimatedTokens: tokens,
		ContextLimit:    contextLimit,
		UsageRatio:      math.Round(ratio*1000) / 1000,
		// tokens/limit >= 0.8, kept in integers so the boundary is exact
		NearLimit: tokens*5 >= contextLimit*4,
	}
}

// HistoryMessages renders the active branch as provider chat history.
func (s *ConversationSession) HistoryMessages() []HistoryMessage {
	branch := s.ActiveBranch()
	if branch == nil {
		return nil
	}
	messages := make([]HistoryMessage, 0, len(branch.Turns))
	for _, t := range branch.Turns {
		switch {
		case t.Role == RoleUser && t.Prompt != "":
			messages = append(messages, HistoryMessage{Role: RoleUser, Content: t.Prompt})
		case t.Role == RoleAssistant:
			messages = append(messages, HistoryMessage{Role: RoleAssistant, Content: t.TextResponse})
		}
	}
	return messages
}

// LastImageTurn returns the most recent turn of the active branch that
// produced an image.
func (s *ConversationSession) LastImageTurn() *ConversationTurn {
	branch := s.ActiveBranch()
	if branch == nil {
		return nil
	}
	for i := len(branch.Turns) - 1; i >= 0; i-- {
		if branch.Turns[i].ImageID != "" {
			return &branch.Turns[i]
		}
	}
	return nil
}

// Summary builds the list view of the session.
func (s *ConversationSession) Summary() ConversationSessionSummary {
	summary := ConversationSessionSummary{
		SessionID:   s.SessionID,
		ModelID:     s.ModelID,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
		BranchCount: len(s.Branches),
	}
	if branch := s.ActiveBranch(); branch != nil {
		summary.TurnCount = len(branch.Turns)
		for i := len(branch.Turns) - 1; i >= 0; i-- {
			if branch.Turns[i].ImageURL != "" {
				summary.LastImageURL = branch.Turns[i].ImageURL
				break
			}
		}
	}
	return summary
}
