package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Rrens/imagegen-studio/internal/api/response"
	"github.com/Rrens/imagegen-studio/internal/domain"
)

// Conversations is the conversation service surface used by
// ConversationHandler
type Conversations interface {
	Create(ctx context.Context, req domain.CreateSessionRequest) (*domain.ConversationSession, error)
	Get(ctx context.Context, project, sessionID string) (*domain.ConversationSession, error)
	List(ctx context.Context, project string) ([]domain.ConversationSessionSummary, error)
	Delete(ctx context.Context, project, sessionID string) error
	Edit(ctx context.Context, req domain.ConversationEditRequest) (*domain.GenerateResponse, error)
	Undo(ctx context.Context, project, sessionID string) (bool, error)
	Revert(ctx context.Context, project, sessionID string, index int) (bool, error)
	Branch(ctx context.Context, project, sessionID string, index int) (*domain.ConversationBranch, error)
	SwitchBranch(ctx context.Context, project, sessionID, branchID string) (bool, error)
	SetSubjectLock(ctx context.Context, project, sessionID string, locked bool, imageID string) (*domain.ConversationSession, error)
	TokenUsage(ctx context.Context, project, sessionID string) (domain.TokenUsage, error)
}

// ConversationHandler handles conversation session endpoints
type ConversationHandler struct {
	conversations Conversations
	keys          KeySource
}

// NewConversationHandler creates a new conversation handler
func NewConversationHandler(conversations Conversations, keys KeySource) *ConversationHandler {
	return &ConversationHandler{conversations: conversations, keys: keys}
}

func project(r *http.Request) string {
	return r.URL.Query().Get("project")
}

// CreateSession starts a new conversation
func (h *ConversationHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateSessionRequest
	if !decode(w, r, &req) {
		return
	}

	session, err := h.conversations.Create(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.Created(w, session)
}

// ListSessions lists sessions of a project, most recently updated first
func (h *ConversationHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.conversations.List(r.Context(), project(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, sessions)
}

// GetSession returns the full session document
func (h *ConversationHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.conversations.Get(r.Context(), project(r), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, session)
}

// DeleteSession deletes a session
func (h *ConversationHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.conversations.Delete(r.Context(), project(r), chi.URLParam(r, "sessionID")); err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, map[string]any{"deleted": true})
}

// Edit sends one editing instruction
func (h *ConversationHandler) Edit(w http.ResponseWriter, r *http.Request) {
	var req domain.ConversationEditRequest
	if !decode(w, r, &req) {
		return
	}
	if !requireKey(w, r, h.keys) {
		return
	}

	resp, err := h.conversations.Edit(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, resp)
}

// Undo removes the last turn of the active branch
func (h *ConversationHandler) Undo(w http.ResponseWriter, r *http.Request) {
	undone, err := h.conversations.Undo(r.Context(), project(r), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !undone {
		response.OK(w, map[string]any{"undone": false, "message": "No turns to undo"})
		return
	}
	response.OK(w, map[string]any{"undone": true})
}

// Revert truncates the active branch after the given turn
func (h *ConversationHandler) Revert(w http.ResponseWriter, r *http.Request) {
	var req domain.TurnIndexRequest
	if !decode(w, r, &req) {
		return
	}

	reverted, err := h.conversations.Revert(r.Context(), req.Project, req.SessionID, *req.TurnIndex)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !reverted {
		response.OK(w, map[string]any{"reverted": false, "message": "Invalid turn index"})
		return
	}
	response.OK(w, map[string]any{"reverted": true, "turn_index": *req.TurnIndex})
}

// Branch forks a new branch from a turn of the active branch
func (h *ConversationHandler) Branch(w http.ResponseWriter, r *http.Request) {
	var req domain.TurnIndexRequest
	if !decode(w, r, &req) {
		return
	}

	branch, err := h.conversations.Branch(r.Context(), req.Project, req.SessionID, *req.TurnIndex)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, map[string]any{"branch_id": branch.BranchID, "name": branch.Name})
}

// SwitchBranch makes another branch active
func (h *ConversationHandler) SwitchBranch(w http.ResponseWriter, r *http.Request) {
	branchID := chi.URLParam(r, "branchID")
	switched, err := h.conversations.SwitchBranch(r.Context(), project(r), chi.URLParam(r, "sessionID"), branchID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !switched {
		response.OK(w, map[string]any{"switched": false, "message": "Branch not found"})
		return
	}
	response.OK(w, map[string]any{"switched": true, "branch_id": branchID})
}

// SubjectLock sets or clears the subject lock
func (h *ConversationHandler) SubjectLock(w http.ResponseWriter, r *http.Request) {
	var req domain.SubjectLockRequest
	if !decode(w, r, &req) {
		return
	}

	session, err := h.conversations.SetSubjectLock(r.Context(), req.Project, req.SessionID, req.Locked, req.ImageID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, map[string]any{
		"locked":   session.SubjectLocked,
		"image_id": session.SubjectLockImageID,
	})
}

// TokenUsage estimates context consumption of the active branch
func (h *ConversationHandler) TokenUsage(w http.ResponseWriter, r *http.Request) {
	usage, err := h.conversations.TokenUsage(r.Context(), project(r), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, usage)
}
