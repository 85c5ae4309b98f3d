package server

import (
	"trackline/internal/domain"
)

// Request payloads

type CreateProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type CreateGroupRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Global      bool   `json:"global,omitempty"`
}

type GroupMemberRequest struct {
	UserID int64 `json:"user_id"`
}

type CreateTemplateRequest struct {
	Name        string `json:"name"`
	Prefix      string `json:"prefix"`
	Description string `json:"description,omitempty"`
	CriticalAge *int   `json:"critical_age,omitempty"`
	FrozenTime  *int   `json:"frozen_time,omitempty"`
}

type CreateStateRequest struct {
	Name        string `json:"name"`
	Type        string `json:"type" enum:"initial,intermediate,final"`
	Responsible string `json:"responsible,omitempty" enum:"keep,assign,remove"`
}

type CreateTransitionRequest struct {
	ToStateID int64  `json:"to_state_id"`
	Role      string `json:"role,omitempty" enum:"author,responsible,anyone"`
	GroupID   *int64 `json:"group_id,omitempty"`
}

type GrantRequest struct {
	Role       string `json:"role,omitempty" enum:"author,responsible,anyone"`
	GroupID    *int64 `json:"group_id,omitempty"`
	Permission string `json:"permission"`
}

type CreateFieldRequest struct {
	Name     string   `json:"name"`
	Type     string   `json:"type" enum:"number,decimal,string,text,checkbox,list,issue,date,duration"`
	Required bool     `json:"required,omitempty"`
	Min      *int64   `json:"min,omitempty"`
	Max      *int64   `json:"max,omitempty"`
	Default  *int64   `json:"default,omitempty"`
	Items    []string `json:"items,omitempty"`
}

type FieldAccessRequest struct {
	Role    string `json:"role,omitempty" enum:"author,responsible,anyone"`
	GroupID *int64 `json:"group_id,omitempty"`
	Access  string `json:"access" enum:"none,read,read-write"`
}

type CreateIssueRequest struct {
	TemplateID  int64             `json:"template_id"`
	Subject     string            `json:"subject"`
	Values      map[string]string `json:"values,omitempty"`
	Responsible *int64            `json:"responsible,omitempty"`
}

type CloneIssueRequest struct {
	Subject string `json:"subject,omitempty"`
}

type UpdateIssueRequest struct {
	Subject *string           `json:"subject,omitempty"`
	Values  map[string]string `json:"values,omitempty"`
}

type TransitionRequest struct {
	StateID     int64  `json:"state_id"`
	Responsible *int64 `json:"responsible,omitempty"`
}

type ReassignRequest struct {
	Responsible int64 `json:"responsible"`
}

type SuspendRequest struct {
	Until int64 `json:"until"`
}

type CommentRequest struct {
	Body    string `json:"body"`
	Private bool   `json:"private,omitempty"`
}

type AttachmentRequest struct {
	Name   string `json:"name"`
	Size   int64  `json:"size,omitempty"`
	Mime   string `json:"mime,omitempty"`
	Digest string `json:"digest,omitempty"`
}

type DependencyRequest struct {
	BlockerID int64 `json:"blocker_id"`
}

type MarkReadRequest struct {
	IssueIDs []int64 `json:"issue_ids"`
}

type EvaluateRequest struct {
	Action        string `json:"action"`
	IssueID       int64  `json:"issue_id,omitempty"`
	TemplateID    int64  `json:"template_id,omitempty"`
	TargetStateID int64  `json:"target_state_id,omitempty"`
}

type CreateAPIKeyRequest struct {
	UserID int64 `json:"user_id,omitempty"`
}

// Response payloads

type IssueResponse struct {
	domain.Issue
	Reference string `json:"reference"`
	Age       int    `json:"age"`
	Critical  bool   `json:"critical"`
	Frozen    bool   `json:"frozen"`
	Suspended bool   `json:"suspended"`
}

func issueResponse(i domain.Issue, t domain.Template, now int64) IssueResponse {
	return IssueResponse{
		Issue:     i,
		Reference: i.Reference(t.Prefix),
		Age:       i.Age(now),
		Critical:  i.IsCritical(t, now),
		Frozen:    i.IsFrozen(t, now),
		Suspended: i.IsSuspended(now),
	}
}

// IssueDetailResponse augments the issue with its blockers, watchers, and
// the caller's read marker.
type IssueDetailResponse struct {
	IssueResponse
	Dependencies []int64 `json:"dependencies,omitempty"`
	Watchers     []int64 `json:"watchers,omitempty"`
	Read         bool    `json:"read"`
}

type EventResponse struct {
	domain.Event
	Changes []domain.Change `json:"changes,omitempty"`
}

type EvaluateResponse struct {
	Decision string `json:"decision" enum:"denied,granted"`
}

type BatchOutcome struct {
	IssueID int64  `json:"issue_id"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	UserID    int64  `json:"user_id"`
	Key       string `json:"key,omitempty"`
	CreatedAt int64  `json:"created_at"`
}
