package domain

import "strconv"

// SecondsInDay is the granularity of every age computation in the engine.
const SecondsInDay = 86400

type Project struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Suspended   bool   `json:"suspended"`
	CreatedAt   int64  `json:"created_at"`
}

type User struct {
	ID       int64  `json:"id"`
	Account  string `json:"account"`
	FullName string `json:"full_name"`
	Email    string `json:"email,omitempty"`
	Admin    bool   `json:"admin"`
	Disabled bool   `json:"disabled"`
}

// Group is a named set of users. ProjectID nil means the group is global
// and applies to every project.
type Group struct {
	ID          int64  `json:"id"`
	ProjectID   *int64 `json:"project_id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// IsGlobal reports whether the group applies across all projects.
func (g Group) IsGlobal() bool { return g.ProjectID == nil }

type Template struct {
	ID          int64  `json:"id"`
	ProjectID   int64  `json:"project_id"`
	Name        string `json:"name"`
	Prefix      string `json:"prefix"`
	Description string `json:"description,omitempty"`
	CriticalAge *int   `json:"critical_age,omitempty"`
	FrozenTime  *int   `json:"frozen_time,omitempty"`
	Locked      bool   `json:"locked"`
	GuestAccess bool   `json:"guest_access"`
}

type State struct {
	ID          int64            `json:"id"`
	TemplateID  int64            `json:"template_id"`
	Name        string           `json:"name"`
	Type        StateType        `json:"type"`
	Responsible StateResponsible `json:"responsible"`
	NextStateID *int64           `json:"next_state_id,omitempty"`
}

// IsFinal reports whether issues entering this state are closed.
func (s State) IsFinal() bool { return s.Type == StateFinal }

// EffectiveResponsible normalizes the responsible policy: a final state
// never carries responsibility, whatever was stored.
func (s State) EffectiveResponsible() StateResponsible {
	if s.IsFinal() {
		return ResponsibleRemove
	}
	return s.Responsible
}

// EffectiveNextState normalizes the default next state: final states have
// no continuation.
func (s State) EffectiveNextState() *int64 {
	if s.IsFinal() {
		return nil
	}
	return s.NextStateID
}

// StateTransition is a directed edge of the workflow graph granted to one
// principal: a system role or a group (exactly one of Role/GroupID is set).
type StateTransition struct {
	ID          int64      `json:"id"`
	FromStateID int64      `json:"from_state_id"`
	ToStateID   int64      `json:"to_state_id"`
	Role        SystemRole `json:"role,omitempty"`
	GroupID     *int64     `json:"group_id,omitempty"`
}

// ResponsibleGroup marks a group whose members may be auto-assigned when an
// issue enters the state (responsible policy "assign").
type ResponsibleGroup struct {
	StateID int64 `json:"state_id"`
	GroupID int64 `json:"group_id"`
}

// TemplatePermission grants one action permission on a template to a system
// role or a group.
type TemplatePermission struct {
	TemplateID int64      `json:"template_id"`
	Role       SystemRole `json:"role,omitempty"`
	GroupID    *int64     `json:"group_id,omitempty"`
	Permission Permission `json:"permission"`
}

// FieldPermission grants a ranked access level on a field to a system role
// or a group. Absence of any row means AccessNone.
type FieldPermission struct {
	FieldID int64       `json:"field_id"`
	Role    SystemRole  `json:"role,omitempty"`
	GroupID *int64      `json:"group_id,omitempty"`
	Access  FieldAccess `json:"access"`
}

type Field struct {
	ID         int64     `json:"id"`
	StateID    int64     `json:"state_id"`
	Name       string    `json:"name"`
	Type       FieldType `json:"type"`
	Required   bool      `json:"required"`
	Position   int       `json:"position"`
	RemovedAt  *int64    `json:"removed_at,omitempty"`
	Param1     *int64    `json:"param1,omitempty"`
	Param2     *int64    `json:"param2,omitempty"`
	DefaultVal *int64    `json:"default,omitempty"`
}

// IsRemoved reports whether the field was soft-deleted. Removed fields keep
// their historical values but are excluded from active field sets.
func (f Field) IsRemoved() bool { return f.RemovedAt != nil }

// ListItem is one selectable value of a list field, ordered by Value.
type ListItem struct {
	ID      int64  `json:"id"`
	FieldID int64  `json:"field_id"`
	Value   int    `json:"value"`
	Text    string `json:"text"`
}

type Issue struct {
	ID            int64  `json:"id"`
	StateID       int64  `json:"state_id"`
	TemplateID    int64  `json:"template_id"`
	ProjectID     int64  `json:"project_id"`
	Subject       string `json:"subject"`
	AuthorID      int64  `json:"author_id"`
	ResponsibleID *int64 `json:"responsible_id,omitempty"`
	OriginID      *int64 `json:"origin_id,omitempty"`
	CreatedAt     int64  `json:"created_at"`
	ChangedAt     int64  `json:"changed_at"`
	ClosedAt      *int64 `json:"closed_at,omitempty"`
	ResumesAt     *int64 `json:"resumes_at,omitempty"`
}

// Reference renders the issue's human-readable reference, e.g. "BUG-42".
func (i Issue) Reference(prefix string) string {
	if prefix == "" {
		prefix = "issue"
	}
	return prefix + "-" + strconv.FormatInt(i.ID, 10)
}

// IsClosed reports whether the issue currently sits in a final state.
func (i Issue) IsClosed() bool { return i.ClosedAt != nil }

// Age is the issue's age in days: time from creation until closing (or
// until now while open), rounded up to whole days.
func (i Issue) Age(now int64) int {
	end := now
	if i.ClosedAt != nil {
		end = *i.ClosedAt
	}
	return ageDays(i.CreatedAt, end)
}

// IsCritical reports whether an open issue has outgrown the template's
// critical age. Depends on the wall clock; never cache across evaluations.
func (i Issue) IsCritical(t Template, now int64) bool {
	if t.CriticalAge == nil || i.IsClosed() {
		return false
	}
	return i.Age(now) > *t.CriticalAge
}

// IsFrozen reports whether a closed issue is past the template's grace
// period for post-closing edits.
func (i Issue) IsFrozen(t Template, now int64) bool {
	if t.FrozenTime == nil || i.ClosedAt == nil {
		return false
	}
	return ageDays(*i.ClosedAt, now) > *t.FrozenTime
}

// IsSuspended reports whether the issue is suspended until a future moment.
// A resume point at or before now counts as not suspended.
func (i Issue) IsSuspended(now int64) bool {
	return i.ResumesAt != nil && *i.ResumesAt > now
}

func ageDays(from, to int64) int {
	d := to - from
	if d <= 0 {
		return 0
	}
	return int((d + SecondsInDay - 1) / SecondsInDay)
}

// Event is one immutable audit record. Parameter carries a type-dependent
// id: the state for state changes, the user for assignments, the attachment
// for file events, the peer issue for dependency events.
type Event struct {
	ID        int64     `json:"id"`
	Type      EventType `json:"type"`
	IssueID   int64     `json:"issue_id"`
	UserID    int64     `json:"user_id"`
	CreatedAt int64     `json:"created_at"`
	Parameter *int64    `json:"parameter,omitempty"`
}

// Change is a field-level before/after diff attached to an event. A nil
// FieldID denotes the issue subject. Values are opaque encodings resolved
// through the field's type.
type Change struct {
	ID       int64  `json:"id"`
	EventID  int64  `json:"event_id"`
	FieldID  *int64 `json:"field_id,omitempty"`
	OldValue *int64 `json:"old_value,omitempty"`
	NewValue *int64 `json:"new_value,omitempty"`
}

// FieldValue is the current value of one field on one issue. History is
// reconstructed from Change rows, not by mutating these in place.
type FieldValue struct {
	IssueID   int64  `json:"issue_id"`
	FieldID   int64  `json:"field_id"`
	Value     *int64 `json:"value,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

type Comment struct {
	ID      int64  `json:"id"`
	EventID int64  `json:"event_id"`
	IssueID int64  `json:"issue_id"`
	Body    string `json:"body"`
	Private bool   `json:"private"`
}

// Attachment is file metadata only; byte storage lives behind the repo
// boundary in the workspace files directory.
type Attachment struct {
	ID      int64  `json:"id"`
	EventID int64  `json:"event_id"`
	IssueID int64  `json:"issue_id"`
	Name    string `json:"name"`
	Size    int64  `json:"size"`
	Mime    string `json:"mime,omitempty"`
	Digest  string `json:"digest,omitempty"`
	Removed bool   `json:"removed"`
}

// Dependency blocks closing IssueID until BlockerID leaves its final-less
// life: an issue with open dependencies cannot move straight to a final
// state.
type Dependency struct {
	IssueID   int64 `json:"issue_id"`
	BlockerID int64 `json:"blocker_id"`
}

type Watcher struct {
	IssueID int64 `json:"issue_id"`
	UserID  int64 `json:"user_id"`
}

type LastRead struct {
	IssueID int64 `json:"issue_id"`
	UserID  int64 `json:"user_id"`
	ReadAt  int64 `json:"read_at"`
}
