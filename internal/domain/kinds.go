package domain

import "fmt"

// StateType discriminates workflow states. Every template has exactly one
// initial state; entering a final state closes the issue.
type StateType string

const (
	StateInitial      StateType = "initial"
	StateIntermediate StateType = "intermediate"
	StateFinal        StateType = "final"
)

func ParseStateType(s string) (StateType, error) {
	switch StateType(s) {
	case StateInitial, StateIntermediate, StateFinal:
		return StateType(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStateType, s)
}

// StateResponsible is the policy applied to the responsible assignment when
// an issue enters the state.
type StateResponsible string

const (
	ResponsibleKeep   StateResponsible = "keep"
	ResponsibleAssign StateResponsible = "assign"
	ResponsibleRemove StateResponsible = "remove"
)

func ParseStateResponsible(s string) (StateResponsible, error) {
	switch StateResponsible(s) {
	case ResponsibleKeep, ResponsibleAssign, ResponsibleRemove:
		return StateResponsible(s), nil
	}
	return "", fmt.Errorf("%w: responsible policy %q", ErrUnknownStateType, s)
}

// FieldType is the closed set of field value kinds.
type FieldType string

const (
	FieldNumber   FieldType = "number"
	FieldDecimal  FieldType = "decimal"
	FieldString   FieldType = "string"
	FieldText     FieldType = "text"
	FieldCheckbox FieldType = "checkbox"
	FieldList     FieldType = "list"
	FieldIssue    FieldType = "issue"
	FieldDate     FieldType = "date"
	FieldDuration FieldType = "duration"
)

func ParseFieldType(s string) (FieldType, error) {
	switch FieldType(s) {
	case FieldNumber, FieldDecimal, FieldString, FieldText, FieldCheckbox,
		FieldList, FieldIssue, FieldDate, FieldDuration:
		return FieldType(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFieldType, s)
}

// SystemRole is a role computed per issue from the actor's relationship to
// it, as opposed to static group membership.
type SystemRole string

const (
	RoleAuthor      SystemRole = "author"
	RoleResponsible SystemRole = "responsible"
	RoleAnyone      SystemRole = "anyone"
)

func ParseSystemRole(s string) (SystemRole, error) {
	switch SystemRole(s) {
	case RoleAuthor, RoleResponsible, RoleAnyone:
		return SystemRole(s), nil
	}
	return "", fmt.Errorf("%w: role %q", ErrUnknownPrincipal, s)
}

// FieldAccess is the ranked field-level access: read-write > read > none.
type FieldAccess string

const (
	AccessNone      FieldAccess = "none"
	AccessRead      FieldAccess = "read"
	AccessReadWrite FieldAccess = "read-write"
)

func ParseFieldAccess(s string) (FieldAccess, error) {
	switch FieldAccess(s) {
	case AccessNone, AccessRead, AccessReadWrite:
		return FieldAccess(s), nil
	}
	return "", fmt.Errorf("unknown field access %q", s)
}

func (a FieldAccess) rank() int {
	switch a {
	case AccessReadWrite:
		return 2
	case AccessRead:
		return 1
	}
	return 0
}

// CanRead reports whether the access level allows seeing the field.
func (a FieldAccess) CanRead() bool { return a.rank() >= 1 }

// CanWrite reports whether the access level allows changing the field.
func (a FieldAccess) CanWrite() bool { return a.rank() >= 2 }

// MaxAccess returns the higher-ranked of two access levels.
func MaxAccess(a, b FieldAccess) FieldAccess {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// Permission is a template-level action permission tag.
type Permission string

const (
	PermView             Permission = "view"
	PermCreate           Permission = "create"
	PermEdit             Permission = "edit"
	PermDelete           Permission = "delete"
	PermReassign         Permission = "reassign"
	PermSuspend          Permission = "suspend"
	PermResume           Permission = "resume"
	PermCommentPublic    Permission = "comment.public"
	PermCommentPrivate   Permission = "comment.private"
	PermReadPrivate      Permission = "comment.private.read"
	PermAttachFile       Permission = "file.attach"
	PermDeleteFile       Permission = "file.delete"
	PermAddDependency    Permission = "dependency.add"
	PermRemoveDependency Permission = "dependency.remove"
)

// Permissions lists every valid permission tag in a stable order.
func Permissions() []Permission {
	return []Permission{
		PermView, PermCreate, PermEdit, PermDelete, PermReassign,
		PermSuspend, PermResume, PermCommentPublic, PermCommentPrivate,
		PermReadPrivate, PermAttachFile, PermDeleteFile,
		PermAddDependency, PermRemoveDependency,
	}
}

func ParsePermission(s string) (Permission, error) {
	for _, p := range Permissions() {
		if Permission(s) == p {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown permission %q", s)
}

// EventType is the closed set of audit event kinds.
type EventType string

const (
	EventIssueCreated      EventType = "issue.created"
	EventIssueEdited       EventType = "issue.edited"
	EventStateChanged      EventType = "state.changed"
	EventIssueAssigned     EventType = "issue.assigned"
	EventIssueCloned       EventType = "issue.cloned"
	EventIssueSuspended    EventType = "issue.suspended"
	EventIssueResumed      EventType = "issue.resumed"
	EventCommentPublic     EventType = "comment.public"
	EventCommentPrivate    EventType = "comment.private"
	EventFileAttached      EventType = "file.attached"
	EventFileDeleted       EventType = "file.deleted"
	EventDependencyAdded   EventType = "dependency.added"
	EventDependencyRemoved EventType = "dependency.removed"
)
