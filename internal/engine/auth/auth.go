// Package auth is the permission evaluator: given (actor, action, subject)
// it combines template permissions, the actor's applicable principals and
// the issue's time-derived lifecycle flags into a grant/deny decision.
package auth

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"trackline/internal/domain"
	"trackline/internal/repo"
)

// Actor identifies who is asking. A zero UserID is an anonymous caller and
// is denied every action.
type Actor struct {
	UserID int64
}

// Authenticated reports whether the actor is a logged-in user.
func (a Actor) Authenticated() bool { return a.UserID != 0 }

// Action is the closed set of evaluable operations.
type Action string

const (
	ActionView             Action = "issue.view"
	ActionCreate           Action = "issue.create"
	ActionEdit             Action = "issue.edit"
	ActionDelete           Action = "issue.delete"
	ActionChangeState      Action = "issue.change_state"
	ActionReassign         Action = "issue.reassign"
	ActionSuspend          Action = "issue.suspend"
	ActionResume           Action = "issue.resume"
	ActionCommentPublic    Action = "comment.public.add"
	ActionCommentPrivate   Action = "comment.private.add"
	ActionReadPrivate      Action = "comment.private.read"
	ActionAttachFile       Action = "file.attach"
	ActionDeleteFile       Action = "file.delete"
	ActionAddDependency    Action = "dependency.add"
	ActionRemoveDependency Action = "dependency.remove"
)

// Decision is the evaluator's outcome. Denial is expected and recoverable;
// it must never be conflated with construction-time errors.
type Decision int

const (
	Deny Decision = iota
	Grant
)

func (d Decision) String() string {
	if d == Grant {
		return "granted"
	}
	return "denied"
}

// DeniedError is the typed denial callers branch on; HTTP maps it to 403.
type DeniedError struct {
	Action Action
}

func (e DeniedError) Error() string {
	return fmt.Sprintf("%s denied", e.Action)
}

// Subject carries whichever entities the action concerns. Issue actions
// set Issue (and Template); create sets Template only; state changes add
// TargetState.
type Subject struct {
	Issue       *domain.Issue
	Template    *domain.Template
	TargetState *domain.State
}

// Evaluator resolves permissions against the persisted graphs. All lookups
// run in the caller's transaction so the decision and the mutation observe
// one snapshot.
type Evaluator struct {
	Repo repo.Repo
	Now  func() time.Time
}

func (e Evaluator) now() int64 {
	if e.Now != nil {
		return e.Now().Unix()
	}
	return time.Now().Unix()
}

// SystemRoles computes the roles the actor holds with respect to an issue.
func (e Evaluator) SystemRoles(actor Actor, issue domain.Issue) []domain.SystemRole {
	if !actor.Authenticated() {
		return nil
	}
	roles := []domain.SystemRole{domain.RoleAnyone}
	if issue.AuthorID == actor.UserID {
		roles = append(roles, domain.RoleAuthor)
	}
	if issue.ResponsibleID != nil && *issue.ResponsibleID == actor.UserID {
		roles = append(roles, domain.RoleResponsible)
	}
	return roles
}

// Evaluate is the single entry point. Unrecognized actions are denied:
// the evaluator fails closed.
func (e Evaluator) Evaluate(ctx context.Context, tx *sql.Tx, actor Actor, action Action, subject Subject) (Decision, error) {
	if !actor.Authenticated() {
		return Deny, nil
	}
	switch action {
	case ActionCreate:
		if subject.Template == nil {
			return Deny, nil
		}
		return e.canCreate(ctx, tx, actor, *subject.Template)
	case ActionChangeState:
		if subject.Issue == nil || subject.TargetState == nil {
			return Deny, nil
		}
		return e.canChangeState(ctx, tx, actor, *subject.Issue, *subject.TargetState)
	case ActionView, ActionEdit, ActionDelete, ActionReassign, ActionSuspend,
		ActionResume, ActionCommentPublic, ActionCommentPrivate,
		ActionReadPrivate, ActionAttachFile, ActionDeleteFile,
		ActionAddDependency, ActionRemoveDependency:
		if subject.Issue == nil || subject.Template == nil {
			return Deny, nil
		}
		return e.canActOnIssue(ctx, tx, actor, action, *subject.Issue, *subject.Template)
	}
	return Deny, nil
}

func (e Evaluator) canCreate(ctx context.Context, tx *sql.Tx, actor Actor, t domain.Template) (Decision, error) {
	if t.Locked {
		return Deny, nil
	}
	project, err := e.Repo.GetProjectTx(ctx, tx, t.ProjectID)
	if err != nil {
		return Deny, err
	}
	if project.Suspended {
		return Deny, nil
	}
	if _, err := e.Repo.InitialState(ctx, tx, t.ID); err != nil {
		if err == repo.ErrNotFound {
			return Deny, nil
		}
		return Deny, err
	}
	// Create has no issue yet, so the only applicable system role is
	// "anyone"; the rest comes from group membership.
	ok, err := e.hasTemplatePermission(ctx, tx, actor, t, []domain.SystemRole{domain.RoleAnyone}, domain.PermCreate)
	if err != nil {
		return Deny, err
	}
	return decision(ok), nil
}

func (e Evaluator) canActOnIssue(ctx context.Context, tx *sql.Tx, actor Actor, action Action, issue domain.Issue, t domain.Template) (Decision, error) {
	now := e.now()
	suspended := issue.IsSuspended(now)
	frozen := issue.IsFrozen(t, now)
	closed := issue.IsClosed()

	switch action {
	case ActionView:
		// View ignores lifecycle flags entirely.
	case ActionEdit, ActionCommentPublic, ActionCommentPrivate, ActionAttachFile, ActionDeleteFile:
		if suspended || frozen {
			return Deny, nil
		}
	case ActionDelete, ActionReassign:
		// Frozen issues stay deletable and reassignable.
		if suspended {
			return Deny, nil
		}
	case ActionSuspend:
		if suspended || closed {
			return Deny, nil
		}
	case ActionResume:
		if !suspended {
			return Deny, nil
		}
	case ActionAddDependency, ActionRemoveDependency:
		if suspended || closed {
			return Deny, nil
		}
	case ActionReadPrivate:
		// Authors and responsibles read private comments without an
		// explicit grant.
		roles := e.SystemRoles(actor, issue)
		for _, r := range roles {
			if r == domain.RoleAuthor || r == domain.RoleResponsible {
				return Grant, nil
			}
		}
	}

	perm, ok := permissionFor(action)
	if !ok {
		return Deny, nil
	}
	granted, err := e.hasTemplatePermission(ctx, tx, actor, t, e.SystemRoles(actor, issue), perm)
	if err != nil {
		return Deny, err
	}
	return decision(granted), nil
}

func permissionFor(action Action) (domain.Permission, bool) {
	switch action {
	case ActionView:
		return domain.PermView, true
	case ActionEdit:
		return domain.PermEdit, true
	case ActionDelete:
		return domain.PermDelete, true
	case ActionReassign:
		return domain.PermReassign, true
	case ActionSuspend:
		return domain.PermSuspend, true
	case ActionResume:
		return domain.PermResume, true
	case ActionCommentPublic:
		return domain.PermCommentPublic, true
	case ActionCommentPrivate:
		return domain.PermCommentPrivate, true
	case ActionReadPrivate:
		return domain.PermReadPrivate, true
	case ActionAttachFile:
		return domain.PermAttachFile, true
	case ActionDeleteFile:
		return domain.PermDeleteFile, true
	case ActionAddDependency:
		return domain.PermAddDependency, true
	case ActionRemoveDependency:
		return domain.PermRemoveDependency, true
	}
	return "", false
}

func (e Evaluator) canChangeState(ctx context.Context, tx *sql.Tx, actor Actor, issue domain.Issue, target domain.State) (Decision, error) {
	now := e.now()
	if issue.IsSuspended(now) {
		return Deny, nil
	}
	if target.TemplateID != issue.TemplateID {
		return Deny, nil
	}
	if target.IsFinal() {
		// Open dependencies gate the direct hop to a final state only.
		open, err := e.Repo.HasOpenDependencies(ctx, tx, issue.ID)
		if err != nil {
			return Deny, err
		}
		if open {
			return Deny, nil
		}
	}
	reachable, err := e.StateReachable(ctx, tx, actor, issue, target.ID)
	if err != nil {
		return Deny, err
	}
	return decision(reachable), nil
}

// StateReachable reports whether a transition from the issue's current
// state to the target exists for any of the actor's applicable principals.
func (e Evaluator) StateReachable(ctx context.Context, tx *sql.Tx, actor Actor, issue domain.Issue, targetStateID int64) (bool, error) {
	if !actor.Authenticated() {
		return false, nil
	}
	roles := e.SystemRoles(actor, issue)
	query := `
SELECT 1 FROM state_transitions t
LEFT JOIN user_groups g ON g.id=t.group_id
LEFT JOIN group_members m ON m.group_id=t.group_id AND m.user_id=?
WHERE t.from_state_id=? AND t.to_state_id=?
  AND ((t.role IN (` + rolePlaceholders(roles) + `))
    OR (m.user_id IS NOT NULL AND (g.project_id IS NULL OR g.project_id=?)))
LIMIT 1`
	args := []any{actor.UserID, issue.StateID, targetStateID}
	for _, r := range roles {
		args = append(args, string(r))
	}
	args = append(args, issue.ProjectID)
	var n int
	err := tx.QueryRowContext(ctx, query, args...).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (e Evaluator) hasTemplatePermission(ctx context.Context, tx *sql.Tx, actor Actor, t domain.Template, roles []domain.SystemRole, perm domain.Permission) (bool, error) {
	query := `
SELECT 1 FROM template_permissions tp
LEFT JOIN user_groups g ON g.id=tp.group_id
LEFT JOIN group_members m ON m.group_id=tp.group_id AND m.user_id=?
WHERE tp.template_id=? AND tp.permission=?
  AND ((tp.role IN (` + rolePlaceholders(roles) + `))
    OR (m.user_id IS NOT NULL AND (g.project_id IS NULL OR g.project_id=?)))
LIMIT 1`
	args := []any{actor.UserID, t.ID, string(perm)}
	for _, r := range roles {
		args = append(args, string(r))
	}
	args = append(args, t.ProjectID)
	var n int
	err := tx.QueryRowContext(ctx, query, args...).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// FieldAccess resolves the actor's effective access on a field: the
// highest-ranked level among every matching principal row, none when no
// row matches.
func (e Evaluator) FieldAccess(ctx context.Context, tx *sql.Tx, actor Actor, issue domain.Issue, field domain.Field) (domain.FieldAccess, error) {
	if !actor.Authenticated() {
		return domain.AccessNone, nil
	}
	rows, err := e.Repo.ListFieldPermissions(ctx, tx, field.ID)
	if err != nil {
		return domain.AccessNone, err
	}
	if len(rows) == 0 {
		return domain.AccessNone, nil
	}
	roles := e.SystemRoles(actor, issue)
	groups, err := e.Repo.UserGroups(ctx, tx, actor.UserID, issue.ProjectID)
	if err != nil {
		return domain.AccessNone, err
	}
	inGroup := make(map[int64]bool, len(groups))
	for _, g := range groups {
		inGroup[g] = true
	}
	access := domain.AccessNone
	for _, row := range rows {
		switch {
		case row.Role != "":
			if !hasRole(roles, row.Role) {
				continue
			}
		case row.GroupID != nil:
			if !inGroup[*row.GroupID] {
				continue
			}
		default:
			continue
		}
		access = domain.MaxAccess(access, row.Access)
	}
	return access, nil
}

func hasRole(roles []domain.SystemRole, want domain.SystemRole) bool {
	for _, r := range roles {
		if r == want {
			return true
		}
	}
	return false
}

func rolePlaceholders(roles []domain.SystemRole) string {
	if len(roles) == 0 {
		return "NULL"
	}
	return strings.TrimSuffix(strings.Repeat("?,", len(roles)), ",")
}

func decision(ok bool) Decision {
	if ok {
		return Grant
	}
	return Deny
}
