// Package engine implements the issue workflow core: every mutation runs
// inside one transaction so the permission decision, the state change and
// the audit records observe a single consistent snapshot.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"trackline/internal/config"
	"trackline/internal/domain"
	"trackline/internal/engine/auth"
	"trackline/internal/events"
	"trackline/internal/fields"
	"trackline/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) events() events.Writer {
	return events.Writer{Now: e.Now}
}

func (e Engine) auth() auth.Evaluator {
	return auth.Evaluator{Repo: e.Repo, Now: e.Now}
}

// SubjectRef names the entities an Evaluate call concerns by id.
type SubjectRef struct {
	IssueID       int64
	TemplateID    int64
	TargetStateID int64
}

// Evaluate is the read-only single entry point for authorization queries:
// it resolves the subject, runs the evaluator and reports the decision
// without mutating anything.
func (e Engine) Evaluate(ctx context.Context, actor auth.Actor, action auth.Action, ref SubjectRef) (auth.Decision, error) {
	tx, err := e.DB.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return auth.Deny, err
	}
	defer tx.Rollback()
	subject, err := e.resolveSubject(ctx, tx, ref)
	if err != nil {
		return auth.Deny, err
	}
	return e.auth().Evaluate(ctx, tx, actor, action, subject)
}

func (e Engine) resolveSubject(ctx context.Context, tx *sql.Tx, ref SubjectRef) (auth.Subject, error) {
	var subject auth.Subject
	if ref.IssueID != 0 {
		issue, err := e.Repo.GetIssueTx(ctx, tx, ref.IssueID)
		if err != nil {
			return subject, err
		}
		subject.Issue = &issue
		ref.TemplateID = issue.TemplateID
	}
	if ref.TemplateID != 0 {
		t, err := e.Repo.GetTemplateTx(ctx, tx, ref.TemplateID)
		if err != nil {
			return subject, err
		}
		subject.Template = &t
	}
	if ref.TargetStateID != 0 {
		s, err := e.Repo.GetStateTx(ctx, tx, ref.TargetStateID)
		if err != nil {
			return subject, err
		}
		subject.TargetState = &s
	}
	return subject, nil
}

// require runs the evaluator and converts denial into auth.DeniedError.
func (e Engine) require(ctx context.Context, tx *sql.Tx, actor auth.Actor, action auth.Action, subject auth.Subject) error {
	d, err := e.auth().Evaluate(ctx, tx, actor, action, subject)
	if err != nil {
		return err
	}
	if d != auth.Grant {
		return auth.DeniedError{Action: action}
	}
	return nil
}

func (e Engine) issueSubject(ctx context.Context, tx *sql.Tx, issueID int64) (domain.Issue, domain.Template, auth.Subject, error) {
	issue, err := e.Repo.GetIssueTx(ctx, tx, issueID)
	if err != nil {
		return domain.Issue{}, domain.Template{}, auth.Subject{}, err
	}
	t, err := e.Repo.GetTemplateTx(ctx, tx, issue.TemplateID)
	if err != nil {
		return issue, domain.Template{}, auth.Subject{}, err
	}
	return issue, t, auth.Subject{Issue: &issue, Template: &t}, nil
}

// IssueCreateOptions are the parameters for creating an issue. Values maps
// field names of the initial state to raw user input.
type IssueCreateOptions struct {
	TemplateID  int64
	Subject     string
	Values      map[string]string
	Responsible *int64
	Actor       auth.Actor
}

func (e Engine) CreateIssue(ctx context.Context, opts IssueCreateOptions) (domain.Issue, error) {
	if opts.Subject == "" {
		return domain.Issue{}, errors.New("subject is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Issue{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTemplateTx(ctx, tx, opts.TemplateID)
	if err != nil {
		return domain.Issue{}, err
	}
	if err := e.require(ctx, tx, opts.Actor, auth.ActionCreate, auth.Subject{Template: &t}); err != nil {
		return domain.Issue{}, err
	}
	initial, err := e.Repo.InitialState(ctx, tx, t.ID)
	if err != nil {
		return domain.Issue{}, err
	}
	now := e.now().Unix()
	issue := domain.Issue{
		StateID:    initial.ID,
		TemplateID: t.ID,
		ProjectID:  t.ProjectID,
		Subject:    opts.Subject,
		AuthorID:   opts.Actor.UserID,
		CreatedAt:  now,
		ChangedAt:  now,
	}
	if initial.EffectiveResponsible() == domain.ResponsibleAssign && opts.Responsible != nil {
		if err := e.checkEligibleResponsible(ctx, tx, initial.ID, *opts.Responsible); err != nil {
			return domain.Issue{}, err
		}
		issue.ResponsibleID = opts.Responsible
	}
	issue.ID, err = e.Repo.InsertIssue(ctx, tx, issue)
	if err != nil {
		return domain.Issue{}, err
	}
	ev, err := e.events().Append(ctx, tx, domain.EventIssueCreated, issue.ID, opts.Actor.UserID, &initial.ID)
	if err != nil {
		return domain.Issue{}, err
	}
	issue.ChangedAt = ev.CreatedAt
	if err := e.setStateFields(ctx, tx, &issue, t, initial, opts.Values, ev); err != nil {
		return domain.Issue{}, err
	}
	if issue.ResponsibleID != nil {
		if _, err := e.events().Append(ctx, tx, domain.EventIssueAssigned, issue.ID, opts.Actor.UserID, issue.ResponsibleID); err != nil {
			return domain.Issue{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Issue{}, err
	}
	return issue, nil
}

// CloneIssue creates a new issue from an existing one, copying the field
// values the origin holds for the initial state.
func (e Engine) CloneIssue(ctx context.Context, originID int64, subject string, actor auth.Actor) (domain.Issue, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Issue{}, err
	}
	defer tx.Rollback()

	origin, t, _, err := e.issueSubject(ctx, tx, originID)
	if err != nil {
		return domain.Issue{}, err
	}
	if err := e.require(ctx, tx, actor, auth.ActionCreate, auth.Subject{Template: &t}); err != nil {
		return domain.Issue{}, err
	}
	initial, err := e.Repo.InitialState(ctx, tx, t.ID)
	if err != nil {
		return domain.Issue{}, err
	}
	if subject == "" {
		subject = origin.Subject
	}
	now := e.now().Unix()
	issue := domain.Issue{
		StateID:    initial.ID,
		TemplateID: t.ID,
		ProjectID:  t.ProjectID,
		Subject:    subject,
		AuthorID:   actor.UserID,
		OriginID:   &origin.ID,
		CreatedAt:  now,
		ChangedAt:  now,
	}
	issue.ID, err = e.Repo.InsertIssue(ctx, tx, issue)
	if err != nil {
		return domain.Issue{}, err
	}
	ev, err := e.events().Append(ctx, tx, domain.EventIssueCreated, issue.ID, actor.UserID, &initial.ID)
	if err != nil {
		return domain.Issue{}, err
	}
	if _, err := e.events().Append(ctx, tx, domain.EventIssueCloned, issue.ID, actor.UserID, &origin.ID); err != nil {
		return domain.Issue{}, err
	}
	active, err := e.Repo.ActiveFields(ctx, tx, initial.ID)
	if err != nil {
		return domain.Issue{}, err
	}
	for _, f := range active {
		fv, err := e.Repo.GetFieldValue(ctx, tx, origin.ID, f.ID)
		if err == repo.ErrNotFound {
			continue
		}
		if err != nil {
			return domain.Issue{}, err
		}
		fv.IssueID = issue.ID
		fv.CreatedAt = ev.CreatedAt
		if err := e.Repo.UpsertFieldValue(ctx, tx, fv); err != nil {
			return domain.Issue{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Issue{}, err
	}
	return issue, nil
}

// Transition moves an issue along the workflow graph. The target must
// belong to the issue's template; reachability, suspension and the
// open-dependency gate are enforced by the evaluator. For "assign" states
// the caller may supply the new responsible, validated against the state's
// responsible groups, or leave assignment for a follow-up Reassign.
func (e Engine) Transition(ctx context.Context, issueID, targetStateID int64, actor auth.Actor, responsible *int64) (domain.Issue, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Issue{}, err
	}
	defer tx.Rollback()

	issue, t, _, err := e.issueSubject(ctx, tx, issueID)
	if err != nil {
		return domain.Issue{}, err
	}
	target, err := e.Repo.GetStateTx(ctx, tx, targetStateID)
	if err != nil {
		return domain.Issue{}, err
	}
	if target.TemplateID != issue.TemplateID {
		return domain.Issue{}, fmt.Errorf("state %s: %w", target.Name, domain.ErrUnknownState)
	}
	subject := auth.Subject{Issue: &issue, Template: &t, TargetState: &target}
	if err := e.require(ctx, tx, actor, auth.ActionChangeState, subject); err != nil {
		return domain.Issue{}, err
	}

	now := e.now().Unix()
	issue.StateID = target.ID
	if target.IsFinal() {
		issue.ClosedAt = &now
	} else {
		issue.ClosedAt = nil
	}
	var assigned *int64
	switch target.EffectiveResponsible() {
	case domain.ResponsibleKeep:
		// unchanged
	case domain.ResponsibleRemove:
		issue.ResponsibleID = nil
	case domain.ResponsibleAssign:
		if responsible != nil {
			if err := e.checkEligibleResponsible(ctx, tx, target.ID, *responsible); err != nil {
				return domain.Issue{}, err
			}
			issue.ResponsibleID = responsible
			assigned = responsible
		}
	}
	issue.ChangedAt = now
	if err := e.Repo.UpdateIssue(ctx, tx, issue); err != nil {
		return domain.Issue{}, err
	}
	ev, err := e.events().Append(ctx, tx, domain.EventStateChanged, issue.ID, actor.UserID, &target.ID)
	if err != nil {
		return domain.Issue{}, err
	}
	issue.ChangedAt = ev.CreatedAt
	if assigned != nil {
		if _, err := e.events().Append(ctx, tx, domain.EventIssueAssigned, issue.ID, actor.UserID, assigned); err != nil {
			return domain.Issue{}, err
		}
	}
	if err := e.applyFieldDefaults(ctx, tx, issue, target, ev); err != nil {
		return domain.Issue{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Issue{}, err
	}
	return issue, nil
}

// checkEligibleResponsible validates a proposed responsible against the
// state's responsible groups. States without any bound group accept any
// user.
func (e Engine) checkEligibleResponsible(ctx context.Context, tx *sql.Tx, stateID, userID int64) error {
	if _, err := e.Repo.GetUserTx(ctx, tx, userID); err != nil {
		return err
	}
	bound, err := e.Repo.HasResponsibleGroups(ctx, tx, stateID)
	if err != nil {
		return err
	}
	if !bound {
		return nil
	}
	ok, err := e.Repo.IsEligibleResponsible(ctx, tx, stateID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("user %d not in any responsible group for state %d", userID, stateID)
	}
	return nil
}

// applyFieldDefaults seeds values for the entered state's fields that
// declare defaults and have no value yet.
func (e Engine) applyFieldDefaults(ctx context.Context, tx *sql.Tx, issue domain.Issue, state domain.State, ev domain.Event) error {
	active, err := e.Repo.ActiveFields(ctx, tx, state.ID)
	if err != nil {
		return err
	}
	for _, f := range active {
		if f.DefaultVal == nil {
			continue
		}
		if _, err := e.Repo.GetFieldValue(ctx, tx, issue.ID, f.ID); err == nil {
			continue
		} else if err != repo.ErrNotFound {
			return err
		}
		fv := domain.FieldValue{IssueID: issue.ID, FieldID: f.ID, Value: f.DefaultVal, CreatedAt: ev.CreatedAt}
		if err := e.Repo.UpsertFieldValue(ctx, tx, fv); err != nil {
			return err
		}
	}
	return nil
}

// setStateFields encodes and stores user-supplied values for the state's
// active fields on issue creation, enforcing required fields.
func (e Engine) setStateFields(ctx context.Context, tx *sql.Tx, issue *domain.Issue, t domain.Template, state domain.State, values map[string]string, ev domain.Event) error {
	active, err := e.Repo.ActiveFields(ctx, tx, state.ID)
	if err != nil {
		return err
	}
	sc := fields.Scope{TemplateID: t.ID}
	for _, f := range active {
		raw, supplied := values[f.Name]
		if !supplied || raw == "" {
			if f.DefaultVal != nil {
				fv := domain.FieldValue{IssueID: issue.ID, FieldID: f.ID, Value: f.DefaultVal, CreatedAt: ev.CreatedAt}
				if err := e.Repo.UpsertFieldValue(ctx, tx, fv); err != nil {
					return err
				}
				continue
			}
			if f.Required {
				return fmt.Errorf("field %s is required", f.Name)
			}
			continue
		}
		codec, err := fields.For(f.Type)
		if err != nil {
			return err
		}
		encoded, err := codec.Encode(ctx, tx, e.Repo, sc, f, raw)
		if err != nil {
			return err
		}
		fv := domain.FieldValue{IssueID: issue.ID, FieldID: f.ID, Value: encoded, CreatedAt: ev.CreatedAt}
		if err := e.Repo.UpsertFieldValue(ctx, tx, fv); err != nil {
			return err
		}
	}
	for name := range values {
		if !fieldKnown(active, name) {
			return fmt.Errorf("unknown field %s for state %s", name, state.Name)
		}
	}
	return nil
}

func fieldKnown(active []domain.Field, name string) bool {
	for _, f := range active {
		if f.Name == name {
			return true
		}
	}
	return false
}

// IssueUpdateOptions describes an edit: an optional new subject and raw
// values keyed by field name.
type IssueUpdateOptions struct {
	ID      int64
	Subject *string
	Values  map[string]string
	Actor   auth.Actor
}

// UpdateIssue applies a field-level edit. One event carries one Change row
// per modified field (nil field = subject). Write access is resolved per
// field; the whole edit fails if any named field is not writable by the
// actor.
func (e Engine) UpdateIssue(ctx context.Context, opts IssueUpdateOptions) (domain.Issue, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Issue{}, err
	}
	defer tx.Rollback()

	issue, t, subject, err := e.issueSubject(ctx, tx, opts.ID)
	if err != nil {
		return domain.Issue{}, err
	}
	if err := e.require(ctx, tx, opts.Actor, auth.ActionEdit, subject); err != nil {
		return domain.Issue{}, err
	}

	type pending struct {
		field    domain.Field
		oldValue *int64
		newValue *int64
	}
	var diffs []pending
	sc := fields.Scope{TemplateID: t.ID}
	for name, raw := range opts.Values {
		f, err := e.findTemplateField(ctx, tx, t.ID, name)
		if err != nil {
			return domain.Issue{}, err
		}
		access, err := e.auth().FieldAccess(ctx, tx, opts.Actor, issue, f)
		if err != nil {
			return domain.Issue{}, err
		}
		if !access.CanWrite() {
			return domain.Issue{}, auth.DeniedError{Action: auth.ActionEdit}
		}
		if raw == "" && f.Required {
			return domain.Issue{}, fmt.Errorf("field %s is required", f.Name)
		}
		codec, err := fields.For(f.Type)
		if err != nil {
			return domain.Issue{}, err
		}
		encoded, err := codec.Encode(ctx, tx, e.Repo, sc, f, raw)
		if err != nil {
			return domain.Issue{}, err
		}
		var old *int64
		if fv, err := e.Repo.GetFieldValue(ctx, tx, issue.ID, f.ID); err == nil {
			old = fv.Value
		} else if err != repo.ErrNotFound {
			return domain.Issue{}, err
		}
		if !sameValue(old, encoded) {
			diffs = append(diffs, pending{field: f, oldValue: old, newValue: encoded})
		}
	}

	subjectChanged := opts.Subject != nil && *opts.Subject != issue.Subject
	if len(diffs) == 0 && !subjectChanged {
		return issue, tx.Commit()
	}

	ev, err := e.events().Append(ctx, tx, domain.EventIssueEdited, issue.ID, opts.Actor.UserID, nil)
	if err != nil {
		return domain.Issue{}, err
	}
	if subjectChanged {
		oldID, err := e.Repo.InternString(ctx, tx, issue.Subject)
		if err != nil {
			return domain.Issue{}, err
		}
		newID, err := e.Repo.InternString(ctx, tx, *opts.Subject)
		if err != nil {
			return domain.Issue{}, err
		}
		if _, err := e.events().Change(ctx, tx, ev.ID, nil, &oldID, &newID); err != nil {
			return domain.Issue{}, err
		}
		issue.Subject = *opts.Subject
	}
	for _, d := range diffs {
		if _, err := e.events().Change(ctx, tx, ev.ID, &d.field.ID, d.oldValue, d.newValue); err != nil {
			return domain.Issue{}, err
		}
		fv := domain.FieldValue{IssueID: issue.ID, FieldID: d.field.ID, Value: d.newValue, CreatedAt: ev.CreatedAt}
		if err := e.Repo.UpsertFieldValue(ctx, tx, fv); err != nil {
			return domain.Issue{}, err
		}
	}
	issue.ChangedAt = ev.CreatedAt
	if err := e.Repo.UpdateIssue(ctx, tx, issue); err != nil {
		return domain.Issue{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Issue{}, err
	}
	return issue, nil
}

// findTemplateField locates an active field by name across the template's
// states.
func (e Engine) findTemplateField(ctx context.Context, tx *sql.Tx, templateID int64, name string) (domain.Field, error) {
	states, err := e.Repo.ListStatesTx(ctx, tx, templateID)
	if err != nil {
		return domain.Field{}, err
	}
	for _, s := range states {
		active, err := e.Repo.ActiveFields(ctx, tx, s.ID)
		if err != nil {
			return domain.Field{}, err
		}
		for _, f := range active {
			if f.Name == name {
				return f, nil
			}
		}
	}
	return domain.Field{}, fmt.Errorf("field %s: %w", name, repo.ErrNotFound)
}

func sameValue(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// DeleteIssue removes the issue and everything it owns.
func (e Engine) DeleteIssue(ctx context.Context, issueID int64, actor auth.Actor) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	_, _, subject, err := e.issueSubject(ctx, tx, issueID)
	if err != nil {
		return err
	}
	if err := e.require(ctx, tx, actor, auth.ActionDelete, subject); err != nil {
		return err
	}
	if err := e.Repo.DeleteIssue(ctx, tx, issueID); err != nil {
		return err
	}
	return tx.Commit()
}

// Reassign sets a new responsible user outside the state graph.
func (e Engine) Reassign(ctx context.Context, issueID, responsibleID int64, actor auth.Actor) (domain.Issue, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Issue{}, err
	}
	defer tx.Rollback()
	issue, _, subject, err := e.issueSubject(ctx, tx, issueID)
	if err != nil {
		return domain.Issue{}, err
	}
	if err := e.require(ctx, tx, actor, auth.ActionReassign, subject); err != nil {
		return domain.Issue{}, err
	}
	if _, err := e.Repo.GetUserTx(ctx, tx, responsibleID); err != nil {
		return domain.Issue{}, err
	}
	issue.ResponsibleID = &responsibleID
	if err := e.Repo.UpdateIssue(ctx, tx, issue); err != nil {
		return domain.Issue{}, err
	}
	ev, err := e.events().Append(ctx, tx, domain.EventIssueAssigned, issue.ID, actor.UserID, &responsibleID)
	if err != nil {
		return domain.Issue{}, err
	}
	issue.ChangedAt = ev.CreatedAt
	if err := tx.Commit(); err != nil {
		return domain.Issue{}, err
	}
	return issue, nil
}

// Suspend parks the issue until the given moment. A resume point at or
// before now leaves the issue effectively not suspended.
func (e Engine) Suspend(ctx context.Context, issueID, until int64, actor auth.Actor) (domain.Issue, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Issue{}, err
	}
	defer tx.Rollback()
	issue, _, subject, err := e.issueSubject(ctx, tx, issueID)
	if err != nil {
		return domain.Issue{}, err
	}
	if err := e.require(ctx, tx, actor, auth.ActionSuspend, subject); err != nil {
		return domain.Issue{}, err
	}
	issue.ResumesAt = &until
	if err := e.Repo.UpdateIssue(ctx, tx, issue); err != nil {
		return domain.Issue{}, err
	}
	ev, err := e.events().Append(ctx, tx, domain.EventIssueSuspended, issue.ID, actor.UserID, &until)
	if err != nil {
		return domain.Issue{}, err
	}
	issue.ChangedAt = ev.CreatedAt
	if err := tx.Commit(); err != nil {
		return domain.Issue{}, err
	}
	return issue, nil
}

// Resume clears a suspension.
func (e Engine) Resume(ctx context.Context, issueID int64, actor auth.Actor) (domain.Issue, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Issue{}, err
	}
	defer tx.Rollback()
	issue, _, subject, err := e.issueSubject(ctx, tx, issueID)
	if err != nil {
		return domain.Issue{}, err
	}
	if err := e.require(ctx, tx, actor, auth.ActionResume, subject); err != nil {
		return domain.Issue{}, err
	}
	issue.ResumesAt = nil
	if err := e.Repo.UpdateIssue(ctx, tx, issue); err != nil {
		return domain.Issue{}, err
	}
	ev, err := e.events().Append(ctx, tx, domain.EventIssueResumed, issue.ID, actor.UserID, nil)
	if err != nil {
		return domain.Issue{}, err
	}
	issue.ChangedAt = ev.CreatedAt
	if err := tx.Commit(); err != nil {
		return domain.Issue{}, err
	}
	return issue, nil
}

// AddComment records a public or private comment.
func (e Engine) AddComment(ctx context.Context, issueID int64, body string, private bool, actor auth.Actor) (domain.Comment, error) {
	if body == "" {
		return domain.Comment{}, errors.New("comment body is required")
	}
	action := auth.ActionCommentPublic
	evType := domain.EventCommentPublic
	if private {
		action = auth.ActionCommentPrivate
		evType = domain.EventCommentPrivate
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Comment{}, err
	}
	defer tx.Rollback()
	_, _, subject, err := e.issueSubject(ctx, tx, issueID)
	if err != nil {
		return domain.Comment{}, err
	}
	if err := e.require(ctx, tx, actor, action, subject); err != nil {
		return domain.Comment{}, err
	}
	ev, err := e.events().Append(ctx, tx, evType, issueID, actor.UserID, nil)
	if err != nil {
		return domain.Comment{}, err
	}
	c := domain.Comment{EventID: ev.ID, IssueID: issueID, Body: body, Private: private}
	c.ID, err = e.Repo.InsertComment(ctx, tx, c)
	if err != nil {
		return domain.Comment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Comment{}, err
	}
	return c, nil
}

// Comments lists the issue's comments; private ones appear only when the
// actor may read them.
func (e Engine) Comments(ctx context.Context, issueID int64, actor auth.Actor) ([]domain.Comment, error) {
	tx, err := e.DB.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	_, _, subject, err := e.issueSubject(ctx, tx, issueID)
	if err != nil {
		return nil, err
	}
	if err := e.require(ctx, tx, actor, auth.ActionView, subject); err != nil {
		return nil, err
	}
	d, err := e.auth().Evaluate(ctx, tx, actor, auth.ActionReadPrivate, subject)
	if err != nil {
		return nil, err
	}
	return e.Repo.ListComments(ctx, tx, issueID, d == auth.Grant)
}

// AttachmentOptions carries attachment metadata; byte storage is the
// caller's concern.
type AttachmentOptions struct {
	IssueID int64
	Name    string
	Size    int64
	Mime    string
	Digest  string
	Actor   auth.Actor
}

func (e Engine) AttachFile(ctx context.Context, opts AttachmentOptions) (domain.Attachment, error) {
	if opts.Name == "" {
		return domain.Attachment{}, errors.New("file name is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Attachment{}, err
	}
	defer tx.Rollback()
	_, _, subject, err := e.issueSubject(ctx, tx, opts.IssueID)
	if err != nil {
		return domain.Attachment{}, err
	}
	if err := e.require(ctx, tx, opts.Actor, auth.ActionAttachFile, subject); err != nil {
		return domain.Attachment{}, err
	}
	ev, err := e.events().Append(ctx, tx, domain.EventFileAttached, opts.IssueID, opts.Actor.UserID, nil)
	if err != nil {
		return domain.Attachment{}, err
	}
	a := domain.Attachment{EventID: ev.ID, IssueID: opts.IssueID, Name: opts.Name, Size: opts.Size, Mime: opts.Mime, Digest: opts.Digest}
	a.ID, err = e.Repo.InsertAttachment(ctx, tx, a)
	if err != nil {
		return domain.Attachment{}, err
	}
	// The event parameter is the attachment id, known only after insert.
	if _, err := tx.ExecContext(ctx, `UPDATE events SET parameter=? WHERE id=?`, a.ID, ev.ID); err != nil {
		return domain.Attachment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Attachment{}, err
	}
	return a, nil
}

func (e Engine) DeleteFile(ctx context.Context, attachmentID int64, actor auth.Actor) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	a, err := e.Repo.GetAttachment(ctx, tx, attachmentID)
	if err != nil {
		return err
	}
	_, _, subject, err := e.issueSubject(ctx, tx, a.IssueID)
	if err != nil {
		return err
	}
	if err := e.require(ctx, tx, actor, auth.ActionDeleteFile, subject); err != nil {
		return err
	}
	if err := e.Repo.MarkAttachmentRemoved(ctx, tx, a.ID); err != nil {
		return err
	}
	if _, err := e.events().Append(ctx, tx, domain.EventFileDeleted, a.IssueID, actor.UserID, &a.ID); err != nil {
		return err
	}
	return tx.Commit()
}

// AddDependency blocks issueID on blockerID. Both issues must exist; the
// pair may span templates.
func (e Engine) AddDependency(ctx context.Context, issueID, blockerID int64, actor auth.Actor) error {
	if issueID == blockerID {
		return errors.New("issue cannot depend on itself")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	_, _, subject, err := e.issueSubject(ctx, tx, issueID)
	if err != nil {
		return err
	}
	if _, err := e.Repo.GetIssueTx(ctx, tx, blockerID); err != nil {
		return err
	}
	if err := e.require(ctx, tx, actor, auth.ActionAddDependency, subject); err != nil {
		return err
	}
	if err := e.Repo.AddDependency(ctx, tx, issueID, blockerID); err != nil {
		return err
	}
	if _, err := e.events().Append(ctx, tx, domain.EventDependencyAdded, issueID, actor.UserID, &blockerID); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) RemoveDependency(ctx context.Context, issueID, blockerID int64, actor auth.Actor) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	_, _, subject, err := e.issueSubject(ctx, tx, issueID)
	if err != nil {
		return err
	}
	if err := e.require(ctx, tx, actor, auth.ActionRemoveDependency, subject); err != nil {
		return err
	}
	if err := e.Repo.RemoveDependency(ctx, tx, issueID, blockerID); err != nil {
		return err
	}
	if _, err := e.events().Append(ctx, tx, domain.EventDependencyRemoved, issueID, actor.UserID, &blockerID); err != nil {
		return err
	}
	return tx.Commit()
}

// Watch subscribes the actor to the issue; Unwatch removes the
// subscription. No permission gate beyond being authenticated: watching is
// the actor's own bookkeeping.
func (e Engine) Watch(ctx context.Context, issueID int64, actor auth.Actor) error {
	if !actor.Authenticated() {
		return auth.DeniedError{Action: auth.ActionView}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := e.Repo.GetIssueTx(ctx, tx, issueID); err != nil {
		return err
	}
	if err := e.Repo.AddWatcher(ctx, tx, issueID, actor.UserID); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) Unwatch(ctx context.Context, issueID int64, actor auth.Actor) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.RemoveWatcher(ctx, tx, issueID, actor.UserID); err != nil {
		return err
	}
	return tx.Commit()
}

// IssueDetail is the full read view of one issue: the row itself plus its
// blockers, its watchers, and whether the actor has read it since the last
// change.
type IssueDetail struct {
	Issue        domain.Issue
	Template     domain.Template
	Dependencies []int64
	Watchers     []int64
	Read         bool
}

// GetIssue loads the detail view in one read-only snapshot, gated by view.
func (e Engine) GetIssue(ctx context.Context, issueID int64, actor auth.Actor) (IssueDetail, error) {
	tx, err := e.DB.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return IssueDetail{}, err
	}
	defer tx.Rollback()
	issue, t, subject, err := e.issueSubject(ctx, tx, issueID)
	if err != nil {
		return IssueDetail{}, err
	}
	if err := e.require(ctx, tx, actor, auth.ActionView, subject); err != nil {
		return IssueDetail{}, err
	}
	detail := IssueDetail{Issue: issue, Template: t}
	if detail.Dependencies, err = e.Repo.ListDependencies(ctx, tx, issueID); err != nil {
		return IssueDetail{}, err
	}
	if detail.Watchers, err = e.Repo.ListWatchers(ctx, tx, issueID); err != nil {
		return IssueDetail{}, err
	}
	lr, err := e.Repo.GetLastRead(ctx, tx, issueID, actor.UserID)
	switch err {
	case nil:
		detail.Read = lr.ReadAt >= issue.ChangedAt
	case repo.ErrNotFound:
	default:
		return IssueDetail{}, err
	}
	return detail, nil
}

// BatchResult reports one subject's outcome of a batch operation. Batches
// never abort on a single denial; each subject succeeds or fails on its
// own.
type BatchResult struct {
	IssueID int64
	Err     error
}

// MarkRead stamps the issues as read by the actor, one outcome per issue.
func (e Engine) MarkRead(ctx context.Context, issueIDs []int64, actor auth.Actor) []BatchResult {
	out := make([]BatchResult, 0, len(issueIDs))
	for _, id := range issueIDs {
		out = append(out, BatchResult{IssueID: id, Err: e.markRead(ctx, id, actor)})
	}
	return out
}

func (e Engine) markRead(ctx context.Context, issueID int64, actor auth.Actor) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	_, _, subject, err := e.issueSubject(ctx, tx, issueID)
	if err != nil {
		return err
	}
	if err := e.require(ctx, tx, actor, auth.ActionView, subject); err != nil {
		return err
	}
	lr := domain.LastRead{IssueID: issueID, UserID: actor.UserID, ReadAt: e.now().Unix()}
	if err := e.Repo.UpsertLastRead(ctx, tx, lr); err != nil {
		return err
	}
	return tx.Commit()
}

// MarkUnread drops the read stamps, one outcome per issue.
func (e Engine) MarkUnread(ctx context.Context, issueIDs []int64, actor auth.Actor) []BatchResult {
	out := make([]BatchResult, 0, len(issueIDs))
	for _, id := range issueIDs {
		out = append(out, BatchResult{IssueID: id, Err: e.markUnread(ctx, id, actor)})
	}
	return out
}

func (e Engine) markUnread(ctx context.Context, issueID int64, actor auth.Actor) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	_, _, subject, err := e.issueSubject(ctx, tx, issueID)
	if err != nil {
		return err
	}
	if err := e.require(ctx, tx, actor, auth.ActionView, subject); err != nil {
		return err
	}
	if err := e.Repo.DeleteLastRead(ctx, tx, issueID, actor.UserID); err != nil {
		return err
	}
	return tx.Commit()
}

// FieldValues decodes the issue's current values into their user-facing
// form, filtered by the actor's per-field read access.
func (e Engine) FieldValues(ctx context.Context, issueID int64, actor auth.Actor) (map[string]string, error) {
	tx, err := e.DB.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	issue, _, subject, err := e.issueSubject(ctx, tx, issueID)
	if err != nil {
		return nil, err
	}
	if err := e.require(ctx, tx, actor, auth.ActionView, subject); err != nil {
		return nil, err
	}
	values, err := e.Repo.ListFieldValues(ctx, tx, issueID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(values))
	for _, fv := range values {
		f, err := e.Repo.GetField(ctx, tx, fv.FieldID)
		if err != nil {
			return nil, err
		}
		access, err := e.auth().FieldAccess(ctx, tx, actor, issue, f)
		if err != nil {
			return nil, err
		}
		if !access.CanRead() {
			continue
		}
		codec, err := fields.For(f.Type)
		if err != nil {
			return nil, err
		}
		rendered, err := codec.Decode(ctx, tx, e.Repo, f, fv.Value)
		if err != nil {
			return nil, err
		}
		out[f.Name] = rendered
	}
	return out, nil
}
