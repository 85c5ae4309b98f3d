package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"trackline/internal/config"
	"trackline/internal/db"
	"trackline/internal/domain"
	"trackline/internal/engine"
	"trackline/internal/engine/auth"
	"trackline/internal/migrate"
	"trackline/internal/repo"
)

type testEnv struct {
	Engine   engine.Engine
	Ctx      context.Context
	Project  domain.Project
	Template domain.Template
	States   map[string]domain.State
	Alice    domain.User
	Bob      domain.User
	Carol    domain.User
	clock    *time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	if _, err := db.EnsureWorkspace(dir); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("demo")
	eng := engine.New(conn, cfg)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	eng.Now = func() time.Time { return now }
	ctx := context.Background()

	project, err := eng.CreateProject(ctx, "demo", "test project")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	tpl, err := eng.ImportTemplate(ctx, project.ID, cfg.Templates[0])
	if err != nil {
		t.Fatalf("import template: %v", err)
	}
	states, err := eng.Repo.ListStates(ctx, tpl.ID)
	if err != nil {
		t.Fatalf("list states: %v", err)
	}
	byName := make(map[string]domain.State, len(states))
	for _, s := range states {
		byName[s.Name] = s
	}

	env := &testEnv{
		Engine:   eng,
		Ctx:      ctx,
		Project:  project,
		Template: tpl,
		States:   byName,
		clock:    &now,
	}
	env.Alice = env.user(t, "alice")
	env.Bob = env.user(t, "bob")
	env.Carol = env.user(t, "carol")
	return env
}

func (e *testEnv) user(t *testing.T, account string) domain.User {
	t.Helper()
	u, err := e.Engine.CreateUser(e.Ctx, domain.User{Account: account, FullName: account})
	if err != nil {
		t.Fatalf("create user %s: %v", account, err)
	}
	return u
}

func (e *testEnv) advance(d time.Duration) { *e.clock = e.clock.Add(d) }

func actor(u domain.User) auth.Actor { return auth.Actor{UserID: u.ID} }

// createIssue makes an issue authored by alice with bob responsible,
// satisfying the required Details field of the default workflow.
func (e *testEnv) createIssue(t *testing.T, subject string) domain.Issue {
	t.Helper()
	issue, err := e.Engine.CreateIssue(e.Ctx, engine.IssueCreateOptions{
		TemplateID:  e.Template.ID,
		Subject:     subject,
		Values:      map[string]string{"Details": "repro steps"},
		Responsible: &e.Bob.ID,
		Actor:       actor(e.Alice),
	})
	if err != nil {
		t.Fatalf("create issue: %v", err)
	}
	return issue
}

// closeIssue walks the default workflow to its final state: the author moves
// New to Assigned, the responsible moves Assigned to Fixed.
func (e *testEnv) closeIssue(t *testing.T, issueID int64) domain.Issue {
	t.Helper()
	if _, err := e.Engine.Transition(e.Ctx, issueID, e.States["Assigned"].ID, actor(e.Alice), nil); err != nil {
		t.Fatalf("to Assigned: %v", err)
	}
	issue, err := e.Engine.Transition(e.Ctx, issueID, e.States["Fixed"].ID, actor(e.Bob), nil)
	if err != nil {
		t.Fatalf("to Fixed: %v", err)
	}
	return issue
}

func (e *testEnv) field(t *testing.T, stateName, fieldName string) domain.Field {
	t.Helper()
	tx, err := e.Engine.DB.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	active, err := e.Engine.Repo.ActiveFields(e.Ctx, tx, e.States[stateName].ID)
	if err != nil {
		t.Fatalf("active fields: %v", err)
	}
	for _, f := range active {
		if f.Name == fieldName {
			return f
		}
	}
	t.Fatalf("field %s not found on state %s", fieldName, stateName)
	return domain.Field{}
}

func (e *testEnv) eventsOfType(t *testing.T, issueID int64, typ domain.EventType) []domain.Event {
	t.Helper()
	all, err := e.Engine.Repo.ListEvents(e.Ctx, issueID)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	var out []domain.Event
	for _, ev := range all {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func TestCreateIssueRecordsAudit(t *testing.T) {
	env := newTestEnv(t)
	issue := env.createIssue(t, "printer on fire")

	if issue.StateID != env.States["New"].ID {
		t.Fatalf("expected initial state, got %d", issue.StateID)
	}
	if issue.AuthorID != env.Alice.ID {
		t.Fatalf("author = %d, want %d", issue.AuthorID, env.Alice.ID)
	}
	if issue.ResponsibleID == nil || *issue.ResponsibleID != env.Bob.ID {
		t.Fatalf("responsible = %v, want %d", issue.ResponsibleID, env.Bob.ID)
	}
	created := env.eventsOfType(t, issue.ID, domain.EventIssueCreated)
	if len(created) != 1 {
		t.Fatalf("issue.created events = %d, want 1", len(created))
	}
	if created[0].Parameter == nil || *created[0].Parameter != env.States["New"].ID {
		t.Fatalf("issue.created parameter = %v, want initial state id", created[0].Parameter)
	}
	if got := env.eventsOfType(t, issue.ID, domain.EventIssueAssigned); len(got) != 1 {
		t.Fatalf("issue.assigned events = %d, want 1", len(got))
	}
}

func TestCreateIssueRequiredField(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateIssue(env.Ctx, engine.IssueCreateOptions{
		TemplateID: env.Template.ID,
		Subject:    "no details given",
		Actor:      actor(env.Alice),
	})
	if err == nil {
		t.Fatal("expected required-field error")
	}
	_, err = env.Engine.CreateIssue(env.Ctx, engine.IssueCreateOptions{
		TemplateID: env.Template.ID,
		Subject:    "bogus field",
		Values:     map[string]string{"Details": "x", "Nope": "y"},
		Actor:      actor(env.Alice),
	})
	if err == nil {
		t.Fatal("expected unknown-field error")
	}
}

func TestTransitionClosesAndReopens(t *testing.T) {
	env := newTestEnv(t)
	issue := env.createIssue(t, "close me")
	issue = env.closeIssue(t, issue.ID)

	if issue.ClosedAt == nil {
		t.Fatal("expected closed_at after final transition")
	}
	if issue.ResponsibleID != nil {
		t.Fatalf("final state must clear responsible, got %v", issue.ResponsibleID)
	}

	// Reopening clears closed_at again.
	if _, err := env.Engine.AddTransition(env.Ctx, env.States["Fixed"].ID, env.States["New"].ID, "author", nil); err != nil {
		t.Fatalf("add reopen transition: %v", err)
	}
	issue, err := env.Engine.Transition(env.Ctx, issue.ID, env.States["New"].ID, actor(env.Alice), nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if issue.ClosedAt != nil {
		t.Fatalf("expected closed_at cleared, got %v", *issue.ClosedAt)
	}
}

func TestTransitionRejectsForeignTemplateState(t *testing.T) {
	env := newTestEnv(t)
	other := config.Default("demo").Templates[0]
	other.Name = "Chores"
	other.Prefix = "chore"
	tpl, err := env.Engine.ImportTemplate(env.Ctx, env.Project.ID, other)
	if err != nil {
		t.Fatalf("import second template: %v", err)
	}
	states, err := env.Engine.Repo.ListStates(env.Ctx, tpl.ID)
	if err != nil {
		t.Fatalf("list states: %v", err)
	}

	issue := env.createIssue(t, "stay home")
	_, err = env.Engine.Transition(env.Ctx, issue.ID, states[0].ID, actor(env.Alice), nil)
	if !errors.Is(err, domain.ErrUnknownState) {
		t.Fatalf("expected ErrUnknownState, got %v", err)
	}
}

func TestTransitionRequiresGrantedEdge(t *testing.T) {
	env := newTestEnv(t)
	issue := env.createIssue(t, "guarded moves")

	// Carol holds no edge from New.
	_, err := env.Engine.Transition(env.Ctx, issue.ID, env.States["Assigned"].ID, actor(env.Carol), nil)
	var denied auth.DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected denial, got %v", err)
	}

	// The author's edge stops at Assigned; Fixed needs the responsible.
	if _, err := env.Engine.Transition(env.Ctx, issue.ID, env.States["Assigned"].ID, actor(env.Alice), nil); err != nil {
		t.Fatalf("author to Assigned: %v", err)
	}
	_, err = env.Engine.Transition(env.Ctx, issue.ID, env.States["Fixed"].ID, actor(env.Alice), nil)
	if !errors.As(err, &denied) {
		t.Fatalf("expected denial for author on Fixed, got %v", err)
	}
}

func TestGroupGrantsTransition(t *testing.T) {
	env := newTestEnv(t)
	issue := env.createIssue(t, "group powered")

	g, err := env.Engine.CreateGroup(env.Ctx, &env.Project.ID, "movers", "")
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	if err := env.Engine.AddGroupMember(env.Ctx, g.ID, env.Carol.ID); err != nil {
		t.Fatalf("add member: %v", err)
	}
	if _, err := env.Engine.AddTransition(env.Ctx, env.States["New"].ID, env.States["Assigned"].ID, "", &g.ID); err != nil {
		t.Fatalf("add group transition: %v", err)
	}
	moved, err := env.Engine.Transition(env.Ctx, issue.ID, env.States["Assigned"].ID, actor(env.Carol), nil)
	if err != nil {
		t.Fatalf("group member transition: %v", err)
	}
	if moved.StateID != env.States["Assigned"].ID {
		t.Fatalf("state = %d, want Assigned", moved.StateID)
	}
}

func TestOpenDependenciesBlockClosing(t *testing.T) {
	env := newTestEnv(t)
	blocked := env.createIssue(t, "blocked")
	blocker := env.createIssue(t, "blocker")

	if err := env.Engine.AddDependency(env.Ctx, blocked.ID, blocker.ID, actor(env.Alice)); err != nil {
		t.Fatalf("add dependency: %v", err)
	}
	if err := env.Engine.AddDependency(env.Ctx, blocked.ID, blocked.ID, actor(env.Alice)); err == nil {
		t.Fatal("expected self-dependency rejection")
	}

	if _, err := env.Engine.Transition(env.Ctx, blocked.ID, env.States["Assigned"].ID, actor(env.Alice), nil); err != nil {
		t.Fatalf("to Assigned: %v", err)
	}
	_, err := env.Engine.Transition(env.Ctx, blocked.ID, env.States["Fixed"].ID, actor(env.Bob), nil)
	var denied auth.DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected denial while blocker is open, got %v", err)
	}

	env.closeIssue(t, blocker.ID)
	if _, err := env.Engine.Transition(env.Ctx, blocked.ID, env.States["Fixed"].ID, actor(env.Bob), nil); err != nil {
		t.Fatalf("close after blocker done: %v", err)
	}
}

func TestSuspendBlocksMutations(t *testing.T) {
	env := newTestEnv(t)
	issue := env.createIssue(t, "on hold")
	until := env.clock.Add(time.Hour).Unix()

	if _, err := env.Engine.Suspend(env.Ctx, issue.ID, until, actor(env.Bob)); err != nil {
		t.Fatalf("suspend: %v", err)
	}

	subject := "renamed while suspended"
	_, err := env.Engine.UpdateIssue(env.Ctx, engine.IssueUpdateOptions{ID: issue.ID, Subject: &subject, Actor: actor(env.Alice)})
	var denied auth.DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected edit denial, got %v", err)
	}
	_, err = env.Engine.Transition(env.Ctx, issue.ID, env.States["Assigned"].ID, actor(env.Alice), nil)
	if !errors.As(err, &denied) {
		t.Fatalf("expected transition denial, got %v", err)
	}

	if _, err := env.Engine.Resume(env.Ctx, issue.ID, actor(env.Bob)); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if _, err := env.Engine.UpdateIssue(env.Ctx, engine.IssueUpdateOptions{ID: issue.ID, Subject: &subject, Actor: actor(env.Alice)}); err != nil {
		t.Fatalf("edit after resume: %v", err)
	}
}

func TestSuspendWithPastResumePoint(t *testing.T) {
	env := newTestEnv(t)
	issue := env.createIssue(t, "already awake")

	past := env.clock.Add(-time.Minute).Unix()
	if _, err := env.Engine.Suspend(env.Ctx, issue.ID, past, actor(env.Bob)); err != nil {
		t.Fatalf("suspend with past resume point: %v", err)
	}

	// Not effectively suspended, so edits pass and resume is denied.
	subject := "still editable"
	if _, err := env.Engine.UpdateIssue(env.Ctx, engine.IssueUpdateOptions{ID: issue.ID, Subject: &subject, Actor: actor(env.Alice)}); err != nil {
		t.Fatalf("edit: %v", err)
	}
	_, err := env.Engine.Resume(env.Ctx, issue.ID, actor(env.Bob))
	var denied auth.DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected resume denial, got %v", err)
	}
}

func TestFrozenIssueRejectsChanges(t *testing.T) {
	env := newTestEnv(t)
	issue := env.createIssue(t, "freeze me")
	env.closeIssue(t, issue.ID)

	// Default frozen_time is 30 days; step well past it.
	env.advance(31*24*time.Hour + time.Hour)

	subject := "too late"
	_, err := env.Engine.UpdateIssue(env.Ctx, engine.IssueUpdateOptions{ID: issue.ID, Subject: &subject, Actor: actor(env.Alice)})
	var denied auth.DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected frozen edit denial, got %v", err)
	}
	_, err = env.Engine.AddComment(env.Ctx, issue.ID, "post-mortem", false, actor(env.Alice))
	if !errors.As(err, &denied) {
		t.Fatalf("expected frozen comment denial, got %v", err)
	}
}

func TestEventTimestampsNeverCollide(t *testing.T) {
	env := newTestEnv(t)
	issue := env.createIssue(t, "chatty")

	// The clock is frozen, so every comment lands on the same second and
	// only the perturbation keeps the audit tuples unique.
	for i := 0; i < 3; i++ {
		if _, err := env.Engine.AddComment(env.Ctx, issue.ID, "same instant", false, actor(env.Alice)); err != nil {
			t.Fatalf("comment %d: %v", i, err)
		}
	}
	comments := env.eventsOfType(t, issue.ID, domain.EventCommentPublic)
	if len(comments) != 3 {
		t.Fatalf("comment events = %d, want 3", len(comments))
	}
	seen := make(map[int64]bool, 3)
	for _, ev := range comments {
		if seen[ev.CreatedAt] {
			t.Fatalf("duplicate event timestamp %d", ev.CreatedAt)
		}
		seen[ev.CreatedAt] = true
	}
}

func TestUpdateIssueRecordsDiffs(t *testing.T) {
	env := newTestEnv(t)
	details := env.field(t, "New", "Details")
	if err := env.Engine.SetFieldAccess(env.Ctx, details.ID, "author", nil, "read-write"); err != nil {
		t.Fatalf("grant field access: %v", err)
	}
	issue := env.createIssue(t, "old subject")

	subject := "new subject"
	if _, err := env.Engine.UpdateIssue(env.Ctx, engine.IssueUpdateOptions{
		ID:      issue.ID,
		Subject: &subject,
		Values:  map[string]string{"Details": "better repro steps"},
		Actor:   actor(env.Alice),
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	edited := env.eventsOfType(t, issue.ID, domain.EventIssueEdited)
	if len(edited) != 1 {
		t.Fatalf("issue.edited events = %d, want 1", len(edited))
	}
	tx, err := env.Engine.DB.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	changes, err := env.Engine.Repo.ListChanges(env.Ctx, tx, edited[0].ID)
	if err != nil {
		t.Fatalf("list changes: %v", err)
	}
	if len(changes) != 2 {
		t.Fatalf("change rows = %d, want 2", len(changes))
	}
	var sawSubject, sawField bool
	for _, c := range changes {
		if c.FieldID == nil {
			sawSubject = true
			old, err := env.Engine.Repo.LookupString(env.Ctx, tx, *c.OldValue)
			if err != nil || old != "old subject" {
				t.Fatalf("old subject = %q (%v)", old, err)
			}
		} else if *c.FieldID == details.ID {
			sawField = true
			if c.OldValue == nil || c.NewValue == nil || *c.OldValue == *c.NewValue {
				t.Fatalf("field change old=%v new=%v", c.OldValue, c.NewValue)
			}
		}
	}
	if !sawSubject || !sawField {
		t.Fatalf("missing change rows: subject=%v field=%v", sawSubject, sawField)
	}

	// A no-op edit leaves the audit trail untouched.
	if _, err := env.Engine.UpdateIssue(env.Ctx, engine.IssueUpdateOptions{
		ID:      issue.ID,
		Subject: &subject,
		Values:  map[string]string{"Details": "better repro steps"},
		Actor:   actor(env.Alice),
	}); err != nil {
		t.Fatalf("no-op update: %v", err)
	}
	if got := env.eventsOfType(t, issue.ID, domain.EventIssueEdited); len(got) != 1 {
		t.Fatalf("no-op update appended events: %d", len(got))
	}
}

func TestFieldAccessRanking(t *testing.T) {
	env := newTestEnv(t)
	details := env.field(t, "New", "Details")

	// Author gets read by role and read-write through a group: the
	// highest-ranked principal wins.
	g, err := env.Engine.CreateGroup(env.Ctx, &env.Project.ID, "editors", "")
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	if err := env.Engine.AddGroupMember(env.Ctx, g.ID, env.Alice.ID); err != nil {
		t.Fatalf("add member: %v", err)
	}
	if err := env.Engine.SetFieldAccess(env.Ctx, details.ID, "author", nil, "read"); err != nil {
		t.Fatalf("role access: %v", err)
	}
	if err := env.Engine.SetFieldAccess(env.Ctx, details.ID, "", &g.ID, "read-write"); err != nil {
		t.Fatalf("group access: %v", err)
	}

	issue := env.createIssue(t, "ranked access")
	if _, err := env.Engine.UpdateIssue(env.Ctx, engine.IssueUpdateOptions{
		ID:     issue.ID,
		Values: map[string]string{"Details": "rewritten"},
		Actor:  actor(env.Alice),
	}); err != nil {
		t.Fatalf("write with read-write rank: %v", err)
	}

	// Read-only rank cannot write.
	readOnly, err := env.Engine.CreateField(env.Ctx, engine.FieldCreateOptions{
		StateID: env.States["New"].ID,
		Name:    "Severity",
		Kind:    "number",
	})
	if err != nil {
		t.Fatalf("create field: %v", err)
	}
	if err := env.Engine.SetFieldAccess(env.Ctx, readOnly.ID, "author", nil, "read"); err != nil {
		t.Fatalf("read access: %v", err)
	}
	_, err = env.Engine.UpdateIssue(env.Ctx, engine.IssueUpdateOptions{
		ID:     issue.ID,
		Values: map[string]string{"Severity": "3"},
		Actor:  actor(env.Alice),
	})
	var denied auth.DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected write denial, got %v", err)
	}

	// Without any access row the field stays invisible.
	values, err := env.Engine.FieldValues(env.Ctx, issue.ID, actor(env.Bob))
	if err != nil {
		t.Fatalf("field values: %v", err)
	}
	if _, ok := values["Details"]; ok {
		t.Fatal("bob reads Details without an access grant")
	}
	values, err = env.Engine.FieldValues(env.Ctx, issue.ID, actor(env.Alice))
	if err != nil {
		t.Fatalf("field values: %v", err)
	}
	if values["Details"] != "rewritten" {
		t.Fatalf("Details = %q, want rewritten", values["Details"])
	}
}

func TestCloneCopiesInitialValues(t *testing.T) {
	env := newTestEnv(t)
	details := env.field(t, "New", "Details")
	if err := env.Engine.SetFieldAccess(env.Ctx, details.ID, "author", nil, "read-write"); err != nil {
		t.Fatalf("field access: %v", err)
	}
	origin := env.createIssue(t, "original")

	clone, err := env.Engine.CloneIssue(env.Ctx, origin.ID, "", actor(env.Alice))
	if err != nil {
		t.Fatalf("clone: %v", err)
	}
	if clone.Subject != origin.Subject {
		t.Fatalf("clone subject = %q, want origin's", clone.Subject)
	}
	if clone.OriginID == nil || *clone.OriginID != origin.ID {
		t.Fatalf("origin id = %v, want %d", clone.OriginID, origin.ID)
	}
	cloned := env.eventsOfType(t, clone.ID, domain.EventIssueCloned)
	if len(cloned) != 1 || cloned[0].Parameter == nil || *cloned[0].Parameter != origin.ID {
		t.Fatalf("issue.cloned event missing or wrong parameter: %+v", cloned)
	}
	values, err := env.Engine.FieldValues(env.Ctx, clone.ID, actor(env.Alice))
	if err != nil {
		t.Fatalf("field values: %v", err)
	}
	if values["Details"] != "repro steps" {
		t.Fatalf("Details = %q, want copied value", values["Details"])
	}
}

func TestPrivateCommentVisibility(t *testing.T) {
	env := newTestEnv(t)
	issue := env.createIssue(t, "secrets inside")

	if _, err := env.Engine.AddComment(env.Ctx, issue.ID, "public note", false, actor(env.Alice)); err != nil {
		t.Fatalf("public comment: %v", err)
	}
	if _, err := env.Engine.AddComment(env.Ctx, issue.ID, "internal note", true, actor(env.Bob)); err != nil {
		t.Fatalf("private comment: %v", err)
	}

	// Carol may only post public comments.
	_, err := env.Engine.AddComment(env.Ctx, issue.ID, "sneaky", true, actor(env.Carol))
	var denied auth.DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected private comment denial, got %v", err)
	}

	forAuthor, err := env.Engine.Comments(env.Ctx, issue.ID, actor(env.Alice))
	if err != nil {
		t.Fatalf("author comments: %v", err)
	}
	if len(forAuthor) != 2 {
		t.Fatalf("author sees %d comments, want 2", len(forAuthor))
	}
	forCarol, err := env.Engine.Comments(env.Ctx, issue.ID, actor(env.Carol))
	if err != nil {
		t.Fatalf("carol comments: %v", err)
	}
	if len(forCarol) != 1 || forCarol[0].Private {
		t.Fatalf("carol sees %d comments (private leak?)", len(forCarol))
	}
}

func TestEvaluateDecisions(t *testing.T) {
	env := newTestEnv(t)
	issue := env.createIssue(t, "who may what")

	d, err := env.Engine.Evaluate(env.Ctx, actor(env.Carol), auth.ActionView, engine.SubjectRef{IssueID: issue.ID})
	if err != nil || d != auth.Grant {
		t.Fatalf("carol view = %v (%v), want grant", d, err)
	}
	d, err = env.Engine.Evaluate(env.Ctx, actor(env.Carol), auth.ActionEdit, engine.SubjectRef{IssueID: issue.ID})
	if err != nil || d != auth.Deny {
		t.Fatalf("carol edit = %v (%v), want deny", d, err)
	}
	d, err = env.Engine.Evaluate(env.Ctx, auth.Actor{}, auth.ActionView, engine.SubjectRef{IssueID: issue.ID})
	if err != nil || d != auth.Deny {
		t.Fatalf("anonymous view = %v (%v), want deny", d, err)
	}
	d, err = env.Engine.Evaluate(env.Ctx, actor(env.Carol), auth.ActionCreate, engine.SubjectRef{TemplateID: env.Template.ID})
	if err != nil || d != auth.Grant {
		t.Fatalf("carol create = %v (%v), want grant", d, err)
	}
}

func TestMarkReadBatchOutcomes(t *testing.T) {
	env := newTestEnv(t)
	issue := env.createIssue(t, "read me")

	results := env.Engine.MarkRead(env.Ctx, []int64{issue.ID, 99999}, actor(env.Alice))
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].Err != nil {
		t.Fatalf("existing issue failed: %v", results[0].Err)
	}
	if results[1].Err == nil {
		t.Fatal("missing issue should fail without aborting the batch")
	}

	results = env.Engine.MarkUnread(env.Ctx, []int64{issue.ID}, actor(env.Alice))
	if results[0].Err != nil {
		t.Fatalf("unread: %v", results[0].Err)
	}
}

func TestSuspendedProjectRejectsCreate(t *testing.T) {
	env := newTestEnv(t)
	if err := env.Engine.SuspendProject(env.Ctx, env.Project.ID, true); err != nil {
		t.Fatalf("suspend project: %v", err)
	}
	_, err := env.Engine.CreateIssue(env.Ctx, engine.IssueCreateOptions{
		TemplateID: env.Template.ID,
		Subject:    "nope",
		Values:     map[string]string{"Details": "x"},
		Actor:      actor(env.Alice),
	})
	var denied auth.DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected create denial on suspended project, got %v", err)
	}
}

func TestLockedTemplateRejectsGraphEdits(t *testing.T) {
	env := newTestEnv(t)
	issue := env.createIssue(t, "grandfathered")
	if err := env.Engine.LockTemplate(env.Ctx, env.Template.ID, true); err != nil {
		t.Fatalf("lock: %v", err)
	}
	_, err := env.Engine.CreateState(env.Ctx, engine.StateCreateOptions{
		TemplateID: env.Template.ID,
		Name:       "Limbo",
		Kind:       "intermediate",
	})
	if err == nil {
		t.Fatal("expected locked-template rejection")
	}
	// Locked templates stop accepting new issues too.
	_, err = env.Engine.CreateIssue(env.Ctx, engine.IssueCreateOptions{
		TemplateID: env.Template.ID,
		Subject:    "new under lock",
		Values:     map[string]string{"Details": "x"},
		Actor:      actor(env.Alice),
	})
	var denied auth.DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected create denial under lock, got %v", err)
	}
	// Existing issues keep flowing.
	if _, err := env.Engine.Transition(env.Ctx, issue.ID, env.States["Assigned"].ID, actor(env.Alice), nil); err != nil {
		t.Fatalf("transition under lock: %v", err)
	}
}

func TestAddTransitionRejectsCrossTemplateEdge(t *testing.T) {
	env := newTestEnv(t)
	other := config.Default("demo").Templates[0]
	other.Name = "Chores"
	other.Prefix = "chore"
	tpl, err := env.Engine.ImportTemplate(env.Ctx, env.Project.ID, other)
	if err != nil {
		t.Fatalf("import second template: %v", err)
	}
	states, err := env.Engine.Repo.ListStates(env.Ctx, tpl.ID)
	if err != nil {
		t.Fatalf("list states: %v", err)
	}

	_, err = env.Engine.AddTransition(env.Ctx, env.States["New"].ID, states[0].ID, "author", nil)
	if !errors.Is(err, domain.ErrCrossTemplateReference) {
		t.Fatalf("expected ErrCrossTemplateReference, got %v", err)
	}
}

func TestTransitionPrincipalRejectsForeignGroup(t *testing.T) {
	env := newTestEnv(t)
	otherProject, err := env.Engine.CreateProject(env.Ctx, "elsewhere", "")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	g, err := env.Engine.CreateGroup(env.Ctx, &otherProject.ID, "outsiders", "")
	if err != nil {
		t.Fatalf("create group: %v", err)
	}

	_, err = env.Engine.AddTransition(env.Ctx, env.States["New"].ID, env.States["Assigned"].ID, "", &g.ID)
	if !errors.Is(err, domain.ErrUnknownGroup) {
		t.Fatalf("transition: expected ErrUnknownGroup, got %v", err)
	}
	err = env.Engine.Grant(env.Ctx, env.Template.ID, "", &g.ID, "view")
	if !errors.Is(err, domain.ErrUnknownGroup) {
		t.Fatalf("grant: expected ErrUnknownGroup, got %v", err)
	}
}

func TestRemoveTransitionRevokesEdge(t *testing.T) {
	env := newTestEnv(t)
	issue := env.createIssue(t, "soon immovable")

	if err := env.Engine.RemoveTransition(env.Ctx, env.States["New"].ID, env.States["Assigned"].ID, "author", nil); err != nil {
		t.Fatalf("remove transition: %v", err)
	}
	_, err := env.Engine.Transition(env.Ctx, issue.ID, env.States["Assigned"].ID, actor(env.Alice), nil)
	var denied auth.DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected denial after revoke, got %v", err)
	}
	// The edge is gone; revoking it again reports not found.
	err = env.Engine.RemoveTransition(env.Ctx, env.States["New"].ID, env.States["Assigned"].ID, "author", nil)
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSetStateResponsiblePolicy(t *testing.T) {
	env := newTestEnv(t)
	if err := env.Engine.SetStateResponsible(env.Ctx, env.States["Assigned"].ID, "remove"); err != nil {
		t.Fatalf("set policy: %v", err)
	}
	s, err := env.Engine.Repo.GetState(env.Ctx, env.States["Assigned"].ID)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if s.Responsible != domain.ResponsibleRemove {
		t.Fatalf("policy = %s, want remove", s.Responsible)
	}
	if err := env.Engine.SetStateResponsible(env.Ctx, s.ID, "whoever"); err == nil {
		t.Fatal("expected rejection of unknown policy")
	}
}

func TestIssueDetailView(t *testing.T) {
	env := newTestEnv(t)
	issue := env.createIssue(t, "detailed")
	blocker := env.createIssue(t, "blocking")
	if err := env.Engine.AddDependency(env.Ctx, issue.ID, blocker.ID, actor(env.Alice)); err != nil {
		t.Fatalf("add dependency: %v", err)
	}
	if err := env.Engine.Watch(env.Ctx, issue.ID, actor(env.Carol)); err != nil {
		t.Fatalf("watch: %v", err)
	}

	detail, err := env.Engine.GetIssue(env.Ctx, issue.ID, actor(env.Alice))
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if len(detail.Dependencies) != 1 || detail.Dependencies[0] != blocker.ID {
		t.Fatalf("dependencies = %v, want [%d]", detail.Dependencies, blocker.ID)
	}
	if len(detail.Watchers) != 1 || detail.Watchers[0] != env.Carol.ID {
		t.Fatalf("watchers = %v, want [%d]", detail.Watchers, env.Carol.ID)
	}
	if detail.Read {
		t.Fatal("unvisited issue reported as read")
	}

	results := env.Engine.MarkRead(env.Ctx, []int64{issue.ID}, actor(env.Alice))
	if results[0].Err != nil {
		t.Fatalf("mark read: %v", results[0].Err)
	}
	detail, err = env.Engine.GetIssue(env.Ctx, issue.ID, actor(env.Alice))
	if err != nil {
		t.Fatalf("detail after read: %v", err)
	}
	if !detail.Read {
		t.Fatal("issue should be read after MarkRead")
	}

	// Any later change flips it back to unread.
	env.advance(time.Hour)
	if _, err := env.Engine.AddComment(env.Ctx, issue.ID, "news", false, actor(env.Bob)); err != nil {
		t.Fatalf("comment: %v", err)
	}
	detail, err = env.Engine.GetIssue(env.Ctx, issue.ID, actor(env.Alice))
	if err != nil {
		t.Fatalf("detail after change: %v", err)
	}
	if detail.Read {
		t.Fatal("changed issue should be unread again")
	}

	if _, err := env.Engine.GetIssue(env.Ctx, 99999, actor(env.Alice)); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("missing issue: expected ErrNotFound, got %v", err)
	}
}

func TestMarkUnreadReportsMissingIssue(t *testing.T) {
	env := newTestEnv(t)
	issue := env.createIssue(t, "batch symmetry")

	results := env.Engine.MarkUnread(env.Ctx, []int64{issue.ID, 99999}, actor(env.Alice))
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].Err != nil {
		t.Fatalf("existing issue failed: %v", results[0].Err)
	}
	if results[1].Err == nil {
		t.Fatal("missing issue should fail without aborting the batch")
	}
}

func TestRemoveGroupMemberNotFound(t *testing.T) {
	env := newTestEnv(t)
	g, err := env.Engine.CreateGroup(env.Ctx, &env.Project.ID, "loners", "")
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	if err := env.Engine.RemoveGroupMember(env.Ctx, g.ID, env.Carol.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for non-member, got %v", err)
	}
	if err := env.Engine.AddGroupMember(env.Ctx, g.ID, env.Carol.ID); err != nil {
		t.Fatalf("add member: %v", err)
	}
	if err := env.Engine.RemoveGroupMember(env.Ctx, g.ID, env.Carol.ID); err != nil {
		t.Fatalf("remove member: %v", err)
	}
}
