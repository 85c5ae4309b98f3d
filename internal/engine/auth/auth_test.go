package auth

import (
	"context"
	"testing"

	"trackline/internal/domain"
)

func TestEvaluateFailsClosed(t *testing.T) {
	e := Evaluator{}
	ctx := context.Background()

	// Anonymous actors are denied before any lookup happens.
	d, err := e.Evaluate(ctx, nil, Actor{}, ActionView, Subject{})
	if err != nil || d != Deny {
		t.Fatalf("anonymous = %v (%v), want deny", d, err)
	}

	// Unknown actions are denied, not errored.
	d, err = e.Evaluate(ctx, nil, Actor{UserID: 1}, Action("issue.explode"), Subject{})
	if err != nil || d != Deny {
		t.Fatalf("unknown action = %v (%v), want deny", d, err)
	}

	// Missing subjects deny instead of dereferencing nil.
	d, err = e.Evaluate(ctx, nil, Actor{UserID: 1}, ActionCreate, Subject{})
	if err != nil || d != Deny {
		t.Fatalf("create without template = %v (%v), want deny", d, err)
	}
	d, err = e.Evaluate(ctx, nil, Actor{UserID: 1}, ActionChangeState, Subject{})
	if err != nil || d != Deny {
		t.Fatalf("change state without target = %v (%v), want deny", d, err)
	}
}

func TestSystemRoles(t *testing.T) {
	e := Evaluator{}
	bob := int64(2)
	issue := domain.Issue{AuthorID: 1, ResponsibleID: &bob}

	if got := e.SystemRoles(Actor{}, issue); got != nil {
		t.Fatalf("anonymous roles = %v, want none", got)
	}
	roles := e.SystemRoles(Actor{UserID: 1}, issue)
	if !hasRole(roles, domain.RoleAuthor) || !hasRole(roles, domain.RoleAnyone) || hasRole(roles, domain.RoleResponsible) {
		t.Fatalf("author roles = %v", roles)
	}
	roles = e.SystemRoles(Actor{UserID: 2}, issue)
	if !hasRole(roles, domain.RoleResponsible) || hasRole(roles, domain.RoleAuthor) {
		t.Fatalf("responsible roles = %v", roles)
	}
	roles = e.SystemRoles(Actor{UserID: 3}, issue)
	if len(roles) != 1 || roles[0] != domain.RoleAnyone {
		t.Fatalf("bystander roles = %v", roles)
	}
}

func TestDeniedErrorMessage(t *testing.T) {
	err := DeniedError{Action: ActionEdit}
	if err.Error() != "issue.edit denied" {
		t.Fatalf("message = %q", err.Error())
	}
	if Grant.String() != "granted" || Deny.String() != "denied" {
		t.Fatalf("decision strings = %q/%q", Grant.String(), Deny.String())
	}
}
