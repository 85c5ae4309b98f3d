package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"trackline/internal/config"
	"trackline/internal/domain"
	"trackline/internal/repo"
)

func (e Engine) CreateProject(ctx context.Context, name, description string) (domain.Project, error) {
	if name == "" {
		return domain.Project{}, errors.New("project name is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	p := domain.Project{Name: name, Description: description, CreatedAt: e.now().Unix()}
	p.ID, err = e.Repo.InsertProject(ctx, tx, p)
	if err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// SuspendProject toggles project-wide suspension. Suspended projects keep
// their issues readable but reject every mutation.
func (e Engine) SuspendProject(ctx context.Context, projectID int64, suspended bool) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := e.Repo.GetProjectTx(ctx, tx, projectID); err != nil {
		return err
	}
	if err := e.Repo.SetProjectSuspended(ctx, tx, projectID, suspended); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) CreateUser(ctx context.Context, u domain.User) (domain.User, error) {
	if u.Account == "" {
		return domain.User{}, errors.New("account is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()
	u.ID, err = e.Repo.InsertUser(ctx, tx, u)
	if err != nil {
		return domain.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

// CreateGroup creates a project-local group, or a global one when
// projectID is nil.
func (e Engine) CreateGroup(ctx context.Context, projectID *int64, name, description string) (domain.Group, error) {
	if name == "" {
		return domain.Group{}, errors.New("group name is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Group{}, err
	}
	defer tx.Rollback()
	if projectID != nil {
		if _, err := e.Repo.GetProjectTx(ctx, tx, *projectID); err != nil {
			return domain.Group{}, err
		}
	}
	g := domain.Group{ProjectID: projectID, Name: name, Description: description}
	g.ID, err = e.Repo.InsertGroup(ctx, tx, g)
	if err != nil {
		return domain.Group{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Group{}, err
	}
	return g, nil
}

func (e Engine) AddGroupMember(ctx context.Context, groupID, userID int64) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := e.Repo.GetGroupTx(ctx, tx, groupID); err != nil {
		return err
	}
	if _, err := e.Repo.GetUserTx(ctx, tx, userID); err != nil {
		return err
	}
	if err := e.Repo.AddGroupMember(ctx, tx, groupID, userID); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) RemoveGroupMember(ctx context.Context, groupID, userID int64) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	ok, err := e.Repo.IsGroupMember(ctx, tx, groupID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return repo.ErrNotFound
	}
	if err := e.Repo.RemoveGroupMember(ctx, tx, groupID, userID); err != nil {
		return err
	}
	return tx.Commit()
}

// TemplateCreateOptions declares a workflow template. Nil CriticalAge and
// FrozenTime fall back to the project defaults from the config.
type TemplateCreateOptions struct {
	ProjectID   int64
	Name        string
	Prefix      string
	Description string
	CriticalAge *int
	FrozenTime  *int
	GuestAccess bool
}

func (e Engine) CreateTemplate(ctx context.Context, opts TemplateCreateOptions) (domain.Template, error) {
	if opts.Name == "" || opts.Prefix == "" {
		return domain.Template{}, errors.New("template name and prefix are required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Template{}, err
	}
	defer tx.Rollback()
	t, err := e.createTemplate(ctx, tx, opts)
	if err != nil {
		return domain.Template{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Template{}, err
	}
	return t, nil
}

func (e Engine) createTemplate(ctx context.Context, tx *sql.Tx, opts TemplateCreateOptions) (domain.Template, error) {
	if _, err := e.Repo.GetProjectTx(ctx, tx, opts.ProjectID); err != nil {
		return domain.Template{}, err
	}
	t := domain.Template{
		ProjectID:   opts.ProjectID,
		Name:        opts.Name,
		Prefix:      opts.Prefix,
		Description: opts.Description,
		CriticalAge: opts.CriticalAge,
		FrozenTime:  opts.FrozenTime,
		GuestAccess: opts.GuestAccess,
	}
	if e.Config != nil {
		if t.CriticalAge == nil {
			t.CriticalAge = e.Config.Defaults.CriticalAge
		}
		if t.FrozenTime == nil {
			t.FrozenTime = e.Config.Defaults.FrozenTime
		}
	}
	var err error
	t.ID, err = e.Repo.InsertTemplate(ctx, tx, t)
	return t, err
}

// LockTemplate freezes a template's definition against further graph edits.
func (e Engine) LockTemplate(ctx context.Context, templateID int64, locked bool) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := e.Repo.GetTemplateTx(ctx, tx, templateID); err != nil {
		return err
	}
	if err := e.Repo.SetTemplateLocked(ctx, tx, templateID, locked); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) checkTemplateUnlocked(ctx context.Context, tx *sql.Tx, templateID int64) (domain.Template, error) {
	t, err := e.Repo.GetTemplateTx(ctx, tx, templateID)
	if err != nil {
		return t, err
	}
	if t.Locked {
		return t, fmt.Errorf("template %s is locked", t.Name)
	}
	return t, nil
}

// StateCreateOptions declares one workflow state. Kind and Responsible are
// the textual discriminators ("initial", "intermediate", "final";
// "keep", "assign", "remove").
type StateCreateOptions struct {
	TemplateID  int64
	Name        string
	Kind        string
	Responsible string
}

// CreateState adds a state to the template. The one-initial-state rule is
// enforced by a partial unique index; violating it surfaces as a conflict.
func (e Engine) CreateState(ctx context.Context, opts StateCreateOptions) (domain.State, error) {
	if opts.Name == "" {
		return domain.State{}, errors.New("state name is required")
	}
	kind, err := domain.ParseStateType(opts.Kind)
	if err != nil {
		return domain.State{}, err
	}
	responsible := domain.ResponsibleKeep
	if opts.Responsible != "" {
		responsible, err = domain.ParseStateResponsible(opts.Responsible)
		if err != nil {
			return domain.State{}, err
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.State{}, err
	}
	defer tx.Rollback()
	if _, err := e.checkTemplateUnlocked(ctx, tx, opts.TemplateID); err != nil {
		return domain.State{}, err
	}
	s := domain.State{TemplateID: opts.TemplateID, Name: opts.Name, Type: kind, Responsible: responsible}
	s.ID, err = e.Repo.InsertState(ctx, tx, s)
	if err != nil {
		return domain.State{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.State{}, err
	}
	return s, nil
}

// SetNextState sets the default continuation of a state. The target must
// live in the same template; final states never carry a continuation.
func (e Engine) SetNextState(ctx context.Context, stateID int64, next *int64) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	s, err := e.Repo.GetStateTx(ctx, tx, stateID)
	if err != nil {
		return err
	}
	if _, err := e.checkTemplateUnlocked(ctx, tx, s.TemplateID); err != nil {
		return err
	}
	if next != nil {
		target, err := e.Repo.GetStateTx(ctx, tx, *next)
		if err != nil {
			return err
		}
		if target.TemplateID != s.TemplateID {
			return fmt.Errorf("state %s: %w", target.Name, domain.ErrInvalidTransitionTarget)
		}
	}
	if err := e.Repo.SetNextState(ctx, tx, stateID, next); err != nil {
		return err
	}
	return tx.Commit()
}

// AddTransition grants an edge of the workflow graph to a role or group
// principal. Both endpoints must belong to the same template.
func (e Engine) AddTransition(ctx context.Context, fromStateID, toStateID int64, role string, groupID *int64) (domain.StateTransition, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.StateTransition{}, err
	}
	defer tx.Rollback()

	from, err := e.Repo.GetStateTx(ctx, tx, fromStateID)
	if err != nil {
		return domain.StateTransition{}, err
	}
	to, err := e.Repo.GetStateTx(ctx, tx, toStateID)
	if err != nil {
		return domain.StateTransition{}, err
	}
	if from.TemplateID != to.TemplateID {
		return domain.StateTransition{}, fmt.Errorf("%s -> %s: %w", from.Name, to.Name, domain.ErrCrossTemplateReference)
	}
	t, err := e.checkTemplateUnlocked(ctx, tx, from.TemplateID)
	if err != nil {
		return domain.StateTransition{}, err
	}
	tr := domain.StateTransition{FromStateID: from.ID, ToStateID: to.ID}
	tr.Role, tr.GroupID, err = e.resolvePrincipal(ctx, tx, t.ProjectID, role, groupID)
	if err != nil {
		return domain.StateTransition{}, err
	}
	tr.ID, err = e.Repo.InsertTransition(ctx, tx, tr)
	if err != nil {
		return domain.StateTransition{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.StateTransition{}, err
	}
	return tr, nil
}

// RemoveTransition revokes a workflow edge, addressed the same way it was
// granted. ErrNotFound when no matching edge exists.
func (e Engine) RemoveTransition(ctx context.Context, fromStateID, toStateID int64, role string, groupID *int64) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	from, err := e.Repo.GetStateTx(ctx, tx, fromStateID)
	if err != nil {
		return err
	}
	t, err := e.checkTemplateUnlocked(ctx, tx, from.TemplateID)
	if err != nil {
		return err
	}
	wantRole, wantGroup, err := e.resolvePrincipal(ctx, tx, t.ProjectID, role, groupID)
	if err != nil {
		return err
	}
	edges, err := e.Repo.ListTransitions(ctx, tx, from.ID)
	if err != nil {
		return err
	}
	for _, tr := range edges {
		if tr.ToStateID != toStateID || tr.Role != wantRole {
			continue
		}
		if (tr.GroupID == nil) != (wantGroup == nil) {
			continue
		}
		if tr.GroupID != nil && *tr.GroupID != *wantGroup {
			continue
		}
		if err := e.Repo.DeleteTransition(ctx, tx, tr.ID); err != nil {
			return err
		}
		return tx.Commit()
	}
	return repo.ErrNotFound
}

// SetStateResponsible changes the state's responsible policy. The stored
// policy of a final state is irrelevant at runtime but kept consistent.
func (e Engine) SetStateResponsible(ctx context.Context, stateID int64, policy string) error {
	p, err := domain.ParseStateResponsible(policy)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	s, err := e.Repo.GetStateTx(ctx, tx, stateID)
	if err != nil {
		return err
	}
	if _, err := e.checkTemplateUnlocked(ctx, tx, s.TemplateID); err != nil {
		return err
	}
	if err := e.Repo.SetStateResponsible(ctx, tx, stateID, p); err != nil {
		return err
	}
	return tx.Commit()
}

// resolvePrincipal validates the role-xor-group principal of a grant. A
// group must be global or local to the template's project.
func (e Engine) resolvePrincipal(ctx context.Context, tx *sql.Tx, projectID int64, role string, groupID *int64) (domain.SystemRole, *int64, error) {
	if (role == "") == (groupID == nil) {
		return "", nil, domain.ErrUnknownPrincipal
	}
	if role != "" {
		r, err := domain.ParseSystemRole(role)
		return r, nil, err
	}
	g, err := e.Repo.GetGroupTx(ctx, tx, *groupID)
	if err == repo.ErrNotFound {
		return "", nil, domain.ErrUnknownGroup
	}
	if err != nil {
		return "", nil, err
	}
	if !g.IsGlobal() && *g.ProjectID != projectID {
		return "", nil, fmt.Errorf("group %s belongs to another project: %w", g.Name, domain.ErrUnknownGroup)
	}
	return "", groupID, nil
}

func (e Engine) AddResponsibleGroup(ctx context.Context, stateID, groupID int64) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	s, err := e.Repo.GetStateTx(ctx, tx, stateID)
	if err != nil {
		return err
	}
	t, err := e.Repo.GetTemplateTx(ctx, tx, s.TemplateID)
	if err != nil {
		return err
	}
	if _, _, err := e.resolvePrincipal(ctx, tx, t.ProjectID, "", &groupID); err != nil {
		return err
	}
	if err := e.Repo.AddResponsibleGroup(ctx, tx, stateID, groupID); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) RemoveResponsibleGroup(ctx context.Context, stateID, groupID int64) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.RemoveResponsibleGroup(ctx, tx, stateID, groupID); err != nil {
		return err
	}
	return tx.Commit()
}

// Grant adds one template permission for a role or group principal.
func (e Engine) Grant(ctx context.Context, templateID int64, role string, groupID *int64, permission string) error {
	perm, err := domain.ParsePermission(permission)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	t, err := e.Repo.GetTemplateTx(ctx, tx, templateID)
	if err != nil {
		return err
	}
	p := domain.TemplatePermission{TemplateID: t.ID, Permission: perm}
	p.Role, p.GroupID, err = e.resolvePrincipal(ctx, tx, t.ProjectID, role, groupID)
	if err != nil {
		return err
	}
	if err := e.Repo.InsertTemplatePermission(ctx, tx, p); err != nil {
		return err
	}
	return tx.Commit()
}

// Revoke removes one template permission.
func (e Engine) Revoke(ctx context.Context, templateID int64, role string, groupID *int64, permission string) error {
	perm, err := domain.ParsePermission(permission)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	t, err := e.Repo.GetTemplateTx(ctx, tx, templateID)
	if err != nil {
		return err
	}
	p := domain.TemplatePermission{TemplateID: t.ID, Permission: perm}
	p.Role, p.GroupID, err = e.resolvePrincipal(ctx, tx, t.ProjectID, role, groupID)
	if err != nil {
		return err
	}
	if err := e.Repo.DeleteTemplatePermission(ctx, tx, p); err != nil {
		return err
	}
	return tx.Commit()
}

// FieldCreateOptions declares a state field. Min/Max map to the type's
// range or length parameters.
type FieldCreateOptions struct {
	StateID  int64
	Name     string
	Kind     string
	Required bool
	Min      *int64
	Max      *int64
	Default  *int64
	Items    []string
}

func (e Engine) CreateField(ctx context.Context, opts FieldCreateOptions) (domain.Field, error) {
	if opts.Name == "" {
		return domain.Field{}, errors.New("field name is required")
	}
	kind, err := domain.ParseFieldType(opts.Kind)
	if err != nil {
		return domain.Field{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Field{}, err
	}
	defer tx.Rollback()
	s, err := e.Repo.GetStateTx(ctx, tx, opts.StateID)
	if err != nil {
		return domain.Field{}, err
	}
	if _, err := e.checkTemplateUnlocked(ctx, tx, s.TemplateID); err != nil {
		return domain.Field{}, err
	}
	position, err := e.Repo.NextFieldPosition(ctx, tx, s.ID)
	if err != nil {
		return domain.Field{}, err
	}
	f := domain.Field{
		StateID:    s.ID,
		Name:       opts.Name,
		Type:       kind,
		Required:   opts.Required,
		Position:   position,
		Param1:     opts.Min,
		Param2:     opts.Max,
		DefaultVal: opts.Default,
	}
	// String and text fields carry only a maximum length.
	if kind == domain.FieldString || kind == domain.FieldText {
		f.Param1, f.Param2 = opts.Max, nil
	}
	f.ID, err = e.Repo.InsertField(ctx, tx, f)
	if err != nil {
		return domain.Field{}, err
	}
	for i, text := range opts.Items {
		item := domain.ListItem{FieldID: f.ID, Value: i + 1, Text: text}
		if _, err := e.Repo.InsertListItem(ctx, tx, item); err != nil {
			return domain.Field{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Field{}, err
	}
	return f, nil
}

// RemoveField soft-deletes a field. Historical values and change records
// survive; the field just stops appearing on its state.
func (e Engine) RemoveField(ctx context.Context, fieldID int64) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	f, err := e.Repo.GetField(ctx, tx, fieldID)
	if err != nil {
		return err
	}
	if f.IsRemoved() {
		return nil
	}
	if err := e.Repo.RemoveField(ctx, tx, f.ID, e.now().Unix()); err != nil {
		return err
	}
	return tx.Commit()
}

// SetFieldAccess grants a ranked access level on a field to a role or
// group principal.
func (e Engine) SetFieldAccess(ctx context.Context, fieldID int64, role string, groupID *int64, access string) error {
	level, err := domain.ParseFieldAccess(access)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	f, err := e.Repo.GetField(ctx, tx, fieldID)
	if err != nil {
		return err
	}
	s, err := e.Repo.GetStateTx(ctx, tx, f.StateID)
	if err != nil {
		return err
	}
	t, err := e.Repo.GetTemplateTx(ctx, tx, s.TemplateID)
	if err != nil {
		return err
	}
	p := domain.FieldPermission{FieldID: f.ID, Access: level}
	p.Role, p.GroupID, err = e.resolvePrincipal(ctx, tx, t.ProjectID, role, groupID)
	if err != nil {
		return err
	}
	if err := e.Repo.UpsertFieldPermission(ctx, tx, p); err != nil {
		return err
	}
	return tx.Commit()
}

// ImportTemplate materializes a config template declaration into the
// database in one transaction: states first, then continuations,
// transitions, fields and grants. Group names resolve against the
// project's local groups and the global ones.
func (e Engine) ImportTemplate(ctx context.Context, projectID int64, tc config.TemplateConfig) (domain.Template, error) {
	if err := tc.Validate(); err != nil {
		return domain.Template{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Template{}, err
	}
	defer tx.Rollback()

	t, err := e.createTemplate(ctx, tx, TemplateCreateOptions{
		ProjectID:   projectID,
		Name:        tc.Name,
		Prefix:      tc.Prefix,
		Description: tc.Description,
		CriticalAge: tc.CriticalAge,
		FrozenTime:  tc.FrozenTime,
	})
	if err != nil {
		return domain.Template{}, err
	}

	groups, err := e.groupsByName(ctx, tx, projectID)
	if err != nil {
		return domain.Template{}, err
	}
	resolve := func(role, group string) (domain.SystemRole, *int64, error) {
		if group == "" {
			r, err := domain.ParseSystemRole(role)
			return r, nil, err
		}
		id, ok := groups[group]
		if !ok {
			return "", nil, fmt.Errorf("group %s: %w", group, domain.ErrUnknownGroup)
		}
		return "", &id, nil
	}

	states := make(map[string]int64, len(tc.States))
	for _, sc := range tc.States {
		kind, err := domain.ParseStateType(sc.Type)
		if err != nil {
			return domain.Template{}, fmt.Errorf("state %s: %w", sc.Name, err)
		}
		responsible := domain.ResponsibleKeep
		if sc.Responsible != "" {
			responsible, err = domain.ParseStateResponsible(sc.Responsible)
			if err != nil {
				return domain.Template{}, fmt.Errorf("state %s: %w", sc.Name, err)
			}
		}
		s := domain.State{TemplateID: t.ID, Name: sc.Name, Type: kind, Responsible: responsible}
		s.ID, err = e.Repo.InsertState(ctx, tx, s)
		if err != nil {
			return domain.Template{}, err
		}
		states[sc.Name] = s.ID
	}

	for _, sc := range tc.States {
		if sc.Next != "" {
			next, ok := states[sc.Next]
			if !ok {
				return domain.Template{}, fmt.Errorf("state %s next %s: %w", sc.Name, sc.Next, domain.ErrInvalidTransitionTarget)
			}
			if err := e.Repo.SetNextState(ctx, tx, states[sc.Name], &next); err != nil {
				return domain.Template{}, err
			}
		}
		for _, trc := range sc.Transitions {
			to, ok := states[trc.To]
			if !ok {
				return domain.Template{}, fmt.Errorf("state %s transition to %s: %w", sc.Name, trc.To, domain.ErrCrossTemplateReference)
			}
			tr := domain.StateTransition{FromStateID: states[sc.Name], ToStateID: to}
			tr.Role, tr.GroupID, err = resolve(trc.Role, trc.Group)
			if err != nil {
				return domain.Template{}, err
			}
			if _, err := e.Repo.InsertTransition(ctx, tx, tr); err != nil {
				return domain.Template{}, err
			}
		}
		for i, fc := range sc.Fields {
			kind, err := domain.ParseFieldType(fc.Type)
			if err != nil {
				return domain.Template{}, fmt.Errorf("field %s: %w", fc.Name, err)
			}
			f := domain.Field{
				StateID:    states[sc.Name],
				Name:       fc.Name,
				Type:       kind,
				Required:   fc.Required,
				Position:   i + 1,
				Param1:     fc.Min,
				Param2:     fc.Max,
				DefaultVal: fc.Default,
			}
			if kind == domain.FieldString || kind == domain.FieldText {
				f.Param1, f.Param2 = fc.Max, nil
			}
			f.ID, err = e.Repo.InsertField(ctx, tx, f)
			if err != nil {
				return domain.Template{}, err
			}
			for j, text := range fc.Items {
				item := domain.ListItem{FieldID: f.ID, Value: j + 1, Text: text}
				if _, err := e.Repo.InsertListItem(ctx, tx, item); err != nil {
					return domain.Template{}, err
				}
			}
		}
	}

	for _, gc := range tc.Grants {
		role, groupID, err := resolve(gc.Role, gc.Group)
		if err != nil {
			return domain.Template{}, err
		}
		for _, name := range gc.Grant {
			perm, err := domain.ParsePermission(name)
			if err != nil {
				return domain.Template{}, err
			}
			p := domain.TemplatePermission{TemplateID: t.ID, Role: role, GroupID: groupID, Permission: perm}
			if err := e.Repo.InsertTemplatePermission(ctx, tx, p); err != nil {
				return domain.Template{}, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.Template{}, err
	}
	return t, nil
}

func (e Engine) groupsByName(ctx context.Context, tx *sql.Tx, projectID int64) (map[string]int64, error) {
	groups, err := e.Repo.ListGroupsTx(ctx, tx, projectID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(groups))
	for _, g := range groups {
		out[g.Name] = g.ID
	}
	return out, nil
}
