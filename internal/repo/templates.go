package repo

import (
	"context"
	"database/sql"

	"trackline/internal/domain"
)

// --- templates ---

func (r Repo) InsertTemplate(ctx context.Context, tx *sql.Tx, t domain.Template) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO templates(project_id,name,prefix,description,critical_age,frozen_time,locked,guest_access)
VALUES (?,?,?,?,?,?,?,?)`,
		t.ProjectID, t.Name, t.Prefix, nullString(t.Description),
		nullSmall(t.CriticalAge), nullSmall(t.FrozenTime), t.Locked, t.GuestAccess)
	if err != nil {
		return 0, mapConflict(err)
	}
	return res.LastInsertId()
}

const templateCols = `id,project_id,name,prefix,description,critical_age,frozen_time,locked,guest_access`

func scanTemplate(row *sql.Row) (domain.Template, error) {
	var t domain.Template
	var desc sql.NullString
	var critical, frozen sql.NullInt64
	err := row.Scan(&t.ID, &t.ProjectID, &t.Name, &t.Prefix, &desc, &critical, &frozen, &t.Locked, &t.GuestAccess)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	t.Description = desc.String
	t.CriticalAge = smallPtr(critical)
	t.FrozenTime = smallPtr(frozen)
	return t, err
}

func (r Repo) GetTemplate(ctx context.Context, id int64) (domain.Template, error) {
	return scanTemplate(r.DB.QueryRowContext(ctx, `SELECT `+templateCols+` FROM templates WHERE id=?`, id))
}

func (r Repo) GetTemplateTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Template, error) {
	return scanTemplate(tx.QueryRowContext(ctx, `SELECT `+templateCols+` FROM templates WHERE id=?`, id))
}

func (r Repo) ListTemplates(ctx context.Context, projectID int64) ([]domain.Template, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+templateCols+` FROM templates WHERE project_id=? ORDER BY name`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Template
	for rows.Next() {
		var t domain.Template
		var desc sql.NullString
		var critical, frozen sql.NullInt64
		if err := rows.Scan(&t.ID, &t.ProjectID, &t.Name, &t.Prefix, &desc, &critical, &frozen, &t.Locked, &t.GuestAccess); err != nil {
			return nil, err
		}
		t.Description = desc.String
		t.CriticalAge = smallPtr(critical)
		t.FrozenTime = smallPtr(frozen)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r Repo) SetTemplateLocked(ctx context.Context, tx *sql.Tx, id int64, locked bool) error {
	_, err := tx.ExecContext(ctx, `UPDATE templates SET locked=? WHERE id=?`, locked, id)
	return err
}

// --- states ---

func (r Repo) InsertState(ctx context.Context, tx *sql.Tx, s domain.State) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO states(template_id,name,type,responsible,next_state_id) VALUES (?,?,?,?,?)`,
		s.TemplateID, s.Name, string(s.Type), string(s.Responsible), nullInt(s.NextStateID))
	if err != nil {
		return 0, mapConflict(err)
	}
	return res.LastInsertId()
}

func scanState(row *sql.Row) (domain.State, error) {
	var s domain.State
	var next sql.NullInt64
	var typ, resp string
	err := row.Scan(&s.ID, &s.TemplateID, &s.Name, &typ, &resp, &next)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	s.Type = domain.StateType(typ)
	s.Responsible = domain.StateResponsible(resp)
	s.NextStateID = intPtr(next)
	return s, err
}

func (r Repo) GetState(ctx context.Context, id int64) (domain.State, error) {
	return scanState(r.DB.QueryRowContext(ctx, `SELECT id,template_id,name,type,responsible,next_state_id FROM states WHERE id=?`, id))
}

func (r Repo) GetStateTx(ctx context.Context, tx *sql.Tx, id int64) (domain.State, error) {
	return scanState(tx.QueryRowContext(ctx, `SELECT id,template_id,name,type,responsible,next_state_id FROM states WHERE id=?`, id))
}

const listStatesSQL = `SELECT id,template_id,name,type,responsible,next_state_id FROM states WHERE template_id=? ORDER BY id`

func (r Repo) ListStates(ctx context.Context, templateID int64) ([]domain.State, error) {
	return collectStates(r.DB.QueryContext(ctx, listStatesSQL, templateID))
}

func (r Repo) ListStatesTx(ctx context.Context, tx *sql.Tx, templateID int64) ([]domain.State, error) {
	return collectStates(tx.QueryContext(ctx, listStatesSQL, templateID))
}

func collectStates(rows *sql.Rows, err error) ([]domain.State, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.State
	for rows.Next() {
		var s domain.State
		var next sql.NullInt64
		var typ, resp string
		if err := rows.Scan(&s.ID, &s.TemplateID, &s.Name, &typ, &resp, &next); err != nil {
			return nil, err
		}
		s.Type = domain.StateType(typ)
		s.Responsible = domain.StateResponsible(resp)
		s.NextStateID = intPtr(next)
		out = append(out, s)
	}
	return out, rows.Err()
}

// InitialState returns the template's single initial state, ErrNotFound if
// none was created yet.
func (r Repo) InitialState(ctx context.Context, tx *sql.Tx, templateID int64) (domain.State, error) {
	return scanState(tx.QueryRowContext(ctx,
		`SELECT id,template_id,name,type,responsible,next_state_id FROM states WHERE template_id=? AND type='initial'`, templateID))
}

func (r Repo) SetNextState(ctx context.Context, tx *sql.Tx, stateID int64, next *int64) error {
	_, err := tx.ExecContext(ctx, `UPDATE states SET next_state_id=? WHERE id=?`, nullInt(next), stateID)
	return err
}

func (r Repo) SetStateResponsible(ctx context.Context, tx *sql.Tx, stateID int64, policy domain.StateResponsible) error {
	_, err := tx.ExecContext(ctx, `UPDATE states SET responsible=? WHERE id=?`, string(policy), stateID)
	return err
}

// --- transitions ---

func (r Repo) InsertTransition(ctx context.Context, tx *sql.Tx, t domain.StateTransition) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO state_transitions(from_state_id,to_state_id,role,group_id) VALUES (?,?,?,?)`,
		t.FromStateID, t.ToStateID, nullRole(t.Role), nullInt(t.GroupID))
	if err != nil {
		return 0, mapConflict(err)
	}
	return res.LastInsertId()
}

func (r Repo) DeleteTransition(ctx context.Context, tx *sql.Tx, id int64) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM state_transitions WHERE id=?`, id)
	return err
}

func (r Repo) ListTransitions(ctx context.Context, tx *sql.Tx, fromStateID int64) ([]domain.StateTransition, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id,from_state_id,to_state_id,role,group_id FROM state_transitions WHERE from_state_id=?`, fromStateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.StateTransition
	for rows.Next() {
		var t domain.StateTransition
		var role sql.NullString
		var group sql.NullInt64
		if err := rows.Scan(&t.ID, &t.FromStateID, &t.ToStateID, &role, &group); err != nil {
			return nil, err
		}
		t.Role = domain.SystemRole(role.String)
		t.GroupID = intPtr(group)
		out = append(out, t)
	}
	return out, rows.Err()
}

// --- responsible groups ---

func (r Repo) AddResponsibleGroup(ctx context.Context, tx *sql.Tx, stateID, groupID int64) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO responsible_groups(state_id,group_id) VALUES (?,?)`, stateID, groupID)
	return err
}

func (r Repo) RemoveResponsibleGroup(ctx context.Context, tx *sql.Tx, stateID, groupID int64) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM responsible_groups WHERE state_id=? AND group_id=?`, stateID, groupID)
	return err
}

// IsEligibleResponsible reports whether the user belongs to any of the
// state's responsible groups.
func (r Repo) IsEligibleResponsible(ctx context.Context, tx *sql.Tx, stateID, userID int64) (bool, error) {
	row := tx.QueryRowContext(ctx, `
SELECT 1 FROM responsible_groups rg
JOIN group_members m ON m.group_id=rg.group_id
WHERE rg.state_id=? AND m.user_id=? LIMIT 1`, stateID, userID)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// HasResponsibleGroups reports whether any group is bound to the state.
func (r Repo) HasResponsibleGroups(ctx context.Context, tx *sql.Tx, stateID int64) (bool, error) {
	row := tx.QueryRowContext(ctx, `SELECT 1 FROM responsible_groups WHERE state_id=? LIMIT 1`, stateID)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// --- template permissions ---

func (r Repo) InsertTemplatePermission(ctx context.Context, tx *sql.Tx, p domain.TemplatePermission) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO template_permissions(template_id,role,group_id,permission) VALUES (?,?,?,?)`,
		p.TemplateID, nullRole(p.Role), nullInt(p.GroupID), string(p.Permission))
	return mapConflict(err)
}

func (r Repo) DeleteTemplatePermission(ctx context.Context, tx *sql.Tx, p domain.TemplatePermission) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM template_permissions WHERE template_id=? AND role IS ? AND group_id IS ? AND permission=?`,
		p.TemplateID, nullRole(p.Role), nullInt(p.GroupID), string(p.Permission))
	return err
}

// --- fields ---

func (r Repo) InsertField(ctx context.Context, tx *sql.Tx, f domain.Field) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO fields(state_id,name,type,required,position,param1,param2,default_value)
VALUES (?,?,?,?,?,?,?,?)`,
		f.StateID, f.Name, string(f.Type), f.Required, f.Position, nullInt(f.Param1), nullInt(f.Param2), nullInt(f.DefaultVal))
	if err != nil {
		return 0, mapConflict(err)
	}
	return res.LastInsertId()
}

const fieldCols = `id,state_id,name,type,required,position,removed_at,param1,param2,default_value`

func scanFieldRow(scan func(dest ...any) error) (domain.Field, error) {
	var f domain.Field
	var typ string
	var removed, p1, p2, def sql.NullInt64
	err := scan(&f.ID, &f.StateID, &f.Name, &typ, &f.Required, &f.Position, &removed, &p1, &p2, &def)
	if err != nil {
		return f, err
	}
	f.Type = domain.FieldType(typ)
	f.RemovedAt = intPtr(removed)
	f.Param1 = intPtr(p1)
	f.Param2 = intPtr(p2)
	f.DefaultVal = intPtr(def)
	return f, nil
}

func (r Repo) GetField(ctx context.Context, tx *sql.Tx, id int64) (domain.Field, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+fieldCols+` FROM fields WHERE id=?`, id)
	f, err := scanFieldRow(row.Scan)
	if err == sql.ErrNoRows {
		return f, ErrNotFound
	}
	return f, err
}

// ActiveFields returns the state's fields that are not soft-deleted, in
// position order. The removed filter lives here, at the data boundary.
func (r Repo) ActiveFields(ctx context.Context, tx *sql.Tx, stateID int64) ([]domain.Field, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+fieldCols+` FROM fields WHERE state_id=? AND removed_at IS NULL ORDER BY position`, stateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Field
	for rows.Next() {
		f, err := scanFieldRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r Repo) NextFieldPosition(ctx context.Context, tx *sql.Tx, stateID int64) (int, error) {
	row := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(position),0)+1 FROM fields WHERE state_id=? AND removed_at IS NULL`, stateID)
	var pos int
	err := row.Scan(&pos)
	return pos, err
}

// RemoveField soft-deletes: the row stays for historical values but leaves
// every active set.
func (r Repo) RemoveField(ctx context.Context, tx *sql.Tx, id, removedAt int64) error {
	_, err := tx.ExecContext(ctx, `UPDATE fields SET removed_at=? WHERE id=? AND removed_at IS NULL`, removedAt, id)
	return err
}

// --- field permissions ---

func (r Repo) UpsertFieldPermission(ctx context.Context, tx *sql.Tx, p domain.FieldPermission) error {
	_, err := tx.ExecContext(ctx, `
INSERT INTO field_permissions(field_id,role,group_id,access) VALUES (?,?,?,?)
ON CONFLICT(field_id,role,group_id) DO UPDATE SET access=excluded.access`,
		p.FieldID, nullRole(p.Role), nullInt(p.GroupID), string(p.Access))
	return mapConflict(err)
}

func (r Repo) ListFieldPermissions(ctx context.Context, tx *sql.Tx, fieldID int64) ([]domain.FieldPermission, error) {
	rows, err := tx.QueryContext(ctx, `SELECT field_id,role,group_id,access FROM field_permissions WHERE field_id=?`, fieldID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.FieldPermission
	for rows.Next() {
		var p domain.FieldPermission
		var role sql.NullString
		var group sql.NullInt64
		var access string
		if err := rows.Scan(&p.FieldID, &role, &group, &access); err != nil {
			return nil, err
		}
		p.Role = domain.SystemRole(role.String)
		p.GroupID = intPtr(group)
		p.Access = domain.FieldAccess(access)
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- list items ---

func (r Repo) InsertListItem(ctx context.Context, tx *sql.Tx, it domain.ListItem) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO list_items(field_id,value,text) VALUES (?,?,?)`, it.FieldID, it.Value, it.Text)
	if err != nil {
		return 0, mapConflict(err)
	}
	return res.LastInsertId()
}

func (r Repo) ListItems(ctx context.Context, tx *sql.Tx, fieldID int64) ([]domain.ListItem, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id,field_id,value,text FROM list_items WHERE field_id=? ORDER BY value`, fieldID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.ListItem
	for rows.Next() {
		var it domain.ListItem
		if err := rows.Scan(&it.ID, &it.FieldID, &it.Value, &it.Text); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}
