package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"trackline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a lost race on a unique constraint. Recoverable
	// by retry at the caller's discretion; the engine never auto-retries.
	ErrConflict = errors.New("conflict")
)

// mapConflict converts SQLite unique/check violations into ErrConflict so
// callers can branch without parsing driver messages.
func mapConflict(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed") {
		return errors.Join(ErrConflict, err)
	}
	return err
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullSmall(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullRole(r domain.SystemRole) any {
	if r == "" {
		return nil
	}
	return string(r)
}

func intPtr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func smallPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

// --- projects ---

func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p domain.Project) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO projects(name,description,suspended,created_at) VALUES (?,?,?,?)`,
		p.Name, nullString(p.Description), p.Suspended, p.CreatedAt)
	if err != nil {
		return 0, mapConflict(err)
	}
	return res.LastInsertId()
}

func scanProject(row *sql.Row) (domain.Project, error) {
	var p domain.Project
	var desc sql.NullString
	err := row.Scan(&p.ID, &p.Name, &desc, &p.Suspended, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	p.Description = desc.String
	return p, err
}

func (r Repo) GetProject(ctx context.Context, id int64) (domain.Project, error) {
	return scanProject(r.DB.QueryRowContext(ctx, `SELECT id,name,description,suspended,created_at FROM projects WHERE id=?`, id))
}

func (r Repo) GetProjectTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Project, error) {
	return scanProject(tx.QueryRowContext(ctx, `SELECT id,name,description,suspended,created_at FROM projects WHERE id=?`, id))
}

func (r Repo) GetProjectByName(ctx context.Context, name string) (domain.Project, error) {
	return scanProject(r.DB.QueryRowContext(ctx, `SELECT id,name,description,suspended,created_at FROM projects WHERE name=?`, name))
}

func (r Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,description,suspended,created_at FROM projects ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Project
	for rows.Next() {
		var p domain.Project
		var desc sql.NullString
		if err := rows.Scan(&p.ID, &p.Name, &desc, &p.Suspended, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Description = desc.String
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r Repo) SetProjectSuspended(ctx context.Context, tx *sql.Tx, id int64, suspended bool) error {
	_, err := tx.ExecContext(ctx, `UPDATE projects SET suspended=? WHERE id=?`, suspended, id)
	return err
}

// --- users ---

func (r Repo) InsertUser(ctx context.Context, tx *sql.Tx, u domain.User) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO users(account,full_name,email,admin,disabled) VALUES (?,?,?,?,?)`,
		u.Account, u.FullName, nullString(u.Email), u.Admin, u.Disabled)
	if err != nil {
		return 0, mapConflict(err)
	}
	return res.LastInsertId()
}

func scanUser(row *sql.Row) (domain.User, error) {
	var u domain.User
	var email sql.NullString
	err := row.Scan(&u.ID, &u.Account, &u.FullName, &email, &u.Admin, &u.Disabled)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	u.Email = email.String
	return u, err
}

func (r Repo) GetUser(ctx context.Context, id int64) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT id,account,full_name,email,admin,disabled FROM users WHERE id=?`, id))
}

func (r Repo) GetUserTx(ctx context.Context, tx *sql.Tx, id int64) (domain.User, error) {
	return scanUser(tx.QueryRowContext(ctx, `SELECT id,account,full_name,email,admin,disabled FROM users WHERE id=?`, id))
}

func (r Repo) GetUserByAccount(ctx context.Context, account string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT id,account,full_name,email,admin,disabled FROM users WHERE account=?`, account))
}

func (r Repo) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,account,full_name,email,admin,disabled FROM users ORDER BY account`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.User
	for rows.Next() {
		var u domain.User
		var email sql.NullString
		if err := rows.Scan(&u.ID, &u.Account, &u.FullName, &email, &u.Admin, &u.Disabled); err != nil {
			return nil, err
		}
		u.Email = email.String
		out = append(out, u)
	}
	return out, rows.Err()
}

// --- groups ---

func (r Repo) InsertGroup(ctx context.Context, tx *sql.Tx, g domain.Group) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO user_groups(project_id,name,description) VALUES (?,?,?)`,
		nullInt(g.ProjectID), g.Name, nullString(g.Description))
	if err != nil {
		return 0, mapConflict(err)
	}
	return res.LastInsertId()
}

func scanGroup(row *sql.Row) (domain.Group, error) {
	var g domain.Group
	var project sql.NullInt64
	var desc sql.NullString
	err := row.Scan(&g.ID, &project, &g.Name, &desc)
	if err == sql.ErrNoRows {
		return g, ErrNotFound
	}
	g.ProjectID = intPtr(project)
	g.Description = desc.String
	return g, err
}

func (r Repo) GetGroup(ctx context.Context, id int64) (domain.Group, error) {
	return scanGroup(r.DB.QueryRowContext(ctx, `SELECT id,project_id,name,description FROM user_groups WHERE id=?`, id))
}

func (r Repo) GetGroupTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Group, error) {
	return scanGroup(tx.QueryRowContext(ctx, `SELECT id,project_id,name,description FROM user_groups WHERE id=?`, id))
}

const listGroupsSQL = `SELECT id,project_id,name,description FROM user_groups WHERE project_id=? OR project_id IS NULL ORDER BY name`

func (r Repo) ListGroups(ctx context.Context, projectID int64) ([]domain.Group, error) {
	return collectGroups(r.DB.QueryContext(ctx, listGroupsSQL, projectID))
}

func (r Repo) ListGroupsTx(ctx context.Context, tx *sql.Tx, projectID int64) ([]domain.Group, error) {
	return collectGroups(tx.QueryContext(ctx, listGroupsSQL, projectID))
}

func collectGroups(rows *sql.Rows, err error) ([]domain.Group, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Group
	for rows.Next() {
		var g domain.Group
		var project sql.NullInt64
		var desc sql.NullString
		if err := rows.Scan(&g.ID, &project, &g.Name, &desc); err != nil {
			return nil, err
		}
		g.ProjectID = intPtr(project)
		g.Description = desc.String
		out = append(out, g)
	}
	return out, rows.Err()
}

func (r Repo) AddGroupMember(ctx context.Context, tx *sql.Tx, groupID, userID int64) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO group_members(group_id,user_id) VALUES (?,?)`, groupID, userID)
	return err
}

func (r Repo) RemoveGroupMember(ctx context.Context, tx *sql.Tx, groupID, userID int64) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM group_members WHERE group_id=? AND user_id=?`, groupID, userID)
	return err
}

func (r Repo) IsGroupMember(ctx context.Context, tx *sql.Tx, groupID, userID int64) (bool, error) {
	row := tx.QueryRowContext(ctx, `SELECT 1 FROM group_members WHERE group_id=? AND user_id=? LIMIT 1`, groupID, userID)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// UserGroups returns the ids of every group the user belongs to that is
// global or local to the project: the group half of the user's applicable
// principals.
func (r Repo) UserGroups(ctx context.Context, tx *sql.Tx, userID, projectID int64) ([]int64, error) {
	rows, err := tx.QueryContext(ctx, `
SELECT g.id FROM user_groups g
JOIN group_members m ON m.group_id=g.id
WHERE m.user_id=? AND (g.project_id IS NULL OR g.project_id=?)`,
		userID, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
