package repo

import (
	"context"
	"database/sql"

	"trackline/internal/domain"
)

// Value interning. Decimal, string and text values are stored once and
// referenced by id from field_values and changes, so history stays compact
// and identical values compare by id.

func (r Repo) intern(ctx context.Context, tx *sql.Tx, table, value string) (int64, error) {
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO `+table+`(value) VALUES (?)`, value); err != nil {
		return 0, err
	}
	var id int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM `+table+` WHERE value=?`, value).Scan(&id)
	return id, err
}

func (r Repo) lookup(ctx context.Context, tx *sql.Tx, table string, id int64) (string, error) {
	var v string
	err := tx.QueryRowContext(ctx, `SELECT value FROM `+table+` WHERE id=?`, id).Scan(&v)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return v, err
}

func (r Repo) InternString(ctx context.Context, tx *sql.Tx, value string) (int64, error) {
	return r.intern(ctx, tx, "string_values", value)
}

func (r Repo) LookupString(ctx context.Context, tx *sql.Tx, id int64) (string, error) {
	return r.lookup(ctx, tx, "string_values", id)
}

func (r Repo) InternText(ctx context.Context, tx *sql.Tx, value string) (int64, error) {
	return r.intern(ctx, tx, "text_values", value)
}

func (r Repo) LookupText(ctx context.Context, tx *sql.Tx, id int64) (string, error) {
	return r.lookup(ctx, tx, "text_values", id)
}

func (r Repo) InternDecimal(ctx context.Context, tx *sql.Tx, value string) (int64, error) {
	return r.intern(ctx, tx, "decimal_values", value)
}

func (r Repo) LookupDecimal(ctx context.Context, tx *sql.Tx, id int64) (string, error) {
	return r.lookup(ctx, tx, "decimal_values", id)
}

func (r Repo) ListItemByValue(ctx context.Context, tx *sql.Tx, fieldID int64, value int) (domain.ListItem, error) {
	var it domain.ListItem
	row := tx.QueryRowContext(ctx, `SELECT id,field_id,value,text FROM list_items WHERE field_id=? AND value=?`, fieldID, value)
	err := row.Scan(&it.ID, &it.FieldID, &it.Value, &it.Text)
	if err == sql.ErrNoRows {
		return it, ErrNotFound
	}
	return it, err
}

func (r Repo) ListItemByID(ctx context.Context, tx *sql.Tx, id int64) (domain.ListItem, error) {
	var it domain.ListItem
	row := tx.QueryRowContext(ctx, `SELECT id,field_id,value,text FROM list_items WHERE id=?`, id)
	err := row.Scan(&it.ID, &it.FieldID, &it.Value, &it.Text)
	if err == sql.ErrNoRows {
		return it, ErrNotFound
	}
	return it, err
}

// IssueTemplate returns the template the issue belongs to, for template
// containment checks on issue-reference fields.
func (r Repo) IssueTemplate(ctx context.Context, tx *sql.Tx, issueID int64) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `SELECT template_id FROM issues WHERE id=?`, issueID).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	return id, err
}

// --- audit trail reads (writes live in internal/events) ---

func (r Repo) ListEvents(ctx context.Context, issueID int64) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,type,issue_id,user_id,created_at,parameter FROM events WHERE issue_id=? ORDER BY created_at,id`, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Event
	for rows.Next() {
		var e domain.Event
		var typ string
		var param sql.NullInt64
		if err := rows.Scan(&e.ID, &typ, &e.IssueID, &e.UserID, &e.CreatedAt, &param); err != nil {
			return nil, err
		}
		e.Type = domain.EventType(typ)
		e.Parameter = intPtr(param)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r Repo) ListChanges(ctx context.Context, tx *sql.Tx, eventID int64) ([]domain.Change, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id,event_id,field_id,old_value,new_value FROM changes WHERE event_id=? ORDER BY id`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Change
	for rows.Next() {
		var c domain.Change
		var field, oldV, newV sql.NullInt64
		if err := rows.Scan(&c.ID, &c.EventID, &field, &oldV, &newV); err != nil {
			return nil, err
		}
		c.FieldID = intPtr(field)
		c.OldValue = intPtr(oldV)
		c.NewValue = intPtr(newV)
		out = append(out, c)
	}
	return out, rows.Err()
}

// EventsAfter returns up to limit events of the project with an id greater
// than afterID, in insertion order. The webhook dispatcher walks the trail
// with this.
func (r Repo) EventsAfter(ctx context.Context, limit int, afterID, projectID int64) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, `
SELECT e.id,e.type,e.issue_id,e.user_id,e.created_at,e.parameter
FROM events e JOIN issues i ON i.id=e.issue_id
WHERE e.id>? AND i.project_id=? ORDER BY e.id LIMIT ?`, afterID, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Event
	for rows.Next() {
		var e domain.Event
		var typ string
		var param sql.NullInt64
		if err := rows.Scan(&e.ID, &typ, &e.IssueID, &e.UserID, &e.CreatedAt, &param); err != nil {
			return nil, err
		}
		e.Type = domain.EventType(typ)
		e.Parameter = intPtr(param)
		out = append(out, e)
	}
	return out, rows.Err()
}

// LatestEventID returns the highest event id of the project, 0 when the
// trail is empty.
func (r Repo) LatestEventID(ctx context.Context, projectID int64) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `
SELECT COALESCE(MAX(e.id),0) FROM events e JOIN issues i ON i.id=e.issue_id WHERE i.project_id=?`, projectID)
	var id int64
	err := row.Scan(&id)
	return id, err
}

// LatestEvents returns the newest n events of the project, newest first.
func (r Repo) LatestEvents(ctx context.Context, n int, projectID int64, typ string) ([]domain.Event, error) {
	q := `
SELECT e.id,e.type,e.issue_id,e.user_id,e.created_at,e.parameter
FROM events e JOIN issues i ON i.id=e.issue_id
WHERE i.project_id=?`
	args := []any{projectID}
	if typ != "" {
		q += ` AND e.type=?`
		args = append(args, typ)
	}
	q += ` ORDER BY e.id DESC LIMIT ?`
	args = append(args, n)
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Event
	for rows.Next() {
		var e domain.Event
		var t string
		var param sql.NullInt64
		if err := rows.Scan(&e.ID, &t, &e.IssueID, &e.UserID, &e.CreatedAt, &param); err != nil {
			return nil, err
		}
		e.Type = domain.EventType(t)
		e.Parameter = intPtr(param)
		out = append(out, e)
	}
	return out, rows.Err()
}
