package repo

import (
	"context"
	"database/sql"

	"trackline/internal/domain"
)

const issueCols = `id,state_id,template_id,project_id,subject,author_id,responsible_id,origin_id,created_at,changed_at,closed_at,resumes_at`

func (r Repo) InsertIssue(ctx context.Context, tx *sql.Tx, i domain.Issue) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO issues(state_id,template_id,project_id,subject,author_id,responsible_id,origin_id,created_at,changed_at,closed_at,resumes_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		i.StateID, i.TemplateID, i.ProjectID, i.Subject, i.AuthorID,
		nullInt(i.ResponsibleID), nullInt(i.OriginID), i.CreatedAt, i.ChangedAt,
		nullInt(i.ClosedAt), nullInt(i.ResumesAt))
	if err != nil {
		return 0, mapConflict(err)
	}
	return res.LastInsertId()
}

func scanIssueRow(scan func(dest ...any) error) (domain.Issue, error) {
	var i domain.Issue
	var responsible, origin, closed, resumes sql.NullInt64
	err := scan(&i.ID, &i.StateID, &i.TemplateID, &i.ProjectID, &i.Subject,
		&i.AuthorID, &responsible, &origin, &i.CreatedAt, &i.ChangedAt, &closed, &resumes)
	if err != nil {
		return i, err
	}
	i.ResponsibleID = intPtr(responsible)
	i.OriginID = intPtr(origin)
	i.ClosedAt = intPtr(closed)
	i.ResumesAt = intPtr(resumes)
	return i, nil
}

func (r Repo) GetIssue(ctx context.Context, id int64) (domain.Issue, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+issueCols+` FROM issues WHERE id=?`, id)
	i, err := scanIssueRow(row.Scan)
	if err == sql.ErrNoRows {
		return i, ErrNotFound
	}
	return i, err
}

func (r Repo) GetIssueTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Issue, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+issueCols+` FROM issues WHERE id=?`, id)
	i, err := scanIssueRow(row.Scan)
	if err == sql.ErrNoRows {
		return i, ErrNotFound
	}
	return i, err
}

func (r Repo) ListIssues(ctx context.Context, templateID int64) ([]domain.Issue, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+issueCols+` FROM issues WHERE template_id=? ORDER BY id`, templateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Issue
	for rows.Next() {
		i, err := scanIssueRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

func (r Repo) UpdateIssue(ctx context.Context, tx *sql.Tx, i domain.Issue) error {
	_, err := tx.ExecContext(ctx, `UPDATE issues SET state_id=?,subject=?,responsible_id=?,changed_at=?,closed_at=?,resumes_at=? WHERE id=?`,
		i.StateID, i.Subject, nullInt(i.ResponsibleID), i.ChangedAt, nullInt(i.ClosedAt), nullInt(i.ResumesAt), i.ID)
	return err
}

func (r Repo) DeleteIssue(ctx context.Context, tx *sql.Tx, id int64) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM issues WHERE id=?`, id)
	return err
}

// --- field values ---

func (r Repo) UpsertFieldValue(ctx context.Context, tx *sql.Tx, v domain.FieldValue) error {
	_, err := tx.ExecContext(ctx, `
INSERT INTO field_values(issue_id,field_id,value,created_at) VALUES (?,?,?,?)
ON CONFLICT(issue_id,field_id) DO UPDATE SET value=excluded.value, created_at=excluded.created_at`,
		v.IssueID, v.FieldID, nullInt(v.Value), v.CreatedAt)
	return err
}

func (r Repo) GetFieldValue(ctx context.Context, tx *sql.Tx, issueID, fieldID int64) (domain.FieldValue, error) {
	var v domain.FieldValue
	var value sql.NullInt64
	row := tx.QueryRowContext(ctx, `SELECT issue_id,field_id,value,created_at FROM field_values WHERE issue_id=? AND field_id=?`, issueID, fieldID)
	err := row.Scan(&v.IssueID, &v.FieldID, &value, &v.CreatedAt)
	if err == sql.ErrNoRows {
		return v, ErrNotFound
	}
	v.Value = intPtr(value)
	return v, err
}

func (r Repo) ListFieldValues(ctx context.Context, tx *sql.Tx, issueID int64) ([]domain.FieldValue, error) {
	rows, err := tx.QueryContext(ctx, `SELECT issue_id,field_id,value,created_at FROM field_values WHERE issue_id=?`, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.FieldValue
	for rows.Next() {
		var v domain.FieldValue
		var value sql.NullInt64
		if err := rows.Scan(&v.IssueID, &v.FieldID, &value, &v.CreatedAt); err != nil {
			return nil, err
		}
		v.Value = intPtr(value)
		out = append(out, v)
	}
	return out, rows.Err()
}

// --- comments ---

func (r Repo) InsertComment(ctx context.Context, tx *sql.Tx, c domain.Comment) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO comments(event_id,issue_id,body,private) VALUES (?,?,?,?)`,
		c.EventID, c.IssueID, c.Body, c.Private)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListComments returns the issue's comments; private ones only when
// includePrivate is set.
func (r Repo) ListComments(ctx context.Context, tx *sql.Tx, issueID int64, includePrivate bool) ([]domain.Comment, error) {
	q := `SELECT id,event_id,issue_id,body,private FROM comments WHERE issue_id=?`
	if !includePrivate {
		q += ` AND private=0`
	}
	rows, err := tx.QueryContext(ctx, q+` ORDER BY id`, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Comment
	for rows.Next() {
		var c domain.Comment
		if err := rows.Scan(&c.ID, &c.EventID, &c.IssueID, &c.Body, &c.Private); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- attachments ---

func (r Repo) InsertAttachment(ctx context.Context, tx *sql.Tx, a domain.Attachment) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO attachments(event_id,issue_id,name,size,mime,digest,removed) VALUES (?,?,?,?,?,?,0)`,
		a.EventID, a.IssueID, a.Name, a.Size, nullString(a.Mime), nullString(a.Digest))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetAttachment(ctx context.Context, tx *sql.Tx, id int64) (domain.Attachment, error) {
	var a domain.Attachment
	var mime, digest sql.NullString
	row := tx.QueryRowContext(ctx, `SELECT id,event_id,issue_id,name,size,mime,digest,removed FROM attachments WHERE id=?`, id)
	err := row.Scan(&a.ID, &a.EventID, &a.IssueID, &a.Name, &a.Size, &mime, &digest, &a.Removed)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	a.Mime = mime.String
	a.Digest = digest.String
	return a, err
}

func (r Repo) MarkAttachmentRemoved(ctx context.Context, tx *sql.Tx, id int64) error {
	_, err := tx.ExecContext(ctx, `UPDATE attachments SET removed=1 WHERE id=?`, id)
	return err
}

func (r Repo) ListAttachments(ctx context.Context, tx *sql.Tx, issueID int64) ([]domain.Attachment, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id,event_id,issue_id,name,size,mime,digest,removed FROM attachments WHERE issue_id=? AND removed=0 ORDER BY id`, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Attachment
	for rows.Next() {
		var a domain.Attachment
		var mime, digest sql.NullString
		if err := rows.Scan(&a.ID, &a.EventID, &a.IssueID, &a.Name, &a.Size, &mime, &digest, &a.Removed); err != nil {
			return nil, err
		}
		a.Mime = mime.String
		a.Digest = digest.String
		out = append(out, a)
	}
	return out, rows.Err()
}

// --- dependencies ---

func (r Repo) AddDependency(ctx context.Context, tx *sql.Tx, issueID, blockerID int64) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO dependencies(issue_id,blocker_id) VALUES (?,?)`, issueID, blockerID)
	return mapConflict(err)
}

func (r Repo) RemoveDependency(ctx context.Context, tx *sql.Tx, issueID, blockerID int64) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM dependencies WHERE issue_id=? AND blocker_id=?`, issueID, blockerID)
	return err
}

func (r Repo) ListDependencies(ctx context.Context, tx *sql.Tx, issueID int64) ([]int64, error) {
	rows, err := tx.QueryContext(ctx, `SELECT blocker_id FROM dependencies WHERE issue_id=? ORDER BY blocker_id`, issueID)
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

// HasOpenDependencies reports whether any of the issue's blockers is still
// open. Open blockers keep the issue out of final states.
func (r Repo) HasOpenDependencies(ctx context.Context, tx *sql.Tx, issueID int64) (bool, error) {
	row := tx.QueryRowContext(ctx, `
SELECT 1 FROM dependencies d
JOIN issues b ON b.id=d.blocker_id
WHERE d.issue_id=? AND b.closed_at IS NULL LIMIT 1`, issueID)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// --- watchers, last reads ---

func (r Repo) AddWatcher(ctx context.Context, tx *sql.Tx, issueID, userID int64) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO watchers(issue_id,user_id) VALUES (?,?)`, issueID, userID)
	return err
}

func (r Repo) RemoveWatcher(ctx context.Context, tx *sql.Tx, issueID, userID int64) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM watchers WHERE issue_id=? AND user_id=?`, issueID, userID)
	return err
}

func (r Repo) ListWatchers(ctx context.Context, tx *sql.Tx, issueID int64) ([]int64, error) {
	rows, err := tx.QueryContext(ctx, `SELECT user_id FROM watchers WHERE issue_id=? ORDER BY user_id`, issueID)
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

func (r Repo) UpsertLastRead(ctx context.Context, tx *sql.Tx, lr domain.LastRead) error {
	_, err := tx.ExecContext(ctx, `
INSERT INTO last_reads(issue_id,user_id,read_at) VALUES (?,?,?)
ON CONFLICT(issue_id,user_id) DO UPDATE SET read_at=excluded.read_at`,
		lr.IssueID, lr.UserID, lr.ReadAt)
	return err
}

func (r Repo) DeleteLastRead(ctx context.Context, tx *sql.Tx, issueID, userID int64) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM last_reads WHERE issue_id=? AND user_id=?`, issueID, userID)
	return err
}

func (r Repo) GetLastRead(ctx context.Context, tx *sql.Tx, issueID, userID int64) (domain.LastRead, error) {
	var lr domain.LastRead
	row := tx.QueryRowContext(ctx, `SELECT issue_id,user_id,read_at FROM last_reads WHERE issue_id=? AND user_id=?`, issueID, userID)
	err := row.Scan(&lr.IssueID, &lr.UserID, &lr.ReadAt)
	if err == sql.ErrNoRows {
		return lr, ErrNotFound
	}
	return lr, err
}
