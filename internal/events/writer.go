// Package events writes the append-only audit trail: one Event per
// state-affecting action, with Change rows for field-level diffs.
package events

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"trackline/internal/domain"
)

// Writer appends audit records inside the caller's transaction.
type Writer struct {
	Now func() time.Time
}

func (w Writer) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

// maxPerturb bounds how far Append will nudge a colliding timestamp.
const maxPerturb = 64

// Append records an event and touches the issue's changed_at. The
// (type, issue, user, created_at) tuple is unique; on collision the
// timestamp moves forward one second at a time until a free slot is found.
// Events are never silently dropped.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, typ domain.EventType, issueID, userID int64, parameter *int64) (domain.Event, error) {
	ts := w.now().Unix()
	for i := 0; i < maxPerturb; i++ {
		var n int
		err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM events WHERE type=? AND issue_id=? AND user_id=? AND created_at=? LIMIT 1`,
			string(typ), issueID, userID, ts).Scan(&n)
		if err == sql.ErrNoRows {
			break
		}
		if err != nil {
			return domain.Event{}, err
		}
		ts++
	}
	var param any
	if parameter != nil {
		param = *parameter
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO events(type,issue_id,user_id,created_at,parameter) VALUES (?,?,?,?,?)`,
		string(typ), issueID, userID, ts, param)
	if err != nil {
		return domain.Event{}, fmt.Errorf("append event %s: %w", typ, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Event{}, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE issues SET changed_at=? WHERE id=?`, ts, issueID); err != nil {
		return domain.Event{}, fmt.Errorf("touch issue %d: %w", issueID, err)
	}
	return domain.Event{ID: id, Type: typ, IssueID: issueID, UserID: userID, CreatedAt: ts, Parameter: parameter}, nil
}

// Change records one field-level diff for the event. A nil fieldID denotes
// the issue subject. Several changes may share one event.
func (w Writer) Change(ctx context.Context, tx *sql.Tx, eventID int64, fieldID, oldValue, newValue *int64) (domain.Change, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO changes(event_id,field_id,old_value,new_value) VALUES (?,?,?,?)`,
		eventID, opt(fieldID), opt(oldValue), opt(newValue))
	if err != nil {
		return domain.Change{}, fmt.Errorf("append change: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Change{}, err
	}
	return domain.Change{ID: id, EventID: eventID, FieldID: fieldID, OldValue: oldValue, NewValue: newValue}, nil
}

func opt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
