// Package fields implements value handling for the closed set of field
// types. Values are stored as opaque int64 encodings: raw numbers for
// number/checkbox/date/duration fields, interned value-table ids for
// decimal/string/text fields, list item ids for list fields and issue ids
// for issue references. Each codec converts between the user-facing string
// form and the stored encoding.
package fields

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"trackline/internal/domain"
)

// Interner resolves interned values and referenced entities. The repo
// package provides the SQLite-backed implementation.
type Interner interface {
	InternString(ctx context.Context, tx *sql.Tx, value string) (int64, error)
	LookupString(ctx context.Context, tx *sql.Tx, id int64) (string, error)
	InternText(ctx context.Context, tx *sql.Tx, value string) (int64, error)
	LookupText(ctx context.Context, tx *sql.Tx, id int64) (string, error)
	InternDecimal(ctx context.Context, tx *sql.Tx, value string) (int64, error)
	LookupDecimal(ctx context.Context, tx *sql.Tx, id int64) (string, error)
	ListItemByValue(ctx context.Context, tx *sql.Tx, fieldID int64, value int) (domain.ListItem, error)
	ListItemByID(ctx context.Context, tx *sql.Tx, id int64) (domain.ListItem, error)
	IssueTemplate(ctx context.Context, tx *sql.Tx, issueID int64) (int64, error)
}

// Scope carries the template the field belongs to, needed by codecs that
// enforce template containment (issue references).
type Scope struct {
	TemplateID int64
}

// Codec converts one field type between user input and stored encoding.
type Codec interface {
	// Validate checks raw user input against the field's constraints
	// without touching storage.
	Validate(f domain.Field, raw string) error
	// Encode turns raw input into the stored encoding, interning values
	// as needed. Empty input encodes to nil.
	Encode(ctx context.Context, tx *sql.Tx, in Interner, sc Scope, f domain.Field, raw string) (*int64, error)
	// Decode renders a stored encoding back to its user-facing form.
	Decode(ctx context.Context, tx *sql.Tx, in Interner, f domain.Field, value *int64) (string, error)
}

// For returns the codec for a field type. The set is closed; anything else
// is a construction-time error.
func For(t domain.FieldType) (Codec, error) {
	switch t {
	case domain.FieldNumber:
		return numberCodec{}, nil
	case domain.FieldDecimal:
		return decimalCodec{}, nil
	case domain.FieldString:
		return stringCodec{}, nil
	case domain.FieldText:
		return textCodec{}, nil
	case domain.FieldCheckbox:
		return checkboxCodec{}, nil
	case domain.FieldList:
		return listCodec{}, nil
	case domain.FieldIssue:
		return issueCodec{}, nil
	case domain.FieldDate:
		return dateCodec{}, nil
	case domain.FieldDuration:
		return durationCodec{}, nil
	}
	return nil, fmt.Errorf("%w: %q", domain.ErrUnknownFieldType, t)
}

func enc(v int64) *int64 { return &v }

// number: Param1/Param2 are the inclusive min/max.

type numberCodec struct{}

func (numberCodec) Validate(f domain.Field, raw string) error {
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("field %s: not a number: %q", f.Name, raw)
	}
	return checkRange(f, v)
}

func (c numberCodec) Encode(_ context.Context, _ *sql.Tx, _ Interner, _ Scope, f domain.Field, raw string) (*int64, error) {
	if raw == "" {
		return nil, nil
	}
	if err := c.Validate(f, raw); err != nil {
		return nil, err
	}
	v, _ := strconv.ParseInt(raw, 10, 64)
	return enc(v), nil
}

func (numberCodec) Decode(_ context.Context, _ *sql.Tx, _ Interner, _ domain.Field, value *int64) (string, error) {
	if value == nil {
		return "", nil
	}
	return strconv.FormatInt(*value, 10), nil
}

func checkRange(f domain.Field, v int64) error {
	if f.Param1 != nil && v < *f.Param1 {
		return fmt.Errorf("field %s: %d below minimum %d", f.Name, v, *f.Param1)
	}
	if f.Param2 != nil && v > *f.Param2 {
		return fmt.Errorf("field %s: %d above maximum %d", f.Name, v, *f.Param2)
	}
	return nil
}

// decimal: stored as an interned decimal-value id so historical Change rows
// stay valid when the same number recurs.

type decimalCodec struct{}

func (decimalCodec) Validate(f domain.Field, raw string) error {
	if raw == "" {
		return nil
	}
	if _, err := strconv.ParseFloat(raw, 64); err != nil {
		return fmt.Errorf("field %s: not a decimal: %q", f.Name, raw)
	}
	return nil
}

func (c decimalCodec) Encode(ctx context.Context, tx *sql.Tx, in Interner, _ Scope, f domain.Field, raw string) (*int64, error) {
	if raw == "" {
		return nil, nil
	}
	if err := c.Validate(f, raw); err != nil {
		return nil, err
	}
	id, err := in.InternDecimal(ctx, tx, normalizeDecimal(raw))
	if err != nil {
		return nil, err
	}
	return enc(id), nil
}

func (decimalCodec) Decode(ctx context.Context, tx *sql.Tx, in Interner, _ domain.Field, value *int64) (string, error) {
	if value == nil {
		return "", nil
	}
	return in.LookupDecimal(ctx, tx, *value)
}

func normalizeDecimal(raw string) string {
	v, _ := strconv.ParseFloat(raw, 64)
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// string: Param1 is the maximum length; value interned.

type stringCodec struct{}

func (stringCodec) Validate(f domain.Field, raw string) error {
	return checkLength(f, raw)
}

func (c stringCodec) Encode(ctx context.Context, tx *sql.Tx, in Interner, _ Scope, f domain.Field, raw string) (*int64, error) {
	if raw == "" {
		return nil, nil
	}
	if err := c.Validate(f, raw); err != nil {
		return nil, err
	}
	id, err := in.InternString(ctx, tx, raw)
	if err != nil {
		return nil, err
	}
	return enc(id), nil
}

func (stringCodec) Decode(ctx context.Context, tx *sql.Tx, in Interner, _ domain.Field, value *int64) (string, error) {
	if value == nil {
		return "", nil
	}
	return in.LookupString(ctx, tx, *value)
}

func checkLength(f domain.Field, raw string) error {
	if f.Param1 != nil && int64(len(raw)) > *f.Param1 {
		return fmt.Errorf("field %s: value exceeds %d characters", f.Name, *f.Param1)
	}
	return nil
}

// text: like string with a separate value table for large bodies.

type textCodec struct{}

func (textCodec) Validate(f domain.Field, raw string) error {
	return checkLength(f, raw)
}

func (c textCodec) Encode(ctx context.Context, tx *sql.Tx, in Interner, _ Scope, f domain.Field, raw string) (*int64, error) {
	if raw == "" {
		return nil, nil
	}
	if err := c.Validate(f, raw); err != nil {
		return nil, err
	}
	id, err := in.InternText(ctx, tx, raw)
	if err != nil {
		return nil, err
	}
	return enc(id), nil
}

func (textCodec) Decode(ctx context.Context, tx *sql.Tx, in Interner, _ domain.Field, value *int64) (string, error) {
	if value == nil {
		return "", nil
	}
	return in.LookupText(ctx, tx, *value)
}

// checkbox: 0 or 1.

type checkboxCodec struct{}

func (checkboxCodec) Validate(f domain.Field, raw string) error {
	if raw == "" {
		return nil
	}
	if _, err := strconv.ParseBool(raw); err != nil {
		return fmt.Errorf("field %s: not a boolean: %q", f.Name, raw)
	}
	return nil
}

func (c checkboxCodec) Encode(_ context.Context, _ *sql.Tx, _ Interner, _ Scope, f domain.Field, raw string) (*int64, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, fmt.Errorf("field %s: not a boolean: %q", f.Name, raw)
	}
	if v {
		return enc(1), nil
	}
	return enc(0), nil
}

func (checkboxCodec) Decode(_ context.Context, _ *sql.Tx, _ Interner, _ domain.Field, value *int64) (string, error) {
	if value == nil {
		return "", nil
	}
	return strconv.FormatBool(*value != 0), nil
}

// list: input is the item's ordinal value, storage is the item id.

type listCodec struct{}

func (listCodec) Validate(f domain.Field, raw string) error {
	if raw == "" {
		return nil
	}
	if _, err := strconv.Atoi(raw); err != nil {
		return fmt.Errorf("field %s: not a list item value: %q", f.Name, raw)
	}
	return nil
}

func (c listCodec) Encode(ctx context.Context, tx *sql.Tx, in Interner, _ Scope, f domain.Field, raw string) (*int64, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("field %s: not a list item value: %q", f.Name, raw)
	}
	item, err := in.ListItemByValue(ctx, tx, f.ID, v)
	if err != nil {
		return nil, fmt.Errorf("field %s: list item %d: %w", f.Name, v, err)
	}
	return enc(item.ID), nil
}

func (listCodec) Decode(ctx context.Context, tx *sql.Tx, in Interner, _ domain.Field, value *int64) (string, error) {
	if value == nil {
		return "", nil
	}
	item, err := in.ListItemByID(ctx, tx, *value)
	if err != nil {
		return "", err
	}
	return item.Text, nil
}

// issue: stores the referenced issue id; the reference must stay within the
// field's template.

type issueCodec struct{}

func (issueCodec) Validate(f domain.Field, raw string) error {
	if raw == "" {
		return nil
	}
	if _, err := strconv.ParseInt(raw, 10, 64); err != nil {
		return fmt.Errorf("field %s: not an issue id: %q", f.Name, raw)
	}
	return nil
}

func (c issueCodec) Encode(ctx context.Context, tx *sql.Tx, in Interner, sc Scope, f domain.Field, raw string) (*int64, error) {
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("field %s: not an issue id: %q", f.Name, raw)
	}
	tpl, err := in.IssueTemplate(ctx, tx, id)
	if err != nil {
		return nil, fmt.Errorf("field %s: issue %d: %w", f.Name, id, err)
	}
	if tpl != sc.TemplateID {
		return nil, fmt.Errorf("field %s: issue %d: %w", f.Name, id, domain.ErrCrossTemplateReference)
	}
	return enc(id), nil
}

func (issueCodec) Decode(_ context.Context, _ *sql.Tx, _ Interner, _ domain.Field, value *int64) (string, error) {
	if value == nil {
		return "", nil
	}
	return strconv.FormatInt(*value, 10), nil
}

// date: stored as days since the Unix epoch. The codec is clockless; any
// value that parses is accepted.

const dateLayout = "2006-01-02"

type dateCodec struct{}

func (dateCodec) Validate(f domain.Field, raw string) error {
	if raw == "" {
		return nil
	}
	if _, err := time.Parse(dateLayout, raw); err != nil {
		return fmt.Errorf("field %s: not a date (want YYYY-MM-DD): %q", f.Name, raw)
	}
	return nil
}

func (c dateCodec) Encode(_ context.Context, _ *sql.Tx, _ Interner, _ Scope, f domain.Field, raw string) (*int64, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return nil, fmt.Errorf("field %s: not a date (want YYYY-MM-DD): %q", f.Name, raw)
	}
	return enc(t.Unix() / domain.SecondsInDay), nil
}

func (dateCodec) Decode(_ context.Context, _ *sql.Tx, _ Interner, _ domain.Field, value *int64) (string, error) {
	if value == nil {
		return "", nil
	}
	return time.Unix(*value*domain.SecondsInDay, 0).UTC().Format(dateLayout), nil
}

// duration: "hh:mm" input stored as total minutes; Param1/Param2 are the
// min/max in minutes.

type durationCodec struct{}

func (durationCodec) Validate(f domain.Field, raw string) error {
	if raw == "" {
		return nil
	}
	v, err := parseDuration(raw)
	if err != nil {
		return fmt.Errorf("field %s: %w", f.Name, err)
	}
	return checkRange(f, v)
}

func (c durationCodec) Encode(_ context.Context, _ *sql.Tx, _ Interner, _ Scope, f domain.Field, raw string) (*int64, error) {
	if raw == "" {
		return nil, nil
	}
	if err := c.Validate(f, raw); err != nil {
		return nil, err
	}
	v, _ := parseDuration(raw)
	return enc(v), nil
}

func (durationCodec) Decode(_ context.Context, _ *sql.Tx, _ Interner, _ domain.Field, value *int64) (string, error) {
	if value == nil {
		return "", nil
	}
	return fmt.Sprintf("%d:%02d", *value/60, *value%60), nil
}

func parseDuration(raw string) (int64, error) {
	h, m, ok := strings.Cut(raw, ":")
	if !ok {
		return 0, fmt.Errorf("not a duration (want h:mm): %q", raw)
	}
	hours, err := strconv.ParseInt(h, 10, 64)
	if err != nil || hours < 0 {
		return 0, fmt.Errorf("not a duration (want h:mm): %q", raw)
	}
	minutes, err := strconv.ParseInt(m, 10, 64)
	if err != nil || minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("not a duration (want h:mm): %q", raw)
	}
	return hours*60 + minutes, nil
}
