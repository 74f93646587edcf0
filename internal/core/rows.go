package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// RowID is a primary key the backend may render as a number or a string
// (serial or uuid columns).
type RowID string

func (id *RowID) UnmarshalJSON(data []byte) error {
	switch {
	case bytes.Equal(data, []byte("null")):
		*id = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = RowID(s)
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("row id must be a string or number, got %s", data)
		}
		*id = RowID(n.String())
	}
	return nil
}

func (id RowID) MarshalJSON() ([]byte, error) {
	if n, err := strconv.ParseInt(string(id), 10, 64); err == nil && strconv.FormatInt(n, 10) == string(id) {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

// decodeRow fills view from data and returns a private copy of the row.
func decodeRow(data []byte, view any) (json.RawMessage, error) {
	if err := json.Unmarshal(data, view); err != nil {
		return nil, err
	}
	return append(json.RawMessage(nil), data...), nil
}

// encodeRow writes the row as received, or the typed view when the record
// was built in code.
func encodeRow(raw json.RawMessage, view any) ([]byte, error) {
	if len(raw) > 0 {
		return raw, nil
	}
	return json.Marshal(view)
}

func yamlRow(raw json.RawMessage, view any) (any, error) {
	if len(raw) == 0 {
		return view, nil
	}
	var row map[string]any
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, err
	}
	return row, nil
}

func (e *EventRecord) UnmarshalJSON(data []byte) error {
	type view EventRecord
	var v view
	raw, err := decodeRow(data, &v)
	if err != nil {
		return err
	}
	*e = EventRecord(v)
	e.Raw = raw
	return nil
}

func (e EventRecord) MarshalJSON() ([]byte, error) {
	type view EventRecord
	return encodeRow(e.Raw, view(e))
}

func (e EventRecord) MarshalYAML() (any, error) {
	type view EventRecord
	return yamlRow(e.Raw, view(e))
}

func (s *ScheduleRecord) UnmarshalJSON(data []byte) error {
	type view ScheduleRecord
	var v view
	raw, err := decodeRow(data, &v)
	if err != nil {
		return err
	}
	*s = ScheduleRecord(v)
	s.Raw = raw
	return nil
}

func (s ScheduleRecord) MarshalJSON() ([]byte, error) {
	type view ScheduleRecord
	return encodeRow(s.Raw, view(s))
}

func (s ScheduleRecord) MarshalYAML() (any, error) {
	type view ScheduleRecord
	return yamlRow(s.Raw, view(s))
}

func (a *Announcement) UnmarshalJSON(data []byte) error {
	type view Announcement
	var v view
	raw, err := decodeRow(data, &v)
	if err != nil {
		return err
	}
	*a = Announcement(v)
	a.Raw = raw
	return nil
}

func (a Announcement) MarshalJSON() ([]byte, error) {
	type view Announcement
	return encodeRow(a.Raw, view(a))
}

func (a Announcement) MarshalYAML() (any, error) {
	type view Announcement
	return yamlRow(a.Raw, view(a))
}

func (u *User) UnmarshalJSON(data []byte) error {
	type view User
	var v view
	raw, err := decodeRow(data, &v)
	if err != nil {
		return err
	}
	*u = User(v)
	u.Raw = raw
	return nil
}

func (u User) MarshalJSON() ([]byte, error) {
	type view User
	return encodeRow(u.Raw, view(u))
}

func (u User) MarshalYAML() (any, error) {
	type view User
	return yamlRow(u.Raw, view(u))
}
