package notes

import (
	"bytes"
	"encoding/json"
	"sort"
)

// Timeline is a list of notes serialized as a JSON object keyed by created_at_utc,
// keys in descending time order.
type Timeline []NoteContents

// newTimeline keys notes by created_at_utc; a later note replaces an earlier one with the
// same timestamp.
func newTimeline(notes []*RunningNote) Timeline {
	t := make(Timeline, 0, len(notes))
	index := make(map[string]int, len(notes))
	for _, n := range notes {
		if i, ok := index[n.CreatedAtUTC]; ok {
			t[i] = n.contents()
			continue
		}
		index[n.CreatedAtUTC] = len(t)
		t = append(t, n.contents())
	}
	sort.SliceStable(t, func(i, j int) bool { return t[i].CreatedAtUTC > t[j].CreatedAtUTC })
	return t
}

// MarshalJSON keeps entry order, which a Go map would not.
func (t Timeline) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, n := range t {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(n.CreatedAtUTC)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(n)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
