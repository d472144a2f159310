package attendance

type recordKey struct {
	sessionID string
	studentID string
}

// RecordStore holds records in insertion order with an index on
// (session, student) pointing at the newest record for the pair.
// It is not safe for concurrent use; Service serializes access.
type RecordStore struct {
	items []*Record
	index map[recordKey]*Record
}

func NewRecordStore() *RecordStore {
	return &RecordStore{index: make(map[recordKey]*Record)}
}

// Get returns the newest record for the pair.
func (rs *RecordStore) Get(sessionID, studentID string) (Record, bool) {
	r, ok := rs.index[recordKey{sessionID, studentID}]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// Upsert replaces the fields of the newest record for the pair, or inserts a
// new one. An empty OverrideReason keeps the previous value.
func (rs *RecordStore) Upsert(rec Record) Record {
	k := recordKey{rec.SessionID, rec.StudentID}
	if cur, ok := rs.index[k]; ok {
		cur.Timestamp = rec.Timestamp
		cur.Source = rec.Source
		cur.Mode = rec.Mode
		cur.Status = rec.Status
		if rec.OverrideReason != "" {
			cur.OverrideReason = rec.OverrideReason
		}
		return *cur
	}
	return rs.Insert(rec)
}

// Insert appends rec unconditionally, even when the pair already exists.
func (rs *RecordStore) Insert(rec Record) Record {
	r := rec
	rs.items = append(rs.items, &r)
	rs.index[recordKey{r.SessionID, r.StudentID}] = &r
	return r
}

// List returns copies, most recent first.
func (rs *RecordStore) List() []Record {
	out := make([]Record, 0, len(rs.items))
	for i := len(rs.items) - 1; i >= 0; i-- {
		out = append(out, *rs.items[i])
	}
	return out
}

func (rs *RecordStore) Len() int { return len(rs.items) }

// Reset drops every record.
func (rs *RecordStore) Reset() {
	rs.items = nil
	rs.index = make(map[recordKey]*Record)
}
