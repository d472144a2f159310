package attendance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModeFor(t *testing.T) {
	tests := map[Source]Mode{
		SourceQR:          ModeOnline,
		SourceFace:        ModeOnline,
		SourceStudentSelf: ModeOnline,
		SourceOnline:      ModeOnline,
		SourceManual:      ModeOffline,
		SourceOfflineSync: ModeOffline,
		SourceCSVImport:   ModeOffline,
		Source("KIOSK"):   ModeOffline,
		Source(""):        ModeOffline,
	}
	for src, want := range tests {
		assert.Equal(t, want, ModeFor(src), "source %q", src)
	}
}

func TestRecordStore_UpsertAndOrder(t *testing.T) {
	rs := NewRecordStore()
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	rs.Upsert(Record{SessionID: "S", StudentID: "a", Status: StatusPresent, Source: SourceManual, Mode: ModeOffline, Timestamp: t0, OverrideReason: "late bus"})
	rs.Upsert(Record{SessionID: "S", StudentID: "b", Status: StatusPresent, Source: SourceQR, Mode: ModeOnline, Timestamp: t0})

	got := rs.Upsert(Record{SessionID: "S", StudentID: "a", Status: StatusLate, Source: SourceQR, Mode: ModeOnline, Timestamp: t0.Add(time.Minute)})
	assert.Equal(t, StatusLate, got.Status)
	assert.Equal(t, ModeOnline, got.Mode)
	assert.Equal(t, "late bus", got.OverrideReason, "unspecified fields are preserved")

	require.Equal(t, 2, rs.Len())
	list := rs.List()
	assert.Equal(t, "b", list[0].StudentID, "most recent insert first")
	assert.Equal(t, "a", list[1].StudentID)
}

func TestRecordStore_InsertAllowsDuplicates(t *testing.T) {
	rs := NewRecordStore()
	rs.Insert(Record{SessionID: "S", StudentID: "a", Mode: ModeOnline, Source: SourceQR})
	rs.Insert(Record{SessionID: "S", StudentID: "a", Mode: ModeOffline, Source: SourceOfflineSync})

	assert.Equal(t, 2, rs.Len())
	cur, ok := rs.Get("S", "a")
	require.True(t, ok)
	assert.Equal(t, ModeOffline, cur.Mode, "lookups see the newest record")
}

func TestRecordStore_Reset(t *testing.T) {
	rs := NewRecordStore()
	rs.Insert(Record{SessionID: "S", StudentID: "a"})
	rs.Reset()

	assert.Zero(t, rs.Len())
	_, ok := rs.Get("S", "a")
	assert.False(t, ok)
	assert.Empty(t, rs.List())
}

func TestRecordStore_GetReturnsCopy(t *testing.T) {
	rs := NewRecordStore()
	rs.Insert(Record{SessionID: "S", StudentID: "a", Status: StatusPresent})

	r, _ := rs.Get("S", "a")
	r.Status = StatusAbsent

	again, _ := rs.Get("S", "a")
	assert.Equal(t, StatusPresent, again.Status)
}
