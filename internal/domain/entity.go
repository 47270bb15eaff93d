// Package domain holds the synchronized entities and the local cache snapshot.
// It has no dependencies on other packages.
package domain

import (
	"slices"
	"time"
)

// Remote collection names.
const (
	CollectionStudents   = "students"
	CollectionAttendance = "attendance_records"
	CollectionDocuments  = "documents"
)

// Meta is the sync bookkeeping embedded in every entity.
// Dirty and DirtyUpdatedAt never leave the local cache.
type Meta struct {
	ID             string    `json:"id,omitempty"`
	Dirty          bool      `json:"_dirty,omitempty"`
	DirtyUpdatedAt time.Time `json:"_dirtyUpdatedAt,omitzero"`
}

// Entity is implemented by value types the engine can synchronize.
// WithSyncMeta returns a copy carrying m.
type Entity[T any] interface {
	SyncMeta() Meta
	WithSyncMeta(m Meta) T
}

// Event is implemented by event-like entities (subject to duplicate suppression
// and used for status derivation).
type Event interface {
	EventSubject() string
	EventType() string
	EventTime() time.Time
}

// Student is a registered student.
type Student struct {
	Meta
	StudentID string    `json:"student_id"`
	Name      string    `json:"name"`
	Course    string    `json:"course,omitempty"`
	YearLevel string    `json:"year_level,omitempty"`
	RFID      string    `json:"rfid,omitempty"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

func (s Student) SyncMeta() Meta { return s.Meta }

func (s Student) WithSyncMeta(m Meta) Student {
	s.Meta = m
	return s
}

// Attendance event types.
const (
	EventCheckIn  = "check_in"
	EventCheckOut = "check_out"
)

// AttendanceRecord is a single check-in or check-out event.
type AttendanceRecord struct {
	Meta
	StudentID string    `json:"student_id"`
	Type      string    `json:"type"` // check_in, check_out
	Timestamp time.Time `json:"timestamp"`
	Method    string    `json:"method,omitempty"` // rfid, barcode, manual
}

func (r AttendanceRecord) SyncMeta() Meta { return r.Meta }

func (r AttendanceRecord) WithSyncMeta(m Meta) AttendanceRecord {
	r.Meta = m
	return r
}

func (r AttendanceRecord) EventSubject() string { return r.StudentID }
func (r AttendanceRecord) EventType() string    { return r.Type }
func (r AttendanceRecord) EventTime() time.Time { return r.Timestamp }

// Document is a miscellaneous document link.
type Document struct {
	Meta
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	Category  string    `json:"category,omitempty"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

func (d Document) SyncMeta() Meta { return d.Meta }

func (d Document) WithSyncMeta(m Meta) Document {
	d.Meta = m
	return d
}

// Status is a subject's derived attendance state.
type Status string

const (
	StatusCheckedIn  Status = "checked_in"
	StatusCheckedOut Status = "checked_out"
	StatusUnknown    Status = "unknown"
)

// StatusFor maps an event type to the state it leaves the subject in.
func StatusFor(eventType string) Status {
	switch eventType {
	case EventCheckIn:
		return StatusCheckedIn
	case EventCheckOut:
		return StatusCheckedOut
	default:
		return StatusUnknown
	}
}

// Snapshot is the full local cache for one namespace.
type Snapshot struct {
	Students          []Student          `json:"students"`
	AttendanceRecords []AttendanceRecord `json:"attendanceRecords"`
	Documents         []Document         `json:"documents"`
	LastSync          time.Time          `json:"lastSync"`
}

// NewSnapshot returns an empty Snapshot with non-nil collections.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Students:          []Student{},
		AttendanceRecords: []AttendanceRecord{},
		Documents:         []Document{},
	}
}

// Clone returns a copy that shares no slice memory with s.
func (s *Snapshot) Clone() *Snapshot {
	return &Snapshot{
		Students:          slices.Clone(s.Students),
		AttendanceRecords: slices.Clone(s.AttendanceRecords),
		Documents:         slices.Clone(s.Documents),
		LastSync:          s.LastSync,
	}
}

// PartialSnapshot names the collections a save replaces. Nil members are left untouched.
type PartialSnapshot struct {
	Students          *[]Student
	AttendanceRecords *[]AttendanceRecord
	Documents         *[]Document
	LastSync          *time.Time
}

// Apply merges p into s by collection key.
func (s *Snapshot) Apply(p PartialSnapshot) {
	if p.Students != nil {
		s.Students = slices.Clone(*p.Students)
	}
	if p.AttendanceRecords != nil {
		s.AttendanceRecords = slices.Clone(*p.AttendanceRecords)
	}
	if p.Documents != nil {
		s.Documents = slices.Clone(*p.Documents)
	}
	if p.LastSync != nil {
		s.LastSync = *p.LastSync
	}
}
