package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jaakkos/attendsync/internal/domain"
	"github.com/jaakkos/attendsync/internal/remote"
)

// ErrInvalidTransition is returned when an attendance event contradicts the
// subject's current status (a second check-in or a check-out while not checked in).
var ErrInvalidTransition = errors.New("invalid attendance transition")

// EventAuto asks RecordAttendance to toggle the subject's status.
const EventAuto = "auto"

// CurrentStatus derives the subject's attendance status from the latest event
// across the backend (when reachable) and the local cache. It returns
// domain.StatusUnknown when neither holds an event for the subject.
func (e *Engine) CurrentStatus(ctx context.Context, subjectID string) domain.Status {
	latest, ok := e.latestEvent(ctx, subjectID)
	if !ok {
		return domain.StatusUnknown
	}
	return domain.StatusFor(latest.EventType())
}

func (e *Engine) latestEvent(ctx context.Context, subjectID string) (domain.Event, bool) {
	var best domain.Event
	consider := func(ev domain.Event) {
		if best == nil || ev.EventTime().After(best.EventTime()) {
			best = ev
		}
	}

	if e.online() {
		rows, err := e.remote.Select(ctx, domain.CollectionAttendance, remote.Query{
			Filters:    []remote.Filter{{Field: "student_id", Value: subjectID}},
			OrderBy:    "timestamp",
			Descending: true,
			Limit:      1,
		})
		if err != nil {
			e.logger.Printf("Engine: status query for %s failed, using cache: %v", subjectID, err)
		} else {
			for _, r := range e.attendance.decodeRows(rows) {
				consider(r)
			}
		}
	}

	for _, r := range e.attendance.Local() {
		if r.StudentID == subjectID {
			consider(r)
		}
	}
	return best, best != nil
}

// RecordAttendance validates eventType against the subject's current status
// and writes a new attendance record stamped now. eventType may be
// domain.EventCheckIn, domain.EventCheckOut or EventAuto. The status check
// and the write are not atomic with respect to other writers.
func (e *Engine) RecordAttendance(ctx context.Context, subjectID, eventType, method string) (domain.AttendanceRecord, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return domain.AttendanceRecord{}, errors.New("student_id is required")
	}

	status := e.CurrentStatus(ctx, subjectID)
	switch eventType {
	case EventAuto, "":
		if status == domain.StatusCheckedIn {
			eventType = domain.EventCheckOut
		} else {
			eventType = domain.EventCheckIn
		}
	case domain.EventCheckIn:
		if status == domain.StatusCheckedIn {
			return domain.AttendanceRecord{}, fmt.Errorf("%w: %s is already checked in", ErrInvalidTransition, subjectID)
		}
	case domain.EventCheckOut:
		if status != domain.StatusCheckedIn {
			return domain.AttendanceRecord{}, fmt.Errorf("%w: %s is not checked in", ErrInvalidTransition, subjectID)
		}
	default:
		return domain.AttendanceRecord{}, fmt.Errorf("unknown event type %q", eventType)
	}

	rec := domain.AttendanceRecord{
		StudentID: subjectID,
		Type:      eventType,
		Timestamp: e.now().UTC(),
		Method:    method,
	}
	return e.attendance.Write(ctx, rec, false), nil
}
