package attendance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jaakkos/attendsync/internal/app"
	"github.com/jaakkos/attendsync/internal/domain"
)

// registerRecordAttendance registers the record_attendance tool (a scan at the front desk).
func registerRecordAttendance(r *registry, engine *app.Engine, logger *log.Logger) {
	r.add(
		mcp.NewTool("record_attendance",
			mcp.WithDescription(
				"Record a check-in or check-out for a student. With type=auto (the default) the event toggles "+
					"the student's current status. Works offline: the record is stored locally and synced later."),
			mcp.WithString("student_id", mcp.Required(), mcp.Description("The student's school id (e.g. 2024-0113)")),
			mcp.WithString("type", mcp.Description("check_in, check_out or auto (default auto)"),
				mcp.Enum(domain.EventCheckIn, domain.EventCheckOut, app.EventAuto)),
			mcp.WithString("method", mcp.Description("How the student was identified: rfid, barcode or manual (default manual)")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			studentID, err := requireString(args, "student_id")
			if err != nil {
				return nil, err
			}
			eventType := optionalString(args, "type", app.EventAuto)
			method := optionalString(args, "method", "manual")

			rec, err := engine.RecordAttendance(ctx, studentID, eventType, method)
			if errors.Is(err, app.ErrInvalidTransition) {
				return mcp.NewToolResultError(err.Error()), nil
			}
			if err != nil {
				return nil, err
			}

			state := queueState(rec.Meta)
			logger.Printf("Tools: recorded %s for %s (%s)", rec.Type, rec.StudentID, state)
			return mcp.NewToolResultText(fmt.Sprintf("Recorded %s for %s at %s (id %s, %s)",
				rec.Type, rec.StudentID, rec.Timestamp.Format(time.RFC3339), rec.ID, state)), nil
		},
	)
}

// registerCurrentStatus registers the current_status tool.
func registerCurrentStatus(r *registry, engine *app.Engine) {
	r.add(
		mcp.NewTool("current_status",
			mcp.WithDescription("Show whether a student is checked in, checked out, or unknown (no events yet)."),
			mcp.WithString("student_id", mcp.Required(), mcp.Description("The student's school id")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			studentID, err := requireString(req.GetArguments(), "student_id")
			if err != nil {
				return nil, err
			}
			status := engine.CurrentStatus(ctx, strings.TrimSpace(studentID))
			return mcp.NewToolResultText(fmt.Sprintf("%s: %s", studentID, status)), nil
		},
	)
}

// registerListAttendance registers the list_attendance tool (newest first).
func registerListAttendance(r *registry, engine *app.Engine) {
	r.add(
		mcp.NewTool("list_attendance",
			mcp.WithDescription("List attendance records, newest first. Includes records not yet synced."),
			mcp.WithString("student_id", mcp.Description("Only records for this student")),
			mcp.WithNumber("limit", mcp.Description("Maximum records to return (default 50)")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			limit, err := optionalLimit(args, "limit", 50)
			if err != nil {
				return nil, err
			}
			studentID := optionalString(args, "student_id", "")

			var out []domain.AttendanceRecord
			for _, rec := range engine.Attendance().Read(ctx) {
				if studentID == "" || rec.StudentID == studentID {
					out = append(out, rec)
				}
			}
			slices.SortStableFunc(out, func(a, b domain.AttendanceRecord) int {
				return b.Timestamp.Compare(a.Timestamp)
			})
			if len(out) > limit {
				out = out[:limit]
			}
			if len(out) == 0 {
				return mcp.NewToolResultText("No attendance records."), nil
			}
			return jsonResult(out)
		},
	)
}
