package attendance

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// InstructionsText returns the server instructions sent to clients on initialize.
func InstructionsText() string {
	return `attendsync keeps a local copy of the attendance log, the student roster and the
library documents, and syncs it with the school's hosted backend whenever that backend
is reachable. Every write succeeds locally first, so the front desk keeps working offline.

Recording attendance:
- record_attendance student_id='<id>' records a scan. type defaults to auto, which checks the
  student in when they are out and out when they are in. Pass type='check_in' or
  type='check_out' to force a direction; an impossible transition is reported as an error.
- A scan repeated within a minute is recorded locally but not sent to the backend twice.
- current_status student_id='<id>' shows checked_in, checked_out or unknown.

Catalogs:
- save_student / list_students manage the roster (pass id to update an existing student).
- save_document / list_documents manage library documents.

Sync:
- Results say "queued" when a write is waiting for the backend and "synced" once it is stored there.
- sync_status shows reachability, the queue and the last full sync; sync_now runs a pass immediately.`
}

// registerPrompts registers reusable prompt templates with the mcp-go server.
func registerPrompts(s *server.MCPServer) {
	s.AddPrompt(
		mcp.NewPrompt("front-desk-scan",
			mcp.WithPromptDescription("Record a scan for a student and confirm their new status."),
			mcp.WithArgument("student_id", mcp.ArgumentDescription("The scanned student id"), mcp.RequiredArgument()),
		),
		func(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
			studentID := req.Params.Arguments["student_id"]
			if studentID == "" {
				return nil, fmt.Errorf("student_id is required")
			}
			return &mcp.GetPromptResult{
				Description: "Front desk scan workflow",
				Messages: []mcp.PromptMessage{
					{
						Role: mcp.RoleUser,
						Content: mcp.TextContent{
							Type: "text",
							Text: fmt.Sprintf(`A student badge was scanned: %s

1. Call list_students query='%s' to confirm the student exists. If not, ask for their name and call save_student.
2. Call record_attendance student_id='%s' method='rfid'.
3. Report the recorded event and whether it is synced or queued.`, studentID, studentID, studentID),
						},
					},
				},
			}, nil
		},
	)

	s.AddPrompt(
		mcp.NewPrompt("sync-check",
			mcp.WithPromptDescription("Check the offline queue and push it if the backend is reachable."),
		),
		func(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
			return &mcp.GetPromptResult{
				Description: "Sync health check",
				Messages: []mcp.PromptMessage{
					{
						Role: mcp.RoleUser,
						Content: mcp.TextContent{
							Type: "text",
							Text: `1. Call sync_status.
2. If the backend is reachable and writes are queued, call sync_now and report the result.
3. If the backend is unreachable, report how many writes are waiting and when the last sync finished.`,
						},
					},
				},
			}, nil
		},
	)
}
