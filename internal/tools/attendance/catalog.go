package attendance

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jaakkos/attendsync/internal/app"
	"github.com/jaakkos/attendsync/internal/domain"
	"github.com/jaakkos/attendsync/internal/identity"
)

// queueState reports whether an entity still waits for the backend.
func queueState(m domain.Meta) string {
	if m.Dirty || identity.IsProvisional(m.ID) {
		return "queued"
	}
	return "synced"
}

// registerSaveStudent registers the save_student tool (create, or update when id is given).
func registerSaveStudent(r *registry, engine *app.Engine, logger *log.Logger) {
	r.add(
		mcp.NewTool("save_student",
			mcp.WithDescription(
				"Create a student, or update one when id is given. Fields left out of an update keep their "+
					"current values. Works offline."),
			mcp.WithString("id", mcp.Description("Record id from list_students; omit to create")),
			mcp.WithString("student_id", mcp.Description("School id (required when creating)")),
			mcp.WithString("name", mcp.Description("Full name (required when creating)")),
			mcp.WithString("course", mcp.Description("Course or program")),
			mcp.WithString("year_level", mcp.Description("Year level")),
			mcp.WithString("rfid", mcp.Description("RFID tag bound to the student")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			students := engine.Students()

			if id := optionalString(args, "id", ""); id != "" {
				cur, ok := students.Get(id)
				if !ok {
					return nil, fmt.Errorf("unknown student id %q", id)
				}
				cur.StudentID = optionalString(args, "student_id", cur.StudentID)
				cur.Name = optionalString(args, "name", cur.Name)
				cur.Course = optionalString(args, "course", cur.Course)
				cur.YearLevel = optionalString(args, "year_level", cur.YearLevel)
				cur.RFID = optionalString(args, "rfid", cur.RFID)
				saved := students.Write(ctx, cur, true)
				logger.Printf("Tools: updated student %s (%s)", saved.StudentID, queueState(saved.Meta))
				return mcp.NewToolResultText(fmt.Sprintf("Updated student %s (id %s, %s)", saved.StudentID, saved.ID, queueState(saved.Meta))), nil
			}

			studentID, err := requireString(args, "student_id")
			if err != nil {
				return nil, err
			}
			name, err := requireString(args, "name")
			if err != nil {
				return nil, err
			}
			for _, s := range students.Local() {
				if s.StudentID == studentID {
					return nil, fmt.Errorf("student %s already exists (id %s); pass id to update", studentID, s.ID)
				}
			}
			saved := students.Write(ctx, domain.Student{
				StudentID: studentID,
				Name:      name,
				Course:    optionalString(args, "course", ""),
				YearLevel: optionalString(args, "year_level", ""),
				RFID:      optionalString(args, "rfid", ""),
				CreatedAt: time.Now().UTC(),
			}, false)
			logger.Printf("Tools: created student %s (%s)", saved.StudentID, queueState(saved.Meta))
			return mcp.NewToolResultText(fmt.Sprintf("Created student %s (id %s, %s)", saved.StudentID, saved.ID, queueState(saved.Meta))), nil
		},
	)
}

// registerListStudents registers the list_students tool.
func registerListStudents(r *registry, engine *app.Engine) {
	r.add(
		mcp.NewTool("list_students",
			mcp.WithDescription("List students, including ones not yet synced. Optionally filter by name, school id or RFID."),
			mcp.WithString("query", mcp.Description("Case-insensitive substring of name, student_id or rfid")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			q := strings.ToLower(optionalString(req.GetArguments(), "query", ""))
			var out []domain.Student
			for _, s := range engine.Students().Read(ctx) {
				if q == "" ||
					strings.Contains(strings.ToLower(s.Name), q) ||
					strings.Contains(strings.ToLower(s.StudentID), q) ||
					(s.RFID != "" && strings.EqualFold(s.RFID, q)) {
					out = append(out, s)
				}
			}
			if len(out) == 0 {
				return mcp.NewToolResultText("No students."), nil
			}
			return jsonResult(out)
		},
	)
}

// registerSaveDocument registers the save_document tool.
func registerSaveDocument(r *registry, engine *app.Engine, logger *log.Logger) {
	r.add(
		mcp.NewTool("save_document",
			mcp.WithDescription("Create a library document, or update one when id is given. Works offline."),
			mcp.WithString("id", mcp.Description("Record id from list_documents; omit to create")),
			mcp.WithString("title", mcp.Description("Title (required when creating)")),
			mcp.WithString("url", mcp.Description("Link to the document (required when creating)")),
			mcp.WithString("category", mcp.Description("Category label")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			docs := engine.Documents()

			if id := optionalString(args, "id", ""); id != "" {
				cur, ok := docs.Get(id)
				if !ok {
					return nil, fmt.Errorf("unknown document id %q", id)
				}
				cur.Title = optionalString(args, "title", cur.Title)
				cur.URL = optionalString(args, "url", cur.URL)
				cur.Category = optionalString(args, "category", cur.Category)
				saved := docs.Write(ctx, cur, true)
				logger.Printf("Tools: updated document %s (%s)", saved.ID, queueState(saved.Meta))
				return mcp.NewToolResultText(fmt.Sprintf("Updated document %q (id %s, %s)", saved.Title, saved.ID, queueState(saved.Meta))), nil
			}

			title, err := requireString(args, "title")
			if err != nil {
				return nil, err
			}
			url, err := requireString(args, "url")
			if err != nil {
				return nil, err
			}
			saved := docs.Write(ctx, domain.Document{
				Title:     title,
				URL:       url,
				Category:  optionalString(args, "category", ""),
				CreatedAt: time.Now().UTC(),
			}, false)
			logger.Printf("Tools: created document %s (%s)", saved.ID, queueState(saved.Meta))
			return mcp.NewToolResultText(fmt.Sprintf("Created document %q (id %s, %s)", saved.Title, saved.ID, queueState(saved.Meta))), nil
		},
	)
}

// registerListDocuments registers the list_documents tool.
func registerListDocuments(r *registry, engine *app.Engine) {
	r.add(
		mcp.NewTool("list_documents",
			mcp.WithDescription("List library documents, including ones not yet synced."),
			mcp.WithString("category", mcp.Description("Only documents in this category")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			category := optionalString(req.GetArguments(), "category", "")
			var out []domain.Document
			for _, d := range engine.Documents().Read(ctx) {
				if category == "" || strings.EqualFold(d.Category, category) {
					out = append(out, d)
				}
			}
			if len(out) == 0 {
				return mcp.NewToolResultText("No documents."), nil
			}
			return jsonResult(out)
		},
	)
}
