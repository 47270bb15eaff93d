package attendance

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestInstructionsText_NamesTools(t *testing.T) {
	text := InstructionsText()
	for _, tool := range []string{"record_attendance", "current_status", "save_student", "list_documents", "sync_status", "sync_now"} {
		if !strings.Contains(text, tool) {
			t.Errorf("instructions should mention %s", tool)
		}
	}
}

func getPrompt(t *testing.T, env *testEnv, name string, args map[string]string) (string, bool) {
	t.Helper()
	reqJSON, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "prompts/get",
		"params":  map[string]any{"name": name, "arguments": args},
	})
	respBytes, err := json.Marshal(env.srv.HandleMessage(context.Background(), reqJSON))
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	var resp struct {
		Result *struct {
			Messages []struct {
				Content struct {
					Text string `json:"text"`
				} `json:"content"`
			} `json:"messages"`
		} `json:"result"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Error != nil || resp.Result == nil || len(resp.Result.Messages) == 0 {
		return "", false
	}
	return resp.Result.Messages[0].Content.Text, true
}

func TestPrompts(t *testing.T) {
	env := newTestEnv(true)

	text, ok := getPrompt(t, env, "front-desk-scan", map[string]string{"student_id": "2024-0113"})
	if !ok {
		t.Fatal("front-desk-scan prompt failed")
	}
	if !strings.Contains(text, "record_attendance student_id='2024-0113'") {
		t.Errorf("prompt text = %q", text)
	}

	if _, ok := getPrompt(t, env, "front-desk-scan", map[string]string{}); ok {
		t.Error("front-desk-scan without student_id should fail")
	}

	text, ok = getPrompt(t, env, "sync-check", nil)
	if !ok || !strings.Contains(text, "sync_status") {
		t.Errorf("sync-check = %q (ok=%v)", text, ok)
	}
}
