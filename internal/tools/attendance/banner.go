package attendance

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jaakkos/attendsync/internal/app"
)

// suppressBannerTools lists tools that already report the queue.
var suppressBannerTools = map[string]struct{}{
	"sync_status": {},
	"sync_now":    {},
}

// QueueBannerMiddleware returns a mcp-go ToolHandlerMiddleware that appends an
// offline notice to tool responses while the backend is unreachable and local
// writes are waiting. Tools in suppressBannerTools are skipped.
func QueueBannerMiddleware(engine *app.Engine, net app.Reachability) server.ToolHandlerMiddleware {
	return func(next server.ToolHandlerFunc) server.ToolHandlerFunc {
		return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			result, err := next(ctx, req)
			if err != nil || result == nil {
				return result, err
			}
			if result.IsError {
				return result, nil
			}
			if _, suppress := suppressBannerTools[req.Params.Name]; suppress {
				return result, nil
			}

			banner := buildBanner(engine, net)
			if banner == "" {
				return result, nil
			}
			appendBannerToResult(result, banner)
			return result, nil
		}
	}
}

// buildBanner returns "" when online or when nothing is queued.
func buildBanner(engine *app.Engine, net app.Reachability) string {
	if net == nil || net.Online() {
		return ""
	}
	stats := engine.Pending()
	if stats.Total == 0 {
		return ""
	}
	return fmt.Sprintf("\n\n---\nOffline: %d write(s) are queued locally and will sync when the backend is reachable.", stats.Total)
}

// appendBannerToResult appends text to the last text content block, or adds a new one.
func appendBannerToResult(result *mcp.CallToolResult, banner string) {
	for i := len(result.Content) - 1; i >= 0; i-- {
		if tc, ok := result.Content[i].(mcp.TextContent); ok {
			result.Content[i] = mcp.TextContent{
				Annotated: tc.Annotated,
				Type:      "text",
				Text:      tc.Text + banner,
			}
			return
		}
	}
	result.Content = append(result.Content, mcp.TextContent{
		Type: "text",
		Text: banner,
	})
}
