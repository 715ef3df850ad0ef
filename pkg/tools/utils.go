package tools

import (
	"encoding/base64"
	"fmt"
	"genesis/pkg/api"
	"genesis/pkg/llm"
	"log/slog"
)

// Base64Encode converts a byte slice to a Base64 string
func Base64Encode(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// Base64Decode converts a Base64 string back to a byte slice
func Base64Decode(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

// ConvertToolResult transforms an api.ToolResult into the llm.ContentBlock
// slice a tool-role message carries. Lives here (rather than in pkg/agent)
// so both the agent engine and the Executor can share it without a package
// cycle.
func ConvertToolResult(res *api.ToolResult) []llm.ContentBlock {
	var blocks []llm.ContentBlock
	for _, b := range res.Content {
		if b.Type == llm.BlockTypeImage {
			data, err := Base64Decode(b.Data)
			if err != nil {
				slog.Error("Failed to decode image data", "error", err)
				blocks = append(blocks, llm.NewTextBlock(fmt.Sprintf("Error: Failed to decode image: %v", err)))
				continue
			}
			mimeType := b.MimeType
			if mimeType == "" {
				mimeType = "image/png"
			}
			blocks = append(blocks, llm.NewImageBlock(data, mimeType))
		} else {
			blocks = append(blocks, llm.NewTextBlock(b.Text))
		}
	}
	if len(blocks) == 0 {
		blocks = append(blocks, llm.NewTextBlock("(No output)"))
	}
	return blocks
}
