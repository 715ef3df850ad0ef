package llm

import (
	"encoding/base64"
	"os"
	"time"
)

//----------------------------------------------------------------
// Message - 通用訊息結構（對齊 pi-agent-core）
//----------------------------------------------------------------

// Message 表示一條對話訊息
type Message struct {
	ID        string         `json:"id,omitempty"`
	Role      string         `json:"role"`    // "user", "assistant", "system", "tool"
	Content   []ContentBlock `json:"content"` // 內容區塊陣列
	Timestamp int64          `json:"timestamp,omitempty"`

	// ToolCalls 包含 LLM 產生的工具調用請求（僅 role: assistant 時有效）
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID 關聯此訊息所屬的工具調用 ID（僅 role: tool 時有效）
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`

	// Usage 附掛在該輪迭代的最終 assistant 訊息上
	Usage *LLMUsage `json:"usage,omitempty"`
}

// ToolCall 表示 LLM 產生的工具調用請求
type ToolCall struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Function FunctionCall `json:"function"`

	// Meta 保存提供者特定的元數據（例如 Gemini 的 thought_signature）
	// 不會被序列化到 JSON，僅用於內部傳遞
	Meta map[string]any `json:"-"`

	// ProviderMetadata 為可序列化版本的提供者專屬元數據（例如
	// Gemini 的 thought_signature），供歷史紀錄持久化後重建使用。
	ProviderMetadata map[string]any `json:"provider_metadata,omitempty"`
}

// FunctionCall 包含具體的工具名稱與參數
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON 字串
}

//----------------------------------------------------------------
// ContentBlock - 封閉的聯集型別（text/thinking/image/video/audio/
// document/tool_use/tool_result/error）
//----------------------------------------------------------------

// ContentBlock 表示訊息中的一個內容區塊。Type 決定了哪些欄位有意義。
type ContentBlock struct {
	Type string `json:"type"`

	// Text 相關（type: "text" | "thinking" | "error" | "tool_result"）
	Text string `json:"text,omitempty"`

	// Source 承載 image/video/audio/document 區塊的媒體資料
	Source *ImageSource `json:"source,omitempty"`

	// ToolUse 相關欄位（type: "tool_use"）
	ToolUseID string         `json:"tool_use_id,omitempty"`
	ToolName  string         `json:"tool_name,omitempty"`
	ToolArgs  map[string]any `json:"tool_args,omitempty"`

	// ToolResult 相關欄位（type: "tool_result"）
	ToolResultForID string `json:"tool_result_for,omitempty"`
	IsError         bool   `json:"is_error,omitempty"`
}

//----------------------------------------------------------------
// ImageSource - 媒體來源（image/video/audio/document 共用）
//----------------------------------------------------------------

// ImageSource 表示媒體區塊的來源資料：內嵌 base64、遠端 URL，或本地檔案路徑
// （檔案路徑的位元組資料透過 LoadData 惰性載入）。
type ImageSource struct {
	Type      string `json:"type"`       // "base64" | "url" | "file"
	MediaType string `json:"media_type"` // "image/jpeg", "image/png", etc.
	Data      []byte `json:"-"`          // 原始位元組資料（不序列化）
	URL       string `json:"url,omitempty"`
	Path      string `json:"path,omitempty"` // 本地檔案路徑（type: "file"）
}

// LoadData 在 Type 為 "file" 時，從 Path 讀取內容填入 Data。
// 若資料已載入或來源類型不是 "file"，則為 no-op。
func (is *ImageSource) LoadData() error {
	if is == nil || is.Type != "file" || is.Path == "" || len(is.Data) > 0 {
		return nil
	}
	data, err := os.ReadFile(is.Path)
	if err != nil {
		return err
	}
	is.Data = data
	return nil
}

// MarshalJSON 自訂 JSON 序列化（將內嵌 Data 轉為 base64；url/file 直接帶出）
func (is *ImageSource) MarshalJSON() ([]byte, error) {
	type alias struct {
		Type      string `json:"type"`
		MediaType string `json:"media_type"`
		Data      string `json:"data,omitempty"`
		URL       string `json:"url,omitempty"`
		Path      string `json:"path,omitempty"`
	}
	a := alias{Type: is.Type, MediaType: is.MediaType, URL: is.URL, Path: is.Path}
	if is.Type == "base64" && len(is.Data) > 0 {
		a.Data = base64.StdEncoding.EncodeToString(is.Data)
	}
	return json.Marshal(a)
}

// UnmarshalJSON 自訂 JSON 反序列化（將 base64 轉為 Data）
func (is *ImageSource) UnmarshalJSON(data []byte) error {
	var a struct {
		Type      string `json:"type"`
		MediaType string `json:"media_type"`
		Data      string `json:"data"`
		URL       string `json:"url"`
		Path      string `json:"path"`
	}
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	is.Type, is.MediaType, is.URL, is.Path = a.Type, a.MediaType, a.URL, a.Path
	if a.Data != "" {
		decoded, err := base64.StdEncoding.DecodeString(a.Data)
		if err != nil {
			return err
		}
		is.Data = decoded
	}
	return nil
}

//----------------------------------------------------------------
// StreamChunk - 串流 chunk 結構
//----------------------------------------------------------------

// StreamChunk 表示 LLM 串流回應的一個 chunk（增量式）
type StreamChunk struct {
	ContentBlocks []ContentBlock `json:"content_blocks,omitempty"`
	ToolCalls     []ToolCall     `json:"tool_calls,omitempty"`
	IsFinal       bool           `json:"is_final"`
	FinishReason  string         `json:"finish_reason,omitempty"`
	Usage         *LLMUsage      `json:"usage,omitempty"`

	// Error is a human-readable description of a stream-level failure.
	Error string `json:"error,omitempty"`
	// RawError is the underlying Go error behind Error, used for
	// transient-error classification. Never serialized.
	RawError error `json:"-"`
}

//----------------------------------------------------------------
// Helper Functions - Message
//----------------------------------------------------------------

func NewTextMessage(role, text string) Message {
	return Message{
		Role:      role,
		Content:   []ContentBlock{NewTextBlock(text)},
		Timestamp: time.Now().Unix(),
	}
}

func NewSystemMessage(text string) Message    { return NewTextMessage("system", text) }
func NewUserMessage(text string) Message      { return NewTextMessage("user", text) }
func NewAssistantMessage(text string) Message { return NewTextMessage("assistant", text) }

func (m *Message) AddContentBlock(block ContentBlock) {
	m.Content = append(m.Content, block)
}

// GetTextContent 提取所有文字內容（排除 thinking/error）
func (m *Message) GetTextContent() string {
	var result string
	for _, block := range m.Content {
		if block.Type == BlockTypeText {
			result += block.Text
		}
	}
	return result
}

func (m *Message) GetThinkingContent() string {
	var result string
	for _, block := range m.Content {
		if block.Type == BlockTypeThinking {
			result += block.Text
		}
	}
	return result
}

func (m *Message) FilterBlocks(blockType string) []ContentBlock {
	var filtered []ContentBlock
	for _, block := range m.Content {
		if block.Type == blockType {
			filtered = append(filtered, block)
		}
	}
	return filtered
}

func (m *Message) HasImages() bool {
	return m.HasMediaKind(BlockTypeImage)
}

// HasMediaKind 判斷訊息是否含有指定媒體類型的區塊
// （image/video/audio/document）。
func (m *Message) HasMediaKind(blockType string) bool {
	for _, block := range m.Content {
		if block.Type == blockType {
			return true
		}
	}
	return false
}

//----------------------------------------------------------------
// Helper Functions - ContentBlock
//----------------------------------------------------------------

func NewTextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockTypeText, Text: text}
}

func NewThinkingBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockTypeThinking, Text: text}
}

// NewErrorBlock 建立展示給使用者的錯誤文字區塊
func NewErrorBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockTypeError, Text: text}
}

func NewImageBlock(data []byte, mimeType string) ContentBlock {
	return ContentBlock{
		Type:   BlockTypeImage,
		Source: &ImageSource{Type: "base64", MediaType: mimeType, Data: data},
	}
}

func NewImageBlockFromURL(url, mimeType string) ContentBlock {
	return ContentBlock{
		Type:   BlockTypeImage,
		Source: &ImageSource{Type: "url", MediaType: mimeType, URL: url},
	}
}

// NewImageBlockFromFile 參照本地檔案而不立即讀取；位元組資料由
// ImageSource.LoadData 視需要惰性載入。
func NewImageBlockFromFile(path, mimeType string) ContentBlock {
	return ContentBlock{
		Type:   BlockTypeImage,
		Source: &ImageSource{Type: "file", MediaType: mimeType, Path: path},
	}
}

func NewVideoBlock(data []byte, mimeType string) ContentBlock {
	return ContentBlock{Type: BlockTypeVideo, Source: &ImageSource{Type: "base64", MediaType: mimeType, Data: data}}
}

func NewAudioBlock(data []byte, mimeType string) ContentBlock {
	return ContentBlock{Type: BlockTypeAudio, Source: &ImageSource{Type: "base64", MediaType: mimeType, Data: data}}
}

func NewDocumentBlock(data []byte, mimeType string) ContentBlock {
	return ContentBlock{Type: BlockTypeDocument, Source: &ImageSource{Type: "base64", MediaType: mimeType, Data: data}}
}

func NewToolUseBlock(id, name string, args map[string]any) ContentBlock {
	return ContentBlock{Type: BlockTypeToolUse, ToolUseID: id, ToolName: name, ToolArgs: args}
}

func NewToolResultBlock(toolUseID, payload string, isError bool) ContentBlock {
	return ContentBlock{Type: BlockTypeToolResult, ToolResultForID: toolUseID, Text: payload, IsError: isError}
}

// PlaceholderForUnsupportedMedia 回傳當端點無法接受某媒體類型區塊時，
// 軟性降級所使用的固定替代文字。
func PlaceholderForUnsupportedMedia(blockType string) string {
	return "[" + blockType + " omitted: endpoint does not support this media type]"
}

//----------------------------------------------------------------
// Helper Functions - StreamChunk
//----------------------------------------------------------------

func NewTextChunk(text string) StreamChunk {
	return StreamChunk{ContentBlocks: []ContentBlock{NewTextBlock(text)}}
}

func NewThinkingChunk(text string) StreamChunk {
	return StreamChunk{ContentBlocks: []ContentBlock{NewThinkingBlock(text)}}
}

func NewFinalChunk(reason string, usage *LLMUsage) StreamChunk {
	return StreamChunk{IsFinal: true, FinishReason: reason, Usage: usage}
}

// NewErrorChunk 建立串流錯誤 chunk。message 為可顯示給使用者的描述，
// rawErr 為底層錯誤（供 IsTransientError 分類使用），isFinal 表示此錯誤
// 是否終止整個串流。
func NewErrorChunk(message string, rawErr error, isFinal bool) StreamChunk {
	return StreamChunk{
		Error:        message,
		RawError:     rawErr,
		IsFinal:      isFinal,
		FinishReason: StopReasonError,
	}
}
