package tools

import "genesis/pkg/api"

// ToolRegistry is the concrete, in-process implementation of
// api.ToolRegistry used by the agent engine to look up and enumerate the
// capabilities available to the current session.
type ToolRegistry struct {
	tools map[string]api.Tool
}

// NewToolRegistry 創建工具註冊表
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools: make(map[string]api.Tool),
	}
}

// Register 註冊工具
func (tr *ToolRegistry) Register(tool api.Tool) {
	tr.tools[tool.Name()] = tool
}

// Unregister 註銷工具
func (tr *ToolRegistry) Unregister(name string) {
	delete(tr.tools, name)
}

// Get 獲取工具
func (tr *ToolRegistry) Get(name string) (api.Tool, bool) {
	tool, ok := tr.tools[name]
	return tool, ok
}

// GetAll 獲取所有工具
func (tr *ToolRegistry) GetAll() []api.Tool {
	out := make([]api.Tool, 0, len(tr.tools))
	for _, tool := range tr.tools {
		out = append(out, tool)
	}
	return out
}
