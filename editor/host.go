package editor

import "context"

// Editor 编辑器中打开的一个文档
type Editor struct {
	Path string `json:"path"`
}

// Host 编辑器宿主提供的能力
type Host interface {
	// ListOpenEditors 当前打开的所有文档
	ListOpenEditors(ctx context.Context) ([]Editor, error)
	// CloseActiveEditor 关闭当前激活的文档
	CloseActiveEditor(ctx context.Context) error
	// ShowDocument 打开文档并设为激活
	ShowDocument(ctx context.Context, path string) error
	// ShowError 向用户展示错误
	ShowError(ctx context.Context, message string) error
}
