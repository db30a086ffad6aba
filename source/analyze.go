package source

import (
	"bytes"
	"context"
	"fmt"

	"github.com/fansqz/trace-debugger/constants"
	e "github.com/fansqz/trace-debugger/error"
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/python"
)

// Function 源码中定义的函数
type Function struct {
	Name      string `json:"name"`
	StartLine int    `json:"startLine"`
	EndLine   int    `json:"endLine"`
}

// Outline 源码的结构信息
type Outline struct {
	// EntryLine 程序第一条可执行语句所在行，0表示没有可执行语句
	EntryLine int `json:"entryLine"`
	// Functions 所有函数定义，包括嵌套函数和方法
	Functions []Function `json:"functions"`
	// LastLine 最后一个非空行
	LastLine int `json:"lastLine"`
	// HasError 语法树中是否存在错误节点
	HasError bool `json:"hasError"`
}

// FunctionAt 返回包含该行的最内层函数
func (o *Outline) FunctionAt(line int) (Function, bool) {
	var answer Function
	found := false
	for _, f := range o.Functions {
		if line < f.StartLine || line > f.EndLine {
			continue
		}
		if !found || f.StartLine >= answer.StartLine {
			answer = f
			found = true
		}
	}
	return answer, found
}

// Analyze 使用tree-sitter解析源码，获取入口行和函数定义
func Analyze(ctx context.Context, content []byte, languageType constants.LanguageType) (*Outline, error) {
	parser := sitter.NewParser()
	switch languageType {
	case constants.LanguagePython:
		parser.SetLanguage(python.GetLanguage())
	case constants.LanguageGo:
		parser.SetLanguage(golang.GetLanguage())
	default:
		return nil, e.ErrLanguageNotSupported
	}
	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("parse source: %w", err)
	}
	defer tree.Close()
	root := tree.RootNode()

	outline := &Outline{
		Functions: analyzeFunctions(root, content),
		LastLine:  lastLine(content),
		HasError:  root.HasError(),
	}
	switch languageType {
	case constants.LanguagePython:
		outline.EntryLine = pythonEntryLine(root)
	case constants.LanguageGo:
		outline.EntryLine = goEntryLine(root, content)
	}
	return outline, nil
}

// analyzeFunctions 遍历语法树，收集函数定义
func analyzeFunctions(rootNode *sitter.Node, content []byte) []Function {
	functions := []Function{}
	// 使用栈来手动管理节点遍历
	stack := []*sitter.Node{rootNode}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		switch node.Type() {
		case "function_definition", "function_declaration", "method_declaration":
			if name := node.ChildByFieldName("name"); name != nil {
				functions = append(functions, Function{
					Name:      getNodeText(name, content),
					StartLine: int(node.StartPoint().Row) + 1,
					EndLine:   int(node.EndPoint().Row) + 1,
				})
			}
		}

		// 从后往前压栈，保证按源码顺序处理
		for i := int(node.NamedChildCount()) - 1; i >= 0; i-- {
			stack = append(stack, node.NamedChild(i))
		}
	}
	return functions
}

// pythonEntryLine 模块中第一条语句
func pythonEntryLine(root *sitter.Node) int {
	for i := 0; i < int(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)
		if child.Type() == "comment" {
			continue
		}
		// 被装饰的定义从装饰器开始执行
		return int(child.StartPoint().Row) + 1
	}
	return 0
}

// goEntryLine main函数体中的第一条语句
func goEntryLine(root *sitter.Node, content []byte) int {
	for i := 0; i < int(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)
		if child.Type() != "function_declaration" {
			continue
		}
		name := child.ChildByFieldName("name")
		if name == nil || getNodeText(name, content) != "main" {
			continue
		}
		body := child.ChildByFieldName("body")
		if body == nil {
			return 0
		}
		if statement := firstStatement(body); statement != nil {
			return int(statement.StartPoint().Row) + 1
		}
		return 0
	}
	return 0
}

func firstStatement(block *sitter.Node) *sitter.Node {
	for i := 0; i < int(block.NamedChildCount()); i++ {
		child := block.NamedChild(i)
		switch child.Type() {
		case "comment":
			continue
		case "statement_list":
			if statement := firstStatement(child); statement != nil {
				return statement
			}
			continue
		}
		return child
	}
	return nil
}

func lastLine(content []byte) int {
	lines := bytes.Split(content, []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		if len(bytes.TrimSpace(lines[i])) > 0 {
			return i + 1
		}
	}
	return 0
}

// getNodeText 获取节点对应的源代码文本
func getNodeText(node *sitter.Node, content []byte) string {
	return string(content[node.StartByte():node.EndByte()])
}
