// Package prompt 组装发送给模型的有序消息列表。
package prompt

import (
	"fmt"
	"os"
	"strings"

	"github.com/IMBotPlatform/StudyTutor/pkg/history"
)

// DefaultInstructions 是默认的辅导系统提示词。
const DefaultInstructions = `
You are a friendly but rigorous multi-subject study tutor.

You can help with:
- Math (algebra, calculus, probability, etc.)
- Computer science and programming
- Physics and general science
- Language learning (English explanations, vocabulary, etc.)
- Exam preparation and study plans

Goals:
1. Adapt explanations to the student's subject and level (middle school, high school, college, interview).
2. Explain concepts step by step, with small examples.
3. When asked for solutions, first give hints; only show full solutions when requested.
4. Encourage active learning: ask short follow-up questions or suggest quick exercises.

Be concise but clear. Use Markdown formatting (lists, inline code) when helpful.
`

// Assembler 持有进程级不可变的系统提示词。
type Assembler struct {
	instructions string
}

// NewAssembler 创建 Assembler；instructions 为空时使用 DefaultInstructions。
func NewAssembler(instructions string) *Assembler {
	if strings.TrimSpace(instructions) == "" {
		instructions = DefaultInstructions
	}
	return &Assembler{instructions: instructions}
}

// Instructions 返回当前系统提示词。
func (a *Assembler) Instructions() string {
	return a.instructions
}

// Assemble 生成消息序列：
//
//	[system: 辅导说明] [system: Subject/Level] [...history] [user: 新消息]
//
// 相同输入总是得到相同输出。hist 应当是已经裁剪过的历史。
func (a *Assembler) Assemble(subject, level string, hist history.History, message string) []history.Turn {
	messages := make([]history.Turn, 0, len(hist)+3)
	messages = append(messages,
		history.Turn{Role: history.RoleSystem, Content: a.instructions},
		history.Turn{Role: history.RoleSystem, Content: ContextLine(subject, level)},
	)
	messages = append(messages, hist...)
	messages = append(messages, history.Turn{Role: history.RoleUser, Content: message})
	return messages
}

// ContextLine 返回紧凑的上下文行，如 "Subject: math. Level: college."。
func ContextLine(subject, level string) string {
	return fmt.Sprintf("Subject: %s. Level: %s.", subject, level)
}

// LoadInstructions 从文件读取系统提示词，内容去空白后不能为空。
func LoadInstructions(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read instructions file: %w", err)
	}
	text := string(content)
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("instructions file %s is empty", path)
	}
	return text, nil
}
