package service

import (
	"bytes"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	goldhtml "github.com/yuin/goldmark/renderer/html"
)

// ReplyRenderer 将模型回复的 Markdown 渲染为安全的 HTML，并清洗用户输入中的标记。
type ReplyRenderer struct {
	markdown goldmark.Markdown
	reply    *bluemonday.Policy
	input    *bluemonday.Policy
}

// NewReplyRenderer 创建渲染器。
func NewReplyRenderer() *ReplyRenderer {
	return &ReplyRenderer{
		markdown: goldmark.New(
			goldmark.WithExtensions(extension.GFM, extension.Linkify),
			goldmark.WithRendererOptions(goldhtml.WithHardWraps(), goldhtml.WithXHTML()),
		),
		reply: bluemonday.UGCPolicy(),
		input: bluemonday.StrictPolicy(),
	}
}

// RenderReply 渲染回复，渲染失败时退化为转义后的纯文本。
func (r *ReplyRenderer) RenderReply(content string) string {
	var buf bytes.Buffer
	if err := r.markdown.Convert([]byte(content), &buf); err != nil {
		return html.EscapeString(content)
	}
	return strings.TrimSpace(string(r.reply.SanitizeBytes(buf.Bytes())))
}

// CleanInput 去除用户消息中的 HTML 标记，保留原始字符。
func (r *ReplyRenderer) CleanInput(message string) string {
	return strings.TrimSpace(html.UnescapeString(r.input.Sanitize(message)))
}
