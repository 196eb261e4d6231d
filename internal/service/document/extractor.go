package document

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// MaxTextChars 是送入模型的文档文本上限。
const MaxTextChars = 30000

var (
	ErrUnsupportedDocument = errors.New("unsupported document type")
	ErrEmptyDocument       = errors.New("empty document")
)

// Content is what a document contributes to a query: text, an image, or both.
type Content struct {
	Name      string
	MIMEType  string
	Text      string
	Image     []byte
	Truncated bool
}

// IsImage 表示是否为图片。
func (c *Content) IsImage() bool { return len(c.Image) > 0 }

// Extractor turns uploaded bytes into model input.
type Extractor interface {
	Extract(ctx context.Context, name, mimeType string, data []byte) (*Content, error)
}

// BasicExtractor handles plain text formats and images. Binary office
// formats are rejected.
type BasicExtractor struct {
	MaxChars int
}

var textExtensions = map[string]string{
	".txt":  "text/plain",
	".md":   "text/markdown",
	".csv":  "text/csv",
	".json": "application/json",
	".log":  "text/plain",
}

var imageExtensions = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// Extract 实现 Extractor。
func (e BasicExtractor) Extract(_ context.Context, name, mimeType string, data []byte) (*Content, error) {
	if len(data) == 0 {
		return nil, ErrEmptyDocument
	}
	mimeType = resolveMIME(name, mimeType, data)

	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return &Content{Name: name, MIMEType: mimeType, Image: data}, nil
	case mimeType == "application/json":
		var buf bytes.Buffer
		if err := json.Indent(&buf, data, "", "  "); err != nil {
			return nil, fmt.Errorf("parse json document: %w", err)
		}
		return e.text(name, mimeType, buf.String()), nil
	case strings.HasPrefix(mimeType, "text/"):
		if !utf8.Valid(data) {
			return nil, fmt.Errorf("%w: %s is not valid UTF-8", ErrUnsupportedDocument, name)
		}
		return e.text(name, mimeType, string(data)), nil
	default:
		return nil, fmt.Errorf("%w: %s (%s)", ErrUnsupportedDocument, name, mimeType)
	}
}

func (e BasicExtractor) text(name, mimeType, text string) *Content {
	limit := e.MaxChars
	if limit <= 0 {
		limit = MaxTextChars
	}
	c := &Content{Name: name, MIMEType: mimeType, Text: strings.TrimSpace(text)}
	if runes := []rune(c.Text); len(runes) > limit {
		c.Text = string(runes[:limit])
		c.Truncated = true
	}
	return c
}

func resolveMIME(name, mimeType string, data []byte) string {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if mimeType != "" && mimeType != "application/octet-stream" {
		return mimeType
	}
	ext := strings.ToLower(filepath.Ext(name))
	if m, ok := textExtensions[ext]; ok {
		return m
	}
	if m, ok := imageExtensions[ext]; ok {
		return m
	}
	sniffed := http.DetectContentType(data)
	if i := strings.Index(sniffed, ";"); i >= 0 {
		sniffed = sniffed[:i]
	}
	return sniffed
}

// Prompt 将文档内容与用户问题拼成一次提问。
func Prompt(c *Content, question string) string {
	question = strings.TrimSpace(question)
	if question == "" {
		question = "Summarize this document and highlight the key points."
	}
	if c.IsImage() || c.Text == "" {
		return question
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Document: %s\n\n%s\n\n", c.Name, c.Text)
	if c.Truncated {
		b.WriteString("(document truncated)\n\n")
	}
	b.WriteString("Question: ")
	b.WriteString(question)
	return b.String()
}
