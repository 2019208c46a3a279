package connector

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gomarkdown/markdown/ast"
	"github.com/gomarkdown/markdown/parser"
)

// AiderConnector adapts ~/.aider.chat.history.md and per-project
// .aider.chat.history.md Markdown transcripts. Each "####" heading starting
// with "aider chat started at" opens a new conversation; ">" blockquotes are
// user turns; fenced code / plain paragraphs following are assistant turns.
type AiderConnector struct {
	home string
	cwd  string
}

const aiderHistoryFileName = ".aider.chat.history.md"

func NewAiderConnector(homeDir string) *AiderConnector {
	cwd, _ := os.Getwd()
	return &AiderConnector{home: homeDir, cwd: cwd}
}

func (c *AiderConnector) Slug() string        { return "aider" }
func (c *AiderConnector) DisplayName() string { return "Aider" }

func (c *AiderConnector) candidatePaths() []string {
	var paths []string
	if c.cwd != "" {
		paths = append(paths, filepath.Join(c.cwd, aiderHistoryFileName))
	}
	paths = append(paths, filepath.Join(c.home, aiderHistoryFileName))
	return paths
}

func (c *AiderConnector) Detect() (DetectionResult, error) {
	var roots []string
	for _, p := range c.candidatePaths() {
		if _, err := os.Stat(p); err == nil {
			roots = append(roots, p)
		}
	}
	if len(roots) == 0 {
		return DetectionResult{}, nil
	}
	return DetectionResult{Present: true, Roots: roots}, nil
}

const aiderStartMarker = "aider chat started at"

func (c *AiderConnector) Scan(ctx context.Context, sc ScanContext) ([]NormalizedConversation, error) {
	var out []NormalizedConversation
	for _, path := range c.candidatePaths() {
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		default:
		}
		if !sc.allowed(path) {
			continue
		}
		info, statErr := os.Stat(path)
		if statErr != nil {
			continue
		}
		if !sc.SinceTS.IsZero() && !info.ModTime().After(sc.SinceTS) {
			continue
		}

		raw, err := os.ReadFile(path)
		if err != nil {
			sc.emit(Diagnostic{AgentSlug: c.Slug(), Path: path, Reason: err.Error()})
			continue
		}

		convs, err := c.parseTranscript(raw, path, info.ModTime())
		if err != nil {
			sc.emit(Diagnostic{AgentSlug: c.Slug(), Path: path, Reason: err.Error()})
			continue
		}
		out = append(out, convs...)
	}
	return out, nil
}

func (c *AiderConnector) parseTranscript(raw []byte, path string, mtime time.Time) ([]NormalizedConversation, error) {
	extensions := parser.CommonExtensions | parser.AutoHeadingIDs
	p := parser.NewWithExtensions(extensions)
	doc := p.Parse(raw)

	var convs []NormalizedConversation
	var cur *NormalizedConversation
	seq := 0

	finish := func() {
		if cur != nil && len(cur.Messages) > 0 {
			convs = append(convs, *cur)
		}
		cur = nil
	}

	ast.WalkFunc(doc, func(node ast.Node, entering bool) ast.WalkStatus {
		if !entering {
			return ast.GoToNext
		}
		switch n := node.(type) {
		case *ast.Heading:
			text := strings.ToLower(textOf(n))
			if n.Level == 4 && strings.Contains(text, aiderStartMarker) {
				finish()
				seq++
				cur = &NormalizedConversation{
					AgentSlug:  c.Slug(),
					ExternalID: fmt.Sprintf("%s#%d", filepath.Base(path), seq),
					Title:      textOf(n),
					SourcePath: path,
					CreatedAt:  mtime,
					UpdatedAt:  mtime,
					Metadata:   map[string]any{},
				}
			}
		case *ast.BlockQuote:
			if cur == nil {
				return ast.GoToNext
			}
			text := strings.TrimSpace(textOf(n))
			if text == "" {
				return ast.GoToNext
			}
			cur.Messages = append(cur.Messages, NormalizedMessage{
				Role: RoleUser, Content: text, Timestamp: mtime,
			})
			if cur.Title == "" || strings.Contains(strings.ToLower(cur.Title), aiderStartMarker) {
				cur.Title = firstLineTruncated(text, 100)
			}
			return ast.SkipChildren
		case *ast.CodeBlock:
			if cur == nil {
				return ast.GoToNext
			}
			text := strings.TrimSpace(string(n.Literal))
			if text == "" {
				return ast.GoToNext
			}
			cur.Messages = append(cur.Messages, NormalizedMessage{
				Role: RoleAssistant, Content: text, Timestamp: mtime,
			})
		case *ast.Paragraph:
			if cur == nil || node.GetParent() == nil {
				return ast.GoToNext
			}
			if _, isQuote := node.GetParent().(*ast.BlockQuote); isQuote {
				return ast.GoToNext
			}
			text := strings.TrimSpace(textOf(n))
			if text == "" {
				return ast.GoToNext
			}
			cur.Messages = append(cur.Messages, NormalizedMessage{
				Role: RoleAssistant, Content: text, Timestamp: mtime,
			})
			return ast.SkipChildren
		}
		return ast.GoToNext
	})
	finish()

	return convs, nil
}

// textOf flattens a subtree's leaf text nodes into one string.
func textOf(node ast.Node) string {
	var sb strings.Builder
	ast.WalkFunc(node, func(n ast.Node, entering bool) ast.WalkStatus {
		if !entering {
			return ast.GoToNext
		}
		if leaf, ok := n.(*ast.Text); ok {
			sb.Write(leaf.Literal)
		}
		if code, ok := n.(*ast.Code); ok {
			sb.Write(code.Literal)
		}
		return ast.GoToNext
	})
	return sb.String()
}
