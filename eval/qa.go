// Package eval is the offline evaluation harness: it feeds Q&A datasets
// through the chatbot, grades answers with an LLM judge, and writes
// checkpointed run directories under results/<mode>/.
package eval

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// QAPair is one question with its reference answer.
type QAPair struct {
	Number   int
	Question string
	Answer   string
	File     string
}

var (
	questionRE = regexp.MustCompile(`^Q(\d+):\s*(.*)`)
	answerRE   = regexp.MustCompile(`(?s)^A(\d+):\s*(.*)`)
)

// ParseQAFile reads a Q&A markdown file: `### Q<n>: …` headings, each
// followed by a `**A<n>:**` answer block.
func ParseQAFile(path string) ([]QAPair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return ParseQA(path, data)
}

// ParseQA parses Q&A markdown. A question runs from its `### Q<n>:` heading
// to the `**A<n>:**` marker; the answer runs to the next heading or EOF.
// Q/A numbers must match.
func ParseQA(name string, src []byte) ([]QAPair, error) {
	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	var pairs []QAPair
	var cur *QAPair
	inAnswer := false

	flush := func() error {
		if cur == nil {
			return nil
		}
		cur.Question = strings.TrimSpace(cur.Question)
		cur.Answer = strings.TrimSpace(cur.Answer)
		if !inAnswer || cur.Answer == "" {
			return fmt.Errorf("%s: Q%d has no answer", name, cur.Number)
		}
		pairs = append(pairs, *cur)
		cur = nil
		inAnswer = false
		return nil
	}

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		if h, ok := n.(*ast.Heading); ok && h.Level == 3 {
			if err := flush(); err != nil {
				return nil, err
			}
			head := nodeText(h, src)
			m := questionRE.FindStringSubmatch(head)
			if m == nil {
				continue // unrelated heading
			}
			num, _ := strconv.Atoi(m[1])
			cur = &QAPair{Number: num, Question: m[2], File: name}
			continue
		}
		if cur == nil {
			continue
		}

		block := nodeText(n, src)
		if m := answerRE.FindStringSubmatch(block); m != nil {
			anum, _ := strconv.Atoi(m[1])
			if anum != cur.Number {
				return nil, fmt.Errorf("%s: answer A%d follows question Q%d", name, anum, cur.Number)
			}
			inAnswer = true
			cur.Answer = m[2]
			continue
		}
		// Continuation of whichever part is open.
		if inAnswer {
			cur.Answer += "\n" + block
		} else {
			cur.Question += "\n" + block
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("%s: no Q&A pairs found", name)
	}
	return pairs, nil
}

// nodeText flattens a block node to plain text, preserving line breaks.
func nodeText(n ast.Node, src []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := node.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				b.WriteByte('\n')
			}
		case *ast.String:
			b.Write(t.Value)
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}
