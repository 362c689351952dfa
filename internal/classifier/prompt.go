package classifier

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"text/template"
	"unicode"

	"spendwise/internal/core"
)

// Prompt is one rendered system and user message pair.
type Prompt struct {
	System string
	User   string
}

// templateData is what the user template can reference.
type templateData struct {
	Description    string
	Amount         string
	Channel        string
	SourceCategory string
}

// BuildPrompt renders the taxonomy into the system message and req into
// the user message.
func BuildPrompt(req Request, tax core.Taxonomy, tmpl *template.Template) (Prompt, error) {
	if tax.IsEmpty() {
		return Prompt{}, fmt.Errorf("%w: empty taxonomy", core.ErrInvalidTaxonomy)
	}

	var sys strings.Builder
	sys.WriteString("You categorize personal expenses. Choose exactly one category pair from this list.\n\n")
	for _, c := range tax.Categories() {
		sys.WriteString("- ")
		sys.WriteString(c.Name)
		if len(c.Children) > 0 {
			sys.WriteString(": ")
			sys.WriteString(strings.Join(c.Children, ", "))
		}
		sys.WriteByte('\n')
	}
	sys.WriteString("\nReply with exactly two lines and nothing else:\n")
	sys.WriteString("L1 Category: <top-level name>\n")
	sys.WriteString("L2 Category: <sub-category name under that top level>\n")

	var user bytes.Buffer
	err := tmpl.Execute(&user, templateData{
		Description:    req.Text,
		Amount:         core.FormatAmount(req.Amount),
		Channel:        string(req.Channel),
		SourceCategory: req.SourceCategory,
	})
	if err != nil {
		return Prompt{}, fmt.Errorf("render user template: %w", err)
	}
	return Prompt{System: sys.String(), User: user.String()}, nil
}

var (
	l1Line = labelPattern("L1")
	l2Line = labelPattern("L2")
)

// labelPattern matches "L1 Category: x" with optional bullets, bold
// markers and a full-width colon.
func labelPattern(level string) *regexp.Regexp {
	return regexp.MustCompile(`(?im)^[ \t>*•-]*(?:\*\*)?` + level + `[ \t_-]*category(?:\*\*)?[ \t]*[:：](.*)$`)
}

// cleanValue drops whitespace (CR and U+3000 included) and the quoting
// or closing punctuation models wrap labels in.
func cleanValue(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || strings.ContainsRune("*`\"'“”。.", r)
	})
}

// ParseReply extracts the category pair and checks it against tax.
func ParseReply(reply string, tax core.Taxonomy) (Result, error) {
	reply = strings.ReplaceAll(reply, "\r\n", "\n")
	m1 := l1Line.FindStringSubmatch(reply)
	m2 := l2Line.FindStringSubmatch(reply)
	if m1 == nil || m2 == nil {
		return Result{}, fmt.Errorf("%w: %q", ErrUnparseableReply, truncate(reply, 200))
	}

	l1 := cleanValue(m1[1])
	l2 := cleanValue(m2[1])
	if l1 == "" {
		return Result{}, fmt.Errorf("%w: empty L1", ErrUnparseableReply)
	}
	if !tax.Has(l1) {
		return Result{}, fmt.Errorf("%w: L1 %q", ErrUnknownCategory, l1)
	}
	if l2 == "" {
		if len(tax.L2Names(l1)) > 0 {
			return Result{}, fmt.Errorf("%w: L1 %q needs an L2", ErrUnknownCategory, l1)
		}
		return Result{L1: l1}, nil
	}
	if !tax.HasPair(l1, l2) {
		return Result{}, fmt.Errorf("%w: L2 %q under %q", ErrUnknownCategory, l2, l1)
	}
	return Result{L1: l1, L2: l2}, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
