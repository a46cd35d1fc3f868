package rag

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/nikhilbhutani/docqa/internal/models"
	"github.com/nikhilbhutani/docqa/pkg/tokenizer"
)

const (
	// UnitSeparator joins labeled chunks in an assembled context.
	UnitSeparator = "\n\n---\n\n"

	DefaultContextBudget = 12000
)

// RetrievedChunk is a ranked search hit with its source identity.
type RetrievedChunk struct {
	ID           string
	DocumentID   string
	DocumentName string
	Index        int
	Text         string
	Score        float64
}

// Measure returns the budgeted size of a string.
type Measure func(string) int

// Chars measures in characters.
func Chars(s string) int { return utf8.RuneCountInString(s) }

// Tokens measures in cl100k tokens.
func Tokens(s string) int { return tokenizer.CountTokens(s) }

// MeasureFor returns the measure for a budget unit: "tokens" or "chars".
func MeasureFor(unit string) (Measure, error) {
	switch unit {
	case "", "chars":
		return Chars, nil
	case "tokens":
		return Tokens, nil
	default:
		return nil, fmt.Errorf("%w: unknown context budget unit %q", models.ErrConfiguration, unit)
	}
}

// FormatUnit labels a chunk with the document it came from.
func FormatUnit(c RetrievedChunk) string {
	return "[From: " + c.DocumentName + "]\n" + c.Text
}

// Assembled is a bounded context string and the chunks it contains.
type Assembled struct {
	Text     string
	Included []RetrievedChunk
}

// Assembler packs ranked chunks into a context that fits a budget. Units are
// never cut: it keeps whole units in rank order and stops at the first one
// that does not fit. A first unit that alone exceeds the budget is kept whole.
type Assembler struct {
	budget  int
	measure Measure
}

// NewAssembler returns an Assembler; a budget <= 0 disables the limit and a
// nil measure counts characters.
func NewAssembler(budget int, measure Measure) *Assembler {
	if measure == nil {
		measure = Chars
	}
	return &Assembler{budget: budget, measure: measure}
}

func (a *Assembler) Budget() int { return a.budget }

func (a *Assembler) Build(chunks []RetrievedChunk) Assembled {
	if len(chunks) == 0 {
		return Assembled{}
	}

	units := make([]string, len(chunks))
	for i, c := range chunks {
		units[i] = FormatUnit(c)
	}

	joined := strings.Join(units, UnitSeparator)
	if a.budget <= 0 || a.measure(joined) <= a.budget {
		return Assembled{Text: joined, Included: chunks}
	}

	var sb strings.Builder
	n := 0
	for i, u := range units {
		candidate := u
		if i > 0 {
			candidate = sb.String() + UnitSeparator + u
		}
		if a.measure(candidate) > a.budget {
			if i == 0 {
				sb.WriteString(u)
				n = 1
			}
			break
		}
		sb.Reset()
		sb.WriteString(candidate)
		n = i + 1
	}
	return Assembled{Text: sb.String(), Included: chunks[:n]}
}

// Assemble is Build with a character budget, returning only the text.
func Assemble(chunks []RetrievedChunk, budget int) string {
	return NewAssembler(budget, Chars).Build(chunks).Text
}
