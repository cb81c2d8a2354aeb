package trace

import (
	"context"
	"fmt"
	"strings"

	"github.com/fatih/color"

	"github.com/stable-net/evmcov/pkg/analysis"
	"github.com/stable-net/evmcov/pkg/source"
)

var (
	failColor      = color.New(color.FgRed)
	highlightColor = color.New(color.FgHiYellow, color.Bold)
	hashColor      = color.New(color.FgHiBlue)
)

// CallTrace renders the call tree of tx: one line per external call and
// internal function jump, with the step range it covers.
func CallTrace(ctx context.Context, tx *Transaction) (string, error) {
	steps, err := tx.Steps(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Call trace for '%s':", hashColor.Sprint(tx.Hash.Hex())) + callTree(steps, tx.Failed()), nil
}

func callTree(steps []Step, failed bool) string {
	if len(steps) == 0 {
		return ""
	}
	var b strings.Builder
	last := steps[len(steps)-1]
	indent := map[int]int{steps[0].Depth: 0}

	for i, st := range steps {
		if i > 0 {
			prev := steps[i-1]
			switch {
			case st.Depth > prev.Depth:
				indent[st.Depth] = indent[prev.Depth] + prev.JumpDepth + 1
			case st.Depth == prev.Depth && st.JumpDepth > prev.JumpDepth:
			default:
				continue
			}
		}
		end := frameEnd(steps, i)
		level := indent[st.Depth] + st.JumpDepth

		line := fmt.Sprintf("%s %d:%d", st.Function, i, end)
		if st.JumpDepth == 0 {
			line += fmt.Sprintf("  (%s)", st.Address.Hex())
		}
		if failed && end == len(steps)-1 && last.IsFailure() && last.Depth == st.Depth && last.JumpDepth == st.JumpDepth {
			line = failColor.Sprint(line)
		}
		b.WriteString("\n" + strings.Repeat("  ", level))
		if level > 0 {
			b.WriteString("∟ ")
		}
		b.WriteString(line)
	}
	return b.String()
}

// frameEnd returns the last step of the frame or function entered at i.
func frameEnd(steps []Step, i int) int {
	depth, jump := steps[i].Depth, steps[i].JumpDepth
	for k := i + 1; k < len(steps); k++ {
		if steps[k].Depth < depth || (steps[k].Depth == depth && steps[k].JumpDepth < jump) {
			return k - 1
		}
	}
	return len(steps) - 1
}

// Traceback renders the source of the failing step of tx and of every call
// site leading to it, outermost first. It is empty for traces without a
// REVERT or INVALID.
func Traceback(ctx context.Context, tx *Transaction, pad int) (string, error) {
	steps, err := tx.Steps(ctx)
	if err != nil {
		return "", err
	}
	picked := tracebackSteps(steps)
	if len(picked) == 0 {
		return "", nil
	}
	var b strings.Builder
	b.WriteString(failColor.Sprintf("Traceback for '%s':", tx.Hash.Hex()))
	for _, idx := range picked {
		if s := SourceString(tx.session, steps, idx, pad); s != "" {
			b.WriteString("\n" + s)
		}
	}
	return b.String(), nil
}

func tracebackSteps(steps []Step) []int {
	idx := -1
	for i := range steps {
		if steps[i].IsFailure() {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}

	var picked []int
	for i := idx; i >= 0; i-- {
		if steps[i].Source != nil {
			picked = append(picked, i)
			break
		}
	}
	depth, jump := steps[idx].Depth, steps[idx].JumpDepth
	for {
		found := -1
		for i := idx; i >= 0; i-- {
			if steps[i].Depth < depth || (steps[i].Depth == depth && steps[i].JumpDepth < jump) {
				found = i
				break
			}
		}
		if found < 0 {
			break
		}
		picked = append(picked, found)
		depth, jump = steps[found].Depth, steps[found].JumpDepth
	}

	for l, r := 0, len(picked)-1; l < r; l, r = l+1, r-1 {
		picked[l], picked[r] = picked[r], picked[l]
	}
	return picked
}

// SourceString renders the source of step idx with pad lines of context.
// It is empty when the step has no source.
func SourceString(session *analysis.Session, steps []Step, idx, pad int) string {
	st := steps[idx]
	if st.Source == nil {
		return ""
	}
	c, ok := session.ContractAt(st.Address)
	if !ok {
		return ""
	}
	text, ok := c.Text(st.Source.Path)
	if !ok {
		return ""
	}
	ex, ok := source.NewExcerpt(text, st.Source.Span, pad)
	if !ok {
		return ""
	}

	lines := fmt.Sprintf("line %d", ex.Lines[0])
	if ex.Lines[1] != ex.Lines[0] {
		lines = fmt.Sprintf("lines %d-%d", ex.Lines[0], ex.Lines[1])
	}
	return fmt.Sprintf("Trace step %d, program counter %d:\n  File \"%s\", %s, in %s:%s",
		idx, st.PC, st.Source.Path, lines, st.Function, excerpt(ex))
}

func excerpt(ex source.Excerpt) string {
	body := ex.Before + highlightColor.Sprint(ex.Highlight) + ex.After
	return "\n    " + strings.ReplaceAll(body, "\n", "\n    ")
}
