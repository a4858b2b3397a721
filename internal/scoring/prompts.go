package scoring

import (
	"fmt"
	"strings"

	"contribledger/internal/util"
)

const PromptTemplate = `You are a reviewer scoring a contribution against an archive of prior work.
Judge the candidate on its own merit and on how much it repeats the archive.

Output STRICT JSON with this schema:
{
  "coherence": 0,
  "density": 0,
  "redundancy": 0,
  "metals": ["gold|silver|copper"],
  "approved": false,
  "justification": "one short paragraph"
}

Rules:
- coherence, density and redundancy are integers in [0,10000].
- redundancy is high when the candidate repeats archived work.
- metals lists zero or more award categories.
- Return JSON only. No markdown.

Redundancy summary: %s

Archive context:
%s

Candidate title: %s
Candidate text:
%s`

// BuildPrompt renders the scoring prompt. The candidate text is truncated
// to maxRunes.
func BuildPrompt(req Request, maxRunes int) string {
	var ctxLines strings.Builder
	if len(req.Context) == 0 {
		ctxLines.WriteString("(none)\n")
	}
	for i, e := range req.Context {
		fmt.Fprintf(&ctxLines, "[%d] %s (%s, similarity %.2f): %s\n", i+1, e.Title, e.Status, e.Similarity, e.Snippet)
	}
	return fmt.Sprintf(PromptTemplate, req.RedundancySummary, strings.TrimSpace(ctxLines.String()), strings.TrimSpace(req.Title), truncateRunes(req.Text, maxRunes))
}

func truncateRunes(s string, n int) string {
	s = util.SanitizeText(s)
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "\n[truncated]"
}
