package scoring

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"contribledger/internal/models"
)

// ParseReply decodes a collaborator reply field by field. Missing, null or
// mistyped fields fall back to safe defaults: coherence and density are 0,
// redundancy is the full scale, metals award nothing, the verdict is a
// rejection and the justification is empty. Each such field is listed in
// Defaulted; an absent justification is simply empty. Unknown metals are
// dropped. A reply that is not a JSON object or that carries no usable
// score is an error.
func ParseReply(raw string) (Result, error) {
	raw = stripCodeFence(strings.TrimSpace(raw))
	if raw == "" {
		return Result{}, fmt.Errorf("empty scoring reply")
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(extractObject(raw)), &fields); err != nil {
		return Result{}, fmt.Errorf("decode scoring reply: %w", err)
	}
	if fields == nil {
		return Result{}, fmt.Errorf("scoring reply is not an object")
	}

	var res Result
	c, okC := readScore(fields["coherence"], 0, "coherence", &res.Defaulted)
	d, okD := readScore(fields["density"], 0, "density", &res.Defaulted)
	r, okR := readScore(fields["redundancy"], Scale, "redundancy", &res.Defaulted)
	if !okC && !okD && !okR {
		return Result{}, fmt.Errorf("scoring reply carries no usable scores")
	}
	res.Coherence, res.Density, res.Redundancy = c, d, r

	if err := decodeField(fields["approved"], &res.Approved); err != nil {
		res.Approved = false
		res.Defaulted = append(res.Defaulted, "approved")
	}
	res.Metals = readMetals(fields["metals"], &res.Defaulted)
	if err := decodeField(fields["justification"], &res.Justification); err != nil && !errors.Is(err, errAbsent) {
		res.Justification = ""
		res.Defaulted = append(res.Defaulted, "justification")
	}
	res.Justification = strings.TrimSpace(res.Justification)
	return res, nil
}

var errAbsent = errors.New("field absent")

// decodeField unmarshals a present, non-null field into v.
func decodeField(raw json.RawMessage, v any) error {
	if isAbsent(raw) {
		return errAbsent
	}
	return json.Unmarshal(raw, v)
}

func isAbsent(raw json.RawMessage) bool {
	t := strings.TrimSpace(string(raw))
	return t == "" || t == "null"
}

// readScore reads a score on the 0..10000 scale, clamping out-of-range
// values. A fractional value in [0,1] is read as a ratio of the scale. A
// numeric string is accepted. ok is false when the default was used.
func readScore(raw json.RawMessage, def int64, field string, defaulted *[]string) (int64, bool) {
	var n json.Number
	if err := decodeField(raw, &n); err != nil {
		*defaulted = append(*defaulted, field)
		return def, false
	}
	f, err := n.Float64()
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		*defaulted = append(*defaulted, field)
		return def, false
	}
	if f > 0 && f < 1 && strings.Contains(n.String(), ".") {
		f *= Scale
	}
	switch {
	case f < 0:
		return 0, true
	case f > Scale:
		return Scale, true
	default:
		return int64(math.Round(f)), true
	}
}

// readMetals keeps the known metal names of a string array, first
// occurrence only. Anything other than an array awards nothing.
func readMetals(raw json.RawMessage, defaulted *[]string) []models.Metal {
	out := []models.Metal{}
	var items []json.RawMessage
	if err := decodeField(raw, &items); err != nil {
		*defaulted = append(*defaulted, "metals")
		return out
	}
	seen := map[models.Metal]bool{}
	for _, it := range items {
		var name string
		if json.Unmarshal(it, &name) != nil {
			continue
		}
		m, err := models.ParseMetal(name)
		if err != nil || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

func stripCodeFence(s string) string {
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
	}
	return strings.TrimSpace(s)
}

// extractObject trims prose around the outermost JSON object.
func extractObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}
