package agent

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Contradiction is one unit/context key that the knowledge base associates
// with more than one numeric value.
type Contradiction struct {
	Unit    string
	Context string
	Values  []string
}

var (
	sentenceSplit = regexp.MustCompile(`[.!?;]\s+|\n+`)
	factToken     = regexp.MustCompile(`\$\s?\d[\d,]*(?:\.\d+)?|\d[\d,]*(?:\.\d+)?(?:\s?%)?|[a-z]+`)
)

var units = map[string]string{
	"hour": "hour", "hours": "hour", "hr": "hour", "hrs": "hour",
	"minute": "minute", "minutes": "minute", "min": "minute", "mins": "minute",
	"day": "day", "days": "day",
	"week": "week", "weeks": "week",
	"month": "month", "months": "month",
	"year": "year", "years": "year",
	"dollar": "usd", "dollars": "usd", "usd": "usd",
	"percent": "percent",
}

// contextStopwords never serve as the context token of a fact.
var contextStopwords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "of": true,
	"to": true, "in": true, "on": true, "at": true, "by": true, "for": true,
	"from": true, "with": true, "within": true, "after": true, "before": true,
	"up": true, "over": true, "under": true, "about": true, "around": true,
	"approximately": true, "roughly": true, "only": true, "just": true,
	"is": true, "are": true, "was": true, "be": true, "been": true, "will": true,
	"can": true, "may": true, "must": true, "should": true, "have": true, "has": true,
	"it": true, "its": true, "our": true, "your": true, "we": true, "you": true,
	"they": true, "their": true, "this": true, "that": true, "these": true,
	"per": true, "each": true, "every": true, "all": true, "any": true,
	"least": true, "most": true, "than": true, "more": true, "less": true,
	"usually": true, "typically": true, "normally": true, "always": true,
	"take": true, "takes": true, "taken": true, "get": true, "gets": true,
	"processed": true, "process": true, "available": true, "costs": true,
	"cost": true, "price": true, "priced": true, "charge": true, "charged": true,
	"lasts": true, "last": true, "valid": true, "applies": true,
}

type numericFact struct {
	unit    string
	context string
	value   string
}

// FindContradictions scans the knowledge base for facts that share a unit
// and a context token but disagree on the number, e.g. "refunds within 48
// hours" next to "refunds within 24 hours".
func FindContradictions(kb string) []Contradiction {
	if strings.TrimSpace(kb) == "" {
		return nil
	}

	values := make(map[[2]string]map[string]struct{})
	for _, sentence := range sentenceSplit.Split(strings.ToLower(kb), -1) {
		for _, f := range extractFacts(sentence) {
			k := [2]string{f.unit, f.context}
			if values[k] == nil {
				values[k] = make(map[string]struct{})
			}
			values[k][f.value] = struct{}{}
		}
	}

	var out []Contradiction
	for k, set := range values {
		if len(set) < 2 {
			continue
		}
		c := Contradiction{Unit: k[0], Context: k[1]}
		for v := range set {
			c.Values = append(c.Values, v)
		}
		sort.Strings(c.Values)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Unit != out[j].Unit {
			return out[i].Unit < out[j].Unit
		}
		return out[i].Context < out[j].Context
	})
	return out
}

func extractFacts(sentence string) []numericFact {
	tokens := factToken.FindAllString(sentence, -1)
	var facts []numericFact
	for i, tok := range tokens {
		value, unit, ok := parseQuantity(tok)
		if !ok {
			continue
		}
		if unit == "" && i+1 < len(tokens) {
			unit = units[tokens[i+1]]
		}
		if unit == "" {
			continue
		}
		ctx := contextToken(tokens, i)
		if ctx == "" {
			continue
		}
		facts = append(facts, numericFact{unit: unit, context: ctx, value: value})
	}
	return facts
}

// parseQuantity reads a numeric token. A leading "$" or trailing "%" carries
// the unit with it.
func parseQuantity(tok string) (value, unit string, ok bool) {
	switch {
	case strings.HasPrefix(tok, "$"):
		unit = "usd"
		tok = strings.TrimSpace(strings.TrimPrefix(tok, "$"))
	case strings.HasSuffix(tok, "%"):
		unit = "percent"
		tok = strings.TrimSpace(strings.TrimSuffix(tok, "%"))
	}
	if tok == "" || tok[0] < '0' || tok[0] > '9' {
		return "", "", false
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(tok, ",", ""), 64)
	if err != nil {
		return "", "", false
	}
	return strconv.FormatFloat(f, 'f', -1, 64), unit, true
}

// contextLookback bounds how far before a number its context may sit.
const contextLookback = 5

// clauseBreaks end the clause a number belongs to.
var clauseBreaks = map[string]bool{
	"and": true, "or": true, "but": true, "while": true, "whereas": true, "then": true,
}

// contextToken is the nearest significant word before the number within its
// clause, or after it when nothing qualifies before. Another quantity also
// ends the clause, so "3 days in the us and 7 days abroad" gives the 7 its
// own context.
func contextToken(tokens []string, at int) string {
	for i := at - 1; i >= 0 && at-i <= contextLookback; i-- {
		if clauseBreaks[tokens[i]] || isQuantity(tokens[i]) {
			break
		}
		if w := significant(tokens[i]); w != "" {
			return w
		}
	}
	for i := at + 1; i < len(tokens); i++ {
		if clauseBreaks[tokens[i]] || isQuantity(tokens[i]) {
			break
		}
		if w := significant(tokens[i]); w != "" {
			return w
		}
	}
	return ""
}

func isQuantity(tok string) bool {
	_, _, ok := parseQuantity(tok)
	return ok
}

func significant(tok string) string {
	if tok == "" || tok[0] < 'a' || tok[0] > 'z' {
		return ""
	}
	if contextStopwords[tok] || units[tok] != "" || len(tok) < 3 {
		return ""
	}
	return singular(tok)
}

func singular(w string) string {
	switch {
	case len(w) > 4 && strings.HasSuffix(w, "ies"):
		return w[:len(w)-3] + "y"
	case len(w) > 3 && strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss"):
		return w[:len(w)-1]
	}
	return w
}
