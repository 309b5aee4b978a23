package pipeline

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/financial-risk-analyzer/internal/core/domain"
)

// ValueExtractor pulls a terse value out of a verbose oracle answer.
type ValueExtractor struct {
	Name    string
	Extract func(response string) (string, bool)
}

// FieldChain tries extractors in priority order; the first match wins.
type FieldChain []ValueExtractor

var (
	codeFencePattern = regexp.MustCompile("(?s)```(.*?)```")
	dashPattern      = regexp.MustCompile(`(?s)-(.*?)(?:\n|$|。)`)
	colonPattern     = regexp.MustCompile(`(?s)[：:](.*?)(?:\n|$|。)`)
	quotePattern     = regexp.MustCompile(`“(.*?)”`)
	pipePattern      = regexp.MustCompile(`(?s)\|(.*?)(?:\n|$|。)`)
)

const isolatedLineMaxRunes = 30

// DefaultFieldChain returns code_fence, dash, isolated_line, colon, quote, pipe.
func DefaultFieldChain() FieldChain {
	return FieldChain{
		{Name: "code_fence", Extract: firstMatch(codeFencePattern)},
		{Name: "dash", Extract: firstMatch(dashPattern)},
		{Name: "isolated_line", Extract: lastIsolatedLine},
		{Name: "colon", Extract: firstMatch(colonPattern)},
		{Name: "quote", Extract: lastMatch(quotePattern)},
		{Name: "pipe", Extract: firstMatch(pipePattern)},
	}
}

// Extract returns the first extractor's value, or UnknownValue when none match.
func (c FieldChain) Extract(response string) (value, extractor string) {
	for _, e := range c {
		if v, ok := e.Extract(response); ok {
			return v, e.Name
		}
	}
	return domain.UnknownValue, ""
}

func matches(re *regexp.Regexp, response string) []string {
	found := re.FindAllStringSubmatch(response, -1)
	out := make([]string, 0, len(found))
	for _, m := range found {
		if v := strings.TrimSpace(m[1]); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func firstMatch(re *regexp.Regexp) func(string) (string, bool) {
	return func(response string) (string, bool) {
		found := matches(re, response)
		if len(found) == 0 {
			return "", false
		}
		return found[0], true
	}
}

func lastMatch(re *regexp.Regexp) func(string) (string, bool) {
	return func(response string) (string, bool) {
		found := matches(re, response)
		if len(found) == 0 {
			return "", false
		}
		return found[len(found)-1], true
	}
}

// lastIsolatedLine finds single short lines enclosed by blank lines,
// excluding the last line of the response.
func lastIsolatedLine(response string) (string, bool) {
	normalized := strings.TrimSuffix(strings.ReplaceAll(response, "\r\n", "\n"), "\n")
	lines := strings.Split(normalized, "\n")
	var found []string
	i := 0
	for i < len(lines) {
		if strings.TrimSpace(lines[i]) != "" {
			i++
			continue
		}
		start := i + 1
		end := start
		for end < len(lines) && strings.TrimSpace(lines[end]) != "" {
			end++
		}
		if end-start == 1 && start != len(lines)-1 && start != 0 && utf8.RuneCountInString(lines[start]) < isolatedLineMaxRunes {
			found = append(found, strings.TrimSpace(lines[start]))
		}
		i = end
	}
	if len(found) == 0 {
		return "", false
	}
	return found[len(found)-1], true
}

// FlagValue reduces a yes/no answer to 是 or 否.
func FlagValue(response string) string {
	if strings.Contains(response, "是欺诈") && !strings.Contains(response, "不是欺诈") {
		return "是"
	}
	return "否"
}

// FieldValue derives the stored value of field from an oracle response.
func FieldValue(chain FieldChain, field domain.FieldSpec, response string) string {
	switch field.Kind {
	case domain.FieldPassthrough:
		if v := strings.TrimSpace(response); v != "" {
			return v
		}
		return domain.UnknownValue
	case domain.FieldFlag:
		return FlagValue(response)
	default:
		v, _ := chain.Extract(response)
		return v
	}
}
