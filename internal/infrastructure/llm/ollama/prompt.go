package ollama

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kirillkom/financial-risk-analyzer/internal/core/domain"
)

const (
	labelStructured     = "结构化数据"
	labelSemiStructured = "半结构化数据"
	labelUnstructured   = "非结构化数据"
)

const structurePrinciple = `结构化数据：数据是否以表格形式存在，每行和每列都有明确的字段和数据类型。
半结构化数据：数据是否包含键值对、分隔符或嵌套结构。
非结构化数据：数据是否为自由文本或多媒体内容，没有固定的格式。`

const maxSnippetRunes = 4000

func buildStructurePrompt(text string) string {
	return "现在需要你对以下文件内容：\n\n" + truncateRunes(text, maxSnippetRunes) +
		"\n\n深度分析该文件的结构化程度\n分类标准如下:\n" + structurePrinciple +
		"\n注意你的回答只能是 结构化数据/半结构化数据/非结构化数据，不用给出理由"
}

func buildFieldPrompt(fieldPrompt, text string) string {
	return fieldPrompt + "\n" + text
}

// englishLabels are accepted only as the whole answer.
var englishLabels = map[string]domain.StructuralLabel{
	"structured":      domain.LabelStructured,
	"semi-structured": domain.LabelSemiStructured,
	"semi structured": domain.LabelSemiStructured,
	"unstructured":    domain.LabelUnstructured,
}

// ParseStructuralLabel maps an oracle answer to a label. The answer must name
// exactly one label; anything else is unstructured.
func ParseStructuralLabel(answer string) domain.StructuralLabel {
	a := strings.ToLower(strings.TrimFunc(answer, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	}))
	if label, ok := englishLabels[a]; ok {
		return label
	}

	// 结构化数据 is a suffix of the other two labels.
	unstructured := strings.Count(a, labelUnstructured)
	semi := strings.Count(a, labelSemiStructured)
	structured := strings.Count(a, labelStructured) - unstructured - semi

	named := 0
	label := domain.LabelUnstructured
	for _, c := range []struct {
		n     int
		label domain.StructuralLabel
	}{
		{structured, domain.LabelStructured},
		{semi, domain.LabelSemiStructured},
		{unstructured, domain.LabelUnstructured},
	} {
		if c.n > 0 {
			named++
			label = c.label
		}
	}
	if named != 1 {
		return domain.LabelUnstructured
	}
	return label
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
