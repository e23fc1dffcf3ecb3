package processor

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const defaultHashtag = "#News"

// FormatHashtags 把 "Star Trek: Picard, lower decks" 这类标签文本转成 "#StarTrekPicard #LowerDecks"。
// 逗号、分号、竖线、换行分隔不同标签；标签内部的空白与标点只用于切词。
func FormatHashtags(tags string) string {
	groups := strings.FieldsFunc(tags, func(r rune) bool {
		return r == ',' || r == ';' || r == '|' || r == '\n'
	})

	seen := make(map[string]struct{}, len(groups))
	out := make([]string, 0, len(groups))
	for _, g := range groups {
		tag := camelTag(g)
		if tag == "" {
			continue
		}
		key := strings.ToLower(tag)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, tag)
	}

	if len(out) == 0 {
		return defaultHashtag
	}
	return strings.Join(out, " ")
}

func camelTag(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "#") && !strings.ContainsFunc(s[1:], unicode.IsSpace) && len(s) > 1 {
		return s
	}

	words := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteByte('#')
	for _, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		b.WriteRune(unicode.ToUpper(r))
		b.WriteString(w[size:])
	}
	return b.String()
}
