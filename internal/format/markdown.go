// Package format converts light markdown into Telegram message entities.
package format

import (
	"regexp"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type ParseResult struct {
	Text     string
	Entities []tgbotapi.MessageEntity
}

// Groups: 1 header, 2 bold, 3 code, 4 italic.
var tokenRe = regexp.MustCompile("(?m)^#{1,6}[ \\t]+(.+?)$|\\*\\*(.+?)\\*\\*|`([^`\\n]+?)`|\\*([^*\\s](?:[^*\\n]*?[^*\\s])?)\\*")

var groupTypes = []string{"", "bold", "bold", "code", "italic"}

// UTF16Len returns the length of s in UTF-16 code units, which is what
// Telegram uses for entity offsets.
func UTF16Len(s string) int {
	n := 0
	for _, r := range s {
		if r >= 0x10000 {
			n += 2
		} else {
			n++
		}
	}
	return n
}

// ParseMarkdown strips **bold**, *italic*, `code` and # headers from text and
// returns the matching entities in offset order.
func ParseMarkdown(text string) ParseResult {
	var (
		out      strings.Builder
		entities []tgbotapi.MessageEntity
		offset   int
		last     int
	)

	for _, m := range tokenRe.FindAllStringSubmatchIndex(text, -1) {
		plain := text[last:m[0]]
		out.WriteString(plain)
		offset += UTF16Len(plain)

		for g := 1; g < len(groupTypes); g++ {
			start, end := m[2*g], m[2*g+1]
			if start < 0 {
				continue
			}
			inner := text[start:end]
			length := UTF16Len(inner)
			entities = append(entities, tgbotapi.MessageEntity{
				Type:   groupTypes[g],
				Offset: offset,
				Length: length,
			})
			out.WriteString(inner)
			offset += length
			break
		}
		last = m[1]
	}
	out.WriteString(text[last:])

	return ParseResult{
		Text:     strings.TrimRight(out.String(), " \n"),
		Entities: entities,
	}
}
