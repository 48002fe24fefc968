// Package i18n renders the party messages returned by the API in the singer's
// language.
package i18n

import (
	"fmt"

	"golang.org/x/text/language"
)

const (
	English = "en"
	German  = "de"

	// DefaultLanguage is used when a request names no supported language and
	// for keys a table lacks.
	DefaultLanguage = English

	genericErrorKey = "error.generic"
)

// tables is indexed like supportedTags; the matcher reports that index.
var (
	tables = []struct {
		code     string
		messages map[string]string
	}{
		{English, englishMessages},
		{German, germanMessages},
	}
	supportedTags = []language.Tag{language.English, language.German}
	matcher       = language.NewMatcher(supportedTags)
)

// Localizer formats messages from one language table, falling back to English
// per key.
type Localizer struct {
	language string
	messages map[string]string
}

// NewLocalizer returns the localizer for a language code. Unknown codes get
// English.
func NewLocalizer(code string) *Localizer {
	for _, t := range tables {
		if t.code == code {
			return &Localizer{language: code, messages: t.messages}
		}
	}
	return &Localizer{language: DefaultLanguage, messages: englishMessages}
}

// Negotiate picks a localizer from language preferences, most important
// first. Each preference is an Accept-Language value (a bare tag such as "de"
// is one too); q-weights order the tags within a value and tags weighted zero
// are dropped. fallback is used when nothing matches a supported language.
func Negotiate(fallback string, preferences ...string) *Localizer {
	var wanted []language.Tag
	for _, p := range preferences {
		if p == "" {
			continue
		}
		tags, _, err := language.ParseAcceptLanguage(p)
		if err != nil {
			continue
		}
		wanted = append(wanted, tags...)
	}
	if len(wanted) == 0 {
		return NewLocalizer(fallback)
	}

	_, index, confidence := matcher.Match(wanted...)
	if confidence == language.No || index < 0 || index >= len(tables) {
		return NewLocalizer(fallback)
	}
	return NewLocalizer(tables[index].code)
}

// T translates a message key. Unknown keys come back unchanged.
func (l *Localizer) T(key string, args ...any) string {
	message, ok := l.messages[key]
	if !ok {
		if message, ok = englishMessages[key]; !ok {
			return key
		}
	}
	if len(args) > 0 {
		return fmt.Sprintf(message, args...)
	}
	return message
}

// Error returns the message for an error status label such as "not_found".
// Statuses without a message of their own read as the generic error.
func (l *Localizer) Error(status string) string {
	key := "error." + status
	if _, ok := englishMessages[key]; !ok {
		key = genericErrorKey
	}
	return l.T(key)
}

// Song renders a song for messages: "Artist - Title" when both are known,
// the title alone without an artist, and the media path when neither is set.
func (l *Localizer) Song(artist, title, path string) string {
	switch {
	case artist == "" && title == "":
		return path
	case artist == "":
		return title
	}
	return l.T("format.song", artist, title)
}

func (l *Localizer) Language() string {
	return l.language
}

// GetSupportedLanguages lists the language codes with a message table.
func GetSupportedLanguages() []string {
	codes := make([]string, len(tables))
	for i, t := range tables {
		codes[i] = t.code
	}
	return codes
}
