package report

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
)

//go:embed en.json
var enLocale []byte

//go:embed tr.json
var trLocale []byte

// Language selects the locale report text is rendered in.
type Language string

const (
	LangEnglish Language = "en"
	LangTurkish Language = "tr"
)

// ParseLanguage maps a user-supplied language code onto a supported locale.
func ParseLanguage(code string) (Language, error) {
	switch strings.ToLower(strings.TrimSpace(code)) {
	case "", "en", "en-us", "en-gb", "english":
		return LangEnglish, nil
	case "tr", "tr-tr", "turkish":
		return LangTurkish, nil
	}
	return LangEnglish, fmt.Errorf("unsupported report language %q", code)
}

// Translator resolves message keys for one locale, falling back to English
// for keys the locale does not carry.
type Translator struct {
	lang     Language
	messages map[string]string
	fallback map[string]string
}

// NewTranslator builds a translator for the given locale. The embedded
// locale files are compiled in, so decode failures indicate a broken build
// and panic.
func NewTranslator(lang Language) Translator {
	en := mustDecodeLocale(enLocale)
	tr := Translator{lang: lang, messages: en, fallback: en}
	if lang == LangTurkish {
		tr.messages = mustDecodeLocale(trLocale)
	}
	return tr
}

// Lang reports the locale this translator renders.
func (tr Translator) Lang() Language { return tr.lang }

// T resolves a message key. Unknown keys are returned verbatim so a missing
// translation is visible in the output instead of silently blank.
func (tr Translator) T(key string) string {
	if msg, ok := tr.messages[key]; ok {
		return msg
	}
	if msg, ok := tr.fallback[key]; ok {
		return msg
	}
	return key
}

func mustDecodeLocale(raw []byte) map[string]string {
	var m map[string]string
	if err := json.Unmarshal(raw, &m); err != nil {
		panic(fmt.Sprintf("report: embedded locale is not valid JSON: %v", err))
	}
	return m
}
