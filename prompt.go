package rewriter

import (
	"fmt"
	"strings"
)

// languageNames maps supported language codes to the name used in prompts.
var languageNames = map[string]string{
	"en": "English",
	"es": "Spanish",
	"fr": "French",
	"de": "German",
	"it": "Italian",
	"pt": "Portuguese",
	"hi": "Hindi",
	"zh": "Chinese",
	"ja": "Japanese",
	"ko": "Korean",
	"ar": "Arabic",
	"ru": "Russian",
}

// LanguageName returns the prompt name for a language code. Unknown codes
// return "English" and false.
func LanguageName(code string) (string, bool) {
	name, ok := languageNames[strings.ToLower(strings.TrimSpace(code))]
	if !ok {
		return languageNames["en"], false
	}
	return name, true
}

// isEnglish treats an empty code as English.
func isEnglish(code string) bool {
	code = strings.ToLower(strings.TrimSpace(code))
	return code == "" || code == "en"
}

const englishTemplate = `Rewrite the following text in a %s style.
Remove filler words (um, uh, like, you know), fix grammar, and make it clear and engaging.
Only output the rewritten text, nothing else.

Text: '%s'
`

const translateTemplate = `Translate the following text to %s and rewrite it in a %s style.
Remove filler words, fix grammar, and make it clear and engaging.
Only output the translated and rewritten text in %s, nothing else.

Text: '%s'
`

// BuildPrompt returns the instruction sent to the model for rewriting text in
// style and, for non-English targets, translating it to language.
func BuildPrompt(text, style, language string) string {
	if isEnglish(language) {
		return fmt.Sprintf(englishTemplate, style, text)
	}
	target, _ := LanguageName(language)
	return fmt.Sprintf(translateTemplate, target, style, target, text)
}
