package config

// SupportedLanguages is the fixed set of conversation languages, keyed by
// two-letter code. The code is passed through to the assistant opaquely.
var SupportedLanguages = map[string]string{
	"en": "English",
	"hi": "Hindi",
	"kn": "Kannada",
	"te": "Telugu",
	"ta": "Tamil",
	"ml": "Malayalam",
	"mr": "Marathi",
	"bn": "Bengali",
	"gu": "Gujarati",
	"pa": "Punjabi",
}

// IsSupportedLanguage reports whether code is in the fixed language set.
func IsSupportedLanguage(code string) bool {
	_, ok := SupportedLanguages[code]
	return ok
}

// NormalizeLanguage maps unknown codes to English, mirroring the assistant
// service's own fallback so both sides agree on the effective language.
func NormalizeLanguage(code string) string {
	if IsSupportedLanguage(code) {
		return code
	}
	return "en"
}
