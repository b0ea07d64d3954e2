package voice

import (
	"fmt"
	"sort"
	"strings"
)

type Voice struct {
	Language string
	Name     string
	Locale   string
}

var table = map[string]Voice{
	"ka":    {Language: "ka", Name: "ka-GE-EkaNeural", Locale: "ka-GE"},
	"ru":    {Language: "ru", Name: "ru-RU-SvetlanaNeural", Locale: "ru-RU"},
	"en":    {Language: "en", Name: "en-GB-SoniaNeural", Locale: "en-GB"},
	"en-us": {Language: "en-US", Name: "en-US-SteffanNeural", Locale: "en-US"},
}

// ForLanguage resolves a language code to its default voice.
func ForLanguage(lang string) (Voice, error) {
	key := strings.ToLower(strings.TrimSpace(lang))
	if v, ok := table[key]; ok {
		return v, nil
	}
	return Voice{}, fmt.Errorf("unsupported language %q (supported: %s)", lang, strings.Join(Languages(), ", "))
}

// Resolve returns explicit when set, otherwise the voice for lang.
func Resolve(lang, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	v, err := ForLanguage(lang)
	if err != nil {
		return "", err
	}
	return v.Name, nil
}

// LocaleOf extracts the locale prefix of a voice name such as en-GB-SoniaNeural.
func LocaleOf(name string) string {
	parts := strings.SplitN(name, "-", 3)
	if len(parts) < 3 {
		return "en-US"
	}
	return parts[0] + "-" + parts[1]
}

func List() []Voice {
	out := make([]Voice, 0, len(table))
	for _, v := range table {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Language < out[j].Language })
	return out
}

func Languages() []string {
	var langs []string
	for _, v := range List() {
		langs = append(langs, v.Language)
	}
	return langs
}
