package textutil

import (
	"sort"
	"strings"

	"golang.org/x/text/language"
)

// NormalizeStringMap trims keys and values, removing entries with empty keys or values.
func NormalizeStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	result := make(map[string]string, len(values))
	for key, value := range values {
		trimmedKey := strings.TrimSpace(key)
		trimmedValue := strings.TrimSpace(value)
		if trimmedKey == "" || trimmedValue == "" {
			continue
		}
		result[trimmedKey] = trimmedValue
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

// MatchTranslation returns the translation whose language tag best matches lang. Keys that do not
// parse as BCP 47 tags are ignored. The boolean is false when nothing matches with at least low
// confidence.
func MatchTranslation(translations map[string]string, lang string) (string, bool) {
	lang = strings.ReplaceAll(strings.TrimSpace(lang), "_", "-")
	if lang == "" || len(translations) == 0 {
		return "", false
	}
	desired, err := language.Parse(lang)
	if err != nil {
		return "", false
	}

	keys := make([]string, 0, len(translations))
	for key := range translations {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var (
		tags   []language.Tag
		values []string
	)
	for _, key := range keys {
		value := strings.TrimSpace(translations[key])
		if value == "" {
			continue
		}
		tag, err := language.Parse(strings.ReplaceAll(strings.TrimSpace(key), "_", "-"))
		if err != nil {
			continue
		}
		tags = append(tags, tag)
		values = append(values, value)
	}
	if len(tags) == 0 {
		return "", false
	}

	_, index, confidence := language.NewMatcher(tags).Match(desired)
	if confidence == language.No {
		return "", false
	}
	return values[index], true
}
