package locale

import "strings"

const (
	LanguageEnglish  = "english"
	LanguageHindi    = "hindi"
	LanguageHinglish = "hinglish"
)

// NormalizeLanguage 将 "hi-IN"、"en_US"、"hinglish" 等写法归一为受支持的语言，无法识别时返回空串。
func NormalizeLanguage(raw string) string {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	trimmed = strings.ReplaceAll(trimmed, "_", "-")
	if trimmed == "" {
		return ""
	}

	switch {
	case trimmed == LanguageHinglish, trimmed == "hi-latn", strings.HasPrefix(trimmed, "hi-latn-"):
		return LanguageHinglish
	case trimmed == LanguageHindi, trimmed == "hi", strings.HasPrefix(trimmed, "hi-"):
		return LanguageHindi
	case trimmed == LanguageEnglish, trimmed == "en", strings.HasPrefix(trimmed, "en-"):
		return LanguageEnglish
	}
	return ""
}

// LanguageFromAcceptLanguage 取 Accept-Language 中第一个可识别的语言，忽略权重。
func LanguageFromAcceptLanguage(header string) string {
	for _, part := range strings.Split(header, ",") {
		tag, _, _ := strings.Cut(part, ";")
		if language := NormalizeLanguage(tag); language != "" {
			return language
		}
	}
	return ""
}

// Resolve 优先使用显式参数，其次是请求头，最后回退到英文。
func Resolve(explicit, acceptLanguage string) string {
	if language := NormalizeLanguage(explicit); language != "" {
		return language
	}
	if language := LanguageFromAcceptLanguage(acceptLanguage); language != "" {
		return language
	}
	return LanguageEnglish
}
