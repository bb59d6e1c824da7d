// Package fingerprint derives the canonical cache key for a translation
// request. The same (text, source, target, format) always yields the same
// key, so identical requests collapse onto one cache row.
package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

// DefaultFormat is the format used when a request does not specify one.
const DefaultFormat = "plain"

// Key computes the cache key for a translation request.
//
// Normalization rules:
//   - text is stripped of leading/trailing whitespace; internal whitespace,
//     HTML tags, and template variables ({name}, %s, {0}) are preserved.
//   - language codes are lowercased and trimmed. Underscores are NOT
//     substituted here, so "zh_TW" and "zh-TW" produce different keys.
//   - format defaults to "plain" and is lowercased and trimmed.
//
// The composite "src|tgt|format|text" is hashed with MD5 and returned as
// 32 lowercase hex characters. MD5 is fine here: the key only needs good
// collision behaviour for a local cache, not cryptographic strength.
func Key(text, sourceLang, targetLang, format string) string {
	normText := strings.TrimSpace(text)
	normSource := strings.TrimSpace(strings.ToLower(sourceLang))
	normTarget := strings.TrimSpace(strings.ToLower(targetLang))

	if format == "" {
		format = DefaultFormat
	}
	normFormat := strings.TrimSpace(strings.ToLower(format))

	composite := normSource + "|" + normTarget + "|" + normFormat + "|" + normText
	sum := md5.Sum([]byte(composite))
	return hex.EncodeToString(sum[:])
}

// NormalizeLanguageCode normalizes a language code for display and filtering:
// lowercase, underscores replaced with hyphens, surrounding whitespace
// trimmed ("ZH_HANT" -> "zh-hant"). Note that Key deliberately does not
// apply the underscore substitution.
func NormalizeLanguageCode(lang string) string {
	return strings.TrimSpace(strings.ReplaceAll(strings.ToLower(lang), "_", "-"))
}
