// Package fingerprint derives the canonical cache key for a translation
// request. Two requests that normalize to the same (source, target, format,
// text) tuple always produce the same key.
package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

// DefaultFormat is used when a request does not specify a format.
const DefaultFormat = "plain"

// Key returns the 32-character lowercase hex fingerprint for a translation
// request.
//
// Normalization is part of the contract: leading/trailing whitespace of text
// is stripped (internal whitespace, HTML tags and template variables are
// preserved verbatim), language codes are lowercased and trimmed, and format
// defaults to "plain". Note that Key does not substitute underscores in
// language codes — "zh_TW" and "zh-TW" hash to different keys — while
// NormalizeLang does. Callers that want collapsed codes must normalize
// before hashing.
//
// MD5 is used for its collision characteristics, which are adequate for a
// local cache; this is not a security boundary.
func Key(text, sourceLang, targetLang, format string) string {
	normText := strings.TrimSpace(text)
	normSource := strings.TrimSpace(strings.ToLower(sourceLang))
	normTarget := strings.TrimSpace(strings.ToLower(targetLang))
	normFormat := strings.TrimSpace(strings.ToLower(format))
	if normFormat == "" {
		normFormat = DefaultFormat
	}

	composite := normSource + "|" + normTarget + "|" + normFormat + "|" + normText
	sum := md5.Sum([]byte(composite))
	return hex.EncodeToString(sum[:])
}

// NormalizeLang lowercases, trims, and converts underscores to hyphens:
// "EN" -> "en", "ZH_HANT" -> "zh-hant".
func NormalizeLang(lang string) string {
	return strings.TrimSpace(strings.ReplaceAll(strings.ToLower(lang), "_", "-"))
}
