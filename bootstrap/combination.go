package bootstrap

import (
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// The leading separator is part of the match; it is harmless because
	// only digit runs survive extraction.
	combiCookieRe = regexp.MustCompile(`(?i)(?:^|;)\s?(_vis_opt_exp_\d+_combi=[^;$]*)`)
	combiValidRe  = regexp.MustCompile(`_vis_opt_exp_\d+_combi=(?:\d+,?)+\s*$`)
	combiDigitsRe = regexp.MustCompile(`[\d,]+`)
)

// EncodeCombination builds the combination token from a raw cookie string
// in document.cookie form ("a=1; b=2").
//
// Each _vis_opt_exp_<n>_combi entry is URI-decoded and validated; entries
// that fail either step are dropped without affecting the others. Every
// accepted entry contributes its digit/comma runs joined by "-", and the
// entries are joined by "|" in the order they appear. The experiment number
// is one of those runs, so "_vis_opt_exp_12_combi=1,2" yields "12-1,2".
func EncodeCombination(cookie string) string {
	if cookie == "" {
		return ""
	}

	var parts []string
	for _, m := range combiCookieRe.FindAllString(cookie, -1) {
		decoded, ok := decodeURIComponent(m)
		if !ok || !combiValidRe.MatchString(decoded) {
			continue
		}
		runs := combiDigitsRe.FindAllString(decoded, -1)
		if len(runs) == 0 {
			continue
		}
		parts = append(parts, strings.Join(runs, "-"))
	}
	return strings.Join(parts, "|")
}

// CombinationFromCookies encodes the token from parsed cookies, such as
// those of an incoming *http.Request or an http.CookieJar.
func CombinationFromCookies(cookies []*http.Cookie) string {
	return EncodeCombination(CookieString(cookies))
}

// CookieString renders cookies the way document.cookie exposes them.
func CookieString(cookies []*http.Cookie) string {
	pairs := make([]string, 0, len(cookies))
	for _, c := range cookies {
		if c == nil || c.Name == "" {
			continue
		}
		pairs = append(pairs, c.Name+"="+c.Value)
	}
	return strings.Join(pairs, "; ")
}

// decodeURIComponent mirrors the browser function: "+" is kept, malformed
// escapes and invalid UTF-8 are errors.
func decodeURIComponent(s string) (string, bool) {
	out, err := url.PathUnescape(s)
	if err != nil || !utf8.ValidString(out) {
		return "", false
	}
	return out, true
}
