package store

import (
	"strings"
	"unicode/utf8"
)

// LikeEscape is the escape character used in every LIKE pattern built by
// this package. SQL backends render it with an explicit ESCAPE clause.
const LikeEscape = '\\'

// EscapeLike escapes the LIKE wildcards and the escape character in s so it
// matches literally.
func EscapeLike(s string) string {
	if !strings.ContainsAny(s, `%_\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 4)
	for _, r := range s {
		if r == '%' || r == '_' || r == LikeEscape {
			b.WriteRune(LikeEscape)
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ContainsPattern returns a LIKE pattern matching any value containing text.
func ContainsPattern(text string) string {
	return "%" + EscapeLike(text) + "%"
}

// MatchLike reports whether s matches the LIKE pattern. Matching is
// case-insensitive for ASCII letters, like SQLite's default LIKE.
func MatchLike(s, pattern string) bool {
	return matchLike(strings.ToLower(s), strings.ToLower(pattern))
}

func matchLike(s, p string) bool {
	for len(p) > 0 {
		r, n := utf8.DecodeRuneInString(p)
		switch r {
		case '%':
			p = p[n:]
			if len(p) == 0 {
				return true
			}
			for i := 0; i <= len(s); {
				if matchLike(s[i:], p) {
					return true
				}
				if i == len(s) {
					break
				}
				_, sz := utf8.DecodeRuneInString(s[i:])
				i += sz
			}
			return false
		case '_':
			if len(s) == 0 {
				return false
			}
			_, sz := utf8.DecodeRuneInString(s)
			s, p = s[sz:], p[n:]
		default:
			if r == LikeEscape && len(p) > n {
				p = p[n:]
				r, n = utf8.DecodeRuneInString(p)
			}
			sr, sz := utf8.DecodeRuneInString(s)
			if len(s) == 0 || sr != r {
				return false
			}
			s, p = s[sz:], p[n:]
		}
	}
	return len(s) == 0
}
