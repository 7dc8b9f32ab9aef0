// Package sqlclassify implements the SQL Write Classifier (C1): a total,
// pure function deciding whether a raw SQL string would mutate database
// state if executed. It never parses full SQL grammar; it strips comments
// and CTE prefixes, then matches the leading keyword, exactly as §4.1
// describes.
package sqlclassify

import (
	"strings"
)

var writeKeywords = map[string]bool{
	"INSERT":    true,
	"UPDATE":    true,
	"DELETE":    true,
	"REPLACE":   true,
	"CREATE":    true,
	"DROP":      true,
	"ALTER":     true,
	"TRUNCATE":  true,
	"VACUUM":    true,
	"REINDEX":   true,
	"ANALYZE":   true,
	"ATTACH":    true,
	"DETACH":    true,
	"SAVEPOINT": true,
	"RELEASE":   true,
	"ROLLBACK":  true,
}

// IsWrite reports whether executing sql would mutate database state. It is
// total: it never panics or fails, and it is pure: repeated calls on the
// same input return the same result.
func IsWrite(sql string) bool {
	stmt := stripLeadingCommentsAndSpace(sql)
	stmt = stripLeadingCTE(stmt)
	stmt = stripLeadingCommentsAndSpace(stmt)

	keyword, rest := leadingKeyword(stmt)
	if keyword == "" {
		return false
	}
	if keyword == "PRAGMA" {
		return pragmaIsWrite(rest)
	}
	return writeKeywords[keyword]
}

// stripLeadingCommentsAndSpace removes leading whitespace and leading SQL
// comments: "--" line comments (to the next newline) and "/* ... */" block
// comments, which do not nest. It repeats until no more leading
// whitespace/comment is found, so "-- c1\n/* c2 */   SELECT" strips fully.
func stripLeadingCommentsAndSpace(s string) string {
	for {
		trimmed := strings.TrimLeft(s, " \t\r\n")
		switch {
		case strings.HasPrefix(trimmed, "--"):
			if idx := strings.IndexByte(trimmed, '\n'); idx >= 0 {
				trimmed = trimmed[idx+1:]
			} else {
				trimmed = ""
			}
		case strings.HasPrefix(trimmed, "/*"):
			if idx := strings.Index(trimmed, "*/"); idx >= 0 {
				trimmed = trimmed[idx+2:]
			} else {
				trimmed = ""
			}
		default:
			if trimmed == s {
				return trimmed
			}
			s = trimmed
			continue
		}
		if trimmed == s {
			return trimmed
		}
		s = trimmed
	}
}

// leadingKeyword extracts the first significant token (letters, digits, underscores) and
// returns it uppercased along with the remainder of the string after it.
func leadingKeyword(s string) (keyword string, rest string) {
	i := 0
	for i < len(s) && isIdentByte(s[i]) {
		i++
	}
	if i == 0 {
		return "", s
	}
	return strings.ToUpper(s[:i]), s[i:]
}

func isIdentByte(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9') || b == '_'
}

// pragmaIsWrite reports whether a PRAGMA's tail contains a raw '=' outside
// parentheses, string literals, and comments — the only shape that mutates
// state ("PRAGMA user_version = 1" vs. the read-only "PRAGMA user_version"
// and "PRAGMA table_info(users)").
func pragmaIsWrite(tail string) bool {
	depth := 0
	inSingle, inDouble := false, false
	for i := 0; i < len(tail); i++ {
		c := tail[i]
		switch {
		case inSingle:
			if c == '\'' {
				inSingle = false
			}
		case inDouble:
			if c == '"' {
				inDouble = false
			}
		case c == '\'':
			inSingle = true
		case c == '"':
			inDouble = true
		case c == '-' && i+1 < len(tail) && tail[i+1] == '-':
			if idx := strings.IndexByte(tail[i:], '\n'); idx >= 0 {
				i += idx
			} else {
				return false
			}
		case c == '/' && i+1 < len(tail) && tail[i+1] == '*':
			if idx := strings.Index(tail[i:], "*/"); idx >= 0 {
				i += idx + 1
			} else {
				return false
			}
		case c == '(':
			depth++
		case c == ')':
			if depth > 0 {
				depth--
			}
		case c == '=' && depth == 0:
			return true
		}
	}
	return false
}

// stripLeadingCTE removes a leading "WITH ... (...)[, name AS (...)]*"
// prefix, leaving the residual statement (the part after the CTE
// definitions) for reclassification. Only a leading WITH keyword triggers
// this; a CTE alias named the same as a write keyword (e.g. "WITH UPDATE AS
// (...) SELECT ...") must not itself be classified, which is why
// classification is reapplied to the residual rather than matched against
// the stripped text directly.
func stripLeadingCTE(s string) string {
	keyword, rest := leadingKeyword(s)
	if keyword != "WITH" {
		return s
	}

	rest = stripLeadingCommentsAndSpace(rest)
	for {
		// Skip "RECURSIVE" if present (only meaningful before the first CTE).
		if kw, r := leadingKeyword(rest); kw == "RECURSIVE" {
			rest = stripLeadingCommentsAndSpace(r)
		}

		// Skip the CTE name.
		_, r := leadingKeyword(rest)
		rest = stripLeadingCommentsAndSpace(r)

		// Optional column list "(col1, col2)" before AS.
		rest = skipOptionalParenGroup(rest)
		rest = stripLeadingCommentsAndSpace(rest)

		kw, r := leadingKeyword(rest)
		if kw != "AS" {
			// Malformed/unexpected shape; give up stripping and let the
			// caller classify what's left, which will simply not match a
			// write keyword and fall through to read.
			return rest
		}
		rest = stripLeadingCommentsAndSpace(r)

		if !strings.HasPrefix(rest, "(") {
			return rest
		}
		rest = consumeParenGroup(rest)
		rest = stripLeadingCommentsAndSpace(rest)

		if strings.HasPrefix(rest, ",") {
			rest = stripLeadingCommentsAndSpace(rest[1:])
			continue
		}
		return rest
	}
}

// skipOptionalParenGroup consumes a single "(...)" group if present,
// returning the string unchanged otherwise.
func skipOptionalParenGroup(s string) string {
	if !strings.HasPrefix(s, "(") {
		return s
	}
	return consumeParenGroup(s)
}

// consumeParenGroup expects s to start with '(' and returns the remainder
// after the matching ')', honoring nested parens and string literals. If
// the group is unterminated, it returns an empty string.
func consumeParenGroup(s string) string {
	depth := 0
	inSingle, inDouble := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inSingle:
			if c == '\'' {
				inSingle = false
			}
		case inDouble:
			if c == '"' {
				inDouble = false
			}
		case c == '\'':
			inSingle = true
		case c == '"':
			inDouble = true
		case c == '(':
			depth++
		case c == ')':
			depth--
			if depth == 0 {
				return s[i+1:]
			}
		}
	}
	return ""
}
