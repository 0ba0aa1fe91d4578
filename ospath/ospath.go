// Copyright 2025 CloudWeGo Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ospath normalizes and joins filesystem paths per-platform: POSIX
// uses "/" as its only separator, Windows uses "\" as primary with "/"
// tolerated on input. This is a thin ancillary collaborator, not a general
// path library.
package ospath

import "strings"

// Style selects which platform's separator and drive-letter rules apply.
type Style int

const (
	POSIX Style = iota
	Windows
)

func (s Style) sep() byte {
	if s == Windows {
		return '\\'
	}
	return '/'
}

func (s Style) isSep(b byte) bool {
	if s == Windows {
		return b == '\\' || b == '/'
	}
	return b == '/'
}

// Join concatenates elems onto base with style's separator, then
// Normalizes the result.
func Join(style Style, base string, elems ...string) string {
	parts := append([]string{base}, elems...)
	return Normalize(style, strings.Join(parts, string(style.sep())))
}

// Normalize collapses "/.." at root to root, drops "." elements, collapses
// duplicate separators, and strips a non-significant trailing separator; on
// Windows it additionally uppercases a DOS drive letter and preserves
// \\?\, \\.\ and UNC prefixes.
func Normalize(style Style, p string) string {
	if style == Windows {
		if prefix, rest, ok := windowsSpecialPrefix(p); ok {
			return prefix + normalizeBody(style, rest, false)
		}
	}

	drive := ""
	rest := p
	if style == Windows {
		if len(p) >= 2 && isDriveLetter(p[0]) && p[1] == ':' {
			drive = strings.ToUpper(p[:1]) + ":"
			rest = p[2:]
		}
	}

	absolute := len(rest) > 0 && style.isSep(rest[0])
	body := normalizeBody(style, rest, absolute)
	if drive != "" {
		if body == "" {
			return drive + string(style.sep())
		}
		return drive + body
	}
	return body
}

func isDriveLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// windowsSpecialPrefix recognizes \\?\, \\.\ and UNC (\\server\share)
// prefixes, which normalization must preserve verbatim rather than collapse
// like an ordinary path.
func windowsSpecialPrefix(p string) (prefix, rest string, ok bool) {
	if len(p) < 2 || p[0] != '\\' || p[1] != '\\' {
		return "", "", false
	}
	if len(p) >= 4 && (p[2] == '?' || p[2] == '.') && p[3] == '\\' {
		return p[:4], p[4:], true
	}
	// UNC: \\server\share[\...]; normalize only what follows the share,
	// capping off a missing share with a trailing separator.
	body := p[2:]
	firstSep := strings.IndexAny(body, `\/`)
	if firstSep < 0 {
		return `\\` + body + `\`, "", true
	}
	server := body[:firstSep]
	afterServer := body[firstSep+1:]
	secondSep := strings.IndexAny(afterServer, `\/`)
	share := afterServer
	tail := ""
	if secondSep >= 0 {
		share = afterServer[:secondSep]
		tail = afterServer[secondSep+1:]
	}
	return `\\` + server + `\` + share + `\`, tail, true
}

// normalizeBody collapses duplicate separators, drops "." elements,
// resolves ".." against what's already been kept (collapsing "/.." at root
// to root rather than erroring), and strips a trailing separator that
// carries no meaning.
func normalizeBody(style Style, p string, forceAbsolute bool) string {
	absolute := forceAbsolute || (len(p) > 0 && style.isSep(p[0]))

	var kept []string
	start := 0
	for i := 0; i <= len(p); i++ {
		if i == len(p) || style.isSep(p[i]) {
			elem := p[start:i]
			start = i + 1
			switch elem {
			case "", ".":
				// drop
			case "..":
				if len(kept) > 0 && kept[len(kept)-1] != ".." {
					kept = kept[:len(kept)-1]
				} else if !absolute {
					kept = append(kept, "..")
				}
				// absolute: ".." at root collapses to root (dropped)
			default:
				kept = append(kept, elem)
			}
		}
	}

	joined := strings.Join(kept, string(style.sep()))
	if absolute {
		return string(style.sep()) + joined
	}
	return joined
}
