// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package render

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	tagPattern   = regexp.MustCompile(`(?i)</?[a-z][a-z0-9]*(\s[^<>]*)?/?>`)
	spacePattern = regexp.MustCompile(`[ \t\r\n\f]+`)
	blankRuns    = regexp.MustCompile(`\n{3,}`)
)

// LooksLikeHTML reports whether s contains at least one markup tag.
func LooksLikeHTML(s string) bool {
	return tagPattern.MatchString(s)
}

// blockTags break the text flow when they open or close.
var blockTags = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Tr: true, atom.Table: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Ul: true, atom.Ol: true, atom.Blockquote: true, atom.Hr: true,
}

// anchor tracks an open <a> so its target can follow the label.
type anchor struct {
	href  string
	start int
}

// HTMLToText strips markup from s for the text/plain alternative. Text that
// contains no markup is returned unchanged. Link targets follow their label
// in parentheses unless the label already is the target.
func HTMLToText(s string) string {
	if !LooksLikeHTML(s) {
		return s
	}

	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	var anchors []anchor
	skip := 0

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return tidy(b.String())

		case html.TextToken:
			if skip > 0 {
				continue
			}
			b.WriteString(spacePattern.ReplaceAllString(string(z.Text()), " "))

		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			a := atom.Lookup(name)
			switch {
			case a == atom.Script || a == atom.Style || a == atom.Head:
				if tt == html.StartTagToken {
					skip++
				}
			case a == atom.Br:
				b.WriteString("\n")
			case a == atom.Li:
				b.WriteString("\n- ")
			case a == atom.A && tt == html.StartTagToken:
				href := ""
				if hasAttr {
					href = hrefOf(z)
				}
				anchors = append(anchors, anchor{href: href, start: b.Len()})
			case blockTags[a]:
				b.WriteString("\n")
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			switch {
			case a == atom.Script || a == atom.Style || a == atom.Head:
				if skip > 0 {
					skip--
				}
			case a == atom.A:
				if n := len(anchors); n > 0 {
					open := anchors[n-1]
					anchors = anchors[:n-1]
					label := strings.TrimSpace(b.String()[open.start:])
					if open.href != "" && label != open.href {
						b.WriteString(" (" + open.href + ")")
					}
				}
			case blockTags[a]:
				b.WriteString("\n")
			}
		}
	}
}

func hrefOf(z *html.Tokenizer) string {
	for {
		key, val, more := z.TagAttr()
		if string(key) == "href" {
			return strings.TrimSpace(string(val))
		}
		if !more {
			return ""
		}
	}
}

// tidy trims every line and collapses runs of blank lines to one.
func tidy(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	out := blankRuns.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(out)
}

// PlainToHTML escapes plain text for the text/html part, keeping line breaks.
func PlainToHTML(s string) string {
	escaped := html.EscapeString(s)
	return strings.ReplaceAll(escaped, "\n", "<br>\n")
}
