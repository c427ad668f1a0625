// Package parser turns Markdown and plain text documents into sections and chunks.
package parser

import (
	"bufio"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

// ErrFrontmatter is returned when a document opens a YAML frontmatter block
// that cannot be decoded.
var ErrFrontmatter = errors.New("invalid frontmatter")

var (
	headingRe = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*#*\s*$`)
	h1Re      = regexp.MustCompile(`(?m)^#\s+(.+)$`)
	wikiRe    = regexp.MustCompile(`\[\[([^\]|]+)(?:\|[^\]]*)?\]\]`)
	mentionRe = regexp.MustCompile(`(?:^|[^\w.])@([a-zA-Z0-9_-]+)`)
	tagRe     = regexp.MustCompile(`(?:^|\s)#([a-zA-Z][\w/-]*)`)
)

// Document is a parsed Markdown document.
type Document struct {
	Frontmatter map[string]any
	Title       string
	Body        string // content after the frontmatter
	Sections    []Section
}

// Section is a heading and the text up to the next heading.
type Section struct {
	Level   int
	Heading string
	Path    string // e.g. "# Guide > ## Setup"
	Content string
	Start   int // first line, 1-based
	End     int
}

// Parse splits content into frontmatter, title, and sections.
// Line endings are normalized to \n.
func Parse(content string) (*Document, error) {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	doc := &Document{Frontmatter: map[string]any{}, Body: content}

	if rest, fm, ok := splitFrontmatter(content); ok {
		if err := yaml.Unmarshal([]byte(fm), &doc.Frontmatter); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFrontmatter, err)
		}
		if doc.Frontmatter == nil {
			doc.Frontmatter = map[string]any{}
		}
		doc.Body = rest
	}

	doc.Title = title(doc.Frontmatter, doc.Body)
	doc.Sections = sections(doc.Body)
	return doc, nil
}

func splitFrontmatter(content string) (rest, frontmatter string, ok bool) {
	if !strings.HasPrefix(content, "---\n") {
		return content, "", false
	}
	end := strings.Index(content[4:], "\n---")
	if end < 0 {
		return content, "", false
	}
	frontmatter = content[4 : 4+end]
	rest = content[4+end+4:]
	rest = strings.TrimPrefix(rest, "\n")
	return rest, frontmatter, true
}

func title(fm map[string]any, body string) string {
	for _, key := range []string{"title", "name"} {
		if v, ok := fm[key].(string); ok && v != "" {
			return v
		}
	}
	if m := h1Re.FindStringSubmatch(body); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return ""
}

func sections(body string) []Section {
	var (
		out     []Section
		current *Section
		text    strings.Builder
		path    []string
		levels  []int
		line    int
		inFence bool
	)

	flush := func(end int) {
		if current == nil {
			return
		}
		current.Content = strings.TrimSpace(text.String())
		current.End = end
		out = append(out, *current)
		text.Reset()
	}

	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line++
		l := scanner.Text()

		if strings.HasPrefix(strings.TrimSpace(l), "```") {
			inFence = !inFence
		}

		m := headingRe.FindStringSubmatch(l)
		if inFence || m == nil {
			if current != nil {
				text.WriteString(l)
				text.WriteByte('\n')
			}
			continue
		}

		flush(line - 1)
		level := len(m[1])
		heading := strings.TrimSpace(m[2])
		for len(levels) > 0 && levels[len(levels)-1] >= level {
			path = path[:len(path)-1]
			levels = levels[:len(levels)-1]
		}
		path = append(path, m[1]+" "+heading)
		levels = append(levels, level)
		current = &Section{Level: level, Heading: heading, Path: strings.Join(path, " > "), Start: line}
	}
	flush(line)
	return out
}

// String returns a frontmatter value as a string, or "".
func (d *Document) String(key string) string {
	v, _ := d.Frontmatter[key].(string)
	return v
}

// Strings returns a frontmatter list of strings. Non-string items are skipped.
func (d *Document) Strings(key string) []string {
	switch v := d.Frontmatter[key].(type) {
	case []any:
		return lo.FilterMap(v, func(item any, _ int) (string, bool) {
			s, ok := item.(string)
			return s, ok
		})
	case []string:
		return v
	case string:
		return []string{v}
	}
	return nil
}

// WikiLinks returns the distinct targets of [[target]] and [[target|label]] links.
func WikiLinks(content string) []string {
	return uniqueMatches(wikiRe, content, strings.TrimSpace)
}

// Mentions returns distinct lowercased @handles.
func Mentions(content string) []string {
	return uniqueMatches(mentionRe, content, strings.ToLower)
}

// Tags returns distinct lowercased #tags that are not headings.
func Tags(content string) []string {
	return uniqueMatches(tagRe, content, strings.ToLower)
}

func uniqueMatches(re *regexp.Regexp, content string, normalize func(string) string) []string {
	matches := re.FindAllStringSubmatch(content, -1)
	values := lo.Map(matches, func(m []string, _ int) string {
		return normalize(m[1])
	})
	return lo.Uniq(lo.Compact(values))
}
