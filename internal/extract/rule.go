// Package extract pulls single fields out of fetched pages. Nothing in here
// returns an error for a missing field, absence is a value.
package extract

import (
	"regexp"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
)

// Page is fetched text with a lazily parsed html document, the document is
// only built when a Selector rule is reached.
type Page struct {
	Text string

	once sync.Once
	doc  *goquery.Document
}

func NewPage(text string) *Page {
	return &Page{Text: text}
}

func (p *Page) document() *goquery.Document {
	p.once.Do(func() {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(p.Text))
		if err == nil {
			p.doc = doc
		}
	})
	return p.doc
}

type ruleKind int

const (
	kindRegex ruleKind = iota
	kindSelector
)

// Rule extracts the raw text of one field, either with a regular expression
// (first capture group) or a css selector (text or attribute of the first hit).
// A Rule may carry a post processor that runs on the raw text of a match.
type Rule struct {
	Name string

	kind     ruleKind
	pattern  *regexp.Regexp
	selector string
	attr     string
	post     func(string) string
}

func Regex(name, pattern string) Rule {
	return Rule{Name: name, kind: kindRegex, pattern: regexp.MustCompile(pattern)}
}

// Selector matches the first element of selector, attr = "" reads its text.
// An element without text does not count as a match.
func Selector(name, selector, attr string) Rule {
	return Rule{Name: name, kind: kindSelector, selector: selector, attr: attr}
}

func (r Rule) Then(post func(string) string) Rule {
	r.post = post
	return r
}

func (r Rule) Apply(p *Page) (string, bool) {
	var raw string
	switch r.kind {
	case kindRegex:
		groups := r.pattern.FindStringSubmatch(p.Text)
		if groups == nil {
			return "", false
		}
		raw = groups[0]
		if len(groups) > 1 {
			raw = groups[1]
		}
	case kindSelector:
		doc := p.document()
		if doc == nil {
			return "", false
		}
		sel := doc.Find(r.selector).First()
		if sel.Length() == 0 {
			return "", false
		}
		if r.attr == "" {
			raw = sel.Text()
		} else {
			raw = sel.AttrOr(r.attr, "")
		}
		if strings.TrimSpace(raw) == "" {
			return "", false
		}
	}

	raw = strings.TrimSpace(raw)
	if r.post != nil {
		raw = r.post(raw)
	}
	return raw, true
}

// FirstMatch evaluates rules in order and stops at the first one that matches,
// later rules are never consulted even if the winning value turns out unusable.
func FirstMatch(p *Page, rules []Rule) (value string, rule string, ok bool) {
	for _, r := range rules {
		value, ok := r.Apply(p)
		if ok {
			return value, r.Name, true
		}
	}
	return "", "", false
}
