package notify

import (
	"regexp"
	"strings"
	"sync"
)

// Matcher tests candidate values against a subscription filter. A value
// matches when the filter, read as a regular expression, matches it, or when
// the value contains the filter literally. Filters that fail to compile keep
// only the literal interpretation.
type Matcher struct {
	filter string
	re     *regexp.Regexp
}

// Compile builds a matcher for filter. The returned error reports a filter
// that is not a valid expression; the matcher is usable either way and falls
// back to substring matching.
func Compile(filter string) (Matcher, error) {
	m := Matcher{filter: filter}
	if filter == "" {
		return m, nil
	}
	re, err := regexp.Compile(filter)
	if err != nil {
		return m, err
	}
	m.re = re
	return m, nil
}

// Match reports whether value satisfies the filter. An empty filter matches
// everything; an empty value matches no non-empty filter.
func (m Matcher) Match(value string) bool {
	if m.filter == "" {
		return true
	}
	if value == "" {
		return false
	}
	if m.re != nil && m.re.MatchString(value) {
		return true
	}
	return strings.Contains(value, m.filter)
}

// Regexp reports whether the filter compiled as an expression.
func (m Matcher) Regexp() bool {
	return m.re != nil
}

// matcherCache memoises compiled filters.
type matcherCache struct {
	mu sync.Mutex
	m  map[string]Matcher
	// onError is called once per filter that fails to compile
	onError func(filter string, err error)
}

func (c *matcherCache) get(filter string) Matcher {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.m[filter]; ok {
		return m
	}
	m, err := Compile(filter)
	if err != nil && c.onError != nil {
		c.onError(filter, err)
	}
	if c.m == nil {
		c.m = make(map[string]Matcher)
	}
	c.m[filter] = m
	return m
}
