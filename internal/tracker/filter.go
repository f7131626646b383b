package tracker

import (
	"bufio"
	"fmt"
	"os"
	"path"
	"strings"
)

// matcher holds glob patterns. A pattern without glob metacharacters matches
// as a substring, so "5551234" matches "+15551234567".
type matcher struct {
	patterns []string
}

func newMatcher(raw []string) matcher {
	var m matcher
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p == "" || strings.HasPrefix(p, "#") {
			continue
		}
		m.patterns = append(m.patterns, p)
	}
	return m
}

func (m matcher) empty() bool { return len(m.patterns) == 0 }

func (m matcher) match(values ...string) bool {
	for _, p := range m.patterns {
		glob := strings.ContainsAny(p, "*?[")
		for _, v := range values {
			if v == "" {
				continue
			}
			if !glob {
				if strings.Contains(v, p) {
					return true
				}
				continue
			}
			ok, err := path.Match(p, v)
			if err != nil {
				break // malformed pattern, try the next one
			}
			if ok {
				return true
			}
		}
	}
	return false
}

// Filter decides which rows from the monitored store are tracked.
// Empty pattern lists allow everything.
type Filter struct {
	conversations matcher
	senders       matcher
	includeFromMe bool
}

// NewFilter builds a Filter. Conversation patterns are matched against both
// the conversation id and the sender identity.
func NewFilter(conversations, senders []string, includeFromMe bool) *Filter {
	return &Filter{
		conversations: newMatcher(conversations),
		senders:       newMatcher(senders),
		includeFromMe: includeFromMe,
	}
}

// AllowAll returns a Filter that accepts every row.
func AllowAll() *Filter {
	return NewFilter(nil, nil, true)
}

// Allow reports whether r should be tracked.
func (f *Filter) Allow(r Row) bool {
	if r.IsFromMe && !f.includeFromMe {
		return false
	}
	if !f.conversations.empty() && !f.conversations.match(r.ConversationID, r.SenderIdentity) {
		return false
	}
	if !f.senders.empty() && !f.senders.match(r.SenderIdentity) {
		return false
	}
	return true
}

// ParseFilterFile reads one pattern per line. Blank lines and '#' comments are
// dropped by NewFilter. A missing file yields no patterns and no error.
func ParseFilterFile(name string) ([]string, error) {
	f, err := os.Open(name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening filter file: %w", err)
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		patterns = append(patterns, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading filter file: %w", err)
	}
	return patterns, nil
}
