package storage

import (
	"regexp"
	"strings"
	"sync"

	"github.com/Pharos-AI/utils/entry"
)

const scrubValue = "***"

// Scrubber masks the values of sensitive key/value pairs that show up in
// free-text entry fields, e.g. "api_key=abc" or `"password": "x"`.
type Scrubber struct {
	mu       sync.RWMutex
	patterns []*regexp.Regexp
	ruleRepo ScrubRuleRepo
}

func NewScrubber(keys ...string) *Scrubber {
	s := &Scrubber{}
	s.setKeys(keys)
	return s
}

func NewScrubberWithRepo(repo ScrubRuleRepo) (*Scrubber, error) {
	s := &Scrubber{ruleRepo: repo}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scrubber) Reload() error {
	if s.ruleRepo == nil {
		return nil
	}
	rules, err := s.ruleRepo.GetAll()
	if err != nil {
		return err
	}
	keys := make([]string, len(rules))
	for i, rule := range rules {
		keys[i] = rule.Pattern
	}
	s.setKeys(keys)
	return nil
}

func (s *Scrubber) setKeys(keys []string) {
	patterns := make([]*regexp.Regexp, 0, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		re := regexp.MustCompile(`(?i)("?` + regexp.QuoteMeta(k) + `"?\s*[:=]\s*"?)((?:bearer\s+)?[^\s",;&]+)`)
		patterns = append(patterns, re)
	}

	s.mu.Lock()
	s.patterns = patterns
	s.mu.Unlock()
}

func (s *Scrubber) ScrubText(text string) string {
	if text == "" {
		return text
	}
	s.mu.RLock()
	patterns := s.patterns
	s.mu.RUnlock()

	for _, re := range patterns {
		text = re.ReplaceAllString(text, "${1}"+scrubValue)
	}
	return text
}

func (s *Scrubber) ScrubRecord(r entry.Record) entry.Record {
	r.Summary = s.ScrubText(r.Summary)
	r.Details = s.ScrubText(r.Details)
	r.Stack = s.ScrubText(r.Stack)
	if r.Error != nil {
		info := *r.Error
		info.Message = s.ScrubText(info.Message)
		info.Stack = s.ScrubText(info.Stack)
		r.Error = &info
	}
	return r
}

func (s *Scrubber) ScrubRecords(records []entry.Record) []entry.Record {
	out := make([]entry.Record, len(records))
	for i, r := range records {
		out[i] = s.ScrubRecord(r)
	}
	return out
}
