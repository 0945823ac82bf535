package ajax

import (
	"context"
	"fmt"
	"regexp"
)

// RuleSpec is a rule as written in settings files.
type RuleSpec struct {
	Name       string            `json:"name" yaml:"name" toml:"name"`
	// URL is a doublestar glob over the whole request url.
	URL        string            `json:"url,omitempty" yaml:"url,omitempty" toml:"url,omitempty"`
	URLPattern string            `json:"urlPattern,omitempty" yaml:"urlPattern,omitempty" toml:"urlPattern,omitempty"`
	Methods    []string          `json:"methods,omitempty" yaml:"methods,omitempty" toml:"methods,omitempty"`
	Headers    map[string]string `json:"headers,omitempty" yaml:"headers,omitempty" toml:"headers,omitempty"`
	Abort      bool              `json:"abort,omitempty" yaml:"abort,omitempty" toml:"abort,omitempty"`
	Rewrite    *RewriteSpec      `json:"rewrite,omitempty" yaml:"rewrite,omitempty" toml:"rewrite,omitempty"`
}

// RewriteSpec lists request overrides. Empty fields keep the captured
// value. When the rule has a URLPattern, URL may reference its groups as
// $1 or ${name}.
type RewriteSpec struct {
	URL             string            `json:"url,omitempty" yaml:"url,omitempty" toml:"url,omitempty"`
	Method          string            `json:"method,omitempty" yaml:"method,omitempty" toml:"method,omitempty"`
	Headers         map[string]string `json:"headers,omitempty" yaml:"headers,omitempty" toml:"headers,omitempty"`
	Body            *string           `json:"body,omitempty" yaml:"body,omitempty" toml:"body,omitempty"`
	WithCredentials *bool             `json:"withCredentials,omitempty" yaml:"withCredentials,omitempty" toml:"withCredentials,omitempty"`
	ResponseType    string            `json:"responseType,omitempty" yaml:"responseType,omitempty" toml:"responseType,omitempty"`
}

// Rule converts the RuleSpec into an interceptor rule.
func (s RuleSpec) Rule() (Rule, error) {
	r := Rule{
		Name:       s.Name,
		URLGlob:    s.URL,
		URLPattern: s.URLPattern,
		Methods:    s.Methods,
		Headers:    s.Headers,
	}
	if err := r.compile(); err != nil {
		return Rule{}, err
	}
	switch {
	case s.Abort && s.Rewrite != nil:
		return Rule{}, fmt.Errorf("%w: %s both aborts and rewrites", ErrInvalidRule, s.Name)
	case s.Abort:
		r.Decision = Abort()
		return r, nil
	case s.Rewrite == nil:
		r.Decision = Proceed()
		return r, nil
	}

	d := s.Rewrite.decision()
	if s.URLPattern == "" || s.Rewrite.URL == "" {
		r.Decision = d
		return r, nil
	}

	re, err := regexp.Compile(s.URLPattern)
	if err != nil {
		return Rule{}, fmt.Errorf("%w: %s: %v", ErrInvalidRule, s.Name, err)
	}
	template := s.Rewrite.URL
	r.Decide = func(_ context.Context, req *Request) (*Decision, error) {
		out := *d
		url := re.ReplaceAllString(req.URL, template)
		out.URL = &url
		return &out, nil
	}
	return r, nil
}

func (w *RewriteSpec) decision() *Decision {
	d := &Decision{Headers: w.Headers, WithCredentials: w.WithCredentials}
	if w.URL != "" {
		url := w.URL
		d.URL = &url
	}
	if w.Method != "" {
		method := w.Method
		d.Method = &method
	}
	if w.Body != nil {
		d.Data = TextBody(*w.Body)
	}
	if w.ResponseType != "" {
		rt := w.ResponseType
		d.ResponseType = &rt
	}
	return d
}

// LoadRules appends rules built from RuleSpecs. Nothing is added if any of them
// is invalid.
func (i *Interceptor) LoadRules(specs []RuleSpec) error {
	rules := make([]Rule, 0, len(specs))
	for _, s := range specs {
		r, err := s.Rule()
		if err != nil {
			return err
		}
		if err := r.compile(); err != nil {
			return err
		}
		rules = append(rules, r)
	}
	i.mu.Lock()
	i.rules = append(i.rules, rules...)
	i.mu.Unlock()
	return nil
}
