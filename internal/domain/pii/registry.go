// Package pii provides the registry of named PII detection patterns used by
// the classification engine. Patterns are loaded once at process start from
// an embedded ruleset and are immutable afterwards.
package pii

import (
	"bytes"
	_ "embed"
	"fmt"

	"github.com/spf13/viper"
	regexp "github.com/wasilibs/go-re2"
)

//go:embed patterns.toml
var defaultRuleset []byte

// Category classifies a PII type for reporting tallies.
type Category string

const (
	CategoryPII         Category = "pii"
	CategoryIdentifiers Category = "identifiers"
	CategoryBehavioral  Category = "behavioral"
)

// Pattern is one named detection rule.
type Pattern struct {
	Name     string
	Category Category
	re       *regexp.Regexp
}

// Matches reports whether the pattern detects PII in the given value.
func (p *Pattern) Matches(value string) bool { return p.re.MatchString(value) }

// Registry holds the fixed mapping from PII type name to detection pattern.
// Declaration order of the embedded ruleset is preserved.
type Registry struct {
	order    []string
	patterns map[string]*Pattern
}

type rulesetConfig struct {
	Patterns []struct {
		Name     string `mapstructure:"name"`
		Regex    string `mapstructure:"regex"`
		Category string `mapstructure:"category"`
	} `mapstructure:"patterns"`
}

// NewRegistry compiles the embedded default ruleset.
func NewRegistry() (*Registry, error) {
	v := viper.New()
	v.SetConfigType("toml")
	if err := v.ReadConfig(bytes.NewBuffer(defaultRuleset)); err != nil {
		return nil, fmt.Errorf("failed to read embedded ruleset: %w", err)
	}

	var cfg rulesetConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ruleset: %w", err)
	}

	r := &Registry{patterns: make(map[string]*Pattern, len(cfg.Patterns))}
	for _, pc := range cfg.Patterns {
		re, err := regexp.Compile(pc.Regex)
		if err != nil {
			return nil, fmt.Errorf("compiling pattern %q: %w", pc.Name, err)
		}

		cat := Category(pc.Category)
		switch cat {
		case CategoryPII, CategoryIdentifiers, CategoryBehavioral:
		default:
			cat = CategoryPII
		}

		r.order = append(r.order, pc.Name)
		r.patterns[pc.Name] = &Pattern{Name: pc.Name, Category: cat, re: re}
	}

	return r, nil
}

// Names returns all pattern names in declaration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Lookup returns the named pattern, or nil if it does not exist.
func (r *Registry) Lookup(name string) *Pattern { return r.patterns[name] }

// CategoryOf returns the reporting category for a PII type name. Names not
// present in the registry fall back to the pii category.
func (r *Registry) CategoryOf(name string) Category {
	if p, ok := r.patterns[name]; ok {
		return p.Category
	}
	return CategoryPII
}

// Active returns the patterns restricted to the allow-list, in declaration
// order. Unknown names are silently ignored. An empty or nil allow-list
// returns the full registry.
func (r *Registry) Active(allowList []string) []*Pattern {
	if len(allowList) == 0 {
		active := make([]*Pattern, 0, len(r.order))
		for _, name := range r.order {
			active = append(active, r.patterns[name])
		}
		return active
	}

	allowed := make(map[string]struct{}, len(allowList))
	for _, name := range allowList {
		allowed[name] = struct{}{}
	}

	var active []*Pattern
	for _, name := range r.order {
		if _, ok := allowed[name]; ok {
			active = append(active, r.patterns[name])
		}
	}
	return active
}
