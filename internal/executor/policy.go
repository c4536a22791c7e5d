package executor

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/bmatcuk/doublestar/v4"
)

// Rule allows one command name with arguments matching any of Args.
// A rule with no Args accepts only argument-free invocations.
type Rule struct {
	Name string   `toml:"name"`
	Args []string `toml:"args"`
}

// Policy is the allow-list consulted before anything is executed.
type Policy struct {
	Timeout  time.Duration `toml:"timeout"`
	Commands []Rule        `toml:"commands"`
}

// DefaultPolicy allows read-only inspection of the projects directory.
func DefaultPolicy() Policy {
	return Policy{
		Timeout: 10 * time.Second,
		Commands: []Rule{
			{Name: "ls", Args: []string{"-*", "projects", "projects/**"}},
			{Name: "pwd"},
			{Name: "date"},
		},
	}
}

// LoadPolicy reads a TOML policy file. An empty path yields DefaultPolicy.
func LoadPolicy(path string) (Policy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}

	var p Policy
	if _, err := toml.DecodeFile(path, &p); err != nil {
		return Policy{}, fmt.Errorf("load command policy: %w", err)
	}
	if err := p.validate(); err != nil {
		return Policy{}, err
	}
	if p.Timeout <= 0 {
		p.Timeout = DefaultPolicy().Timeout
	}
	return p, nil
}

func (p Policy) validate() error {
	for _, r := range p.Commands {
		if r.Name == "" {
			return fmt.Errorf("command policy: rule without name")
		}
		for _, pattern := range r.Args {
			if !doublestar.ValidatePattern(pattern) {
				return fmt.Errorf("command policy: invalid pattern %q for %s", pattern, r.Name)
			}
		}
	}
	return nil
}

// rule returns the rule for name, if any.
func (p Policy) rule(name string) (Rule, bool) {
	for _, r := range p.Commands {
		if r.Name == name {
			return r, true
		}
	}
	return Rule{}, false
}

// allows reports whether arg matches one of the rule's patterns.
func (r Rule) allows(arg string) bool {
	for _, pattern := range r.Args {
		if ok, _ := doublestar.Match(pattern, arg); ok {
			return true
		}
	}
	return false
}
