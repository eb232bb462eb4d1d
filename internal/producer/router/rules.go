package router

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// RulesFile is the on-disk shape of a producer routing rules file:
//
//	rules:
//	  - pattern: "gpt*"
//	    producer: openai
//	  - pattern: "*"
//	    producer: loopback
type RulesFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules parses an ordered rule list from a YAML file.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("router: read rules file: %w", err)
	}
	var f RulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("router: parse rules file %s: %w", path, err)
	}
	var rules []Rule
	for i, rule := range f.Rules {
		if strings.TrimSpace(rule.Pattern) == "" || strings.TrimSpace(rule.Producer) == "" {
			return nil, fmt.Errorf("router: rules file %s: rule %d missing pattern or producer", path, i)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// ParseRules parses inline "pattern=>producer" rules, comma or newline
// separated, preserving declaration order. "=" is accepted as well.
func ParseRules(input string) []Rule {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	var rules []Rule
	for _, line := range strings.Split(input, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		for _, part := range strings.Split(line, ",") {
			entry := strings.TrimSpace(part)
			if entry == "" {
				continue
			}
			var kv []string
			if strings.Contains(entry, "=>") {
				kv = strings.SplitN(entry, "=>", 2)
			} else {
				kv = strings.SplitN(entry, "=", 2)
			}
			if len(kv) != 2 {
				continue
			}
			pattern := strings.TrimSpace(kv[0])
			target := strings.TrimSpace(kv[1])
			if pattern == "" || target == "" {
				continue
			}
			rules = append(rules, Rule{Pattern: pattern, Producer: target})
		}
	}
	return rules
}
