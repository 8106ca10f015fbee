package logging

import (
	"fmt"
	"sort"
	"strings"
)

// Spec is a logging specification: a base level plus optional
// per-component overrides.
//
// The string form is "<base-level>[,<component>=<level>]...", for
// example:
//
//	info
//	debug
//	warn,object=debug
//	info,object=debug,ringbuf=trace
type Spec struct {
	// BaseLevel applies to every component without an override.
	BaseLevel Level
	// Components maps component names to their override levels.
	Components map[string]Level
}

// ParseSpec parses a spec string. An empty string means info level
// with no overrides. A bare level is only valid as the first element.
func ParseSpec(s string) (Spec, error) {
	spec := Spec{
		BaseLevel:  LevelInfo,
		Components: make(map[string]Level),
	}

	s = strings.TrimSpace(s)
	if s == "" {
		return spec, nil
	}

	for i, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if idx := strings.Index(part, "="); idx != -1 {
			component := strings.TrimSpace(part[:idx])
			if component == "" {
				return spec, fmt.Errorf("empty component name in %q", part)
			}
			level, err := ParseLevel(part[idx+1:])
			if err != nil {
				return spec, fmt.Errorf("invalid level for component %q: %w", component, err)
			}
			spec.Components[component] = level
			continue
		}

		if i != 0 {
			return spec, fmt.Errorf("base level %q must be first in spec", part)
		}
		level, err := ParseLevel(part)
		if err != nil {
			return spec, err
		}
		spec.BaseLevel = level
	}

	return spec, nil
}

// LevelFor returns the override level for component if one is set,
// otherwise the base level.
func (s *Spec) LevelFor(component string) Level {
	if level, ok := s.Components[component]; ok {
		return level
	}
	return s.BaseLevel
}

// String returns the spec as a parseable string, overrides sorted by
// component name.
func (s *Spec) String() string {
	parts := []string{s.BaseLevel.String()}
	names := make([]string, 0, len(s.Components))
	for name := range s.Components {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		parts = append(parts, name+"="+s.Components[name].String())
	}
	return strings.Join(parts, ",")
}
