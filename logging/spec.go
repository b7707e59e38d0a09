package logging

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// DefaultLevel applies when no spec sets a base level.
const DefaultLevel = LevelWarn

// Spec is a parsed level spec: "<base>[,<component>=<level>]...".
// The base may be omitted, in which case DefaultLevel is used.
type Spec struct {
	BaseLevel  Level
	Components map[string]Level
}

// ParseSpec parses a level spec. An empty string yields DefaultLevel
// with no overrides.
func ParseSpec(s string) (Spec, error) {
	spec := Spec{BaseLevel: DefaultLevel, Components: map[string]Level{}}

	for i, part := range strings.Split(strings.TrimSpace(s), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		name, value, isOverride := strings.Cut(part, "=")
		if !isOverride {
			if i != 0 {
				return spec, fmt.Errorf("base level %q must come first", part)
			}
			level, err := ParseLevel(part)
			if err != nil {
				return spec, err
			}
			spec.BaseLevel = level
			continue
		}

		name = strings.TrimSpace(name)
		if name == "" {
			return spec, fmt.Errorf("missing component name in %q", part)
		}
		level, err := ParseLevel(value)
		if err != nil {
			return spec, fmt.Errorf("component %q: %w", name, err)
		}
		spec.Components[name] = level
	}

	return spec, nil
}

// LevelFor returns the level configured for component, or the base
// level when there is no override.
func (s *Spec) LevelFor(component string) Level {
	if l, ok := s.Components[component]; ok {
		return l
	}
	return s.BaseLevel
}

// String renders the spec in ParseSpec form with overrides sorted by
// component.
func (s *Spec) String() string {
	parts := []string{s.BaseLevel.String()}
	for _, name := range slices.Sorted(maps.Keys(s.Components)) {
		parts = append(parts, name+"="+s.Components[name].String())
	}
	return strings.Join(parts, ",")
}
