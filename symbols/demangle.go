package symbols

import (
	"strings"

	"github.com/ianlancetaylor/demangle"
)

// HasMangledSignature reports whether name looks like an Itanium C++
// or Rust mangled symbol.
func HasMangledSignature(name string) bool {
	return strings.HasPrefix(name, "_Z") ||
		strings.HasPrefix(name, "____Z") ||
		strings.HasPrefix(name, "_R")
}

// Demangle returns the demangled form of name.
func Demangle(name string) (string, bool) {
	if !HasMangledSignature(name) {
		return "", false
	}
	s, err := demangle.ToString(name)
	if err != nil && strings.HasPrefix(name, "____Z") {
		s, err = demangle.ToString(name[3:])
	}
	if err != nil {
		return "", false
	}
	return s, true
}

// EraseParameterList drops the outermost trailing parameter list from
// a demangled name: "ns::f(int, std::pair<int, int>) const" becomes
// "ns::f". Names without a closing parenthesis are returned unchanged.
func EraseParameterList(name string) string {
	end := strings.LastIndexByte(name, ')')
	if end < 0 {
		return name
	}
	depth := 0
	for i := end; i >= 0; i-- {
		switch name[i] {
		case ')':
			depth++
		case '(':
			depth--
		}
		if depth == 0 {
			return name[:i]
		}
	}
	return name
}
