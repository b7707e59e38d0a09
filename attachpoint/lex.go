package attachpoint

import (
	"fmt"
	"strconv"
)

// maxParamSplices bounds positional parameter substitution. A
// parameter whose value refers to itself would otherwise never
// terminate.
const maxParamSplices = 1024

// Lex splits raw into its colon-separated parts.
//
// A ':' inside double quotes does not split. Inside quotes a backslash
// takes the next character literally. Outside quotes "$N" is replaced
// in place by params[N-1] and scanning resumes at the first character
// of the replacement, so a parameter value may itself contain ':' or
// further references. Parameters beyond len(params) expand to "". The
// final part is always emitted, so "kprobe:" yields ["kprobe", ""].
func Lex(raw string, params []string) ([]string, error) {
	var (
		parts    []string
		arg      []byte
		inQuotes bool
		splices  int
	)

	for idx := 0; idx < len(raw); idx++ {
		c := raw[idx]
		switch {
		case c == ':' && !inQuotes:
			parts = append(parts, string(arg))
			arg = arg[:0]
		case c == '"':
			inQuotes = !inQuotes
		case inQuotes && c == '\\' && idx+1 < len(raw):
			arg = append(arg, raw[idx+1])
			idx++
		case !inQuotes && c == '$':
			end := idx + 1
			for end < len(raw) && isDigit(raw[end]) {
				if end == idx+1 && raw[end] == '0' {
					break
				}
				end++
			}
			if end == idx+1 && end < len(raw) {
				t := raw[end : end+1]
				return nil, fmt.Errorf("invalid trailing character for positional param: %s. Try quoting this entire part if this is intentional e.g. \"$%s\"", t, t)
			}
			n, err := strconv.ParseUint(raw[idx+1:end], 10, 32)
			if err != nil {
				return nil, fmt.Errorf("positional parameter is not valid: %q", raw[idx:end])
			}
			splices++
			if splices > maxParamSplices {
				return nil, fmt.Errorf("positional parameter expansion exceeds %d substitutions", maxParamSplices)
			}
			raw = raw[:idx] + param(params, n) + raw[end:]
			idx--
		default:
			arg = append(arg, c)
		}
	}
	parts = append(parts, string(arg))
	return parts, nil
}

func param(params []string, n uint64) string {
	if n == 0 || n > uint64(len(params)) {
		return ""
	}
	return params[n-1]
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
