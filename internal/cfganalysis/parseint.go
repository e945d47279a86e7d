package cfganalysis

import "strconv"

// parseHexOrDec parses a jump-target argument string as a 64-bit unsigned
// offset. It accepts "0x"/"0X" hex, "0b"/"0B" binary, "0o"/"0O" octal, and
// plain decimal, matching the permissive grammar disassemblers typically
// emit for branch targets; as with strconv.ParseUint in base 0, a bare
// leading "0" also selects octal and underscores between digits are
// allowed. Returns ok=false for anything else (indirect or register
// operands), which the caller treats as a deadend.
func parseHexOrDec(s string) (uint64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
