// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"strconv"
	"strings"
)

// =============================================================================
// ARG PARSER
// =============================================================================

// ArgParser splits command arguments into flags and positionals.
//
// Supported forms:
//
//	--flag value     long flag with a separate value
//	--flag=value     long flag with an inline value
//	-f value         short flag
//	--flag           boolean flag (declared with boolFlags)
//
// Flags named in boolFlags never consume the next argument, so
// "ask --json hello" keeps "hello" as the message. A lone "--" ends flag
// parsing; everything after it is positional.
type ArgParser struct {
	flags      map[string]string
	bools      map[string]bool
	positional []string
}

// NewArgParser parses raw. boolFlags lists flag names (without dashes)
// that take no value.
func NewArgParser(raw []string, boolFlags ...string) *ArgParser {
	p := &ArgParser{
		flags: make(map[string]string),
		bools: make(map[string]bool),
	}
	isBool := make(map[string]bool, len(boolFlags))
	for _, b := range boolFlags {
		isBool[b] = true
	}

	for i := 0; i < len(raw); i++ {
		arg := raw[i]

		if arg == "--" {
			p.positional = append(p.positional, raw[i+1:]...)
			break
		}
		// "-" alone and negative numbers are values, not flags.
		if len(arg) < 2 || arg[0] != '-' || isNumber(arg) {
			p.positional = append(p.positional, arg)
			continue
		}

		name := strings.TrimLeft(arg, "-")
		if k, v, ok := strings.Cut(name, "="); ok {
			if isBool[k] {
				b, err := ParseBoolString(v)
				p.bools[k] = err == nil && b
			} else {
				p.flags[k] = v
			}
			continue
		}

		if isBool[name] {
			p.bools[name] = true
			continue
		}
		if i+1 < len(raw) {
			i++
			p.flags[name] = raw[i]
			continue
		}
		// Trailing value flag with nothing after it.
		p.bools[name] = true
	}
	return p
}

func isNumber(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

// Flag returns the first of names that was given a value.
//
//	p.Flag("model", "m")   // --model x or -m x
func (p *ArgParser) Flag(names ...string) string {
	for _, n := range names {
		if v, ok := p.flags[n]; ok {
			return v
		}
	}
	return ""
}

// FlagOrDefault returns Flag(name) or def when it is unset.
func (p *ArgParser) FlagOrDefault(name, def string) string {
	if v := p.Flag(name); v != "" {
		return v
	}
	return def
}

// FlagInt parses the flag as a positive integer. An unset flag yields def.
func (p *ArgParser) FlagInt(name string, def int) (int, error) {
	v := p.Flag(name)
	if v == "" {
		return def, nil
	}
	return ParseIntWithValidation(v, name)
}

// FlagList splits a comma-separated flag and drops empty items. Repeated
// use of the flag is not supported; the last value wins.
func (p *ArgParser) FlagList(names ...string) []string {
	raw := p.Flag(names...)
	if raw == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// BoolFlag reports whether any of names was set.
func (p *ArgParser) BoolFlag(names ...string) bool {
	for _, n := range names {
		if p.bools[n] {
			return true
		}
	}
	return false
}

// Positional returns the positional argument at index, or "".
func (p *ArgParser) Positional(index int) string {
	if index < 0 || index >= len(p.positional) {
		return ""
	}
	return p.positional[index]
}

// PositionalFrom returns the positional arguments from index on.
func (p *ArgParser) PositionalFrom(index int) []string {
	if index < 0 || index >= len(p.positional) {
		return nil
	}
	return p.positional[index:]
}

// PositionalCount returns the number of positional arguments.
func (p *ArgParser) PositionalCount() int {
	return len(p.positional)
}

// Text joins the positional arguments from index on with spaces.
func (p *ArgParser) Text(index int) string {
	return strings.Join(p.PositionalFrom(index), " ")
}

// =============================================================================
// VALUE HELPERS
// =============================================================================

// ParseIntWithValidation parses a positive integer.
func ParseIntWithValidation(s string, fieldName string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("%s is required", fieldName)
	}
	val, err := strconv.Atoi(s)
	if err != nil {
		return 0, NewValidationError(fieldName, s, "must be a whole number")
	}
	if val <= 0 {
		return 0, NewValidationError(fieldName, s, "must be positive")
	}
	return val, nil
}

// ParseBoolString accepts true/false, yes/no, y/n, 1/0 and on/off.
func ParseBoolString(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "y", "1", "on":
		return true, nil
	case "false", "no", "n", "0", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean value: %s", s)
	}
}
