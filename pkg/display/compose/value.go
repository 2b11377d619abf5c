/*
AcePanel Core
Copyright (c) 2026 The AcePanel Project Contributors.
SPDX-License-Identifier: GPL-3.0-or-later

This file is part of AcePanel Core.

AcePanel Core is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

AcePanel Core is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with AcePanel Core.  If not, see <http://www.gnu.org/licenses/>.
*/

package compose

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Value is the closed variant of things a text element can display: either a
// plain string or a numeric measurement. Callers convert whatever their
// sensor source produces into one of the two before handing it over.
type Value interface {
	// Display returns the plain string form used when no format template
	// applies or when substitution fails.
	Display() string

	isValue()
}

type StringValue string

func (v StringValue) Display() string { return string(v) }
func (StringValue) isValue()          {}

type NumberValue float64

func (v NumberValue) Display() string {
	return strconv.FormatFloat(float64(v), 'g', -1, 64)
}
func (NumberValue) isValue() {}

// placeholderRe matches "{value}" with an optional format spec, e.g.
// "{value:.1f}" or "{value:%.1f}".
var placeholderRe = regexp.MustCompile(`\{value(?::([^}]*))?\}`)

// anyPlaceholderRe matches any brace token, used to detect templates that
// reference placeholders this system does not know.
var anyPlaceholderRe = regexp.MustCompile(`\{[^}]*\}`)

// FormatValue substitutes a value into the element's format template and
// wraps the result with prefix and suffix. Substitution failures of any kind
// (unknown placeholder, bad format spec) fall back to the literal value
// wrapped in prefix/suffix; formatting must never abort a render.
func FormatValue(format, prefix, suffix string, v Value) string {
	if format == "" {
		format = "{value}"
	}

	out, err := substitute(format, v)
	if err != nil {
		out = v.Display()
	}

	return prefix + out + suffix
}

func substitute(format string, v Value) (string, error) {
	if !placeholderRe.MatchString(format) {
		if anyPlaceholderRe.MatchString(format) {
			return "", fmt.Errorf("unknown placeholder in template %q", format)
		}
		// A template with no placeholder at all is taken literally.
		return format, nil
	}

	var substErr error
	out := placeholderRe.ReplaceAllStringFunc(format, func(m string) string {
		spec := placeholderRe.FindStringSubmatch(m)[1]
		s, err := applySpec(spec, v)
		if err != nil && substErr == nil {
			substErr = err
		}
		return s
	})
	if substErr != nil {
		return "", substErr
	}

	if rest := anyPlaceholderRe.FindString(out); rest != "" {
		return "", fmt.Errorf("unresolved placeholder %q", rest)
	}

	return out, nil
}

func applySpec(spec string, v Value) (string, error) {
	if spec == "" {
		return v.Display(), nil
	}
	if !strings.HasPrefix(spec, "%") {
		spec = "%" + spec
	}

	var out string
	switch val := v.(type) {
	case NumberValue:
		switch spec[len(spec)-1] {
		case 'd', 'b', 'o', 'x', 'X', 'c', 'q':
			out = fmt.Sprintf(spec, int64(val))
		case 's', 'v':
			out = fmt.Sprintf(spec, val.Display())
		default:
			out = fmt.Sprintf(spec, float64(val))
		}
	default:
		out = fmt.Sprintf(spec, v.Display())
	}

	// Sprintf reports verb/operand mismatches inline rather than as errors.
	if strings.Contains(out, "%!") {
		return "", fmt.Errorf("format spec %q does not apply to %q", spec, v.Display())
	}

	return out, nil
}
