// SPDX-License-Identifier: MIT

package model

import "strings"

// Key is the ordered segment form of a state entry name, e.g. ["room","1"].
type Key []string

const keySeparator = "."

// Canonical joins the segments with ".". Segments are not escaped, so
// ["a.b"] and ["a","b"] share one canonical form. That collision is a
// documented limitation of the protocol and is not detected at runtime.
func (k Key) Canonical() string {
	return strings.Join(k, keySeparator)
}

// ParseKey splits a canonical string back into its segments.
func ParseKey(canonical string) Key {
	return Key(strings.Split(canonical, keySeparator))
}
