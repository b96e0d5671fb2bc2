package analytics

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// MaxCounterKeyLength bounds CounterMap keys.
const MaxCounterKeyLength = 64

// CounterMap is a set of named counters such as orders by diet. Keys become
// nested field paths in the backend, so they are validated before use.
type CounterMap map[string]int64

// Inc adds n to key.
func (m CounterMap) Inc(key string, n int64) {
	m[key] += n
}

// Merge adds every counter of other into m.
func (m CounterMap) Merge(other CounterMap) {
	for k, v := range other {
		m[k] += v
	}
}

// Keys returns the keys in sorted order.
func (m CounterMap) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Validate checks that every key is safe to use as a field path segment.
func (m CounterMap) Validate() error {
	for k := range m {
		if err := ValidateCounterKey(k); err != nil {
			return err
		}
	}
	return nil
}

// ValidateCounterKey rejects empty, overlong, and path-breaking keys.
func ValidateCounterKey(key string) error {
	if key == "" {
		return fmt.Errorf("counter key is empty")
	}
	if len(key) > MaxCounterKeyLength {
		return fmt.Errorf("counter key %q exceeds %d bytes", key, MaxCounterKeyLength)
	}
	if strings.HasPrefix(key, "$") {
		return fmt.Errorf("counter key %q must not start with '$'", key)
	}
	for _, r := range key {
		if r == '.' || r == '"' || r == '\\' || unicode.IsControl(r) {
			return fmt.Errorf("counter key %q contains invalid character %q", key, r)
		}
	}
	return nil
}
