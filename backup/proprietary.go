package backup

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Proprietary is the open extension bag of a backup or an account. Values are
// kept as raw JSON, which is what lets keys that this package doesn't know
// about survive a read-modify-write cycle untouched.
type Proprietary map[string]json.RawMessage

// IsEmpty returns true if the bag holds no entries.
func (p Proprietary) IsEmpty() bool {
	return len(p) == 0
}

// Keys returns the keys of the bag in encoding order.
func (p Proprietary) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys
}

// Get decodes the value stored under key into v. It returns false if the key
// is absent.
func (p Proprietary) Get(key string, v any) (bool, error) {
	raw, ok := p[key]
	if !ok {
		return false, nil
	}

	if err := json.Unmarshal(raw, v); err != nil {
		return true, fmt.Errorf("proprietary %q: %w", key, err)
	}

	return true, nil
}

// Set encodes v and stores it under key, replacing any previous value.
func (p Proprietary) Set(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("proprietary %q: %w", key, err)
	}
	p[key] = raw

	return nil
}

// Clone returns a copy of the bag that shares no memory with p.
func (p Proprietary) Clone() Proprietary {
	if p == nil {
		return nil
	}

	clone := make(Proprietary, len(p))
	for k, v := range p {
		clone[k] = append(json.RawMessage(nil), v...)
	}

	return clone
}
