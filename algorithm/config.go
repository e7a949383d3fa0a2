package algorithm

import (
	"fmt"
	"strings"
)

// Configuration is the ordered list of algorithms an endpoint offers in its
// Hello, most preferred first.
//
// A Configuration must not be modified once a session has been started with
// it; sessions take a Clone at construction time.
type Configuration struct {
	lists map[Category][]Name
}

// NewConfiguration returns an empty configuration.
func NewConfiguration() *Configuration {
	return &Configuration{lists: make(map[Category][]Name)}
}

// NewMandatoryConfiguration returns a configuration that offers exactly the
// mandatory algorithms.
func NewMandatoryConfiguration() *Configuration {
	c := NewConfiguration()
	for _, cat := range Categories {
		for _, n := range mandatory[cat] {
			_ = c.Add(cat, n)
		}
	}
	return c
}

// NewStandardConfiguration returns the default preference order: elliptic
// curves before the finite-field groups, multistream enabled, SHA-384 and
// AES-256 offered ahead of the mandatory algorithms.
func NewStandardConfiguration() *Configuration {
	c := NewConfiguration()
	for _, n := range []Name{S384, S256} {
		_ = c.Add(Hash, n)
	}
	for _, n := range []Name{AES3, AES1} {
		_ = c.Add(Cipher, n)
	}
	for _, n := range []Name{HS32, HS80} {
		_ = c.Add(AuthLength, n)
	}
	for _, n := range []Name{EC25, E255, DH3k, EC38, Mult} {
		_ = c.Add(KeyAgreement, n)
	}
	for _, n := range []Name{B32, B256} {
		_ = c.Add(SASType, n)
	}
	return c
}

// Add appends n to the list of category c. Duplicates are ignored.
func (c *Configuration) Add(cat Category, n Name) error {
	if !Known(cat, n) {
		return fmt.Errorf("%w: %s %q", ErrUnsupportedAlgorithm, cat, n)
	}
	if c.Contains(cat, n) {
		return nil
	}
	if len(c.lists[cat]) >= MaxPerCategory {
		return fmt.Errorf("too many %s algorithms: limit is %d", cat, MaxPerCategory)
	}
	c.lists[cat] = append(c.lists[cat], n)
	return nil
}

// Remove deletes n from category c.
func (c *Configuration) Remove(cat Category, n Name) {
	list := c.lists[cat]
	for i, k := range list {
		if k == n {
			c.lists[cat] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// Clear empties one category.
func (c *Configuration) Clear(cat Category) {
	delete(c.lists, cat)
}

// List returns a copy of the ordered list for category c.
func (c *Configuration) List(cat Category) []Name {
	return append([]Name(nil), c.lists[cat]...)
}

// Contains reports whether category c lists n.
func (c *Configuration) Contains(cat Category, n Name) bool {
	for _, k := range c.lists[cat] {
		if k == n {
			return true
		}
	}
	return false
}

// Supports reports whether this endpoint can use n: either it is listed, or
// it is mandatory and therefore implied.
func (c *Configuration) Supports(cat Category, n Name) bool {
	return c.Contains(cat, n) || contains(mandatory[cat], n)
}

// Validate checks that every category is non-empty and within the nibble limit.
func (c *Configuration) Validate() error {
	for _, cat := range Categories {
		list := c.lists[cat]
		if len(list) == 0 {
			return fmt.Errorf("configuration lists no %s algorithm", cat)
		}
		if len(list) > MaxPerCategory {
			return fmt.Errorf("configuration lists %d %s algorithms, limit is %d", len(list), cat, MaxPerCategory)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (c *Configuration) Clone() *Configuration {
	out := NewConfiguration()
	for cat, list := range c.lists {
		out.lists[cat] = append([]Name(nil), list...)
	}
	return out
}

// String renders the configuration for logs, e.g. "hash=S384,S256 cipher=AES1".
func (c *Configuration) String() string {
	parts := make([]string, 0, len(Categories))
	for _, cat := range Categories {
		names := make([]string, 0, len(c.lists[cat]))
		for _, n := range c.lists[cat] {
			names = append(names, n.Trimmed())
		}
		parts = append(parts, cat.String()+"="+strings.Join(names, ","))
	}
	return strings.Join(parts, " ")
}

// Negotiate returns the first algorithm in preferred that the peer offers.
// The peer's offer implicitly includes the category's mandatory algorithms.
// Only names this side lists are ever chosen.
func Negotiate(cat Category, preferred, peer []Name) (Name, error) {
	for _, n := range preferred {
		if contains(peer, n) || contains(mandatory[cat], n) {
			return n, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNoCommonAlgorithm, cat)
}

func contains(list []Name, n Name) bool {
	for _, k := range list {
		if k == n {
			return true
		}
	}
	return false
}
