package lock

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidKey is returned for identifiers that cannot form a lock key.
var ErrInvalidKey = errors.New("lock: invalid key")

// Key identifies one paragraph lock.
type Key struct {
	Document  string `json:"documentId"`
	Paragraph string `json:"paragraphId"`
}

// Validate checks that both identifiers are present and that the document ID
// does not contain the ':' separator.
func (k Key) Validate() error {
	if k.Document == "" || k.Paragraph == "" {
		return fmt.Errorf("%w: document and paragraph IDs are required", ErrInvalidKey)
	}
	if strings.Contains(k.Document, ":") {
		return fmt.Errorf("%w: document ID %q contains ':'", ErrInvalidKey, k.Document)
	}
	return nil
}

// storeKey returns the Redis key for k under prefix.
func (k Key) storeKey(prefix string) string {
	return prefix + k.Document + ":" + k.Paragraph
}

// ParseKey reverses storeKey. Paragraph IDs may contain ':'.
func ParseKey(prefix, raw string) (Key, error) {
	rest, ok := strings.CutPrefix(raw, prefix)
	if !ok {
		return Key{}, fmt.Errorf("%w: %q lacks prefix %q", ErrInvalidKey, raw, prefix)
	}
	doc, para, ok := strings.Cut(rest, ":")
	if !ok {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, raw)
	}
	k := Key{Document: doc, Paragraph: para}
	if err := k.Validate(); err != nil {
		return Key{}, err
	}
	return k, nil
}
