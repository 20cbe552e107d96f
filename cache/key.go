package cache

import (
	"encoding/hex"
	"fmt"

	json "github.com/goccy/go-json"
	"golang.org/x/crypto/blake2b"
)

// KeySize is the digest size of derived keys in bytes (128 bits).
const KeySize = 16

// KeyInput holds the request attributes that identify a cached response.
type KeyInput struct {
	URL    string
	Method string
	Params map[string]any
	Data   any
	JSON   any

	// User scopes the key to one caller. Empty means shared.
	User string
}

// Key derives a stable cache key from in. The attributes are serialized
// as JSON with sorted object keys at every level, so maps with the same
// contents always produce the same key regardless of insertion order.
func Key(in KeyInput) (string, error) {
	doc := map[string]any{
		"url":    in.URL,
		"method": in.Method,
		"params": in.Params,
		"data":   in.Data,
		"json":   in.JSON,
	}
	if in.User != "" {
		doc["user"] = in.User
	}

	canonical, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("cache key: %w", err)
	}

	h, err := blake2b.New(KeySize, nil)
	if err != nil {
		return "", fmt.Errorf("cache key: %w", err)
	}
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}
