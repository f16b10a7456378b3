package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

// Key derives the cache key for a request: the SHA-256 of the method, the
// normalized URL and the merged, sorted query parameters.
func Key(method, rawURL string, params url.Values) (string, error) {
	normalized, err := NormalizeURL(rawURL, params)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(strings.ToUpper(method) + " " + normalized))
	return hex.EncodeToString(sum[:]), nil
}

// NormalizeURL lowercases the scheme and host, removes default ports and the
// fragment, and merges params into the query in sorted order.
func NormalizeURL(rawURL string, params url.Values) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	u.Fragment = ""
	u.RawFragment = ""

	q := u.Query()
	for k, values := range params {
		for _, v := range values {
			q.Add(k, v)
		}
	}
	// Encode sorts by key; values keep insertion order within a key.
	u.RawQuery = q.Encode()

	return u.String(), nil
}
