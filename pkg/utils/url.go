package utils

import (
	"crypto/md5"
	"encoding/hex"
	"net/url"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// ShortURLMarker prefixes a persisted URL that is relative to the audit's base URL.
const ShortURLMarker = "*"

// HashID returns the hex MD5 of s. Page IDs, link IDs and record keys use it,
// which keeps them identical to the IDs found in records written by older
// versions of the service.
func HashID(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashKey hashes parts into a short, consistent key suitable for Redis.
func HashKey(parts ...string) string {
	d := xxhash.New()
	for i, p := range parts {
		if i > 0 {
			_, _ = d.WriteString("\x00")
		}
		_, _ = d.WriteString(p)
	}
	return strconv.FormatUint(d.Sum64(), 16)
}

// ShortURL encodes fullURL relative to baseURL when it starts with it.
// Other URLs are returned unchanged.
func ShortURL(baseURL, fullURL string) string {
	if baseURL != "" && strings.HasPrefix(fullURL, baseURL) {
		return ShortURLMarker + fullURL[len(baseURL):]
	}
	return fullURL
}

// FullURL reverses ShortURL.
func FullURL(baseURL, shortURL string) string {
	if strings.HasPrefix(shortURL, ShortURLMarker) {
		return baseURL + shortURL[len(ShortURLMarker):]
	}
	return shortURL
}

// ToAbsoluteURL converts a relative URL to an absolute URL given a base URL.
func ToAbsoluteURL(base *url.URL, relative string) (string, error) {
	relURL, err := url.Parse(relative)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(relURL).String(), nil
}
