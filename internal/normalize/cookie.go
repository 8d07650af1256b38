package normalize

import (
	"net/url"
	"strings"
)

// ParseCookies splits a raw Cookie header into a name -> value map.
// Pairs split on the first "=" only; values are URL-unescaped, falling
// back to the raw value when unescaping fails. An empty header yields an
// empty map, never nil.
func ParseCookies(header string) map[string]string {
	cookies := make(map[string]string)

	for _, pair := range strings.Split(header, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		name, value, found := strings.Cut(pair, "=")
		if !found || name == "" {
			continue
		}

		if unescaped, err := url.QueryUnescape(value); err == nil {
			value = unescaped
		}
		cookies[name] = value
	}

	return cookies
}
