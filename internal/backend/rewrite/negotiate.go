package rewrite

import "strings"

// ClientSupport captures which optimized formats the requesting client
// declared in its Accept header. The zero value means "no optimized
// format": a client that does not declare support is never guessed at.
type ClientSupport struct {
	AVIF bool
	WebP bool
}

// ParseAccept reads format support from an Accept header value.
func ParseAccept(accept string) ClientSupport {
	return ClientSupport{
		AVIF: strings.Contains(accept, "image/avif"),
		WebP: strings.Contains(accept, "image/webp"),
	}
}

// Any reports whether the client accepts at least one optimized format.
func (c ClientSupport) Any() bool {
	return c.AVIF || c.WebP
}
