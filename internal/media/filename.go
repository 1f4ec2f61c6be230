package media

import (
	"fmt"
	"mime"
	"net/url"
	"path"
	"strings"
	"time"
	"unicode"
)

// SanitizeTitle reduces a title to a filesystem-safe stem: alphanumerics,
// spaces, hyphens and underscores only, at most 50 runes, trailing whitespace
// trimmed. An empty result falls back to a timestamped stem.
func SanitizeTitle(title string) string {
	var b strings.Builder
	count := 0
	for _, r := range title {
		if count >= 50 {
			break
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '-' || r == '_' {
			b.WriteRune(r)
			count++
		}
	}
	safe := strings.TrimRight(b.String(), " ")
	if safe == "" {
		safe = fmt.Sprintf("media_%d", time.Now().Unix())
	}
	return safe
}

// imageExtensions are the image formats served by the platforms' CDNs.
var imageExtensions = []string{".jpg", ".jpeg", ".png", ".webp"}

// ImageExtension resolves the file extension for a fetched image from the
// Content-Type header first, the URL path second, and "jpg" as a last
// resort.
func ImageExtension(contentType, imageURL string) string {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "jpeg") || strings.Contains(ct, "jpg"):
		return "jpg"
	case strings.Contains(ct, "png"):
		return "png"
	case strings.Contains(ct, "webp"):
		return "webp"
	}

	if u, err := url.Parse(imageURL); err == nil {
		ext := strings.ToLower(path.Ext(u.Path))
		for _, known := range imageExtensions {
			if ext == known {
				return strings.TrimPrefix(ext, ".")
			}
		}
	}
	// mime may still recognize an exotic but valid type
	if exts, err := mime.ExtensionsByType(contentType); err == nil {
		for _, e := range exts {
			for _, known := range imageExtensions {
				if e == known {
					return strings.TrimPrefix(e, ".")
				}
			}
		}
	}
	return "jpg"
}
