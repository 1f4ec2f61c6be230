package media

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeTitle(t *testing.T) {
	tests := []struct {
		name  string
		title string
		want  string
	}{
		{"plain", "My Holiday Video", "My Holiday Video"},
		{"strips punctuation", "Best clip!!! (2024) #viral", "Best clip 2024 viral"},
		{"keeps hyphen underscore", "some-title_v2", "some-title_v2"},
		{"trailing spaces trimmed", "clip   ", "clip"},
		{"unicode letters survive", "Videoning sarlavhasi", "Videoning sarlavhasi"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, SanitizeTitle(tc.title))
		})
	}

	t.Run("caps at 50 runes", func(t *testing.T) {
		long := strings.Repeat("a", 80)
		assert.Len(t, SanitizeTitle(long), 50)
	})

	t.Run("empty falls back to timestamped stem", func(t *testing.T) {
		got := SanitizeTitle("!!!???")
		assert.True(t, strings.HasPrefix(got, "media_"), "got %q", got)
	})
}

func TestImageExtension(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		url         string
		want        string
	}{
		{"jpeg content type", "image/jpeg", "https://cdn.example.com/x", "jpg"},
		{"png content type", "image/png; charset=binary", "https://cdn.example.com/x", "png"},
		{"webp content type", "image/webp", "https://cdn.example.com/x", "webp"},
		{"url suffix wins without content type", "", "https://i.pinimg.com/736x/ab/cd/photo.png", "png"},
		{"url suffix with query", "application/octet-stream", "https://cdn.example.com/photo.webp?v=1", "webp"},
		{"default jpg", "text/html", "https://cdn.example.com/page", "jpg"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ImageExtension(tc.contentType, tc.url))
		})
	}
}
