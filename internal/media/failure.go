package media

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/clipper-dl/clipper/internal/domain/model"
)

// FailureReason is the structured cause attached to a failed extraction.
// User-facing messages are derived from the reason, never the other way
// around.
type FailureReason string

const (
	ReasonInvalidURL          FailureReason = "invalid_url"
	ReasonUnsupportedPlatform FailureReason = "unsupported_platform"
	ReasonNoMediaFound        FailureReason = "no_media_found"
	ReasonExtractionBlocked   FailureReason = "extraction_blocked"
	ReasonTransientNetwork    FailureReason = "transient_network_error"
	ReasonUnknown             FailureReason = "unknown"
)

// ExtractionError carries the extractor's stderr so failures can be
// classified by keyword after all selectors are exhausted.
type ExtractionError struct {
	Platform model.Platform
	Stage    string
	Selector string
	Stderr   string
	Err      error
}

func (e *ExtractionError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Selector != "" {
		return fmt.Sprintf("%s %s (selector %q): %s", e.Platform, e.Stage, e.Selector, msg)
	}
	return fmt.Sprintf("%s %s: %s", e.Platform, e.Stage, msg)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// ClassifyFailure maps an extraction error to a structured reason using the
// extractor's stderr keywords.
func ClassifyFailure(err error) FailureReason {
	if err == nil {
		return ReasonUnknown
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTransientNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ReasonTransientNetwork
	}

	text := strings.ToLower(err.Error())
	var extErr *ExtractionError
	if errors.As(err, &extErr) {
		text = strings.ToLower(extErr.Stderr + " " + text)
	}

	switch {
	case strings.Contains(text, "login") ||
		strings.Contains(text, "private") ||
		strings.Contains(text, "not available") ||
		strings.Contains(text, "rate-limit") ||
		strings.Contains(text, "rate limit"):
		return ReasonExtractionBlocked
	case strings.Contains(text, "no video formats") ||
		strings.Contains(text, "video formats") ||
		strings.Contains(text, "unsupported url") ||
		strings.Contains(text, "no media found"):
		return ReasonNoMediaFound
	case strings.Contains(text, "timed out") ||
		strings.Contains(text, "timeout") ||
		strings.Contains(text, "connection reset") ||
		strings.Contains(text, "temporary failure"):
		return ReasonTransientNetwork
	default:
		return ReasonUnknown
	}
}

// Blocked reports whether the failure is the kind the Instagram bypass and
// alternative-configuration passes can work around.
func (r FailureReason) Blocked() bool {
	return r == ReasonExtractionBlocked
}

// localizedMessages holds the user-facing failure text per reason and
// platform. The service's audience is Uzbek-speaking, matching the product's
// Telegram bot origin; messages stay in Uzbek deliberately.
var localizedMessages = map[FailureReason]map[model.Platform]string{
	ReasonUnsupportedPlatform: {
		"": "Unsupported platform. Supported: Instagram, Facebook, TikTok, Pinterest",
	},
	ReasonNoMediaFound: {
		model.PlatformPinterest: "Bu Pinterest post videosiz. Faqat video bor postlarni yuklab olish mumkin.",
		"":                      "Bu postdan video yoki rasm topilmadi. URL ni tekshiring.",
	},
	ReasonExtractionBlocked: {
		model.PlatformInstagram: "Bu Instagram post maxfiy, mavjud emas yoki server tomonidan bloklangan. Ochiq postlarni tanlang yoki keyinroq urinib ko'ring.",
		model.PlatformFacebook:  "Bu Facebook video maxfiy yoki mavjud emas. Ochiq videolarni tanlang.",
		"":                      "Post maxfiy yoki mavjud emas. Ochiq postlarni tanlang.",
	},
	ReasonTransientNetwork: {
		"": "Tarmoq xatoligi yuz berdi. Birozdan keyin qayta urinib ko'ring.",
	},
}

// noMediaMessage is the platform-branded no-media text used when a probe
// succeeds but the post has neither video formats nor a usable image.
func noMediaMessage(platform model.Platform) string {
	if platform == model.PlatformPinterest {
		return localizedMessages[ReasonNoMediaFound][model.PlatformPinterest]
	}
	return fmt.Sprintf("Bu %s postdan video yoki rasm topilmadi. URL ni tekshiring.", platform.Title())
}

// LocalizedMessage renders the user-facing failure text for a reason on a
// platform. lastError feeds the generic fallback so unknown failures still
// surface something actionable.
func LocalizedMessage(reason FailureReason, platform model.Platform, lastError string) string {
	if byPlatform, ok := localizedMessages[reason]; ok {
		if msg, ok := byPlatform[platform]; ok {
			return msg
		}
		if reason == ReasonNoMediaFound {
			return noMediaMessage(platform)
		}
		if msg, ok := byPlatform[""]; ok {
			return msg
		}
	}

	if platform == model.PlatformTikTok && strings.Contains(strings.ToLower(lastError), "video") {
		return "TikTok videosini yuklab olishda xatolik. URL ni tekshiring."
	}
	return fmt.Sprintf("Yuklab olish muvaffaqiyatsiz tugadi. Xatolik: %s", lastError)
}
