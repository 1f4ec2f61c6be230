// Package platform classifies submitted URLs by social media platform.
package platform

import (
	"fmt"
	"regexp"

	"github.com/clipper-dl/clipper/internal/domain/model"
)

// patterns maps each supported platform to its recognized URL shapes. A URL
// matches a platform when any pattern matches at the start of the string,
// case-insensitively. Order matters: the first platform with a matching
// pattern wins.
var patterns = []struct {
	platform model.Platform
	res      []*regexp.Regexp
}{
	{
		platform: model.PlatformInstagram,
		res: compileAll(
			`(?:https?://)?(?:www\.)?instagram\.com/(?:p|reel|tv)/[A-Za-z0-9_-]+/?`,
			`(?:https?://)?(?:www\.)?instagram\.com/stories/[^/]+/[0-9]+/?`,
		),
	},
	{
		platform: model.PlatformFacebook,
		res: compileAll(
			`(?:https?://)?(?:www\.|m\.)?facebook\.com/.*/videos?/[0-9]+/?`,
			`(?:https?://)?(?:www\.|m\.)?facebook\.com/watch/\?v=[0-9]+`,
			`(?:https?://)?fb\.watch/[A-Za-z0-9_-]+/?`,
		),
	},
	{
		platform: model.PlatformTikTok,
		res: compileAll(
			`(?:https?://)?(?:www\.|vm\.|m\.)?tiktok\.com/@[^/]+/video/[0-9]+/?`,
			`(?:https?://)?(?:www\.|vm\.|m\.)?tiktok\.com/t/[A-Za-z0-9_-]+/?`,
			`(?:https?://)?vm\.tiktok\.com/[A-Za-z0-9_-]+/?`,
		),
	},
	{
		platform: model.PlatformPinterest,
		res: compileAll(
			`(?:https?://)?(?:www\.)?pinterest\.[^/]+/pin/[0-9]+/?`,
			`(?:https?://)?(?:www\.)?pinterest\.[^/]+/[^/]+/[^/]+/[A-Za-z0-9_-]+/?`,
			`(?:https?://)?(?:www\.)?pinterest\.[^/]+/.*`,
			`(?:https?://)?(?:www\.)?pin\.it/[A-Za-z0-9_-]+/?`,
		),
	},
}

func compileAll(exprs ...string) []*regexp.Regexp {
	res := make([]*regexp.Regexp, 0, len(exprs))
	for _, expr := range exprs {
		// Anchor at the start only; trailing query strings and fragments
		// (?utm_source=..., ?igsh=...) must still match.
		res = append(res, regexp.MustCompile(`(?i)^(?:`+expr+`)`))
	}
	return res
}

// Detect classifies a URL by platform. URLs matching no supported platform
// return model.PlatformOther.
func Detect(url string) model.Platform {
	for _, entry := range patterns {
		for _, re := range entry.res {
			if re.MatchString(url) {
				return entry.platform
			}
		}
	}
	return model.PlatformOther
}

// Validate checks whether a URL is a recognized URL for the given platform.
// When platform is empty the platform is detected first. It returns whether
// the URL is acceptable and a human-readable reason.
func Validate(url string, platform model.Platform) (bool, string) {
	if platform == "" {
		platform = Detect(url)
	}

	if platform == model.PlatformOther {
		return false, "Unsupported platform. Supported: Instagram, Facebook, TikTok, Pinterest"
	}

	for _, entry := range patterns {
		if entry.platform != platform {
			continue
		}
		for _, re := range entry.res {
			if re.MatchString(url) {
				return true, fmt.Sprintf("Valid %s URL", platform.Title())
			}
		}
	}

	return false, fmt.Sprintf("Invalid %s URL format", platform.Title())
}
