package capture

import (
	"fmt"
	"regexp"
)

// Platform carries the rendering quirks of a client family.
type Platform struct {
	Name string
	// PixelCeiling is the largest bitmap area the client can hold.
	// Zero means unconstrained.
	PixelCeiling int64
	// InlineImage clients cannot trigger downloads of generated images;
	// they get an inline viewing page instead.
	InlineImage bool
}

// PlatformRule matches a User-Agent pattern to a Platform.
type PlatformRule struct {
	Pattern  string
	Platform Platform
}

// DefaultPlatformRules covers iOS WebKit, whose canvas tops out near
// 16.7M pixels and which ignores download attributes on data URLs.
var DefaultPlatformRules = []PlatformRule{
	{
		Pattern:  `iPhone|iPad|iPod|Macintosh.*Mobile/`,
		Platform: Platform{Name: "ios-webkit", PixelCeiling: 15_000_000, InlineImage: true},
	},
}

// Unconstrained is returned when no rule matches.
var Unconstrained = Platform{Name: "default"}

// Platforms detects the client platform from its User-Agent. Detection is
// best effort; unknown agents are treated as unconstrained.
type Platforms struct {
	rules []compiledRule
}

type compiledRule struct {
	re       *regexp.Regexp
	platform Platform
}

// CompilePlatforms compiles rules in order; the first match wins.
func CompilePlatforms(rules []PlatformRule) (*Platforms, error) {
	p := &Platforms{}
	for _, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("capture: platform %s: %w", r.Platform.Name, err)
		}
		p.rules = append(p.rules, compiledRule{re: re, platform: r.Platform})
	}
	return p, nil
}

// Detect returns the platform for userAgent.
func (p *Platforms) Detect(userAgent string) Platform {
	if p == nil {
		return Unconstrained
	}
	for _, r := range p.rules {
		if r.re.MatchString(userAgent) {
			return r.platform
		}
	}
	return Unconstrained
}
