// Package clientinfo holds the narrow interfaces for the request-context
// capabilities the resolution core consumes but does not own: user-agent
// parsing and IP geolocation. The defaults here are deliberately small;
// deployments can swap in richer implementations behind the same interfaces.
package clientinfo

import (
	"regexp"
	"strings"
)

// Parsed is the structured user-agent form the condition evaluator falls back
// to when the request does not carry explicit os/device fields.
type Parsed struct {
	OS     OSInfo     `json:"os"`
	Device DeviceInfo `json:"device"`
}

// OSInfo names the operating system extracted from the user agent.
type OSInfo struct {
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
}

// DeviceInfo classifies the device extracted from the user agent.
type DeviceInfo struct {
	Type string `json:"type,omitempty"`
}

// Parser turns a raw User-Agent header into the structured form.
type Parser interface {
	Parse(userAgent string) Parsed
}

type regexpParser struct{}

// NewParser returns the built-in regexp-backed parser. It recognizes the
// mobile platforms the service targets plus the common desktop ones.
func NewParser() Parser { return regexpParser{} }

var (
	iosVersionRe     = regexp.MustCompile(`(?i)(?:iPhone OS|iOS|CPU OS)[ /]?(\d+(?:[._]\d+)*)`)
	androidVersionRe = regexp.MustCompile(`(?i)Android[ /]?(\d+(?:\.\d+)*)`)
	windowsVersionRe = regexp.MustCompile(`(?i)Windows NT (\d+(?:\.\d+)*)`)
	macVersionRe     = regexp.MustCompile(`(?i)Mac OS X (\d+(?:[._]\d+)*)`)
)

func (regexpParser) Parse(userAgent string) Parsed {
	ua := strings.TrimSpace(userAgent)
	if ua == "" {
		return Parsed{}
	}
	lower := strings.ToLower(ua)

	var parsed Parsed
	switch {
	case strings.Contains(lower, "iphone"), strings.Contains(lower, "ipad"),
		strings.Contains(lower, "ipod"), strings.Contains(lower, "ios"):
		parsed.OS.Name = "iOS"
		if m := iosVersionRe.FindStringSubmatch(ua); m != nil {
			parsed.OS.Version = strings.ReplaceAll(m[1], "_", ".")
		}
	case strings.Contains(lower, "android"):
		parsed.OS.Name = "Android"
		if m := androidVersionRe.FindStringSubmatch(ua); m != nil {
			parsed.OS.Version = m[1]
		}
	case strings.Contains(lower, "windows"):
		parsed.OS.Name = "Windows"
		if m := windowsVersionRe.FindStringSubmatch(ua); m != nil {
			parsed.OS.Version = m[1]
		}
	case strings.Contains(lower, "mac os"), strings.Contains(lower, "macintosh"):
		parsed.OS.Name = "macOS"
		if m := macVersionRe.FindStringSubmatch(ua); m != nil {
			parsed.OS.Version = strings.ReplaceAll(m[1], "_", ".")
		}
	case strings.Contains(lower, "linux"):
		parsed.OS.Name = "Linux"
	}

	switch {
	case strings.Contains(lower, "ipad"), strings.Contains(lower, "tablet"):
		parsed.Device.Type = "tablet"
	case strings.Contains(lower, "iphone"), strings.Contains(lower, "ipod"),
		strings.Contains(lower, "mobile"), strings.Contains(lower, "android"):
		parsed.Device.Type = "phone"
	case parsed.OS.Name != "":
		parsed.Device.Type = "desktop"
	}

	return parsed
}
