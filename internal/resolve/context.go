// Package resolve implements the resolution pipeline: rule composition,
// conditional loading, ordering, evaluation, and the fold of matched rule
// configs into the specification's default document.
package resolve

import (
	"time"

	"github.com/l0p7/confctrl/internal/clientinfo"
	"github.com/l0p7/confctrl/internal/spec"
)

// Context carries everything about one resolution request the pipeline can
// match against. It is built once at the transport boundary and discarded
// when the request completes.
type Context struct {
	UserAgent  string
	Parsed     clientinfo.Parsed
	AppVersion string

	// OS and Device, when set, win over the parsed user agent.
	OS     string
	Device string

	// GeoCountry/GeoRegion are IP-derived; ClientGeo is the caller-supplied
	// override that takes precedence.
	GeoCountry string
	GeoRegion  string
	ClientGeo  *clientinfo.Location

	Timestamp    time.Time
	Environment  string
	FeatureFlags map[string]bool
	UserID       string
	Custom       map[string]any
}

// EffectiveOS resolves the os attribute with the explicit field winning over
// the parsed user agent.
func (c Context) EffectiveOS() string {
	if c.OS != "" {
		return c.OS
	}
	return c.Parsed.OS.Name
}

// EffectiveDevice resolves the device attribute the same way.
func (c Context) EffectiveDevice() string {
	if c.Device != "" {
		return c.Device
	}
	return c.Parsed.Device.Type
}

// EffectiveCountry prefers client-provided geography over the IP-derived one.
func (c Context) EffectiveCountry() string {
	if c.ClientGeo != nil && c.ClientGeo.Country != "" {
		return c.ClientGeo.Country
	}
	return c.GeoCountry
}

// EffectiveRegion prefers client-provided geography over the IP-derived one.
func (c Context) EffectiveRegion() string {
	if c.ClientGeo != nil && c.ClientGeo.Region != "" {
		return c.ClientGeo.Region
	}
	return c.GeoRegion
}

// contextValue extracts the comparable value for a condition type. The ok
// result distinguishes a genuinely absent attribute from a present one, which
// drives the missing-value comparison semantics.
func contextValue(condType string, ctx Context) (any, bool) {
	switch condType {
	case spec.ConditionAppVersion:
		return ctx.AppVersion, ctx.AppVersion != ""
	case spec.ConditionOS:
		v := ctx.EffectiveOS()
		return v, v != ""
	case spec.ConditionDevice:
		v := ctx.EffectiveDevice()
		return v, v != ""
	case spec.ConditionGeoCountry:
		v := ctx.EffectiveCountry()
		return v, v != ""
	case spec.ConditionGeoRegion:
		v := ctx.EffectiveRegion()
		return v, v != ""
	case spec.ConditionTimeAfter, spec.ConditionTimeBefore:
		if ctx.Timestamp.IsZero() {
			return int64(0), false
		}
		return ctx.Timestamp.UnixMilli(), true
	case spec.ConditionUserAgentMatch:
		return ctx.UserAgent, ctx.UserAgent != ""
	default:
		return nil, false
	}
}
