package valueobject

import (
	"errors"
	"strings"
)

var (
	ErrInvalidPlatform = errors.New("invalid platform")
)

type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
)

// NewPlatform creates a new Platform value object
func NewPlatform(platform string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(platform)))
	switch p {
	case PlatformIOS, PlatformAndroid:
		return p, nil
	default:
		return "", ErrInvalidPlatform
	}
}

// String returns the string representation of the platform
func (p Platform) String() string {
	return string(p)
}

// IsValid returns true if the platform is known
func (p Platform) IsValid() bool {
	return p == PlatformIOS || p == PlatformAndroid
}
