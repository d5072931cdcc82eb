package version

import (
	"strings"
	"testing"
)

func TestVersion(t *testing.T) {
	tests := []struct {
		name    string
		version string
		wantSet bool
	}{
		{
			name:    "VersionVariable",
			version: Version,
			wantSet: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if (tt.version != "") != tt.wantSet {
				t.Errorf("Version = %q, wantSet %v", tt.version, tt.wantSet)
			}
		})
	}
}

func TestUserAgent(t *testing.T) {
	ua := UserAgent()
	if !strings.HasPrefix(ua, "storyforge/") || !strings.HasSuffix(ua, Version) {
		t.Errorf("unexpected user agent %q", ua)
	}
}
