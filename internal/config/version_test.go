package config

import (
	"errors"
	"testing"
)

func TestValidateVersion(t *testing.T) {
	tests := []struct {
		version    int
		wantReason string
	}{
		{CurrentVersion, ""},
		{0, "invalid"},
		{-1, "invalid"},
		{CurrentVersion + 1, "newer than this build"},
	}
	for _, tt := range tests {
		err := ValidateVersion(tt.version)
		if tt.wantReason == "" {
			if err != nil {
				t.Errorf("ValidateVersion(%d) = %v, want nil", tt.version, err)
			}
			continue
		}
		var ve *VersionError
		if !errors.As(err, &ve) {
			t.Fatalf("ValidateVersion(%d) = %T, want *VersionError", tt.version, err)
		}
		if ve.Reason != tt.wantReason || ve.Current != CurrentVersion {
			t.Errorf("ValidateVersion(%d) = %+v, want reason %q", tt.version, ve, tt.wantReason)
		}
	}
}
