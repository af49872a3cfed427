package errors

import (
	"testing"
)

func TestValidateResource(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"corporation", "corporationID/787611831/", false},
		{"leading slash", "/corporationID/787611831/", false},
		{"no trailing slash", "corporationID/787611831", false},
		{"paged", "characterID/2114350216/page/3/", false},
		{"query", "stats/?type=alliance&id=99003581", false},

		{"empty", "", true},
		{"slash only", "/", true},
		{"too long", "corporationID/" + string(make([]byte, 300)), true},
		{"path traversal", "corporationID/../../etc", true},
		{"backslash", "corporationID\\1", true},
		{"null byte", "kills\x00", true},
		{"newline", "kills/\n", true},
		{"absolute url", "https://zkillboard.com/api/kills/", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateResource(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateResource(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil && !Is(err, ErrCodeInvalidResource) {
				t.Errorf("ValidateResource(%q) code = %v, want %v", tt.input, GetCode(err), ErrCodeInvalidResource)
			}
		})
	}
}

func TestErrorCodesAreUnique(t *testing.T) {
	codes := []Code{
		ErrCodeInvalidInput,
		ErrCodeInvalidResource,
		ErrCodeInvalidConfig,
		ErrCodeNotFound,
		ErrCodeNetwork,
		ErrCodeTimeout,
		ErrCodeRateLimited,
		ErrCodeForbidden,
		ErrCodeCache,
		ErrCodeCacheCorrupt,
		ErrCodeInternal,
		ErrCodeUnsupported,
	}

	seen := make(map[Code]bool)
	for _, code := range codes {
		if seen[code] {
			t.Errorf("Duplicate error code: %s", code)
		}
		seen[code] = true
	}
}
