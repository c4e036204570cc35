package reliability

import "testing"

func TestIsRetryableHTTPStatus(t *testing.T) {
	cases := []struct {
		code int
		want bool
	}{
		{429, true},
		{500, true},
		{503, true},
		{400, false},
		{401, false},
		{200, false},
	}
	for _, tc := range cases {
		if got := IsRetryableHTTPStatus(tc.code); got != tc.want {
			t.Fatalf("IsRetryableHTTPStatus(%d) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestIsRetryableUpstreamCode(t *testing.T) {
	cases := []struct {
		code string
		want bool
	}{
		{"rate_limited", true},
		{"queue_overflow", true},
		{"invalid_voice", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := IsRetryableUpstreamCode(tc.code); got != tc.want {
			t.Fatalf("IsRetryableUpstreamCode(%q) = %v, want %v", tc.code, got, tc.want)
		}
	}
}
