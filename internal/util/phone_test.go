package util

import "testing"

func TestNormalizePhone(t *testing.T) {
	t.Parallel()

	cases := []struct{ in, want string }{
		{"(555) 555-0100", "+15555550100"},
		{"555-555-0100", "+15555550100"},
		{"15555550100", "+15555550100"},
		{"+15555550100", "+15555550100"},
		{"0044 20 7946 0000", "+442079460000"},
		{" +1 555 555 0100 ", "+15555550100"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := NormalizePhone(tc.in); got != tc.want {
			t.Fatalf("NormalizePhone(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
