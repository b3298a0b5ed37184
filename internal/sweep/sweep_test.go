package sweep

import "testing"

func TestShortPrefix(t *testing.T) {
	cases := map[string]string{
		"abc1234567890": "abc12345",
		"abc123":        "abc123",
		"":              "",
	}
	for in, want := range cases {
		if got := shortPrefix(in); got != want {
			t.Errorf("shortPrefix(%q) = %q, want %q", in, got, want)
		}
	}
}
