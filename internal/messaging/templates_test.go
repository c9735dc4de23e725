package messaging

import (
	"strings"
	"testing"
)

func TestWelcomeBodyPlaceholders(t *testing.T) {
	template := "Hi {fullname} ({email}), welcome to {coursename}. Profile: {profileurl}"
	body := WelcomeBody(template, "Intro to Go", "https://lms.test/user/profile/7", "Alice Adams", "alice@example.com")
	want := "Hi Alice Adams (alice@example.com), welcome to Intro to Go. Profile: https://lms.test/user/profile/7"
	if body != want {
		t.Errorf("body = %q, want %q", body, want)
	}
}

func TestWelcomeBodyDefault(t *testing.T) {
	body := WelcomeBody("  ", "Intro to Go", "https://lms.test/user/profile/7", "Alice Adams", "alice@example.com")
	if !strings.HasPrefix(body, "Welcome to Intro to Go!") {
		t.Errorf("default body = %q", body)
	}
	if !strings.Contains(body, "https://lms.test/user/profile/7") {
		t.Errorf("default body missing profile url: %q", body)
	}
}

func TestExpiryBodies(t *testing.T) {
	body := ExpiryUserBody("Alice Adams", "Intro to Go", 1772452800, "Mabel Moore")
	if !strings.Contains(body, "Dear Alice Adams") || !strings.Contains(body, "'Intro to Go'") {
		t.Errorf("user body = %q", body)
	}
	if !strings.Contains(body, "please contact Mabel Moore") {
		t.Errorf("user body missing enroller: %q", body)
	}

	summary := ExpirySummaryBody("Intro to Go", 4*86400, []string{
		ExpiryLine("Alice Adams", 1772452800),
		ExpiryLine("Ben Brown", 1772539200),
	})
	if !strings.Contains(summary, "will expire within 4 days") {
		t.Errorf("summary = %q", summary)
	}
	if !strings.Contains(summary, "* Alice Adams (") || !strings.Contains(summary, "* Ben Brown (") {
		t.Errorf("summary lines = %q", summary)
	}
}

func TestFormatThreshold(t *testing.T) {
	cases := []struct {
		seconds int64
		want    string
	}{
		{86400, "1 day"},
		{4 * 86400, "4 days"},
		{7200, "2 hours"},
	}
	for _, tc := range cases {
		if got := formatThreshold(tc.seconds); got != tc.want {
			t.Errorf("formatThreshold(%d) = %q, want %q", tc.seconds, got, tc.want)
		}
	}
}
