package messaging

import (
	"fmt"
	"strings"
	"time"
)

const defaultWelcomeBody = "Welcome to {coursename}!\n\n" +
	"If you have not done so already, you should edit your profile page so that we can learn more about you:\n\n" +
	"  {profileurl}"

// WelcomeBody renders the welcome message for a fresh enrolment. A custom
// template may use the {coursename}, {profileurl}, {fullname} and {email}
// placeholders; an empty template falls back to the stock text.
func WelcomeBody(template, courseName, profileURL, fullName, email string) string {
	if strings.TrimSpace(template) == "" {
		template = defaultWelcomeBody
	}
	r := strings.NewReplacer(
		"{coursename}", courseName,
		"{profileurl}", profileURL,
		"{fullname}", fullName,
		"{email}", email,
	)
	return r.Replace(template)
}

func WelcomeSubject(courseName string) string {
	return fmt.Sprintf("Welcome to %s", courseName)
}

// ExpiryUserBody is the individual warning sent to a user whose enrolment is
// about to run out.
func ExpiryUserBody(fullName, courseName string, timeEnd int64, enrollerName string) string {
	return fmt.Sprintf(
		"Dear %s,\n\nThis is a notification that your enrolment in the course '%s' is due to expire on %s.\n\nIf you need help, please contact %s.",
		fullName, courseName, formatDate(timeEnd), enrollerName,
	)
}

// ExpirySummaryBody lists every expiring enrolment of a course for the
// enroller. Each line pairs a user's full name with their expiry date.
func ExpirySummaryBody(courseName string, thresholdSeconds int64, lines []string) string {
	return fmt.Sprintf(
		"The following users' enrolments in the course '%s' will expire within %s:\n\n%s",
		courseName, formatThreshold(thresholdSeconds), strings.Join(lines, "\n"),
	)
}

func ExpirySubject() string {
	return "Enrolment expiry notification"
}

// ExpiryLine is one entry of the summary body.
func ExpiryLine(fullName string, timeEnd int64) string {
	return fmt.Sprintf("* %s (%s)", fullName, formatDate(timeEnd))
}

func formatDate(unix int64) string {
	return time.Unix(unix, 0).UTC().Format("2 January 2006, 3:04 PM")
}

func formatThreshold(seconds int64) string {
	days := seconds / 86400
	if days <= 0 {
		return fmt.Sprintf("%d hours", seconds/3600)
	}
	if days == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", days)
}
