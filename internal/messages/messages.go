package messages

import (
	"fmt"
	"html"
)

// ─── Welcome builders ────────────────────────────────────────────────────────

// Welcome returns the subject, plain-text body and HTML body of the welcome email.
// The username is escaped in the HTML body.
func Welcome(username string) (subject, text, htmlBody string) {
	return WelcomeSubject,
		fmt.Sprintf(WelcomeText, username),
		fmt.Sprintf(WelcomeHTML, html.EscapeString(username))
}
