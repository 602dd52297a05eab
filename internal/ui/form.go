package ui

import (
	"regexp"
	"strings"
)

// Validation texts, worded like a browser's native form hints.
const (
	EmailRequiredText    = "Please fill out the email field."
	EmailInvalidText     = "Please enter a valid email address."
	ActivityRequiredText = "Please select an activity."
	ActivityUnknownText  = "Please select an activity from the list."
)

// emailRe is the WHATWG "valid email address" production that
// <input type="email"> enforces.
var emailRe = regexp.MustCompile(`^[a-zA-Z0-9.!#$%&'*+/=?^_` + "`" + `{|}~-]+@[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?:\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)

// normalize applies the value sanitization an email input performs:
// line breaks removed, surrounding whitespace trimmed.
func (f SignupForm) normalize() SignupForm {
	email := strings.NewReplacer("\r", "", "\n", "").Replace(f.Email)
	return SignupForm{
		Email:    strings.TrimSpace(email),
		Activity: f.Activity,
	}
}

// check mirrors the constraints the form's controls declare: a required
// email input and a required select whose value must be a rendered option.
func (p *Page) check(f SignupForm) string {
	switch {
	case f.Email == "":
		return EmailRequiredText
	case !emailRe.MatchString(f.Email):
		return EmailInvalidText
	case f.Activity == "":
		return ActivityRequiredText
	case !p.hasOption(f.Activity):
		return ActivityUnknownText
	}
	return ""
}
