package services

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"net/url"
	texttemplate "text/template"
	"time"

	"github.com/BradenHooton/subdivisync/internal/models"
)

// Notification kinds, used as EmailMessage.Kind
const (
	EmailKindAccountLocked    = "account_locked"
	EmailKindAccountUnlocked  = "account_unlocked"
	EmailKindMoreInfoRequired = "more_info_required"
)

const (
	securitySenderName = "SubdiviSync Security"
	supportSenderName  = "SubdiviSync Support"
)

const emailLayoutHTML = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #374151; background-color: #f5f5f5; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; background-color: #ffffff; border-radius: 12px; }
        .header { padding: 30px; text-align: center; border-radius: 12px 12px 0 0; color: #ffffff; background-color: {{.Accent}}; }
        .notice { padding: 16px; border-radius: 8px; margin-bottom: 20px; border: 1px solid {{.Accent}}; }
        .button { display: inline-block; background-color: #2563eb; color: #ffffff; padding: 14px 32px; text-decoration: none; border-radius: 8px; font-weight: 600; }
        .footer { color: #9ca3af; font-size: 11px; margin-top: 20px; padding-top: 20px; border-top: 1px solid #e5e7eb; text-align: center; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>SubdiviSync</h1>
            <p>{{.Banner}}</p>
        </div>
        <p>Hello {{.Name}},</p>
        <div class="notice">
            <strong>{{.Headline}}</strong>
            <p>{{.Notice}}</p>
        </div>
        <p>{{.Instructions}}</p>
        <p style="text-align: center;"><a href="{{.Link}}" class="button">{{.ButtonLabel}}</a></p>
        <p>Or copy and paste this link in your browser:<br><code>{{.Link}}</code></p>
        {{if .ExpiresAt}}<p>This link expires on {{.ExpiresAt}}.</p>{{end}}
        <p style="font-size: 12px; color: #9ca3af;">{{.Footnote}}</p>
        <div class="footer">
            <p>&copy; {{.Year}} SubdiviSync. All rights reserved.</p>
        </div>
    </div>
</body>
</html>
`

const emailLayoutText = `Hello {{.Name}},

{{.Headline}}
{{.Notice}}

{{.Instructions}}

{{.Link}}
{{if .ExpiresAt}}
This link expires on {{.ExpiresAt}}.
{{end}}
{{.Footnote}}
`

var (
	emailHTML = htmltemplate.Must(htmltemplate.New("email").Parse(emailLayoutHTML))
	emailText = texttemplate.Must(texttemplate.New("email").Parse(emailLayoutText))
)

type emailContent struct {
	Name         string
	Banner       string
	Accent       htmltemplate.CSS
	Headline     string
	Notice       string
	Instructions string
	ButtonLabel  string
	Link         string
	ExpiresAt    string
	Footnote     string
	Year         int
}

// EmailComposer renders the lockout workflow emails
type EmailComposer struct {
	baseURL     string
	fromAddress string
}

// NewEmailComposer creates a composer. baseURL must not end with a slash.
func NewEmailComposer(baseURL, fromAddress string) *EmailComposer {
	return &EmailComposer{baseURL: baseURL, fromAddress: fromAddress}
}

// UnlockLink builds {baseURL}/unlock-request?email=...&token=...
func (c *EmailComposer) UnlockLink(email, token string) string {
	q := url.Values{}
	q.Set("email", email)
	q.Set("token", token)
	return c.baseURL + "/unlock-request?" + q.Encode()
}

// LoginLink is where unlocked users are sent
func (c *EmailComposer) LoginLink() string {
	return c.baseURL + "/login"
}

// AccountLocked renders the lock notification carrying the unlock link
func (c *EmailComposer) AccountLocked(to, name, token string, threshold int, expiresAt time.Time) (models.EmailMessage, error) {
	return c.render(to, name, EmailKindAccountLocked, "Your SubdiviSync Account Has Been Locked", securitySenderName, emailContent{
		Banner:       "Account Security Alert",
		Accent:       "#dc2626",
		Headline:     "Your Account Has Been Locked",
		Notice:       fmt.Sprintf("Your SubdiviSync account has been locked due to %d failed login attempts. This is a security measure to protect your account.", threshold),
		Instructions: "To request account unlock, open the link below and submit a reason for unlock. An administrator will review your request.",
		ButtonLabel:  "Request Account Unlock",
		Link:         c.UnlockLink(to, token),
		ExpiresAt:    expiresAt.UTC().Format("January 2, 2006 15:04 MST"),
		Footnote:     "If you did not attempt to log in, please contact our support team immediately as someone may be trying to access your account.",
	})
}

// AccountUnlocked renders the notice sent after an admin unlock
func (c *EmailComposer) AccountUnlocked(to, name string) (models.EmailMessage, error) {
	return c.render(to, name, EmailKindAccountUnlocked, "Your SubdiviSync Account Has Been Unlocked", supportSenderName, emailContent{
		Banner:       "Account Update",
		Accent:       "#16a34a",
		Headline:     "Your Account Has Been Unlocked",
		Notice:       "An administrator has reviewed your request and unlocked your SubdiviSync account.",
		Instructions: "You can now log in to your account. Please ensure you use the correct password to avoid being locked out again.",
		ButtonLabel:  "Log In Now",
		Link:         c.LoginLink(),
		Footnote:     "If you continue to have issues logging in, please contact support for assistance.",
	})
}

// MoreInfoRequired invites the homeowner to resubmit through the unlock link
func (c *EmailComposer) MoreInfoRequired(to, name, token string, expiresAt time.Time) (models.EmailMessage, error) {
	return c.render(to, name, EmailKindMoreInfoRequired, "Additional Information Required - SubdiviSync Account Unlock", supportSenderName, emailContent{
		Banner:       "Additional Information Required",
		Accent:       "#d97706",
		Headline:     "More Information Needed",
		Notice:       "An administrator has reviewed your unlock request and requires additional information before your account can be unlocked.",
		Instructions: "Please open the link below to submit a more detailed explanation for why your account should be unlocked. Be sure to provide clear and specific information.",
		ButtonLabel:  "Submit New Reason",
		Link:         c.UnlockLink(to, token),
		ExpiresAt:    expiresAt.UTC().Format("January 2, 2006 15:04 MST"),
		Footnote:     "If you have any questions, please contact our support team for assistance.",
	})
}

func (c *EmailComposer) render(to, name, kind, subject, senderName string, content emailContent) (models.EmailMessage, error) {
	content.Name = name
	if content.Name == "" {
		content.Name = "there"
	}
	content.Year = time.Now().Year()

	var html, text bytes.Buffer
	if err := emailHTML.Execute(&html, content); err != nil {
		return models.EmailMessage{}, fmt.Errorf("failed to render %s html: %w", kind, err)
	}
	if err := emailText.Execute(&text, content); err != nil {
		return models.EmailMessage{}, fmt.Errorf("failed to render %s text: %w", kind, err)
	}

	return models.EmailMessage{
		To:       to,
		ToName:   name,
		Subject:  subject,
		HTMLBody: html.String(),
		TextBody: text.String(),
		Sender:   models.EmailSender{Email: c.fromAddress, Name: senderName},
		Kind:     kind,
	}, nil
}
