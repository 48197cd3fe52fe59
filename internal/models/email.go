package models

// EmailSender identifies the From: mailbox of a transactional email.
type EmailSender struct {
	Email string
	Name  string
}

// EmailMessage is a rendered transactional email ready for delivery.
type EmailMessage struct {
	To       string
	ToName   string
	Subject  string
	HTMLBody string
	TextBody string
	Sender   EmailSender
	Kind     string // template name, used for logging only
}
