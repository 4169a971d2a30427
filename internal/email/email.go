// Package email sends account verification mail. Message bodies are
// plain text; an unconfigured host degrades to logging the mail instead
// of sending it.
package email

import (
	"fmt"
	"net/smtp"

	"github.com/sirupsen/logrus"
)

type Sender struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string

	Log *logrus.Entry
}

func NewSender(host, port, username, password, from string, log *logrus.Entry) *Sender {
	return &Sender{
		Host:     host,
		Port:     port,
		Username: username,
		Password: password,
		From:     from,
		Log:      log,
	}
}

const verificationBody = `Hi %s,

Thanks for signing up for Vanish. Please verify your email address by
opening this link:

    %s

If you didn't create an account, you can safely ignore this email.
`

func (s *Sender) SendVerificationEmail(to, username, link string) error {
	body := fmt.Sprintf(verificationBody, username, link)

	headers := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: Verify your Vanish email\r\n", s.From, to)
	message := headers + "\r\n" + body

	// No host configured: development mode, log instead of sending.
	if s.Host == "" {
		s.Log.WithFields(logrus.Fields{
			"to":   to,
			"link": link,
		}).Info("mock verification email")
		return nil
	}

	auth := smtp.PlainAuth("", s.Username, s.Password, s.Host)
	addr := fmt.Sprintf("%s:%s", s.Host, s.Port)
	return smtp.SendMail(addr, auth, s.From, []string{to}, []byte(message))
}
