package notify

import "net/smtp"

// SetSendMail replaces the SMTP sender and returns a restore func.
func SetSendMail(fn func(addr string, a smtp.Auth, from string, to []string, msg []byte) error) func() {
	prev := sendMail
	sendMail = fn
	return func() { sendMail = prev }
}
