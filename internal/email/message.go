package email

import (
	"bytes"
	"encoding/base64"
	"fmt"

	"gopkg.in/gomail.v2"
)

// Message is the envelope handed to a Deliverer.
type Message struct {
	From    string
	To      string
	Subject string
	Body    string
}

func (m Message) gomail() *gomail.Message {
	gm := gomail.NewMessage()
	gm.SetHeader("From", m.From)
	gm.SetHeader("To", m.To)
	gm.SetHeader("Subject", m.Subject)
	gm.SetBody("text/plain", m.Body)
	return gm
}

// RFC2822 renders m as a complete internet message.
func (m Message) RFC2822() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := m.gomail().WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("rendering message: %w", err)
	}
	return buf.Bytes(), nil
}

// Raw returns the base64url (unpadded) form the Gmail send endpoint expects.
func (m Message) Raw() (string, error) {
	b, err := m.RFC2822()
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
