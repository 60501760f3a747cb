// Package delivery hands newly created documents to email and the optional
// archive sinks.
package delivery

import (
	"errors"
	"path/filepath"
	"strings"
)

// Dispatch is one outgoing email.
type Dispatch struct {
	From        string
	To          []string
	Subject     string
	Body        string
	Attachments []string
}

// NewDispatch builds the message for a single document: the subject is the
// file's base name, the body is empty and the document is attached.
func NewDispatch(from string, to []string, documentPath string) (Dispatch, error) {
	abs, err := filepath.Abs(documentPath)
	if err != nil {
		abs = documentPath
	}
	d := Dispatch{
		From:        from,
		To:          append([]string(nil), to...),
		Subject:     filepath.Base(documentPath),
		Attachments: []string{abs},
	}
	return d, d.Validate()
}

// Validate checks the sender and recipients are present.
func (d Dispatch) Validate() error {
	if strings.TrimSpace(d.From) == "" {
		return errors.New("sender is required")
	}
	if len(d.To) == 0 {
		return errors.New("at least one recipient is required")
	}
	for _, rcpt := range d.To {
		if strings.TrimSpace(rcpt) == "" {
			return errors.New("recipient must not be empty")
		}
	}
	return nil
}
