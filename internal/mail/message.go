// Package mail reads permit-request emails from an IMAP mailbox.
package mail

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Attachment is one file part of a message.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
	// Path is set once the attachment has been written to disk.
	Path string
}

// Message is a fetched email reduced to what extraction needs.
type Message struct {
	UID         uint32
	MessageID   string
	Sender      string
	Subject     string
	Body        string
	Attachments []Attachment
}

// Filter selects which unseen messages are fetched.
type Filter struct {
	// SubjectContains is matched case-insensitively; empty matches everything.
	SubjectContains string
}

// Matches reports whether subject passes the filter.
func (f Filter) Matches(subject string) bool {
	if f.SubjectContains == "" {
		return true
	}
	return strings.Contains(strings.ToLower(subject), strings.ToLower(f.SubjectContains))
}

// AttachmentPaths returns the on-disk paths of saved attachments.
func (m *Message) AttachmentPaths() []string {
	var out []string
	for _, a := range m.Attachments {
		if a.Path != "" {
			out = append(out, a.Path)
		}
	}
	return out
}

// Block renders the message as the text block archived in the PDF.
func (m *Message) Block() string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\n", m.Sender)
	fmt.Fprintf(&b, "Subject: %s\n", m.Subject)
	b.WriteString("Message:\n")
	b.WriteString(strings.TrimSpace(m.Body))
	b.WriteString("\n\nAttachments:\n")
	if len(m.Attachments) == 0 {
		b.WriteString("(none)\n")
	}
	for _, a := range m.Attachments {
		b.WriteString("- " + a.Filename + "\n")
	}
	b.WriteString("----------------------------------------\n")
	return b.String()
}

// SaveAttachments writes every attachment into dir under a name unique to the message
// and records the path on the attachment.
func (m *Message) SaveAttachments(dir string) error {
	if len(m.Attachments) == 0 {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create attachments dir: %w", err)
	}
	for i := range m.Attachments {
		a := &m.Attachments[i]
		name := fmt.Sprintf("%d_%d_%s", m.UID, i, safeName(a.Filename))
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, a.Data, 0o644); err != nil {
			return fmt.Errorf("write attachment %q: %w", a.Filename, err)
		}
		a.Path = path
	}
	return nil
}

// RemoveAttachments deletes the saved attachment files and clears their paths.
func (m *Message) RemoveAttachments() error {
	var errs []error
	for i := range m.Attachments {
		a := &m.Attachments[i]
		if a.Path == "" {
			continue
		}
		if err := os.Remove(a.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove attachment %q: %w", a.Filename, err))
			continue
		}
		a.Path = ""
	}
	return errors.Join(errs...)
}

// safeName strips directory components and characters that are unsafe in file names.
func safeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		switch {
		case r < 0x20, strings.ContainsRune(`<>:"/\|?*`, r):
			return '_'
		}
		return r
	}, name)
	if name == "" || name == "." || name == ".." {
		return "attachment"
	}
	return name
}
