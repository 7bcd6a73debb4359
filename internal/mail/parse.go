package mail

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	_ "github.com/emersion/go-message/charset"
	gomail "github.com/emersion/go-message/mail"
	"github.com/microcosm-cc/bluemonday"
)

var (
	htmlPolicy  = bluemonday.UGCPolicy()
	mdConverter = converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(),
		),
	)
)

// ParseMessage reads an RFC 822 message. The text/plain body is preferred; an
// HTML-only message is sanitized and converted to markdown text.
func ParseMessage(r io.Reader, uid uint32) (*Message, error) {
	mr, err := gomail.CreateReader(r)
	if err != nil {
		return nil, fmt.Errorf("read message: %w", err)
	}
	defer mr.Close()

	m := &Message{UID: uid}
	h := mr.Header
	if id, err := h.MessageID(); err == nil && id != "" {
		m.MessageID = "<" + id + ">"
	}
	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		m.Sender = from[0].String()
	} else {
		m.Sender = h.Get("From")
	}
	if subj, err := h.Subject(); err == nil {
		m.Subject = strings.TrimSpace(subj)
	}

	var plain, html []string
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read part: %w", err)
		}

		switch ph := p.Header.(type) {
		case *gomail.InlineHeader:
			ct, _, _ := ph.ContentType()
			b, err := io.ReadAll(p.Body)
			if err != nil {
				return nil, fmt.Errorf("read body: %w", err)
			}
			// inline parts that carry a filename are files, not text
			if _, params, err := mime.ParseMediaType(ph.Get("Content-Disposition")); err == nil && params["filename"] != "" {
				m.Attachments = append(m.Attachments, Attachment{Filename: params["filename"], ContentType: ct, Data: b})
				continue
			}
			switch ct {
			case "text/plain", "":
				plain = append(plain, string(b))
			case "text/html":
				html = append(html, string(b))
			}
		case *gomail.AttachmentHeader:
			name, _ := ph.Filename()
			ct, _, _ := ph.ContentType()
			b, err := io.ReadAll(p.Body)
			if err != nil {
				return nil, fmt.Errorf("read attachment: %w", err)
			}
			if name == "" {
				name = "attachment"
			}
			m.Attachments = append(m.Attachments, Attachment{Filename: name, ContentType: ct, Data: b})
		}
	}

	switch {
	case len(plain) > 0:
		m.Body = normalizeNewlines(strings.Join(plain, "\n"))
	case len(html) > 0:
		text, err := HTMLToText(strings.Join(html, "\n"))
		if err != nil {
			return nil, err
		}
		m.Body = text
	}
	return m, nil
}

// HTMLToText sanitizes an HTML body and converts it to markdown, keeping tables.
func HTMLToText(html string) (string, error) {
	clean := htmlPolicy.Sanitize(html)
	md, err := mdConverter.ConvertString(clean)
	if err != nil {
		return "", fmt.Errorf("convert html body: %w", err)
	}
	return strings.TrimSpace(md), nil
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.TrimSpace(strings.ReplaceAll(s, "\r", "\n"))
}
