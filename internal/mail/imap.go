package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/joseph-ayodele/permit-intake/internal/common"
)

// Config for the IMAP mailbox.
type Config struct {
	Server         string // host or host:port; port 993 (TLS) when omitted
	User           string
	Password       string
	Mailbox        string
	AttachmentsDir string
	DialTimeout    time.Duration
	// Insecure dials without TLS; tests only.
	Insecure bool
}

// Dialer opens one IMAP session per polling cycle.
type Dialer struct {
	cfg    Config
	logger *slog.Logger
}

func NewDialer(cfg Config, logger *slog.Logger) *Dialer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Mailbox == "" {
		cfg.Mailbox = "INBOX"
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 30 * time.Second
	}
	return &Dialer{cfg: cfg, logger: logger}
}

// Client is one logged-in IMAP session with the mailbox selected.
type Client struct {
	c      *client.Client
	cfg    Config
	logger *slog.Logger
}

// Dial connects, logs in and selects the mailbox. The caller must Close the client.
func (d *Dialer) Dial(ctx context.Context) (*Client, error) {
	addr := d.cfg.Server
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "993")
	}
	host, _, _ := net.SplitHostPort(addr)

	dialer := &net.Dialer{Timeout: d.cfg.DialTimeout}
	var (
		c   *client.Client
		err error
	)
	if d.cfg.Insecure {
		c, err = client.DialWithDialer(dialer, addr)
	} else {
		c, err = client.DialWithDialerTLS(dialer, addr, &tls.Config{ServerName: host})
	}
	if err != nil {
		d.logger.Error("mail.dial_failed", "server", addr, "error", err)
		return nil, common.MailError("dial "+addr, err)
	}

	cl := &Client{c: c, cfg: d.cfg, logger: d.logger}
	stop := cl.closeOnCancel(ctx)
	defer stop()

	if err := c.Login(d.cfg.User, d.cfg.Password); err != nil {
		_ = c.Logout()
		d.logger.Error("mail.login_failed", "user", d.cfg.User, "error", err)
		return nil, common.MailError("login", err)
	}
	if _, err := c.Select(d.cfg.Mailbox, false); err != nil {
		_ = c.Logout()
		return nil, common.MailError("select "+d.cfg.Mailbox, err)
	}
	d.logger.Debug("mail.session_open", "server", addr, "mailbox", d.cfg.Mailbox)
	return cl, nil
}

// closeOnCancel aborts blocking IMAP commands when ctx ends; go-imap has no context support.
func (cl *Client) closeOnCancel(ctx context.Context) (stop func()) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = cl.c.Terminate()
		case <-done:
		}
	}()
	return func() { close(done) }
}

// FetchUnseen returns unseen messages whose subject passes f. Bodies are fetched with
// PEEK so nothing is marked seen until MarkSeen. Attachments are written to the
// configured directory.
func (cl *Client) FetchUnseen(ctx context.Context, f Filter) ([]Message, error) {
	stop := cl.closeOnCancel(ctx)
	defer stop()

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	if f.SubjectContains != "" {
		criteria.Header.Add("Subject", f.SubjectContains)
	}
	uids, err := cl.c.UidSearch(criteria)
	if err != nil {
		return nil, common.MailError("search unseen", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, section.FetchItem()}

	ch := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- cl.c.UidFetch(seqset, items, ch)
	}()

	var out []Message
	for msg := range ch {
		body := msg.GetBody(section)
		if body == nil {
			cl.logger.Warn("mail.fetch.no_body", "uid", msg.Uid)
			continue
		}
		m, err := ParseMessage(body, msg.Uid)
		if err != nil {
			cl.logger.Warn("mail.parse_failed", "uid", msg.Uid, "error", err)
			continue
		}
		// server-side SEARCH is a substring hint; re-check locally after header decoding
		if !f.Matches(m.Subject) {
			continue
		}
		if err := m.SaveAttachments(cl.cfg.AttachmentsDir); err != nil {
			cl.logger.Warn("mail.attachments_not_saved", "uid", m.UID, "error", err)
		}
		out = append(out, *m)
	}
	if err := <-done; err != nil {
		return nil, common.MailError("fetch", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cl.logger.Info("mail.fetch.done", "unseen", len(uids), "matched", len(out))
	return out, nil
}

// MarkSeen sets \Seen on uid.
func (cl *Client) MarkSeen(ctx context.Context, uid uint32) error {
	stop := cl.closeOnCancel(ctx)
	defer stop()

	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := cl.c.UidStore(seqset, item, []interface{}{imap.SeenFlag}, nil); err != nil {
		return common.MailError(fmt.Sprintf("mark seen uid %d", uid), err)
	}
	return nil
}

// Close logs out and releases the connection.
func (cl *Client) Close() error {
	if err := cl.c.Logout(); err != nil {
		cl.logger.Debug("mail.logout_failed", "error", err)
		return err
	}
	return nil
}
