package mailbox

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

// IMAPConfig configures IMAPClient.
type IMAPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Folder   string
	Timeout  time.Duration
}

// IMAPClient opens TLS IMAP sessions.
type IMAPClient struct {
	cfg IMAPConfig
}

func NewIMAPClient(cfg IMAPConfig) (*IMAPClient, error) {
	if cfg.Host == "" {
		return nil, errors.New("mailbox: imap host is required")
	}
	if cfg.Port <= 0 {
		cfg.Port = 993
	}
	if cfg.Folder == "" {
		cfg.Folder = "INBOX"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &IMAPClient{cfg: cfg}, nil
}

// Open connects, logs in and selects the configured folder read-write.
func (c *IMAPClient) Open(ctx context.Context) (Session, error) {
	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	dialer := &net.Dialer{Timeout: c.cfg.Timeout}
	if dl, ok := ctx.Deadline(); ok {
		dialer.Deadline = dl
	}

	cl, err := client.DialWithDialerTLS(dialer, addr, &tls.Config{ServerName: c.cfg.Host})
	if err != nil {
		return nil, fmt.Errorf("mailbox: dial %s: %w", addr, err)
	}
	cl.Timeout = c.cfg.Timeout

	if err := cl.Login(c.cfg.Username, c.cfg.Password); err != nil {
		_ = cl.Logout()
		return nil, fmt.Errorf("mailbox: login: %w", err)
	}
	if _, err := cl.Select(c.cfg.Folder, false); err != nil {
		_ = cl.Logout()
		return nil, fmt.Errorf("mailbox: select %s: %w", c.cfg.Folder, err)
	}
	return &imapSession{c: cl}, nil
}

type imapSession struct {
	c *client.Client
}

func (s *imapSession) Unseen(ctx context.Context) ([]uint32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	uids, err := s.c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("mailbox: search unseen: %w", err)
	}
	return uids, nil
}

func (s *imapSession) Fetch(ctx context.Context, uid uint32) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	seq := new(imap.SeqSet)
	seq.AddNum(uid)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, section.FetchItem()}

	ch := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() { done <- s.c.UidFetch(seq, items, ch) }()

	var fetched *imap.Message
	for msg := range ch {
		if fetched == nil {
			fetched = msg
		}
	}
	if err := <-done; err != nil {
		return Message{}, fmt.Errorf("mailbox: fetch %d: %w", uid, err)
	}
	if fetched == nil {
		return Message{}, fmt.Errorf("mailbox: fetch %d: %w", uid, ErrNoBody)
	}
	body := fetched.GetBody(section)
	if body == nil {
		return Message{}, fmt.Errorf("mailbox: fetch %d: %w", uid, ErrNoBody)
	}

	m, err := Parse(body)
	if err != nil {
		return Message{}, err
	}
	m.UID = uid
	return m, nil
}

func (s *imapSession) MarkSeen(ctx context.Context, uid uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	seq := new(imap.SeqSet)
	seq.AddNum(uid)
	flags := []interface{}{imap.SeenFlag}
	if err := s.c.UidStore(seq, imap.FormatFlagsOp(imap.AddFlags, true), flags, nil); err != nil {
		return fmt.Errorf("mailbox: mark seen %d: %w", uid, err)
	}
	return nil
}

func (s *imapSession) Close() error {
	return s.c.Logout()
}
