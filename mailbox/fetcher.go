package mailbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/knadh/go-pop3"

	"flatbot/models"
	"flatbot/processor"
	"flatbot/storage"
	"flatbot/utils"
)

// Conn is the slice of a POP3 connection the fetcher uses. *pop3.Conn
// satisfies it.
type Conn interface {
	Stat() (int, int, error)
	Uidl(msgID int) ([]pop3.MessageID, error)
	Retr(msgID int) (*message.Entity, error)
	Dele(msgID ...int) error
	Quit() error
}

// Options configures a Fetcher.
type Options struct {
	Host     string
	Port     int
	User     string
	Password string

	// SubjectFilter keywords; a message whose subject contains none of
	// them is skipped for extraction on this pass (case-insensitive).
	SubjectFilter []string
	// DeleteAfterExtract removes a message from the mailbox once its
	// listings were extracted. Off by default.
	DeleteAfterExtract bool
}

// Fetcher polls a mailbox, extracts listing ids per source, and inserts new
// listings into the store. Poll failures are non-fatal: a broken cycle
// simply yields zero new listings.
type Fetcher struct {
	opts     Options
	store    storage.ListingStore
	registry *processor.Registry
	log      *utils.Logger

	// dial is swappable for tests.
	dial func() (Conn, error)
	// extracted remembers message UIDs whose listings were already
	// inserted in this process run, so unerased mail isn't re-parsed
	// every cycle. Inserts stay idempotent regardless.
	extracted *utils.SeenSet
}

// NewFetcher creates a Fetcher polling the configured POP3S mailbox.
func NewFetcher(opts Options, store storage.ListingStore, registry *processor.Registry, log *utils.Logger) *Fetcher {
	f := &Fetcher{
		opts:      opts,
		store:     store,
		registry:  registry,
		log:       log,
		extracted: utils.NewSeenSet(),
	}
	f.dial = func() (Conn, error) {
		p := pop3.New(pop3.Opt{
			Host:       opts.Host,
			Port:       opts.Port,
			TLSEnabled: true,
		})
		c, err := p.NewConn()
		if err != nil {
			return nil, err
		}
		if err := c.Auth(opts.User, opts.Password); err != nil {
			c.Quit()
			return nil, err
		}
		return c, nil
	}
	return f
}

// FetchOnce runs one polling cycle and returns the number of newly inserted
// listings.
func (f *Fetcher) FetchOnce(ctx context.Context) (int, error) {
	conn, err := f.dial()
	if err != nil {
		f.log.Warn("[mailbox] Connection failed, no new listings this cycle: %v", err)
		return 0, nil
	}
	defer conn.Quit()

	count, _, err := conn.Stat()
	if err != nil {
		f.log.Warn("[mailbox] STAT failed: %v", err)
		return 0, nil
	}
	f.log.Info("[mailbox] Found %d messages", count)

	uids := make(map[int]string)
	if ids, err := conn.Uidl(0); err == nil {
		for _, id := range ids {
			uids[id.ID] = id.UID
		}
	} else {
		f.log.Debug("[mailbox] UIDL unsupported: %v", err)
	}

	inserted := 0
	for i := 1; i <= count; i++ {
		select {
		case <-ctx.Done():
			return inserted, ctx.Err()
		default:
		}

		if uid := uids[i]; uid != "" && f.extracted.Contains(uid) {
			continue
		}

		entity, err := conn.Retr(i)
		if err != nil {
			f.log.Warn("[mailbox] Could not retrieve message %d: %v", i, err)
			continue
		}

		msg, err := parseMessage(entity)
		if err != nil {
			f.log.Warn("[mailbox] Could not parse message %d: %v", i, err)
			continue
		}

		n, extracted := f.ingest(msg)
		inserted += n
		if !extracted {
			continue
		}

		if uid := uids[i]; uid != "" {
			f.extracted.Add(uid)
		}
		if f.opts.DeleteAfterExtract {
			if err := conn.Dele(i); err != nil {
				f.log.Warn("[mailbox] Could not delete message %d: %v", i, err)
			} else {
				f.log.Debug("[mailbox] Deleted message %q", msg.Subject)
			}
		}
	}

	f.log.Info("[mailbox] Cycle complete — %d new listings", inserted)
	return inserted, nil
}

// ingest applies the subject filter, resolves the source processor by the
// sender address, and inserts every extracted id. extracted reports whether
// the message yielded at least one id.
func (f *Fetcher) ingest(msg *parsedMessage) (int, bool) {
	if !f.subjectMatches(msg.Subject) {
		f.log.Debug("[mailbox] Subject %q does not match filter keywords", msg.Subject)
		return 0, false
	}
	if msg.Body == "" {
		f.log.Info("[mailbox] Message %q has no readable body", msg.Subject)
		return 0, false
	}

	proc, ok := f.registry.ByDomain(msg.Sender)
	if !ok {
		f.log.Info("[mailbox] No source registered for sender %q", msg.Sender)
		return 0, false
	}

	ids := proc.ExtractIDs(msg.Subject, msg.Body)
	if len(ids) == 0 {
		f.log.Info("[mailbox] Message %q yielded no listing ids for %s", msg.Subject, proc.Name())
		return 0, false
	}

	inserted := 0
	for _, id := range ids {
		err := f.store.Insert(models.NewListing(id, proc.Source()))
		if errors.Is(err, storage.ErrAlreadyExists) {
			f.log.Debug("[mailbox] Listing %s already known", id)
			continue
		}
		if err != nil {
			f.log.Error("[mailbox] Insert %s failed: %v", id, err)
			continue
		}
		f.log.Info("[mailbox] Inserted listing %s (source %s)", id, proc.Source())
		inserted++
	}
	return inserted, true
}

func (f *Fetcher) subjectMatches(subject string) bool {
	if len(f.opts.SubjectFilter) == 0 {
		return true
	}
	lower := strings.ToLower(subject)
	for _, kw := range f.opts.SubjectFilter {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

type parsedMessage struct {
	Subject string
	Sender  string
	Body    string
}

// parseMessage decodes subject, sender, and the plain-text body: the first
// non-attachment text/plain part of a multipart message, or the whole body
// otherwise.
func parseMessage(entity *message.Entity) (*parsedMessage, error) {
	mr := mail.NewReader(entity)

	subject, err := mr.Header.Subject()
	if err != nil {
		subject = mr.Header.Get("Subject")
	}

	var sender string
	if addrs, err := mr.Header.AddressList("From"); err == nil && len(addrs) > 0 {
		sender = addrs[0].Address
	} else {
		sender = mr.Header.Get("From")
	}

	var body string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("mailbox: read part: %w", err)
		}
		header, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue // attachment
		}
		ctype, _, err := header.ContentType()
		if err != nil {
			continue
		}
		if ctype != "text/plain" {
			continue
		}
		data, err := io.ReadAll(part.Body)
		if err != nil {
			return nil, fmt.Errorf("mailbox: read body: %w", err)
		}
		body = string(data)
		break
	}

	return &parsedMessage{Subject: subject, Sender: sender, Body: body}, nil
}
