package mailbox

import (
	"context"
	"regexp"
	"strings"
	"testing"

	"github.com/emersion/go-message"
	"github.com/knadh/go-pop3"

	"flatbot/browser"
	"flatbot/models"
	"flatbot/processor"
	"flatbot/storage"
	"flatbot/utils"
)

func newTestLogger() *utils.Logger { return utils.NewLogger() }

// fakeConn serves raw RFC 5322 messages from memory.
type fakeConn struct {
	raw     []string
	deleted []int
	quits   int
}

func (c *fakeConn) Stat() (int, int, error) { return len(c.raw), 0, nil }

func (c *fakeConn) Uidl(msgID int) ([]pop3.MessageID, error) {
	var ids []pop3.MessageID
	for i := range c.raw {
		ids = append(ids, pop3.MessageID{ID: i + 1, UID: "uid-" + string(rune('a'+i))})
	}
	return ids, nil
}

func (c *fakeConn) Retr(msgID int) (*message.Entity, error) {
	return message.Read(strings.NewReader(c.raw[msgID-1]))
}

func (c *fakeConn) Dele(msgID ...int) error { c.deleted = append(c.deleted, msgID...); return nil }
func (c *fakeConn) Quit() error          { c.quits++; return nil }

var exposeRe = regexp.MustCompile(`https://[a-zA-Z0-9./?=&_-]*expose/(\d+)`)

// fakeProc extracts expose ids like the real site processor, without a
// browser.
type fakeProc struct{}

func (p *fakeProc) Source() string { return "immobilienscout24" }
func (p *fakeProc) Name() string   { return "ImmobilienScout24" }
func (p *fakeProc) Domain() string { return "immobilienscout24.de" }

func (p *fakeProc) ExtractIDs(subject, body string) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, m := range exposeRe.FindAllStringSubmatch(body, -1) {
		if _, dup := seen[m[1]]; dup {
			continue
		}
		seen[m[1]] = struct{}{}
		ids = append(ids, m[1])
	}
	return ids
}

func (p *fakeProc) ListingURL(l *models.Listing) string { return "https://example.com/" + l.ID }

func (p *fakeProc) Process(ctx context.Context, s *browser.Session, l *models.Listing) (bool, error) {
	return false, nil
}

func rawMessage(from, subject, body string) string {
	return "From: " + from + "\r\n" +
		"To: me@example.com\r\n" +
		"Subject: " + subject + "\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		body
}

func newTestFetcher(conn *fakeConn, store storage.ListingStore, opts Options) *Fetcher {
	f := NewFetcher(opts, store, processor.NewRegistry(&fakeProc{}), newTestLogger())
	f.dial = func() (Conn, error) { return conn, nil }
	return f
}

func TestFetchOnceInsertsUniqueListings(t *testing.T) {
	body := "Neue Angebote für Sie:\r\n" +
		"https://push.search.is24.de/email/expose/12345\r\n" +
		"Jetzt ansehen: https://push.search.is24.de/email/expose/12345?ref=mail\r\n" +
		"https://push.search.is24.de/email/expose/67890\r\n"
	conn := &fakeConn{raw: []string{
		rawMessage("angebote@immobilienscout24.de", "New offer", body),
	}}
	store := storage.NewMemoryStore(3)
	f := newTestFetcher(conn, store, Options{SubjectFilter: []string{"angebot", "offer"}})

	n, err := f.FetchOnce(context.Background())
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if n != 2 {
		t.Errorf("inserted %d listings, want 2", n)
	}

	for _, id := range []string{"12345", "67890"} {
		l, err := store.Get("immobilienscout24", id)
		if err != nil {
			t.Fatalf("listing %s not stored: %v", id, err)
		}
		if l.Processed || l.Failures != 0 {
			t.Errorf("listing %s stored as processed=%v failures=%d, want false/0", id, l.Processed, l.Failures)
		}
	}
	if conn.quits != 1 {
		t.Errorf("connection closed %d times, want 1", conn.quits)
	}
}

func TestFetchOnceSubjectFilter(t *testing.T) {
	conn := &fakeConn{raw: []string{
		rawMessage("angebote@immobilienscout24.de", "Newsletter",
			"https://push.search.is24.de/email/expose/12345"),
	}}
	store := storage.NewMemoryStore(3)
	f := newTestFetcher(conn, store, Options{SubjectFilter: []string{"angebot", "offer"}})

	n, err := f.FetchOnce(context.Background())
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if n != 0 {
		t.Errorf("inserted %d listings from filtered message, want 0", n)
	}
}

func TestFetchOnceUnknownSender(t *testing.T) {
	conn := &fakeConn{raw: []string{
		rawMessage("noreply@othersite.com", "New offer",
			"https://othersite.com/expose/999"),
	}}
	store := storage.NewMemoryStore(3)
	f := newTestFetcher(conn, store, Options{})

	n, err := f.FetchOnce(context.Background())
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if n != 0 {
		t.Errorf("inserted %d listings from unknown sender, want 0", n)
	}
}

func TestFetchOnceIdempotentAcrossCycles(t *testing.T) {
	conn := &fakeConn{raw: []string{
		rawMessage("angebote@immobilienscout24.de", "Neues Angebot",
			"https://push.search.is24.de/email/expose/12345"),
	}}
	store := storage.NewMemoryStore(3)
	f := newTestFetcher(conn, store, Options{SubjectFilter: []string{"angebot"}})

	if n, _ := f.FetchOnce(context.Background()); n != 1 {
		t.Fatalf("first cycle inserted %d, want 1", n)
	}
	if n, _ := f.FetchOnce(context.Background()); n != 0 {
		t.Errorf("second cycle inserted %d, want 0", n)
	}

	stats, _ := store.Stats()
	if stats.Total != 1 {
		t.Errorf("store holds %d listings, want 1", stats.Total)
	}
}

func TestFetchOnceDeleteAfterExtract(t *testing.T) {
	conn := &fakeConn{raw: []string{
		rawMessage("angebote@immobilienscout24.de", "Neues Angebot",
			"https://push.search.is24.de/email/expose/12345"),
		rawMessage("angebote@immobilienscout24.de", "Newsletter", "kein Link"),
	}}
	store := storage.NewMemoryStore(3)
	f := newTestFetcher(conn, store, Options{
		SubjectFilter:      []string{"angebot"},
		DeleteAfterExtract: true,
	})

	if _, err := f.FetchOnce(context.Background()); err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(conn.deleted) != 1 || conn.deleted[0] != 1 {
		t.Errorf("deleted = %v, want [1] (extracted message only)", conn.deleted)
	}
}

func TestFetchOnceDialFailureIsNotFatal(t *testing.T) {
	store := storage.NewMemoryStore(3)
	f := newTestFetcher(nil, store, Options{})
	f.dial = func() (Conn, error) { return nil, context.DeadlineExceeded }

	n, err := f.FetchOnce(context.Background())
	if err != nil {
		t.Errorf("dial failure surfaced as error: %v", err)
	}
	if n != 0 {
		t.Errorf("inserted %d listings without a connection", n)
	}
}
