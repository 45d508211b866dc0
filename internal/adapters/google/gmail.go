package google

import (
	"context"
	"encoding/base64"
	"fmt"
	"html"
	"mime"
	"net/http"
	"net/mail"
	"net/url"
	"strconv"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/user/deskmate/internal/adapters"
)

const (
	opSend        = "gmail.send"
	opDraft       = "gmail.draft"
	opInbox       = "gmail.inbox"
	defaultMax    = 10
	snippetLength = 160
)

type Gmail struct {
	api *client
}

var _ adapters.Email = (*Gmail)(nil)

func NewGmail(cfg Config) *Gmail {
	cfg = cfg.withDefaults()
	return &Gmail{api: &client{
		base:       cfg.GmailURL,
		token:      cfg.AccessToken,
		httpClient: cfg.HTTPClient,
		retry:      cfg.Retry,
	}}
}

type rawMessage struct {
	Raw string `json:"raw"`
}

type sentMessage struct {
	ID       string `json:"id"`
	ThreadID string `json:"threadId"`
}

type draft struct {
	ID      string      `json:"id"`
	Message sentMessage `json:"message"`
}

type messageList struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type part struct {
	MimeType string   `json:"mimeType"`
	Headers  []header `json:"headers"`
	Body     struct {
		Data string `json:"data"`
	} `json:"body"`
	Parts []part `json:"parts"`
}

type message struct {
	ID           string   `json:"id"`
	LabelIDs     []string `json:"labelIds"`
	Snippet      string   `json:"snippet"`
	InternalDate string   `json:"internalDate"`
	Payload      part     `json:"payload"`
}

func (g *Gmail) Send(ctx context.Context, msg adapters.Message) (adapters.DeliveryRef, error) {
	raw, err := encodeMessage(opSend, msg)
	if err != nil {
		return adapters.DeliveryRef{}, err
	}
	var sent sentMessage
	if err := g.api.do(ctx, opSend, http.MethodPost, "/users/me/messages/send", nil, rawMessage{Raw: raw}, &sent); err != nil {
		return adapters.DeliveryRef{}, err
	}
	return adapters.DeliveryRef{ID: sent.ID, ThreadID: sent.ThreadID}, nil
}

func (g *Gmail) CreateDraft(ctx context.Context, msg adapters.Message) (adapters.DraftRef, error) {
	raw, err := encodeMessage(opDraft, msg)
	if err != nil {
		return adapters.DraftRef{}, err
	}
	body := map[string]rawMessage{"message": {Raw: raw}}
	var created draft
	if err := g.api.do(ctx, opDraft, http.MethodPost, "/users/me/drafts", nil, body, &created); err != nil {
		return adapters.DraftRef{}, err
	}
	return adapters.DraftRef{ID: created.ID, MessageID: created.Message.ID}, nil
}

func (g *Gmail) ListInbox(ctx context.Context, filter adapters.InboxFilter) ([]adapters.MessageRef, error) {
	limit := filter.Max
	if limit <= 0 {
		limit = defaultMax
	}
	query := url.Values{}
	query.Set("q", SearchQuery(filter))
	query.Set("maxResults", strconv.Itoa(limit))
	query.Set("labelIds", "INBOX")

	var list messageList
	if err := g.api.do(ctx, opInbox, http.MethodGet, "/users/me/messages", query, nil, &list); err != nil {
		return nil, err
	}

	out := make([]adapters.MessageRef, 0, len(list.Messages))
	full := url.Values{}
	full.Set("format", "full")
	for _, m := range list.Messages {
		var msg message
		if err := g.api.do(ctx, opInbox, http.MethodGet, "/users/me/messages/"+url.PathEscape(m.ID), full, nil, &msg); err != nil {
			return nil, err
		}
		out = append(out, toMessageRef(msg))
	}
	return out, nil
}

// SearchQuery renders a filter in Gmail search syntax.
func SearchQuery(f adapters.InboxFilter) string {
	terms := []string{"in:inbox"}
	if f.Unread {
		terms = append(terms, "is:unread")
	}
	if !f.Since.IsZero() {
		terms = append(terms, "after:"+strconv.FormatInt(f.Since.Unix(), 10))
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		terms = append(terms, q)
	}
	return strings.Join(terms, " ")
}

// encodeMessage builds an RFC 2822 plain-text message, base64url encoded
// for the Gmail raw field.
func encodeMessage(op string, msg adapters.Message) (string, error) {
	if len(msg.To) == 0 {
		return "", adapters.NewError(adapters.KindValidation, op, "the message has no recipient", nil)
	}
	for _, to := range msg.To {
		if _, err := mail.ParseAddress(to); err != nil {
			return "", adapters.NewError(adapters.KindValidation, op, fmt.Sprintf("%q is not a valid email address", to), err)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(msg.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	return base64.URLEncoding.EncodeToString([]byte(b.String())), nil
}

func toMessageRef(m message) adapters.MessageRef {
	ref := adapters.MessageRef{ID: m.ID}
	for _, h := range m.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "from":
			ref.From = h.Value
			if addr, err := mail.ParseAddress(h.Value); err == nil {
				ref.From = addr.Address
			}
		case "subject":
			ref.Subject = h.Value
		}
	}
	for _, l := range m.LabelIDs {
		if l == "UNREAD" {
			ref.Unread = true
		}
	}
	if ms, err := strconv.ParseInt(m.InternalDate, 10, 64); err == nil {
		ref.Date = time.UnixMilli(ms)
	}

	ref.Snippet = truncate(collapse(bodyText(m.Payload)), snippetLength)
	if ref.Snippet == "" {
		ref.Snippet = html.UnescapeString(m.Snippet)
	}
	return ref
}

// bodyText prefers the text/plain part and falls back to converting the
// text/html part to markdown.
func bodyText(p part) string {
	if s := findPart(p, "text/plain"); s != "" {
		return s
	}
	raw := findPart(p, "text/html")
	if raw == "" {
		return ""
	}
	md, err := htmltomarkdown.ConvertString(raw)
	if err != nil {
		return ""
	}
	return md
}

func findPart(p part, mimeType string) string {
	if strings.HasPrefix(p.MimeType, mimeType) && p.Body.Data != "" {
		if data, err := decodeBody(p.Body.Data); err == nil {
			return data
		}
	}
	for _, child := range p.Parts {
		if s := findPart(child, mimeType); s != "" {
			return s
		}
	}
	return ""
}

func decodeBody(s string) (string, error) {
	data, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		data, err = base64.RawURLEncoding.DecodeString(s)
	}
	return string(data), err
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n])) + "..."
}
