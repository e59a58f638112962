package twilio

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/pokulabs/poku/internal/stream"
	twilioapi "github.com/twilio/twilio-go"
	twclient "github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// APIError is an error document returned by the Twilio API.
type APIError struct {
	Status   int
	Code     int
	Message  string
	MoreInfo string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("twilio: %d (code %d): %s", e.Status, e.Code, e.Message)
}

// Unauthorized reports whether the credentials were rejected.
func (e *APIError) Unauthorized() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

// Account is the subset of the account resource the daemon uses.
type Account struct {
	SID          string
	FriendlyName string
	Status       string
}

// Client talks to the Twilio REST API for one account.
type Client struct {
	accountSID string
	authToken  string
	baseURL    *url.URL
	pageSize   int
	http       *http.Client
	rest       *twilioapi.RestClient
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sends every API call to another host, keeping the path.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if parsed, err := url.Parse(u); err == nil && parsed.Host != "" {
			c.baseURL = parsed
		}
	}
}

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithPageSize sets the page size used when a filter has no limit.
func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

func NewClient(accountSID, authToken string, opts ...Option) *Client {
	c := &Client{
		accountSID: accountSID,
		authToken:  authToken,
		pageSize:   50,
		http:       &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}

	hc := c.http
	if c.baseURL != nil {
		next := hc.Transport
		if next == nil {
			next = http.DefaultTransport
		}
		rewritten := *hc
		rewritten.Transport = &hostRewrite{target: c.baseURL, next: next}
		hc = &rewritten
	}
	base := &twclient.Client{
		Credentials: twclient.NewCredentials(accountSID, authToken),
		HTTPClient:  hc,
	}
	base.SetAccountSid(accountSID)
	c.rest = twilioapi.NewRestClientWithParams(twilioapi.ClientParams{
		Username:   accountSID,
		Password:   authToken,
		AccountSid: accountSID,
		Client:     base,
	})
	return c
}

// AccountSID returns the account the client is bound to.
func (c *Client) AccountSID() string { return c.accountSID }

// FetchAccount loads the account resource. It doubles as a credential check.
func (c *Client) FetchAccount(ctx context.Context) (*Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := c.rest.Api.FetchAccount(c.accountSID)
	if err != nil {
		return nil, fmt.Errorf("fetch account: %w", apiError(err))
	}
	return &Account{
		SID:          deref(res.Sid),
		FriendlyName: deref(res.FriendlyName),
		Status:       deref(res.Status),
	}, nil
}

// SendMessage creates an outbound message and returns it as accepted by Twilio.
func (c *Client) SendMessage(ctx context.Context, from, to, body string) (stream.Message, error) {
	if err := ctx.Err(); err != nil {
		return stream.Message{}, err
	}
	params := &openapi.CreateMessageParams{}
	params.SetPathAccountSid(c.accountSID)
	params.SetFrom(from)
	params.SetTo(to)
	params.SetBody(body)

	res, err := c.rest.Api.CreateMessage(params)
	if err != nil {
		return stream.Message{}, fmt.Errorf("send message: %w", apiError(err))
	}
	m := toMessage(res)
	if m.DateSent.IsZero() {
		m.DateSent = time.Now().UTC()
	}
	return m, nil
}

// Open returns the newest page of messages matching f.
func (c *Client) Open(ctx context.Context, f stream.Filter) (stream.Page, error) {
	params := &openapi.ListMessageParams{}
	params.SetPathAccountSid(c.accountSID)
	if f.From != "" {
		params.SetFrom(f.From)
	}
	if f.To != "" {
		params.SetTo(f.To)
	}
	size := c.pageSize
	if f.Limit > 0 {
		size = f.Limit
	}
	params.SetPageSize(size)

	p, err := c.fetchPage(ctx, params, "", "")
	if err != nil {
		return nil, err
	}
	if f.Limit > 0 {
		p.next = nil
	}
	return p, nil
}

func (c *Client) fetchPage(ctx context.Context, params *openapi.ListMessageParams, token, number string) (*page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := c.rest.Api.PageMessage(params, token, number)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", apiError(err))
	}
	p := &page{client: c, params: params}
	for i := range res.Messages {
		p.items = append(p.items, toMessage(&res.Messages[i]))
	}
	if res.NextPageUri != "" {
		next, err := parseCursor(res.NextPageUri)
		if err != nil {
			return nil, fmt.Errorf("list messages: %w", err)
		}
		p.next = next
	}
	return p, nil
}

// apiError converts the library's error document into an APIError so callers
// do not depend on the SDK's types.
func apiError(err error) error {
	var restErr *twclient.TwilioRestError
	if !errors.As(err, &restErr) {
		return err
	}
	return &APIError{
		Status:   restErr.Status,
		Code:     restErr.Code,
		Message:  restErr.Message,
		MoreInfo: restErr.MoreInfo,
	}
}

func toMessage(m *openapi.ApiV2010Message) stream.Message {
	out := stream.Message{
		SID:    deref(m.Sid),
		From:   deref(m.From),
		To:     deref(m.To),
		Body:   deref(m.Body),
		Status: deref(m.Status),
	}
	if m.ErrorCode != nil {
		out.ErrorCode = *m.ErrorCode
	}
	out.DateSent = parseDate(deref(m.DateSent))
	if out.DateSent.IsZero() {
		out.DateSent = parseDate(deref(m.DateCreated))
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// parseDate reads Twilio's RFC 2822 timestamps. Unset or malformed values
// yield the zero time.
func parseDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC1123Z, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// hostRewrite points requests built for api.twilio.com at another server.
type hostRewrite struct {
	target *url.URL
	next   http.RoundTripper
}

func (h *hostRewrite) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	out.URL.Scheme = h.target.Scheme
	out.URL.Host = h.target.Host
	out.Host = h.target.Host
	return h.next.RoundTrip(out)
}
