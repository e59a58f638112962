package twilio

import (
	"context"
	"fmt"
	"net/url"

	"github.com/pokulabs/poku/internal/stream"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// page is one page of the Messages list resource. Twilio returns messages
// newest first and links the next page by a page token.
type page struct {
	client *Client
	params *openapi.ListMessageParams
	items  []stream.Message
	next   *cursor
}

// cursor locates the following page within the same listing.
type cursor struct {
	token  string
	number string
}

func (p *page) Items() []stream.Message { return p.items }

func (p *page) HasNext() bool { return p.next != nil }

func (p *page) Next(ctx context.Context) (stream.Page, error) {
	if p.next == nil {
		return &page{client: p.client, params: p.params}, nil
	}
	return p.client.fetchPage(ctx, p.params, p.next.token, p.next.number)
}

// parseCursor extracts PageToken and Page from a next_page_uri.
func parseCursor(uri string) (*cursor, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("parse next page uri: %w", err)
	}
	q := u.Query()
	c := &cursor{token: q.Get("PageToken"), number: q.Get("Page")}
	if c.token == "" && c.number == "" {
		return nil, fmt.Errorf("next page uri %q has no page reference", uri)
	}
	return c, nil
}
