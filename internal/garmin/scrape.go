package garmin

import (
	"bytes"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// Scraper pulls the values the SSO state machine needs out of the HTML pages
// the SSO widget returns. The markup is not a stable API, so the parsing
// lives behind this interface and can be replaced without touching the flow.
type Scraper interface {
	// ContinuationToken returns the CSRF value of the page's login or MFA form.
	ContinuationToken(body []byte) (string, error)
	// Ticket returns the service ticket embedded in a "Success" page.
	Ticket(body []byte) (string, error)
	// Title returns the trimmed text of the page's <title>, or "".
	Title(body []byte) string
}

const csrfFieldName = "_csrf"

// ticketPattern matches the redirect URL the success page hands back to the
// embedding widget, e.g. embed?ticket=ST-0123-abc-cas".
var ticketPattern = regexp.MustCompile(`embed\?ticket=([^"]+)"`)

// HTMLScraper is the default Scraper. It tokenizes the page with
// golang.org/x/net/html rather than matching raw markup, so attribute order
// and quoting do not matter.
type HTMLScraper struct{}

// ContinuationToken finds <input name="_csrf" value="...">.
func (HTMLScraper) ContinuationToken(body []byte) (string, error) {
	z := html.NewTokenizer(bytes.NewReader(body))

	for {
		switch z.Next() {
		case html.ErrorToken:
			return "", ErrContinuationNotFound

		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if tok.Data != "input" {
				continue
			}

			var name, value string
			for _, a := range tok.Attr {
				switch a.Key {
				case "name":
					name = a.Val
				case "value":
					value = a.Val
				}
			}

			if name == csrfFieldName && value != "" {
				return value, nil
			}
		}
	}
}

// Ticket extracts the service ticket from the widget redirect script.
func (HTMLScraper) Ticket(body []byte) (string, error) {
	m := ticketPattern.FindSubmatch(body)
	if m == nil {
		return "", ErrTicketNotFound
	}

	return string(m[1]), nil
}

// Title returns the page title.
func (HTMLScraper) Title(body []byte) string {
	z := html.NewTokenizer(bytes.NewReader(body))

	for {
		switch z.Next() {
		case html.ErrorToken:
			return ""

		case html.StartTagToken:
			name, _ := z.TagName()
			if string(name) != "title" {
				continue
			}

			if z.Next() == html.TextToken {
				return strings.TrimSpace(string(z.Text()))
			}

			return ""
		}
	}
}
