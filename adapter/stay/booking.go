package stay

import (
	"context"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/yadowatch/adapter/internal/htmlutil"
)

// calendarSelectors are the containers the booking system fills in with its
// per-plan availability calendars after page load.
var calendarSelectors = []string{"#stock_calendar_1", "#stock_calendar_2"}

// calendarWait bounds how long a rendered page gets to surface a calendar.
const calendarWait = 10 * time.Second

// bookingURL finds the external booking-system link on an accommodation
// page. An empty result with nil error means the place takes no online
// reservations; that is an item fact, not a failure.
func (a *Adapter) bookingURL(ctx context.Context, item listItem) (string, error) {
	res, err := a.env.Fetch.Get(ctx, item.URL)
	if err != nil {
		return "", err
	}
	doc, err := htmlutil.Parse(res.Body)
	if err != nil {
		return "", err
	}

	anchors := htmlutil.Query(doc, "a")

	// Pass 1: links announcing reservations in their text.
	for _, anchor := range anchors {
		text := strings.ToLower(htmlutil.Text(anchor))
		if strings.Contains(text, "reservation") {
			if href := htmlutil.Attr(anchor, "href"); href != "" {
				return htmlutil.AbsURL(item.URL, href), nil
			}
		}
	}
	// Pass 2: links pointing at the booking-system host.
	for _, anchor := range anchors {
		href := htmlutil.Attr(anchor, "href")
		if href != "" && strings.Contains(href, a.bookingHost) {
			return htmlutil.AbsURL(item.URL, href), nil
		}
	}
	// Pass 3: button-styled links with booking wording.
	for _, anchor := range anchors {
		if !strings.Contains(htmlutil.Attr(anchor, "class"), "btn") {
			continue
		}
		text := strings.ToLower(htmlutil.Text(anchor))
		if strings.Contains(text, "book") || strings.Contains(text, "click here") {
			if href := htmlutil.Attr(anchor, "href"); href != "" {
				return htmlutil.AbsURL(item.URL, href), nil
			}
		}
	}
	return "", nil
}

// renderBooking loads the booking page in a browser session and returns the
// settled DOM. The session is held exclusively and released before return.
func (a *Adapter) renderBooking(ctx context.Context, url string) (*html.Node, error) {
	src, err := a.render(ctx, url)
	if err != nil {
		return nil, err
	}
	return htmlutil.Parse(src)
}

// renderWithPool is the default renderer: one pooled session per page load.
func (a *Adapter) renderWithPool(ctx context.Context, url string) ([]byte, error) {
	session, err := a.env.Browser.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	if err := session.Navigate(ctx, url); err != nil {
		return nil, err
	}
	found, err := session.WaitVisible(ctx, calendarSelectors, calendarWait)
	if err != nil {
		return nil, err
	}
	if !found {
		// The calendar containers may never appear on pages without plans;
		// the DOM we did get still decides that.
		a.logger.Debug("stay: calendar containers not found", "url", url)
	}
	return session.HTML(ctx)
}
