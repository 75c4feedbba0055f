package elocal

import "context"

// Browser is a headless browser session. Tabs opened from one Browser share cookies.
type Browser interface {
	NewTab(ctx context.Context) (Tab, error)
	Close() error
}

// Tab is one page inside a Browser.
type Tab interface {
	Navigate(ctx context.Context, url string) error
	// TypePassword fills the first password input on the page.
	TypePassword(ctx context.Context, password string) error
	// Submit clicks input[type=submit], then button[type=submit], then presses Enter in the password field.
	Submit(ctx context.Context) error
	URL(ctx context.Context) (string, error)
	// FetchText issues a same-origin GET from inside the page so the session cookies are sent.
	FetchText(ctx context.Context, url string) (status int, body string, err error)
	Close() error
}

// Opener starts a new Browser for one sync cycle.
type Opener func(ctx context.Context) (Browser, error)
