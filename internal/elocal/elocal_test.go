package elocal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/smallbiznis/abcmetrics/internal/ingest/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testBase       = "https://portal.test"
	dashboardURL   = "https://portal.test/business_users/dashboard"
	loginPageURL   = "https://portal.test/business_users/login?manual_login=true"
	validExportCSV = "Unique ID,Time,Duration,Status\n" +
		"c-1,2024-03-05 10:15:00,1:30,Answered\n" +
		"c-2,2024-03-05,45,Missed\n"
)

type mockBrowser struct {
	mock.Mock
}

func (m *mockBrowser) NewTab(ctx context.Context) (Tab, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(Tab), args.Error(1)
}

func (m *mockBrowser) Close() error {
	return m.Called().Error(0)
}

type mockTab struct {
	mock.Mock
}

func (m *mockTab) Navigate(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}

func (m *mockTab) TypePassword(ctx context.Context, password string) error {
	return m.Called(ctx, password).Error(0)
}

func (m *mockTab) Submit(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockTab) URL(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *mockTab) FetchText(ctx context.Context, url string) (int, string, error) {
	args := m.Called(ctx, url)
	return args.Int(0), args.String(1), args.Error(2)
}

func (m *mockTab) Close() error {
	return m.Called().Error(0)
}

type mockWriter struct {
	mock.Mock
}

func (m *mockWriter) UpsertCalls(ctx context.Context, calls []domain.Call) (domain.Result, error) {
	args := m.Called(ctx, calls)
	return args.Get(0).(domain.Result), args.Error(1)
}

func failingLoginTab() *mockTab {
	tab := &mockTab{}
	tab.On("Navigate", mock.Anything, mock.Anything).Return(nil)
	tab.On("URL", mock.Anything).Return(loginPageURL, nil)
	tab.On("TypePassword", mock.Anything, "secret").Return(nil)
	tab.On("Submit", mock.Anything).Return(nil)
	tab.On("Close").Return(nil)
	return tab
}

func newTestScraper(browser Browser, writer CallWriter) *Scraper {
	opener := func(context.Context) (Browser, error) { return browser, nil }
	return New(testBase, "owner", "secret", "42", opener, writer, zap.NewNop(), nil)
}

func window() (time.Time, time.Time) {
	return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 3, 30, 0, 0, 0, 0, time.UTC)
}

func TestSyncRetriesLoginOnFreshTab(t *testing.T) {
	first := failingLoginTab()

	second := &mockTab{}
	second.On("Navigate", mock.Anything, LoginURL(testBase, "owner")).Return(nil)
	second.On("URL", mock.Anything).Return(loginPageURL, nil).Once()
	second.On("TypePassword", mock.Anything, "secret").Return(nil)
	second.On("Submit", mock.Anything).Return(nil)
	second.On("URL", mock.Anything).Return(dashboardURL, nil).Once()
	start, end := window()
	second.On("FetchText", mock.Anything, ExportURL(testBase, "42", start, end)).Return(200, validExportCSV, nil)
	second.On("Close").Return(nil)

	browser := &mockBrowser{}
	browser.On("NewTab", mock.Anything).Return(first, nil).Once()
	browser.On("NewTab", mock.Anything).Return(second, nil).Once()
	browser.On("Close").Return(nil).Once()

	writer := &mockWriter{}
	writer.On("UpsertCalls", mock.Anything, mock.MatchedBy(func(calls []domain.Call) bool {
		return len(calls) == 2 && calls[0].CallID == "c-1" && calls[0].Duration == 90
	})).Return(domain.Result{Saved: 2}, nil)

	scraper := newTestScraper(browser, writer)
	res, err := scraper.Sync(context.Background(), start, end)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Rows)
	assert.Equal(t, 2, res.Parsed)
	assert.Equal(t, 2, res.Write.Saved)
	assert.Equal(t, StateParsed, scraper.State())
	first.AssertCalled(t, "Close")
	browser.AssertExpectations(t)
	second.AssertExpectations(t)
	writer.AssertExpectations(t)
}

func TestSyncFailsAuthenticationAfterSecondAttempt(t *testing.T) {
	first := failingLoginTab()
	second := failingLoginTab()

	browser := &mockBrowser{}
	browser.On("NewTab", mock.Anything).Return(first, nil).Once()
	browser.On("NewTab", mock.Anything).Return(second, nil).Once()
	browser.On("Close").Return(nil).Once()

	writer := &mockWriter{}
	scraper := newTestScraper(browser, writer)

	start, end := window()
	_, err := scraper.Sync(context.Background(), start, end)
	require.ErrorIs(t, err, domain.ErrAuthentication)

	assert.Equal(t, StateFailed, scraper.State())
	first.AssertNotCalled(t, "FetchText", mock.Anything, mock.Anything)
	second.AssertNotCalled(t, "FetchText", mock.Anything, mock.Anything)
	writer.AssertNotCalled(t, "UpsertCalls", mock.Anything, mock.Anything)
	browser.AssertExpectations(t)
}

func TestSyncReusesAuthenticatedSession(t *testing.T) {
	tab := &mockTab{}
	tab.On("Navigate", mock.Anything, mock.Anything).Return(nil)
	tab.On("URL", mock.Anything).Return(dashboardURL, nil)
	tab.On("FetchText", mock.Anything, mock.Anything).Return(200, "Unique ID,Time\n", nil)
	tab.On("Close").Return(nil)

	browser := &mockBrowser{}
	browser.On("NewTab", mock.Anything).Return(tab, nil).Once()
	browser.On("Close").Return(nil).Once()

	writer := &mockWriter{}
	scraper := newTestScraper(browser, writer)

	start, end := window()
	res, err := scraper.Sync(context.Background(), start, end)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Parsed)

	tab.AssertNotCalled(t, "TypePassword", mock.Anything, mock.Anything)
	writer.AssertNotCalled(t, "UpsertCalls", mock.Anything, mock.Anything)
	browser.AssertExpectations(t)
}

func TestSyncRejectsHTMLExport(t *testing.T) {
	tab := &mockTab{}
	tab.On("Navigate", mock.Anything, mock.Anything).Return(nil)
	tab.On("URL", mock.Anything).Return(dashboardURL, nil)
	tab.On("FetchText", mock.Anything, mock.Anything).Return(200, "<!DOCTYPE html><html><body>Log In</body></html>", nil)
	tab.On("Close").Return(nil)

	browser := &mockBrowser{}
	browser.On("NewTab", mock.Anything).Return(tab, nil).Once()
	browser.On("Close").Return(nil).Once()

	writer := &mockWriter{}
	scraper := newTestScraper(browser, writer)

	start, end := window()
	_, err := scraper.Sync(context.Background(), start, end)
	require.ErrorIs(t, err, domain.ErrSessionExpired)

	writer.AssertNotCalled(t, "UpsertCalls", mock.Anything, mock.Anything)
	tab.AssertCalled(t, "Close")
	browser.AssertExpectations(t)
}

func TestSyncReleasesBrowserWhenWriterFails(t *testing.T) {
	tab := &mockTab{}
	tab.On("Navigate", mock.Anything, mock.Anything).Return(nil)
	tab.On("URL", mock.Anything).Return(dashboardURL, nil)
	tab.On("FetchText", mock.Anything, mock.Anything).Return(200, validExportCSV, nil)
	tab.On("Close").Return(nil)

	browser := &mockBrowser{}
	browser.On("NewTab", mock.Anything).Return(tab, nil).Once()
	browser.On("Close").Return(nil).Once()

	boom := errors.New("begin failed")
	writer := &mockWriter{}
	writer.On("UpsertCalls", mock.Anything, mock.Anything).Return(domain.Result{}, boom)

	scraper := newTestScraper(browser, writer)
	start, end := window()
	_, err := scraper.Sync(context.Background(), start, end)
	require.ErrorIs(t, err, boom)

	browser.AssertExpectations(t)
	require.NoError(t, scraper.Close())
	browser.AssertNumberOfCalls(t, "Close", 1)
}

func TestSyncOpenFailureLeavesNothingToRelease(t *testing.T) {
	opener := func(context.Context) (Browser, error) { return nil, errors.New("no chrome") }
	scraper := New(testBase, "owner", "secret", "42", opener, &mockWriter{}, zap.NewNop(), nil)

	start, end := window()
	_, err := scraper.Sync(context.Background(), start, end)
	require.Error(t, err)
	assert.Equal(t, StateFailed, scraper.State())
	assert.NoError(t, scraper.Close())
}

func TestLoginSucceeded(t *testing.T) {
	cases := map[string]bool{
		dashboardURL: true,
		loginPageURL: false,
		"https://portal.test/business_users/LOGIN": false,
		"":          false,
		"not a url": false,
	}
	for url, want := range cases {
		assert.Equal(t, want, LoginSucceeded(url), url)
	}
}

func TestValidateExport(t *testing.T) {
	assert.ErrorIs(t, ValidateExport("  \n"), domain.ErrEmptyExport)
	assert.ErrorIs(t, ValidateExport("<!doctype html><p>hi</p>"), domain.ErrSessionExpired)
	assert.ErrorIs(t, ValidateExport("Please Log In to continue"), domain.ErrSessionExpired)
	assert.NoError(t, ValidateExport(validExportCSV))
}

func TestParseCallsHeaderAliases(t *testing.T) {
	body := "\ufeffCall Id , Call Date,Duration (seconds),Call Type\n" +
		"a-1,2024-03-05,01:02:03,Answered\n" +
		",2024-03-05,10,Missed\n" +
		"a-3,,10,Missed\n" +
		"a-4,garbage,10,Missed\n" +
		"a-5,03/06/2024,7,Voicemail\n"

	res, err := ParseCalls(strings.NewReader(body))
	require.NoError(t, err)

	require.Len(t, res.Calls, 2)
	assert.Equal(t, 5, res.Rows)
	assert.Equal(t, "a-1", res.Calls[0].CallID)
	assert.Equal(t, 3723, res.Calls[0].Duration)
	assert.Equal(t, "Answered", res.Calls[0].CallType)
	assert.Equal(t, "elocals", res.Calls[0].Source)
	assert.Equal(t, time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC), res.Calls[1].Date)
	assert.Equal(t, 1, res.Skipped[SkipMissingCallID])
	assert.Equal(t, 2, res.Skipped[SkipMissingDate])
	assert.Equal(t, 3, res.SkippedTotal())
}

func TestParseCallsStopsAtRowCap(t *testing.T) {
	var body strings.Builder
	body.WriteString("Unique ID,Time,Duration,Status\n")
	for i := 0; i < 10; i++ {
		fmt.Fprintf(&body, "c-%d,2024-03-05,10,Answered\n", i)
	}

	res, err := parseCalls(strings.NewReader(body.String()), 4)
	require.NoError(t, err)

	assert.Len(t, res.Calls, 4)
	assert.Equal(t, 4, res.Rows)
	assert.True(t, res.Truncated)
	assert.Equal(t, 1, res.Skipped[SkipRowCap])
	assert.Equal(t, "c-3", res.Calls[3].CallID)
}

func TestParseCallsUnderCapIsNotTruncated(t *testing.T) {
	res, err := ParseCalls(strings.NewReader(validExportCSV))
	require.NoError(t, err)
	assert.False(t, res.Truncated)
	assert.Zero(t, res.Skipped[SkipRowCap])
	assert.Equal(t, 2, res.Rows)
}

func TestParseCallsEmptyBody(t *testing.T) {
	_, err := ParseCalls(strings.NewReader(""))
	assert.ErrorIs(t, err, domain.ErrEmptyExport)
}

func TestExportURL(t *testing.T) {
	start, end := window()
	assert.Equal(t,
		"https://portal.test/business_users/calls/export/42?end=2024-03-30&start=2024-03-01",
		ExportURL(testBase+"/", "42", start, end),
	)
}
