package legis

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/legisync/backend/pkg/logger"
)

// Client talks to the legislative data provider over HTTP. Every call
// waits on a shared rate limiter first, so consecutive calls keep the
// provider's minimum request spacing. The client performs no persistence.
type Client struct {
	baseURL    string
	apiKey     string
	source     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func NewClient(source, baseURL, apiKey string, requestsPerSecond float64, timeoutSec int) *Client {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 1.0
	}
	if timeoutSec <= 0 {
		timeoutSec = 120
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		source:  source,
		httpClient: &http.Client{
			Timeout: time.Duration(timeoutSec) * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
	}
}

// SourceName identifies the provider in stored natural keys.
func (c *Client) SourceName() string {
	return c.source
}

type sessionsResponse struct {
	Sessions []Session `json:"sessions"`
}

func (c *Client) ListSessions(ctx context.Context, jurisdiction string) ([]Session, error) {
	url := fmt.Sprintf("%s/jurisdictions/%s/sessions", c.baseURL, jurisdiction)

	body, err := c.get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch sessions for %s: %w", jurisdiction, err)
	}

	var resp sessionsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse sessions response: %w", err)
	}

	return resp.Sessions, nil
}

type manifestResponse struct {
	Bills []struct {
		BillID     string `json:"bill_id"`
		ChangeHash string `json:"change_hash"`
	} `json:"bills"`
}

// GetManifest returns the provider's per-bill change hashes for a
// session. Entries are passed through as-is; deciding what is malformed
// belongs to the change detector.
func (c *Client) GetManifest(ctx context.Context, sessionID string) (map[string]string, error) {
	url := fmt.Sprintf("%s/sessions/%s/manifest", c.baseURL, sessionID)

	body, err := c.get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch manifest for session %s: %w", sessionID, err)
	}

	var resp manifestResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse manifest response: %w", err)
	}

	manifest := make(map[string]string, len(resp.Bills))
	for _, b := range resp.Bills {
		manifest[b.BillID] = b.ChangeHash
	}

	return manifest, nil
}

type billResponse struct {
	ID         string         `json:"id"`
	Session    string         `json:"session"`
	Identifier string         `json:"identifier"`
	Title      string         `json:"title"`
	Abstract   string         `json:"abstract"`
	Status     string         `json:"status"`
	ChangeHash string         `json:"change_hash"`
	Sponsors   []Sponsor      `json:"sponsorships"`
	Texts      []TextDocument `json:"versions"`
	Amendments []Amendment    `json:"amendments"`
}

// GetBill retrieves the full record for one bill identifier, downloading
// each text document's content. Returns ErrNotFound when the provider has
// no data; transient errors propagate to the caller.
func (c *Client) GetBill(ctx context.Context, billID string) (*BillRecord, error) {
	url := fmt.Sprintf("%s/bills/%s", c.baseURL, billID)

	body, err := c.get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch bill %s: %w", billID, err)
	}

	var resp billResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse bill response: %w", err)
	}

	record := &BillRecord{
		SourceID:    resp.ID,
		Source:      c.source,
		SessionKey:  resp.Session,
		BillNumber:  resp.Identifier,
		Title:       resp.Title,
		Description: resp.Abstract,
		Status:      resp.Status,
		ChangeHash:  resp.ChangeHash,
		Sponsors:    resp.Sponsors,
		Texts:       resp.Texts,
		Amendments:  resp.Amendments,
		Raw:         json.RawMessage(body),
	}

	for i := range record.Texts {
		doc := &record.Texts[i]
		if doc.URL == "" {
			continue
		}
		content, err := c.get(ctx, doc.URL)
		if err != nil {
			logger.Warn("Failed to download bill text document",
				zap.String("bill_id", billID),
				zap.String("url", doc.URL),
				zap.Error(err),
			)
			continue
		}
		doc.Content = content
	}

	return record, nil
}

// get performs a single rate-limited GET. Transient failures are not
// retried here: the record is recorded as a per-run error and the next
// scheduled run picks it up again, because its change hash still differs
// from what is stored. A 404 maps to ErrNotFound.
func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("rate limited (HTTP 429)")
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// PlainText extracts readable text from a downloaded document. HTML is
// stripped of chrome elements; anything else is returned as-is when it is
// valid text.
func PlainText(content []byte, mimeType string) string {
	if !strings.Contains(mimeType, "html") {
		return string(content)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(content)))
	if err != nil {
		return string(content)
	}

	doc.Find("script, style, nav, footer, header, aside").Each(func(i int, s *goquery.Selection) {
		s.Remove()
	})

	text := doc.Find("body").Text()
	if text == "" {
		text = doc.Text()
	}

	return strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
}
