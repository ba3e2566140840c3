package carrier

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.twilio.com/2010-04-01"

// Client is a minimal carrier REST client for placing outbound calls.
type Client struct {
	accountSID string
	authToken  string
	baseURL    string
	httpClient *http.Client
}

// ClientConfig configures the carrier client.
type ClientConfig struct {
	AccountSID string
	AuthToken  string
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a carrier REST client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.AccountSID) == "" {
		return nil, fmt.Errorf("carrier account SID is required")
	}
	if strings.TrimSpace(cfg.AuthToken) == "" {
		return nil, fmt.Errorf("carrier auth token is required")
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}, nil
}

// AccountSID returns the configured account SID.
func (c *Client) AccountSID() string {
	return c.accountSID
}

// Call is the carrier's call resource.
type Call struct {
	SID       string `json:"sid"`
	To        string `json:"to"`
	From      string `json:"from"`
	Status    string `json:"status"`
	Direction string `json:"direction"`
}

// PlaceCallParams are the parameters for placing an outbound call.
type PlaceCallParams struct {
	To   string
	From string
	// TwiML is the inline call-handling document; typically the result of
	// StreamTwiML so the answered call connects straight to the media socket.
	TwiML string
}

// PlaceCall initiates an outbound call and returns the carrier call resource.
// The returned call SID keys the pending-call registry until the media
// stream attaches.
func (c *Client) PlaceCall(ctx context.Context, params PlaceCallParams) (*Call, error) {
	if strings.TrimSpace(params.To) == "" {
		return nil, fmt.Errorf("to number is required")
	}
	if strings.TrimSpace(params.From) == "" {
		return nil, fmt.Errorf("from number is required")
	}

	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls.json", c.baseURL, c.accountSID)

	form := url.Values{}
	form.Set("To", params.To)
	form.Set("From", params.From)
	if params.TwiML != "" {
		form.Set("Twiml", params.TwiML)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("carrier request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("carrier error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var call Call
	if err := json.NewDecoder(resp.Body).Decode(&call); err != nil {
		return nil, fmt.Errorf("parse carrier response: %w", err)
	}
	if strings.TrimSpace(call.SID) == "" {
		return nil, fmt.Errorf("carrier response missing call sid")
	}
	return &call, nil
}

// StreamTwiML builds the call-handling document that connects an answered
// call to the media-stream WebSocket at streamURL.
func StreamTwiML(streamURL string) string {
	var b strings.Builder
	b.WriteString(xml.Header)
	b.WriteString("<Response><Connect><Stream url=\"")
	_ = xml.EscapeText(&b, []byte(streamURL))
	b.WriteString("\" /></Connect></Response>")
	return b.String()
}
