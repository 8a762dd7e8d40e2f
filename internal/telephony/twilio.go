package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const twilioAPIBaseURL = "https://api.twilio.com/2010-04-01"

// TwilioProvider places and controls calls through the Twilio REST API.
//
// It intentionally avoids the provider SDK: the three endpoints we touch
// are plain form-encoded POSTs and a JSON list, and keeping the adapter
// SDK-free keeps the dependency surface at the net/http level.
type TwilioProvider struct {
	accountSID string
	authToken  string
	baseURL    string

	httpClient *http.Client
}

func NewTwilioProvider(accountSID, authToken string, timeout time.Duration) *TwilioProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &TwilioProvider{
		accountSID: accountSID,
		authToken:  authToken,
		baseURL:    twilioAPIBaseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (p *TwilioProvider) Name() string { return "twilio" }

func (p *TwilioProvider) HealthCheck(ctx context.Context) error {
	// Fetching the account resource is the cheapest authenticated call.
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/Accounts/%s.json", p.baseURL, p.accountSID), nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(p.accountSID, p.authToken)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telephony: health check status %d", resp.StatusCode)
	}
	return nil
}

func (p *TwilioProvider) PlaceCall(ctx context.Context, req PlaceCallRequest) (PlaceCallResult, error) {
	if req.To == "" || req.From == "" {
		return PlaceCallResult{}, errors.New("telephony: to and from are required")
	}
	if req.AnswerURL == "" || req.StatusCallbackURL == "" {
		return PlaceCallResult{}, errors.New("telephony: answer and status callback URLs are required")
	}

	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", req.From)
	form.Set("Url", req.AnswerURL)
	form.Set("Method", "POST")
	form.Set("StatusCallback", req.StatusCallbackURL)
	form.Set("StatusCallbackMethod", "POST")
	for _, ev := range []string{"initiated", "ringing", "answered", "completed"} {
		form.Add("StatusCallbackEvent", ev)
	}
	if req.RingTimeout > 0 {
		form.Set("Timeout", strconv.Itoa(int(req.RingTimeout.Seconds())))
	}
	if req.DetectMachine {
		form.Set("MachineDetection", "Enable")
	}

	var out struct {
		Sid string `json:"sid"`
	}
	if err := p.postForm(ctx, fmt.Sprintf("/Accounts/%s/Calls.json", p.accountSID), form, &out); err != nil {
		return PlaceCallResult{}, err
	}
	if out.Sid == "" {
		return PlaceCallResult{}, errors.New("telephony: provider returned no call sid")
	}
	return PlaceCallResult{ProviderCallID: out.Sid}, nil
}

func (p *TwilioProvider) Hangup(ctx context.Context, providerCallID string) error {
	if providerCallID == "" {
		return errors.New("telephony: provider call id is required")
	}
	form := url.Values{}
	form.Set("Status", "completed")
	return p.postForm(ctx, fmt.Sprintf("/Accounts/%s/Calls/%s.json", p.accountSID, providerCallID), form, nil)
}

func (p *TwilioProvider) ListRecentCalls(ctx context.Context, limit int) ([]RecentCall, error) {
	if limit <= 0 {
		limit = 50
	}
	u := fmt.Sprintf("%s/Accounts/%s/Calls.json?PageSize=%d", p.baseURL, p.accountSID, limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(p.accountSID, p.authToken)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var body struct {
		Calls []struct {
			Sid       string `json:"sid"`
			Status    string `json:"status"`
			Duration  string `json:"duration"`
			StartTime string `json:"start_time"`
			EndTime   string `json:"end_time"`
		} `json:"calls"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}

	out := make([]RecentCall, 0, len(body.Calls))
	for _, c := range body.Calls {
		rc := RecentCall{ProviderCallID: c.Sid, Status: c.Status}
		if n, err := strconv.Atoi(c.Duration); err == nil {
			rc.DurationSeconds = n
		}
		if ts := parseTwilioTime(c.StartTime); ts != nil {
			rc.StartedAt = ts
		}
		if ts := parseTwilioTime(c.EndTime); ts != nil {
			rc.EndedAt = ts
		}
		out = append(out, rc)
	}
	return out, nil
}

func (p *TwilioProvider) postForm(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(p.accountSID, p.authToken)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func statusError(resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	return fmt.Errorf("telephony: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
}

// Twilio reports timestamps in RFC1123-with-zone form.
func parseTwilioTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC1123Z, s)
	if err != nil {
		return nil
	}
	u := t.UTC()
	return &u
}
