package glpi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/user/ticketdigest/internal/types"
)

const (
	followupPageSize = 50
	dateLayout       = "2006-01-02 15:04:05"
)

// Credentials authenticate against the GLPI REST API. A user token is
// preferred over a login/password pair when both are set.
type Credentials struct {
	AppToken  string
	UserToken string
	Login     string
	Password  string
}

// Client is a thin GLPI REST client covering sessions, tickets and
// follow-ups.
type Client struct {
	baseURL    string
	creds      Credentials
	httpClient *http.Client
}

// NewClient creates a client for the API rooted at baseURL
// (e.g. https://glpi.example.com/apirest.php).
func NewClient(baseURL string, creds Credentials, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		creds:      creds,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// TicketRecord is the subset of the GLPI Ticket item used here.
type TicketRecord struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Content string `json:"content"`
	Status  int    `json:"status"`
	Date    string `json:"date"`
}

// FollowupRecord is the subset of the GLPI ITILFollowup item used here.
// UsersID is a name when dropdowns are expanded and a number otherwise.
type FollowupRecord struct {
	ID      int             `json:"id"`
	UsersID json.RawMessage `json:"users_id"`
	Content string          `json:"content"`
	Date    string          `json:"date"`
}

// InitSession opens a session and returns its token.
func (c *Client) InitSession(ctx context.Context) (string, error) {
	req, err := c.newRequest(ctx, "initSession", "")
	if err != nil {
		return "", err
	}
	switch {
	case c.creds.UserToken != "":
		req.Header.Set("Authorization", "user_token "+c.creds.UserToken)
	case c.creds.Login != "":
		raw := c.creds.Login + ":" + c.creds.Password
		req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(raw)))
	default:
		return "", types.Wrap(types.ErrAuth, "initSession", fmt.Errorf("no credentials configured"))
	}

	var out struct {
		SessionToken string `json:"session_token"`
	}
	if _, err := c.do(req, "initSession", &out); err != nil {
		return "", err
	}
	if out.SessionToken == "" {
		return "", types.Wrap(types.ErrAuth, "initSession", fmt.Errorf("empty session token"))
	}
	return out.SessionToken, nil
}

// Probe checks that token still refers to a live session.
func (c *Client) Probe(ctx context.Context, token string) error {
	req, err := c.newRequest(ctx, "getFullSession", token)
	if err != nil {
		return err
	}
	_, err = c.do(req, "getFullSession", nil)
	return err
}

// KillSession closes the session identified by token.
func (c *Client) KillSession(ctx context.Context, token string) error {
	req, err := c.newRequest(ctx, "killSession", token)
	if err != nil {
		return err
	}
	_, err = c.do(req, "killSession", nil)
	return err
}

// GetTicket fetches a single ticket.
func (c *Client) GetTicket(ctx context.Context, token string, id int) (*TicketRecord, error) {
	path := "Ticket/" + strconv.Itoa(id)
	req, err := c.newRequest(ctx, path, token)
	if err != nil {
		return nil, err
	}
	var rec TicketRecord
	if _, err := c.do(req, "GET "+path, &rec); err != nil {
		return nil, err
	}
	if rec.ID == 0 {
		rec.ID = id
	}
	return &rec, nil
}

// ListFollowups reads every follow-up of a ticket, one page at a time.
func (c *Client) ListFollowups(ctx context.Context, token string, id int) ([]FollowupRecord, error) {
	path := "Ticket/" + strconv.Itoa(id) + "/ITILFollowup"
	var all []FollowupRecord
	for start := 0; ; start += followupPageSize {
		q := url.Values{}
		q.Set("range", fmt.Sprintf("%d-%d", start, start+followupPageSize-1))
		q.Set("expand_dropdowns", "true")
		req, err := c.newRequest(ctx, path+"?"+q.Encode(), token)
		if err != nil {
			return nil, err
		}

		var page []FollowupRecord
		resp, err := c.do(req, "GET "+path, &page)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)

		total, ok := parseContentRange(resp.Header.Get("Content-Range"))
		if !ok || len(page) < followupPageSize || len(all) >= total {
			return all, nil
		}
	}
}

// parseDate reads a GLPI timestamp. Empty or unparseable values yield the
// zero time.
func parseDate(s string, loc *time.Location) time.Time {
	t, err := time.ParseInLocation(dateLayout, strings.TrimSpace(s), loc)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (c *Client) newRequest(ctx context.Context, path, token string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.creds.AppToken != "" {
		req.Header.Set("App-Token", c.creds.AppToken)
	}
	if token != "" {
		req.Header.Set("Session-Token", token)
	}
	return req, nil
}

// do sends req and decodes a 2xx body into out. Failures are classified
// into the shared error kinds.
func (c *Client) do(req *http.Request, op string, out any) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, types.Wrap(types.ErrUpstreamUnavailable, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, types.Wrap(types.ErrUpstreamUnavailable, op, fmt.Errorf("read body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, classify(op, resp.StatusCode, body)
	}
	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return nil, types.Wrap(types.ErrMalformedContent, op, fmt.Errorf("decode response: %w", err))
		}
	}
	return resp, nil
}

// classify maps a GLPI error response to an error kind. GLPI replies with
// a JSON array of [code, message].
func classify(op string, status int, body []byte) error {
	code, msg := apiError(body)
	detail := fmt.Errorf("status %d", status)
	if code != "" {
		detail = fmt.Errorf("status %d: %s %s", status, code, msg)
	}

	switch {
	case strings.HasPrefix(code, "ERROR_SESSION_TOKEN"),
		code == "ERROR_LOGIN_PARAMETERS_MISSING",
		code == "ERROR_GLPI_LOGIN_USER_TOKEN",
		code == "ERROR_GLPI_LOGIN",
		status == http.StatusUnauthorized,
		status == http.StatusForbidden:
		return types.Wrap(types.ErrAuth, op, detail)
	case code == "ERROR_ITEM_NOT_FOUND", status == http.StatusNotFound:
		return types.Wrap(types.ErrNotFound, op, detail)
	case status >= 500:
		return types.Wrap(types.ErrUpstreamUnavailable, op, detail)
	default:
		return fmt.Errorf("%s: %w", op, detail)
	}
}

func apiError(body []byte) (code, msg string) {
	var parts []string
	if err := json.Unmarshal(body, &parts); err != nil || len(parts) == 0 {
		return "", ""
	}
	if len(parts) > 1 {
		msg = parts[1]
	}
	return parts[0], msg
}

// parseContentRange reads the total from a "start-end/total" header.
func parseContentRange(v string) (int, bool) {
	_, total, ok := strings.Cut(v, "/")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(total))
	if err != nil {
		return 0, false
	}
	return n, true
}

// authorName renders a follow-up author from an expanded or raw users_id.
func authorName(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		return strings.TrimSpace(name)
	}
	var id int
	if err := json.Unmarshal(raw, &id); err == nil && id > 0 {
		return "user #" + strconv.Itoa(id)
	}
	return ""
}
