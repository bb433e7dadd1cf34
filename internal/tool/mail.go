package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	md "github.com/JohannesKaufmann/html-to-markdown"
)

const defaultMailURL = "https://mail.sjtu.edu.cn"

// maxMailBody caps how much of the webmail page is read.
const maxMailBody = 2 << 20

// MailTool fetches the webmail landing page with the authenticated
// session and renders it as markdown.
type MailTool struct {
	baseURL string
}

// NewMailTool creates the sjtu_mail_inbox tool.
func NewMailTool() *MailTool {
	return &MailTool{baseURL: defaultMailURL}
}

func (t *MailTool) Name() string { return "sjtu_mail_inbox" }

func (t *MailTool) Description() string {
	return "Fetches the campus webmail landing page for the logged-in user."
}

func (t *MailTool) RequiresLogin() bool { return true }

func (t *MailTool) Parameters() json.RawMessage { return noParams }

func (t *MailTool) Run(ctx context.Context, tc *Context, args json.RawMessage) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", browserUserAgent)

	resp, err := tc.HTTPClient().Do(req)
	if err != nil {
		return Errorf("failed to reach the mail system: %v", err), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Errorf("mail system returned status %d", resp.StatusCode), nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMailBody))
	if err != nil {
		return Errorf("failed to read mail page: %v", err), nil
	}

	converter := md.NewConverter("", true, nil)
	markdown, err := converter.ConvertString(string(body))
	if err != nil {
		return nil, fmt.Errorf("failed to convert mail page: %w", err)
	}
	return Ok(markdown), nil
}
