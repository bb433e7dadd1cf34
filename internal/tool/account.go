package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const defaultAccountURL = "https://my.sjtu.edu.cn/api/account"

// AccountTool fetches the logged-in user's profile from the account API
// and renders the useful subset as markdown.
type AccountTool struct {
	apiURL string
}

// NewAccountTool creates the account_info tool.
func NewAccountTool() *AccountTool {
	return &AccountTool{apiURL: defaultAccountURL}
}

func (t *AccountTool) Name() string { return "account_info" }

func (t *AccountTool) Description() string {
	return "Fetches the profile of the logged-in user: basic info, identities and majors."
}

func (t *AccountTool) RequiresLogin() bool { return true }

func (t *AccountTool) Parameters() json.RawMessage { return noParams }

// namedRef is the id+name pair the account API uses for organizations,
// majors and identity types.
type namedRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type accountIdentity struct {
	Kind          string    `json:"kind"`
	IsDefault     bool      `json:"isDefault"`
	Code          string    `json:"code"`
	UserTypeName  string    `json:"userTypeName"`
	Organize      *namedRef `json:"organize"`
	TopOrganize   *namedRef `json:"topOrganize"`
	Major         *namedRef `json:"major"`
	ClassNo       string    `json:"classNo"`
	Status        string    `json:"status"`
	AdmissionDate string    `json:"admissionDate"`
	TrainLevel    string    `json:"trainLevel"`
	ExpireDate    string    `json:"expireDate"`
}

type accountProfile struct {
	Account     string            `json:"account"`
	Name        string            `json:"name"`
	Gender      string            `json:"gender"`
	UserType    string            `json:"userType"`
	Organize    *namedRef         `json:"organize"`
	TopOrganize *namedRef         `json:"topOrganize"`
	ClassNo     string            `json:"classNo"`
	Email       string            `json:"email"`
	Mobile      string            `json:"mobile"`
	CardNo      string            `json:"cardNo"`
	Identities  []accountIdentity `json:"identities"`
}

type accountResponse struct {
	Errno    int              `json:"errno"`
	Error    string           `json:"error"`
	Total    int              `json:"total"`
	Entities []accountProfile `json:"entities"`
}

func (t *AccountTool) Run(ctx context.Context, tc *Context, args json.RawMessage) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.apiURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")

	resp, err := tc.HTTPClient().Do(req)
	if err != nil {
		return Errorf("failed to reach the account API: %v", err), nil
	}
	defer resp.Body.Close()

	// Being bounced off the API host means the portal no longer accepts
	// the session.
	if resp.Request.URL.Host != req.URL.Host {
		return Errorf("session was rejected by the portal, please log in again"), nil
	}
	if resp.StatusCode != http.StatusOK {
		return Errorf("account API returned status %d", resp.StatusCode), nil
	}

	var payload accountResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Errorf("bad account API response: %v", err), nil
	}
	if payload.Errno != 0 {
		return Errorf("account API error: %s", payload.Error), nil
	}
	if len(payload.Entities) == 0 {
		return Errorf("account API returned no profile"), nil
	}

	return Ok(renderProfile(payload.Entities[0])), nil
}

func renderProfile(p accountProfile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s (%s)\n", p.Name, p.Account)

	writeField(&b, "gender", p.Gender)
	writeField(&b, "user type", p.UserType)
	if p.Organize != nil {
		writeField(&b, "organization", p.Organize.Name)
	}
	if p.TopOrganize != nil {
		writeField(&b, "school", p.TopOrganize.Name)
	}
	writeField(&b, "class", p.ClassNo)
	writeField(&b, "email", p.Email)
	writeField(&b, "mobile", p.Mobile)

	for _, id := range p.Identities {
		fmt.Fprintf(&b, "\n## identity: %s", id.UserTypeName)
		if id.IsDefault {
			b.WriteString(" (default)")
		}
		b.WriteString("\n")
		writeField(&b, "code", id.Code)
		if id.Organize != nil {
			writeField(&b, "organization", id.Organize.Name)
		}
		if id.Major != nil {
			writeField(&b, "major", id.Major.Name)
		}
		writeField(&b, "class", id.ClassNo)
		writeField(&b, "level", id.TrainLevel)
		writeField(&b, "admitted", id.AdmissionDate)
		writeField(&b, "status", id.Status)
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeField(b *strings.Builder, label, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(b, "- %s: %s\n", label, value)
}
