package tool

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

const (
	defaultJaccountBase = "https://jaccount.sjtu.edu.cn"
	defaultActivityBase = "https://activity.sjtu.edu.cn"

	// OAuth client registered for the activity site.
	activityClientID = "NMCTdJI6Tluw2SSTe6tW"

	activityPageSize = 10
	activityTypeID   = 2
)

// ActivityTool lists campus activities. The activity site does not share
// the portal session directly; each invocation runs the OAuth code dance
// against the SSO host to obtain a bearer token first.
type ActivityTool struct {
	jaccountBase string
	activityBase string
}

// NewActivityTool creates the sjtu_activity tool.
func NewActivityTool() *ActivityTool {
	return &ActivityTool{
		jaccountBase: defaultJaccountBase,
		activityBase: defaultActivityBase,
	}
}

func (t *ActivityTool) Name() string { return "sjtu_activity" }

func (t *ActivityTool) Description() string {
	return "Lists recent campus activities from the second classroom site as a markdown digest. The page argument selects the result page, starting at 1."
}

func (t *ActivityTool) RequiresLogin() bool { return true }

func (t *ActivityTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"page": {
				"type": "integer",
				"description": "Result page number, starting at 1"
			}
		}
	}`)
}

type activityArgs struct {
	Page int `json:"page"`
}

// activity is the subset of the listing payload the digest renders.
type activity struct {
	ID               int       `json:"id"`
	Name             string    `json:"name"`
	Img              string    `json:"img"`
	Sponsor          string    `json:"sponsor"`
	Address          string    `json:"address"`
	Method           int       `json:"method"`
	PersonNum        int       `json:"person_num"`
	SignedUpNum      int       `json:"signed_up_num"`
	ActivityTime     []string  `json:"activity_time"`
	RegistrationTime []string  `json:"registration_time"`
}

func (t *ActivityTool) Run(ctx context.Context, tc *Context, args json.RawMessage) (*Result, error) {
	var params activityArgs
	if err := json.Unmarshal(args, &params); err != nil {
		return Errorf("invalid arguments: %v", err), nil
	}
	if params.Page < 1 {
		params.Page = 1
	}

	token, err := t.fetchToken(ctx, tc.HTTPClient())
	if err != nil {
		return Errorf("failed to authorize against the activity site: %v", err), nil
	}

	activities, err := t.listActivities(ctx, tc.HTTPClient(), token, params.Page)
	if err != nil {
		return Errorf("failed to list activities: %v", err), nil
	}
	if len(activities) == 0 {
		return Ok("no activities found"), nil
	}

	entries := make([]string, 0, len(activities))
	for _, a := range activities {
		entries = append(entries, t.renderActivity(a))
	}
	return Ok(strings.Join(entries, "\n\n")), nil
}

// fetchToken runs the OAuth code dance: the authorize request rides the
// portal session and redirects to the activity site with a code, which is
// then exchanged for a bearer token.
func (t *ActivityTool) fetchToken(ctx context.Context, client *http.Client) (string, error) {
	authorize := t.jaccountBase + "/oauth2/authorize?" + url.Values{
		"client_id":     {activityClientID},
		"redirect_uri":  {t.activityBase + "/auth"},
		"response_type": {"code"},
		"scope":         {"profile"},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, authorize, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", browserUserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	resp.Body.Close()

	code := resp.Request.URL.Query().Get("code")
	if code == "" {
		return "", fmt.Errorf("authorize did not yield a code (landed on %s)", resp.Request.URL)
	}

	tokenURL := t.activityBase + "/api/v1/login/token?code=" + url.QueryEscape(code)
	req, err = http.NewRequestWithContext(ctx, http.MethodGet, tokenURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", browserUserAgent)

	resp, err = client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var payload struct {
		Data string `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("bad token response: %w", err)
	}
	if payload.Data == "" {
		return "", fmt.Errorf("token response carried no token")
	}
	return payload.Data, nil
}

func (t *ActivityTool) listActivities(ctx context.Context, client *http.Client, token string, page int) ([]activity, error) {
	listURL := t.activityBase + "/api/v1/activity/list/home?" + url.Values{
		"page":             {strconv.Itoa(page)},
		"per_page":         {strconv.Itoa(activityPageSize)},
		"activity_type_id": {strconv.Itoa(activityTypeID)},
		"time_sort":        {"desc"},
		"can_apply":        {"false"},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, listURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var payload struct {
		Data []activity `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("bad listing response: %w", err)
	}

	activities := payload.Data
	sort.SliceStable(activities, func(i, j int) bool {
		return startTime(activities[i]) > startTime(activities[j])
	})
	return activities, nil
}

func startTime(a activity) string {
	if len(a.ActivityTime) == 0 {
		return ""
	}
	return a.ActivityTime[0]
}

func (t *ActivityTool) renderActivity(a activity) string {
	var b strings.Builder
	fmt.Fprintf(&b, "- [%s](%s/activity/detail/%s)\n", a.Name, t.activityBase, detailParam(a.ID))
	if a.Img != "" {
		fmt.Fprintf(&b, "  ![](%s%s)\n", t.activityBase, a.Img)
	}
	fmt.Fprintf(&b, "  id: %d\n", a.ID)
	fmt.Fprintf(&b, "  sponsor: %s\n", a.Sponsor)
	if a.PersonNum > 0 {
		fmt.Fprintf(&b, "  signed up: %d / %d\n", a.SignedUpNum, a.PersonNum)
	}
	fmt.Fprintf(&b, "  registration: %s\n", signUpMethod(a.Method))
	if len(a.RegistrationTime) == 2 && a.RegistrationTime[0] != "" {
		fmt.Fprintf(&b, "  registration window: %s ~ %s\n", a.RegistrationTime[0], a.RegistrationTime[1])
	}
	fmt.Fprintf(&b, "  venue: %s\n", a.Address)
	if len(a.ActivityTime) == 2 {
		fmt.Fprintf(&b, "  time: %s ~ %s", a.ActivityTime[0], a.ActivityTime[1])
	}
	return strings.TrimRight(b.String(), "\n")
}

// detailParam encodes an activity id the way the site's detail URLs do:
// the decimal id space-padded to a multiple of three, then base64.
func detailParam(id int) string {
	s := strconv.Itoa(id)
	if pad := (3 - len(s)%3) % 3; pad > 0 {
		s += strings.Repeat(" ", pad)
	}
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func signUpMethod(method int) string {
	switch method {
	case 1:
		return "online (reviewed)"
	case 2:
		return "on site"
	case 3:
		return "online (first come, first served)"
	case 4:
		return "none required"
	case 5:
		return "online (random draw)"
	case 6:
		return "external site"
	default:
		return fmt.Sprintf("unknown (%d)", method)
	}
}
