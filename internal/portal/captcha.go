package portal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// CaptchaChallenge is the graphical challenge produced by the portal for a
// single login attempt. Consumed once, discarded after submission whether
// accepted or rejected.
type CaptchaChallenge struct {
	// ID is the portal-assigned challenge uuid.
	ID string
	// Image is the raw captcha image bytes.
	Image []byte
	// Path is where the image was written for out-of-band inspection,
	// empty when no cache dir is configured.
	Path string
}

// Solver turns a captcha challenge into solved text. It may block on human
// input or call an automated recognizer; returning an error aborts the
// login attempt.
type Solver func(ctx context.Context, challenge *CaptchaChallenge) (string, error)

// fetchCaptcha downloads the captcha image for a challenge uuid and writes
// it to the cache dir when one is configured.
func (c *Client) fetchCaptcha(ctx context.Context, uuid, cacheDir string) (*CaptchaChallenge, error) {
	captchaURL := fmt.Sprintf("%s?uuid=%s&t=%d", c.cfg.CaptchaURL, uuid, time.Now().UnixNano())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, captchaURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Referer", c.cfg.CaptchaURL)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch captcha: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("captcha endpoint returned status %d", resp.StatusCode)
	}

	image, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read captcha image: %w", err)
	}

	challenge := &CaptchaChallenge{ID: uuid, Image: image}

	if cacheDir != "" {
		if err := os.MkdirAll(cacheDir, 0755); err == nil {
			path := filepath.Join(cacheDir, fmt.Sprintf("captcha_%s.png", ulid.Make().String()))
			if err := os.WriteFile(path, image, 0644); err == nil {
				challenge.Path = path
			} else {
				c.log.Warn().Err(err).Msg("failed to write captcha image")
			}
		}
	}

	return challenge, nil
}

// PromptSolver returns a Solver that prints the captcha image location and
// reads the answer from in, typically os.Stdin.
func PromptSolver(in io.Reader, out io.Writer) Solver {
	reader := bufio.NewReader(in)
	return func(ctx context.Context, challenge *CaptchaChallenge) (string, error) {
		if challenge.Path != "" {
			fmt.Fprintf(out, "Captcha image saved to: %s\n", challenge.Path)
		}
		fmt.Fprint(out, "Enter captcha: ")

		type answer struct {
			text string
			err  error
		}
		ch := make(chan answer, 1)
		go func() {
			line, err := reader.ReadString('\n')
			ch <- answer{text: strings.TrimSpace(line), err: err}
		}()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case a := <-ch:
			if a.err != nil {
				return "", fmt.Errorf("failed to read captcha answer: %w", a.err)
			}
			return a.text, nil
		}
	}
}

// StaticSolver returns a Solver that always answers with text. Used for
// automated recognizers with a fixed output and in tests.
func StaticSolver(text string) Solver {
	return func(ctx context.Context, challenge *CaptchaChallenge) (string, error) {
		return text, nil
	}
}
