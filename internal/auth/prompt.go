package auth

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/sjtu-chatbot/campusd/internal/portal"
)

// promptCredentials reads a username and password interactively. The
// password is read without echo when in is a terminal.
func promptCredentials(in *os.File, out io.Writer) (portal.Credentials, error) {
	reader := bufio.NewReader(in)

	fmt.Fprint(out, "Username: ")
	username, err := reader.ReadString('\n')
	if err != nil {
		return portal.Credentials{}, fmt.Errorf("failed to read username: %w", err)
	}
	username = strings.TrimSpace(username)

	fmt.Fprint(out, "Password: ")
	var password string
	if term.IsTerminal(int(in.Fd())) {
		raw, err := term.ReadPassword(int(in.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return portal.Credentials{}, fmt.Errorf("failed to read password: %w", err)
		}
		password = string(raw)
	} else {
		line, err := reader.ReadString('\n')
		if err != nil {
			return portal.Credentials{}, fmt.Errorf("failed to read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}

	return portal.Credentials{Username: username, Password: password}, nil
}
