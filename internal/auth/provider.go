// internal/auth/provider.go
package auth

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// CredentialProvider supplies identity inputs. The authenticator has
// no direct dependency on any input mechanism; tests substitute a
// scripted provider.
type CredentialProvider interface {
	Username() (string, error)
	Password() (string, error)
	MFACode() (string, error)
}

// PromptProvider reads credentials interactively: username and MFA
// code from stdin, password without echo.
type PromptProvider struct {
	in *bufio.Reader
}

func NewPromptProvider() *PromptProvider {
	return &PromptProvider{in: bufio.NewReader(os.Stdin)}
}

func (p *PromptProvider) Username() (string, error) {
	fmt.Print("Enter your email: ")
	return p.readLine()
}

func (p *PromptProvider) Password() (string, error) {
	fmt.Print("Enter your password: ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (p *PromptProvider) MFACode() (string, error) {
	fmt.Print("Enter your MFA verification code: ")
	return p.readLine()
}

func (p *PromptProvider) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// StaticProvider returns pre-set values; used by callers that manage
// credentials themselves and by tests.
type StaticProvider struct {
	User string
	Pass string
	MFA  string
}

func (s StaticProvider) Username() (string, error) { return s.User, nil }
func (s StaticProvider) Password() (string, error) { return s.Pass, nil }
func (s StaticProvider) MFACode() (string, error)  { return s.MFA, nil }
