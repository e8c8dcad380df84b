// internal/federated/microsoft.go
package federated

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"

	"qjob/internal/auth"
)

func init() {
	auth.RegisterFederated("microsoft", Microsoft)
}

const (
	msAuthority = "https://login.microsoftonline.com/common"
	// Public client id used for delegated sign-in; override per
	// deployment via env.
	defaultMSClientID = "4ccf3d69-5f43-4fca-87d7-380ec0e38c48"
	msScope           = "openid profile email offline_access"
)

type deviceCodeResponse struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
	Message         string `json:"message"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	IDToken     string `json:"id_token"`
	Error       string `json:"error"`
}

// Microsoft acquires delegated credentials through the OAuth2 device
// code flow and returns the account name plus the provider-issued
// token the job API accepts in place of a password.
func Microsoft(ctx context.Context) (string, string, error) {
	clientID := os.Getenv("QJOB_MS_CLIENT_ID")
	if clientID == "" {
		clientID = defaultMSClientID
	}
	dc, err := requestDeviceCode(ctx, clientID)
	if err != nil {
		return "", "", err
	}
	if dc.Message != "" {
		fmt.Println(dc.Message)
	} else {
		fmt.Printf("To sign in, open %s and enter the code %s\n", dc.VerificationURI, dc.UserCode)
	}
	tr, err := pollForToken(ctx, clientID, dc)
	if err != nil {
		return "", "", err
	}
	user := usernameFromIDToken(tr.IDToken)
	if user == "" {
		return "", "", &auth.ConfigurationError{Reason: "microsoft login returned no account name"}
	}
	return user, tr.AccessToken, nil
}

func requestDeviceCode(ctx context.Context, clientID string) (*deviceCodeResponse, error) {
	form := url.Values{"client_id": {clientID}, "scope": {msScope}}
	var dc deviceCodeResponse
	if err := postForm(ctx, msAuthority+"/oauth2/v2.0/devicecode", form, &dc); err != nil {
		return nil, err
	}
	if dc.DeviceCode == "" {
		return nil, fmt.Errorf("microsoft device authorization failed")
	}
	return &dc, nil
}

func pollForToken(ctx context.Context, clientID string, dc *deviceCodeResponse) (*tokenResponse, error) {
	interval := time.Duration(dc.Interval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	deadline := time.Now().Add(time.Duration(dc.ExpiresIn) * time.Second)
	form := url.Values{
		"client_id":   {clientID},
		"grant_type":  {"urn:ietf:params:oauth:grant-type:device_code"},
		"device_code": {dc.DeviceCode},
	}
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
		var tr tokenResponse
		if err := postForm(ctx, msAuthority+"/oauth2/v2.0/token", form, &tr); err != nil {
			return nil, err
		}
		switch tr.Error {
		case "":
			return &tr, nil
		case "authorization_pending":
			continue
		case "slow_down":
			interval += 5 * time.Second
		default:
			return nil, fmt.Errorf("microsoft login failed: %s", tr.Error)
		}
	}
	return nil, fmt.Errorf("microsoft login timed out waiting for device authorization")
}

func postForm(ctx context.Context, endpoint string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}

func usernameFromIDToken(raw string) string {
	if raw == "" {
		return ""
	}
	tok, err := jwt.ParseInsecure([]byte(raw))
	if err != nil {
		return ""
	}
	for _, claim := range []string{"preferred_username", "email", "upn"} {
		if v, ok := tok.Get(claim); ok {
			if s, _ := v.(string); s != "" {
				return s
			}
		}
	}
	return ""
}
