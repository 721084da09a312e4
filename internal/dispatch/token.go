package dispatch

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"keepalive/internal/httpc"
	"keepalive/internal/models"

	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
)

// NewTokenSource returns the token source for the configured auth mode.
// Installation tokens are cached until shortly before they expire.
func NewTokenSource(cfg models.DispatchConfig, client *resty.Client) (oauth2.TokenSource, error) {
	switch cfg.Auth {
	case models.DispatchAuthToken, "":
		if cfg.Token == "" {
			return nil, errors.New("dispatch token is empty")
		}
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token, TokenType: "Bearer"}), nil
	case models.DispatchAuthGitHubApp:
		key, err := loadPrivateKey(cfg.App)
		if err != nil {
			return nil, err
		}
		src := &appTokenSource{
			appID:          cfg.App.AppID,
			installationID: cfg.App.InstallationID,
			key:            key,
			client:         client,
			now:            time.Now,
		}
		return oauth2.ReuseTokenSource(nil, src), nil
	default:
		return nil, fmt.Errorf("unsupported dispatch auth mode: %s", cfg.Auth)
	}
}

func loadPrivateKey(app models.GitHubAppConfig) (*rsa.PrivateKey, error) {
	pemBytes := []byte(app.PrivateKey)
	if len(pemBytes) == 0 {
		data, err := os.ReadFile(app.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read github app private key: %w", err)
		}
		pemBytes = data
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("parse github app private key: %w", err)
	}
	return key, nil
}

// appTokenSource exchanges a short-lived app JWT for an installation token.
type appTokenSource struct {
	appID          string
	installationID string
	key            *rsa.PrivateKey
	client         *resty.Client
	now            func() time.Time
}

// appJWT signs the RS256 token GitHub expects from an app. iat is backdated
// a minute to tolerate clock drift; GitHub rejects exp beyond ten minutes.
func (s *appTokenSource) appJWT() (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Issuer:    s.appID,
		IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
		ExpiresAt: jwt.NewNumericDate(now.Add(9 * time.Minute)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.key)
}

func (s *appTokenSource) Token() (*oauth2.Token, error) {
	signed, err := s.appJWT()
	if err != nil {
		return nil, fmt.Errorf("sign github app jwt: %w", err)
	}

	resp, err := s.client.R().
		SetContext(context.Background()).
		SetAuthToken(signed).
		SetHeader("Accept", githubAccept).
		SetHeader("X-GitHub-Api-Version", githubAPIVersion).
		SetPathParam("installation_id", s.installationID).
		Post("/app/installations/{installation_id}/access_tokens")
	if err != nil {
		return nil, fmt.Errorf("request installation token: %w", err)
	}
	if resp.StatusCode() != http.StatusCreated {
		return nil, fmt.Errorf("request installation token: %w", &httpc.StatusError{StatusCode: resp.StatusCode(), Body: resp.String()})
	}

	body := gjson.ParseBytes(resp.Body())
	token := body.Get("token").String()
	if token == "" {
		return nil, errors.New("installation token response has no token")
	}

	tok := &oauth2.Token{AccessToken: token, TokenType: "Bearer"}
	if exp := body.Get("expires_at"); exp.Exists() {
		if t, err := time.Parse(time.RFC3339, exp.String()); err == nil {
			tok.Expiry = t
		}
	}
	return tok, nil
}
