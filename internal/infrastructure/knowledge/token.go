package knowledge

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v3"
	"github.com/go-jose/go-jose/v3/jwt"
)

const jwtBearerGrant = "urn:ietf:params:oauth:grant-type:jwt-bearer"

// Session is an access token and the instance it is valid for.
type Session struct {
	AccessToken string `json:"access_token"`
	InstanceURL string `json:"instance_url"`
}

// TokenSource exchanges signed JWT assertions for sessions and caches the
// current one until it is invalidated.
type TokenSource struct {
	loginURL string
	clientID string
	username string
	signer   jose.Signer
	client   *http.Client
	clock    func() time.Time

	mu      sync.Mutex
	session *Session
}

// ParsePrivateKey reads an RSA key in PKCS#1 or PKCS#8 PEM form.
func ParsePrivateKey(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block in private key")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is %T, not RSA", parsed)
	}
	return key, nil
}

// NewTokenSource signs assertions with key. Sandbox orgs log in through the
// test host instead of the login host.
func NewTokenSource(cfg Config, key *rsa.PrivateKey, client *http.Client) (*TokenSource, error) {
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.RS256, Key: key}, (&jose.SignerOptions{}).WithType("JWT"))
	if err != nil {
		return nil, fmt.Errorf("create signer: %w", err)
	}

	loginURL := strings.TrimSuffix(cfg.LoginURL, "/")
	if cfg.Sandbox {
		loginURL = strings.Replace(loginURL, "login", "test", 1)
	}
	return &TokenSource{
		loginURL: loginURL,
		clientID: cfg.ClientID,
		username: cfg.Username,
		signer:   signer,
		client:   client,
		clock:    time.Now,
	}, nil
}

// Session returns the cached session or logs in.
func (t *TokenSource) Session(ctx context.Context) (Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.session != nil {
		return *t.session, nil
	}
	session, err := t.login(ctx)
	if err != nil {
		return Session{}, err
	}
	t.session = &session
	return session, nil
}

// Invalidate drops the cached session so the next call logs in again.
func (t *TokenSource) Invalidate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.session = nil
}

func (t *TokenSource) assertion() (string, error) {
	now := t.clock()
	claims := jwt.Claims{
		Issuer:   t.clientID,
		Subject:  t.username,
		Audience: jwt.Audience{t.loginURL},
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(now.Add(3 * time.Minute)),
	}
	return jwt.Signed(t.signer).Claims(claims).CompactSerialize()
}

func (t *TokenSource) login(ctx context.Context) (Session, error) {
	assertion, err := t.assertion()
	if err != nil {
		return Session{}, fmt.Errorf("sign assertion: %w", err)
	}

	form := url.Values{
		"grant_type": {jwtBearerGrant},
		"assertion":  {assertion},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.loginURL+"/services/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return Session{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return Session{}, fmt.Errorf("request token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var oauthErr struct {
			Error       string `json:"error"`
			Description string `json:"error_description"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(raw, &oauthErr) == nil && oauthErr.Error != "" {
			return Session{}, fmt.Errorf("token exchange failed with %d: %s: %s", resp.StatusCode, oauthErr.Error, oauthErr.Description)
		}
		return Session{}, fmt.Errorf("token exchange failed with %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var session Session
	if err = json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return Session{}, fmt.Errorf("decode token response: %w", err)
	}
	if session.AccessToken == "" || session.InstanceURL == "" {
		return Session{}, errors.New("token response without access token or instance url")
	}
	session.InstanceURL = strings.TrimSuffix(session.InstanceURL, "/")
	return session, nil
}
