package google

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	"golang.org/x/sync/errgroup"

	appErrors "github.com/dvlab/dvlab-api/pkg/errors"
)

// Config configures the provider client.
type Config struct {
	ClientID        string
	ClientSecret    string
	APIKey          string
	RedirectURL     string
	Scopes          []string
	DiscoveryDocURL string
	OpenIDConfigURL string
	// CalendarEndpoint overrides the API base URL read from the discovery document.
	CalendarEndpoint string
	UserinfoEndpoint string
}

type discoveryDoc struct {
	RootURL     string `json:"rootUrl"`
	ServicePath string `json:"servicePath"`
	Resources   struct {
		Events struct {
			Methods map[string]json.RawMessage `json:"methods"`
		} `json:"events"`
	} `json:"resources"`
}

type openIDConfig struct {
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
}

// Client owns the provider-side setup: resource loading, API client
// initialization and the OAuth token client.
type Client struct {
	cfg        Config
	loader     *Loader
	httpClient *http.Client
	logger     *zap.Logger

	initMu  sync.Mutex
	mu      sync.RWMutex
	baseURL string
	oauth   *oauth2.Config
}

// NewClient wires a client around loader. Initialize must succeed before tokens can be requested.
func NewClient(cfg Config, loader *Loader, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if loader == nil {
		loader = NewLoader(httpClient, logger)
	}
	return &Client{cfg: cfg, loader: loader, httpClient: httpClient, logger: logger}
}

// Initialize loads both provider resources, initializes the API client and
// constructs the token client. Calls after a success are no-ops; a failure
// can be retried.
func (c *Client) Initialize(ctx context.Context) error {
	c.initMu.Lock()
	defer c.initMu.Unlock()
	if c.Ready() {
		return nil
	}

	if err := c.loadResources(ctx); err != nil {
		return appErrors.Wrap(err, appErrors.ErrProviderLoad.Code, appErrors.ErrProviderLoad.Status, appErrors.ErrProviderLoad.Message)
	}

	baseURL, err := c.initAPIClient()
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrProviderInit.Code, appErrors.ErrProviderInit.Status, appErrors.ErrProviderInit.Message)
	}

	oauthCfg := c.newTokenClient()

	c.mu.Lock()
	c.baseURL = baseURL
	c.oauth = oauthCfg
	c.mu.Unlock()

	c.logger.Info("google client initialized", zap.String("base_url", baseURL))
	return nil
}

// Ready reports whether the token client exists.
func (c *Client) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.oauth != nil
}

// AuthCodeURL returns the consent URL carrying state.
func (c *Client) AuthCodeURL(state string) (string, error) {
	oauthCfg := c.tokenClient()
	if oauthCfg == nil {
		return "", appErrors.ErrTokenClientNotReady
	}
	return oauthCfg.AuthCodeURL(state, oauth2.AccessTypeOnline, oauth2.SetAuthURLParam("include_granted_scopes", "true")), nil
}

// Exchange trades an authorization code for a token. opts may override the
// redirect_uri for codes issued to another client flow.
func (c *Client) Exchange(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error) {
	oauthCfg := c.tokenClient()
	if oauthCfg == nil {
		return nil, appErrors.ErrTokenClientNotReady
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	token, err := oauthCfg.Exchange(ctx, code, opts...)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}
	return token, nil
}

// WithToken binds the SDK source to a stored or freshly issued token.
func (c *Client) WithToken(ctx context.Context, token string) (EventSource, error) {
	if !c.Ready() {
		return nil, appErrors.ErrTokenClientNotReady
	}
	return NewSDKSource(ctx, c.httpClient, token, c.BaseURL())
}

// WithBearer returns a REST source for a token supplied by the app session.
// It does not require Initialize.
func (c *Client) WithBearer(token string) EventSource {
	return NewRESTSource(c.httpClient, c.BaseURL(), token, c.cfg.APIKey)
}

// BaseURL is the calendar API root, e.g. https://www.googleapis.com/calendar/v3/.
func (c *Client) BaseURL() string {
	if c.cfg.CalendarEndpoint != "" {
		return ensureSlash(c.cfg.CalendarEndpoint)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.baseURL != "" {
		return c.baseURL
	}
	return "https://www.googleapis.com/calendar/v3/"
}

func (c *Client) tokenClient() *oauth2.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.oauth
}

func (c *Client) loadResources(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, url := range []string{c.cfg.DiscoveryDocURL, c.cfg.OpenIDConfigURL} {
		g.Go(func() error {
			return c.loader.Ensure(gctx, url, func() bool { return c.loader.Loaded(url) })
		})
	}
	return g.Wait()
}

func (c *Client) initAPIClient() (string, error) {
	var doc discoveryDoc
	if err := json.Unmarshal(c.loader.Body(c.cfg.DiscoveryDocURL), &doc); err != nil {
		return "", fmt.Errorf("parse discovery document: %w", err)
	}
	if _, ok := doc.Resources.Events.Methods["list"]; !ok {
		return "", fmt.Errorf("discovery document does not describe events.list")
	}
	if doc.RootURL == "" {
		return "", fmt.Errorf("discovery document missing rootUrl")
	}
	return ensureSlash(doc.RootURL) + strings.TrimPrefix(ensureSlash(doc.ServicePath), "/"), nil
}

func (c *Client) newTokenClient() *oauth2.Config {
	endpoint := googleoauth.Endpoint
	var oidc openIDConfig
	if err := json.Unmarshal(c.loader.Body(c.cfg.OpenIDConfigURL), &oidc); err != nil {
		c.logger.Warn("openid configuration unreadable, using default endpoints", zap.Error(err))
	} else {
		if oidc.AuthorizationEndpoint != "" {
			endpoint.AuthURL = oidc.AuthorizationEndpoint
		}
		if oidc.TokenEndpoint != "" {
			endpoint.TokenURL = oidc.TokenEndpoint
		}
	}

	return &oauth2.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		RedirectURL:  c.cfg.RedirectURL,
		Scopes:       c.cfg.Scopes,
		Endpoint:     endpoint,
	}
}

func ensureSlash(s string) string {
	if strings.HasSuffix(s, "/") {
		return s
	}
	return s + "/"
}
