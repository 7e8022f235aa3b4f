package commerce

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/mihaimyh/billingsync/pkg/billing"
)

const (
	defaultMaxAttempts = 5
	defaultRetryDelay  = time.Second
	defaultHTTPTimeout = 10 * time.Second
)

// Config configures the commerce platform client.
type Config struct {
	// APIURL is the API root, e.g. "https://api.europe-west1.gcp.commercetools.com".
	APIURL string
	// AuthURL is the auth root serving /oauth/token.
	AuthURL    string
	ProjectKey string

	ClientID     string
	ClientSecret string
	Scopes       []string

	// HTTPClient is the base client used for both token and API requests.
	HTTPClient *http.Client

	// MaxAttempts and RetryDelay bound fetch retries. Defaults are 5 and 1s.
	MaxAttempts int
	RetryDelay  time.Duration

	Logger billing.Logger
}

// Client fetches entities by id from the commerce platform.
type Client struct {
	apiURL      string
	projectKey  string
	httpClient  *http.Client
	maxAttempts int
	retryDelay  time.Duration
	logger      billing.Logger
}

// NewClient creates a client authenticated with OAuth2 client credentials.
func NewClient(cfg Config) (*Client, error) {
	apiURL := strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	authURL := strings.TrimRight(strings.TrimSpace(cfg.AuthURL), "/")
	if apiURL == "" || authURL == "" || cfg.ProjectKey == "" || cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, billing.ConfigError("commerce.NewClient", billing.ErrNotConfigured)
	}

	base := cfg.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: defaultHTTPTimeout}
	}

	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     authURL + "/oauth/token",
		Scopes:       cfg.Scopes,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	httpClient := cc.Client(context.WithValue(context.Background(), oauth2.HTTPClient, base))
	httpClient.Timeout = base.Timeout

	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}

	logger := cfg.Logger
	if logger == nil {
		logger = &billing.NoopLogger{}
	}

	return &Client{
		apiURL:      apiURL,
		projectKey:  cfg.ProjectKey,
		httpClient:  httpClient,
		maxAttempts: maxAttempts,
		retryDelay:  retryDelay,
		logger:      logger,
	}, nil
}

// ProjectKey returns the configured project key.
func (c *Client) ProjectKey() string {
	return c.projectKey
}

// GetProductProjection fetches the published projection of a product.
// It returns (nil, nil) when the product does not exist.
func (c *Client) GetProductProjection(ctx context.Context, id string) (*ProductProjection, error) {
	var p ProductProjection
	found, err := c.fetch(ctx, "commerce.GetProductProjection", "product-projections", id, &p)
	if err != nil || !found {
		return nil, err
	}
	return &p, nil
}

// GetCustomer fetches a customer. It returns (nil, nil) when absent.
func (c *Client) GetCustomer(ctx context.Context, id string) (*Customer, error) {
	var cu Customer
	found, err := c.fetch(ctx, "commerce.GetCustomer", "customers", id, &cu)
	if err != nil || !found {
		return nil, err
	}
	return &cu, nil
}

// GetOrder fetches an order. It returns (nil, nil) when absent.
func (c *Client) GetOrder(ctx context.Context, id string) (*Order, error) {
	var o Order
	found, err := c.fetch(ctx, "commerce.GetOrder", "orders", id, &o)
	if err != nil || !found {
		return nil, err
	}
	return &o, nil
}

// FetchEvent loads the entity ref points to and wraps it in the event of
// its kind. It returns (nil, nil) when the entity does not exist.
func (c *Client) FetchEvent(ctx context.Context, ref ResourceIdentifier) (*Event, error) {
	var ev Event
	switch ref.TypeID {
	case ResourceProduct:
		p, err := c.GetProductProjection(ctx, ref.ID)
		if err != nil || p == nil {
			return nil, err
		}
		ev = ProductPublished(p)
	case ResourceCustomer:
		cu, err := c.GetCustomer(ctx, ref.ID)
		if err != nil || cu == nil {
			return nil, err
		}
		ev = CustomerCreated(cu)
	case ResourceOrder:
		o, err := c.GetOrder(ctx, ref.ID)
		if err != nil || o == nil {
			return nil, err
		}
		ev = OrderCreated(o)
	default:
		return nil, billing.ValidationError("commerce.FetchEvent", fmt.Errorf("%w: %q", ErrUnknownResource, ref.TypeID))
	}
	return &ev, nil
}

// fetch retries the lookup up to maxAttempts times. Entities may become
// readable a moment after their notification is sent, so a 404 is retried
// as well and only reported as absence once attempts run out.
func (c *Client) fetch(ctx context.Context, op, collection, id string, out interface{}) (bool, error) {
	endpoint := fmt.Sprintf("%s/%s/%s/%s", c.apiURL, url.PathEscape(c.projectKey), collection, url.PathEscape(id))

	var lastErr error
	notFound := false
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		status, body, err := c.get(ctx, endpoint)
		switch {
		case err != nil:
			var be *billing.Error
			if errors.As(err, &be) && be.Kind == billing.KindAuth {
				return false, err
			}
			lastErr = billing.RemoteError(op, 0, err)
			notFound = false
		case status == http.StatusNotFound:
			lastErr = nil
			notFound = true
		case status < 200 || status >= 300:
			lastErr = billing.RemoteError(op, status, fmt.Errorf("%w: %s", billing.ErrRemote, strings.TrimSpace(string(body))))
			notFound = false
		default:
			if err := json.Unmarshal(body, out); err != nil {
				return false, billing.RemoteError(op, status, fmt.Errorf("%w: %v", billing.ErrInvalidPayload, err))
			}
			return true, nil
		}

		if lastErr != nil && !billing.IsRetryable(lastErr) {
			return false, lastErr
		}
		if attempt == c.maxAttempts {
			break
		}

		c.logger.Info("commerce fetch attempt failed, retrying",
			billing.F("operation", op),
			billing.F("id", id),
			billing.F("attempt", attempt))

		if err := sleepContext(ctx, c.retryDelay); err != nil {
			return false, billing.RemoteError(op, 0, err)
		}
	}

	if notFound {
		c.logger.Warn("commerce entity not found", billing.F("operation", op), billing.F("id", id))
		return false, nil
	}
	return false, fmt.Errorf("all %d attempts failed: %w", c.maxAttempts, lastErr)
}

func (c *Client) get(ctx context.Context, endpoint string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			return 0, nil, billing.AuthError("commerce.token", fmt.Errorf("%w: %v", billing.ErrUnauthorized, err))
		}
		return 0, nil, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return res.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return res.StatusCode, body, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
