package worldcat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// userAgent identifies this client on every request.
const userAgent = "wcbatch/0.1"

// Client issues bulk operations against the WorldCat Metadata API. Requests
// are authenticated by the TokenManager, tagged with a transaction ID, and
// validated for a 2xx status before their bodies are surfaced. Calls are
// strictly sequential; the client carries no locking.
type Client struct {
	baseURL       string
	searchBaseURL string
	httpClient    *http.Client
	tokens        *TokenManager
	txn           TransactionIDBuilder
	logger        *slog.Logger

	// requestCount is the number of API responses received over this
	// client's lifetime, the run summary's "API requests made" figure.
	requestCount int
}

// NewClient creates a Metadata API client. baseURL hosts the bulk bib and
// holdings endpoints; searchBaseURL hosts brief-bib search.
func NewClient(
	baseURL, searchBaseURL string,
	httpClient *http.Client,
	tokens *TokenManager,
	txn TransactionIDBuilder,
	logger *slog.Logger,
) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		searchBaseURL: strings.TrimRight(searchBaseURL, "/"),
		httpClient:    httpClient,
		tokens:        tokens,
		txn:           txn,
		logger:        logger,
	}
}

// RequestCount returns the number of API responses received so far.
func (c *Client) RequestCount() int {
	return c.requestCount
}

// CheckControlNumbers asks for the current OCLC number of each listed number.
//
//	GET {base}/bib/checkcontrolnumbers?oclcNumbers={csv}&transactionID={id}
func (c *Client) CheckControlNumbers(ctx context.Context, oclcNumbers []string) ([]byte, error) {
	u := fmt.Sprintf("%s/bib/checkcontrolnumbers?oclcNumbers=%s",
		c.baseURL, strings.Join(oclcNumbers, ","))

	return c.do(ctx, http.MethodGet, c.withTransactionID(u))
}

// SetHoldings sets the institution's holding on each listed number.
//
//	POST {base}/ih/datalist?oclcNumbers={csv}&transactionID={id}
func (c *Client) SetHoldings(ctx context.Context, oclcNumbers []string) ([]byte, error) {
	u := fmt.Sprintf("%s/ih/datalist?oclcNumbers=%s",
		c.baseURL, strings.Join(oclcNumbers, ","))

	return c.do(ctx, http.MethodPost, c.withTransactionID(u))
}

// UnsetHoldings removes the institution's holding on each listed number.
// cascade 0 aborts per record when local holdings records exist; cascade 1
// forces removal.
//
//	DELETE {base}/ih/datalist?oclcNumbers={csv}&cascade={0|1}&transactionID={id}
func (c *Client) UnsetHoldings(ctx context.Context, oclcNumbers []string, cascade int) ([]byte, error) {
	u := fmt.Sprintf("%s/ih/datalist?oclcNumbers=%s&cascade=%d",
		c.baseURL, strings.Join(oclcNumbers, ","), cascade)

	return c.do(ctx, http.MethodDelete, c.withTransactionID(u))
}

// SearchBriefBibs searches brief bibliographic records. heldBySymbol, when
// non-empty, restricts results to that institution's holdings. The limit of
// 2 is deliberate: the caller only distinguishes zero, one, or many matches.
//
//	GET {searchBase}/brief-bibs?q={query}&limit=2[&heldBySymbol={symbol}]
func (c *Client) SearchBriefBibs(ctx context.Context, query, heldBySymbol string) ([]byte, error) {
	u := fmt.Sprintf("%s/brief-bibs?q=%s&limit=2", c.searchBaseURL, url.QueryEscape(query))

	if heldBySymbol != "" {
		u += "&heldBySymbol=" + url.QueryEscape(heldBySymbol)
	}

	return c.do(ctx, http.MethodGet, u)
}

// withTransactionID appends the transactionID parameter when one is
// configured. The URL already carries a query string at this point.
func (c *Client) withTransactionID(u string) string {
	if id := c.txn.Build(); id != "" {
		return u + "&transactionID=" + id
	}

	return u
}

// do executes one authenticated request. A 401 inside the request function
// surfaces as ErrAuthExpired so the token manager can renew and retry once;
// a second 401 propagates. On receipt the request counter is incremented,
// then non-2xx statuses fail with *HTTPError carrying status and body.
func (c *Client) do(ctx context.Context, method, rawURL string) ([]byte, error) {
	resp, err := c.tokens.ExecuteWithAuth(ctx, func(accessToken string) (*http.Response, error) {
		req, reqErr := http.NewRequestWithContext(ctx, method, rawURL, nil)
		if reqErr != nil {
			return nil, fmt.Errorf("worldcat: creating request: %w", reqErr)
		}

		req.Header.Set("Authorization", c.tokens.TokenType()+" "+accessToken)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", userAgent)

		r, doErr := c.httpClient.Do(req)
		if doErr != nil {
			return nil, &ConnectionError{Err: doErr}
		}

		if r.StatusCode == http.StatusUnauthorized {
			io.Copy(io.Discard, r.Body) //nolint:errcheck // draining before close
			r.Body.Close()

			return nil, ErrAuthExpired
		}

		return r, nil
	})
	if err != nil {
		// A 401 that survives the one token renewal is a real authorization
		// failure, not an expired token.
		if errors.Is(err, ErrAuthExpired) {
			return nil, &HTTPError{StatusCode: http.StatusUnauthorized}
		}

		return nil, err
	}

	c.requestCount++

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ConnectionError{Err: err}
	}

	c.logger.Debug("API response",
		slog.String("method", method),
		slog.String("url", rawURL),
		slog.Int("status", resp.StatusCode),
	)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	return body, nil
}
