package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/mrajeshsfdc/sfdoc/internal/domain"
	"github.com/mrajeshsfdc/sfdoc/internal/ports"
)

// Config addresses the knowledge base org and maps article fields.
type Config struct {
	LoginURL       string `yaml:"login_url" toml:"login_url"`
	Sandbox        bool   `yaml:"sandbox" toml:"sandbox"`
	ClientID       string `yaml:"client_id" toml:"client_id"`
	Username       string `yaml:"username" toml:"username"`
	PrivateKeyFile string `yaml:"private_key_file" toml:"private_key_file"`
	PrivateKey     string `yaml:"private_key" toml:"private_key"`
	APIVersion     string `yaml:"api_version" toml:"api_version"`
	Language       string `yaml:"language" toml:"language"`

	ArticleType         string `yaml:"article_type" toml:"article_type"`
	BodyField           string `yaml:"body_field" toml:"body_field"`
	AuthorField         string `yaml:"author_field" toml:"author_field"`
	AuthorOverrideField string `yaml:"author_override_field" toml:"author_override_field"`
	// TextIndexField receives a copy of the body when set.
	TextIndexField string `yaml:"text_index_field" toml:"text_index_field"`
}

// NewHTTPClient returns a client whose requests are traced.
func NewHTTPClient() *http.Client {
	return &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
}

var _ ports.ArticleStore = (*Client)(nil)

// Client talks to the knowledge base REST API.
type Client struct {
	cfg    Config
	http   *http.Client
	tokens *TokenSource
	logger *slog.Logger
}

// NewClient builds a client authenticating through tokens.
func NewClient(cfg Config, httpClient *http.Client, tokens *TokenSource, logger *slog.Logger) *Client {
	if cfg.Language == "" {
		cfg.Language = "en_US"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		http:   httpClient,
		tokens: tokens,
		logger: logger.With("component", "knowledge"),
	}
}

type apiError struct {
	Message   string `json:"message"`
	ErrorCode string `json:"errorCode"`
}

func (c *Client) dataPath(path string) string {
	return "/services/data/" + c.cfg.APIVersion + path
}

// do sends one API call. A 401 invalidates the session and the call is
// retried once with a fresh one.
func (c *Client) do(ctx context.Context, op, target, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encode %s request: %w", op, err)
		}
	}

	for attempt := 0; ; attempt++ {
		session, err := c.tokens.Session(ctx)
		if err != nil {
			return &domain.StoreError{Op: op, Target: target, Err: err}
		}

		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, session.InstanceURL+path, body)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+session.AccessToken)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return &domain.StoreError{Op: op, Target: target, Err: err}
		}
		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			c.logger.DebugContext(ctx, "session expired, logging in again", slog.String("op", op))
			c.tokens.Invalidate()
			continue
		}

		err = decode(resp, op, target, out)
		_ = resp.Body.Close()
		return err
	}
}

func decode(resp *http.Response, op, target string, out any) error {
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		cause := errors.New(strings.TrimSpace(string(raw)))
		var apiErrs []apiError
		if json.Unmarshal(raw, &apiErrs) == nil && len(apiErrs) > 0 {
			cause = fmt.Errorf("%s: %s", apiErrs[0].ErrorCode, apiErrs[0].Message)
		}
		if resp.StatusCode == http.StatusNotFound {
			cause = fmt.Errorf("%w: %w", domain.ErrNotFound, cause)
		}
		return &domain.StoreError{Op: op, Target: target, Status: resp.StatusCode, Err: cause}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &domain.StoreError{Op: op, Target: target, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

type queryResult struct {
	TotalSize      int      `json:"totalSize"`
	Done           bool     `json:"done"`
	NextRecordsURL string   `json:"nextRecordsUrl"`
	Records        []record `json:"records"`
}

// query runs a SOQL statement and follows pagination.
func (c *Client) query(ctx context.Context, op, target, soql string) ([]record, error) {
	var records []record
	path := c.dataPath("/query?q=" + url.QueryEscape(soql))
	for path != "" {
		var page queryResult
		if err := c.do(ctx, op, target, http.MethodGet, path, nil, &page); err != nil {
			return nil, err
		}
		records = append(records, page.Records...)
		path = ""
		if !page.Done {
			path = page.NextRecordsURL
		}
	}
	return records, nil
}

func (c *Client) queryOne(ctx context.Context, op, target, soql string) (*domain.ArticleRecord, error) {
	records, err := c.query(ctx, op, target, soql)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	rec := c.toArticle(records[0])
	return &rec, nil
}

func (c *Client) QueryBySlug(ctx context.Context, slug string, status domain.PublishStatus) (*domain.ArticleRecord, error) {
	return c.queryOne(ctx, "query article", slug, c.selectVersions(
		fmt.Sprintf("UrlName = %s AND PublishStatus = %s", quote(slug), quote(string(status))),
	))
}

func (c *Client) GetVersion(ctx context.Context, versionID string) (domain.ArticleRecord, error) {
	rec, err := c.queryOne(ctx, "get version", versionID, c.selectVersions("Id = "+quote(versionID)))
	if err != nil {
		return domain.ArticleRecord{}, err
	}
	if rec == nil {
		return domain.ArticleRecord{}, &domain.StoreError{Op: "get version", Target: versionID, Status: http.StatusNotFound, Err: domain.ErrNotFound}
	}
	return *rec, nil
}

func (c *Client) FindDraft(ctx context.Context, articleID string) (*domain.ArticleRecord, error) {
	return c.queryOne(ctx, "find draft", articleID, c.selectVersions(
		fmt.Sprintf("KnowledgeArticleId = %s AND PublishStatus = %s", quote(articleID), quote(string(domain.PublishDraft))),
	))
}

func (c *Client) ListPublished(ctx context.Context) ([]domain.ArticleRecord, error) {
	records, err := c.query(ctx, "list published", c.cfg.ArticleType, c.selectVersions(
		"PublishStatus = "+quote(string(domain.PublishOnline)),
	))
	if err != nil {
		return nil, err
	}
	out := make([]domain.ArticleRecord, 0, len(records))
	for _, r := range records {
		out = append(out, c.toArticle(r))
	}
	return out, nil
}

type created struct {
	ID string `json:"id"`
}

func (c *Client) CreateDraft(ctx context.Context, fields domain.ArticleFields) (string, error) {
	data := c.fieldData(fields)
	data["Language"] = c.cfg.Language

	var res created
	if err := c.do(ctx, "create draft", fields.Slug, http.MethodPost, c.dataPath("/sobjects/"+c.cfg.ArticleType+"/"), data, &res); err != nil {
		return "", err
	}
	c.logger.DebugContext(ctx, "created draft", slog.String("slug", fields.Slug), slog.String("version_id", res.ID))
	return res.ID, nil
}

func (c *Client) UpdateDraft(ctx context.Context, versionID string, fields domain.ArticleFields) error {
	return c.do(ctx, "update draft", versionID, http.MethodPatch, c.dataPath("/sobjects/"+c.cfg.ArticleType+"/"+versionID), c.fieldData(fields), nil)
}

func (c *Client) CreateDraftCopy(ctx context.Context, articleID string) (string, error) {
	var res created
	err := c.do(ctx, "copy article", articleID, http.MethodPost, c.dataPath("/knowledgeManagement/articleVersions/masterVersions"),
		map[string]string{"articleId": articleID}, &res)
	if err != nil {
		return "", err
	}
	return res.ID, nil
}

func (c *Client) SetPublishStatus(ctx context.Context, versionID string, status domain.PublishStatus) error {
	return c.do(ctx, "set publish status", versionID, http.MethodPatch, c.dataPath("/knowledgeManagement/articleVersions/masterVersions/"+versionID),
		map[string]string{"publishStatus": string(status)}, nil)
}

func (c *Client) DeleteDraft(ctx context.Context, versionID string) error {
	return c.do(ctx, "delete draft", versionID, http.MethodDelete, c.dataPath("/knowledgeManagement/articleVersions/masterVersions/"+versionID), nil, nil)
}
