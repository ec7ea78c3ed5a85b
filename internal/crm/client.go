package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Client is a record store backed by the CRM platform's REST API.
type Client struct {
	// apiVersion is the REST API version path segment.
	apiVersion string

	// config holds the client configuration.
	config Config

	// httpClient is the HTTP client for making requests.
	httpClient *http.Client

	// instanceURL is the base URL of the org.
	instanceURL string

	// tokenManager handles OAuth token refresh.
	tokenManager *tokenManager
}

// Config holds the required configuration for creating a Client.
type Config struct {
	// ClientID is the OAuth client identifier (connected app consumer key).
	ClientID string

	// ClientSecret is the OAuth client secret.
	ClientSecret string

	// InstanceURL is the base URL of the org (e.g., https://example.my.salesforce.com).
	InstanceURL string

	// TokenStore provides access to OAuth tokens.
	TokenStore TokenStore
}

// apiError is an error entry returned by the REST API.
type apiError struct {
	// Fields lists the fields involved.
	Fields []string `json:"fields"`

	// Message is the error message.
	Message string `json:"message"`

	// StatusCode is the platform error code (e.g., REQUIRED_FIELD_MISSING).
	StatusCode string `json:"statusCode"`
}

// collectionRequest is the body of a composite collection create or update.
type collectionRequest struct {
	// AllOrNone rolls back the whole request when any record fails.
	AllOrNone bool `json:"allOrNone"`

	// Records are the records to write, each carrying its type in "attributes".
	Records []map[string]any `json:"records"`
}

// queryResponse represents one page of query results.
type queryResponse struct {
	// Done is false when more pages are available.
	Done bool `json:"done"`

	// NextRecordsURL is the relative URL of the next page.
	NextRecordsURL string `json:"nextRecordsUrl"`

	// Records contains the page of raw records.
	Records []json.RawMessage `json:"records"`

	// TotalSize is the total number of matching records.
	TotalSize int `json:"totalSize"`
}

// saveResult is the per-record outcome of a composite collection write.
type saveResult struct {
	// Errors lists why the record failed.
	Errors []apiError `json:"errors"`

	// ID is the record identifier.
	ID string `json:"id"`

	// Success indicates the record was written.
	Success bool `json:"success"`
}

// validate checks that all required Config fields are set.
func (c *Config) validate() error {
	var errs []error
	if c.ClientID == "" {
		errs = append(errs, errors.New("client ID is required"))
	}
	if c.ClientSecret == "" {
		errs = append(errs, errors.New("client secret is required"))
	}
	if c.InstanceURL == "" {
		errs = append(errs, errors.New("instance URL is required"))
	}
	if c.TokenStore == nil {
		errs = append(errs, errors.New("token store is required"))
	}
	return errors.Join(errs...)
}

// NewClient creates a new CRM REST API client.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	o := defaultOptions()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, fmt.Errorf("applying option: %w", err)
		}
	}

	httpClient := o.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: o.timeout}
	}

	tm := newTokenManager(cfg.ClientID, cfg.ClientSecret, o.tokenURL, cfg.TokenStore, httpClient)

	return &Client{
		apiVersion:   o.apiVersion,
		config:       cfg,
		httpClient:   httpClient,
		instanceURL:  strings.TrimRight(cfg.InstanceURL, "/"),
		tokenManager: tm,
	}, nil
}

// Delete deletes records of the given object type by ID.
func (c *Client) Delete(ctx context.Context, object ObjectType, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	params := url.Values{}
	params.Set("ids", strings.Join(ids, ","))
	params.Set("allOrNone", "false")
	reqURL := fmt.Sprintf("%s?%s", c.collectionURL(), params.Encode())

	var results []saveResult
	if err := c.doRequest(ctx, http.MethodDelete, reqURL, nil, &results); err != nil {
		return WriteFailed(fmt.Sprintf("deleting %s records", object), err)
	}
	if len(results) != len(ids) {
		return WriteFailed("deleting records", fmt.Errorf("expected %d results, got %d", len(ids), len(results)))
	}

	var failures []RecordFailure
	for i, res := range results {
		if !res.Success {
			failures = append(failures, newRecordFailure(i, ids[i], res.Errors))
		}
	}
	if len(failures) > 0 {
		return &BatchError{Failures: failures, Op: "delete", Total: len(ids)}
	}

	return nil
}

// Find returns the records matching the query, following pagination until the limit is reached.
func (c *Client) Find(ctx context.Context, q Query) ([]Record, error) {
	soql, err := buildSOQL(q)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("q", soql)
	reqURL := fmt.Sprintf("%s/services/data/%s/query?%s", c.instanceURL, c.apiVersion, params.Encode())

	var records []Record
	for reqURL != "" {
		var result queryResponse
		if err := c.doRequest(ctx, http.MethodGet, reqURL, nil, &result); err != nil {
			return nil, fmt.Errorf("querying %s: %w", q.Object, err)
		}

		for _, raw := range result.Records {
			rec, err := NewRecord(q.Object)
			if err != nil {
				return nil, err
			}
			if err := json.Unmarshal(raw, rec); err != nil {
				return nil, fmt.Errorf("decoding %s record: %w", q.Object, err)
			}
			records = append(records, rec)
			if q.Limit > 0 && len(records) >= q.Limit {
				return records, nil
			}
		}

		reqURL = ""
		if !result.Done && result.NextRecordsURL != "" {
			reqURL = c.instanceURL + result.NextRecordsURL
		}
	}

	return records, nil
}

// Insert creates the records and assigns their generated IDs.
func (c *Client) Insert(ctx context.Context, records []Record) error {
	return c.write(ctx, "insert", records, nil)
}

// Update writes the records, which must all carry an ID.
func (c *Client) Update(ctx context.Context, records []Record) error {
	return c.write(ctx, "update", nil, records)
}

// Upsert inserts records without an ID and updates the rest.
func (c *Client) Upsert(ctx context.Context, records []Record) error {
	var inserts, updates []Record
	for _, r := range records {
		if r.RecordID() == "" {
			inserts = append(inserts, r)
		} else {
			updates = append(updates, r)
		}
	}
	return c.write(ctx, "upsert", inserts, updates)
}

// write sends the inserts and the updates as separate collection requests
// and reports rejected records with their positions in inserts followed by updates.
func (c *Client) write(ctx context.Context, op string, inserts []Record, updates []Record) error {
	for i, r := range updates {
		if r.RecordID() == "" {
			return WriteFailed(op, fmt.Errorf("record %d (%s) has no ID", len(inserts)+i, r.ObjectType()))
		}
	}

	var failures []RecordFailure

	if len(inserts) > 0 {
		f, err := c.saveCollection(ctx, http.MethodPost, inserts, 0)
		if err != nil {
			return WriteFailed(op, err)
		}
		failures = append(failures, f...)
	}

	if len(updates) > 0 {
		f, err := c.saveCollection(ctx, http.MethodPatch, updates, len(inserts))
		if err != nil {
			return WriteFailed(op, err)
		}
		failures = append(failures, f...)
	}

	if len(failures) > 0 {
		return &BatchError{Failures: failures, Op: op, Total: len(inserts) + len(updates)}
	}

	return nil
}

// saveCollection performs one composite collection write. Inserted records receive their new IDs.
func (c *Client) saveCollection(ctx context.Context, method string, records []Record, offset int) ([]RecordFailure, error) {
	body := collectionRequest{
		AllOrNone: false,
		Records:   make([]map[string]any, 0, len(records)),
	}
	for _, r := range records {
		encoded, err := encodeRecord(r, method == http.MethodPatch)
		if err != nil {
			return nil, err
		}
		body.Records = append(body.Records, encoded)
	}

	var results []saveResult
	if err := c.doRequest(ctx, method, c.collectionURL(), body, &results); err != nil {
		return nil, err
	}
	if len(results) != len(records) {
		return nil, fmt.Errorf("expected %d results, got %d", len(records), len(results))
	}

	var failures []RecordFailure
	for i, res := range results {
		if !res.Success {
			failures = append(failures, newRecordFailure(offset+i, records[i].RecordID(), res.Errors))
			continue
		}
		if method == http.MethodPost {
			records[i].SetRecordID(res.ID)
		}
	}

	return failures, nil
}

// collectionURL returns the composite collection endpoint.
func (c *Client) collectionURL() string {
	return fmt.Sprintf("%s/services/data/%s/composite/sobjects", c.instanceURL, c.apiVersion)
}

// doRequest executes an HTTP request with authentication and JSON encoding.
func (c *Client) doRequest(ctx context.Context, method string, reqURL string, body any, result any) error {
	accessToken, err := c.tokenManager.AccessToken(ctx)
	if err != nil {
		return fmt.Errorf("getting access token: %w", err)
	}

	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized {
		// Session expired or revoked; the next call fetches a new access token.
		c.tokenManager.invalidate()
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}

	return nil
}

// encodeRecord converts a record to its collection request form.
// The Id is kept only for updates.
func encodeRecord(r Record, withID bool) (map[string]any, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s record: %w", r.ObjectType(), err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("encoding %s record: %w", r.ObjectType(), err)
	}

	if !withID {
		delete(fields, FieldID)
	}
	fields["attributes"] = map[string]string{"type": string(r.ObjectType())}

	return fields, nil
}

// newRecordFailure converts API errors into a RecordFailure.
func newRecordFailure(index int, id string, apiErrs []apiError) RecordFailure {
	f := RecordFailure{ID: id, Index: index}
	if len(apiErrs) == 0 {
		return f
	}

	msgs := make([]string, 0, len(apiErrs))
	for _, e := range apiErrs {
		msgs = append(msgs, e.Message)
		f.Fields = append(f.Fields, e.Fields...)
	}
	f.Code = apiErrs[0].StatusCode
	f.Message = strings.Join(msgs, "; ")

	return f
}
