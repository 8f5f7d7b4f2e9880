package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const registryContentType = "application/vnd.schemaregistry.v1+json"

// Confluent error codes for a subject or schema the registry has not seen.
const (
	errCodeSubjectNotFound = 40401
	errCodeSchemaNotFound  = 40403
)

// RegistryError is a non-2xx answer from the Schema Registry.
type RegistryError struct {
	Status  int    `json:"-"`
	Code    int    `json:"error_code"`
	Message string `json:"message"`
}

func (e *RegistryError) Error() string {
	return fmt.Sprintf("schema registry: status %d code %d: %s", e.Status, e.Code, e.Message)
}

func (e *RegistryError) unknownSchema() bool {
	return e.Status == http.StatusNotFound &&
		(e.Code == errCodeSubjectNotFound || e.Code == errCodeSchemaNotFound || e.Code == 0)
}

// RegistryOption configures a SchemaRegistryClient.
type RegistryOption func(*SchemaRegistryClient)

// WithRegistryAuth sets basic auth credentials, as used by hosted registries.
func WithRegistryAuth(user, password string) RegistryOption {
	return func(c *SchemaRegistryClient) {
		c.user, c.password = user, password
	}
}

// WithRegistryHTTPClient overrides the HTTP client.
func WithRegistryHTTPClient(client *http.Client) RegistryOption {
	return func(c *SchemaRegistryClient) {
		c.httpClient = client
	}
}

// SchemaRegistryClient resolves JSON schema IDs in a Confluent-compatible Schema Registry.
type SchemaRegistryClient struct {
	baseURL    string
	user       string
	password   string
	httpClient *http.Client
}

// NewSchemaRegistryClient constructs a client. The default HTTP client times out after 10s.
func NewSchemaRegistryClient(baseURL string, opts ...RegistryOption) *SchemaRegistryClient {
	c := &SchemaRegistryClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EnsureSchema returns the ID of schema under subject, registering it as a new version when the
// registry has not seen this exact schema before.
func (c *SchemaRegistryClient) EnsureSchema(ctx context.Context, subject string, schema string) (int, error) {
	body := map[string]string{"schemaType": "JSON", "schema": schema}
	subjectPath := "/subjects/" + url.PathEscape(subject)

	id, err := c.post(ctx, subjectPath, body)
	var regErr *RegistryError
	if err == nil || !errors.As(err, &regErr) || !regErr.unknownSchema() {
		return id, err
	}
	return c.post(ctx, subjectPath+"/versions", body)
}

func (c *SchemaRegistryClient) post(ctx context.Context, path string, body any) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", registryContentType)
	req.Header.Set("Accept", registryContentType)
	if c.user != "" {
		req.SetBasicAuth(c.user, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("schema registry %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		regErr := &RegistryError{Status: resp.StatusCode}
		if decodeErr := json.NewDecoder(resp.Body).Decode(regErr); decodeErr != nil {
			regErr.Message = http.StatusText(resp.StatusCode)
		}
		return 0, regErr
	}

	var out struct {
		ID int `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode schema registry response: %w", err)
	}
	return out.ID, nil
}
