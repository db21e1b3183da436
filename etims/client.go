package etims

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/etims_backend/config"
	"bitbucket.org/mmdatafocus/etims_backend/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// searchPageSize is forced onto every GET so incremental pulls see the
// whole changed set in one page wherever the gateway allows it.
const searchPageSize = "15000"

// RouteResolver maps a capability key to a gateway URL path.
type RouteResolver interface {
	Resolve(ctx context.Context, routeKey string) (string, error)
}

type dbRouteResolver struct {
	db *gorm.DB
}

func (r dbRouteResolver) Resolve(ctx context.Context, routeKey string) (string, error) {
	path, err := models.GetRoutePath(ctx, r.db, routeKey)
	if err != nil {
		return "", &ConfigurationError{Detail: fmt.Sprintf("route %q: %v", routeKey, err)}
	}
	return path, nil
}

// ErrorSink receives every failed gateway call. Sinks must not panic and
// should not block; the executor calls them after the request record is
// finalized.
type ErrorSink interface {
	OnError(ctx context.Context, spec RequestSpec, err error)
}

// LogSink writes failures to the structured logger.
type LogSink struct{}

func (LogSink) OnError(ctx context.Context, spec RequestSpec, err error) {
	logg := config.GetLogger()
	config.LogError(logg, "etims", "Execute", spec.RouteKey, map[string]interface{}{
		"document_type": spec.DocumentType,
		"document_name": spec.DocumentName,
		"company_name":  spec.Tenant.CompanyName,
	}, err)
}

// Executor performs authenticated calls against the gateway, records each
// one in the integration request log, and normalizes responses and errors.
type Executor struct {
	db          *gorm.DB
	baseURL     string
	workstation string
	tokens      TokenSource
	routes      RouteResolver
	http        *http.Client
	sinks       []ErrorSink
}

func NewExecutor(db *gorm.DB, settings *models.EtimsSettings, tokens TokenSource) *Executor {
	return &Executor{
		db:          db,
		baseURL:     strings.TrimRight(settings.ServerURL, "/"),
		workstation: settings.WorkstationId,
		tokens:      tokens,
		routes:      dbRouteResolver{db: db},
		http:        &http.Client{Timeout: 60 * time.Second},
		sinks:       []ErrorSink{LogSink{}},
	}
}

// AddSink registers an additional failure sink.
func (e *Executor) AddSink(sink ErrorSink) {
	e.sinks = append(e.sinks, sink)
}

// WithRoutes overrides route resolution; used by callers that carry a
// static route table.
func (e *Executor) WithRoutes(routes RouteResolver) *Executor {
	e.routes = routes
	return e
}

var placeholderPattern = regexp.MustCompile(`\{([^{}]+)\}`)

// processDynamicURL substitutes `{placeholder}` segments from the payload,
// consuming the used keys. A placeholder with no matching payload value is
// a configuration error and the request never leaves the process.
func processDynamicURL(path string, payload map[string]interface{}) (string, error) {
	matches := placeholderPattern.FindAllStringSubmatch(path, -1)
	for _, match := range matches {
		key := match[1]
		value, ok := payload[key]
		if !ok {
			return "", &ConfigurationError{
				Detail: fmt.Sprintf("url placeholder %q has no value in payload", key),
			}
		}
		str := fmt.Sprintf("%v", value)
		if str == "" {
			return "", &ConfigurationError{
				Detail: fmt.Sprintf("url placeholder %q resolved to empty value", key),
			}
		}
		path = strings.ReplaceAll(path, match[0], str)
		delete(payload, key)
	}
	return path, nil
}

// Execute runs one gateway call end to end: route resolution, placeholder
// substitution, auth, a single retry on 401, response parsing, and request
// log bookkeeping.
func (e *Executor) Execute(ctx context.Context, spec RequestSpec) (*Response, error) {
	resp, err := e.execute(ctx, spec)
	if err != nil {
		for _, sink := range e.sinks {
			sink.OnError(ctx, spec, err)
		}
	}
	return resp, err
}

func (e *Executor) execute(ctx context.Context, spec RequestSpec) (*Response, error) {
	path, err := e.routes.Resolve(ctx, spec.RouteKey)
	if err != nil {
		return nil, err
	}

	// Work on a copy so placeholder consumption and id extraction never
	// mutate the caller's payload.
	payload := make(map[string]interface{}, len(spec.Payload))
	for k, v := range spec.Payload {
		payload[k] = v
	}

	hadIdPlaceholder := strings.Contains(path, "{id}")
	path, err = processDynamicURL(path, payload)
	if err != nil {
		return nil, err
	}

	method := strings.ToUpper(spec.Method)
	if method == "" {
		method = http.MethodPost
	}

	endpoint := e.baseURL + path
	var body []byte

	switch method {
	case http.MethodGet:
		params := url.Values{}
		for key, value := range payload {
			params.Set(key, fmt.Sprintf("%v", value))
		}
		params.Set("page_size", searchPageSize)
		endpoint = endpoint + "?" + params.Encode()
	case http.MethodPatch:
		// PATCH addresses one remote document: the id moves from the body
		// into the URL. Routes with an {id} placeholder already consumed it
		// during substitution.
		if !hadIdPlaceholder {
			id, ok := payload["id"]
			if !ok || fmt.Sprintf("%v", id) == "" {
				return nil, &DataValidationError{Detail: "patch request requires an id"}
			}
			delete(payload, "id")
			endpoint = strings.TrimRight(endpoint, "/") + "/" + fmt.Sprintf("%v", id) + "/"
		}
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, err
		}
	default:
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, err
		}
	}

	record := models.IntegrationRequest{
		CompanyName:   spec.Tenant.CompanyName,
		BranchId:      spec.Tenant.BranchId,
		RouteKey:      spec.RouteKey,
		URL:           endpoint,
		Method:        method,
		RequestBody:   body,
		DocumentType:  spec.DocumentType,
		DocumentName:  spec.DocumentName,
		CorrelationId: uuid.NewString(),
	}
	if e.db != nil {
		if err := record.Enqueue(ctx, e.db); err != nil {
			logg := config.GetLogger()
			config.LogError(logg, "etims", "execute", "enqueue request record", spec.RouteKey, err)
		}
	}

	resp, err := e.doWithAuth(ctx, method, endpoint, body)
	e.finalizeRecord(ctx, &record, resp, err)
	return resp, err
}

func (e *Executor) finalizeRecord(ctx context.Context, record *models.IntegrationRequest, resp *Response, err error) {
	if e.db == nil || record.ID == 0 {
		return
	}

	status := models.RequestStatusCompleted
	statusCode := 0
	var responseBody []byte
	errMsg := ""

	if resp != nil {
		statusCode = resp.StatusCode
		if resp.Data != nil {
			responseBody, _ = json.Marshal(resp.Data)
		} else if resp.Text != "" {
			responseBody = []byte(resp.Text)
		}
	}
	if err != nil {
		status = models.RequestStatusFailed
		errMsg = err.Error()
	}

	if ferr := record.Finalize(ctx, e.db, status, statusCode, responseBody, errMsg); ferr != nil {
		logg := config.GetLogger()
		config.LogError(logg, "etims", "finalizeRecord", "finalize request record", record.ID, ferr)
	}
}

// doWithAuth sends the request. On 401 it refreshes the token and retries
// exactly once; a second 401 surfaces as AuthenticationError.
func (e *Executor) doWithAuth(ctx context.Context, method, endpoint string, body []byte) (*Response, error) {
	token, err := e.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := e.do(ctx, method, endpoint, body, token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return e.interpret(resp)
	}

	token, err = e.tokens.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	resp, err = e.do(ctx, method, endpoint, body, token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, &AuthenticationError{
			StatusCode: resp.StatusCode,
			Detail:     "unauthorized after token refresh",
		}
	}
	return e.interpret(resp)
}

type rawResponse struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

func (e *Executor) do(ctx context.Context, method, endpoint string, body []byte, token string) (*rawResponse, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if e.workstation != "" {
		req.Header.Set("X-Workstation", e.workstation)
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.http.Do(req)
	if err != nil {
		return nil, &TransientNetworkError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientNetworkError{Err: err}
	}

	return &rawResponse{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        data,
	}, nil
}

// interpret turns a raw reply into a Response or a RemoteRejection,
// branching on the declared content type.
func (e *Executor) interpret(raw *rawResponse) (*Response, error) {
	if raw.StatusCode < 200 || raw.StatusCode >= 300 {
		return &Response{StatusCode: raw.StatusCode}, &RemoteRejection{
			StatusCode: raw.StatusCode,
			Detail:     extractErrorDetail(raw.Body),
			Body:       raw.Body,
		}
	}

	resp := &Response{StatusCode: raw.StatusCode}
	contentType := strings.ToLower(raw.ContentType)

	switch {
	case strings.Contains(contentType, "application/json"):
		if len(raw.Body) == 0 {
			return resp, nil
		}
		if err := json.Unmarshal(raw.Body, &resp.Data); err != nil {
			return resp, fmt.Errorf("decode gateway response: %w", err)
		}
	case strings.Contains(contentType, "text/html"),
		strings.Contains(contentType, "text/plain"),
		strings.Contains(contentType, "xml"):
		resp.Text = strings.TrimSpace(string(raw.Body))
	case strings.Contains(contentType, "application/pdf"),
		strings.Contains(contentType, "application/zip"),
		strings.Contains(contentType, "application/octet-stream"):
		resp.Raw = raw.Body
	}
	// Anything else carries no usable body.
	return resp, nil
}

// extractErrorDetail pulls a human readable message from an error body:
// the `error` field, then `detail`, then the stringified body.
func extractErrorDetail(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var parsed map[string]interface{}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if v, ok := parsed["error"].(string); ok && v != "" {
			return v
		}
		if v, ok := parsed["detail"].(string); ok && v != "" {
			return v
		}
		encoded, _ := json.Marshal(parsed)
		return string(encoded)
	}
	return strings.TrimSpace(string(body))
}
