// Package orthanc talks to the imaging archive's REST API: study metadata,
// store requests to modalities or peers, the change log and bulk deletion.
package orthanc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"dicom-router/internal/common/errors"
	httpclient "dicom-router/internal/common/http"
	"dicom-router/internal/common/logging"
	"dicom-router/internal/models"
)

const (
	DestinationModalities = "modalities"
	DestinationPeers      = "peers"
)

type Config struct {
	URL      string
	Username string
	Password string
	// RequestedTags are asked for in addition to the main tags, e.g. 00080061 (ModalitiesInStudy)
	RequestedTags []string
	// DestinationKind selects /modalities/{id}/store or /peers/{id}/store
	DestinationKind string
	Timeout         time.Duration
}

func DefaultConfig() Config {
	return Config{
		URL:             "http://localhost:8042",
		RequestedTags:   []string{"00080061"},
		DestinationKind: DestinationModalities,
		Timeout:         60 * time.Second,
	}
}

// Client implements routing.MetadataSource and routing.Forwarder on top of the REST API.
// Store requests go through a client without an overall timeout; the caller's
// context bounds them.
type Client struct {
	http          *httpclient.Client
	forward       *httpclient.Client
	baseURL       string
	requestedTags string
	kind          string
	logger        logging.Logger
}

func NewClient(config Config, logger logging.Logger, opts ...httpclient.ClientOption) (*Client, error) {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	base, err := url.Parse(config.URL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, errors.ConfigError(fmt.Sprintf("invalid archive URL %q", config.URL))
	}

	kind := config.DestinationKind
	if kind == "" {
		kind = DestinationModalities
	}
	if kind != DestinationModalities && kind != DestinationPeers {
		return nil, errors.ConfigError(fmt.Sprintf("destination kind must be %s or %s, got %q",
			DestinationModalities, DestinationPeers, kind))
	}

	clientOpts := []httpclient.ClientOption{}
	if config.Timeout > 0 {
		clientOpts = append(clientOpts, httpclient.WithTimeout(config.Timeout))
	}
	if config.Username != "" {
		clientOpts = append(clientOpts, httpclient.WithBasicAuth(config.Username, config.Password))
	}
	clientOpts = append(clientOpts, opts...)

	forwardOpts := append(append([]httpclient.ClientOption{}, clientOpts...), httpclient.WithTimeout(0))

	return &Client{
		http:          httpclient.NewClient(clientOpts...),
		forward:       httpclient.NewClient(forwardOpts...),
		baseURL:       strings.TrimRight(config.URL, "/"),
		requestedTags: strings.Join(config.RequestedTags, ","),
		kind:          kind,
		logger:        logger.WithFields(logging.Field{Key: "component", Value: "orthanc"}),
	}, nil
}

// DestinationKind returns "modalities" or "peers"
func (c *Client) DestinationKind() string {
	return c.kind
}

func (c *Client) endpoint(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return c.baseURL + "/" + strings.Join(escaped, "/")
}

// studyResponse keeps tag values raw: the archive answers strings for most
// tags but arrays or objects for some requested ones.
type studyResponse struct {
	ID                   string                     `json:"ID"`
	MainDicomTags        map[string]json.RawMessage `json:"MainDicomTags"`
	PatientMainDicomTags map[string]json.RawMessage `json:"PatientMainDicomTags"`
	RequestedTags        map[string]json.RawMessage `json:"RequestedTags"`
}

// FetchStudy returns the tag groups of a study
func (c *Client) FetchStudy(ctx context.Context, studyID string) (*models.StudyMetadata, error) {
	target := c.endpoint("studies", studyID)
	if c.requestedTags != "" {
		target += "?requestedTags=" + url.QueryEscape(c.requestedTags)
	}

	var study studyResponse
	if _, err := c.http.DoJSON(ctx, http.MethodGet, target, nil, &study); err != nil {
		return nil, err
	}

	return &models.StudyMetadata{
		ID:                   study.ID,
		MainDicomTags:        flattenTags(study.MainDicomTags),
		PatientMainDicomTags: flattenTags(study.PatientMainDicomTags),
		RequestedTags:        flattenTags(study.RequestedTags),
	}, nil
}

// flattenTags turns every tag value into the string form the normalizer expects.
// Arrays of scalars are joined with the DICOM multi-value separator.
func flattenTags(raw map[string]json.RawMessage) map[string]string {
	out := make(map[string]string, len(raw))
	for key, value := range raw {
		if s, ok := flattenValue(value); ok {
			out[key] = s
		}
	}
	return out
}

func flattenValue(value json.RawMessage) (string, bool) {
	// null carries no value; the tag is absent
	if bytes.Equal(bytes.TrimSpace(value), []byte("null")) {
		return "", false
	}

	var s string
	if err := json.Unmarshal(value, &s); err == nil {
		return s, true
	}

	var n json.Number
	if err := json.Unmarshal(value, &n); err == nil {
		return n.String(), true
	}

	var items []json.RawMessage
	if err := json.Unmarshal(value, &items); err == nil {
		parts := make([]string, 0, len(items))
		for _, item := range items {
			part, ok := flattenValue(item)
			if !ok {
				return "", false
			}
			parts = append(parts, part)
		}
		return strings.Join(parts, "\\"), true
	}

	// nested objects carry nothing a predicate can compare
	return "", false
}

// Forward asks the archive to send a study to a destination
func (c *Client) Forward(ctx context.Context, destination string, request models.StoreRequest) error {
	target := c.endpoint(c.kind, destination, "store")
	resp, err := c.forward.DoJSON(ctx, http.MethodPost, target, request, nil)
	if err != nil {
		return err
	}

	c.logger.Debug("Store request accepted",
		logging.Field{Key: "destination", Value: destination},
		logging.Field{Key: "resources", Value: request.Resources},
		logging.Field{Key: "duration_ms", Value: resp.Duration.Milliseconds()},
	)
	return nil
}

// ListDestinations returns the identifiers of the configured modalities or peers
func (c *Client) ListDestinations(ctx context.Context) ([]string, error) {
	var names []string
	if _, err := c.http.DoJSON(ctx, http.MethodGet, c.endpoint(c.kind)+"/", nil, &names); err != nil {
		return nil, err
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

// Changes returns up to limit change log entries after since
func (c *Client) Changes(ctx context.Context, since int64, limit int) (*models.ChangesPage, error) {
	query := url.Values{}
	query.Set("since", strconv.FormatInt(since, 10))
	query.Set("limit", strconv.Itoa(limit))

	var page models.ChangesPage
	if _, err := c.http.DoJSON(ctx, http.MethodGet, c.endpoint("changes")+"?"+query.Encode(), nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// LastChange returns the sequence number of the newest change log entry
func (c *Client) LastChange(ctx context.Context) (int64, error) {
	var page models.ChangesPage
	if _, err := c.http.DoJSON(ctx, http.MethodGet, c.endpoint("changes")+"?last", nil, &page); err != nil {
		return 0, err
	}
	return page.Last, nil
}

// FindStudiesBefore returns the studies whose StudyDate is on or before date (YYYYMMDD)
func (c *Client) FindStudiesBefore(ctx context.Context, date string) ([]string, error) {
	request := models.FindRequest{
		Level: "Study",
		Query: map[string]string{"StudyDate": "19000101-" + date},
	}

	var studies []string
	if _, err := c.http.DoJSON(ctx, http.MethodPost, c.endpoint("tools", "find"), request, &studies); err != nil {
		return nil, err
	}
	return studies, nil
}

// BulkDelete deletes the given resources in one request
func (c *Client) BulkDelete(ctx context.Context, resources []string) error {
	if len(resources) == 0 {
		return nil
	}
	_, err := c.http.DoJSON(ctx, http.MethodPost, c.endpoint("tools", "bulk-delete"),
		models.BulkDeleteRequest{Resources: resources}, nil)
	return err
}

// Ping checks that the archive answers
func (c *Client) Ping(ctx context.Context) error {
	var system map[string]interface{}
	_, err := c.http.DoJSON(ctx, http.MethodGet, c.endpoint("system"), nil, &system)
	return err
}
