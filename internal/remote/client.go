package remote

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
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/simdb-io/simdb/internal/checksum"
	"github.com/simdb-io/simdb/pkg/core"
)

// DefaultTimeout bounds every remote request.
const DefaultTimeout = 60 * time.Second

// Client talks to one SimDB remote.
type Client struct {
	base   string
	token  string
	http   *http.Client
	logger *slog.Logger
}

// ClientOptions configures a remote client.
type ClientOptions struct {
	// BaseURL is the remote root, e.g. https://simdb.example.org.
	BaseURL string
	// Token authenticates requests. Obtain one via Token().
	Token string
	// Timeout defaults to DefaultTimeout.
	Timeout time.Duration
	Logger  *slog.Logger
}

// NewClient builds a client for one remote.
func NewClient(opts ClientOptions) (*Client, error) {
	base := strings.TrimSuffix(opts.BaseURL, "/")
	if _, err := url.Parse(base); err != nil || base == "" {
		return nil, fmt.Errorf("invalid remote url %q", opts.BaseURL)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{
		base:   base,
		token:  opts.Token,
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}, nil
}

// SetToken replaces the client's bearer token.
func (c *Client) SetToken(token string) { c.token = token }

func (c *Client) url(path string) string {
	return c.base + "/api/v1" + path
}

// do sends one request and decodes the JSON response into out. HTTP
// and transport failures map onto the domain error taxonomy.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url(path), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", core.ErrNetwork, err)
	}
	return nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode < 300 {
		return nil
	}
	var apiErr ErrorResponse
	message := resp.Status
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
		message = apiErr.Error
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", core.ErrAuthentication, message)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", core.ErrNotFound, message)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", core.ErrConflict, message)
	case http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", core.ErrVocabularyViolation, message)
	default:
		return fmt.Errorf("remote error: %s", message)
	}
}

// Version asks the remote which API version it speaks.
func (c *Client) Version(ctx context.Context) (int, error) {
	var v VersionResponse
	if err := c.do(ctx, http.MethodGet, "/", nil, &v); err != nil {
		return 0, err
	}
	return v.Version, nil
}

// Token authenticates with username and password and returns a fresh
// bearer token. The client adopts it for subsequent calls.
func (c *Client) Token(ctx context.Context, username, password string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/token"), nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(username, password)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrNetwork, err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return "", err
	}

	var tok TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("%w: decode token: %v", core.ErrNetwork, err)
	}
	c.token = tok.Token
	return tok.Token, nil
}

// ListSimulations returns every simulation the remote holds.
func (c *Client) ListSimulations(ctx context.Context) ([]*core.Simulation, error) {
	var dtos []SimulationDTO
	if err := c.do(ctx, http.MethodGet, "/simulations", nil, &dtos); err != nil {
		return nil, err
	}
	return fromDTOs(dtos)
}

// GetSimulation fetches one record by UUID, alias or prefix.
func (c *Client) GetSimulation(ctx context.Context, token string) (*core.Simulation, error) {
	var dto SimulationDTO
	if err := c.do(ctx, http.MethodGet, "/simulations/"+url.PathEscape(token), nil, &dto); err != nil {
		return nil, err
	}
	return dto.ToSimulation()
}

// QuerySimulations runs a constraint query on the remote.
func (c *Client) QuerySimulations(ctx context.Context, constraints []core.Constraint) ([]*core.Simulation, error) {
	req := QueryRequest{}
	for _, con := range constraints {
		req.Constraints = append(req.Constraints, ConstraintDTO{
			Key: con.Key, Op: string(con.Op), Value: con.Value,
		})
	}
	var dtos []SimulationDTO
	if err := c.do(ctx, http.MethodPost, "/simulations/query", req, &dtos); err != nil {
		return nil, err
	}
	return fromDTOs(dtos)
}

// DeleteSimulation removes a record from the remote.
func (c *Client) DeleteSimulation(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodDelete, "/simulations/"+url.PathEscape(token), nil, nil)
}

// PushSimulation sends a record's metadata to the remote, where it
// lands staged. Idempotent per UUID.
func (c *Client) PushSimulation(ctx context.Context, sim *core.Simulation) error {
	return c.do(ctx, http.MethodPost, "/simulations", ToSimulationDTO(sim), nil)
}

// SetStatus applies a lifecycle transition on the remote. When
// publishing, replaces may name a simulation to deprecate atomically.
func (c *Client) SetStatus(ctx context.Context, token string, status core.Status, replaces string) error {
	req := StatusRequest{Status: string(status), Replaces: replaces}
	return c.do(ctx, http.MethodPatch, "/simulations/"+url.PathEscape(token)+"/status", req, nil)
}

// ReportValidation records a validation verdict on the remote.
func (c *Client) ReportValidation(ctx context.Context, token string, report ValidationReportDTO) error {
	return c.do(ctx, http.MethodPost, "/simulations/"+url.PathEscape(token)+"/validation", report, nil)
}

// UploadStatus reports the remote's transfer progress for one file.
func (c *Client) UploadStatus(ctx context.Context, simUUID, fileUUID uuid.UUID) (*UploadStatus, error) {
	var status UploadStatus
	path := fmt.Sprintf("/simulations/%s/files/%s", simUUID, fileUUID)
	if err := c.do(ctx, http.MethodGet, path, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// UploadFile sends a local file payload in chunks. If the remote
// already holds the complete payload with the same checksum the
// upload is skipped entirely.
func (c *Client) UploadFile(ctx context.Context, simUUID uuid.UUID, file core.FileRef, localPath string) error {
	if status, err := c.UploadStatus(ctx, simUUID, file.UUID); err == nil {
		if status.Complete && status.Checksum == file.Checksum {
			c.logger.Debug("skipping upload, remote already holds payload",
				"simulation", simUUID, "file", file.UUID)
			return nil
		}
	} else if !errors.Is(err, core.ErrNotFound) {
		return err
	}

	in, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", localPath, err)
	}
	totalChunks := int((info.Size() + ChunkSize - 1) / ChunkSize)
	if totalChunks == 0 {
		totalChunks = 1
	}

	buf := make([]byte, ChunkSize)
	for chunk := 0; chunk < totalChunks; chunk++ {
		n, err := io.ReadFull(in, buf)
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read %s: %w", localPath, err)
		}
		if err := c.uploadChunk(ctx, simUUID, file, chunk, totalChunks, buf[:n]); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) uploadChunk(ctx context.Context, simUUID uuid.UUID, file core.FileRef, chunk, totalChunks int, payload []byte) error {
	path := fmt.Sprintf("/simulations/%s/files/%s/chunks/%d?chunks=%d&checksum=%s",
		simUUID, file.UUID, chunk, totalChunks, url.QueryEscape(file.Checksum))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.url(path), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrNetwork, err)
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

// DownloadFile fetches a file payload into dest and verifies its
// checksum against the expected value.
func (c *Client) DownloadFile(ctx context.Context, simUUID, fileUUID uuid.UUID, dest, wantChecksum string) error {
	path := fmt.Sprintf("/simulations/%s/files/%s/content", simUUID, fileUUID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(path), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrNetwork, err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		return fmt.Errorf("%w: download %s: %v", core.ErrNetwork, fileUUID, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dest, err)
	}

	if wantChecksum != "" {
		got, err := checksum.File(dest)
		if err != nil {
			return err
		}
		if got != wantChecksum {
			return fmt.Errorf("%w: downloaded file %s hashes to %s, expected %s",
				core.ErrChecksumMismatch, fileUUID, got, wantChecksum)
		}
	}
	return nil
}

// ListWatchers returns the watchers of a remote simulation.
func (c *Client) ListWatchers(ctx context.Context, token string) ([]core.Watcher, error) {
	var dtos []WatcherDTO
	if err := c.do(ctx, http.MethodGet, "/simulations/"+url.PathEscape(token)+"/watchers", nil, &dtos); err != nil {
		return nil, err
	}
	watchers := make([]core.Watcher, 0, len(dtos))
	for _, dto := range dtos {
		class, ok := core.ParseNotificationClass(dto.Notification)
		if !ok {
			return nil, fmt.Errorf("remote sent unknown notification class %q", dto.Notification)
		}
		watchers = append(watchers, core.Watcher{
			Username: dto.Username, Email: dto.Email, Notification: class,
		})
	}
	return watchers, nil
}

// AddWatcher subscribes a user on the remote.
func (c *Client) AddWatcher(ctx context.Context, token string, watcher core.Watcher) error {
	dto := WatcherDTO{
		Username:     watcher.Username,
		Email:        watcher.Email,
		Notification: watcher.Notification.Name(),
	}
	return c.do(ctx, http.MethodPost, "/simulations/"+url.PathEscape(token)+"/watchers", dto, nil)
}

// RemoveWatcher unsubscribes a user on the remote.
func (c *Client) RemoveWatcher(ctx context.Context, token, username string) error {
	path := "/simulations/" + url.PathEscape(token) + "/watchers/" + url.PathEscape(username)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func fromDTOs(dtos []SimulationDTO) ([]*core.Simulation, error) {
	sims := make([]*core.Simulation, 0, len(dtos))
	for _, dto := range dtos {
		sim, err := dto.ToSimulation()
		if err != nil {
			return nil, err
		}
		sims = append(sims, sim)
	}
	return sims, nil
}
