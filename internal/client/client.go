// Package client talks to the pre-arrival API over HTTP. It is what packctl
// and other operator tooling use; the browser UI speaks the same routes.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"prearrival/api/internal/catalog"
	"prearrival/api/internal/checklist"
	"prearrival/api/internal/pack"
	"prearrival/api/internal/rbac"
	"prearrival/api/internal/search"
)

// ErrNoApprovedDocuments is returned by DownloadPack and Share when the
// server answers with the empty-pack warning instead of an archive.
var ErrNoApprovedDocuments = errors.New("no approved documents to include in the pack")

// APIError is a non-2xx response decoded from the server's error envelope.
type APIError struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api: status %d", e.Status)
	}
	return fmt.Sprintf("api: %s (%d): %s", e.Code, e.Status, e.Message)
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func New(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), token: token, http: httpClient}
}

type Session struct {
	UserID       string        `json:"userId"`
	UserName     string        `json:"userName"`
	Party        catalog.Party `json:"party"`
	Capabilities []string      `json:"capabilities"`
	ExpiresAt    time.Time     `json:"expiresAt"`
}

type RequestInfo struct {
	ID         string     `json:"id"`
	VesselName string     `json:"vesselName"`
	PortName   string     `json:"portName"`
	ETA        *time.Time `json:"eta,omitempty"`
	DueDate    *time.Time `json:"dueDate,omitempty"`
}

type Document struct {
	Definition catalog.Definition `json:"definition"`
	Record     checklist.Record   `json:"record"`
	Access     rbac.Access        `json:"access"`
}

type RequestView struct {
	Request   RequestInfo              `json:"request"`
	Documents []Document               `json:"documents"`
	Counts    map[checklist.Status]int `json:"counts"`
	Complete  bool                     `json:"complete"`
	ReadOnly  bool                     `json:"readOnly"`
}

// Records collects the view's records keyed by document id.
func (v RequestView) Records() checklist.Records {
	out := make(checklist.Records, len(v.Documents))
	for _, d := range v.Documents {
		out[d.Definition.ID] = d.Record
	}
	return out
}

// Definition finds a document in the view by id.
func (v RequestView) Definition(docID string) (catalog.Definition, bool) {
	for _, d := range v.Documents {
		if d.Definition.ID == docID {
			return d.Definition, true
		}
	}
	return catalog.Definition{}, false
}

type Pack struct {
	Name     string
	Data     []byte
	Checksum string
	Files    int
	Skipped  int
}

type ShareResult struct {
	pack.SharePayload
	Skipped []pack.Skip `json:"skipped"`
	Cached  bool        `json:"cached"`
	Emailed []string    `json:"emailed,omitempty"`
}

func (c *Client) Session(ctx context.Context) (Session, error) {
	var out Session
	err := c.doJSON(ctx, http.MethodGet, "/api/session", nil, &out)
	return out, err
}

func (c *Client) GetRequest(ctx context.Context, requestID string, readOnly bool, status string) (RequestView, error) {
	q := url.Values{}
	if readOnly {
		q.Set("readOnly", "true")
	}
	if status != "" {
		q.Set("status", status)
	}
	path := requestPath(requestID)
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out RequestView
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// Upload files a document. file may be nil to send only a note.
func (c *Client) Upload(ctx context.Context, requestID, docID, note, fileName string, file io.Reader) (checklist.Record, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("docId", docID)
	if note != "" {
		_ = mw.WriteField("note", note)
	}
	if file != nil {
		part, err := mw.CreateFormFile("file", fileName)
		if err != nil {
			return checklist.Record{}, fmt.Errorf("create file part: %w", err)
		}
		if _, err := io.Copy(part, file); err != nil {
			return checklist.Record{}, fmt.Errorf("read %s: %w", fileName, err)
		}
	}
	if err := mw.Close(); err != nil {
		return checklist.Record{}, fmt.Errorf("close multipart: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPatch, requestPath(requestID)+"/documents", &body)
	if err != nil {
		return checklist.Record{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	var out struct {
		Record checklist.Record `json:"record"`
	}
	err = c.send(req, &out)
	return out.Record, err
}

func (c *Client) Annotate(ctx context.Context, requestID, docID, note string) (checklist.Record, error) {
	return c.Upload(ctx, requestID, docID, note, "", nil)
}

func (c *Client) Verify(ctx context.Context, requestID, docID string, status checklist.Status, reason string) (checklist.Record, error) {
	var out struct {
		Record checklist.Record `json:"record"`
	}
	err := c.doJSON(ctx, http.MethodPatch, requestPath(requestID)+"/documents/verify", map[string]string{
		"docId":  docID,
		"status": string(status),
		"reason": reason,
	}, &out)
	return out.Record, err
}

func (c *Client) DownloadPack(ctx context.Context, requestID string) (Pack, error) {
	req, err := c.newRequest(ctx, http.MethodGet, requestPath(requestID)+"/pack", nil)
	if err != nil {
		return Pack{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Pack{}, fmt.Errorf("download pack: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Pack{}, decodeError(resp)
	}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		err := decodeWarning(resp.Body)
		if errors.Is(err, errNotWarning) {
			return Pack{}, errors.New("download pack: unexpected JSON response")
		}
		return Pack{}, err
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Pack{}, fmt.Errorf("read pack: %w", err)
	}
	files, _ := strconv.Atoi(resp.Header.Get("X-Pack-Files"))
	skipped, _ := strconv.Atoi(resp.Header.Get("X-Pack-Skipped"))
	return Pack{
		Name:     filenameFrom(resp.Header.Get("Content-Disposition")),
		Data:     data,
		Checksum: resp.Header.Get("X-Pack-Checksum"),
		Files:    files,
		Skipped:  skipped,
	}, nil
}

func (c *Client) Share(ctx context.Context, requestID string, emailTo []string) (ShareResult, error) {
	var raw json.RawMessage
	if err := c.doJSON(ctx, http.MethodPost, requestPath(requestID)+"/pack/share", map[string]any{"emailTo": emailTo}, &raw); err != nil {
		return ShareResult{}, err
	}
	if err := decodeWarning(bytes.NewReader(raw)); err != nil && !errors.Is(err, errNotWarning) {
		return ShareResult{}, err
	}
	var out ShareResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return ShareResult{}, fmt.Errorf("decode share result: %w", err)
	}
	return out, nil
}

// UploadArchive stores a locally built archive and returns its share link.
// It satisfies pack.Uploader.
func (c *Client) UploadArchive(ctx context.Context, name string, data []byte) (string, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/api/archive-upload?name="+url.QueryEscape(name), bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/zip")
	var out struct {
		URL string `json:"url"`
	}
	if err := c.send(req, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

func (c *Client) ReviewQueue(ctx context.Context, text, status string, limit int) (search.Response, error) {
	q := url.Values{}
	if text != "" {
		q.Set("q", text)
	}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/review-queue"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out search.Response
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// Fetcher reads stored files with this client's credentials.
func (c *Client) Fetcher(maxBytes int64) pack.HTTPFetcher {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)
	return pack.HTTPFetcher{Client: c.http, Header: header, MaxBytes: maxBytes}
}

func requestPath(requestID string) string {
	return "/api/requests/" + url.PathEscape(requestID)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", req.URL.Path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	var envelope struct {
		Code    string         `json:"code"`
		Error   string         `json:"error"`
		Details map[string]any `json:"details"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&envelope); err == nil {
		apiErr.Code = envelope.Code
		apiErr.Message = envelope.Error
		apiErr.Details = envelope.Details
	}
	return apiErr
}

var errNotWarning = errors.New("not a warning")

func decodeWarning(r io.Reader) error {
	var payload struct {
		Warning string `json:"warning"`
	}
	if err := json.NewDecoder(r).Decode(&payload); err != nil {
		return fmt.Errorf("decode pack response: %w", err)
	}
	if payload.Warning == "NO_APPROVED_DOCUMENTS" {
		return ErrNoApprovedDocuments
	}
	return errNotWarning
}

func filenameFrom(disposition string) string {
	_, name, ok := strings.Cut(disposition, "filename=")
	if !ok {
		return ""
	}
	if unquoted, err := strconv.Unquote(name); err == nil {
		return unquoted
	}
	return strings.Trim(name, `"`)
}
