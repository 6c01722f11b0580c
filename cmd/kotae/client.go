package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hyperjump/kotae/internal/conversation"
	"github.com/hyperjump/kotae/internal/indexer"
	"github.com/hyperjump/kotae/internal/models"
)

const sessionHeader = "X-Session-ID"

// apiClient talks to a running kotae server, which stays the single writer of the
// records file and index.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(serverURL string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(serverURL, "/"),
		http:    &http.Client{Timeout: 2 * time.Minute},
	}
}

// do sends body as JSON (when non-nil) and decodes a 2xx response into out.
// Error responses carry the server's error message.
func (c *apiClient) do(ctx context.Context, method, path string, header http.Header, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k := range header {
		req.Header.Set(k, header.Get(k))
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(resp.Body)
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(b, &e) == nil && e.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, e.Error)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *apiClient) Search(ctx context.Context, req *models.RetrieveRequest) (*models.SearchResponse, error) {
	var resp models.SearchResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/search", nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *apiClient) Ask(ctx context.Context, req *models.RetrieveRequest) (*models.RetrieveResponse, error) {
	var resp models.RetrieveResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/ask", nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *apiClient) Records(ctx context.Context) ([]models.Record, error) {
	var resp struct {
		Records []models.Record `json:"records"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/records", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}

func (c *apiClient) AddRecord(ctx context.Context, in models.RecordInput) (models.Record, error) {
	var rec models.Record
	err := c.do(ctx, http.MethodPost, "/api/v1/records", nil, in, &rec)
	return rec, err
}

func (c *apiClient) DeleteRecord(ctx context.Context, position int) (models.Record, error) {
	var resp struct {
		Record models.Record `json:"record"`
	}
	err := c.do(ctx, http.MethodDelete, "/api/v1/records/"+strconv.Itoa(position), nil, nil, &resp)
	return resp.Record, err
}

func (c *apiClient) Rebuild(ctx context.Context) (*indexer.Status, error) {
	var st indexer.Status
	if err := c.do(ctx, http.MethodPost, "/api/v1/index/rebuild", nil, nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *apiClient) Status(ctx context.Context) (*statusResponse, error) {
	var st statusResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/status", nil, nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *apiClient) FindAnswer(ctx context.Context, question string) (string, error) {
	var resp struct {
		Answer string `json:"answer"`
	}
	err := c.do(ctx, http.MethodGet, "/api/v1/records/answer?question="+url.QueryEscape(question), nil, nil, &resp)
	return resp.Answer, err
}

// chatter runs conversation turns for one session.
type chatter interface {
	Ask(ctx context.Context, message string) (string, error)
	Transcript(ctx context.Context) ([]models.Turn, error)
	Clear(ctx context.Context) error
}

type httpChatter struct {
	api     *apiClient
	session string
}

func (h *httpChatter) header() http.Header {
	header := http.Header{}
	header.Set(sessionHeader, h.session)
	return header
}

func (h *httpChatter) Ask(ctx context.Context, message string) (string, error) {
	var resp models.ChatResponse
	if err := h.api.do(ctx, http.MethodPost, "/api/v1/chat", h.header(), models.ChatRequest{Query: message}, &resp); err != nil {
		return "", err
	}
	return resp.Response, nil
}

func (h *httpChatter) Transcript(ctx context.Context) ([]models.Turn, error) {
	var resp struct {
		Turns []models.Turn `json:"turns"`
	}
	if err := h.api.do(ctx, http.MethodGet, "/api/v1/chat/history", h.header(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Turns, nil
}

func (h *httpChatter) Clear(ctx context.Context) error {
	return h.api.do(ctx, http.MethodDelete, "/api/v1/chat/history", h.header(), nil, nil)
}

type directChatter struct {
	assembler *conversation.Assembler
	session   string
}

func (d *directChatter) Ask(ctx context.Context, message string) (string, error) {
	return d.assembler.Ask(ctx, d.session, message)
}

func (d *directChatter) Transcript(ctx context.Context) ([]models.Turn, error) {
	return d.assembler.Transcript(ctx, d.session)
}

func (d *directChatter) Clear(ctx context.Context) error {
	return d.assembler.ClearHistory(ctx, d.session)
}
