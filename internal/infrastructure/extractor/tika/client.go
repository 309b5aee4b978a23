// Package tika extracts text through an Apache Tika server.
package tika

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/kirillkom/financial-risk-analyzer/internal/core/domain"
	"github.com/kirillkom/financial-risk-analyzer/internal/infrastructure/resilience"
)

var SupportedExtensions = []string{
	".pdf",
	".jpg", ".jpeg", ".png", ".bmp", ".gif",
	".doc", ".docx",
	".ppt", ".pptx",
	".xls", ".xlsx",
}

type Client struct {
	client      *http.Client
	url         string
	ocrLanguage string
	executor    *resilience.Executor
}

type Option func(*Client)

func WithClient(client *http.Client) Option {
	return func(c *Client) { c.client = client }
}

// WithOCRLanguage sets the Tesseract languages used for images, e.g. "chi_sim+eng".
func WithOCRLanguage(lang string) Option {
	return func(c *Client) { c.ocrLanguage = lang }
}

func WithExecutor(executor *resilience.Executor) Option {
	return func(c *Client) { c.executor = executor }
}

func New(url string, options ...Option) (*Client, error) {
	if url == "" {
		return nil, errors.New("invalid url")
	}
	c := &Client{
		client: &http.Client{Timeout: 2 * time.Minute},
		url:    url,
	}
	for _, option := range options {
		option(c)
	}
	return c, nil
}

func (c *Client) Supports(ext string) bool {
	return slices.Contains(SupportedExtensions, strings.ToLower(ext))
}

func (c *Client) ExtractText(ctx context.Context, file domain.SourceFile) (string, error) {
	if !c.Supports(file.Ext) {
		return "", domain.WrapError(domain.ErrUnsupportedType, "tika extract", fmt.Errorf("%s (%s)", file.Name, file.Ext))
	}

	var text string
	call := func(callCtx context.Context) error {
		out, err := c.put(callCtx, file)
		text = out
		return err
	}
	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "tika.extract", call, resilience.ClassifyHTTP)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return "", resilience.MarkTemporary("tika extract", err, resilience.ClassifyHTTP)
	}
	return strings.TrimSpace(text), nil
}

func (c *Client) put(ctx context.Context, file domain.SourceFile) (string, error) {
	u, err := url.JoinPath(c.url, "/tika")
	if err != nil {
		return "", fmt.Errorf("tika url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(file.Data))
	if err != nil {
		return "", fmt.Errorf("create tika request: %w", err)
	}
	req.Header.Set("Accept", "text/plain; charset=utf-8")
	if file.MIME != "" {
		req.Header.Set("Content-Type", file.MIME)
	}
	if c.ocrLanguage != "" {
		req.Header.Set("X-Tika-OCRLanguage", c.ocrLanguage)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("tika request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", resilience.ReadStatusError("tika", resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read tika response: %w", err)
	}
	return string(data), nil
}
