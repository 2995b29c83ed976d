// internal/pkg/httpclient/client.go
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Client 是一个可追踪的 HTTP 客户端。
// 超时完全由每次请求传入的 context 控制，Client 本身不设置 Timeout。
type Client struct {
	Tracer     trace.Tracer
	HTTPClient *http.Client
}

// NewClient 创建一个新的客户端实例，内部复用连接池。
func NewClient(tracer trace.Tracer) *Client {
	return &Client{
		Tracer: tracer,
		HTTPClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
			},
		},
	}
}

// StatusError 表示下游服务返回了非 2xx 状态码。
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("downstream returned status %d: %s", e.StatusCode, string(e.Body))
}

// GetJSON 向下游服务发送 GET 请求，并把响应解码到 out。
// 追踪上下文通过 HTTP Header 自动传播。
func (c *Client) GetJSON(ctx context.Context, serviceURL string, out interface{}) error {
	parsedURL, err := url.Parse(serviceURL)
	if err != nil {
		return err
	}
	spanName := fmt.Sprintf("call-%s", strings.Split(parsedURL.Host, ":")[0])

	ctx, span := c.Tracer.Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, serviceURL, nil)
	if err != nil {
		span.RecordError(err)
		return err
	}

	span.SetAttributes(
		attribute.String("http.url", serviceURL),
		attribute.String("http.method", http.MethodGet),
	)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		return err
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := &StatusError{StatusCode: resp.StatusCode, Body: body}
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to decode response from %s: %w", serviceURL, err)
		}
	}
	return nil
}

// PostJSON 向下游服务发送 JSON 请求，并把响应解码到 out（out 可为 nil）。
// 追踪上下文通过 HTTP Header 自动传播。
// 即使下游返回非 2xx，也会尝试解码响应体，让调用方能拿到结构化的失败原因。
func (c *Client) PostJSON(ctx context.Context, serviceURL string, reqBody, out interface{}) error {
	parsedURL, err := url.Parse(serviceURL)
	if err != nil {
		return err
	}
	spanName := fmt.Sprintf("call-%s", strings.Split(parsedURL.Host, ":")[0])

	ctx, span := c.Tracer.Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	payload, err := json.Marshal(reqBody)
	if err != nil {
		span.RecordError(err)
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serviceURL, bytes.NewReader(payload))
	if err != nil {
		span.RecordError(err)
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	span.SetAttributes(
		attribute.String("http.url", serviceURL),
		attribute.String("http.method", http.MethodPost),
	)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		return err
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if out != nil && len(body) > 0 {
			_ = json.Unmarshal(body, out)
		}
		err := &StatusError{StatusCode: resp.StatusCode, Body: body}
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to decode response from %s: %w", serviceURL, err)
		}
	}
	return nil
}
