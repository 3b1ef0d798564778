package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/precache/internal/fetch"
	"github.com/any-hub/precache/internal/logging"
	"github.com/any-hub/precache/internal/proxy"
)

// interceptHandler 把 Fiber 请求还原为被拦截的出站请求，并把 Outcome 写回客户端。
type interceptHandler struct {
	interceptor Interceptor
	logger      *logrus.Logger
}

func (h *interceptHandler) Handle(c fiber.Ctx) error {
	started := time.Now()
	requestID := RequestID(c)

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	req, err := buildRequest(c)
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"action":     "proxy",
			"request_id": requestID,
			"uri":        string(c.Request().RequestURI()),
		}).WithError(err).Warn("bad_request")
		return writeError(c, fiber.StatusBadRequest, "bad_request")
	}

	out, err := h.interceptor.Fetch(ctx, req)
	if err != nil {
		h.logResult(req, out, requestID, 0, started, err)
		if out.Strategy != "" {
			c.Set("X-Precache-Strategy", out.Strategy)
		}
		return writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}

	switch out.Kind {
	case proxy.OutcomePassthrough:
		resp, err := h.interceptor.Passthrough(ctx, req)
		if err != nil {
			h.logResult(req, out, requestID, 0, started, err)
			return writeError(c, fiber.StatusBadGateway, "upstream_failed")
		}
		return h.writeResponse(c, req, out, resp, requestID, started)
	case proxy.OutcomeNoResponse:
		h.logResult(req, out, requestID, fiber.StatusGatewayTimeout, started, nil)
		setOutcomeHeaders(c, out)
		return writeError(c, fiber.StatusGatewayTimeout, "no_response")
	case proxy.OutcomeRespond:
		return h.writeResponse(c, req, out, out.Response, requestID, started)
	default:
		// 未知结果不能退化为放行。
		h.logResult(req, out, requestID, 0, started, fmt.Errorf("unexpected outcome %s", out.Kind))
		return writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}
}

func (h *interceptHandler) writeResponse(
	c fiber.Ctx,
	req fetch.Request,
	out proxy.Outcome,
	resp *fetch.Response,
	requestID string,
	started time.Time,
) error {
	if resp == nil {
		h.logResult(req, out, requestID, 0, started, nil)
		return writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}
	body, err := resp.Bytes()
	if err != nil {
		h.logResult(req, out, requestID, resp.Status, started, err)
		return writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}

	copyResponseHeaders(c, resp.Header)
	setOutcomeHeaders(c, out)
	c.Status(resp.Status)
	h.logResult(req, out, requestID, resp.Status, started, nil)

	if req.Method == http.MethodHead {
		return nil
	}
	return c.Send(body)
}

// buildRequest 以 Host 头 + 原始 URI 还原目标 URL；绝对形式的请求行（正向代理）直接使用。
func buildRequest(c fiber.Ctx) (fetch.Request, error) {
	req, err := fetch.NewRequest(c.Method(), targetURL(c), fiberHeadersAsHTTP(c))
	if err != nil {
		return req, err
	}
	if body := c.Body(); len(body) > 0 {
		req.Body = append([]byte(nil), body...)
	}
	return req, nil
}

// targetURL 优先使用请求行中的原始 URI：绝对形式时其 host 覆盖 Host 头。
// Request().RequestURI() 只返回解析后的路径，必须读取 Header.RequestURI()。
func targetURL(c fiber.Ctx) string {
	uri := string(c.Request().Header.RequestURI())
	lower := strings.ToLower(uri)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return uri
	}
	if uri == "" {
		uri = "/"
	}
	return requestScheme(c) + "://" + getHostHeader(c) + uri
}

func requestScheme(c fiber.Ctx) string {
	if proto := c.Get("X-Forwarded-Proto"); proto != "" {
		first, _, _ := strings.Cut(proto, ",")
		if scheme := strings.ToLower(strings.TrimSpace(first)); scheme == "http" || scheme == "https" {
			return scheme
		}
	}
	return c.Scheme()
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if fetch.IsHopByHopHeader(key) || strings.EqualFold(key, fiber.HeaderContentLength) {
			continue
		}
		for i, value := range values {
			if i == 0 {
				c.Set(key, value)
				continue
			}
			c.Response().Header.Add(key, value)
		}
	}
}

func setOutcomeHeaders(c fiber.Ctx, out proxy.Outcome) {
	c.Set("X-Precache-Outcome", out.Kind.String())
	if out.Strategy != "" {
		c.Set("X-Precache-Strategy", out.Strategy)
	}
	c.Set("X-Precache-Cache-Hit", strconv.FormatBool(out.CacheHit))
}

func writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *interceptHandler) logResult(
	req fetch.Request,
	out proxy.Outcome,
	requestID string,
	status int,
	started time.Time,
	err error,
) {
	fields := logging.RequestFields(out.Strategy, req.Origin(), req.Method, req.URL.String(), out.CacheHit)
	fields["action"] = "proxy"
	fields["outcome"] = out.Kind.String()
	fields["status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["outcome"] = "error"
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}
