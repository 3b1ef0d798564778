package proxy

import (
	"context"

	"github.com/any-hub/precache/internal/fetch"
)

// OutcomeKind 描述拦截结果的形态。零值 OutcomeUnknown 只出现在错误路径上，
// 调用方不得把它当作放行处理。
type OutcomeKind int

const (
	// OutcomeUnknown 表示策略失败，没有可交付的结果。
	OutcomeUnknown OutcomeKind = iota
	// OutcomePassthrough 表示不介入，请求按原样交给网络。
	OutcomePassthrough
	// OutcomeRespond 表示由策略给出响应（缓存或网络）。
	OutcomeRespond
	// OutcomeNoResponse 表示策略无法给出任何响应（cache-first 回源失败）。
	OutcomeNoResponse
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomePassthrough:
		return "passthrough"
	case OutcomeRespond:
		return "respond"
	case OutcomeNoResponse:
		return "no-response"
	default:
		return "unknown"
	}
}

// 策略名称，同时用于日志字段与 X-Precache-Strategy 响应头。
const (
	StrategyStaleWhileRevalidate = "stale-while-revalidate"
	StrategyCacheFirst           = "cache-first"
)

// Outcome 是一次拦截的结果。Kind 为 OutcomeRespond 时 Response 非空。
type Outcome struct {
	Kind     OutcomeKind
	Response *fetch.Response
	Strategy string
	CacheHit bool
}

func respond(strategy string, resp *fetch.Response, hit bool) Outcome {
	return Outcome{Kind: OutcomeRespond, Response: resp, Strategy: strategy, CacheHit: hit}
}

// failed 是与 error 一起返回的结果，保留策略名便于日志与响应头。
func failed(strategy string) Outcome {
	return Outcome{Kind: OutcomeUnknown, Strategy: strategy}
}

// Strategy 是同源/跨域请求各自的新鲜度策略。
type Strategy interface {
	Name() string
	Serve(ctx context.Context, req fetch.Request) (Outcome, error)
}
