package routes

import (
	"context"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/precache/internal/cache"
	"github.com/any-hub/precache/internal/lifecycle"
	"github.com/any-hub/precache/internal/worker"
)

// Source 是诊断接口读取运行状态所需的最小能力，*worker.Worker 即满足。
type Source interface {
	State() worker.State
	Controlling() bool
	Version() string
	Origin() string
	Reports() (lifecycle.InstallReport, lifecycle.ActivateReport)
}

// RegisterDiagnosticsRoutes 暴露 /-/status 与 /-/generations 诊断接口，
// 供运维确认当前缓存代、生命周期状态与缓存内容。
func RegisterDiagnosticsRoutes(app *fiber.App, source Source, storage cache.Storage) {
	if app == nil || source == nil || storage == nil {
		return
	}

	app.Get("/-/status", func(c fiber.Ctx) error {
		installReport, activateReport := source.Reports()
		return c.JSON(statusPayload{
			State:       string(source.State()),
			Controlling: source.Controlling(),
			Version:     source.Version(),
			Origin:      source.Origin(),
			Install:     encodeInstall(installReport),
			Activate:    encodeActivate(activateReport),
		})
	})

	app.Get("/-/generations", func(c fiber.Ctx) error {
		ctx := requestContext(c)
		names, err := storage.Keys(ctx)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "storage_unavailable"})
		}
		result := make([]generationPayload, 0, len(names))
		for _, name := range names {
			gen, err := storage.Open(ctx, name)
			if err != nil {
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "storage_unavailable"})
			}
			keys, err := gen.Keys(ctx)
			if err != nil {
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "storage_unavailable"})
			}
			result = append(result, generationPayload{
				Name:    name,
				Current: name == source.Version(),
				Entries: len(keys),
			})
		}
		return c.JSON(fiber.Map{"generations": result})
	})

	app.Get("/-/generations/:name", func(c fiber.Ctx) error {
		ctx := requestContext(c)
		name, err := url.PathUnescape(strings.TrimSpace(c.Params("name")))
		if err != nil || name == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "generation_name_required"})
		}
		// 只读接口：Open 会创建不存在的代，必须先确认存在。
		exists, err := storage.Has(ctx, name)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "storage_unavailable"})
		}
		if !exists {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "generation_not_found"})
		}
		gen, err := storage.Open(ctx, name)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "storage_unavailable"})
		}
		keys, err := gen.Keys(ctx)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "storage_unavailable"})
		}
		return c.JSON(fiber.Map{
			"name":    name,
			"current": name == source.Version(),
			"entries": keys,
		})
	})
}

type statusPayload struct {
	State       string          `json:"state"`
	Controlling bool            `json:"controlling"`
	Version     string          `json:"version"`
	Origin      string          `json:"origin"`
	Install     installPayload  `json:"install"`
	Activate    activatePayload `json:"activate"`
}

type installPayload struct {
	Cached     []string         `json:"cached"`
	Failed     []failurePayload `json:"failed"`
	DurationMS int64            `json:"duration_ms"`
}

type activatePayload struct {
	Deleted []string         `json:"deleted"`
	Failed  []failurePayload `json:"failed"`
}

type failurePayload struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

type generationPayload struct {
	Name    string `json:"name"`
	Current bool   `json:"current"`
	Entries int    `json:"entries"`
}

func encodeInstall(report lifecycle.InstallReport) installPayload {
	payload := installPayload{
		Cached:     append([]string{}, report.Cached...),
		Failed:     make([]failurePayload, 0, len(report.Failed)),
		DurationMS: report.Duration.Milliseconds(),
	}
	for _, failure := range report.Failed {
		payload.Failed = append(payload.Failed, failurePayload{Name: failure.Entry, Error: errorString(failure.Err)})
	}
	return payload
}

func encodeActivate(report lifecycle.ActivateReport) activatePayload {
	payload := activatePayload{
		Deleted: append([]string{}, report.Deleted...),
		Failed:  make([]failurePayload, 0, len(report.Failed)),
	}
	for _, failure := range report.Failed {
		payload.Failed = append(payload.Failed, failurePayload{Name: failure.Name, Error: errorString(failure.Err)})
	}
	return payload
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func requestContext(c fiber.Ctx) context.Context {
	if ctx := c.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
