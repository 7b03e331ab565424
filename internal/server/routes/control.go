package routes

import (
	"encoding/json"
	"errors"
	"sort"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/field-hub/field-hub/internal/queue"
	"github.com/field-hub/field-hub/internal/store"
	"github.com/field-hub/field-hub/internal/syncer"
	"github.com/field-hub/field-hub/internal/version"
)

// RegisterControlRoutes 暴露 /-/ 前缀下的控制面接口：代际切换、同步触发与状态查询。
// 这些路径不经过拦截层，供运维脚本与发布流水线直接调用。
func RegisterControlRoutes(
	app *fiber.App,
	stores *store.Manager,
	q *queue.Store,
	coordinator *syncer.Coordinator,
	logger *logrus.Logger,
) {
	if app == nil || stores == nil {
		return
	}

	app.Post("/-/control/activate", func(c fiber.Ctx) error {
		var payload activatePayload
		if err := json.Unmarshal(c.Body(), &payload); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_activate_payload"})
		}
		if payload.Generation <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "generation_must_be_positive"})
		}

		previous := stores.Generation()
		if err := stores.Activate(c.Context(), payload.Generation); err != nil {
			logActivate(logger, previous, payload.Generation, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "activate_failed"})
		}

		logActivate(logger, previous, payload.Generation, nil)
		return c.JSON(fiber.Map{
			"generation":          stores.Generation(),
			"previous_generation": previous,
		})
	})

	app.Get("/-/control/generation", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"generation": stores.Generation(),
			"name":       stores.GenerationName(),
		})
	})

	app.Post("/-/sync/:tag", func(c fiber.Ctx) error {
		tag := syncer.Tag(c.Params("tag"))
		if err := coordinator.Trigger(c.Context(), tag); err != nil {
			var unknown syncer.ErrUnknownTag
			if errors.As(err, &unknown) {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown_sync_tag"})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "sync_failed"})
		}
		return c.JSON(fiber.Map{"triggered": string(tag)})
	})

	app.Get("/-/status", func(c fiber.Ctx) error {
		counts, err := stores.EntryCounts(c.Context())
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "status_unavailable"})
		}

		payload := fiber.Map{
			"version":    version.Full(),
			"generation": stores.Generation(),
			"stores":     encodeStoreCounts(counts),
		}
		if q != nil {
			depths, err := q.Depths(c.Context())
			if err != nil {
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "status_unavailable"})
			}
			payload["queue"] = encodeQueueDepths(depths)
		}
		return c.JSON(payload)
	})
}

type activatePayload struct {
	Generation int `json:"generation"`
}

type storeCountPayload struct {
	Store   string `json:"store"`
	Entries int    `json:"entries"`
}

type queueDepthPayload struct {
	Kind  string `json:"kind"`
	Depth int    `json:"depth"`
}

func encodeStoreCounts(counts map[store.Name]int) []storeCountPayload {
	if len(counts) == 0 {
		return nil
	}
	result := make([]storeCountPayload, 0, len(counts))
	for name, entries := range counts {
		result = append(result, storeCountPayload{Store: string(name), Entries: entries})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Store < result[j].Store
	})
	return result
}

func encodeQueueDepths(depths map[queue.Kind]int) []queueDepthPayload {
	if len(depths) == 0 {
		return nil
	}
	result := make([]queueDepthPayload, 0, len(depths))
	for kind, depth := range depths {
		result = append(result, queueDepthPayload{Kind: string(kind), Depth: depth})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Kind < result[j].Kind
	})
	return result
}

func logActivate(logger *logrus.Logger, previous, next int, err error) {
	if logger == nil {
		return
	}
	fields := logrus.Fields{"action": "activate"}
	fields["previous_generation"] = previous
	fields["generation"] = next
	if err != nil {
		fields["error"] = err.Error()
		logger.WithFields(fields).Error("generation_activate_failed")
		return
	}
	logger.WithFields(fields).Info("generation_activated")
}
