package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// InterceptHandler describes the component responsible for answering
// intercepted requests. It allows injecting fake handlers during tests.
type InterceptHandler interface {
	Handle(fiber.Ctx) error
}

// InterceptHandlerFunc adapts a function to the InterceptHandler interface.
type InterceptHandlerFunc func(fiber.Ctx) error

// Handle makes InterceptHandlerFunc satisfy InterceptHandler.
func (f InterceptHandlerFunc) Handle(c fiber.Ctx) error {
	return f(c)
}

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger     *logrus.Logger
	Intercept  InterceptHandler
	ListenPort int
}

const contextKeyRequestID = "_fieldhub_request_id"

// NewApp builds a Fiber application with request-ID middleware and a
// catch-all interception route. Control paths under /-/ bypass interception.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Intercept == nil {
		return nil, errors.New("intercept handler is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware())

	app.All("/*", func(c fiber.Ctx) error {
		if isControlPath(string(c.Request().URI().Path())) {
			return c.Next()
		}
		return opts.Intercept.Handle(c)
	})

	return app, nil
}

// requestContextMiddleware 为每个请求生成 ID，便于跨日志关联。
func requestContextMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

func isControlPath(path string) bool {
	return strings.HasPrefix(path, "/-/")
}
