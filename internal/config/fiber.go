package config

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

func NewFiber(logger *logrus.Logger, settings *Settings) *fiber.App {
	app := fiber.New(
		fiber.Config{
			AppName:               "yolo-traffic-sign-api",
			BodyLimit:             bodyLimit(settings),
			DisableKeepalive:      false,
			StrictRouting:         true,
			CaseSensitive:         true,
			EnablePrintRoutes:     settings.Env == "development",
			DisableStartupMessage: settings.Env == "test",
			JSONEncoder:           jsoniter.Marshal,
			JSONDecoder:           jsoniter.Unmarshal,
			ErrorHandler: func(c *fiber.Ctx, err error) error {
				code := fiber.StatusInternalServerError
				var fe *fiber.Error
				if errors.As(err, &fe) {
					code = fe.Code
				}
				if code >= fiber.StatusInternalServerError {
					logger.WithFields(logrus.Fields{
						"path":  c.Path(),
						"error": err.Error(),
					}).Error("Unhandled error")
				}
				return c.Status(code).JSON(fiber.Map{
					"error": errorMessage(code, err),
				})
			},
		})

	return app
}

// bodyLimit leaves room for a full batch of maximum-size uploads.
func bodyLimit(settings *Settings) int {
	mb := settings.MaxUploadMB
	if mb <= 0 {
		mb = 20
	}
	return mb * 16 * 1024 * 1024
}

func errorMessage(code int, err error) string {
	if code >= fiber.StatusInternalServerError {
		return "Internal server error"
	}
	return err.Error()
}
