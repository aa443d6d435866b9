package handlerUtil

import (
	"TrafficSignAPI/internal/api/inference"
	"TrafficSignAPI/pkg/log"
	"TrafficSignAPI/pkg/response"
	"errors"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

const HeaderTraceID = "X-Trace-ID"

const msgPredictionFailed = "Prediction failed"

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	TraceID string `json:"-"`
}

type ErrorHandler struct {
	logger *logrus.Logger
}

func New(logger *logrus.Logger) *ErrorHandler {
	return &ErrorHandler{
		logger: logger,
	}
}

func (h *ErrorHandler) Handle(c *fiber.Ctx, requestID string, err error, path string, operation string) error {
	status, body := h.Resolve(requestID, err, path, operation)
	if body.TraceID != "" {
		c.Set(HeaderTraceID, body.TraceID)
	}
	return c.Status(status).JSON(body)
}

// Resolve logs err and returns the status and body a client may see.
// Detection failures are reported without internal detail.
func (h *ErrorHandler) Resolve(requestID string, err error, path string, operation string) (int, ErrorResponse) {
	fields := log.Fields{
		log.RequestIDKey: requestID,
		"error":          err.Error(),
		"path":           path,
		"operation":      operation,
	}

	switch {
	case errors.Is(err, inference.ErrDecode):
		h.logger.WithFields(fields).Warn("Image could not be decoded")
		return fiber.StatusBadRequest, ErrorResponse{Error: msgPredictionFailed}

	case errors.Is(err, inference.ErrModelLoad),
		errors.Is(err, inference.ErrInference),
		errors.Is(err, inference.ErrAudit):
		traceID := log.ErrorWithTraceID(fields, "Prediction failed")
		return fiber.StatusInternalServerError, ErrorResponse{Error: msgPredictionFailed, TraceID: traceID}
	}

	var respErr *response.Error
	if errors.As(err, &respErr) {
		fields["code"] = respErr.Code
		h.logger.WithFields(fields).Warn("Operation failed with error response")
		return respErr.Code, ErrorResponse{Error: respErr.Error()}
	}

	traceID := log.ErrorWithTraceID(fields, "Unexpected error")
	return fiber.StatusInternalServerError, ErrorResponse{
		Error:   "An unexpected error occurred",
		TraceID: traceID,
	}
}

func (h *ErrorHandler) HandleValidationError(c *fiber.Ctx, requestID string, err error, path string) error {
	h.logger.WithFields(log.Fields{
		log.RequestIDKey: requestID,
		"error":          err.Error(),
		"path":           path,
	}).Warn("Validation failed")

	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
		Error: "Validation failed: " + err.Error(),
		Code:  "VALIDATION_ERROR",
	})
}

func (h *ErrorHandler) HandleSuccess(c *fiber.Ctx, statusCode int, data interface{}) error {
	if data == nil {
		return c.SendStatus(statusCode)
	}
	return c.Status(statusCode).JSON(data)
}
