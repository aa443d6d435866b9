package inferenceHandler

import (
	inferenceService "TrafficSignAPI/internal/api/inference/service"
	"TrafficSignAPI/internal/middleware"
	"TrafficSignAPI/pkg/utils"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"
)

type InferenceHandler struct {
	log              *logrus.Logger
	validator        *validator.Validate
	middleware       middleware.Middleware
	inferenceService inferenceService.IInferenceService
	utils            utils.IUtils
	defaultConf      float64
}

func New(
	log *logrus.Logger,
	validator *validator.Validate,
	middleware middleware.Middleware,
	is inferenceService.IInferenceService,
	utils utils.IUtils,
	defaultConf float64,
) *InferenceHandler {
	return &InferenceHandler{
		inferenceService: is,
		log:              log,
		validator:        validator,
		middleware:       middleware,
		utils:            utils,
		defaultConf:      defaultConf,
	}
}

func (h *InferenceHandler) Start(srv fiber.Router) {
	srv.Post("/warmup", h.Warmup)
	srv.Post("/predict", h.middleware.NewRateLimiter, h.Predict)
	srv.Post("/predict_batch", h.middleware.NewRateLimiter, h.PredictBatch)

	ws := srv.Group("/ws")
	ws.Use("/predict", h.middleware.NewRateLimiter, h.streamUpgrade)
	ws.Get("/predict", websocket.New(h.handleStream))
}
