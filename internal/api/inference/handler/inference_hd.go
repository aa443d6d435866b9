package inferenceHandler

import (
	"TrafficSignAPI/internal/api/inference"
	contextPkg "TrafficSignAPI/pkg/context"
	"TrafficSignAPI/pkg/handlerUtil"
	"TrafficSignAPI/pkg/log"
	"TrafficSignAPI/pkg/utils"
	"errors"
	"mime/multipart"

	"github.com/gofiber/fiber/v2"
)

func (h *InferenceHandler) Warmup(ctx *fiber.Ctx) error {
	c := contextPkg.FromFiberCtx(ctx)
	errHandler := handlerUtil.New(h.log)

	return errHandler.HandleSuccess(ctx, fiber.StatusOK, h.inferenceService.Warmup(c))
}

func (h *InferenceHandler) Predict(ctx *fiber.Ctx) error {
	requestID := h.middleware.GetRequestID(ctx)
	c := contextPkg.FromFiberCtx(ctx)

	errHandler := handlerUtil.New(h.log)

	query, err := h.parseQuery(ctx)
	if err != nil {
		return errHandler.HandleValidationError(ctx, requestID, err, ctx.Path())
	}

	file, err := ctx.FormFile("file")
	if err != nil {
		return errHandler.Handle(ctx, requestID, inference.ErrNoFile, ctx.Path(), "form_file")
	}

	h.log.WithFields(log.Fields{
		"request_id": requestID,
		"path":       ctx.Path(),
		"file_name":  file.Filename,
		"file_size":  file.Size,
		"conf":       query.Conf,
	}).Debug("Processing prediction request")

	upload, err := h.readUpload(file)
	if err != nil {
		return errHandler.Handle(ctx, requestID, err, ctx.Path(), "read_upload")
	}

	result, err := h.inferenceService.Predict(c, upload, query.Conf)
	if err != nil {
		return errHandler.Handle(ctx, requestID, err, ctx.Path(), "predict")
	}

	return errHandler.HandleSuccess(ctx, fiber.StatusOK, result)
}

func (h *InferenceHandler) PredictBatch(ctx *fiber.Ctx) error {
	requestID := h.middleware.GetRequestID(ctx)
	c := contextPkg.FromFiberCtx(ctx)

	errHandler := handlerUtil.New(h.log)

	query, err := h.parseQuery(ctx)
	if err != nil {
		return errHandler.HandleValidationError(ctx, requestID, err, ctx.Path())
	}

	form, err := ctx.MultipartForm()
	if err != nil {
		return errHandler.Handle(ctx, requestID, inference.ErrNoFile, ctx.Path(), "multipart_form")
	}

	files := form.File["files"]
	if len(files) == 0 {
		return errHandler.Handle(ctx, requestID, inference.ErrNoFile, ctx.Path(), "multipart_form")
	}

	h.log.WithFields(log.Fields{
		"request_id": requestID,
		"path":       ctx.Path(),
		"batch_size": len(files),
		"conf":       query.Conf,
	}).Debug("Processing batch prediction request")

	uploads := make([]inference.Upload, 0, len(files))
	for _, file := range files {
		upload, err := h.readUpload(file)
		if err != nil {
			return errHandler.Handle(ctx, requestID, err, ctx.Path(), "read_upload")
		}
		uploads = append(uploads, upload)
	}

	result, err := h.inferenceService.PredictBatch(c, uploads, query.Conf)
	if err != nil {
		return errHandler.Handle(ctx, requestID, err, ctx.Path(), "predict_batch")
	}

	return errHandler.HandleSuccess(ctx, fiber.StatusOK, result)
}

func (h *InferenceHandler) parseQuery(ctx *fiber.Ctx) (inference.PredictQuery, error) {
	query := inference.PredictQuery{Conf: h.defaultConf}
	if err := ctx.QueryParser(&query); err != nil {
		return query, err
	}
	if err := h.validator.Struct(query); err != nil {
		return query, err
	}
	return query, nil
}

func (h *InferenceHandler) readUpload(file *multipart.FileHeader) (inference.Upload, error) {
	if err := h.utils.ValidateImageFile(file); err != nil {
		switch {
		case errors.Is(err, utils.ErrNotAnImage):
			return inference.Upload{}, inference.ErrNotAnImage
		case errors.Is(err, utils.ErrFileTooLarge):
			return inference.Upload{}, inference.ErrFileTooLarge
		default:
			return inference.Upload{}, inference.ErrNoFile
		}
	}

	data, err := h.utils.ReadFile(file)
	if err != nil {
		return inference.Upload{}, err
	}

	return inference.Upload{Filename: file.Filename, Data: data}, nil
}
