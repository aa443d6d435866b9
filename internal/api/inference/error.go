package inference

import (
	"TrafficSignAPI/pkg/response"
	"net/http"
)

var (
	ErrNotAnImage   = response.NewError(http.StatusBadRequest, "Please upload an image file.")
	ErrNoFile       = response.NewError(http.StatusBadRequest, "No image file uploaded.")
	ErrFileTooLarge = response.NewError(http.StatusRequestEntityTooLarge, "Image file too large.")
	ErrDecode       = response.NewError(http.StatusBadRequest, "cannot decode image")
	ErrModelLoad    = response.NewError(http.StatusInternalServerError, "model load failed")
	ErrInference    = response.NewError(http.StatusInternalServerError, "inference failed")
	ErrAudit        = response.NewError(http.StatusInternalServerError, "audit log write failed")
)
