package inferenceHandler

import (
	"TrafficSignAPI/internal/api/inference"
	"TrafficSignAPI/internal/middleware"
	contextPkg "TrafficSignAPI/pkg/context"
	"TrafficSignAPI/pkg/handlerUtil"
	"fmt"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"
	"time"
)

const localConf = "conf"

type streamError struct {
	Error string `json:"error"`
	Frame int    `json:"frame"`
}

// streamUpgrade validates the query before the connection is upgraded so a
// bad threshold is reported as a plain HTTP error.
func (h *InferenceHandler) streamUpgrade(ctx *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(ctx) {
		return fiber.ErrUpgradeRequired
	}

	query, err := h.parseQuery(ctx)
	if err != nil {
		errHandler := handlerUtil.New(h.log)
		return errHandler.HandleValidationError(ctx, h.middleware.GetRequestID(ctx), err, ctx.Path())
	}

	ctx.Locals(localConf, query.Conf)
	return ctx.Next()
}

func (h *InferenceHandler) handleStream(c *websocket.Conn) {
	conf, ok := c.Locals(localConf).(float64)
	if !ok {
		conf = h.defaultConf
	}
	requestID, ok := c.Locals(middleware.RequestIDKey).(string)
	if !ok || requestID == "" {
		requestID = "unknown"
	}
	ctx := contextPkg.WithRequestID(context.Background(), requestID)
	errHandler := handlerUtil.New(h.log)

	entry := h.log.WithFields(logrus.Fields{
		"request_id": requestID,
		"conf":       conf,
	})
	entry.Info("Stream client connected")
	defer entry.Info("Stream client disconnected")

	c.SetPingHandler(func(data string) error {
		if err := c.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second)); err != nil {
			entry.Errorf("Error sending pong: %v", err)
		}
		return nil
	})

	maxReadTimeout := 60 * time.Second
	frame := 0

	for {
		if err := c.SetReadDeadline(time.Now().Add(maxReadTimeout)); err != nil {
			entry.Errorf("Error setting read deadline: %v", err)
			break
		}

		messageType, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				entry.Warnf("Stream read error: %v", err)
			}
			break
		}

		if messageType != websocket.BinaryMessage {
			entry.Warnf("Received unexpected message type: %d", messageType)
			continue
		}

		frame++
		var reply interface{}
		result, err := h.inferenceService.PredictFrame(ctx, inference.Upload{
			Filename: fmt.Sprintf("stream-%s-%d", requestID, frame),
			Data:     message,
		}, conf)
		if err != nil {
			_, body := errHandler.Resolve(requestID, err, "/ws/predict", "predict_frame")
			reply = streamError{Error: body.Error, Frame: frame}
		} else {
			reply = result
		}

		if err := c.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
			entry.Errorf("Error setting write deadline: %v", err)
			break
		}
		if err := c.WriteJSON(reply); err != nil {
			entry.Errorf("Error writing JSON response: %v", err)
			break
		}
	}
}
