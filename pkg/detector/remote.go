package detector

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const HeaderModelWeights = "X-Model-Weights"

type RemoteConfig struct {
	URL          string
	WeightsPath  string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RemoteRequest is the frame sent to the model server for one image.
type RemoteRequest struct {
	Conf  float64 `json:"conf"`
	Image string  `json:"image"`
}

type RemoteDetection struct {
	Class int        `json:"cls"`
	Conf  float32    `json:"conf"`
	XYXY  [4]float32 `json:"xyxy"`
}

type RemoteResponse struct {
	Detections []RemoteDetection `json:"detections"`
	Error      string            `json:"error,omitempty"`
}

// Remote delegates detection to a model server over a websocket. The server
// loads the weights named in the handshake. One request is in flight at a
// time on the connection.
type Remote struct {
	mu     sync.Mutex
	cfg    RemoteConfig
	conn   *websocket.Conn
	log    *logrus.Logger
	closed bool
}

func DialRemote(ctx context.Context, cfg RemoteConfig, log *logrus.Logger) (*Remote, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("model server URL not configured")
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 5 * time.Second
	}

	r := &Remote{cfg: cfg, log: log}
	if err := r.connect(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Remote) connect(ctx context.Context) error {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = r.cfg.DialTimeout

	header := http.Header{}
	header.Set(HeaderModelWeights, r.cfg.WeightsPath)

	conn, _, err := dialer.DialContext(ctx, r.cfg.URL, header)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", r.cfg.URL, err)
	}

	conn.SetPingHandler(func(appData string) error {
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(r.cfg.WriteTimeout))
		if err != nil {
			r.log.Warnf("Error sending pong to model server: %v", err)
		}
		return nil
	})

	r.conn = conn
	r.log.WithFields(logrus.Fields{
		"url":     r.cfg.URL,
		"weights": r.cfg.WeightsPath,
	}).Info("Connected to model server")
	return nil
}

func (r *Remote) Detect(ctx context.Context, img image.Image, conf float64) ([]Raw, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	payload, err := json.Marshal(RemoteRequest{
		Conf:  conf,
		Image: base64.StdEncoding.EncodeToString(buf.Bytes()),
	})
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}
	if r.conn == nil {
		if err := r.connect(ctx); err != nil {
			return nil, err
		}
	}

	r.conn.SetWriteDeadline(time.Now().Add(r.cfg.WriteTimeout))
	if err := r.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		r.dropConn()
		return nil, fmt.Errorf("error sending frame: %w", err)
	}

	r.conn.SetReadDeadline(time.Now().Add(r.cfg.ReadTimeout))
	_, message, err := r.conn.ReadMessage()
	if err != nil {
		r.dropConn()
		return nil, fmt.Errorf("error reading detections: %w", err)
	}
	r.conn.SetReadDeadline(time.Time{})
	r.conn.SetWriteDeadline(time.Time{})

	var resp RemoteResponse
	if err := json.Unmarshal(message, &resp); err != nil {
		return nil, fmt.Errorf("error unmarshaling detections: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("model server: %s", resp.Error)
	}

	dets := make([]Raw, 0, len(resp.Detections))
	for _, d := range resp.Detections {
		dets = append(dets, Raw{
			ClassID:    d.Class,
			Confidence: d.Conf,
			X1:         d.XYXY[0],
			Y1:         d.XYXY[1],
			X2:         d.XYXY[2],
			Y2:         d.XYXY[3],
		})
	}
	return dets, nil
}

// dropConn forgets a broken connection; the next Detect dials again.
func (r *Remote) dropConn() {
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
}

func (r *Remote) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	if r.conn == nil {
		return nil
	}
	r.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(r.cfg.WriteTimeout))
	err := r.conn.Close()
	r.conn = nil
	return err
}
