// Package roboflow talks to the Roboflow hosted inference API.
package roboflow

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"detectserver/internal/config"
)

const retryDelay = 200 * time.Millisecond

// Prediction is a single detected object. X and Y are the box center in pixels.
type Prediction struct {
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Width       float64 `json:"width"`
	Height      float64 `json:"height"`
	Confidence  float64 `json:"confidence"`
	Class       string  `json:"class"`
	ClassID     int     `json:"class_id"`
	DetectionID string  `json:"detection_id"`
}

// Bounds returns the top-left and bottom-right corners of the box.
func (p Prediction) Bounds() (x1, y1, x2, y2 int) {
	x1 = int(p.X - p.Width/2)
	y1 = int(p.Y - p.Height/2)
	x2 = int(p.X + p.Width/2)
	y2 = int(p.Y + p.Height/2)
	return
}

// ImageInfo is the size of the image the model saw.
type ImageInfo struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Response is the body returned by the hosted detection endpoint.
type Response struct {
	Time        float64      `json:"time"`
	Image       ImageInfo    `json:"image"`
	Predictions []Prediction `json:"predictions"`
}

// Thresholds are expressed in percent, as the hosted API expects.
type Thresholds struct {
	Confidence int
	Overlap    int
}

// Predictor runs detection on one encoded image.
type Predictor interface {
	Predict(ctx context.Context, image []byte, th Thresholds) (*Response, error)
}

// Client holds the API key and HTTP clients for both Roboflow endpoints.
type Client struct {
	apiKey    string
	inference *resty.Client
	api       *resty.Client
}

// New returns a client configured from cfg.
func New(cfg *config.Config) *Client {
	newResty := func(baseURL string) *resty.Client {
		return resty.New().
			SetBaseURL(baseURL).
			SetTimeout(cfg.RoboflowTimeout).
			SetRetryCount(cfg.RoboflowRetries).
			SetRetryWaitTime(retryDelay)
	}

	return &Client{
		apiKey:    cfg.RoboflowAPIKey,
		inference: newResty(cfg.RoboflowAPIURL),
		api:       newResty(cfg.RoboflowAPIRoot),
	}
}

type projectInfo struct {
	Project struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"project"`
	Versions []struct {
		ID string `json:"id"`
	} `json:"versions"`
}

// CheckProject verifies that the workspace/project exists and is readable with the API key.
func (c *Client) CheckProject(ctx context.Context, workspace, project string) error {
	var info projectInfo
	resp, err := c.api.R().
		SetContext(ctx).
		SetQueryParam("api_key", c.apiKey).
		SetResult(&info).
		Get(fmt.Sprintf("/%s/%s", workspace, project))
	if err != nil {
		return fmt.Errorf("couldn't reach roboflow api: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("project %s/%s: %s", workspace, project, resp.Status())
	}
	return nil
}

// Model selects a project version. The returned model uses the hosted inference endpoint.
func (c *Client) Model(project string, version int) *Model {
	return c.ModelByID(project + "/" + strconv.Itoa(version))
}

// ModelByID selects a model by its "project/version" identifier.
func (c *Client) ModelByID(modelID string) *Model {
	return &Model{client: c, id: modelID}
}

// Model is a single hosted model version.
type Model struct {
	client *Client
	id     string
}

// ID returns the "project/version" identifier.
func (m *Model) ID() string {
	return m.id
}

// Predict sends the image base64-encoded and returns the decoded predictions.
func (m *Model) Predict(ctx context.Context, image []byte, th Thresholds) (*Response, error) {
	var out Response
	resp, err := m.client.inference.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"api_key":    m.client.apiKey,
			"confidence": strconv.Itoa(th.Confidence),
			"overlap":    strconv.Itoa(th.Overlap),
			"format":     "json",
		}).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetBody(base64.StdEncoding.EncodeToString(image)).
		SetResult(&out).
		Post("/" + m.id)
	if err != nil {
		return nil, fmt.Errorf("predict %s: %w", m.id, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("predict %s: %s: %s", m.id, resp.Status(), resp.String())
	}

	return &out, nil
}
