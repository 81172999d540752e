package warp

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

// Topic suffixes below the publish prefix.
const (
	TopicLandmarks = "landmarks"
	TopicTransform = "transform"
	TopicEdit      = "edit"
)

// Topic joins prefix and suffix into an MQTT topic.
func Topic(prefix, suffix string) string {
	return fmt.Sprintf("%s/%s", prefix, suffix)
}

// LandmarksMessage is the payload of <prefix>/landmarks.
type LandmarksMessage struct {
	Dim       int    `json:"dim"`
	Version   uint64 `json:"version"`
	Active    int    `json:"active"`
	Rows      []Row  `json:"rows"`
	Timestamp int64  `json:"timestamp"`
}

// TransformStatus describes the transform currently fitted to a table. It is
// the payload of <prefix>/transform and of GET /transform.
type TransformStatus struct {
	Model   string `json:"model"`
	Dim     int    `json:"dim"`
	Active  int    `json:"active"`
	Version uint64 `json:"version"`
	// Affine is [L | t] of a linear model, or the affine part of a spline.
	Affine    [][]float64 `json:"affine,omitempty"`
	Rotation  *float64    `json:"rotation,omitempty"`
	RMS       float64     `json:"rms"`
	Error     string      `json:"error,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// DescribeTransform solves (or reuses) the table transform for model and
// summarises it.
func DescribeTransform(t *Table, model Model) TransformStatus {
	status := TransformStatus{
		Model:     model.String(),
		Dim:       t.Dim(),
		Version:   t.Version(),
		Timestamp: time.Now().Unix(),
	}
	tr, err := t.Transform(model)
	moving, fixed := t.SnapshotPairs()
	_, status.Active = moving.Dims()
	if err != nil {
		status.Error = err.Error()
		return status
	}
	if a := affineOf(tr); a != nil {
		status.Affine = a.Rows()
		if a.Dim() == 2 {
			deg := a.RotationAngle()
			status.Rotation = &deg
		}
	}
	if res, err := Residuals(tr, moving, fixed); err == nil {
		status.RMS = RMS(res)
	}
	return status
}

func affineOf(tr Transform) *Affine {
	switch v := tr.(type) {
	case *ModelTransform:
		return v.Affine()
	case *ThinPlateSpline:
		return v.AffinePart()
	case *Embed2D:
		return affineOf(v.Unwrap())
	}
	return nil
}

// Publisher publishes table state to MQTT.
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
	log           *logrus.Entry

	mu   sync.Mutex
	last *TransformStatus
}

// NewPublisher creates a publisher. If client is nil, publishing is
// disabled.
func NewPublisher(client mqtt.Client, prefix string, log *logrus.Entry) *Publisher {
	if prefix == "" {
		prefix = "warpmesh"
	}
	if log == nil {
		log = logrus.StandardLogger().WithField("component", "publisher")
	}
	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		qos:           0,    // fire and forget
		retain:        true, // late subscribers get the current state
		log:           log,
	}
}

// PublishLandmarks publishes every row of t to <prefix>/landmarks.
func (p *Publisher) PublishLandmarks(t *Table) error {
	msg := LandmarksMessage{
		Dim:       t.Dim(),
		Version:   t.Version(),
		Active:    t.NumActive(),
		Rows:      t.Rows(),
		Timestamp: time.Now().Unix(),
	}
	if err := p.publishJSON(TopicLandmarks, msg); err != nil {
		return err
	}
	p.log.WithFields(logrus.Fields{"rows": len(msg.Rows), "active": msg.Active}).Debug("published landmarks")
	return nil
}

// PublishTransform publishes status to <prefix>/transform.
func (p *Publisher) PublishTransform(status TransformStatus) error {
	if err := p.publishJSON(TopicTransform, status); err != nil {
		return err
	}
	p.mu.Lock()
	p.last = &status
	p.mu.Unlock()
	p.log.WithFields(logrus.Fields{"model": status.Model, "active": status.Active, "rms": status.RMS}).Debug("published transform")
	return nil
}

// LastTransform returns the most recently published status.
func (p *Publisher) LastTransform() (TransformStatus, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return TransformStatus{}, false
	}
	return *p.last, true
}

func (p *Publisher) publishJSON(suffix string, v any) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", suffix, err)
	}
	topic := Topic(p.publishPrefix, suffix)
	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether published messages should be retained by the broker
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}
