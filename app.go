package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kwv/warpmesh/warp"
	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"
)

// App encapsulates the application state and dependencies
type App struct {
	Config     *warp.Config
	Table      *warp.Table
	Model      warp.Model
	MQTTClient *warp.MQTTClient
	Publisher  *warp.Publisher
	Log        *logrus.Entry

	ConfigFile    string
	LandmarksFile string
	Masked        bool
	HTTPPort      int

	changes chan struct{}
}

// NewApp creates an App with the default configuration.
func NewApp() *App {
	return &App{
		Config:  warp.DefaultConfig(),
		Model:   warp.ModelTPS,
		Log:     logrus.StandardLogger().WithField("component", "app"),
		changes: make(chan struct{}, 1),
	}
}

// ApplyOptions loads the configuration and the landmark table according to
// the global flags.
func (a *App) ApplyOptions(opts AppOptions) error {
	if opts.LogLevel != "" {
		level, err := logrus.ParseLevel(opts.LogLevel)
		if err != nil {
			return fmt.Errorf("--log-level: %w", err)
		}
		logrus.SetLevel(level)
	}

	a.ConfigFile = opts.ConfigFile
	if a.ConfigFile != "" {
		config, err := warp.LoadConfig(a.ConfigFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		a.Config = config
		a.Log.WithField("path", a.ConfigFile).Info("loaded config")
	} else {
		a.Config.ApplyEnv()
	}

	a.Model = a.Config.Model
	if opts.Model != "" {
		m, err := warp.ParseModel(opts.Model)
		if err != nil {
			return fmt.Errorf("--model: %w", err)
		}
		a.Model = m
	}
	a.Masked = opts.Masked
	if a.Masked && a.Config.Mask == nil {
		return fmt.Errorf("--masked needs a mask section in the config")
	}
	a.HTTPPort = a.Config.HTTP.Port
	if opts.HTTPPort != 0 {
		a.HTTPPort = opts.HTTPPort
	}

	a.LandmarksFile = a.Config.Landmarks
	if opts.Landmarks != "" {
		a.LandmarksFile = opts.Landmarks
	}
	return a.loadTable()
}

// loadTable reads the landmark file, or starts an empty table when there is
// none yet.
func (a *App) loadTable() error {
	tableOpts := append(a.Config.TableOptions(), warp.WithLogger(logrus.StandardLogger().WithField("component", "warp")))
	if a.LandmarksFile != "" {
		if _, err := os.Stat(a.LandmarksFile); err == nil {
			t, err := warp.LoadTable(a.LandmarksFile, tableOpts...)
			if err != nil {
				return err
			}
			if t.Dim() != a.Config.Dimensions {
				a.Log.WithFields(logrus.Fields{"file": t.Dim(), "config": a.Config.Dimensions}).
					Warn("landmark file dimension differs from config, using the file")
			}
			a.Table = t
			a.Log.WithFields(logrus.Fields{"path": a.LandmarksFile, "rows": t.Len(), "active": t.NumActive()}).Info("loaded landmarks")
			return nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("landmarks: %w", err)
		}
	}
	t, err := warp.NewTable(a.Config.Dimensions, tableOpts...)
	if err != nil {
		return err
	}
	a.Table = t
	return nil
}

// CurrentTransform returns the transform for the configured model, blended
// with the mask's local model when masking is enabled.
func (a *App) CurrentTransform() (warp.InvertibleTransform, error) {
	if !a.Masked {
		return a.Table.Transform(a.Model)
	}
	w, err := a.Config.Mask.WeightField()
	if err != nil {
		return nil, err
	}
	moving, fixed := a.Table.SnapshotPairs()
	return warp.SolveMasked(a.Config.Mask.Local, a.Model, w, moving, fixed, a.Config.SolveOptions())
}

// RunSolve prints the fitted transform as JSON.
func (a *App) RunSolve(w io.Writer) error {
	status := warp.DescribeTransform(a.Table, a.Model)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(status); err != nil {
		return err
	}
	if status.Error != "" {
		return errors.New(status.Error)
	}
	return nil
}

// WarpResult is the outcome of mapping one point.
type WarpResult struct {
	Input      warp.Point `json:"input"`
	Output     warp.Point `json:"output"`
	Inverse    bool       `json:"inverse"`
	Error      float64    `json:"error"`
	Iterations int        `json:"iterations,omitempty"`
	Reliable   bool       `json:"reliable"`
}

// warpPoint maps a moving point into fixed space, or a fixed point into
// moving space when inverse is set.
func warpPoint(tr warp.InvertibleTransform, p warp.Point, inverse bool, opts warp.InverseOptions) WarpResult {
	res := WarpResult{Input: p, Inverse: inverse, Reliable: true}
	if inverse {
		res.Output = tr.Apply(p)
		return res
	}
	if it, ok := tr.(warp.IterativeInverter); ok {
		inv := it.InverseWithOptions(p, opts)
		res.Output, res.Error, res.Iterations = inv.Point, inv.Error, inv.Iterations
		res.Reliable = inv.Reliable(opts)
		return res
	}
	res.Output = tr.ApplyInverse(p)
	return res
}

// RunWarp maps each point argument and prints one JSON line per point.
func (a *App) RunWarp(w io.Writer, points []string, inverse bool) error {
	tr, err := a.CurrentTransform()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	for _, s := range points {
		p, err := warp.ParsePoint(s)
		if err != nil {
			return err
		}
		if p.Dim() != tr.Dim() {
			return fmt.Errorf("point %s: %dD point for a %dD transform: %w", s, p.Dim(), tr.Dim(), warp.ErrDimensionMismatch)
		}
		if err := enc.Encode(warpPoint(tr, p, inverse, a.Config.Inverse.Transform)); err != nil {
			return err
		}
	}
	return nil
}

// RunInvert writes the table with both sides swapped.
func (a *App) RunInvert(output string) error {
	inv, err := a.Table.Invert()
	if err != nil {
		return err
	}
	if err := inv.Save(output); err != nil {
		return err
	}
	a.Log.WithFields(logrus.Fields{"path": output, "rows": inv.Len()}).Info("wrote inverted landmarks")
	return nil
}

// parseBounds parses "minX,minY,maxX,maxY".
func parseBounds(s string) (orb.Bound, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return orb.Bound{}, fmt.Errorf("bounds %q: want minX,minY,maxX,maxY", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return orb.Bound{}, fmt.Errorf("bounds %q: %w", s, err)
		}
		v[i] = f
	}
	b := orb.Bound{Min: orb.Point{v[0], v[1]}, Max: orb.Point{v[2], v[3]}}
	if b.Min[0] > b.Max[0] || b.Min[1] > b.Max[1] {
		return orb.Bound{}, fmt.Errorf("bounds %q: min exceeds max", s)
	}
	return b, nil
}

// fixedExtent returns the bounding box of the set fixed points.
func fixedExtent(t *warp.Table) (orb.Bound, bool) {
	var mp orb.MultiPoint
	for _, p := range t.Points(warp.Fixed) {
		if p.IsSet() {
			mp = append(mp, orb.Point{p[0], p[1]})
		}
	}
	if len(mp) == 0 {
		return orb.Bound{}, false
	}
	return mp.Bound(), true
}

// RunGrid adds a grid of landmarks through the current transform and saves
// the table back to the landmark file.
func (a *App) RunGrid(w io.Writer, bounds string, step float64) error {
	if a.LandmarksFile == "" {
		return fmt.Errorf("grid needs a landmark file to write to")
	}
	tr, err := a.CurrentTransform()
	if err != nil {
		return err
	}
	var b orb.Bound
	if bounds != "" {
		if b, err = parseBounds(bounds); err != nil {
			return err
		}
	} else {
		var ok bool
		if b, ok = fixedExtent(a.Table); !ok {
			return fmt.Errorf("no fixed landmarks to derive grid bounds from, pass --bounds")
		}
	}
	if step == 0 {
		step = a.Config.Grid.Step
	}
	added, err := warp.GridFill(a.Table, tr, b, step)
	if err != nil {
		return err
	}
	if err := a.Table.Save(a.LandmarksFile); err != nil {
		return err
	}
	fmt.Fprintf(w, "added %d grid landmarks to %s\n", added, a.LandmarksFile)
	return nil
}

// RunServe publishes table changes over MQTT, serves the HTTP API and
// blocks until ctx is cancelled.
func (a *App) RunServe(ctx context.Context) error {
	a.Log.WithField("version", Version).Info("starting warpmesh service")

	edit := func(cmd warp.EditCommand) (warp.EditResult, error) {
		return warp.ApplyEdit(a.Table, cmd)
	}
	a.MQTTClient = warp.NewMQTTClient(a.Config.MQTT, edit, logrus.StandardLogger().WithField("component", "mqtt"))
	if a.MQTTClient != nil {
		a.Publisher = warp.NewPublisher(a.MQTTClient.Client(), a.Config.MQTT.PublishPrefix,
			logrus.StandardLogger().WithField("component", "publisher"))
		a.MQTTClient.Start(ctx)
	}

	id := a.Table.AddListener(a.onTableChange)
	defer a.Table.RemoveListener(id)
	go a.processChanges(ctx)
	a.notifyChange()

	server := &http.Server{
		Addr:              fmt.Sprintf("0.0.0.0:%d", a.HTTPPort),
		Handler:           newHTTPServer(a),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		a.Log.WithField("addr", server.Addr).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errc:
	}

	a.Log.Info("shutting down service")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.Log.WithError(err).Warn("HTTP shutdown")
	}
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
	if a.LandmarksFile != "" {
		if err := a.Table.Save(a.LandmarksFile); err != nil {
			a.Log.WithError(err).Error("saving landmarks on shutdown")
		}
	}
	return serveErr
}

// onTableChange is the table listener. It only queues work so edits never
// wait on solving or publishing.
func (a *App) onTableChange(ev warp.Event) {
	if ev.Kind == warp.EventPreview || ev.Kind == warp.EventSelection {
		return
	}
	a.notifyChange()
}

func (a *App) notifyChange() {
	select {
	case a.changes <- struct{}{}:
	default:
	}
}

func (a *App) processChanges(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.changes:
			a.refresh()
		}
	}
}

// refresh recomputes the warped previews and publishes the new state.
func (a *App) refresh() {
	tr, err := a.CurrentTransform()
	if err == nil {
		a.Table.UpdateWarpedPoints(tr, a.Table.PreviewInverse())
	} else {
		a.Log.WithError(err).Debug("no transform for previews")
	}
	if a.Publisher == nil {
		return
	}
	if err := a.Publisher.PublishLandmarks(a.Table); err != nil {
		a.Log.WithError(err).Debug("publishing landmarks")
	}
	if err := a.Publisher.PublishTransform(warp.DescribeTransform(a.Table, a.Model)); err != nil {
		a.Log.WithError(err).Debug("publishing transform")
	}
}
