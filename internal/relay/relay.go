// Package relay answers predict and run events from sketches by calling the
// remote inference API, relaying the result to the sender and saving the
// generated files.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/example/ssam-replicate/internal/export"
	"github.com/example/ssam-replicate/internal/hub"
	"github.com/example/ssam-replicate/internal/model"
	"github.com/example/ssam-replicate/internal/notify"
)

// Predictor is the remote inference API.
type Predictor interface {
	// Predict creates a prediction for a model version and waits for it.
	Predict(ctx context.Context, version string, input map[string]any) (model.Prediction, error)
	// Run runs a model reference and returns its output URLs.
	Run(ctx context.Context, ref string, input map[string]any) ([]string, error)
}

// Exporter saves a run's output files; *export.Exporter satisfies it.
type Exporter interface {
	EnsureDir() error
	Export(ctx context.Context, req export.Request) error
}

// Options are fixed for the lifetime of a Relay.
type Options struct {
	// TestOutput is returned as the output of every dry run.
	TestOutput []string
	// SaveOutput exports generated files after a real run.
	SaveOutput bool
	// Log mirrors log and warning messages to the client.
	Log bool
}

// Relay answers predict and run requests from sketches. Register it on a
// hub; each request runs on the goroutine the hub started for it.
type Relay struct {
	opts      Options
	predictor Predictor
	exporter  Exporter
	log       *slog.Logger
	notify    notify.Notifier
}

func New(opts Options, predictor Predictor, exporter Exporter, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.TestOutput == nil {
		opts.TestOutput = []string{""}
	} else {
		opts.TestOutput = append([]string{}, opts.TestOutput...)
	}
	return &Relay{
		opts:      opts,
		predictor: predictor,
		exporter:  exporter,
		log:       logger,
		notify:    notify.Notifier{Log: logger, ClientLog: opts.Log},
	}
}

func (r *Relay) Register(h hub.Hub) {
	h.On(model.EventPredict, r.HandlePredict)
	h.On(model.EventRun, r.HandleRun)
}

// HandlePredict runs a model version through create+wait and relays the
// full prediction record on the prediction event.
func (r *Relay) HandlePredict(ctx context.Context, data json.RawMessage, c hub.Client) {
	_ = r.exporter.EnsureDir()

	req, ok := r.decode(data, c, model.EventPredict)
	if !ok {
		return
	}
	r.notify.Info(c, "Running model..", "event", model.EventPredict, "version", req.Version)

	if req.IsDryRun() {
		r.dryRun(c, model.EventPrediction)
		return
	}

	p, err := r.predictor.Predict(ctx, req.Version, req.Input)
	if err != nil {
		r.notify.Warn(c, err.Error(), "event", model.EventPredict, "version", req.Version)
		return
	}
	r.notify.Info(c, "Output generated.", "prediction", p.ID, "outputs", len(p.Output))
	r.send(c, model.EventPrediction, p.Payload())

	if r.opts.SaveOutput {
		r.exportAll(ctx, c, p.Output, p.ID)
	}
}

// HandleRun runs a model reference and relays the bare output list on the
// output event. Exported files carry no job id.
func (r *Relay) HandleRun(ctx context.Context, data json.RawMessage, c hub.Client) {
	_ = r.exporter.EnsureDir()

	req, ok := r.decode(data, c, model.EventRun)
	if !ok {
		return
	}
	r.notify.Info(c, "Running model..", "event", model.EventRun, "model", req.Model)

	if req.IsDryRun() {
		r.dryRun(c, model.EventOutput)
		return
	}

	output, err := r.predictor.Run(ctx, req.Model, req.Input)
	if err != nil {
		r.notify.Warn(c, err.Error(), "event", model.EventRun, "model", req.Model)
		return
	}
	r.notify.Info(c, "Output generated.", "outputs", len(output))
	r.send(c, model.EventOutput, output)

	if r.opts.SaveOutput {
		r.exportAll(ctx, c, output, "")
	}
}

func (r *Relay) decode(data json.RawMessage, c hub.Client, event string) (model.Request, bool) {
	var req model.Request
	if len(data) == 0 {
		return req, true
	}
	if err := json.Unmarshal(data, &req); err != nil {
		r.notify.Warn(c, fmt.Sprintf("invalid %s payload: %v", event, err))
		return model.Request{}, false
	}
	return req, true
}

func (r *Relay) dryRun(c hub.Client, event string) {
	r.log.Info("dry run, no request sent to Replicate", "client", c.ID(), "event", event)
	r.send(c, event, model.DryRunResult{Output: r.opts.TestOutput})
}

// exportAll saves urls one at a time, in order. A failed file does not stop
// the ones after it.
func (r *Relay) exportAll(ctx context.Context, c hub.Client, urls []string, jobID string) {
	for _, u := range urls {
		err := r.exporter.Export(ctx, export.Request{
			URL:    u,
			Client: c,
			JobID:  jobID,
			Log:    r.opts.Log,
		})
		if errors.Is(err, export.ErrMalformedURL) {
			r.notify.Warn(c, err.Error())
		}
	}
}

func (r *Relay) send(c hub.Client, event string, payload any) {
	if err := c.Send(event, payload); err != nil {
		r.log.Debug("client gone, dropping result", "client", c.ID(), "event", event, "error", err)
	}
}
