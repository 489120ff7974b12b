// Package station is the local field station: it holds the live inspection
// and variation-order sessions, autosaves them to the draft stores, tracks
// connectivity, and serves everything to the mobile page over HTTP,
// WebSocket and MCP.
package station

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sunterra/fieldrecord/autosave"
	"github.com/sunterra/fieldrecord/capture"
	"github.com/sunterra/fieldrecord/clock"
	"github.com/sunterra/fieldrecord/connectivity"
	"github.com/sunterra/fieldrecord/drafts"
	"github.com/sunterra/fieldrecord/formsession"
	"github.com/sunterra/fieldrecord/kvstore"
	"github.com/sunterra/fieldrecord/observability"
	"github.com/sunterra/fieldrecord/render"
	"github.com/sunterra/fieldrecord/snapshot"
)

// Form names used in events, activity rows and artifact prefixes.
const (
	FormITR = "itr"
	FormVO  = "vo"
)

// Config wires a Service to its components. Backend and Exporter are
// required.
type Config struct {
	Backend  kvstore.Backend
	Exporter Exporter
	Codec    snapshot.Codec

	// Window is the autosave debounce window. Default: 500ms.
	Window time.Duration

	Feed         *connectivity.Feed
	Prober       connectivity.Prober
	Connectivity connectivity.Config

	Renderer  *render.Renderer
	Platforms *capture.Platforms
	Activity  *observability.ActivityLog

	// ExportDir receives a copy of every generated artifact. Empty disables
	// the copy.
	ExportDir string
	// MaxBody bounds request bodies. Default: 8 MiB.
	MaxBody int64
	// MCP mounts the streamable MCP endpoint on /mcp.
	MCP bool

	Clock  clock.Clock
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Codec.Location == nil {
		c.Codec = snapshot.DefaultCodec
	}
	if c.MaxBody <= 0 {
		c.MaxBody = 8 << 20
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Renderer == nil {
		c.Renderer = render.MustNew()
	}
	if c.Feed == nil {
		c.Feed = connectivity.NewFeed(c.Logger)
	}
	if c.Prober == nil {
		c.Prober = connectivity.ProbeFunc(func(context.Context) error { return nil })
	}
	if c.Connectivity.Clock == nil {
		c.Connectivity.Clock = c.Clock
	}
	if c.Connectivity.Logger == nil {
		c.Connectivity.Logger = c.Logger
	}
}

type inspectionForm struct {
	session *formsession.Inspection
	store   *drafts.Store[snapshot.Snapshot]
	auto    *autosave.Coordinator[snapshot.Snapshot]
}

type variationForm struct {
	session *formsession.VariationOrder
	store   *drafts.Store[formsession.Order]
	auto    *autosave.Coordinator[formsession.Order]
}

// Service is the running station.
type Service struct {
	cfg     Config
	logger  *slog.Logger
	itr     inspectionForm
	vo      variationForm
	monitor *connectivity.Monitor
	hub     *Hub
	mcp     *mcp.Server
	unsub   []func()
}

// New builds the sessions, hydrates them from the stored drafts and
// connects autosave, connectivity and the event hub. Call Start to begin
// monitoring.
func New(ctx context.Context, cfg Config) (*Service, error) {
	if cfg.Backend == nil {
		return nil, errors.New("station: backend is required")
	}
	if cfg.Exporter == nil {
		return nil, errors.New("station: exporter is required")
	}
	cfg.defaults()

	s := &Service{
		cfg:    cfg,
		logger: cfg.Logger,
		hub:    NewHub(cfg.Feed, cfg.Logger),
	}
	autoCfg := autosave.Config{Window: cfg.Window, Clock: cfg.Clock, Logger: cfg.Logger}
	storeOpt := drafts.WithLogger(cfg.Logger)

	itr := formsession.NewInspection(formsession.WithCodec(cfg.Codec))
	s.itr = inspectionForm{
		session: itr,
		store:   drafts.NewInspection(cfg.Backend, cfg.Codec, storeOpt),
	}
	s.itr.auto = autosave.New(autoCfg, autosave.Sources(itr.Fields, itr.TestResults, itr.Signature), s.itr.store)
	if snap, ok := s.itr.store.Load(ctx); ok {
		itr.Restore(snap)
		s.logger.Info("station: inspection draft restored", "fields", len(snap))
	}
	itr.OnChange(s.changeHook(FormITR, s.itr.auto.NotifyChange, s.itr.auto.Flush))

	vo := formsession.NewVariationOrder(cfg.Clock.Now, cfg.Codec.Location)
	s.vo = variationForm{
		session: vo,
		store:   drafts.New[formsession.Order](cfg.Backend, drafts.VariationOrderKey, drafts.JSONCodec[formsession.Order]{}, storeOpt),
	}
	s.vo.auto = autosave.New(autoCfg, vo.Record, s.vo.store)
	if o, ok := s.vo.store.Load(ctx); ok {
		vo.Restore(o)
		s.logger.Info("station: variation order draft restored", "items", len(o.WorkItems))
	}
	vo.OnChange(s.changeHook(FormVO, s.vo.auto.NotifyChange, s.vo.auto.Flush))

	s.unsub = append(s.unsub,
		s.itr.auto.Subscribe(func(ev autosave.Saved) { s.hub.Broadcast(savedMessage(FormITR, ev)) }),
		s.vo.auto.Subscribe(func(ev autosave.Saved) { s.hub.Broadcast(savedMessage(FormVO, ev)) }),
	)

	s.monitor = connectivity.NewMonitor(cfg.Connectivity, cfg.Feed, cfg.Prober)
	s.unsub = append(s.unsub, s.monitor.Subscribe(s.onConnectivity))

	if cfg.MCP {
		s.mcp = s.NewMCPServer()
	}
	return s, nil
}

// changeHook debounces ordinary edits and writes immediate ones (signature
// changes on the variation order) straight away.
func (s *Service) changeHook(form string, notify func(), flush func(context.Context) (autosave.Saved, error)) formsession.ChangeFunc {
	return func(immediate bool) {
		if !immediate {
			notify()
			return
		}
		if _, err := flush(context.Background()); err != nil {
			s.logger.Warn("station: immediate save failed", "form", form, "error", err)
		}
	}
}

func (s *Service) onConnectivity(st connectivity.State) {
	s.logger.Info("station: connectivity changed", "state", st.String())
	s.hub.Broadcast(connectivityMessage(st))
	s.cfg.Activity.Record(observability.Event{
		Type:    observability.ConnectivityChanged,
		Subject: st.String(),
		Success: st.Online(),
	})
}

// Start begins connectivity monitoring.
func (s *Service) Start(ctx context.Context) {
	s.monitor.Start(ctx)
}

// Close writes any pending edits, stops the timers and closes the hub. The
// backend is owned by the caller.
func (s *Service) Close(ctx context.Context) error {
	for _, fn := range s.unsub {
		fn()
	}
	s.monitor.Stop()

	var errs []error
	if s.itr.auto.Pending() {
		if _, err := s.itr.auto.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if s.vo.auto.Pending() {
		if _, err := s.vo.auto.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.itr.auto.Teardown()
	s.vo.auto.Teardown()
	s.hub.Close()
	return errors.Join(errs...)
}

// Connectivity returns the monitor's current view.
func (s *Service) Connectivity() connectivity.Status { return s.monitor.Status() }
