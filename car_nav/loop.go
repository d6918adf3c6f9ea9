package car_nav

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
)

// ErrCamerasUnavailable reports that frames stopped arriving for too many
// consecutive cycles.
var ErrCamerasUnavailable = errors.New("cameras unavailable")

// PoseSampler is the fusion capability the loop depends on.
type PoseSampler interface {
	Sample() (Sample, error)
	ResetOrigin(raw Pose)
	Relative(raw Pose) Pose
	Close() error
}

// CommandSender is the command channel capability the loop depends on.
type CommandSender interface {
	Send(cmd Command, d time.Duration)
	MaybeReconnect(ctx context.Context)
	State() ChannelState
	Close() error
}

// Clock abstracts wall time so the loop can be tested without sleeping.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Cycle summarizes one pass of the control loop.
type Cycle struct {
	Sample  Sample
	Event   *OperatorEvent
	Target  *Target
	Running bool
	Result  NavigationResult
	Action  Action
	Quit    bool
}

// Controller runs the fuse, decide, dispatch, log, wait cycle.
type Controller struct {
	fusion  PoseSampler
	channel CommandSender
	events  EventLog
	mailbox *Mailbox
	clock   Clock
	viz     *VizMetrics
	log     zerolog.Logger

	tol  Tolerances
	loop LoopConfig

	target      *Target
	running     bool
	frameMisses int
	shutdown    bool
}

// ControllerOption customizes a Controller.
type ControllerOption func(*Controller)

// WithClock replaces the wall clock.
func WithClock(clock Clock) ControllerOption {
	return func(c *Controller) { c.clock = clock }
}

// WithViz publishes each cycle to the expvar endpoint.
func WithViz(viz *VizMetrics) ControllerOption {
	return func(c *Controller) { c.viz = viz }
}

// NewController wires the loop around its collaborators.
func NewController(
	fusion PoseSampler,
	channel CommandSender,
	events EventLog,
	mailbox *Mailbox,
	tol Tolerances,
	loop LoopConfig,
	log zerolog.Logger,
	opts ...ControllerOption,
) *Controller {
	c := &Controller{
		fusion:  fusion,
		channel: channel,
		events:  events,
		mailbox: mailbox,
		clock:   realClock{},
		log:     log.With().Str("component", "loop").Logger(),
		tol:     tol,
		loop:    loop,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Target returns the active target, if any.
func (c *Controller) Target() (Target, bool) {
	if c.target == nil {
		return Target{}, false
	}
	return *c.target, true
}

// Running reports whether the loop is actively driving toward a target.
func (c *Controller) Running() bool {
	return c.running
}

// Step runs exactly one cycle. A non-nil error is terminal.
func (c *Controller) Step(ctx context.Context) (Cycle, error) {
	c.channel.MaybeReconnect(ctx)

	s, err := c.fusion.Sample()
	if err != nil {
		return Cycle{}, err
	}
	if !s.HasFrames {
		c.frameMisses++
		if c.loop.MaxFrameMisses > 0 && c.frameMisses >= c.loop.MaxFrameMisses {
			return Cycle{Sample: s}, fmt.Errorf("%w: no frames for %d cycles", ErrCamerasUnavailable, c.frameMisses)
		}
	} else {
		c.frameMisses = 0
	}

	cyc := Cycle{Sample: s}
	if ev, ok := c.mailbox.Take(); ok {
		cyc.Event = &ev
		if c.handleEvent(ev, &cyc.Sample) {
			cyc.Quit = true
			return cyc, nil
		}
	}

	if c.running && c.target != nil {
		t := *c.target
		cyc.Target = &t
		cyc.Running = true
		if cyc.Sample.Detected {
			cyc.Result = Navigate(cyc.Sample.Relative, t, c.tol)
			cyc.Action = cyc.Result.Action
			c.dispatch(ctx, t, cyc.Sample.Relative, cyc.Result)
		} else {
			cyc.Action = ActionLost
			c.lost(t, cyc.Sample.Relative)
		}
	}

	if c.target != nil && !c.running {
		c.running = true
		c.log.Info().Float64("target_x", c.target.X).Float64("target_z", c.target.Z).Msg("go")
	}

	c.viz.UpdateCycle(cyc, c.channel.State())
	return cyc, nil
}

// handleEvent applies one operator request. It reports true on quit.
func (c *Controller) handleEvent(ev OperatorEvent, s *Sample) bool {
	switch ev.Kind {
	case EventSetTarget:
		t := ev.Target
		c.target = &t
	case EventStop:
		c.log.Info().Msg("user stop")
		c.channel.Send(CommandStop, 0)
		if c.target != nil {
			c.record(LogRecord{Target: *c.target, Current: s.Relative, Label: ActionUserStop.String()})
		}
		c.clearTarget()
	case EventResetOrigin:
		if !s.Detected {
			c.log.Warn().Msg("origin reset ignored: marker not detected")
			return false
		}
		c.fusion.ResetOrigin(s.Raw)
		s.Relative = c.fusion.Relative(s.Raw)
		c.log.Info().Float64("x", s.Raw.X).Float64("z", s.Raw.Z).Float64("yaw", s.Raw.Yaw).Msg("origin set")
	case EventQuit:
		c.log.Info().Msg("quit requested")
		return true
	}
	return false
}

// dispatch sends the decided command, records it, and waits out the pulse.
func (c *Controller) dispatch(ctx context.Context, t Target, current Pose, res NavigationResult) {
	rec := LogRecord{
		Target:     t,
		Current:    current,
		Distance:   res.Distance,
		AngleError: res.BearingError,
		Label:      res.Label(),
		Duration:   res.Duration,
	}

	switch res.Action {
	case ActionArrived:
		c.log.Info().Float64("distance", res.Distance).Msg("arrived")
		c.record(rec)
		repeats := c.loop.ArrivedStopRepeats
		if repeats < 1 {
			repeats = 1
		}
		for i := 0; i < repeats; i++ {
			c.channel.Send(CommandStop, 0)
			c.clock.Sleep(ctx, c.loop.ArrivedStopInterval)
		}
		c.clearTarget()
	case ActionNearMiss:
		c.log.Info().Float64("distance", res.Distance).Float64("angle_error", res.BearingError).Msg("near miss stop")
		c.record(rec)
		c.channel.Send(CommandStop, 0)
		c.clearTarget()
	default:
		c.log.Debug().
			Str("command", res.Command.String()).
			Float64("distance", res.Distance).
			Float64("angle_error", res.BearingError).
			Dur("duration", res.Duration).
			Msg("pulse")
		c.channel.Send(res.Command, res.Duration)
		c.record(rec)
		wait := res.Duration
		if res.Command != CommandForward {
			wait += c.loop.CommandPadding
		}
		c.clock.Sleep(ctx, wait)
	}
}

// lost stops the vehicle on the first missed detection while running.
func (c *Controller) lost(t Target, current Pose) {
	c.log.Warn().Msg("marker lost, stopping")
	c.channel.Send(CommandStop, 0)
	c.record(LogRecord{Target: t, Current: current, Label: ActionLost.String()})
	c.clearTarget()
}

func (c *Controller) clearTarget() {
	c.target = nil
	c.running = false
}

func (c *Controller) record(rec LogRecord) {
	if rec.Time.IsZero() {
		rec.Time = c.clock.Now()
	}
	if err := c.events.Record(rec); err != nil {
		c.log.Warn().Err(err).Msg("event log write failed")
	}
}

// Run steps until quit, cancellation, or a terminal sensor error, then runs
// Shutdown.
func (c *Controller) Run(ctx context.Context, hz float64) error {
	defer func() {
		if err := c.Shutdown(); err != nil {
			c.log.Warn().Err(err).Msg("shutdown completed with errors")
		}
	}()

	var period time.Duration
	if hz > 0 {
		period = time.Duration(float64(time.Second) / hz)
	}

	for {
		if ctx.Err() != nil {
			c.log.Info().Msg("interrupted")
			return nil
		}
		start := c.clock.Now()
		cyc, err := c.Step(ctx)
		if err != nil {
			c.log.Error().Err(err).Msg("camera source lost, stopping")
			return err
		}
		if cyc.Quit {
			return nil
		}
		if rest := period - c.clock.Now().Sub(start); rest > 0 {
			c.clock.Sleep(ctx, rest)
		}
	}
}

// Shutdown stops the vehicle and releases every resource. Each step runs even
// if an earlier one failed. Safe to call repeatedly.
func (c *Controller) Shutdown() error {
	if c.shutdown {
		return nil
	}
	c.shutdown = true

	var errs []error
	c.channel.Send(CommandStop, 0)
	if err := c.events.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close event log: %w", err))
	}
	if err := c.channel.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close channel: %w", err))
	}
	if err := c.fusion.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close cameras: %w", err))
	}
	c.log.Info().Msg("shutdown complete")
	return errors.Join(errs...)
}

// RunLive builds the configured cameras, channel, and event log and runs the
// control loop until quit or ctx is cancelled.
func RunLive(ctx context.Context, cfg AppConfig, operatorInput io.Reader, log zerolog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	camA, err := openCamera(ctx, "a", cfg.CameraA)
	if err != nil {
		return err
	}
	camB, err := openCamera(ctx, "b", cfg.CameraB)
	if err != nil {
		_ = camA.Close()
		return err
	}
	fusion := NewDualCameraFusion(camA, camB, CSVPoseOracle{})

	events, err := openEventLog(cfg.EventLog, time.Now())
	if err != nil {
		_ = fusion.Close()
		return err
	}

	viz, err := StartViz(cfg.Viz, log)
	if err != nil {
		_ = events.Close()
		_ = fusion.Close()
		return err
	}

	channel := NewCommandChannel(cfg.Channel.Dialer(), cfg.Channel, log)
	if err := channel.Connect(ctx); err != nil {
		log.Warn().Err(err).Msg("starting without actuator link")
	}

	mailbox := &Mailbox{}
	if cfg.Operator.Stdin && operatorInput != nil {
		go ReadOperatorCommands(ctx, operatorInput, mailbox, NewPixelMapper(cfg.Operator), log)
	}

	controller := NewController(fusion, channel, events, mailbox, cfg.Navigation, cfg.Loop, log, WithViz(viz))
	log.Info().
		Str("camera_a", describeCamera(cfg.CameraA)).
		Str("camera_b", describeCamera(cfg.CameraB)).
		Str("channel", channel.State().String()).
		Msg("control loop started")
	return controller.Run(ctx, cfg.Loop.Hz)
}

func describeCamera(cfg CameraConfig) string {
	if cfg.ReplayPath != "" {
		return "replay:" + cfg.ReplayPath
	}
	return "udp:" + cfg.UDPAddr
}
