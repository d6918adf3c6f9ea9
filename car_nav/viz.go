package car_nav

import (
	"expvar"
	"net/http"
	"sync"

	"github.com/rs/zerolog"
)

// VizConfig controls the optional expvar endpoint used for live plotting.
type VizConfig struct {
	Enabled bool   `toml:"enabled" env:"ENABLED"`
	Addr    string `toml:"addr" env:"ADDR"`
}

// VizMetrics exposes live pose, target, and command values via expvar.
type VizMetrics struct {
	pose    *expvar.Map
	target  *expvar.Map
	command *expvar.Map
	flat    map[string]*expvar.Float
}

var publishOnce sync.Once

// StartViz starts an HTTP server exposing /debug/vars for plotting.
func StartViz(cfg VizConfig, log zerolog.Logger) (*VizMetrics, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:7070"
	}

	metrics := newVizMetrics()
	publishOnce.Do(func() {
		expvar.Publish("pose", metrics.pose)
		expvar.Publish("target", metrics.target)
		expvar.Publish("command", metrics.command)
		for name, v := range metrics.flat {
			expvar.Publish(name, v)
		}
	})

	server := &http.Server{Addr: cfg.Addr, Handler: http.DefaultServeMux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Str("addr", cfg.Addr).Msg("viz server error")
		}
	}()

	return metrics, nil
}

func newVizMetrics() *VizMetrics {
	v := &VizMetrics{
		pose:    new(expvar.Map).Init(),
		target:  new(expvar.Map).Init(),
		command: new(expvar.Map).Init(),
		flat:    map[string]*expvar.Float{},
	}
	for _, key := range []string{"x", "z", "yaw", "detected"} {
		v.pose.Set(key, new(expvar.Float))
	}
	for _, key := range []string{"x", "z", "active"} {
		v.target.Set(key, new(expvar.Float))
	}
	for _, key := range []string{"code", "duration", "distance", "angle_error", "channel"} {
		v.command.Set(key, new(expvar.Float))
	}
	for _, name := range []string{"pose_x", "pose_z", "pose_yaw", "distance", "angle_error", "command_code"} {
		v.flat[name] = new(expvar.Float)
	}
	return v
}

// UpdateCycle publishes the latest cycle.
func (v *VizMetrics) UpdateCycle(cyc Cycle, state ChannelState) {
	if v == nil {
		return
	}
	p := cyc.Sample.Relative
	setFloat(v.pose, "x", p.X)
	setFloat(v.pose, "z", p.Z)
	setFloat(v.pose, "yaw", p.Yaw)
	setFloat(v.pose, "detected", boolToFloat(cyc.Sample.Detected))
	setFlat(v.flat, "pose_x", p.X)
	setFlat(v.flat, "pose_z", p.Z)
	setFlat(v.flat, "pose_yaw", p.Yaw)

	if cyc.Target != nil {
		setFloat(v.target, "x", cyc.Target.X)
		setFloat(v.target, "z", cyc.Target.Z)
	}
	setFloat(v.target, "active", boolToFloat(cyc.Target != nil))

	setFloat(v.command, "code", float64(cyc.Result.Command))
	setFloat(v.command, "duration", cyc.Result.Duration.Seconds())
	setFloat(v.command, "distance", cyc.Result.Distance)
	setFloat(v.command, "angle_error", cyc.Result.BearingError)
	setFloat(v.command, "channel", float64(state))
	setFlat(v.flat, "distance", cyc.Result.Distance)
	setFlat(v.flat, "angle_error", cyc.Result.BearingError)
	setFlat(v.flat, "command_code", float64(cyc.Result.Command))
}

// setFloat updates an expvar.Float stored inside a map.
func setFloat(m *expvar.Map, key string, value float64) {
	if v := m.Get(key); v != nil {
		if f, ok := v.(*expvar.Float); ok {
			f.Set(value)
			return
		}
	}
	f := new(expvar.Float)
	f.Set(value)
	m.Set(key, f)
}

func setFlat(vars map[string]*expvar.Float, key string, value float64) {
	if v, ok := vars[key]; ok {
		v.Set(value)
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
