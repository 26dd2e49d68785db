// Package autopilot talks MAVLink to the flight controller: it reads altitude and arming state
// and writes landing targets and parameters.
package autopilot

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"go.viam.com/precisionland/logging"
	"go.viam.com/precisionland/report"
	"go.viam.com/precisionland/utils"
)

// ErrNoAltitude is returned until the autopilot has reported a position.
var ErrNoAltitude = errors.New("no altitude received from the autopilot yet")

const paramTolerance = 1e-4

// Link is a MAVLink connection to one autopilot.
type Link struct {
	cfg    Config
	logger logging.Logger

	node     *gomavlib.Node
	writeAll func(message.Message)
	workers  *utils.StoppableWorkers

	targetSystem    atomic.Uint32
	targetComponent atomic.Uint32
	altitude        atomic.Float64
	hasAltitude     atomic.Bool
	armed           atomic.Bool
	wasArmed        atomic.Bool

	heartbeatOnce sync.Once
	heartbeat     chan struct{}
	doneOnce      sync.Once
	done          chan struct{}

	paramsMu sync.Mutex
	params   map[string]chan float32
}

func newLink(cfg Config, writeAll func(message.Message), logger logging.Logger) *Link {
	return &Link{
		cfg:       cfg,
		logger:    logger,
		writeAll:  writeAll,
		heartbeat: make(chan struct{}),
		done:      make(chan struct{}),
		params:    map[string]chan float32{},
	}
}

// Connect opens the connection described by cfg and waits for the autopilot's first heartbeat.
func Connect(ctx context.Context, cfg Config, logger logging.Logger) (*Link, error) {
	if err := cfg.Validate("autopilot"); err != nil {
		return nil, err
	}
	conn, err := parseConnection(cfg.Connection, cfg.BaudRate)
	if err != nil {
		return nil, err
	}
	endpoint, err := conn.endpoint()
	if err != nil {
		return nil, err
	}

	node := &gomavlib.Node{
		Endpoints:           []gomavlib.EndpointConf{endpoint},
		Dialect:             common.Dialect,
		OutVersion:          gomavlib.V2,
		OutSystemID:         byte(cfg.SystemID),
		StreamRequestEnable: true,
	}
	if err := node.Initialize(); err != nil {
		return nil, errors.Wrapf(err, "cannot open %s", conn)
	}
	logger.Infow("waiting for autopilot heartbeat", "connection", conn.String())

	l := newLink(cfg, func(m message.Message) { node.WriteMessageAll(m) }, logger)
	l.node = node
	l.workers = utils.NewStoppableWorkers(context.Background(), l.readLoop)

	waitCtx, cancel := context.WithTimeout(ctx, seconds(cfg.HeartbeatTimeoutSec))
	defer cancel()
	stopSlowLog := utils.SlowLogger(waitCtx, clock.New(), "still waiting for autopilot heartbeat", logger,
		"connection", conn.String())
	defer stopSlowLog()
	select {
	case <-l.heartbeat:
	case <-l.done:
		l.Close()
		return nil, errors.Errorf("connection to %s closed before the autopilot was heard", conn)
	case <-waitCtx.Done():
		l.Close()
		return nil, errors.Wrapf(waitCtx.Err(), "no heartbeat from the autopilot on %s", conn)
	}
	logger.Infow("autopilot connected",
		"system", l.targetSystem.Load(), "component", l.targetComponent.Load(), "armed", l.armed.Load())
	return l, nil
}

func (l *Link) readLoop(ctx context.Context) {
	events := l.node.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				l.closeDone("event stream closed")
				return
			}
			switch e := evt.(type) {
			case *gomavlib.EventChannelOpen:
				l.logger.Debugw("channel open", "channel", e.Channel)
			case *gomavlib.EventChannelClose:
				l.logger.Warnw("channel closed", "channel", e.Channel)
				l.closeDone("connection lost")
			case *gomavlib.EventFrame:
				l.handleMessage(e.SystemID(), e.ComponentID(), e.Message())
			}
		}
	}
}

func (l *Link) handleMessage(systemID, componentID byte, msg message.Message) {
	switch m := msg.(type) {
	case *common.MessageHeartbeat:
		if m.Type == common.MAV_TYPE_GCS || m.Autopilot == common.MAV_AUTOPILOT_INVALID {
			return
		}
		l.targetSystem.Store(uint32(systemID))
		l.targetComponent.Store(uint32(componentID))
		armed := m.BaseMode&common.MAV_MODE_FLAG_SAFETY_ARMED != 0
		if l.armed.Swap(armed) != armed {
			l.logger.Infow("arming state changed", "armed", armed)
		}
		if armed {
			l.wasArmed.Store(true)
		} else if l.wasArmed.Load() {
			l.closeDone("vehicle disarmed")
		}
		l.heartbeatOnce.Do(func() { close(l.heartbeat) })
	case *common.MessageGlobalPositionInt:
		l.altitude.Store(float64(m.RelativeAlt) / 1000)
		l.hasAltitude.Store(true)
	case *common.MessageParamValue:
		l.paramsMu.Lock()
		ch, ok := l.params[m.ParamId]
		l.paramsMu.Unlock()
		if ok {
			select {
			case ch <- m.ParamValue:
			default:
			}
		}
	}
}

func (l *Link) closeDone(reason string) {
	l.doneOnce.Do(func() {
		l.logger.Infow("autopilot link done", "reason", reason)
		close(l.done)
	})
}

// Altitude returns the altitude above home in meters.
func (l *Link) Altitude() (float64, error) {
	if !l.hasAltitude.Load() {
		return 0, ErrNoAltitude
	}
	return l.altitude.Load(), nil
}

// Armed reports the arming state from the last heartbeat.
func (l *Link) Armed() bool {
	return l.armed.Load()
}

// Done is closed when the vehicle disarms after having been armed, or when the connection drops.
func (l *Link) Done() <-chan struct{} {
	return l.done
}

// SendLandingTarget writes one LANDING_TARGET message. Delivery is not acknowledged.
func (l *Link) SendLandingTarget(ctx context.Context, target report.LandingTarget) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.writeAll(landingTargetMessage(target))
	return nil
}

func landingTargetMessage(target report.LandingTarget) *common.MessageLandingTarget {
	return &common.MessageLandingTarget{
		TimeUsec: target.TimeUsec,
		Frame:    common.MAV_FRAME_BODY_FRD,
		AngleX:   float32(target.AngleX),
		AngleY:   float32(target.AngleY),
		Distance: float32(target.Distance),
		SizeX:    float32(target.SizeX),
		SizeY:    float32(target.SizeY),
		Type:     common.LANDING_TARGET_TYPE_VISION_FIDUCIAL,
	}
}

// SetParameter writes a parameter and waits until the autopilot echoes the new value, retrying
// a few times.
func (l *Link) SetParameter(ctx context.Context, name string, value float32) error {
	ack := make(chan float32, 1)
	l.paramsMu.Lock()
	l.params[name] = ack
	l.paramsMu.Unlock()
	defer func() {
		l.paramsMu.Lock()
		delete(l.params, name)
		l.paramsMu.Unlock()
	}()

	msg := &common.MessageParamSet{
		TargetSystem:    uint8(l.targetSystem.Load()),
		TargetComponent: uint8(l.targetComponent.Load()),
		ParamId:         name,
		ParamValue:      value,
		ParamType:       common.MAV_PARAM_TYPE_REAL32,
	}
	timeout := seconds(l.cfg.ParamTimeoutSec)
	for attempt := 1; attempt <= l.cfg.ParamRetries; attempt++ {
		l.writeAll(msg)
		timer := time.NewTimer(timeout)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case got := <-ack:
			timer.Stop()
			if math.Abs(float64(got-value)) > paramTolerance {
				return errors.Errorf("autopilot set %s to %v instead of %v", name, got, value)
			}
			l.logger.Infow("parameter set", "name", name, "value", value)
			return nil
		case <-timer.C:
			l.logger.Debugw("parameter write not acknowledged", "name", name, "attempt", attempt)
		}
	}
	return errors.Errorf("autopilot did not acknowledge %s after %d attempts", name, l.cfg.ParamRetries)
}

// Close stops reading and closes the connection.
func (l *Link) Close() {
	if l.workers != nil {
		l.workers.Stop()
	}
	if l.node != nil {
		l.node.Close()
	}
}
