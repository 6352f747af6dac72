// Package hub runs the single-threaded control loop that owns the session and
// mediates every command between the pipeline stages.
package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hubenschmidt/asr-llm-tts-poc/vhub/internal/calldb"
	"github.com/hubenschmidt/asr-llm-tts-poc/vhub/internal/calllog"
	"github.com/hubenschmidt/asr-llm-tts-poc/vhub/internal/command"
	"github.com/hubenschmidt/asr-llm-tts-poc/vhub/internal/metrics"
	"github.com/hubenschmidt/asr-llm-tts-poc/vhub/internal/monitor"
	"github.com/hubenschmidt/asr-llm-tts-poc/vhub/internal/orchestrator"
	"github.com/hubenschmidt/asr-llm-tts-poc/vhub/internal/session"
)

// Sender identifies the hub on every command it issues.
const Sender = "HUB"

const dbTimeout = 2 * time.Second

// Policy is the call admission and termination configuration.
type Policy struct {
	Tick                time.Duration
	CallbackDelay       time.Duration
	MaxRecentCalls      int
	MaxRecentTime       time.Duration
	LimitReachedMessage string
	BlacklistFor        time.Duration
	HardTimeLimit       time.Duration
	HardTurnLimit       int
}

// Endpoint is the hub's non-blocking handle on one stage.
type Endpoint interface {
	Send(c command.Command) error
	Poll() (command.Command, bool, error)
}

// Pipeline is what the hub needs to shut the stages down.
type Pipeline interface {
	StopAll(sender string)
	Drain() int
	Wait() error
}

// CallDB is the call history the admission policy reads and the hub feeds.
type CallDB interface {
	URIStats(ctx context.Context, uri string) (calldb.Stats, error)
	TrackConfirmedCall(ctx context.Context, uri string) error
	TrackDisconnectedCall(ctx context.Context, uri string) error
}

// Deps are the collaborators of a Controller. Tracer and Monitor may be nil.
type Deps struct {
	Endpoints map[orchestrator.Name]Endpoint
	CallDB    CallDB
	Tracer    *calllog.Tracer
	Monitor   *monitor.Broadcaster
	Now       func() time.Time
}

// EndpointsOf adapts a running pipeline for New.
func EndpointsOf(p *orchestrator.Pipeline) map[orchestrator.Name]Endpoint {
	out := make(map[orchestrator.Name]Endpoint, len(orchestrator.Order))
	for _, name := range orchestrator.Order {
		out[name] = p.Endpoint(name)
	}
	return out
}

// Controller is the hub. All methods must be called from one goroutine.
type Controller struct {
	policy    Policy
	endpoints [len(orchestrator.Order)]Endpoint
	db        CallDB
	tracer    *calllog.Tracer
	mon       *monitor.Broadcaster
	now       func() time.Time

	sess session.Session

	// outstanding counts flush() commands each stage has yet to acknowledge.
	outstanding [len(orchestrator.Order)]int
}

// New builds a controller in the idle state.
func New(p Policy, d Deps) (*Controller, error) {
	if d.CallDB == nil {
		return nil, errors.New("hub: call database required")
	}
	c := &Controller{
		policy: p,
		db:     d.CallDB,
		tracer: d.Tracer,
		mon:    d.Monitor,
		now:    d.Now,
		sess:   session.Idle(),
	}
	if c.now == nil {
		c.now = time.Now
	}
	for i, name := range orchestrator.Order {
		ep, ok := d.Endpoints[name]
		if !ok || ep == nil {
			return nil, fmt.Errorf("hub: no endpoint for stage %s", name)
		}
		c.endpoints[i] = ep
	}
	return c, nil
}

// Session returns a copy of the current session state.
func (c *Controller) Session() session.Session { return c.sess }

// Run ticks until ctx is done or a stage becomes unavailable, then stops,
// drains and waits for every stage. A stage failure cancels the shared
// context via cancel so the remaining stages exit too.
func (c *Controller) Run(ctx context.Context, pipe Pipeline, cancel context.CancelCauseFunc) error {
	ticker := time.NewTicker(c.policy.Tick)
	defer ticker.Stop()

	slog.Info("hub running", "tick", c.policy.Tick)
	var fatal error
	for fatal == nil {
		select {
		case <-ctx.Done():
			if cause := context.Cause(ctx); !errors.Is(cause, context.Canceled) {
				fatal = cause
			}
			return c.shutdown(pipe, fatal)
		case <-ticker.C:
		}
		fatal = c.Tick(c.now())
	}

	slog.Error("stage unavailable, shutting down", "error", fatal)
	if cancel != nil {
		cancel(fatal)
	}
	return c.shutdown(pipe, fatal)
}

func (c *Controller) shutdown(pipe Pipeline, fatal error) error {
	slog.Info("hub stopping stages")
	pipe.StopAll(Sender)
	if n := pipe.Drain(); n > 0 {
		slog.Debug("drained pending messages", "count", n)
	}
	err := pipe.Wait()
	c.tracer.End(c.now())
	metrics.CallsActive.Set(0)
	slog.Info("hub stopped")
	return errors.Join(fatal, err)
}

// Tick polls every stage once, in pipeline order, then runs the timer checks.
// It returns only errors that must stop the hub.
func (c *Controller) Tick(now time.Time) error {
	start := time.Now()
	defer func() { metrics.TickDuration.Observe(time.Since(start).Seconds()) }()

	for i, name := range orchestrator.Order {
		cmd, ok, err := c.endpoints[i].Poll()
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		c.observe("in", name, cmd, now)
		if err = c.dispatch(name, cmd, now); err != nil {
			if fatal(err) {
				return err
			}
			c.drop(name, cmd, err)
		}
	}

	if err := c.checkTimers(now); err != nil {
		return err
	}
	if c.sess.Active() {
		metrics.CallsActive.Set(1)
	} else {
		metrics.CallsActive.Set(0)
	}
	return nil
}

func fatal(err error) bool {
	var unavailable *orchestrator.StageUnavailableError
	return errors.As(err, &unavailable)
}

func (c *Controller) drop(from orchestrator.Name, cmd command.Command, err error) {
	var (
		stateErr *session.StateError
		protoErr *command.ProtocolError
	)
	reason := "error"
	switch {
	case errors.As(err, &stateErr):
		reason = "state"
	case errors.As(err, &protoErr):
		reason = "protocol"
	}
	metrics.EventsDropped.WithLabelValues(reason).Inc()
	slog.Warn("event ignored", "stage", from, "command", cmd.String(), "error", err)
}

// expectedSource lists which stage may raise each notification. flushed is
// accepted from any stage.
var expectedSource = map[command.Kind]orchestrator.Name{
	command.KindIncomingCall:                   orchestrator.LineIO,
	command.KindRejectedCall:                   orchestrator.LineIO,
	command.KindRejectedCallFromBlacklistedURI: orchestrator.LineIO,
	command.KindCallConnecting:                 orchestrator.LineIO,
	command.KindCallConfirmed:                  orchestrator.LineIO,
	command.KindCallDisconnected:               orchestrator.LineIO,
	command.KindPlayUtteranceStart:             orchestrator.LineIO,
	command.KindPlayUtteranceEnd:               orchestrator.LineIO,
	command.KindSpeechStart:                    orchestrator.VAD,
	command.KindSpeechEnd:                      orchestrator.VAD,
	command.KindHangup:                         orchestrator.DM,
	command.KindDMDAGenerated:                  orchestrator.DM,
}

func (c *Controller) dispatch(from orchestrator.Name, cmd command.Command, now time.Time) error {
	if cmd.Kind == command.KindUnrecognized {
		metrics.EventsDropped.WithLabelValues("unrecognized").Inc()
		slog.Debug("unrecognized command ignored", "stage", from, "command", cmd.String())
		return nil
	}
	if cmd.Kind == command.KindFlushed {
		return c.onFlushed(from, now)
	}
	if want, ok := expectedSource[cmd.Kind]; !ok || want != from {
		return &session.StateError{Event: cmd.Name, Reason: fmt.Sprintf("not expected from %s", from)}
	}

	switch cmd.Kind {
	case command.KindIncomingCall:
		uri, err := requireArg(cmd, "remote_uri")
		if err != nil {
			return err
		}
		c.tracer.Start(uri, now)
		slog.Info("incoming call", "remote_uri", uri)
	case command.KindRejectedCall:
		uri, err := requireArg(cmd, "remote_uri")
		if err != nil {
			return err
		}
		c.sess = onRejectedCall(c.sess, uri, now, c.policy)
		metrics.CallsRejected.WithLabelValues("busy").Inc()
		slog.Info("call rejected, will call back", "remote_uri", uri, "at", c.sess.Callback.FireAt)
	case command.KindRejectedCallFromBlacklistedURI:
		uri, err := requireArg(cmd, "remote_uri")
		if err != nil {
			return err
		}
		metrics.CallsRejected.WithLabelValues("blacklisted").Inc()
		c.logStats("call rejected from blacklisted uri", uri)
	case command.KindCallConnecting:
		slog.Info("call connecting", "remote_uri", cmd.Arg("remote_uri"))
	case command.KindCallConfirmed:
		return c.onCallConfirmed(cmd, now)
	case command.KindCallDisconnected:
		return c.onCallDisconnected(cmd, now)
	case command.KindPlayUtteranceStart:
		c.sess = c.sess.SetSystemVoice(true, now)
	case command.KindPlayUtteranceEnd:
		c.sess = c.sess.SetSystemVoice(false, now)
	case command.KindSpeechStart:
		var out []directive
		c.sess, out = onSpeechStart(c.sess, now)
		if len(out) > 0 {
			metrics.BargeIns.Inc()
			slog.Info("barge-in, flushing output")
		}
		return c.emit(out, now)
	case command.KindSpeechEnd:
		c.sess = c.sess.SetUserVoice(false, now)
	case command.KindHangup:
		s, err := onHangupRequest(c.sess)
		if err != nil {
			return err
		}
		c.sess = s
		slog.Info("hangup requested by dialogue manager")
	case command.KindDMDAGenerated:
		s, err := onDialogueAct(c.sess, now)
		if err != nil {
			return err
		}
		c.sess = s
		metrics.DialogueTurns.Inc()
	default:
		return &session.StateError{Event: cmd.Name, Reason: "not a notification"}
	}
	return nil
}

func requireArg(cmd command.Command, key string) (string, error) {
	v := cmd.Arg(key)
	if v == "" {
		return "", &command.ProtocolError{Text: cmd.String(), Reason: "missing argument " + key}
	}
	return v, nil
}

func (c *Controller) stats(uri string) (calldb.Stats, error) {
	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()
	return c.db.URIStats(ctx, uri)
}

func (c *Controller) logStats(msg, uri string) {
	st, err := c.stats(uri)
	if err != nil {
		slog.Warn("call stats unavailable", "remote_uri", uri, "error", err)
		return
	}
	slog.Info(msg,
		"remote_uri", uri,
		"total_calls", st.TotalCalls,
		"total_time", st.TotalTime,
		"recent_calls", st.RecentCalls,
		"recent_time", st.RecentTime,
	)
}

func (c *Controller) onCallConfirmed(cmd command.Command, now time.Time) error {
	uri, err := requireArg(cmd, "remote_uri")
	if err != nil {
		return err
	}

	// Admission fails open: a caller is not turned away because the history
	// could not be read.
	st, err := c.stats(uri)
	if err != nil {
		slog.Warn("call stats unavailable, admitting call", "remote_uri", uri, "error", err)
		st = calldb.Stats{}
	}

	s, out, accepted, err := onCallConfirmed(c.sess, uri, st, now, c.policy)
	if err != nil {
		return err
	}
	c.sess = s

	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()
	if err = c.db.TrackConfirmedCall(ctx, uri); err != nil {
		slog.Warn("track confirmed call", "remote_uri", uri, "error", err)
	}

	outcome := "accepted"
	if !accepted {
		outcome = "limited"
	}
	metrics.CallsConfirmed.WithLabelValues(outcome).Inc()
	slog.Info("call confirmed",
		"session_id", s.ID,
		"remote_uri", uri,
		"outcome", outcome,
		"recent_calls", st.RecentCalls,
		"recent_time", st.RecentTime,
	)
	return c.emit(out, now)
}

func (c *Controller) onCallDisconnected(cmd command.Command, now time.Time) error {
	s, out, err := onCallDisconnected(c.sess)
	if err != nil {
		return err
	}
	c.sess = s

	uri := cmd.Arg("remote_uri")
	if uri == "" {
		uri = s.RemoteURI
	}
	c.tracer.End(now)
	if uri != "" {
		ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
		defer cancel()
		if err = c.db.TrackDisconnectedCall(ctx, uri); err != nil {
			slog.Warn("track disconnected call", "remote_uri", uri, "error", err)
		}
	}
	slog.Info("call disconnected, flushing pipeline", "session_id", s.ID, "remote_uri", uri)
	return c.emit(out, now)
}

// onFlushed forwards an acknowledged flush down the pipeline. A flushed()
// with no flush outstanding for the stage is dropped.
func (c *Controller) onFlushed(from orchestrator.Name, now time.Time) error {
	i := orchestrator.Index(from)
	if c.outstanding[i] == 0 {
		return &session.StateError{Event: command.Flushed, Reason: fmt.Sprintf("no flush outstanding for %s", from)}
	}
	c.outstanding[i]--

	if err := c.emit(flushSuccessors(from), now); err != nil {
		return err
	}
	if from == orchestrator.TTS && c.sess.Disconnecting && c.quiescent() {
		slog.Info("flush cascade complete", "session_id", c.sess.ID)
		metrics.FlushCascades.Inc()
		c.sess = c.sess.Reset()
	}
	return nil
}

func (c *Controller) quiescent() bool {
	for _, n := range c.outstanding {
		if n > 0 {
			return false
		}
	}
	return true
}

func (c *Controller) checkTimers(now time.Time) error {
	var out []directive

	c.sess, out = checkSoftHangup(c.sess, now)
	if len(out) > 0 {
		metrics.Hangups.WithLabelValues("soft").Inc()
		slog.Info("soft hangup", "session_id", c.sess.ID)
	}
	if err := c.emit(out, now); err != nil {
		return err
	}

	c.sess, out = checkHardLimit(c.sess, now, c.policy)
	if len(out) > 0 {
		metrics.Hangups.WithLabelValues("hard").Inc()
		slog.Info("hard limit reached, hanging up", "session_id", c.sess.ID, "call_start", c.sess.CallStart)
	}
	if err := c.emit(out, now); err != nil {
		return err
	}

	c.sess, out = checkCallback(c.sess, now)
	if len(out) > 0 {
		metrics.Callbacks.Inc()
		slog.Info("calling back", "destination", out[0].cmd.Arg("destination"))
	}
	return c.emit(out, now)
}

// emit sends directives in order and stops at the first unavailable stage.
func (c *Controller) emit(out []directive, now time.Time) error {
	for _, d := range out {
		i := orchestrator.Index(d.to)
		if err := c.endpoints[i].Send(d.cmd); err != nil {
			return err
		}
		if d.cmd.Kind == command.KindFlush {
			c.outstanding[i]++
		}
		c.observe("out", d.to, d.cmd, now)
	}
	return nil
}

func (c *Controller) observe(dir string, stage orchestrator.Name, cmd command.Command, now time.Time) {
	text := cmd.String()
	label := cmd.Name
	if cmd.Kind == command.KindUnrecognized {
		label = "unrecognized"
	}
	if dir == "in" {
		metrics.CommandsReceived.WithLabelValues(string(stage), label).Inc()
	} else {
		metrics.CommandsSent.WithLabelValues(string(stage), label).Inc()
	}
	slog.Debug("command", "dir", dir, "stage", stage, "command", text)
	c.tracer.Record(dir, string(stage), text, now)
	c.mon.Publish(monitor.Frame{Dir: dir, Stage: string(stage), Command: text, At: now})
}
