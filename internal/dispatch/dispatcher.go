// Package dispatch fires analytics events through two channels at once: the
// browser pixel and the server-side conversions API. Both carry the same
// event identifier so the receiving platform merges them into a single
// conversion. Events raised before the attribution cookies resolve are
// buffered by the cookie monitor and replayed here at the readiness
// transition.
package dispatch

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ivyaspire/leadtrack/internal/attribution"
	"github.com/ivyaspire/leadtrack/internal/classify"
	"github.com/ivyaspire/leadtrack/internal/clientinfo"
	"github.com/ivyaspire/leadtrack/internal/cookiewatch"
	"github.com/ivyaspire/leadtrack/internal/model"
	"github.com/ivyaspire/leadtrack/pkg/edge"
	"github.com/ivyaspire/leadtrack/pkg/pixel"
)

// CTA click variants accepted by TrackMofCTAClick.
const (
	CTABookCall          = "book_call"
	CTARequestEvaluation = "request_evaluation"
)

// Option configures the dispatcher.
type Option func(*Dispatcher)

// WithEnvironment sets the environment tag appended to every event name
// ("prod" selects _prod, anything else _stg).
func WithEnvironment(env string) Option {
	return func(d *Dispatcher) { d.env = env }
}

// WithLogger overrides the logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) { d.log = l }
}

// WithNow overrides the clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// Dispatcher routes events to the pixel and the conversions API.
type Dispatcher struct {
	pixel   pixel.Pixel
	capi    edge.Client
	monitor *cookiewatch.Monitor
	client  *clientinfo.Provider
	env     string
	log     *zap.Logger
	now     func() time.Time

	counter atomic.Uint64
	sends   errgroup.Group
}

// NewDispatcher wires the dual-channel dispatcher.
func NewDispatcher(px pixel.Pixel, capi edge.Client, monitor *cookiewatch.Monitor, client *clientinfo.Provider, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		pixel:   px,
		capi:    capi,
		monitor: monitor,
		client:  client,
		env:     "stg",
		log:     zap.L(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	d.sends.SetLimit(8)
	return d
}

// WarmUp kicks off the asynchronous preconditions: the client address fetch
// and the cookie poll. Buffered events replay, in order, as soon as the
// monitor resolves.
func (d *Dispatcher) WarmUp(ctx context.Context) {
	d.client.FetchOnce(ctx)
	d.monitor.EnsureReady(func() {
		for _, ev := range d.monitor.Drain() {
			d.dispatchNow(ctx, ev.Name, ev.UserData, ev.SourceURL)
		}
	})
}

// Wait blocks until all in-flight conversion sends have completed. Send
// failures are logged, never returned.
func (d *Dispatcher) Wait() {
	_ = d.sends.Wait()
}

func (d *Dispatcher) envSuffix() string {
	if d.env == "prod" {
		return "prod"
	}
	return "stg"
}

// TrackMetaEvent is the core dispatch operation. The environment suffix is
// appended to the name; the event is either queued (cookies unresolved) or
// fired immediately through both channels. The returned value is the full
// event name, whether fired or queued.
func (d *Dispatcher) TrackMetaEvent(ctx context.Context, name string, ud attribution.UserData, sourceURL string) string {
	fullName := name + "_" + d.envSuffix()

	if !d.monitor.Ready() {
		err := d.monitor.Enqueue(cookiewatch.Event{
			Name:      fullName,
			UserData:  ud,
			SourceURL: sourceURL,
			CreatedAt: d.now(),
		})
		if err == nil {
			return fullName
		}
		// The monitor resolved between the Ready check and the enqueue;
		// fall through to an immediate dispatch.
	}

	d.dispatchNow(ctx, fullName, ud, sourceURL)
	return fullName
}

// dispatchNow enriches the record with whatever attribution is available
// now and fires both channels with a shared event identifier.
func (d *Dispatcher) dispatchNow(ctx context.Context, fullName string, ud attribution.UserData, sourceURL string) {
	fbp, fbc := d.monitor.Cookies()
	addr, _ := d.client.Address()
	ua, _ := d.client.UserAgent()
	ud = attribution.Enrich(ud, fbp, fbc, addr, ua)

	now := d.now()
	eventID := d.eventID(ud.ExternalID, fullName, now)

	// The pixel carries the same identifier so the platform can merge the
	// browser and server events into one conversion.
	pixelData := userDataMap(ud)
	pixelData["eventID"] = eventID
	d.pixel.Fire(pixel.CommandTrackCustom, fullName, map[string]any{}, pixelData)

	ev := edge.CAPIEvent{
		EventName:      fullName,
		UserData:       ud,
		EventID:        eventID,
		EventTime:      now.Unix(),
		EventSourceURL: sourceURL,
	}

	// The conversion send is fire-and-forget for the caller but remains an
	// observable task: Wait drains it, failures are logged and swallowed.
	sendCtx := context.WithoutCancel(ctx)
	d.sends.Go(func() error {
		if err := d.capi.SendEvent(sendCtx, ev); err != nil {
			d.log.Warn("conversion send failed",
				zap.String("event", fullName),
				zap.String("event_id", eventID),
				zap.Error(err),
			)
			return nil
		}
		d.log.Debug("conversion sent",
			zap.String("event", fullName),
			zap.String("event_id", eventID),
		)
		return nil
	})
}

// eventID synthesizes the dedup identifier shared by both channels. The
// monotonic counter keeps same-named events in the same millisecond unique.
func (d *Dispatcher) eventID(sessionID, eventName string, now time.Time) string {
	if sessionID == "" {
		sessionID = "anon"
	}
	return fmt.Sprintf("%s_%s_%d_%d", sessionID, eventName, now.UnixMilli(), d.counter.Add(1))
}

func userDataMap(ud attribution.UserData) map[string]any {
	m := map[string]any{}
	set := func(k, v string) {
		if v != "" {
			m[k] = v
		}
	}
	set("em", ud.Email)
	set("ph", ud.Phone)
	set("fn", ud.FirstName)
	set("ln", ud.LastName)
	set("ct", ud.City)
	set("external_id", ud.ExternalID)
	set("fbp", ud.FBP)
	set("fbc", ud.FBC)
	set("client_ip_address", ud.ClientIP)
	set("client_user_agent", ud.ClientUserAgent)
	return m
}

// isQualified resolves qualification from whichever of the two snapshot
// signals is populated.
func isQualified(s model.FormSnapshot) bool {
	return s.IsQualifiedLead || s.LeadCategory.Qualified()
}

// trackStage fires the base event for a table entry plus its derived
// category and qualified events.
func (d *Dispatcher) trackStage(ctx context.Context, key string, s model.FormSnapshot) []string {
	st, ok := table.Stages[key]
	if !ok {
		d.log.Error("unknown funnel stage", zap.String("stage", key))
		return nil
	}

	ud := attribution.Build(s)
	src := attribution.SanitizeURL(s.PageURL)

	names := []string{d.TrackMetaEvent(ctx, st.Base, ud, src)}

	if st.CategoryEvents {
		if name := categoryEvent(st.Base, s.LeadCategory); name != "" {
			names = append(names, d.TrackMetaEvent(ctx, name, ud, src))
		}
	}

	if st.QualifiedEvents && isQualified(s) {
		fire := true
		if st.StudentSimGate && s.FormFillerType == model.FillerStudent {
			sim := classify.SimulateStudentAsParent(classify.FieldsFromSnapshot(s))
			fire = classify.Qualifies(sim)
		}
		if fire {
			if name := qualifiedEvent(st.Base, s.FormFillerType); name != "" {
				names = append(names, d.TrackMetaEvent(ctx, name, ud, src))
			}
		}
	}

	return names
}

// TrackPageView fires the top-of-funnel page view.
func (d *Dispatcher) TrackPageView(ctx context.Context) []string {
	return d.trackStage(ctx, "page_view", model.FormSnapshot{})
}

// TrackHeroCTA fires the hero CTA click.
func (d *Dispatcher) TrackHeroCTA(ctx context.Context) []string {
	return d.trackStage(ctx, "cta_hero", model.FormSnapshot{})
}

// TrackUnderstandApproachCTA fires the secondary CTA click.
func (d *Dispatcher) TrackUnderstandApproachCTA(ctx context.Context) []string {
	return d.trackStage(ctx, "cta_understand_approach", model.FormSnapshot{})
}

// TrackPage1Continue fires the bare page-1 continue event, without category
// derivations.
func (d *Dispatcher) TrackPage1Continue(ctx context.Context) []string {
	return d.trackStage(ctx, "page_1_continue", model.FormSnapshot{})
}

// TrackMofPageView fires the mid-funnel page view.
func (d *Dispatcher) TrackMofPageView(ctx context.Context) []string {
	return d.trackStage(ctx, "mof_page_view", model.FormSnapshot{})
}

// TrackPage1Complete fires page-1 completion with the category and
// qualification derivations. For student fillers the qualified event is
// additionally gated on the student-as-parent simulation.
func (d *Dispatcher) TrackPage1Complete(ctx context.Context, s model.FormSnapshot) []string {
	return d.trackStage(ctx, "page_1_complete", s)
}

// TrackPage2View fires the page-2 view with derivations.
func (d *Dispatcher) TrackPage2View(ctx context.Context, s model.FormSnapshot) []string {
	return d.trackStage(ctx, "page_2_view", s)
}

// TrackPage2Submit fires the page-2 submit with derivations.
func (d *Dispatcher) TrackPage2Submit(ctx context.Context, s model.FormSnapshot) []string {
	return d.trackStage(ctx, "page_2_submit", s)
}

// TrackFormComplete fires form completion with derivations.
func (d *Dispatcher) TrackFormComplete(ctx context.Context, s model.FormSnapshot) []string {
	return d.trackStage(ctx, "form_complete", s)
}

// TrackCallScheduled fires the call-scheduled event with user data.
func (d *Dispatcher) TrackCallScheduled(ctx context.Context, s model.FormSnapshot) []string {
	return d.trackStage(ctx, "call_scheduled", s)
}

// TrackMofCTAClick fires the shared CTA click plus the variant-specific
// event for the pressed button.
func (d *Dispatcher) TrackMofCTAClick(ctx context.Context, variant string) []string {
	st := table.Stages["cta_click"]
	names := []string{d.TrackMetaEvent(ctx, st.Base, attribution.UserData{}, "")}
	if name, ok := st.Variants[variant]; ok {
		names = append(names, d.TrackMetaEvent(ctx, name, attribution.UserData{}, ""))
	} else if variant != "" {
		d.log.Warn("unknown cta variant", zap.String("variant", variant))
	}
	return names
}

// TrackMofStickyCTAClick fires the shared CTA click plus the sticky-bar
// variant.
func (d *Dispatcher) TrackMofStickyCTAClick(ctx context.Context) []string {
	return d.TrackMofCTAClick(ctx, "sticky")
}

// TrackPrimaryClassificationEvents fires the one-shot classification events
// after lead evaluation: spam or the filler-type base event, then the
// qualified/disqualified verdict. Students are judged by the
// student-as-parent simulation; the verdict fires even for spam students,
// matching the funnel's established behavior.
func (d *Dispatcher) TrackPrimaryClassificationEvents(ctx context.Context, s model.FormSnapshot) []string {
	ud := attribution.Build(s)
	src := attribution.SanitizeURL(s.PageURL)
	f := classify.FieldsFromSnapshot(s)
	spam := classify.IsSpam(f)
	cls := table.Classification

	var names []string
	fire := func(name string) {
		names = append(names, d.TrackMetaEvent(ctx, name, ud, src))
	}

	switch s.FormFillerType {
	case model.FillerParent:
		if spam {
			fire(cls.SpamParent)
			return names
		}
		fire(cls.Parent)
		if s.LeadCategory.Qualified() {
			fire(cls.QualifiedParent)
		} else {
			fire(cls.DisqualifiedParent)
		}
	case model.FillerStudent:
		if spam {
			fire(cls.SpamStudent)
		} else {
			fire(cls.Student)
		}
		if classify.Qualifies(classify.SimulateStudentAsParent(f)) {
			fire(cls.QualifiedStudent)
		} else {
			fire(cls.DisqualifiedStudent)
		}
	}
	return names
}
