// Package actions turns MemberMouse lifecycle events into Kit subscribe and
// tag calls. Every handler loads settings fresh, never returns an error and
// reports what it did through a models.ActionResult.
package actions

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/PortNumber53/membermouse-kit-bridge/internal/debuglog"
	"github.com/PortNumber53/membermouse-kit-bridge/internal/kit"
	"github.com/PortNumber53/membermouse-kit-bridge/internal/mapping"
	"github.com/PortNumber53/membermouse-kit-bridge/internal/metrics"
	"github.com/PortNumber53/membermouse-kit-bridge/internal/models"
	"github.com/PortNumber53/membermouse-kit-bridge/internal/settings"
)

// Skip reasons reported in ActionResult.Reason.
const (
	ReasonNoCredentials     = "no credentials configured"
	ReasonMissingFields     = "missing required fields"
	ReasonNoMapping         = "no tag mapping configured"
	ReasonUnsupportedStatus = "unsupported status"
	ReasonEmailUnchanged    = "email unchanged"
	ReasonNotSubscribed     = "no subscriber for previous email"
	ReasonOAuthRequired     = "account updates need an oauth connection"
	ReasonUnknownEvent      = "unknown event type"
)

// EventRecorder stores an audit row per dispatched event.
type EventRecorder interface {
	RecordEvent(ctx context.Context, rec models.EventRecord) error
}

// Actions holds the collaborators shared by every handler.
type Actions struct {
	repo     settings.Repository
	kit      kit.Config
	debug    *debuglog.Sink
	recorder EventRecorder
	now      func() time.Time
}

// New wires the handlers. sink and recorder may be nil.
func New(repo settings.Repository, kitCfg kit.Config, sink *debuglog.Sink, recorder EventRecorder) (*Actions, error) {
	if repo == nil {
		return nil, errors.New("actions: settings repository cannot be nil")
	}
	return &Actions{
		repo:     repo,
		kit:      kitCfg,
		debug:    sink,
		recorder: recorder,
		now:      time.Now,
	}, nil
}

// session is the per-event view of settings and the client built from them.
type session struct {
	settings *settings.Settings
	resolver *mapping.Resolver
	client   *kit.Client
	debug    *debuglog.Logger
}

func (a *Actions) open(ctx context.Context) (*session, error) {
	s, err := settings.Load(ctx, a.repo)
	if err != nil {
		return nil, err
	}
	sess := &session{
		settings: s,
		resolver: mapping.NewResolver(s),
		debug:    a.debug.For(s.DebugEnabled()),
	}
	if s.HasCredentials() {
		sess.client = kit.NewClient(a.kit, s.Credentials(), s)
	}
	return sess, nil
}

// tagRequest describes one subscribe-and-tag attempt.
type tagRequest struct {
	event    models.EventType
	identity models.Identity
	resource models.ResourceType
	id       int64
	hasID    bool
	cancel   bool
	label    string
}

func (a *Actions) tag(ctx context.Context, req tagRequest) models.ActionResult {
	result := models.ActionResult{Event: req.event}

	sess, err := a.open(ctx)
	if err != nil {
		return a.fail(nil, result, "load settings", err)
	}
	if sess.client == nil {
		return a.skip(sess, result, ReasonNoCredentials)
	}
	if req.identity.Email == "" || !req.hasID {
		return a.skip(sess, result, ReasonMissingFields)
	}

	tagID, ok := sess.resolver.Resolve(req.resource, req.id, req.cancel)
	if !ok {
		return a.skip(sess, result, ReasonNoMapping)
	}
	result.TagID = tagID

	if _, err := kit.ParseTagID(tagID); err != nil {
		return a.fail(sess, result, "validate tag", err)
	}

	sess.debug.Printf("%s %s to user %s (%s)", req.label, tagID, req.identity.Email, req.identity.FirstName)

	subscriberID, err := sess.client.SubscribeToTag(ctx, tagID, req.identity.Email, req.identity.FirstName)
	result.SubscriberID = subscriberID
	if err != nil {
		return a.fail(sess, result, "subscribe to tag", err)
	}

	result.Outcome = models.OutcomeTagged
	return a.finish(result)
}

// MemberAdded applies the activation tag for the member's level.
func (a *Actions) MemberAdded(ctx context.Context, ev models.MemberEvent) models.ActionResult {
	return a.tag(ctx, tagRequest{
		event:    models.EventMemberAdded,
		identity: ev.Identity,
		resource: models.ResourceMembershipLevel,
		id:       ev.MembershipLevelID,
		hasID:    ev.HasLevel,
		label:    "Add tag",
	})
}

// MemberLevelChanged applies the activation tag for the new level.
func (a *Actions) MemberLevelChanged(ctx context.Context, ev models.MemberEvent) models.ActionResult {
	return a.tag(ctx, tagRequest{
		event:    models.EventMemberLevelChanged,
		identity: ev.Identity,
		resource: models.ResourceMembershipLevel,
		id:       ev.MembershipLevelID,
		hasID:    ev.HasLevel,
		label:    "Add tag",
	})
}

// MemberStatusChanged only acts on cancellation; activation arrives through
// MemberAdded and MemberLevelChanged.
func (a *Actions) MemberStatusChanged(ctx context.Context, ev models.MemberEvent) models.ActionResult {
	if ev.StatusName != models.StatusCanceled {
		result := models.ActionResult{Event: models.EventMemberStatusChanged}
		return a.skip(nil, result, ReasonUnsupportedStatus)
	}
	return a.tag(ctx, tagRequest{
		event:    models.EventMemberStatusChanged,
		identity: ev.Identity,
		resource: models.ResourceMembershipLevel,
		id:       ev.MembershipLevelID,
		hasID:    ev.HasLevel,
		cancel:   true,
		label:    "Add cancellation tag",
	})
}

// MemberDeleted applies the level's cancellation tag.
func (a *Actions) MemberDeleted(ctx context.Context, ev models.MemberEvent) models.ActionResult {
	return a.tag(ctx, tagRequest{
		event:    models.EventMemberDeleted,
		identity: ev.Identity,
		resource: models.ResourceMembershipLevel,
		id:       ev.MembershipLevelID,
		hasID:    ev.HasLevel,
		cancel:   true,
		label:    "Add cancellation tag",
	})
}

// ProductPurchased applies the product tag. Products have no cancellation tag.
func (a *Actions) ProductPurchased(ctx context.Context, ev models.ProductEvent) models.ActionResult {
	return a.tag(ctx, tagRequest{
		event:    models.EventProductPurchased,
		identity: ev.Identity,
		resource: models.ResourceProduct,
		id:       ev.ProductID,
		hasID:    ev.HasProduct,
		label:    "Add product tag",
	})
}

// BundleAdded applies the bundle's activation tag.
func (a *Actions) BundleAdded(ctx context.Context, ev models.BundleEvent) models.ActionResult {
	return a.tag(ctx, tagRequest{
		event:    models.EventBundleAdded,
		identity: ev.Identity,
		resource: models.ResourceBundle,
		id:       ev.BundleID,
		hasID:    ev.HasBundle,
		label:    "Add bundle tag",
	})
}

// BundleStatusChanged maps Active to the activation tag and Canceled to the
// cancellation tag. Other statuses are ignored.
func (a *Actions) BundleStatusChanged(ctx context.Context, ev models.BundleEvent) models.ActionResult {
	req := tagRequest{
		event:    models.EventBundleStatusChanged,
		identity: ev.Identity,
		resource: models.ResourceBundle,
		id:       ev.BundleID,
		hasID:    ev.HasBundle,
	}
	switch ev.BundleStatusName {
	case models.StatusActive:
		req.label = "Add bundle tag"
	case models.StatusCanceled:
		req.cancel = true
		req.label = "Add bundle cancellation tag"
	default:
		result := models.ActionResult{Event: models.EventBundleStatusChanged}
		return a.skip(nil, result, ReasonUnsupportedStatus)
	}
	return a.tag(ctx, req)
}

// MemberAccountUpdated moves a subscriber to the member's new email address.
func (a *Actions) MemberAccountUpdated(ctx context.Context, ev models.AccountUpdateEvent) models.ActionResult {
	result := models.ActionResult{Event: models.EventMemberAccountUpdated}

	sess, err := a.open(ctx)
	if err != nil {
		return a.fail(nil, result, "load settings", err)
	}
	if sess.client == nil {
		return a.skip(sess, result, ReasonNoCredentials)
	}
	if ev.Email == "" || ev.PreviousEmail == "" {
		return a.skip(sess, result, ReasonMissingFields)
	}
	if strings.EqualFold(ev.Email, ev.PreviousEmail) {
		return a.skip(sess, result, ReasonEmailUnchanged)
	}

	subscriberID, err := sess.client.GetSubscriberIDByEmail(ctx, ev.PreviousEmail)
	if errors.Is(err, kit.ErrOAuthRequired) {
		return a.skip(sess, result, ReasonOAuthRequired)
	}
	if errors.Is(err, kit.ErrSubscriberNotFound) {
		return a.skip(sess, result, ReasonNotSubscribed)
	}
	if err != nil {
		return a.fail(sess, result, "find subscriber", err)
	}
	result.SubscriberID = subscriberID

	sess.debug.Printf("Update subscriber %d email %s to %s (%s)", subscriberID, ev.PreviousEmail, ev.Email, ev.FirstName)

	if err := sess.client.UpdateSubscriber(ctx, subscriberID, ev.FirstName, ev.Email); err != nil {
		return a.fail(sess, result, "update subscriber", err)
	}

	result.Outcome = models.OutcomeUpdated
	return a.finish(result)
}

// Dispatch parses a flat payload, routes it by event type and records the
// outcome. Unknown event types are skipped.
func (a *Actions) Dispatch(ctx context.Context, eventType models.EventType, fields models.EventFields) models.ActionResult {
	var result models.ActionResult
	switch eventType {
	case models.EventMemberAdded:
		result = a.MemberAdded(ctx, models.ParseMemberEvent(fields))
	case models.EventMemberLevelChanged:
		result = a.MemberLevelChanged(ctx, models.ParseMemberEvent(fields))
	case models.EventMemberStatusChanged:
		result = a.MemberStatusChanged(ctx, models.ParseMemberEvent(fields))
	case models.EventMemberDeleted:
		result = a.MemberDeleted(ctx, models.ParseMemberEvent(fields))
	case models.EventMemberAccountUpdated:
		result = a.MemberAccountUpdated(ctx, models.ParseAccountUpdateEvent(fields))
	case models.EventProductPurchased:
		result = a.ProductPurchased(ctx, models.ParseProductEvent(fields))
	case models.EventBundleAdded:
		result = a.BundleAdded(ctx, models.ParseBundleEvent(fields))
	case models.EventBundleStatusChanged:
		result = a.BundleStatusChanged(ctx, models.ParseBundleEvent(fields))
	default:
		result = a.skip(nil, models.ActionResult{Event: eventType}, ReasonUnknownEvent)
	}

	a.record(ctx, fields, result)
	return result
}

func (a *Actions) record(ctx context.Context, fields models.EventFields, result models.ActionResult) {
	if a.recorder == nil {
		return
	}
	rec := models.EventRecord{
		ID:         uuid.NewString(),
		EventType:  result.Event,
		Email:      fields.Get("email"),
		Outcome:    result.Outcome,
		Payload:    fields,
		ReceivedAt: a.now().UTC(),
	}
	if result.TagID != "" {
		tag := result.TagID.String()
		rec.TagID = &tag
	}
	if result.Err != nil {
		msg := result.Err.Error()
		rec.Error = &msg
	} else if result.Reason != "" {
		reason := result.Reason
		rec.Error = &reason
	}
	if err := a.recorder.RecordEvent(ctx, rec); err != nil {
		log.Warn().Err(err).Str("event", string(result.Event)).Msg("failed to record event")
	}
}

func (a *Actions) skip(sess *session, result models.ActionResult, reason string) models.ActionResult {
	result.Outcome = models.OutcomeSkipped
	result.Reason = reason
	if sess != nil {
		sess.debug.Printf("Skip %s: %s", result.Event, reason)
	}
	log.Debug().Str("event", string(result.Event)).Str("reason", reason).Msg("event skipped")
	return a.finish(result)
}

func (a *Actions) fail(sess *session, result models.ActionResult, step string, err error) models.ActionResult {
	result.Outcome = models.OutcomeFailed
	result.Reason = step
	result.Err = err
	if sess != nil {
		sess.debug.Printf("Error in %s (%s): %v", result.Event, step, err)
	}
	log.Error().Err(err).
		Str("event", string(result.Event)).
		Str("step", step).
		Str("code", string(kit.CodeOf(err))).
		Msg("event handling failed")
	return a.finish(result)
}

func (a *Actions) finish(result models.ActionResult) models.ActionResult {
	metrics.EventsTotal.WithLabelValues(string(result.Event), string(result.Outcome)).Inc()
	return result
}
