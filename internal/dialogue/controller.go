package dialogue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-concierge/internal/budget"
	"github.com/wolfman30/clinic-concierge/internal/calendar"
	"github.com/wolfman30/clinic-concierge/internal/llm"
	"github.com/wolfman30/clinic-concierge/internal/messagelog"
	"github.com/wolfman30/clinic-concierge/internal/notify"
	"github.com/wolfman30/clinic-concierge/internal/observability/metrics"
	"github.com/wolfman30/clinic-concierge/internal/session"
	"github.com/wolfman30/clinic-concierge/internal/tenant"
	"github.com/wolfman30/clinic-concierge/pkg/logging"
)

const (
	DefaultMaxMessageChars = 500
	DefaultRepeatThreshold = 5
	defaultClassifyTimeout = 8 * time.Second
	defaultNotifyTimeout   = 10 * time.Second
	defaultClinicName      = "clínica"
)

// SessionStore is the slice of session.Store the controller needs.
type SessionStore interface {
	Get(ctx context.Context, identity string) (*session.Session, error)
	Save(ctx context.Context, s *session.Session) error
	Reset(ctx context.Context, identity string) (*session.Session, error)
}

type RateLimiter interface {
	IsRateLimited(ctx context.Context, identity string, historyLen int) bool
}

// Gateway is the costed LLM surface used for classification and replies.
type Gateway interface {
	Classify(ctx context.Context, text, stage string, categories []string) (string, error)
	Generate(ctx context.Context, system string, messages []llm.ChatMessage, maxTokens int32) (string, error)
}

type HistoryCompactor interface {
	Compact(ctx context.Context, history []session.Turn) []session.Turn
}

type Localizer interface {
	Localize(ctx context.Context, text, targetLang string) string
}

type Notifier interface {
	NotifyEmergency(ctx context.Context, alert notify.EmergencyAlert) error
	NotifyBooking(ctx context.Context, alert notify.BookingAlert) error
}

// AutomationChecker reports whether automated replies are on for an identity.
type AutomationChecker interface {
	Enabled(ctx context.Context, identity string) (bool, error)
}

type MessageRecorder interface {
	Record(ctx context.Context, msg messagelog.Message) error
}

// Inbound is one user message ready for the dialogue.
type Inbound struct {
	Identity  string
	TenantKey string
	Text      string
	MessageID string
	At        time.Time
}

// Reply is the outcome of one turn. Suppressed replies must not be sent.
type Reply struct {
	Text       string
	Suppressed bool
	Stage      session.Stage
	Intent     Intent
	Outcome    string
}

// Config tunes the controller.
type Config struct {
	HumanPhone      string
	MaxMessageChars int
	RepeatThreshold int
	Location        *time.Location
	ClassifyTimeout time.Duration
	PitchMaxTokens  int32
	AnswerMaxTokens int32
}

// Controller runs one dialogue turn per inbound message.
type Controller struct {
	sessions   SessionStore
	limiter    RateLimiter
	gateway    Gateway
	compactor  HistoryCompactor
	localizer  Localizer
	tenants    tenant.Provider
	calendar   calendar.Creator
	notifier   Notifier
	automation AutomationChecker
	log        MessageRecorder
	logger     *logging.Logger
	metrics    *metrics.DialogueMetrics
	now        func() time.Time
	cfg        Config
}

type Option func(*Controller)

func WithCompactor(c HistoryCompactor) Option { return func(ctl *Controller) { ctl.compactor = c } }
func WithLocalizer(l Localizer) Option { return func(ctl *Controller) { ctl.localizer = l } }
func WithTenants(p tenant.Provider) Option { return func(ctl *Controller) { ctl.tenants = p } }
func WithCalendar(c calendar.Creator) Option { return func(ctl *Controller) { ctl.calendar = c } }
func WithNotifier(n Notifier) Option { return func(ctl *Controller) { ctl.notifier = n } }
func WithAutomation(a AutomationChecker) Option { return func(ctl *Controller) { ctl.automation = a } }
func WithMessageLog(r MessageRecorder) Option { return func(ctl *Controller) { ctl.log = r } }
func WithMetrics(m *metrics.DialogueMetrics) Option {
	return func(ctl *Controller) { ctl.metrics = m }
}

func WithLogger(logger *logging.Logger) Option {
	return func(ctl *Controller) {
		if logger != nil {
			ctl.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(ctl *Controller) {
		if now != nil {
			ctl.now = now
		}
	}
}

// NewController wires the turn pipeline. sessions, limiter and gateway are
// required; the rest are optional collaborators.
func NewController(sessions SessionStore, limiter RateLimiter, gateway Gateway, cfg Config, opts ...Option) *Controller {
	if sessions == nil {
		panic("dialogue: session store cannot be nil")
	}
	if limiter == nil {
		panic("dialogue: rate limiter cannot be nil")
	}
	if gateway == nil {
		panic("dialogue: gateway cannot be nil")
	}
	if cfg.MaxMessageChars <= 0 {
		cfg.MaxMessageChars = DefaultMaxMessageChars
	}
	if cfg.RepeatThreshold <= 0 {
		cfg.RepeatThreshold = DefaultRepeatThreshold
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.ClassifyTimeout <= 0 {
		cfg.ClassifyTimeout = defaultClassifyTimeout
	}
	if cfg.PitchMaxTokens <= 0 {
		cfg.PitchMaxTokens = 900
	}
	if cfg.AnswerMaxTokens <= 0 {
		cfg.AnswerMaxTokens = 300
	}
	c := &Controller{
		sessions: sessions,
		limiter:  limiter,
		gateway:  gateway,
		logger:   logging.Default(),
		now:      time.Now,
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// turn carries the working copy and per-turn context through the pipeline.
type turn struct {
	in     Inbound
	sess   *session.Session
	intent Intent
	phone  string
	clinic string
}

// Process runs one turn. The only error returned is session.ErrUnavailable
// (wrapped) when neither store backend can serve the identity; every other
// failure is absorbed into the reply.
func (c *Controller) Process(ctx context.Context, in Inbound) (Reply, error) {
	in.Text = strings.TrimSpace(in.Text)
	if in.At.IsZero() {
		in.At = c.now().UTC()
	}
	log := c.logger.With("identity", in.Identity, "tenant", in.TenantKey)

	if IsResetCommand(in.Text) {
		sess, err := c.sessions.Reset(ctx, in.Identity)
		if err != nil {
			return Reply{}, fmt.Errorf("dialogue: reset: %w", err)
		}
		log.Info("conversation reset by user")
		return c.finish(Reply{Text: msgReset, Stage: sess.Stage, Outcome: "reset"}), nil
	}

	if c.automation != nil {
		enabled, err := c.automation.Enabled(ctx, in.Identity)
		if err != nil {
			log.Warn("automation lookup failed, assuming enabled", "error", err)
		} else if !enabled {
			c.record(ctx, in, session.RoleUser, in.Text, "")
			return c.finish(Reply{Suppressed: true, Outcome: "automation_disabled"}), nil
		}
	}

	sess, err := c.sessions.Get(ctx, in.Identity)
	if err != nil {
		return Reply{}, fmt.Errorf("dialogue: load session: %w", err)
	}
	t := &turn{in: in, sess: sess, phone: c.cfg.HumanPhone, clinic: defaultClinicName}

	if c.limiter.IsRateLimited(ctx, in.Identity, len(sess.ConversationHistory)) {
		log.Warn("message dropped by rate limiter", "history_len", len(sess.ConversationHistory))
		return c.finish(Reply{Suppressed: true, Stage: sess.Stage, Outcome: "rate_limited"}), nil
	}

	if in.Text == "" {
		return c.finish(Reply{Text: c.localize(ctx, t, msgEmpty), Stage: sess.Stage, Outcome: "empty"}), nil
	}
	if utf8.RuneCountInString(in.Text) > c.cfg.MaxMessageChars {
		log.Info("message over length limit", "chars", utf8.RuneCountInString(in.Text))
		text := c.localize(ctx, t, fmt.Sprintf(msgTooLong, c.cfg.MaxMessageChars))
		return c.finish(Reply{Text: text, Stage: sess.Stage, Outcome: "too_long"}), nil
	}

	if err := c.ensureTenant(ctx, t); err != nil {
		if errors.Is(err, tenant.ErrNotFound) {
			log.Error("tenant not configured", "error", err)
		} else {
			log.Error("tenant lookup failed", "error", err)
		}
		text := c.localize(ctx, t, fmt.Sprintf(msgTenantMissing, t.phone))
		return c.finish(Reply{Text: text, Stage: sess.Stage, Outcome: "tenant_missing"}), nil
	}

	if len(sess.ConversationHistory) == 0 && sess.Language == "" {
		sess.Language = DetectLanguage(in.Text)
	}

	reply, outcome := c.route(ctx, t, log)
	return c.commit(ctx, t, reply, outcome, log)
}

func (c *Controller) route(ctx context.Context, t *turn, log *logging.Logger) (string, string) {
	sess := t.sess
	if sess.Stage == session.StageEmergency || IsEmergency(t.in.Text) {
		t.intent = IntentEmergency
		sess.TrackIntent(string(IntentEmergency))
		return c.emergency(ctx, t, log), "emergency"
	}

	t.intent = c.classify(ctx, t, log)
	sess.TrackIntent(string(t.intent))

	if t.intent == IntentEmergency {
		return c.emergency(ctx, t, log), "emergency"
	}
	if sess.RepeatCount >= c.cfg.RepeatThreshold {
		log.Warn("repeated intent, de-escalating", "intent", t.intent, "repeat_count", sess.RepeatCount)
		return c.localize(ctx, t, fmt.Sprintf(msgRepeat, t.phone)), "repeat_guard"
	}

	switch sess.Stage {
	case session.StageStart:
		return c.greet(ctx, t)
	case session.StageAwaitingName:
		return c.captureName(ctx, t)
	}

	if (t.intent == IntentPriceQuestion || t.intent == IntentInsuranceQuestion) && sess.Stage.Before(session.StageClosing) {
		text := deferrals[t.intent] + "\n\n" + stageQuestion(nextOpenStage(sess), t.clinic)
		return c.localize(ctx, t, text), "interrupt"
	}

	if offerMade(sess.Stage) {
		if objection, ok := DetectObjection(t.in.Text); ok {
			log.Info("objection handled", "objection", objection)
			return c.localize(ctx, t, rebuttal(objection, sess.Name())), "objection"
		}
	}

	switch sess.Stage {
	case session.StageClosing:
		return c.closing(ctx, t, log)
	case session.StageScheduling:
		return c.schedule(ctx, t, log)
	case session.StageComplete:
		if !sess.AppointmentStart.IsZero() {
			return c.localize(ctx, t, fmt.Sprintf(msgComplete, FormatSlot(sess.AppointmentStart.In(c.cfg.Location)))), "complete"
		}
		return c.localize(ctx, t, msgCompleteNoSlot), "complete"
	}
	return c.advance(ctx, t, log)
}

// offerMade reports whether the pitch was already delivered.
func offerMade(stage session.Stage) bool {
	switch stage {
	case session.StageClosing, session.StageScheduling, session.StageComplete:
		return true
	}
	return false
}

// classify asks the gateway first and falls back to keywords on any error,
// an exhausted budget or a label outside the vocabulary.
func (c *Controller) classify(ctx context.Context, t *turn, log *logging.Logger) Intent {
	cctx, cancel := context.WithTimeout(ctx, c.cfg.ClassifyTimeout)
	defer cancel()
	label, err := c.gateway.Classify(cctx, t.in.Text, string(t.sess.Stage), Categories())
	if err == nil {
		if intent, ok := ParseIntent(label); ok {
			return intent
		}
		err = fmt.Errorf("%w: %q", llm.ErrInvalidCategory, label)
	}
	switch {
	case errors.Is(err, llm.ErrInvalidCategory):
		log.Warn("classifier answered outside vocabulary, using keywords", "error", err)
	case errors.Is(err, budget.ErrBudgetExceeded):
		log.Info("llm budget exhausted, using keyword classifier", "error", err)
	default:
		log.Warn("classifier failed, using keywords", "error", err)
	}
	return ClassifyKeywords(t.in.Text, t.sess.Stage)
}

func (c *Controller) emergency(ctx context.Context, t *turn, log *logging.Logger) string {
	sess := t.sess
	if sess.Stage != session.StageEmergency {
		sess.PausedStage = sess.Stage
		sess.Stage = session.StageEmergency
	}
	if sess.EmergencyWarned {
		return c.localize(ctx, t, fmt.Sprintf(msgEmergencyAgain, t.phone))
	}
	sess.EmergencyWarned = true
	log.Warn("emergency detected", "paused_stage", sess.PausedStage)
	if c.notifier != nil {
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultNotifyTimeout)
		defer cancel()
		if err := c.notifier.NotifyEmergency(nctx, notify.EmergencyAlert{
			Identity:   sess.Identity,
			TenantName: t.clinic,
			FirstName:  sess.Name(),
			Message:    t.in.Text,
			At:         t.in.At,
		}); err != nil {
			log.Error("emergency notification failed", "error", err)
		}
	}
	return c.localize(ctx, t, fmt.Sprintf(msgEmergency, t.phone))
}

func (c *Controller) greet(ctx context.Context, t *turn) (string, string) {
	if name, ok := ExtractName(t.in.Text, true); ok {
		return c.acceptName(ctx, t, name), "name_captured"
	}
	t.sess.Stage = session.StageAwaitingName
	return c.localize(ctx, t, askName(t.clinic)), "name_prompt"
}

func (c *Controller) captureName(ctx context.Context, t *turn) (string, string) {
	name, ok := ExtractName(t.in.Text, false)
	if !ok {
		return c.localize(ctx, t, msgNameReprompt), "name_invalid"
	}
	return c.acceptName(ctx, t, name), "name_captured"
}

// acceptName stores the name and replaces the history with a two-entry seed
// so the small talk before it never reaches the model.
func (c *Controller) acceptName(ctx context.Context, t *turn, name string) string {
	sess := t.sess
	sess.SetName(name)
	sess.Stage = session.StageSituation
	reply := c.localize(ctx, t, fmt.Sprintf(msgNameCaptured, name)+" "+stageQuestion(session.StageSituation, t.clinic))
	sess.ConversationHistory = []session.Turn{
		{Role: session.RoleUser, Content: t.in.Text, At: t.in.At},
		{Role: session.RoleAssistant, Content: reply, At: c.now().UTC()},
	}
	return reply
}

// advance fills the current stage's slot and asks the next question.
func (c *Controller) advance(ctx context.Context, t *turn, log *logging.Logger) (string, string) {
	sess := t.sess
	fillSlot(sess, sess.Stage, t.in.Text)
	next := nextStage(sess.Stage)
	sess.Stage = next
	if next == session.StageClosing {
		return c.pitch(ctx, t, log), "pitch"
	}
	return c.localize(ctx, t, stageQuestion(next, t.clinic)), "advance"
}

func (c *Controller) closing(ctx context.Context, t *turn, log *logging.Logger) (string, string) {
	switch t.intent {
	case IntentAffirmative, IntentScheduling:
		t.sess.Stage = session.StageScheduling
		return c.localize(ctx, t, msgAskSchedule), "scheduling"
	case IntentNegative:
		return c.localize(ctx, t, fmt.Sprintf(msgDeclined, nameOr(t.sess.Name(), ""), t.phone)), "declined"
	}
	return c.answer(ctx, t, log), "answer"
}

func (c *Controller) schedule(ctx context.Context, t *turn, log *logging.Logger) (string, string) {
	sess := t.sess
	pref := ParsePreference(t.in.Text, c.now(), c.cfg.Location)
	if !pref.Matched && t.intent == IntentNegative {
		sess.Stage = session.StageClosing
		return c.localize(ctx, t, fmt.Sprintf(msgDeclined, nameOr(sess.Name(), ""), t.phone)), "declined"
	}
	sess.SchedulePreference = t.in.Text

	eventID, err := c.book(ctx, t, pref.Start)
	if err != nil {
		log.Error("calendar booking failed", "error", err, "start", pref.Start)
		return c.localize(ctx, t, fmt.Sprintf(msgBookingFailed, t.phone)), "booking_failed"
	}
	sess.CalendarEventID = eventID
	sess.AppointmentStart = pref.Start
	sess.Stage = session.StageComplete
	log.Info("consultation booked", "event_id", eventID, "start", pref.Start)

	if c.notifier != nil {
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultNotifyTimeout)
		defer cancel()
		if err := c.notifier.NotifyBooking(nctx, notify.BookingAlert{
			Identity:   sess.Identity,
			TenantName: t.clinic,
			FirstName:  sess.Name(),
			Start:      pref.Start,
			EventID:    eventID,
			Summary:    slotSummary(sess),
		}); err != nil {
			log.Warn("booking notification failed", "error", err)
		}
	}
	return c.localize(ctx, t, fmt.Sprintf(msgBooked, nameOr(sess.Name(), ""), FormatSlot(pref.Start))), "booked"
}

func (c *Controller) book(ctx context.Context, t *turn, start time.Time) (string, error) {
	if c.calendar == nil {
		return "", errors.New("dialogue: calendar not configured")
	}
	if t.sess.Tenant == nil || t.sess.Tenant.CalendarID == "" {
		return "", errors.New("dialogue: tenant has no calendar")
	}
	return c.calendar.CreateEvent(ctx, t.sess.Tenant.CalendarID, calendar.Event{
		Summary:     fmt.Sprintf("Avaliação - %s", nameOr(t.sess.Name(), t.sess.Identity)),
		Description: fmt.Sprintf("Contato: %s\n\n%s", t.sess.Identity, slotSummary(t.sess)),
		Start:       start,
		End:         start.Add(time.Hour),
	})
}

// ensureTenant loads the clinic snapshot when the session has none or
// belongs to another bot number.
func (c *Controller) ensureTenant(ctx context.Context, t *turn) error {
	sess := t.sess
	if c.tenants != nil && t.in.TenantKey != "" && (sess.Tenant == nil || sess.Tenant.Key != t.in.TenantKey) {
		cfg, err := c.tenants.Fetch(ctx, t.in.TenantKey)
		if err != nil {
			return err
		}
		sess.Tenant = &session.TenantSnapshot{
			Key:           cfg.Key,
			Name:          cfg.Name,
			KnowledgeBase: cfg.KnowledgeBase,
			CalendarID:    cfg.CalendarID,
			Phone:         cfg.Phone,
		}
	}
	if sess.Tenant != nil {
		if sess.Tenant.Name != "" {
			t.clinic = sess.Tenant.Name
		}
		if sess.Tenant.Phone != "" {
			t.phone = sess.Tenant.Phone
		}
	}
	return nil
}

// commit appends the exchange, compacts, saves and logs the turn. A save
// that neither backend accepted fails the turn so the job can be redelivered.
func (c *Controller) commit(ctx context.Context, t *turn, reply, outcome string, log *logging.Logger) (Reply, error) {
	sess := t.sess
	if outcome != "name_captured" {
		sess.Append(session.RoleUser, t.in.Text, t.in.At)
		sess.Append(session.RoleAssistant, reply, c.now().UTC())
	}
	sess.ConversationHistory = c.compact(ctx, sess.ConversationHistory)

	if err := c.sessions.Save(ctx, sess); err != nil {
		log.Error("session save failed", "error", err, "stage", sess.Stage)
		if errors.Is(err, session.ErrUnavailable) {
			c.metrics.ObserveTurn(string(sess.Stage), "save_failed")
			return Reply{}, fmt.Errorf("dialogue: save session: %w", err)
		}
	}
	key := t.in.TenantKey
	if sess.Tenant != nil && sess.Tenant.Key != "" {
		key = sess.Tenant.Key
	}
	c.record(ctx, t.in, session.RoleUser, t.in.Text, key)
	c.record(ctx, Inbound{Identity: t.in.Identity, MessageID: replyMessageID(t.in.MessageID), At: c.now().UTC()},
		session.RoleAssistant, reply, key)

	return c.finish(Reply{Text: reply, Stage: sess.Stage, Intent: t.intent, Outcome: outcome}), nil
}

func (c *Controller) finish(r Reply) Reply {
	c.metrics.ObserveTurn(string(r.Stage), r.Outcome)
	return r
}

func (c *Controller) compact(ctx context.Context, history []session.Turn) []session.Turn {
	if c.compactor == nil {
		return history
	}
	return c.compactor.Compact(ctx, history)
}

func (c *Controller) localize(ctx context.Context, t *turn, text string) string {
	if c.localizer == nil || t.sess == nil {
		return text
	}
	return c.localizer.Localize(ctx, text, t.sess.Language)
}

func (c *Controller) record(ctx context.Context, in Inbound, role, content, tenantKey string) {
	if c.log == nil || content == "" {
		return
	}
	id := uuid.New()
	if in.MessageID != "" {
		id = uuid.NewSHA1(uuid.NameSpaceURL, []byte(in.MessageID))
	}
	if tenantKey == "" {
		tenantKey = in.TenantKey
	}
	if err := c.log.Record(ctx, messagelog.Message{
		ID:        id,
		Identity:  in.Identity,
		TenantKey: tenantKey,
		Role:      role,
		Content:   content,
		CreatedAt: in.At,
	}); err != nil {
		c.logger.Warn("message log write failed", "identity", in.Identity, "error", err)
	}
}

func replyMessageID(inbound string) string {
	if inbound == "" {
		return ""
	}
	return inbound + ":reply"
}
