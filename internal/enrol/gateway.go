package enrol

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openlms/tokenenrol/internal/model"
	"github.com/openlms/tokenenrol/internal/store"
)

// Warning codes carried on a failed redemption attempt.
const (
	WarnCannotEnrol  = "1"
	WarnInvalidToken = "4"
)

// Warning explains why one instance refused the redemption attempt.
type Warning struct {
	InstanceID int64  `json:"instance_id"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

// RedeemResult reports the outcome of redeeming a token against a course.
type RedeemResult struct {
	Status     bool      `json:"status"`
	InstanceID int64     `json:"instance_id,omitempty"`
	Warnings   []Warning `json:"warnings,omitempty"`
}

// RoleAssigner grants and revokes course roles inside a transaction.
// *store.RoleStore satisfies it.
type RoleAssigner interface {
	AssignTx(tx *sql.Tx, userID, courseID, roleID int64) error
	UnassignAllTx(tx *sql.Tx, userID, courseID int64) error
}

// WelcomeNotifier delivers the welcome message for a fresh enrolment.
type WelcomeNotifier interface {
	SendWelcome(inst *model.Instance, course *model.Course, user *model.User) error
}

// Event is a lifecycle notification emitted after a state change commits.
type Event struct {
	Type       string    `json:"type"`
	CourseID   int64     `json:"course_id"`
	InstanceID int64     `json:"instance_id"`
	UserID     int64     `json:"user_id"`
	Time       time.Time `json:"time"`
}

// Lifecycle event types.
const (
	EventEnrolled     = "user_enrolled"
	EventUnenrolled   = "user_unenrolled"
	EventSuspended    = "enrolment_suspended"
	EventTokensIssued = "tokens_generated"
)

// EventPublisher fans lifecycle events out to subscribers.
type EventPublisher interface {
	Publish(Event)
}

// ErrNotEnrolled is returned by SelfUnenrol when the user has no enrolment
// in the course.
var ErrNotEnrolled = errors.New("user is not enrolled in this course")

// ErrUnenrolNotAllowed is returned when the user lacks the self-unenrol
// capability.
var ErrUnenrolNotAllowed = errors.New("self unenrolment is not allowed")

// Gateway performs token redemption and self-unenrolment. Redemption is
// exactly-once: the enrolment row, role assignment and token consumption
// commit in a single transaction, and the token row is claimed with a
// conditional update so a concurrent attempt on the same secret loses
// cleanly.
type Gateway struct {
	db           *sql.DB
	tokens       *store.TokenStore
	instances    *store.InstanceStore
	enrolments   *store.EnrolmentStore
	users        *store.UserStore
	courses      *store.CourseStore
	roles        RoleAssigner
	capabilities CapabilityChecker
	eval         *Evaluator
	welcome      WelcomeNotifier
	events       EventPublisher
	log          *slog.Logger
	now          func() time.Time
}

type GatewayConfig struct {
	DB           *sql.DB
	Tokens       *store.TokenStore
	Instances    *store.InstanceStore
	Enrolments   *store.EnrolmentStore
	Users        *store.UserStore
	Courses      *store.CourseStore
	Roles        RoleAssigner
	Capabilities CapabilityChecker
	Evaluator    *Evaluator
	Welcome      WelcomeNotifier
	Events       EventPublisher
	Logger       *slog.Logger
}

func NewGateway(cfg GatewayConfig) *Gateway {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{
		db:           cfg.DB,
		tokens:       cfg.Tokens,
		instances:    cfg.Instances,
		enrolments:   cfg.Enrolments,
		users:        cfg.Users,
		courses:      cfg.Courses,
		roles:        cfg.Roles,
		capabilities: cfg.Capabilities,
		eval:         cfg.Evaluator,
		welcome:      cfg.Welcome,
		events:       cfg.Events,
		log:          log,
		now:          time.Now,
	}
}

// RedeemCourse tries the secret against every enabled token instance on the
// course in id order. The first instance that accepts wins; instances that
// refuse contribute a warning. Status stays false when no instance accepts.
func (g *Gateway) RedeemCourse(courseID, userID int64, secret string) (*RedeemResult, error) {
	user, err := g.users.GetByID(userID)
	if err != nil {
		return nil, fmt.Errorf("loading user %d: %w", userID, err)
	}
	if user == nil {
		return nil, fmt.Errorf("user %d not found", userID)
	}
	instances, err := g.instances.ListByCourse(courseID, true)
	if err != nil {
		return nil, fmt.Errorf("listing instances for course %d: %w", courseID, err)
	}

	result := &RedeemResult{}
	for i := range instances {
		inst := &instances[i]
		warning, err := g.redeemInstance(inst, user, secret)
		if err != nil {
			return nil, err
		}
		if warning == nil {
			result.Status = true
			result.InstanceID = inst.ID
			return result, nil
		}
		result.Warnings = append(result.Warnings, *warning)
	}
	if len(instances) == 0 {
		result.Warnings = append(result.Warnings, Warning{
			Code:    WarnCannotEnrol,
			Message: reasonCannotEnrol().Message,
		})
	}
	return result, nil
}

// RedeemInstance targets a single instance instead of trying every instance
// on the course.
func (g *Gateway) RedeemInstance(instanceID, userID int64, secret string) (*RedeemResult, error) {
	user, err := g.users.GetByID(userID)
	if err != nil {
		return nil, fmt.Errorf("loading user %d: %w", userID, err)
	}
	if user == nil {
		return nil, fmt.Errorf("user %d not found", userID)
	}
	inst, err := g.instances.GetByID(instanceID)
	if err != nil {
		return nil, fmt.Errorf("loading instance %d: %w", instanceID, err)
	}
	if inst == nil {
		return nil, fmt.Errorf("instance %d not found", instanceID)
	}

	result := &RedeemResult{}
	warning, err := g.redeemInstance(inst, user, secret)
	if err != nil {
		return nil, err
	}
	if warning == nil {
		result.Status = true
		result.InstanceID = inst.ID
		return result, nil
	}
	result.Warnings = append(result.Warnings, *warning)
	return result, nil
}

// redeemInstance attempts redemption against one instance. A nil warning
// means the user was enrolled.
func (g *Gateway) redeemInstance(inst *model.Instance, user *model.User, secret string) (*Warning, error) {
	reason, err := g.eval.CanEnrol(inst, user, true)
	if err != nil {
		return nil, err
	}
	if !reason.Allowed() {
		return &Warning{InstanceID: inst.ID, Code: WarnCannotEnrol, Message: reason.Message}, nil
	}

	token, err := g.tokens.FindUnused(inst.ID, secret)
	if err != nil {
		return nil, fmt.Errorf("looking up token: %w", err)
	}
	if token == nil {
		r := reasonInvalidToken()
		return &Warning{InstanceID: inst.ID, Code: WarnInvalidToken, Message: r.Message}, nil
	}

	now := g.now().Unix()
	timeStart := now
	var timeEnd int64
	if inst.EnrolPeriod > 0 {
		timeEnd = timeStart + inst.EnrolPeriod
	}

	claimed, err := g.enrolInTx(inst, user, token.ID, timeStart, timeEnd, now)
	if err != nil {
		return nil, err
	}
	if !claimed {
		// Lost the race on this secret to a concurrent redemption.
		r := reasonInvalidToken()
		return &Warning{InstanceID: inst.ID, Code: WarnInvalidToken, Message: r.Message}, nil
	}

	g.log.Info("user enrolled via token",
		"user_id", user.ID,
		"course_id", inst.CourseID,
		"instance_id", inst.ID,
		"token_id", token.ID)
	g.publish(Event{Type: EventEnrolled, CourseID: inst.CourseID, InstanceID: inst.ID, UserID: user.ID, Time: g.now()})
	g.sendWelcome(inst, user)
	return nil, nil
}

func (g *Gateway) enrolInTx(inst *model.Instance, user *model.User, tokenID, timeStart, timeEnd, now int64) (claimed bool, err error) {
	tx, err := g.db.Begin()
	if err != nil {
		return false, fmt.Errorf("beginning redemption: %w", err)
	}
	defer func() {
		if err != nil || !claimed {
			tx.Rollback()
		}
	}()

	if err = g.enrolments.CreateTx(tx, inst.ID, user.ID, timeStart, timeEnd); err != nil {
		return false, fmt.Errorf("creating enrolment: %w", err)
	}
	if err = g.roles.AssignTx(tx, user.ID, inst.CourseID, inst.RoleID); err != nil {
		return false, fmt.Errorf("assigning role: %w", err)
	}
	claimed, err = g.tokens.MarkUsedTx(tx, tokenID, user.ID, now)
	if err != nil {
		return false, fmt.Errorf("consuming token: %w", err)
	}
	if !claimed {
		return false, nil
	}
	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("committing redemption: %w", err)
	}
	return true, nil
}

// SelfUnenrol removes the user's own enrolment from the course, together
// with the course roles it granted.
func (g *Gateway) SelfUnenrol(courseID, userID int64) error {
	ok, err := g.capabilities.HasCapability(userID, courseID, model.CapUnenrolSelf)
	if err != nil {
		return fmt.Errorf("checking unenrol capability: %w", err)
	}
	if !ok {
		return ErrUnenrolNotAllowed
	}

	instances, err := g.instances.ListByCourse(courseID, false)
	if err != nil {
		return fmt.Errorf("listing instances for course %d: %w", courseID, err)
	}
	var inst *model.Instance
	for i := range instances {
		enr, err := g.enrolments.Get(instances[i].ID, userID)
		if err != nil {
			return fmt.Errorf("checking enrolment: %w", err)
		}
		if enr != nil {
			inst = &instances[i]
			break
		}
	}
	if inst == nil {
		return ErrNotEnrolled
	}

	if err := g.unenrolInTx(inst.ID, inst.CourseID, userID); err != nil {
		return err
	}
	g.log.Info("user self-unenrolled", "user_id", userID, "course_id", courseID, "instance_id", inst.ID)
	g.publish(Event{Type: EventUnenrolled, CourseID: courseID, InstanceID: inst.ID, UserID: userID, Time: g.now()})
	return nil
}

func (g *Gateway) unenrolInTx(instanceID, courseID, userID int64) error {
	tx, err := g.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning unenrolment: %w", err)
	}
	if err := g.enrolments.DeleteTx(tx, instanceID, userID); err != nil {
		tx.Rollback()
		return fmt.Errorf("deleting enrolment: %w", err)
	}
	if err := g.roles.UnassignAllTx(tx, userID, courseID); err != nil {
		tx.Rollback()
		return fmt.Errorf("unassigning roles: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing unenrolment: %w", err)
	}
	return nil
}

func (g *Gateway) publish(ev Event) {
	if g.events != nil {
		g.events.Publish(ev)
	}
}

func (g *Gateway) sendWelcome(inst *model.Instance, user *model.User) {
	if g.welcome == nil || inst.WelcomeMode == model.WelcomeNone {
		return
	}
	course, err := g.courses.GetByID(inst.CourseID)
	if err != nil || course == nil {
		g.log.Error("loading course for welcome message", "course_id", inst.CourseID, "error", err)
		return
	}
	instCopy := *inst
	userCopy := *user
	go func() {
		if err := g.welcome.SendWelcome(&instCopy, course, &userCopy); err != nil {
			g.log.Error("sending welcome message",
				"user_id", userCopy.ID,
				"instance_id", instCopy.ID,
				"error", err)
		}
	}()
}
