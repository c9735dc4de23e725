package enrol

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/openlms/tokenenrol/internal/model"
	"github.com/openlms/tokenenrol/internal/store"
)

const daySeconds = 86400

// Report summarizes one reconciliation run.
type Report struct {
	Instances          int      `json:"instances"`
	InactiveUnenrolled int      `json:"inactive_unenrolled"`
	ExpiredUnenrolled  int      `json:"expired_unenrolled"`
	ExpiredSuspended   int      `json:"expired_suspended"`
	Traces             []string `json:"traces"`
}

// Engine reconciles enrolment state against instance policy: it unenrols
// users who stayed away past the inactivity timeout and applies the
// configured disposition to enrolments whose period has ended. Runs are
// idempotent; a user already handled by an earlier run is not touched again.
type Engine struct {
	db            *sql.DB
	instances     *store.InstanceStore
	enrolments    *store.EnrolmentStore
	roles         *store.RoleStore
	events        EventPublisher
	expiredAction string
	log           *slog.Logger
	now           func() time.Time
}

func NewEngine(db *sql.DB, instances *store.InstanceStore, enrolments *store.EnrolmentStore, roles *store.RoleStore, events EventPublisher, expiredAction string, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	switch expiredAction {
	case model.ExpiredKeep, model.ExpiredSuspend, model.ExpiredUnenrol:
	default:
		expiredAction = model.ExpiredKeep
	}
	return &Engine{
		db:            db,
		instances:     instances,
		enrolments:    enrolments,
		roles:         roles,
		events:        events,
		expiredAction: expiredAction,
		log:           log,
		now:           time.Now,
	}
}

// Run reconciles every instance of the given course, or every instance of
// every course when courseID is zero. Failures are recorded in the report
// and skipped, whether they hit a single user or a whole instance; the run
// keeps going.
func (e *Engine) Run(courseID int64) (*Report, error) {
	instances, err := e.instances.ListAll(courseID)
	if err != nil {
		return nil, fmt.Errorf("listing instances: %w", err)
	}

	report := &Report{}
	now := e.now().Unix()
	for i := range instances {
		inst := &instances[i]
		report.Instances++
		if err := e.syncInactivity(inst, now, report); err != nil {
			e.failInstance(report, inst, err)
			continue
		}
		if err := e.syncExpirations(inst, now, report); err != nil {
			e.failInstance(report, inst, err)
		}
	}
	return report, nil
}

func (e *Engine) syncInactivity(inst *model.Instance, now int64, report *Report) error {
	if inst.InactivityTimeout <= 0 {
		return nil
	}
	days := inst.InactivityTimeout / daySeconds

	never, err := e.enrolments.ListInactiveNeverAccessed(inst.ID, inst.CourseID, inst.InactivityTimeout, now)
	if err != nil {
		return fmt.Errorf("listing never-accessed enrolments: %w", err)
	}
	for _, enr := range never {
		if !e.unenrol(inst, enr.UserID, report) {
			continue
		}
		report.InactiveUnenrolled++
		e.trace(report, "unenrolling user %d from course %d as they did not log in for at least %d days", enr.UserID, inst.CourseID, days)
	}

	stale, err := e.enrolments.ListInactiveStale(inst.ID, inst.CourseID, inst.InactivityTimeout, now)
	if err != nil {
		return fmt.Errorf("listing stale enrolments: %w", err)
	}
	for _, enr := range stale {
		if !e.unenrol(inst, enr.UserID, report) {
			continue
		}
		report.InactiveUnenrolled++
		e.trace(report, "unenrolling user %d from course %d as they did not access the course for at least %d days", enr.UserID, inst.CourseID, days)
	}
	return nil
}

func (e *Engine) syncExpirations(inst *model.Instance, now int64, report *Report) error {
	if e.expiredAction == model.ExpiredKeep {
		return nil
	}
	expired, err := e.enrolments.ListExpired(inst.ID, now)
	if err != nil {
		return fmt.Errorf("listing expired enrolments: %w", err)
	}
	for _, enr := range expired {
		switch e.expiredAction {
		case model.ExpiredUnenrol:
			if !e.unenrol(inst, enr.UserID, report) {
				continue
			}
			report.ExpiredUnenrolled++
			e.trace(report, "unenrolling expired user %d from course %d", enr.UserID, inst.CourseID)
		case model.ExpiredSuspend:
			changed, err := e.enrolments.SetStatus(inst.ID, enr.UserID, model.EnrolmentSuspended)
			if err != nil {
				e.fail(report, inst, enr.UserID, err)
				continue
			}
			if !changed {
				continue
			}
			if err := e.roles.UnassignAll(enr.UserID, inst.CourseID); err != nil {
				e.fail(report, inst, enr.UserID, err)
				continue
			}
			report.ExpiredSuspended++
			e.trace(report, "suspending expired user %d in course %d", enr.UserID, inst.CourseID)
			e.publish(Event{Type: EventSuspended, CourseID: inst.CourseID, InstanceID: inst.ID, UserID: enr.UserID, Time: e.now()})
		}
	}
	return nil
}

// unenrol removes an enrolment and its roles in one transaction. It reports
// false and records the failure when the user could not be processed.
func (e *Engine) unenrol(inst *model.Instance, userID int64, report *Report) bool {
	tx, err := e.db.Begin()
	if err != nil {
		e.fail(report, inst, userID, err)
		return false
	}
	if err := e.enrolments.DeleteTx(tx, inst.ID, userID); err != nil {
		tx.Rollback()
		e.fail(report, inst, userID, err)
		return false
	}
	if err := e.roles.UnassignAllTx(tx, userID, inst.CourseID); err != nil {
		tx.Rollback()
		e.fail(report, inst, userID, err)
		return false
	}
	if err := tx.Commit(); err != nil {
		e.fail(report, inst, userID, err)
		return false
	}
	e.publish(Event{Type: EventUnenrolled, CourseID: inst.CourseID, InstanceID: inst.ID, UserID: userID, Time: e.now()})
	return true
}

func (e *Engine) trace(report *Report, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	report.Traces = append(report.Traces, msg)
	e.log.Info(msg)
}

func (e *Engine) failInstance(report *Report, inst *model.Instance, err error) {
	msg := fmt.Sprintf("skipping instance %d in course %d: %v", inst.ID, inst.CourseID, err)
	report.Traces = append(report.Traces, msg)
	e.log.Error("reconciling instance failed", "instance_id", inst.ID, "course_id", inst.CourseID, "error", err)
}

func (e *Engine) fail(report *Report, inst *model.Instance, userID int64, err error) {
	msg := fmt.Sprintf("skipping user %d in course %d: %v", userID, inst.CourseID, err)
	report.Traces = append(report.Traces, msg)
	e.log.Error("reconciliation step failed", "user_id", userID, "instance_id", inst.ID, "error", err)
}

func (e *Engine) publish(ev Event) {
	if e.events != nil {
		e.events.Publish(ev)
	}
}
