package enrol

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/openlms/tokenenrol/internal/model"
)

// enrolDirect creates an enrolment row with a role assignment, outside the
// gateway, so reconciliation tests control timestamps exactly.
func enrolDirect(t *testing.T, e *env, inst *model.Instance, userID, timeStart, timeEnd int64) {
	t.Helper()
	tx, err := e.db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := e.enrolments.CreateTx(tx, inst.ID, userID, timeStart, timeEnd); err != nil {
		t.Fatalf("create enrolment: %v", err)
	}
	if err := e.roles.AssignTx(tx, userID, inst.CourseID, inst.RoleID); err != nil {
		t.Fatalf("assign role: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func hasTrace(report *Report, want string) bool {
	for _, line := range report.Traces {
		if line == want {
			return true
		}
	}
	return false
}

func TestSyncInactivityUnenrols(t *testing.T) {
	e := newEnv(t)
	course := e.course(t, "Intro to Go", "go101")
	role := e.role(t, "Student", "student", 5)
	inst := e.instance(t, course.ID, role.ID, func(i *model.Instance) {
		i.InactivityTimeout = 14 * day
	})
	stale := e.user(t, "alice", "Alice", "Adams")
	fresh := e.user(t, "bob", "Bob", "Brown")
	now := time.Now().Unix()

	enrolDirect(t, e, inst, stale.ID, now-30*day, 0)
	enrolDirect(t, e, inst, fresh.ID, now-30*day, 0)
	e.users.SetCourseAccess(stale.ID, course.ID, now-20*day)
	e.users.SetCourseAccess(fresh.ID, course.ID, now-day)

	events := &capturePublisher{}
	engine := NewEngine(e.db, e.instances, e.enrolments, e.roles, events, model.ExpiredKeep, nil)
	report, err := engine.Run(course.ID)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if report.InactiveUnenrolled != 1 {
		t.Fatalf("inactive unenrolled = %d, want 1", report.InactiveUnenrolled)
	}
	want := fmt.Sprintf("unenrolling user %d from course %d as they did not access the course for at least 14 days", stale.ID, course.ID)
	if !hasTrace(report, want) {
		t.Errorf("traces = %q, want %q", report.Traces, want)
	}

	if enr, _ := e.enrolments.Get(inst.ID, stale.ID); enr != nil {
		t.Error("stale user should be unenrolled")
	}
	if enr, _ := e.enrolments.Get(inst.ID, fresh.ID); enr == nil {
		t.Error("fresh user must stay enrolled")
	}
	if got := events.byType(EventUnenrolled); len(got) != 1 || got[0].UserID != stale.ID {
		t.Errorf("unenrolled events = %+v", got)
	}
}

func TestSyncInactivityNeverLoggedIn(t *testing.T) {
	e := newEnv(t)
	course := e.course(t, "Intro to Go", "go101")
	role := e.role(t, "Student", "student", 5)
	inst := e.instance(t, course.ID, role.ID, func(i *model.Instance) {
		i.InactivityTimeout = 14 * day
	})
	user := e.user(t, "alice", "Alice", "Adams")
	now := time.Now().Unix()

	// Enrolled but never opened the course; site-wide last login long gone.
	enrolDirect(t, e, inst, user.ID, now-30*day, 0)
	e.users.SetLastAccess(user.ID, now-20*day)

	engine := NewEngine(e.db, e.instances, e.enrolments, e.roles, nil, model.ExpiredKeep, nil)
	report, err := engine.Run(course.ID)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	want := fmt.Sprintf("unenrolling user %d from course %d as they did not log in for at least 14 days", user.ID, course.ID)
	if !hasTrace(report, want) {
		t.Errorf("traces = %q, want %q", report.Traces, want)
	}
	if enr, _ := e.enrolments.Get(inst.ID, user.ID); enr != nil {
		t.Error("never-accessed user should be unenrolled")
	}
}

func TestSyncExpirySuspend(t *testing.T) {
	e := newEnv(t)
	course := e.course(t, "Intro to Go", "go101")
	role := e.role(t, "Student", "student", 5)
	inst := e.instance(t, course.ID, role.ID, nil)
	user := e.user(t, "alice", "Alice", "Adams")
	now := time.Now().Unix()

	enrolDirect(t, e, inst, user.ID, now-30*day, now-day)

	events := &capturePublisher{}
	engine := NewEngine(e.db, e.instances, e.enrolments, e.roles, events, model.ExpiredSuspend, nil)
	report, err := engine.Run(course.ID)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.ExpiredSuspended != 1 {
		t.Fatalf("expired suspended = %d, want 1", report.ExpiredSuspended)
	}

	enr, _ := e.enrolments.Get(inst.ID, user.ID)
	if enr == nil || enr.Status != model.EnrolmentSuspended {
		t.Fatalf("enrolment = %+v, want suspended row kept", enr)
	}
	assigned, _ := e.roles.UsersWithRole(course.ID, role.ID)
	if len(assigned) != 0 {
		t.Errorf("roles should be revoked on suspension, got %+v", assigned)
	}
	if got := events.byType(EventSuspended); len(got) != 1 {
		t.Errorf("suspended events = %+v, want 1", got)
	}

	// Second run with no new expirations writes nothing.
	again, err := engine.Run(course.ID)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if again.ExpiredSuspended != 0 || len(again.Traces) != 0 {
		t.Errorf("second run = %+v, want no actions", again)
	}
}

func TestSyncExpiryUnenrol(t *testing.T) {
	e := newEnv(t)
	course := e.course(t, "Intro to Go", "go101")
	role := e.role(t, "Student", "student", 5)
	inst := e.instance(t, course.ID, role.ID, nil)
	expired := e.user(t, "alice", "Alice", "Adams")
	current := e.user(t, "bob", "Bob", "Brown")
	now := time.Now().Unix()

	enrolDirect(t, e, inst, expired.ID, now-30*day, now-day)
	enrolDirect(t, e, inst, current.ID, now-30*day, now+30*day)

	engine := NewEngine(e.db, e.instances, e.enrolments, e.roles, nil, model.ExpiredUnenrol, nil)
	report, err := engine.Run(course.ID)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.ExpiredUnenrolled != 1 {
		t.Fatalf("expired unenrolled = %d, want 1", report.ExpiredUnenrolled)
	}
	want := fmt.Sprintf("unenrolling expired user %d from course %d", expired.ID, course.ID)
	if !hasTrace(report, want) {
		t.Errorf("traces = %q, want %q", report.Traces, want)
	}

	if enr, _ := e.enrolments.Get(inst.ID, expired.ID); enr != nil {
		t.Error("expired user should be unenrolled")
	}
	if enr, _ := e.enrolments.Get(inst.ID, current.ID); enr == nil {
		t.Error("unexpired user must stay")
	}
}

func TestSyncExpiryKeep(t *testing.T) {
	e := newEnv(t)
	course := e.course(t, "Intro to Go", "go101")
	role := e.role(t, "Student", "student", 5)
	inst := e.instance(t, course.ID, role.ID, nil)
	user := e.user(t, "alice", "Alice", "Adams")
	now := time.Now().Unix()

	enrolDirect(t, e, inst, user.ID, now-30*day, now-day)

	engine := NewEngine(e.db, e.instances, e.enrolments, e.roles, nil, model.ExpiredKeep, nil)
	report, err := engine.Run(course.ID)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(report.Traces) != 0 {
		t.Errorf("keep disposition should not act, traces = %q", report.Traces)
	}
	if enr, _ := e.enrolments.Get(inst.ID, user.ID); enr == nil || !enr.Active() {
		t.Errorf("enrolment = %+v, want untouched active row", enr)
	}
}


func TestSyncContinuesPastInstanceFailure(t *testing.T) {
	e := newEnv(t)
	course := e.course(t, "Intro to Go", "go101")
	role := e.role(t, "Student", "student", 5)
	e.instance(t, course.ID, role.ID, func(i *model.Instance) {
		i.InactivityTimeout = 14 * day
	})
	e.instance(t, course.ID, role.ID, func(i *model.Instance) {
		i.InactivityTimeout = 14 * day
	})

	// Break the enrolment queries underneath the engine.
	if _, err := e.db.Exec("DROP TABLE user_enrolments"); err != nil {
		t.Fatalf("drop table: %v", err)
	}

	engine := NewEngine(e.db, e.instances, e.enrolments, e.roles, nil, model.ExpiredKeep, nil)
	report, err := engine.Run(course.ID)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Instances != 2 {
		t.Errorf("instances = %d, want both visited", report.Instances)
	}
	skips := 0
	for _, line := range report.Traces {
		if strings.HasPrefix(line, "skipping instance ") {
			skips++
		}
	}
	if skips != 2 {
		t.Errorf("instance skip traces = %d, want 2; traces = %q", skips, report.Traces)
	}
}
