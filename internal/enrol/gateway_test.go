package enrol

import (
	"errors"
	"testing"
	"time"

	"github.com/openlms/tokenenrol/internal/model"
)

type gatewayEnv struct {
	*env
	gateway *Gateway
	events  *capturePublisher
	welcome *captureWelcome
}

func newGatewayEnv(t *testing.T) *gatewayEnv {
	t.Helper()
	e := newEnv(t)
	events := &capturePublisher{}
	welcome := newCaptureWelcome()
	gw := NewGateway(GatewayConfig{
		DB:           e.db,
		Tokens:       e.tokens,
		Instances:    e.instances,
		Enrolments:   e.enrolments,
		Users:        e.users,
		Courses:      e.courses,
		Roles:        e.roles,
		Capabilities: allowAll{},
		Evaluator:    e.evaluator(),
		Welcome:      welcome,
		Events:       events,
	})
	return &gatewayEnv{env: e, gateway: gw, events: events, welcome: welcome}
}

func TestRedeemCourseSuccess(t *testing.T) {
	ge := newGatewayEnv(t)
	course := ge.course(t, "Intro to Go", "go101")
	role := ge.role(t, "Student", "student", 5)
	inst := ge.instance(t, course.ID, role.ID, func(i *model.Instance) {
		i.WelcomeMode = model.WelcomeNoReply
	})
	user := ge.user(t, "alice", "Alice", "Adams")
	tok, _ := ge.tokens.Create(inst.ID, "a1b2c3")

	result, err := ge.gateway.RedeemCourse(course.ID, user.ID, "a1b2c3")
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if !result.Status {
		t.Fatalf("redeem failed: %+v", result.Warnings)
	}
	if result.InstanceID != inst.ID {
		t.Errorf("instance id = %d, want %d", result.InstanceID, inst.ID)
	}

	enr, _ := ge.enrolments.Get(inst.ID, user.ID)
	if enr == nil || !enr.Active() {
		t.Fatalf("expected active enrolment, got %+v", enr)
	}
	if enr.TimeEnd != 0 {
		t.Errorf("time_end = %d, want 0 for unlimited enrolment", enr.TimeEnd)
	}

	assigned, err := ge.roles.UsersWithRole(course.ID, role.ID)
	if err != nil {
		t.Fatalf("users with role: %v", err)
	}
	if len(assigned) != 1 || assigned[0].ID != user.ID {
		t.Errorf("role assignment missing, got %+v", assigned)
	}

	used, _ := ge.tokens.GetByID(tok.ID)
	if !used.Used() || used.UsedBy == nil || *used.UsedBy != user.ID {
		t.Errorf("token not consumed: %+v", used)
	}

	if got := ge.events.byType(EventEnrolled); len(got) != 1 || got[0].UserID != user.ID {
		t.Errorf("enrolled events = %+v, want one for user %d", got, user.ID)
	}
	select {
	case call := <-ge.welcome.calls:
		if call.UserID != user.ID || call.InstanceID != inst.ID {
			t.Errorf("welcome call = %+v", call)
		}
	case <-time.After(2 * time.Second):
		t.Error("welcome message never sent")
	}
}

func TestRedeemCourseInvalidToken(t *testing.T) {
	ge := newGatewayEnv(t)
	course := ge.course(t, "Intro to Go", "go101")
	role := ge.role(t, "Student", "student", 5)
	inst := ge.instance(t, course.ID, role.ID, nil)
	user := ge.user(t, "alice", "Alice", "Adams")
	ge.tokens.Create(inst.ID, "a1b2c3")

	result, err := ge.gateway.RedeemCourse(course.ID, user.ID, "wrong1")
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if result.Status {
		t.Fatal("redeem with wrong secret must fail")
	}
	if len(result.Warnings) != 1 {
		t.Fatalf("warnings = %+v, want 1", result.Warnings)
	}
	w := result.Warnings[0]
	if w.Code != WarnInvalidToken || w.InstanceID != inst.ID {
		t.Errorf("warning = %+v, want code %q on instance %d", w, WarnInvalidToken, inst.ID)
	}
	if w.Message != "Incorrect enrolment token, please try again" {
		t.Errorf("message = %q", w.Message)
	}

	if enr, _ := ge.enrolments.Get(inst.ID, user.ID); enr != nil {
		t.Error("failed redemption must not create an enrolment")
	}
}

func TestRedeemCourseUnavailableInstance(t *testing.T) {
	ge := newGatewayEnv(t)
	course := ge.course(t, "Intro to Go", "go101")
	role := ge.role(t, "Student", "student", 5)
	inst := ge.instance(t, course.ID, role.ID, func(i *model.Instance) {
		i.AllowNew = false
	})
	user := ge.user(t, "alice", "Alice", "Adams")
	ge.tokens.Create(inst.ID, "a1b2c3")

	result, err := ge.gateway.RedeemCourse(course.ID, user.ID, "a1b2c3")
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if result.Status {
		t.Fatal("closed instance must refuse redemption")
	}
	if len(result.Warnings) != 1 || result.Warnings[0].Code != WarnCannotEnrol {
		t.Errorf("warnings = %+v, want one code %q", result.Warnings, WarnCannotEnrol)
	}

	// The valid token must survive a refused attempt.
	if tok, _ := ge.tokens.FindUnused(inst.ID, "a1b2c3"); tok == nil {
		t.Error("token consumed by a refused redemption")
	}
}

func TestRedeemCourseTokenSingleUse(t *testing.T) {
	ge := newGatewayEnv(t)
	course := ge.course(t, "Intro to Go", "go101")
	role := ge.role(t, "Student", "student", 5)
	inst := ge.instance(t, course.ID, role.ID, nil)
	alice := ge.user(t, "alice", "Alice", "Adams")
	bob := ge.user(t, "bob", "Bob", "Brown")
	ge.tokens.Create(inst.ID, "a1b2c3")

	first, err := ge.gateway.RedeemCourse(course.ID, alice.ID, "a1b2c3")
	if err != nil || !first.Status {
		t.Fatalf("first redemption: %+v, %v", first, err)
	}

	second, err := ge.gateway.RedeemCourse(course.ID, bob.ID, "a1b2c3")
	if err != nil {
		t.Fatalf("second redemption: %v", err)
	}
	if second.Status {
		t.Fatal("a used token must not enrol a second user")
	}
	if len(second.Warnings) != 1 || second.Warnings[0].Code != WarnInvalidToken {
		t.Errorf("warnings = %+v, want code %q", second.Warnings, WarnInvalidToken)
	}
}

func TestRedeemCourseEnrolPeriod(t *testing.T) {
	ge := newGatewayEnv(t)
	course := ge.course(t, "Intro to Go", "go101")
	role := ge.role(t, "Student", "student", 5)
	inst := ge.instance(t, course.ID, role.ID, func(i *model.Instance) {
		i.EnrolPeriod = 30 * day
	})
	user := ge.user(t, "alice", "Alice", "Adams")
	ge.tokens.Create(inst.ID, "a1b2c3")

	fixed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	ge.gateway.now = func() time.Time { return fixed }

	result, err := ge.gateway.RedeemCourse(course.ID, user.ID, "a1b2c3")
	if err != nil || !result.Status {
		t.Fatalf("redeem: %+v, %v", result, err)
	}

	enr, _ := ge.enrolments.Get(inst.ID, user.ID)
	if enr.TimeStart != fixed.Unix() {
		t.Errorf("time_start = %d, want %d", enr.TimeStart, fixed.Unix())
	}
	if want := fixed.Unix() + 30*day; enr.TimeEnd != want {
		t.Errorf("time_end = %d, want %d", enr.TimeEnd, want)
	}
}

func TestRedeemCourseNoInstances(t *testing.T) {
	ge := newGatewayEnv(t)
	course := ge.course(t, "Intro to Go", "go101")
	user := ge.user(t, "alice", "Alice", "Adams")

	result, err := ge.gateway.RedeemCourse(course.ID, user.ID, "a1b2c3")
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if result.Status {
		t.Fatal("course without instances must refuse")
	}
	if len(result.Warnings) != 1 || result.Warnings[0].Code != WarnCannotEnrol {
		t.Errorf("warnings = %+v", result.Warnings)
	}
}

func TestRedeemInstanceTargeted(t *testing.T) {
	ge := newGatewayEnv(t)
	course := ge.course(t, "Intro to Go", "go101")
	role := ge.role(t, "Student", "student", 5)
	first := ge.instance(t, course.ID, role.ID, nil)
	second := ge.instance(t, course.ID, role.ID, nil)
	user := ge.user(t, "alice", "Alice", "Adams")
	ge.tokens.Create(first.ID, "a1b2c3")
	ge.tokens.Create(second.ID, "d4e5f6")

	// The secret belongs to the first instance, so targeting the second fails.
	result, err := ge.gateway.RedeemInstance(second.ID, user.ID, "a1b2c3")
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if result.Status {
		t.Fatal("secret from another instance must not redeem")
	}

	result, err = ge.gateway.RedeemInstance(second.ID, user.ID, "d4e5f6")
	if err != nil || !result.Status {
		t.Fatalf("targeted redeem: %+v, %v", result, err)
	}
	if result.InstanceID != second.ID {
		t.Errorf("instance id = %d, want %d", result.InstanceID, second.ID)
	}
}

func TestSelfUnenrol(t *testing.T) {
	ge := newGatewayEnv(t)
	course := ge.course(t, "Intro to Go", "go101")
	role := ge.role(t, "Student", "student", 5)
	inst := ge.instance(t, course.ID, role.ID, nil)
	user := ge.user(t, "alice", "Alice", "Adams")
	ge.tokens.Create(inst.ID, "a1b2c3")

	if result, err := ge.gateway.RedeemCourse(course.ID, user.ID, "a1b2c3"); err != nil || !result.Status {
		t.Fatalf("redeem: %+v, %v", result, err)
	}

	if err := ge.gateway.SelfUnenrol(course.ID, user.ID); err != nil {
		t.Fatalf("self unenrol: %v", err)
	}

	if enr, _ := ge.enrolments.Get(inst.ID, user.ID); enr != nil {
		t.Error("enrolment should be gone")
	}
	assigned, _ := ge.roles.UsersWithRole(course.ID, role.ID)
	if len(assigned) != 0 {
		t.Errorf("roles should be revoked, got %+v", assigned)
	}
	if got := ge.events.byType(EventUnenrolled); len(got) != 1 {
		t.Errorf("unenrolled events = %+v, want 1", got)
	}

	err := ge.gateway.SelfUnenrol(course.ID, user.ID)
	if !errors.Is(err, ErrNotEnrolled) {
		t.Errorf("second unenrol: err = %v, want ErrNotEnrolled", err)
	}
}

func TestSelfUnenrolCapabilityDenied(t *testing.T) {
	ge := newGatewayEnv(t)
	course := ge.course(t, "Intro to Go", "go101")
	role := ge.role(t, "Student", "student", 5)
	inst := ge.instance(t, course.ID, role.ID, nil)
	user := ge.user(t, "alice", "Alice", "Adams")
	ge.tokens.Create(inst.ID, "a1b2c3")
	if result, err := ge.gateway.RedeemCourse(course.ID, user.ID, "a1b2c3"); err != nil || !result.Status {
		t.Fatalf("redeem: %+v, %v", result, err)
	}

	ge.gateway.capabilities = denyCapabilities{model.CapUnenrolSelf: true}
	err := ge.gateway.SelfUnenrol(course.ID, user.ID)
	if !errors.Is(err, ErrUnenrolNotAllowed) {
		t.Errorf("err = %v, want ErrUnenrolNotAllowed", err)
	}
	if enr, _ := ge.enrolments.Get(inst.ID, user.ID); enr == nil {
		t.Error("enrolment must survive a denied unenrol")
	}
}
