package enrol

import (
	"database/sql"
	"sync"
	"testing"

	"github.com/openlms/tokenenrol/internal/database"
	"github.com/openlms/tokenenrol/internal/messaging"
	"github.com/openlms/tokenenrol/internal/model"
	"github.com/openlms/tokenenrol/internal/store"
)

// env bundles a fresh in-memory database with one store per table.
type env struct {
	db         *sql.DB
	users      *store.UserStore
	courses    *store.CourseStore
	roles      *store.RoleStore
	cohorts    *store.CohortStore
	instances  *store.InstanceStore
	enrolments *store.EnrolmentStore
	tokens     *store.TokenStore
	settings   *store.SettingsStore
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	// A single connection keeps the in-memory database shared across goroutines.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return &env{
		db:         db,
		users:      store.NewUserStore(db),
		courses:    store.NewCourseStore(db),
		roles:      store.NewRoleStore(db),
		cohorts:    store.NewCohortStore(db),
		instances:  store.NewInstanceStore(db),
		enrolments: store.NewEnrolmentStore(db),
		tokens:     store.NewTokenStore(db),
		settings:   store.NewSettingsStore(db),
	}
}

func (e *env) course(t *testing.T, fullName, shortName string) *model.Course {
	t.Helper()
	c, err := e.courses.Create(fullName, shortName)
	if err != nil {
		t.Fatalf("create course: %v", err)
	}
	return c
}

func (e *env) user(t *testing.T, username, first, last string) *model.User {
	t.Helper()
	u, err := e.users.Create(username, first, last, username+"@example.com", false)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func (e *env) role(t *testing.T, name, shortName string, sortOrder int) *model.Role {
	t.Helper()
	r, err := e.roles.Create(name, shortName, sortOrder)
	if err != nil {
		t.Fatalf("create role: %v", err)
	}
	return r
}

// instance creates an enabled instance on the course. mutate, when set,
// adjusts the instance before it is stored.
func (e *env) instance(t *testing.T, courseID, roleID int64, mutate func(*model.Instance)) *model.Instance {
	t.Helper()
	inst := &model.Instance{
		CourseID: courseID,
		RoleID:   roleID,
		AllowNew: true,
	}
	if mutate != nil {
		mutate(inst)
	}
	created, err := e.instances.Create(inst)
	if err != nil {
		t.Fatalf("create instance: %v", err)
	}
	return created
}

func (e *env) evaluator() *Evaluator {
	return NewEvaluator(e.enrolments, e.cohorts, allowAll{})
}

// allowAll grants every capability, standing in for the site defaults.
type allowAll struct{}

func (allowAll) HasCapability(int64, int64, string) (bool, error) { return true, nil }

// denyCapabilities refuses the listed capabilities and grants the rest.
type denyCapabilities map[string]bool

func (d denyCapabilities) HasCapability(_, _ int64, capability string) (bool, error) {
	return !d[capability], nil
}

type capturePublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *capturePublisher) Publish(ev Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *capturePublisher) byType(eventType string) []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Event
	for _, ev := range p.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

type welcomeCall struct {
	InstanceID int64
	UserID     int64
}

// captureWelcome records welcome sends on a channel so tests can wait for
// the async delivery.
type captureWelcome struct {
	calls chan welcomeCall
}

func newCaptureWelcome() *captureWelcome {
	return &captureWelcome{calls: make(chan welcomeCall, 8)}
}

func (w *captureWelcome) SendWelcome(inst *model.Instance, _ *model.Course, user *model.User) error {
	w.calls <- welcomeCall{InstanceID: inst.ID, UserID: user.ID}
	return nil
}

type captureSender struct {
	mu   sync.Mutex
	sent []messaging.Message
}

func (s *captureSender) Send(msg messaging.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return nil
}

func (s *captureSender) messages() []messaging.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]messaging.Message(nil), s.sent...)
}
