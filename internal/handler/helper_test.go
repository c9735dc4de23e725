package handler

import (
	"database/sql"
	"testing"

	"github.com/openlms/tokenenrol/internal/database"
	"github.com/openlms/tokenenrol/internal/enrol"
	"github.com/openlms/tokenenrol/internal/model"
	"github.com/openlms/tokenenrol/internal/store"
	"github.com/openlms/tokenenrol/internal/token"
)

type allowAll struct{}

func (allowAll) HasCapability(int64, int64, string) (bool, error) { return true, nil }

// testApp wires handlers over a fresh in-memory database.
type testApp struct {
	db         *sql.DB
	users      *store.UserStore
	courses    *store.CourseStore
	roles      *store.RoleStore
	instances  *store.InstanceStore
	enrolments *store.EnrolmentStore
	tokens     *store.TokenStore

	enrolH    *EnrolHandler
	tokenH    *TokenHandler
	instanceH *InstanceHandler
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	app := &testApp{
		db:         db,
		users:      store.NewUserStore(db),
		courses:    store.NewCourseStore(db),
		roles:      store.NewRoleStore(db),
		instances:  store.NewInstanceStore(db),
		enrolments: store.NewEnrolmentStore(db),
		tokens:     store.NewTokenStore(db),
	}

	eval := enrol.NewEvaluator(app.enrolments, store.NewCohortStore(db), allowAll{})
	gateway := enrol.NewGateway(enrol.GatewayConfig{
		DB:           db,
		Tokens:       app.tokens,
		Instances:    app.instances,
		Enrolments:   app.enrolments,
		Users:        app.users,
		Courses:      app.courses,
		Roles:        app.roles,
		Capabilities: allowAll{},
		Evaluator:    eval,
	})

	app.enrolH = NewEnrolHandler(gateway, eval, app.instances, nil)
	app.tokenH = NewTokenHandler(token.NewIssuer(app.tokens), app.tokens, app.instances, nil, nil)
	app.instanceH = NewInstanceHandler(app.instances, app.courses, InstanceDefaults{RoleID: 0}, nil)
	return app
}

// seed creates a course, role and enabled instance, returning all three.
func (app *testApp) seed(t *testing.T) (*model.Course, *model.Role, *model.Instance) {
	t.Helper()
	course, err := app.courses.Create("Intro to Go", "go101")
	if err != nil {
		t.Fatalf("create course: %v", err)
	}
	role, err := app.roles.Create("Student", "student", 5)
	if err != nil {
		t.Fatalf("create role: %v", err)
	}
	inst, err := app.instances.Create(&model.Instance{
		CourseID: course.ID,
		RoleID:   role.ID,
		AllowNew: true,
	})
	if err != nil {
		t.Fatalf("create instance: %v", err)
	}
	return course, role, inst
}

func (app *testApp) user(t *testing.T, username string) *model.User {
	t.Helper()
	u, err := app.users.Create(username, "Test", "User", username+"@example.com", false)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}
