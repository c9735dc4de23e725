package store

import (
	"testing"

	"github.com/openlms/tokenenrol/internal/model"
)

func TestRoleCapabilityCheck(t *testing.T) {
	db := setupTestDB(t)
	rs := NewRoleStore(db)
	cs := NewCourseStore(db)

	course, _ := cs.Create("Intro to Go", "go101")
	teacher, _ := rs.Create("Teacher", "teacher", 3)
	rs.Grant(teacher.ID, model.CapManage)

	alice := seedUser(t, db, "alice")

	ok, err := rs.HasCapability(alice, course.ID, model.CapManage)
	if err != nil {
		t.Fatalf("has capability: %v", err)
	}
	if ok {
		t.Error("unassigned user must not hold capability")
	}

	if err := rs.Assign(alice, course.ID, teacher.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}
	ok, _ = rs.HasCapability(alice, course.ID, model.CapManage)
	if !ok {
		t.Error("assigned teacher should hold manage capability")
	}

	if err := rs.UnassignAll(alice, course.ID); err != nil {
		t.Fatalf("unassign: %v", err)
	}
	ok, _ = rs.HasCapability(alice, course.ID, model.CapManage)
	if ok {
		t.Error("capability must disappear with the role assignment")
	}
}

func TestRoleUsersWithCapabilityOrdering(t *testing.T) {
	db := setupTestDB(t)
	rs := NewRoleStore(db)
	cs := NewCourseStore(db)
	us := NewUserStore(db)

	course, _ := cs.Create("Intro to Go", "go101")
	manager, _ := rs.Create("Manager", "manager", 1)
	teacher, _ := rs.Create("Teacher", "teacher", 3)
	rs.Grant(manager.ID, model.CapManage)
	rs.Grant(teacher.ID, model.CapManage)

	// Teacher sorts after manager despite the earlier family name.
	zed, _ := us.Create("zed", "Zed", "Moss", "zed@example.com", false)
	ann, _ := us.Create("ann", "Ann", "Moss", "ann@example.com", false)
	kim, _ := us.Create("kim", "Kim", "Abbot", "kim@example.com", false)

	rs.Assign(kim.ID, course.ID, teacher.ID)
	rs.Assign(zed.ID, course.ID, manager.ID)
	rs.Assign(ann.ID, course.ID, manager.ID)

	users, err := rs.UsersWithCapability(course.ID, model.CapManage)
	if err != nil {
		t.Fatalf("users with capability: %v", err)
	}
	if len(users) != 3 {
		t.Fatalf("got %d users, want 3", len(users))
	}

	// Managers first (authority), within role by family/given name, then the teacher.
	want := []int64{ann.ID, zed.ID, kim.ID}
	for i, u := range users {
		if u.ID != want[i] {
			t.Errorf("users[%d].ID = %d, want %d", i, u.ID, want[i])
		}
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	ss := NewSettingsStore(db)

	v, err := ss.Get("missing")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if v != "" {
		t.Errorf("missing key = %q, want empty", v)
	}

	if err := ss.SetInt64(KeyExpiryNotifyLastRun, 12345); err != nil {
		t.Fatalf("set: %v", err)
	}
	n, err := ss.GetInt64(KeyExpiryNotifyLastRun)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if n != 12345 {
		t.Errorf("value = %d, want 12345", n)
	}

	// Upsert overwrites.
	ss.SetInt64(KeyExpiryNotifyLastRun, 99)
	n, _ = ss.GetInt64(KeyExpiryNotifyLastRun)
	if n != 99 {
		t.Errorf("value after upsert = %d, want 99", n)
	}
}
