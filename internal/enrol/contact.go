package enrol

import (
	"fmt"

	"github.com/openlms/tokenenrol/internal/model"
)

// RoleDirectory looks up users holding a capability in a course, ordered by
// role authority. *store.RoleStore satisfies it.
type RoleDirectory interface {
	UsersWithCapability(courseID int64, capability string) ([]model.User, error)
}

// Contact is the identity a notification is sent as.
type Contact struct {
	Name  string
	Email string
}

// ContactResolver picks the sender identity for course messages and resolves
// the course enroller used as the expiry notification sender.
type ContactResolver struct {
	roles       RoleDirectory
	noReplyAddr string
}

func NewContactResolver(roles RoleDirectory, noReplyAddr string) *ContactResolver {
	return &ContactResolver{roles: roles, noReplyAddr: noReplyAddr}
}

// NoReply is the fallback sender when no suitable user exists.
func (r *ContactResolver) NoReply() Contact {
	return Contact{Name: "Do not reply to this email", Email: r.noReplyAddr}
}

// Resolve returns the sender for the instance's welcome message according to
// its configured mode. Modes that name a user fall back to no-reply when no
// such user holds the capability.
func (r *ContactResolver) Resolve(inst *model.Instance) (Contact, error) {
	var capability string
	switch inst.WelcomeMode {
	case model.WelcomeCourseContact:
		capability = model.CapManage
	case model.WelcomeKeyHolder:
		capability = model.CapHoldKey
	default:
		return r.NoReply(), nil
	}
	users, err := r.roles.UsersWithCapability(inst.CourseID, capability)
	if err != nil {
		return Contact{}, fmt.Errorf("resolving welcome contact: %w", err)
	}
	if len(users) == 0 {
		return r.NoReply(), nil
	}
	return Contact{Name: users[0].FullName(), Email: users[0].Email}, nil
}

// Enroller returns the highest-authority user who can manage enrolments in
// the course, or nil when nobody does. Results are memoized in memo keyed by
// course so a notification run hits the role tables once per course.
func (r *ContactResolver) Enroller(courseID int64, memo map[int64]*model.User) (*model.User, error) {
	if u, ok := memo[courseID]; ok {
		return u, nil
	}
	users, err := r.roles.UsersWithCapability(courseID, model.CapManage)
	if err != nil {
		return nil, fmt.Errorf("resolving enroller for course %d: %w", courseID, err)
	}
	var enroller *model.User
	if len(users) > 0 {
		enroller = &users[0]
	}
	memo[courseID] = enroller
	return enroller, nil
}
