package enrol

import (
	"github.com/openlms/tokenenrol/internal/model"
	"github.com/openlms/tokenenrol/internal/store"
)

// SiteCapabilities layers site-wide default grants over role-based
// capability checks. Every signed-in user may self-enrol and self-unenrol
// unless a deployment removes the defaults; anything else needs a role.
type SiteCapabilities struct {
	roles    *store.RoleStore
	defaults map[string]bool
}

func NewSiteCapabilities(roles *store.RoleStore) *SiteCapabilities {
	return &SiteCapabilities{
		roles: roles,
		defaults: map[string]bool{
			model.CapEnrolSelf:   true,
			model.CapUnenrolSelf: true,
		},
	}
}

// SetDefault overrides a site-wide default grant.
func (s *SiteCapabilities) SetDefault(capability string, granted bool) {
	s.defaults[capability] = granted
}

func (s *SiteCapabilities) HasCapability(userID, courseID int64, capability string) (bool, error) {
	if s.defaults[capability] {
		return true, nil
	}
	return s.roles.HasCapability(userID, courseID, capability)
}
