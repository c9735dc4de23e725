package enrol

import (
	"fmt"
	"time"

	"github.com/openlms/tokenenrol/internal/model"
	"github.com/openlms/tokenenrol/internal/store"
)

// CohortChecker answers cohort membership questions. *store.CohortStore
// satisfies it.
type CohortChecker interface {
	GetByID(id int64) (*model.Cohort, error)
	IsMember(cohortID, userID int64) (bool, error)
}

// CapabilityChecker answers whether a user holds a capability in a course.
type CapabilityChecker interface {
	HasCapability(userID, courseID int64, capability string) (bool, error)
}

// Evaluator decides whether a user may self-enrol through an instance.
// Checks run in a fixed order and the first failing one wins.
type Evaluator struct {
	enrolments   *store.EnrolmentStore
	cohorts      CohortChecker
	capabilities CapabilityChecker
	now          func() time.Time
}

func NewEvaluator(enrolments *store.EnrolmentStore, cohorts CohortChecker, capabilities CapabilityChecker) *Evaluator {
	return &Evaluator{
		enrolments:   enrolments,
		cohorts:      cohorts,
		capabilities: capabilities,
		now:          time.Now,
	}
}

// CanEnrol evaluates the full rule chain for user against inst. With
// checkExisting false the guest and already-enrolled rules are skipped, which
// is what token redemption wants after it has located the user itself.
func (e *Evaluator) CanEnrol(inst *model.Instance, user *model.User, checkExisting bool) (Reason, error) {
	if checkExisting {
		if user.IsGuest {
			return reasonGuest(), nil
		}
		existing, err := e.enrolments.Get(inst.ID, user.ID)
		if err != nil {
			return Reason{}, fmt.Errorf("checking existing enrolment: %w", err)
		}
		if existing != nil {
			return reasonCannotEnrol(), nil
		}
	}

	if r, err := e.instanceOpen(inst); err != nil || !r.Allowed() {
		return r, err
	}

	if inst.CohortID != 0 {
		member, err := e.cohorts.IsMember(inst.CohortID, user.ID)
		if err != nil {
			return Reason{}, fmt.Errorf("checking cohort membership: %w", err)
		}
		if !member {
			cohort, err := e.cohorts.GetByID(inst.CohortID)
			if err != nil {
				return Reason{}, fmt.Errorf("loading cohort %d: %w", inst.CohortID, err)
			}
			if cohort == nil {
				// Cohort was deleted; the instance is unusable.
				return reasonCannotEnrol(), nil
			}
			return reasonCohortOnly(cohort.Name), nil
		}
	}

	ok, err := e.capabilities.HasCapability(user.ID, inst.CourseID, model.CapEnrolSelf)
	if err != nil {
		return Reason{}, fmt.Errorf("checking capability: %w", err)
	}
	if !ok {
		return reasonCannotEnrol(), nil
	}

	return Reason{}, nil
}

// Available evaluates only the instance-level rules, for callers with no user
// context such as the public instance info endpoint.
func (e *Evaluator) Available(inst *model.Instance) (Reason, error) {
	return e.instanceOpen(inst)
}

func (e *Evaluator) instanceOpen(inst *model.Instance) (Reason, error) {
	if !inst.Enabled() {
		return reasonCannotEnrol(), nil
	}
	now := e.now().Unix()
	if inst.EnrolStart != 0 && now < inst.EnrolStart {
		return reasonTooEarly(inst.EnrolStart), nil
	}
	if inst.EnrolEnd != 0 && now > inst.EnrolEnd {
		return reasonTooLate(inst.EnrolEnd), nil
	}
	if !inst.AllowNew {
		return reasonCannotEnrol(), nil
	}
	if inst.MaxEnrolled != 0 {
		active, err := e.enrolments.CountActive(inst.ID)
		if err != nil {
			return Reason{}, fmt.Errorf("counting active enrolments: %w", err)
		}
		if active >= inst.MaxEnrolled {
			return reasonMaxReached(), nil
		}
	}
	return Reason{}, nil
}
