package enrol

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/openlms/tokenenrol/internal/messaging"
	"github.com/openlms/tokenenrol/internal/model"
	"github.com/openlms/tokenenrol/internal/store"
)

// NotifyReport summarizes one expiry notification run.
type NotifyReport struct {
	Skipped         bool `json:"skipped"`
	Instances       int  `json:"instances"`
	InstancesFailed int  `json:"instances_failed"`
	UsersNotified   int  `json:"users_notified"`
	SummariesSent   int  `json:"summaries_sent"`
}

// Notifier warns users whose enrolment is about to run out and sends the
// course enroller a summary. It runs at most once per calendar day, never
// before the configured hour, with the last-run cursor persisted in settings
// so restarts do not re-send.
type Notifier struct {
	instances  *store.InstanceStore
	enrolments *store.EnrolmentStore
	courses    *store.CourseStore
	settings   *store.SettingsStore
	contacts   *ContactResolver
	sender     messaging.Sender
	notifyHour int
	admin      Contact
	log        *slog.Logger
	now        func() time.Time
}

// NewNotifier builds a Notifier. adminAddr is the fallback summary recipient
// for courses where nobody holds the manage capability; empty disables the
// fallback.
func NewNotifier(instances *store.InstanceStore, enrolments *store.EnrolmentStore, courses *store.CourseStore, settings *store.SettingsStore, contacts *ContactResolver, sender messaging.Sender, notifyHour int, adminAddr string, log *slog.Logger) *Notifier {
	if log == nil {
		log = slog.Default()
	}
	if notifyHour < 0 || notifyHour > 23 {
		notifyHour = 0
	}
	var admin Contact
	if adminAddr != "" {
		admin = Contact{Name: "Site administrator", Email: adminAddr}
	}
	return &Notifier{
		instances:  instances,
		enrolments: enrolments,
		courses:    courses,
		settings:   settings,
		contacts:   contacts,
		sender:     sender,
		notifyHour: notifyHour,
		admin:      admin,
		log:        log,
		now:        time.Now,
	}
}

// Run executes one gated notification pass. Instances are processed in
// ascending id order; send and per-instance failures are logged and the
// run continues, so one broken instance never stalls the rest or re-sends
// mail already delivered this pass.
func (n *Notifier) Run() (*NotifyReport, error) {
	now := n.now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	notifyTime := midnight.Add(time.Duration(n.notifyHour) * time.Hour)
	if now.Before(notifyTime) {
		return &NotifyReport{Skipped: true}, nil
	}
	lastRun, err := n.settings.GetInt64(store.KeyExpiryNotifyLastRun)
	if err != nil {
		return nil, fmt.Errorf("reading notification cursor: %w", err)
	}
	if lastRun >= notifyTime.Unix() {
		return &NotifyReport{Skipped: true}, nil
	}

	instances, err := n.instances.ListNotifying()
	if err != nil {
		return nil, fmt.Errorf("listing notifying instances: %w", err)
	}

	report := &NotifyReport{}
	enrollers := make(map[int64]*model.User)
	for i := range instances {
		if err := n.notifyInstance(&instances[i], now.Unix(), enrollers, report); err != nil {
			report.InstancesFailed++
			n.log.Error("notifying instance failed", "instance_id", instances[i].ID, "error", err)
		}
	}

	if err := n.settings.SetInt64(store.KeyExpiryNotifyLastRun, now.Unix()); err != nil {
		return nil, fmt.Errorf("advancing notification cursor: %w", err)
	}
	return report, nil
}

func (n *Notifier) notifyInstance(inst *model.Instance, now int64, enrollers map[int64]*model.User, report *NotifyReport) error {
	expiring, err := n.enrolments.ListExpiring(inst.ID, now, inst.ExpiryThreshold)
	if err != nil {
		return fmt.Errorf("listing expiring enrolments: %w", err)
	}
	if len(expiring) == 0 {
		return nil
	}
	report.Instances++

	course, err := n.courses.GetByID(inst.CourseID)
	if err != nil {
		return fmt.Errorf("loading course %d: %w", inst.CourseID, err)
	}
	if course == nil {
		n.log.Error("notifying instance refers to missing course", "instance_id", inst.ID, "course_id", inst.CourseID)
		return nil
	}

	enroller, err := n.contacts.Enroller(inst.CourseID, enrollers)
	if err != nil {
		return err
	}
	// The summary goes to the course enroller, or to the configured site
	// administrator when no one holds the manage capability.
	recipient := n.admin
	if enroller != nil {
		recipient = Contact{Name: enroller.FullName(), Email: enroller.Email}
	}
	from := n.contacts.NoReply()
	enrollerName := from.Name
	if recipient.Email != "" {
		from = recipient
		enrollerName = recipient.Name
	}

	var lines []string
	for _, eu := range expiring {
		lines = append(lines, messaging.ExpiryLine(eu.User.FullName(), eu.TimeEnd))
		if inst.ExpiryNotify != model.NotifyAll {
			continue
		}
		msg := messaging.Message{
			FromName:  from.Name,
			FromEmail: from.Email,
			ToName:    eu.User.FullName(),
			ToEmail:   eu.User.Email,
			Subject:   messaging.ExpirySubject(),
			Body:      messaging.ExpiryUserBody(eu.User.FullName(), course.FullName, eu.TimeEnd, enrollerName),
		}
		if err := n.sender.Send(msg); err != nil {
			n.log.Error("sending expiry notification", "user_id", eu.UserID, "instance_id", inst.ID, "error", err)
			continue
		}
		report.UsersNotified++
	}

	if recipient.Email == "" {
		n.log.Info("no recipient for expiry summary", "course_id", inst.CourseID, "instance_id", inst.ID)
		return nil
	}
	summary := messaging.Message{
		FromName:  n.contacts.NoReply().Name,
		FromEmail: n.contacts.NoReply().Email,
		ToName:    recipient.Name,
		ToEmail:   recipient.Email,
		Subject:   messaging.ExpirySubject(),
		Body:      messaging.ExpirySummaryBody(course.FullName, inst.ExpiryThreshold, lines),
	}
	if err := n.sender.Send(summary); err != nil {
		n.log.Error("sending expiry summary", "course_id", inst.CourseID, "instance_id", inst.ID, "error", err)
		return nil
	}
	report.SummariesSent++
	return nil
}
