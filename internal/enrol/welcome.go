package enrol

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/openlms/tokenenrol/internal/messaging"
	"github.com/openlms/tokenenrol/internal/model"
)

// WelcomeMailer builds and delivers the course welcome message. Delivery
// retries with exponential backoff since it runs off the request path and a
// transient mail API failure should not lose the message.
type WelcomeMailer struct {
	contacts *ContactResolver
	sender   messaging.Sender
	baseURL  string
	retries  uint64
}

func NewWelcomeMailer(contacts *ContactResolver, sender messaging.Sender, baseURL string) *WelcomeMailer {
	return &WelcomeMailer{
		contacts: contacts,
		sender:   sender,
		baseURL:  baseURL,
		retries:  3,
	}
}

func (m *WelcomeMailer) SendWelcome(inst *model.Instance, course *model.Course, user *model.User) error {
	from, err := m.contacts.Resolve(inst)
	if err != nil {
		return err
	}

	profileURL := fmt.Sprintf("%s/user/profile/%d", m.baseURL, user.ID)
	msg := messaging.Message{
		FromName:  from.Name,
		FromEmail: from.Email,
		ToName:    user.FullName(),
		ToEmail:   user.Email,
		Subject:   messaging.WelcomeSubject(course.FullName),
		Body:      messaging.WelcomeBody(inst.WelcomeMessage, course.FullName, profileURL, user.FullName(), user.Email),
	}

	backoff := retry.WithMaxRetries(m.retries, retry.NewExponential(time.Second))
	err = retry.Do(context.Background(), backoff, func(ctx context.Context) error {
		if err := m.sender.Send(msg); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delivering welcome message: %w", err)
	}
	return nil
}
