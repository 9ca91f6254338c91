package enums

import "fmt"

// NotificationType categorizes in-app and email notifications.
type NotificationType string

const (
	NotificationPaymentSucceeded NotificationType = "payment_succeeded"
	NotificationPaymentFailed    NotificationType = "payment_failed"
	NotificationRefundRequested  NotificationType = "refund_requested"
	NotificationRefundCompleted  NotificationType = "refund_completed"
)

var validNotificationTypes = []NotificationType{
	NotificationPaymentSucceeded,
	NotificationPaymentFailed,
	NotificationRefundRequested,
	NotificationRefundCompleted,
}

// String implements fmt.Stringer.
func (t NotificationType) String() string {
	return string(t)
}

// IsValid reports whether the value is known.
func (t NotificationType) IsValid() bool {
	for _, candidate := range validNotificationTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseNotificationType converts raw input into a NotificationType.
func ParseNotificationType(value string) (NotificationType, error) {
	for _, candidate := range validNotificationTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification type %q", value)
}
