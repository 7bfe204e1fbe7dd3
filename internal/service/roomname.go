package service

import (
	"strings"

	"github.com/google/uuid"
)

// MeetingRoomName derives the video room for a booking. The result depends
// only on the two ids, so it never changes after creation.
func MeetingRoomName(tutorID, bookingID uuid.UUID) string {
	return "tutor" + compactUUID(tutorID) + "_booking" + compactUUID(bookingID)
}

// MeetingURL joins a meeting domain and room name.
func MeetingURL(domain, room string) string {
	if domain == "" {
		return ""
	}
	return "https://" + strings.TrimSuffix(domain, "/") + "/" + room
}

func compactUUID(id uuid.UUID) string {
	return strings.ReplaceAll(id.String(), "-", "")
}
