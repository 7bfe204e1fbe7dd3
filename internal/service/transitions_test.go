package service

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"booklessons/internal/models"
)

func TestStrictPolicyEdges(t *testing.T) {
	statuses := []models.BookingStatus{
		models.StatusRequested, models.StatusConfirmed, models.StatusCancelled, models.StatusCompleted,
	}
	allowed := map[[2]models.BookingStatus]bool{
		{models.StatusRequested, models.StatusConfirmed}: true,
		{models.StatusRequested, models.StatusCancelled}: true,
		{models.StatusConfirmed, models.StatusCancelled}: true,
		{models.StatusConfirmed, models.StatusCompleted}: true,
	}

	for _, from := range statuses {
		for _, to := range statuses {
			err := PolicyStrict.Check(from, to)
			if allowed[[2]models.BookingStatus{from, to}] {
				if err != nil {
					t.Errorf("strict %s -> %s: unexpected %v", from, to, err)
				}
			} else if !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("strict %s -> %s: err = %v, want ErrInvalidTransition", from, to, err)
			}

			if err := PolicyPermissive.Check(from, to); err != nil {
				t.Errorf("permissive %s -> %s: unexpected %v", from, to, err)
			}
		}
	}
}

func TestMeetingRoomName(t *testing.T) {
	tutorID := uuid.MustParse("6f1c2d3e-4a5b-4c6d-8e7f-901a2b3c4d5e")
	bookingID := uuid.MustParse("0a1b2c3d-4e5f-4a6b-9c8d-7e6f5a4b3c2d")

	got := MeetingRoomName(tutorID, bookingID)
	want := "tutor6f1c2d3e4a5b4c6d8e7f901a2b3c4d5e_booking0a1b2c3d4e5f4a6b9c8d7e6f5a4b3c2d"
	if got != want {
		t.Errorf("MeetingRoomName = %q, want %q", got, want)
	}
	if got != MeetingRoomName(tutorID, bookingID) {
		t.Error("MeetingRoomName is not deterministic")
	}
	if strings.Contains(got, "-") {
		t.Errorf("room name %q contains hyphens", got)
	}
}

func TestMeetingURL(t *testing.T) {
	if got := MeetingURL("", "room"); got != "" {
		t.Errorf("MeetingURL with empty domain = %q, want empty", got)
	}
	if got := MeetingURL("meet.jit.si/", "room"); got != "https://meet.jit.si/room" {
		t.Errorf("MeetingURL = %q", got)
	}
}
