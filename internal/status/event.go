// Package status carries scan progress from the capture loop to whoever
// renders it.
package status

import (
	"fmt"
	"time"

	"attendance/internal/recognition"
)

type Kind string

const (
	KindScanning      Kind = "scanning"
	KindFaceMissing   Kind = "face_missing"
	KindFaceTooSmall  Kind = "face_too_small"
	KindFrameMissed   Kind = "frame_missed"
	KindAnalyzing     Kind = "analyzing"
	KindRejected      Kind = "rejected"
	KindMarked        Kind = "marked"
	KindAlreadyMarked Kind = "already_marked"
	KindStorageError  Kind = "storage_error"
	KindDeviceError   Kind = "device_error"
	KindStopped       Kind = "stopped"
	KindFrame         Kind = "frame"
)

// Event is one status notification. Image is only set on KindFrame and is
// base64 encoded when marshalled.
type Event struct {
	Kind      Kind               `json:"type"`
	SessionID string             `json:"session,omitempty"`
	Message   string             `json:"message,omitempty"`
	Identity  string             `json:"identity,omitempty"`
	Category  string             `json:"category,omitempty"`
	Reason    recognition.Reason `json:"reason,omitempty"`
	Progress  int                `json:"progress,omitempty"`
	Total     int                `json:"total,omitempty"`
	Image     []byte             `json:"image,omitempty"`
	Time      time.Time          `json:"time"`
}

// Transient events may be dropped under backpressure; the rest may not.
func (e Event) Transient() bool {
	switch e.Kind {
	case KindFrame, KindAnalyzing, KindFaceMissing, KindFaceTooSmall, KindFrameMissed:
		return true
	}
	return false
}

func newEvent(kind Kind, message string) Event {
	return Event{Kind: kind, Message: message, Time: time.Now()}
}

func Scanning(category string, rescan bool) Event {
	msg := "Scanning... Please stand in front of the camera."
	if rescan {
		msg = "Rescanning... Please stand in front of the camera."
	}
	e := newEvent(KindScanning, msg)
	e.Category = category
	return e
}

func FaceMissing() Event {
	return newEvent(KindFaceMissing, "No face detected. Please stand in front of the camera.")
}

func FaceTooSmall() Event {
	return newEvent(KindFaceTooSmall, "Face too small to recognize. Please move closer.")
}

// FrameMissed reports a camera read that returned nothing in time.
func FrameMissed() Event {
	return newEvent(KindFrameMissed, "Waiting for camera... Please keep your face in view.")
}

func Analyzing(progress, total int) Event {
	e := newEvent(KindAnalyzing, fmt.Sprintf("Analyzing... Please keep your face in view. (%d/%d)", progress, total))
	e.Progress = progress
	e.Total = total
	return e
}

// Rejected maps every rejection reason to its own message.
func Rejected(reason recognition.Reason) Event {
	var msg string
	switch reason {
	case recognition.ReasonInconsistent:
		msg = "Face not recognized consistently. Please try again."
	case recognition.ReasonLowConfidence:
		msg = "Face not recognized with sufficient confidence. Please try again."
	case recognition.ReasonUnrecognized:
		msg = "Face not recognized. Please register or try again."
	default:
		msg = fmt.Sprintf("Face rejected (%s). Please try again.", reason)
	}
	e := newEvent(KindRejected, msg)
	e.Reason = reason
	return e
}

func Marked(identity, category string) Event {
	e := newEvent(KindMarked, fmt.Sprintf("Attendance marked for %s in %s", identity, category))
	e.Identity = identity
	e.Category = category
	return e
}

func AlreadyMarked(identity, category string) Event {
	e := newEvent(KindAlreadyMarked, fmt.Sprintf("Attendance already marked for %s today in %s", identity, category))
	e.Identity = identity
	e.Category = category
	return e
}

func StorageError(identity string, err error) Event {
	e := newEvent(KindStorageError, fmt.Sprintf("Error marking attendance: %v", err))
	e.Identity = identity
	return e
}

func DeviceError(err error) Event {
	return newEvent(KindDeviceError, fmt.Sprintf("Camera error: %v", err))
}

func Stopped() Event {
	return newEvent(KindStopped, "Scanning stopped.")
}

func Frame(jpeg []byte) Event {
	return Event{Kind: KindFrame, Image: jpeg, Time: time.Now()}
}
