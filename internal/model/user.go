package model

// User is an enrolled person. EnrollmentNumber is the identity the
// recognizer reports.
type User struct {
	ID               int64  `json:"id" db:"id"`
	EnrollmentNumber string `json:"enrollment_number" db:"enrollment_number"`
	Name             string `json:"name" db:"name"`
}
