package models

import "time"

// Family groups siblings under one guardian. All fields are nullable because students are left-joined to families.
type Family struct {
	ID            *string `db:"id" json:"id,omitempty"`
	FatherName    *string `db:"father_name" json:"father_name,omitempty"`
	ContactNumber *string `db:"contact_number" json:"contact_number,omitempty"`
}

// Student represents a learner registered in the institution.
type Student struct {
	ID            string    `db:"id" json:"id"`
	FullName      string    `db:"full_name" json:"full_name"`
	GRNumber      string    `db:"gr_number" json:"gr_number"`
	Class         string    `db:"class" json:"class"`
	Section       *string   `db:"section" json:"section,omitempty"`
	AdmissionDate time.Time `db:"admission_date" json:"admission_date"`
	Status        string    `db:"status" json:"status"`
	FamilyID      *string   `db:"family_id" json:"family_id,omitempty"`
	Family        Family    `db:"family" json:"family"`
}

// StudentRef is the subset of student columns embedded into joined rows.
type StudentRef struct {
	FullName string  `db:"full_name" json:"full_name"`
	GRNumber string  `db:"gr_number" json:"gr_number"`
	Class    string  `db:"class" json:"class"`
	Section  *string `db:"section" json:"section,omitempty"`
}
