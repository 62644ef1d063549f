// Package permits is the permit CRUD API that sits behind the request guard.
//
// Storage is process-local. Field contents are not validated here; the
// guard has already enforced method, media type and size.
package permits

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusSubmitted Status = "SUBMITTED"
	StatusReview    Status = "REVIEW"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
)

// Permit is the stored and returned representation.
type Permit struct {
	ID            uuid.UUID `json:"id"`
	PermitName    string    `json:"permitName"`
	ApplicantName string    `json:"applicantName"`
	PermitType    string    `json:"permitType"`
	SubmittedDate time.Time `json:"submittedDate"`
	Status        Status    `json:"status"`
}

// Request is the create/update body.
type Request struct {
	PermitName    string `json:"permitName"`
	ApplicantName string `json:"applicantName"`
	PermitType    string `json:"permitType"`
	Status        string `json:"status,omitempty"`
}

// newPermit ignores any requested status; new permits always start SUBMITTED.
func newPermit(req Request, now time.Time) Permit {
	return Permit{
		PermitName:    req.PermitName,
		ApplicantName: req.ApplicantName,
		PermitType:    req.PermitType,
		SubmittedDate: now,
		Status:        StatusSubmitted,
	}
}

// apply copies the editable fields. Status only changes when one is given.
func (p *Permit) apply(req Request) {
	p.PermitName = req.PermitName
	p.ApplicantName = req.ApplicantName
	p.PermitType = req.PermitType
	if req.Status != "" {
		p.Status = Status(req.Status)
	}
}
