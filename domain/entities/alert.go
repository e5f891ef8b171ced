package entities

import (
	"errors"
	"fmt"
	"time"
)

// AlertStatus represents the status of a shared alert document
type AlertStatus string

const (
	AlertStatusNormal    AlertStatus = "NORMAL"
	AlertStatusEmergency AlertStatus = "EMERGENCY"
)

// LocationUnavailable is written when the caregiver position could not be read in time
const LocationUnavailable = "location unavailable"

// Field names of the shared alert document, shared by every backend
const (
	FieldStatus         = "status"
	FieldLocation       = "location"
	FieldCaregiverPhone = "caregiverPhone"
	FieldPushTrigger    = "pushTrigger"
	FieldFamilyToken    = "familyToken"
	FieldLastUpdated    = "lastUpdated"
)

var (
	ErrDocumentNotFound = errors.New("shared alert document not found")
	ErrEmptyPatch       = errors.New("patch does not set any field")
	ErrInvalidStatus    = errors.New("invalid alert status")
	ErrFieldNotWritable = errors.New("field is not writable by this role")
)

// Valid reports whether s is a known status
func (s AlertStatus) Valid() bool {
	return s == AlertStatusNormal || s == AlertStatusEmergency
}

// SharedAlertDocument is the single cross-device record of a pairing
type SharedAlertDocument struct {
	PairingCode    string      `json:"pairingCode" bson:"_id"`
	Status         AlertStatus `json:"status" bson:"status"`
	Location       string      `json:"location,omitempty" bson:"location,omitempty"`
	CaregiverPhone string      `json:"caregiverPhone,omitempty" bson:"caregiverPhone,omitempty"`
	PushTrigger    int64       `json:"pushTrigger,omitempty" bson:"pushTrigger,omitempty"`
	FamilyToken    string      `json:"familyToken,omitempty" bson:"familyToken,omitempty"`
	LastUpdated    time.Time   `json:"lastUpdated" bson:"lastUpdated"`
}

// IsEmergency reports whether the document currently signals an emergency
func (d *SharedAlertDocument) IsEmergency() bool {
	return d.Status == AlertStatusEmergency
}

// NewSharedAlertDocument returns the state a document is created in: NORMAL until a patch says otherwise
func NewSharedAlertDocument(pairingCode string) SharedAlertDocument {
	return SharedAlertDocument{PairingCode: pairingCode, Status: AlertStatusNormal}
}

// AlertPatch is a merge-patch for a SharedAlertDocument. Nil fields are left untouched.
type AlertPatch struct {
	Status         *AlertStatus `json:"status,omitempty"`
	Location       *string      `json:"location,omitempty"`
	CaregiverPhone *string      `json:"caregiverPhone,omitempty"`
	PushTrigger    *int64       `json:"pushTrigger,omitempty"`
	FamilyToken    *string      `json:"familyToken,omitempty"`
	LastUpdated    *time.Time   `json:"lastUpdated,omitempty"`
}

// IsEmpty reports whether the patch sets no field
func (p *AlertPatch) IsEmpty() bool {
	return p.Status == nil && p.Location == nil && p.CaregiverPhone == nil &&
		p.PushTrigger == nil && p.FamilyToken == nil && p.LastUpdated == nil
}

// Validate rejects empty patches and unknown statuses
func (p *AlertPatch) Validate() error {
	if p.IsEmpty() {
		return ErrEmptyPatch
	}
	if p.Status != nil && !p.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, *p.Status)
	}
	return nil
}

// Fields returns the set fields keyed by their document field name
func (p *AlertPatch) Fields() map[string]interface{} {
	fields := make(map[string]interface{})
	if p.Status != nil {
		fields[FieldStatus] = string(*p.Status)
	}
	if p.Location != nil {
		fields[FieldLocation] = *p.Location
	}
	if p.CaregiverPhone != nil {
		fields[FieldCaregiverPhone] = *p.CaregiverPhone
	}
	if p.PushTrigger != nil {
		fields[FieldPushTrigger] = *p.PushTrigger
	}
	if p.FamilyToken != nil {
		fields[FieldFamilyToken] = *p.FamilyToken
	}
	if p.LastUpdated != nil {
		fields[FieldLastUpdated] = *p.LastUpdated
	}
	return fields
}

// ApplyTo returns a copy of doc with the patch merged in
func (p *AlertPatch) ApplyTo(doc SharedAlertDocument) SharedAlertDocument {
	if p.Status != nil {
		doc.Status = *p.Status
	}
	if p.Location != nil {
		doc.Location = *p.Location
	}
	if p.CaregiverPhone != nil {
		doc.CaregiverPhone = *p.CaregiverPhone
	}
	if p.PushTrigger != nil {
		doc.PushTrigger = *p.PushTrigger
	}
	if p.FamilyToken != nil {
		doc.FamilyToken = *p.FamilyToken
	}
	if p.LastUpdated != nil {
		doc.LastUpdated = *p.LastUpdated
	}
	return doc
}

// DocumentWrite is the outcome of a merge write. Before is nil when the write created the document.
type DocumentWrite struct {
	Before *SharedAlertDocument `json:"before,omitempty"`
	After  SharedAlertDocument  `json:"after"`
}

// AlertViewState is the family device's derived, non-persisted alert view
type AlertViewState struct {
	IsAlertActive bool   `json:"is_alert_active"`
	AlertLocation string `json:"alert_location,omitempty"`
	CallbackPhone string `json:"callback_phone,omitempty"`
	PushTrigger   int64  `json:"push_trigger,omitempty"`
}

// Position is a geolocation fix
type Position struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

// String formats the position the way it is stored in the shared document
func (p Position) String() string {
	return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lon)
}

// NewEmergencyPatch composes the patch written when a caregiver raises an alert
func NewEmergencyPatch(location, caregiverPhone string, pushTrigger int64, now time.Time) AlertPatch {
	status := AlertStatusEmergency
	return AlertPatch{
		Status:         &status,
		Location:       &location,
		CaregiverPhone: &caregiverPhone,
		PushTrigger:    &pushTrigger,
		LastUpdated:    &now,
	}
}

// NewNormalPatch composes the patch that resets a document to NORMAL
func NewNormalPatch(now time.Time) AlertPatch {
	status := AlertStatusNormal
	return AlertPatch{
		Status:      &status,
		LastUpdated: &now,
	}
}

// CheckWritableBy enforces the single-writer field groups of the shared document.
// Family devices may only reset the status to NORMAL and publish their push token;
// caregivers own every field except the push token.
func (p *AlertPatch) CheckWritableBy(role Role) error {
	switch role {
	case RoleFamily:
		if p.Location != nil {
			return fmt.Errorf("%w: %s", ErrFieldNotWritable, FieldLocation)
		}
		if p.CaregiverPhone != nil {
			return fmt.Errorf("%w: %s", ErrFieldNotWritable, FieldCaregiverPhone)
		}
		if p.PushTrigger != nil {
			return fmt.Errorf("%w: %s", ErrFieldNotWritable, FieldPushTrigger)
		}
		if p.Status != nil && *p.Status != AlertStatusNormal {
			return fmt.Errorf("%w: %s=%s", ErrFieldNotWritable, FieldStatus, *p.Status)
		}
	case RoleCaregiver:
		if p.FamilyToken != nil {
			return fmt.Errorf("%w: %s", ErrFieldNotWritable, FieldFamilyToken)
		}
	default:
		return ErrInvalidRole
	}
	return nil
}
