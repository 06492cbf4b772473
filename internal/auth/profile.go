package auth

import (
	"encoding/json"
	"fmt"
)

// DefaultDepartment is assigned to employees at registration.
const DefaultDepartment = "field-operations"

// DefaultSpecialization is assigned to environmental accounts at registration.
const DefaultSpecialization = "general"

// Profile is the user-type specific part of a user record. Exactly one
// variant exists per UserType; the set is closed.
type Profile interface {
	UserType() UserType
	// Zones returns every zone name the profile refers to.
	Zones() []string
	profile()
}

// CitizenProfile belongs to citizen accounts.
type CitizenProfile struct {
	NotificationsEnabled bool `json:"notificationsEnabled"`
	EcoPoints            int  `json:"ecoPoints"`
}

// EmployeeProfile belongs to employee accounts.
type EmployeeProfile struct {
	Zone       string `json:"zone"`
	Department string `json:"department"`
}

// OfficeProfile belongs to office accounts.
type OfficeProfile struct {
	OfficeName   string   `json:"officeName"`
	ManagedZones []string `json:"managedZones"`
}

// EnvironmentalProfile belongs to environmental organisation accounts.
type EnvironmentalProfile struct {
	Organization   string `json:"organization"`
	Specialization string `json:"specialization"`
}

func (CitizenProfile) UserType() UserType { return UserTypeCitizen }
func (EmployeeProfile) UserType() UserType { return UserTypeEmployee }
func (OfficeProfile) UserType() UserType { return UserTypeOffice }
func (EnvironmentalProfile) UserType() UserType { return UserTypeEnvironmental }

func (CitizenProfile) Zones() []string { return nil }

func (p EmployeeProfile) Zones() []string {
	if p.Zone == "" {
		return nil
	}
	return []string{p.Zone}
}

func (p OfficeProfile) Zones() []string { return p.ManagedZones }
func (EnvironmentalProfile) Zones() []string { return nil }

func (CitizenProfile) profile() {}
func (EmployeeProfile) profile() {}
func (OfficeProfile) profile() {}
func (EnvironmentalProfile) profile() {}

// ProfileInput carries the optional registration fields that seed a profile.
type ProfileInput struct {
	Zone         string
	ManagedZones []string
	Organization string
}

// DefaultProfile builds the registration-time profile for t.
// defaultZone is used for employees that did not name a zone.
func DefaultProfile(t UserType, in ProfileInput, defaultZone string) (Profile, error) {
	switch t {
	case UserTypeCitizen:
		return CitizenProfile{NotificationsEnabled: true}, nil
	case UserTypeEmployee:
		zone := in.Zone
		if zone == "" {
			zone = defaultZone
		}
		return EmployeeProfile{Zone: zone, Department: DefaultDepartment}, nil
	case UserTypeOffice:
		zones := in.ManagedZones
		if zones == nil {
			zones = []string{}
		}
		return OfficeProfile{ManagedZones: zones}, nil
	case UserTypeEnvironmental:
		return EnvironmentalProfile{Organization: in.Organization, Specialization: DefaultSpecialization}, nil
	default:
		return nil, fmt.Errorf("%w: unknown user type %q", ErrValidation, t)
	}
}

// EncodeProfile serialises p for the profile column.
func EncodeProfile(p Profile) (string, error) {
	if p == nil {
		return "{}", nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encoding %s profile: %w", p.UserType(), err)
	}
	return string(b), nil
}

// DecodeProfile parses a profile column into the variant selected by t.
func DecodeProfile(t UserType, raw string) (Profile, error) {
	if raw == "" {
		raw = "{}"
	}
	switch t {
	case UserTypeCitizen:
		var p CitizenProfile
		if err := decodeInto(t, raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	case UserTypeEmployee:
		var p EmployeeProfile
		if err := decodeInto(t, raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	case UserTypeOffice:
		var p OfficeProfile
		if err := decodeInto(t, raw, &p); err != nil {
			return nil, err
		}
		if p.ManagedZones == nil {
			p.ManagedZones = []string{}
		}
		return p, nil
	case UserTypeEnvironmental:
		var p EnvironmentalProfile
		if err := decodeInto(t, raw, &p); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown user type %q", t)
	}
}

func decodeInto(t UserType, raw string, dst any) error {
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("decoding %s profile: %w", t, err)
	}
	return nil
}
