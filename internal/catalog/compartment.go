// compartment.go is the fixed Patient compartment membership table: for each
// member resource type, the reference parameters that place an instance in a
// patient's compartment. $everything walks this table.
//
// Most types participate through their patient parameter; the exceptions
// (Coverage.beneficiary, Group.member, Person.link) are spelled out.
package catalog

import "sort"

var patientCompartment = map[string][]string{
	"AllergyIntolerance": {"patient"},
	"CarePlan":           {"patient"},
	"CareTeam":           {"patient", "participant"},
	"Condition":          {"patient", "asserter"},
	"Coverage":           {"beneficiary", "subscriber", "payor"},
	"Device":             {"patient"},
	"DiagnosticReport":   {"patient"},
	"DocumentReference":  {"patient", "author"},
	"Encounter":          {"patient"},
	"Group":              {"member"},
	"Immunization":       {"patient"},
	"MedicationRequest":  {"patient", "requester"},
	"Observation":        {"patient", "performer"},
	"Person":             {"link"},
	"Procedure":          {"patient", "performer"},
	"RelatedPerson":      {"patient"},
	"RiskAssessment":     {"patient"},
	"ServiceRequest":     {"patient", "performer"},
}

// PatientCompartmentTypes returns the member resource types, sorted.
func PatientCompartmentTypes() []string {
	out := make([]string, 0, len(patientCompartment))
	for t := range patientCompartment {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// PatientCompartmentParams returns the reference parameters linking the given
// type into a patient's compartment, or nil when the type is not a member.
func PatientCompartmentParams(resourceType string) []string {
	return patientCompartment[resourceType]
}
