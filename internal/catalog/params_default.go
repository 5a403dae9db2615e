// params_default.go is the built-in R4 parameter table. One line per
// parameter: name, type, extraction paths, and reference targets. The
// constructors keep the table declarative; behavior lives in the extractor
// and the query compiler.
package catalog

func tok(name string, paths ...string) Parameter {
	return Parameter{Name: name, Type: Token, Paths: paths}
}

func str(name string, paths ...string) Parameter {
	return Parameter{Name: name, Type: String, Paths: paths}
}

func dt(name string, paths ...string) Parameter {
	return Parameter{Name: name, Type: Date, Paths: paths}
}

func ref(name, path string, targets ...string) Parameter {
	return Parameter{Name: name, Type: Reference, Paths: []string{path}, Targets: targets}
}

func qty(name string, paths ...string) Parameter {
	return Parameter{Name: name, Type: Quantity, Paths: paths}
}

func num(name string, paths ...string) Parameter {
	return Parameter{Name: name, Type: Number, Paths: paths}
}

func uri(name string, paths ...string) Parameter {
	return Parameter{Name: name, Type: URI, Paths: paths}
}

func near(name string, paths ...string) Parameter {
	return Parameter{Name: name, Type: Special, Paths: paths}
}

func comp(name string, correlated bool, components ...string) Parameter {
	return Parameter{Name: name, Type: Composite, Components: components, Correlated: correlated}
}

// Default returns the built-in catalog.
func Default() *Catalog {
	return New(map[string][]Parameter{
		"Patient": {
			tok("identifier", "identifier"),
			tok("active", "active"),
			str("name", "name"),
			str("family", "name.family"),
			str("given", "name.given"),
			tok("telecom", "telecom"),
			tok("phone", "telecom.where(system='phone')"),
			tok("email", "telecom.where(system='email')"),
			tok("gender", "gender"),
			dt("birthdate", "birthDate"),
			dt("death-date", "deceasedDateTime"),
			tok("deceased", "deceasedBoolean"),
			str("address", "address"),
			str("address-city", "address.city"),
			str("address-state", "address.state"),
			str("address-postalcode", "address.postalCode"),
			str("address-country", "address.country"),
			tok("language", "communication.language"),
			ref("general-practitioner", "generalPractitioner", "Practitioner", "Organization"),
			ref("organization", "managingOrganization", "Organization"),
			ref("link", "link.other", "Patient", "RelatedPerson"),
		},
		"Practitioner": {
			tok("identifier", "identifier"),
			tok("active", "active"),
			str("name", "name"),
			str("family", "name.family"),
			str("given", "name.given"),
			tok("telecom", "telecom"),
			tok("email", "telecom.where(system='email')"),
			tok("phone", "telecom.where(system='phone')"),
			tok("gender", "gender"),
			str("address", "address"),
			str("address-city", "address.city"),
		},
		"Organization": {
			tok("identifier", "identifier"),
			tok("active", "active"),
			tok("type", "type"),
			str("name", "name"),
			str("address", "address"),
			str("address-city", "address.city"),
			ref("partof", "partOf", "Organization"),
		},
		"Location": {
			tok("identifier", "identifier"),
			tok("status", "status"),
			tok("type", "type"),
			str("name", "name"),
			str("address", "address"),
			str("address-city", "address.city"),
			ref("organization", "managingOrganization", "Organization"),
			ref("partof", "partOf", "Location"),
			near("near", "position"),
		},
		"Observation": {
			tok("identifier", "identifier"),
			tok("status", "status"),
			tok("code", "code"),
			tok("category", "category"),
			ref("subject", "subject", "Patient", "Group", "Device", "Location"),
			ref("patient", "subject.where(resolve() is Patient)", "Patient"),
			ref("encounter", "encounter", "Encounter"),
			ref("performer", "performer", "Practitioner", "Organization", "Patient", "RelatedPerson"),
			ref("device", "device", "Device"),
			ref("has-member", "hasMember", "Observation"),
			ref("derived-from", "derivedFrom", "Observation", "DocumentReference"),
			ref("based-on", "basedOn", "ServiceRequest", "MedicationRequest"),
			dt("date", "effective[x]"),
			dt("issued", "issued"),
			qty("value-quantity", "valueQuantity"),
			tok("value-concept", "valueCodeableConcept"),
			str("value-string", "valueString"),
			dt("value-date", "valueDateTime", "valuePeriod"),
			tok("data-absent-reason", "dataAbsentReason"),
			tok("component-code", "component.code"),
			qty("component-value-quantity", "component.valueQuantity"),
			tok("combo-code", "code", "component.code"),
			qty("combo-value-quantity", "valueQuantity", "component.valueQuantity"),
			comp("code-value-quantity", false, "code", "value-quantity"),
			comp("component-code-value-quantity", true, "component-code", "component-value-quantity"),
		},
		"Encounter": {
			tok("identifier", "identifier"),
			tok("status", "status"),
			tok("class", "class"),
			tok("type", "type"),
			tok("reason-code", "reasonCode"),
			ref("subject", "subject", "Patient", "Group"),
			ref("patient", "subject.where(resolve() is Patient)", "Patient"),
			ref("participant", "participant.individual", "Practitioner", "RelatedPerson"),
			ref("practitioner", "participant.individual.where(resolve() is Practitioner)", "Practitioner"),
			ref("location", "location.location", "Location"),
			ref("service-provider", "serviceProvider", "Organization"),
			dt("date", "period"),
		},
		"Condition": {
			tok("identifier", "identifier"),
			tok("code", "code"),
			tok("category", "category"),
			tok("severity", "severity"),
			tok("clinical-status", "clinicalStatus"),
			tok("verification-status", "verificationStatus"),
			ref("subject", "subject", "Patient", "Group"),
			ref("patient", "subject.where(resolve() is Patient)", "Patient"),
			ref("encounter", "encounter", "Encounter"),
			ref("asserter", "asserter", "Practitioner", "Patient", "RelatedPerson"),
			dt("onset-date", "onset[x]"),
			dt("recorded-date", "recordedDate"),
		},
		"MedicationRequest": {
			tok("identifier", "identifier"),
			tok("status", "status"),
			tok("intent", "intent"),
			tok("code", "medicationCodeableConcept"),
			ref("medication", "medicationReference", "Medication"),
			ref("subject", "subject", "Patient", "Group"),
			ref("patient", "subject.where(resolve() is Patient)", "Patient"),
			ref("encounter", "encounter", "Encounter"),
			ref("requester", "requester", "Practitioner", "Organization", "Patient"),
			dt("authoredon", "authoredOn"),
		},
		"Medication": {
			tok("identifier", "identifier"),
			tok("code", "code"),
			tok("status", "status"),
		},
		"AllergyIntolerance": {
			tok("identifier", "identifier"),
			tok("code", "code"),
			tok("category", "category"),
			tok("criticality", "criticality"),
			tok("clinical-status", "clinicalStatus"),
			ref("patient", "patient", "Patient"),
			ref("asserter", "asserter", "Patient", "Practitioner", "RelatedPerson"),
			dt("date", "recordedDate"),
		},
		"Procedure": {
			tok("identifier", "identifier"),
			tok("status", "status"),
			tok("code", "code"),
			tok("category", "category"),
			ref("subject", "subject", "Patient", "Group"),
			ref("patient", "subject.where(resolve() is Patient)", "Patient"),
			ref("encounter", "encounter", "Encounter"),
			ref("performer", "performer.actor", "Practitioner", "Organization", "Patient"),
			dt("date", "performed[x]"),
		},
		"Immunization": {
			tok("identifier", "identifier"),
			tok("status", "status"),
			tok("vaccine-code", "vaccineCode"),
			str("lot-number", "lotNumber"),
			ref("patient", "patient", "Patient"),
			ref("performer", "performer.actor", "Practitioner", "Organization"),
			ref("location", "location", "Location"),
			dt("date", "occurrence[x]"),
		},
		"DiagnosticReport": {
			tok("identifier", "identifier"),
			tok("status", "status"),
			tok("code", "code"),
			tok("category", "category"),
			ref("subject", "subject", "Patient", "Group", "Device", "Location"),
			ref("patient", "subject.where(resolve() is Patient)", "Patient"),
			ref("encounter", "encounter", "Encounter"),
			ref("performer", "performer", "Practitioner", "Organization"),
			ref("result", "result", "Observation"),
			dt("date", "effective[x]"),
			dt("issued", "issued"),
		},
		"DocumentReference": {
			tok("identifier", "identifier"),
			tok("status", "status"),
			tok("type", "type"),
			tok("category", "category"),
			ref("subject", "subject", "Patient", "Group", "Device", "Practitioner"),
			ref("patient", "subject.where(resolve() is Patient)", "Patient"),
			ref("author", "author", "Practitioner", "Organization", "Patient", "Device"),
			ref("custodian", "custodian", "Organization"),
			ref("encounter", "context.encounter", "Encounter"),
			dt("date", "date"),
			dt("period", "context.period"),
			uri("url", "content.attachment.url"),
		},
		"Coverage": {
			tok("identifier", "identifier"),
			tok("status", "status"),
			tok("type", "type"),
			ref("beneficiary", "beneficiary", "Patient"),
			ref("subscriber", "subscriber", "Patient", "RelatedPerson"),
			ref("payor", "payor", "Organization", "Patient", "RelatedPerson"),
		},
		"Group": {
			tok("identifier", "identifier"),
			tok("type", "type"),
			tok("actual", "actual"),
			tok("code", "code"),
			ref("member", "member.entity", "Patient", "Practitioner", "Device"),
			ref("managing-entity", "managingEntity", "Organization", "Practitioner", "RelatedPerson"),
		},
		"Person": {
			tok("identifier", "identifier"),
			str("name", "name"),
			tok("telecom", "telecom"),
			tok("gender", "gender"),
			dt("birthdate", "birthDate"),
			ref("link", "link.target", "Patient", "Practitioner", "RelatedPerson", "Person"),
			ref("organization", "managingOrganization", "Organization"),
		},
		"RelatedPerson": {
			tok("identifier", "identifier"),
			tok("active", "active"),
			str("name", "name"),
			tok("telecom", "telecom"),
			tok("gender", "gender"),
			tok("relationship", "relationship"),
			ref("patient", "patient", "Patient"),
			dt("birthdate", "birthDate"),
		},
		"CarePlan": {
			tok("identifier", "identifier"),
			tok("status", "status"),
			tok("intent", "intent"),
			tok("category", "category"),
			ref("subject", "subject", "Patient", "Group"),
			ref("patient", "subject.where(resolve() is Patient)", "Patient"),
			ref("encounter", "encounter", "Encounter"),
			ref("care-team", "careTeam", "CareTeam"),
			dt("date", "period"),
		},
		"CareTeam": {
			tok("identifier", "identifier"),
			tok("status", "status"),
			tok("category", "category"),
			ref("subject", "subject", "Patient", "Group"),
			ref("patient", "subject.where(resolve() is Patient)", "Patient"),
			ref("encounter", "encounter", "Encounter"),
			ref("participant", "participant.member", "Practitioner", "Patient", "Organization", "RelatedPerson"),
		},
		"Device": {
			tok("identifier", "identifier"),
			tok("status", "status"),
			tok("type", "type"),
			str("manufacturer", "manufacturer"),
			str("model", "modelNumber"),
			str("device-name", "deviceName.name"),
			ref("patient", "patient", "Patient"),
			ref("organization", "owner", "Organization"),
			ref("location", "location", "Location"),
			uri("url", "url"),
		},
		"ServiceRequest": {
			tok("identifier", "identifier"),
			tok("status", "status"),
			tok("intent", "intent"),
			tok("code", "code"),
			tok("category", "category"),
			ref("subject", "subject", "Patient", "Group", "Device", "Location"),
			ref("patient", "subject.where(resolve() is Patient)", "Patient"),
			ref("encounter", "encounter", "Encounter"),
			ref("requester", "requester", "Practitioner", "Organization", "Patient", "Device"),
			ref("performer", "performer", "Practitioner", "Organization", "Patient", "Device"),
			dt("authored", "authoredOn"),
			dt("occurrence", "occurrence[x]"),
		},
		"RiskAssessment": {
			tok("identifier", "identifier"),
			tok("method", "method"),
			tok("risk", "prediction.qualitativeRisk"),
			num("probability", "prediction.probabilityDecimal"),
			ref("subject", "subject", "Patient", "Group"),
			ref("patient", "subject.where(resolve() is Patient)", "Patient"),
			ref("encounter", "encounter", "Encounter"),
			ref("condition", "condition", "Condition"),
			ref("performer", "performer", "Practitioner", "Device"),
			dt("date", "occurrence[x]"),
		},
		"ValueSet": {
			tok("identifier", "identifier"),
			tok("status", "status"),
			tok("version", "version"),
			tok("code", "compose.include.concept.code"),
			str("name", "name"),
			str("title", "title"),
			uri("url", "url"),
			dt("date", "date"),
		},
	})
}
