// capability.go derives the server's CapabilityStatement from the catalog.
// /metadata serves exactly this: what the catalog says is searchable is what
// the statement advertises, so the two cannot drift apart.
package catalog

// CapabilityStatement is the /metadata resource.
type CapabilityStatement struct {
	ResourceType   string            `json:"resourceType"`
	Status         string            `json:"status"`
	Date           string            `json:"date"`
	Kind           string            `json:"kind"`
	FHIRVersion    string            `json:"fhirVersion"`
	Format         []string          `json:"format"`
	Software       SoftwareComponent `json:"software"`
	Implementation ImplComponent     `json:"implementation"`
	Rest           []RestComponent   `json:"rest"`
}

// SoftwareComponent names the server software.
type SoftwareComponent struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ImplComponent points at this deployment.
type ImplComponent struct {
	Description string `json:"description"`
	URL         string `json:"url,omitempty"`
}

// RestComponent describes one REST endpoint mode.
type RestComponent struct {
	Mode        string                 `json:"mode"`
	Interaction []InteractionComponent `json:"interaction,omitempty"`
	Resource    []ResourceComponent    `json:"resource"`
}

// InteractionComponent is a supported interaction code.
type InteractionComponent struct {
	Code string `json:"code"`
}

// ResourceComponent describes support for one resource type.
type ResourceComponent struct {
	Type              string                 `json:"type"`
	Versioning        string                 `json:"versioning"`
	ReadHistory       bool                   `json:"readHistory"`
	ConditionalCreate bool                   `json:"conditionalCreate"`
	ConditionalUpdate bool                   `json:"conditionalUpdate"`
	ConditionalDelete string                 `json:"conditionalDelete"`
	Interaction       []InteractionComponent `json:"interaction"`
	SearchInclude     []string               `json:"searchInclude,omitempty"`
	SearchParam       []SearchParamComponent `json:"searchParam,omitempty"`
}

// SearchParamComponent advertises one search parameter.
type SearchParamComponent struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

var resourceInteractions = []InteractionComponent{
	{Code: "read"}, {Code: "vread"}, {Code: "update"}, {Code: "patch"},
	{Code: "delete"}, {Code: "history-instance"}, {Code: "history-type"},
	{Code: "create"}, {Code: "search-type"},
}

// Capability builds the statement for this catalog. date is the generation
// instant; softwareVersion identifies the build.
func (c *Catalog) Capability(baseURL, date, softwareVersion string) *CapabilityStatement {
	rest := RestComponent{
		Mode: "server",
		Interaction: []InteractionComponent{
			{Code: "transaction"}, {Code: "batch"}, {Code: "history-system"},
		},
	}

	for _, resType := range c.Types() {
		rc := ResourceComponent{
			Type:              resType,
			Versioning:        "versioned",
			ReadHistory:       true,
			ConditionalCreate: true,
			ConditionalUpdate: true,
			ConditionalDelete: "single",
			Interaction:       resourceInteractions,
		}
		for _, p := range c.Parameters(resType) {
			rc.SearchParam = append(rc.SearchParam, SearchParamComponent{
				Name: p.Name,
				Type: string(p.Type),
			})
			if p.Type == Reference {
				rc.SearchInclude = append(rc.SearchInclude, resType+":"+p.Name)
			}
		}
		rest.Resource = append(rest.Resource, rc)
	}

	return &CapabilityStatement{
		ResourceType: "CapabilityStatement",
		Status:       "active",
		Date:         date,
		Kind:         "instance",
		FHIRVersion:  "4.0.1",
		Format:       []string{"application/fhir+json", "json"},
		Software:     SoftwareComponent{Name: "fhird", Version: softwareVersion},
		Implementation: ImplComponent{
			Description: "fhird FHIR R4 storage and search engine",
			URL:         baseURL,
		},
		Rest: []RestComponent{rest},
	}
}
