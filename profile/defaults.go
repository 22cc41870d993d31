package profile

// DefaultTemplates returns the built-in demo agents keyed by agent id.
func DefaultTemplates() map[string]*AgentTemplate {
	return map[string]*AgentTemplate{
		"brand-designer": {
			Name:        "Brand Designer",
			Role:        "designer",
			Skills:      []string{"logo design", "brand identity", "packaging", "illustration"},
			Traits:      []string{"visual", "fast iterations"},
			Description: "Independent designer building visual identities for small food and retail businesses.",
		},
		"contract-lawyer": {
			Name:        "Contract Lawyer",
			Role:        "lawyer",
			Skills:      []string{"commercial contracts", "franchise agreements", "licensing", "contract review"},
			Traits:      []string{"precise"},
			Description: "Drafts and reviews commercial contracts for startups and franchises.",
		},
		"backend-engineer": {
			Name:        "Backend Engineer",
			Role:        "engineer",
			Skills:      []string{"go", "postgres", "kubernetes", "api design"},
			Description: "Builds and operates backend services and data pipelines.",
		},
		"event-photographer": {
			Name:        "Event Photographer",
			Role:        "photographer",
			Skills:      []string{"weddings", "portraits", "product photography"},
			Attributes:  map[string]string{"city": "lisbon"},
			Description: "Photographs weddings, events and products for online shops.",
		},
		"bakery-supplier": {
			Name:        "Bakery Supplier",
			Role:        "supplier",
			Skills:      []string{"flour", "sourdough starter", "wholesale delivery"},
			Description: "Supplies flour and baking ingredients to independent bakeries.",
		},
		"copywriter": {
			Name:        "Copywriter",
			Role:        "writer",
			Skills:      []string{"website copy", "product descriptions", "brand voice"},
			Traits:      []string{"concise"},
			Description: "Writes website and packaging copy for consumer brands.",
		},
	}
}
