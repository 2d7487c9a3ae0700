package awaitprovisioning

import "tenant-provisioning/internal/common/validation"

// GetInputSchema accepts the variables written by the tenant.setup task.
func GetInputSchema() validation.JSONSchema {
	return validation.JSONSchema{
		Type:     "object",
		Required: []string{"tenantName"},
		Properties: map[string]validation.Property{
			"tenantName": {
				Type:        "string",
				Description: "Tenant whose provisioning is awaited",
				MinLength:   intPtr(1),
				MaxLength:   intPtr(255),
			},
			"tenantId": {
				Type:        "integer",
				Description: "Application tenant id, absent after a create timeout",
			},
			"identityOrgId": {
				Type:        "string",
				Description: "Identity organization id",
			},
			"setupRunId": {
				Type:        "string",
				Description: "Ledger run left awaiting_progress by tenant.setup",
			},
		},
		AdditionalProperties: true,
	}
}

func intPtr(i int) *int {
	return &i
}
