package tenantsetup

import "tenant-provisioning/internal/common/validation"

// GetInputSchema describes the job variables the worker reads. Other process
// variables are allowed through.
func GetInputSchema() validation.JSONSchema {
	return validation.JSONSchema{
		Type:     "object",
		Required: []string{"tenantName", "actingPrincipalId"},
		Properties: map[string]validation.Property{
			"tenantName": {
				Type:        "string",
				Description: "Display name of the new tenant",
				MinLength:   intPtr(1),
				MaxLength:   intPtr(255),
			},
			"domain": {
				Type:        "string",
				Description: "Primary email domain of the tenant",
				MaxLength:   intPtr(253),
			},
			"actingPrincipalId": {
				Type:        "string",
				Description: "Identity service user id of the requester",
				MinLength:   intPtr(1),
				MaxLength:   intPtr(255),
			},
		},
		AdditionalProperties: true,
	}
}

func intPtr(i int) *int {
	return &i
}
