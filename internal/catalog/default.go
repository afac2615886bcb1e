// SPDX-License-Identifier: Apache-2.0

package catalog

import "github.com/adiadia/demo-orchestrator/internal/domain"

func Default() *Catalog {
	c, err := New([]domain.Project{
		{
			ID:              "setu-voice-ondc",
			Name:            "Setu Voice ONDC Gateway",
			Description:     "AI-powered voice interface for ONDC marketplace enabling farmers to list products via voice commands.",
			ProvisioningRef: "https://github.com/divyamohan1993/setu-voice-ondc-gateway",
			SetupScript:     DefaultSetupScript,
			Port:            3000,
			Category:        "AI/ML",
			Icon:            "🎤",
			Env: map[string]string{
				"PORT":         "3000",
				"DATABASE_URL": "file:./dev.db",
				"NODE_ENV":     "production",
			},
		},
		{
			ID:              "cityguard-response-hub",
			Name:            "CityGuard Response Hub",
			Description:     "Emergency response coordination system for smart city infrastructure.",
			ProvisioningRef: "https://github.com/divyamohan1993/cityguard-response-hub",
			SetupScript:     DefaultSetupScript,
			Port:            3000,
			Category:        "Smart City",
			Icon:            "🚨",
			Env: map[string]string{
				"PORT":     "3000",
				"NODE_ENV": "production",
			},
		},
	})
	if err != nil {
		panic(err)
	}
	return c
}
