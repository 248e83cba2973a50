package models

// Health is the liveness response.
type Health struct {
	Status  HealthStatus      `json:"status"`
	Time    Timestamp         `json:"time"`
	Details map[string]string `json:"details,omitempty"`
}

// SystemStatus reports upstream health and the most recent cycle.
type SystemStatus struct {
	Status    HealthStatus     `json:"status"`
	Time      Timestamp        `json:"time"`
	Providers []ProviderStatus `json:"providers"`
	LastCycle *Cycle           `json:"lastCycle,omitempty"`
}

// ProviderStatus is the health of one upstream API.
type ProviderStatus struct {
	Provider      string       `json:"provider"`
	Status        HealthStatus `json:"status"`
	CircuitState  string       `json:"circuitState"`
	LastSuccessAt *Timestamp   `json:"lastSuccessAt,omitempty"`
	LastFailureAt *Timestamp   `json:"lastFailureAt,omitempty"`
	Message       *string      `json:"message,omitempty"`
}
