package types

// TestMetadata is the alerting metadata a test file declares about itself.
type TestMetadata struct {
	Description string `json:"description,omitempty"`
	Runbook     string `json:"runbook,omitempty"`
}
