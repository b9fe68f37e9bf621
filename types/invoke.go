package types

// InvokePayload is the request body accepted by a remote execution target.
type InvokePayload struct {
	TestFiles     map[string]string `json:"testFiles"`
	TestVariables Variables         `json:"testVariables"`
	RetryCount    int               `json:"retryCount"`
	ExecutionID   string            `json:"executionId"`
}

// InvokeError describes an error that prevented a remote run from completing.
type InvokeError struct {
	Message string `json:"message"`
	Name    string `json:"name,omitempty"`
}

// InvokeResponse is returned by a remote execution target for one run.
type InvokeResponse struct {
	Passed      bool                `json:"passed"`
	Screenshots map[string]string   `json:"screenshots,omitempty"`
	Errors      []InvokeError       `json:"errors,omitempty"`
	Results     *AggregateRunResult `json:"results,omitempty"`
	JUnit       string              `json:"junit,omitempty"`
}
