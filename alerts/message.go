package alerts

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/Masterminds/sprig/v3"

	"github.com/ethereum-optimism/infra/op-sanity/types"
)

const messageTemplate = `{{ if .RunFailed }}:red_circle:{{ else }}:large_green_circle:{{ end }} *{{ .TestName }}* {{ .FileStatus }}
Run {{ .RunID }} (execution {{ .ExecutionID }}): {{ .NumFailed }} failed, {{ .NumSkipped }} skipped, {{ .RetryCount }} {{ if eq .RetryCount 1 }}retry{{ else }}retries{{ end }}
{{- with .Metadata.Description }}
*Description:* {{ . }}
{{- end }}
{{- with .Metadata.Runbook }}
*Runbook:* {{ . }}
{{- end }}
{{- with .Error }}
*Error:* {{ . | trunc 500 }}
{{- end }}
{{- range .Failures }}
• {{ .Case }}: {{ .Message | trunc 500 }}
{{- end }}
{{- range $path, $url := .Artifacts }}
<{{ $url }}|{{ $path }}>
{{- end }}
`

var messageTmpl = template.Must(template.New("alert").Funcs(messageFuncs()).Parse(messageTemplate))

// messageFuncs is sprig with trunc counting runes, so cut text stays valid
// UTF-8.
func messageFuncs() template.FuncMap {
	funcs := sprig.TxtFuncMap()
	funcs["trunc"] = truncRunes
	return funcs
}

// truncRunes keeps the first c runes of s, or the last -c runes when c is
// negative, like sprig's trunc.
func truncRunes(c int, s string) string {
	r := []rune(s)
	switch {
	case c < 0 && len(r)+c > 0:
		return string(r[len(r)+c:])
	case c >= 0 && len(r) > c:
		return string(r[:c])
	}
	return s
}

// MessageData is the input of an alert message.
type MessageData struct {
	TestName    string
	File        string
	FileStatus  string
	RunFailed   bool
	RunID       string
	ExecutionID string
	NumFailed   int
	NumSkipped  int
	RetryCount  int
	Metadata    types.TestMetadata
	Error       string
	Failures    []CaseFailure
	Artifacts   map[string]string
}

// CaseFailure is one failed case listed in a message.
type CaseFailure struct {
	Case    string
	Message string
}

// NewMessageData collects the message input of one file. file may be nil.
func NewMessageData(testFile string, agg *types.AggregateRunResult, file *types.FileResult, md types.TestMetadata) MessageData {
	data := MessageData{
		TestName:    types.TestName(testFile),
		File:        testFile,
		RunFailed:   agg.HasFailures(),
		RunID:       agg.RunID,
		ExecutionID: agg.ExecutionID,
		NumFailed:   agg.NumFailed,
		NumSkipped:  agg.NumSkipped,
		RetryCount:  agg.RetryCount,
		Metadata:    md,
	}
	switch {
	case file == nil:
		data.FileStatus = "was not run"
	case file.HasError():
		data.FileStatus = "could not run"
		data.Error = file.Error
	case file.NumFailed > 0:
		data.FileStatus = fmt.Sprintf("failed (%d of %d cases)", file.NumFailed, len(file.Cases))
	case file.NumPending > 0:
		data.FileStatus = "skipped"
	default:
		data.FileStatus = "passed"
	}
	if file != nil {
		for _, c := range file.Cases {
			if c.Status != types.CaseStatusFailed {
				continue
			}
			msg := "Unknown failure."
			if len(c.FailureMessages) > 0 {
				msg = c.FailureMessages[0]
			}
			data.Failures = append(data.Failures, CaseFailure{Case: c.Name, Message: msg})
		}
		data.Artifacts = file.Artifacts
	}
	return data
}

// RenderMessage renders an alert message. Identical data always renders to
// identical text.
func RenderMessage(data MessageData) (string, error) {
	var buf bytes.Buffer
	if err := messageTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render alert message for %s: %w", data.File, err)
	}
	return buf.String(), nil
}
