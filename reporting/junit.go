package reporting

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/acarl005/stripansi"

	"github.com/ethereum-optimism/infra/op-sanity/types"
)

const (
	JUnitSuiteName   = "Sanity Runner"
	JUnitFileSuffix  = ".junit.xml"
	errorRunningTest = "Error running test."
	unknownFailure   = "Unknown failure."
	junitTypeError   = "error"
	junitTypeFailure = "failure"
	junitTimeFormat  = "2006-01-02T15:04:05"
	junitFilePerm    = 0o644
	junitDirPerm     = 0o755
)

// JUnitDocument is the root <testsuites> element.
type JUnitDocument struct {
	XMLName  xml.Name         `xml:"testsuites"`
	Name     string           `xml:"name,attr"`
	Tests    int              `xml:"tests,attr"`
	Failures int              `xml:"failures,attr"`
	Errors   int              `xml:"errors,attr"`
	Skipped  int              `xml:"skipped,attr"`
	Suites   []JUnitTestSuite `xml:"testsuite"`
}

// JUnitTestSuite holds the cases of one test file.
type JUnitTestSuite struct {
	Name      string          `xml:"name,attr"`
	Tests     int             `xml:"tests,attr"`
	Failures  int             `xml:"failures,attr"`
	Errors    int             `xml:"errors,attr"`
	Skipped   int             `xml:"skipped,attr"`
	Time      string          `xml:"time,attr,omitempty"`
	Timestamp string          `xml:"timestamp,attr,omitempty"`
	Cases     []JUnitTestCase `xml:"testcase"`
}

// JUnitTestCase is a single <testcase>. At most one child element is set.
type JUnitTestCase struct {
	Name      string        `xml:"name,attr"`
	Classname string        `xml:"classname,attr"`
	Time      string        `xml:"time,attr,omitempty"`
	Skipped   *JUnitSkipped `xml:"skipped,omitempty"`
	Error     *JUnitMessage `xml:"error,omitempty"`
	Failure   *JUnitMessage `xml:"failure,omitempty"`
}

type JUnitSkipped struct{}

type JUnitMessage struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Body    string `xml:",chardata"`
}

// ToJUnit builds the JUnit document of a run.
func ToJUnit(agg *types.AggregateRunResult) *JUnitDocument {
	doc := &JUnitDocument{Name: JUnitSuiteName}
	if agg == nil || agg.Result == nil {
		return doc
	}
	for _, file := range agg.Result.Files {
		doc.add(toSuite(file))
	}
	return doc
}

// Merge combines documents into one, keeping suite order.
func Merge(docs ...*JUnitDocument) *JUnitDocument {
	merged := &JUnitDocument{Name: JUnitSuiteName}
	for _, doc := range docs {
		if doc == nil {
			continue
		}
		for _, suite := range doc.Suites {
			merged.add(suite)
		}
	}
	return merged
}

func (d *JUnitDocument) add(suite JUnitTestSuite) {
	d.Suites = append(d.Suites, suite)
	d.Tests += suite.Tests
	d.Failures += suite.Failures
	d.Errors += suite.Errors
	d.Skipped += suite.Skipped
}

func toSuite(file *types.FileResult) JUnitTestSuite {
	classname := types.TestName(file.File)
	suite := JUnitTestSuite{
		Name: file.File,
		Time: junitSeconds(file.Duration),
	}
	if file.StartTime != nil {
		suite.Timestamp = file.StartTime.UTC().Format(junitTimeFormat)
	}

	for _, c := range file.Cases {
		tc := JUnitTestCase{
			Name:      c.Name,
			Classname: classname,
			Time:      junitSeconds(c.Duration),
		}
		switch EffectiveStatus(file, c) {
		case types.CaseStatusSkipped:
			tc.Skipped = &JUnitSkipped{}
			suite.Skipped++
		case types.CaseStatusFailed:
			tc.Failure = failureElement(c.FailureMessages)
			suite.Failures++
		}
		suite.Tests++
		suite.Cases = append(suite.Cases, tc)
	}

	// A file-level error, with or without cases, gets its own errored testcase.
	if file.HasError() {
		suite.Cases = append(suite.Cases, JUnitTestCase{
			Name:      classname,
			Classname: classname,
			Time:      junitSeconds(file.Duration),
			Error:     &JUnitMessage{Message: errorRunningTest, Type: junitTypeError, Body: stripansi.Strip(file.Error)},
		})
		suite.Tests++
		suite.Errors++
	}
	return suite
}

func failureElement(messages []string) *JUnitMessage {
	body := unknownFailure
	if len(messages) > 0 {
		body = stripansi.Strip(strings.Join(messages, "\n"))
	}
	summary, _, _ := strings.Cut(body, "\n")
	return &JUnitMessage{Message: summary, Type: junitTypeFailure, Body: body}
}

// junitSeconds renders a known duration; unknown durations are omitted.
func junitSeconds(d *time.Duration) string {
	if d == nil {
		return ""
	}
	return fmt.Sprintf("%.3f", d.Seconds())
}

// Marshal renders the document with an XML header.
func (d *JUnitDocument) Marshal() ([]byte, error) {
	out, err := xml.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal junit report: %w", err)
	}
	return append([]byte(xml.Header), append(out, '\n')...), nil
}

// JUnitFileName is the report filename of an execution.
func JUnitFileName(executionID string) string {
	return executionID + JUnitFileSuffix
}

// WriteJUnit writes the JUnit report of a run to dir and returns its path.
func WriteJUnit(dir string, agg *types.AggregateRunResult) (string, error) {
	return WriteDocument(dir, agg.ExecutionID, ToJUnit(agg))
}

// WriteDocument writes doc to dir as <executionID>.junit.xml.
func WriteDocument(dir string, executionID string, doc *JUnitDocument) (string, error) {
	if executionID == "" {
		return "", fmt.Errorf("execution id is required to name the junit report")
	}
	data, err := doc.Marshal()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, junitDirPerm); err != nil {
		return "", fmt.Errorf("failed to create junit output directory: %w", err)
	}
	path := filepath.Join(dir, JUnitFileName(executionID))
	if err := os.WriteFile(path, data, junitFilePerm); err != nil {
		return "", fmt.Errorf("failed to write junit report: %w", err)
	}
	return path, nil
}
