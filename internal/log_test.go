package internal

import (
	"bytes"
	"log"
	"strings"
	"testing"
)

func TestErrorLogFilter(t *testing.T) {
	var buf bytes.Buffer
	destLogger := log.New(&buf, "", 0)
	testErrorLogger := log.New(&ErrorLogFilter{Unwrap: destLogger}, "", 0)

	testErrorLogger.Println("http: proxy error: context canceled")
	if buf.Len() != 0 {
		t.Errorf("suppressed message was written to output: %q", buf.String())
	}
	buf.Reset()

	allowedMessage := "http: another error occurred"
	testErrorLogger.Println(allowedMessage)
	if output := buf.String(); !strings.Contains(output, allowedMessage) {
		t.Errorf("allowed message was not written to output: %q", output)
	}
	buf.Reset()

	testErrorLogger.Println("some other log before http: proxy error: context canceled and after")
	if buf.Len() != 0 {
		t.Errorf("partially matching message was written to output: %q", buf.String())
	}
}
