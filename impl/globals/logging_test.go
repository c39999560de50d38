package globals

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"
)

func TestXlatLogLevel(t *testing.T) {
	tests := []struct {
		strLevel string
		logLevel log.Level
	}{
		{"DEBUG", log.DebugLevel},
		{"info", log.InfoLevel},
		{"WARN", log.WarnLevel},
		{"TRACE", log.TraceLevel},
		{"ERROR", log.ErrorLevel},
		{"ANYTHING-ELSE", log.FatalLevel},
	}
	for _, lvlTest := range tests {
		if xlatLogLevel(lvlTest.strLevel) != lvlTest.logLevel {
			t.Errorf("level %q not translated", lvlTest.strLevel)
		}
	}
}

func TestFileLogging(t *testing.T) {
	td := t.TempDir()
	logfile := filepath.Join(td, "logfile")
	if err := ConfigureLogging("DEBUG", logfile); err != nil {
		t.FailNow()
	}
	defer ConfigureLogging("error", "")
	log.Debug("TEST")
	expectedText := "level=debug msg=TEST"
	content, err := os.ReadFile(logfile)
	if err != nil {
		t.FailNow()
	}
	if !strings.Contains(string(content), expectedText) {
		t.FailNow()
	}
}

func TestBadLogFile(t *testing.T) {
	td := t.TempDir()
	if ConfigureLogging("info", filepath.Join(td, "no", "such", "dir", "log")) == nil {
		t.Fail()
	}
}
