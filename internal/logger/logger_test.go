// Copyright 2023 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

const (
	traceString = `"severity":"TRACE".*"msg":"trace www.example.com"`
	debugString = `"severity":"DEBUG".*"msg":"debug www.example.com"`
	infoString  = `"severity":"INFO".*"msg":"info www.example.com"`
	warnString  = `"severity":"WARNING".*"msg":"warn www.example.com"`
	errorString = `"severity":"ERROR".*"msg":"error www.example.com"`
)

type LoggerTest struct {
	suite.Suite
	buf *bytes.Buffer
}

func TestLoggerSuite(t *testing.T) {
	suite.Run(t, new(LoggerTest))
}

func (t *LoggerTest) SetupTest() {
	t.buf = &bytes.Buffer{}
	defaultLoggerFactory = &loggerFactory{
		out:    t.buf,
		format: "json",
		level:  func() *slog.LevelVar { v := new(slog.LevelVar); v.Set(LevelInfo); return v }(),
	}
	rebuild()
}

func (t *LoggerTest) emitAll() []string {
	fns := []func(){
		func() { Tracef("trace www.example.com") },
		func() { Debugf("debug www.example.com") },
		func() { Infof("info www.example.com") },
		func() { Warnf("warn www.example.com") },
		func() { Errorf("error www.example.com") },
	}
	var out []string
	for _, f := range fns {
		f()
		out = append(out, t.buf.String())
		t.buf.Reset()
	}
	return out
}

func (t *LoggerTest) TestLevelFiltering() {
	cases := []struct {
		severity string
		expected []string
	}{
		{SeverityOff, []string{"", "", "", "", ""}},
		{SeverityError, []string{"", "", "", "", errorString}},
		{SeverityWarning, []string{"", "", "", warnString, errorString}},
		{SeverityInfo, []string{"", "", infoString, warnString, errorString}},
		{SeverityDebug, []string{"", debugString, infoString, warnString, errorString}},
		{SeverityTrace, []string{traceString, debugString, infoString, warnString, errorString}},
	}

	for _, c := range cases {
		SetLevel(c.severity)
		got := t.emitAll()
		for i, want := range c.expected {
			if want == "" {
				assert.Equal(t.T(), "", got[i], "severity=%s index=%d", c.severity, i)
				continue
			}
			assert.Regexp(t.T(), regexp.MustCompile(want), got[i], "severity=%s index=%d", c.severity, i)
		}
	}
}

func (t *LoggerTest) TestSetFormatText() {
	SetLevel(SeverityInfo)
	SetFormat("text")
	Infof("info www.example.com")
	assert.Regexp(t.T(), regexp.MustCompile(`severity=INFO`), t.buf.String())
}

func (t *LoggerTest) TestSetFormatUnknownFallsBackToJSON() {
	SetFormat("yaml")
	assert.Equal(t.T(), "json", defaultLoggerFactory.format)
}

func (t *LoggerTest) TestInitLogFile() {
	dir := t.T().TempDir()
	path := filepath.Join(dir, "sysctlfs.log")

	err := InitLogFile(path)
	require.NoError(t.T(), err)
	defer defaultLoggerFactory.file.Close()

	SetLevel(SeverityInfo)
	Infof("info www.example.com")

	contents, err := os.ReadFile(path)
	require.NoError(t.T(), err)
	assert.Regexp(t.T(), regexp.MustCompile(infoString), string(contents))
}
