package log

import (
	"errors"
	"io"
	"testing"
	"time"
)

var (
	sampleInt      = 3
	sampleBytes    = []byte("123")
	sampleList     = []int64{10, 0, -10}
	sampleDuration = time.Second
	sampleTime     = time.Unix(12345678, 0)

	errSample = errors.New("some error")
)

func doLogs() {
	Infof("appended %d ballots to poll %x", sampleInt, sampleBytes)
	Debugw("taking snapshot", "root", "abc123", "size", sampleInt)
	Errorf("cannot commit leaf: %v", errSample)
	Warnw("various types",
		"list", sampleList,
		"duration", sampleDuration,
		"time", sampleTime,
	)
	Error(errSample)
}

func TestCheckInvalidChars(t *testing.T) {
	t.Cleanup(func() { panicOnInvalidChars = false })

	v := []byte{'h', 'e', 'l', 'l', 'o', 0xff, 'w', 'o', 'r', 'l', 'd'}
	panicOnInvalidChars = false
	Init("debug", "stderr", nil)
	Debugf("%s", v)
	// should not panic with the check disabled

	panicOnInvalidChars = true
	Init("debug", "stderr", nil)
	defer func() { _ = recover() }()
	Debugf("%s", v)
	t.Errorf("Debugf(%s) should have panicked because of invalid char", v)
}

func TestLevel(t *testing.T) {
	Init(LogLevelInfo, "stderr", nil)
	if Level() != LogLevelInfo {
		t.Errorf("Level() = %q, want %q", Level(), LogLevelInfo)
	}
}

func BenchmarkLogger(b *testing.B) {
	logTestWriter = io.Discard
	Init("debug", logTestWriterName, nil)

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		doLogs()
	}
}
