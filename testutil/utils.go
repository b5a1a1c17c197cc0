package testutil

import (
	"io"
	"net"
	"os"

	errors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Capture the stdout (including log output) and stderr content produced by
// a given function.
func CaptureOutput(f func()) (stdout []byte, stderr []byte, err error) {
	rescueStdout := os.Stdout
	rescueStderr := os.Stderr
	rOut, wOut, _ := os.Pipe()
	rErr, wErr, _ := os.Pipe()
	os.Stdout = wOut
	os.Stderr = wErr
	rescueLogOutput := logrus.StandardLogger().Out
	logrus.StandardLogger().SetOutput(wOut)
	// Restore the standard pipelines at the end.
	defer func() {
		os.Stdout = rescueStdout
		os.Stderr = rescueStderr
		logrus.StandardLogger().SetOutput(rescueLogOutput)
	}()

	// Execute function
	f()

	// Close the internal pipelines.
	wOut.Close()
	wErr.Close()

	// Reads the stdout
	stdout, err = io.ReadAll(rOut)
	if err != nil {
		err = errors.Wrap(err, "cannot read stdout")
		return
	}

	stderr, err = io.ReadAll(rErr)
	err = errors.Wrap(err, "cannot read stderr")
	return stdout, stderr, err
}

// Captures the log entries produced by a given function. The entries are
// formatted as plain text without colors.
func CaptureLogs(f func()) string {
	logger := logrus.StandardLogger()
	rescueOutput := logger.Out
	rescueFormatter := logger.Formatter
	buffer := &SafeBuffer{}
	logger.SetOutput(buffer)
	logger.SetFormatter(&logrus.TextFormatter{DisableColors: true, DisableTimestamp: true})
	defer func() {
		logger.SetOutput(rescueOutput)
		logger.SetFormatter(rescueFormatter)
	}()

	f()

	return buffer.String()
}

// Allows reverting the changes in the os.Args variables to a previous
// state. It remembers the current os.Args and returns a function
// that must be called to restore these values.
func CreateOsArgsRestorePoint() func() {
	original := os.Args
	return func() {
		os.Args = original
	}
}

// Helper function that returns a free TCP port on localhost. Returns an error
// if no ports are available.
func GetFreeLocalTCPPort() (int, error) {
	if a, err := net.ResolveTCPAddr("tcp", "localhost:0"); err == nil {
		var l *net.TCPListener
		if l, err = net.ListenTCP("tcp", a); err == nil {
			defer l.Close()
			return l.Addr().(*net.TCPAddr).Port, nil
		}
	}
	return 0, errors.Errorf("none TCP port is available")
}
