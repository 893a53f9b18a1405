package cmd

import (
	"fmt"
	"github.com/NELLExchange/Reifnir/nellebot"
	"github.com/stretchr/testify/assert"
	"io"
	"os"
	"testing"
)

func TestVersionCommand(t *testing.T) {
	originalVersion := nellebot.Version
	originalCommitSHA := nellebot.CommitSHA
	originalBuildTime := nellebot.BuildTime

	t.Cleanup(
		func() {
			nellebot.Version = originalVersion
			nellebot.CommitSHA = originalCommitSHA
			nellebot.BuildTime = originalBuildTime
		},
	)

	nellebot.Version = "1.0.0"
	nellebot.CommitSHA = "abc123"
	nellebot.BuildTime = "2024-10-01T12:00:00Z"

	orig := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w
	t.Cleanup(
		func() {
			os.Stdout = orig
		},
	)

	versionCmd.Run(nil, nil)

	_ = w.Close()

	out, _ := io.ReadAll(r)
	expected := fmt.Sprintf(
		"version=%s commit=%s built: %s",
		nellebot.Version,
		nellebot.CommitSHA,
		nellebot.BuildTime,
	)
	assert.Equal(t, expected, string(out))
}
