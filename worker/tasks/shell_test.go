package tasks

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestShellRunCapturesStdout(t *testing.T) {
	args, _ := json.Marshal(shellArgs{Command: "echo hello"})
	out, err := runShell(context.Background(), nil, args)
	if err != nil {
		t.Fatalf("runShell: %v", err)
	}

	var res shellResult
	if err := json.Unmarshal(out, &res); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if strings.TrimSpace(res.Stdout) != "hello" {
		t.Fatalf("expected stdout 'hello', got %q", res.Stdout)
	}
	if res.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %d", res.ExitCode)
	}
}

func TestShellRunCapturesNonZeroExitCode(t *testing.T) {
	args, _ := json.Marshal(shellArgs{Command: "exit 3"})
	out, err := runShell(context.Background(), nil, args)
	if err != nil {
		t.Fatalf("runShell: %v", err)
	}

	var res shellResult
	json.Unmarshal(out, &res)
	if res.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %d", res.ExitCode)
	}
}

func TestShellRunInvalidArgsErrors(t *testing.T) {
	_, err := runShell(context.Background(), nil, json.RawMessage(`not-json`))
	if err == nil {
		t.Fatal("expected an error for invalid args")
	}
}
