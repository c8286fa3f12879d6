package instance

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/gechandesu/compute/internal/errdefs"
)

const testPublicKey = "ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIBJMW41gW+FKUlkFpq+Ddkr7HJImGMTLkqnELugdYDsI test@example.com"

// agentRequest decodes one scripted agent command.
type agentRequest struct {
	Execute   string          `json:"execute"`
	Arguments json.RawMessage `json:"arguments"`
}

func decodeAgentRequest(t *testing.T, cmd string) agentRequest {
	t.Helper()
	var req agentRequest
	if err := json.Unmarshal([]byte(cmd), &req); err != nil {
		t.Fatalf("malformed agent command %q: %v", cmd, err)
	}
	return req
}

func TestExec(t *testing.T) {
	mgr, mock := newTestManager(t)
	defineTestInstance(t, mock, domainStateRunning)

	statusCalls := 0
	mock.agentHandler = func(cmd string) (string, error) {
		req := decodeAgentRequest(t, cmd)
		switch req.Execute {
		case "guest-ping":
			return `{"return":{}}`, nil
		case "guest-exec":
			var args struct {
				Path          string   `json:"path"`
				Args          []string `json:"arg"`
				CaptureOutput bool     `json:"capture-output"`
			}
			if err := json.Unmarshal(req.Arguments, &args); err != nil {
				t.Fatalf("malformed guest-exec arguments: %v", err)
			}
			if args.Path != "/bin/uname" || !args.CaptureOutput {
				t.Errorf("unexpected guest-exec arguments: %+v", args)
			}
			return `{"return":{"pid":1234}}`, nil
		case "guest-exec-status":
			statusCalls++
			if statusCalls == 1 {
				return `{"return":{"exited":false}}`, nil
			}
			out := base64.StdEncoding.EncodeToString([]byte("Linux\n"))
			return `{"return":{"exited":true,"exitcode":0,"out-data":"` + out + `"}}`, nil
		}
		t.Fatalf("unexpected agent command: %s", req.Execute)
		return "", nil
	}

	result, err := mgr.Exec("vm1", ExecOptions{Path: "/bin/uname", Args: []string{"-s"}})
	if err != nil {
		t.Fatalf("Exec failed: %v", err)
	}
	if result.PID != 1234 {
		t.Errorf("expected pid 1234, got %d", result.PID)
	}
	if result.ExitCode != 0 {
		t.Errorf("expected exit code 0, got %d", result.ExitCode)
	}
	if string(result.Stdout) != "Linux\n" {
		t.Errorf("unexpected stdout: %q", result.Stdout)
	}
	if statusCalls != 2 {
		t.Errorf("expected 2 status polls, got %d", statusCalls)
	}
}

func TestExecTimeout(t *testing.T) {
	mgr, mock := newTestManager(t)
	defineTestInstance(t, mock, domainStateRunning)
	mock.agentHandler = func(cmd string) (string, error) {
		req := decodeAgentRequest(t, cmd)
		switch req.Execute {
		case "guest-ping":
			return `{"return":{}}`, nil
		case "guest-exec":
			return `{"return":{"pid":4321}}`, nil
		case "guest-exec-status":
			return `{"return":{"exited":false}}`, nil
		}
		return "", nil
	}

	_, err := mgr.Exec("vm1", ExecOptions{Path: "/bin/sleep", Args: []string{"3600"}, Timeout: 50 * time.Millisecond})
	var timeoutErr *errdefs.AgentTimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected AgentTimeoutError, got %v", err)
	}
	if timeoutErr.PID != 4321 {
		t.Errorf("expected the orphaned pid in the error, got %d", timeoutErr.PID)
	}
}

func TestExecRequiresRunning(t *testing.T) {
	mgr, mock := newTestManager(t)
	defineTestInstance(t, mock, domainStateShutoff)
	_, err := mgr.Exec("vm1", ExecOptions{Path: "/bin/true"})
	var conflictErr *errdefs.StateConflictError
	if !errors.As(err, &conflictErr) {
		t.Fatalf("expected StateConflictError, got %v", err)
	}
}

func TestExecAgentUnavailable(t *testing.T) {
	mgr, mock := newTestManager(t)
	defineTestInstance(t, mock, domainStateRunning)
	// No handler: every agent command fails, like a guest without the
	// agent running.
	_, err := mgr.Exec("vm1", ExecOptions{Path: "/bin/true"})
	var unavailableErr *errdefs.AgentUnavailableError
	if !errors.As(err, &unavailableErr) {
		t.Fatalf("expected AgentUnavailableError, got %v", err)
	}
}

func TestExecWithoutPath(t *testing.T) {
	mgr, mock := newTestManager(t)
	defineTestInstance(t, mock, domainStateRunning)
	_, err := mgr.Exec("vm1", ExecOptions{})
	var validationErr *errdefs.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestAgentCommand(t *testing.T) {
	mgr, mock := newTestManager(t)
	defineTestInstance(t, mock, domainStateRunning)
	mock.agentHandler = func(cmd string) (string, error) {
		if decodeAgentRequest(t, cmd).Execute != "guest-info" {
			t.Errorf("unexpected command: %s", cmd)
		}
		return `{"return":{"version":"8.2.0"}}`, nil
	}
	reply, err := mgr.AgentCommand("vm1", `{"execute":"guest-info"}`)
	if err != nil {
		t.Fatalf("AgentCommand failed: %v", err)
	}
	if reply != `{"return":{"version":"8.2.0"}}` {
		t.Errorf("unexpected reply: %s", reply)
	}
}

func TestAgentAvailable(t *testing.T) {
	mgr, mock := newTestManager(t)
	defineTestInstance(t, mock, domainStateRunning)
	if mgr.AgentAvailable("vm1") {
		t.Error("expected the agent to be unavailable without a handler")
	}
	mock.agentHandler = func(cmd string) (string, error) {
		return `{"return":{}}`, nil
	}
	if !mgr.AgentAvailable("vm1") {
		t.Error("expected the agent to be available")
	}
}

func TestSetPassword(t *testing.T) {
	mgr, mock := newTestManager(t)
	defineTestInstance(t, mock, domainStateRunning)
	if err := mgr.SetPassword("vm1", "alice", "secret", false); err != nil {
		t.Fatalf("SetPassword failed: %v", err)
	}
	if mock.passwords["alice"] != "secret" {
		t.Error("expected the password to reach the guest")
	}
}

func TestSetPasswordRequiresRunning(t *testing.T) {
	mgr, mock := newTestManager(t)
	defineTestInstance(t, mock, domainStateShutoff)
	err := mgr.SetPassword("vm1", "alice", "secret", false)
	var conflictErr *errdefs.StateConflictError
	if !errors.As(err, &conflictErr) {
		t.Fatalf("expected StateConflictError, got %v", err)
	}
}

func TestAddSSHKeysRejectsGarbage(t *testing.T) {
	mgr, mock := newTestManager(t)
	defineTestInstance(t, mock, domainStateRunning)
	err := mgr.AddSSHKeys("vm1", "alice", []string{"not a public key"}, false)
	var validationErr *errdefs.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestAddSSHKeys(t *testing.T) {
	mgr, mock := newTestManager(t)
	defineTestInstance(t, mock, domainStateRunning)
	var gotReset bool
	var gotKeys []string
	mock.agentHandler = func(cmd string) (string, error) {
		req := decodeAgentRequest(t, cmd)
		if req.Execute != "guest-ssh-add-authorized-keys" {
			t.Fatalf("unexpected command: %s", req.Execute)
		}
		var args struct {
			Username string   `json:"username"`
			Keys     []string `json:"keys"`
			Reset    bool     `json:"reset"`
		}
		if err := json.Unmarshal(req.Arguments, &args); err != nil {
			t.Fatalf("malformed arguments: %v", err)
		}
		gotReset = args.Reset
		gotKeys = args.Keys
		return `{"return":{}}`, nil
	}
	if err := mgr.AddSSHKeys("vm1", "alice", []string{testPublicKey}, true); err != nil {
		t.Fatalf("AddSSHKeys failed: %v", err)
	}
	if !gotReset {
		t.Error("expected the reset flag to be passed through")
	}
	if len(gotKeys) != 1 || gotKeys[0] != testPublicKey {
		t.Errorf("unexpected keys: %v", gotKeys)
	}
}

func TestGetSSHKeys(t *testing.T) {
	mgr, mock := newTestManager(t)
	defineTestInstance(t, mock, domainStateRunning)
	mock.agentHandler = func(cmd string) (string, error) {
		return `{"return":{"keys":["` + testPublicKey + `"]}}`, nil
	}
	keys, err := mgr.GetSSHKeys("vm1", "alice")
	if err != nil {
		t.Fatalf("GetSSHKeys failed: %v", err)
	}
	if len(keys) != 1 || keys[0] != testPublicKey {
		t.Errorf("unexpected keys: %v", keys)
	}
}
