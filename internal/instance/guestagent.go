package instance

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/digitalocean/go-libvirt"

	"github.com/gechandesu/compute/internal/errdefs"
)

const (
	// agentCommandTimeout bounds one synchronous agent command, in
	// seconds, as passed to the agent channel.
	agentCommandTimeout int32 = 60

	// DefaultExecTimeout bounds a whole guest-exec run.
	DefaultExecTimeout = 60 * time.Second

	execPollInterval = 300 * time.Millisecond
)

// AgentCommand sends one raw guest agent command and returns the raw
// JSON reply.
//
// See https://qemu-project.gitlab.io/qemu/interop/qemu-ga-ref.html
func (m *Manager) AgentCommand(name, command string) (string, error) {
	dom, err := m.lookup(name)
	if err != nil {
		return "", err
	}
	state, err := m.state(name, dom)
	if err != nil {
		return "", err
	}
	if err := requireState(name, "run agent command", state, StateRunning); err != nil {
		return "", err
	}
	return m.agentCommand(name, dom, command)
}

func (m *Manager) agentCommand(name string, dom libvirt.Domain, command string) (string, error) {
	result, err := m.client.QEMUDomainAgentCommand(dom, command, agentCommandTimeout, 0)
	if err != nil {
		return "", &errdefs.AgentError{Instance: name, Err: err}
	}
	if len(result) == 0 {
		return "", nil
	}
	return result[0], nil
}

// AgentAvailable reports whether the guest agent answers guest-ping.
func (m *Manager) AgentAvailable(name string) bool {
	dom, err := m.lookup(name)
	if err != nil {
		return false
	}
	_, err = m.agentCommand(name, dom, `{"execute":"guest-ping"}`)
	return err == nil
}

// ExecOptions describe one command run inside the guest.
type ExecOptions struct {
	Path  string   // executable path in the guest
	Args  []string // arguments, not including the path
	Env   []string // extra environment, "KEY=value" form
	Stdin []byte
	// Timeout bounds the whole run; DefaultExecTimeout when zero.
	Timeout time.Duration
}

// ExecResult is the outcome of a finished guest command.
type ExecResult struct {
	PID      int64
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

type agentExecStatus struct {
	Exited   bool   `json:"exited"`
	ExitCode int    `json:"exitcode"`
	OutData  string `json:"out-data"`
	ErrData  string `json:"err-data"`
}

// Exec runs a command inside the guest through the agent: guest-exec,
// then guest-exec-status polled until the command exits or the timeout
// passes. On timeout the guest process keeps running; the returned
// AgentTimeoutError carries its PID.
func (m *Manager) Exec(name string, opts ExecOptions) (*ExecResult, error) {
	if opts.Path == "" {
		return nil, &errdefs.ValidationError{Field: "path", Reason: "executable path is required"}
	}
	dom, err := m.lookup(name)
	if err != nil {
		return nil, err
	}
	state, err := m.state(name, dom)
	if err != nil {
		return nil, err
	}
	if err := requireState(name, "exec", state, StateRunning); err != nil {
		return nil, err
	}
	if _, err := m.agentCommand(name, dom, `{"execute":"guest-ping"}`); err != nil {
		return nil, &errdefs.AgentUnavailableError{Instance: name}
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultExecTimeout
	}

	args := map[string]any{
		"path":           opts.Path,
		"capture-output": true,
	}
	if len(opts.Args) > 0 {
		args["arg"] = opts.Args
	}
	if len(opts.Env) > 0 {
		args["env"] = opts.Env
	}
	if len(opts.Stdin) > 0 {
		args["input-data"] = base64.StdEncoding.EncodeToString(opts.Stdin)
	}
	execReply, err := m.agentJSON(name, dom, "guest-exec", args)
	if err != nil {
		return nil, err
	}
	var execReturn struct {
		PID int64 `json:"pid"`
	}
	if err := json.Unmarshal(execReply, &execReturn); err != nil {
		return nil, &errdefs.AgentError{Instance: name, Err: fmt.Errorf("malformed guest-exec reply: %w", err)}
	}

	deadline := time.Now().Add(timeout)
	for {
		statusReply, err := m.agentJSON(name, dom, "guest-exec-status", map[string]any{"pid": execReturn.PID})
		if err != nil {
			return nil, err
		}
		var status agentExecStatus
		if err := json.Unmarshal(statusReply, &status); err != nil {
			return nil, &errdefs.AgentError{Instance: name, Err: fmt.Errorf("malformed guest-exec-status reply: %w", err)}
		}
		if status.Exited {
			stdout, err := base64.StdEncoding.DecodeString(status.OutData)
			if err != nil {
				return nil, &errdefs.AgentError{Instance: name, Err: fmt.Errorf("malformed out-data: %w", err)}
			}
			stderr, err := base64.StdEncoding.DecodeString(status.ErrData)
			if err != nil {
				return nil, &errdefs.AgentError{Instance: name, Err: fmt.Errorf("malformed err-data: %w", err)}
			}
			return &ExecResult{
				PID:      execReturn.PID,
				ExitCode: status.ExitCode,
				Stdout:   stdout,
				Stderr:   stderr,
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, &errdefs.AgentTimeoutError{
				Instance: name,
				Timeout:  timeout,
				PID:      execReturn.PID,
			}
		}
		time.Sleep(execPollInterval)
	}
}

// agentJSON sends one agent command and returns the "return" member of
// the reply.
func (m *Manager) agentJSON(name string, dom libvirt.Domain, execute string, arguments map[string]any) (json.RawMessage, error) {
	payload, err := json.Marshal(map[string]any{
		"execute":   execute,
		"arguments": arguments,
	})
	if err != nil {
		return nil, err
	}
	raw, err := m.agentCommand(name, dom, string(payload))
	if err != nil {
		return nil, err
	}
	var reply struct {
		Return json.RawMessage `json:"return"`
	}
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return nil, &errdefs.AgentError{Instance: name, Err: fmt.Errorf("malformed %s reply: %w", execute, err)}
	}
	return reply.Return, nil
}

// SetPassword sets a user password inside the guest through the agent.
// When encrypted is set the password is passed to the guest as an
// already-hashed value.
func (m *Manager) SetPassword(name, user, password string, encrypted bool) error {
	dom, err := m.lookup(name)
	if err != nil {
		return err
	}
	state, err := m.state(name, dom)
	if err != nil {
		return err
	}
	if err := requireState(name, "set password", state, StateRunning); err != nil {
		return err
	}
	var flags libvirt.DomainSetUserPasswordFlags
	if encrypted {
		flags = libvirt.DomainPasswordEncrypted
	}
	if err := m.client.DomainSetUserPassword(dom, []string{user}, []string{password}, flags); err != nil {
		return &errdefs.AgentError{Instance: name, Err: err}
	}
	return nil
}

// AddSSHKeys appends public keys to a guest user's authorized keys via
// the agent. With reset set the keys replace the existing set instead.
func (m *Manager) AddSSHKeys(name, user string, keys []string, reset bool) error {
	if err := validateSSHKeys(keys); err != nil {
		return err
	}
	dom, err := m.lookup(name)
	if err != nil {
		return err
	}
	state, err := m.state(name, dom)
	if err != nil {
		return err
	}
	if err := requireState(name, "add ssh keys", state, StateRunning); err != nil {
		return err
	}
	_, err = m.agentJSON(name, dom, "guest-ssh-add-authorized-keys", map[string]any{
		"username": user,
		"keys":     keys,
		"reset":    reset,
	})
	return err
}

// RemoveSSHKeys removes public keys from a guest user's authorized keys
// via the agent. Keys not present are ignored by the agent.
func (m *Manager) RemoveSSHKeys(name, user string, keys []string) error {
	if err := validateSSHKeys(keys); err != nil {
		return err
	}
	dom, err := m.lookup(name)
	if err != nil {
		return err
	}
	state, err := m.state(name, dom)
	if err != nil {
		return err
	}
	if err := requireState(name, "remove ssh keys", state, StateRunning); err != nil {
		return err
	}
	_, err = m.agentJSON(name, dom, "guest-ssh-remove-authorized-keys", map[string]any{
		"username": user,
		"keys":     keys,
	})
	return err
}

// GetSSHKeys lists a guest user's authorized keys via the agent.
func (m *Manager) GetSSHKeys(name, user string) ([]string, error) {
	dom, err := m.lookup(name)
	if err != nil {
		return nil, err
	}
	state, err := m.state(name, dom)
	if err != nil {
		return nil, err
	}
	if err := requireState(name, "get ssh keys", state, StateRunning); err != nil {
		return nil, err
	}
	reply, err := m.agentJSON(name, dom, "guest-ssh-get-authorized-keys", map[string]any{
		"username": user,
	})
	if err != nil {
		return nil, err
	}
	var keys struct {
		Keys []string `json:"keys"`
	}
	if err := json.Unmarshal(reply, &keys); err != nil {
		return nil, &errdefs.AgentError{Instance: name, Err: fmt.Errorf("malformed keys reply: %w", err)}
	}
	return keys.Keys, nil
}

func validateSSHKeys(keys []string) error {
	if len(keys) == 0 {
		return &errdefs.ValidationError{Field: "keys", Reason: "at least one key is required"}
	}
	for _, key := range keys {
		if _, _, _, _, err := ssh.ParseAuthorizedKey([]byte(key)); err != nil {
			return &errdefs.ValidationError{
				Field:  "keys",
				Reason: fmt.Sprintf("not a valid public key %q: %v", key, err),
			}
		}
	}
	return nil
}
