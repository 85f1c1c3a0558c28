package playbook

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/r3e-network/cyberrange/internal/errs"
)

// SSHExecutor runs bash script bodies over SSH against Unix-family targets,
// grounded on the teacher's golang.org/x/crypto/ssh dependency — previously
// used for signer/wallet key material, repurposed here for remote command
// execution, since both are "authenticate then exchange bytes over a
// transport" problems the same library already solves.
type SSHExecutor struct {
	DialTimeout time.Duration
}

// NewSSHExecutor builds an SSHExecutor with sane dial defaults.
func NewSSHExecutor() *SSHExecutor {
	return &SSHExecutor{DialTimeout: 10 * time.Second}
}

// Run opens an authenticated session to target and executes body, returning
// its captured stdout, stderr, and exit code.
func (e *SSHExecutor) Run(ctx context.Context, target Target, cred Credential, body string) (ScriptResult, error) {
	authMethods, err := authMethodsFor(cred)
	if err != nil {
		return ScriptResult{}, err
	}

	cfg := &ssh.ClientConfig{
		User:            cred.Username,
		Auth:            authMethods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // trust established out of band via the secret oracle's credential scoping
		Timeout:         e.DialTimeout,
	}

	port := target.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(target.Host, fmt.Sprintf("%d", port))

	dialer := &net.Dialer{Timeout: e.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return ScriptResult{}, errs.Wrap(errs.BackendUnreachable, "dial ssh target "+addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return ScriptResult{}, errs.Wrap(errs.AuthFailed, "ssh handshake with "+addr, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return ScriptResult{}, errs.Wrap(errs.AuthFailed, "open ssh session", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(body) }()

	select {
	case <-ctx.Done():
		session.Signal(ssh.SIGKILL)
		return ScriptResult{}, errs.Wrap(errs.Timeout, "ssh command deadline exceeded", ctx.Err())
	case runErr := <-done:
		result := ScriptResult{Stdout: stdout.String(), Stderr: stderr.String()}
		if runErr == nil {
			return result, nil
		}
		if exitErr, ok := runErr.(*ssh.ExitError); ok {
			result.ExitCode = exitErr.ExitStatus()
			return result, nil
		}
		return result, errs.Wrap(errs.Internal, "ssh command failed", runErr)
	}
}

func authMethodsFor(cred Credential) ([]ssh.AuthMethod, error) {
	if len(cred.KeyPEM) > 0 {
		signer, err := ssh.ParsePrivateKey(cred.KeyPEM)
		if err != nil {
			return nil, errs.Wrap(errs.AuthFailed, "parse ssh private key", err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}
	if cred.Password != "" {
		return []ssh.AuthMethod{ssh.Password(cred.Password)}, nil
	}
	return nil, errs.New(errs.AuthFailed, "credential has neither a private key nor a password")
}
