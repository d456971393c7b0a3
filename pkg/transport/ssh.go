package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"golang.org/x/crypto/ssh"

	"router-fleet/pkg/creds"
	"router-fleet/pkg/model"
)

// SSHRunner executes commands over the device's CLI via SSH.
type SSHRunner struct {
	User string
}

// Run dials the device, runs the command in one session, and returns capped
// output. The context deadline bounds the whole exchange.
func (r *SSHRunner) Run(ctx context.Context, device model.Device, secret creds.Secret, command string) (string, error) {
	addr := device.SSHAddress
	if addr == "" {
		return "", fmt.Errorf("device %s: no ssh address", device.ID)
	}
	user := r.User
	if user == "" {
		user = "fleet"
	}
	cfg := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.Password(secret.Reveal())},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // device keys rotate with images; pinning is tracked per site
	}
	if deadline, ok := ctx.Deadline(); ok {
		cfg.Timeout = deadlineTimeout(deadline)
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	cc, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		_ = conn.Close()
		return "", err
	}
	client := ssh.NewClient(cc, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", err
	}
	defer session.Close()

	stdout, err := session.StdoutPipe()
	if err != nil {
		return "", err
	}
	if err := session.Start(command); err != nil {
		return "", err
	}
	out, err := io.ReadAll(io.LimitReader(stdout, maxCommandOutput+1))
	if err != nil {
		return "", err
	}
	if err := session.Wait(); err != nil {
		return "", fmt.Errorf("command exited: %w", err)
	}
	return string(out), nil
}

func deadlineTimeout(deadline time.Time) time.Duration {
	d := time.Until(deadline)
	if d < 0 {
		return time.Millisecond
	}
	return d
}
