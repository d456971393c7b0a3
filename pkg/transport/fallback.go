package transport

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"router-fleet/pkg/creds"
	"router-fleet/pkg/model"
)

// maxCommandOutput caps what the command channel will read from a device.
const maxCommandOutput = 64 * 1024

// commandTemplate is one whitelisted, parameterized device command. Parameters
// are validated against their patterns before rendering; there is no free-form
// interpolation path.
type commandTemplate struct {
	ID       string
	Template string // {param} placeholders
	Params   map[string]*regexp.Regexp
}

var commandCatalog = map[string]commandTemplate{
	OpGetState: {
		ID:       OpGetState,
		Template: "show system status",
	},
	"get_interface": {
		ID:       "get_interface",
		Template: "show interface {name}",
		Params: map[string]*regexp.Regexp{
			"name": regexp.MustCompile(`^[A-Za-z0-9/.:-]{1,32}$`),
		},
	},
}

// render validates args against the template and substitutes placeholders.
func (t commandTemplate) render(args map[string]string) (string, error) {
	cmd := t.Template
	for name, pattern := range t.Params {
		val, ok := args[name]
		if !ok {
			return "", fmt.Errorf("command %s: missing parameter %s", t.ID, name)
		}
		if !pattern.MatchString(val) {
			return "", fmt.Errorf("command %s: parameter %s rejected by pattern", t.ID, name)
		}
		cmd = strings.ReplaceAll(cmd, "{"+name+"}", val)
	}
	if names := missingPlaceholders(cmd); len(names) > 0 {
		return "", fmt.Errorf("command %s: unresolved placeholder %s", t.ID, names[0])
	}
	return cmd, nil
}

var placeholderRe = regexp.MustCompile(`\{([a-z]+)\}`)

func missingPlaceholders(cmd string) []string {
	var out []string
	for _, m := range placeholderRe.FindAllStringSubmatch(cmd, -1) {
		out = append(out, m[1])
	}
	return out
}

// CommandRunner executes one rendered command on a device and returns its raw
// output. The SSH implementation is the production runner; tests substitute
// their own.
type CommandRunner interface {
	Run(ctx context.Context, device model.Device, secret creds.Secret, command string) (string, error)
}

// CommandChannel is the fallback channel: whitelisted commands over the
// device's CLI transport, parsed into the same canonical state the primary
// channel produces.
type CommandChannel struct {
	runner  CommandRunner
	creds   creds.Store
	timeout time.Duration
}

// NewCommandChannel builds the fallback channel with a bounded execution time.
func NewCommandChannel(runner CommandRunner, cs creds.Store, timeout time.Duration) *CommandChannel {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &CommandChannel{runner: runner, creds: cs, timeout: timeout}
}

func (c *CommandChannel) Name() string { return string(model.ChannelFallback) }

// Execute refuses mutations outright and serves whitelisted reads.
func (c *CommandChannel) Execute(ctx context.Context, device model.Device, op Operation) (Result, error) {
	if op.Kind != OpRead {
		return Result{}, newError(KindUnsupported, c.Name(), op.Name, fmt.Errorf("command channel is read-only"))
	}
	tmpl, ok := commandCatalog[op.Name]
	if !ok {
		return Result{}, newError(KindUnsupported, c.Name(), op.Name, fmt.Errorf("operation not whitelisted"))
	}
	cmd, err := tmpl.render(op.Args)
	if err != nil {
		return Result{}, newError(KindValidation, c.Name(), op.Name, err)
	}
	secret, err := c.creds.Decrypt(device.CredentialRef)
	if err != nil {
		return Result{}, newError(KindAuth, c.Name(), op.Name, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	out, err := c.runner.Run(ctx, device, secret, cmd)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, newError(KindTimeout, c.Name(), op.Name, err)
		}
		return Result{}, newError(KindConnection, c.Name(), op.Name, err)
	}
	if len(out) > maxCommandOutput {
		out = out[:maxCommandOutput]
	}

	state, err := parseSystemStatus(device.ID, out)
	if err != nil {
		return Result{}, newError(KindServer, c.Name(), op.Name, err)
	}
	return Result{State: state, Channel: model.ChannelFallback}, nil
}

var (
	hostnameRe = regexp.MustCompile(`(?m)^Hostname:\s*(\S+)`)
	dnsRe      = regexp.MustCompile(`(?m)^DNS Servers:\s*(.+)$`)
	ntpRe      = regexp.MustCompile(`(?m)^NTP Servers:\s*(.+)$`)
	syslogRe   = regexp.MustCompile(`(?m)^Syslog Host:\s*(\S+)`)
)

// parseSystemStatus turns `show system status` output into canonical state.
func parseSystemStatus(deviceID, out string) (*model.DeviceState, error) {
	m := hostnameRe.FindStringSubmatch(out)
	if m == nil {
		return nil, fmt.Errorf("unparseable system status output")
	}
	state := &model.DeviceState{
		DeviceID:    deviceID,
		Hostname:    m[1],
		CollectedAt: time.Now(),
	}
	if m := dnsRe.FindStringSubmatch(out); m != nil {
		state.DNSServers = splitList(m[1])
	}
	if m := ntpRe.FindStringSubmatch(out); m != nil {
		state.NTPServers = splitList(m[1])
	}
	if m := syslogRe.FindStringSubmatch(out); m != nil && m[1] != "-" {
		state.SyslogHost = m[1]
	}
	return state, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if v := strings.TrimSpace(part); v != "" && v != "-" {
			out = append(out, v)
		}
	}
	return out
}
