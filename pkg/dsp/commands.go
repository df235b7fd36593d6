package dsp

import (
	"context"
	"fmt"

	"symnet/pkg/protocol"
)

// GetParam reads one parameter. protocol.NoValue means the parameter is
// unset on the device.
func (c *Connection) GetParam(ctx context.Context, rcn int) (int, error) {
	if err := ValidateRCN(rcn); err != nil {
		return 0, err
	}
	var task *protocol.ValueTask
	err := c.do(ctx, fmt.Sprintf("GS %d", rcn), func() protocol.Task {
		task = protocol.NewValueTask()
		return task
	}, c.opts.RetryLimit)
	if err != nil {
		return 0, err
	}
	return task.Value(), nil
}

// SetParam writes one parameter without existence checking.
func (c *Connection) SetParam(ctx context.Context, rcn, value int) error {
	if err := ValidateRCN(rcn); err != nil {
		return err
	}
	return c.doAck(ctx, fmt.Sprintf("CSQ %d %d", rcn, value), 1)
}

// SetParamChecked writes one parameter; the device NAKs when the parameter
// does not exist.
func (c *Connection) SetParamChecked(ctx context.Context, rcn, value int) error {
	if err := ValidateRCN(rcn); err != nil {
		return err
	}
	return c.doAck(ctx, fmt.Sprintf("CS %d %d", rcn, value), 1)
}

// ChangeParam adjusts one parameter by a signed relative amount.
func (c *Connection) ChangeParam(ctx context.Context, rcn, amount int) error {
	if err := ValidateRCN(rcn); err != nil {
		return err
	}
	dir := 1
	if amount < 0 {
		dir = 0
		amount = -amount
	}
	return c.doAck(ctx, fmt.Sprintf("CC %d %d %d", rcn, dir, amount), 1)
}

// GetParamBlock reads count consecutive parameters starting at start.
// Parameters the device reports as unset are absent from the result.
func (c *Connection) GetParamBlock(ctx context.Context, start, count int) (map[int]int, error) {
	if err := ValidateRCN(start); err != nil {
		return nil, err
	}
	if count < 1 || start+count-1 > MaxRCN {
		return nil, fmt.Errorf("%w: block %d..%d", ErrInvalidRCN, start, start+count-1)
	}
	var task *protocol.MultiValueTask
	err := c.do(ctx, fmt.Sprintf("GDB %d %d", start, count), func() protocol.Task {
		task = protocol.NewMultiValueTask(start, count)
		return task
	}, c.opts.RetryLimit)
	if err != nil {
		return nil, err
	}
	return task.Values(), nil
}

// GetPreset reports the most recently loaded preset.
func (c *Connection) GetPreset(ctx context.Context) (int, error) {
	var task *protocol.ValueTask
	err := c.do(ctx, "GPR", func() protocol.Task {
		task = protocol.NewValueTask()
		return task
	}, c.opts.RetryLimit)
	if err != nil {
		return 0, err
	}
	return task.Value(), nil
}

// LoadPreset recalls a stored preset.
func (c *Connection) LoadPreset(ctx context.Context, preset int) error {
	return c.doAck(ctx, fmt.Sprintf("LP %d", preset), 1)
}

// Flash blinks the device's front-panel lights count times to identify it.
func (c *Connection) Flash(ctx context.Context, count int) error {
	return c.doAck(ctx, fmt.Sprintf("FU %d", count), c.opts.RetryLimit)
}

// SystemStringAddress is the 5-part coordinate of a system string.
type SystemStringAddress struct {
	Unit     int
	Resource int
	Enum     int
	Card     int
	Channel  int
}

func (a SystemStringAddress) String() string {
	return fmt.Sprintf("%d.%d.%d.%d.%d", a.Unit, a.Resource, a.Enum, a.Card, a.Channel)
}

// SetSystemString writes a system string.
func (c *Connection) SetSystemString(ctx context.Context, addr SystemStringAddress, value string) error {
	return c.doAck(ctx, fmt.Sprintf("SSYSS %s=%s", addr, value), 1)
}

// GetSystemString reads a system string.
func (c *Connection) GetSystemString(ctx context.Context, addr SystemStringAddress) (string, error) {
	var task *protocol.StringTask
	err := c.do(ctx, fmt.Sprintf("GSYSS %s", addr), func() protocol.Task {
		task = protocol.NewStringTask()
		return task
	}, c.opts.RetryLimit)
	if err != nil {
		return "", err
	}
	return task.Value(), nil
}

// GetIP returns the host this client connects to and the IP the device
// reports for itself.
func (c *Connection) GetIP(ctx context.Context) (host, reported string, err error) {
	var task *protocol.StringTask
	err = c.do(ctx, "RI", func() protocol.Task {
		task = protocol.NewStringTask()
		return task
	}, c.opts.RetryLimit)
	if err != nil {
		return "", "", err
	}
	return c.host, task.Value(), nil
}

// GetVersion reports the device's version banner. The result is cached for
// the lifetime of the Connection after the first success; concurrent first
// callers collapse onto a single device query.
func (c *Connection) GetVersion(ctx context.Context) ([]string, error) {
	c.versionMu.Lock()
	defer c.versionMu.Unlock()
	if c.version != nil {
		c.log.Debug("using cached version information")
		return c.version, nil
	}

	var task *protocol.MultiStringTask
	err := c.do(ctx, "$V V", func() protocol.Task {
		task = protocol.NewMultiStringTask()
		return task
	}, c.opts.RetryLimit)
	if err != nil {
		return nil, err
	}

	c.version = task.Values()
	return c.version, nil
}

// Reboot restarts the device.
func (c *Connection) Reboot(ctx context.Context) error {
	return c.doAck(ctx, "R!", 1)
}

// Ping performs a no-op round trip, useful as a keep-alive.
func (c *Connection) Ping(ctx context.Context) error {
	return c.doAck(ctx, "NOP", c.opts.RetryLimit)
}

// doAck runs an ACK/NAK command.
func (c *Connection) doAck(ctx context.Context, msg string, attempts int) error {
	return c.do(ctx, msg, func() protocol.Task {
		return protocol.NewAckTask()
	}, attempts)
}
