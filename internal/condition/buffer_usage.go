package condition

import (
	"fmt"
	"math"

	"github.com/solatis/tracenotify/internal/payload"
	"github.com/solatis/tracenotify/internal/types"
)

// BufferUsage fires when a channel's buffer usage rises above (High) or
// falls below (Low) a threshold given in bytes or as a ratio of capacity.
// The two threshold forms are exclusive; the last one set wins.
type BufferUsage struct {
	base
	kind           Type
	sessionName    *string
	channelName    *string
	domain         types.DomainType
	thresholdBytes *uint64
	thresholdRatio *float64
}

// NewBufferUsageHigh returns an empty high-usage condition.
func NewBufferUsageHigh() *BufferUsage {
	return &BufferUsage{kind: TypeBufferUsageHigh}
}

// NewBufferUsageLow returns an empty low-usage condition.
func NewBufferUsageLow() *BufferUsage {
	return &BufferUsage{kind: TypeBufferUsageLow}
}

func (c *BufferUsage) Type() Type { return c.kind }

func (c *BufferUsage) SetSessionName(name string) error {
	if err := c.mutable(); err != nil {
		return err
	}
	if err := checkSessionName(name); err != nil {
		return err
	}
	c.sessionName = &name
	return nil
}

func (c *BufferUsage) SessionName() (string, error) {
	if c.sessionName == nil {
		return "", types.ErrUnset
	}
	return *c.sessionName, nil
}

func (c *BufferUsage) SetChannelName(name string) error {
	if err := c.mutable(); err != nil {
		return err
	}
	if err := checkChannelName(name); err != nil {
		return err
	}
	c.channelName = &name
	return nil
}

func (c *BufferUsage) ChannelName() (string, error) {
	if c.channelName == nil {
		return "", types.ErrUnset
	}
	return *c.channelName, nil
}

func (c *BufferUsage) SetDomain(d types.DomainType) error {
	if err := c.mutable(); err != nil {
		return err
	}
	if !d.Valid() {
		return fmt.Errorf("%w: domain %d", types.ErrInvalid, d)
	}
	c.domain = d
	return nil
}

func (c *BufferUsage) Domain() (types.DomainType, error) {
	if c.domain == types.DomainNone {
		return types.DomainNone, types.ErrUnset
	}
	return c.domain, nil
}

// SetThresholdBytes sets an absolute threshold and clears any ratio.
func (c *BufferUsage) SetThresholdBytes(n uint64) error {
	if err := c.mutable(); err != nil {
		return err
	}
	c.thresholdBytes, c.thresholdRatio = &n, nil
	return nil
}

func (c *BufferUsage) ThresholdBytes() (uint64, error) {
	if c.thresholdBytes == nil {
		return 0, types.ErrUnset
	}
	return *c.thresholdBytes, nil
}

// SetThresholdRatio sets a threshold in [0, 1] of the buffer capacity and
// clears any byte threshold.
func (c *BufferUsage) SetThresholdRatio(r float64) error {
	if err := c.mutable(); err != nil {
		return err
	}
	if math.IsNaN(r) || r < 0 || r > 1 {
		return fmt.Errorf("%w: threshold ratio %v outside [0, 1]", types.ErrInvalid, r)
	}
	c.thresholdRatio, c.thresholdBytes = &r, nil
	return nil
}

func (c *BufferUsage) ThresholdRatio() (float64, error) {
	if c.thresholdRatio == nil {
		return 0, types.ErrUnset
	}
	return *c.thresholdRatio, nil
}

// Threshold resolves the threshold in bytes for a buffer of the given
// capacity.
func (c *BufferUsage) Threshold(capacity uint64) uint64 {
	if c.thresholdBytes != nil {
		return *c.thresholdBytes
	}
	if c.thresholdRatio != nil {
		return uint64(*c.thresholdRatio * float64(capacity))
	}
	return 0
}

// Reached tests a usage sample against the threshold: at or above it for
// High, at or below it for Low.
func (c *BufferUsage) Reached(highestUsage, capacity uint64) bool {
	threshold := c.Threshold(capacity)
	if c.kind == TypeBufferUsageLow {
		return highestUsage <= threshold
	}
	return highestUsage >= threshold
}

func (c *BufferUsage) validate() error {
	if c.kind != TypeBufferUsageHigh && c.kind != TypeBufferUsageLow {
		return fmt.Errorf("%w: buffer usage condition of type %d", types.ErrInvalid, c.kind)
	}
	if c.sessionName == nil {
		return fmt.Errorf("%w: buffer usage condition has no session name", types.ErrInvalid)
	}
	if err := checkSessionName(*c.sessionName); err != nil {
		return err
	}
	if c.channelName == nil {
		return fmt.Errorf("%w: buffer usage condition has no channel name", types.ErrInvalid)
	}
	if err := checkChannelName(*c.channelName); err != nil {
		return err
	}
	if !c.domain.Valid() {
		return fmt.Errorf("%w: buffer usage condition has no domain", types.ErrInvalid)
	}
	if c.thresholdBytes == nil && c.thresholdRatio == nil {
		return fmt.Errorf("%w: buffer usage condition has no threshold", types.ErrInvalid)
	}
	return nil
}

// {threshold_set_in_bytes u8, threshold 8B, session_name_len u32,
//  channel_name_len u32, domain i8} + session name + channel name
func (c *BufferUsage) serialize(p *payload.Payload) {
	if c.thresholdBytes != nil {
		p.AppendBool(true)
		p.AppendU64(*c.thresholdBytes)
	} else {
		p.AppendBool(false)
		p.AppendF64(*c.thresholdRatio)
	}
	p.AppendU32(payload.StringLen(*c.sessionName))
	p.AppendU32(payload.StringLen(*c.channelName))
	p.AppendI8(int8(c.domain))
	p.AppendString(*c.sessionName)
	p.AppendString(*c.channelName)
}

func readBufferUsage(r *payload.Reader, t Type) *BufferUsage {
	c := &BufferUsage{kind: t}
	inBytes := r.Bool()
	raw := r.U64()
	sessionLen := r.U32()
	channelLen := r.U32()
	domain := types.DomainType(r.I8())
	session := r.String(sessionLen, "session name")
	channel := r.String(channelLen, "channel name")
	if r.Err() != nil {
		return nil
	}

	if err := checkSessionName(session); err != nil {
		r.Fail("buffer usage: %v", err)
		return nil
	}
	if err := checkChannelName(channel); err != nil {
		r.Fail("buffer usage: %v", err)
		return nil
	}
	if !domain.Valid() {
		r.Fail("buffer usage domain %d", domain)
		return nil
	}
	if inBytes {
		c.thresholdBytes = &raw
	} else {
		ratio := math.Float64frombits(raw)
		if math.IsNaN(ratio) || ratio < 0 || ratio > 1 {
			r.Fail("buffer usage ratio %v outside [0, 1]", ratio)
			return nil
		}
		c.thresholdRatio = &ratio
	}
	c.sessionName, c.channelName, c.domain = &session, &channel, domain
	return c
}

func (c *BufferUsage) equal(o *BufferUsage) bool {
	return c.kind == o.kind &&
		equalOptional(c.sessionName, o.sessionName) &&
		equalOptional(c.channelName, o.channelName) &&
		c.domain == o.domain &&
		equalOptional(c.thresholdBytes, o.thresholdBytes) &&
		equalOptional(c.thresholdRatio, o.thresholdRatio)
}
