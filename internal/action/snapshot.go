package action

import (
	"fmt"
	"math"

	"github.com/solatis/tracenotify/internal/payload"
	"github.com/solatis/tracenotify/internal/types"
)

// UnsetMaxSize marks a snapshot output without a size limit.
const UnsetMaxSize uint64 = math.MaxUint64

// SnapshotOutput overrides where a snapshot is written. CtrlURL is
// mandatory; when it is the only URL it carries both control and data
// (net://, net6:// or file://).
type SnapshotOutput struct {
	MaxSize uint64
	Name    string
	CtrlURL string
	DataURL string
}

// Validate checks the URL and name limits.
func (o *SnapshotOutput) Validate() error {
	if o.CtrlURL == "" {
		return fmt.Errorf("%w: snapshot output has no control URL", types.ErrInvalid)
	}
	if len(o.CtrlURL) >= types.PathMax || len(o.DataURL) >= types.PathMax {
		return fmt.Errorf("%w: snapshot output URL exceeds %d bytes", types.ErrInvalid, types.PathMax)
	}
	if len(o.Name) >= types.NameMax {
		return fmt.Errorf("%w: snapshot output name exceeds %d bytes", types.ErrInvalid, types.NameMax)
	}
	return nil
}

// {max_size u64, name_len u32, ctrl_url_len u32, data_url_len u32}
// + name + ctrl url + data url; empty name and data url are absent.
func (o *SnapshotOutput) serialize(p *payload.Payload) {
	name, data := optional(o.Name), optional(o.DataURL)
	p.AppendU64(o.MaxSize)
	p.AppendU32(payload.OptionalStringLen(name))
	p.AppendU32(payload.StringLen(o.CtrlURL))
	p.AppendU32(payload.OptionalStringLen(data))
	p.AppendOptionalString(name)
	p.AppendString(o.CtrlURL)
	p.AppendOptionalString(data)
}

func readOutput(r *payload.Reader) *SnapshotOutput {
	maxSize := r.U64()
	nameLen := r.U32()
	ctrlLen := r.U32()
	dataLen := r.U32()
	name := r.OptionalString(nameLen, "snapshot output name")
	ctrl := r.String(ctrlLen, "snapshot control URL")
	data := r.OptionalString(dataLen, "snapshot data URL")
	if r.Err() != nil {
		return nil
	}
	o := &SnapshotOutput{MaxSize: maxSize, CtrlURL: ctrl}
	if name != nil {
		o.Name = *name
	}
	if data != nil {
		o.DataURL = *data
	}
	return o
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func equalOutput(a, b *SnapshotOutput) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
