package satellite

import (
	"context"
	"io"
	"math"
	"os"
)

// Disk presents the bridge as a block device to a USB mass-storage class
// driver. Capacity is fixed at construction; the controller's image is
// never queried for its size.
//
// The class driver's method set carries no context, so every Read and
// Write runs under the context given to NewDisk. Cancelling it aborts the
// block exchange in progress.
type Disk struct {
	ctx    context.Context
	bridge *Bridge
	blocks uint64
}

// NewDisk creates a disk of the given number of blocks whose transfers
// are bound to ctx.
func NewDisk(ctx context.Context, b *Bridge, blocks uint64) *Disk {
	return &Disk{ctx: ctx, bridge: b, blocks: blocks}
}

// BlockSize returns the block size.
func (d *Disk) BlockSize() uint32 {
	return BlockSize
}

// BlockCount returns the number of blocks.
func (d *Disk) BlockCount() uint64 {
	return d.blocks
}

// Read reads blocks through the bridge.
func (d *Disk) Read(lba uint64, blocks uint32, buf []byte) (uint32, error) {
	length, err := d.check(lba, blocks, buf)
	if err != nil {
		return 0, err
	}
	n, err := d.bridge.OnBlockRead(d.ctx, uint32(lba), buf[:length])
	return uint32(n / BlockSize), err
}

// Write writes blocks through the bridge.
func (d *Disk) Write(lba uint64, blocks uint32, buf []byte) (uint32, error) {
	length, err := d.check(lba, blocks, buf)
	if err != nil {
		return 0, err
	}
	n, err := d.bridge.OnBlockWrite(d.ctx, uint32(lba), buf[:length])
	return uint32(n / BlockSize), err
}

func (d *Disk) check(lba uint64, blocks uint32, buf []byte) (int, error) {
	if lba+uint64(blocks) > d.blocks || lba+uint64(blocks) > math.MaxUint32 {
		return 0, io.EOF
	}
	length := int(blocks) * BlockSize
	if len(buf) < length {
		return 0, io.ErrShortBuffer
	}
	return length, nil
}

// Sync is a no-op; writes are forwarded as they arrive.
func (d *Disk) Sync() error {
	return nil
}

// IsReadOnly returns false.
func (d *Disk) IsReadOnly() bool {
	return false
}

// IsRemovable returns false.
func (d *Disk) IsRemovable() bool {
	return false
}

// IsPresent returns true.
func (d *Disk) IsPresent() bool {
	return true
}

// Eject is not supported.
func (d *Disk) Eject() error {
	return os.ErrPermission
}
