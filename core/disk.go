package core

import (
	"fmt"
	"os"

	"github.com/Riffe007/nanocore/interrupts"
)

// SectorSize is the disk transfer granularity in bytes.
const SectorSize = 512

// Disk register offsets within its device page.
const (
	DiskCmd    = 0x00 // write only: 1 read, 2 write
	DiskStatus = 0x08 // bit 0 ready, bit 1 error
	DiskSector = 0x10 // first sector of the transfer
	DiskAddr   = 0x18 // physical memory address for DMA
	DiskCount  = 0x20 // transfer length in sectors
)

// Disk commands.
const (
	DiskCmdRead  = 1
	DiskCmdWrite = 2
)

// Disk status bits.
const (
	DiskReady = 1 << 0
	DiskError = 1 << 1
)

// Disk is a DMA block device over an in-memory image. Commands
// complete immediately and raise INTDisk; writes change the image
// copy, not the backing file.
type Disk struct {
	phys   *Memory
	ic     *InterruptController
	caches *Hierarchy

	image []byte

	status uint64
	sector uint64
	addr   uint64
	count  uint64
}

func NewDisk(phys *Memory, ic *InterruptController, caches *Hierarchy) *Disk {
	return &Disk{phys: phys, ic: ic, caches: caches}
}

// Name implements MMIOHandler.
func (d *Disk) Name() string { return "disk" }

// Attach loads a disk image file.
func (d *Disk) Attach(path string) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	d.AttachImage(buf)
	return nil
}

// AttachImage installs an image directly. Short images are padded to
// a whole sector.
func (d *Disk) AttachImage(img []byte) {
	if r := len(img) % SectorSize; r != 0 {
		img = append(img, make([]byte, SectorSize-r)...)
	}
	d.image = img
	d.status = DiskReady
}

// Image returns the current image contents.
func (d *Disk) Image() []byte { return d.image }

// MMIORead implements MMIOHandler.
func (d *Disk) MMIORead(off uint64, size int) uint64 {
	switch off {
	case DiskStatus:
		return d.status
	case DiskSector:
		return d.sector
	case DiskAddr:
		return d.addr
	case DiskCount:
		return d.count
	}
	return 0
}

// MMIOWrite implements MMIOHandler.
func (d *Disk) MMIOWrite(off uint64, size int, v uint64) {
	switch off {
	case DiskCmd:
		d.run(v)
	case DiskSector:
		d.sector = v
	case DiskAddr:
		d.addr = v
	case DiskCount:
		d.count = v
	}
}

func (d *Disk) run(cmd uint64) {
	if err := d.transfer(cmd); err != nil {
		d.status |= DiskError
	} else {
		d.status &^= DiskError
	}
	d.ic.Raise(interrupts.INTDisk)
}

func (d *Disk) transfer(cmd uint64) error {
	if d.image == nil {
		return fmt.Errorf("disk: no image attached")
	}
	bytes := d.count * SectorSize
	imgOff := d.sector * SectorSize
	if imgOff+bytes > uint64(len(d.image)) {
		return fmt.Errorf("disk: sector range %d+%d beyond image", d.sector, d.count)
	}
	if d.addr+bytes > d.phys.Size() {
		return fmt.Errorf("disk: dma range %#x+%d beyond memory", d.addr, bytes)
	}
	if d.caches != nil {
		// dirty lines must land before a write command reads memory,
		// and stale lines must not shadow a read command's data
		d.caches.SyncRange(d.addr, bytes)
	}
	switch cmd {
	case DiskCmdRead:
		d.phys.Write(d.addr, d.image[imgOff:imgOff+bytes])
	case DiskCmdWrite:
		copy(d.image[imgOff:imgOff+bytes], d.phys.Read(d.addr, int(bytes)))
	default:
		return fmt.Errorf("disk: unknown command %d", cmd)
	}
	return nil
}

// Reset clears the transfer registers. The image stays attached.
func (d *Disk) Reset() {
	d.sector, d.addr, d.count = 0, 0, 0
	d.status &= DiskReady
}
