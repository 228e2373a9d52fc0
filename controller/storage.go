package controller

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"sync"

	"github.com/ardnew/duckbridge/packet"
	"github.com/ardnew/duckbridge/pkg"
)

// BlockSize is the size of one storage block. It equals the packet payload
// so one exchange moves exactly one block.
const BlockSize = packet.PayloadSize

// Storage defines the interface for block storage backends.
// Block lba lives at byte offset lba*BlockSize.
type Storage interface {
	// ReadBlock fills buf[:BlockSize] with block lba.
	// Bytes beyond the end of the backing image read as zero.
	ReadBlock(lba uint32, buf []byte) error

	// WriteBlock stores buf[:BlockSize] as block lba, extending the
	// backing image if needed.
	WriteBlock(lba uint32, buf []byte) error

	// Available reports whether a backing image is mounted. Unavailable
	// storage reads zero blocks and drops writes.
	Available() bool

	// Sync flushes any cached writes to storage.
	Sync() error

	// Close releases the backing image.
	Close() error
}

// FileStorage implements Storage using a file.
type FileStorage struct {
	file  *os.File
	path  string
	mutex sync.RWMutex
}

// OpenFileStorage opens the image at path for reading and writing.
// A missing file is not an error: the returned storage is unavailable.
func OpenFileStorage(path string) (*FileStorage, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if errors.Is(err, fs.ErrNotExist) {
		pkg.LogInfo(pkg.ComponentStorage, "image not found, storage unavailable", "path", path)
		return &FileStorage{path: path}, nil
	}
	if err != nil {
		return nil, err
	}
	pkg.LogDebug(pkg.ComponentStorage, "image opened", "path", path)
	return &FileStorage{file: file, path: path}, nil
}

// NoStorage returns storage with no backing image.
func NoStorage() *FileStorage {
	return &FileStorage{}
}

// Path returns the image path.
func (f *FileStorage) Path() string {
	return f.path
}

// Available reports whether the image file is open.
func (f *FileStorage) Available() bool {
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	return f.file != nil
}

// BlockCount returns the number of whole blocks in the image.
func (f *FileStorage) BlockCount() uint64 {
	f.mutex.RLock()
	defer f.mutex.RUnlock()

	if f.file == nil {
		return 0
	}
	stat, err := f.file.Stat()
	if err != nil {
		return 0
	}
	return uint64(stat.Size()) / BlockSize
}

// ReadBlock reads block lba from the file.
func (f *FileStorage) ReadBlock(lba uint32, buf []byte) error {
	if len(buf) < BlockSize {
		return pkg.ErrBufferTooSmall
	}
	buf = buf[:BlockSize]

	f.mutex.RLock()
	defer f.mutex.RUnlock()

	if f.file == nil {
		clear(buf)
		return nil
	}

	n, err := f.file.ReadAt(buf, int64(lba)*BlockSize)
	clear(buf[n:])
	if err != nil && err != io.EOF {
		return err
	}
	return nil
}

// WriteBlock writes block lba to the file.
func (f *FileStorage) WriteBlock(lba uint32, buf []byte) error {
	if len(buf) < BlockSize {
		return pkg.ErrBufferTooSmall
	}

	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.file == nil {
		pkg.LogDebug(pkg.ComponentStorage, "write dropped, storage unavailable", "lba", lba)
		return nil
	}

	_, err := f.file.WriteAt(buf[:BlockSize], int64(lba)*BlockSize)
	return err
}

// Sync flushes file writes to disk.
func (f *FileStorage) Sync() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.file == nil {
		return nil
	}
	return f.file.Sync()
}

// Close closes the underlying file.
func (f *FileStorage) Close() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.file != nil {
		err := f.file.Close()
		f.file = nil
		return err
	}
	return nil
}

// MemoryStorage implements Storage using an in-memory buffer that grows
// on write.
type MemoryStorage struct {
	data   []byte
	absent bool
	reads  int
	writes int
	mutex  sync.RWMutex
}

// NewMemoryStorage creates in-memory storage holding a copy of image.
func NewMemoryStorage(image []byte) *MemoryStorage {
	return &MemoryStorage{data: append([]byte(nil), image...)}
}

// Available reports whether media is present.
func (m *MemoryStorage) Available() bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return !m.absent
}

// SetAvailable sets the media presence flag.
func (m *MemoryStorage) SetAvailable(available bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.absent = !available
}

// ReadBlock copies block lba into buf.
func (m *MemoryStorage) ReadBlock(lba uint32, buf []byte) error {
	if len(buf) < BlockSize {
		return pkg.ErrBufferTooSmall
	}
	buf = buf[:BlockSize]

	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.reads++
	clear(buf)
	if m.absent {
		return nil
	}
	offset := uint64(lba) * BlockSize
	if offset < uint64(len(m.data)) {
		copy(buf, m.data[offset:])
	}
	return nil
}

// WriteBlock copies buf into block lba.
func (m *MemoryStorage) WriteBlock(lba uint32, buf []byte) error {
	if len(buf) < BlockSize {
		return pkg.ErrBufferTooSmall
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.writes++
	if m.absent {
		return nil
	}
	end := (uint64(lba) + 1) * BlockSize
	if end > uint64(len(m.data)) {
		m.data = append(m.data, make([]byte, end-uint64(len(m.data)))...)
	}
	copy(m.data[end-BlockSize:end], buf)
	return nil
}

// Bytes returns a copy of the image contents.
func (m *MemoryStorage) Bytes() []byte {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return append([]byte(nil), m.data...)
}

// Stats returns the number of block reads and writes served.
func (m *MemoryStorage) Stats() (reads, writes int) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.reads, m.writes
}

// Sync is a no-op for memory storage.
func (m *MemoryStorage) Sync() error {
	return nil
}

// Close is a no-op for memory storage.
func (m *MemoryStorage) Close() error {
	return nil
}
