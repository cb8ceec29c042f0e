package shmem

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/marktsuchida/partaked/wire"
)

// mmapFileSegment backs a Segment with a regular file, sized with ftruncate
// and mapped with mmap, grounded on create_file_mmap_shmem in
// daemon/shmem_mmap.cpp.
type mmapFileSegment struct {
	path string
	size uint64
	data []byte
	file *os.File
}

func createMmapFileSegment(cfg Config) (Segment, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("shmem: mmap file segment requires a path")
	}

	flags := os.O_RDWR | os.O_CREATE
	if cfg.Force {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_EXCL
	}

	f, err := os.OpenFile(cfg.Path, flags, 0o600)
	if err != nil {
		return nil, fmt.Errorf("shmem: opening backing file %s: %w", cfg.Path, err)
	}

	if err := unix.Ftruncate(int(f.Fd()), int64(cfg.Size)); err != nil {
		f.Close()
		return nil, fmt.Errorf("shmem: truncating backing file %s to %d bytes: %w", cfg.Path, cfg.Size, err)
	}

	var data []byte
	if cfg.Size > 0 {
		data, err = unix.Mmap(int(f.Fd()), 0, int(cfg.Size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("shmem: mmapping backing file %s: %w", cfg.Path, err)
		}
	}

	return &mmapFileSegment{path: cfg.Path, size: cfg.Size, data: data, file: f}, nil
}

func (s *mmapFileSegment) Size() uint64 { return s.size }

func (s *mmapFileSegment) Spec() wire.SegmentSpec {
	return wire.SegmentSpec{
		Mechanism:    wire.MechanismMmapFile,
		MmapFilePath: s.path,
	}
}

func (s *mmapFileSegment) Close() error {
	var errs []error
	if s.data != nil {
		if err := unix.Munmap(s.data); err != nil {
			errs = append(errs, err)
		}
		s.data = nil
	}
	if err := s.file.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("shmem: closing mmap file segment %s: %v", s.path, errs)
	}
	return nil
}
