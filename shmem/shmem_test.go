package shmem_test

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/marktsuchida/partaked/shmem"
	"github.com/marktsuchida/partaked/wire"
)

func TestShmem(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "shmem")
}

var _ = Describe("Create", func() {
	It("creates and closes an mmap-file segment", func() {
		dir, err := os.MkdirTemp("", "partaked-shmem-test")
		Expect(err).NotTo(HaveOccurred())
		defer os.RemoveAll(dir)

		path := filepath.Join(dir, "segment")
		seg, err := shmem.Create(shmem.Config{
			Mechanism: shmem.MechanismMmapFile,
			Size:      4096,
			Path:      path,
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(seg.Size()).To(Equal(uint64(4096)))
		Expect(seg.Spec().Mechanism).To(Equal(wire.MechanismMmapFile))
		Expect(seg.Spec().MmapFilePath).To(Equal(path))

		info, err := os.Stat(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(info.Size()).To(Equal(int64(4096)))

		Expect(seg.Close()).To(Succeed())
	})

	It("reports unavailable mechanisms without panicking", func() {
		_, err := shmem.Create(shmem.Config{Mechanism: shmem.MechanismPosix, Size: 4096})
		Expect(err).To(MatchError(shmem.ErrMechanismUnavailable))

		_, err = shmem.Create(shmem.Config{Mechanism: shmem.MechanismSystemV, Size: 4096})
		Expect(err).To(MatchError(shmem.ErrMechanismUnavailable))

		_, err = shmem.Create(shmem.Config{Mechanism: shmem.MechanismWin32, Size: 4096})
		Expect(err).To(MatchError(shmem.ErrMechanismUnavailable))
	})

	It("refuses to overwrite an existing file without --force", func() {
		dir, err := os.MkdirTemp("", "partaked-shmem-test")
		Expect(err).NotTo(HaveOccurred())
		defer os.RemoveAll(dir)

		path := filepath.Join(dir, "segment")
		Expect(os.WriteFile(path, []byte("existing"), 0o600)).To(Succeed())

		_, err = shmem.Create(shmem.Config{Mechanism: shmem.MechanismMmapFile, Size: 4096, Path: path})
		Expect(err).To(HaveOccurred())

		seg, err := shmem.Create(shmem.Config{Mechanism: shmem.MechanismMmapFile, Size: 4096, Path: path, Force: true})
		Expect(err).NotTo(HaveOccurred())
		Expect(seg.Close()).To(Succeed())
	})
})
