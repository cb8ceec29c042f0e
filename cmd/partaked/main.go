// Command partaked runs the partake daemon: it creates a shared-memory
// segment, listens on a Unix-domain socket, and brokers client access to
// the segment until it receives a termination signal (SIGINT or SIGTERM);
// a client's Quit request ends only that client's connection. See spec.md
// §2 and §7. Grounded on daemon/main.cpp's startup/shutdown
// sequencing.
package main

import (
	"fmt"
	"math/bits"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/marktsuchida/partaked/acceptor"
	"github.com/marktsuchida/partaked/arena"
	"github.com/marktsuchida/partaked/daemon"
	"github.com/marktsuchida/partaked/internal/config"
	"github.com/marktsuchida/partaked/internal/logging"
	"github.com/marktsuchida/partaked/shmem"
)

func main() {
	os.Exit(run(os.Args))
}

func run(argv []string) int {
	cfg, err := config.Parse(argv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	log := logging.New(os.Stderr, zerolog.InfoLevel)

	segment, err := shmem.Create(shmem.Config{
		Mechanism: cfg.Mechanism,
		Size:      cfg.MemoryBytes,
		Name:      cfg.Name,
		Path:      cfg.FilePath,
		Force:     cfg.Force,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to create shared memory segment")
		return 1
	}
	defer segment.Close()

	log2Granularity := log2PageSize()
	if cfg.Granularity != 0 {
		log2Granularity = uint(bits.TrailingZeros64(cfg.Granularity))
	}
	allocator := arena.NewAllocator(segment.Size(), log2Granularity)
	log.Info().Uint64("granularity", uint64(1)<<log2Granularity).Msg("allocation granularity set")
	if segment.Size()%(uint64(1)<<log2Granularity) != 0 {
		log.Warn().Msg("segment size is not a multiple of the allocation granularity; some bytes are unusable")
	}

	repo := daemon.NewRepository(allocator, daemon.NewVoucherQueue())

	a := acceptor.New(cfg.SocketPath, cfg.Force, repo, cfg.VoucherTTL, segment.Spec(), log)
	if err := a.Listen(); err != nil {
		log.Error().Err(err).Msg("failed to listen on socket")
		return 1
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sig
		log.Info().Str("signal", s.String()).Msg("received signal, shutting down")
		a.Quit()
	}()

	a.Serve()
	signal.Stop(sig)
	log.Info().Msg("daemon exiting")
	return 0
}

// log2PageSize returns the base-2 log of the host's memory page size, the
// default allocation granularity when --granularity is not given (spec.md
// §6), matching daemon.hpp's log2_size(page_size()) fallback.
func log2PageSize() uint {
	return uint(bits.TrailingZeros(uint(os.Getpagesize())))
}
