// Package config parses partaked's command-line flags, matching
// daemon/cli.cpp's flag set and validation rules (spec.md §6). Built on
// github.com/urfave/cli/v2, as the pack's own cmd/geth does, rather than
// the standard library's flag package.
package config

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/marktsuchida/partaked/shmem"
	"github.com/marktsuchida/partaked/wire"
)

// Config is the fully validated, parsed configuration for one daemon run.
type Config struct {
	MemoryBytes uint64
	SocketPath  string

	Mechanism   wire.SegmentMechanism
	Name        string
	FilePath    string
	Granularity uint64

	HugePages    bool
	HugePageSize uint64
	LargePages   bool

	VoucherTTL time.Duration
	Force      bool
}

// minGranularity is the smallest allocation granularity cli.cpp accepts
// (spec.md §6: "power of two, >= 512").
const minGranularity = 512

// Parse builds the urfave/cli application, parses argv, and validates the
// result against the same rules as daemon/cli.cpp. argv[0] is the program
// name, as with os.Args.
func Parse(argv []string) (Config, error) {
	var raw struct {
		memory         string
		socket         string
		name           string
		file           string
		posix          bool
		systemv        bool
		windows        bool
		granularity    string
		hugePages      bool
		hugePageSize   string
		largePages     bool
		voucherTTL     float64
		force          bool
	}

	app := &cli.App{
		Name:  "partaked",
		Usage: "broker access to a shared memory segment over a Unix socket",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "memory", Aliases: []string{"m"}, Required: true, Usage: "size of shared memory (suffixes K/M/G allowed)", Destination: &raw.memory},
			&cli.StringFlag{Name: "socket", Aliases: []string{"s"}, Required: true, Usage: "filename of socket for client connection", Destination: &raw.socket},
			&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "name of shared memory (integer if --systemv)", Destination: &raw.name},
			&cli.StringFlag{Name: "file", Aliases: []string{"F"}, Usage: "use shared memory backed by the given file", Destination: &raw.file},
			&cli.BoolFlag{Name: "posix", Aliases: []string{"P"}, Usage: "use POSIX shm_open(2) shared memory (default)", Destination: &raw.posix},
			&cli.BoolFlag{Name: "systemv", Aliases: []string{"S"}, Usage: "use System V shmget(2) shared memory", Destination: &raw.systemv},
			&cli.BoolFlag{Name: "windows", Aliases: []string{"W"}, Usage: "use Win32 named shared memory (default on Windows)", Destination: &raw.windows},
			&cli.StringFlag{Name: "granularity", Aliases: []string{"g"}, Usage: "allocation granularity (suffixes K/M/G allowed)", Destination: &raw.granularity},
			&cli.BoolFlag{Name: "huge-pages", Aliases: []string{"H"}, Usage: "use Linux huge pages with --systemv", Destination: &raw.hugePages},
			&cli.StringFlag{Name: "huge-page-size", Usage: "select Linux huge page size (implies --huge-pages)", Destination: &raw.hugePageSize},
			&cli.BoolFlag{Name: "large-pages", Aliases: []string{"L"}, Usage: "use Windows large pages", Destination: &raw.largePages},
			&cli.Float64Flag{Name: "voucher-ttl", Usage: "set voucher time-to-live, in seconds", Value: 10, Destination: &raw.voucherTTL},
			&cli.BoolFlag{Name: "force", Aliases: []string{"f"}, Usage: "overwrite existing shared memory and/or file", Destination: &raw.force},
		},
		HideHelpCommand: true,
		Action:          func(*cli.Context) error { return nil },
	}

	if err := app.Run(argv); err != nil {
		return Config{}, cli.Exit(err, 1)
	}

	memory, err := parseSize(raw.memory)
	if err != nil {
		return Config{}, cli.Exit(fmt.Errorf("--memory: %w", err), 1)
	}
	if raw.socket == "" {
		return Config{}, cli.Exit(fmt.Errorf("--socket must not be empty"), 1)
	}

	granularity := uint64(0)
	if raw.granularity != "" {
		granularity, err = parseSize(raw.granularity)
		if err != nil {
			return Config{}, cli.Exit(fmt.Errorf("--granularity: %w", err), 1)
		}
		if granularity&(granularity-1) != 0 || granularity < minGranularity {
			return Config{}, cli.Exit(fmt.Errorf("--granularity must be a power of two >= %d", minGranularity), 1)
		}
	}

	hugePageSize := uint64(0)
	if raw.hugePageSize != "" {
		hugePageSize, err = parseSize(raw.hugePageSize)
		if err != nil {
			return Config{}, cli.Exit(fmt.Errorf("--huge-page-size: %w", err), 1)
		}
		raw.hugePages = true
	}

	mechanism, err := validateMechanism(raw.posix, raw.systemv, raw.windows, raw.file)
	if err != nil {
		return Config{}, cli.Exit(err, 1)
	}

	if raw.hugePages && mechanism != shmem.MechanismSystemV {
		return Config{}, cli.Exit(fmt.Errorf("--huge-pages requires --systemv"), 1)
	}
	if raw.largePages && mechanism != shmem.MechanismWin32 {
		return Config{}, cli.Exit(fmt.Errorf("--large-pages requires --windows"), 1)
	}
	if raw.voucherTTL <= 0 {
		return Config{}, cli.Exit(fmt.Errorf("--voucher-ttl must be positive"), 1)
	}

	return Config{
		MemoryBytes:  memory,
		SocketPath:   raw.socket,
		Mechanism:    mechanism,
		Name:         raw.name,
		FilePath:     raw.file,
		Granularity:  granularity,
		HugePages:    raw.hugePages,
		HugePageSize: hugePageSize,
		LargePages:   raw.largePages,
		VoucherTTL:   time.Duration(raw.voucherTTL * float64(time.Second)),
		Force:        raw.force,
	}, nil
}

// validateMechanism enforces that at most one of --posix/--systemv/
// --windows/--file is given, exactly as connection_acceptor's caller
// (daemon/cli.cpp's validate_segment_type) does, defaulting to
// MechanismPosix when none is given (this repository does not build for
// Windows, so there is no platform-dependent default to switch on).
func validateMechanism(posix, systemv, windows bool, file string) (wire.SegmentMechanism, error) {
	count := 0
	for _, set := range []bool{posix, systemv, windows, file != ""} {
		if set {
			count++
		}
	}
	if count > 1 {
		return 0, fmt.Errorf("only one of --posix, --systemv, --windows, --file may be given")
	}
	switch {
	case posix:
		return shmem.MechanismPosix, nil
	case systemv:
		return shmem.MechanismSystemV, nil
	case windows:
		return shmem.MechanismWin32, nil
	case file != "":
		return shmem.MechanismMmapFile, nil
	default:
		return shmem.MechanismPosix, nil
	}
}

// parseSize parses a byte count with an optional K/M/G suffix (binary,
// i.e. ×1024), matching daemon/cli.cpp's parse_size_suffix.
func parseSize(s string) (uint64, error) {
	if s == "" {
		return 0, fmt.Errorf("size must not be empty")
	}

	numEnd := len(s)
	for numEnd > 0 && !isDigit(s[numEnd-1]) {
		numEnd--
	}
	numPart, suffix := s[:numEnd], s[numEnd:]
	if numPart == "" {
		return 0, fmt.Errorf("invalid size: %s", s)
	}

	var n uint64
	for _, c := range numPart {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("invalid size: %s", s)
		}
		n = n*10 + uint64(c-'0')
	}

	var multiplier uint64 = 1
	switch suffix {
	case "", "B", "b":
	case "K", "k":
		multiplier = 1 << 10
	case "M", "m":
		multiplier = 1 << 20
	case "G", "g":
		multiplier = 1 << 30
	default:
		return 0, fmt.Errorf("invalid size suffix: %s", suffix)
	}

	value := n * multiplier
	if multiplier != 0 && value/multiplier != n {
		return 0, fmt.Errorf("size too large: %s", s)
	}
	return value, nil
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }
