package kexec

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"graphinit/pkg/logging"
)

const (
	minKernelSize = 512 * 1024
	maxKernelSize = 200 * 1024 * 1024
	maxInitrdSize = 500 * 1024 * 1024
	minFreeBytes  = 2 << 30 // 2 GiB
	minMemBytes   = 512 * 1024 * 1024

	kexecTool = "kexec"
)

// knownMagics are the leading bytes of kernel image formats this build
// recognizes (gzip, bzip2, LZ4, zstd, and a plain ELF image). An unknown
// magic is a warning, not a failure (spec.md §4.11 phase 1).
var knownMagics = [][]byte{
	{0x1f, 0x8b},             // gzip
	{0x42, 0x5a, 0x68},       // bzip2
	{0x04, 0x22, 0x4d, 0x18}, // LZ4
	{0x28, 0xb5, 0x2f, 0xfd}, // zstd
	{0x7f, 'E', 'L', 'F'},    // ELF
}

func validateKernelImage(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("kexec: kernel image %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("kexec: kernel image %s is not a regular file", path)
	}
	if info.Size() < minKernelSize || info.Size() > maxKernelSize {
		return fmt.Errorf("kexec: kernel image %s size %d out of bounds [%d, %d]", path, info.Size(), minKernelSize, maxKernelSize)
	}
	if !hasKnownMagic(path) {
		logging.Warn("Kexec", "kernel image %s has an unrecognized magic, proceeding anyway", path)
	}
	return nil
}

func validateInitrd(path string) error {
	if path == "" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("kexec: initrd %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("kexec: initrd %s is not a regular file", path)
	}
	if info.Size() > maxInitrdSize {
		return fmt.Errorf("kexec: initrd %s size %d exceeds %d", path, info.Size(), maxInitrdSize)
	}
	return nil
}

func hasKnownMagic(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	buf := make([]byte, 4)
	n, _ := f.Read(buf)
	buf = buf[:n]
	for _, magic := range knownMagics {
		if len(buf) >= len(magic) && string(buf[:len(magic)]) == string(magic) {
			return true
		}
	}
	return false
}

func checkPersistentRootSpace(root string) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("kexec: persistent root %s: %w", root, err)
	}
	var stat unix.Statfs_t
	if err := unix.Statfs(root, &stat); err != nil {
		return fmt.Errorf("kexec: statfs %s: %w", root, err)
	}
	free := stat.Bavail * uint64(stat.Bsize)
	if free < minFreeBytes {
		return fmt.Errorf("kexec: persistent root %s has %d bytes free, need at least %d", root, free, minFreeBytes)
	}
	return nil
}

func checkAvailableMemory() error {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		// meminfo is always present on Linux; treat absence as "can't tell,
		// don't block a transition on a diagnostic we can't perform".
		return nil
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemAvailable:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return nil
		}
		if kb*1024 < minMemBytes {
			return fmt.Errorf("kexec: available memory %d KiB below required %d bytes", kb, minMemBytes)
		}
		return nil
	}
	return nil
}

func checkKexecToolPresent() error {
	if _, err := exec.LookPath(kexecTool); err != nil {
		return fmt.Errorf("kexec: external load utility %q not found in PATH: %w", kexecTool, err)
	}
	return nil
}

func checkKexecLoadEnabled() error {
	data, err := os.ReadFile("/sys/kernel/kexec_load_disabled")
	if err != nil {
		// absent on kernels built without the sysctl; assume enabled.
		return nil
	}
	if strings.TrimSpace(string(data)) == "1" {
		return fmt.Errorf("kexec: kexec_load is disabled by the running kernel (kexec_load_disabled=1)")
	}
	return nil
}

func checkEffectiveUserIsRoot() error {
	if os.Geteuid() != 0 {
		return fmt.Errorf("kexec: must run as root, effective uid is %d", os.Geteuid())
	}
	return nil
}

func currentKernelRelease() string {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return "unknown"
	}
	return cString(uts.Release[:])
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
