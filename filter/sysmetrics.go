package filter

import (
	"bufio"
	"errors"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

const clockTicksPerSec = 100 // USER_HZ, standard on Linux

// systemSampler reports this process's CPU percent (since the previous
// sample) and resident memory in MiB, the two sampler-fed values spec §4.8
// item 5 names alongside fps/lat_in/lat_out. Grounded on aistore's own sys
// package (sys/cpu_linux.go): read /proc directly rather than reach for a
// process-metrics library, since none of the example repos carry one.
type systemSampler struct {
	mu        sync.Mutex
	lastWall  time.Time
	lastTicks uint64
}

func newSystemSampler() *systemSampler {
	return &systemSampler{lastWall: time.Now()}
}

func (s *systemSampler) sample() (cpuPercent, memMiB float64) {
	utime, stime, rssMiB, err := readProcSelfStat()
	if err != nil {
		return 0, 0
	}
	ticks := utime + stime

	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	wallDelta := now.Sub(s.lastWall).Seconds()
	if wallDelta > 0 && s.lastTicks > 0 && ticks >= s.lastTicks {
		cpuDelta := float64(ticks-s.lastTicks) / clockTicksPerSec
		cpuPercent = 100 * cpuDelta / wallDelta
	}
	s.lastWall, s.lastTicks = now, ticks
	return cpuPercent, rssMiB
}

// readProcSelfStat parses /proc/self/stat: utime/stime in clock ticks (spec
// §4.8's cpu_percent source) and RSS in pages (mem_mib's source). The comm
// field (2nd, parenthesized) may itself contain spaces or parens, so every
// other field is located relative to the last ')' rather than by naive
// whitespace splitting.
func readProcSelfStat() (utime, stime uint64, rssMiB float64, err error) {
	f, err := os.Open("/proc/self/stat")
	if err != nil {
		return 0, 0, 0, err
	}
	defer f.Close()

	line, err := bufio.NewReader(f).ReadString('\n')
	if err != nil && line == "" {
		return 0, 0, 0, err
	}
	idx := strings.LastIndex(line, ")")
	if idx < 0 {
		return 0, 0, 0, errors.New("filter: unexpected /proc/self/stat format")
	}
	fields := strings.Fields(line[idx+1:])
	if len(fields) < 22 {
		return 0, 0, 0, errors.New("filter: short /proc/self/stat line")
	}
	// Fields here are offset by the 2 consumed above (pid, comm): state is
	// fields[0] (process field 3), utime fields[11] (field 14), stime
	// fields[12] (field 15), rss fields[21] (field 24).
	utime, _ = strconv.ParseUint(fields[11], 10, 64)
	stime, _ = strconv.ParseUint(fields[12], 10, 64)
	rssPages, _ := strconv.ParseUint(fields[21], 10, 64)
	rssMiB = float64(rssPages*uint64(os.Getpagesize())) / (1024 * 1024)
	return utime, stime, rssMiB, nil
}
