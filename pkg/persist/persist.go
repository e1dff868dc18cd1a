// Package persist implements the on-disk state format (§4.5): a
// text-tagged, line-oriented dump of every Map/BadExe/Exe/ExeMap/
// Markov/Family, CRC32-checksummed and written atomically. Any parse
// or checksum failure quarantines the file rather than loading it
// partially (SPEC_FULL.md Open Question resolution, see DESIGN.md).
package persist

import (
	"bufio"
	"fmt"
	"hash"
	"hash/crc32"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/kpreload/preloadd/pkg/model"
)

const formatVersion = "1"

// Save writes s to path atomically: a temp file in the same directory,
// fsynced, then renamed over path (§4.5: "atomic write").
func Save(s *model.State, path string) error {
	dir := filepath.Dir(path)
	tmp, err := os.OpenFile(filepath.Join(dir, tempName(path)), os.O_WRONLY|os.O_CREATE|os.O_TRUNC|syscall.O_NOFOLLOW, 0o600)
	if err != nil {
		return model.Wrap(model.KindResourceError, err)
	}
	defer os.Remove(tmp.Name())

	w := &crcWriter{w: bufio.NewWriter(tmp), crc: crc32.NewIEEE()}
	if err := writeAll(w, s); err != nil {
		tmp.Close()
		return model.Wrap(model.KindResourceError, err)
	}
	if err := w.flushTrailer(); err != nil {
		tmp.Close()
		return model.Wrap(model.KindResourceError, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return model.Wrap(model.KindResourceError, err)
	}
	if err := tmp.Close(); err != nil {
		return model.Wrap(model.KindResourceError, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return model.Wrap(model.KindResourceError, err)
	}
	s.Dirty = false
	return nil
}

func tempName(path string) string {
	return filepath.Base(path) + ".tmp"
}

type crcWriter struct {
	w   *bufio.Writer
	crc hash.Hash32
}

func (c *crcWriter) writeLine(line string) error {
	b := []byte(line + "\n")
	if _, err := c.crc.Write(b); err != nil {
		return err
	}
	_, err := c.w.Write(b)
	return err
}

func (c *crcWriter) flushTrailer() error {
	if _, err := fmt.Fprintf(c.w, "CRC32 %08x\n", c.crc.Sum32()); err != nil {
		return err
	}
	return c.w.Flush()
}

func writeAll(w *crcWriter, s *model.State) error {
	if err := w.writeLine(fmt.Sprintf("PRELOAD\t%s\t%d", formatVersion, s.Time)); err != nil {
		return err
	}
	for _, m := range s.MapsOrdered() {
		if err := w.writeLine(fmt.Sprintf("MAP\t%d\t%d\t%d\t%s\t%d\t%d",
			m.Seq, m.Refcount, m.UpdateTime, encodeURI(m.Path()), m.Offset(), m.Length())); err != nil {
			return err
		}
	}
	for path, firstRejected := range s.BadExes {
		if err := w.writeLine(fmt.Sprintf("BADEXE\t%d\t%s", firstRejected, encodeURI(path))); err != nil {
			return err
		}
	}
	for _, exe := range s.Exes {
		if err := w.writeLine(fmt.Sprintf("EXE\t%d\t%s\t%d\t%d\t%d\t%.6f\t%d\t%d\t%s",
			exe.Seq, exe.PoolOf.String(), exe.UpdateTime, exe.ChangeTimestamp, exe.RunningTimestamp,
			exe.WeightedLaunches, exe.RawLaunches, exe.TotalDurationSec, encodeURI(exe.Path))); err != nil {
			return err
		}
		for mapSeq, em := range exe.ExeMaps {
			if err := w.writeLine(fmt.Sprintf("EXEMAP\t%d\t%d\t%.6f\t%d",
				exe.Seq, mapSeq, em.Prob, em.UpdateTime)); err != nil {
				return err
			}
		}
	}
	for _, mk := range s.MarkovsOrdered() {
		fields := []string{
			"MARKOV",
			strconv.FormatUint(mk.Seq, 10),
			strconv.FormatUint(mk.ASeq, 10),
			strconv.FormatUint(mk.BSeq, 10),
			strconv.Itoa(mk.State),
			strconv.FormatInt(mk.ChangeTimestamp, 10),
			strconv.FormatFloat(mk.Time, 'f', 6, 64),
		}
		for _, v := range mk.TimeToLeave {
			fields = append(fields, strconv.FormatFloat(v, 'f', 6, 64))
		}
		for i := 0; i < 4; i++ {
			for j := 0; j < 4; j++ {
				fields = append(fields, strconv.FormatFloat(mk.Weight[i][j], 'f', 6, 64))
			}
		}
		if err := w.writeLine(strings.Join(fields, "\t")); err != nil {
			return err
		}
	}
	for _, f := range s.Families {
		if err := w.writeLine(fmt.Sprintf("FAMILY\t%d\t%d\t%s",
			f.ID, f.Method, strings.Join(f.Members, ","))); err != nil {
			return err
		}
	}
	return nil
}

// Load parses path into a fresh State. On any parse or checksum
// failure the file is quarantined (renamed to <path>.broken.<unixtime>)
// and the error is returned wrapped as KindIntegrityError; the caller
// is expected to fall back to an empty State.
func Load(path string) (*model.State, error) {
	s, err := load(path)
	if err != nil {
		if qerr := quarantine(path); qerr != nil {
			return nil, model.Wrap(model.KindResourceError, qerr)
		}
		return nil, model.Wrap(model.KindIntegrityError, err)
	}
	return s, nil
}

func quarantine(path string) error {
	dest := fmt.Sprintf("%s.broken.%d", path, time.Now().Unix())
	if err := os.Rename(path, dest); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func load(path string) (*model.State, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	lines := strings.Split(string(raw), "\n")
	if len(lines) == 0 {
		return nil, fmt.Errorf("persist: empty state file")
	}
	var trailer string
	body := lines
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) == "" {
			continue
		}
		if strings.HasPrefix(lines[i], "CRC32 ") {
			trailer = lines[i]
			body = lines[:i]
		}
		break
	}
	if trailer == "" {
		return nil, fmt.Errorf("persist: missing CRC32 trailer")
	}
	wantHex := strings.TrimSpace(strings.TrimPrefix(trailer, "CRC32 "))
	want, err := strconv.ParseUint(wantHex, 16, 32)
	if err != nil {
		return nil, fmt.Errorf("persist: malformed CRC32 trailer: %w", err)
	}

	h := crc32.NewIEEE()
	for _, line := range body {
		if strings.TrimSpace(line) == "" {
			continue
		}
		h.Write([]byte(line + "\n"))
	}
	if h.Sum32() != uint32(want) {
		return nil, fmt.Errorf("persist: crc32 mismatch")
	}

	s := model.NewState()
	for _, line := range body {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := parseLine(s, line); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func parseLine(s *model.State, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	tag, rest := fields[0], fields[1:]
	switch tag {
	case "PRELOAD":
		if len(rest) < 2 {
			return fmt.Errorf("persist: malformed PRELOAD line")
		}
		t, err := strconv.ParseInt(rest[1], 10, 64)
		if err != nil {
			return fmt.Errorf("persist: malformed PRELOAD time: %w", err)
		}
		s.Time = t
	case "MAP":
		return parseMap(s, rest)
	case "BADEXE":
		return parseBadExe(s, rest)
	case "EXE":
		return parseExe(s, rest)
	case "EXEMAP":
		return parseExeMap(s, rest)
	case "MARKOV":
		return parseMarkov(s, rest)
	case "FAMILY":
		return parseFamily(s, rest)
	default:
		// forward-compatible: unknown tags are ignored, not fatal (§4.5
		// "missing columns default"/tolerant-legacy parsing spirit).
		return nil
	}
	return nil
}

func parseMap(s *model.State, f []string) error {
	if len(f) < 6 {
		return fmt.Errorf("persist: malformed MAP line")
	}
	seq, err := strconv.ParseUint(f[0], 10, 64)
	if err != nil {
		return err
	}
	refcount, err := strconv.Atoi(f[1])
	if err != nil {
		return err
	}
	updateTime, err := strconv.ParseInt(f[2], 10, 64)
	if err != nil {
		return err
	}
	path, err := decodeURI(f[3])
	if err != nil {
		return err
	}
	offset, err := strconv.ParseInt(f[4], 10, 64)
	if err != nil {
		return err
	}
	length, err := strconv.ParseInt(f[5], 10, 64)
	if err != nil {
		return err
	}
	m := &model.Map{Seq: seq, Key: model.MapKey{Path: path, Offset: offset, Length: length}, UpdateTime: updateTime, Refcount: refcount}
	s.InsertLoadedMap(m)
	return nil
}

func parseBadExe(s *model.State, f []string) error {
	if len(f) < 2 {
		return fmt.Errorf("persist: malformed BADEXE line")
	}
	ts, err := strconv.ParseInt(f[0], 10, 64)
	if err != nil {
		return err
	}
	path, err := decodeURI(f[1])
	if err != nil {
		return err
	}
	s.BadExes[path] = ts
	return nil
}

func parseExe(s *model.State, f []string) error {
	// Tolerant of legacy column shortfalls: the path is always the last
	// column, and any column missing between the seq and the path keeps
	// its default (RunningTimestamp -1, everything else zero) rather
	// than erroring (§4.5).
	if len(f) < 2 {
		return fmt.Errorf("persist: malformed EXE line")
	}
	seq, err := strconv.ParseUint(f[0], 10, 64)
	if err != nil {
		return err
	}
	e := &model.Exe{
		Seq:              seq,
		RunningTimestamp: -1,
		RunningPids:      make(map[int]*model.RunningInfo),
		ExeMaps:          make(map[uint64]*model.ExeMap),
		Markovs:          make(map[uint64]struct{}),
	}
	col := func(i int) (string, bool) {
		if i < len(f)-1 {
			return f[i], true
		}
		return "", false
	}
	if v, ok := col(1); ok {
		e.PoolOf = model.ParsePool(v)
	}
	if v, ok := col(2); ok {
		e.UpdateTime, _ = strconv.ParseInt(v, 10, 64)
	}
	if v, ok := col(3); ok {
		e.ChangeTimestamp, _ = strconv.ParseInt(v, 10, 64)
	}
	if v, ok := col(4); ok {
		e.RunningTimestamp, _ = strconv.ParseInt(v, 10, 64)
	}
	if v, ok := col(5); ok {
		e.WeightedLaunches, _ = strconv.ParseFloat(v, 64)
	}
	if v, ok := col(6); ok {
		e.RawLaunches, _ = strconv.ParseUint(v, 10, 64)
	}
	if v, ok := col(7); ok {
		e.TotalDurationSec, _ = strconv.ParseUint(v, 10, 64)
	}
	path, err := decodeURI(f[len(f)-1])
	if err != nil {
		return err
	}
	e.Path = path
	s.IndexExe(e)
	return nil
}

func parseExeMap(s *model.State, f []string) error {
	if len(f) < 4 {
		return fmt.Errorf("persist: malformed EXEMAP line")
	}
	exeSeq, err := strconv.ParseUint(f[0], 10, 64)
	if err != nil {
		return err
	}
	mapSeq, err := strconv.ParseUint(f[1], 10, 64)
	if err != nil {
		return err
	}
	prob, err := strconv.ParseFloat(f[2], 64)
	if err != nil {
		return err
	}
	updateTime, err := strconv.ParseInt(f[3], 10, 64)
	if err != nil {
		return err
	}
	exe, ok := s.ExeBySeq(exeSeq)
	if !ok {
		return fmt.Errorf("persist: EXEMAP references unknown exe %d", exeSeq)
	}
	exe.ExeMaps[mapSeq] = &model.ExeMap{MapSeq: mapSeq, Prob: prob, UpdateTime: updateTime}
	if m, ok := s.MapBySeq(mapSeq); ok {
		exe.Size += m.Length()
	}
	return nil
}

func parseMarkov(s *model.State, f []string) error {
	if len(f) < 23 {
		return fmt.Errorf("persist: malformed MARKOV line")
	}
	seq, err := strconv.ParseUint(f[0], 10, 64)
	if err != nil {
		return err
	}
	aSeq, err := strconv.ParseUint(f[1], 10, 64)
	if err != nil {
		return err
	}
	bSeq, err := strconv.ParseUint(f[2], 10, 64)
	if err != nil {
		return err
	}
	state, err := strconv.Atoi(f[3])
	if err != nil {
		return err
	}
	changeTS, err := strconv.ParseInt(f[4], 10, 64)
	if err != nil {
		return err
	}
	totalTime, err := strconv.ParseFloat(f[5], 64)
	if err != nil {
		return err
	}
	mk := &model.Markov{Seq: seq, ASeq: aSeq, BSeq: bSeq, State: state, ChangeTimestamp: changeTS, Time: totalTime}
	idx := 6
	for i := 0; i < 4; i++ {
		v, err := strconv.ParseFloat(f[idx], 64)
		if err != nil {
			return err
		}
		mk.TimeToLeave[i] = v
		idx++
	}
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			v, err := strconv.ParseFloat(f[idx], 64)
			if err != nil {
				return err
			}
			mk.Weight[i][j] = v
			idx++
		}
	}
	s.InsertLoadedMarkov(mk)
	return nil
}

func parseFamily(s *model.State, f []string) error {
	if len(f) < 3 {
		return fmt.Errorf("persist: malformed FAMILY line")
	}
	id, err := strconv.ParseUint(f[0], 10, 64)
	if err != nil {
		return err
	}
	method, err := strconv.Atoi(f[1])
	if err != nil {
		return err
	}
	members := strings.Split(f[2], ",")
	fam := &model.Family{ID: id, Method: model.DiscoveryMethod(method), Members: members}
	s.InsertLoadedFamily(fam)
	return nil
}

func encodeURI(path string) string {
	u := url.URL{Scheme: "file", Path: path}
	return u.String()
}

func decodeURI(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("persist: malformed file URI %q: %w", raw, err)
	}
	return u.Path, nil
}
