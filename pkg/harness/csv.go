package harness

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/example/puppetmaster/internal/common"
)

// ExitCode is the process exit status a CSV load failure should produce,
// matching original_source/main.cpp's argv-file-loading loop exactly: 1
// file not found, 2 no header, 3 non-numeric address, 4 address out of
// range.
type ExitCode int

const (
	ExitFileNotFound      ExitCode = 1
	ExitNoHeader          ExitCode = 2
	ExitNotAnAddress      ExitCode = 3
	ExitAddressOutOfRange ExitCode = 4
)

// LoadError reports a CSV parsing failure together with the process exit
// code the caller should surface.
type LoadError struct {
	Code ExitCode
	msg  string
}

func (e *LoadError) Error() string { return e.msg }

func fail(code ExitCode, format string, args ...any) error {
	return &LoadError{Code: code, msg: fmt.Sprintf(format, args...)}
}

// LoadCSV parses the test-input format of §6: a header row naming each
// column either "Read object N" or "Written object N", followed by one
// row per transaction. An empty cell means that column's object is not
// valid for that row.
//
// tid is assigned by row order starting at startTID, as the reference loader
// does when concatenating multiple input files into a single flat test
// list.
func LoadCSV(path string, startTID uint64) ([]common.InputTransaction, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fail(ExitFileNotFound, "file doesn't exist: %s", path)
	}
	defer f.Close()
	return ParseCSV(f, startTID)
}

// ParseCSV is LoadCSV's reader-based core, split out so callers (and
// tests) can parse from any io.Reader, not just a file on disk.
func ParseCSV(r io.Reader, startTID uint64) ([]common.InputTransaction, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	if !scanner.Scan() {
		return nil, fail(ExitNoHeader, "no header found in file")
	}
	readIdx, writeIdx := parseHeader(scanner.Text())

	var out []common.InputTransaction
	tid := startTID
	for scanner.Scan() {
		tr, err := parseRow(scanner.Text(), readIdx, writeIdx)
		if err != nil {
			return nil, err
		}
		tr.TID = tid
		out = append(out, tr)
		tid++
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// parseHeader returns the set of column indices labeled "Read object" and
// "Written object", matching a label by prefix exactly as the reference
// loader's std::string::find(...) == 0 check does.
func parseHeader(header string) (reads, writes map[int]bool) {
	reads = make(map[int]bool)
	writes = make(map[int]bool)
	for i, label := range strings.Split(header, ",") {
		switch {
		case strings.HasPrefix(label, "Read object"):
			reads[i] = true
		case strings.HasPrefix(label, "Written object"):
			writes[i] = true
		}
	}
	return reads, writes
}

func parseRow(line string, readIdx, writeIdx map[int]bool) (common.InputTransaction, error) {
	var tr common.InputTransaction
	for i, value := range strings.Split(line, ",") {
		isRead := readIdx[i]
		isWrite := writeIdx[i]
		if !isRead && !isWrite {
			continue
		}
		if value == "" {
			continue
		}
		addr, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			if numErr, ok := err.(*strconv.NumError); ok && numErr.Err == strconv.ErrRange {
				return tr, fail(ExitAddressOutOfRange, "out of range: %s", value)
			}
			return tr, fail(ExitNotAnAddress, "not an address: %q", value)
		}
		if isWrite {
			tr.Writes = append(tr.Writes, common.ObjectAddress(addr))
		} else {
			tr.Reads = append(tr.Reads, common.ObjectAddress(addr))
		}
	}
	return tr, nil
}
