package rootimpl

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// MinAPatchVersion is the oldest APatch release this module supports; its
// own version file caps supported values at 999999 (APatch's own sentinel
// for "no real upper limit").
const (
	MinAPatchVersion = 10654
	maxAPatchVersion = 999999
)

const (
	apatchVersionPath = "/data/adb/ap/version"
	apatchConfigPath  = "/data/adb/ap/package_config"
	apatchManagerDir  = "/data/user_de/0/me.bmax.apatch"
)

// APatchBackend reads flat files APatch itself maintains under /data/adb
// rather than shelling out to a CLI for every query: APatch's own
// package_config CSV is the system of record here.
//
// The CSV read uses the standard library's encoding/csv rather than a
// third-party CSV library: the format (6 fixed untyped columns, no quoting
// edge cases, read once per query) doesn't call for anything past what
// encoding/csv already gives, and none of the example pack's dependency
// surface supplies a CSV reader to prefer over it.
type APatchBackend struct{}

func (APatchBackend) probeVersion() (int64, error) {
	data, err := os.ReadFile(apatchVersionPath)
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", apatchVersionPath, err)
	}
	version, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing apatch version %q: %w", data, err)
	}
	return version, nil
}

func (a APatchBackend) Backend() Backend {
	return Backend{
		Tag:        TagAPatch,
		Probe:      a.probeVersion,
		MinVersion: MinAPatchVersion,
		MaxVersion: maxAPatchVersion,
	}
}

// packageConfigRow mirrors one row of APatch's package_config CSV:
// pkg,exclude,allow,uid,to_uid,sctx.
type packageConfigRow struct {
	pkg     string
	exclude int
	allow   int
	uid     int32
	toUID   int32
	sctx    string
}

func readPackageConfig() ([]packageConfigRow, error) {
	f, err := os.Open(apatchConfigPath)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", apatchConfigPath, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 6
	// Header row names the columns; skip it before reading data rows.
	if _, err := r.Read(); err != nil {
		return nil, fmt.Errorf("reading package_config header: %w", err)
	}

	var rows []packageConfigRow
	for {
		record, err := r.Read()
		if err != nil {
			break
		}
		exclude, _ := strconv.Atoi(record[1])
		allow, _ := strconv.Atoi(record[2])
		uid, _ := strconv.ParseInt(record[3], 10, 32)
		toUID, _ := strconv.ParseInt(record[4], 10, 32)
		rows = append(rows, packageConfigRow{
			pkg:     record[0],
			exclude: exclude,
			allow:   allow,
			uid:     int32(uid),
			toUID:   int32(toUID),
			sctx:    record[5],
		})
	}
	return rows, nil
}

func findByUID(rows []packageConfigRow, uid int32) (packageConfigRow, bool) {
	for _, row := range rows {
		if row.uid == uid {
			return row, true
		}
	}
	return packageConfigRow{}, false
}

func (APatchBackend) UidGrantedRoot(uid int32) bool {
	rows, err := readPackageConfig()
	if err != nil {
		return false
	}
	row, ok := findByUID(rows, uid)
	return ok && row.allow == 1
}

func (APatchBackend) UidShouldUmount(uid int32) bool {
	rows, err := readPackageConfig()
	if err != nil {
		return false
	}
	row, ok := findByUID(rows, uid)
	if !ok {
		return true
	}
	return row.exclude != 0
}

func (APatchBackend) UidIsManager(uid int32) bool {
	info, err := os.Stat(apatchManagerDir)
	if err != nil {
		return false
	}
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return false
	}
	return stat.Uid == uint32(uid)
}
