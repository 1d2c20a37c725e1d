package casadm

import (
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
)

// parseDeviceStatus reads the key,value rows emitted by --check-cache-device
// in csv format, e.g.
//
//	Is cache,yes
//	Cache dirty,no
func parseDeviceStatus(raw string) (DeviceStatus, error) {
	var status DeviceStatus

	r := csv.NewReader(strings.NewReader(raw))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return status, fmt.Errorf("parsing device status: %w", err)
	}

	for _, rec := range records {
		if len(rec) < 2 {
			continue
		}
		value := strings.EqualFold(strings.TrimSpace(rec[1]), "yes")
		switch strings.ToLower(strings.TrimSpace(rec[0])) {
		case "is cache":
			status.IsCache = value
		case "cache dirty":
			status.Dirty = value
		}
	}

	return status, nil
}

// parseListedCaches reads --list-caches csv output. The listing mixes cache
// and core rows; only cache rows are returned:
//
//	type,id,disk,status,write policy,device
//	cache,1,/dev/sdb,Running,wt,-
//	core,1,/dev/sdc,Active,-,/dev/cas1-1
func parseListedCaches(raw string) ([]ListedCache, error) {
	r := csv.NewReader(strings.NewReader(raw))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing cache listing: %w", err)
	}

	var caches []ListedCache
	for i, rec := range records {
		if len(rec) < 4 || !strings.EqualFold(rec[0], "cache") {
			continue
		}
		id, err := strconv.ParseUint(strings.TrimSpace(rec[1]), 10, 16)
		if err != nil {
			return nil, fmt.Errorf("parsing cache listing row %d: bad cache id %q", i+1, rec[1])
		}
		caches = append(caches, ListedCache{
			ID:     uint16(id),
			Device: strings.TrimSpace(rec[2]),
			Status: strings.TrimSpace(rec[3]),
		})
	}

	return caches, nil
}
