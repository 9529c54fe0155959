package blob

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Content types.
const (
	ContentTypeJSON    = "application/json"
	ContentTypeParquet = "application/vnd.apache.parquet"
)

// DateLayout formats extraction dates in keys.
const DateLayout = "2006-01-02"

// DescriptorPrefix holds discovery batch descriptors in the bronze bucket.
const DescriptorPrefix = "game_ids/"

// RawKey is the bronze key of one extracted item. The year partition is the
// extraction year so a day's records share one prefix.
func RawKey(extracted time.Time, id int64) string {
	return fmt.Sprintf("%sitem_%d.json", RawDatePrefix(extracted), id)
}

// RawDatePrefix is the bronze prefix holding every record extracted on the
// given day.
func RawDatePrefix(day time.Time) string {
	day = day.UTC()
	return fmt.Sprintf("raw/year=%d/date=%s/", day.Year(), day.Format(DateLayout))
}

// YearPartitionKey is the key of a year-partitioned table file.
func YearPartitionKey(table string, year int) string {
	return fmt.Sprintf("%s/year=%d/data.parquet", table, year)
}

// DatePartitionKey is the key of an extraction-date-partitioned table file.
func DatePartitionKey(table string, day string) string {
	return fmt.Sprintf("%s/extraction_date=%s/data.parquet", table, day)
}

// TableKey is the key of an unpartitioned table file.
func TableKey(table string) string {
	return table + "/data.parquet"
}

// TablePrefix lists every file of a table.
func TablePrefix(table string) string {
	return table + "/"
}

// DescriptorKey is the key of a discovery batch descriptor. Microseconds
// keep runs in the same second apart and keys sort by time.
func DescriptorKey(at time.Time) string {
	at = at.UTC()
	return fmt.Sprintf("%sdiscovered_%s_%06d.json", DescriptorPrefix, at.Format("20060102_150405"), at.Nanosecond()/1000)
}

// PartitionYear extracts the year from a year-partitioned key.
func PartitionYear(key string) (int, bool) {
	v, ok := partitionValue(key, "year=")
	if !ok {
		return 0, false
	}
	y, err := strconv.Atoi(v)
	return y, err == nil
}

func partitionValue(key, label string) (string, bool) {
	for _, part := range strings.Split(key, "/") {
		if v, ok := strings.CutPrefix(part, label); ok {
			return v, true
		}
	}
	return "", false
}
