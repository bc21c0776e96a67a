package venue

import (
	"strconv"

	"github.com/buger/jsonparser"

	"depthflow/models"
)

// Hot-path field extraction built on buger/jsonparser so classification and
// parsing never allocate a full document tree. All helpers are tolerant:
// malformed input yields a false/zero result, never a panic.

var rowIdx = [2][]string{{"[0]"}, {"[1]"}}

func rowString(row []byte, idx int) (string, bool) {
	v, dt, _, err := jsonparser.Get(row, rowIdx[idx]...)
	if err != nil {
		return "", false
	}
	switch dt {
	case jsonparser.String, jsonparser.Number:
		return string(v), true
	default:
		return "", false
	}
}

// appendLevelRows parses a [["price","qty",...], ...] array into out.
// Rows with fewer than two usable entries are skipped.
func appendLevelRows(arr []byte, out *[]models.Level) bool {
	_, err := jsonparser.ArrayEach(arr, func(row []byte, dt jsonparser.ValueType, _ int, _ error) {
		if dt != jsonparser.Array {
			return
		}
		price, ok := rowString(row, 0)
		if !ok {
			return
		}
		qty, ok := rowString(row, 1)
		if !ok {
			return
		}
		lvl, lerr := models.NewLevel(price, qty)
		if lerr != nil {
			return
		}
		*out = append(*out, lvl)
	})
	return err == nil
}

// levelsAt extracts the level array at the given key path and appends it.
// A missing key is fine (empty side); a present but malformed value is not.
func levelsAt(msg []byte, out *[]models.Level, keys ...string) bool {
	arr, dt, _, err := jsonparser.Get(msg, keys...)
	if err != nil {
		return true
	}
	if dt != jsonparser.Array {
		return false
	}
	return appendLevelRows(arr, out)
}

// uintAt reads an unsigned sequence field that may arrive as a JSON number
// or as a string.
func uintAt(msg []byte, keys ...string) (uint64, bool) {
	v, dt, _, err := jsonparser.Get(msg, keys...)
	if err != nil {
		return 0, false
	}
	switch dt {
	case jsonparser.Number, jsonparser.String:
		u, perr := strconv.ParseUint(string(v), 10, 64)
		if perr != nil {
			// some venues encode prev ids as -1
			if i, ierr := strconv.ParseInt(string(v), 10, 64); ierr == nil && i < 0 {
				return 0, true
			}
			return 0, false
		}
		return u, true
	default:
		return 0, false
	}
}

// intAt reads a signed field (checksums) that may arrive as number or string.
func intAt(msg []byte, keys ...string) (int64, bool) {
	v, dt, _, err := jsonparser.Get(msg, keys...)
	if err != nil {
		return 0, false
	}
	switch dt {
	case jsonparser.Number, jsonparser.String:
		i, perr := strconv.ParseInt(string(v), 10, 64)
		if perr != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

func stringAt(msg []byte, keys ...string) (string, bool) {
	v, err := jsonparser.GetString(msg, keys...)
	if err != nil {
		return "", false
	}
	return v, true
}
