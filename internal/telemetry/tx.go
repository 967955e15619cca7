package telemetry

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// errStop ends a scan early without error.
var errStop = errors.New("stop")

// Tx is exclusive access to the log, valid only inside WithLock.
type Tx struct {
	l *Log
}

// AppendWeight appends a weight record stamped t.
func (tx *Tx) AppendWeight(ctx context.Context, t time.Time, kg float32) error {
	line := fmt.Sprintf("%s,%s,%.2f\n", t.Format(dateLayout), t.Format(timeLayout), kg)
	return tx.append(ctx, WeightFile, line)
}

// AppendVoltage appends a battery voltage sample stamped t.
func (tx *Tx) AppendVoltage(ctx context.Context, t time.Time, mv int) error {
	line := fmt.Sprintf("%s,%s,%d\n", t.Format(dateLayout), t.Format(timeLayout), mv)
	return tx.append(ctx, VoltageFile, line)
}

func (tx *Tx) append(ctx context.Context, name, line string) error {
	path := tx.l.path(name)
	return tx.l.Retry.Do(ctx, tx.l.Sleep, func(ctx context.Context, attempt int) error {
		err := appendLine(path, line)
		if err != nil {
			log.Printf("telemetry: append %s (attempt %d/%d): %v", name, attempt, tx.l.Retry.MaxAttempts, err)
		}
		return err
	})
}

func appendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(line); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Count returns the number of records in the weight log.
func (tx *Tx) Count() (uint32, error) {
	var n uint32
	err := tx.scan(0, func(idx uint32, _ string) error {
		n = idx + 1
		return nil
	})
	return n, err
}

// HasPending reports whether any record exists at or beyond cursor.
func (tx *Tx) HasPending(cursor uint32) (bool, error) {
	found := false
	err := tx.scan(cursor, func(uint32, string) error {
		found = true
		return errStop
	})
	return found, err
}

// Pending counts the well-formed records from cursor up to and including
// cutoff. Counting stops at the first record stamped after cutoff.
func (tx *Tx) Pending(cursor uint32, cutoff time.Time) (int, error) {
	n := 0
	loc := tx.l.location()
	err := tx.scan(cursor, func(idx uint32, line string) error {
		rec, err := parseRecord(idx, line, loc)
		if err != nil {
			return nil
		}
		if rec.Time.After(cutoff) {
			return errStop
		}
		n++
		return nil
	})
	return n, err
}

// Stream calls fn for up to limit well-formed records starting at cursor,
// in index order. Malformed lines keep their index but are skipped. An
// error from fn stops the stream and is returned.
func (tx *Tx) Stream(cursor uint32, limit int, fn func(Record) error) error {
	if limit <= 0 {
		return nil
	}
	sent := 0
	loc := tx.l.location()
	err := tx.scan(cursor, func(idx uint32, line string) error {
		rec, err := parseRecord(idx, line, loc)
		if err != nil {
			log.Printf("telemetry: skipping record %d: %v", idx, err)
			return nil
		}
		if err := fn(rec); err != nil {
			return err
		}
		sent++
		if sent >= limit {
			return errStop
		}
		return nil
	})
	return err
}

// scan visits every non-header line of the weight log with index >= from.
func (tx *Tx) scan(from uint32, fn func(idx uint32, line string) error) error {
	f, err := os.Open(tx.l.path(WeightFile))
	if err != nil {
		return fmt.Errorf("telemetry: open: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	var idx uint32
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || isHeader(line) {
			continue
		}
		if idx >= from {
			if err := fn(idx, line); err != nil {
				if errors.Is(err, errStop) {
					return nil
				}
				return err
			}
		}
		idx++
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("telemetry: read: %w", err)
	}
	return nil
}

func isHeader(line string) bool {
	return strings.Contains(line, "Fecha") || strings.Contains(line, "Date")
}

func parseRecord(idx uint32, line string, loc *time.Location) (Record, error) {
	parts := strings.Split(line, ",")
	if len(parts) != 3 {
		return Record{}, fmt.Errorf("want 3 fields, got %d", len(parts))
	}
	t, err := time.ParseInLocation(dateLayout+" "+timeLayout, parts[0]+" "+parts[1], loc)
	if err != nil {
		return Record{}, err
	}
	w, err := strconv.ParseFloat(parts[2], 32)
	if err != nil {
		return Record{}, err
	}
	return Record{Index: idx, Time: t, Weight: float32(w)}, nil
}
